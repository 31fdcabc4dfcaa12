package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	Calls        *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	Tokens       *prometheus.CounterVec
	Executions   *prometheus.CounterVec
	Rejections   *prometheus.CounterVec
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modelgate_provider_calls_total",
				Help: "Provider calls by provider, model and outcome",
			},
			[]string{"provider", "model", "outcome"},
		),
		CallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "modelgate_provider_call_duration_seconds",
				Help:    "Provider call latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"provider"},
		),
		Tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modelgate_tokens_total",
				Help: "Tokens consumed by successful calls",
			},
			[]string{"provider", "direction"},
		),
		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modelgate_executions_total",
				Help: "Completed executions by mode and success",
			},
			[]string{"mode", "success"},
		),
		Rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modelgate_rejections_total",
				Help: "Requests rejected before dispatch",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) observeCall(o CallOutcome) {
	if m == nil {
		return
	}
	outcome := "success"
	if o.Error != nil {
		outcome = string(o.Error.Kind)
	}
	m.Calls.WithLabelValues(o.Provider, o.ModelID, outcome).Inc()
	m.CallDuration.WithLabelValues(o.Provider).Observe(float64(o.DurationMillis) / 1000)
	if o.Success {
		m.Tokens.WithLabelValues(o.Provider, "prompt").Add(float64(o.Usage.PromptTokens))
		m.Tokens.WithLabelValues(o.Provider, "completion").Add(float64(o.Usage.CompletionTokens))
	}
}

func (m *Metrics) observeExecution(r *Result) {
	if m == nil {
		return
	}
	success := "false"
	if r.Success {
		success = "true"
	}
	m.Executions.WithLabelValues(string(r.Mode), success).Inc()
}

func (m *Metrics) observeRejection(kind RejectionKind) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(string(kind)).Inc()
}
