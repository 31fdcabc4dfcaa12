package service

import (
	"errors"
	"fmt"
	"strings"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/zen-systems/modelgate/pkg/adapter"
	"github.com/zen-systems/modelgate/pkg/agent"
	"github.com/zen-systems/modelgate/pkg/catalog"
	"github.com/zen-systems/modelgate/pkg/config"
	"github.com/zen-systems/modelgate/pkg/engine"
	"github.com/zen-systems/modelgate/pkg/ledger"
	"github.com/zen-systems/modelgate/pkg/logging"
	"github.com/zen-systems/modelgate/pkg/quota"
	"github.com/zen-systems/modelgate/pkg/selector"
)

// Runtime is a fully wired service together with the pieces the CLI and the
// server need direct access to.
type Runtime struct {
	Config  *config.Config
	Service *Service
	Engine  *engine.Engine
	Ledger  ledger.Sink
	Metrics *engine.Metrics

	closers []func() error
}

// Close releases database and Redis connections.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Querier returns the ledger as a usage querier when the backend supports
// queries.
func (r *Runtime) Querier() (ledger.Querier, bool) {
	q, ok := r.Ledger.(ledger.Querier)
	return q, ok
}

// Build wires a Runtime from cfg. reg may be nil to skip metrics.
func Build(cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*Runtime, error) {
	rt := &Runtime{Config: cfg}

	cat, err := cfg.LoadCatalog()
	if err != nil {
		return nil, err
	}
	ceilings, err := cfg.Ceilings()
	if err != nil {
		return nil, err
	}
	adapters, err := Adapters(cfg)
	if err != nil {
		return nil, err
	}

	sink, closeLedger, err := openLedger(cfg, logging.Component(logger, "ledger"))
	if err != nil {
		return nil, err
	}
	rt.Ledger = sink
	if closeLedger != nil {
		rt.closers = append(rt.closers, closeLedger)
	}

	gate, closeGate, err := openGate(cfg)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	if closeGate != nil {
		rt.closers = append(rt.closers, closeGate)
	}

	engineOpts := []engine.Option{
		engine.WithCeilings(ceilings),
		engine.WithCallTimeout(cfg.Engine.CallTimeout),
		engine.WithDefaults(cfg.Engine.Temperature, cfg.Engine.MaxTokens),
		engine.WithLedger(sink),
		engine.WithLogger(logging.Component(logger, "engine")),
	}
	if reg != nil {
		rt.Metrics = engine.NewMetrics(reg)
		engineOpts = append(engineOpts, engine.WithMetrics(rt.Metrics))
	}
	rt.Engine = engine.New(cat, adapters, engineOpts...)

	sel := selector.New(cat,
		selector.WithCeilings(ceilings),
		selector.WithAvailability(func(m catalog.Model) bool { return adapters[m.Provider] != nil }),
	)
	orch := agent.New(sel, rt.Engine, agent.WithLogger(logging.Component(logger, "agent")))
	rt.Service = New(rt.Engine, sel, orch, WithGate(gate), WithLogger(logging.Component(logger, "service")))
	return rt, nil
}

// Adapters builds one adapter per provider with a configured credential.
func Adapters(cfg *config.Config) (map[catalog.Provider]adapter.Adapter, error) {
	out := make(map[catalog.Provider]adapter.Adapter)
	for _, p := range cfg.ConfiguredProviders() {
		a, err := newAdapter(p, cfg.APIKey(p), cfg.BaseURL(p))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s adapter: %w", p, err)
		}
		out[p] = a
	}
	return out, nil
}

func newAdapter(p catalog.Provider, key, baseURL string) (adapter.Adapter, error) {
	var compat []adapter.CompatOption
	if baseURL != "" {
		compat = append(compat, adapter.WithBaseURL(baseURL))
	}

	switch p {
	case catalog.ProviderOpenAI:
		var opts []openaioption.RequestOption
		if baseURL != "" {
			opts = append(opts, openaioption.WithBaseURL(baseURL))
		}
		return adapter.NewOpenAIAdapter(key, opts...)
	case catalog.ProviderAnthropic:
		var opts []anthropicoption.RequestOption
		if baseURL != "" {
			opts = append(opts, anthropicoption.WithBaseURL(baseURL))
		}
		return adapter.NewAnthropicAdapter(key, opts...)
	case catalog.ProviderGoogle:
		return adapter.NewGoogleAdapter(key, baseURL)
	case catalog.ProviderGroq:
		return adapter.NewGroqAdapter(key, compat...)
	case catalog.ProviderDeepSeek:
		return adapter.NewDeepSeekAdapter(key, compat...)
	case catalog.ProviderMistral:
		return adapter.NewMistralAdapter(key, compat...)
	case catalog.ProviderXAI:
		return adapter.NewXAIAdapter(key, compat...)
	case catalog.ProviderOpenRouter:
		return adapter.NewOpenRouterAdapter(key, compat...)
	default:
		return nil, fmt.Errorf("unknown provider %q", p)
	}
}

func openLedger(cfg *config.Config, logger zerolog.Logger) (ledger.Sink, func() error, error) {
	switch strings.ToLower(cfg.Ledger.Backend) {
	case "", "none":
		return ledger.Discard{}, nil, nil
	case "log":
		return ledger.LogSink{Logger: logger}, nil, nil
	case "file":
		sink, err := ledger.NewFileSink(cfg.Ledger.Path)
		if err != nil {
			return nil, nil, err
		}
		return sink, nil, nil
	case "sqlite":
		sink, err := ledger.OpenSQLite(cfg.Ledger.Path)
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	case "postgres":
		sink, err := ledger.OpenPostgres(cfg.Ledger.DSN)
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

func openGate(cfg *config.Config) (quota.Gate, func() error, error) {
	limits, err := cfg.QuotaLimits()
	if err != nil {
		return nil, nil, err
	}
	switch strings.ToLower(cfg.Quota.Backend) {
	case "", "none":
		return quota.AllowAll{}, nil, nil
	case "memory":
		return quota.NewMemoryGate(limits), nil, nil
	case "redis":
		g, err := quota.NewRedisGate(quota.RedisConfig{
			Addr:     cfg.Quota.Redis.Addr,
			Password: cfg.Quota.Redis.Password,
			DB:       cfg.Quota.Redis.DB,
		}, limits)
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown quota backend %q", cfg.Quota.Backend)
	}
}
