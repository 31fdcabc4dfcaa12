// Package server exposes the service over HTTP JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zen-systems/modelgate/pkg/catalog"
	"github.com/zen-systems/modelgate/pkg/engine"
	"github.com/zen-systems/modelgate/pkg/license"
	"github.com/zen-systems/modelgate/pkg/selector"
	"github.com/zen-systems/modelgate/pkg/service"
)

const (
	maxBodyBytes    = 4 << 20
	requestIDHeader = "X-Request-ID"
)

// Config holds HTTP server settings.
type Config struct {
	Addr          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	LicenseSecret string
}

// Server serves the modelgate API.
type Server struct {
	cfg        Config
	svc        *service.Service
	sessions   *sessionStore
	gatherer   prometheus.Gatherer
	logger     zerolog.Logger
	httpServer *http.Server
	startTime  time.Time
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// ErrorBody is the error envelope of every failed request.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the failure kind so callers can pick the right action.
type ErrorDetail struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// AgenticRequest is the body of POST /v1/agentic.
type AgenticRequest struct {
	Goal       string              `json:"goal"`
	Code       string              `json:"code,omitempty"`
	TaskType   selector.TaskType   `json:"task_type"`
	Preference selector.Preference `json:"preference"`
}

func (r AgenticRequest) task() selector.Task {
	return selector.Task{Goal: r.Goal, Code: r.Code, TaskType: r.TaskType, Preference: r.Preference}
}

// New creates a server. gatherer may be nil to disable /metrics.
func New(cfg Config, svc *service.Service, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		svc:       svc,
		sessions:  newSessionStore(),
		gatherer:  gatherer,
		logger:    logger,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.HandleFunc("POST /v1/execute", s.executeHandler)
	mux.HandleFunc("POST /v1/agentic", s.agenticHandler)
	mux.HandleFunc("GET /v1/models", s.modelsHandler)
	mux.HandleFunc("GET /v1/recommend", s.recommendHandler)
	mux.HandleFunc("POST /v1/sessions", s.createSessionHandler)
	mux.HandleFunc("GET /v1/sessions/{id}", s.getSessionHandler)
	mux.HandleFunc("POST /v1/sessions/{id}/agentic", s.sessionAgenticHandler)
	mux.HandleFunc("POST /v1/sessions/{id}/undo", s.undoHandler)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.withRequestID(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("HTTP server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		logger := s.logger.With().Str("request_id", id).Logger()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(logger.WithContext(r.Context())))

		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

// caller resolves the bearer license. No token means the free tier, keyed by
// client address so anonymous clients neither share a quota nor see each
// other's sessions.
func (s *Server) caller(r *http.Request) (service.Caller, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return service.Caller{Subject: anonymousSubject(r), Tier: license.Free.Tier}, nil
	}
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return service.Caller{}, license.ErrInvalidToken
	}
	lic, err := license.Verify(s.cfg.LicenseSecret, strings.TrimSpace(token))
	if err != nil {
		return service.Caller{}, err
	}
	return service.Caller{Subject: lic.Subject, Tier: lic.Tier}, nil
}

func anonymousSubject(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return license.Free.Subject
	}
	return license.Free.Subject + ":" + host
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) executeHandler(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req engine.Request
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Execute(r.Context(), caller, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) agenticHandler(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body AgenticRequest
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.PlanAgentic(r.Context(), caller, nil, body.task())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	var tier catalog.Tier
	if raw := r.URL.Query().Get("tier"); raw != "" {
		t, err := catalog.ParseTier(raw)
		if err != nil {
			s.writeError(w, r, &engine.RejectionError{Kind: engine.RejectInvalid, Message: err.Error()})
			return
		}
		tier = t
	}
	models := s.svc.ListModels(service.ModelFilter{
		Tier:       tier,
		Capability: r.URL.Query().Get("capability"),
		Provider:   catalog.Provider(r.URL.Query().Get("provider")),
	})
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) recommendHandler(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	ranked, err := s.svc.Recommend(selector.Task{
		TaskType:   selector.TaskType(q.Get("task_type")),
		Preference: selector.Preference(q.Get("preference")),
		Tier:       caller.Tier,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": ranked})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &engine.RejectionError{Kind: engine.RejectInvalid, Message: "malformed request body", Err: err}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a rejection kind to its HTTP status.
func statusFor(kind engine.RejectionKind) int {
	switch kind {
	case engine.RejectInvalid, engine.RejectTooManyModels:
		return http.StatusBadRequest
	case engine.RejectNotFound:
		return http.StatusNotFound
	case engine.RejectTierRestricted:
		return http.StatusForbidden
	case engine.RejectRateLimited:
		return http.StatusTooManyRequests
	case engine.RejectQuotaExceeded:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	detail := ErrorDetail{RequestID: w.Header().Get(requestIDHeader)}
	status := http.StatusInternalServerError

	var rej *engine.RejectionError
	switch {
	case errors.As(err, &rej):
		status = statusFor(rej.Kind)
		detail.Kind = string(rej.Kind)
		detail.Message = rej.Message
	case errors.Is(err, license.ErrTokenExpired), errors.Is(err, license.ErrInvalidToken), errors.Is(err, license.ErrNoSecret):
		status = http.StatusUnauthorized
		detail.Kind = "unauthorized"
		detail.Message = err.Error()
	case errors.Is(err, errSessionNotFound):
		status = http.StatusNotFound
		detail.Kind = string(engine.RejectNotFound)
		detail.Message = err.Error()
	case errors.Is(err, errNothingToUndo):
		status = http.StatusConflict
		detail.Kind = "conflict"
		detail.Message = err.Error()
	default:
		detail.Kind = "internal"
		detail.Message = "internal error"
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, ErrorBody{Error: detail})
}
