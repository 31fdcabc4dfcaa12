package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/zen-systems/modelgate/pkg/adapter"
	"github.com/zen-systems/modelgate/pkg/agent"
	"github.com/zen-systems/modelgate/pkg/catalog"
	"github.com/zen-systems/modelgate/pkg/engine"
	"github.com/zen-systems/modelgate/pkg/license"
	"github.com/zen-systems/modelgate/pkg/quota"
	"github.com/zen-systems/modelgate/pkg/selector"
	"github.com/zen-systems/modelgate/pkg/service"
)

const secret = "server-test-secret"

type staticGate struct{ err error }

func (g staticGate) Allow(context.Context, quota.Check) error { return g.err }

type harness struct {
	srv  *Server
	groq *adapter.MockAdapter
}

func testServer(t *testing.T, gate quota.Gate) harness {
	t.Helper()
	groq := adapter.NewMockAdapter("groq")
	groq.Respond("llama-3.3-70b-versatile", "OK\nVERDICT: APPROVED")
	adapters := map[catalog.Provider]adapter.Adapter{
		catalog.ProviderGroq:    groq,
		catalog.ProviderMistral: adapter.NewMockAdapter("mistral"),
		catalog.ProviderGoogle:  adapter.NewMockAdapter("google"),
	}
	reg := prometheus.NewRegistry()
	cat := catalog.Default()
	eng := engine.New(cat, adapters, engine.WithMetrics(engine.NewMetrics(reg)))
	sel := selector.New(cat, selector.WithAvailability(func(m catalog.Model) bool { return adapters[m.Provider] != nil }))
	svc := service.New(eng, sel, agent.New(sel, eng), service.WithGate(gate))
	srv := New(Config{Addr: "127.0.0.1:0", LicenseSecret: secret}, svc, reg, zerolog.Nop())
	return harness{srv: srv, groq: groq}
}

func (h harness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return h.doFrom(t, "", method, path, token, body)
}

// doFrom sends the request from remoteAddr, or httptest's default when empty.
func (h harness) doFrom(t *testing.T, remoteAddr, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func token(t *testing.T, subject string, tier catalog.Tier) string {
	t.Helper()
	tok, err := license.Issue(secret, subject, tier, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body ErrorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestHealthHandler(t *testing.T) {
	h := testServer(t, nil)
	w := h.do(t, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
	var hr HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&hr); err != nil || hr.Status != "healthy" {
		t.Fatalf("unexpected health response %+v, %v", hr, err)
	}
}

func TestExecuteSingleAnonymous(t *testing.T) {
	h := testServer(t, nil)
	w := h.do(t, http.MethodPost, "/v1/execute", "", map[string]any{
		"mode":   "single",
		"models": []string{"llama-3.3-70b"},
		"prompt": "Say OK",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res engine.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Success || len(res.Results) != 1 || res.FinalOutput != res.Results[0].Output {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExecuteTierCeilingByToken(t *testing.T) {
	h := testServer(t, nil)
	body := map[string]any{
		"mode":   "parallel",
		"models": []string{"groq/llama-3.3-70b", "mistral/codestral", "google/gemini-1.5-flash"},
		"prompt": "x",
		"tier":   "pro",
	}

	w := h.do(t, http.MethodPost, "/v1/execute", "", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for free caller, got %d", w.Code)
	}
	if d := decodeError(t, w); d.Kind != string(engine.RejectTooManyModels) || d.RequestID == "" {
		t.Fatalf("unexpected error %+v", d)
	}
	if h.groq.TotalCalls() != 0 {
		t.Fatal("rejected request reached a provider")
	}

	w = h.do(t, http.MethodPost, "/v1/execute", token(t, "alice", catalog.TierPro), body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for pro caller, got %d: %s", w.Code, w.Body.String())
	}
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		gate   quota.Gate
		token  string
		body   map[string]any
		status int
		kind   string
	}{
		{"tier restricted", nil, "", map[string]any{"mode": "single", "models": []string{"sonnet"}, "prompt": "x"}, http.StatusForbidden, "tier_restricted"},
		{"not found", nil, "", map[string]any{"mode": "single", "models": []string{"acme/x"}, "prompt": "x"}, http.StatusNotFound, "not_found"},
		{"invalid", nil, "", map[string]any{"mode": "single", "models": []string{"llama"}}, http.StatusBadRequest, "invalid_request"},
		{"rate limited", staticGate{fmt.Errorf("%w: slow down", quota.ErrRateLimited)}, "", map[string]any{"mode": "single", "models": []string{"llama"}, "prompt": "x"}, http.StatusTooManyRequests, "rate_limited"},
		{"quota", staticGate{fmt.Errorf("%w: tomorrow", quota.ErrQuotaExceeded)}, "", map[string]any{"mode": "single", "models": []string{"llama"}, "prompt": "x"}, http.StatusPaymentRequired, "quota_exceeded"},
		{"bad token", nil, "garbage", map[string]any{"mode": "single", "models": []string{"llama"}, "prompt": "x"}, http.StatusUnauthorized, "unauthorized"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := testServer(t, tc.gate)
			w := h.do(t, http.MethodPost, "/v1/execute", tc.token, tc.body)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tc.status, w.Body.String())
			}
			if d := decodeError(t, w); d.Kind != tc.kind {
				t.Fatalf("kind = %s, want %s", d.Kind, tc.kind)
			}
		})
	}
}

func TestMalformedBody(t *testing.T) {
	h := testServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/execute", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestModelsAndRecommend(t *testing.T) {
	h := testServer(t, nil)

	w := h.do(t, http.MethodGet, "/v1/models?tier=free&capability=coding", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("models: %d", w.Code)
	}
	var models struct {
		Models []service.ModelView `json:"models"`
	}
	if err := json.NewDecoder(w.Body).Decode(&models); err != nil {
		t.Fatalf("decode models: %v", err)
	}
	if len(models.Models) == 0 {
		t.Fatal("expected coding models")
	}
	for _, m := range models.Models {
		if m.Provider == catalog.ProviderOpenAI && m.Available {
			t.Fatalf("%s has no adapter but is reported available", m.ID)
		}
	}

	if w := h.do(t, http.MethodGet, "/v1/models?tier=gold", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown tier, got %d", w.Code)
	}

	w = h.do(t, http.MethodGet, "/v1/recommend?task_type=debug&preference=speed-optimized", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("recommend: %d %s", w.Code, w.Body.String())
	}
}

func TestAgenticEndpoint(t *testing.T) {
	h := testServer(t, nil)
	w := h.do(t, http.MethodPost, "/v1/agentic", "", AgenticRequest{Goal: "fix the bug", TaskType: selector.TaskDebug})
	if w.Code != http.StatusOK {
		t.Fatalf("agentic: %d %s", w.Code, w.Body.String())
	}
	var res engine.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Mode != engine.ModeAgentic || res.Agentic == nil {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSessionLifecycle(t *testing.T) {
	h := testServer(t, nil)
	alice := token(t, "alice", catalog.TierFree)

	w := h.do(t, http.MethodPost, "/v1/sessions", alice, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d", w.Code)
	}
	var sess SessionResponse
	if err := json.NewDecoder(w.Body).Decode(&sess); err != nil || sess.ID == "" {
		t.Fatalf("decode session: %+v %v", sess, err)
	}

	path := "/v1/sessions/" + sess.ID
	if w := h.do(t, http.MethodPost, path+"/agentic", alice, AgenticRequest{Goal: "add tests"}); w.Code != http.StatusOK {
		t.Fatalf("session agentic: %d %s", w.Code, w.Body.String())
	}

	w = h.do(t, http.MethodGet, path, alice, nil)
	if err := json.NewDecoder(w.Body).Decode(&sess); err != nil || len(sess.History) != 1 {
		t.Fatalf("expected 1 history entry, got %+v %v", sess, err)
	}

	if w := h.do(t, http.MethodGet, path, token(t, "mallory", catalog.TierPro), nil); w.Code != http.StatusNotFound {
		t.Fatalf("other subjects must not see the session, got %d", w.Code)
	}

	if w := h.do(t, http.MethodPost, path+"/undo", alice, nil); w.Code != http.StatusOK {
		t.Fatalf("undo: %d", w.Code)
	}
	if w := h.do(t, http.MethodPost, path+"/undo", alice, nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on empty history, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := testServer(t, nil)
	h.do(t, http.MethodPost, "/v1/execute", "", map[string]any{"mode": "single", "models": []string{"llama"}, "prompt": "x"})

	w := h.do(t, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "modelgate_provider_calls_total") {
		t.Fatal("provider call counter missing from /metrics")
	}
}

func TestShutdown(t *testing.T) {
	h := testServer(t, nil)
	errc := make(chan error, 1)
	go func() { errc <- h.srv.Start() }()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("start returned %v", err)
	}
}

func TestAnonymousClientsAreSeparated(t *testing.T) {
	gate := quota.NewMemoryGate(map[catalog.Tier]quota.Limits{
		catalog.TierFree: {RequestsPerMinute: 100, Burst: 100, DailyCalls: 1},
	})
	h := testServer(t, gate)
	const alice, bob = "198.51.100.7:4000", "203.0.113.9:5000"
	body := map[string]any{"mode": "single", "models": []string{"llama"}, "prompt": "x"}

	if w := h.doFrom(t, alice, http.MethodPost, "/v1/execute", "", body); w.Code != http.StatusOK {
		t.Fatalf("first anonymous call: %d %s", w.Code, w.Body.String())
	}
	if w := h.doFrom(t, alice, http.MethodPost, "/v1/execute", "", body); w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected the client's quota to be spent, got %d", w.Code)
	}
	if w := h.doFrom(t, bob, http.MethodPost, "/v1/execute", "", body); w.Code != http.StatusOK {
		t.Fatalf("another anonymous client must have its own quota, got %d", w.Code)
	}
	if gate.Used("anonymous:198.51.100.7") != 1 || gate.Used("anonymous:203.0.113.9") != 1 {
		t.Fatal("anonymous usage should be charged per client address")
	}

	w := h.doFrom(t, alice, http.MethodPost, "/v1/sessions", "", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d", w.Code)
	}
	var sess SessionResponse
	if err := json.NewDecoder(w.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if w := h.doFrom(t, "198.51.100.7:4001", http.MethodGet, "/v1/sessions/"+sess.ID, "", nil); w.Code != http.StatusOK {
		t.Fatalf("same client on a new port should see its session, got %d", w.Code)
	}
	if w := h.doFrom(t, bob, http.MethodGet, "/v1/sessions/"+sess.ID, "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("other anonymous clients must not see the session, got %d", w.Code)
	}
}
