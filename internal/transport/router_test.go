package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/draftforge/draftforge/internal/checkpoint"
	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/graph"
	"github.com/draftforge/draftforge/internal/observability"
	"github.com/draftforge/draftforge/internal/orchestrator"
	"github.com/draftforge/draftforge/model"
)

func newRouterForTest(t *testing.T, authenticate func(http.Handler) http.Handler) http.Handler {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.CORS.AllowedOrigins = []string{"https://app.example.com"}
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	controller := orchestrator.NewController(
		checkpoint.NewMemoryStore(),
		graph.MustBuild(map[string][]string{"overview": nil}),
		zap.NewNop(), metrics)
	return NewRouter(Dependencies{
		Config:       cfg,
		Logger:       zap.NewNop(),
		Controller:   controller,
		Metrics:      metrics,
		Authenticate: authenticate,
	})
}

func rejectAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, model.NewUnauthorizedError("Missing authorization header"))
	})
}

func TestRouter_healthBypassesAuth(t *testing.T) {
	router := newRouterForTest(t, rejectAll)
	for _, path := range []string{"/health", "/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code == http.StatusUnauthorized {
			t.Errorf("GET %s = 401, must bypass authentication", path)
		}
	}
}

func TestRouter_apiRequiresAuth(t *testing.T) {
	router := newRouterForTest(t, rejectAll)
	paths := []struct{ method, path string }{
		{"POST", "/v1/instances"},
		{"GET", "/v1/instances"},
		{"GET", "/v1/instances/x"},
		{"DELETE", "/v1/instances/x"},
		{"GET", "/v1/instances/x/interrupt"},
		{"POST", "/v1/instances/x/feedback"},
		{"POST", "/v1/instances/x/sections/y/edit"},
		{"GET", "/v1/instances/x/events"},
		{"POST", "/v1/instances/x/resume"},
	}
	for _, p := range paths {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(p.method, p.path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s = %d, want 401", p.method, p.path, rec.Code)
		}
	}
}

func TestRouter_securityHeaders(t *testing.T) {
	router := newRouterForTest(t, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestRouter_correlationID(t *testing.T) {
	router := newRouterForTest(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Header().Get("X-Correlation-Id") == "" {
		t.Error("expected a generated X-Correlation-Id header")
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-Id"); got != "corr-123" {
		t.Errorf("X-Correlation-Id = %q, want the caller's value echoed", got)
	}
}

func TestRouter_cors(t *testing.T) {
	router := newRouterForTest(t, nil)

	req := httptest.NewRequest("OPTIONS", "/v1/instances", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}

	// Unlisted origins get no CORS headers.
	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for unlisted origin, want empty", got)
	}
}

func TestRouter_metricsEndpoint(t *testing.T) {
	router := newRouterForTest(t, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
}

func TestBuildRequestContext_claims(t *testing.T) {
	var seen *model.RequestContext
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = model.RequestContextFrom(r.Context())
	})
	handler := RequestID(BuildRequestContext(inner))

	req := httptest.NewRequest("GET", "/v1/instances", nil)
	req = req.WithContext(WithClaims(req.Context(), map[string]any{
		"sub":   "user-42",
		"email": "reviewer@example.com",
		"roles": []any{"reviewer", "admin"},
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen == nil {
		t.Fatal("no RequestContext built")
	}
	if seen.SubjectID != "user-42" || seen.Email != "reviewer@example.com" {
		t.Errorf("context = %+v", seen)
	}
	if len(seen.Roles) != 2 || !seen.HasRole("reviewer") {
		t.Errorf("roles = %v", seen.Roles)
	}
	if seen.CorrelationID == "" {
		t.Error("correlation ID not propagated into the request context")
	}
}

func TestRecovery_panicBecomes500(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/instances", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
