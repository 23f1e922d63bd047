package collab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/model"
)

func testCollabConfig(baseURL string) config.CollaboratorConfig {
	return config.CollaboratorConfig{
		BaseURL:  baseURL,
		Deadline: 2 * time.Second,
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
		},
		Retry: config.RetryConfig{
			MaxAttempts:    3,
			BackoffInitial: time.Millisecond,
			BackoffMax:     5 * time.Millisecond,
		},
	}
}

func TestHTTPGenerator_success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate" {
			t.Errorf("path = %q, want /generate", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		w.Write([]byte(`{"content":"Executive summary draft."}`))
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(testCollabConfig(srv.URL))
	content, err := gen.Generate(context.Background(), GenerationRequest{
		InstanceID: "inst-1",
		SectionID:  "summary",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if content != "Executive summary draft." {
		t.Errorf("Generate() = %q", content)
	}
}

func TestHTTPGenerator_emptyContentIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":""}`))
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(testCollabConfig(srv.URL))
	_, err := gen.Generate(context.Background(), GenerationRequest{SectionID: "summary"})
	if !model.IsCode(err, model.ErrGenerationFailed) {
		t.Fatalf("Generate() error = %v, want GENERATION_ERROR", err)
	}
}

func TestHTTPGenerator_retriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"content":"ok after retries"}`))
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(testCollabConfig(srv.URL))
	content, err := gen.Generate(context.Background(), GenerationRequest{SectionID: "s"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if content != "ok after retries" {
		t.Errorf("Generate() = %q", content)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestHTTPGenerator_clientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"bad section"}`))
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(testCollabConfig(srv.URL))
	_, err := gen.Generate(context.Background(), GenerationRequest{SectionID: "s"})
	if !model.IsCode(err, model.ErrGenerationFailed) {
		t.Fatalf("Generate() error = %v, want GENERATION_ERROR", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1 (4xx must not retry)", got)
	}
}

func TestHTTPGenerator_deadlineClassifiedAsTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	cfg := testCollabConfig(srv.URL)
	cfg.Deadline = 50 * time.Millisecond
	gen := NewHTTPGenerator(cfg)

	start := time.Now()
	_, err := gen.Generate(context.Background(), GenerationRequest{SectionID: "s"})
	if !model.IsCode(err, model.ErrCollaboratorTimeout) {
		t.Fatalf("Generate() error = %v, want COLLABORATOR_TIMEOUT", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timed out after %v, deadline not applied", elapsed)
	}
}

func TestHTTPGenerator_breakerOpensAndShortCircuits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testCollabConfig(srv.URL)
	cfg.CircuitBreaker.FailureThreshold = 2
	cfg.Retry.MaxAttempts = 1
	gen := NewHTTPGenerator(cfg)

	for i := 0; i < 2; i++ {
		if _, err := gen.Generate(context.Background(), GenerationRequest{SectionID: "s"}); err == nil {
			t.Fatal("Generate() error = nil, want failure")
		}
	}

	before := calls.Load()
	_, err := gen.Generate(context.Background(), GenerationRequest{SectionID: "s"})
	if !model.IsCode(err, model.ErrCollaboratorUnavailable) {
		t.Fatalf("Generate() error = %v, want COLLABORATOR_UNAVAILABLE", err)
	}
	if calls.Load() != before {
		t.Error("open breaker still reached the server")
	}
}

func TestHTTPEvaluator_success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/evaluate" {
			t.Errorf("path = %q, want /evaluate", r.URL.Path)
		}
		w.Write([]byte(`{"passed":true,"score":0.92,"feedback":"solid"}`))
	}))
	defer srv.Close()

	eval := NewHTTPEvaluator(testCollabConfig(srv.URL))
	res, err := eval.Evaluate(context.Background(), EvaluationRequest{
		InstanceID: "inst-1",
		SectionID:  "summary",
		Content:    "draft text",
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !res.Passed || res.Score != 0.92 || res.Feedback != "solid" {
		t.Errorf("Evaluate() = %+v", res)
	}
	if res.EvaluatedAt.IsZero() {
		t.Error("EvaluatedAt not stamped")
	}
}

func TestHTTPEvaluator_transportFailureIsEvaluationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := testCollabConfig(srv.URL)
	eval := NewHTTPEvaluator(cfg)
	_, err := eval.Evaluate(context.Background(), EvaluationRequest{SectionID: "s", Content: "x"})
	if !model.IsCode(err, model.ErrEvaluationFailed) {
		t.Fatalf("Evaluate() error = %v, want EVALUATION_ERROR", err)
	}
}

func TestHTTPGenerator_malformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(testCollabConfig(srv.URL))
	_, err := gen.Generate(context.Background(), GenerationRequest{SectionID: "s"})
	if !model.IsCode(err, model.ErrGenerationFailed) {
		t.Fatalf("Generate() error = %v, want GENERATION_ERROR", err)
	}
}
