package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/model"
)

// client is the shared HTTP machinery behind both collaborator clients:
// one circuit breaker per endpoint, bounded exponential-backoff retry, and
// timeout classification into the COLLABORATOR_TIMEOUT error kind.
type client struct {
	name     string
	baseURL  string
	http     *http.Client
	breaker  *CircuitBreaker
	deadline time.Duration
	retry    config.RetryConfig
}

func newClient(name string, cfg config.CollaboratorConfig) *client {
	return &client{
		name:    name,
		baseURL: cfg.BaseURL,
		http: &http.Client{
			// Per-call deadlines come from the request context.
			Timeout: 0,
		},
		breaker: NewCircuitBreaker(
			cfg.CircuitBreaker.FailureThreshold,
			cfg.CircuitBreaker.SuccessThreshold,
			cfg.CircuitBreaker.Timeout,
		),
		deadline: cfg.Deadline,
		retry:    cfg.Retry,
	}
}

// HTTPGenerator calls the generation collaborator over HTTP.
type HTTPGenerator struct {
	c *client
}

// NewHTTPGenerator creates a generation client from config.
func NewHTTPGenerator(cfg config.CollaboratorConfig) *HTTPGenerator {
	return &HTTPGenerator{c: newClient("generator", cfg)}
}

// Generate requests content for a section. An empty response body is a
// generation failure, never silently accepted.
func (g *HTTPGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	var resp struct {
		Content string `json:"content"`
	}
	if err := g.c.post(ctx, "/generate", req, &resp); err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", model.NewGenerationError(
			fmt.Sprintf("generator returned empty content for section %q", req.SectionID),
		)
	}
	return resp.Content, nil
}

// HTTPEvaluator calls the evaluation collaborator over HTTP.
type HTTPEvaluator struct {
	c *client
}

// NewHTTPEvaluator creates an evaluation client from config.
func NewHTTPEvaluator(cfg config.CollaboratorConfig) *HTTPEvaluator {
	return &HTTPEvaluator{c: newClient("evaluator", cfg)}
}

// Evaluate scores content against the external rubric.
func (e *HTTPEvaluator) Evaluate(ctx context.Context, req EvaluationRequest) (model.EvaluationResult, error) {
	var resp struct {
		Passed   bool    `json:"passed"`
		Score    float64 `json:"score"`
		Feedback string  `json:"feedback"`
	}
	if err := e.c.post(ctx, "/evaluate", req, &resp); err != nil {
		if model.IsCode(err, model.ErrGenerationFailed) {
			// Reclassify the shared transport error kind for this endpoint.
			return model.EvaluationResult{}, model.NewEvaluationError(err.(*model.ErrorEnvelope).Message)
		}
		return model.EvaluationResult{}, err
	}
	return model.EvaluationResult{
		Passed:      resp.Passed,
		Score:       resp.Score,
		Feedback:    resp.Feedback,
		EvaluatedAt: time.Now().UTC(),
	}, nil
}

// post sends a JSON request and decodes the JSON response, applying the
// breaker, the deadline, and the retry policy. Only connection errors and
// 5xx responses are retried; timeouts and 4xx are terminal.
func (c *client) post(ctx context.Context, path string, body, out any) error {
	if err := c.breaker.Allow(); err != nil {
		return err
	}

	ctx, cancel := WithDeadline(ctx, c.deadline)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", c.name, err)
	}

	policy := backoff.WithContext(c.backoffPolicy(), ctx)
	var respBody []byte

	err = backoff.Retry(func() error {
		var attemptErr error
		respBody, attemptErr = c.once(ctx, path, payload)
		return attemptErr
	}, policy)

	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		classified := c.classify(err)
		c.breaker.RecordFailure()
		return classified
	}

	c.breaker.RecordSuccess()
	if err := json.Unmarshal(respBody, out); err != nil {
		return model.NewGenerationError(
			fmt.Sprintf("%s returned malformed response: %v", c.name, err),
		)
	}
	return nil
}

// once performs a single HTTP attempt. Non-retryable outcomes are wrapped
// in backoff.Permanent so the retry loop stops immediately.
func (c *client) once(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, backoff.Permanent(err)
		}
		// Connection-level failures are retryable.
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s returned status %d", c.name, resp.StatusCode)
	default:
		return nil, backoff.Permanent(fmt.Errorf("%s returned status %d: %s", c.name, resp.StatusCode, truncate(data, 200)))
	}
}

func (c *client) backoffPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.retry.BackoffInitial > 0 {
		b.InitialInterval = c.retry.BackoffInitial
	}
	if c.retry.BackoffMax > 0 {
		b.MaxInterval = c.retry.BackoffMax
	}
	attempts := c.retry.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return backoff.WithMaxRetries(b, uint64(attempts-1))
}

// classify converts a transport failure into the typed error taxonomy.
func (c *client) classify(err error) error {
	if ee, ok := err.(*model.ErrorEnvelope); ok {
		return ee
	}
	if isTimeout(err) {
		return model.NewTimeoutError(
			fmt.Sprintf("%s call exceeded deadline: %v", c.name, err),
		)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.Canceled) {
		return model.NewUnavailableError(
			fmt.Sprintf("%s unreachable: %v", c.name, err),
		)
	}
	return model.NewGenerationError(fmt.Sprintf("%s call failed: %v", c.name, err))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
