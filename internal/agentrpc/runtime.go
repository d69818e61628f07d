// Package agentrpc holds the HTTP clients for the two model runtimes the
// engine drives: the local runtime serving the free tier and the hosted
// API serving the paid tiers. All calls carry deadlines; a deadline hit
// is reported as an RPC failure, never retried here.
package agentrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
)

// ExecuteRequest is one attempt handed to a runtime.
type ExecuteRequest struct {
	TaskID        string      `json:"task_id"`
	Description   string      `json:"description"`
	Language      string      `json:"language,omitempty"`
	Tier          domain.Tier `json:"model_tier"`
	ContextWindow int         `json:"context_window,omitempty"`
}

// ExecuteResult is the runtime's report for one attempt.
type ExecuteResult struct {
	Output domain.TaskResult     `json:"output"`
	Steps  []domain.ExecutionLog `json:"steps,omitempty"`
	Model  string                `json:"model,omitempty"`
	Cost   float64               `json:"cost_usd,omitempty"`
}

// ValidationResult is the validator's verdict for one command run.
type ValidationResult struct {
	Passed bool   `json:"passed"`
	Output string `json:"output,omitempty"`
}

// Runtime is what the executor needs from a model backend.
type Runtime interface {
	// Execute runs one attempt. Implementations honour ctx deadlines and
	// surface failures as AgentRPC errors.
	Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error)

	// RunValidation executes the task's validation command in the
	// workspace sandbox. Unavailability is a ValidationRPC error,
	// distinct from a command that ran and failed.
	RunValidation(ctx context.Context, command, language string) (*ValidationResult, error)

	// Reset clears the runtime's in-memory context.
	Reset(ctx context.Context) error
}

// HTTPRuntime talks to a runtime daemon over JSON/HTTP.
type HTTPRuntime struct {
	baseURL           string
	client            *http.Client
	executeTimeout    time.Duration
	validationTimeout time.Duration
	logger            logging.Logger
}

// NewHTTPRuntime creates a runtime client.
func NewHTTPRuntime(baseURL string, executeTimeout, validationTimeout time.Duration, logger logging.Logger) *HTTPRuntime {
	return &HTTPRuntime{
		baseURL:           baseURL,
		client:            &http.Client{},
		executeTimeout:    executeTimeout,
		validationTimeout: validationTimeout,
		logger:            logging.OrNop(logger),
	}
}

func (r *HTTPRuntime) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.executeTimeout)
	defer cancel()

	var result ExecuteResult
	if err := r.postJSON(ctx, "/execute", req, &result); err != nil {
		return nil, errors.Wrap(errors.KindAgentRPC, err, "execute task %s", req.TaskID)
	}
	return &result, nil
}

func (r *HTTPRuntime) RunValidation(ctx context.Context, command, language string) (*ValidationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.validationTimeout)
	defer cancel()

	payload := map[string]string{"command": command, "language": language}
	var result ValidationResult
	if err := r.postJSON(ctx, "/validate", payload, &result); err != nil {
		return nil, errors.Wrap(errors.KindValidationRPC, err, "run validation")
	}
	return &result, nil
}

func (r *HTTPRuntime) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.validationTimeout)
	defer cancel()
	if err := r.postJSON(ctx, "/reset", struct{}{}, nil); err != nil {
		return errors.Wrap(errors.KindAgentRPC, err, "reset runtime context")
	}
	return nil
}

func (r *HTTPRuntime) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, firstBytes(raw, 200))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func firstBytes(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

var _ Runtime = (*HTTPRuntime)(nil)
