package agentrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
)

// HostedClient talks to the hosted model gateway: execution on the paid
// tiers, complexity second opinions, and code reviews.
type HostedClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	timeout time.Duration
	logger  logging.Logger
}

// NewHostedClient creates a hosted gateway client.
func NewHostedClient(baseURL, apiKey string, timeout time.Duration, logger logging.Logger) *HostedClient {
	return &HostedClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{},
		timeout: timeout,
		logger:  logging.OrNop(logger),
	}
}

func (c *HostedClient) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var result ExecuteResult
	if err := c.postJSON(ctx, "/v1/execute", req, &result); err != nil {
		return nil, errors.Wrap(errors.KindAgentRPC, err, "hosted execute task %s", req.TaskID)
	}
	return &result, nil
}

// EstimateComplexity asks the cheap hosted tier for a numeric complexity
// estimate. Model responses are not always clean JSON, so the body is
// repaired before decoding.
func (c *HostedClient) EstimateComplexity(ctx context.Context, task *domain.Task) (float64, error) {
	payload := map[string]any{
		"model":       string(domain.TierHaiku),
		"title":       task.Title,
		"description": task.Description,
		"task_type":   string(task.TaskType),
	}
	raw, err := c.postRaw(ctx, "/v1/complexity", payload)
	if err != nil {
		return 0, errors.Wrap(errors.KindAgentRPC, err, "complexity estimate for task %s", task.ID)
	}

	var parsed struct {
		Complexity float64 `json:"complexity"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		repaired, repErr := jsonrepair.JSONRepair(string(raw))
		if repErr != nil || json.Unmarshal([]byte(repaired), &parsed) != nil {
			return 0, errors.E(errors.KindAgentRPC, "unparseable complexity response: %s", firstBytes(raw, 120))
		}
	}
	if parsed.Complexity <= 0 {
		return 0, errors.E(errors.KindAgentRPC, "hosted complexity out of range: %v", parsed.Complexity)
	}
	return parsed.Complexity, nil
}

// Review asks the given hosted tier to review a completed task's output.
func (c *HostedClient) Review(ctx context.Context, task *domain.Task, tier domain.Tier) (*domain.CodeReview, error) {
	payload := map[string]any{
		"model":       string(tier),
		"task_id":     task.ID,
		"title":       task.Title,
		"description": task.Description,
		"output":      task.Result.Output(),
	}
	raw, err := c.postRaw(ctx, "/v1/review", payload)
	if err != nil {
		return nil, errors.Wrap(errors.KindAgentRPC, err, "review task %s on %s", task.ID, tier)
	}

	var review domain.CodeReview
	if err := json.Unmarshal(raw, &review); err != nil {
		repaired, repErr := jsonrepair.JSONRepair(string(raw))
		if repErr != nil || json.Unmarshal([]byte(repaired), &review) != nil {
			return nil, errors.E(errors.KindAgentRPC, "unparseable review response: %s", firstBytes(raw, 120))
		}
	}
	review.TaskID = task.ID
	review.ReviewerTier = tier
	return &review, nil
}

// RunValidation is not offered by the hosted gateway; validation always
// runs on the local runtime next to the workspace.
func (c *HostedClient) RunValidation(ctx context.Context, command, language string) (*ValidationResult, error) {
	return nil, errors.E(errors.KindAgentRPC, "hosted gateway does not run validation commands")
}

// Reset is a no-op: hosted calls are stateless.
func (c *HostedClient) Reset(ctx context.Context) error { return nil }

func (c *HostedClient) postJSON(ctx context.Context, path string, payload, out any) error {
	raw, err := c.postRaw(ctx, path, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *HostedClient) postRaw(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, firstBytes(raw, 200))
	}
	return raw, nil
}
