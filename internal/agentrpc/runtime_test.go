package agentrpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
)

func TestHTTPRuntimeExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ExecuteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.TaskID != "t1" || req.Tier != domain.TierOllama {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(ExecuteResult{
			Output: domain.TaskResult(`{"success": true, "output": "done"}`),
			Model:  "qwen2.5-coder",
		})
	}))
	defer srv.Close()

	rt := NewHTTPRuntime(srv.URL, time.Second, time.Second, nil)
	result, err := rt.Execute(context.Background(), ExecuteRequest{TaskID: "t1", Tier: domain.TierOllama})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Output.Output() != "done" {
		t.Errorf("output = %q", result.Output.Output())
	}
}

func TestHTTPRuntimeExecuteErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	rt := NewHTTPRuntime(srv.URL, time.Second, time.Second, nil)
	_, err := rt.Execute(context.Background(), ExecuteRequest{TaskID: "t1"})
	if !errors.IsAgentRPC(err) {
		t.Fatalf("err = %v, want AgentRPC", err)
	}
}

func TestHTTPRuntimeExecuteDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's background read can observe the
		// client disconnect and cancel the request context.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	rt := NewHTTPRuntime(srv.URL, 50*time.Millisecond, time.Second, nil)
	_, err := rt.Execute(context.Background(), ExecuteRequest{TaskID: "t1"})
	if !errors.IsAgentRPC(err) {
		t.Fatalf("deadline err = %v, want AgentRPC", err)
	}
}

func TestHTTPRuntimeValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/validate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(ValidationResult{Passed: false, Output: "assert failed"})
	}))
	defer srv.Close()

	rt := NewHTTPRuntime(srv.URL, time.Second, time.Second, nil)
	result, err := rt.RunValidation(context.Background(), "pytest", "python")
	if err != nil {
		t.Fatalf("RunValidation: %v", err)
	}
	if result.Passed || result.Output != "assert failed" {
		t.Errorf("result = %+v", result)
	}
}

func TestHTTPRuntimeValidationUnavailable(t *testing.T) {
	rt := NewHTTPRuntime("http://127.0.0.1:1", time.Second, 100*time.Millisecond, nil)
	_, err := rt.RunValidation(context.Background(), "pytest", "python")
	if errors.KindOf(err) != errors.KindValidationRPC {
		t.Fatalf("err kind = %v, want ValidationRPC", errors.KindOf(err))
	}
}

func TestHostedEstimateComplexity(t *testing.T) {
	tests := []struct {
		name string
		body string
		want float64
		ok   bool
	}{
		{"clean json", `{"complexity": 7.5}`, 7.5, true},
		{"trailing comma repaired", `{"complexity": 6,}`, 6, true},
		{"garbage", `sure! the complexity is about`, 0, false},
		{"zero rejected", `{"complexity": 0}`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewHostedClient(srv.URL, "key", time.Second, nil)
			got, err := c.EstimateComplexity(context.Background(), &domain.Task{ID: "t1"})
			if tt.ok {
				if err != nil {
					t.Fatalf("EstimateComplexity: %v", err)
				}
				if got != tt.want {
					t.Errorf("complexity = %v, want %v", got, tt.want)
				}
			} else if err == nil {
				t.Errorf("expected error, got %v", got)
			}
		})
	}
}

func TestHostedReview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("auth header = %q", got)
		}
		w.Write([]byte(`{"quality_score": 4, "has_syntax_errors": false,
			"findings": [{"severity": "critical", "description": "sql injection"}]}`))
	}))
	defer srv.Close()

	c := NewHostedClient(srv.URL, "key", time.Second, nil)
	review, err := c.Review(context.Background(), &domain.Task{ID: "t1"}, domain.TierHaiku)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if review.TaskID != "t1" || review.ReviewerTier != domain.TierHaiku {
		t.Errorf("review ids = %s/%s", review.TaskID, review.ReviewerTier)
	}
	if !review.Failed(6) {
		t.Error("score 4 with critical finding should fail")
	}
}
