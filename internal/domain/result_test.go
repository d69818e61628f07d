package domain

import (
	"testing"
)

func TestResultReportsFailure(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantFailed bool
	}{
		{
			name:       "explicit success",
			raw:        `{"success": true, "output": "done"}`,
			wantFailed: false,
		},
		{
			name:       "explicit failure",
			raw:        `{"success": false, "error": "tests broke"}`,
			wantFailed: true,
		},
		{
			name:       "success flag but failing tests",
			raw:        `{"success": true, "test_results": "=== FAILURE ===\n2 tests FAILED"}`,
			wantFailed: true,
		},
		{
			name:       "success flag with error banner",
			raw:        `{"success": true, "test_results": "FAILURE summary\nERRORS: 3"}`,
			wantFailed: true,
		},
		{
			name:       "failed before failure banner does not trip",
			raw:        `{"success": true, "test_results": "previously FAILED, now fine"}`,
			wantFailed: false,
		},
		{
			name:       "non-json output",
			raw:        `plain text, no structure at all ---`,
			wantFailed: false,
		},
		{
			name:       "empty",
			raw:        "",
			wantFailed: false,
		},
		{
			name: "trailing comma repaired",
			// jsonrepair fixes the trailing comma before decoding
			raw:        `{"success": false, "error": "boom",}`,
			wantFailed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failed, reason := TaskResult(tt.raw).ReportsFailure()
			if failed != tt.wantFailed {
				t.Errorf("ReportsFailure() = %v (%q), want %v", failed, reason, tt.wantFailed)
			}
			if failed && reason == "" {
				t.Error("failure detected but no reason given")
			}
		})
	}
}

func TestResultAccessors(t *testing.T) {
	r := TaskResult(`{"success": true, "output": "hello"}`)
	if r.Output() != "hello" {
		t.Errorf("Output() = %q", r.Output())
	}
	if s := r.Success(); s == nil || !*s {
		t.Errorf("Success() = %v, want true", s)
	}

	missing := TaskResult(`{"output": "x"}`)
	if missing.Success() != nil {
		t.Error("Success() should be nil when field absent")
	}
}
