package domain

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// TaskResult is the opaque structured output an agent returns. The engine
// reads only a handful of well-known fields through accessors; everything
// else passes through untouched.
type TaskResult json.RawMessage

// MarshalJSON keeps the raw payload intact.
func (r TaskResult) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON stores the raw payload.
func (r *TaskResult) UnmarshalJSON(data []byte) error {
	*r = append((*r)[0:0], data...)
	return nil
}

// resultFields are the well-known fields the engine inspects.
type resultFields struct {
	Success     *bool  `json:"success"`
	Output      string `json:"output"`
	TestResults string `json:"test_results"`
	Error       string `json:"error"`
}

// fields decodes the known subset. Agent output is LLM-produced and often
// slightly malformed; run it through jsonrepair before giving up.
func (r TaskResult) fields() (resultFields, bool) {
	var f resultFields
	if len(r) == 0 {
		return f, false
	}
	if err := json.Unmarshal(r, &f); err == nil {
		return f, true
	}
	repaired, err := jsonrepair.JSONRepair(string(r))
	if err != nil {
		return f, false
	}
	if err := json.Unmarshal([]byte(repaired), &f); err != nil {
		return f, false
	}
	return f, true
}

// Output returns the agent-reported output text, if any.
func (r TaskResult) Output() string {
	f, ok := r.fields()
	if !ok {
		return ""
	}
	return f.Output
}

// Success returns the agent-reported success flag; nil when absent or
// unparseable.
func (r TaskResult) Success() *bool {
	f, ok := r.fields()
	if !ok {
		return nil
	}
	return f.Success
}

// ReportsFailure is the completion safety net: an agent may report success
// while its own test run actually failed. It returns true, with a reason,
// when the structured result says success=false or the embedded test
// output shows a failure banner.
func (r TaskResult) ReportsFailure() (bool, string) {
	f, ok := r.fields()
	if !ok {
		return false, ""
	}
	if f.Success != nil && !*f.Success {
		reason := f.Error
		if reason == "" {
			reason = "agent reported success=false"
		}
		return true, reason
	}
	if testOutputFailed(f.TestResults) {
		return true, "test results contain failures: " + firstLine(f.TestResults)
	}
	return false, ""
}

// testOutputFailed detects the "FAILURE" banner followed by "FAILED" or
// "ERRORS" that common test runners emit.
func testOutputFailed(testResults string) bool {
	idx := strings.Index(testResults, "FAILURE")
	if idx < 0 {
		return false
	}
	rest := testResults[idx:]
	return strings.Contains(rest, "FAILED") || strings.Contains(rest, "ERRORS")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
