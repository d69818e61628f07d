package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"tagged not found", E(KindNotFound, "task %s", "t1"), KindNotFound},
		{"tagged conflict", E(KindConflict, "task not pending"), KindConflict},
		{"wrapped keeps kind", fmt.Errorf("outer: %w", E(KindResourceBusy, "no slot")), KindResourceBusy},
		{"untagged", stderrors.New("boom"), KindInternal},
		{"wrap nil tag", Wrap(KindAgentRPC, stderrors.New("rpc down"), "execute"), KindAgentRPC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(KindInternal, nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := Wrap(KindAgentRPC, cause, "execute failed")
	if !stderrors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{E(KindNotFound, "x"), http.StatusNotFound},
		{E(KindConflict, "x"), http.StatusConflict},
		{E(KindValidation, "x"), http.StatusBadRequest},
		{E(KindResourceBusy, "x"), http.StatusServiceUnavailable},
		{E(KindInternal, "x"), http.StatusInternalServerError},
		{stderrors.New("untagged"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestPredicates(t *testing.T) {
	if !IsNotFound(E(KindNotFound, "x")) {
		t.Error("IsNotFound failed")
	}
	if IsNotFound(nil) {
		t.Error("IsNotFound(nil) should be false")
	}
	if !IsResourceBusy(E(KindResourceBusy, "x")) {
		t.Error("IsResourceBusy failed")
	}
	if IsConflict(E(KindValidation, "x")) {
		t.Error("IsConflict matched wrong kind")
	}
}
