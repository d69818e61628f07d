// Package errors carries the tagged error taxonomy of the engine. Callers
// branch on Kind, never on error strings.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation policy decisions.
type Kind int

const (
	// KindInternal - unexpected failure, surfaces as 500.
	KindInternal Kind = iota
	// KindNotFound - entity absent in persistence.
	KindNotFound
	// KindConflict - invalid state transition.
	KindConflict
	// KindValidation - request parsing or field validation failure.
	KindValidation
	// KindResourceBusy - pool or lock contention, surfaced to the assigner as "skip".
	KindResourceBusy
	// KindAgentRPC - agent runtime failed or timed out.
	KindAgentRPC
	// KindValidationRPC - validator unavailable.
	KindValidationRPC
	// KindBusPublish - pub/sub unavailable; logged, never propagated.
	KindBusPublish
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindResourceBusy:
		return "resource_busy"
	case KindAgentRPC:
		return "agent_rpc"
	case KindValidationRPC:
		return "validation_rpc"
	case KindBusPublish:
		return "bus_publish"
	default:
		return "internal"
	}
}

// Error is a kind-tagged error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return fmt.Sprintf("%s: %v", e.Msg, e.Err)
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a tagged error.
func E(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a kind and context message.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind of an error, defaulting to KindInternal.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is tagged KindNotFound.
func IsNotFound(err error) bool { return err != nil && KindOf(err) == KindNotFound }

// IsConflict reports whether err is tagged KindConflict.
func IsConflict(err error) bool { return err != nil && KindOf(err) == KindConflict }

// IsValidation reports whether err is tagged KindValidation.
func IsValidation(err error) bool { return err != nil && KindOf(err) == KindValidation }

// IsResourceBusy reports whether err is tagged KindResourceBusy.
func IsResourceBusy(err error) bool { return err != nil && KindOf(err) == KindResourceBusy }

// IsAgentRPC reports whether err is tagged KindAgentRPC.
func IsAgentRPC(err error) bool { return err != nil && KindOf(err) == KindAgentRPC }

// HTTPStatus maps an error kind to the REST status code used at the boundary.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindResourceBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
