package pipeline

import (
	"errors"
	"fmt"

	"github.com/dwellscope/listing-cli/internal/model"
)

// Kind classifies a stage failure. Transports map kinds onto their own
// status codes; the pipeline itself never speaks HTTP.
type Kind string

const (
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindPreconditionFailed Kind = "precondition_failed"
	KindValidationFailed   Kind = "validation_failed"
	KindUpstreamFailure    Kind = "upstream_failure"
	KindInternal           Kind = "internal"
)

// Error is the pipeline's single error shape. Reason is machine
// readable; Missing, Used and Limit are populated per kind.
type Error struct {
	Kind    Kind
	Reason  string
	Missing []string
	Action  model.Action
	Used    int
	Limit   int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from err, or KindInternal when err
// is not a pipeline error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

func errForbidden(reason string) *Error {
	return &Error{Kind: KindForbidden, Reason: reason}
}

func errNotFound(reason string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason}
}

func errConflict(reason string) *Error {
	return &Error{Kind: KindConflict, Reason: reason}
}

func errQuotaExceeded(action model.Action, used, limit int) *Error {
	return &Error{
		Kind:   KindQuotaExceeded,
		Reason: "quota_exceeded",
		Action: action,
		Used:   used,
		Limit:  limit,
	}
}

func errPrecondition(reason string, missing []string) *Error {
	return &Error{Kind: KindPreconditionFailed, Reason: reason, Missing: missing}
}

func errValidation(reason string, missing []string) *Error {
	return &Error{Kind: KindValidationFailed, Reason: reason, Missing: missing}
}

func errUpstream(reason string, err error) *Error {
	return &Error{Kind: KindUpstreamFailure, Reason: reason, Err: err}
}
