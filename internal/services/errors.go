package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers used to classify stage and publish failures. The
// orchestrator and upload coordinator are the only consumers of the
// classification; stage handlers never act on it themselves.
var (
	ErrTransient     = errors.New("transient failure")
	ErrTimeout       = errors.New("timeout")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrAuthExpired   = errors.New("auth token expired")
	ErrFatalAuth     = errors.New("authorization required")
	ErrExternalTool  = errors.New("external service error")
	// ErrUploadIncomplete marks a publish run where one or more required
	// targets exhausted their attempt budget. The per-target retries have
	// already happened, so the orchestrator must not schedule another
	// stage attempt on its own.
	ErrUploadIncomplete = errors.New("upload incomplete")
)

// ErrorKind is the stable classification attached to failure records.
type ErrorKind string

const (
	ErrorKindTransient     ErrorKind = "transient"
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindValidation    ErrorKind = "validation"
	ErrorKindConfiguration ErrorKind = "configuration"
	ErrorKindNotFound      ErrorKind = "not_found"
	ErrorKindAuthExpired   ErrorKind = "auth_expired"
	ErrorKindFatalAuth     ErrorKind = "auth"
	ErrorKindExternal      ErrorKind = "external"
	ErrorKindUpload        ErrorKind = "upload_incomplete"
	ErrorKindUnknown       ErrorKind = "unknown"
)

// ErrorDetails carries the structured view of a classified failure.
type ErrorDetails struct {
	Kind      ErrorKind
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     error
}

type serviceError struct {
	marker    error
	stage     string
	operation string
	message   string
	hint      string
	cause     error
}

func (e *serviceError) Error() string {
	detail := buildDetail(e.stage, e.operation, e.message)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.marker.Error(), detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.marker.Error(), detail)
}

func (e *serviceError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.marker, e.cause}
	}
	return []error{e.marker}
}

// Wrap builds an error that includes stage context while tagging it with the
// provided marker for later classification. The marker should be one of the
// exported sentinel errors above; nil defaults to ErrTransient.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &serviceError{
		marker:    marker,
		stage:     stage,
		operation: operation,
		message:   message,
		cause:     err,
	}
}

// WrapHint is Wrap with an operator-facing hint attached.
func WrapHint(marker error, stage, operation, message, hint string, err error) error {
	wrapped := Wrap(marker, stage, operation, message, err)
	if se, ok := wrapped.(*serviceError); ok {
		se.hint = hint
	}
	return wrapped
}

// Kind classifies an arbitrary error against the sentinel markers.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindUnknown
	case errors.Is(err, ErrFatalAuth):
		return ErrorKindFatalAuth
	case errors.Is(err, ErrAuthExpired):
		return ErrorKindAuthExpired
	case errors.Is(err, ErrValidation):
		return ErrorKindValidation
	case errors.Is(err, ErrConfiguration):
		return ErrorKindConfiguration
	case errors.Is(err, ErrNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrTimeout):
		return ErrorKindTimeout
	case errors.Is(err, ErrUploadIncomplete):
		return ErrorKindUpload
	case errors.Is(err, ErrExternalTool):
		return ErrorKindExternal
	case errors.Is(err, ErrTransient):
		return ErrorKindTransient
	default:
		return ErrorKindUnknown
	}
}

// IsRetriable reports whether the orchestrator should schedule another
// attempt for the failure. Unknown errors are treated as transient so a
// misbehaving collaborator cannot park items permanently on the first wobble.
func IsRetriable(err error) bool {
	switch Kind(err) {
	case ErrorKindTransient, ErrorKindTimeout, ErrorKindExternal, ErrorKindUnknown:
		return true
	default:
		return false
	}
}

// Details extracts the structured failure view from an error chain.
func Details(err error) ErrorDetails {
	details := ErrorDetails{Kind: Kind(err)}
	if err == nil {
		return details
	}
	var se *serviceError
	if errors.As(err, &se) {
		details.Stage = se.stage
		details.Operation = se.operation
		details.Message = buildDetail(se.stage, se.operation, se.message)
		details.Hint = se.hint
		details.Cause = se.cause
		return details
	}
	details.Message = err.Error()
	return details
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
