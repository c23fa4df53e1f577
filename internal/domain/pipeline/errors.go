package pipeline

import (
	"errors"
	"fmt"
)

// ErrJobNotFound indicates a lookup for a job identifier that does not exist.
var ErrJobNotFound = errors.New("job not found")

// ErrReportNotFound indicates a job has no report artifact yet.
var ErrReportNotFound = errors.New("report not found")

// ErrActiveJobExists indicates an attempt to create a second non-terminal job
// for a study. This is a benign race (e.g. a duplicate ready signal), not
// corruption: the orchestrator logs it and drops the request.
var ErrActiveJobExists = errors.New("study already has an active job")

// ErrorKind classifies a stage failure for the retry decision. Only the
// orchestrator decides retry-vs-terminal; stage implementations report the
// kind and the orchestrator applies the policy.
type ErrorKind string

const (
	// ErrKindEngineUnavailable means the analysis engine could not be reached.
	ErrKindEngineUnavailable ErrorKind = "ENGINE_UNAVAILABLE"

	// ErrKindEngineTimeout means scoring exceeded the caller-supplied timeout.
	ErrKindEngineTimeout ErrorKind = "ENGINE_TIMEOUT"

	// ErrKindEngineRejected means the engine deemed the input malformed.
	// Deterministic input problems do not resolve on retry.
	ErrKindEngineRejected ErrorKind = "ENGINE_REJECTED"

	// ErrKindTemplate means report building failed. Never retried.
	ErrKindTemplate ErrorKind = "TEMPLATE_ERROR"

	// ErrKindTransport means delivery failed at the protocol or network level.
	ErrKindTransport ErrorKind = "TRANSPORT_ERROR"

	// ErrKindArchiveRejected means the archive permanently refused the
	// artifact.
	ErrKindArchiveRejected ErrorKind = "ARCHIVE_REJECTED"
)

// Retryable reports whether failures of this kind are transient.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindEngineUnavailable, ErrKindEngineTimeout, ErrKindTransport:
		return true
	default:
		return false
	}
}

// StageError wraps a stage failure with its classification so the
// orchestrator can apply the retry policy without inspecting causes.
type StageError struct {
	Kind  ErrorKind
	cause error
}

// NewStageError creates a classified stage error.
func NewStageError(kind ErrorKind, cause error) *StageError {
	return &StageError{Kind: kind, cause: cause}
}

func (e *StageError) Error() string {
	if e.cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *StageError) Unwrap() error { return e.cause }

// Retryable reports whether the orchestrator may retry the failed stage.
func (e *StageError) Retryable() bool { return e.Kind.Retryable() }

// AsStageError extracts a StageError from an error chain. Unclassified errors
// are treated as transient transport-level failures so a conservative retry
// is applied rather than an immediate terminal failure.
func AsStageError(err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return NewStageError(ErrKindTransport, err)
}
