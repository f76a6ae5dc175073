// Package pipelineerr defines the ingestion pipeline's error taxonomy as a
// small set of sentinel kinds, checkable with errors.Is, instead of string
// matching or typed-exception hierarchies.
package pipelineerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories from the pipeline's error
// handling design. Kinds drive the Stage Driver's fatal/non-fatal policy.
type Kind string

const (
	// KindInputInvalid marks an unreadable video, zero-byte upload, or
	// unsupported container. Fatal on extracting_frames.
	KindInputInvalid Kind = "input_invalid"

	// KindExtractionFailed marks both extraction paths producing zero
	// frames. Fatal.
	KindExtractionFailed Kind = "extraction_failed"

	// KindCapabilityUnavailable marks a non-mandatory model absent at
	// construction time. Non-fatal; the source is skipped.
	KindCapabilityUnavailable Kind = "capability_unavailable"

	// KindCapabilityRuntimeError marks a model raising mid-job on some
	// frames. Non-fatal per-frame; fatal only if it happens on every
	// frame for a mandatory source.
	KindCapabilityRuntimeError Kind = "capability_runtime_error"

	// KindTranscriptError marks a transcription failure. Recorded into
	// report.transcript.error; the job continues.
	KindTranscriptError Kind = "transcript_error"

	// KindStageTimeout marks a stage exceeding its soft time budget.
	// Fatal.
	KindStageTimeout Kind = "stage_timeout"

	// KindCancelled marks a caller-requested cancellation. Fatal, with
	// reason "cancelled".
	KindCancelled Kind = "cancelled"

	// KindPersistenceError marks a durable write failing. Fatal; the job
	// transitions to failed with a preserved error message.
	KindPersistenceError Kind = "persistence_error"
)

// pipelineError wraps a cause with a Kind so callers can recover the kind
// via errors.As without parsing the message.
type pipelineError struct {
	kind  Kind
	cause error
}

func (e *pipelineError) Error() string {
	if e.cause == nil {
		return string(e.kind)
	}
	return fmt.Sprintf("%s: %v", e.kind, e.cause)
}

func (e *pipelineError) Unwrap() error { return e.cause }

// Wrap produces an error tagged with kind, wrapping cause. cause may be nil.
func Wrap(kind Kind, cause error) error {
	return &pipelineError{kind: kind, cause: cause}
}

// Wrapf is Wrap with a formatted cause message.
func Wrapf(kind Kind, format string, args ...interface{}) error {
	return Wrap(kind, fmt.Errorf(format, args...))
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var pe *pipelineError
	if errors.As(err, &pe) {
		return pe.kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning ok=false if err was not
// produced by Wrap/Wrapf.
func KindOf(err error) (Kind, bool) {
	var pe *pipelineError
	if errors.As(err, &pe) {
		return pe.kind, true
	}
	return "", false
}

// Fatal reports whether a Kind always terminates the job when it reaches
// the Stage Driver. CapabilityUnavailable, CapabilityRuntimeError (per-frame)
// and TranscriptError are handled as non-fatal at their call sites instead;
// this function documents the policy for the remaining kinds.
func Fatal(kind Kind) bool {
	switch kind {
	case KindInputInvalid, KindExtractionFailed, KindStageTimeout,
		KindCancelled, KindPersistenceError:
		return true
	default:
		return false
	}
}

// ErrJobNotFound is returned by the state store when a video_id has no row.
var ErrJobNotFound = errors.New("job not found")

// ErrInvalidTransition is returned when a status transition would violate
// the queued -> processing -> {completed, failed} DAG.
var ErrInvalidTransition = errors.New("invalid job status transition")

// ErrNotTerminal is returned by Delete when the job is not terminal and is
// not a processing job past the stale timeout.
var ErrNotTerminal = errors.New("job is not in a terminal state")

// ErrNotReady is returned by GetReport when the job has not completed.
var ErrNotReady = errors.New("report not ready")
