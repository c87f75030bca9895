// Package errors defines the error taxonomy of the feedback pipeline.
//
// Four kinds exist. Unimplemented-operation errors are fatal and returned to the
// caller untouched. Collaborator failures (transcription, model unavailable,
// throttling) and configuration errors halt the run and are wrapped in a
// StageError carrying the stage name. Malformed model output is never an error
// here: the response package absorbs it with a fallback.
//
// Usage:
//
//	import pferrors "github.com/ryuki-imachi/prezentation-feedback-agent/errors"
//
//	if pferrors.IsNotImplemented(err) {
//	    // surface verbatim
//	}
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline error.
type Kind string

const (
	KindUnimplemented   Kind = "unimplemented"
	KindCollaborator    Kind = "collaborator"
	KindConfiguration   Kind = "configuration"
	KindMalformedOutput Kind = "malformed_output"
	KindCancelled       Kind = "cancelled"
)

// Sentinel errors shared by every package.
var (
	// ErrNotImplemented marks a capability that is not available yet.
	ErrNotImplemented = errors.New("not implemented")

	// ErrTranscription indicates the transcription backend failed or returned an invalid record.
	ErrTranscription = errors.New("transcription failed")

	// ErrModelUnavailable indicates the requested model variant cannot serve the request.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrThrottled indicates the model service rejected the call because of quota limits.
	ErrThrottled = errors.New("model throttled")

	// ErrUnknownTier indicates a tier name with no configured pricing.
	ErrUnknownTier = errors.New("unknown tier")

	// ErrMissingIdentifier indicates a required model or service identifier is empty.
	ErrMissingIdentifier = errors.New("missing identifier")

	// ErrInvalidInput indicates a caller handed in a value outside its contract.
	ErrInvalidInput = errors.New("invalid input")
)

// NotImplemented returns an error wrapping ErrNotImplemented for the named operation.
func NotImplemented(op string) error {
	return fmt.Errorf("%s: %w", op, ErrNotImplemented)
}

// IsNotImplemented reports whether any error in err's chain is ErrNotImplemented.
func IsNotImplemented(err error) bool {
	return errors.Is(err, ErrNotImplemented)
}

// IsRetryable reports whether err is a model-side condition worth retrying with
// another model candidate.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrModelUnavailable) || errors.Is(err, ErrThrottled)
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrUnknownTier) || errors.Is(err, ErrMissingIdentifier)
}

// KindOf returns the Kind for err. Unknown errors are treated as collaborator failures.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case err == nil:
		return ""
	case IsNotImplemented(err):
		return KindUnimplemented
	case IsConfiguration(err), errors.Is(err, ErrInvalidInput):
		return KindConfiguration
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindCollaborator
	}
}
