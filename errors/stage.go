package errors

import (
	"errors"
	"fmt"
)

// StageError is the error a pipeline run reports when a stage fails for any
// reason other than an unimplemented operation.
type StageError struct {
	Stage string
	Kind  Kind
	Cause error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: stage %s failed", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s: stage %s failed: %v", e.Kind, e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Classify wraps err for the given stage. Unimplemented-operation errors are
// returned unchanged so callers see the original condition.
func Classify(stage string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotImplemented(err) {
		return err
	}
	var se *StageError
	if errors.As(err, &se) && se.Stage == stage {
		return err
	}
	return &StageError{Stage: stage, Kind: KindOf(err), Cause: err}
}

// StageOf returns the stage recorded in err's chain, or "" when there is none.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
