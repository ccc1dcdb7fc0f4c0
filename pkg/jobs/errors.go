package jobs

import (
	"errors"
	"fmt"
)

// Kind classifies why a job failed.
type Kind string

const (
	KindInvalidInput  Kind = "InvalidInput"
	KindGeneration    Kind = "GenerationError"
	KindUpload        Kind = "UploadError"
	KindConfiguration Kind = "ConfigurationError"
)

// Error is the failure of a single job.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RefreshWorker reports whether the worker should be replaced after this
// failure. Generation failures usually mean the GPU is in a bad state.
func (e *Error) RefreshWorker() bool {
	return e.Kind == KindGeneration
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var je *Error
	if errors.As(err, &je) {
		return je.Kind
	}
	return ""
}

func fail(kind Kind, stage Stage, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}
