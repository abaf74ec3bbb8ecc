package faces

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned when inference is requested before the models are loaded.
var ErrNotReady = errors.New("face models are not loaded")

// ModelLoadError reports that a backend failed to load its models.
type ModelLoadError struct {
	Backend string
	Err     error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("loading %s face models: %v", e.Backend, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// InferenceError reports a decode or model fault while processing one image.
type InferenceError struct {
	Op  string
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("face inference (%s): %v", e.Op, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
