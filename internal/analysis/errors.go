package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/face-finder/internal/faces"
	"github.com/kozaktomas/face-finder/internal/video"
)

// ErrNoReferenceFace is returned when the reference image contains no face.
var ErrNoReferenceFace = errors.New("no face found in the reference image")

// InvalidInputError reports missing or empty inputs.
type InvalidInputError struct {
	Missing []string
	Reason  string
}

func (e *InvalidInputError) Error() string {
	switch {
	case e.Reason != "" && len(e.Missing) > 0:
		return fmt.Sprintf("invalid input (%s): %s", strings.Join(e.Missing, ", "), e.Reason)
	case e.Reason != "":
		return "invalid input: " + e.Reason
	case len(e.Missing) > 0:
		return "video and reference image are required (missing: " + strings.Join(e.Missing, ", ") + ")"
	default:
		return "invalid input"
	}
}

// Kind classifies run failures for callers.
type Kind string

// Kind values.
const (
	KindInvalidInput    Kind = "invalid_input"
	KindNoReferenceFace Kind = "no_reference_face"
	KindExtraction      Kind = "extraction_failed"
	KindInference       Kind = "inference_failed"
	KindNotReady        Kind = "models_not_ready"
	KindTimeout         Kind = "timeout"
	KindCanceled        Kind = "canceled"
	KindInternal        Kind = "internal"
)

// Classify maps an error returned by Run to its Kind.
func Classify(err error) Kind {
	var (
		invalid   *InvalidInputError
		extract   *video.ExtractionError
		inference *faces.InferenceError
		load      *faces.ModelLoadError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &invalid):
		return KindInvalidInput
	case errors.Is(err, ErrNoReferenceFace):
		return KindNoReferenceFace
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &extract):
		return KindExtraction
	case errors.Is(err, faces.ErrNotReady), errors.As(err, &load):
		return KindNotReady
	case errors.As(err, &inference):
		return KindInference
	default:
		return KindInternal
	}
}

// UserCorrectable reports whether the caller can fix the failure by changing
// the inputs, as opposed to an environment problem.
func (k Kind) UserCorrectable() bool {
	return k == KindInvalidInput || k == KindNoReferenceFace
}
