// Package faces turns images into face detections with embeddings.
// A Registry owns the loaded model backend; an Embedder runs images through it.
package faces

import "context"

// Embedding is a fixed-length face descriptor produced by the recognition model.
// Its length is backend defined (128 for dlib).
type Embedding []float32

// Detection is a single face found in an image.
type Detection struct {
	Box       BoundingBox `json:"bbox"`
	Embedding Embedding   `json:"-"`
}

// Detector runs face detection and recognition on a JPEG encoded image.
// Boxes are reported in pixel coordinates of the image it was given.
// Implementations must be safe for concurrent use.
type Detector interface {
	Detect(ctx context.Context, jpeg []byte) ([]Detection, error)
}

// Loader loads a model backend and returns a ready Detector.
type Loader interface {
	Name() string
	Load(ctx context.Context) (Detector, error)
}
