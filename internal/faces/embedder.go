package faces

import (
	"context"
	"errors"
)

// Embedder detects faces and computes their embeddings using the registry backend.
type Embedder struct {
	registry     *Registry
	maxImageSize int
}

// NewEmbedder creates an embedder. maxImageSize <= 0 uses DefaultMaxImageSize.
func NewEmbedder(registry *Registry, maxImageSize int) *Embedder {
	if maxImageSize <= 0 {
		maxImageSize = DefaultMaxImageSize
	}
	return &Embedder{registry: registry, maxImageSize: maxImageSize}
}

// DetectAll returns every face in the image. An image without faces yields
// an empty slice and no error.
func (e *Embedder) DetectAll(ctx context.Context, data []byte) ([]Detection, error) {
	detector, err := e.registry.Detector()
	if err != nil {
		return nil, err
	}

	img, err := NormalizeImage(data, e.maxImageSize)
	if err != nil {
		return nil, &InferenceError{Op: "decode", Err: err}
	}

	raw, err := detector.Detect(ctx, img.Data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, &InferenceError{Op: "detect", Err: err}
	}

	w, h := float64(img.SourceWidth), float64(img.SourceHeight)
	out := make([]Detection, 0, len(raw))
	for _, d := range raw {
		if len(d.Embedding) == 0 {
			continue
		}
		box := d.Box.Scale(img.Scale).Clip(w, h)
		if box.Empty() {
			continue
		}
		out = append(out, Detection{Box: box, Embedding: d.Embedding})
	}
	return out, nil
}

// DetectSingle returns the largest face in the image, or nil when there is none.
func (e *Embedder) DetectSingle(ctx context.Context, data []byte) (*Detection, error) {
	dets, err := e.DetectAll(ctx, data)
	if err != nil {
		return nil, err
	}
	i := Largest(dets)
	if i < 0 {
		return nil, nil
	}
	return &dets[i], nil
}
