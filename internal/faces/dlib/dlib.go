// Package dlib provides the in-process face backend built on dlib via go-face.
package dlib

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/kozaktomas/face-finder/internal/faces"
)

// Model files expected in the models directory.
const (
	ShapePredictorFile = "shape_predictor_5_face_landmarks.dat"
	RecognitionFile    = "dlib_face_recognition_resnet_model_v1.dat"
	CNNDetectorFile    = "mmod_human_face_detector.dat"
)

// RequiredFiles lists every model file go-face loads on start.
var RequiredFiles = []string{ShapePredictorFile, RecognitionFile, CNNDetectorFile}

// Loader loads the dlib models from a directory.
type Loader struct {
	Dir    string
	CNN    bool
	Logger *slog.Logger
}

// Name implements faces.Loader.
func (l *Loader) Name() string {
	return "dlib"
}

// CheckModelFiles returns an error naming the first model file that is missing.
func CheckModelFiles(dir string) error {
	for _, name := range RequiredFiles {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("model file %s: %w", name, err)
		}
		if info.IsDir() || info.Size() == 0 {
			return fmt.Errorf("model file %s is not a regular non-empty file", name)
		}
	}
	return nil
}

// Load implements faces.Loader.
func (l *Loader) Load(ctx context.Context) (faces.Detector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckModelFiles(l.Dir); err != nil {
		return nil, err
	}

	rec, err := face.NewRecognizer(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("initializing recognizer: %w", err)
	}

	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("dlib recognizer ready", "dir", l.Dir, "cnn", l.CNN)

	return &Detector{rec: rec, cnn: l.CNN}, nil
}

// Detector wraps a go-face recognizer. The underlying dlib objects are not
// safe for concurrent use, so calls are serialized.
type Detector struct {
	mu  sync.Mutex
	rec *face.Recognizer
	cnn bool
}

// Detect implements faces.Detector.
func (d *Detector) Detect(ctx context.Context, jpeg []byte) ([]faces.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.rec == nil {
		return nil, faces.ErrNotReady
	}

	var (
		found []face.Face
		err   error
	)
	if d.cnn {
		found, err = d.rec.RecognizeCNN(jpeg)
	} else {
		found, err = d.rec.Recognize(jpeg)
	}
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}

	return toDetections(found), nil
}

// Close frees the dlib models.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec != nil {
		d.rec.Close()
		d.rec = nil
	}
	return nil
}

func toDetections(found []face.Face) []faces.Detection {
	dets := make([]faces.Detection, 0, len(found))
	for _, f := range found {
		r := f.Rectangle
		emb := make(faces.Embedding, len(f.Descriptor))
		copy(emb, f.Descriptor[:])
		dets = append(dets, faces.Detection{
			Box: faces.BoundingBox{
				X:      float64(r.Min.X),
				Y:      float64(r.Min.Y),
				Width:  float64(r.Dx()),
				Height: float64(r.Dy()),
			},
			Embedding: emb,
		})
	}
	return dets
}
