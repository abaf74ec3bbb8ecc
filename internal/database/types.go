package database

import (
	"time"

	"github.com/kozaktomas/face-finder/internal/analysis"
	"github.com/kozaktomas/face-finder/internal/faces"
)

// StoredRun represents a finished analysis run stored in the database
type StoredRun struct {
	ID                 string        `json:"id"`
	VideoName          string        `json:"videoName"`
	ReferenceName      string        `json:"referenceName"`
	ReferenceEmbedding []float32     `json:"-"`
	ReferenceBox       []float64     `json:"referenceBox,omitempty"` // [x1, y1, x2, y2] in reference image pixels
	IntervalSeconds    float64       `json:"intervalSeconds"`
	Threshold          float64       `json:"threshold"`
	TotalFrames        int           `json:"totalFrames"`
	TotalDetections    int           `json:"totalDetections"`
	TotalFacesFound    int           `json:"totalFacesFound"`
	FailedFrames       int           `json:"failedFrames"`
	MaxSimilarity      float64       `json:"maxSimilarity"`
	Message            string        `json:"message"`
	Language           string        `json:"language"`
	ElapsedMS          int64         `json:"elapsedMs"`
	CreatedAt          time.Time     `json:"createdAt"`
	Matches            []StoredMatch `json:"detections,omitempty"` // only populated by Get
}

// StoredMatch is one matched face of a stored run
type StoredMatch struct {
	FrameIndex int       `json:"frameIndex"`
	Timestamp  float64   `json:"timestamp"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2] in frame pixels
}

// RunFromResult converts a finished analysis into its stored form.
func RunFromResult(res *analysis.Result, lang string) *StoredRun {
	run := &StoredRun{
		ID:                 res.RunID,
		VideoName:          res.VideoName,
		ReferenceName:      res.ReferenceName,
		ReferenceEmbedding: []float32(res.ReferenceEmbedding),
		IntervalSeconds:    res.IntervalSeconds,
		Threshold:          res.Threshold,
		TotalFrames:        res.Summary.TotalFrames,
		TotalDetections:    res.Summary.TotalDetections,
		TotalFacesFound:    res.Summary.TotalFacesFound,
		FailedFrames:       res.Summary.FailedFrames,
		MaxSimilarity:      res.Summary.MaxSimilarity,
		Message:            res.Summary.Message,
		Language:           lang,
		ElapsedMS:          res.Elapsed.Milliseconds(),
		Matches:            make([]StoredMatch, 0, len(res.Matches)),
	}
	if !res.ReferenceBox.Empty() {
		run.ReferenceBox = res.ReferenceBox.Corners()
	}
	for _, m := range res.Matches {
		run.Matches = append(run.Matches, StoredMatch{
			FrameIndex: m.FrameIndex,
			Timestamp:  m.Timestamp,
			Confidence: m.Confidence,
			BBox:       m.BBox.Corners(),
		})
	}
	return run
}

// MatchBox returns the bounding box of a stored match.
func (m StoredMatch) MatchBox() faces.BoundingBox {
	return faces.BoxFromCorners(m.BBox)
}
