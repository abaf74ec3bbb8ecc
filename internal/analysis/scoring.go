package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/faces"
	"github.com/kozaktomas/face-finder/internal/video"
)

// errDimensionMismatch marks a frame whose embeddings cannot be compared with the reference.
var errDimensionMismatch = errors.New("embedding dimension differs from reference")

// ScoredFace is one detected face with its similarity to the reference.
type ScoredFace struct {
	Box        faces.BoundingBox
	Similarity float64
}

// FrameScore holds the scored faces of one frame. Failed frames carry no faces.
type FrameScore struct {
	Faces  []ScoredFace
	Failed bool
}

// scoreFrames scores every frame and returns the results indexed like frames.
// With more than one worker frames are scored concurrently.
func (a *Analyzer) scoreFrames(ctx context.Context, r *run, frames []video.Frame, ref faces.Embedding) []FrameScore {
	scores := make([]FrameScore, len(frames))
	total := len(frames)

	var (
		mu   sync.Mutex
		done int
	)
	progress := func() {
		mu.Lock()
		done++
		n := done
		mu.Unlock()
		r.emit(Event{State: StateScoringFrames, FramesDone: n, FramesTotal: total})
	}

	if a.cfg.Workers <= 1 {
		for i, f := range frames {
			if ctx.Err() != nil {
				break
			}
			scores[i] = a.scoreFrame(ctx, r, f, ref)
			progress()
		}
		return scores
	}

	sem := make(chan struct{}, a.cfg.Workers)
	var wg sync.WaitGroup
	for i, f := range frames {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(i int, f video.Frame) {
			defer wg.Done()
			defer func() { <-sem }()
			scores[i] = a.scoreFrame(ctx, r, f, ref)
			progress()
		}(i, f)
	}
	wg.Wait()
	return scores
}

// scoreFrame runs detection on one frame. Any failure degrades the frame to
// zero detections and is only logged.
func (a *Analyzer) scoreFrame(ctx context.Context, r *run, f video.Frame, ref faces.Embedding) FrameScore {
	log := r.log.With("frame", f.Index, "timestamp", f.Timestamp.Seconds())

	data, err := os.ReadFile(f.Path)
	if err != nil {
		log.Warn("failed to read frame, skipping", "err", err)
		return FrameScore{Failed: true}
	}

	dets, err := a.detector.DetectAll(ctx, data)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("face detection failed, skipping frame", "err", err)
		}
		return FrameScore{Failed: true}
	}

	scored := make([]ScoredFace, 0, len(dets))
	for _, d := range dets {
		if len(d.Embedding) != len(ref) {
			log.Warn("skipping frame",
				"err", fmt.Errorf("%w: %d != %d", errDimensionMismatch, len(d.Embedding), len(ref)))
			return FrameScore{Failed: true}
		}
		s := facematch.Similarity(ref, d.Embedding)
		log.Debug("face scored", "similarity", s)
		scored = append(scored, ScoredFace{Box: d.Box, Similarity: s})
	}

	log.Debug("frame scored", "faces", len(scored))
	return FrameScore{Faces: scored}
}

// Aggregate builds the matches and summary counters from per-frame scores.
// Only max and sum reductions are used, so the result does not depend on the
// order in which frames finished. The summary message is left empty.
func Aggregate(frames []video.Frame, scores []FrameScore, m facematch.Matcher) ([]Match, Summary) {
	matches := []Match{}
	summary := Summary{TotalFrames: len(frames)}
	seenFace := false

	for i, f := range frames {
		if i >= len(scores) {
			break
		}
		fs := scores[i]
		if fs.Failed {
			summary.FailedFrames++
			continue
		}
		for _, face := range fs.Faces {
			summary.TotalFacesFound++
			if !seenFace || face.Similarity > summary.MaxSimilarity {
				summary.MaxSimilarity = face.Similarity
				seenFace = true
			}
			if m.IsMatch(face.Similarity) {
				matches = append(matches, Match{
					Timestamp:  f.Timestamp.Seconds(),
					FrameIndex: f.Index,
					Confidence: face.Similarity,
					BBox:       face.Box,
				})
			}
		}
	}

	summary.TotalDetections = len(matches)
	return matches, summary
}
