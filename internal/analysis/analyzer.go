// Package analysis finds a reference face in a video.
//
// A run validates its inputs, embeds the reference face, samples the video at
// a fixed interval, scores every face in every frame against the reference and
// aggregates the matches into an immutable Result. Scratch files live in a
// per-run Workspace that is removed on every exit path.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/faces"
	"github.com/kozaktomas/face-finder/internal/video"
)

// MaxReferenceSize bounds the reference image read into memory.
const MaxReferenceSize = 32 << 20

// FaceDetector is the embedding surface a run needs.
type FaceDetector interface {
	DetectSingle(ctx context.Context, image []byte) (*faces.Detection, error)
	DetectAll(ctx context.Context, image []byte) ([]faces.Detection, error)
}

// FrameSampler extracts frames from a video into an empty directory.
type FrameSampler interface {
	Extract(ctx context.Context, videoPath, outputDir string, interval time.Duration) ([]video.Frame, error)
}

// Config tunes a run.
type Config struct {
	Interval  time.Duration
	Threshold float64
	Timeout   time.Duration
	Workers   int
	TempDir   string
}

// DefaultConfig returns the baseline settings.
func DefaultConfig() Config {
	return Config{
		Interval:  video.DefaultInterval,
		Threshold: facematch.DefaultMatchThreshold,
		Timeout:   5 * time.Minute,
		Workers:   1,
	}
}

// Analyzer runs analyses. It is safe for concurrent use; runs share the
// detector and sampler but nothing else.
type Analyzer struct {
	detector FaceDetector
	sampler  FrameSampler
	cfg      Config
	matcher  facematch.Matcher
	logger   *slog.Logger
}

// New creates an Analyzer. Zero config fields take their defaults.
func New(detector FaceDetector, sampler FrameSampler, cfg Config, logger *slog.Logger) *Analyzer {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		detector: detector,
		sampler:  sampler,
		cfg:      cfg,
		matcher:  facematch.NewMatcher(cfg.Threshold),
		logger:   logger,
	}
}

// Config returns the effective configuration.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// run carries the per-run state shared by the pipeline steps.
type run struct {
	id       string
	log      *slog.Logger
	listener Listener
	mu       sync.Mutex
}

func (r *run) emit(e Event) {
	if r.listener == nil {
		return
	}
	e.RunID = r.id
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener(e)
}

func (r *run) enter(s State) {
	r.log.Debug("state", "state", s)
	r.emit(Event{State: s})
}

// Run performs one analysis. Zero matches is a successful result; every
// error leaves no partial result behind.
func (a *Analyzer) Run(ctx context.Context, req Request) (_ *Result, err error) {
	started := time.Now()
	r := &run{id: uuid.NewString(), listener: req.Listener}
	r.log = a.logger.With("run_id", r.id)

	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	defer func() {
		if err == nil {
			return
		}
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		kind := Classify(err)
		r.log.Warn("analysis failed", "kind", kind, "err", err, "elapsed", time.Since(started))
		r.emit(Event{State: StateFailed, Error: err.Error(), Kind: kind})
	}()

	r.enter(StateValidatingInput)
	if missing := missingInputs(req); len(missing) > 0 {
		return nil, &InvalidInputError{Missing: missing}
	}

	ws, err := NewWorkspace(a.cfg.TempDir, r.id)
	if err != nil {
		return nil, err
	}
	defer func() {
		if relErr := ws.Release(); relErr != nil {
			r.log.Error("failed to release workspace", "dir", ws.Dir(), "err", relErr)
		}
	}()

	videoPath, err := stageVideo(ws, req.Video)
	if err != nil {
		return nil, err
	}
	refData, err := readReference(req.Reference)
	if err != nil {
		return nil, err
	}

	r.enter(StateExtractingReference)
	ref, err := a.detector.DetectSingle(ctx, refData)
	if err != nil {
		return nil, fmt.Errorf("reference image: %w", err)
	}
	if ref == nil {
		return nil, ErrNoReferenceFace
	}
	r.log.Debug("reference face extracted", "dim", len(ref.Embedding), "bbox", ref.Box)

	r.enter(StateSamplingFrames)
	frames, err := a.sampler.Extract(ctx, videoPath, ws.FramesDir(), a.cfg.Interval)
	if err != nil {
		return nil, fmt.Errorf("sampling frames: %w", err)
	}
	r.log.Info("frames sampled", "frames", len(frames), "interval", a.cfg.Interval)

	r.emit(Event{State: StateScoringFrames, FramesTotal: len(frames)})
	scores := a.scoreFrames(ctx, r, frames, ref.Embedding)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("analysis abandoned while scoring frames: %w", ctxErr)
	}

	r.enter(StateAggregating)
	matches, summary := Aggregate(frames, scores, a.matcher)
	summary.Message = SummaryMessage(req.Language, summary)

	result := &Result{
		RunID:              r.id,
		Matches:            matches,
		Summary:            summary,
		IntervalSeconds:    a.cfg.Interval.Seconds(),
		Threshold:          a.matcher.Threshold,
		VideoName:          inputName(req.Video),
		ReferenceName:      inputName(req.Reference),
		ReferenceBox:       ref.Box,
		ReferenceEmbedding: ref.Embedding,
		Elapsed:            time.Since(started),
	}

	r.log.Info("analysis complete",
		"frames", summary.TotalFrames,
		"faces", summary.TotalFacesFound,
		"matches", summary.TotalDetections,
		"failed_frames", summary.FailedFrames,
		"max_similarity", summary.MaxSimilarity,
		"elapsed", result.Elapsed)
	r.enter(StateDone)
	return result, nil
}

func missingInputs(req Request) []string {
	var missing []string
	if !req.Video.present() {
		missing = append(missing, "video")
	}
	if !req.Reference.present() {
		missing = append(missing, "reference")
	}
	return missing
}

func inputName(in *Input) string {
	if in == nil {
		return ""
	}
	if in.Name != "" {
		return in.Name
	}
	return filepath.Base(in.Path)
}

// stageVideo returns a readable path for the video, copying streamed input
// into the workspace.
func stageVideo(ws *Workspace, in *Input) (string, error) {
	if in.Reader == nil {
		info, err := os.Stat(in.Path)
		if err != nil {
			return "", &InvalidInputError{Missing: []string{"video"}, Reason: err.Error()}
		}
		if info.IsDir() || info.Size() == 0 {
			return "", &InvalidInputError{Missing: []string{"video"}, Reason: "video file is empty"}
		}
		return in.Path, nil
	}

	path, n, err := ws.Save("video", inputName(in), in.Reader)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", &InvalidInputError{Missing: []string{"video"}, Reason: "video file is empty"}
	}
	return path, nil
}

func readReference(in *Input) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if in.Reader != nil {
		data, err = io.ReadAll(io.LimitReader(in.Reader, MaxReferenceSize+1))
	} else {
		data, err = os.ReadFile(in.Path)
	}
	if err != nil {
		return nil, &InvalidInputError{Missing: []string{"reference"}, Reason: err.Error()}
	}
	if len(data) == 0 {
		return nil, &InvalidInputError{Missing: []string{"reference"}, Reason: "reference image is empty"}
	}
	if len(data) > MaxReferenceSize {
		return nil, &InvalidInputError{Reason: "reference image is too large"}
	}
	return data, nil
}
