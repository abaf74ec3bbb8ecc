// Package video extracts still frames from video files with ffmpeg.
package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultInterval is the spacing between sampled frames.
const DefaultInterval = 3 * time.Second

const (
	framePrefix  = "frame_"
	frameExt     = ".jpg"
	framePattern = framePrefix + "%06d" + frameExt
)

// ErrOutputDirNotEmpty is returned when the frame directory already holds files.
var ErrOutputDirNotEmpty = errors.New("output directory is not empty")

// Frame is one sampled still image.
type Frame struct {
	Index     int
	Timestamp time.Duration
	Path      string
}

// Sampler runs ffmpeg to sample frames at a fixed interval.
type Sampler struct {
	FFmpegPath  string
	FFprobePath string
	Logger      *slog.Logger
}

// NewSampler creates a sampler. Empty paths resolve ffmpeg and ffprobe from PATH.
func NewSampler(ffmpegPath, ffprobePath string, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, Logger: logger}
}

func (s *Sampler) ffmpeg() string {
	if s.FFmpegPath == "" {
		return "ffmpeg"
	}
	return s.FFmpegPath
}

func (s *Sampler) ffprobe() string {
	if s.FFprobePath == "" {
		return "ffprobe"
	}
	return s.FFprobePath
}

func (s *Sampler) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Extract writes one JPEG every interval, starting at t=0, into outputDir and
// returns them in timestamp order. outputDir must exist and be empty; the
// caller owns its cleanup. A partial trailing interval is not sampled. The
// duration comes from ffprobe, or from ffmpeg's input header when ffprobe
// fails; with neither, every frame ffmpeg wrote is kept.
func (s *Sampler) Extract(ctx context.Context, videoPath, outputDir string, interval time.Duration) ([]Frame, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("invalid sampling interval %s", interval)
	}
	if err := checkEmptyDir(outputDir); err != nil {
		return nil, err
	}

	cmd := newSafeCommand(ctx, s.ffmpeg(),
		"-hide_banner",
		"-loglevel", "info",
		"-nostats",
		"-nostdin",
		"-i", videoPath,
		"-vf", "fps=1/"+formatSeconds(interval),
		"-q:v", "2",
		"-y",
		filepath.Join(outputDir, framePattern),
	)

	started := time.Now()
	if err := cmd.run(ctx); err != nil {
		return nil, err
	}

	paths, err := listFrames(outputDir)
	if err != nil {
		return nil, err
	}

	if limit := s.frameLimit(ctx, videoPath, interval, cmd.stderr.String()); limit > 0 && len(paths) > limit {
		for _, p := range paths[limit:] {
			_ = os.Remove(p)
		}
		paths = paths[:limit]
	}

	frames := make([]Frame, len(paths))
	for i, p := range paths {
		frames[i] = Frame{
			Index:     i,
			Timestamp: time.Duration(i) * interval,
			Path:      p,
		}
	}

	s.logger().Debug("frames extracted",
		"video", filepath.Base(videoPath),
		"frames", len(frames),
		"interval", interval,
		"elapsed", time.Since(started))
	return frames, nil
}

// frameLimit returns how many whole intervals fit in the video, at least one.
// Zero means unknown and disables trimming.
func (s *Sampler) frameLimit(ctx context.Context, videoPath string, interval time.Duration, ffmpegLog string) int {
	d, err := s.Duration(ctx, videoPath)
	if err != nil {
		var ok bool
		if d, ok = parseFFmpegDuration(ffmpegLog); !ok {
			s.logger().Warn("could not determine video duration, keeping all frames", "err", err)
			return 0
		}
		s.logger().Debug("ffprobe failed, using duration reported by ffmpeg", "err", err, "duration", d)
	}
	return max(1, int(d/interval))
}

var durationLine = regexp.MustCompile(`Duration: (\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// parseFFmpegDuration reads the input duration from ffmpeg's log, e.g.
// "Duration: 00:01:02.50, start: 0.000000". "Duration: N/A" does not parse.
func parseFFmpegDuration(output string) (time.Duration, bool) {
	m := durationLine.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	d := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	if d <= 0 {
		return 0, false
	}
	return d, true
}

func checkEmptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading output directory: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: %s", ErrOutputDirNotEmpty, dir)
	}
	return nil
}

// listFrames returns the frame files in outputDir sorted by name. Zero padded
// names make lexicographic order equal to timestamp order.
func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading frames: %w", err)
	}

	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, framePrefix) || !strings.HasSuffix(name, frameExt) {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
