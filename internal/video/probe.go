package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		Duration string `json:"duration"`
	} `json:"streams"`
}

// Duration asks ffprobe for the container duration.
// Falls back to the first video stream duration when the container has none.
func (s *Sampler) Duration(ctx context.Context, videoPath string) (time.Duration, error) {
	cmd := newSafeCommand(ctx, s.ffprobe(),
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "format=duration:stream=duration",
		"-of", "json",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		if tail := cmd.stderrTail(); tail != "" {
			return 0, fmt.Errorf("ffprobe: %w: %s", err, tail)
		}
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}

	candidates := []string{res.Format.Duration}
	for _, st := range res.Streams {
		candidates = append(candidates, st.Duration)
	}
	for _, c := range candidates {
		if secs, err := strconv.ParseFloat(c, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second)), nil
		}
	}
	return 0, errors.New("ffprobe reported no duration")
}
