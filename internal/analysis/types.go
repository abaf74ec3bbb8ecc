package analysis

import (
	"io"
	"time"

	"github.com/kozaktomas/face-finder/internal/faces"
	"golang.org/x/text/language"
)

// Input is a file handed to a run, either already on disk (Path) or streamed (Reader).
type Input struct {
	Name   string
	Path   string
	Reader io.Reader
}

func (in *Input) present() bool {
	return in != nil && (in.Path != "" || in.Reader != nil)
}

// Request describes one analysis run.
type Request struct {
	Video     *Input
	Reference *Input

	// Language selects the summary message language; zero means English.
	Language language.Tag

	// Listener, when set, receives state and progress events.
	Listener Listener
}

// State is a step of the run state machine.
type State string

// Run states, in order. StateFailed is reachable from every step.
const (
	StateIdle                State = "idle"
	StateValidatingInput     State = "validating_input"
	StateExtractingReference State = "extracting_reference"
	StateSamplingFrames      State = "sampling_frames"
	StateScoringFrames       State = "scoring_frames"
	StateAggregating         State = "aggregating"
	StateDone                State = "done"
	StateFailed              State = "failed"
)

// Event reports a state change or scoring progress.
type Event struct {
	RunID       string `json:"runId"`
	State       State  `json:"state"`
	FramesDone  int    `json:"framesDone,omitempty"`
	FramesTotal int    `json:"framesTotal,omitempty"`
	Error       string `json:"error,omitempty"`
	Kind        Kind   `json:"kind,omitempty"`
}

// Listener receives run events. Calls are serialized.
type Listener func(Event)

// Match is a reference face found in a sampled frame.
type Match struct {
	Timestamp  float64           `json:"timestamp"` // seconds from the start of the video
	FrameIndex int               `json:"frameIndex"`
	Confidence float64           `json:"confidence"`
	BBox       faces.BoundingBox `json:"bbox"`
}

// Summary aggregates a whole run.
type Summary struct {
	TotalFrames     int     `json:"totalFrames"`
	TotalDetections int     `json:"totalDetections"`
	TotalFacesFound int     `json:"totalFacesFound"`
	FailedFrames    int     `json:"failedFrames"`
	MaxSimilarity   float64 `json:"maxSimilarity"`
	Message         string  `json:"message"`
}

// Result is the outcome of a successful run. Matches are in timestamp order.
type Result struct {
	RunID           string  `json:"runId"`
	Matches         []Match `json:"detections"`
	Summary         Summary `json:"summary"`
	IntervalSeconds float64 `json:"intervalSeconds"`
	Threshold       float64 `json:"threshold"`

	VideoName          string            `json:"-"`
	ReferenceName      string            `json:"-"`
	ReferenceBox       faces.BoundingBox `json:"-"`
	ReferenceEmbedding faces.Embedding   `json:"-"`
	Elapsed            time.Duration     `json:"-"`
}
