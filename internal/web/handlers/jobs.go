package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/face-finder/internal/analysis"
	"github.com/kozaktomas/face-finder/internal/constants"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job event types sent over SSE.
const (
	eventStatus    = "status"
	eventState     = "state"
	eventProgress  = "progress"
	eventCompleted = "completed"
	eventError     = "job_error"
	eventCancelled = "cancelled"
)

// AnalysisJob represents an async analysis run.
type AnalysisJob struct {
	EventBroadcaster

	ID            string
	VideoName     string
	ReferenceName string
	Status        JobStatus
	State         analysis.State
	FramesDone    int
	FramesTotal   int
	Error         string
	Kind          analysis.Kind
	ExitCode      *int
	StartedAt     time.Time
	CompletedAt   *time.Time
	Result        *analysis.Result
}

// JobView is the JSON form of an AnalysisJob.
type JobView struct {
	ID            string           `json:"id"`
	VideoName     string           `json:"videoName"`
	ReferenceName string           `json:"referenceName"`
	Status        JobStatus        `json:"status"`
	State         analysis.State   `json:"state,omitempty"`
	Progress      int              `json:"progress"`
	FramesDone    int              `json:"framesDone"`
	FramesTotal   int              `json:"framesTotal"`
	Error         string           `json:"error,omitempty"`
	Kind          analysis.Kind    `json:"kind,omitempty"`
	ExitCode      *int             `json:"exitCode,omitempty"`
	StartedAt     time.Time        `json:"startedAt"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty"`
	Result        *analysis.Result `json:"result,omitempty"`
}

// Snapshot returns a consistent copy of the job for serialization.
func (j *AnalysisJob) Snapshot() JobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	v := JobView{
		ID:            j.ID,
		VideoName:     j.VideoName,
		ReferenceName: j.ReferenceName,
		Status:        j.Status,
		State:         j.State,
		FramesDone:    j.FramesDone,
		FramesTotal:   j.FramesTotal,
		Error:         j.Error,
		Kind:          j.Kind,
		ExitCode:      j.ExitCode,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
		Result:        j.Result,
	}
	switch {
	case j.Status == JobStatusCompleted:
		v.Progress = 100
	case j.FramesTotal > 0:
		v.Progress = j.FramesDone * 100 / j.FramesTotal
	}
	return v
}

// GetStatus returns the current job status.
func (j *AnalysisJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Cancel cancels the job. Finished jobs are left untouched.
func (j *AnalysisJob) Cancel() bool {
	j.mu.Lock()
	if isJobTerminal(j.Status) {
		j.mu.Unlock()
		return false
	}
	j.Status = JobStatusCancelled
	now := time.Now()
	j.CompletedAt = &now
	j.mu.Unlock()

	j.EventBroadcaster.Cancel()
	return true
}

// observe applies a run event to the job and forwards it to listeners.
func (j *AnalysisJob) observe(e analysis.Event) {
	j.mu.Lock()
	j.State = e.State
	if e.FramesTotal > 0 {
		j.FramesDone = e.FramesDone
		j.FramesTotal = e.FramesTotal
	}
	j.mu.Unlock()

	eventType := eventState
	if e.FramesTotal > 0 {
		eventType = eventProgress
	}
	j.SendEvent(JobEvent{Type: eventType, Run: &e})
}

// finish records the run outcome unless the job was cancelled meanwhile.
func (j *AnalysisJob) finish(res *analysis.Result, err error, message string) {
	now := time.Now()
	j.mu.Lock()
	if j.Status == JobStatusCancelled {
		j.mu.Unlock()
		return
	}
	j.CompletedAt = &now
	if err != nil {
		j.Status = JobStatusFailed
		j.Error = message
		j.Kind = analysis.Classify(err)
		j.ExitCode = extractionExitCode(err)
	} else {
		j.Status = JobStatusCompleted
		j.Result = res
	}
	failure := ErrorResponse{Error: message, Kind: j.Kind, ExitCode: j.ExitCode}
	j.mu.Unlock()

	if err != nil {
		j.SendEvent(JobEvent{Type: eventError, Message: message, Failure: &failure})
		return
	}
	j.SendEvent(JobEvent{Type: eventCompleted, Result: res})
}

// JobEvent is one update pushed to job listeners. Exactly one payload
// field is set, matching Type; cancelled events carry only Message.
type JobEvent struct {
	Type    string           `json:"type"`
	Message string           `json:"message,omitempty"`
	Run     *analysis.Event  `json:"run,omitempty"`
	Result  *analysis.Result `json:"result,omitempty"`
	Failure *ErrorResponse   `json:"failure,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// setCancel stores the function that aborts the running analysis.
func (b *EventBroadcaster) setCancel(cancel context.CancelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancel = cancel
}

// Cancel cancels the job via context and sends a cancelled event.
func (b *EventBroadcaster) Cancel() {
	b.mu.RLock()
	cancel := b.cancel
	b.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	b.SendEvent(JobEvent{Type: eventCancelled, Message: "Job cancelled by user"})
}

// JobManager manages async jobs and bounds how many run at once.
type JobManager struct {
	jobs      map[string]*AnalysisJob
	mu        sync.RWMutex
	slots     chan struct{}
	retention time.Duration
	running   sync.WaitGroup
}

// NewJobManager creates a new job manager running at most maxConcurrent jobs.
func NewJobManager(maxConcurrent int) *JobManager {
	if maxConcurrent <= 0 {
		maxConcurrent = constants.MaxConcurrentJobs
	}
	return &JobManager{
		jobs:      make(map[string]*AnalysisJob),
		slots:     make(chan struct{}, maxConcurrent),
		retention: constants.JobRetentionMinutes * time.Minute,
	}
}

// CreateJob creates a new pending analysis job.
func (m *JobManager) CreateJob(id, videoName, referenceName string) *AnalysisJob {
	job := &AnalysisJob{
		ID:            id,
		VideoName:     videoName,
		ReferenceName: referenceName,
		Status:        JobStatusPending,
		State:         analysis.StateIdle,
		StartedAt:     time.Now(),
	}

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	return job
}

// Go runs fn in the background and tracks it for Wait.
func (m *JobManager) Go(fn func()) {
	m.running.Add(1)
	go func() {
		defer m.running.Done()
		fn()
	}()
}

// Wait blocks until every job started with Go has returned, or ctx is done.
func (m *JobManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquire blocks until a run slot is free or ctx is done.
func (m *JobManager) acquire(ctx context.Context) error {
	select {
	case m.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *JobManager) release() {
	<-m.slots
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *AnalysisJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// DeleteJob removes a job.
func (m *JobManager) DeleteJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// ListJobs returns all jobs.
func (m *JobManager) ListJobs() []*AnalysisJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*AnalysisJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// Prune removes finished jobs that completed before now minus the retention period.
func (m *JobManager) Prune(now time.Time) int {
	cutoff := now.Add(-m.retention)
	removed := 0
	for _, job := range m.ListJobs() {
		job.mu.RLock()
		expired := job.CompletedAt != nil && job.CompletedAt.Before(cutoff)
		job.mu.RUnlock()
		if expired {
			m.DeleteJob(job.ID)
			removed++
		}
	}
	return removed
}

// CancelAll cancels every unfinished job. Used on shutdown.
func (m *JobManager) CancelAll() {
	for _, job := range m.ListJobs() {
		job.Cancel()
	}
}
