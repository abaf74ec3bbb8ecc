package handlers

import (
	"context"
	"errors"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kozaktomas/face-finder/internal/analysis"
	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/database"
	"golang.org/x/text/language"
)

// Multipart field names and the message for a missing upload.
const (
	fieldVideo       = "video"
	fieldFace        = "face"
	errMissingUpload = "Video and face files are required"
)

// historySaveTimeout bounds how long a finished run may spend being recorded.
const historySaveTimeout = 10 * time.Second

// Runner performs analysis runs.
type Runner interface {
	Run(ctx context.Context, req analysis.Request) (*analysis.Result, error)
}

// AnalyzeHandler handles synchronous and asynchronous analysis endpoints.
type AnalyzeHandler struct {
	runner         Runner
	jobManager     *JobManager
	runs           database.RunWriter
	maxUploadBytes int64
	tempDir        string
}

// NewAnalyzeHandler creates a new analyze handler. runs may be nil when
// history is disabled.
func NewAnalyzeHandler(runner Runner, jobManager *JobManager, runs database.RunWriter, maxUploadBytes int64, tempDir string) *AnalyzeHandler {
	return &AnalyzeHandler{
		runner:         runner,
		jobManager:     jobManager,
		runs:           runs,
		maxUploadBytes: maxUploadBytes,
		tempDir:        tempDir,
	}
}

// upload holds the two multipart files of an analysis request.
type upload struct {
	video     multipart.File
	videoName string
	face      multipart.File
	faceName  string
}

func (u *upload) Close() {
	if u.video != nil {
		u.video.Close()
	}
	if u.face != nil {
		u.face.Close()
	}
}

// parseUpload reads the multipart form. On failure it writes the error
// response and returns nil.
func (h *AnalyzeHandler) parseUpload(w http.ResponseWriter, r *http.Request) *upload {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(constants.MultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: "upload exceeds the size limit",
				Kind:  analysis.KindInvalidInput,
			})
			return nil
		}
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: errMissingUpload, Kind: analysis.KindInvalidInput})
		return nil
	}

	u := &upload{}
	video, videoHeader, videoErr := r.FormFile(fieldVideo)
	if videoErr == nil {
		u.video, u.videoName = video, videoHeader.Filename
	}
	face, faceHeader, faceErr := r.FormFile(fieldFace)
	if faceErr == nil {
		u.face, u.faceName = face, faceHeader.Filename
	}
	if videoErr != nil || faceErr != nil {
		u.Close()
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: errMissingUpload, Kind: analysis.KindInvalidInput})
		return nil
	}
	return u
}

// Analyze runs an analysis within the request and returns the Result.
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	u := h.parseUpload(w, r)
	if u == nil {
		return
	}
	defer u.Close()

	tag := requestLanguage(r)
	res, err := h.runner.Run(r.Context(), analysis.Request{
		Video:     &analysis.Input{Name: u.videoName, Reader: u.video},
		Reference: &analysis.Input{Name: u.faceName, Reader: u.face},
		Language:  tag,
	})
	if err != nil {
		respondRunError(w, tag, err)
		return
	}

	h.record(res, tag)
	respondJSON(w, http.StatusOK, res)
}

// StartJob stages the uploads and runs the analysis in the background.
func (h *AnalyzeHandler) StartJob(w http.ResponseWriter, r *http.Request) {
	u := h.parseUpload(w, r)
	if u == nil {
		return
	}
	defer u.Close()

	h.jobManager.Prune(time.Now())

	jobID := uuid.New().String()
	staging, videoPath, facePath, err := h.stage(jobID, u)
	if err != nil {
		respondRunError(w, requestLanguage(r), err)
		return
	}

	tag := requestLanguage(r)
	job := h.jobManager.CreateJob(jobID, u.videoName, u.faceName)
	req := analysis.Request{
		Video:     &analysis.Input{Name: u.videoName, Path: videoPath},
		Reference: &analysis.Input{Name: u.faceName, Path: facePath},
		Language:  tag,
		Listener:  job.observe,
	}
	h.jobManager.Go(func() { h.runJob(job, staging, req) })

	respondJSON(w, http.StatusAccepted, map[string]string{
		"jobId":  jobID,
		"status": string(JobStatusPending),
	})
}

// stage copies the uploads into a job directory. Multipart temp files are
// removed when the handler returns, so a background job needs its own copy.
func (h *AnalyzeHandler) stage(jobID string, u *upload) (*analysis.Workspace, string, string, error) {
	staging, err := analysis.NewWorkspace(h.tempDir, "job-"+jobID)
	if err != nil {
		return nil, "", "", err
	}
	videoPath, _, err := staging.Save(fieldVideo, u.videoName, u.video)
	if err != nil {
		staging.Release()
		return nil, "", "", err
	}
	facePath, _, err := staging.Save(fieldFace, u.faceName, u.face)
	if err != nil {
		staging.Release()
		return nil, "", "", err
	}
	return staging, videoPath, facePath, nil
}

// runJob runs the job in the background
func (h *AnalyzeHandler) runJob(job *AnalysisJob, staging *analysis.Workspace, req analysis.Request) {
	defer func() {
		if err := staging.Release(); err != nil {
			log.Printf("job %s: failed to remove staging directory: %v", job.ID, err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	job.setCancel(cancel)
	defer cancel()

	if err := h.jobManager.acquire(ctx); err != nil {
		return
	}
	defer h.jobManager.release()

	job.mu.Lock()
	if job.Status == JobStatusCancelled {
		job.mu.Unlock()
		return
	}
	job.Status = JobStatusRunning
	job.mu.Unlock()

	res, err := h.runner.Run(ctx, req)
	if err != nil {
		log.Printf("job %s failed (%s): %s", job.ID, analysis.Classify(err), sanitizeForLog(err.Error()))
		job.finish(nil, err, errorMessage(req.Language, err))
		return
	}

	h.record(res, req.Language)
	job.finish(res, nil, "")
}

// record stores a finished run in the history. Failures are logged only.
func (h *AnalyzeHandler) record(res *analysis.Result, tag language.Tag) {
	if h.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historySaveTimeout)
	defer cancel()
	if err := h.runs.Save(ctx, database.RunFromResult(res, tag.String())); err != nil {
		log.Printf("failed to record run %s: %v", res.RunID, err)
	}
}

// Status returns the status of an analysis job
func (h *AnalyzeHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	respondJSON(w, http.StatusOK, job.Snapshot())
}

// ListJobs returns all known jobs without their results
func (h *AnalyzeHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobManager.ListJobs()
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		v := job.Snapshot()
		v.Result = nil
		views = append(views, v)
	}
	respondJSON(w, http.StatusOK, views)
}

// Events streams job events via SSE
func (h *AnalyzeHandler) Events(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	streamJob(w, r, job)
}

// Cancel cancels an analysis job
func (h *AnalyzeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	if !job.Cancel() {
		respondError(w, http.StatusConflict, "job already finished")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}
