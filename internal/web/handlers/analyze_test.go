package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/face-finder/internal/analysis"
	"github.com/kozaktomas/face-finder/internal/database/mock"
	"github.com/kozaktomas/face-finder/internal/video"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

var bothFiles = map[string]string{fieldVideo: "clip.mp4", fieldFace: "face.jpg"}

func newTestAnalyzeHandler(t *testing.T, runner *fakeRunner, runs *mock.MockRunWriter) (*AnalyzeHandler, string) {
	t.Helper()
	tempDir := t.TempDir()
	h := NewAnalyzeHandler(runner, NewJobManager(1), nil, 1<<20, tempDir)
	if runs != nil {
		h.runs = runs
	}
	return h, tempDir
}

func TestAnalyze_MissingFiles(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{"no files", map[string]string{}},
		{"video only", map[string]string{fieldVideo: "clip.mp4"}},
		{"face only", map[string]string{fieldFace: "face.jpg"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{result: sampleResult()}
			h, _ := newTestAnalyzeHandler(t, runner, nil)

			recorder := httptest.NewRecorder()
			h.Analyze(recorder, uploadRequest(t, "/api/v1/analyze", tc.files, nil))

			resp := assertRunError(t, recorder, http.StatusBadRequest, analysis.KindInvalidInput)
			assert.Equal(t, errMissingUpload, resp.Error)
			assert.Empty(t, runner.calls())
		})
	}
}

func TestAnalyze_NotMultipart(t *testing.T) {
	h, _ := newTestAnalyzeHandler(t, &fakeRunner{result: sampleResult()}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader(`{"video":"clip.mp4"}`))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	h.Analyze(recorder, req)

	assertRunError(t, recorder, http.StatusBadRequest, analysis.KindInvalidInput)
}

func TestAnalyze_UploadTooLarge(t *testing.T) {
	runner := &fakeRunner{result: sampleResult()}
	h, _ := newTestAnalyzeHandler(t, runner, nil)
	h.maxUploadBytes = 16

	recorder := httptest.NewRecorder()
	h.Analyze(recorder, uploadRequest(t, "/api/v1/analyze", bothFiles, nil))

	assertRunError(t, recorder, http.StatusRequestEntityTooLarge, analysis.KindInvalidInput)
	assert.Empty(t, runner.calls())
}

func TestAnalyze_Success(t *testing.T) {
	runner := &fakeRunner{result: sampleResult()}
	runs := mock.NewMockRunWriter()
	h, _ := newTestAnalyzeHandler(t, runner, runs)

	recorder := httptest.NewRecorder()
	h.Analyze(recorder, uploadRequest(t, "/api/v1/analyze?lang=ja", bothFiles, nil))

	assertStatusCode(t, recorder, http.StatusOK)

	var body map[string]any
	parseJSONResponse(t, recorder, &body)
	assert.Equal(t, "run-1", body["runId"])
	detections, ok := body["detections"].([]any)
	require.True(t, ok, "detections must be a list")
	assert.Len(t, detections, 1)
	assert.NotContains(t, body, "ReferenceEmbedding")

	calls := runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "clip.mp4", calls[0].Video.Name)
	assert.Equal(t, "face.jpg", calls[0].Reference.Name)
	assert.NotNil(t, calls[0].Video.Reader)
	assert.Equal(t, language.Japanese, calls[0].Language)

	assert.Equal(t, []string{"run-1"}, runs.Saved())
	stored, err := runs.Get(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "ja", stored.Language)
}

func TestAnalyze_HistoryFailureIsNotFatal(t *testing.T) {
	runs := mock.NewMockRunWriter()
	runs.SaveError = errors.New("connection refused")
	h, _ := newTestAnalyzeHandler(t, &fakeRunner{result: sampleResult()}, runs)

	recorder := httptest.NewRecorder()
	h.Analyze(recorder, uploadRequest(t, "/api/v1/analyze", bothFiles, nil))

	assertStatusCode(t, recorder, http.StatusOK)
}

func TestAnalyze_RunErrors(t *testing.T) {
	exitCode := func(code int) *int { return &code }

	tests := []struct {
		name     string
		err      error
		status   int
		kind     analysis.Kind
		message  string
		exitCode *int
	}{
		{"no reference face", analysis.ErrNoReferenceFace, http.StatusBadRequest, analysis.KindNoReferenceFace, analysis.ErrNoReferenceFace.Error(), nil},
		{"empty upload", &analysis.InvalidInputError{Missing: []string{"video"}, Reason: "file is empty"}, http.StatusBadRequest, analysis.KindInvalidInput, "invalid input (video): file is empty", nil},
		{"decoder failure", &video.ExtractionError{ExitCode: 1, Stderr: "Invalid data found"}, http.StatusBadGateway, analysis.KindExtraction, "analysis failed", exitCode(1)},
		{"decoder not started", fmt.Errorf("sampling: %w", &video.ExtractionError{ExitCode: -1}), http.StatusBadGateway, analysis.KindExtraction, "analysis failed", exitCode(-1)},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, analysis.KindTimeout, "analysis failed", nil},
		{"unexpected", errors.New("disk full"), http.StatusInternalServerError, analysis.KindInternal, "analysis failed", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runs := mock.NewMockRunWriter()
			h, _ := newTestAnalyzeHandler(t, &fakeRunner{err: tc.err}, runs)

			recorder := httptest.NewRecorder()
			h.Analyze(recorder, uploadRequest(t, "/api/v1/analyze", bothFiles, nil))

			resp := assertRunError(t, recorder, tc.status, tc.kind)
			assert.Equal(t, tc.message, resp.Error)
			assert.Equal(t, tc.exitCode, resp.ExitCode)
			assert.Empty(t, runs.Saved())
		})
	}
}

func waitForStatus(t *testing.T, job *AnalysisJob, status JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return job.GetStatus() == status
	}, 2*time.Second, 5*time.Millisecond, "job never reached %s", status)
}

func startJob(t *testing.T, h *AnalyzeHandler) *AnalysisJob {
	t.Helper()
	recorder := httptest.NewRecorder()
	h.StartJob(recorder, uploadRequest(t, "/api/v1/jobs", bothFiles, nil))
	assertStatusCode(t, recorder, http.StatusAccepted)

	var resp map[string]string
	parseJSONResponse(t, recorder, &resp)
	assert.Equal(t, string(JobStatusPending), resp["status"])

	job := h.jobManager.GetJob(resp["jobId"])
	require.NotNil(t, job)
	return job
}

func TestStartJob_Completes(t *testing.T) {
	runner := &fakeRunner{result: sampleResult()}
	runs := mock.NewMockRunWriter()
	h, tempDir := newTestAnalyzeHandler(t, runner, runs)

	job := startJob(t, h)
	waitForStatus(t, job, JobStatusCompleted)

	calls := runner.calls()
	require.Len(t, calls, 1)
	assert.NotEmpty(t, calls[0].Video.Path)
	assert.NotEmpty(t, calls[0].Reference.Path)
	assert.Nil(t, calls[0].Video.Reader)
	assert.NotNil(t, calls[0].Listener)

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID, nil), map[string]string{"jobId": job.ID})
	h.Status(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var view JobView
	parseJSONResponse(t, recorder, &view)
	assert.Equal(t, JobStatusCompleted, view.Status)
	assert.Equal(t, 100, view.Progress)
	require.NotNil(t, view.Result)
	assert.Equal(t, "run-1", view.Result.RunID)
	assert.Equal(t, "clip.mp4", view.VideoName)

	assert.Equal(t, []string{"run-1"}, runs.Saved())

	// The staged copies are removed once the job finishes.
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(tempDir)
		return err == nil && len(entries) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartJob_Fails(t *testing.T) {
	h, _ := newTestAnalyzeHandler(t, &fakeRunner{err: &video.ExtractionError{ExitCode: 183}}, nil)

	job := startJob(t, h)
	waitForStatus(t, job, JobStatusFailed)

	view := job.Snapshot()
	assert.Equal(t, analysis.KindExtraction, view.Kind)
	require.NotNil(t, view.ExitCode)
	assert.Equal(t, 183, *view.ExitCode)
	assert.Equal(t, "analysis failed", view.Error)
	assert.Nil(t, view.Result)
	assert.NotNil(t, view.CompletedAt)
}

func TestStartJob_MissingFiles(t *testing.T) {
	h, _ := newTestAnalyzeHandler(t, &fakeRunner{result: sampleResult()}, nil)

	recorder := httptest.NewRecorder()
	h.StartJob(recorder, uploadRequest(t, "/api/v1/jobs", map[string]string{fieldVideo: "clip.mp4"}, nil))

	assertRunError(t, recorder, http.StatusBadRequest, analysis.KindInvalidInput)
	assert.Empty(t, h.jobManager.ListJobs())
}

func TestCancelJob(t *testing.T) {
	runner := &fakeRunner{result: sampleResult(), block: make(chan struct{})}
	defer close(runner.block)
	runs := mock.NewMockRunWriter()
	h, _ := newTestAnalyzeHandler(t, runner, runs)

	job := startJob(t, h)
	waitForStatus(t, job, JobStatusRunning)

	cancelReq := func() *httptest.ResponseRecorder {
		recorder := httptest.NewRecorder()
		req := requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+job.ID, nil), map[string]string{"jobId": job.ID})
		h.Cancel(recorder, req)
		return recorder
	}

	assertStatusCode(t, cancelReq(), http.StatusOK)
	assert.Equal(t, JobStatusCancelled, job.GetStatus())

	second := cancelReq()
	assertStatusCode(t, second, http.StatusConflict)
	assertJSONError(t, second, "job already finished")

	// The cancelled run returns context.Canceled, which must not overwrite the status.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, JobStatusCancelled, job.GetStatus())
	assert.Empty(t, runs.Saved())
}

func TestJobEndpoints_NotFound(t *testing.T) {
	h, _ := newTestAnalyzeHandler(t, &fakeRunner{}, nil)

	tests := []struct {
		name    string
		method  string
		handler http.HandlerFunc
	}{
		{"status", http.MethodGet, h.Status},
		{"cancel", http.MethodDelete, h.Cancel},
		{"events", http.MethodGet, h.Events},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := requestWithChiParams(httptest.NewRequest(tc.method, "/api/v1/jobs/missing", nil), map[string]string{"jobId": "missing"})
			tc.handler(recorder, req)

			assertStatusCode(t, recorder, http.StatusNotFound)
			assertJSONError(t, recorder, "job not found")
		})
	}
}

func TestListJobs_OmitsResults(t *testing.T) {
	h, _ := newTestAnalyzeHandler(t, &fakeRunner{result: sampleResult()}, nil)

	job := startJob(t, h)
	waitForStatus(t, job, JobStatusCompleted)

	recorder := httptest.NewRecorder()
	h.ListJobs(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var views []JobView
	parseJSONResponse(t, recorder, &views)
	require.Len(t, views, 1)
	assert.Equal(t, job.ID, views[0].ID)
	assert.Nil(t, views[0].Result)
}

func TestEvents_FinishedJob(t *testing.T) {
	h, _ := newTestAnalyzeHandler(t, &fakeRunner{result: sampleResult()}, nil)

	job := startJob(t, h)
	waitForStatus(t, job, JobStatusCompleted)

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/events", nil), map[string]string{"jobId": job.ID})
	h.Events(recorder, req)

	assert.Equal(t, "text/event-stream", recorder.Header().Get("Content-Type"))
	body := recorder.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: status\n"), body)
	assert.Contains(t, body, `"status":"completed"`)
}

func TestEvents_StreamsUntilDone(t *testing.T) {
	runner := &fakeRunner{result: sampleResult(), block: make(chan struct{})}
	h, _ := newTestAnalyzeHandler(t, runner, nil)

	job := startJob(t, h)
	waitForStatus(t, job, JobStatusRunning)

	done := make(chan struct{})
	recorder := httptest.NewRecorder()
	go func() {
		defer close(done)
		req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/events", nil), map[string]string{"jobId": job.ID})
		h.Events(recorder, req)
	}()

	// Wait for the listener before letting the run finish.
	require.Eventually(t, func() bool {
		job.mu.RLock()
		defer job.mu.RUnlock()
		return len(job.listeners) == 1
	}, 2*time.Second, 5*time.Millisecond)
	close(runner.block)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not end after the job completed")
	}
	body := recorder.Body.String()
	assert.Contains(t, body, "event: "+eventCompleted+"\n")
	assert.Contains(t, body, `"result":{"runId":"run-1"`)
	assert.Equal(t, "no", recorder.Header().Get("X-Accel-Buffering"))
}
