package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-finder/internal/analysis"
	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/faces"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return config.Defaults()
}

// fakeRunner records requests and returns a canned result or error.
type fakeRunner struct {
	mu       sync.Mutex
	requests []analysis.Request
	result   *analysis.Result
	err      error
	// block, when set, makes Run wait for it or for ctx.
	block chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, req analysis.Request) (*analysis.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if req.Listener != nil {
		req.Listener(analysis.Event{State: analysis.StateScoringFrames, FramesDone: 1, FramesTotal: 2})
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeRunner) calls() []analysis.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]analysis.Request(nil), f.requests...)
}

// fakeDetector returns a fixed detection for any image.
type fakeDetector struct {
	detection *faces.Detection
	err       error
}

func (d *fakeDetector) DetectSingle(context.Context, []byte) (*faces.Detection, error) {
	return d.detection, d.err
}

// sampleResult is a finished run with one match.
func sampleResult() *analysis.Result {
	return &analysis.Result{
		RunID: "run-1",
		Matches: []analysis.Match{
			{Timestamp: 3, FrameIndex: 1, Confidence: 0.72, BBox: faces.BoundingBox{X: 10, Y: 20, Width: 30, Height: 40}},
		},
		Summary: analysis.Summary{
			TotalFrames:     4,
			TotalDetections: 1,
			TotalFacesFound: 2,
			MaxSimilarity:   0.72,
			Message:         "1 matches found",
		},
		IntervalSeconds:    3,
		Threshold:          0.4,
		VideoName:          "clip.mp4",
		ReferenceName:      "face.jpg",
		ReferenceBox:       faces.BoundingBox{X: 1, Y: 2, Width: 3, Height: 4},
		ReferenceEmbedding: faces.Embedding{0.1, 0.2, 0.3},
		Elapsed:            1500 * time.Millisecond,
	}
}

// multipartBody builds a multipart form with the given files and fields.
func multipartBody(t *testing.T, files map[string]string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, name := range files {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := fw.Write([]byte("content of " + name)); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// uploadRequest creates a multipart POST request.
func uploadRequest(t *testing.T, path string, files map[string]string, fields map[string]string) *http.Request {
	t.Helper()
	body, contentType := multipartBody(t, files, fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

// assertRunError checks an {"error", "kind"} response.
func assertRunError(t *testing.T, recorder *httptest.ResponseRecorder, status int, kind analysis.Kind) ErrorResponse {
	t.Helper()
	assertStatusCode(t, recorder, status)
	var resp ErrorResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Kind != kind {
		t.Errorf("expected kind %q, got %q", kind, resp.Kind)
	}
	return resp
}
