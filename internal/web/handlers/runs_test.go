package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/face-finder/internal/analysis"
	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/database/mock"
	"github.com/kozaktomas/face-finder/internal/faces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededRuns() *mock.MockRunWriter {
	runs := mock.NewMockRunWriter()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runs.AddRun(database.StoredRun{
		ID:                 "run-a",
		VideoName:          "a.mp4",
		ReferenceEmbedding: []float32{0, 0, 0},
		CreatedAt:          base,
		Matches:            []database.StoredMatch{{FrameIndex: 0, Timestamp: 0, Confidence: 0.9, BBox: []float64{0, 0, 10, 10}}},
	})
	runs.AddRun(database.StoredRun{
		ID:                 "run-b",
		VideoName:          "b.mp4",
		ReferenceEmbedding: []float32{0.3, 0, 0},
		CreatedAt:          base.Add(time.Hour),
	})
	runs.AddRun(database.StoredRun{
		ID:                 "run-c",
		VideoName:          "c.mp4",
		ReferenceEmbedding: []float32{1, 1, 1},
		CreatedAt:          base.Add(2 * time.Hour),
	})
	return runs
}

func TestRunsHandler_Disabled(t *testing.T) {
	h := NewRunsHandler(nil, &fakeDetector{}, 0.4)

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"list", h.List},
		{"get", h.Get},
		{"search", h.Search},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			tc.handler(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))

			assertStatusCode(t, recorder, http.StatusServiceUnavailable)
			assertJSONError(t, recorder, errHistoryDisabled)
		})
	}
}

func TestRunsHandler_List(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantIDs    []string
		wantLimit  int
	}{
		{"defaults", "", http.StatusOK, []string{"run-c", "run-b", "run-a"}, 50},
		{"paged", "?limit=1&offset=1", http.StatusOK, []string{"run-b"}, 1},
		{"zero limit uses default", "?limit=0", http.StatusOK, []string{"run-c", "run-b", "run-a"}, 50},
		{"limit is capped", "?limit=100000", http.StatusOK, []string{"run-c", "run-b", "run-a"}, 500},
		{"offset past end", "?offset=10", http.StatusOK, []string{}, 50},
		{"invalid limit", "?limit=abc", http.StatusBadRequest, nil, 0},
		{"negative offset", "?offset=-1", http.StatusBadRequest, nil, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewRunsHandler(seededRuns(), &fakeDetector{}, 0.4)

			recorder := httptest.NewRecorder()
			h.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/runs"+tc.query, nil))

			assertStatusCode(t, recorder, tc.wantStatus)
			if tc.wantStatus != http.StatusOK {
				return
			}

			var resp RunListResponse
			parseJSONResponse(t, recorder, &resp)
			assert.Equal(t, 3, resp.Total)
			assert.Equal(t, tc.wantLimit, resp.Limit)
			ids := []string{}
			for _, run := range resp.Runs {
				ids = append(ids, run.ID)
				assert.Nil(t, run.Matches)
			}
			assert.Equal(t, tc.wantIDs, ids)
		})
	}
}

func TestRunsHandler_ListStoreError(t *testing.T) {
	runs := seededRuns()
	runs.ListError = errors.New("connection reset")
	h := NewRunsHandler(runs, &fakeDetector{}, 0.4)

	recorder := httptest.NewRecorder()
	h.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))

	assertStatusCode(t, recorder, http.StatusInternalServerError)
	assertJSONError(t, recorder, "failed to list runs")
}

func TestRunsHandler_Get(t *testing.T) {
	h := NewRunsHandler(seededRuns(), &fakeDetector{}, 0.4)

	t.Run("found", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-a", nil), map[string]string{"id": "run-a"})
		h.Get(recorder, req)

		assertStatusCode(t, recorder, http.StatusOK)
		var run database.StoredRun
		parseJSONResponse(t, recorder, &run)
		assert.Equal(t, "a.mp4", run.VideoName)
		require.Len(t, run.Matches, 1)
		assert.Equal(t, []float64{0, 0, 10, 10}, run.Matches[0].BBox)
		assert.Empty(t, run.ReferenceEmbedding, "embeddings are not exposed")
	})

	t.Run("missing", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/runs/nope", nil), map[string]string{"id": "nope"})
		h.Get(recorder, req)

		assertStatusCode(t, recorder, http.StatusNotFound)
		assertJSONError(t, recorder, "run not found")
	})
}

func TestRunsHandler_Search(t *testing.T) {
	detector := &fakeDetector{detection: &faces.Detection{
		Box:       faces.BoundingBox{X: 5, Y: 5, Width: 50, Height: 50},
		Embedding: faces.Embedding{0.1, 0, 0},
	}}
	h := NewRunsHandler(seededRuns(), detector, 0.4)

	recorder := httptest.NewRecorder()
	h.Search(recorder, uploadRequest(t, "/api/v1/runs/search", map[string]string{fieldFace: "face.jpg"}, nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp struct {
		Runs []RunSearchHit `json:"runs"`
	}
	parseJSONResponse(t, recorder, &resp)

	// run-c is sqrt(2.81) away, beyond the 0.6 distance a 0.4 threshold allows.
	require.Len(t, resp.Runs, 2)
	assert.Equal(t, "run-a", resp.Runs[0].Run.ID)
	assert.InDelta(t, 0.1, resp.Runs[0].Distance, 1e-6)
	assert.InDelta(t, 0.9, resp.Runs[0].Similarity, 1e-6)
	assert.Equal(t, "run-b", resp.Runs[1].Run.ID)
	assert.InDelta(t, 0.2, resp.Runs[1].Distance, 1e-6)
}

func TestRunsHandler_SearchLimit(t *testing.T) {
	tests := []struct {
		query    string
		expected int
	}{
		{"", constants.DefaultRunSearchLimit},
		{"?limit=0", constants.DefaultRunSearchLimit},
		{"?limit=2", 2},
		{"?limit=100000", constants.MaxRunListLimit},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			runs := seededRuns()
			detector := &fakeDetector{detection: &faces.Detection{Embedding: faces.Embedding{0, 0, 0}}}
			h := NewRunsHandler(runs, detector, 0.4)

			recorder := httptest.NewRecorder()
			h.Search(recorder, uploadRequest(t, "/api/v1/runs/search"+tt.query, map[string]string{fieldFace: "face.jpg"}, nil))

			assertStatusCode(t, recorder, http.StatusOK)
			assert.Equal(t, []int{tt.expected}, runs.SearchLimits)
		})
	}
}

func TestRunsHandler_SearchErrors(t *testing.T) {
	tests := []struct {
		name     string
		detector *fakeDetector
		files    map[string]string
		status   int
		kind     analysis.Kind
	}{
		{"missing face", &fakeDetector{}, map[string]string{}, http.StatusBadRequest, analysis.KindInvalidInput},
		{"no face in image", &fakeDetector{}, map[string]string{fieldFace: "face.jpg"}, http.StatusBadRequest, analysis.KindNoReferenceFace},
		{"models not loaded", &fakeDetector{err: faces.ErrNotReady}, map[string]string{fieldFace: "face.jpg"}, http.StatusServiceUnavailable, analysis.KindNotReady},
		{"inference failure", &fakeDetector{err: &faces.InferenceError{Op: "decode", Err: errors.New("bad jpeg")}}, map[string]string{fieldFace: "face.jpg"}, http.StatusInternalServerError, analysis.KindInference},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewRunsHandler(seededRuns(), tc.detector, 0.4)

			recorder := httptest.NewRecorder()
			h.Search(recorder, uploadRequest(t, "/api/v1/runs/search", tc.files, nil))

			assertRunError(t, recorder, tc.status, tc.kind)
		})
	}
}
