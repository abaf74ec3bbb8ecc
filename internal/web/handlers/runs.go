package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-finder/internal/analysis"
	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/faces"
)

const errHistoryDisabled = "run history is disabled (DATABASE_URL not set)"

// ReferenceDetector embeds the dominant face of an image.
type ReferenceDetector interface {
	DetectSingle(ctx context.Context, image []byte) (*faces.Detection, error)
}

// RunsHandler serves the stored run history.
type RunsHandler struct {
	runs     database.RunReader
	detector ReferenceDetector
	matcher  facematch.Matcher
}

// NewRunsHandler creates a new runs handler. runs may be nil when history is disabled.
func NewRunsHandler(runs database.RunReader, detector ReferenceDetector, threshold float64) *RunsHandler {
	return &RunsHandler{
		runs:     runs,
		detector: detector,
		matcher:  facematch.NewMatcher(threshold),
	}
}

// RunListResponse is a page of stored runs.
type RunListResponse struct {
	Runs   []database.StoredRun `json:"runs"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// RunSearchHit is a stored run whose reference face resembles the query face.
type RunSearchHit struct {
	Run        database.StoredRun `json:"run"`
	Distance   float64            `json:"distance"`
	Similarity float64            `json:"similarity"`
}

func (h *RunsHandler) available(w http.ResponseWriter) bool {
	if h.runs == nil {
		respondError(w, http.StatusServiceUnavailable, errHistoryDisabled)
		return false
	}
	return true
}

// queryInt parses a non-negative integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}

// List returns stored runs, newest first
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	limit, err := queryInt(r, "limit", constants.DefaultRunListLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit == 0 {
		limit = constants.DefaultRunListLimit
	}
	limit = min(limit, constants.MaxRunListLimit)

	runs, err := h.runs.List(r.Context(), limit, offset)
	if err != nil {
		log.Printf("failed to list runs: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	total, err := h.runs.Count(r.Context())
	if err != nil {
		log.Printf("failed to count runs: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to count runs")
		return
	}

	respondJSON(w, http.StatusOK, RunListResponse{Runs: runs, Total: total, Limit: limit, Offset: offset})
}

// Get returns one stored run with its matches
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	id := chi.URLParam(r, "id")
	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		log.Printf("failed to get run %s: %v", sanitizeForLog(id), err)
		respondError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// Search finds stored runs whose reference face matches an uploaded face image
func (h *RunsHandler) Search(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, analysis.MaxReferenceSize+constants.MultipartMemory)
	tag := requestLanguage(r)
	file, _, err := r.FormFile(fieldFace)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "face file is required", Kind: analysis.KindInvalidInput})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, analysis.MaxReferenceSize+1))
	if err != nil {
		respondRunError(w, tag, err)
		return
	}
	if len(data) == 0 || len(data) > analysis.MaxReferenceSize {
		respondRunError(w, tag, &analysis.InvalidInputError{Reason: "reference image is empty or too large"})
		return
	}

	limit, err := queryInt(r, "limit", constants.DefaultRunSearchLimit)
	if err != nil || limit == 0 {
		limit = constants.DefaultRunSearchLimit
	}
	limit = min(limit, constants.MaxRunListLimit)

	det, err := h.detector.DetectSingle(r.Context(), data)
	if err != nil {
		respondRunError(w, tag, err)
		return
	}
	if det == nil {
		respondRunError(w, tag, analysis.ErrNoReferenceFace)
		return
	}

	runs, distances, err := h.runs.FindByReference(r.Context(), det.Embedding, limit, h.matcher.MaxDistance())
	if err != nil {
		log.Printf("failed to search runs: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to search runs")
		return
	}

	hits := make([]RunSearchHit, 0, len(runs))
	for i, run := range runs {
		hits = append(hits, RunSearchHit{Run: run, Distance: distances[i], Similarity: 1 - distances[i]})
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": hits})
}
