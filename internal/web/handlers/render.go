package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/kozaktomas/face-finder/internal/analysis"
)

// RenderRequest is the body of a render request, shaped like an analysis Result.
type RenderRequest struct {
	VideoPath  string           `json:"videoPath"`
	Detections []analysis.Match `json:"detections"`
}

// RenderDetails explains why rendering is unavailable.
type RenderDetails struct {
	Issue         string   `json:"issue"`
	DetectedFaces int      `json:"detectedFaces"`
	NextSteps     []string `json:"nextSteps"`
}

// RenderResponse is returned while video rendering is not implemented.
type RenderResponse struct {
	Error   string        `json:"error"`
	Details RenderDetails `json:"details"`
}

// Render validates a highlight render request and reports that rendering
// is not implemented.
func Render(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.VideoPath == "" || req.Detections == nil {
		respondError(w, http.StatusBadRequest, "Video path and detections are required")
		return
	}

	log.Printf("render request received: video=%s detections=%d", sanitizeForLog(req.VideoPath), len(req.Detections))

	respondJSON(w, http.StatusNotImplemented, RenderResponse{
		Error: "Video rendering is not implemented yet.",
		Details: RenderDetails{
			Issue:         "no video composition backend is configured",
			DetectedFaces: len(req.Detections),
			NextSteps: []string{
				"Choose a composition backend",
				"Define the highlight clip layout",
				"Encode the output video",
			},
		},
	})
}
