package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-finder/internal/analysis"
	"github.com/kozaktomas/face-finder/internal/video"
	"golang.org/x/text/language"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// statusClientClosedRequest is the non-standard status logged when the caller
// went away before the run finished.
const statusClientClosedRequest = 499

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// ErrorResponse is the body of a failed analysis request.
type ErrorResponse struct {
	Error    string        `json:"error"`
	Kind     analysis.Kind `json:"kind"`
	ExitCode *int          `json:"exitCode,omitempty"`
}

// extractionExitCode returns the decoder exit status carried by err, if any.
func extractionExitCode(err error) *int {
	var extraction *video.ExtractionError
	if errors.As(err, &extraction) {
		code := extraction.ExitCode
		return &code
	}
	return nil
}

// statusForKind maps a run failure kind to its HTTP status.
func statusForKind(kind analysis.Kind) int {
	switch kind {
	case analysis.KindInvalidInput, analysis.KindNoReferenceFace:
		return http.StatusBadRequest
	case analysis.KindExtraction:
		return http.StatusBadGateway
	case analysis.KindNotReady:
		return http.StatusServiceUnavailable
	case analysis.KindTimeout:
		return http.StatusGatewayTimeout
	case analysis.KindCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage returns the text shown to the caller. Input problems are
// described as is; environment problems get the localized generic message.
func errorMessage(tag language.Tag, err error) string {
	kind := analysis.Classify(err)
	if kind.UserCorrectable() {
		var invalid *analysis.InvalidInputError
		if errors.As(err, &invalid) {
			return invalid.Error()
		}
		return analysis.ErrNoReferenceFace.Error()
	}
	return analysis.FailureMessage(tag)
}

// respondRunError logs err and sends it as {"error", "kind"}.
func respondRunError(w http.ResponseWriter, tag language.Tag, err error) {
	kind := analysis.Classify(err)
	log.Printf("analysis failed (%s): %s", kind, sanitizeForLog(err.Error()))
	respondJSON(w, statusForKind(kind), ErrorResponse{
		Error:    errorMessage(tag, err),
		Kind:     kind,
		ExitCode: extractionExitCode(err),
	})
}

// requestLanguage picks the response language from the "lang" form value or
// the Accept-Language header.
func requestLanguage(r *http.Request) language.Tag {
	return analysis.MatchLanguage(r.FormValue("lang"), r.Header.Get("Accept-Language"))
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
