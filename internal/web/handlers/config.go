package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-finder/internal/analysis"
	"github.com/kozaktomas/face-finder/internal/config"
)

// ModelStatus reports the state of the face model backend.
type ModelStatus interface {
	Backend() string
	Ready() bool
}

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config         *config.Config
	models         ModelStatus
	historyEnabled bool
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config, models ModelStatus, historyEnabled bool) *ConfigHandler {
	return &ConfigHandler{
		config:         cfg,
		models:         models,
		historyEnabled: historyEnabled,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Backend               string   `json:"backend"`
	ModelsReady           bool     `json:"modelsReady"`
	SampleIntervalSeconds float64  `json:"sampleIntervalSeconds"`
	MatchThreshold        float64  `json:"matchThreshold"`
	TimeoutSeconds        float64  `json:"timeoutSeconds"`
	Workers               int      `json:"workers"`
	MaxUploadMB           int      `json:"maxUploadMb"`
	HistoryEnabled        bool     `json:"historyEnabled"`
	Languages             []string `json:"languages"`
}

// Get returns the effective analysis settings
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	languages := make([]string, 0, len(analysis.SupportedLanguages))
	for _, tag := range analysis.SupportedLanguages {
		languages = append(languages, tag.String())
	}

	response := ConfigResponse{
		Backend:               h.config.Models.Backend,
		SampleIntervalSeconds: h.config.Analysis.SampleInterval.Seconds(),
		MatchThreshold:        h.config.Analysis.MatchThreshold,
		TimeoutSeconds:        h.config.Analysis.Timeout.Seconds(),
		Workers:               h.config.Analysis.Workers,
		MaxUploadMB:           h.config.Web.MaxUploadMB,
		HistoryEnabled:        h.historyEnabled,
		Languages:             languages,
	}
	if h.models != nil {
		response.Backend = h.models.Backend()
		response.ModelsReady = h.models.Ready()
	}

	respondJSON(w, http.StatusOK, response)
}
