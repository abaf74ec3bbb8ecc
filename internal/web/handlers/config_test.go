package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeModels struct {
	backend string
	ready   bool
}

func (m fakeModels) Backend() string { return m.backend }
func (m fakeModels) Ready() bool     { return m.ready }

func TestConfigHandler_Get(t *testing.T) {
	cfg := testConfig()
	cfg.Analysis.SampleInterval = 1500 * time.Millisecond
	cfg.Analysis.MatchThreshold = 0.5
	cfg.Analysis.Timeout = 2 * time.Minute
	cfg.Analysis.Workers = 3
	cfg.Web.MaxUploadMB = 100

	h := NewConfigHandler(cfg, fakeModels{backend: "remote", ready: true}, true)

	recorder := httptest.NewRecorder()
	h.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/config", nil))

	assertStatusCode(t, recorder, http.StatusOK)

	var resp ConfigResponse
	parseJSONResponse(t, recorder, &resp)

	if resp.Backend != "remote" || !resp.ModelsReady {
		t.Errorf("unexpected model status: backend=%q ready=%v", resp.Backend, resp.ModelsReady)
	}
	if resp.SampleIntervalSeconds != 1.5 {
		t.Errorf("expected sample interval 1.5, got %v", resp.SampleIntervalSeconds)
	}
	if resp.MatchThreshold != 0.5 {
		t.Errorf("expected match threshold 0.5, got %v", resp.MatchThreshold)
	}
	if resp.TimeoutSeconds != 120 {
		t.Errorf("expected timeout 120, got %v", resp.TimeoutSeconds)
	}
	if resp.Workers != 3 || resp.MaxUploadMB != 100 {
		t.Errorf("unexpected workers=%d maxUploadMb=%d", resp.Workers, resp.MaxUploadMB)
	}
	if !resp.HistoryEnabled {
		t.Error("expected history to be enabled")
	}
	if len(resp.Languages) != 2 || resp.Languages[0] != "en" || resp.Languages[1] != "ja" {
		t.Errorf("unexpected languages %v", resp.Languages)
	}
}

func TestConfigHandler_ModelsNotLoaded(t *testing.T) {
	cfg := testConfig()
	h := NewConfigHandler(cfg, fakeModels{backend: "dlib"}, false)

	recorder := httptest.NewRecorder()
	h.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/config", nil))

	var resp ConfigResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.ModelsReady {
		t.Error("expected models to be reported as not ready")
	}
	if resp.HistoryEnabled {
		t.Error("expected history to be disabled")
	}
}
