package faces

import (
	"context"
	"encoding/json"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockEmbeddingServer(t *testing.T, healthStatus int, faces []map[string]any) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(healthStatus)
	})
	mux.HandleFunc("/embed/face", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if detectMIMEType(data) != header.Header.Get("Content-Type") {
			http.Error(w, "content type mismatch", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"faces_count": len(faces),
			"faces":       faces,
			"model":       "buffalo_l",
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestRemoteLoaderHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		server := setupMockEmbeddingServer(t, http.StatusOK, nil)
		loader := NewRemoteLoader(server.URL+"/", nil)

		det, err := loader.Load(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, det)
	})

	t.Run("unhealthy", func(t *testing.T) {
		server := setupMockEmbeddingServer(t, http.StatusServiceUnavailable, nil)
		reg := NewRegistry(NewRemoteLoader(server.URL, nil), nil)

		err := reg.Load(context.Background())
		var loadErr *ModelLoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, "remote", loadErr.Backend)
	})
}

func TestRemoteDetector(t *testing.T) {
	server := setupMockEmbeddingServer(t, http.StatusOK, []map[string]any{
		{"face_index": 0, "dim": 3, "embedding": []float32{0.1, 0.2, 0.3}, "bbox": []float64{10, 20, 50, 80}, "det_score": 0.98},
		{"face_index": 1, "dim": 3, "embedding": []float32{0.4, 0.5, 0.6}, "bbox": []float64{-5, 0, 5, 10}, "det_score": 0.71},
	})

	reg := NewRegistry(NewRemoteLoader(server.URL, server.Client()), nil)
	require.NoError(t, reg.Load(context.Background()))
	emb := NewEmbedder(reg, 0)

	dets, err := emb.DetectAll(context.Background(), encodeJPEG(createTestImage(100, 100, color.White)))
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.True(t, boxesEqual(BoundingBox{X: 10, Y: 20, Width: 40, Height: 60}, dets[0].Box), "got %+v", dets[0].Box)
	assert.Equal(t, Embedding{0.1, 0.2, 0.3}, dets[0].Embedding)
	// Partly outside the frame, clipped to the origin.
	assert.True(t, boxesEqual(BoundingBox{X: 0, Y: 0, Width: 5, Height: 10}, dets[1].Box), "got %+v", dets[1].Box)
}

func TestRemoteDetectorServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embed/face", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	det := &RemoteDetector{baseURL: server.URL, client: server.Client()}
	_, err := det.Detect(context.Background(), encodeJPEG(createTestImage(8, 8, color.White)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{name: "jpeg", data: []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, expected: "image/jpeg"},
		{name: "png", data: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, expected: "image/png"},
		{name: "short", data: []byte{0xFF, 0xD8}, expected: "application/octet-stream"},
		{name: "unknown", data: []byte("plain text"), expected: "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, detectMIMEType(tt.data))
		})
	}
}
