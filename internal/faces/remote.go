package faces

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const defaultEmbeddingURL = "http://localhost:8000"

// RemoteLoader connects to an HTTP embedding server that exposes
// GET /health and POST /embed/face.
type RemoteLoader struct {
	baseURL string
	client  *http.Client
}

// NewRemoteLoader creates a loader for the embedding server at baseURL.
func NewRemoteLoader(baseURL string, client *http.Client) *RemoteLoader {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &RemoteLoader{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

// Name implements Loader.
func (l *RemoteLoader) Name() string {
	return "remote"
}

// Load checks that the server is healthy and returns a detector bound to it.
func (l *RemoteLoader) Load(ctx context.Context) (Detector, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding server unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding server unhealthy (status %d)", resp.StatusCode)
	}

	return &RemoteDetector{baseURL: l.baseURL, client: l.client}, nil
}

// RemoteDetector runs face detection on the embedding server.
type RemoteDetector struct {
	baseURL string
	client  *http.Client
}

// remoteFace represents a single detected face
type remoteFace struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// remoteFaceResponse represents the response from the face embedding endpoint
type remoteFaceResponse struct {
	FacesCount int          `json:"faces_count"`
	Faces      []remoteFace `json:"faces"`
	Model      string       `json:"model"`
}

// Detect implements Detector.
func (d *RemoteDetector) Detect(ctx context.Context, jpeg []byte) ([]Detection, error) {
	body, err := d.postMultipartImage(ctx, "/embed/face", jpeg)
	if err != nil {
		return nil, err
	}

	var faceResp remoteFaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	dets := make([]Detection, 0, len(faceResp.Faces))
	for _, f := range faceResp.Faces {
		dets = append(dets, Detection{
			Box:       BoxFromCorners(f.BBox),
			Embedding: Embedding(f.Embedding),
		})
	}
	return dets, nil
}

// postMultipartImage posts the image as the "file" form field with a MIME type
// detected from its magic bytes.
func (d *RemoteDetector) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	return "application/octet-stream"
}
