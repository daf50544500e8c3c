// Package faceclient talks to an external face model service. It lets a
// learned embedding model stand in for the built-in block-mean extractor.
package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"smartattendance/internal/apperr"
	"smartattendance/internal/face"
)

// FaceQuality is the detector output reported by the service.
type FaceQuality struct {
	Score        float64  `json:"score"`
	PoseYaw      float64  `json:"pose_yaw"`
	PoseRoll     float64  `json:"pose_roll"`
	LeftEyeOpen  *float64 `json:"left_eye_open"`
	RightEyeOpen *float64 `json:"right_eye_open"`
	Box          face.Box `json:"box"`
}

// Detection converts service output to the gate's input.
func (q FaceQuality) Detection() *face.Detection {
	return &face.Detection{
		Box:          q.Box,
		Yaw:          q.PoseYaw,
		Roll:         q.PoseRoll,
		LeftEyeOpen:  q.LeftEyeOpen,
		RightEyeOpen: q.RightEyeOpen,
	}
}

// EmbedResult contains the face embedding and detection confidence.
type EmbedResult struct {
	Embedding     []float32    `json:"embedding"`
	Score         float64      `json:"score"`
	FacesDetected int          `json:"faces_detected"`
	Quality       *FaceQuality `json:"quality"`
}

// Client calls the face model microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client with configurable timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Extract implements face.Extractor against POST /embed.
func (c *Client) Extract(ctx context.Context, img []byte, box face.Box) ([]float64, error) {
	res, err := c.embed(ctx, img, &box)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(res.Embedding))
	for i, v := range res.Embedding {
		out[i] = float64(v)
	}
	face.Normalize(out)
	return out, nil
}

// Detect asks the service to locate a face. It returns nil when none is found.
func (c *Client) Detect(ctx context.Context, img []byte) (*face.Detection, error) {
	res, err := c.embed(ctx, img, nil)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeVerificationError {
			return nil, nil
		}
		return nil, err
	}
	if res.FacesDetected == 0 || res.Quality == nil {
		return nil, nil
	}
	return res.Quality.Detection(), nil
}

func (c *Client) embed(ctx context.Context, img []byte, box *face.Box) (*EmbedResult, error) {
	if len(img) == 0 {
		return nil, apperr.New(apperr.CodeVerificationError, "image required")
	}
	payload := map[string]any{"image": img}
	if box != nil {
		payload["box"] = box
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, apperr.New(apperr.CodeVerificationError, string(bodyBytes))
	}
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out EmbedResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, apperr.New(apperr.CodeVerificationError, "no face detected in image")
	}
	return &out, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

var _ face.Extractor = (*Client)(nil)
