// Package faceclient talks to the external face recognition service. The
// service is a black box: detection, embedding, and matching all happen on
// its side, and this client never reimplements any of it.
package faceclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// Box is a detection bounding box in frame coordinates.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Detection is one detected face with its 128-dimension descriptor.
type Detection struct {
	Box        Box       `json:"box"`
	Descriptor []float32 `json:"descriptor"`
}

// Match is the nearest-reference result for a descriptor.
type Match struct {
	Label     string  `json:"label"`
	Distance  float64 `json:"distance"`
	Threshold float64 `json:"threshold"`
	Matched   bool    `json:"matched"`
}

// DescriptorLen is the descriptor size the service produces.
const DescriptorLen = 128

// Client calls the face recognition service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Skip enables a deterministic mock mode that needs
// no live service.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face processing can take time
		},
	}
}

// LoadModels asks the service to load its three model artifacts from the
// given static asset path.
func (c *Client) LoadModels(ctx context.Context, path string) error {
	if c.Skip {
		return nil
	}
	body, _ := json.Marshal(map[string]string{"path": path})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/models/load", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}
	return nil
}

// DetectAndDescribe runs detection on a frame and returns every face
// found, each with a bounding box and descriptor.
func (c *Client) DetectAndDescribe(ctx context.Context, frame []byte) ([]Detection, error) {
	if c.Skip {
		return mockDetect(frame), nil
	}
	body, _ := json.Marshal(map[string]string{
		"frame": base64.StdEncoding.EncodeToString(frame),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Detections []Detection `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Detections, nil
}

// BestMatch compares a descriptor against the enrolled reference for the
// given label. The distance threshold belongs to the service.
func (c *Client) BestMatch(ctx context.Context, descriptor []float32, label string) (Match, error) {
	if c.Skip {
		return mockMatch(descriptor, label), nil
	}
	body, _ := json.Marshal(map[string]interface{}{
		"descriptor": descriptor,
		"label":      label,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/match", bytes.NewReader(body))
	if err != nil {
		return Match{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Match{}, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return Match{}, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out Match
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Match{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
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

const mockThreshold = 0.6

// mockDetect treats the frame payload as a label: an empty frame is "no
// face", anything else is one face whose descriptor encodes the payload.
func mockDetect(frame []byte) []Detection {
	if len(frame) == 0 {
		return nil
	}
	return []Detection{{
		Box:        Box{X: 120, Y: 80, W: 200, H: 200},
		Descriptor: MockDescriptor(string(frame)),
	}}
}

func mockMatch(descriptor []float32, label string) Match {
	ref := MockDescriptor(label)
	if len(descriptor) != len(ref) {
		return Match{Label: label, Distance: math.Inf(1), Threshold: mockThreshold}
	}
	var sum float64
	for i := range ref {
		d := float64(descriptor[i] - ref[i])
		sum += d * d
	}
	dist := math.Sqrt(sum)
	return Match{
		Label:     label,
		Distance:  dist,
		Threshold: mockThreshold,
		Matched:   dist < mockThreshold,
	}
}

// MockDescriptor derives a stable descriptor from a seed string, for the
// skip mode and tests.
func MockDescriptor(seed string) []float32 {
	var n int
	for _, r := range seed {
		n += int(r)
	}
	out := make([]float32, DescriptorLen)
	for i := range out {
		out[i] = float32(math.Sin(float64(n+i)) * 0.5)
	}
	return out
}
