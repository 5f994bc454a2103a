package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pipesight/inspectord/internal/logger"
)

// Client is an HTTP client for the model execution service. The service
// hosts the actual model weights; this client treats "run model on an RGB
// frame, get a class mask or detection list" as a black-box call.
type Client struct {
	serviceURL string
	httpClient *http.Client
	logger     *logger.Logger
}

// ClientConfig contains configuration for the model service client.
type ClientConfig struct {
	ServiceURL string
	Timeout    time.Duration
}

// NewClient creates a new model service client.
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		serviceURL: cfg.ServiceURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log,
	}
}

// Initialize asks the service to load the given model. Safe to call
// repeatedly; the service reports when the model was already resident.
func (c *Client) Initialize(ctx context.Context, modelType, modelPath string) (*initializeResponse, error) {
	var resp initializeResponse
	err := c.post(ctx, "/api/v1/models/initialize", initializeRequest{
		ModelType: modelType,
		ModelPath: modelPath,
	}, &resp)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("model initialize",
		"model_type", modelType,
		"already_initialized", resp.AlreadyInitialized,
		"device", resp.Device,
	)
	return &resp, nil
}

// Segment runs dense classification on a JPEG image and returns the
// per-pixel class-id mask.
func (c *Client) Segment(ctx context.Context, jpegData []byte, modelType string) (*segmentResponse, error) {
	req := segmentRequest{
		Image:     base64.StdEncoding.EncodeToString(jpegData),
		ModelType: modelType,
	}

	start := time.Now()
	var resp segmentResponse
	if err := c.post(ctx, "/api/v1/inference/segment", req, &resp); err != nil {
		return nil, err
	}
	c.logger.Debug("segmentation completed",
		"inference_time_ms", resp.InferenceTimeMs,
		"request_duration_ms", time.Since(start).Milliseconds(),
	)
	return &resp, nil
}

// Detect runs object detection on a JPEG image.
func (c *Client) Detect(ctx context.Context, jpegData []byte, modelType string) (*detectResponse, error) {
	req := segmentRequest{
		Image:     base64.StdEncoding.EncodeToString(jpegData),
		ModelType: modelType,
	}

	var resp detectResponse
	if err := c.post(ctx, "/api/v1/inference/detect", req, &resp); err != nil {
		return nil, err
	}
	c.logger.Debug("detection completed",
		"detection_count", len(resp.Detections),
		"inference_time_ms", resp.InferenceTimeMs,
	)
	return &resp, nil
}

// HealthCheck checks whether the model service is reachable and ready.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serviceURL+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("model service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model service health check failed: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("model service returned error", "status", resp.StatusCode, "response", string(data))
		return fmt.Errorf("model service returned status %d: %s", resp.StatusCode, string(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
