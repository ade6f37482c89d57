package mlhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/core"
	"github.com/sachin-iam/sortify/internal/metrics"
)

// Client calls the dedicated model service for the ML refinement pass.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type predictRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	UserID  string `json:"user_id,omitempty"`
}

type predictResponse struct {
	Label        string             `json:"label"`
	Confidence   float64            `json:"confidence"`
	Scores       map[string]float64 `json:"scores"`
	ModelVersion string             `json:"model_version"`
	Error        string             `json:"error"`
}

// NewClient creates a model service client.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Name identifies the backend in logs.
func (c *Client) Name() string {
	return "mlhttp"
}

// Classify posts the message to /predict and maps the response to a
// classification. Transport failures and non-2xx statuses surface as
// ErrUpstreamUnavailable; a payload without a label as ErrInvalidResponse.
func (c *Client) Classify(ctx context.Context, subject, body, userID string) (*core.Classification, error) {
	payload, err := json.Marshal(predictRequest{Subject: subject, Body: body, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model service call failed: %w", core.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()
	metrics.RefineLatency.Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("model service returned status %d: %w", resp.StatusCode, core.ErrUpstreamUnavailable)
	}

	var decoded predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode predict response: %w", core.ErrInvalidResponse)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("model service error %q: %w", decoded.Error, core.ErrInvalidResponse)
	}
	if decoded.Label == "" {
		return nil, fmt.Errorf("predict response has no label: %w", core.ErrInvalidResponse)
	}

	version := decoded.ModelVersion
	if version == "" {
		version = "model-service"
	}
	return &core.Classification{
		Label:        decoded.Label,
		Confidence:   core.ClampConfidence(decoded.Confidence),
		Method:       core.MethodPhase2ML,
		ModelVersion: version,
		ClassifiedAt: time.Now(),
	}, nil
}

// Healthy probes the model service health endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("model service health check failed: %w", core.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model service unhealthy, status %d: %w", resp.StatusCode, core.ErrUpstreamUnavailable)
	}
	return nil
}
