// Package provider talks to the remote 3D generation service.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sentinel errors for provider client failures.
var (
	ErrProviderUnreachable = errors.New("provider unreachable")
	ErrProviderTimeout     = errors.New("provider request timeout")
	ErrProviderResponse    = errors.New("provider error response")
	ErrTaskNotFound        = errors.New("provider task not found")
)

const maxResponseBytes = 1 << 20

// Status is a live observation of one provider task.
type Status struct {
	ExternalJobID string
	Status        string
	Progress      *int
	OutputURL     string
	Error         string
}

// Client is the interface for the generation provider.
type Client interface {
	GetStatus(ctx context.Context, externalJobID string) (Status, error)
	CreateTask(ctx context.Context, imageURLs []string, webhookURL string) (string, error)
}

// HTTPClient implements Client against the provider's prediction API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a new provider HTTP client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) GetStatus(ctx context.Context, externalJobID string) (Status, error) {
	u := fmt.Sprintf("%s/v1/predictions/%s", c.baseURL, url.PathEscape(externalJobID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Status{}, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Status{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Status{}, fmt.Errorf("%w: %s", ErrTaskNotFound, externalJobID)
	}
	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("%w: status %d", ErrProviderResponse, resp.StatusCode)
	}

	var p prediction
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&p); err != nil {
		return Status{}, fmt.Errorf("%w: decoding prediction: %v", ErrProviderResponse, err)
	}
	if p.Status == "" {
		return Status{}, fmt.Errorf("%w: prediction without status", ErrProviderResponse)
	}

	return p.toStatus(externalJobID), nil
}

func (c *HTTPClient) CreateTask(ctx context.Context, imageURLs []string, webhookURL string) (string, error) {
	body := createPredictionRequest{
		Input: predictionInput{Images: imageURLs},
	}
	if webhookURL != "" {
		body.Webhook = webhookURL
		body.WebhookEventsFilter = []string{"start", "output", "completed"}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/predictions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: status %d", ErrProviderResponse, resp.StatusCode)
	}

	var p prediction
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&p); err != nil {
		return "", fmt.Errorf("%w: decoding prediction: %v", ErrProviderResponse, err)
	}
	if p.ID == "" {
		return "", fmt.Errorf("%w: prediction without id", ErrProviderResponse)
	}
	return p.ID, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
}

// --- Provider wire types ---

type createPredictionRequest struct {
	Input               predictionInput `json:"input"`
	Webhook             string          `json:"webhook,omitempty"`
	WebhookEventsFilter []string        `json:"webhook_events_filter,omitempty"`
}

type predictionInput struct {
	Images []string `json:"images"`
}

type prediction struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Progress *float64          `json:"progress,omitempty"`
	Output   *predictionOutput `json:"output,omitempty"`
	Error    *string           `json:"error,omitempty"`
}

type predictionOutput struct {
	ModelFile string `json:"model_file"`
}

func (p prediction) toStatus(fallbackID string) Status {
	s := Status{
		ExternalJobID: p.ID,
		Status:        p.Status,
	}
	if s.ExternalJobID == "" {
		s.ExternalJobID = fallbackID
	}
	if p.Progress != nil {
		v := ClampProgress(*p.Progress)
		s.Progress = &v
	}
	if p.Output != nil {
		s.OutputURL = p.Output.ModelFile
	}
	if p.Error != nil {
		s.Error = *p.Error
	}
	return s
}

// ClampProgress rounds a reported progress value into the 0 to 100 range.
func ClampProgress(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v + 0.5)
}
