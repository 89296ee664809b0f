package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"logsentinel/pkg/models"
)

// HTTPConfig configures the external scoring endpoint.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// HTTPClassifier posts window evidence to an external scoring service.
type HTTPClassifier struct {
	url     string
	headers map[string]string
	client  *http.Client
}

type classifyRequest struct {
	WindowID    int64            `json:"window_id"`
	WindowStart time.Time        `json:"window_start"`
	WindowEnd   time.Time        `json:"window_end"`
	Evidence    *models.Evidence `json:"evidence"`
}

type classifyResponse struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// NewHTTPClassifier creates an HTTP classifier.
func NewHTTPClassifier(cfg HTTPConfig) (*HTTPClassifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("classifier URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClassifier{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Classify posts the window's evidence and decodes the verdict.
// Network failures, timeouts and 5xx responses are transient; a 4xx or
// malformed body is permanent.
func (c *HTTPClassifier) Classify(ctx context.Context, w *models.Window) (*models.ClassificationResult, error) {
	body, err := json.Marshal(classifyRequest{
		WindowID:    w.ID,
		WindowStart: w.Start,
		WindowEnd:   w.End,
		Evidence:    w.Evidence,
	})
	if err != nil {
		return nil, Permanent(fmt.Errorf("marshal classify request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(fmt.Errorf("create classify request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("classifier returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	if resp.StatusCode >= 300 {
		return nil, Permanent(fmt.Errorf("classifier rejected request with %s: %s",
			resp.Status, strings.TrimSpace(string(respBody))))
	}

	var out classifyResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, Permanent(fmt.Errorf("malformed classifier output: %w", err))
	}
	return &models.ClassificationResult{
		WindowID:    w.ID,
		Label:       out.Label,
		Probability: out.Probability,
	}, nil
}
