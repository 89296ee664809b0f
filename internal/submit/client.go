package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"logsentinel/internal/logging"
	"logsentinel/internal/metrics"
	"logsentinel/pkg/models"
)

// PermanentError marks a backend rejection (4xx) that retrying cannot fix.
type PermanentError struct {
	Status int
	Body   string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("backend rejected incident with status %d: %s", e.Status, e.Body)
}

// IsPermanent reports whether err is a backend validation rejection.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Config configures the incident backend client.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Headers      map[string]string
}

// Client submits incidents to the backend store: POST to create, PATCH
// to update once a backend identity has been assigned. Transient
// failures retry with exponential backoff and jitter; a 4xx is recorded
// on the incident and surfaced as permanent.
type Client struct {
	base       string
	headers    map[string]string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	rng        *rand.Rand
}

// NewClient creates a backend client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Client{
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		headers:    cfg.Headers,
		client:     &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
		backoff:    backoff,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Submit creates or updates the incident. On the first successful
// create the backend identity is captured on the incident, so replays
// and later merges PATCH the same record instead of creating duplicates.
func (c *Client) Submit(ctx context.Context, inc *models.Incident) error {
	method := http.MethodPost
	url := c.base + "/api/incidents/"
	if inc.ID != "" {
		method = http.MethodPatch
		url = c.base + "/api/incidents/" + inc.ID + "/"
	}

	body, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("marshal incident %s: %w", inc.Key, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.SubmitRetries.Inc()
			logging.Warnf("Retrying incident submission %s (attempt %d/%d): %v",
				inc.Key, attempt, c.maxRetries, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.sleepFor(attempt)):
			}
		}

		err := c.doSubmit(ctx, method, url, body, inc)
		if err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			inc.LastSubmitError = pe.Error()
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("incident submission failed after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) doSubmit(ctx context.Context, method, url string, body []byte, inc *models.Incident) error {
	// An attempt already on the wire runs to completion so a half-applied
	// create never loses its backend id; Submit observes cancellation
	// between attempts, and the client timeout bounds each request.
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("backend returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	case resp.StatusCode >= 400:
		return &PermanentError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if inc.ID == "" {
		var created struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(respBody, &created); err != nil {
			return &PermanentError{Status: resp.StatusCode, Body: "create response is not valid JSON"}
		}
		if created.ID == "" {
			return &PermanentError{Status: resp.StatusCode, Body: "create response carries no incident id"}
		}
		inc.ID = created.ID
	}
	return nil
}

// sleepFor grows exponentially per attempt with up to one backoff unit
// of jitter.
func (c *Client) sleepFor(attempt int) time.Duration {
	backoff := c.backoff << (attempt - 1)
	jitter := time.Duration(c.rng.Int63n(int64(c.backoff)))
	return backoff + jitter
}
