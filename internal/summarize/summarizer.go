package summarize

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

// Summary is a natural-language incident title and description.
type Summary struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Summarizer turns window evidence into a title and description.
// Implementations are failure-tolerant collaborators: an error here
// never blocks incident creation.
type Summarizer interface {
	Summarize(ctx context.Context, label string, ev *models.Evidence) (*Summary, error)
}

// HTTPConfig configures the external summarizer endpoint.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// HTTPSummarizer posts evidence to an external summarization service.
type HTTPSummarizer struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPSummarizer creates an HTTP summarizer.
func NewHTTPSummarizer(cfg HTTPConfig) (*HTTPSummarizer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("summarizer URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSummarizer{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Summarize posts the label and evidence and decodes the text pair.
func (s *HTTPSummarizer) Summarize(ctx context.Context, label string, ev *models.Evidence) (*Summary, error) {
	body, err := json.Marshal(struct {
		Label    string           `json:"label"`
		Evidence *models.Evidence `json:"evidence"`
	}{Label: label, Evidence: ev})
	if err != nil {
		return nil, fmt.Errorf("marshal summarize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create summarize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("summarizer request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("summarizer returned %s", resp.Status)
	}

	var out Summary
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("malformed summarizer output: %w", err)
	}
	if strings.TrimSpace(out.Title) == "" {
		return nil, fmt.Errorf("summarizer returned an empty title")
	}
	return &out, nil
}

// Fallback builds a templated title and description from evidence.
// Used when no summarizer is configured or the call fails, so an
// incident always has a usable title.
func Fallback(label string, ev *models.Evidence) *Summary {
	title := "Incident: " + label

	var b strings.Builder
	fmt.Fprintf(&b, "Detected %s activity across %d events", label, ev.Total)
	if len(ev.TopSrcIPs) > 0 {
		fmt.Fprintf(&b, "; top source %s (%d hits)", ev.TopSrcIPs[0].Value, ev.TopSrcIPs[0].Count)
	} else if len(ev.TopClientIPs) > 0 {
		fmt.Fprintf(&b, "; top client %s (%d hits)", ev.TopClientIPs[0].Value, ev.TopClientIPs[0].Count)
	}
	if len(ev.TopDstPorts) > 0 {
		fmt.Fprintf(&b, "; ports %s", joinValues(ev.TopDstPorts, 3))
	}
	if len(ev.TopPaths) > 0 {
		fmt.Fprintf(&b, "; paths %s", joinValues(ev.TopPaths, 3))
	}
	b.WriteString(".")

	return &Summary{Title: title, Description: b.String()}
}

func joinValues(items []models.CountItem, max int) string {
	if len(items) > max {
		items = items[:max]
	}
	values := make([]string, len(items))
	for i, item := range items {
		values[i] = item.Value
	}
	return strings.Join(values, ", ")
}
