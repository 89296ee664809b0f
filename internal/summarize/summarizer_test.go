package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logsentinel/pkg/models"
)

func TestFallbackBuildsTitleAndDescription(t *testing.T) {
	ev := &models.Evidence{
		Total: 120,
		TopSrcIPs: []models.CountItem{
			{Value: "198.51.100.9", Count: 80},
		},
		TopDstPorts: []models.CountItem{
			{Value: "22", Count: 80},
			{Value: "2222", Count: 40},
		},
	}

	s := Fallback("bruteforce", ev)
	assert.Equal(t, "Incident: bruteforce", s.Title)
	assert.Contains(t, s.Description, "bruteforce")
	assert.Contains(t, s.Description, "120 events")
	assert.Contains(t, s.Description, "198.51.100.9")
	assert.Contains(t, s.Description, "22, 2222")
}

func TestFallbackEmptyEvidence(t *testing.T) {
	s := Fallback("scan", &models.Evidence{})
	assert.Equal(t, "Incident: scan", s.Title)
	assert.NotEmpty(t, s.Description)
}

func TestFallbackPrefersClientIPWhenNoSrc(t *testing.T) {
	ev := &models.Evidence{
		Total:        10,
		TopClientIPs: []models.CountItem{{Value: "203.0.113.9", Count: 10}},
	}
	s := Fallback("scraper", ev)
	assert.Contains(t, s.Description, "203.0.113.9")
}

func TestHTTPSummarizerRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Label    string           `json:"label"`
			Evidence *models.Evidence `json:"evidence"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bruteforce", req.Label)
		json.NewEncoder(w).Encode(Summary{Title: "SSH brute force from one host", Description: "desc"})
	}))
	defer srv.Close()

	s, err := NewHTTPSummarizer(HTTPConfig{URL: srv.URL})
	require.NoError(t, err)

	out, err := s.Summarize(context.Background(), "bruteforce", &models.Evidence{Total: 5})
	require.NoError(t, err)
	assert.Equal(t, "SSH brute force from one host", out.Title)
}

func TestHTTPSummarizerEmptyTitleIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Summary{Title: "  ", Description: "text"})
	}))
	defer srv.Close()

	s, err := NewHTTPSummarizer(HTTPConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = s.Summarize(context.Background(), "scan", &models.Evidence{})
	assert.Error(t, err)
}

func TestHTTPSummarizerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, err := NewHTTPSummarizer(HTTPConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = s.Summarize(context.Background(), "scan", &models.Evidence{})
	assert.Error(t, err)
}
