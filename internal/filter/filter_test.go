package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logsentinel/pkg/models"
)

func webEvent(clientIP, path string, status int) *models.Event {
	e := models.NewEvent(models.SourceWebAccess, "raw")
	e.ClientIP = models.String(clientIP)
	e.Path = models.String(path)
	e.Status = models.Int(status)
	return e
}

func TestDropMatchesRule(t *testing.T) {
	f, err := New([]string{`Path == "/healthz"`})
	require.NoError(t, err)

	assert.True(t, f.Drop(webEvent("10.0.0.1", "/healthz", 200)))
	assert.False(t, f.Drop(webEvent("10.0.0.1", "/login", 200)))
}

func TestDropAnyRuleSuffices(t *testing.T) {
	f, err := New([]string{
		`Status == 200 && Path == "/metrics"`,
		`ClientIP startsWith "10."`,
	})
	require.NoError(t, err)

	assert.True(t, f.Drop(webEvent("10.1.2.3", "/login", 401)))
	assert.True(t, f.Drop(webEvent("203.0.113.9", "/metrics", 200)))
	assert.False(t, f.Drop(webEvent("203.0.113.9", "/login", 401)))
}

func TestDropNilFieldsAreZeroValues(t *testing.T) {
	f, err := New([]string{`Verdict == "ALLOW"`})
	require.NoError(t, err)

	// Web events carry no verdict; the rule must not match them.
	assert.False(t, f.Drop(webEvent("1.2.3.4", "/a", 200)))

	fw := models.NewEvent(models.SourceFirewall, "raw")
	fw.Verdict = models.String("ALLOW")
	assert.True(t, f.Drop(fw))
}

func TestNewRejectsInvalidRule(t *testing.T) {
	_, err := New([]string{`Status ==`})
	assert.Error(t, err)
}

func TestNewRejectsNonBoolRule(t *testing.T) {
	_, err := New([]string{`Status + 1`})
	assert.Error(t, err)
}

func TestNewSkipsBlankRules(t *testing.T) {
	f, err := New([]string{"", "  "})
	require.NoError(t, err)
	assert.False(t, f.Drop(webEvent("1.2.3.4", "/a", 200)))
}

func TestNilFilterDropsNothing(t *testing.T) {
	var f *Filter
	assert.False(t, f.Drop(webEvent("1.2.3.4", "/a", 200)))
}
