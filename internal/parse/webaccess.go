package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"logsentinel/pkg/models"
)

// webAccessPattern matches the combined access log format.
var webAccessPattern = regexp.MustCompile(
	`^(?P<client_ip>[\d.:a-fA-F]+)\s+\S+\s+\S+\s+\[` +
		`(?P<timestamp>[^\]]+)\]\s+"(?P<method>[A-Z]+)\s+` +
		`(?P<path>[^ ]+)\s+HTTP/(?P<http_version>[^"]+)"\s+` +
		`(?P<status>\d{3})\s+(?P<bytes_sent>\d+|-)` +
		`\s+"(?P<referer>[^"]*)"\s+"(?P<user_agent>[^"]*)"`)

const webAccessTimeLayout = "02/Jan/2006:15:04:05 -0700"

// WebAccessParser parses combined-format web server access logs.
type WebAccessParser struct{}

// Source returns the web-access tag.
func (p *WebAccessParser) Source() models.Source { return models.SourceWebAccess }

// Parse converts one access log line into an event. The declared
// timezone offset is converted to UTC.
func (p *WebAccessParser) Parse(line string) *models.Event {
	raw := strings.TrimRight(line, "\n")
	m := webAccessPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return models.ParseFailure(models.SourceWebAccess, raw, "failed to match web access log pattern")
	}

	ts, err := time.Parse(webAccessTimeLayout, m[2])
	if err != nil {
		return models.ParseFailure(models.SourceWebAccess, raw, "invalid access log timestamp: "+m[2])
	}
	utc := ts.UTC()

	status, err := strconv.Atoi(m[6])
	if err != nil {
		return models.ParseFailure(models.SourceWebAccess, raw, "invalid status: "+m[6])
	}

	event := models.NewEvent(models.SourceWebAccess, raw)
	event.Timestamp = &utc
	event.ClientIP = models.String(m[1])
	event.Method = models.String(m[3])
	event.Path = models.String(m[4])
	event.Status = &status

	if m[7] != "-" {
		if n, err := strconv.ParseInt(m[7], 10, 64); err == nil {
			event.BytesSent = &n
		}
	}
	if m[8] != "" {
		event.Referer = models.String(m[8])
	}
	if m[9] != "" {
		event.UserAgent = models.String(m[9])
	}
	return event
}
