package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"logsentinel/pkg/models"
)

// appTimestampPattern matches the leading ISO-8601 token of an
// application log line.
var appTimestampPattern = regexp.MustCompile(
	`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?Z$`)

// ApplicationParser parses key=value application logs of the form
//
//	2026-01-07T09:26:51.011Z level=INFO ip=203.0.113.9 method=GET path=/x status=200 latency_ms=123 user=alice msg="ok"
//
// Keys other than the timestamp are optional; a missing key leaves the
// field null rather than failing the line.
type ApplicationParser struct{}

// Source returns the application tag.
func (p *ApplicationParser) Source() models.Source { return models.SourceApplication }

// Parse converts one application log line into an event.
func (p *ApplicationParser) Parse(line string) *models.Event {
	raw := strings.TrimRight(line, "\n")
	trimmed := strings.TrimSpace(raw)

	head, rest, _ := strings.Cut(trimmed, " ")
	if !appTimestampPattern.MatchString(head) {
		return models.ParseFailure(models.SourceApplication, raw, "failed to match application log pattern")
	}
	ts, err := time.Parse(time.RFC3339Nano, head)
	if err != nil {
		return models.ParseFailure(models.SourceApplication, raw, "invalid application log timestamp: "+head)
	}
	utc := ts.UTC()

	event := models.NewEvent(models.SourceApplication, raw)
	event.Timestamp = &utc

	for key, value := range splitKV(rest) {
		switch key {
		case "level":
			event.Level = models.String(value)
		case "ip":
			event.ClientIP = models.String(value)
		case "method":
			event.Method = models.String(value)
		case "path":
			event.Path = models.String(value)
		case "status":
			if n, err := strconv.Atoi(value); err == nil {
				event.Status = &n
			}
		case "latency_ms":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				event.LatencyMS = &f
			}
		case "user":
			if value != "-" && value != "null" {
				event.User = models.String(value)
			}
		case "msg":
			event.Message = models.String(value)
		}
	}
	return event
}

// splitKV tokenizes key=value pairs, honoring one double-quoted value
// (the message field).
func splitKV(s string) map[string]string {
	out := make(map[string]string, 8)
	i := 0
	for i < len(s) {
		for i < len(s) && s[i] == ' ' {
			i++
		}
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			break
		}
		key := s[i : i+eq]
		i += eq + 1

		var value string
		if i < len(s) && s[i] == '"' {
			end := strings.IndexByte(s[i+1:], '"')
			if end < 0 {
				value = s[i+1:]
				i = len(s)
			} else {
				value = s[i+1 : i+1+end]
				i += end + 2
			}
		} else {
			end := strings.IndexByte(s[i:], ' ')
			if end < 0 {
				value = s[i:]
				i = len(s)
			} else {
				value = s[i : i+end]
				i += end
			}
		}
		out[key] = value
	}
	return out
}
