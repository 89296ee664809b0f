package parse

import (
	"time"

	"logsentinel/pkg/models"
)

// Parser converts one raw line into a canonical event. Parse never fails
// past this boundary: grammar mismatches yield an event with
// parse_ok=false and the verbatim line preserved.
type Parser interface {
	Source() models.Source
	Parse(line string) *models.Event
}

// ForSource returns the parser for a source tag. The now function feeds
// the firewall parser's year injection; pass nil for time.Now.
func ForSource(source models.Source, now func() time.Time) Parser {
	if now == nil {
		now = time.Now
	}
	switch source {
	case models.SourceApplication:
		return &ApplicationParser{}
	case models.SourceFirewall:
		return &FirewallParser{Now: now}
	default:
		return &WebAccessParser{}
	}
}
