package models

import "time"

// Source identifies the log stream an event came from.
type Source string

const (
	SourceWebAccess   Source = "web-access"
	SourceApplication Source = "application"
	SourceFirewall    Source = "firewall"
)

// SourcePriority orders sources for stable merge tie-breaks.
func SourcePriority(s Source) int {
	switch s {
	case SourceWebAccess:
		return 0
	case SourceApplication:
		return 1
	case SourceFirewall:
		return 2
	default:
		return 3
	}
}

// EventColumns is the canonical column order for exported events.
// Downstream consumers depend on this order; do not reorder.
var EventColumns = []string{
	"timestamp",
	"source",
	"client_ip",
	"method",
	"path",
	"status",
	"bytes_sent",
	"referer",
	"user_agent",
	"level",
	"latency_ms",
	"user",
	"message",
	"hostname",
	"verdict",
	"src_ip",
	"dst_ip",
	"proto",
	"src_port",
	"dst_port",
	"raw_line",
	"parse_ok",
	"parse_error",
}

// Event is one normalized log record. All typed fields are optional;
// a failed parse keeps only source, raw_line and parse_error populated.
// Events are immutable once produced by a parser.
type Event struct {
	Timestamp  *time.Time `json:"timestamp"`
	Source     Source     `json:"source"`
	ClientIP   *string    `json:"client_ip"`
	Method     *string    `json:"method"`
	Path       *string    `json:"path"`
	Status     *int       `json:"status"`
	BytesSent  *int64     `json:"bytes_sent"`
	Referer    *string    `json:"referer"`
	UserAgent  *string    `json:"user_agent"`
	Level      *string    `json:"level"`
	LatencyMS  *float64   `json:"latency_ms"`
	User       *string    `json:"user"`
	Message    *string    `json:"message"`
	Hostname   *string    `json:"hostname"`
	Verdict    *string    `json:"verdict"`
	SrcIP      *string    `json:"src_ip"`
	DstIP      *string    `json:"dst_ip"`
	Proto      *string    `json:"proto"`
	SrcPort    *int       `json:"src_port"`
	DstPort    *int       `json:"dst_port"`
	RawLine    string     `json:"raw_line"`
	ParseOK    bool       `json:"parse_ok"`
	ParseError *string    `json:"parse_error"`

	// Seq is the arrival order assigned by the normalizer.
	Seq int64 `json:"-"`
}

// NewEvent creates an event pre-populated with the required fields.
func NewEvent(source Source, rawLine string) *Event {
	return &Event{
		Source:  source,
		RawLine: rawLine,
		ParseOK: true,
	}
}

// ParseFailure creates an event carrying a parse error. The raw line is
// preserved verbatim for traceability back to the source text.
func ParseFailure(source Source, rawLine, reason string) *Event {
	return &Event{
		Source:     source,
		RawLine:    rawLine,
		ParseOK:    false,
		ParseError: &reason,
	}
}

// OriginIP returns the attacker-side IP for the event: the firewall
// source IP when present, otherwise the HTTP client IP.
func (e *Event) OriginIP() string {
	if e.SrcIP != nil {
		return *e.SrcIP
	}
	if e.ClientIP != nil {
		return *e.ClientIP
	}
	return ""
}

// String returns a pointer to s.
func String(s string) *string { return &s }

// Int returns a pointer to n.
func Int(n int) *int { return &n }
