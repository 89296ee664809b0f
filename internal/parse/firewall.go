package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"logsentinel/pkg/models"
)

// firewallPattern matches syslog-style UFW kernel lines, e.g.
//
//	Jan  7 08:52:06 web-1 kernel: [UFW BLOCK] IN=eth0 ... SRC=49.202.24.19 DST=203.0.113.20 ... PROTO=TCP SPT=54321 DPT=80 ...
var firewallPattern = regexp.MustCompile(
	`^(?P<month>[A-Z][a-z]{2})\s+(?P<day>\d{1,2})\s+(?P<time>\d{2}:\d{2}:\d{2})\s+` +
		`(?P<hostname>\S+)\s+\S+:\s+\[UFW\s+(?P<verdict>ALLOW|BLOCK|DENY|REJECT)\]\s+` +
		`.*?\bSRC=(?P<src_ip>\S+)\s+DST=(?P<dst_ip>\S+)` +
		`.*?\bPROTO=(?P<proto>\w+)\s+SPT=(?P<spt>\d+)\s+DPT=(?P<dpt>\d+)`)

// yearRolloverTolerance is how far in the future an injected-year
// timestamp may land before the previous year is assumed instead.
const yearRolloverTolerance = 24 * time.Hour

// FirewallParser parses firewall verdict lines. Syslog timestamps carry
// no year, so the current year is injected; a result further than the
// tolerance in the future rolls back one year (December logs parsed in
// January). Timestamps are interpreted in local time, then converted to UTC.
type FirewallParser struct {
	Now func() time.Time
}

// Source returns the firewall tag.
func (p *FirewallParser) Source() models.Source { return models.SourceFirewall }

// Parse converts one firewall log line into an event.
func (p *FirewallParser) Parse(line string) *models.Event {
	raw := strings.TrimRight(line, "\n")
	m := firewallPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return models.ParseFailure(models.SourceFirewall, raw, "failed to match firewall log pattern")
	}

	ts, err := p.buildTimestamp(m[1], m[2], m[3])
	if err != nil {
		return models.ParseFailure(models.SourceFirewall, raw, err.Error())
	}

	event := models.NewEvent(models.SourceFirewall, raw)
	event.Timestamp = &ts
	event.Hostname = models.String(m[4])
	event.Verdict = models.String(m[5])
	event.SrcIP = models.String(m[6])
	event.DstIP = models.String(m[7])
	event.Proto = models.String(m[8])
	if n, err := strconv.Atoi(m[9]); err == nil {
		event.SrcPort = &n
	}
	if n, err := strconv.Atoi(m[10]); err == nil {
		event.DstPort = &n
	}
	return event
}

func (p *FirewallParser) buildTimestamp(month, day, clock string) (time.Time, error) {
	now := p.Now()
	candidate, err := time.ParseInLocation(
		"2006 Jan 2 15:04:05",
		fmt.Sprintf("%d %s %s %s", now.Year(), month, day, clock),
		now.Location(),
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid firewall timestamp %s %s %s", month, day, clock)
	}

	if candidate.Sub(now) > yearRolloverTolerance {
		candidate = candidate.AddDate(-1, 0, 0)
	}
	return candidate.UTC(), nil
}
