package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestWindowIDAndStartRoundTrip(t *testing.T) {
	size := time.Minute
	ts := time.Date(2026, 1, 7, 9, 0, 35, 0, time.UTC)

	id := WindowID(ts, size)
	start := WindowStart(id, size)
	if !start.Equal(time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected window start: %v", start)
	}

	// The window is half-open: the last second of the minute still maps
	// to the same bucket, the next second to the following one.
	if WindowID(start.Add(59*time.Second), size) != id {
		t.Fatalf("end of window mapped to a different bucket")
	}
	if WindowID(start.Add(60*time.Second), size) != id+1 {
		t.Fatalf("next window start did not map to the following bucket")
	}
}

func TestFingerprintKey(t *testing.T) {
	got := FingerprintKey("bruteforce", "198.51.100.9", "10.0.0.7")
	if got != "bruteforce|198.51.100.9|10.0.0.7" {
		t.Fatalf("unexpected fingerprint: %s", got)
	}
	if got == FingerprintKey("scan", "198.51.100.9", "10.0.0.7") {
		t.Fatalf("label must be part of the fingerprint")
	}
}

func TestOriginIPPrefersFirewallSource(t *testing.T) {
	e := NewEvent(SourceFirewall, "raw")
	e.SrcIP = String("198.51.100.9")
	e.ClientIP = String("203.0.113.9")
	if e.OriginIP() != "198.51.100.9" {
		t.Fatalf("expected firewall source IP, got %s", e.OriginIP())
	}

	e = NewEvent(SourceWebAccess, "raw")
	e.ClientIP = String("203.0.113.9")
	if e.OriginIP() != "203.0.113.9" {
		t.Fatalf("expected client IP, got %s", e.OriginIP())
	}

	if (NewEvent(SourceApplication, "raw")).OriginIP() != "" {
		t.Fatalf("expected empty origin for event without IPs")
	}
}

func TestParseFailureKeepsRawLine(t *testing.T) {
	e := ParseFailure(SourceWebAccess, "garbage in", "no match")
	if e.ParseOK {
		t.Fatalf("parse failure must not be ok")
	}
	if e.RawLine != "garbage in" || e.ParseError == nil || *e.ParseError != "no match" {
		t.Fatalf("raw line or error not preserved: %+v", e)
	}
}

func TestEventJSONNullsOptionalFields(t *testing.T) {
	e := NewEvent(SourceApplication, "raw")
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"timestamp", "client_ip", "status", "parse_error"} {
		v, ok := m[key]
		if !ok {
			t.Fatalf("column %s missing from JSON", key)
		}
		if v != nil {
			t.Fatalf("column %s should be null, got %v", key, v)
		}
	}
	if m["source"] != "application" || m["parse_ok"] != true {
		t.Fatalf("unexpected required fields: %v", m)
	}
	if _, ok := m["Seq"]; ok {
		t.Fatalf("internal sequence must not serialize")
	}
}

func TestEventColumnsCoverEventJSON(t *testing.T) {
	data, err := json.Marshal(NewEvent(SourceWebAccess, "raw"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(m) != len(EventColumns) {
		t.Fatalf("event JSON has %d fields, canonical schema has %d", len(m), len(EventColumns))
	}
	for _, col := range EventColumns {
		if _, ok := m[col]; !ok {
			t.Fatalf("canonical column %s missing from event JSON", col)
		}
	}
}

func TestSourcePriorityOrder(t *testing.T) {
	if !(SourcePriority(SourceWebAccess) < SourcePriority(SourceApplication)) {
		t.Fatalf("web-access must sort before application")
	}
	if !(SourcePriority(SourceApplication) < SourcePriority(SourceFirewall)) {
		t.Fatalf("application must sort before firewall")
	}
	if SourcePriority(Source("other")) <= SourcePriority(SourceFirewall) {
		t.Fatalf("unknown sources must sort last")
	}
}
