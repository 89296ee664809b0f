package models

import "time"

// WindowID returns the fixed-window bucket for a timestamp: floor(unix/size).
func WindowID(ts time.Time, size time.Duration) int64 {
	sec := int64(size / time.Second)
	if sec <= 0 {
		sec = 1
	}
	return ts.Unix() / sec
}

// WindowStart returns the inclusive start of a window bucket.
func WindowStart(id int64, size time.Duration) time.Time {
	sec := int64(size / time.Second)
	if sec <= 0 {
		sec = 1
	}
	return time.Unix(id*sec, 0).UTC()
}

// Window is a half-open interval [Start, End) over normalized events,
// the unit of classification. Sealed windows are never mutated.
type Window struct {
	ID       int64     `json:"window_id"`
	Start    time.Time `json:"window_start"`
	End      time.Time `json:"window_end"`
	Events   []*Event  `json:"-"`
	Evidence *Evidence `json:"evidence,omitempty"`
}

// CountItem is one value of a bounded top-k aggregation.
type CountItem struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Evidence is the compact, bounded aggregation of a window's events fed
// to classifiers and summarizers. It is deterministic for a given event set.
type Evidence struct {
	Total       int `json:"total"`
	WebAccess   int `json:"web_access"`
	Application int `json:"application"`
	Firewall    int `json:"firewall"`

	StatusCounts  map[int]int    `json:"status_counts,omitempty"`
	VerdictCounts map[string]int `json:"verdict_counts,omitempty"`

	TopClientIPs []CountItem `json:"top_client_ips,omitempty"`
	TopSrcIPs    []CountItem `json:"top_src_ips,omitempty"`
	TopPaths     []CountItem `json:"top_paths,omitempty"`
	TopDstPorts  []CountItem `json:"top_dst_ports,omitempty"`

	// Distinct counts saturate at the configured bound.
	DistinctClientIPs int `json:"distinct_client_ips"`
	DistinctSrcIPs    int `json:"distinct_src_ips"`

	SampleLines []string `json:"sample_lines,omitempty"`
}

// ClassificationResult is the verdict an external scorer attached to a
// sealed window. It is never mutated after being produced.
type ClassificationResult struct {
	WindowID    int64   `json:"window_id"`
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// LabelHealthy marks a window with no detected threat.
const LabelHealthy = "healthy"
