package models

import "time"

// Incident lifecycle states. The pipeline only ever creates open
// incidents; closing them is an operator action on the backend.
const (
	StatusOpen = "open"
)

// FingerprintKey derives the stable merge key for an incident.
// Windows sharing (label, source IP, dest IP) collapse into one incident;
// the same IP pair under a different label stays a separate incident.
func FingerprintKey(label, sourceIP, destIP string) string {
	return label + "|" + sourceIP + "|" + destIP
}

// Incident is a deduplicated attack record materialized from one or more
// classified windows. FirstSeenAt is set at creation and never changed;
// LastSeenAt advances on every merge.
type Incident struct {
	// ID is the backend-assigned identity, empty until the first
	// successful create.
	ID string `json:"id,omitempty"`
	// Key is a local identity assigned at creation, stable across
	// submission retries.
	Key         string `json:"key"`
	Fingerprint string `json:"fingerprint"`

	Title      string `json:"title"`
	Summary    string `json:"summary"`
	AttackType string `json:"attack_type"`
	Severity   int    `json:"severity"`
	Confidence int    `json:"confidence"`
	Status     string `json:"status"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`

	SourceIP string `json:"source_ip"`
	DestIP   string `json:"dest_ip"`
	DestPort *int   `json:"dest_port"`
	Protocol string `json:"protocol"`

	Tags         []string          `json:"tags"`
	Evidence     []*Evidence       `json:"evidence"`
	ExternalRefs map[string]string `json:"external_refs"`

	// LastSubmitError records a permanent backend rejection for
	// operator visibility. Not part of the submitted payload.
	LastSubmitError string `json:"-"`
}
