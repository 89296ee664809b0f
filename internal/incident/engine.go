package incident

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"logsentinel/internal/logging"
	"logsentinel/internal/summarize"
	"logsentinel/pkg/models"
)

// Config controls decision behavior.
type Config struct {
	// MergeRecency bounds how long after its last window an open
	// incident still absorbs new windows with the same fingerprint.
	MergeRecency time.Duration
	// MaxEvidence bounds the evidence list carried per incident.
	MaxEvidence int
	// IncludeHealthy lets healthy windows materialize incidents too.
	IncludeHealthy bool
	// AssetIP is the destination recorded when the window has no
	// firewall destination evidence.
	AssetIP string
	// WindowSize sizes the default merge recency (3x) when none is set.
	WindowSize time.Duration
}

// Decision is the engine's outcome for one classified window.
type Decision struct {
	Incident *models.Incident
	Created  bool
}

// Engine turns classified windows into incident creates or merges.
// All decisions are serialized through one mutex so racing windows can
// never create duplicate incidents for a fingerprint.
type Engine struct {
	mu         sync.Mutex
	cfg        Config
	open       map[string]*models.Incident
	summarizer summarize.Summarizer
}

// NewEngine creates an engine seeded with previously persisted open
// incidents. summarizer may be nil; templated text is used instead.
func NewEngine(cfg Config, summarizer summarize.Summarizer, seed map[string]*models.Incident) *Engine {
	if cfg.MergeRecency <= 0 {
		size := cfg.WindowSize
		if size <= 0 {
			size = time.Minute
		}
		cfg.MergeRecency = 3 * size
	}
	if cfg.MaxEvidence <= 0 {
		cfg.MaxEvidence = 20
	}
	if cfg.AssetIP == "" {
		cfg.AssetIP = "0.0.0.0"
	}

	open := make(map[string]*models.Incident, len(seed))
	for fp, inc := range seed {
		if inc != nil && inc.Status == models.StatusOpen {
			open[fp] = inc
		}
	}
	return &Engine{cfg: cfg, open: open, summarizer: summarizer}
}

// Decide maps a classified window to a create, a merge, or nil (drop).
func (e *Engine) Decide(ctx context.Context, w *models.Window, res *models.ClassificationResult) *Decision {
	if res == nil {
		return nil
	}
	if res.Label == models.LabelHealthy && !e.cfg.IncludeHealthy {
		return nil
	}

	srcIP, dstIP, dstPort, proto := dominantEndpoints(w.Events)
	if dstIP == "" {
		dstIP = e.cfg.AssetIP
	}
	if srcIP == "" {
		srcIP = "0.0.0.0"
	}
	fp := models.FingerprintKey(res.Label, srcIP, dstIP)

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.open[fp]; ok && existing.Status == models.StatusOpen {
		if w.Start.Sub(existing.LastSeenAt) <= e.cfg.MergeRecency {
			e.merge(existing, w, res)
			return &Decision{Incident: existing, Created: false}
		}
		// Recency expired: the old record stays behind while a fresh
		// incident takes over the fingerprint slot.
		delete(e.open, fp)
	}

	inc := e.create(ctx, w, res, fp, srcIP, dstIP, dstPort, proto)
	e.open[fp] = inc
	return &Decision{Incident: inc, Created: true}
}

// Snapshot copies the open-incident arena for persistence.
func (e *Engine) Snapshot() map[string]*models.Incident {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]*models.Incident, len(e.open))
	for fp, inc := range e.open {
		out[fp] = inc
	}
	return out
}

func (e *Engine) merge(inc *models.Incident, w *models.Window, res *models.ClassificationResult) {
	if w.Start.After(inc.LastSeenAt) {
		inc.LastSeenAt = w.Start
	}
	if sev := scaleSeverity(res.Probability); sev > inc.Severity {
		inc.Severity = sev
	}
	if w.Evidence != nil {
		inc.Evidence = append(inc.Evidence, w.Evidence)
		if len(inc.Evidence) > e.cfg.MaxEvidence {
			inc.Evidence = inc.Evidence[len(inc.Evidence)-e.cfg.MaxEvidence:]
		}
	}
}

func (e *Engine) create(ctx context.Context, w *models.Window, res *models.ClassificationResult,
	fp, srcIP, dstIP string, dstPort *int, proto string) *models.Incident {

	if proto == "" {
		proto = "other"
	}

	inc := &models.Incident{
		Key:          uuid.NewString(),
		Fingerprint:  fp,
		AttackType:   res.Label,
		Severity:     scaleSeverity(res.Probability),
		Confidence:   scaleSeverity(res.Probability),
		Status:       models.StatusOpen,
		FirstSeenAt:  w.Start,
		LastSeenAt:   w.Start,
		SourceIP:     srcIP,
		DestIP:       dstIP,
		DestPort:     dstPort,
		Protocol:     proto,
		Tags:         []string{res.Label},
		ExternalRefs: map[string]string{},
	}
	if w.Evidence != nil {
		inc.Evidence = []*models.Evidence{w.Evidence}
	}

	summary := e.summarize(ctx, res.Label, w.Evidence)
	inc.Title = summary.Title
	inc.Summary = summary.Description
	return inc
}

// summarize asks the external summarizer on creation only; any failure
// downgrades to templated text so the incident always has a title.
func (e *Engine) summarize(ctx context.Context, label string, ev *models.Evidence) *summarize.Summary {
	if ev == nil {
		ev = &models.Evidence{}
	}
	if e.summarizer == nil {
		return summarize.Fallback(label, ev)
	}
	summary, err := e.summarizer.Summarize(ctx, label, ev)
	if err != nil {
		logging.Warnf("Summarizer failed for label %s, using templated text: %v", label, err)
		return summarize.Fallback(label, ev)
	}
	return summary
}

// dominantEndpoints finds the most frequent source IP (firewall src_ip
// and HTTP client_ip pooled), destination IP, destination port and
// protocol in a window. Ties break to the lexically smaller value so the
// fingerprint is deterministic.
func dominantEndpoints(events []*models.Event) (srcIP, dstIP string, dstPort *int, proto string) {
	srcCounts := make(map[string]int)
	dstCounts := make(map[string]int)
	portCounts := make(map[int]int)
	protoCounts := make(map[string]int)

	for _, e := range events {
		if !e.ParseOK {
			continue
		}
		if ip := e.OriginIP(); ip != "" {
			srcCounts[ip]++
		}
		if e.DstIP != nil {
			dstCounts[*e.DstIP]++
		}
		if e.DstPort != nil {
			portCounts[*e.DstPort]++
		}
		if e.Proto != nil {
			protoCounts[*e.Proto]++
		}
	}

	srcIP = dominantString(srcCounts)
	dstIP = dominantString(dstCounts)
	proto = dominantString(protoCounts)
	if port, ok := dominantInt(portCounts); ok {
		dstPort = &port
	}
	return srcIP, dstIP, dstPort, proto
}

func dominantString(counts map[string]int) string {
	best := ""
	bestCount := 0
	for v, c := range counts {
		if c > bestCount || (c == bestCount && bestCount > 0 && v < best) {
			best = v
			bestCount = c
		}
	}
	return best
}

func dominantInt(counts map[int]int) (int, bool) {
	best := 0
	bestCount := 0
	for v, c := range counts {
		if c > bestCount || (c == bestCount && bestCount > 0 && v < best) {
			best = v
			bestCount = c
		}
	}
	return best, bestCount > 0
}

// scaleSeverity maps a probability in [0,1] to the backend's 0-100 range.
func scaleSeverity(probability float64) int {
	sev := int(math.Round(probability * 100))
	if sev < 0 {
		return 0
	}
	if sev > 100 {
		return 100
	}
	return sev
}
