package window

import (
	"sort"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"logsentinel/pkg/models"
)

// Config controls windowing and evidence bounds.
type Config struct {
	Size        time.Duration
	Grace       time.Duration
	MaxExamples int
	MaxDistinct int
	TopK        int
}

// Windower buckets normalized events into fixed, non-overlapping time
// windows and seals them on watermark progress. Events that arrive for an
// already-sealed window are counted and dropped; sealed decisions are
// never reopened.
type Windower struct {
	cfg       Config
	open      map[int64][]*models.Event
	watermark time.Time
	// sealedThrough is the highest sealed window id. Watermarks are
	// monotonic, so windows seal in order and any id at or below it
	// without an open bucket is late.
	sealedThrough int64
	sealedAny     bool
	lateDropped   int64
}

// New creates a windower.
func New(cfg Config) *Windower {
	if cfg.Size <= 0 {
		cfg.Size = time.Minute
	}
	if cfg.MaxExamples <= 0 {
		cfg.MaxExamples = 10
	}
	if cfg.MaxDistinct <= 0 {
		cfg.MaxDistinct = 1024
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Windower{
		cfg:  cfg,
		open: make(map[int64][]*models.Event),
	}
}

// Add assigns an event to its window. Events without a timestamp are
// ignored; late events for sealed windows are dropped with a count.
// Returns false when the event was dropped as late.
func (w *Windower) Add(e *models.Event) bool {
	if e == nil || e.Timestamp == nil {
		return true
	}
	ts := e.Timestamp.UTC()
	if ts.After(w.watermark) {
		w.watermark = ts
	}

	id := models.WindowID(ts, w.cfg.Size)
	if w.sealedAny && id <= w.sealedThrough {
		if _, ok := w.open[id]; !ok {
			w.lateDropped++
			return false
		}
	}
	w.open[id] = append(w.open[id], e)
	return true
}

// Watermark returns the latest observed event timestamp.
func (w *Windower) Watermark() time.Time { return w.watermark }

// LateDropped returns how many late events have been dropped so far.
func (w *Windower) LateDropped() int64 { return w.lateDropped }

// SealReady seals every open window whose end plus the grace period is
// strictly behind the watermark and returns them in window order.
func (w *Windower) SealReady() []*models.Window {
	var ready []int64
	for id := range w.open {
		end := models.WindowStart(id, w.cfg.Size).Add(w.cfg.Size)
		if w.watermark.After(end.Add(w.cfg.Grace)) {
			ready = append(ready, id)
		}
	}
	return w.seal(ready)
}

// Flush seals all open windows regardless of the watermark. Used at the
// end of a single-pass run.
func (w *Windower) Flush() []*models.Window {
	ids := make([]int64, 0, len(w.open))
	for id := range w.open {
		ids = append(ids, id)
	}
	return w.seal(ids)
}

func (w *Windower) seal(ids []int64) []*models.Window {
	if len(ids) == 0 {
		return nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*models.Window, 0, len(ids))
	for _, id := range ids {
		events := w.open[id]
		delete(w.open, id)

		sort.SliceStable(events, func(i, j int) bool {
			return events[i].Timestamp.Before(*events[j].Timestamp)
		})

		start := models.WindowStart(id, w.cfg.Size)
		out = append(out, &models.Window{
			ID:       id,
			Start:    start,
			End:      start.Add(w.cfg.Size),
			Events:   events,
			Evidence: w.compileEvidence(events),
		})

		if !w.sealedAny || id > w.sealedThrough {
			w.sealedThrough = id
			w.sealedAny = true
		}
	}
	return out
}

// compileEvidence aggregates a window's events deterministically:
// fixed counts, bounded top-k lists (ties broken lexically) and distinct
// counts that saturate at the configured bound.
func (w *Windower) compileEvidence(events []*models.Event) *models.Evidence {
	ev := &models.Evidence{
		StatusCounts:  make(map[int]int),
		VerdictCounts: make(map[string]int),
	}

	clientIPs := make(map[string]int)
	srcIPs := make(map[string]int)
	paths := make(map[string]int)
	dstPorts := make(map[string]int)

	distinctClient, _ := lru.New[string, struct{}](w.cfg.MaxDistinct)
	distinctSrc, _ := lru.New[string, struct{}](w.cfg.MaxDistinct)

	for _, e := range events {
		ev.Total++
		switch e.Source {
		case models.SourceWebAccess:
			ev.WebAccess++
		case models.SourceApplication:
			ev.Application++
		case models.SourceFirewall:
			ev.Firewall++
		}
		if e.Status != nil {
			ev.StatusCounts[*e.Status]++
		}
		if e.Verdict != nil {
			ev.VerdictCounts[*e.Verdict]++
		}
		if e.ClientIP != nil {
			clientIPs[*e.ClientIP]++
			distinctClient.Add(*e.ClientIP, struct{}{})
		}
		if e.SrcIP != nil {
			srcIPs[*e.SrcIP]++
			distinctSrc.Add(*e.SrcIP, struct{}{})
		}
		if e.Path != nil {
			paths[*e.Path]++
		}
		if e.DstPort != nil && e.Verdict != nil {
			dstPorts[strconv.Itoa(*e.DstPort)]++
		}
		if len(ev.SampleLines) < w.cfg.MaxExamples {
			ev.SampleLines = append(ev.SampleLines, e.RawLine)
		}
	}

	ev.TopClientIPs = topK(clientIPs, w.cfg.TopK)
	ev.TopSrcIPs = topK(srcIPs, w.cfg.TopK)
	ev.TopPaths = topK(paths, w.cfg.TopK)
	ev.TopDstPorts = topK(dstPorts, w.cfg.TopK)
	ev.DistinctClientIPs = distinctClient.Len()
	ev.DistinctSrcIPs = distinctSrc.Len()
	return ev
}

func topK(counts map[string]int, k int) []models.CountItem {
	if len(counts) == 0 {
		return nil
	}
	items := make([]models.CountItem, 0, len(counts))
	for value, count := range counts {
		items = append(items, models.CountItem{Value: value, Count: count})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].Value < items[j].Value
	})
	if len(items) > k {
		items = items[:k]
	}
	return items
}
