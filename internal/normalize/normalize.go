package normalize

import (
	"sort"

	"logsentinel/pkg/models"
)

// FileSummary reports parse outcomes for one source batch.
type FileSummary struct {
	Source models.Source
	Total  int
	OK     int
	Failed int
}

// Summarize counts parse outcomes in one source batch.
func Summarize(source models.Source, events []*models.Event) FileSummary {
	s := FileSummary{Source: source, Total: len(events)}
	for _, e := range events {
		if e.ParseOK {
			s.OK++
		} else {
			s.Failed++
		}
	}
	return s
}

// Merge combines per-source batches into one stream ordered by
// timestamp, with source priority then arrival order as stable
// tie-breaks. Events without a timestamp (parse failures) sort after
// timestamped ones, preserving arrival order, so they still reach the
// export sink.
func Merge(batches ...[]*models.Event) []*models.Event {
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	merged := make([]*models.Event, 0, total)
	var seq int64
	for _, b := range batches {
		for _, e := range b {
			e.Seq = seq
			seq++
			merged = append(merged, e)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		switch {
		case a.Timestamp == nil && b.Timestamp == nil:
			return a.Seq < b.Seq
		case a.Timestamp == nil:
			return false
		case b.Timestamp == nil:
			return true
		}
		if !a.Timestamp.Equal(*b.Timestamp) {
			return a.Timestamp.Before(*b.Timestamp)
		}
		if pa, pb := models.SourcePriority(a.Source), models.SourcePriority(b.Source); pa != pb {
			return pa < pb
		}
		return a.Seq < b.Seq
	})
	return merged
}
