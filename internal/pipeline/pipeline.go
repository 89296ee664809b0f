package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"logsentinel/internal/classify"
	"logsentinel/internal/filter"
	"logsentinel/internal/incident"
	"logsentinel/internal/logging"
	"logsentinel/internal/metrics"
	"logsentinel/internal/normalize"
	"logsentinel/internal/parse"
	"logsentinel/internal/reader"
	"logsentinel/internal/state"
	"logsentinel/internal/submit"
	"logsentinel/internal/window"
	"logsentinel/pkg/models"
)

// EventWriter exports canonical events to a sink.
type EventWriter interface {
	WriteEvents(events []*models.Event) error
	Close() error
}

// Summary reports what one pass (or a whole single-pass run) did.
type Summary struct {
	LinesRead        int
	ParseErrors      int
	EventsFiltered   int
	WindowsSealed    int
	WindowsFailed    int
	LateDropped      int64
	IncidentsCreated int
	IncidentsMerged  int
	SubmitFailures   int
	Resyncs          int
	SourceErrors     int
	ExportErrors     int
}

// Failed reports whether the run should complete with a non-zero status.
func (s *Summary) Failed() bool {
	return s.ParseErrors > 0 || s.WindowsFailed > 0 || s.SubmitFailures > 0 || s.SourceErrors > 0
}

func (s *Summary) String() string {
	return fmt.Sprintf(
		"lines=%d parse_errors=%d filtered=%d windows=%d windows_failed=%d late_dropped=%d created=%d merged=%d submit_failures=%d resyncs=%d source_errors=%d",
		s.LinesRead, s.ParseErrors, s.EventsFiltered, s.WindowsSealed, s.WindowsFailed,
		s.LateDropped, s.IncidentsCreated, s.IncidentsMerged, s.SubmitFailures, s.Resyncs, s.SourceErrors)
}

// Pipeline drives reading, parsing, windowing, classification, incident
// decisions and submission over a poll cycle or a single pass.
type Pipeline struct {
	readers      []*reader.Reader
	parsers      map[models.Source]parse.Parser
	filter       *filter.Filter
	windower     *window.Windower
	gateway      *classify.Gateway
	engine       *incident.Engine
	submitter    *submit.Client
	exporter     EventWriter
	store        state.Store
	pollInterval time.Duration
}

// Options wires the pipeline's collaborators.
type Options struct {
	Readers      []*reader.Reader
	Filter       *filter.Filter
	Windower     *window.Windower
	Gateway      *classify.Gateway
	Engine       *incident.Engine
	Submitter    *submit.Client
	Exporter     EventWriter
	Store        state.Store
	PollInterval time.Duration
	Now          func() time.Time
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	parsers := make(map[models.Source]parse.Parser, len(opts.Readers))
	for _, r := range opts.Readers {
		parsers[r.Source()] = parse.ForSource(r.Source(), opts.Now)
	}
	return &Pipeline{
		readers:      opts.Readers,
		parsers:      parsers,
		filter:       opts.Filter,
		windower:     opts.Windower,
		gateway:      opts.Gateway,
		engine:       opts.Engine,
		submitter:    opts.Submitter,
		exporter:     opts.Exporter,
		store:        opts.Store,
		pollInterval: opts.PollInterval,
	}
}

// RunOnce drains all currently-available data in one pass, seals every
// window via explicit flush and returns the pass summary.
func (p *Pipeline) RunOnce(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	for {
		progressed, err := p.pass(ctx, summary, false)
		if err != nil {
			return summary, err
		}
		if !progressed {
			break
		}
	}
	// Final flush seals windows the watermark never cleared.
	if _, err := p.pass(ctx, summary, true); err != nil {
		return summary, err
	}
	return summary, nil
}

// Run polls continuously until ctx is cancelled. A single failing
// source or window never terminates the loop.
func (p *Pipeline) Run(ctx context.Context) error {
	logging.Infof("Pipeline started (poll interval %s)", p.pollInterval)
	for {
		summary := &Summary{}
		if _, err := p.pass(ctx, summary, false); err != nil {
			return err
		}
		logging.Debugf("Pass complete: %s", summary)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

// Close releases pipeline resources.
func (p *Pipeline) Close() error {
	if p.exporter != nil {
		if err := p.exporter.Close(); err != nil {
			logging.Errorf("Failed to close event exporter: %v", err)
		}
	}
	if p.store != nil {
		return p.store.Close()
	}
	return nil
}

type sourceBatch struct {
	source models.Source
	result *reader.Result
	err    error
}

// pass executes one read-to-submit cycle. It reports whether any source
// produced new lines, so RunOnce can keep draining until quiet.
func (p *Pipeline) pass(ctx context.Context, summary *Summary, flush bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	// Reading: sources are independent until the merge, so they are
	// polled in parallel. One failing source defers to the next pass
	// without stopping the others.
	batches := make([]sourceBatch, len(p.readers))
	var wg sync.WaitGroup
	for i, r := range p.readers {
		wg.Add(1)
		go func(i int, r *reader.Reader) {
			defer wg.Done()
			res, err := r.Poll(ctx)
			batches[i] = sourceBatch{source: r.Source(), result: res, err: err}
		}(i, r)
	}
	wg.Wait()

	progressed := false
	for _, b := range batches {
		if b.err != nil {
			summary.SourceErrors++
			logging.Errorf("Failed to read source %s: %v", b.source, b.err)
			continue
		}
		if b.result.Resync {
			summary.Resyncs++
			metrics.SourceResyncs.WithLabelValues(string(b.source)).Inc()
			logging.Warnf("Source %s rotated or truncated, resuming from start", b.source)
		}
		if len(b.result.Lines) > 0 {
			progressed = true
		}
	}

	if err := ctx.Err(); err != nil {
		return progressed, err
	}

	// Parsing and filtering, per source.
	perSource := make([][]*models.Event, 0, len(batches))
	for _, b := range batches {
		if b.err != nil {
			continue
		}
		events := make([]*models.Event, 0, len(b.result.Lines))
		parser := p.parsers[b.source]
		lines := 0
		for _, line := range b.result.Lines {
			if line == "" {
				continue
			}
			lines++
			event := parser.Parse(line)
			if p.filter.Drop(event) {
				summary.EventsFiltered++
				metrics.EventsFiltered.Inc()
				continue
			}
			events = append(events, event)
		}
		fs := normalize.Summarize(b.source, events)
		summary.LinesRead += lines
		summary.ParseErrors += fs.Failed
		metrics.LinesRead.WithLabelValues(string(b.source)).Add(float64(lines))
		metrics.ParseErrors.WithLabelValues(string(b.source)).Add(float64(fs.Failed))
		perSource = append(perSource, events)
	}
	merged := normalize.Merge(perSource...)

	if err := ctx.Err(); err != nil {
		return progressed, err
	}

	// Export the canonical stream before windowing so parse failures
	// (which carry no timestamp) are still persisted.
	if p.exporter != nil && len(merged) > 0 {
		if err := p.exporter.WriteEvents(merged); err != nil {
			summary.ExportErrors++
			logging.Errorf("Failed to export events: %v", err)
		}
	}

	// Windowing.
	lateBefore := p.windower.LateDropped()
	for _, e := range merged {
		p.windower.Add(e)
	}
	if dropped := p.windower.LateDropped() - lateBefore; dropped > 0 {
		summary.LateDropped += dropped
		metrics.LateEventsDropped.Add(float64(dropped))
	}

	var sealed []*models.Window
	if flush {
		sealed = p.windower.Flush()
	} else {
		sealed = p.windower.SealReady()
	}
	summary.WindowsSealed += len(sealed)
	metrics.WindowsSealed.Add(float64(len(sealed)))

	if err := ctx.Err(); err != nil {
		return progressed, err
	}

	// Classification, decision, submission. Windows are handled in
	// order; decisions for one fingerprint are serialized inside the
	// engine.
	for _, w := range sealed {
		if err := ctx.Err(); err != nil {
			return progressed, err
		}

		res, err := p.gateway.Classify(ctx, w)
		if err != nil {
			if ctx.Err() != nil {
				return progressed, ctx.Err()
			}
			summary.WindowsFailed++
			metrics.ClassifyFailures.Inc()
			logging.Errorf("Window %d classification failed: %v", w.ID, err)
			continue
		}

		decision := p.engine.Decide(ctx, w, res)
		if decision == nil {
			continue
		}
		if decision.Created {
			summary.IncidentsCreated++
			metrics.IncidentsCreated.Inc()
			logging.Infof("Incident created: %s severity=%d source=%s dest=%s",
				decision.Incident.AttackType, decision.Incident.Severity,
				decision.Incident.SourceIP, decision.Incident.DestIP)
		} else {
			summary.IncidentsMerged++
			metrics.IncidentsMerged.Inc()
		}

		// In-flight submissions complete even under cancellation to
		// avoid partially written incidents.
		if p.submitter != nil {
			if err := p.submitter.Submit(ctx, decision.Incident); err != nil {
				summary.SubmitFailures++
				metrics.SubmitFailures.Inc()
				logging.Errorf("Failed to submit incident %s: %v", decision.Incident.Key, err)
			}
		}
	}

	// Commit: persist the incident arena and the checkpoints of the
	// sources that read successfully. Offsets advance only after their
	// lines were handed off, so a crash replays at most the
	// uncommitted tail.
	if p.store != nil {
		if err := p.store.SaveIncidents(p.engine.Snapshot()); err != nil {
			logging.Errorf("Failed to persist incidents: %v", err)
		}
		// Failed sources keep their prior checkpoint; the save is a
		// whole-file write so every source must be present.
		offsets := make(map[string]reader.Checkpoint, len(p.readers))
		for _, r := range p.readers {
			offsets[string(r.Source())] = r.Checkpoint()
		}
		if err := p.store.SaveOffsets(offsets); err != nil {
			logging.Errorf("Failed to persist offsets: %v", err)
		}
	}

	return progressed, nil
}
