package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LinesRead counts raw lines handed off to the parser stage.
	LinesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logsentinel_lines_read_total",
		Help: "Raw log lines read, by source.",
	}, []string{"source"})

	// ParseErrors counts lines that failed to match their grammar.
	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logsentinel_parse_errors_total",
		Help: "Lines that failed parsing, by source.",
	}, []string{"source"})

	// SourceResyncs counts rotation/truncation offset resets.
	SourceResyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logsentinel_source_resyncs_total",
		Help: "Checkpoint resets caused by file rotation or truncation.",
	}, []string{"source"})

	// EventsFiltered counts events dropped by filter rules.
	EventsFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logsentinel_events_filtered_total",
		Help: "Events dropped by filter rules.",
	})

	// WindowsSealed counts sealed windows.
	WindowsSealed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logsentinel_windows_sealed_total",
		Help: "Windows sealed by watermark or flush.",
	})

	// LateEventsDropped counts events arriving after their window sealed.
	LateEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logsentinel_late_events_dropped_total",
		Help: "Events dropped because their window was already sealed.",
	})

	// ClassifyFailures counts windows that exhausted classification retries.
	ClassifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logsentinel_classify_failures_total",
		Help: "Windows whose classification failed after retries.",
	})

	// IncidentsCreated counts new incidents.
	IncidentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logsentinel_incidents_created_total",
		Help: "Incidents created.",
	})

	// IncidentsMerged counts windows merged into open incidents.
	IncidentsMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logsentinel_incidents_merged_total",
		Help: "Windows merged into an existing open incident.",
	})

	// SubmitRetries counts transient backend submission retries.
	SubmitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logsentinel_submit_retries_total",
		Help: "Transient incident submission retries.",
	})

	// SubmitFailures counts submissions that gave up.
	SubmitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logsentinel_submit_failures_total",
		Help: "Incident submissions that failed permanently or exhausted retries.",
	})
)

// Serve exposes /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
