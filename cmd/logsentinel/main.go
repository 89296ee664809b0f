package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"logsentinel/config"
	"logsentinel/internal/classify"
	"logsentinel/internal/filter"
	"logsentinel/internal/incident"
	"logsentinel/internal/logging"
	"logsentinel/internal/metrics"
	"logsentinel/internal/output/eventsclickhouse"
	"logsentinel/internal/output/eventsjson"
	"logsentinel/internal/pipeline"
	"logsentinel/internal/reader"
	"logsentinel/internal/state"
	"logsentinel/internal/submit"
	"logsentinel/internal/summarize"
	"logsentinel/internal/window"
	"logsentinel/pkg/models"
)

var (
	configPath     string
	logDir         string
	windowSize     time.Duration
	pollInterval   time.Duration
	includeHealthy bool
)

var rootCmd = &cobra.Command{
	Use:   "logsentinel",
	Short: "Security log pipeline: tail, normalize, classify, raise incidents",
	Long: `logsentinel tails web-access, application and firewall logs,
normalizes them into one event stream, aggregates fixed time windows,
classifies each window and maintains attack incidents in a backend store.`,
	SilenceUsage: true,
}

var runLoopCmd = &cobra.Command{
	Use:   "run-loop",
	Short: "Run the pipeline continuously",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, cleanup, err := buildPipeline()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := pipe.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		logging.Infof("LogSentinel stopped")
		return nil
	},
}

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Drain available log data in a single pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, cleanup, err := buildPipeline()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		summary, err := pipe.RunOnce(ctx)
		if err != nil {
			return err
		}
		logging.Infof("Pass complete: %s", summary)
		fmt.Println(summary)
		if summary.Failed() {
			return fmt.Errorf("pass completed with failures")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: logsentinel.yml)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Override sources.dir")
	rootCmd.PersistentFlags().DurationVar(&windowSize, "window", 0, "Override window.size")
	rootCmd.PersistentFlags().DurationVar(&pollInterval, "poll-interval", 0, "Override pipeline.poll_interval")
	rootCmd.PersistentFlags().BoolVar(&includeHealthy, "include-healthy", false, "Create incidents for healthy windows too")
	rootCmd.AddCommand(runOnceCmd)
	rootCmd.AddCommand(runLoopCmd)
}

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("logsentinel.yml"); err == nil {
		return "logsentinel.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "logsentinel.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "logsentinel.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.LogSentinel.Sources.Dir == "" {
		cfg.LogSentinel.Sources.Dir = "logs"
	}
	if cfg.LogSentinel.Sources.WebAccess == "" {
		cfg.LogSentinel.Sources.WebAccess = "nginx_access.log"
	}
	if cfg.LogSentinel.Sources.Application == "" {
		cfg.LogSentinel.Sources.Application = "api_app.log"
	}
	if cfg.LogSentinel.Sources.Firewall == "" {
		cfg.LogSentinel.Sources.Firewall = "fw_ufw.log"
	}

	if cfg.LogSentinel.Reader.ChunkBytes <= 0 {
		cfg.LogSentinel.Reader.ChunkBytes = 1 << 20
	}

	if cfg.LogSentinel.Window.Size <= 0 {
		cfg.LogSentinel.Window.Size = 60 * time.Second
	}
	if cfg.LogSentinel.Window.Grace < 0 {
		cfg.LogSentinel.Window.Grace = 0
	}
	if cfg.LogSentinel.Window.MaxExamples <= 0 {
		cfg.LogSentinel.Window.MaxExamples = 5
	}
	if cfg.LogSentinel.Window.MaxDistinct <= 0 {
		cfg.LogSentinel.Window.MaxDistinct = 10000
	}
	if cfg.LogSentinel.Window.TopK <= 0 {
		cfg.LogSentinel.Window.TopK = 10
	}

	if cfg.LogSentinel.Classifier.Mode == "" {
		cfg.LogSentinel.Classifier.Mode = "http"
	}
	if cfg.LogSentinel.Classifier.MaxRetries < 0 {
		cfg.LogSentinel.Classifier.MaxRetries = 0
	}
	if cfg.LogSentinel.Classifier.RetryBackoff <= 0 {
		cfg.LogSentinel.Classifier.RetryBackoff = 500 * time.Millisecond
	}

	if cfg.LogSentinel.Incidents.MergeRecency <= 0 {
		cfg.LogSentinel.Incidents.MergeRecency = 3 * cfg.LogSentinel.Window.Size
	}
	if cfg.LogSentinel.Incidents.MaxEvidence <= 0 {
		cfg.LogSentinel.Incidents.MaxEvidence = 20
	}
	if cfg.LogSentinel.Incidents.AssetIP == "" {
		cfg.LogSentinel.Incidents.AssetIP = "0.0.0.0"
	}

	if cfg.LogSentinel.Backend.MaxRetries <= 0 {
		cfg.LogSentinel.Backend.MaxRetries = 3
	}
	if cfg.LogSentinel.Backend.RetryBackoff <= 0 {
		cfg.LogSentinel.Backend.RetryBackoff = 1 * time.Second
	}

	if cfg.LogSentinel.Export.Mode == "" {
		cfg.LogSentinel.Export.Mode = "off"
	}
	if cfg.LogSentinel.Export.File.Path == "" {
		cfg.LogSentinel.Export.File.Path = "output/events.jsonl"
	}
	if cfg.LogSentinel.Export.ClickHouse.Database == "" {
		cfg.LogSentinel.Export.ClickHouse.Database = "logsentinel"
	}
	if cfg.LogSentinel.Export.ClickHouse.Table == "" {
		cfg.LogSentinel.Export.ClickHouse.Table = "events"
	}

	if cfg.LogSentinel.State.Mode == "" {
		cfg.LogSentinel.State.Mode = "file"
	}
	if cfg.LogSentinel.State.Dir == "" {
		cfg.LogSentinel.State.Dir = "state"
	}

	if cfg.LogSentinel.Pipeline.PollInterval <= 0 {
		cfg.LogSentinel.Pipeline.PollInterval = 5 * time.Second
	}

	if cfg.LogSentinel.Logging.Level == "" {
		cfg.LogSentinel.Logging.Level = "info"
	}
	if cfg.LogSentinel.Logging.File == "" {
		cfg.LogSentinel.Logging.File = "logs/logsentinel.log"
	}

	if cfg.LogSentinel.Metrics.Addr == "" {
		cfg.LogSentinel.Metrics.Addr = ":9109"
	}
}

func applyOverrides(cfg *config.Config) {
	if logDir != "" {
		cfg.LogSentinel.Sources.Dir = logDir
	}
	if windowSize > 0 {
		cfg.LogSentinel.Window.Size = windowSize
	}
	if pollInterval > 0 {
		cfg.LogSentinel.Pipeline.PollInterval = pollInterval
	}
	if includeHealthy {
		cfg.LogSentinel.Incidents.IncludeHealthy = true
	}
}

func buildPipeline() (*pipeline.Pipeline, func(), error) {
	path := findConfigFile(configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	applyDefaults(cfg)
	applyOverrides(cfg)

	ls := cfg.LogSentinel
	if err := logging.Init(logging.Options{
		Enabled:    ls.Logging.Enabled,
		Level:      ls.Logging.Level,
		File:       ls.Logging.File,
		Console:    ls.Logging.Console,
		MaxSizeMB:  ls.Logging.MaxSizeMB,
		MaxBackups: ls.Logging.MaxBackups,
		MaxAgeDays: ls.Logging.MaxAgeDays,
		Compress:   ls.Logging.Compress,
	}); err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}

	logging.Infof("LogSentinel starting")
	logging.Infof("Config loaded from: %s", path)

	var store state.Store
	switch ls.State.Mode {
	case "file":
		store, err = state.NewFileStore(ls.State.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("create file state store: %w", err)
		}
		logging.Infof("State mode: file (%s)", ls.State.Dir)
	case "redis":
		store, err = state.NewRedisStore(state.RedisConfig{
			Addr:      ls.State.Redis.Addr,
			Password:  ls.State.Redis.Password,
			DB:        ls.State.Redis.DB,
			KeyPrefix: ls.State.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create Redis state store: %w", err)
		}
		logging.Infof("State mode: redis (%s)", ls.State.Redis.Addr)
	default:
		return nil, nil, fmt.Errorf("unknown state mode: %s", ls.State.Mode)
	}

	offsets, err := store.LoadOffsets()
	if err != nil {
		return nil, nil, fmt.Errorf("load offsets: %w", err)
	}
	openIncidents, err := store.LoadIncidents()
	if err != nil {
		return nil, nil, fmt.Errorf("load incidents: %w", err)
	}

	sources := []struct {
		source models.Source
		file   string
	}{
		{models.SourceWebAccess, ls.Sources.WebAccess},
		{models.SourceApplication, ls.Sources.Application},
		{models.SourceFirewall, ls.Sources.Firewall},
	}
	readers := make([]*reader.Reader, 0, len(sources))
	for _, s := range sources {
		path := filepath.Join(ls.Sources.Dir, s.file)
		readers = append(readers, reader.New(s.source, path, ls.Reader.ChunkBytes, offsets[string(s.source)]))
	}

	var dropFilter *filter.Filter
	if ls.Filter.Enabled {
		dropFilter, err = filter.New(ls.Filter.Rules)
		if err != nil {
			return nil, nil, fmt.Errorf("compile filter rules: %w", err)
		}
		logging.Infof("Filter enabled with %d rule(s)", len(ls.Filter.Rules))
	}

	var classifier classify.Classifier
	switch ls.Classifier.Mode {
	case "http":
		classifier, err = classify.NewHTTPClassifier(classify.HTTPConfig{
			URL:     ls.Classifier.HTTP.URL,
			Timeout: ls.Classifier.HTTP.Timeout,
			Headers: ls.Classifier.HTTP.Headers,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create HTTP classifier: %w", err)
		}
		logging.Infof("Classifier mode: http (%s)", ls.Classifier.HTTP.URL)
	case "sigma":
		if strings.TrimSpace(ls.Classifier.Sigma.Path) == "" {
			return nil, nil, fmt.Errorf("classifier mode sigma requires classifier.sigma.path")
		}
		sc, stats, err := classify.NewSigmaClassifier(ls.Classifier.Sigma.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("load Sigma rules: %w", err)
		}
		classifier = sc
		logging.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_invalid=%d files=%d",
			stats.Loaded, stats.SkippedComplex, stats.SkippedInvalid, stats.TotalFiles)
		if stats.Loaded == 0 {
			logging.Warnf("No compatible Sigma rules loaded; every window will classify as healthy")
		}
	default:
		return nil, nil, fmt.Errorf("unknown classifier mode: %s", ls.Classifier.Mode)
	}
	gateway := classify.NewGateway(classifier, ls.Classifier.MaxRetries, ls.Classifier.RetryBackoff)

	var summarizer summarize.Summarizer
	if ls.Summarizer.Enabled {
		summarizer, err = summarize.NewHTTPSummarizer(summarize.HTTPConfig{
			URL:     ls.Summarizer.URL,
			Timeout: ls.Summarizer.Timeout,
			Headers: ls.Summarizer.Headers,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create summarizer: %w", err)
		}
		logging.Infof("Summarizer enabled (%s)", ls.Summarizer.URL)
	}

	engine := incident.NewEngine(incident.Config{
		MergeRecency:   ls.Incidents.MergeRecency,
		MaxEvidence:    ls.Incidents.MaxEvidence,
		IncludeHealthy: ls.Incidents.IncludeHealthy,
		AssetIP:        ls.Incidents.AssetIP,
		WindowSize:     ls.Window.Size,
	}, summarizer, openIncidents)

	var submitter *submit.Client
	if ls.Backend.URL != "" {
		submitter, err = submit.NewClient(submit.Config{
			BaseURL:      ls.Backend.URL,
			Timeout:      ls.Backend.Timeout,
			MaxRetries:   ls.Backend.MaxRetries,
			RetryBackoff: ls.Backend.RetryBackoff,
			Headers:      ls.Backend.Headers,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create backend client: %w", err)
		}
		logging.Infof("Backend: %s", ls.Backend.URL)
	} else {
		logging.Warnf("No backend URL configured; incidents stay local")
	}

	var exporter pipeline.EventWriter
	switch ls.Export.Mode {
	case "off":
	case "file":
		w, err := eventsjson.NewWriter(ls.Export.File.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("create event file writer: %w", err)
		}
		exporter = w
		logging.Infof("Export mode: file (%s)", ls.Export.File.Path)
	case "clickhouse":
		w, err := eventsclickhouse.NewWriter(eventsclickhouse.Config{
			URL:      ls.Export.ClickHouse.URL,
			Database: ls.Export.ClickHouse.Database,
			Table:    ls.Export.ClickHouse.Table,
			Username: ls.Export.ClickHouse.Username,
			Password: ls.Export.ClickHouse.Password,
			Timeout:  ls.Export.ClickHouse.Timeout,
			Headers:  ls.Export.ClickHouse.Headers,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create ClickHouse event writer: %w", err)
		}
		exporter = w
		logging.Infof("Export mode: clickhouse (%s/%s.%s)",
			ls.Export.ClickHouse.URL, ls.Export.ClickHouse.Database, ls.Export.ClickHouse.Table)
	default:
		return nil, nil, fmt.Errorf("unknown export mode: %s", ls.Export.Mode)
	}

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	if ls.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(metricsCtx, ls.Metrics.Addr); err != nil {
				logging.Errorf("Metrics listener error: %v", err)
			}
		}()
		logging.Infof("Metrics listening on %s", ls.Metrics.Addr)
	}

	pipe := pipeline.New(pipeline.Options{
		Readers: readers,
		Filter:  dropFilter,
		Windower: window.New(window.Config{
			Size:        ls.Window.Size,
			Grace:       ls.Window.Grace,
			MaxExamples: ls.Window.MaxExamples,
			MaxDistinct: ls.Window.MaxDistinct,
			TopK:        ls.Window.TopK,
		}),
		Gateway:      gateway,
		Engine:       engine,
		Submitter:    submitter,
		Exporter:     exporter,
		Store:        store,
		PollInterval: ls.Pipeline.PollInterval,
		Now:          time.Now,
	})

	cleanup := func() {
		stopMetrics()
		if err := pipe.Close(); err != nil {
			logging.Errorf("Error closing pipeline: %v", err)
		}
		logging.Sync()
	}
	return pipe, cleanup, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
