package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	LogSentinel LogSentinelConfig `yaml:"logsentinel"`
}

// LogSentinelConfig is the project configuration.
type LogSentinelConfig struct {
	Sources    SourcesConfig    `yaml:"sources"`
	Reader     ReaderConfig     `yaml:"reader"`
	Filter     FilterConfig     `yaml:"filter"`
	Window     WindowConfig     `yaml:"window"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Incidents  IncidentsConfig  `yaml:"incidents"`
	Backend    BackendConfig    `yaml:"backend"`
	Export     ExportConfig     `yaml:"export"`
	State      StateConfig      `yaml:"state"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// SourcesConfig locates the tailed log files.
type SourcesConfig struct {
	Dir         string `yaml:"dir"`
	WebAccess   string `yaml:"web_access"`
	Application string `yaml:"application"`
	Firewall    string `yaml:"firewall"`
}

// ReaderConfig bounds incremental reads.
type ReaderConfig struct {
	ChunkBytes int `yaml:"chunk_bytes"`
}

// FilterConfig controls optional event drop rules (expr syntax).
type FilterConfig struct {
	Enabled bool     `yaml:"enabled"`
	Rules   []string `yaml:"rules"`
}

// WindowConfig controls time-window aggregation.
type WindowConfig struct {
	Size        time.Duration `yaml:"size"`
	Grace       time.Duration `yaml:"grace"`
	MaxExamples int           `yaml:"max_examples"`
	MaxDistinct int           `yaml:"max_distinct"`
	TopK        int           `yaml:"top_k"`
}

// ClassifierConfig selects and tunes the window scorer.
type ClassifierConfig struct {
	Mode         string               `yaml:"mode"` // http|sigma
	MaxRetries   int                  `yaml:"max_retries"`
	RetryBackoff time.Duration        `yaml:"retry_backoff"`
	HTTP         HTTPClassifierConfig `yaml:"http"`
	Sigma        SigmaConfig          `yaml:"sigma"`
}

// HTTPClassifierConfig configures the external scoring endpoint.
type HTTPClassifierConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// SigmaConfig configures the in-process rule classifier.
type SigmaConfig struct {
	Path string `yaml:"path"`
}

// SummarizerConfig configures the optional incident summarizer.
type SummarizerConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// IncidentsConfig controls decision-engine behavior.
type IncidentsConfig struct {
	IncludeHealthy bool          `yaml:"include_healthy"`
	MergeRecency   time.Duration `yaml:"merge_recency"`
	MaxEvidence    int           `yaml:"max_evidence"`
	AssetIP        string        `yaml:"asset_ip"`
}

// BackendConfig configures the incident store client.
type BackendConfig struct {
	URL          string            `yaml:"url"`
	Timeout      time.Duration     `yaml:"timeout"`
	MaxRetries   int               `yaml:"max_retries"`
	RetryBackoff time.Duration     `yaml:"retry_backoff"`
	Headers      map[string]string `yaml:"headers"`
}

// ExportConfig controls canonical event export.
type ExportConfig struct {
	Mode       string                 `yaml:"mode"` // off|file|clickhouse
	File       FileOutputConfig       `yaml:"file"`
	ClickHouse ClickHouseOutputConfig `yaml:"clickhouse"`
}

// FileOutputConfig config for local JSONL output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// ClickHouseOutputConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseOutputConfig struct {
	URL      string            `yaml:"url"`
	Database string            `yaml:"database"`
	Table    string            `yaml:"table"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
}

// StateConfig selects checkpoint persistence.
type StateConfig struct {
	Mode  string           `yaml:"mode"` // file|redis
	Dir   string           `yaml:"dir"`
	Redis RedisStateConfig `yaml:"redis"`
}

// RedisStateConfig controls Redis-backed state.
type RedisStateConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// PipelineConfig controls the orchestration loop.
type PipelineConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	Console    bool   `yaml:"console"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
