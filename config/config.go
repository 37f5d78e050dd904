// Package config provides configuration management for meetnotes.
// It supports loading configuration from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// StorageDriver selects the meeting repository.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
)

// Default configuration values.
const (
	DefaultConfigDir    = ".meetnotes"
	DefaultConfigFile   = "config.yaml"
	DefaultOutputFormat = OutputFormatText
	DefaultQueueName    = "meetnotes:process"
)

// Duration is a time.Duration written to YAML as a string such as "90s".
type Duration struct {
	time.Duration
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

func dur(d time.Duration) Duration { return Duration{d} }

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	RequestTimeout  Duration `yaml:"request_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// MaxUploadMB caps the size of one audio upload.
	MaxUploadMB int64 `yaml:"max_upload_mb"`
}

// StorageConfig selects and configures the meeting repository. PostgreSQL
// connection settings are read from DB_* environment variables by pkg/db.
type StorageConfig struct {
	Driver         StorageDriver `yaml:"driver"`
	SQLitePath     string        `yaml:"sqlite_path,omitempty"`
	MigrateOnStart bool          `yaml:"migrate_on_start"`
	// ConnectWait bounds how long startup retries an unreachable PostgreSQL.
	ConnectWait Duration `yaml:"connect_wait"`
}

// BlobConfig locates stored recordings.
type BlobConfig struct {
	Dir string `yaml:"dir"`
}

// LLMConfig configures the language model and speech-to-text provider.
type LLMConfig struct {
	BaseURL              string   `yaml:"base_url"`
	Model                string   `yaml:"model"`
	STTModel             string   `yaml:"stt_model"`
	Timeout              Duration `yaml:"timeout"`
	TranscriptionTimeout Duration `yaml:"transcription_timeout"`
	RequestsPerSecond    float64  `yaml:"requests_per_second"`
	Burst                int      `yaml:"burst"`
}

// CalendarConfig configures the calendar service.
type CalendarConfig struct {
	BaseURL    string   `yaml:"base_url"`
	CalendarID string   `yaml:"calendar_id"`
	Timeout    Duration `yaml:"timeout"`
}

// RetrievalConfig bounds question answering and topic discovery.
type RetrievalConfig struct {
	MaxCandidates    int `yaml:"max_candidates"`
	MaxTopicMeetings int `yaml:"max_topic_meetings"`
	ExcerptTokens    int `yaml:"excerpt_tokens"`
	CacheSize        int `yaml:"cache_size"`
}

// RedisConfig configures the processing queue. An empty Addr disables
// asynchronous processing.
type RedisConfig struct {
	Addr              string   `yaml:"addr,omitempty"`
	Password          string   `yaml:"password,omitempty"`
	DB                int      `yaml:"db"`
	Queue             string   `yaml:"queue"`
	MaxRetries        int      `yaml:"max_retries"`
	VisibilityTimeout Duration `yaml:"visibility_timeout"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// PipelineConfig bounds batch processing.
type PipelineConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// WorkersConfig sizes the queue worker pool.
type WorkersConfig struct {
	Count        int      `yaml:"count"`
	PollInterval Duration `yaml:"poll_interval"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config holds the meetnotes configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Blob      BlobConfig      `yaml:"blob"`
	LLM       LLMConfig       `yaml:"llm"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Redis     RedisConfig     `yaml:"redis"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Workers   WorkersConfig   `yaml:"workers"`
	Logging   LoggingConfig   `yaml:"logging"`

	// OutputFormat specifies the default output format for CLI commands.
	OutputFormat OutputFormat `yaml:"output_format"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	dir, err := ConfigDir()
	if err != nil {
		dir = DefaultConfigDir
	}
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			RequestTimeout:  dur(5 * time.Minute),
			ShutdownTimeout: dur(30 * time.Second),
			MaxUploadMB:     512,
		},
		Storage: StorageConfig{
			Driver:     StorageSQLite,
			SQLitePath:  filepath.Join(dir, "meetnotes.db"),
			ConnectWait: dur(30 * time.Second),
		},
		Blob: BlobConfig{Dir: filepath.Join(dir, "audio")},
		LLM: LLMConfig{
			BaseURL:              "https://api.openai.com/v1",
			Model:                "gpt-4o-mini",
			STTModel:             "whisper-1",
			Timeout:              dur(2 * time.Minute),
			TranscriptionTimeout: dur(10 * time.Minute),
			RequestsPerSecond:    2,
			Burst:                4,
		},
		Calendar: CalendarConfig{
			BaseURL:    "https://www.googleapis.com/calendar/v3",
			CalendarID: "primary",
			Timeout:    dur(30 * time.Second),
		},
		Retrieval: RetrievalConfig{
			MaxCandidates:    40,
			MaxTopicMeetings: 50,
			ExcerptTokens:    400,
			CacheSize:        1024,
		},
		Redis: RedisConfig{
			Queue:             DefaultQueueName,
			MaxRetries:        3,
			VisibilityTimeout: dur(10 * time.Minute),
		},
		Pipeline:     PipelineConfig{Concurrency: 4},
		Workers:      WorkersConfig{Count: 4, PollInterval: dur(time.Second)},
		Logging:      LoggingConfig{Level: "info"},
		OutputFormat: DefaultOutputFormat,
	}
}

// ConfigDir returns the configuration directory path.
// Uses $MEETNOTES_CONFIG_DIR if set, otherwise ~/.meetnotes
func ConfigDir() (string, error) {
	if dir := os.Getenv("MEETNOTES_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads the configuration from the default path.
func LoadConfig() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}
	return LoadConfigFrom(path)
}

// LoadConfigFrom loads configuration in this order (later sources override earlier):
// 1. Default values
// 2. The YAML file at path, when it exists
// 3. MEETNOTES_* environment variables
func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	cfg.Storage.SQLitePath = expandPath(cfg.Storage.SQLitePath)
	cfg.Blob.Dir = expandPath(cfg.Blob.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg. Keys absent from the file
// keep their current values.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *Config) {
	envString("MEETNOTES_SERVER_HOST", &cfg.Server.Host)
	envInt("MEETNOTES_SERVER_PORT", &cfg.Server.Port)
	envDuration("MEETNOTES_REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)

	if v := os.Getenv("MEETNOTES_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = StorageDriver(strings.ToLower(v))
	}
	envString("MEETNOTES_SQLITE_PATH", &cfg.Storage.SQLitePath)
	envBool("MEETNOTES_MIGRATE_ON_START", &cfg.Storage.MigrateOnStart)
	envDuration("MEETNOTES_DB_CONNECT_WAIT", &cfg.Storage.ConnectWait)
	envString("MEETNOTES_BLOB_DIR", &cfg.Blob.Dir)

	envString("MEETNOTES_LLM_BASE_URL", &cfg.LLM.BaseURL)
	envString("MEETNOTES_LLM_MODEL", &cfg.LLM.Model)
	envString("MEETNOTES_STT_MODEL", &cfg.LLM.STTModel)
	envDuration("MEETNOTES_LLM_TIMEOUT", &cfg.LLM.Timeout)

	envString("MEETNOTES_CALENDAR_BASE_URL", &cfg.Calendar.BaseURL)
	envString("MEETNOTES_CALENDAR_ID", &cfg.Calendar.CalendarID)

	envString("MEETNOTES_REDIS_ADDR", &cfg.Redis.Addr)
	envString("MEETNOTES_REDIS_PASSWORD", &cfg.Redis.Password)
	envString("MEETNOTES_QUEUE_NAME", &cfg.Redis.Queue)

	envInt("MEETNOTES_PIPELINE_CONCURRENCY", &cfg.Pipeline.Concurrency)
	envInt("MEETNOTES_WORKERS", &cfg.Workers.Count)

	envString("MEETNOTES_LOG_LEVEL", &cfg.Logging.Level)
	envBool("MEETNOTES_LOG_JSON", &cfg.Logging.JSON)

	if v := os.Getenv("MEETNOTES_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}
	if v := os.Getenv("MEETNOTES_DEBUG"); v == "true" || v == "1" {
		cfg.Logging.Level = "debug"
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("server.request_timeout must be positive")
	}

	switch c.Storage.Driver {
	case StorageMemory, StoragePostgres:
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("invalid storage.driver: %q (must be memory, sqlite, or postgres)", c.Storage.Driver)
	}

	if c.Blob.Dir == "" {
		return fmt.Errorf("blob.dir is required")
	}
	if c.LLM.BaseURL == "" || c.LLM.Model == "" {
		return fmt.Errorf("llm.base_url and llm.model are required")
	}
	if c.LLM.RequestsPerSecond < 0 {
		return fmt.Errorf("llm.requests_per_second cannot be negative")
	}
	if c.Retrieval.MaxCandidates < 0 || c.Retrieval.MaxTopicMeetings < 0 || c.Retrieval.ExcerptTokens < 0 {
		return fmt.Errorf("retrieval limits cannot be negative")
	}
	if c.Redis.Enabled() && c.Redis.Queue == "" {
		return fmt.Errorf("redis.queue is required when redis.addr is set")
	}

	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}

	return nil
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// SaveConfig writes cfg to the default config file.
func SaveConfig(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return fmt.Errorf("getting config path: %w", err)
	}
	return SaveConfigTo(cfg, path)
}

// SaveConfigTo writes cfg to path, creating its directory.
func SaveConfigTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
