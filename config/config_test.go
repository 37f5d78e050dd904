package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points the config directory at a temp dir and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MEETNOTES_CONFIG_DIR", dir)
	for _, kv := range os.Environ() {
		key := strings.SplitN(kv, "=", 2)[0]
		if strings.HasPrefix(key, "MEETNOTES_") && key != "MEETNOTES_CONFIG_DIR" {
			t.Setenv(key, "")
		}
	}
	return dir
}

// TestDefaultConfig verifies default configuration values.
func TestDefaultConfig(t *testing.T) {
	dir := isolate(t)
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.Driver != StorageSQLite {
		t.Errorf("Storage.Driver = %v, want sqlite", cfg.Storage.Driver)
	}
	if want := filepath.Join(dir, "meetnotes.db"); cfg.Storage.SQLitePath != want {
		t.Errorf("Storage.SQLitePath = %v, want %v", cfg.Storage.SQLitePath, want)
	}
	if cfg.Retrieval.MaxCandidates != 40 || cfg.Retrieval.MaxTopicMeetings != 50 {
		t.Errorf("Retrieval = %+v, want 40 candidates and 50 topic meetings", cfg.Retrieval)
	}
	if cfg.Redis.Enabled() {
		t.Error("Redis should be disabled by default")
	}
	if cfg.OutputFormat != DefaultOutputFormat {
		t.Errorf("OutputFormat = %v, want %v", cfg.OutputFormat, DefaultOutputFormat)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// TestLoadConfig_MissingFile uses defaults when no file exists.
func TestLoadConfig_MissingFile(t *testing.T) {
	isolate(t)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %v, want 127.0.0.1", cfg.Server.Host)
	}
}

// TestLoadConfig_FromFile overlays file values on the defaults.
func TestLoadConfig_FromFile(t *testing.T) {
	dir := isolate(t)
	content := `
server:
  port: 9090
  request_timeout: 90s
storage:
  driver: postgres
llm:
  model: gpt-4o
retrieval:
  max_candidates: 10
redis:
  addr: localhost:6379
output_format: json
`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout.Duration != 90*time.Second {
		t.Errorf("Server.RequestTimeout = %v, want 90s", cfg.Server.RequestTimeout)
	}
	if cfg.Storage.Driver != StoragePostgres {
		t.Errorf("Storage.Driver = %v, want postgres", cfg.Storage.Driver)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("LLM.Model = %v, want gpt-4o", cfg.LLM.Model)
	}
	if cfg.LLM.STTModel != "whisper-1" {
		t.Errorf("LLM.STTModel = %v, want default whisper-1", cfg.LLM.STTModel)
	}
	if cfg.Retrieval.MaxCandidates != 10 || cfg.Retrieval.MaxTopicMeetings != 50 {
		t.Errorf("Retrieval = %+v", cfg.Retrieval)
	}
	if !cfg.Redis.Enabled() || cfg.Redis.Queue != DefaultQueueName {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.OutputFormat != OutputFormatJSON {
		t.Errorf("OutputFormat = %v, want json", cfg.OutputFormat)
	}
}

// TestLoadConfig_InvalidFile reports parse errors.
func TestLoadConfig_InvalidFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "server: [unclosed"},
		{"bad duration", "server:\n  request_timeout: soon\n"},
		{"bad driver", "storage:\n  driver: mongo\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := isolate(t)
			if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(tc.content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(); err == nil {
				t.Error("LoadConfig() should fail")
			}
		})
	}
}

// TestLoadConfig_EnvOverrides verifies MEETNOTES_* variables win over the file.
func TestLoadConfig_EnvOverrides(t *testing.T) {
	dir := isolate(t)
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("server:\n  port: 9090\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEETNOTES_SERVER_PORT", "7070")
	t.Setenv("MEETNOTES_STORAGE_DRIVER", "MEMORY")
	t.Setenv("MEETNOTES_REDIS_ADDR", "redis:6379")
	t.Setenv("MEETNOTES_WORKERS", "8")
	t.Setenv("MEETNOTES_LOG_JSON", "true")
	t.Setenv("MEETNOTES_DEBUG", "1")
	t.Setenv("MEETNOTES_LLM_TIMEOUT", "45s")
	t.Setenv("MEETNOTES_PIPELINE_CONCURRENCY", "not-a-number")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Storage.Driver != StorageMemory {
		t.Errorf("Storage.Driver = %v, want memory", cfg.Storage.Driver)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Redis.Addr = %v", cfg.Redis.Addr)
	}
	if cfg.Workers.Count != 8 {
		t.Errorf("Workers.Count = %d, want 8", cfg.Workers.Count)
	}
	if !cfg.Logging.JSON || cfg.Logging.Level != "debug" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.LLM.Timeout.Duration != 45*time.Second {
		t.Errorf("LLM.Timeout = %v, want 45s", cfg.LLM.Timeout)
	}
	if cfg.Pipeline.Concurrency != 4 {
		t.Errorf("Pipeline.Concurrency = %d, want default 4 for unparseable value", cfg.Pipeline.Concurrency)
	}
}

// TestValidate covers each rejected field.
func TestValidate(t *testing.T) {
	isolate(t)
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"no timeout", func(c *Config) { c.Server.RequestTimeout = Duration{} }},
		{"sqlite without path", func(c *Config) { c.Storage.SQLitePath = "" }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"no blob dir", func(c *Config) { c.Blob.Dir = "" }},
		{"no model", func(c *Config) { c.LLM.Model = "" }},
		{"negative rate", func(c *Config) { c.LLM.RequestsPerSecond = -1 }},
		{"negative retrieval", func(c *Config) { c.Retrieval.ExcerptTokens = -5 }},
		{"redis without queue", func(c *Config) { c.Redis.Addr = "x:1"; c.Redis.Queue = "" }},
		{"bad output format", func(c *Config) { c.OutputFormat = "xml" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

// TestOutputFormat_IsValid verifies output format validation.
func TestOutputFormat_IsValid(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{OutputFormatText, true},
		{OutputFormatJSON, true},
		{OutputFormatYAML, true},
		{"invalid", false},
		{"", false},
		{"JSON", false}, // Case sensitive
	}

	for _, tc := range tests {
		if got := tc.format.IsValid(); got != tc.valid {
			t.Errorf("OutputFormat(%q).IsValid() = %v, want %v", tc.format, got, tc.valid)
		}
	}
}

// TestSaveConfig_RoundTrip writes durations as strings and reads them back.
func TestSaveConfig_RoundTrip(t *testing.T) {
	dir := isolate(t)
	cfg := DefaultConfig()
	cfg.Server.Port = 9191
	cfg.Workers.PollInterval = Duration{2500 * time.Millisecond}

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "poll_interval: 2.5s") {
		t.Errorf("durations should be written as strings:\n%s", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", loaded.Server.Port)
	}
	if loaded.Workers.PollInterval.Duration != 2500*time.Millisecond {
		t.Errorf("Workers.PollInterval = %v", loaded.Workers.PollInterval)
	}
}

// TestExpandPath verifies ~ expansion.
func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/x/y"); got != filepath.Join(home, "x/y") {
		t.Errorf("expandPath = %v", got)
	}
	if got := expandPath("/abs"); got != "/abs" {
		t.Errorf("expandPath = %v", got)
	}
}
