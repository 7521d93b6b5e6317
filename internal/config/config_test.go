package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user-config lookup at an empty temp directory so
// tests never read the developer's real ~/.config/askrepo.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, EnvDevelopment, cfg.Environment)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)

	assert.Equal(t, int64(100*1024*1024), cfg.Storage.MaxUploadBytes)

	assert.Equal(t, 1024, cfg.Vector.Dimensions)
	assert.Equal(t, 16, cfg.Vector.M)

	assert.Equal(t, "jina", cfg.Embedding.Provider)
	assert.Equal(t, "jina-embeddings-v3", cfg.Embedding.Model)
	assert.Equal(t, 100, cfg.Embedding.BatchSize)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 4096, cfg.LLM.MaxTokens)
	assert.Equal(t, 50000, cfg.LLM.MaxContextChars)
	assert.Equal(t, 5, cfg.LLM.HistoryLimit)

	assert.Equal(t, 100, cfg.Ingest.EmbedBatchSize)
	assert.Equal(t, "100ms", cfg.Ingest.EmbedBatchDelay)
	assert.True(t, cfg.Ingest.SecretDetection)
	assert.LessOrEqual(t, cfg.Ingest.Workers, 8)
	assert.GreaterOrEqual(t, cfg.Ingest.Workers, 1)

	assert.Equal(t, 5, cfg.Agent.DefaultTopK)
	assert.Equal(t, 20, cfg.Agent.MaxTopK)

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 100, cfg.RateLimit.PerIPHourly)
	assert.Equal(t, 1000, cfg.RateLimit.AppHourly)
	assert.Equal(t, 10, cfg.RateLimit.MaxConcurrentQueries)

	assert.Equal(t, 7, cfg.Sessions.RetentionDays)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
server:
  port: 9999
embedding:
  provider: mock
llm:
  provider: mock
agent:
  default_top_k: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "mock", cfg.Embedding.Provider)
	assert.Equal(t, 8, cfg.Agent.DefaultTopK)
	// Untouched values keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 20, cfg.Agent.MaxTopK)
}

func TestLoad_DerivesPathsUnderDataDir(t *testing.T) {
	isolate(t)
	dataDir := t.TempDir()
	path := writeConfig(t, `
storage:
  data_dir: `+dataDir+`
embedding:
  provider: mock
llm:
  provider: mock
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dataDir, "blobs"), cfg.Storage.BlobDir)
	assert.Equal(t, filepath.Join(dataDir, "askrepo.db"), cfg.Database.Path)
	assert.Equal(t, filepath.Join(dataDir, "kv.db"), cfg.KV.Path)
	assert.Equal(t, filepath.Join(dataDir, "vector"), cfg.Vector.Dir)
	assert.Equal(t, filepath.Join(dataDir, "workflow.db"), cfg.WorkflowDBPath())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
server:
  port: 9000
embedding:
  provider: mock
llm:
  provider: mock
`)
	t.Setenv("ASKREPO_SERVER_PORT", "7070")
	t.Setenv("ASKREPO_LOG_LEVEL", "debug")
	t.Setenv("ASKREPO_SECRET_DETECTION", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Ingest.SecretDetection)
}

func TestLoad_UserConfigApplies(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	userPath := filepath.Join(xdg, "askrepo", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userPath), 0o755))
	require.NoError(t, os.WriteFile(userPath, []byte(`
server:
  port: 8181
embedding:
  provider: mock
llm:
  provider: mock
`), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Server.Port)
}

func TestLoad_MissingFileFails(t *testing.T) {
	isolate(t)
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoad_MalformedYAMLFails(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "server: [not: a mapping")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad_RejectsMissingAPIKey(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
embedding:
  provider: jina
llm:
  provider: mock
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding.api_key is required")
}

func TestLoad_RejectsPlaceholderAPIKey(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
embedding:
  provider: mock
llm:
  provider: anthropic
  api_key: your_anthropic_key_here
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "placeholder")
}

func TestLoadUnchecked_SkipsValidation(t *testing.T) {
	isolate(t)
	// No credentials set; Load would reject this, LoadUnchecked must not.
	cfg, err := LoadUnchecked("")
	require.NoError(t, err)
	assert.Equal(t, "jina", cfg.Embedding.Provider)
	assert.Empty(t, cfg.Embedding.APIKey)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad environment", func(c *Config) { c.Environment = "prod" }, "environment"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad upload cap", func(c *Config) { c.Storage.MaxUploadBytes = 0 }, "max_upload_bytes"},
		{"bad embedding provider", func(c *Config) { c.Embedding.Provider = "cohere" }, "embedding.provider"},
		{"bad llm provider", func(c *Config) { c.LLM.Provider = "bard" }, "llm.provider"},
		{"bad dimensions", func(c *Config) { c.Vector.Dimensions = 0 }, "vector.dimensions"},
		{"top_k inverted", func(c *Config) { c.Agent.MaxTopK = 2 }, "max_top_k"},
		{"chunk bounds inverted", func(c *Config) { c.Ingest.ChunkMinTokens = 2048 }, "chunk_min_tokens"},
		{"rate limit inverted", func(c *Config) { c.RateLimit.AppHourly = 1 }, "app_hourly"},
		{"bad retention", func(c *Config) { c.Sessions.RetentionDays = 0 }, "retention_days"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.Embedding.Provider = "mock"
			cfg.LLM.Provider = "mock"
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidate_AcceptsMockProvidersWithoutKeys(t *testing.T) {
	cfg := NewConfig()
	cfg.Embedding.Provider = "mock"
	cfg.LLM.Provider = "mock"
	require.NoError(t, cfg.Validate())
}

func TestWriteYAML_RoundTrips(t *testing.T) {
	isolate(t)
	cfg := NewConfig()
	cfg.Server.Port = 9090
	cfg.Embedding.Provider = "mock"
	cfg.LLM.Provider = "mock"

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, loaded.Server.Port)
	assert.Equal(t, "mock", loaded.LLM.Provider)
}

func TestGetUserConfigPath_HonorsXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, "/tmp/xdg/askrepo/config.yaml", GetUserConfigPath())
}
