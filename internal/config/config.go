package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment names accepted by Validate.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config represents the complete askrepo configuration.
type Config struct {
	Version     int    `yaml:"version" json:"version"`
	Environment string `yaml:"environment" json:"environment"`

	Server    ServerConfig    `yaml:"server" json:"server"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	KV        KVConfig        `yaml:"kv" json:"kv"`
	Vector    VectorConfig    `yaml:"vector" json:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	LLM       LLMConfig       `yaml:"llm" json:"llm"`
	Ingest    IngestConfig    `yaml:"ingest" json:"ingest"`
	Agent     AgentConfig     `yaml:"agent" json:"agent"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Sessions  SessionsConfig  `yaml:"sessions" json:"sessions"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// ReadTimeout bounds request reading (e.g. "30s").
	ReadTimeout string `yaml:"read_timeout" json:"read_timeout"`
	// ShutdownTimeout bounds graceful shutdown (e.g. "15s").
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// AllowedOrigins lists CORS origins. "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// StorageConfig configures on-disk data locations.
type StorageConfig struct {
	// DataDir is the root directory for all askrepo state.
	// Defaults to ~/.askrepo. Derived paths below default under it.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// BlobDir holds uploaded archives, one <codebase_id>.zip per codebase.
	BlobDir string `yaml:"blob_dir" json:"blob_dir"`
	// MaxUploadBytes caps accepted uploads and clones (default: 100 MiB).
	MaxUploadBytes int64 `yaml:"max_upload_bytes" json:"max_upload_bytes"`
}

// DatabaseConfig configures the SQLite codebase store.
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
	// CacheSizeMB is the SQLite page cache size in MB (default: 64).
	CacheSizeMB int `yaml:"cache_size_mb" json:"cache_size_mb"`
	// BusyTimeoutMS is the SQLite busy timeout in milliseconds.
	BusyTimeoutMS int `yaml:"busy_timeout_ms" json:"busy_timeout_ms"`
}

// KVConfig configures the key-value store backing sessions and rate limits.
type KVConfig struct {
	Path string `yaml:"path" json:"path"`
}

// VectorConfig configures the vector index.
type VectorConfig struct {
	// Dir holds the persisted HNSW graph and chunk metadata database.
	Dir string `yaml:"dir" json:"dir"`
	// Dimensions is the embedding dimensionality (default: 1024).
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// M is the HNSW graph connectivity parameter.
	M int `yaml:"m" json:"m"`
	// EfSearch is the HNSW search breadth parameter.
	EfSearch int `yaml:"ef_search" json:"ef_search"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is one of "jina", "openai", or "mock".
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	APIKey   string `yaml:"api_key" json:"api_key"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// BatchSize is texts per provider request (default: 100).
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
	Timeout   string `yaml:"timeout" json:"timeout"`
	// CacheSize is the LRU entry count for embedding results.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// LLMConfig configures the answer-generation provider.
type LLMConfig struct {
	// Provider is one of "anthropic", "openai", or "mock".
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	APIKey   string `yaml:"api_key" json:"api_key"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// MaxTokens caps generated response length (default: 4096).
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	Timeout     string  `yaml:"timeout" json:"timeout"`
	// MaxContextChars caps retrieved context passed to the model.
	MaxContextChars int `yaml:"max_context_chars" json:"max_context_chars"`
	// HistoryLimit is how many conversation turns accompany the prompt.
	HistoryLimit int `yaml:"history_limit" json:"history_limit"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	// Workers is the parse worker pool size (default: min(NumCPU, 8)).
	Workers int `yaml:"workers" json:"workers"`
	// ChunkMinTokens drops chunks smaller than this approximate token count.
	ChunkMinTokens int `yaml:"chunk_min_tokens" json:"chunk_min_tokens"`
	// ChunkMaxTokens truncates class chunks above this approximate token count.
	ChunkMaxTokens int `yaml:"chunk_max_tokens" json:"chunk_max_tokens"`
	// ChunkOverlapTokens is the overlap between adjacent sliding chunks.
	ChunkOverlapTokens int `yaml:"chunk_overlap_tokens" json:"chunk_overlap_tokens"`
	// EmbedBatchSize is chunks per embedding batch during indexing.
	EmbedBatchSize int `yaml:"embed_batch_size" json:"embed_batch_size"`
	// EmbedBatchDelay is the pause between embedding batches (e.g. "100ms").
	EmbedBatchDelay string `yaml:"embed_batch_delay" json:"embed_batch_delay"`
	// SecretDetection enables scanning and redaction of committed credentials.
	SecretDetection bool `yaml:"secret_detection" json:"secret_detection"`
}

// AgentConfig configures the query pipeline.
type AgentConfig struct {
	// DefaultTopK is the retrieval depth when the request does not set one.
	DefaultTopK int `yaml:"default_top_k" json:"default_top_k"`
	// MaxTopK bounds requested retrieval depth.
	MaxTopK int `yaml:"max_top_k" json:"max_top_k"`
	// HistoryLimit is how many stored session messages load into the pipeline.
	HistoryLimit int `yaml:"history_limit" json:"history_limit"`
}

// RateLimitConfig configures request throttling.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// PerIPHourly is the per-client-IP request budget per hour.
	PerIPHourly int `yaml:"per_ip_hourly" json:"per_ip_hourly"`
	// AppHourly is the whole-process request budget per hour.
	AppHourly int `yaml:"app_hourly" json:"app_hourly"`
	// MaxConcurrentQueries gates simultaneous agent pipeline executions.
	MaxConcurrentQueries int `yaml:"max_concurrent_queries" json:"max_concurrent_queries"`
}

// SessionsConfig configures conversation session retention.
type SessionsConfig struct {
	// RetentionDays is the session TTL, refreshed on activity (default: 7).
	RetentionDays int `yaml:"retention_days" json:"retention_days"`
	// CleanupInterval is how often the expiry sweep runs (e.g. "24h").
	CleanupInterval string `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	FilePath  string `yaml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
	Stderr    bool   `yaml:"stderr" json:"stderr"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version:     1,
		Environment: EnvDevelopment,
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     "30s",
			ShutdownTimeout: "15s",
			AllowedOrigins:  []string{"*"},
		},
		Storage: StorageConfig{
			DataDir:        defaultDataDir(),
			BlobDir:        "", // derived under data_dir when empty
			MaxUploadBytes: 100 * 1024 * 1024,
		},
		Database: DatabaseConfig{
			Path:          "", // derived under data_dir when empty
			CacheSizeMB:   64,
			BusyTimeoutMS: 5000,
		},
		KV: KVConfig{
			Path: "", // derived under data_dir when empty
		},
		Vector: VectorConfig{
			Dir:        "", // derived under data_dir when empty
			Dimensions: 1024,
			M:          16,
			EfSearch:   64,
		},
		Embedding: EmbeddingConfig{
			Provider:  "jina",
			Model:     "jina-embeddings-v3",
			APIKey:    "",
			Endpoint:  "https://api.jina.ai/v1/embeddings",
			BatchSize: 100,
			Timeout:   "60s",
			CacheSize: 4096,
		},
		LLM: LLMConfig{
			Provider:        "openai",
			Model:           "glm-4.6",
			APIKey:          "",
			Endpoint:        "",
			MaxTokens:       4096,
			Temperature:     0.1,
			Timeout:         "120s",
			MaxContextChars: 50000,
			HistoryLimit:    5,
		},
		Ingest: IngestConfig{
			Workers:            defaultWorkers(),
			ChunkMinTokens:     512,
			ChunkMaxTokens:     1024,
			ChunkOverlapTokens: 50,
			EmbedBatchSize:     100,
			EmbedBatchDelay:    "100ms",
			SecretDetection:    true,
		},
		Agent: AgentConfig{
			DefaultTopK:  5,
			MaxTopK:      20,
			HistoryLimit: 20,
		},
		RateLimit: RateLimitConfig{
			Enabled:              true,
			PerIPHourly:          100,
			AppHourly:            1000,
			MaxConcurrentQueries: 10,
		},
		Sessions: SessionsConfig{
			RetentionDays:   7,
			CleanupInterval: "24h",
		},
		Logging: LoggingConfig{
			Level:     "info",
			FilePath:  "", // derived by the logging package when empty
			MaxSizeMB: 10,
			MaxFiles:  5,
			Stderr:    true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// defaultDataDir returns the default state directory (~/.askrepo).
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".askrepo")
	}
	return filepath.Join(home, ".askrepo")
}

// defaultWorkers returns the parse worker pool size, capped at 8.
func defaultWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		return 8
	}
	if n < 1 {
		return 1
	}
	return n
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/askrepo/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/askrepo/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "askrepo", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "askrepo", "config.yaml")
	}
	return filepath.Join(home, ".config", "askrepo", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration, applying sources in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/askrepo/config.yaml)
//  3. Explicit config file (the path passed in, usually from --config)
//  4. Environment variables (ASKREPO_*)
//
// An empty path skips step 3. Derived paths are filled in and the result
// validated before returning.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadUnchecked loads configuration like Load but skips validation, so
// inspection commands work before credentials are set.
func LoadUnchecked(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if path != "" {
		if !fileExists(path) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDerivedPaths()

	return cfg, nil
}

// applyDerivedPaths fills empty on-disk paths from the data directory.
func (c *Config) applyDerivedPaths() {
	if c.Storage.BlobDir == "" {
		c.Storage.BlobDir = filepath.Join(c.Storage.DataDir, "blobs")
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.Storage.DataDir, "askrepo.db")
	}
	if c.KV.Path == "" {
		c.KV.Path = filepath.Join(c.Storage.DataDir, "kv.db")
	}
	if c.Vector.Dir == "" {
		c.Vector.Dir = filepath.Join(c.Storage.DataDir, "vector")
	}
}

// WorkflowDBPath returns the durable workflow journal location.
func (c *Config) WorkflowDBPath() string {
	return filepath.Join(c.Storage.DataDir, "workflow.db")
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Use a temporary struct for parsing to detect type errors
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Environment != "" {
		c.Environment = other.Environment
	}

	// Server
	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.ReadTimeout != "" {
		c.Server.ReadTimeout = other.Server.ReadTimeout
	}
	if other.Server.ShutdownTimeout != "" {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}
	if len(other.Server.AllowedOrigins) > 0 {
		c.Server.AllowedOrigins = other.Server.AllowedOrigins
	}

	// Storage
	if other.Storage.DataDir != "" {
		c.Storage.DataDir = other.Storage.DataDir
	}
	if other.Storage.BlobDir != "" {
		c.Storage.BlobDir = other.Storage.BlobDir
	}
	if other.Storage.MaxUploadBytes != 0 {
		c.Storage.MaxUploadBytes = other.Storage.MaxUploadBytes
	}

	// Database
	if other.Database.Path != "" {
		c.Database.Path = other.Database.Path
	}
	if other.Database.CacheSizeMB != 0 {
		c.Database.CacheSizeMB = other.Database.CacheSizeMB
	}
	if other.Database.BusyTimeoutMS != 0 {
		c.Database.BusyTimeoutMS = other.Database.BusyTimeoutMS
	}

	// KV
	if other.KV.Path != "" {
		c.KV.Path = other.KV.Path
	}

	// Vector
	if other.Vector.Dir != "" {
		c.Vector.Dir = other.Vector.Dir
	}
	if other.Vector.Dimensions != 0 {
		c.Vector.Dimensions = other.Vector.Dimensions
	}
	if other.Vector.M != 0 {
		c.Vector.M = other.Vector.M
	}
	if other.Vector.EfSearch != 0 {
		c.Vector.EfSearch = other.Vector.EfSearch
	}

	// Embedding
	if other.Embedding.Provider != "" {
		c.Embedding.Provider = other.Embedding.Provider
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.APIKey != "" {
		c.Embedding.APIKey = other.Embedding.APIKey
	}
	if other.Embedding.Endpoint != "" {
		c.Embedding.Endpoint = other.Embedding.Endpoint
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}
	if other.Embedding.Timeout != "" {
		c.Embedding.Timeout = other.Embedding.Timeout
	}
	if other.Embedding.CacheSize != 0 {
		c.Embedding.CacheSize = other.Embedding.CacheSize
	}

	// LLM
	if other.LLM.Provider != "" {
		c.LLM.Provider = other.LLM.Provider
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.APIKey != "" {
		c.LLM.APIKey = other.LLM.APIKey
	}
	if other.LLM.Endpoint != "" {
		c.LLM.Endpoint = other.LLM.Endpoint
	}
	if other.LLM.MaxTokens != 0 {
		c.LLM.MaxTokens = other.LLM.MaxTokens
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.Timeout != "" {
		c.LLM.Timeout = other.LLM.Timeout
	}
	if other.LLM.MaxContextChars != 0 {
		c.LLM.MaxContextChars = other.LLM.MaxContextChars
	}
	if other.LLM.HistoryLimit != 0 {
		c.LLM.HistoryLimit = other.LLM.HistoryLimit
	}

	// Ingest
	if other.Ingest.Workers != 0 {
		c.Ingest.Workers = other.Ingest.Workers
	}
	if other.Ingest.ChunkMinTokens != 0 {
		c.Ingest.ChunkMinTokens = other.Ingest.ChunkMinTokens
	}
	if other.Ingest.ChunkMaxTokens != 0 {
		c.Ingest.ChunkMaxTokens = other.Ingest.ChunkMaxTokens
	}
	if other.Ingest.ChunkOverlapTokens != 0 {
		c.Ingest.ChunkOverlapTokens = other.Ingest.ChunkOverlapTokens
	}
	if other.Ingest.EmbedBatchSize != 0 {
		c.Ingest.EmbedBatchSize = other.Ingest.EmbedBatchSize
	}
	if other.Ingest.EmbedBatchDelay != "" {
		c.Ingest.EmbedBatchDelay = other.Ingest.EmbedBatchDelay
	}
	// SecretDetection defaults true; a bare "ingest:" section cannot
	// distinguish unset from false, so only an explicit env override
	// or a file that sets other ingest keys alongside it disables it.
	if other.Ingest.Workers != 0 || other.Ingest.EmbedBatchSize != 0 {
		c.Ingest.SecretDetection = other.Ingest.SecretDetection
	}

	// Agent
	if other.Agent.DefaultTopK != 0 {
		c.Agent.DefaultTopK = other.Agent.DefaultTopK
	}
	if other.Agent.MaxTopK != 0 {
		c.Agent.MaxTopK = other.Agent.MaxTopK
	}
	if other.Agent.HistoryLimit != 0 {
		c.Agent.HistoryLimit = other.Agent.HistoryLimit
	}

	// RateLimit
	if other.RateLimit.PerIPHourly != 0 {
		c.RateLimit.PerIPHourly = other.RateLimit.PerIPHourly
	}
	if other.RateLimit.AppHourly != 0 {
		c.RateLimit.AppHourly = other.RateLimit.AppHourly
	}
	if other.RateLimit.MaxConcurrentQueries != 0 {
		c.RateLimit.MaxConcurrentQueries = other.RateLimit.MaxConcurrentQueries
	}
	if other.RateLimit.PerIPHourly != 0 || other.RateLimit.AppHourly != 0 {
		c.RateLimit.Enabled = other.RateLimit.Enabled
	}

	// Sessions
	if other.Sessions.RetentionDays != 0 {
		c.Sessions.RetentionDays = other.Sessions.RetentionDays
	}
	if other.Sessions.CleanupInterval != "" {
		c.Sessions.CleanupInterval = other.Sessions.CleanupInterval
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
	if other.Logging.Level != "" {
		c.Logging.Stderr = other.Logging.Stderr
	}

	// Metrics
	if other.Metrics.Path != "" {
		c.Metrics.Path = other.Metrics.Path
		c.Metrics.Enabled = other.Metrics.Enabled
	}
}

// applyEnvOverrides applies ASKREPO_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ASKREPO_ENVIRONMENT"); v != "" {
		c.Environment = v
	}

	// Server
	if v := os.Getenv("ASKREPO_SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("ASKREPO_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}

	// Storage
	if v := os.Getenv("ASKREPO_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("ASKREPO_BLOB_DIR"); v != "" {
		c.Storage.BlobDir = v
	}
	if v := os.Getenv("ASKREPO_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Storage.MaxUploadBytes = n
		}
	}

	// Database and KV
	if v := os.Getenv("ASKREPO_DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("ASKREPO_SQLITE_CACHE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Database.CacheSizeMB = n
		}
	}
	if v := os.Getenv("ASKREPO_KV_PATH"); v != "" {
		c.KV.Path = v
	}

	// Vector
	if v := os.Getenv("ASKREPO_VECTOR_DIR"); v != "" {
		c.Vector.Dir = v
	}
	if v := os.Getenv("ASKREPO_VECTOR_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Vector.Dimensions = n
		}
	}

	// Embedding
	if v := os.Getenv("ASKREPO_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("ASKREPO_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("ASKREPO_EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("ASKREPO_EMBEDDING_ENDPOINT"); v != "" {
		c.Embedding.Endpoint = v
	}
	if v := os.Getenv("ASKREPO_EMBEDDING_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embedding.BatchSize = n
		}
	}

	// LLM
	if v := os.Getenv("ASKREPO_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("ASKREPO_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("ASKREPO_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("ASKREPO_LLM_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
	if v := os.Getenv("ASKREPO_LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.LLM.MaxTokens = n
		}
	}

	// Ingest
	if v := os.Getenv("ASKREPO_INGEST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingest.Workers = n
		}
	}
	if v := os.Getenv("ASKREPO_SECRET_DETECTION"); v != "" {
		c.Ingest.SecretDetection = parseBool(v)
	}

	// Agent
	if v := os.Getenv("ASKREPO_DEFAULT_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Agent.DefaultTopK = n
		}
	}
	if v := os.Getenv("ASKREPO_MAX_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Agent.MaxTopK = n
		}
	}

	// Rate limiting
	if v := os.Getenv("ASKREPO_RATE_LIMIT_ENABLED"); v != "" {
		c.RateLimit.Enabled = parseBool(v)
	}
	if v := os.Getenv("ASKREPO_RATE_LIMIT_PER_IP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimit.PerIPHourly = n
		}
	}
	if v := os.Getenv("ASKREPO_MAX_CONCURRENT_QUERIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimit.MaxConcurrentQueries = n
		}
	}

	// Sessions
	if v := os.Getenv("ASKREPO_SESSION_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sessions.RetentionDays = n
		}
	}

	// Logging and metrics
	if v := os.Getenv("ASKREPO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ASKREPO_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("ASKREPO_METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = parseBool(v)
	}
}

// parseBool accepts "true"/"1"/"yes" (any case) as true.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("environment must be 'development', 'staging', or 'production', got %s", c.Environment)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("storage.max_upload_bytes must be positive, got %d", c.Storage.MaxUploadBytes)
	}

	validEmbedding := map[string]bool{"jina": true, "openai": true, "mock": true}
	if !validEmbedding[strings.ToLower(c.Embedding.Provider)] {
		return fmt.Errorf("embedding.provider must be 'jina', 'openai', or 'mock', got %s", c.Embedding.Provider)
	}

	validLLM := map[string]bool{"anthropic": true, "openai": true, "mock": true}
	if !validLLM[strings.ToLower(c.LLM.Provider)] {
		return fmt.Errorf("llm.provider must be 'anthropic', 'openai', or 'mock', got %s", c.LLM.Provider)
	}

	// Providers other than mock need real credentials. Placeholder keys
	// copied from example config must not reach a running service.
	if err := validateAPIKey("embedding.api_key", c.Embedding.Provider, c.Embedding.APIKey); err != nil {
		return err
	}
	if err := validateAPIKey("llm.api_key", c.LLM.Provider, c.LLM.APIKey); err != nil {
		return err
	}

	if c.Vector.Dimensions <= 0 {
		return fmt.Errorf("vector.dimensions must be positive, got %d", c.Vector.Dimensions)
	}

	if c.Agent.DefaultTopK < 1 {
		return fmt.Errorf("agent.default_top_k must be at least 1, got %d", c.Agent.DefaultTopK)
	}
	if c.Agent.MaxTopK < c.Agent.DefaultTopK {
		return fmt.Errorf("agent.max_top_k (%d) must be >= agent.default_top_k (%d)", c.Agent.MaxTopK, c.Agent.DefaultTopK)
	}

	if c.Ingest.ChunkMinTokens >= c.Ingest.ChunkMaxTokens {
		return fmt.Errorf("ingest.chunk_min_tokens (%d) must be < ingest.chunk_max_tokens (%d)",
			c.Ingest.ChunkMinTokens, c.Ingest.ChunkMaxTokens)
	}
	if c.Ingest.EmbedBatchSize < 1 {
		return fmt.Errorf("ingest.embed_batch_size must be at least 1, got %d", c.Ingest.EmbedBatchSize)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.PerIPHourly < 1 {
			return fmt.Errorf("rate_limit.per_ip_hourly must be at least 1, got %d", c.RateLimit.PerIPHourly)
		}
		if c.RateLimit.AppHourly < c.RateLimit.PerIPHourly {
			return fmt.Errorf("rate_limit.app_hourly (%d) must be >= per_ip_hourly (%d)",
				c.RateLimit.AppHourly, c.RateLimit.PerIPHourly)
		}
	}
	if c.RateLimit.MaxConcurrentQueries < 1 {
		return fmt.Errorf("rate_limit.max_concurrent_queries must be at least 1, got %d", c.RateLimit.MaxConcurrentQueries)
	}

	if c.Sessions.RetentionDays < 1 {
		return fmt.Errorf("sessions.retention_days must be at least 1, got %d", c.Sessions.RetentionDays)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// validateAPIKey rejects empty or placeholder keys for real providers.
func validateAPIKey(field, provider, key string) error {
	if strings.ToLower(provider) == "mock" {
		return nil
	}
	if key == "" {
		return fmt.Errorf("%s is required for provider %q", field, provider)
	}
	if strings.HasPrefix(strings.ToLower(key), "your_") {
		return fmt.Errorf("%s still contains the placeholder value; set a real key", field)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
