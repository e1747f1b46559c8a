package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the complete configuration for the object store engine.
type Configuration struct {
	Global      GlobalConfig      `yaml:"global"`
	StorageRoot string            `yaml:"storage_root"`
	Timeouts    TimeoutConfig     `yaml:"timeouts"`
	Resources   ResourceConfig    `yaml:"resources"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Cache       CacheConfig       `yaml:"cache"`
	Retry       RetryConfig       `yaml:"retry"`
	Circuit     CircuitConfig     `yaml:"circuit_breaker"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
}

// GlobalConfig carries process-wide ambient settings.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
}

// TimeoutConfig holds the per-operation ceilings the engine enforces.
type TimeoutConfig struct {
	FileOperationMs int `yaml:"file_operation_ms"`
	DirOperationMs  int `yaml:"dir_operation_ms"`
}

func (t TimeoutConfig) FileOperation() time.Duration {
	return time.Duration(t.FileOperationMs) * time.Millisecond
}

func (t TimeoutConfig) DirOperation() time.Duration {
	return time.Duration(t.DirOperationMs) * time.Millisecond
}

// ResourceConfig controls chunking and in-memory size classification for ParallelFileProcessor.
type ResourceConfig struct {
	ChunkSizeBytes        int64 `yaml:"chunk_size_bytes"`
	LargeFileThresholdMB  int64 `yaml:"large_file_threshold_mb"`
	ParallelThresholdMB   int64 `yaml:"parallel_threshold_mb"`
	MaxInMemoryFileSizeMB int64 `yaml:"max_in_memory_file_size_mb"`
}

func (r ResourceConfig) LargeFileThresholdBytes() int64 {
	return r.LargeFileThresholdMB * 1024 * 1024
}

func (r ResourceConfig) ParallelThresholdBytes() int64 {
	return r.ParallelThresholdMB * 1024 * 1024
}

func (r ResourceConfig) MaxInMemoryFileSizeBytes() int64 {
	return r.MaxInMemoryFileSizeMB * 1024 * 1024
}

// ConcurrencyConfig bounds the blocking worker pool used for chunked I/O.
type ConcurrencyConfig struct {
	MaxParallelChunks int `yaml:"max_parallel_chunks"`
}

// CacheConfig configures the metadata cache and the id mapping cache.
type CacheConfig struct {
	MetadataTTLMs       int `yaml:"metadata_ttl_ms"`
	IDMappingTTLS       int `yaml:"id_mapping_ttl_s"`
	IDMappingMaxEntries int `yaml:"id_mapping_max_entries"`
}

func (c CacheConfig) MetadataTTL() time.Duration {
	return time.Duration(c.MetadataTTLMs) * time.Millisecond
}

func (c CacheConfig) IDMappingTTL() time.Duration {
	return time.Duration(c.IDMappingTTLS) * time.Second
}

// RetryConfig drives pkg/retry's default backoff schedule for mapping persistence.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitConfig guards the blocking worker pool against saturation.
type CircuitConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// MonitoringConfig groups the ambient metrics/health/logging surface.
type MonitoringConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// MetricsConfig represents metrics settings.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Prometheus bool   `yaml:"prometheus"`
	Namespace  string `yaml:"namespace"`
}

// HealthChecksConfig represents health check settings.
type HealthChecksConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig represents structured logging settings.
type LoggingConfig struct {
	Structured bool   `yaml:"structured"`
	Format     string `yaml:"format"`
}

// NewDefault returns a configuration with sensible defaults for a single-node deployment.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFile:     "",
			MetricsPort: 8080,
			HealthPort:  8081,
		},
		StorageRoot: "/var/lib/storeengine/data",
		Timeouts: TimeoutConfig{
			FileOperationMs: 30000,
			DirOperationMs:  10000,
		},
		Resources: ResourceConfig{
			ChunkSizeBytes:        4 * 1024 * 1024,
			LargeFileThresholdMB:  10,
			ParallelThresholdMB:   100,
			MaxInMemoryFileSizeMB: 50,
		},
		Concurrency: ConcurrencyConfig{
			MaxParallelChunks: 8,
		},
		Cache: CacheConfig{
			MetadataTTLMs:       5000,
			IDMappingTTLS:       300,
			IDMappingMaxEntries: 100000,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		},
		Circuit: CircuitConfig{
			Enabled:          true,
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:    true,
				Prometheus: true,
				Namespace:  "storeengine",
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  true,
				Interval: 30 * time.Second,
				Timeout:  5 * time.Second,
			},
			Logging: LoggingConfig{
				Structured: true,
				Format:     "json",
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file, overlaying it on the receiver's current values.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv overlays STOREENGINE_* environment variables onto the configuration.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("STOREENGINE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("STOREENGINE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("STOREENGINE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}
	if val := os.Getenv("STOREENGINE_HEALTH_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.HealthPort = port
		}
	}
	if val := os.Getenv("STOREENGINE_STORAGE_ROOT"); val != "" {
		c.StorageRoot = val
	}
	if val := os.Getenv("STOREENGINE_MAX_PARALLEL_CHUNKS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Concurrency.MaxParallelChunks = n
		}
	}
	if val := os.Getenv("STOREENGINE_METADATA_TTL_MS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.MetadataTTLMs = n
		}
	}
	if val := os.Getenv("STOREENGINE_ID_MAPPING_TTL_S"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.IDMappingTTLS = n
		}
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for internally inconsistent or out-of-range values.
func (c *Configuration) Validate() error {
	if c.StorageRoot == "" {
		return fmt.Errorf("storage_root must not be empty")
	}
	if !filepath.IsAbs(c.StorageRoot) {
		return fmt.Errorf("storage_root must be an absolute path: %s", c.StorageRoot)
	}

	if c.Timeouts.FileOperationMs <= 0 {
		return fmt.Errorf("timeouts.file_operation_ms must be greater than 0")
	}
	if c.Timeouts.DirOperationMs <= 0 {
		return fmt.Errorf("timeouts.dir_operation_ms must be greater than 0")
	}

	if c.Concurrency.MaxParallelChunks <= 0 {
		return fmt.Errorf("concurrency.max_parallel_chunks must be greater than 0")
	}

	if c.Resources.ChunkSizeBytes <= 0 {
		return fmt.Errorf("resources.chunk_size_bytes must be greater than 0")
	}
	if c.Resources.LargeFileThresholdMB <= 0 {
		return fmt.Errorf("resources.large_file_threshold_mb must be greater than 0")
	}
	if c.Resources.ParallelThresholdMB < c.Resources.LargeFileThresholdMB {
		return fmt.Errorf("resources.parallel_threshold_mb must be >= large_file_threshold_mb")
	}
	if c.Resources.MaxInMemoryFileSizeMB <= 0 {
		return fmt.Errorf("resources.max_in_memory_file_size_mb must be greater than 0")
	}

	if c.Cache.IDMappingMaxEntries <= 0 {
		return fmt.Errorf("cache.id_mapping_max_entries must be greater than 0")
	}

	if c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}
