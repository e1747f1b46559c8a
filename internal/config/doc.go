/*
Package config provides configuration management for the object store engine,
with layered YAML file, environment variable, and compiled-in defaults support.

# Configuration Architecture

Multi-source configuration hierarchy with precedence:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (STOREENGINE_*)                   │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration Files                 │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (Compiled-in defaults)                │
	└─────────────────────────────────────────────┘

# Configuration Sections

Global Settings:
- Logging level and destination
- Metrics and health check ports

storage_root:
- Base directory all StoragePath values resolve beneath.

Timeouts:
- file_operation_ms, dir_operation_ms: per-operation ceilings enforced with context.Context.

Resources:
- chunk_size_bytes: I/O chunk size used by ParallelFileProcessor.
- large_file_threshold_mb, parallel_threshold_mb: size classification boundaries.
- max_in_memory_file_size_mb: ceiling for whole-file reads.

Concurrency:
- max_parallel_chunks: worker cap for the blocking I/O pool.

Cache:
- metadata_ttl_ms: FileMetadataCache entry lifetime.
- id_mapping_ttl_s, id_mapping_max_entries: IdMappingOptimizer's cache bounds.

Retry and circuit_breaker:
- backoff schedule and failure threshold guarding mapping persistence and the blocking pool.

Monitoring:
- Prometheus metrics, health check interval, structured logging format.

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/storeengine/config.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Configuration file format:

	storage_root: /var/lib/storeengine/data
	timeouts:
	  file_operation_ms: 30000
	  dir_operation_ms: 10000
	resources:
	  chunk_size_bytes: 4194304
	  large_file_threshold_mb: 10
	  parallel_threshold_mb: 100
	  max_in_memory_file_size_mb: 50
	concurrency:
	  max_parallel_chunks: 8
	cache:
	  metadata_ttl_ms: 5000
	  id_mapping_ttl_s: 300
	  id_mapping_max_entries: 100000
*/
package config
