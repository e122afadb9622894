package domain

import (
	"io"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig configures a scheduler.Pool, mirroring the shape (field
// names and units) of the teacher's internal/domain/config.go EngineConfig,
// trimmed to the fields this engine's single-process scope actually needs.
type EngineConfig struct {
	WorkerCount          int           `json:"worker_count" yaml:"worker_count"`
	NodeExecutionTimeout time.Duration `json:"node_execution_timeout" yaml:"node_execution_timeout"`
	StateUpdateInterval  time.Duration `json:"state_update_interval" yaml:"state_update_interval"`
	LeaseTTL             time.Duration `json:"lease_ttl" yaml:"lease_ttl"`
	LeaseRenewInterval   time.Duration `json:"lease_renew_interval" yaml:"lease_renew_interval"`

	DefaultRetry          RetryPolicy          `json:"default_retry" yaml:"default_retry"`
	DefaultCircuitBreaker CircuitBreakerConfig `json:"default_circuit_breaker" yaml:"default_circuit_breaker"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

// DefaultEngineConfig mirrors the teacher's zero-value-hostile constructor
// pattern: every adapter constructor fills in sane defaults for anything
// the caller left at its zero value.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		WorkerCount:          4,
		NodeExecutionTimeout: 30 * time.Second,
		StateUpdateInterval:  time.Second,
		LeaseTTL:             15 * time.Second,
		LeaseRenewInterval:   5 * time.Second,
		DefaultRetry:         *DefaultRetryPolicy(),
		DefaultCircuitBreaker: *DefaultCircuitBreakerConfig(),
	}
}

// LoadEngineConfig reads a YAML document into an EngineConfig, applying
// DefaultEngineConfig for any zero-valued field first, matching the
// teacher's convention of loading cluster config from YAML via
// gopkg.in/yaml.v3.
func LoadEngineConfig(r io.Reader) (*EngineConfig, error) {
	cfg := DefaultEngineConfig()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, NewStorageError("read_engine_config", err)
	}
	if len(raw) == 0 {
		return cfg, nil
	}

	decoded := *cfg
	if err := yaml.Unmarshal(raw, &decoded); err != nil {
		return nil, NewValidationError("invalid_engine_config_yaml", err)
	}
	if decoded.WorkerCount <= 0 {
		decoded.WorkerCount = cfg.WorkerCount
	}
	if decoded.NodeExecutionTimeout <= 0 {
		decoded.NodeExecutionTimeout = cfg.NodeExecutionTimeout
	}
	if decoded.LeaseTTL <= 0 {
		decoded.LeaseTTL = cfg.LeaseTTL
	}
	if decoded.LeaseRenewInterval <= 0 {
		decoded.LeaseRenewInterval = cfg.LeaseRenewInterval
	}
	decoded.Logger = cfg.Logger
	return &decoded, nil
}
