// Package config holds the YAML-tagged configuration structs for syncd:
// network/log-filter configuration for the realtime sync service, plus the
// ambient database, retry, maintenance, and logging knobs carried over from
// the teacher's configuration layer.
package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	internalcommon "github.com/evmindex/realtime-sync-core/internal/common"
)

// Config is the complete configuration for a syncd process: one network
// connection, one Event Store, and the set of log filters it maintains.
type Config struct {
	// Network contains RPC connection and finality settings.
	Network NetworkConfig `yaml:"network" json:"network"`

	// LogFilters is the set of log filters the realtime service tracks.
	LogFilters []LogFilterConfig `yaml:"logFilters" json:"logFilters"`

	// DB contains database configuration for the event store.
	DB DatabaseConfig `yaml:"db" json:"db"`

	// Retry contains RPC retry/backoff configuration.
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Maintenance contains background DB maintenance configuration.
	Maintenance MaintenanceConfig `yaml:"maintenance" json:"maintenance"`

	// Logging contains per-component log level configuration.
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// NetworkConfig describes the chain the realtime sync service follows.
type NetworkConfig struct {
	// RPCURL is the JSON-RPC endpoint to poll.
	RPCURL string `yaml:"rpcUrl" json:"rpcUrl"`

	// PollingInterval is the cadence of latest-block polling.
	PollingInterval internalcommon.Duration `yaml:"pollingInterval" json:"pollingInterval"`

	// FinalityBlockCount is the depth beyond which a block is treated as final.
	FinalityBlockCount uint64 `yaml:"finalityBlockCount" json:"finalityBlockCount"`

	// ChainID tags all persisted rows on write paths.
	ChainID uint64 `yaml:"chainId" json:"chainId"`
}

// ApplyDefaults sets default values for optional network configuration fields.
func (n *NetworkConfig) ApplyDefaults() {
	if n.PollingInterval.Duration == 0 {
		n.PollingInterval = internalcommon.NewDuration(defaultPollingInterval)
	}
	if n.FinalityBlockCount == 0 {
		n.FinalityBlockCount = defaultFinalityBlockCount
	}
}

// LogFilterConfig names one log filter tracked by the realtime sync service.
type LogFilterConfig struct {
	// Key identifies this filter for cached-interval bookkeeping.
	Key string `yaml:"key" json:"key"`

	// Filter is the address/topic pattern this key tracks.
	Filter FilterSpec `yaml:"filter" json:"filter"`
}

// FilterSpec is an address + up to four topic-position patterns. A nil entry
// in Topics[i] means "any value at position i".
type FilterSpec struct {
	Address common.Address  `yaml:"address" json:"address"`
	Topics  [4][]common.Hash `yaml:"topics" json:"topics"`

	// EndBlock, if set, is read only by realtime.Service.Start: when every
	// configured filter has an EndBlock at or below the finality checkpoint,
	// Start returns without polling. Blocks past EndBlock are still matched
	// against this filter.
	EndBlock *uint64 `yaml:"endBlock,omitempty" json:"endBlock,omitempty"`
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database.
	Path string `yaml:"path" json:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE").
	JournalMode string `yaml:"journalMode" json:"journalMode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF").
	Synchronous string `yaml:"synchronous" json:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked.
	BusyTimeout int `yaml:"busyTimeout" json:"busyTimeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages).
	CacheSize int `yaml:"cacheSize" json:"cacheSize"`

	// MaxOpenConnections is the maximum number of open database connections.
	MaxOpenConnections int `yaml:"maxOpenConnections" json:"maxOpenConnections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool.
	MaxIdleConnections int `yaml:"maxIdleConnections" json:"maxIdleConnections"`

	// EnableForeignKeys enables foreign key constraint enforcement.
	EnableForeignKeys bool `yaml:"enableForeignKeys" json:"enableForeignKeys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// RetryConfig controls RPC retry/backoff behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts for a retryable call
	// (including the first one).
	MaxAttempts int `yaml:"maxAttempts" json:"maxAttempts"`

	// InitialBackoff is the delay before the first retry.
	InitialBackoff internalcommon.Duration `yaml:"initialBackoff" json:"initialBackoff"`

	// MaxBackoff caps the exponential backoff delay.
	MaxBackoff internalcommon.Duration `yaml:"maxBackoff" json:"maxBackoff"`

	// BackoffMultiplier scales the delay after each attempt.
	BackoffMultiplier float64 `yaml:"backoffMultiplier" json:"backoffMultiplier"`
}

// ApplyDefaults sets default values for optional retry configuration fields.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = internalcommon.NewDuration(defaultInitialBackoff)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = internalcommon.NewDuration(defaultMaxBackoff)
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// MaintenanceConfig controls background SQLite maintenance (WAL checkpoints,
// VACUUM).
type MaintenanceConfig struct {
	// Enabled turns on the background maintenance worker.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// VacuumOnStartup runs a VACUUM once before the worker starts polling.
	VacuumOnStartup bool `yaml:"vacuumOnStartup" json:"vacuumOnStartup"`

	// CheckInterval is how often the maintenance worker wakes up.
	CheckInterval internalcommon.Duration `yaml:"checkInterval" json:"checkInterval"`

	// WALCheckpointMode is passed to `PRAGMA wal_checkpoint(<mode>)`.
	WALCheckpointMode string `yaml:"walCheckpointMode" json:"walCheckpointMode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = internalcommon.NewDuration(defaultMaintenanceCheckInterval)
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "PASSIVE"
	}
}

// LoggingConfig supplies per-component log levels, implementing
// internal/logger.LoggingConfig.
type LoggingConfig struct {
	// DefaultLevel is used for any component with no override.
	DefaultLevel string `yaml:"defaultLevel" json:"defaultLevel"`

	// ComponentLevels overrides the level for specific components.
	ComponentLevels map[string]string `yaml:"componentLevels" json:"componentLevels"`

	// Development switches to zap's console-friendly development encoder.
	Development bool `yaml:"development" json:"development"`
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
}

// MetricsConfig controls the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled turns on the metrics HTTP server.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ListenAddress is the address the metrics server binds to.
	ListenAddress string `yaml:"listenAddress" json:"listenAddress"`

	// Path is the HTTP path metrics are served on.
	Path string `yaml:"path" json:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// GetComponentLevel returns the level configured for component, falling back
// to the default level if there is no override.
func (l LoggingConfig) GetComponentLevel(component string) string {
	if lvl, ok := l.ComponentLevels[component]; ok && lvl != "" {
		return lvl
	}
	return l.GetDefaultLevel()
}

// GetDefaultLevel returns the default log level.
func (l LoggingConfig) GetDefaultLevel() string {
	if l.DefaultLevel == "" {
		return "info"
	}
	return l.DefaultLevel
}

// IsDevelopment reports whether the development encoder should be used.
func (l LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// ApplyDefaults sets default values across the whole configuration tree.
func (c *Config) ApplyDefaults() {
	c.Network.ApplyDefaults()
	c.DB.ApplyDefaults()
	c.Retry.ApplyDefaults()
	c.Maintenance.ApplyDefaults()
	c.Logging.ApplyDefaults()
	c.Metrics.ApplyDefaults()
}

// Validate checks that the configuration is complete and internally
// consistent.
func (c *Config) Validate() error {
	if c.Network.RPCURL == "" {
		return fmt.Errorf("network.rpcUrl is required")
	}
	if c.Network.ChainID == 0 {
		return fmt.Errorf("network.chainId is required")
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}
	if c.DB.JournalMode != "" && c.DB.JournalMode != "WAL" &&
		c.DB.JournalMode != "DELETE" && c.DB.JournalMode != "TRUNCATE" &&
		c.DB.JournalMode != "PERSIST" && c.DB.JournalMode != "MEMORY" {
		return fmt.Errorf("db.journalMode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}
	if c.DB.Synchronous != "" && c.DB.Synchronous != "FULL" &&
		c.DB.Synchronous != "NORMAL" && c.DB.Synchronous != "OFF" {
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}
	if len(c.LogFilters) == 0 {
		return fmt.Errorf("at least one log filter must be configured")
	}

	keys := make(map[string]bool, len(c.LogFilters))
	for i, lf := range c.LogFilters {
		if lf.Key == "" {
			return fmt.Errorf("logFilters[%d]: key is required", i)
		}
		if keys[lf.Key] {
			return fmt.Errorf("logFilters[%d]: duplicate log filter key %q", i, lf.Key)
		}
		keys[lf.Key] = true
	}

	return nil
}

const (
	defaultPollingInterval          = 4_000_000_000 // 4s, expressed in ns to avoid importing time here twice
	defaultFinalityBlockCount       = 64
	defaultInitialBackoff           = 250_000_000 // 250ms
	defaultMaxBackoff               = 30_000_000_000
	defaultMaintenanceCheckInterval = 300_000_000_000 // 5m
)
