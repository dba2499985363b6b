package config

import (
	"time"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	API      APIConfig      `yaml:"api"`
	Cache    CacheConfig    `yaml:"cache"`
	Retry    RetryConfig    `yaml:"retry"`
	Network  NetworkConfig  `yaml:"network"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Offline  OfflineConfig  `yaml:"offline"`
}

// ServerConfig holds health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port" validate:"min=1,max=65535"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// APIConfig describes the backend the dispatcher talks to.
type APIConfig struct {
	BaseURL string            `yaml:"base_url" validate:"required,url"`
	Timeout time.Duration     `yaml:"timeout"  validate:"min=0"`
	Headers map[string]string `yaml:"headers"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl" validate:"min=0"`
}

// RetryConfig holds the default retry policy.
type RetryConfig struct {
	Enabled     *bool         `yaml:"enabled"`
	MaxAttempts int           `yaml:"max_attempts" validate:"min=1,max=20"`
	BaseDelay   time.Duration `yaml:"base_delay"   validate:"min=0"`
	MaxDelay    time.Duration `yaml:"max_delay"    validate:"min=0"`
}

// IsEnabled reports whether retries are on. Unset means on.
func (r RetryConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// NetworkConfig holds reachability probe settings. HealthURL and GRPCTarget
// are alternatives; with neither set only platform signals drive the state.
type NetworkConfig struct {
	HealthURL     string        `yaml:"health_url"     validate:"omitempty,url"`
	GRPCTarget    string        `yaml:"grpc_target"`
	GRPCService   string        `yaml:"grpc_service"`
	ProbeInterval time.Duration `yaml:"probe_interval" validate:"min=0"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"  validate:"min=0"`
	StartOffline  bool          `yaml:"start_offline"`
}

// StorageConfig selects the persistent key-value store.
type StorageConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory file redis postgres"`
	Dir    string `yaml:"dir"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns" validate:"min=0"`
	MinConns int    `yaml:"min_conns" validate:"min=0"`
}

// OfflineConfig holds offline queue settings.
type OfflineConfig struct {
	// SyncOnReconnect replays the queue on every offline to online transition.
	// Unset means on.
	SyncOnReconnect *bool `yaml:"sync_on_reconnect"`
}

// AutoSync reports whether reconnects trigger a sync.
func (o OfflineConfig) AutoSync() bool {
	return o.SyncOnReconnect == nil || *o.SyncOnReconnect
}
