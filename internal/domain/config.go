package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment  string             `mapstructure:"environment"`
	Nomenclature NomenclatureConfig `mapstructure:"nomenclature"`
	Build        BuildConfig        `mapstructure:"build"`
	Store        StoreConfig        `mapstructure:"store"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// NomenclatureConfig locates the nomenclature release the dictionary is built from
type NomenclatureConfig struct {
	Version        string `mapstructure:"version"`
	SnapshotPath   string `mapstructure:"snapshot_path"`
	ExceptionsPath string `mapstructure:"exceptions_path"`
}

// BuildConfig controls the precalculation run
type BuildConfig struct {
	Workers int `mapstructure:"workers"`
}

// StoreConfig represents dictionary snapshot persistence configuration
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"` // "sqlite", "postgres", "none"
	SQLitePath      string        `mapstructure:"sqlite_path"`
	PostgresURL     string        `mapstructure:"postgres_url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
}

// CacheConfig represents lookup projection cache configuration
type CacheConfig struct {
	MaxItems       int           `mapstructure:"max_items"`
	RedisURL       string        `mapstructure:"redis_url"`
	TTL            time.Duration `mapstructure:"ttl"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
}

// MetricsConfig represents metrics export configuration
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
