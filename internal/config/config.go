package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/hla-matching-dictionary/internal/domain"
)

// Store drivers accepted in store.driver
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreNone     = "none"
)

// Manager loads configuration through Viper
type Manager struct {
	v      *viper.Viper
	file   string
	config *domain.Config
}

// NewManager creates a configuration manager. configFile may name an
// explicit YAML file; when empty the usual search paths are tried.
func NewManager(configFile string) (*Manager, error) {
	m := &Manager{file: configFile}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from defaults, file and environment
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.file != "" {
		v.SetConfigFile(m.file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hla-dictionary/")
	}

	v.SetEnvPrefix("HLA_DICT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// The config file is optional; defaults and environment still apply
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if m.file != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("nomenclature.version", "")
	v.SetDefault("nomenclature.snapshot_path", "")
	v.SetDefault("nomenclature.exceptions_path", "")

	v.SetDefault("build.workers", runtime.GOMAXPROCS(0))

	v.SetDefault("store.driver", StoreSQLite)
	v.SetDefault("store.sqlite_path", "data/dictionary.db")
	v.SetDefault("store.postgres_url", "")
	v.SetDefault("store.max_open_conns", 25)
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.conn_max_lifetime", "5m")
	v.SetDefault("store.run_migrations", false)

	v.SetDefault("cache.max_items", 64)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.breaker_timeout", "30s")

	v.SetDefault("metrics.textfile_path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// ConfigFileUsed returns the path of the file that was read, if any
func (m *Manager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	return Validate(m.config)
}

// Validate checks a configuration for values the dictionary cannot run with
func Validate(config *domain.Config) error {
	if config.Build.Workers <= 0 {
		return domain.NewValidationError("build.workers", "must be positive", config.Build.Workers)
	}

	switch config.Store.Driver {
	case StoreSQLite:
		if config.Store.SQLitePath == "" {
			return domain.NewValidationError("store.sqlite_path", "required for the sqlite store", "")
		}
	case StorePostgres:
		if config.Store.PostgresURL == "" {
			return domain.NewValidationError("store.postgres_url", "required for the postgres store", "")
		}
	case StoreNone:
	default:
		return domain.NewValidationError("store.driver", "unknown store driver", config.Store.Driver)
	}

	if config.Cache.MaxItems <= 0 {
		return domain.NewValidationError("cache.max_items", "must be positive", config.Cache.MaxItems)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return domain.NewValidationError("logging.level", "invalid log level", config.Logging.Level)
	}

	return nil
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}
