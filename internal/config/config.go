package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ae-safety-server/internal/domain"
)

// Manager loads and exposes application configuration using Viper
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/ae-safety-server/")

	viper.SetEnvPrefix("AE_SAFETY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	// Config file is optional; defaults and env vars cover everything.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Store defaults
	viper.SetDefault("store.backend", "sqlite")
	viper.SetDefault("store.sqlite.path", "./data/cases.db")
	viper.SetDefault("store.postgres.host", "localhost")
	viper.SetDefault("store.postgres.port", 5432)
	viper.SetDefault("store.postgres.database", "ae_safety")
	viper.SetDefault("store.postgres.username", "postgres")
	viper.SetDefault("store.postgres.password", "")
	viper.SetDefault("store.postgres.ssl_mode", "disable")
	viper.SetDefault("store.postgres.max_open_conns", 25)
	viper.SetDefault("store.postgres.max_idle_conns", 5)
	viper.SetDefault("store.postgres.conn_max_lifetime", "5m")
	viper.SetDefault("store.postgres.migrations_path", "./migrations")

	// Inference collaborator defaults
	viper.SetDefault("inference.foundation.base_url", "http://localhost:9001")
	viper.SetDefault("inference.foundation.timeout", "2s")
	viper.SetDefault("inference.foundation.rate_limit", 50)
	viper.SetDefault("inference.strategic.base_url", "http://localhost:9002")
	viper.SetDefault("inference.strategic.timeout", "2s")
	viper.SetDefault("inference.strategic.rate_limit", 50)
	viper.SetDefault("inference.synthesis.base_url", "http://localhost:9003")
	viper.SetDefault("inference.synthesis.timeout", "2s")
	viper.SetDefault("inference.synthesis.rate_limit", 50)
	viper.SetDefault("inference.circuit_breaker.max_requests", 3)
	viper.SetDefault("inference.circuit_breaker.interval", "10s")
	viper.SetDefault("inference.circuit_breaker.timeout", "5s")
	viper.SetDefault("inference.circuit_breaker.failure_threshold", 5)

	// Pipeline defaults
	viper.SetDefault("pipeline.latency_budget", "500ms")

	// Cache defaults
	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("cache.lru_size", 1024)
	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.default_ttl", "1h")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetStoreConfig returns store configuration
func (m *Manager) GetStoreConfig() *domain.StoreConfig {
	return &m.config.Store
}

// GetInferenceConfig returns inference collaborator configuration
func (m *Manager) GetInferenceConfig() *domain.InferenceConfig {
	return &m.config.Inference
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Store.Backend {
	case "sqlite":
		if config.Store.SQLite.Path == "" {
			return fmt.Errorf("sqlite store path is required")
		}
	case "postgres":
		if config.Store.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if config.Store.Postgres.Database == "" {
			return fmt.Errorf("postgres database name is required")
		}
	default:
		return fmt.Errorf("unknown store backend: %s", config.Store.Backend)
	}

	for name, c := range map[string]domain.CollaboratorConfig{
		"foundation": config.Inference.Foundation,
		"strategic":  config.Inference.Strategic,
		"synthesis":  config.Inference.Synthesis,
	} {
		if c.BaseURL == "" {
			return fmt.Errorf("%s collaborator base URL is required", name)
		}
		if c.Timeout <= 0 {
			return fmt.Errorf("%s collaborator timeout must be positive", name)
		}
	}

	if config.Pipeline.LatencyBudget <= 0 {
		return fmt.Errorf("latency budget must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetPostgresConnectionString returns a formatted connection string
func (m *Manager) GetPostgresConnectionString() string {
	pg := m.config.Store.Postgres
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pg.Host, pg.Port, pg.Username, pg.Password, pg.Database, pg.SSLMode)
}

// GetPostgresURL returns the migration-style database URL
func (m *Manager) GetPostgresURL() string {
	pg := m.config.Store.Postgres
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pg.Username, pg.Password, pg.Host, pg.Port, pg.Database, pg.SSLMode)
}
