package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	HITLDatabase  DatabaseConfig
	AuditDatabase DatabaseConfig
	Auth          AuthConfig
	HITL          HITLConfig
	Notifications NotificationConfig
	Observability ObservabilityConfig
	StateDir      string
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig describes one single-writer store. DSN is a file path for
// sqlite3 and a connection URL for postgres.
type DatabaseConfig struct {
	Driver          string
	DSN             string
	BusyTimeout     time.Duration
	ConnMaxLifetime time.Duration
}

// AuthConfig holds bearer token validation settings. An empty JWTSecret
// disables authentication on the API.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// HITLConfig holds approval workflow settings
type HITLConfig struct {
	DefaultExpiry     time.Duration
	SweepInterval     time.Duration // 0 disables the background sweeper
	OperatorRoleIDs   []string      // empty means no restriction
	ApprovalChannelID string
}

// NotificationConfig configures the approval notification dispatcher
type NotificationConfig struct {
	BufferSize  int
	WorkerCount int
	Discord     DiscordConfig
}

// DiscordConfig holds the bot credentials used to post approval requests
type DiscordConfig struct {
	BotToken string
	APIBase  string
	Timeout  time.Duration
}

// Enabled reports whether approval messages can be sent
func (c DiscordConfig) Enabled() bool {
	return c.BotToken != ""
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	stateDir := getEnv("STATE_DIR", "./state")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		StateDir:    stateDir,
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		HITLDatabase:  loadDatabaseConfig("HITL", filepath.Join(stateDir, "hitl.db")),
		AuditDatabase: loadDatabaseConfig("AUDIT", filepath.Join(stateDir, "audit.db")),
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_JWT_ISSUER", ""),
		},
		HITL: HITLConfig{
			DefaultExpiry:     getEnvAsDuration("HITL_DEFAULT_EXPIRY", 24*time.Hour),
			SweepInterval:     getEnvAsDuration("HITL_SWEEP_INTERVAL", time.Minute),
			OperatorRoleIDs:   getEnvAsList("HITL_OPERATOR_ROLE_IDS"),
			ApprovalChannelID: getEnv("HITL_APPROVAL_CHANNEL_ID", ""),
		},
		Notifications: NotificationConfig{
			BufferSize:  getEnvAsInt("NOTIFY_BUFFER_SIZE", 256),
			WorkerCount: getEnvAsInt("NOTIFY_WORKERS", 2),
			Discord: DiscordConfig{
				BotToken: getEnv("DISCORD_BOT_TOKEN", ""),
				APIBase:  getEnv("DISCORD_API_BASE", "https://discord.com/api/v10"),
				Timeout:  getEnvAsDuration("DISCORD_TIMEOUT", 10*time.Second),
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	for name, db := range map[string]DatabaseConfig{"hitl": c.HITLDatabase, "audit": c.AuditDatabase} {
		if db.Driver != DriverSQLite && db.Driver != DriverPostgres {
			return fmt.Errorf("%s database driver must be %s or %s, got %q", name, DriverSQLite, DriverPostgres, db.Driver)
		}
		if db.DSN == "" {
			return fmt.Errorf("%s database DSN is required", name)
		}
	}

	if c.HITL.DefaultExpiry <= 0 {
		return fmt.Errorf("HITL default expiry must be positive")
	}
	if c.HITL.SweepInterval < 0 {
		return fmt.Errorf("HITL sweep interval must not be negative")
	}
	if c.Notifications.WorkerCount < 1 {
		return fmt.Errorf("notification worker count must be at least 1")
	}
	if c.Notifications.BufferSize < 1 {
		return fmt.Errorf("notification buffer size must be at least 1")
	}

	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required in production")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// ConnectionString returns the driver-specific data source name
func (c *DatabaseConfig) ConnectionString() string {
	if c.Driver != DriverSQLite || strings.Contains(c.DSN, "?") {
		return c.DSN
	}
	return fmt.Sprintf("%s?_busy_timeout=%d&_foreign_keys=on", c.DSN, c.BusyTimeout.Milliseconds())
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	if c.Driver == DriverSQLite {
		return fmt.Sprintf("driver=sqlite3 path=%s", c.DSN)
	}
	u, err := url.Parse(c.DSN)
	if err != nil || u.Host == "" {
		return "driver=postgres host=<from DSN>"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("driver=postgres host=%s port=%s database=%s",
		u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
}

// loadDatabaseConfig reads <PREFIX>_DB_DRIVER and <PREFIX>_DB_DSN
func loadDatabaseConfig(prefix, defaultPath string) DatabaseConfig {
	return DatabaseConfig{
		Driver:          getEnv(prefix+"_DB_DRIVER", DriverSQLite),
		DSN:             getEnv(prefix+"_DB_DSN", defaultPath),
		BusyTimeout:     getEnvAsDuration("DB_BUSY_TIMEOUT", 5*time.Second),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 0),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated value, dropping blanks
func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
