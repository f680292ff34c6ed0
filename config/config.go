package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the controller process.
type Config struct {
	Server     ServerConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Reconciler ReconcilerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"SERVER_HOST"`
	Port         int           `mapstructure:"SERVER_PORT"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `mapstructure:"SERVER_IDLE_TIMEOUT"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"POSTGRES_HOST"`
	Port     int    `mapstructure:"POSTGRES_PORT"`
	User     string `mapstructure:"POSTGRES_USER"`
	Password string `mapstructure:"POSTGRES_PASSWORD"`
	DBName   string `mapstructure:"POSTGRES_DB"`
	SSLMode  string `mapstructure:"POSTGRES_SSLMODE"`
	MaxConns int32  `mapstructure:"POSTGRES_MAX_CONNS"`
	MinConns int32  `mapstructure:"POSTGRES_MIN_CONNS"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     int    `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
	PoolSize int    `mapstructure:"REDIS_POOL_SIZE"`
}

// AuthConfig holds token signing settings.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"JWT_SECRET"`
	TokenTTL  time.Duration `mapstructure:"TOKEN_TTL"`
}

// ReconcilerConfig holds the background loop cadence and per-call ceilings.
type ReconcilerConfig struct {
	TickInterval   time.Duration `mapstructure:"RECONCILE_INTERVAL"`
	HealthTimeout  time.Duration `mapstructure:"HEALTH_TIMEOUT"`
	StartTimeout   time.Duration `mapstructure:"START_TIMEOUT"`
	StopTimeout    time.Duration `mapstructure:"STOP_TIMEOUT"`
	WakeLead       time.Duration `mapstructure:"WAKE_LEAD"`
	PortBase       int           `mapstructure:"PORT_BASE"`
	DriftEveryTick int           `mapstructure:"DRIFT_EVERY_TICKS"`
}

// AgentConfig holds configuration for the worker-side agent daemon.
type AgentConfig struct {
	// Host is the advertised host name used to build container access URLs.
	Host         string        `mapstructure:"AGENT_HOST"`
	ListenHost   string        `mapstructure:"AGENT_LISTEN_HOST"`
	ListenPort   int           `mapstructure:"AGENT_LISTEN_PORT"`
	StopGrace    time.Duration `mapstructure:"AGENT_STOP_GRACE"`
	ReadTimeout  time.Duration `mapstructure:"AGENT_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"AGENT_WRITE_TIMEOUT"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerAddr returns the HTTP listen address in host:port format.
func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ListenAddr returns the agent HTTP listen address in host:port format.
func (a *AgentConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", a.ListenHost, a.ListenPort)
}

func readEnv() {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Try to read .env file. If it doesn't exist (e.g., inside Docker),
	// env vars injected by docker-compose env_file are used instead.
	_ = viper.ReadInConfig()
}

// Load reads controller configuration from environment variables and .env file.
func Load() (*Config, error) {
	readEnv()

	// ── Defaults ────────────────────────────────────────
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 8080)
	viper.SetDefault("SERVER_READ_TIMEOUT", "5s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	viper.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "labdock")
	viper.SetDefault("POSTGRES_PASSWORD", "labdock_secret")
	viper.SetDefault("POSTGRES_DB", "labdock_db")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("POSTGRES_MAX_CONNS", 50)
	viper.SetDefault("POSTGRES_MIN_CONNS", 10)

	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_POOL_SIZE", 100)

	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("TOKEN_TTL", "24h")

	viper.SetDefault("RECONCILE_INTERVAL", "60s")
	viper.SetDefault("HEALTH_TIMEOUT", "5s")
	viper.SetDefault("START_TIMEOUT", "15s")
	viper.SetDefault("STOP_TIMEOUT", "15s")
	viper.SetDefault("WAKE_LEAD", "10m")
	viper.SetDefault("PORT_BASE", 8000)
	viper.SetDefault("DRIFT_EVERY_TICKS", 10)

	cfg := &Config{
		Server: ServerConfig{
			Host:         viper.GetString("SERVER_HOST"),
			Port:         viper.GetInt("SERVER_PORT"),
			ReadTimeout:  viper.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout: viper.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:  viper.GetDuration("SERVER_IDLE_TIMEOUT"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("POSTGRES_HOST"),
			Port:     viper.GetInt("POSTGRES_PORT"),
			User:     viper.GetString("POSTGRES_USER"),
			Password: viper.GetString("POSTGRES_PASSWORD"),
			DBName:   viper.GetString("POSTGRES_DB"),
			SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
			MaxConns: viper.GetInt32("POSTGRES_MAX_CONNS"),
			MinConns: viper.GetInt32("POSTGRES_MIN_CONNS"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetInt("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
			PoolSize: viper.GetInt("REDIS_POOL_SIZE"),
		},
		Auth: AuthConfig{
			JWTSecret: viper.GetString("JWT_SECRET"),
			TokenTTL:  viper.GetDuration("TOKEN_TTL"),
		},
		Reconciler: ReconcilerConfig{
			TickInterval:   viper.GetDuration("RECONCILE_INTERVAL"),
			HealthTimeout:  viper.GetDuration("HEALTH_TIMEOUT"),
			StartTimeout:   viper.GetDuration("START_TIMEOUT"),
			StopTimeout:    viper.GetDuration("STOP_TIMEOUT"),
			WakeLead:       viper.GetDuration("WAKE_LEAD"),
			PortBase:       viper.GetInt("PORT_BASE"),
			DriftEveryTick: viper.GetInt("DRIFT_EVERY_TICKS"),
		},
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}
	if len(cfg.Auth.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}
	if cfg.Auth.TokenTTL <= 0 {
		return nil, fmt.Errorf("TOKEN_TTL must be positive")
	}

	return cfg, nil
}

// LoadAgent reads agent configuration from environment variables and .env file.
func LoadAgent() (*AgentConfig, error) {
	readEnv()

	viper.SetDefault("AGENT_HOST", "localhost")
	viper.SetDefault("AGENT_LISTEN_HOST", "0.0.0.0")
	viper.SetDefault("AGENT_LISTEN_PORT", 5000)
	viper.SetDefault("AGENT_STOP_GRACE", "10s")
	viper.SetDefault("AGENT_READ_TIMEOUT", "30s")
	viper.SetDefault("AGENT_WRITE_TIMEOUT", "120s")

	return &AgentConfig{
		Host:         viper.GetString("AGENT_HOST"),
		ListenHost:   viper.GetString("AGENT_LISTEN_HOST"),
		ListenPort:   viper.GetInt("AGENT_LISTEN_PORT"),
		StopGrace:    viper.GetDuration("AGENT_STOP_GRACE"),
		ReadTimeout:  viper.GetDuration("AGENT_READ_TIMEOUT"),
		WriteTimeout: viper.GetDuration("AGENT_WRITE_TIMEOUT"),
	}, nil
}
