package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the botforge service configuration
type Config struct {
	Bot          BotConfig          `mapstructure:"bot" yaml:"bot"`
	Ledger       LedgerConfig       `mapstructure:"ledger" yaml:"ledger"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Redis        RedisConfig        `mapstructure:"redis" yaml:"redis"`
	Session      SessionConfig      `mapstructure:"session" yaml:"session"`
	Cache        CacheConfig        `mapstructure:"cache" yaml:"cache"`
	Events       EventsConfig       `mapstructure:"events" yaml:"events"`
	Security     SecurityConfig     `mapstructure:"security" yaml:"security"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	RateLimiter  RateLimiterConfig  `mapstructure:"rate_limiter" yaml:"rate_limiter"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

// BotConfig represents the parent bot identity and global gating
type BotConfig struct {
	ParentToken      string        `mapstructure:"parent_token" yaml:"parent_token"`
	ParentOwnerID    int64         `mapstructure:"parent_owner_id" yaml:"parent_owner_id"`
	RequiredChannels []string      `mapstructure:"required_channels" yaml:"required_channels"`
	PayoutChannel    string        `mapstructure:"payout_channel" yaml:"payout_channel"`
	PollTimeout      time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
}

// LedgerConfig holds earning rates and withdrawal defaults. Amounts are
// kept as strings so YAML never round-trips them through float64.
type LedgerConfig struct {
	Currency        string `mapstructure:"currency" yaml:"currency"`
	EarnPerMember   string `mapstructure:"earn_per_member" yaml:"earn_per_member"`
	EarnPerDownline string `mapstructure:"earn_per_downline" yaml:"earn_per_downline"`
	MinWithdraw     string `mapstructure:"min_withdraw" yaml:"min_withdraw"`
	MaxWithdraw     string `mapstructure:"max_withdraw" yaml:"max_withdraw"`
}

// OrchestratorConfig tunes worker lifecycle and broadcasts
type OrchestratorConfig struct {
	HandlerWorkers       int           `mapstructure:"handler_workers" yaml:"handler_workers"`
	HandlerQueueSize     int           `mapstructure:"handler_queue_size" yaml:"handler_queue_size"`
	StopTimeout          time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	StartConcurrency     int           `mapstructure:"start_concurrency" yaml:"start_concurrency"`
	BroadcastInterval    time.Duration `mapstructure:"broadcast_interval" yaml:"broadcast_interval"`
	BroadcastConcurrency int           `mapstructure:"broadcast_concurrency" yaml:"broadcast_concurrency"`
}

// DatabaseConfig represents the ledger and registry store
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	Database        string        `mapstructure:"database" yaml:"database"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"password"`
	MaxConnections  int           `mapstructure:"max_connections" yaml:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections" yaml:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// RedisConfig represents the session store
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// SessionConfig controls pending-input continuations
type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// CacheConfig represents tenant config caching
type CacheConfig struct {
	TenantConfigTTL time.Duration `mapstructure:"tenant_config_ttl" yaml:"tenant_config_ttl"`
	MaxSize         int           `mapstructure:"max_size" yaml:"max_size"`
}

// EventsConfig selects the event sink
type EventsConfig struct {
	Driver       string        `mapstructure:"driver" yaml:"driver"` // log or kafka
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic        string        `mapstructure:"topic" yaml:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// SecurityConfig holds keys for credential sealing and admin API auth
type SecurityConfig struct {
	CredentialKey  string `mapstructure:"credential_key" yaml:"credential_key"`
	AdminJWTSecret string `mapstructure:"admin_jwt_secret" yaml:"admin_jwt_secret"`
}

// ServerConfig represents the admin HTTP server
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// RateLimiterConfig represents admin API rate limiting
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Validate validates the configuration and fills derived defaults
func (c *Config) Validate() error {
	if c.Bot.ParentToken == "" {
		return errors.New("bot.parent_token is required")
	}
	if c.Bot.ParentOwnerID <= 0 {
		return errors.New("bot.parent_owner_id is required")
	}
	if c.Bot.PollTimeout < 0 {
		return errors.New("bot.poll_timeout must not be negative")
	}

	if strings.TrimSpace(c.Ledger.Currency) == "" {
		return errors.New("ledger.currency is required")
	}
	rates := map[string]string{
		"ledger.earn_per_member":   c.Ledger.EarnPerMember,
		"ledger.earn_per_downline": c.Ledger.EarnPerDownline,
		"ledger.min_withdraw":      c.Ledger.MinWithdraw,
		"ledger.max_withdraw":      c.Ledger.MaxWithdraw,
	}
	for name, raw := range rates {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%s must be a decimal amount: %w", name, err)
		}
		if d.IsNegative() {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.MinWithdraw().GreaterThan(c.MaxWithdraw()) {
		return errors.New("ledger.min_withdraw must not exceed ledger.max_withdraw")
	}

	if c.Orchestrator.HandlerWorkers <= 0 {
		return errors.New("orchestrator.handler_workers must be positive")
	}
	if c.Orchestrator.BroadcastInterval < 0 {
		return errors.New("orchestrator.broadcast_interval must not be negative")
	}
	if c.Orchestrator.BroadcastConcurrency <= 0 {
		c.Orchestrator.BroadcastConcurrency = 1
	}
	if c.Orchestrator.StartConcurrency <= 0 {
		c.Orchestrator.StartConcurrency = 1
	}

	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			if c.Database.Host == "" {
				return errors.New("database.host is required")
			}
			if c.Database.Database == "" {
				return errors.New("database.database is required")
			}
			if c.Database.User == "" {
				return errors.New("database.user is required")
			}
		}
	default:
		return errors.New("database.driver must be one of: postgres, memory")
	}

	if c.Redis.Enabled && c.Redis.Host == "" {
		return errors.New("redis.host is required when redis is enabled")
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = 10 * time.Minute
	}

	switch c.Events.Driver {
	case "", "log":
		c.Events.Driver = "log"
	case "kafka":
		if len(c.Events.Brokers) == 0 {
			return errors.New("events.brokers is required for the kafka driver")
		}
		if c.Events.Topic == "" {
			return errors.New("events.topic is required for the kafka driver")
		}
	default:
		return errors.New("events.driver must be one of: log, kafka")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// EarnPerMember returns the owner credit per first join
func (c *Config) EarnPerMember() decimal.Decimal { return mustDecimal(c.Ledger.EarnPerMember) }

// EarnPerDownline returns the referrer credit per first join
func (c *Config) EarnPerDownline() decimal.Decimal { return mustDecimal(c.Ledger.EarnPerDownline) }

// MinWithdraw returns the default minimum withdrawal
func (c *Config) MinWithdraw() decimal.Decimal { return mustDecimal(c.Ledger.MinWithdraw) }

// MaxWithdraw returns the default maximum withdrawal
func (c *Config) MaxWithdraw() decimal.Decimal { return mustDecimal(c.Ledger.MaxWithdraw) }

// mustDecimal is only used after Validate has checked the value
func mustDecimal(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Redacted returns a copy with secrets masked
func (c *Config) Redacted() *Config {
	out := *c
	out.Bot.RequiredChannels = append([]string(nil), c.Bot.RequiredChannels...)
	out.Events.Brokers = append([]string(nil), c.Events.Brokers...)
	out.Bot.ParentToken = mask(c.Bot.ParentToken)
	out.Database.Password = mask(c.Database.Password)
	out.Database.DSN = mask(c.Database.DSN)
	out.Redis.Password = mask(c.Redis.Password)
	out.Security.CredentialKey = mask(c.Security.CredentialKey)
	out.Security.AdminJWTSecret = mask(c.Security.AdminJWTSecret)
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "******"
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			PollTimeout: 30 * time.Second,
		},
		Ledger: LedgerConfig{
			Currency:        "NGN",
			EarnPerMember:   "1.00",
			EarnPerDownline: "0.25",
			MinWithdraw:     "100",
			MaxWithdraw:     "3000",
		},
		Orchestrator: OrchestratorConfig{
			HandlerWorkers:       4,
			HandlerQueueSize:     64,
			StopTimeout:          15 * time.Second,
			StartConcurrency:     8,
			BroadcastInterval:    30 * time.Millisecond,
			BroadcastConcurrency: 4,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			Database:        "botforge",
			User:            "botforge",
			MaxConnections:  20,
			MinConnections:  2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    6379,
		},
		Session: SessionConfig{
			TTL: 10 * time.Minute,
		},
		Cache: CacheConfig{
			TenantConfigTTL: 5 * time.Minute,
			MaxSize:         10000,
		},
		Events: EventsConfig{
			Driver:       "log",
			Topic:        "botforge.ledger",
			WriteTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  25 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		RateLimiter: RateLimiterConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
