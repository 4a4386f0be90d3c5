package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// the file is optional when the environment carries the essentials
	if err := v.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not read config file %s: %v. Using defaults and environment variables.\n", configPath, err)
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvironmentOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Dump writes the configuration as YAML with secrets masked
func Dump(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Redacted()); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// applyEnvironmentOverrides applies environment variable overrides to config
func applyEnvironmentOverrides(cfg *Config) {
	// Bot
	if token := os.Getenv("BOT_TOKEN"); token != "" {
		cfg.Bot.ParentToken = token
	}
	if owner := os.Getenv("MAIN_OWNER_ID"); owner != "" {
		if id, err := strconv.ParseInt(owner, 10, 64); err == nil {
			cfg.Bot.ParentOwnerID = id
		}
	}
	if channels := os.Getenv("REQUIRED_CHANNELS"); channels != "" {
		cfg.Bot.RequiredChannels = splitList(channels)
	}
	if payout := os.Getenv("PAYOUT_CHANNEL"); payout != "" {
		cfg.Bot.PayoutChannel = payout
	}

	// Ledger
	if currency := os.Getenv("LEDGER_CURRENCY"); currency != "" {
		cfg.Ledger.Currency = currency
	}
	if v := os.Getenv("EARN_PER_MEMBER"); v != "" {
		cfg.Ledger.EarnPerMember = v
	}
	if v := os.Getenv("EARN_PER_DOWNLINE"); v != "" {
		cfg.Ledger.EarnPerDownline = v
	}
	if v := os.Getenv("MIN_WITHDRAW"); v != "" {
		cfg.Ledger.MinWithdraw = v
	}
	if v := os.Getenv("MAX_WITHDRAW"); v != "" {
		cfg.Ledger.MaxWithdraw = v
	}

	// Orchestrator
	if v := os.Getenv("BROADCAST_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.BroadcastInterval = d
		}
	}

	// Database
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DATABASE_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = p
		}
	}
	if dbName := os.Getenv("DATABASE_NAME"); dbName != "" {
		cfg.Database.Database = dbName
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPassword := os.Getenv("DATABASE_PASSWORD"); dbPassword != "" {
		cfg.Database.Password = dbPassword
	}

	// Redis
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		cfg.Redis.Host = redisHost
		cfg.Redis.Enabled = true
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		if p, err := strconv.Atoi(redisPort); err == nil {
			cfg.Redis.Port = p
		}
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}

	// Events
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Events.Driver = "kafka"
		cfg.Events.Brokers = splitList(brokers)
	}

	// Security
	if key := os.Getenv("CREDENTIAL_KEY"); key != "" {
		cfg.Security.CredentialKey = key
	}
	if secret := os.Getenv("ADMIN_JWT_SECRET"); secret != "" {
		cfg.Security.AdminJWTSecret = secret
	}

	// Server
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	// Logging
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
