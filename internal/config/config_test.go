package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Bot.ParentToken = "123:parent"
	cfg.Bot.ParentOwnerID = 42
	cfg.Database.Driver = "memory"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Bot.ParentToken = "" }, wantErr: "bot.parent_token"},
		{name: "missing owner", mutate: func(c *Config) { c.Bot.ParentOwnerID = 0 }, wantErr: "bot.parent_owner_id"},
		{name: "bad rate", mutate: func(c *Config) { c.Ledger.EarnPerMember = "one" }, wantErr: "ledger.earn_per_member"},
		{name: "negative bound", mutate: func(c *Config) { c.Ledger.MinWithdraw = "-1" }, wantErr: "ledger.min_withdraw"},
		{name: "min above max", mutate: func(c *Config) { c.Ledger.MinWithdraw = "5000" }, wantErr: "must not exceed"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "sqlite" }, wantErr: "database.driver"},
		{name: "postgres without host", mutate: func(c *Config) {
			c.Database.Driver = "postgres"
			c.Database.Host = ""
		}, wantErr: "database.host"},
		{name: "postgres with dsn", mutate: func(c *Config) {
			c.Database.Driver = "postgres"
			c.Database.Host = ""
			c.Database.DSN = "postgres://localhost/botforge"
		}},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Events.Driver = "kafka" }, wantErr: "events.brokers"},
		{name: "redis without host", mutate: func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Host = ""
		}, wantErr: "redis.host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_FillsDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Session.TTL = 0
	cfg.Events.Driver = ""
	cfg.Orchestrator.BroadcastConcurrency = 0

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "log", cfg.Events.Driver)
	assert.Equal(t, 1, cfg.Orchestrator.BroadcastConcurrency)
}

func TestDecimalAccessors(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, decimal.RequireFromString("1.00").Equal(cfg.EarnPerMember()))
	assert.True(t, decimal.RequireFromString("0.25").Equal(cfg.EarnPerDownline()))
	assert.True(t, decimal.NewFromInt(100).Equal(cfg.MinWithdraw()))
	assert.True(t, decimal.NewFromInt(3000).Equal(cfg.MaxWithdraw()))
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
bot:
  parent_token: "from-file"
  parent_owner_id: 7
  required_channels: ["news", "chat"]
ledger:
  currency: "USD"
  earn_per_member: "2.50"
database:
  driver: memory
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("BOT_TOKEN", "from-env")
	t.Setenv("MAIN_OWNER_ID", "99")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Bot.ParentToken)
	assert.Equal(t, int64(99), cfg.Bot.ParentOwnerID)
	assert.Equal(t, []string{"news", "chat"}, cfg.Bot.RequiredChannels)
	assert.Equal(t, "USD", cfg.Ledger.Currency)
	assert.True(t, decimal.RequireFromString("2.5").Equal(cfg.EarnPerMember()))
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 30*time.Millisecond, cfg.Orchestrator.BroadcastInterval)
}

func TestLoad_MissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("MAIN_OWNER_ID", "5")
	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "kafka", cfg.Events.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Brokers)
}

func TestLoad_InvalidConfig(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("MAIN_OWNER_ID", "")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDump_RedactsSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Security.CredentialKey = "super-secret-key"
	cfg.Database.Password = "pw"

	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, cfg))

	out := buf.String()
	assert.NotContains(t, out, "123:parent")
	assert.NotContains(t, out, "super-secret-key")
	assert.Contains(t, out, "parent_owner_id: 42")
	assert.Contains(t, out, "currency: NGN")

	// the source config is untouched
	assert.Equal(t, "123:parent", cfg.Bot.ParentToken)
}
