package main

import (
	"context"
	"testing"

	"github.com/devrev/botforge/internal/config"
	"github.com/devrev/botforge/internal/events"
	"github.com/devrev/botforge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func memoryConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Database.Driver = "memory"
	cfg.Server.Enabled = false
	return cfg
}

// A setup failure after the stores are open is returned, not fatal, so the
// deferred closers run and the caller decides the exit code.
func TestRun_ReturnsSetupErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
		want   string
	}{
		{
			name:   "bad credential key",
			mutate: func(cfg *config.Config) { cfg.Security.CredentialKey = "not base64!" },
			want:   "failed to initialize credential sealer",
		},
		{
			name: "kafka without brokers",
			mutate: func(cfg *config.Config) {
				cfg.Events.Driver = "kafka"
				cfg.Events.Brokers = nil
			},
			want: "failed to initialize event publisher",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig()
			tt.mutate(cfg)

			err := run(cfg, zap.NewNop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestOpenBackend_Memory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	db, err := openBackend(ctx, memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer db.Close()
	assert.IsType(t, &store.MemoryStore{}, db)
}

func TestOpenSessions_DefaultsToMemory(t *testing.T) {
	sessions, err := openSessions(memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer sessions.Close()
	assert.IsType(t, &store.MemorySessionStore{}, sessions)
}

func TestOpenPublisher(t *testing.T) {
	cfg := memoryConfig()
	p, err := openPublisher(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &events.LogPublisher{}, p)

	cfg.Events.Driver = "kafka"
	cfg.Events.Brokers = []string{"localhost:9092"}
	p, err = openPublisher(cfg, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()
	assert.IsType(t, &events.KafkaPublisher{}, p)
}
