// Package events publishes ledger and registry events for external settlement tooling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types
const (
	TypeTenantRegistered  = "tenant.registered"
	TypeMemberJoined      = "member.joined"
	TypeClaimSettled      = "claim.settled"
	TypeWithdrawRequested = "withdraw.requested"
	TypeWithdrawPaid      = "withdraw.paid"
)

// Envelope is the wire format of every published event
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Publisher delivers events; implementations must be safe for concurrent use
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload interface{}) error
	Close() error
}

// NewEnvelope wraps payload with an id and timestamp
func NewEnvelope(eventType, key string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    data,
	}, nil
}

// LogPublisher writes events to the structured log; used when no broker is configured
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a log-backed publisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, eventType, key string, payload interface{}) error {
	env, err := NewEnvelope(eventType, key, payload)
	if err != nil {
		return err
	}
	p.logger.Info("Event",
		zap.String("event_id", env.ID),
		zap.String("type", env.Type),
		zap.String("key", env.Key),
		zap.ByteString("payload", env.Payload))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
