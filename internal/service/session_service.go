package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/devrev/botforge/internal/errors"
	"github.com/devrev/botforge/internal/model"
	"github.com/devrev/botforge/internal/store"
	"go.uber.org/zap"
)

// SessionService tracks per-(tenant, owner) pending setting edits
type SessionService struct {
	store  store.SessionStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewSessionService creates a new session service
func NewSessionService(sessionStore store.SessionStore, ttl time.Duration, logger *zap.Logger) *SessionService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SessionService{store: sessionStore, ttl: ttl, logger: logger}
}

// Begin records that the owner's next text message sets field; it replaces any earlier edit
func (s *SessionService) Begin(ctx context.Context, tenantID, ownerID int64, field model.SettingField) error {
	if !field.Valid() {
		return apperrors.Validation(fmt.Sprintf("unknown setting %q", field))
	}
	input := &model.PendingInput{
		TenantID:  tenantID,
		OwnerID:   ownerID,
		Field:     field,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Put(ctx, sessionKey(tenantID, ownerID), input, s.ttl); err != nil {
		return apperrors.Unavailable("failed to store pending input", err)
	}
	return nil
}

// Take consumes the pending edit; ok is false when there is none or it expired
func (s *SessionService) Take(ctx context.Context, tenantID, ownerID int64) (*model.PendingInput, bool, error) {
	input, err := s.store.Take(ctx, sessionKey(tenantID, ownerID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Unavailable("failed to read pending input", err)
	}
	return input, true, nil
}

// Clear drops any pending edit
func (s *SessionService) Clear(ctx context.Context, tenantID, ownerID int64) error {
	if err := s.store.Delete(ctx, sessionKey(tenantID, ownerID)); err != nil {
		s.logger.Warn("Failed to clear pending input",
			zap.Int64("tenant_id", tenantID),
			zap.Int64("owner_id", ownerID),
			zap.Error(err))
		return apperrors.Unavailable("failed to clear pending input", err)
	}
	return nil
}

func sessionKey(tenantID, ownerID int64) string {
	return fmt.Sprintf("session:pending:%d:%d", tenantID, ownerID)
}
