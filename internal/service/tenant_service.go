package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/devrev/botforge/internal/errors"
	"github.com/devrev/botforge/internal/events"
	"github.com/devrev/botforge/internal/metrics"
	"github.com/devrev/botforge/internal/model"
	"github.com/devrev/botforge/internal/secret"
	"github.com/devrev/botforge/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxCurrencyLen = 10

// TenantDefaults are applied to newly registered tenants
type TenantDefaults struct {
	Currency    string
	MinWithdraw decimal.Decimal
	MaxWithdraw decimal.Decimal
}

// TenantIdentity is what the transport probe reports about a bot
type TenantIdentity struct {
	DisplayName string
	Handle      string
}

// TenantService manages the tenant registry
type TenantService struct {
	store     store.TenantStore
	cache     store.Cache
	cacheTTL  time.Duration
	sealer    secret.Sealer
	publisher events.Publisher
	metrics   *metrics.Metrics
	defaults  TenantDefaults
	logger    *zap.Logger
}

// NewTenantService creates a new tenant service
func NewTenantService(
	tenantStore store.TenantStore,
	cache store.Cache,
	cacheTTL time.Duration,
	sealer secret.Sealer,
	publisher events.Publisher,
	m *metrics.Metrics,
	defaults TenantDefaults,
	logger *zap.Logger,
) *TenantService {
	return &TenantService{
		store:     tenantStore,
		cache:     cache,
		cacheTTL:  cacheTTL,
		sealer:    sealer,
		publisher: publisher,
		metrics:   m,
		defaults:  defaults,
		logger:    logger,
	}
}

// CreateTenant seals the credential and persists a tenant with default settings
func (s *TenantService) CreateTenant(ctx context.Context, ownerID int64, credential string, identity TenantIdentity) (*model.Tenant, error) {
	if ownerID <= 0 {
		return nil, apperrors.Validation("owner id is required")
	}
	if strings.TrimSpace(credential) == "" {
		return nil, apperrors.Validation("credential is required")
	}

	sealed, err := s.sealer.Seal(credential)
	if err != nil {
		return nil, apperrors.Internal("failed to seal credential", err)
	}

	now := time.Now().UTC()
	tenant := &model.Tenant{
		OwnerID:        ownerID,
		Credential:     sealed,
		DisplayName:    identity.DisplayName,
		Handle:         strings.TrimPrefix(identity.Handle, "@"),
		Currency:       s.defaults.Currency,
		ReferralReward: decimal.Zero,
		MinWithdraw:    s.defaults.MinWithdraw,
		MaxWithdraw:    s.defaults.MaxWithdraw,
		ExtraChannels:  []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateTenant(ctx, tenant); err != nil {
		return nil, apperrors.Unavailable("failed to create tenant", err)
	}

	s.logger.Info("Created tenant",
		zap.Int64("tenant_id", tenant.ID),
		zap.Int64("owner_id", ownerID),
		zap.String("handle", tenant.Handle))

	s.cacheTenant(ctx, tenant)
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, events.TypeTenantRegistered, fmt.Sprintf("tenant:%d", tenant.ID), tenant); err != nil {
			s.logger.Warn("Failed to publish tenant registration", zap.Int64("tenant_id", tenant.ID), zap.Error(err))
		}
	}
	return tenant.Clone(), nil
}

// GetTenant retrieves tenant configuration, using cache if available
func (s *TenantService) GetTenant(ctx context.Context, tenantID int64) (*model.Tenant, error) {
	cacheKey := tenantCacheKey(tenantID)
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil && cached != nil {
		if tenant, ok := cached.(*model.Tenant); ok {
			s.metrics.RecordCacheHit("tenant_config")
			return tenant.Clone(), nil
		}
	}
	s.metrics.RecordCacheMiss("tenant_config")

	tenant, err := s.store.GetTenant(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.TenantNotFound(tenantID)
	}
	if err != nil {
		return nil, apperrors.Unavailable("failed to fetch tenant", err)
	}

	s.cacheTenant(ctx, tenant)
	return tenant.Clone(), nil
}

// ListTenants returns every registered tenant
func (s *TenantService) ListTenants(ctx context.Context) ([]*model.Tenant, error) {
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return nil, apperrors.Unavailable("failed to list tenants", err)
	}
	return tenants, nil
}

// ListTenantsByOwner returns the tenants one user owns
func (s *TenantService) ListTenantsByOwner(ctx context.Context, ownerID int64) ([]*model.Tenant, error) {
	tenants, err := s.store.ListTenantsByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperrors.Unavailable("failed to list tenants", err)
	}
	return tenants, nil
}

// Credential unseals the tenant's transport token
func (s *TenantService) Credential(tenant *model.Tenant) (string, error) {
	token, err := s.sealer.Open(tenant.Credential)
	if err != nil {
		return "", apperrors.Internal(fmt.Sprintf("failed to unseal credential for tenant %d", tenant.ID), err)
	}
	return token, nil
}

// UpdateSetting applies an owner's edit to one setting
func (s *TenantService) UpdateSetting(ctx context.Context, tenantID, actorID int64, field model.SettingField, raw string) (*model.Tenant, error) {
	if !field.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("unknown setting %q", field))
	}

	tenant, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.OwnerID != actorID {
		return nil, apperrors.PermissionDenied("only the bot owner can change settings")
	}

	if err := applySetting(tenant, field, raw); err != nil {
		return nil, err
	}
	tenant.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateTenant(ctx, tenant); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.TenantNotFound(tenantID)
		}
		return nil, apperrors.Unavailable("failed to update tenant", err)
	}

	s.logger.Info("Updated tenant setting",
		zap.Int64("tenant_id", tenantID),
		zap.String("field", string(field)))

	if err := s.cache.Delete(ctx, tenantCacheKey(tenantID)); err != nil {
		s.logger.Warn("Failed to invalidate tenant cache",
			zap.Int64("tenant_id", tenantID),
			zap.Error(err))
	}
	return tenant, nil
}

func applySetting(t *model.Tenant, field model.SettingField, raw string) error {
	raw = strings.TrimSpace(raw)
	switch field {
	case model.SettingCurrency:
		cur := strings.ToUpper(raw)
		if cur == "" || len(cur) > maxCurrencyLen {
			return apperrors.Validation(fmt.Sprintf("currency must be 1 to %d characters", maxCurrencyLen))
		}
		t.Currency = cur

	case model.SettingReferralReward:
		d, err := ParseDecimal(raw)
		if err != nil || d.IsNegative() {
			return apperrors.Validation("referral reward must be a number of at least 0")
		}
		t.ReferralReward = d.Round(2)

	case model.SettingMinWithdraw, model.SettingMaxWithdraw:
		d, err := ParseDecimal(raw)
		if err != nil || !d.IsPositive() {
			return apperrors.Validation("withdrawal bound must be a positive number")
		}
		d = d.Round(2)
		minWd, maxWd := t.MinWithdraw, t.MaxWithdraw
		if field == model.SettingMinWithdraw {
			minWd = d
		} else {
			maxWd = d
		}
		if minWd.GreaterThan(maxWd) {
			return apperrors.Validation("minimum withdrawal cannot exceed maximum withdrawal")
		}
		t.MinWithdraw, t.MaxWithdraw = minWd, maxWd

	case model.SettingExtraChannels:
		t.ExtraChannels = NormalizeChannels(strings.Split(raw, ","))
	}
	return nil
}

func (s *TenantService) cacheTenant(ctx context.Context, tenant *model.Tenant) {
	if err := s.cache.Set(ctx, tenantCacheKey(tenant.ID), tenant.Clone(), s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache tenant config",
			zap.Int64("tenant_id", tenant.ID),
			zap.Error(err))
	}
}

func tenantCacheKey(tenantID int64) string {
	return fmt.Sprintf("tenant:config:%d", tenantID)
}
