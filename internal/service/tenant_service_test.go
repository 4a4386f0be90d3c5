package service

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/devrev/botforge/internal/errors"
	"github.com/devrev/botforge/internal/events"
	"github.com/devrev/botforge/internal/model"
	"github.com/devrev/botforge/internal/secret"
	"github.com/devrev/botforge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTenantFixture(t *testing.T) (*TenantService, *store.MemoryStore, *store.InMemoryCache) {
	t.Helper()
	key, err := secret.GenerateKey()
	require.NoError(t, err)
	sealer, err := secret.NewSealer(key)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	cache := store.NewInMemoryCache(100, zap.NewNop())
	t.Cleanup(cache.Close)

	svc := NewTenantService(st, cache, time.Minute, sealer, events.NewLogPublisher(zap.NewNop()), nil,
		TenantDefaults{Currency: "NGN", MinWithdraw: dec("100"), MaxWithdraw: dec("3000")}, zap.NewNop())
	return svc, st, cache
}

func TestTenantService_CreateTenant(t *testing.T) {
	svc, st, _ := newTenantFixture(t)
	ctx := context.Background()

	tenant, err := svc.CreateTenant(ctx, 42, "123456:ABC", TenantIdentity{DisplayName: "Shop", Handle: "@shopbot"})
	require.NoError(t, err)

	assert.NotZero(t, tenant.ID)
	assert.Equal(t, int64(42), tenant.OwnerID)
	assert.Equal(t, "shopbot", tenant.Handle)
	assert.Equal(t, "NGN", tenant.Currency)
	assert.True(t, dec("100").Equal(tenant.MinWithdraw))
	assert.True(t, dec("3000").Equal(tenant.MaxWithdraw))
	assert.True(t, tenant.ReferralReward.IsZero())
	assert.Empty(t, tenant.ExtraChannels)

	stored, err := st.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "123456:ABC", stored.Credential)
	assert.True(t, secret.IsSealed(stored.Credential))

	token, err := svc.Credential(stored)
	require.NoError(t, err)
	assert.Equal(t, "123456:ABC", token)
}

func TestTenantService_CreateTenantValidation(t *testing.T) {
	svc, _, _ := newTenantFixture(t)

	_, err := svc.CreateTenant(context.Background(), 0, "tok", TenantIdentity{})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))

	_, err = svc.CreateTenant(context.Background(), 1, "  ", TenantIdentity{})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
}

func TestTenantService_CreateTenantPublishes(t *testing.T) {
	st := store.NewMemoryStore()
	cache := store.NewInMemoryCache(10, zap.NewNop())
	defer cache.Close()
	sealer, err := secret.NewSealer("")
	require.NoError(t, err)

	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, events.TypeTenantRegistered, "tenant:1", mock.Anything).Return(nil)

	svc := NewTenantService(st, cache, time.Minute, sealer, pub, nil, TenantDefaults{Currency: "NGN"}, zap.NewNop())
	_, err = svc.CreateTenant(context.Background(), 7, "tok", TenantIdentity{Handle: "a"})
	require.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestTenantService_GetTenantCacheAside(t *testing.T) {
	svc, st, cache := newTenantFixture(t)
	ctx := context.Background()

	created, err := svc.CreateTenant(ctx, 1, "tok", TenantIdentity{Handle: "bot"})
	require.NoError(t, err)

	cached, err := cache.Get(ctx, tenantCacheKey(created.ID))
	require.NoError(t, err)
	require.NotNil(t, cached)

	// a write that bypasses the service is invisible until the entry is dropped
	raw, err := st.GetTenant(ctx, created.ID)
	require.NoError(t, err)
	raw.Currency = "USDT"
	require.NoError(t, st.UpdateTenant(ctx, raw))

	got, err := svc.GetTenant(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "NGN", got.Currency)

	require.NoError(t, cache.Delete(ctx, tenantCacheKey(created.ID)))
	got, err = svc.GetTenant(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "USDT", got.Currency)
}

func TestTenantService_GetTenantReturnsCopies(t *testing.T) {
	svc, _, _ := newTenantFixture(t)
	ctx := context.Background()

	created, err := svc.CreateTenant(ctx, 1, "tok", TenantIdentity{Handle: "bot"})
	require.NoError(t, err)

	first, err := svc.GetTenant(ctx, created.ID)
	require.NoError(t, err)
	first.Currency = "XXX"

	second, err := svc.GetTenant(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "NGN", second.Currency)
}

func TestTenantService_GetTenantNotFound(t *testing.T) {
	svc, _, _ := newTenantFixture(t)
	_, err := svc.GetTenant(context.Background(), 999)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeTenantNotFound))
}

func TestTenantService_ListByOwner(t *testing.T) {
	svc, _, _ := newTenantFixture(t)
	ctx := context.Background()

	for _, owner := range []int64{1, 1, 2} {
		_, err := svc.CreateTenant(ctx, owner, "tok", TenantIdentity{Handle: "b"})
		require.NoError(t, err)
	}

	mine, err := svc.ListTenantsByOwner(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	all, err := svc.ListTenants(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestTenantService_UpdateSetting(t *testing.T) {
	tests := []struct {
		name    string
		field   model.SettingField
		raw     string
		wantErr bool
		check   func(t *testing.T, tenant *model.Tenant)
	}{
		{
			name:  "currency is upper-cased",
			field: model.SettingCurrency,
			raw:   " usdt ",
			check: func(t *testing.T, tenant *model.Tenant) { assert.Equal(t, "USDT", tenant.Currency) },
		},
		{name: "currency too long", field: model.SettingCurrency, raw: "ABCDEFGHIJK", wantErr: true},
		{name: "empty currency", field: model.SettingCurrency, raw: "", wantErr: true},
		{
			name:  "referral reward",
			field: model.SettingReferralReward,
			raw:   "2.5",
			check: func(t *testing.T, tenant *model.Tenant) { assert.True(t, dec("2.50").Equal(tenant.ReferralReward)) },
		},
		{
			name:  "zero referral reward",
			field: model.SettingReferralReward,
			raw:   "0",
			check: func(t *testing.T, tenant *model.Tenant) { assert.True(t, tenant.ReferralReward.IsZero()) },
		},
		{name: "negative referral reward", field: model.SettingReferralReward, raw: "-1", wantErr: true},
		{
			name:  "min withdraw",
			field: model.SettingMinWithdraw,
			raw:   "50",
			check: func(t *testing.T, tenant *model.Tenant) { assert.True(t, dec("50").Equal(tenant.MinWithdraw)) },
		},
		{name: "min above max", field: model.SettingMinWithdraw, raw: "5000", wantErr: true},
		{name: "max below min", field: model.SettingMaxWithdraw, raw: "99", wantErr: true},
		{name: "non numeric max", field: model.SettingMaxWithdraw, raw: "lots", wantErr: true},
		{name: "exponent max", field: model.SettingMaxWithdraw, raw: "1e900000000", wantErr: true},
		{name: "tiny exponent min", field: model.SettingMinWithdraw, raw: "1e-900000000", wantErr: true},
		{name: "NaN referral reward", field: model.SettingReferralReward, raw: "NaN", wantErr: true},
		{name: "oversized referral reward", field: model.SettingReferralReward, raw: "123456789012345678", wantErr: true},
		{
			name:  "extra channels are normalized",
			field: model.SettingExtraChannels,
			raw:   "@news, promo ,NEWS,,",
			check: func(t *testing.T, tenant *model.Tenant) {
				assert.Equal(t, []string{"news", "promo"}, tenant.ExtraChannels)
			},
		},
		{
			name:  "blank extra clears",
			field: model.SettingExtraChannels,
			raw:   "",
			check: func(t *testing.T, tenant *model.Tenant) { assert.Empty(t, tenant.ExtraChannels) },
		},
		{name: "unknown field", field: model.SettingField("colour"), raw: "red", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTenantFixture(t)
			ctx := context.Background()
			created, err := svc.CreateTenant(ctx, 5, "tok", TenantIdentity{Handle: "b"})
			require.NoError(t, err)

			updated, err := svc.UpdateSetting(ctx, created.ID, 5, tt.field, tt.raw)
			if tt.wantErr {
				assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidation), "got %v", err)
				return
			}
			require.NoError(t, err)
			tt.check(t, updated)

			reloaded, err := svc.GetTenant(ctx, created.ID)
			require.NoError(t, err)
			tt.check(t, reloaded)
		})
	}
}

func TestTenantService_UpdateSettingRequiresOwner(t *testing.T) {
	svc, _, _ := newTenantFixture(t)
	ctx := context.Background()
	created, err := svc.CreateTenant(ctx, 5, "tok", TenantIdentity{Handle: "b"})
	require.NoError(t, err)

	_, err = svc.UpdateSetting(ctx, created.ID, 6, model.SettingCurrency, "USD")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodePermissionDenied))

	got, err := svc.GetTenant(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "NGN", got.Currency)
}
