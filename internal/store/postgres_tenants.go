package store

import (
	"context"
	"fmt"

	"github.com/devrev/botforge/internal/model"
)

const tenantColumns = `id, owner_id, credential, display_name, handle, currency,
	referral_reward::text, min_withdraw::text, max_withdraw::text, extra_channels, created_at, updated_at`

func scanTenant(row rowScanner) (*model.Tenant, error) {
	var t model.Tenant
	var reward, minWd, maxWd string
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Credential, &t.DisplayName, &t.Handle, &t.Currency,
		&reward, &minWd, &maxWd, &t.ExtraChannels, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if t.ReferralReward, err = parseNumeric(reward); err != nil {
		return nil, err
	}
	if t.MinWithdraw, err = parseNumeric(minWd); err != nil {
		return nil, err
	}
	if t.MaxWithdraw, err = parseNumeric(maxWd); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTenant inserts a tenant and assigns its id
func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *model.Tenant) error {
	channels := tenant.ExtraChannels
	if channels == nil {
		channels = []string{}
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO tenants (owner_id, credential, display_name, handle, currency,
			referral_reward, min_withdraw, max_withdraw, extra_channels, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11)
		RETURNING id
	`, tenant.OwnerID, tenant.Credential, tenant.DisplayName, tenant.Handle, tenant.Currency,
		tenant.ReferralReward.String(), tenant.MinWithdraw.String(), tenant.MaxWithdraw.String(),
		channels, tenant.CreatedAt, tenant.UpdatedAt,
	).Scan(&tenant.ID)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// GetTenant retrieves one tenant record
func (s *PostgresStore) GetTenant(ctx context.Context, tenantID int64) (*model.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, tenantID))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// ListTenants returns every tenant ordered by id
func (s *PostgresStore) ListTenants(ctx context.Context) ([]*model.Tenant, error) {
	return s.queryTenants(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY id`)
}

// ListTenantsByOwner returns the tenants one user owns
func (s *PostgresStore) ListTenantsByOwner(ctx context.Context, ownerID int64) ([]*model.Tenant, error) {
	return s.queryTenants(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE owner_id = $1 ORDER BY id`, ownerID)
}

func (s *PostgresStore) queryTenants(ctx context.Context, query string, args ...any) ([]*model.Tenant, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*model.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// UpdateTenant writes the owner-editable settings; owner and credential are immutable
func (s *PostgresStore) UpdateTenant(ctx context.Context, tenant *model.Tenant) error {
	channels := tenant.ExtraChannels
	if channels == nil {
		channels = []string{}
	}

	result, err := s.pool.Exec(ctx, `
		UPDATE tenants
		SET currency = $2, referral_reward = $3::numeric, min_withdraw = $4::numeric,
			max_withdraw = $5::numeric, extra_channels = $6, display_name = $7, handle = $8,
			updated_at = $9
		WHERE id = $1
	`, tenant.ID, tenant.Currency, tenant.ReferralReward.String(), tenant.MinWithdraw.String(),
		tenant.MaxWithdraw.String(), channels, tenant.DisplayName, tenant.Handle, tenant.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
