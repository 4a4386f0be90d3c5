package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tenant represents a child bot and its economy configuration
type Tenant struct {
	ID          int64     `json:"id"`
	OwnerID     int64     `json:"owner_id"`
	Credential  string    `json:"-"` // sealed transport token
	DisplayName string    `json:"display_name"`
	Handle      string    `json:"handle"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	ReferralReward decimal.Decimal `json:"referral_reward"`
	MinWithdraw    decimal.Decimal `json:"min_withdraw"`
	MaxWithdraw    decimal.Decimal `json:"max_withdraw"`
	ExtraChannels  []string        `json:"extra_channels"`
}

// Clone returns a deep copy so cached tenants can't be mutated by callers
func (t *Tenant) Clone() *Tenant {
	c := *t
	c.ExtraChannels = append([]string(nil), t.ExtraChannels...)
	return &c
}

// SettingField identifies an owner-editable tenant setting
type SettingField string

const (
	SettingCurrency       SettingField = "currency"
	SettingReferralReward SettingField = "refreward"
	SettingMinWithdraw    SettingField = "minwd"
	SettingMaxWithdraw    SettingField = "maxwd"
	SettingExtraChannels  SettingField = "extra"
)

// Valid reports whether the field is a known setting
func (f SettingField) Valid() bool {
	switch f {
	case SettingCurrency, SettingReferralReward, SettingMinWithdraw, SettingMaxWithdraw, SettingExtraChannels:
		return true
	}
	return false
}

// TenantState is the orchestrator view of a tenant
type TenantState string

const (
	TenantStateUnregistered TenantState = "unregistered"
	TenantStateStopped      TenantState = "stopped"
	TenantStateRunning      TenantState = "running"
)

// PendingInput is an owner's in-progress settings edit awaiting a text reply
type PendingInput struct {
	TenantID  int64        `json:"tenant_id"`
	OwnerID   int64        `json:"owner_id"`
	Field     SettingField `json:"field"`
	CreatedAt time.Time    `json:"created_at"`
}
