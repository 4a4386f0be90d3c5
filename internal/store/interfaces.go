package store

import (
	"context"
	"errors"
	"time"

	"github.com/devrev/botforge/internal/model"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a row or key is not found
var ErrNotFound = errors.New("not found")

// LedgerStore owns all monetary state plus the request logs
type LedgerStore interface {
	// WithTx runs fn in a single transaction; any error rolls back every write in fn
	WithTx(ctx context.Context, fn func(tx LedgerTx) error) error

	GetBalance(ctx context.Context, scope model.Scope, ownerKey string) (decimal.Decimal, error)

	// Referral graph
	GetCreator(ctx context.Context, userID int64) (*model.Creator, error)
	CreateCreatorIfAbsent(ctx context.Context, creator *model.Creator) (bool, error)

	// Members
	CountMembers(ctx context.Context, tenantID int64) (int, error)
	ListMemberIDs(ctx context.Context, tenantID int64) ([]int64, error)

	// Tasks and claims
	CreateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, taskID int64) (*model.Task, error)
	ListTasks(ctx context.Context, tenantID int64) ([]*model.Task, error)
	CreateClaim(ctx context.Context, claim *model.TaskClaim) error
	ListPendingClaims(ctx context.Context, tenantID int64) ([]*model.PendingClaim, error)

	// Withdrawals
	ListWithdrawRequests(ctx context.Context, filter model.WithdrawFilter) ([]*model.WithdrawRequest, error)

	Ping(ctx context.Context) error
	Close()
}

// LedgerTx is the write surface available inside WithTx. Reads through LedgerTx lock the
// rows they return until the transaction ends.
type LedgerTx interface {
	// LockBalance returns the current amount, creating a zero row if absent
	LockBalance(ctx context.Context, scope model.Scope, ownerKey string) (decimal.Decimal, error)
	SetBalance(ctx context.Context, scope model.Scope, ownerKey string, amount decimal.Decimal) error

	GetCreator(ctx context.Context, userID int64) (*model.Creator, error)
	InsertMember(ctx context.Context, member *model.Member) (bool, error)

	GetTask(ctx context.Context, taskID int64) (*model.Task, error)
	LockClaim(ctx context.Context, claimID int64) (*model.TaskClaim, error)
	SetClaimStatus(ctx context.Context, claimID int64, status model.ClaimStatus, settledAt time.Time) error

	InsertWithdrawRequest(ctx context.Context, req *model.WithdrawRequest) error
	LockWithdrawRequest(ctx context.Context, requestID int64) (*model.WithdrawRequest, error)
	SetWithdrawStatus(ctx context.Context, requestID int64, status model.WithdrawStatus, settledAt time.Time) error
}

// TenantStore is the durable Tenant Registry
type TenantStore interface {
	CreateTenant(ctx context.Context, tenant *model.Tenant) error
	GetTenant(ctx context.Context, tenantID int64) (*model.Tenant, error)
	ListTenants(ctx context.Context) ([]*model.Tenant, error)
	ListTenantsByOwner(ctx context.Context, ownerID int64) ([]*model.Tenant, error)
	UpdateTenant(ctx context.Context, tenant *model.Tenant) error
}

// SessionStore holds short-lived continuation state
type SessionStore interface {
	Put(ctx context.Context, key string, input *model.PendingInput, ttl time.Duration) error
	// Take returns and removes the entry; ErrNotFound when absent or expired
	Take(ctx context.Context, key string) (*model.PendingInput, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Cache interface for in-memory caching
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
