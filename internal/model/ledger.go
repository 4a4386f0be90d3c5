package model

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Scope partitions the balance table
type Scope string

const (
	// ScopeOwnerEarnings holds a tenant owner's earnings, keyed by user id
	ScopeOwnerEarnings Scope = "owner_earnings"
	// ScopeMemberWallet holds a member's wallet within one tenant, keyed by tenant:member
	ScopeMemberWallet Scope = "member_wallet"
)

// Valid reports whether the scope is known
func (s Scope) Valid() bool {
	return s == ScopeOwnerEarnings || s == ScopeMemberWallet
}

// OwnerKey builds the balance key for an owner earnings row
func OwnerKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// MemberKey builds the balance key for a member wallet row
func MemberKey(tenantID, memberID int64) string {
	return fmt.Sprintf("%d:%d", tenantID, memberID)
}

// Balance is a single ledger row
type Balance struct {
	Scope    Scope           `json:"scope"`
	OwnerKey string          `json:"owner_key"`
	Amount   decimal.Decimal `json:"amount"`
}

// Creator is a parent bot user; ReferrerID drives the downline cascade
type Creator struct {
	UserID     int64     `json:"user_id"`
	Username   string    `json:"username"`
	FirstSeen  time.Time `json:"first_seen"`
	ReferrerID *int64    `json:"referrer_id,omitempty"`
}

// Member is an end user of one tenant
type Member struct {
	TenantID   int64     `json:"tenant_id"`
	MemberID   int64     `json:"member_id"`
	JoinedAt   time.Time `json:"joined_at"`
	ReferredBy *int64    `json:"referred_by,omitempty"`
}

// Task is an owner-defined job members can claim a reward for
type Task struct {
	ID        int64           `json:"id"`
	TenantID  int64           `json:"tenant_id"`
	Title     string          `json:"title"`
	Reward    decimal.Decimal `json:"reward"`
	CreatedAt time.Time       `json:"created_at"`
}

// ClaimStatus is the lifecycle state of a task claim
type ClaimStatus string

const (
	ClaimStatusPending  ClaimStatus = "pending"
	ClaimStatusApproved ClaimStatus = "approved"
	ClaimStatusRejected ClaimStatus = "rejected"
)

// ClaimDecision is the owner's verdict on a claim
type ClaimDecision string

const (
	DecisionApprove ClaimDecision = "approve"
	DecisionReject  ClaimDecision = "reject"
)

// TaskClaim is a member's request to be paid for a task
type TaskClaim struct {
	ID        int64       `json:"id"`
	TaskID    int64       `json:"task_id"`
	TenantID  int64       `json:"tenant_id"`
	MemberID  int64       `json:"member_id"`
	Proof     string      `json:"proof"`
	Status    ClaimStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	SettledAt *time.Time  `json:"settled_at,omitempty"`
}

// PendingClaim joins a pending claim with its task for review
type PendingClaim struct {
	Claim     *TaskClaim
	TaskTitle string
	Reward    decimal.Decimal
}

// Settlement is the outcome of SettleTaskClaim
type Settlement struct {
	Claim    *TaskClaim      `json:"claim"`
	Reward   decimal.Decimal `json:"reward"`
	Paid     bool            `json:"paid"`
	OwnerID  int64           `json:"owner_id"`
	Decision ClaimDecision   `json:"decision"`
}

// JoinEarnings reports what ApplyJoinEarnings credited
type JoinEarnings struct {
	OwnerID        int64           `json:"owner_id"`
	OwnerCredit    decimal.Decimal `json:"owner_credit"`
	ReferrerID     *int64          `json:"referrer_id,omitempty"`
	ReferrerCredit decimal.Decimal `json:"referrer_credit"`
}

// WithdrawKind distinguishes who pays a withdrawal
type WithdrawKind string

const (
	WithdrawMemberToOwner WithdrawKind = "member_to_owner"
	WithdrawOwnerToParent WithdrawKind = "owner_to_parent"
)

// WithdrawStatus is the lifecycle state of a withdrawal
type WithdrawStatus string

const (
	WithdrawStatusPending WithdrawStatus = "pending"
	WithdrawStatusPaid    WithdrawStatus = "paid"
)

// WithdrawRequest records a payout obligation; funds are reserved at creation
type WithdrawRequest struct {
	ID          int64           `json:"id"`
	Kind        WithdrawKind    `json:"kind"`
	TenantID    *int64          `json:"tenant_id,omitempty"`
	RequesterID int64           `json:"requester_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Status      WithdrawStatus  `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	SettledAt   *time.Time      `json:"settled_at,omitempty"`
}

// WithdrawFilter narrows ListWithdrawRequests; zero values match everything
type WithdrawFilter struct {
	Status   WithdrawStatus
	Kind     WithdrawKind
	TenantID *int64
	Limit    int
}

// Bounds limits a withdrawal amount; a zero side is unbounded
type Bounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}
