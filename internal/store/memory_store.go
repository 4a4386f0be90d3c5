package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devrev/botforge/internal/model"
	"github.com/shopspring/decimal"
)

type balanceKey struct {
	scope model.Scope
	key   string
}

// MemoryStore implements LedgerStore and TenantStore in process memory. A single mutex
// serializes every transaction, which trivially satisfies per-key serialization. Used by
// tests and by the "memory" database driver.
type MemoryStore struct {
	mu sync.Mutex

	tenantSeq   int64
	taskSeq     int64
	claimSeq    int64
	withdrawSeq int64

	tenants     map[int64]*model.Tenant
	creators    map[int64]*model.Creator
	members     map[int64]map[int64]*model.Member
	balances    map[balanceKey]decimal.Decimal
	tasks       map[int64]*model.Task
	claims      map[int64]*model.TaskClaim
	withdrawals map[int64]*model.WithdrawRequest

	closed bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:     make(map[int64]*model.Tenant),
		creators:    make(map[int64]*model.Creator),
		members:     make(map[int64]map[int64]*model.Member),
		balances:    make(map[balanceKey]decimal.Decimal),
		tasks:       make(map[int64]*model.Task),
		claims:      make(map[int64]*model.TaskClaim),
		withdrawals: make(map[int64]*model.WithdrawRequest),
	}
}

// WithTx runs fn under the store lock and undoes its writes if it fails
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("memory store closed")
	}

	tx := &memoryTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// GetBalance returns zero for absent rows
func (s *MemoryStore) GetBalance(ctx context.Context, scope model.Scope, ownerKey string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[balanceKey{scope, ownerKey}], nil
}

func (s *MemoryStore) GetCreator(ctx context.Context, userID int64) (*model.Creator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creatorLocked(userID)
}

func (s *MemoryStore) creatorLocked(userID int64) (*model.Creator, error) {
	c, ok := s.creators[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) CreateCreatorIfAbsent(ctx context.Context, creator *model.Creator) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.creators[creator.UserID]; ok {
		return false, nil
	}
	cp := *creator
	s.creators[creator.UserID] = &cp
	return true, nil
}

func (s *MemoryStore) CountMembers(ctx context.Context, tenantID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members[tenantID]), nil
}

func (s *MemoryStore) ListMemberIDs(ctx context.Context, tenantID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.members[tenantID]))
	for id := range s.members[tenantID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) CreateTask(ctx context.Context, task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.taskSeq++
	task.ID = s.taskSeq
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, taskID int64) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskLocked(taskID)
}

func (s *MemoryStore) taskLocked(taskID int64) (*model.Task, error) {
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, tenantID int64) ([]*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Task
	for _, t := range s.tasks {
		if t.TenantID == tenantID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateClaim(ctx context.Context, claim *model.TaskClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.claimSeq++
	claim.ID = s.claimSeq
	cp := *claim
	s.claims[claim.ID] = &cp
	return nil
}

func (s *MemoryStore) ListPendingClaims(ctx context.Context, tenantID int64) ([]*model.PendingClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.PendingClaim
	for _, c := range s.claims {
		if c.TenantID != tenantID || c.Status != model.ClaimStatusPending {
			continue
		}
		cp := *c
		pc := &model.PendingClaim{Claim: &cp}
		if t, ok := s.tasks[c.TaskID]; ok {
			pc.TaskTitle = t.Title
			pc.Reward = t.Reward
		}
		out = append(out, pc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Claim.ID < out[j].Claim.ID })
	return out, nil
}

func (s *MemoryStore) ListWithdrawRequests(ctx context.Context, filter model.WithdrawFilter) ([]*model.WithdrawRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.WithdrawRequest
	for _, w := range s.withdrawals {
		if filter.Status != "" && w.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && w.Kind != filter.Kind {
			continue
		}
		if filter.TenantID != nil && (w.TenantID == nil || *w.TenantID != *filter.TenantID) {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Tenant registry

func (s *MemoryStore) CreateTenant(ctx context.Context, tenant *model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tenantSeq++
	tenant.ID = s.tenantSeq
	s.tenants[tenant.ID] = tenant.Clone()
	return nil
}

func (s *MemoryStore) GetTenant(ctx context.Context, tenantID int64) (*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) ListTenants(ctx context.Context) ([]*model.Tenant, error) {
	return s.listTenants(func(*model.Tenant) bool { return true }), nil
}

func (s *MemoryStore) ListTenantsByOwner(ctx context.Context, ownerID int64) ([]*model.Tenant, error) {
	return s.listTenants(func(t *model.Tenant) bool { return t.OwnerID == ownerID }), nil
}

func (s *MemoryStore) listTenants(match func(*model.Tenant) bool) []*model.Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Tenant
	for _, t := range s.tenants {
		if match(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) UpdateTenant(ctx context.Context, tenant *model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[tenant.ID]; !ok {
		return ErrNotFound
	}
	s.tenants[tenant.ID] = tenant.Clone()
	return nil
}

// Ping fails once the store is closed
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store closed")
	}
	return nil
}

// Close marks the store closed; further transactions fail
func (s *MemoryStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// memoryTx keeps an undo log so a failed transaction leaves no partial writes
type memoryTx struct {
	s    *MemoryStore
	undo []func()
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) LockBalance(ctx context.Context, scope model.Scope, ownerKey string) (decimal.Decimal, error) {
	k := balanceKey{scope, ownerKey}
	amount, ok := tx.s.balances[k]
	if !ok {
		tx.s.balances[k] = decimal.Zero
		tx.undo = append(tx.undo, func() { delete(tx.s.balances, k) })
		return decimal.Zero, nil
	}
	return amount, nil
}

func (tx *memoryTx) SetBalance(ctx context.Context, scope model.Scope, ownerKey string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("balance %s/%s would become negative", scope, ownerKey)
	}
	k := balanceKey{scope, ownerKey}
	prev, existed := tx.s.balances[k]
	tx.s.balances[k] = amount
	tx.undo = append(tx.undo, func() {
		if existed {
			tx.s.balances[k] = prev
		} else {
			delete(tx.s.balances, k)
		}
	})
	return nil
}

func (tx *memoryTx) GetCreator(ctx context.Context, userID int64) (*model.Creator, error) {
	return tx.s.creatorLocked(userID)
}

func (tx *memoryTx) InsertMember(ctx context.Context, member *model.Member) (bool, error) {
	byTenant, ok := tx.s.members[member.TenantID]
	if !ok {
		byTenant = make(map[int64]*model.Member)
		tx.s.members[member.TenantID] = byTenant
	}
	if _, exists := byTenant[member.MemberID]; exists {
		return false, nil
	}
	cp := *member
	byTenant[cp.MemberID] = &cp
	tx.undo = append(tx.undo, func() { delete(byTenant, cp.MemberID) })
	return true, nil
}

func (tx *memoryTx) GetTask(ctx context.Context, taskID int64) (*model.Task, error) {
	return tx.s.taskLocked(taskID)
}

func (tx *memoryTx) LockClaim(ctx context.Context, claimID int64) (*model.TaskClaim, error) {
	c, ok := tx.s.claims[claimID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (tx *memoryTx) SetClaimStatus(ctx context.Context, claimID int64, status model.ClaimStatus, settledAt time.Time) error {
	c, ok := tx.s.claims[claimID]
	if !ok {
		return ErrNotFound
	}
	prev := *c
	c.Status = status
	c.SettledAt = &settledAt
	tx.undo = append(tx.undo, func() { *c = prev })
	return nil
}

func (tx *memoryTx) InsertWithdrawRequest(ctx context.Context, req *model.WithdrawRequest) error {
	tx.s.withdrawSeq++
	req.ID = tx.s.withdrawSeq
	cp := *req
	tx.s.withdrawals[req.ID] = &cp
	id := req.ID
	tx.undo = append(tx.undo, func() { delete(tx.s.withdrawals, id) })
	return nil
}

func (tx *memoryTx) LockWithdrawRequest(ctx context.Context, requestID int64) (*model.WithdrawRequest, error) {
	w, ok := tx.s.withdrawals[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (tx *memoryTx) SetWithdrawStatus(ctx context.Context, requestID int64, status model.WithdrawStatus, settledAt time.Time) error {
	w, ok := tx.s.withdrawals[requestID]
	if !ok {
		return ErrNotFound
	}
	prev := *w
	w.Status = status
	w.SettledAt = &settledAt
	tx.undo = append(tx.undo, func() { *w = prev })
	return nil
}
