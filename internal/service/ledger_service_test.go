package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	apperrors "github.com/devrev/botforge/internal/errors"
	"github.com/devrev/botforge/internal/events"
	"github.com/devrev/botforge/internal/model"
	"github.com/devrev/botforge/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockPublisher is a mock implementation of events.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, eventType, key string, payload interface{}) error {
	args := m.Called(ctx, eventType, key, payload)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	return m.Called().Error(0)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newLedgerFixture(t *testing.T) (*LedgerService, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	svc := NewLedgerService(st, st, events.NewLogPublisher(zap.NewNop()), nil,
		EarningRates{PerMember: dec("1.00"), Downline: dec("0.25")}, "NGN", zap.NewNop())
	return svc, st
}

func seedTenant(t *testing.T, st *store.MemoryStore, ownerID int64) *model.Tenant {
	t.Helper()
	tenant := &model.Tenant{OwnerID: ownerID, Credential: "tok", Currency: "NGN", MinWithdraw: dec("10"), MaxWithdraw: dec("1000")}
	require.NoError(t, st.CreateTenant(context.Background(), tenant))
	return tenant
}

func assertBalance(t *testing.T, svc *LedgerService, scope model.Scope, key, want string) {
	t.Helper()
	got, err := svc.GetBalance(context.Background(), scope, key)
	require.NoError(t, err)
	assert.True(t, dec(want).Equal(got), "balance %s/%s: want %s, got %s", scope, key, want, got)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "150", want: "150"},
		{raw: " 12.345 ", want: "12.35"},
		{raw: "0", wantErr: true},
		{raw: "-5", wantErr: true},
		{raw: "ten", wantErr: true},
		{raw: "", wantErr: true},
		{raw: "0.001", wantErr: true},
		{raw: ".5", want: "0.5"},
		{raw: "9999999999999999", want: "9999999999999999"},
		{raw: "12345678901234567", wantErr: true},
		{raw: "1e3", wantErr: true},
		{raw: "1e900000000", wantErr: true},
		{raw: "1e-900000000", wantErr: true},
		{raw: "NaN", wantErr: true},
		{raw: "Infinity", wantErr: true},
		{raw: "0x10", wantErr: true},
		{raw: "1.000000000000000000000000000000001", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseAmount(tt.raw)
			if tt.wantErr {
				assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidAmount))
				return
			}
			require.NoError(t, err)
			assert.True(t, dec(tt.want).Equal(got))
		})
	}
}

func TestNormalizeAmount_RejectsOutOfColumnRange(t *testing.T) {
	tests := []struct {
		name string
		d    decimal.Decimal
	}{
		{name: "huge exponent", d: decimal.New(1, 900000000)},
		{name: "tiny exponent", d: decimal.New(1, -900000000)},
		{name: "seventeen integer digits", d: decimal.New(1, 16)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := normalizeAmount(tt.d, tt.name)
			assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidAmount))
		})
	}
}

func TestLedger_GetBalanceAbsentIsZero(t *testing.T) {
	svc, _ := newLedgerFixture(t)
	assertBalance(t, svc, model.ScopeOwnerEarnings, "404", "0")

	_, err := svc.GetBalance(context.Background(), model.Scope("bogus"), "1")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
}

func TestLedger_CreditDebitRoundTrip(t *testing.T) {
	svc, _ := newLedgerFixture(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, model.ScopeOwnerEarnings, "1", dec("42.10"))
	require.NoError(t, err)

	after, err := svc.Credit(ctx, model.ScopeOwnerEarnings, "1", dec("7.90"))
	require.NoError(t, err)
	assert.True(t, dec("50").Equal(after))

	restored, err := svc.Debit(ctx, model.ScopeOwnerEarnings, "1", dec("7.90"))
	require.NoError(t, err)
	assert.True(t, dec("42.10").Equal(restored))
}

func TestLedger_DebitInsufficientFunds(t *testing.T) {
	svc, _ := newLedgerFixture(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, model.ScopeMemberWallet, "1:2", dec("5"))
	require.NoError(t, err)

	_, err = svc.Debit(ctx, model.ScopeMemberWallet, "1:2", dec("5.01"))
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInsufficientFunds))
	assertBalance(t, svc, model.ScopeMemberWallet, "1:2", "5")
}

func TestLedger_RejectsNonPositiveAmounts(t *testing.T) {
	svc, _ := newLedgerFixture(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, model.ScopeOwnerEarnings, "1", decimal.Zero)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidAmount))

	_, err = svc.Debit(ctx, model.ScopeOwnerEarnings, "1", dec("-1"))
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidAmount))
}

func TestLedger_ConcurrentDebitsNeverGoNegative(t *testing.T) {
	svc, _ := newLedgerFixture(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, model.ScopeOwnerEarnings, "1", dec("100"))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := svc.Debit(ctx, model.ScopeOwnerEarnings, "1", dec("7")); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.Credit(ctx, model.ScopeOwnerEarnings, "1", dec("1"))
		}()
	}
	wg.Wait()

	got, err := svc.GetBalance(ctx, model.ScopeOwnerEarnings, "1")
	require.NoError(t, err)
	want := dec("150").Sub(dec("7").Mul(decimal.NewFromInt(int64(succeeded))))
	assert.True(t, want.Equal(got), "want %s got %s", want, got)
	assert.False(t, got.IsNegative())
}

func TestLedger_Transfer(t *testing.T) {
	svc, _ := newLedgerFixture(t)
	ctx := context.Background()
	from := model.Balance{Scope: model.ScopeOwnerEarnings, OwnerKey: "1"}
	to := model.Balance{Scope: model.ScopeMemberWallet, OwnerKey: "3:9"}

	_, err := svc.Credit(ctx, from.Scope, from.OwnerKey, dec("10"))
	require.NoError(t, err)

	require.NoError(t, svc.Transfer(ctx, from, to, dec("4")))
	assertBalance(t, svc, from.Scope, from.OwnerKey, "6")
	assertBalance(t, svc, to.Scope, to.OwnerKey, "4")

	err = svc.Transfer(ctx, from, to, dec("100"))
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInsufficientFunds))
	assertBalance(t, svc, to.Scope, to.OwnerKey, "4")

	err = svc.Transfer(ctx, from, from, dec("1"))
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
}

func TestLedger_SettleTaskClaimScenario(t *testing.T) {
	svc, st := newLedgerFixture(t)
	ctx := context.Background()
	tenant := seedTenant(t, st, 100)

	_, err := svc.Credit(ctx, model.ScopeOwnerEarnings, model.OwnerKey(100), dec("50"))
	require.NoError(t, err)

	task, err := svc.CreateTask(ctx, tenant.ID, "Follow the channel", dec("30"))
	require.NoError(t, err)

	first, err := svc.SubmitClaim(ctx, tenant.ID, task.ID, 7, "screenshot")
	require.NoError(t, err)
	second, err := svc.SubmitClaim(ctx, tenant.ID, task.ID, 8, "")
	require.NoError(t, err)

	s1, err := svc.SettleTaskClaim(ctx, first.ID, model.DecisionApprove)
	require.NoError(t, err)
	assert.True(t, s1.Paid)
	assert.Equal(t, model.ClaimStatusApproved, s1.Claim.Status)
	assert.Equal(t, int64(100), s1.OwnerID)
	assertBalance(t, svc, model.ScopeOwnerEarnings, "100", "20")
	assertBalance(t, svc, model.ScopeMemberWallet, model.MemberKey(tenant.ID, 7), "30")

	s2, err := svc.SettleTaskClaim(ctx, second.ID, model.DecisionApprove)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInsufficientFunds))
	require.NotNil(t, s2)
	assert.False(t, s2.Paid)
	assert.Equal(t, model.ClaimStatusRejected, s2.Claim.Status)
	assertBalance(t, svc, model.ScopeOwnerEarnings, "100", "20")
	assertBalance(t, svc, model.ScopeMemberWallet, model.MemberKey(tenant.ID, 8), "0")

	// the forced rejection was committed
	pending, err := svc.ListPendingClaims(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLedger_SettleTaskClaimIsIdempotentGuarded(t *testing.T) {
	svc, st := newLedgerFixture(t)
	ctx := context.Background()
	tenant := seedTenant(t, st, 100)

	_, err := svc.Credit(ctx, model.ScopeOwnerEarnings, "100", dec("100"))
	require.NoError(t, err)
	task, err := svc.CreateTask(ctx, tenant.ID, "Task", dec("10"))
	require.NoError(t, err)
	claim, err := svc.SubmitClaim(ctx, tenant.ID, task.ID, 7, "")
	require.NoError(t, err)

	_, err = svc.SettleTaskClaim(ctx, claim.ID, model.DecisionApprove)
	require.NoError(t, err)

	for _, d := range []model.ClaimDecision{model.DecisionApprove, model.DecisionReject} {
		_, err = svc.SettleTaskClaim(ctx, claim.ID, d)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeClaimAlreadySettled))
	}
	assertBalance(t, svc, model.ScopeOwnerEarnings, "100", "90")
	assertBalance(t, svc, model.ScopeMemberWallet, model.MemberKey(tenant.ID, 7), "10")

	_, err = svc.SettleTaskClaim(ctx, 9999, model.DecisionApprove)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeClaimNotFound))
}

func TestLedger_ConcurrentSettlementAppliesOnce(t *testing.T) {
	svc, st := newLedgerFixture(t)
	ctx := context.Background()
	tenant := seedTenant(t, st, 100)

	_, err := svc.Credit(ctx, model.ScopeOwnerEarnings, "100", dec("100"))
	require.NoError(t, err)
	task, err := svc.CreateTask(ctx, tenant.ID, "Task", dec("10"))
	require.NoError(t, err)
	claim, err := svc.SubmitClaim(ctx, tenant.ID, task.ID, 7, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.SettleTaskClaim(ctx, claim.ID, model.DecisionApprove)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
		} else {
			assert.True(t, apperrors.Is(err, apperrors.ErrCodeClaimAlreadySettled))
		}
	}
	assert.Equal(t, 1, ok)
	assertBalance(t, svc, model.ScopeOwnerEarnings, "100", "90")
}

func TestLedger_RejectMovesNothing(t *testing.T) {
	svc, st := newLedgerFixture(t)
	ctx := context.Background()
	tenant := seedTenant(t, st, 100)

	_, err := svc.Credit(ctx, model.ScopeOwnerEarnings, "100", dec("50"))
	require.NoError(t, err)
	task, _ := svc.CreateTask(ctx, tenant.ID, "Task", dec("10"))
	claim, _ := svc.SubmitClaim(ctx, tenant.ID, task.ID, 7, "")

	s, err := svc.SettleTaskClaim(ctx, claim.ID, model.DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimStatusRejected, s.Claim.Status)
	assertBalance(t, svc, model.ScopeOwnerEarnings, "100", "50")
}

func TestLedger_SubmitClaimRequiresTenantTask(t *testing.T) {
	svc, st := newLedgerFixture(t)
	ctx := context.Background()
	a := seedTenant(t, st, 1)
	b := seedTenant(t, st, 2)

	task, err := svc.CreateTask(ctx, a.ID, "Task", dec("1"))
	require.NoError(t, err)

	_, err = svc.SubmitClaim(ctx, b.ID, task.ID, 5, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeTaskNotFound))

	_, err = svc.SubmitClaim(ctx, a.ID, 777, 5, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeTaskNotFound))
}

func TestLedger_CreateTaskValidation(t *testing.T) {
	svc, st := newLedgerFixture(t)
	tenant := seedTenant(t, st, 1)

	_, err := svc.CreateTask(context.Background(), tenant.ID, "  ", dec("1"))
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))

	_, err = svc.CreateTask(context.Background(), tenant.ID, "Task", dec("0"))
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidAmount))
}

func TestLedger_JoinEarningsScenario(t *testing.T) {
	svc, st := newLedgerFixture(t)
	ctx := context.Background()

	referrer := int64(500)
	_, err := svc.RegisterCreator(ctx, 100, "owner", &referrer)
	require.NoError(t, err)
	tenant := seedTenant(t, st, 100)

	first, err := svc.RecordMemberJoin(ctx, tenant.ID, 7, nil)
	require.NoError(t, err)
	require.True(t, first)

	earnings, err := svc.ApplyJoinEarnings(ctx, tenant.ID, 100)
	require.NoError(t, err)
	require.NotNil(t, earnings.ReferrerID)
	assert.Equal(t, referrer, *earnings.ReferrerID)
	assertBalance(t, svc, model.ScopeOwnerEarnings, "100", "1.00")
	assertBalance(t, svc, model.ScopeOwnerEarnings, "500", "0.25")

	again, err := svc.RecordMemberJoin(ctx, tenant.ID, 7, nil)
	require.NoError(t, err)
	assert.False(t, again)
	assertBalance(t, svc, model.ScopeOwnerEarnings, "100", "1.00")
	assertBalance(t, svc, model.ScopeOwnerEarnings, "500", "0.25")

	n, err := svc.CountMembers(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLedger_JoinEarningsWithoutReferrer(t *testing.T) {
	svc, st := newLedgerFixture(t)
	ctx := context.Background()
	tenant := seedTenant(t, st, 100)

	earnings, err := svc.ApplyJoinEarnings(ctx, tenant.ID, 100)
	require.NoError(t, err)
	assert.Nil(t, earnings.ReferrerID)
	assertBalance(t, svc, model.ScopeOwnerEarnings, "100", "1")
}

func TestLedger_JoinMember(t *testing.T) {
	svc, st := newLedgerFixture(t)
	ctx := context.Background()
	referrer := int64(500)
	_, err := svc.RegisterCreator(ctx, 100, "owner", &referrer)
	require.NoError(t, err)
	tenant := seedTenant(t, st, 100)

	first, earnings, err := svc.JoinMember(ctx, tenant.ID, 100, 7, nil)
	require.NoError(t, err)
	assert.True(t, first)
	require.NotNil(t, earnings)
	assert.Equal(t, referrer, *earnings.ReferrerID)

	first, earnings, err = svc.JoinMember(ctx, tenant.ID, 100, 7, nil)
	require.NoError(t, err)
	assert.False(t, first)
	assert.Nil(t, earnings)

	assertBalance(t, svc, model.ScopeOwnerEarnings, "100", "1.00")
	assertBalance(t, svc, model.ScopeOwnerEarnings, "500", "0.25")
}

// failingBalanceStore fails balance writes for one owner key
type failingBalanceStore struct {
	*store.MemoryStore
	failKey string
}

func (f *failingBalanceStore) WithTx(ctx context.Context, fn func(tx store.LedgerTx) error) error {
	return f.MemoryStore.WithTx(ctx, func(tx store.LedgerTx) error {
		return fn(&failingBalanceTx{LedgerTx: tx, failKey: f.failKey})
	})
}

type failingBalanceTx struct {
	store.LedgerTx
	failKey string
}

func (f *failingBalanceTx) SetBalance(ctx context.Context, scope model.Scope, ownerKey string, amount decimal.Decimal) error {
	if ownerKey == f.failKey {
		return errors.New("disk full")
	}
	return f.LedgerTx.SetBalance(ctx, scope, ownerKey, amount)
}

func TestLedger_JoinMemberRollsBackWhenEarningsFail(t *testing.T) {
	mem := store.NewMemoryStore()
	st := &failingBalanceStore{MemoryStore: mem, failKey: "500"}
	svc := NewLedgerService(st, mem, events.NewLogPublisher(zap.NewNop()), nil,
		EarningRates{PerMember: dec("1.00"), Downline: dec("0.25")}, "NGN", zap.NewNop())
	ctx := context.Background()
	referrer := int64(500)
	_, err := svc.RegisterCreator(ctx, 100, "owner", &referrer)
	require.NoError(t, err)
	tenant := seedTenant(t, mem, 100)

	_, _, err = svc.JoinMember(ctx, tenant.ID, 100, 7, nil)
	require.Error(t, err)

	n, err := svc.CountMembers(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "the member row rolls back with the earnings")
	assertBalance(t, svc, model.ScopeOwnerEarnings, "100", "0")

	// once the store recovers, the retried join is still a first join
	st.failKey = ""
	first, earnings, err := svc.JoinMember(ctx, tenant.ID, 100, 7, nil)
	require.NoError(t, err)
	assert.True(t, first)
	require.NotNil(t, earnings)
	assertBalance(t, svc, model.ScopeOwnerEarnings, "100", "1.00")
	assertBalance(t, svc, model.ScopeOwnerEarnings, "500", "0.25")
}

func TestLedger_RegisterCreatorIgnoresSelfReferralAndKeepsFirst(t *testing.T) {
	svc, _ := newLedgerFixture(t)
	ctx := context.Background()

	self := int64(10)
	created, err := svc.RegisterCreator(ctx, 10, "me", &self)
	require.NoError(t, err)
	assert.True(t, created)

	other := int64(11)
	created, err = svc.RegisterCreator(ctx, 10, "me", &other)
	require.NoError(t, err)
	assert.False(t, created)

	c, err := svc.GetCreator(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, c.ReferrerID)
}

func TestLedger_RecordMemberJoinIsUniqueUnderConcurrency(t *testing.T) {
	svc, st := newLedgerFixture(t)
	ctx := context.Background()
	tenant := seedTenant(t, st, 1)

	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := svc.RecordMemberJoin(ctx, tenant.ID, 42, nil)
			assert.NoError(t, err)
			if first {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, firsts)
}

func TestLedger_CreateWithdrawRequest(t *testing.T) {
	svc, st := newLedgerFixture(t)
	ctx := context.Background()
	tenant := seedTenant(t, st, 1)
	wallet := model.MemberKey(tenant.ID, 7)

	_, err := svc.Credit(ctx, model.ScopeMemberWallet, wallet, dec("25"))
	require.NoError(t, err)

	_, err = svc.CreateWithdrawRequest(ctx, WithdrawInput{
		Kind: model.WithdrawMemberToOwner, RequesterID: 7, TenantID: &tenant.ID, Amount: dec("40"),
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInsufficientFunds))
	assertBalance(t, svc, model.ScopeMemberWallet, wallet, "25")

	req, err := svc.CreateWithdrawRequest(ctx, WithdrawInput{
		Kind: model.WithdrawMemberToOwner, RequesterID: 7, TenantID: &tenant.ID, Amount: dec("20"), Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawStatusPending, req.Status)
	assert.Equal(t, "USD", req.Currency)
	assertBalance(t, svc, model.ScopeMemberWallet, wallet, "5")

	list, err := svc.ListWithdrawRequests(ctx, model.WithdrawFilter{Status: model.WithdrawStatusPending})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, req.ID, list[0].ID)
}

func TestLedger_CreateWithdrawRequestValidation(t *testing.T) {
	svc, _ := newLedgerFixture(t)
	ctx := context.Background()
	_, err := svc.Credit(ctx, model.ScopeOwnerEarnings, "1", dec("5000"))
	require.NoError(t, err)

	bounds := model.Bounds{Min: dec("100"), Max: dec("3000")}
	tests := []struct {
		name string
		in   WithdrawInput
		code apperrors.ErrorCode
	}{
		{"non-positive", WithdrawInput{Kind: model.WithdrawOwnerToParent, RequesterID: 1, Amount: dec("0")}, apperrors.ErrCodeInvalidAmount},
		{"below min", WithdrawInput{Kind: model.WithdrawOwnerToParent, RequesterID: 1, Amount: dec("99.99"), Bounds: bounds}, apperrors.ErrCodeValidation},
		{"above max", WithdrawInput{Kind: model.WithdrawOwnerToParent, RequesterID: 1, Amount: dec("3000.01"), Bounds: bounds}, apperrors.ErrCodeValidation},
		{"member without tenant", WithdrawInput{Kind: model.WithdrawMemberToOwner, RequesterID: 1, Amount: dec("1")}, apperrors.ErrCodeValidation},
		{"unknown kind", WithdrawInput{Kind: "gift", RequesterID: 1, Amount: dec("1")}, apperrors.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateWithdrawRequest(ctx, tt.in)
			assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
		})
	}
	assertBalance(t, svc, model.ScopeOwnerEarnings, "1", "5000")
}

func TestLedger_CreateWithdrawRequestFundsBeforeBounds(t *testing.T) {
	svc, st := newLedgerFixture(t)
	ctx := context.Background()
	tenant := seedTenant(t, st, 1)
	key := model.MemberKey(tenant.ID, 55)
	_, err := svc.Credit(ctx, model.ScopeMemberWallet, key, dec("25"))
	require.NoError(t, err)

	_, err = svc.CreateWithdrawRequest(ctx, WithdrawInput{
		Kind:        model.WithdrawMemberToOwner,
		TenantID:    &tenant.ID,
		RequesterID: 55,
		Amount:      dec("40"),
		Bounds:      model.Bounds{Min: dec("100"), Max: dec("3000")},
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInsufficientFunds), "got %v", err)
	assertBalance(t, svc, model.ScopeMemberWallet, key, "25")
}

func TestLedger_ConcurrentWithdrawalsNeverOverspend(t *testing.T) {
	svc, _ := newLedgerFixture(t)
	ctx := context.Background()
	_, err := svc.Credit(ctx, model.ScopeOwnerEarnings, "1", dec("250"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateWithdrawRequest(ctx, WithdrawInput{Kind: model.WithdrawOwnerToParent, RequesterID: 1, Amount: dec("100")})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, created)
	assertBalance(t, svc, model.ScopeOwnerEarnings, "1", "50")
}

func TestLedger_MarkWithdrawPaid(t *testing.T) {
	svc, _ := newLedgerFixture(t)
	ctx := context.Background()
	_, err := svc.Credit(ctx, model.ScopeOwnerEarnings, "1", dec("200"))
	require.NoError(t, err)
	req, err := svc.CreateWithdrawRequest(ctx, WithdrawInput{Kind: model.WithdrawOwnerToParent, RequesterID: 1, Amount: dec("150")})
	require.NoError(t, err)

	paid, err := svc.MarkWithdrawPaid(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawStatusPaid, paid.Status)
	assert.NotNil(t, paid.SettledAt)
	assertBalance(t, svc, model.ScopeOwnerEarnings, "1", "50")

	_, err = svc.MarkWithdrawPaid(ctx, req.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))

	_, err = svc.MarkWithdrawPaid(ctx, 404)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeWithdrawNotFound))
}

func TestLedger_PublishesEventsAfterCommit(t *testing.T) {
	st := store.NewMemoryStore()
	pub := new(MockPublisher)
	svc := NewLedgerService(st, st, pub, nil, EarningRates{PerMember: dec("1"), Downline: dec("0.25")}, "NGN", zap.NewNop())
	ctx := context.Background()

	pub.On("Publish", mock.Anything, events.TypeWithdrawRequested, mock.AnythingOfType("string"), mock.Anything).
		Return(errors.New("broker down")).Once()

	_, err := svc.Credit(ctx, model.ScopeOwnerEarnings, "1", dec("10"))
	require.NoError(t, err)

	// publish failure does not fail the committed operation
	_, err = svc.CreateWithdrawRequest(ctx, WithdrawInput{Kind: model.WithdrawOwnerToParent, RequesterID: 1, Amount: dec("4")})
	require.NoError(t, err)
	assertBalance(t, svc, model.ScopeOwnerEarnings, "1", "6")

	// failed operations publish nothing
	_, err = svc.CreateWithdrawRequest(ctx, WithdrawInput{Kind: model.WithdrawOwnerToParent, RequesterID: 1, Amount: dec("400")})
	require.Error(t, err)

	pub.AssertExpectations(t)
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestLedger_StoreFailureIsUnavailable(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewLedgerService(st, st, nil, nil, EarningRates{PerMember: dec("1")}, "NGN", zap.NewNop())
	st.Close()

	_, err := svc.Credit(context.Background(), model.ScopeOwnerEarnings, "1", dec("1"))
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUnavailable))
}
