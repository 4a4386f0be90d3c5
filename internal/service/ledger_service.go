package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	apperrors "github.com/devrev/botforge/internal/errors"
	"github.com/devrev/botforge/internal/events"
	"github.com/devrev/botforge/internal/metrics"
	"github.com/devrev/botforge/internal/model"
	"github.com/devrev/botforge/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EarningRates are the fixed join rewards
type EarningRates struct {
	PerMember decimal.Decimal
	Downline  decimal.Decimal
}

// WithdrawInput describes a payout request
type WithdrawInput struct {
	Kind        model.WithdrawKind
	RequesterID int64
	TenantID    *int64
	Amount      decimal.Decimal
	Currency    string
	Bounds      model.Bounds
}

// LedgerService is the only code path that mutates balances
type LedgerService struct {
	store     store.LedgerStore
	tenants   store.TenantStore
	publisher events.Publisher
	metrics   *metrics.Metrics
	rates     EarningRates
	currency  string
	logger    *zap.Logger
	now       func() time.Time
}

// NewLedgerService creates a new ledger service
func NewLedgerService(
	ledgerStore store.LedgerStore,
	tenantStore store.TenantStore,
	publisher events.Publisher,
	m *metrics.Metrics,
	rates EarningRates,
	currency string,
	logger *zap.Logger,
) *LedgerService {
	return &LedgerService{
		store:     ledgerStore,
		tenants:   tenantStore,
		publisher: publisher,
		metrics:   m,
		rates:     rates,
		currency:  currency,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Rates returns the configured join rewards
func (s *LedgerService) Rates() EarningRates {
	return s.rates
}

// Currency is the parent currency used for owner earnings
func (s *LedgerService) Currency() string {
	return s.currency
}

// Plain decimal notation only. Exponent forms such as "1e900000000" parse
// in shopspring/decimal but cost unbounded memory once rounded or compared.
var decimalInput = regexp.MustCompile(`^-?(\d+(\.\d*)?|\.\d+)$`)

const (
	maxDecimalInputLen = 32
	// integer digits that fit a NUMERIC(18,2) column
	maxIntegerDigits = 16
)

// ParseDecimal parses user text into a decimal that fits a NUMERIC(18,2)
// column. Anything else is InvalidAmount.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) > maxDecimalInputLen || !decimalInput.MatchString(trimmed) {
		return decimal.Zero, apperrors.InvalidAmount(raw)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil || !fitsColumn(d) {
		return decimal.Zero, apperrors.InvalidAmount(raw)
	}
	return d, nil
}

// ParseAmount parses user input into a positive two-decimal amount
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := ParseDecimal(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return normalizeAmount(d, raw)
}

func normalizeAmount(d decimal.Decimal, raw string) (decimal.Decimal, error) {
	if !fitsColumn(d) {
		return decimal.Zero, apperrors.InvalidAmount(raw)
	}
	d = d.Round(2)
	if !d.IsPositive() {
		return decimal.Zero, apperrors.InvalidAmount(raw)
	}
	return d, nil
}

// fitsColumn reads only the exponent and coefficient length, so it stays
// cheap for any decimal
func fitsColumn(d decimal.Decimal) bool {
	if d.IsZero() {
		return true
	}
	if d.Exponent() < -maxDecimalInputLen {
		return false
	}
	return d.NumDigits()+int(d.Exponent()) <= maxIntegerDigits
}

// GetBalance returns the balance, zero when no row exists
func (s *LedgerService) GetBalance(ctx context.Context, scope model.Scope, ownerKey string) (decimal.Decimal, error) {
	if !scope.Valid() {
		return decimal.Zero, apperrors.Validation(fmt.Sprintf("unknown scope %q", scope))
	}
	amount, err := s.store.GetBalance(ctx, scope, ownerKey)
	if err != nil {
		return decimal.Zero, apperrors.Unavailable("failed to read balance", err)
	}
	return amount, nil
}

// Credit adds amount to a balance, creating it at zero if absent
func (s *LedgerService) Credit(ctx context.Context, scope model.Scope, ownerKey string, amount decimal.Decimal) (decimal.Decimal, error) {
	var result decimal.Decimal
	err := s.run(ctx, "credit", func() error {
		amt, err := s.checkMovement(scope, amount)
		if err != nil {
			return err
		}
		return s.store.WithTx(ctx, func(tx store.LedgerTx) error {
			result, err = credit(ctx, tx, scope, ownerKey, amt)
			return err
		})
	})
	return result, err
}

// Debit subtracts amount; InsufficientFunds if the balance is lower
func (s *LedgerService) Debit(ctx context.Context, scope model.Scope, ownerKey string, amount decimal.Decimal) (decimal.Decimal, error) {
	var result decimal.Decimal
	err := s.run(ctx, "debit", func() error {
		amt, err := s.checkMovement(scope, amount)
		if err != nil {
			return err
		}
		return s.store.WithTx(ctx, func(tx store.LedgerTx) error {
			result, err = debit(ctx, tx, scope, ownerKey, amt)
			return err
		})
	})
	return result, err
}

// Transfer moves amount between two balances atomically
func (s *LedgerService) Transfer(ctx context.Context, from, to model.Balance, amount decimal.Decimal) error {
	return s.run(ctx, "transfer", func() error {
		amt, err := s.checkMovement(from.Scope, amount)
		if err != nil {
			return err
		}
		if !to.Scope.Valid() {
			return apperrors.Validation(fmt.Sprintf("unknown scope %q", to.Scope))
		}
		if from.Scope == to.Scope && from.OwnerKey == to.OwnerKey {
			return apperrors.Validation("cannot transfer to the same balance")
		}
		return s.store.WithTx(ctx, func(tx store.LedgerTx) error {
			if err := lockOrdered(ctx, tx, from, to); err != nil {
				return err
			}
			if _, err := debit(ctx, tx, from.Scope, from.OwnerKey, amt); err != nil {
				return err
			}
			_, err := credit(ctx, tx, to.Scope, to.OwnerKey, amt)
			return err
		})
	})
}

// SettleTaskClaim approves or rejects a pending claim. An approval the owner
// cannot fund is committed as rejected and reported with InsufficientFunds.
func (s *LedgerService) SettleTaskClaim(ctx context.Context, claimID int64, decision model.ClaimDecision) (*model.Settlement, error) {
	if decision != model.DecisionApprove && decision != model.DecisionReject {
		return nil, apperrors.Validation(fmt.Sprintf("unknown decision %q", decision))
	}

	var (
		settlement *model.Settlement
		shortfall  error
	)
	err := s.run(ctx, "settle_claim", func() error {
		// tenant ownership never changes, so it is resolved before the settling transaction
		tenant, err := s.claimTenant(ctx, claimID)
		if err != nil {
			return err
		}
		return s.store.WithTx(ctx, func(tx store.LedgerTx) error {
			shortfall = nil

			claim, err := tx.LockClaim(ctx, claimID)
			if errors.Is(err, store.ErrNotFound) {
				return apperrors.ClaimNotFound(claimID)
			}
			if err != nil {
				return fmt.Errorf("failed to lock claim: %w", err)
			}
			if claim.Status != model.ClaimStatusPending {
				return apperrors.ClaimAlreadySettled(claimID, string(claim.Status))
			}

			task, err := tx.GetTask(ctx, claim.TaskID)
			if errors.Is(err, store.ErrNotFound) {
				return apperrors.TaskNotFound(claim.TaskID)
			}
			if err != nil {
				return fmt.Errorf("failed to load task: %w", err)
			}

			settlement = &model.Settlement{
				Reward:   task.Reward,
				OwnerID:  tenant.OwnerID,
				Decision: decision,
			}
			status := model.ClaimStatusRejected

			if decision == model.DecisionApprove {
				ownerBal := model.Balance{Scope: model.ScopeOwnerEarnings, OwnerKey: model.OwnerKey(tenant.OwnerID)}
				memberBal := model.Balance{Scope: model.ScopeMemberWallet, OwnerKey: model.MemberKey(claim.TenantID, claim.MemberID)}
				if err := lockOrdered(ctx, tx, ownerBal, memberBal); err != nil {
					return err
				}

				_, err := debit(ctx, tx, ownerBal.Scope, ownerBal.OwnerKey, task.Reward)
				switch {
				case apperrors.Is(err, apperrors.ErrCodeInsufficientFunds):
					shortfall = err
				case err != nil:
					return err
				default:
					if _, err := credit(ctx, tx, memberBal.Scope, memberBal.OwnerKey, task.Reward); err != nil {
						return err
					}
					status = model.ClaimStatusApproved
					settlement.Paid = true
				}
			}

			settledAt := s.now()
			if err := tx.SetClaimStatus(ctx, claimID, status, settledAt); err != nil {
				return fmt.Errorf("failed to update claim: %w", err)
			}
			claim.Status = status
			claim.SettledAt = &settledAt
			settlement.Claim = claim
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSettlement(string(decision), string(settlement.Claim.Status))
	s.publish(ctx, events.TypeClaimSettled, fmt.Sprintf("claim:%d", claimID), settlement)

	if shortfall != nil {
		s.logger.Info("Claim approval auto-rejected for insufficient owner funds",
			zap.Int64("claim_id", claimID),
			zap.Int64("owner_id", settlement.OwnerID),
			zap.String("reward", settlement.Reward.StringFixed(2)))
		return settlement, shortfall
	}
	return settlement, nil
}

func (s *LedgerService) claimTenant(ctx context.Context, claimID int64) (*model.Tenant, error) {
	var tenantID int64
	err := s.store.WithTx(ctx, func(tx store.LedgerTx) error {
		claim, err := tx.LockClaim(ctx, claimID)
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.ClaimNotFound(claimID)
		}
		if err != nil {
			return fmt.Errorf("failed to load claim: %w", err)
		}
		tenantID = claim.TenantID
		return nil
	})
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.TenantNotFound(tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	return tenant, nil
}

// RecordMemberJoin inserts the member if new and reports whether this was the first join
func (s *LedgerService) RecordMemberJoin(ctx context.Context, tenantID, memberID int64, referredBy *int64) (bool, error) {
	referredBy = validReferrer(referredBy, memberID)
	var first bool
	err := s.run(ctx, "record_join", func() error {
		return s.store.WithTx(ctx, func(tx store.LedgerTx) error {
			var err error
			first, err = s.insertMemberTx(ctx, tx, tenantID, memberID, referredBy)
			return err
		})
	})
	if err != nil {
		return false, err
	}
	s.afterJoin(ctx, tenantID, memberID, referredBy, first)
	return first, nil
}

// ApplyJoinEarnings credits the owner and, one level up, the owner's referrer
func (s *LedgerService) ApplyJoinEarnings(ctx context.Context, tenantID, ownerID int64) (*model.JoinEarnings, error) {
	var out *model.JoinEarnings
	err := s.run(ctx, "join_earnings", func() error {
		return s.store.WithTx(ctx, func(tx store.LedgerTx) error {
			var err error
			out, err = s.joinEarningsTx(ctx, tx, ownerID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.afterEarnings(tenantID, out)
	return out, nil
}

// JoinMember records the membership and pays the join earnings in one
// transaction: a failed credit also drops the member row, so a retried
// join is still a first join. Earnings are nil for a repeat join.
func (s *LedgerService) JoinMember(ctx context.Context, tenantID, ownerID, memberID int64, referredBy *int64) (bool, *model.JoinEarnings, error) {
	referredBy = validReferrer(referredBy, memberID)
	var first bool
	var out *model.JoinEarnings
	err := s.run(ctx, "join_member", func() error {
		return s.store.WithTx(ctx, func(tx store.LedgerTx) error {
			var err error
			first, err = s.insertMemberTx(ctx, tx, tenantID, memberID, referredBy)
			if err != nil || !first {
				return err
			}
			out, err = s.joinEarningsTx(ctx, tx, ownerID)
			return err
		})
	})
	if err != nil {
		return false, nil, err
	}
	s.afterJoin(ctx, tenantID, memberID, referredBy, first)
	if first {
		s.afterEarnings(tenantID, out)
	}
	return first, out, nil
}

func validReferrer(referredBy *int64, memberID int64) *int64 {
	if referredBy != nil && *referredBy == memberID {
		return nil
	}
	return referredBy
}

func (s *LedgerService) insertMemberTx(ctx context.Context, tx store.LedgerTx, tenantID, memberID int64, referredBy *int64) (bool, error) {
	return tx.InsertMember(ctx, &model.Member{
		TenantID:   tenantID,
		MemberID:   memberID,
		JoinedAt:   s.now(),
		ReferredBy: referredBy,
	})
}

func (s *LedgerService) joinEarningsTx(ctx context.Context, tx store.LedgerTx, ownerID int64) (*model.JoinEarnings, error) {
	out := &model.JoinEarnings{OwnerID: ownerID, OwnerCredit: s.rates.PerMember, ReferrerCredit: decimal.Zero}

	creator, err := tx.GetCreator(ctx, ownerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load creator: %w", err)
	}

	ownerBal := model.Balance{Scope: model.ScopeOwnerEarnings, OwnerKey: model.OwnerKey(ownerID)}
	toLock := []model.Balance{ownerBal}
	var refBal model.Balance
	if creator != nil && creator.ReferrerID != nil && *creator.ReferrerID != ownerID && s.rates.Downline.IsPositive() {
		refID := *creator.ReferrerID
		out.ReferrerID = &refID
		out.ReferrerCredit = s.rates.Downline
		refBal = model.Balance{Scope: model.ScopeOwnerEarnings, OwnerKey: model.OwnerKey(refID)}
		toLock = append(toLock, refBal)
	}
	if err := lockOrdered(ctx, tx, toLock...); err != nil {
		return nil, err
	}

	if s.rates.PerMember.IsPositive() {
		if _, err := credit(ctx, tx, ownerBal.Scope, ownerBal.OwnerKey, s.rates.PerMember); err != nil {
			return nil, err
		}
	}
	if out.ReferrerID != nil {
		if _, err := credit(ctx, tx, refBal.Scope, refBal.OwnerKey, s.rates.Downline); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *LedgerService) afterJoin(ctx context.Context, tenantID, memberID int64, referredBy *int64, first bool) {
	s.metrics.RecordMemberJoin(first)
	if first {
		s.publish(ctx, events.TypeMemberJoined, model.MemberKey(tenantID, memberID), map[string]interface{}{
			"tenant_id":   tenantID,
			"member_id":   memberID,
			"referred_by": referredBy,
		})
	}
}

func (s *LedgerService) afterEarnings(tenantID int64, out *model.JoinEarnings) {
	s.metrics.RecordEarnings("owner")
	if out.ReferrerID != nil {
		s.metrics.RecordEarnings("downline")
	}
	s.logger.Debug("Applied join earnings",
		zap.Int64("tenant_id", tenantID),
		zap.Int64("owner_id", out.OwnerID),
		zap.Bool("downline", out.ReferrerID != nil))
}

// CreateWithdrawRequest validates the amount, reserves the funds and records a pending request
func (s *LedgerService) CreateWithdrawRequest(ctx context.Context, in WithdrawInput) (*model.WithdrawRequest, error) {
	var req *model.WithdrawRequest
	err := s.run(ctx, "create_withdraw", func() error {
		amt, err := normalizeAmount(in.Amount, in.Amount.String())
		if err != nil {
			return err
		}
		scope, key, err := withdrawSource(in)
		if err != nil {
			return err
		}
		currency := in.Currency
		if currency == "" {
			currency = s.currency
		}

		// funds are checked before bounds; a bounds failure rolls the debit back
		return s.store.WithTx(ctx, func(tx store.LedgerTx) error {
			if _, err := debit(ctx, tx, scope, key, amt); err != nil {
				return err
			}
			if err := checkBounds(amt, in.Bounds); err != nil {
				return err
			}
			req = &model.WithdrawRequest{
				Kind:        in.Kind,
				TenantID:    in.TenantID,
				RequesterID: in.RequesterID,
				Amount:      amt,
				Currency:    currency,
				Status:      model.WithdrawStatusPending,
				CreatedAt:   s.now(),
			}
			if err := tx.InsertWithdrawRequest(ctx, req); err != nil {
				return fmt.Errorf("failed to record withdraw request: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordWithdrawRequest(string(req.Kind))
	s.publish(ctx, events.TypeWithdrawRequested, fmt.Sprintf("withdraw:%d", req.ID), req)
	s.logger.Info("Withdraw request created",
		zap.Int64("request_id", req.ID),
		zap.String("kind", string(req.Kind)),
		zap.Int64("requester_id", req.RequesterID),
		zap.String("amount", req.Amount.StringFixed(2)))
	return req, nil
}

func checkBounds(amt decimal.Decimal, b model.Bounds) error {
	if !b.Min.IsZero() && amt.LessThan(b.Min) {
		return apperrors.Validation(fmt.Sprintf("minimum withdrawal is %s", b.Min.StringFixed(2))).
			WithDetail("min", b.Min.StringFixed(2))
	}
	if !b.Max.IsZero() && amt.GreaterThan(b.Max) {
		return apperrors.Validation(fmt.Sprintf("maximum withdrawal is %s", b.Max.StringFixed(2))).
			WithDetail("max", b.Max.StringFixed(2))
	}
	return nil
}

func withdrawSource(in WithdrawInput) (model.Scope, string, error) {
	switch in.Kind {
	case model.WithdrawMemberToOwner:
		if in.TenantID == nil {
			return "", "", apperrors.Validation("member withdrawal requires a tenant")
		}
		return model.ScopeMemberWallet, model.MemberKey(*in.TenantID, in.RequesterID), nil
	case model.WithdrawOwnerToParent:
		return model.ScopeOwnerEarnings, model.OwnerKey(in.RequesterID), nil
	default:
		return "", "", apperrors.Validation(fmt.Sprintf("unknown withdraw kind %q", in.Kind))
	}
}

// MarkWithdrawPaid records external settlement of a pending request
func (s *LedgerService) MarkWithdrawPaid(ctx context.Context, requestID int64) (*model.WithdrawRequest, error) {
	var req *model.WithdrawRequest
	err := s.run(ctx, "mark_withdraw_paid", func() error {
		return s.store.WithTx(ctx, func(tx store.LedgerTx) error {
			var err error
			req, err = tx.LockWithdrawRequest(ctx, requestID)
			if errors.Is(err, store.ErrNotFound) {
				return apperrors.WithdrawNotFound(requestID)
			}
			if err != nil {
				return fmt.Errorf("failed to lock withdraw request: %w", err)
			}
			if req.Status != model.WithdrawStatusPending {
				return apperrors.Validation(fmt.Sprintf("withdraw request %d is already %s", requestID, req.Status))
			}
			settledAt := s.now()
			if err := tx.SetWithdrawStatus(ctx, requestID, model.WithdrawStatusPaid, settledAt); err != nil {
				return fmt.Errorf("failed to update withdraw request: %w", err)
			}
			req.Status = model.WithdrawStatusPaid
			req.SettledAt = &settledAt
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeWithdrawPaid, fmt.Sprintf("withdraw:%d", req.ID), req)
	return req, nil
}

// RegisterCreator records a parent bot user once; the first referrer wins
func (s *LedgerService) RegisterCreator(ctx context.Context, userID int64, username string, referrerID *int64) (bool, error) {
	if referrerID != nil && *referrerID == userID {
		referrerID = nil
	}
	created, err := s.store.CreateCreatorIfAbsent(ctx, &model.Creator{
		UserID:     userID,
		Username:   username,
		FirstSeen:  s.now(),
		ReferrerID: referrerID,
	})
	if err != nil {
		return false, apperrors.Unavailable("failed to register creator", err)
	}
	return created, nil
}

// GetCreator returns the creator row for a parent bot user
func (s *LedgerService) GetCreator(ctx context.Context, userID int64) (*model.Creator, error) {
	c, err := s.store.GetCreator(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.Unavailable("failed to load creator", err)
	}
	return c, nil
}

// CreateTask adds a task to a tenant
func (s *LedgerService) CreateTask(ctx context.Context, tenantID int64, title string, reward decimal.Decimal) (*model.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperrors.Validation("task title is required")
	}
	amt, err := normalizeAmount(reward, reward.String())
	if err != nil {
		return nil, err
	}
	task := &model.Task{TenantID: tenantID, Title: title, Reward: amt, CreatedAt: s.now()}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, apperrors.Unavailable("failed to create task", err)
	}
	return task, nil
}

// ListTasks returns a tenant's tasks in creation order
func (s *LedgerService) ListTasks(ctx context.Context, tenantID int64) ([]*model.Task, error) {
	tasks, err := s.store.ListTasks(ctx, tenantID)
	if err != nil {
		return nil, apperrors.Unavailable("failed to list tasks", err)
	}
	return tasks, nil
}

// SubmitClaim records a pending claim; the task must belong to the tenant
func (s *LedgerService) SubmitClaim(ctx context.Context, tenantID, taskID, memberID int64, proof string) (*model.TaskClaim, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && task.TenantID != tenantID) {
		return nil, apperrors.TaskNotFound(taskID)
	}
	if err != nil {
		return nil, apperrors.Unavailable("failed to load task", err)
	}
	claim := &model.TaskClaim{
		TaskID:    taskID,
		TenantID:  tenantID,
		MemberID:  memberID,
		Proof:     strings.TrimSpace(proof),
		Status:    model.ClaimStatusPending,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateClaim(ctx, claim); err != nil {
		return nil, apperrors.Unavailable("failed to submit claim", err)
	}
	return claim, nil
}

// ListPendingClaims returns a tenant's unsettled claims with task details
func (s *LedgerService) ListPendingClaims(ctx context.Context, tenantID int64) ([]*model.PendingClaim, error) {
	claims, err := s.store.ListPendingClaims(ctx, tenantID)
	if err != nil {
		return nil, apperrors.Unavailable("failed to list claims", err)
	}
	return claims, nil
}

// CountMembers returns how many members joined a tenant
func (s *LedgerService) CountMembers(ctx context.Context, tenantID int64) (int, error) {
	n, err := s.store.CountMembers(ctx, tenantID)
	if err != nil {
		return 0, apperrors.Unavailable("failed to count members", err)
	}
	return n, nil
}

// ListMemberIDs returns broadcast recipients for a tenant
func (s *LedgerService) ListMemberIDs(ctx context.Context, tenantID int64) ([]int64, error) {
	ids, err := s.store.ListMemberIDs(ctx, tenantID)
	if err != nil {
		return nil, apperrors.Unavailable("failed to list members", err)
	}
	return ids, nil
}

// ListWithdrawRequests returns requests matching the filter
func (s *LedgerService) ListWithdrawRequests(ctx context.Context, filter model.WithdrawFilter) ([]*model.WithdrawRequest, error) {
	reqs, err := s.store.ListWithdrawRequests(ctx, filter)
	if err != nil {
		return nil, apperrors.Unavailable("failed to list withdraw requests", err)
	}
	return reqs, nil
}

func (s *LedgerService) checkMovement(scope model.Scope, amount decimal.Decimal) (decimal.Decimal, error) {
	if !scope.Valid() {
		return decimal.Zero, apperrors.Validation(fmt.Sprintf("unknown scope %q", scope))
	}
	return normalizeAmount(amount, amount.String())
}

// run times op and maps non-coded store failures to Unavailable
func (s *LedgerService) run(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if err != nil && !apperrors.IsCoded(err) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = apperrors.Unavailable(op+" cancelled", ctxErr)
		} else {
			err = apperrors.Unavailable(op+" failed", err)
		}
	}
	s.metrics.RecordLedgerOperation(op, outcome(err), time.Since(start))
	if err != nil && apperrors.GetCode(err) >= apperrors.ErrCodeInternal {
		s.logger.Error("Ledger operation failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}

func (s *LedgerService) publish(ctx context.Context, eventType, key string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, eventType, key, payload); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("type", eventType),
			zap.String("key", key),
			zap.Error(err))
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(apperrors.GetCode(err).String())
}

func credit(ctx context.Context, tx store.LedgerTx, scope model.Scope, key string, amount decimal.Decimal) (decimal.Decimal, error) {
	current, err := tx.LockBalance(ctx, scope, key)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to lock balance: %w", err)
	}
	next := current.Add(amount)
	if err := tx.SetBalance(ctx, scope, key, next); err != nil {
		return decimal.Zero, fmt.Errorf("failed to write balance: %w", err)
	}
	return next, nil
}

func debit(ctx context.Context, tx store.LedgerTx, scope model.Scope, key string, amount decimal.Decimal) (decimal.Decimal, error) {
	current, err := tx.LockBalance(ctx, scope, key)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to lock balance: %w", err)
	}
	if current.LessThan(amount) {
		return decimal.Zero, apperrors.InsufficientFunds(string(scope), key, current.StringFixed(2), amount.StringFixed(2))
	}
	next := current.Sub(amount)
	if err := tx.SetBalance(ctx, scope, key, next); err != nil {
		return decimal.Zero, fmt.Errorf("failed to write balance: %w", err)
	}
	return next, nil
}

// lockOrdered takes row locks in a fixed order so multi-row transactions cannot deadlock
func lockOrdered(ctx context.Context, tx store.LedgerTx, balances ...model.Balance) error {
	sorted := append([]model.Balance(nil), balances...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Scope != sorted[j].Scope {
			return sorted[i].Scope < sorted[j].Scope
		}
		return sorted[i].OwnerKey < sorted[j].OwnerKey
	})
	for _, b := range sorted {
		if _, err := tx.LockBalance(ctx, b.Scope, b.OwnerKey); err != nil {
			return fmt.Errorf("failed to lock balance: %w", err)
		}
	}
	return nil
}
