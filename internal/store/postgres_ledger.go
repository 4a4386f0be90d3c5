package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devrev/botforge/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// GetBalance reads without locking; absent rows are zero
func (s *PostgresStore) GetBalance(ctx context.Context, scope model.Scope, ownerKey string) (decimal.Decimal, error) {
	var raw string
	err := s.pool.QueryRow(ctx,
		`SELECT amount::text FROM balances WHERE scope = $1 AND owner_key = $2`,
		string(scope), ownerKey,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return parseNumeric(raw)
}

func (s *PostgresStore) GetCreator(ctx context.Context, userID int64) (*model.Creator, error) {
	return getCreator(ctx, s.pool, userID)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getCreator(ctx context.Context, q queryRower, userID int64) (*model.Creator, error) {
	var c model.Creator
	err := q.QueryRow(ctx,
		`SELECT user_id, username, first_seen, referrer_id FROM creators WHERE user_id = $1`,
		userID,
	).Scan(&c.UserID, &c.Username, &c.FirstSeen, &c.ReferrerID)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *PostgresStore) CreateCreatorIfAbsent(ctx context.Context, creator *model.Creator) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO creators (user_id, username, first_seen, referrer_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
	`, creator.UserID, creator.Username, creator.FirstSeen, creator.ReferrerID)
	if err != nil {
		return false, fmt.Errorf("failed to insert creator: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CountMembers(ctx context.Context, tenantID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM members WHERE tenant_id = $1`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListMemberIDs(ctx context.Context, tenantID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT member_id FROM members WHERE tenant_id = $1 ORDER BY member_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *model.Task) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (tenant_id, title, reward, created_at)
		VALUES ($1, $2, $3::numeric, $4)
		RETURNING id
	`, task.TenantID, task.Title, task.Reward.String(), task.CreatedAt).Scan(&task.ID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

const taskColumns = `id, tenant_id, title, reward::text, created_at`

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	var reward string
	if err := row.Scan(&t.ID, &t.TenantID, &t.Title, &reward, &t.CreatedAt); err != nil {
		return nil, err
	}
	amount, err := parseNumeric(reward)
	if err != nil {
		return nil, err
	}
	t.Reward = amount
	return &t, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID int64) (*model.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, tenantID int64) ([]*model.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) CreateClaim(ctx context.Context, claim *model.TaskClaim) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO task_claims (task_id, tenant_id, member_id, proof, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, claim.TaskID, claim.TenantID, claim.MemberID, claim.Proof, string(claim.Status), claim.CreatedAt).Scan(&claim.ID)
	if err != nil {
		return fmt.Errorf("failed to create claim: %w", err)
	}
	return nil
}

const claimColumns = `c.id, c.task_id, c.tenant_id, c.member_id, c.proof, c.status, c.created_at, c.settled_at`

func scanClaim(row rowScanner, extra ...any) (*model.TaskClaim, error) {
	var c model.TaskClaim
	var status string
	dest := append([]any{&c.ID, &c.TaskID, &c.TenantID, &c.MemberID, &c.Proof, &status, &c.CreatedAt, &c.SettledAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	c.Status = model.ClaimStatus(status)
	return &c, nil
}

func (s *PostgresStore) ListPendingClaims(ctx context.Context, tenantID int64) ([]*model.PendingClaim, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+claimColumns+`, t.title, t.reward::text
		FROM task_claims c
		JOIN tasks t ON t.id = c.task_id
		WHERE c.tenant_id = $1 AND c.status = 'pending'
		ORDER BY c.id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending claims: %w", err)
	}
	defer rows.Close()

	var out []*model.PendingClaim
	for rows.Next() {
		var title, reward string
		claim, err := scanClaim(rows, &title, &reward)
		if err != nil {
			return nil, err
		}
		amount, err := parseNumeric(reward)
		if err != nil {
			return nil, err
		}
		out = append(out, &model.PendingClaim{Claim: claim, TaskTitle: title, Reward: amount})
	}
	return out, rows.Err()
}

const withdrawColumns = `id, kind, tenant_id, requester_id, amount::text, currency, status, created_at, settled_at`

func scanWithdraw(row rowScanner) (*model.WithdrawRequest, error) {
	var w model.WithdrawRequest
	var kind, status, amount string
	if err := row.Scan(&w.ID, &kind, &w.TenantID, &w.RequesterID, &amount, &w.Currency, &status, &w.CreatedAt, &w.SettledAt); err != nil {
		return nil, err
	}
	parsed, err := parseNumeric(amount)
	if err != nil {
		return nil, err
	}
	w.Kind = model.WithdrawKind(kind)
	w.Status = model.WithdrawStatus(status)
	w.Amount = parsed
	return &w, nil
}

func (s *PostgresStore) ListWithdrawRequests(ctx context.Context, filter model.WithdrawFilter) ([]*model.WithdrawRequest, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.TenantID != nil {
		args = append(args, *filter.TenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}

	query := `SELECT ` + withdrawColumns + ` FROM withdraw_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdraw requests: %w", err)
	}
	defer rows.Close()

	var out []*model.WithdrawRequest
	for rows.Next() {
		w, err := scanWithdraw(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// postgresTx implements LedgerTx over a pgx transaction
type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LockBalance(ctx context.Context, scope model.Scope, ownerKey string) (decimal.Decimal, error) {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO balances (scope, owner_key, amount) VALUES ($1, $2, 0)
		ON CONFLICT (scope, owner_key) DO NOTHING
	`, string(scope), ownerKey); err != nil {
		return decimal.Zero, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	var raw string
	if err := t.tx.QueryRow(ctx, `
		SELECT amount::text FROM balances WHERE scope = $1 AND owner_key = $2 FOR UPDATE
	`, string(scope), ownerKey).Scan(&raw); err != nil {
		return decimal.Zero, fmt.Errorf("failed to lock balance: %w", err)
	}
	return parseNumeric(raw)
}

func (t *postgresTx) SetBalance(ctx context.Context, scope model.Scope, ownerKey string, amount decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE balances SET amount = $3::numeric, updated_at = now()
		WHERE scope = $1 AND owner_key = $2
	`, string(scope), ownerKey, amount.String())
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("balance %s/%s not locked before update", scope, ownerKey)
	}
	return nil
}

func (t *postgresTx) GetCreator(ctx context.Context, userID int64) (*model.Creator, error) {
	return getCreator(ctx, t.tx, userID)
}

func (t *postgresTx) InsertMember(ctx context.Context, member *model.Member) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO members (tenant_id, member_id, joined_at, referred_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, member_id) DO NOTHING
	`, member.TenantID, member.MemberID, member.JoinedAt, member.ReferredBy)
	if err != nil {
		return false, fmt.Errorf("failed to insert member: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *postgresTx) GetTask(ctx context.Context, taskID int64) (*model.Task, error) {
	task, err := scanTask(t.tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID))
	if err != nil {
		return nil, notFound(err)
	}
	return task, nil
}

func (t *postgresTx) LockClaim(ctx context.Context, claimID int64) (*model.TaskClaim, error) {
	claim, err := scanClaim(t.tx.QueryRow(ctx,
		`SELECT `+claimColumns+` FROM task_claims c WHERE c.id = $1 FOR UPDATE`, claimID))
	if err != nil {
		return nil, notFound(err)
	}
	return claim, nil
}

func (t *postgresTx) SetClaimStatus(ctx context.Context, claimID int64, status model.ClaimStatus, settledAt time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE task_claims SET status = $2, settled_at = $3 WHERE id = $1`,
		claimID, string(status), settledAt)
	if err != nil {
		return fmt.Errorf("failed to update claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) InsertWithdrawRequest(ctx context.Context, req *model.WithdrawRequest) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO withdraw_requests (kind, tenant_id, requester_id, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		RETURNING id
	`, string(req.Kind), req.TenantID, req.RequesterID, req.Amount.String(), req.Currency,
		string(req.Status), req.CreatedAt).Scan(&req.ID)
	if err != nil {
		return fmt.Errorf("failed to insert withdraw request: %w", err)
	}
	return nil
}

func (t *postgresTx) LockWithdrawRequest(ctx context.Context, requestID int64) (*model.WithdrawRequest, error) {
	w, err := scanWithdraw(t.tx.QueryRow(ctx,
		`SELECT `+withdrawColumns+` FROM withdraw_requests WHERE id = $1 FOR UPDATE`, requestID))
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

func (t *postgresTx) SetWithdrawStatus(ctx context.Context, requestID int64, status model.WithdrawStatus, settledAt time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE withdraw_requests SET status = $2, settled_at = $3 WHERE id = $1`,
		requestID, string(status), settledAt)
	if err != nil {
		return fmt.Errorf("failed to update withdraw request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
