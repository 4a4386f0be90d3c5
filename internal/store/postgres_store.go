package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS creators (
	user_id     BIGINT PRIMARY KEY,
	username    TEXT NOT NULL DEFAULT '',
	first_seen  TIMESTAMPTZ NOT NULL,
	referrer_id BIGINT
);

CREATE TABLE IF NOT EXISTS tenants (
	id              BIGSERIAL PRIMARY KEY,
	owner_id        BIGINT NOT NULL,
	credential      TEXT NOT NULL,
	display_name    TEXT NOT NULL DEFAULT '',
	handle          TEXT NOT NULL DEFAULT '',
	currency        TEXT NOT NULL,
	referral_reward NUMERIC(18,2) NOT NULL DEFAULT 0,
	min_withdraw    NUMERIC(18,2) NOT NULL,
	max_withdraw    NUMERIC(18,2) NOT NULL,
	extra_channels  TEXT[] NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS tenants_owner_idx ON tenants (owner_id);

CREATE TABLE IF NOT EXISTS members (
	tenant_id   BIGINT NOT NULL REFERENCES tenants (id),
	member_id   BIGINT NOT NULL,
	joined_at   TIMESTAMPTZ NOT NULL,
	referred_by BIGINT,
	PRIMARY KEY (tenant_id, member_id)
);

CREATE TABLE IF NOT EXISTS balances (
	scope      TEXT NOT NULL,
	owner_key  TEXT NOT NULL,
	amount     NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (amount >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (scope, owner_key)
);

CREATE TABLE IF NOT EXISTS tasks (
	id         BIGSERIAL PRIMARY KEY,
	tenant_id  BIGINT NOT NULL REFERENCES tenants (id),
	title      TEXT NOT NULL,
	reward     NUMERIC(18,2) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS task_claims (
	id         BIGSERIAL PRIMARY KEY,
	task_id    BIGINT NOT NULL REFERENCES tasks (id),
	tenant_id  BIGINT NOT NULL,
	member_id  BIGINT NOT NULL,
	proof      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
	created_at TIMESTAMPTZ NOT NULL,
	settled_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS task_claims_pending_idx ON task_claims (tenant_id) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS withdraw_requests (
	id           BIGSERIAL PRIMARY KEY,
	kind         TEXT NOT NULL,
	tenant_id    BIGINT,
	requester_id BIGINT NOT NULL,
	amount       NUMERIC(18,2) NOT NULL CHECK (amount > 0),
	currency     TEXT NOT NULL,
	status       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	settled_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS withdraw_requests_status_idx ON withdraw_requests (status);
`

// PostgresStore implements LedgerStore and TenantStore for PostgreSQL. Balance updates
// take row locks (SELECT ... FOR UPDATE) inside a transaction, so read-modify-write on
// one key is serialized across every worker and process sharing the database.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a new PostgreSQL store and ensures the schema exists
func NewPostgresStore(
	ctx context.Context,
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)
	return NewPostgresStoreFromDSN(ctx, connString, logger)
}

// NewPostgresStoreFromDSN creates a store from a libpq-style connection string or URL
func NewPostgresStoreFromDSN(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("Postgres store ready",
		zap.String("host", config.ConnConfig.Host),
		zap.String("database", config.ConnConfig.Database),
		zap.Int32("max_conns", config.MaxConns))

	return &PostgresStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// WithTx runs fn inside a read-committed transaction
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func parseNumeric(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid numeric %q: %w", raw, err)
	}
	return d, nil
}
