package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation      = "23505"
	pgNumericOutOfRange    = "22003"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"

	maxTxAttempts  = 6
	retryBaseDelay = 5 * time.Millisecond
	retryMaxDelay  = 250 * time.Millisecond
)

// schema is applied idempotently on startup and by the seeder.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id             BIGSERIAL PRIMARY KEY,
		name           VARCHAR(50) NOT NULL UNIQUE,
		account_number VARCHAR(20) NOT NULL UNIQUE,
		account_type   VARCHAR(20) NOT NULL,
		balance        BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		credit_limit   BIGINT NOT NULL DEFAULT 0 CHECK (credit_limit >= 0),
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE SEQUENCE IF NOT EXISTS transfer_seq START WITH 1001`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id                      BIGSERIAL PRIMARY KEY,
		transaction_id          VARCHAR(32) NOT NULL UNIQUE,
		account_id              BIGINT NOT NULL REFERENCES accounts(id),
		type                    VARCHAR(10) NOT NULL,
		amount                  BIGINT NOT NULL CHECK (amount > 0),
		counterparty_account_id BIGINT REFERENCES accounts(id),
		description             VARCHAR(200) NOT NULL DEFAULT '',
		created_at              TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_account_created ON transactions (account_id, created_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS conversation_turns (
		id         BIGSERIAL PRIMARY KEY,
		session_id VARCHAR(64) NOT NULL,
		role       VARCHAR(20) NOT NULL,
		content    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_session ON conversation_turns (session_id, id)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		key            VARCHAR(255) PRIMARY KEY,
		request_hash   TEXT NOT NULL,
		status         VARCHAR(20) NOT NULL,
		transaction_id VARCHAR(32),
		response_body  JSONB,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Connect opens and pings a connection pool.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Migrate creates the tables, indexes and sequence if they do not exist.
func Migrate(ctx context.Context, db Execer) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isRetryable(err error) bool {
	code := pgCode(err)
	return code == pgSerializationFailure || code == pgDeadlockDetected
}

// withRetry runs fn again when Postgres aborts it with a serialization
// failure or deadlock, sleeping with exponential backoff and jitter between
// attempts. After maxTxAttempts the last error is returned; callers surface
// it as a storage failure.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := retryBaseDelay
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || !isRetryable(err) {
			return err
		}
		if attempt == maxTxAttempts {
			return err
		}
		if err := sleepCtx(ctx, jitter(delay)); err != nil {
			return err
		}
		delay = min(delay*2, retryMaxDelay)
	}
}

// jitter returns a duration in [d/2, d].
func jitter(d time.Duration) time.Duration {
	half := d / 2
	return half + rand.N(half+1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
