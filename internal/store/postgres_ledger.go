package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/bankassist/internal/domain"
	"github.com/shopspring/decimal"
)

const accountColumns = "id, name, account_number, account_type, balance, credit_limit, created_at, updated_at"

// PostgresLedger is a Ledger backed by Postgres.
type PostgresLedger struct {
	db *pgxpool.Pool
}

func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Name, &a.AccountNumber, &a.AccountType, &a.Balance, &a.CreditLimit, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a new account; duplicate name or number is ErrConflict.
func (s *PostgresLedger) CreateAccount(ctx context.Context, na domain.NewAccount) (*domain.Account, error) {
	if err := validateNewAccount(na); err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx,
		"INSERT INTO accounts (name, account_number, account_type, balance, credit_limit) VALUES ($1, $2, $3, $4, $5) RETURNING "+accountColumns,
		na.Name, na.AccountNumber, na.AccountType, na.Balance, na.CreditLimit,
	)
	acc, err := scanAccount(row)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, fmt.Errorf("account %q: %w", na.Name, domain.ErrConflict)
		}
		return nil, domain.StorageError("create account", err)
	}
	return acc, nil
}

// GetByName retrieves a single account by name.
func (s *PostgresLedger) GetByName(ctx context.Context, name string) (*domain.Account, error) {
	acc, err := scanAccount(s.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE name = $1", name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(name, domain.SideNone)
		}
		return nil, domain.StorageError("get account", err)
	}
	return acc, nil
}

// ListAll returns every account in creation order.
func (s *PostgresLedger) ListAll(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.Query(ctx, "SELECT "+accountColumns+" FROM accounts ORDER BY id")
	if err != nil {
		return nil, domain.StorageError("list accounts", err)
	}
	defer rows.Close()

	accounts := []domain.Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, domain.StorageError("scan account", err)
		}
		accounts = append(accounts, *acc)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("list accounts", err)
	}
	return accounts, nil
}

// GetHistory retrieves up to limit ledger legs of an account, newest first.
func (s *PostgresLedger) GetHistory(ctx context.Context, accountID int64, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var exists bool
	err := s.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", accountID).Scan(&exists)
	if err != nil {
		return nil, domain.StorageError("check account", err)
	}
	if !exists {
		return nil, fmt.Errorf("account id %d: %w", accountID, domain.ErrAccountNotFound)
	}

	rows, err := s.db.Query(ctx, `
		SELECT t.transaction_id, t.account_id, t.type, t.amount, t.counterparty_account_id,
		       COALESCE(c.name, ''), t.description, t.created_at
		FROM transactions t
		LEFT JOIN accounts c ON c.id = t.counterparty_account_id
		WHERE t.account_id = $1
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, domain.StorageError("query history", err)
	}
	defer rows.Close()

	txns := []domain.Transaction{}
	for rows.Next() {
		var t domain.Transaction
		var typ string
		if err := rows.Scan(&t.TransactionID, &t.AccountID, &typ, &t.Amount, &t.CounterpartyAccountID,
			&t.CounterpartyName, &t.Description, &t.CreatedAt); err != nil {
			return nil, domain.StorageError("scan transaction", err)
		}
		t.Type = domain.TransactionType(typ)
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("query history", err)
	}
	return txns, nil
}

// Transfer executes the two-legged transfer within one transaction, retried
// on serialization failures.
func (s *PostgresLedger) Transfer(ctx context.Context, fromName, toName string, amount decimal.Decimal) (*domain.TransferResult, error) {
	res, _, err := s.transfer(ctx, nil, fromName, toName, amount)
	return res, err
}

// TransferIdempotent records the key in idempotency_keys inside the transfer
// transaction, so a rejected or rolled back transfer leaves no reservation.
func (s *PostgresLedger) TransferIdempotent(ctx context.Context, idem Idempotency, fromName, toName string, amount decimal.Decimal) (*domain.TransferResult, bool, error) {
	if err := validateIdempotency(idem); err != nil {
		return nil, false, err
	}
	return s.transfer(ctx, &idem, fromName, toName, amount)
}

func (s *PostgresLedger) transfer(ctx context.Context, idem *Idempotency, fromName, toName string, amount decimal.Decimal) (*domain.TransferResult, bool, error) {
	var res *domain.TransferResult
	var replayed bool
	err := withRetry(ctx, func() error {
		var err error
		res, replayed, err = s.transferOnce(ctx, idem, fromName, toName, amount)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return res, replayed, nil
}

func (s *PostgresLedger) transferOnce(ctx context.Context, idem *Idempotency, fromName, toName string, amount decimal.Decimal) (*domain.TransferResult, bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, false, domain.StorageError("tx begin", err)
	}
	defer tx.Rollback(ctx)

	// 0. Idempotency check and reservation.
	if idem != nil {
		stored, err := reserveKey(ctx, tx, *idem)
		if err != nil || stored != nil {
			return stored, stored != nil, err
		}
	}

	res, err := s.move(ctx, tx, fromName, toName, amount)
	if err != nil {
		return nil, false, err
	}

	if idem != nil {
		body, err := json.Marshal(res)
		if err != nil {
			return nil, false, fmt.Errorf("marshal transfer result: %w", err)
		}
		_, err = tx.Exec(ctx,
			"UPDATE idempotency_keys SET status = 'completed', transaction_id = $1, response_body = $2 WHERE key = $3",
			res.TransactionID, body, idem.Key)
		if err != nil {
			return nil, false, domain.StorageError("complete idempotency key", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, domain.StorageError("tx commit", err)
	}
	return res, false, nil
}

// reserveKey returns the stored result of a completed key, or inserts an
// in-progress row for a new one. A concurrent holder of the key surfaces as
// a unique violation once it commits.
func reserveKey(ctx context.Context, tx pgx.Tx, idem Idempotency) (*domain.TransferResult, error) {
	var hash, status string
	var body []byte
	err := tx.QueryRow(ctx,
		"SELECT request_hash, status, response_body FROM idempotency_keys WHERE key = $1",
		idem.Key).Scan(&hash, &status, &body)
	switch {
	case err == nil:
		if hash != idem.RequestHash {
			return nil, domain.ErrIdempotencyMismatch
		}
		if status != "completed" {
			return nil, domain.ErrIdempotencyConflict
		}
		var res domain.TransferResult
		if err := json.Unmarshal(body, &res); err != nil {
			return nil, domain.StorageError("decode idempotent response", err)
		}
		return &res, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, domain.StorageError("idempotency lookup", err)
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, status) VALUES ($1, $2, 'in_progress')",
		idem.Key, idem.RequestHash)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, domain.ErrIdempotencyConflict
		}
		return nil, domain.StorageError("idempotency reservation", err)
	}
	return nil, nil
}

// move applies the transfer within tx without committing.
func (s *PostgresLedger) move(ctx context.Context, tx pgx.Tx, fromName, toName string, amount decimal.Decimal) (*domain.TransferResult, error) {
	// 1. Resolve and validate, in the order callers rely on.
	from, err := s.accountByName(ctx, tx, fromName, domain.SideFrom)
	if err != nil {
		return nil, err
	}
	to, err := s.accountByName(ctx, tx, toName, domain.SideTo)
	if err != nil {
		return nil, err
	}
	if from.ID == to.ID {
		return nil, domain.ErrSelfTransfer
	}
	cents, err := domain.ToMinorUnits(amount)
	if err != nil {
		return nil, err
	}

	// 2. Deterministic locking (deadlock prevention).
	lockOrder := []int64{from.ID, to.ID}
	if lockOrder[0] > lockOrder[1] {
		lockOrder[0], lockOrder[1] = lockOrder[1], lockOrder[0]
	}
	balances := make(map[int64]int64, 2)
	for _, id := range lockOrder {
		var balance int64
		if err := tx.QueryRow(ctx, "SELECT balance FROM accounts WHERE id = $1 FOR UPDATE", id).Scan(&balance); err != nil {
			return nil, domain.StorageError("lock acquisition", err)
		}
		balances[id] = balance
	}

	// 3. Business check under lock.
	if balances[from.ID] < cents {
		return nil, &domain.InsufficientFundsError{Name: from.Name, Balance: balances[from.ID], Requested: cents}
	}
	if balances[to.ID] > math.MaxInt64-cents {
		return nil, overflowError(to.Name)
	}

	// 4. Ledger legs.
	var seq int64
	if err := tx.QueryRow(ctx, "SELECT nextval('transfer_seq')").Scan(&seq); err != nil {
		return nil, domain.StorageError("allocate transaction id", err)
	}
	base := fmt.Sprintf("TXN%d", seq)
	debitID, creditID := domain.TransferLegIDs(base)

	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (transaction_id, account_id, type, amount, counterparty_account_id, description)
		VALUES ($1, $2, $3, $4, $5, $6), ($7, $5, $8, $4, $2, $9)`,
		debitID, from.ID, string(domain.Debit), cents, to.ID, DebitDescription(to.Name),
		creditID, string(domain.Credit), CreditDescription(from.Name),
	)
	if err != nil {
		return nil, domain.StorageError("ledger entry", err)
	}

	// 5. Balances.
	err = tx.QueryRow(ctx,
		"UPDATE accounts SET balance = balance - $1, updated_at = now() WHERE id = $2 RETURNING balance, updated_at",
		cents, from.ID).Scan(&from.Balance, &from.UpdatedAt)
	if err != nil {
		return nil, domain.StorageError("debit balance", err)
	}
	err = tx.QueryRow(ctx,
		"UPDATE accounts SET balance = balance + $1, updated_at = now() WHERE id = $2 RETURNING balance, updated_at",
		cents, to.ID).Scan(&to.Balance, &to.UpdatedAt)
	if err != nil {
		if pgCode(err) == pgNumericOutOfRange {
			return nil, overflowError(to.Name)
		}
		return nil, domain.StorageError("credit balance", err)
	}

	return &domain.TransferResult{TransactionID: base, Amount: cents, From: *from, To: *to}, nil
}

func overflowError(name string) error {
	return &domain.AccountError{Name: name, Side: domain.SideTo, Err: domain.ErrBalanceOverflow}
}

func (s *PostgresLedger) accountByName(ctx context.Context, tx pgx.Tx, name string, side domain.Side) (*domain.Account, error) {
	acc, err := scanAccount(tx.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE name = $1", name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(name, side)
		}
		return nil, domain.StorageError("resolve account", err)
	}
	return acc, nil
}

var _ Ledger = (*PostgresLedger)(nil)
