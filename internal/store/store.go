// Package store holds the account ledger and the conversation history, each
// with an in-memory and a Postgres implementation.
package store

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/punchamoorthee/bankassist/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	// DefaultHistoryLimit applies when a history read asks for limit <= 0.
	DefaultHistoryLimit = 10
	// DefaultConversationCap is the number of turns kept per session.
	DefaultConversationCap = 100
	// FirstTransferSeq is the sequence number of the first transfer (TXN1001).
	FirstTransferSeq = 1001

	// Column widths of the persistent schema. Both ledgers enforce them.
	MaxAccountNameLength    = 50
	MaxAccountNumberLength  = 20
	MaxAccountTypeLength    = 20
	MaxSessionIDLength      = 64
	MaxIdempotencyKeyLength = 255
)

// Idempotency identifies a retried transfer request. RequestHash is a digest
// of the request payload; a key replayed with a different hash is rejected.
type Idempotency struct {
	Key         string
	RequestHash string
}

// Ledger owns accounts and the append-only transaction log. It is the only
// writer of account balances.
type Ledger interface {
	CreateAccount(ctx context.Context, na domain.NewAccount) (*domain.Account, error)
	GetByName(ctx context.Context, name string) (*domain.Account, error)
	ListAll(ctx context.Context) ([]domain.Account, error)
	GetHistory(ctx context.Context, accountID int64, limit int) ([]domain.Transaction, error)
	Transfer(ctx context.Context, fromName, toName string, amount decimal.Decimal) (*domain.TransferResult, error)
	// TransferIdempotent runs Transfer at most once per key. A completed key
	// returns the stored result with replayed set. A failed transfer releases
	// its key.
	TransferIdempotent(ctx context.Context, idem Idempotency, fromName, toName string, amount decimal.Decimal) (res *domain.TransferResult, replayed bool, err error)
}

// ConversationStore keeps a bounded, ordered history of turns per session.
type ConversationStore interface {
	Append(ctx context.Context, sessionID string, role domain.Role, content string) error
	Get(ctx context.Context, sessionID string) ([]domain.Turn, error)
	Clear(ctx context.Context, sessionID string) error
}

// DebitDescription is the note written on the paying leg.
func DebitDescription(toName string) string {
	return "转账给" + toName
}

// CreditDescription is the note written on the receiving leg.
func CreditDescription(fromName string) string {
	return "收到" + fromName + "转账"
}

// DefaultAccounts are created at bootstrap when the ledger is empty.
func DefaultAccounts() []domain.NewAccount {
	return []domain.NewAccount{
		{Name: "张三", AccountNumber: "6222010012345678", AccountType: "储蓄账户", Balance: 1000000, CreditLimit: 5000000},
		{Name: "李四", AccountNumber: "6222020012345679", AccountType: "储蓄账户", Balance: 50000, CreditLimit: 2000000},
		{Name: "王五", AccountNumber: "6222030012345680", AccountType: "理财账户", Balance: 5000000, CreditLimit: 10000000},
	}
}

// Bootstrap creates accounts in an empty ledger. A ledger that already holds
// accounts is left untouched.
func Bootstrap(ctx context.Context, l Ledger, accounts []domain.NewAccount) (int, error) {
	existing, err := l.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	for _, na := range accounts {
		if _, err := l.CreateAccount(ctx, na); err != nil {
			return 0, fmt.Errorf("bootstrap %q: %w", na.Name, err)
		}
	}
	return len(accounts), nil
}

// ValidateSessionID rejects ids the conversation store cannot hold.
func ValidateSessionID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty session id", domain.ErrInvalidArgument)
	case utf8.RuneCountInString(id) > MaxSessionIDLength:
		return fmt.Errorf("%w: session id longer than %d characters", domain.ErrInvalidArgument, MaxSessionIDLength)
	}
	return nil
}

func validateIdempotency(idem Idempotency) error {
	switch {
	case idem.Key == "":
		return fmt.Errorf("%w: idempotency key is required", domain.ErrInvalidArgument)
	case utf8.RuneCountInString(idem.Key) > MaxIdempotencyKeyLength:
		return fmt.Errorf("%w: idempotency key longer than %d characters", domain.ErrInvalidArgument, MaxIdempotencyKeyLength)
	case idem.RequestHash == "":
		return fmt.Errorf("%w: request hash is required", domain.ErrInvalidArgument)
	}
	return nil
}

func validateNewAccount(na domain.NewAccount) error {
	switch {
	case strings.TrimSpace(na.Name) == "":
		return fmt.Errorf("%w: account name is required", domain.ErrInvalidArgument)
	case strings.TrimSpace(na.AccountNumber) == "":
		return fmt.Errorf("%w: account number is required", domain.ErrInvalidArgument)
	case utf8.RuneCountInString(na.Name) > MaxAccountNameLength:
		return fmt.Errorf("%w: account name longer than %d characters", domain.ErrInvalidArgument, MaxAccountNameLength)
	case utf8.RuneCountInString(na.AccountNumber) > MaxAccountNumberLength:
		return fmt.Errorf("%w: account number longer than %d characters", domain.ErrInvalidArgument, MaxAccountNumberLength)
	case utf8.RuneCountInString(na.AccountType) > MaxAccountTypeLength:
		return fmt.Errorf("%w: account type longer than %d characters", domain.ErrInvalidArgument, MaxAccountTypeLength)
	case na.Balance < 0:
		return fmt.Errorf("%w: opening balance cannot be negative", domain.ErrInvalidArgument)
	case na.CreditLimit < 0:
		return fmt.Errorf("%w: credit limit cannot be negative", domain.ErrInvalidArgument)
	}
	return nil
}
