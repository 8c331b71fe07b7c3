package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/punchamoorthee/bankassist/internal/domain"
	"github.com/shopspring/decimal"
)

// accountCell guards one account and its transaction log. Every mutation of
// either happens with mu held.
type accountCell struct {
	mu      sync.Mutex
	account domain.Account
	log     []domain.Transaction // oldest first
}

// MemoryLedger is an in-process Ledger. Transfers lock the two accounts
// involved in ascending id order, so transfers on disjoint pairs run in
// parallel and opposite-direction transfers on one pair cannot deadlock.
type MemoryLedger struct {
	mu       sync.RWMutex // guards the indexes below, not account state
	byName   map[string]*accountCell
	byID     map[int64]*accountCell
	byNumber map[string]struct{}
	order    []*accountCell // insertion order

	nextAccountID int64
	nextTxnSeq    atomic.Int64
	now           func() time.Time

	idemMu sync.Mutex
	idem   map[string]*idempotencyRecord
}

// idempotencyRecord is a reserved key. result is nil until the transfer
// commits.
type idempotencyRecord struct {
	hash   string
	result *domain.TransferResult
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	l := &MemoryLedger{
		byName:   make(map[string]*accountCell),
		byID:     make(map[int64]*accountCell),
		byNumber: make(map[string]struct{}),
		now:      time.Now,
		idem:     make(map[string]*idempotencyRecord),
	}
	l.nextTxnSeq.Store(FirstTransferSeq - 1)
	return l
}

// CreateAccount registers a new account. Name and account number must be unique.
func (l *MemoryLedger) CreateAccount(ctx context.Context, na domain.NewAccount) (*domain.Account, error) {
	if err := validateNewAccount(na); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byName[na.Name]; ok {
		return nil, fmt.Errorf("account name %q: %w", na.Name, domain.ErrConflict)
	}
	if _, ok := l.byNumber[na.AccountNumber]; ok {
		return nil, fmt.Errorf("account number %q: %w", na.AccountNumber, domain.ErrConflict)
	}

	l.nextAccountID++
	now := l.now()
	cell := &accountCell{account: domain.Account{
		ID:            l.nextAccountID,
		Name:          na.Name,
		AccountNumber: na.AccountNumber,
		AccountType:   na.AccountType,
		Balance:       na.Balance,
		CreditLimit:   na.CreditLimit,
		CreatedAt:     now,
		UpdatedAt:     now,
	}}
	l.byName[na.Name] = cell
	l.byID[cell.account.ID] = cell
	l.byNumber[na.AccountNumber] = struct{}{}
	l.order = append(l.order, cell)

	acc := cell.account
	return &acc, nil
}

// GetByName returns a copy of the named account.
func (l *MemoryLedger) GetByName(ctx context.Context, name string) (*domain.Account, error) {
	cell, ok := l.lookup(name)
	if !ok {
		return nil, domain.NotFound(name, domain.SideNone)
	}
	cell.mu.Lock()
	acc := cell.account
	cell.mu.Unlock()
	return &acc, nil
}

// ListAll returns every account in insertion order. All accounts are locked
// (in id order) for the copy, so the result is a consistent snapshot.
func (l *MemoryLedger) ListAll(ctx context.Context) ([]domain.Account, error) {
	l.mu.RLock()
	cells := make([]*accountCell, len(l.order))
	copy(cells, l.order)
	l.mu.RUnlock()

	locked := make([]*accountCell, len(cells))
	copy(locked, cells)
	sort.Slice(locked, func(i, j int) bool { return locked[i].account.ID < locked[j].account.ID })
	for _, c := range locked {
		c.mu.Lock()
	}
	out := make([]domain.Account, len(cells))
	for i, c := range cells {
		out[i] = c.account
	}
	for _, c := range locked {
		c.mu.Unlock()
	}
	return out, nil
}

// GetHistory returns up to limit transactions of the account, newest first.
func (l *MemoryLedger) GetHistory(ctx context.Context, accountID int64, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	l.mu.RLock()
	cell, ok := l.byID[accountID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("account id %d: %w", accountID, domain.ErrAccountNotFound)
	}

	cell.mu.Lock()
	defer cell.mu.Unlock()

	n := min(limit, len(cell.log))
	out := make([]domain.Transaction, 0, n)
	for i := len(cell.log) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, cell.log[i])
	}
	return out, nil
}

// Transfer moves amount from one named account to another. Balance check,
// both balance updates and both log legs happen under both account locks.
func (l *MemoryLedger) Transfer(ctx context.Context, fromName, toName string, amount decimal.Decimal) (*domain.TransferResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	from, ok := l.lookup(fromName)
	if !ok {
		return nil, domain.NotFound(fromName, domain.SideFrom)
	}
	to, ok := l.lookup(toName)
	if !ok {
		return nil, domain.NotFound(toName, domain.SideTo)
	}
	if from == to {
		return nil, domain.ErrSelfTransfer
	}
	cents, err := domain.ToMinorUnits(amount)
	if err != nil {
		return nil, err
	}

	// Deterministic locking (deadlock prevention). Ids are immutable, so
	// reading them without the cell lock is safe.
	first, second := from, to
	if first.account.ID > second.account.ID {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if from.account.Balance < cents {
		return nil, &domain.InsufficientFundsError{
			Name:      from.account.Name,
			Balance:   from.account.Balance,
			Requested: cents,
		}
	}
	if to.account.Balance > math.MaxInt64-cents {
		return nil, &domain.AccountError{Name: to.account.Name, Side: domain.SideTo, Err: domain.ErrBalanceOverflow}
	}

	base := fmt.Sprintf("TXN%d", l.nextTxnSeq.Add(1))
	debitID, creditID := domain.TransferLegIDs(base)
	now := l.now()
	fromID, toID := from.account.ID, to.account.ID

	from.account.Balance -= cents
	to.account.Balance += cents
	from.account.UpdatedAt = now
	to.account.UpdatedAt = now

	from.log = append(from.log, domain.Transaction{
		TransactionID:         debitID,
		AccountID:             fromID,
		Type:                  domain.Debit,
		Amount:                cents,
		CounterpartyAccountID: &toID,
		CounterpartyName:      to.account.Name,
		Description:           DebitDescription(to.account.Name),
		CreatedAt:             now,
	})
	to.log = append(to.log, domain.Transaction{
		TransactionID:         creditID,
		AccountID:             toID,
		Type:                  domain.Credit,
		Amount:                cents,
		CounterpartyAccountID: &fromID,
		CounterpartyName:      from.account.Name,
		Description:           CreditDescription(from.account.Name),
		CreatedAt:             now,
	})

	return &domain.TransferResult{
		TransactionID: base,
		Amount:        cents,
		From:          from.account,
		To:            to.account,
	}, nil
}

// TransferIdempotent reserves idem.Key, runs Transfer and stores its result
// under the key. A rejected transfer releases the reservation.
func (l *MemoryLedger) TransferIdempotent(ctx context.Context, idem Idempotency, fromName, toName string, amount decimal.Decimal) (*domain.TransferResult, bool, error) {
	if err := validateIdempotency(idem); err != nil {
		return nil, false, err
	}

	l.idemMu.Lock()
	if rec, ok := l.idem[idem.Key]; ok {
		defer l.idemMu.Unlock()
		switch {
		case rec.hash != idem.RequestHash:
			return nil, false, domain.ErrIdempotencyMismatch
		case rec.result == nil:
			return nil, false, domain.ErrIdempotencyConflict
		}
		res := *rec.result
		return &res, true, nil
	}
	rec := &idempotencyRecord{hash: idem.RequestHash}
	l.idem[idem.Key] = rec
	l.idemMu.Unlock()

	res, err := l.Transfer(ctx, fromName, toName, amount)

	l.idemMu.Lock()
	defer l.idemMu.Unlock()
	if err != nil {
		delete(l.idem, idem.Key)
		return nil, false, err
	}
	stored := *res
	rec.result = &stored
	return res, false, nil
}

func (l *MemoryLedger) lookup(name string) (*accountCell, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cell, ok := l.byName[name]
	return cell, ok
}

// Ensure MemoryLedger implements Ledger.
var _ Ledger = (*MemoryLedger)(nil)
