package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/bankassist/internal/domain"
	"github.com/shopspring/decimal"
)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newTestLedger returns a ledger with A (10000.00) and B (500.00) and a clock
// that advances one second per call.
func newTestLedger(t *testing.T) *MemoryLedger {
	t.Helper()
	l := NewMemoryLedger()
	var mu sync.Mutex
	clock := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	ctx := context.Background()
	for _, na := range []domain.NewAccount{
		{Name: "A", AccountNumber: "6222000000000001", AccountType: "储蓄账户", Balance: 1000000, CreditLimit: 5000000},
		{Name: "B", AccountNumber: "6222000000000002", AccountType: "储蓄账户", Balance: 50000, CreditLimit: 2000000},
	} {
		if _, err := l.CreateAccount(ctx, na); err != nil {
			t.Fatalf("CreateAccount(%s): %v", na.Name, err)
		}
	}
	return l
}

func mustGet(t *testing.T, l Ledger, name string) *domain.Account {
	t.Helper()
	a, err := l.GetByName(context.Background(), name)
	if err != nil {
		t.Fatalf("GetByName(%s): %v", name, err)
	}
	return a
}

func totalBalance(t *testing.T, l Ledger) int64 {
	t.Helper()
	accounts, err := l.ListAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var sum int64
	for _, a := range accounts {
		sum += a.Balance
	}
	return sum
}

func TestTransferSuccess(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	res, err := l.Transfer(ctx, "A", "B", amt("200"))
	if err != nil {
		t.Fatal(err)
	}
	if res.TransactionID != "TXN1001" {
		t.Errorf("transaction id = %s, want TXN1001", res.TransactionID)
	}
	if res.From.Balance != 980000 || res.To.Balance != 70000 {
		t.Errorf("result balances = %d/%d, want 980000/70000", res.From.Balance, res.To.Balance)
	}
	if got := mustGet(t, l, "A").Balance; got != 980000 {
		t.Errorf("A = %d, want 980000", got)
	}
	if got := mustGet(t, l, "B").Balance; got != 70000 {
		t.Errorf("B = %d, want 70000", got)
	}

	a, b := mustGet(t, l, "A"), mustGet(t, l, "B")
	debits, _ := l.GetHistory(ctx, a.ID, 10)
	credits, _ := l.GetHistory(ctx, b.ID, 10)
	if len(debits) != 1 || len(credits) != 1 {
		t.Fatalf("legs = %d/%d, want 1/1", len(debits), len(credits))
	}
	d, c := debits[0], credits[0]
	if d.Type != domain.Debit || c.Type != domain.Credit {
		t.Errorf("types = %s/%s", d.Type, c.Type)
	}
	if d.Amount != 20000 || c.Amount != 20000 {
		t.Errorf("amounts = %d/%d, want 20000", d.Amount, c.Amount)
	}
	if *d.CounterpartyAccountID != b.ID || *c.CounterpartyAccountID != a.ID {
		t.Errorf("counterparties are not reciprocal: %d/%d", *d.CounterpartyAccountID, *c.CounterpartyAccountID)
	}
	if d.TransactionID != "TXN1001_FROM" || c.TransactionID != "TXN1001_TO" {
		t.Errorf("leg ids = %s/%s", d.TransactionID, c.TransactionID)
	}
	if d.Description != "转账给B" || c.Description != "收到A转账" {
		t.Errorf("descriptions = %q/%q", d.Description, c.Description)
	}
}

// snapshot captures balances and logs for byte-for-byte comparison.
func snapshot(t *testing.T, l *MemoryLedger) ([]domain.Account, [][]domain.Transaction) {
	t.Helper()
	ctx := context.Background()
	accounts, _ := l.ListAll(ctx)
	var logs [][]domain.Transaction
	for _, a := range accounts {
		h, err := l.GetHistory(ctx, a.ID, 1000)
		if err != nil {
			t.Fatal(err)
		}
		logs = append(logs, h)
	}
	return accounts, logs
}

func TestTransferRejectionsLeaveStateUnchanged(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	if _, err := l.Transfer(ctx, "A", "B", amt("200")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		from, to string
		amount   string
		wantErr  error
		wantSide domain.Side
	}{
		{name: "insufficient funds", from: "A", to: "B", amount: "1000000", wantErr: domain.ErrInsufficientFunds},
		{name: "unknown from", from: "Z", to: "B", amount: "1", wantErr: domain.ErrAccountNotFound, wantSide: domain.SideFrom},
		{name: "unknown to", from: "A", to: "Z", amount: "1", wantErr: domain.ErrAccountNotFound, wantSide: domain.SideTo},
		{name: "both unknown reports from first", from: "Y", to: "Z", amount: "1", wantErr: domain.ErrAccountNotFound, wantSide: domain.SideFrom},
		{name: "self transfer", from: "A", to: "A", amount: "1", wantErr: domain.ErrSelfTransfer},
		{name: "self transfer before amount check", from: "A", to: "A", amount: "-1", wantErr: domain.ErrSelfTransfer},
		{name: "zero amount", from: "A", to: "B", amount: "0", wantErr: domain.ErrInvalidAmount},
		{name: "negative amount", from: "A", to: "B", amount: "-5", wantErr: domain.ErrInvalidAmount},
		{name: "sub fen amount", from: "A", to: "B", amount: "0.001", wantErr: domain.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			beforeAccounts, beforeLogs := snapshot(t, l)

			_, err := l.Transfer(ctx, tt.from, tt.to, amt(tt.amount))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("want %v, got %v", tt.wantErr, err)
			}
			if tt.wantSide != domain.SideNone {
				var ae *domain.AccountError
				if !errors.As(err, &ae) || ae.Side != tt.wantSide {
					t.Fatalf("want side %q, got %v", tt.wantSide, err)
				}
			}

			afterAccounts, afterLogs := snapshot(t, l)
			if !reflect.DeepEqual(beforeAccounts, afterAccounts) {
				t.Errorf("accounts changed:\nbefore %+v\nafter  %+v", beforeAccounts, afterAccounts)
			}
			if !reflect.DeepEqual(beforeLogs, afterLogs) {
				t.Errorf("transaction logs changed")
			}
		})
	}
}

func TestInsufficientFundsCarriesFigures(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Transfer(context.Background(), "B", "A", amt("600"))
	var ife *domain.InsufficientFundsError
	if !errors.As(err, &ife) {
		t.Fatalf("want InsufficientFundsError, got %v", err)
	}
	if ife.Balance != 50000 || ife.Requested != 60000 || ife.Name != "B" {
		t.Errorf("unexpected figures: %+v", ife)
	}
}

func TestOppositeConcurrentTransfersBothCommit(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := l.Transfer(ctx, "A", "B", amt("100"))
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := l.Transfer(ctx, "B", "A", amt("50"))
		errs <- err
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	a, b := mustGet(t, l, "A"), mustGet(t, l, "B")
	if a.Balance != 995000 || b.Balance != 55000 {
		t.Errorf("balances = %d/%d, want 995000/55000", a.Balance, b.Balance)
	}
	ha, _ := l.GetHistory(ctx, a.ID, 10)
	hb, _ := l.GetHistory(ctx, b.ID, 10)
	if len(ha)+len(hb) != 4 {
		t.Errorf("legs = %d, want 4", len(ha)+len(hb))
	}
}

func TestConcurrentTransfersConserveMoney(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	for i, name := range []string{"C", "D"} {
		_, err := l.CreateAccount(ctx, domain.NewAccount{
			Name: name, AccountNumber: fmt.Sprintf("62229999%08d", i), AccountType: "储蓄账户", Balance: 30000,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	names := []string{"A", "B", "C", "D"}
	before := totalBalance(t, l)

	const workers, perWorker = 8, 200
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < perWorker; i++ {
				from, to := names[r.Intn(len(names))], names[r.Intn(len(names))]
				_, err := l.Transfer(ctx, from, to, decimal.New(int64(r.Intn(50000)+1), -2))
				if err != nil &&
					!errors.Is(err, domain.ErrInsufficientFunds) &&
					!errors.Is(err, domain.ErrSelfTransfer) {
					t.Errorf("%s->%s: %v", from, to, err)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	if after := totalBalance(t, l); after != before {
		t.Fatalf("sum of balances changed: before %d after %d", before, after)
	}
	accounts, _ := l.ListAll(ctx)
	for _, a := range accounts {
		if a.Balance < 0 {
			t.Errorf("%s went negative: %d", a.Name, a.Balance)
		}
	}
}

func TestConcurrentTransferIDsAreUnique(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	const n = 200
	ids := make(chan string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			from, to := "A", "B"
			if i%2 == 1 {
				from, to = "B", "A"
			}
			res, err := l.Transfer(ctx, from, to, amt("1"))
			if err != nil {
				t.Errorf("transfer %d: %v", i, err)
				return
			}
			ids <- res.TransactionID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate transaction id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d ids, want %d", len(seen), n)
	}

	legs := make(map[string]bool)
	for _, name := range []string{"A", "B"} {
		h, _ := l.GetHistory(ctx, mustGet(t, l, name).ID, 10*n)
		for _, txn := range h {
			if legs[txn.TransactionID] {
				t.Fatalf("duplicate leg id %s", txn.TransactionID)
			}
			legs[txn.TransactionID] = true
		}
	}
	if len(legs) != 2*n {
		t.Fatalf("got %d legs, want %d", len(legs), 2*n)
	}
}

func TestGetHistoryOrderingAndLimit(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		if _, err := l.Transfer(ctx, "A", "B", decimal.New(int64(i+1), 0)); err != nil {
			t.Fatal(err)
		}
	}
	a := mustGet(t, l, "A")

	h, err := l.GetHistory(ctx, a.ID, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != 5 {
		t.Fatalf("len = %d, want 5", len(h))
	}
	if h[0].Amount != 1500 {
		t.Errorf("newest amount = %d, want 1500", h[0].Amount)
	}
	for i := 1; i < len(h); i++ {
		if h[i].CreatedAt.After(h[i-1].CreatedAt) {
			t.Errorf("history not newest first at %d", i)
		}
	}

	if h, _ := l.GetHistory(ctx, a.ID, 0); len(h) != DefaultHistoryLimit {
		t.Errorf("default limit len = %d, want %d", len(h), DefaultHistoryLimit)
	}

	c, err := l.CreateAccount(ctx, domain.NewAccount{Name: "C", AccountNumber: "6222000000000003", AccountType: "储蓄账户"})
	if err != nil {
		t.Fatal(err)
	}
	empty, err := l.GetHistory(ctx, c.ID, 10)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty history = %v, %v", empty, err)
	}

	if _, err := l.GetHistory(ctx, 9999, 10); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("unknown id: want ErrAccountNotFound, got %v", err)
	}
}

func TestCreateAccountAndList(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.CreateAccount(ctx, domain.NewAccount{Name: "A", AccountNumber: "x1", AccountType: "储蓄账户"}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate name: want ErrConflict, got %v", err)
	}
	if _, err := l.CreateAccount(ctx, domain.NewAccount{Name: "Q", AccountNumber: "6222000000000001", AccountType: "储蓄账户"}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate number: want ErrConflict, got %v", err)
	}
	if _, err := l.CreateAccount(ctx, domain.NewAccount{Name: "N", AccountNumber: "x2", Balance: -1}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("negative balance: want ErrInvalidArgument, got %v", err)
	}

	all, err := l.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Name != "A" || all[1].Name != "B" {
		t.Fatalf("ListAll = %+v, want A then B", all)
	}
	if _, err := l.GetByName(ctx, "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	n, err := Bootstrap(ctx, l, DefaultAccounts())
	if err != nil || n != 3 {
		t.Fatalf("first bootstrap = %d, %v", n, err)
	}
	n, err = Bootstrap(ctx, l, DefaultAccounts())
	if err != nil || n != 0 {
		t.Fatalf("second bootstrap = %d, %v; want 0, nil", n, err)
	}
	if got := mustGet(t, l, "张三").Balance; got != 1000000 {
		t.Errorf("张三 = %d, want 1000000", got)
	}
}

func TestTransferRejectsPayeeOverflow(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	if _, err := l.CreateAccount(ctx, domain.NewAccount{Name: "Max", AccountNumber: "6222000000000009", AccountType: "储蓄账户", Balance: math.MaxInt64}); err != nil {
		t.Fatal(err)
	}
	beforeAccounts, beforeLogs := snapshot(t, l)

	_, err := l.Transfer(ctx, "A", "Max", amt("0.01"))
	if !errors.Is(err, domain.ErrBalanceOverflow) || !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("want ErrBalanceOverflow, got %v", err)
	}
	var ae *domain.AccountError
	if !errors.As(err, &ae) || ae.Side != domain.SideTo || ae.Name != "Max" {
		t.Errorf("want payee side error, got %v", err)
	}

	afterAccounts, afterLogs := snapshot(t, l)
	if !reflect.DeepEqual(beforeAccounts, afterAccounts) || !reflect.DeepEqual(beforeLogs, afterLogs) {
		t.Error("rejected transfer changed the ledger")
	}
	if got := mustGet(t, l, "Max").Balance; got != math.MaxInt64 {
		t.Errorf("Max = %d, want MaxInt64", got)
	}

	// Paying out of the full account still works.
	if _, err := l.Transfer(ctx, "Max", "A", amt("0.01")); err != nil {
		t.Fatalf("debit from full account: %v", err)
	}
}

func TestTransferIdempotent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	idem := Idempotency{Key: "k-1", RequestHash: "h-1"}

	first, replayed, err := l.TransferIdempotent(ctx, idem, "A", "B", amt("200"))
	if err != nil || replayed {
		t.Fatalf("first = %v, replayed %v", err, replayed)
	}
	second, replayed, err := l.TransferIdempotent(ctx, idem, "A", "B", amt("200"))
	if err != nil || !replayed {
		t.Fatalf("second = %v, replayed %v; want replay", err, replayed)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("replay differs:\nfirst  %+v\nsecond %+v", first, second)
	}
	if got := mustGet(t, l, "A").Balance; got != 980000 {
		t.Errorf("A = %d, want a single debit (980000)", got)
	}

	if _, _, err := l.TransferIdempotent(ctx, Idempotency{Key: "k-1", RequestHash: "h-2"}, "A", "B", amt("300")); !errors.Is(err, domain.ErrIdempotencyMismatch) {
		t.Errorf("reused key: want ErrIdempotencyMismatch, got %v", err)
	}
}

func TestTransferIdempotentReleasesKeyOnRejection(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	idem := Idempotency{Key: "k-2", RequestHash: "h"}

	if _, _, err := l.TransferIdempotent(ctx, idem, "B", "A", amt("600")); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	if _, err := l.Transfer(ctx, "A", "B", amt("200")); err != nil {
		t.Fatal(err)
	}
	res, replayed, err := l.TransferIdempotent(ctx, idem, "B", "A", amt("600"))
	if err != nil || replayed {
		t.Fatalf("retry after top-up = %v, replayed %v", err, replayed)
	}
	if res.From.Balance != 10000 {
		t.Errorf("B = %d, want 10000", res.From.Balance)
	}
}

func TestTransferIdempotentInProgress(t *testing.T) {
	l := newTestLedger(t)
	idem := Idempotency{Key: "k-3", RequestHash: "h"}
	l.idem[idem.Key] = &idempotencyRecord{hash: idem.RequestHash}

	if _, _, err := l.TransferIdempotent(context.Background(), idem, "A", "B", amt("1")); !errors.Is(err, domain.ErrIdempotencyConflict) || !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("want ErrIdempotencyConflict, got %v", err)
	}
	if got := mustGet(t, l, "A").Balance; got != 1000000 {
		t.Errorf("A = %d, want unchanged", got)
	}
}

func TestConcurrentIdempotentTransfersApplyOnce(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	idem := Idempotency{Key: "k-4", RequestHash: "h"}

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, replayed, err := l.TransferIdempotent(ctx, idem, "A", "B", amt("1"))
			if err != nil && !errors.Is(err, domain.ErrIdempotencyConflict) {
				t.Errorf("unexpected error: %v", err)
			}
			if err == nil && !replayed {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if fresh != 1 {
		t.Errorf("transfer applied %d times, want 1", fresh)
	}
	if got := mustGet(t, l, "A").Balance; got != 999900 {
		t.Errorf("A = %d, want 999900", got)
	}
}

func TestInputLengthLimits(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	long := func(n int) string { return strings.Repeat("张", n) }

	for _, tt := range []struct {
		name string
		na   domain.NewAccount
		ok   bool
	}{
		{"name at limit", domain.NewAccount{Name: long(MaxAccountNameLength), AccountNumber: "n1", AccountType: "t"}, true},
		{"name too long", domain.NewAccount{Name: long(MaxAccountNameLength + 1), AccountNumber: "n2", AccountType: "t"}, false},
		{"number too long", domain.NewAccount{Name: "N3", AccountNumber: strings.Repeat("1", MaxAccountNumberLength+1), AccountType: "t"}, false},
		{"type too long", domain.NewAccount{Name: "N4", AccountNumber: "n4", AccountType: long(MaxAccountTypeLength + 1)}, false},
	} {
		_, err := l.CreateAccount(ctx, tt.na)
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("%s: want ErrInvalidArgument, got %v", tt.name, err)
		}
	}

	if err := ValidateSessionID(strings.Repeat("s", MaxSessionIDLength)); err != nil {
		t.Errorf("session id at limit: %v", err)
	}
	for _, id := range []string{"", strings.Repeat("s", MaxSessionIDLength+1)} {
		if err := ValidateSessionID(id); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("session id of %d chars: want ErrInvalidArgument, got %v", len(id), err)
		}
	}

	badKeys := []Idempotency{
		{Key: "", RequestHash: "h"},
		{Key: strings.Repeat("k", MaxIdempotencyKeyLength+1), RequestHash: "h"},
	}
	for _, idem := range badKeys {
		if _, _, err := l.TransferIdempotent(ctx, idem, "A", "B", amt("1")); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("key of %d chars: want ErrInvalidArgument, got %v", len(idem.Key), err)
		}
	}
}
