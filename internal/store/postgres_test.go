package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/bankassist/internal/domain"
)

// openTestDB connects to TEST_DB_SOURCE and resets the schema. Tests using it
// are skipped when the variable is not set.
func openTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DB_SOURCE")
	if dsn == "" {
		t.Skip("TEST_DB_SOURCE not set; skipping Postgres integration test")
	}
	ctx := context.Background()
	db, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(db.Close)

	for _, stmt := range []string{
		"DROP TABLE IF EXISTS idempotency_keys, conversation_turns, transactions, accounts CASCADE",
		"DROP SEQUENCE IF EXISTS transfer_seq",
	} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			t.Fatalf("reset: %v", err)
		}
	}
	if err := Migrate(ctx, db); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestPostgresLedgerTransfer(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	l := NewPostgresLedger(db)

	for _, na := range []domain.NewAccount{
		{Name: "A", AccountNumber: "6222000000000001", AccountType: "储蓄账户", Balance: 1000000},
		{Name: "B", AccountNumber: "6222000000000002", AccountType: "储蓄账户", Balance: 50000},
	} {
		if _, err := l.CreateAccount(ctx, na); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := l.CreateAccount(ctx, domain.NewAccount{Name: "A", AccountNumber: "dup", AccountType: "x"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate: want ErrConflict, got %v", err)
	}

	res, err := l.Transfer(ctx, "A", "B", amt("200"))
	if err != nil {
		t.Fatal(err)
	}
	if res.TransactionID != "TXN1001" || res.From.Balance != 980000 || res.To.Balance != 70000 {
		t.Fatalf("unexpected result: %+v", res)
	}

	if _, err := l.Transfer(ctx, "A", "B", amt("1000000")); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	if _, err := l.Transfer(ctx, "A", "A", amt("1")); !errors.Is(err, domain.ErrSelfTransfer) {
		t.Fatalf("want ErrSelfTransfer, got %v", err)
	}
	if _, err := l.Transfer(ctx, "A", "Z", amt("1")); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("want ErrAccountNotFound, got %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = l.Transfer(ctx, "A", "B", amt("100")) }()
	go func() { defer wg.Done(); _, _ = l.Transfer(ctx, "B", "A", amt("50")) }()
	wg.Wait()

	a, _ := l.GetByName(ctx, "A")
	b, _ := l.GetByName(ctx, "B")
	if a.Balance+b.Balance != 1050000 {
		t.Fatalf("sum = %d, want 1050000", a.Balance+b.Balance)
	}

	h, err := l.GetHistory(ctx, a.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(h); i++ {
		if h[i].CreatedAt.After(h[i-1].CreatedAt) {
			t.Fatalf("history not newest first")
		}
	}
	if len(h) == 0 || h[len(h)-1].TransactionID != "TXN1001_FROM" || h[len(h)-1].CounterpartyName != "B" {
		t.Fatalf("oldest leg = %+v", h[len(h)-1])
	}
}

func TestPostgresConversations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c := NewPostgresConversations(db, 5)

	for i := 0; i < 8; i++ {
		if err := c.Append(ctx, "s1", domain.RoleUser, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	turns, err := c.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 5 || turns[0].Content != "m3" || turns[4].Content != "m7" {
		t.Fatalf("turns = %+v", turns)
	}

	if err := c.Clear(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if turns, _ := c.Get(ctx, "s1"); len(turns) != 0 {
		t.Fatalf("after clear = %d turns", len(turns))
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_ = c.Append(ctx, "dup", domain.RoleUser, "x")
			}
		}()
	}
	wg.Wait()
	if turns, _ := c.Get(ctx, "dup"); len(turns) != 5 {
		t.Fatalf("concurrent appends kept %d turns, want 5", len(turns))
	}
}

func TestPostgresLedgerGuards(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	l := NewPostgresLedger(db)

	for _, na := range []domain.NewAccount{
		{Name: "A", AccountNumber: "6222000000000001", AccountType: "储蓄账户", Balance: 1000000},
		{Name: "Max", AccountNumber: "6222000000000009", AccountType: "储蓄账户", Balance: math.MaxInt64},
	} {
		if _, err := l.CreateAccount(ctx, na); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := l.Transfer(ctx, "A", "Max", amt("0.01")); !errors.Is(err, domain.ErrBalanceOverflow) {
		t.Fatalf("want ErrBalanceOverflow, got %v", err)
	}
	if got, _ := l.GetByName(ctx, "Max"); got.Balance != math.MaxInt64 {
		t.Errorf("Max = %d, want MaxInt64", got.Balance)
	}

	long := domain.NewAccount{Name: strings.Repeat("张", MaxAccountNameLength+1), AccountNumber: "n1", AccountType: "t"}
	if _, err := l.CreateAccount(ctx, long); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("long name: want ErrInvalidArgument, got %v", err)
	}
}

func TestPostgresLedgerTransferIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	l := NewPostgresLedger(db)

	for _, na := range []domain.NewAccount{
		{Name: "A", AccountNumber: "6222000000000001", AccountType: "储蓄账户", Balance: 1000000},
		{Name: "B", AccountNumber: "6222000000000002", AccountType: "储蓄账户", Balance: 50000},
	} {
		if _, err := l.CreateAccount(ctx, na); err != nil {
			t.Fatal(err)
		}
	}
	idem := Idempotency{Key: "k-1", RequestHash: "h-1"}

	first, replayed, err := l.TransferIdempotent(ctx, idem, "A", "B", amt("200"))
	if err != nil || replayed {
		t.Fatalf("first = %v, replayed %v", err, replayed)
	}
	second, replayed, err := l.TransferIdempotent(ctx, idem, "A", "B", amt("200"))
	if err != nil || !replayed {
		t.Fatalf("second = %v, replayed %v; want replay", err, replayed)
	}
	if second.TransactionID != first.TransactionID || second.From.Balance != first.From.Balance {
		t.Errorf("replay = %+v, want %+v", second, first)
	}
	if a, _ := l.GetByName(ctx, "A"); a.Balance != 980000 {
		t.Errorf("A = %d, want a single debit (980000)", a.Balance)
	}

	if _, _, err := l.TransferIdempotent(ctx, Idempotency{Key: "k-1", RequestHash: "h-2"}, "A", "B", amt("200")); !errors.Is(err, domain.ErrIdempotencyMismatch) {
		t.Errorf("reused key: want ErrIdempotencyMismatch, got %v", err)
	}

	// A rejected transfer leaves no reservation behind.
	rejected := Idempotency{Key: "k-2", RequestHash: "h"}
	if _, _, err := l.TransferIdempotent(ctx, rejected, "B", "A", amt("1000")); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	var n int
	if err := db.QueryRow(ctx, "SELECT count(*) FROM idempotency_keys WHERE key = $1", rejected.Key).Scan(&n); err != nil || n != 0 {
		t.Errorf("rejected key rows = %d, %v; want 0", n, err)
	}
}
