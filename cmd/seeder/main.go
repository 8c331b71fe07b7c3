package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/bankassist/internal/config"
	"github.com/punchamoorthee/bankassist/internal/domain"
	"github.com/punchamoorthee/bankassist/internal/logger"
	"github.com/punchamoorthee/bankassist/internal/store"
	"github.com/shopspring/decimal"
)

func main() {
	var (
		configPath   = flag.String("config", "", "optional config file")
		benchCount   = flag.Int("accounts", 0, "number of generated benchmark accounts to add")
		benchBalance = flag.String("balance", "100.00", "opening balance of each benchmark account, in yuan")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New("", "info")
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.New(cfg.Env, cfg.LogLevel)
	if !cfg.UsePostgres() {
		log.Fatal().Msg("DB_SOURCE must be set to seed a database")
	}

	opening, err := domain.ToMinorUnits(decimal.RequireFromString(*benchBalance))
	if err != nil {
		log.Fatal().Err(err).Str("balance", *benchBalance).Msg("Invalid opening balance")
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, cfg.DBSource)
	if err != nil {
		log.Fatal().Err(err).Msg("Unable to connect to database")
	}
	defer conn.Close(ctx)

	log.Info().Msg("--- Seeding Database ---")
	if err := store.Migrate(ctx, conn); err != nil {
		log.Fatal().Err(err).Msg("Schema migration failed")
	}

	var count int
	if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM accounts").Scan(&count); err != nil {
		log.Fatal().Err(err).Msg("Count accounts failed")
	}
	if count > 0 {
		log.Info().Int("accounts", count).Msg("Database already has accounts. Skipping.")
		return
	}

	accounts := store.DefaultAccounts()
	for i := 1; i <= *benchCount; i++ {
		accounts = append(accounts, domain.NewAccount{
			Name:          fmt.Sprintf("bench%05d", i),
			AccountNumber: fmt.Sprintf("62229%011d", i),
			AccountType:   "储蓄账户",
			Balance:       opening,
			CreditLimit:   opening,
		})
	}

	// Bulk Insert using CopyFrom
	now := time.Now()
	rows := make([][]any, 0, len(accounts))
	for _, a := range accounts {
		rows = append(rows, []any{a.Name, a.AccountNumber, a.AccountType, a.Balance, a.CreditLimit, now, now})
	}
	copyCount, err := conn.CopyFrom(
		ctx,
		pgx.Identifier{"accounts"},
		[]string{"name", "account_number", "account_type", "balance", "credit_limit", "created_at", "updated_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Bulk insert failed")
	}

	log.Info().Int64("accounts", copyCount).Int("benchmark_accounts", *benchCount).Msg("Seeding complete")
}
