package service

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/bankassist/internal/command"
	"github.com/punchamoorthee/bankassist/internal/domain"
	"github.com/punchamoorthee/bankassist/internal/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Result is the outcome of one dispatch. Text is always set and is what the
// user sees; Err keeps the underlying cause for logs and metrics.
type Result struct {
	Command string
	Text    string
	Err     error
}

// Dispatcher executes parsed commands against the ledger. It is the only
// place where ledger errors are turned into user-facing text.
type Dispatcher struct {
	ledger store.Ledger
	log    zerolog.Logger
}

func NewDispatcher(ledger store.Ledger, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{ledger: ledger, log: log}
}

// Dispatch runs cmd and renders its outcome. For command.None the raw reply
// is returned unchanged. Dispatch never panics: unexpected failures become
// MsgUnexpected.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd command.Command, raw string) (res Result) {
	if cmd == nil {
		cmd = command.None{}
	}
	res.Command = cmd.Name()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("command", res.Command).Msg("Dispatch panic recovered")
			commandsTotal.WithLabelValues(res.Command, outcomeError).Inc()
			res = Result{Command: res.Command, Text: MsgUnexpected, Err: fmt.Errorf("dispatch %s: panic: %v", res.Command, r)}
		}
	}()

	var text string
	var err error
	switch c := cmd.(type) {
	case command.None:
		return Result{Command: res.Command, Text: raw}
	case command.GetBalance:
		var acc *domain.Account
		if acc, err = d.ledger.GetByName(ctx, c.AccountName); err == nil {
			text = renderBalance(acc)
		}
	case command.GetAccountInfo:
		var acc *domain.Account
		if acc, err = d.ledger.GetByName(ctx, c.AccountName); err == nil {
			text = renderAccountInfo(acc)
		}
	case command.Transfer:
		var tr *domain.TransferResult
		if tr, err = d.Transfer(ctx, c.FromName, c.ToName, c.Amount); err == nil {
			text = renderTransfer(tr)
		}
	case command.GetHistory:
		text, err = d.history(ctx, c.AccountName, c.Limit)
	case command.ListAccounts:
		var accounts []domain.Account
		if accounts, err = d.ledger.ListAll(ctx); err == nil {
			text = renderAccounts(accounts)
		}
	default:
		return Result{Command: res.Command, Text: raw}
	}

	return d.finish(res.Command, text, err)
}

// Transfer runs a ledger transfer and records its result.
func (d *Dispatcher) Transfer(ctx context.Context, fromName, toName string, amount decimal.Decimal) (*domain.TransferResult, error) {
	tr, err := d.ledger.Transfer(ctx, fromName, toName, amount)
	transfersTotal.WithLabelValues(transferResult(err)).Inc()
	if err == nil {
		d.log.Info().
			Str("transaction_id", tr.TransactionID).
			Str("from", fromName).
			Str("to", toName).
			Int64("amount", tr.Amount).
			Msg("Transfer committed")
	}
	return tr, err
}

// TransferIdempotent is Transfer keyed by a client idempotency key. A replay
// returns the first result without touching balances.
func (d *Dispatcher) TransferIdempotent(ctx context.Context, idem store.Idempotency, fromName, toName string, amount decimal.Decimal) (*domain.TransferResult, bool, error) {
	tr, replayed, err := d.ledger.TransferIdempotent(ctx, idem, fromName, toName, amount)
	if replayed {
		transfersTotal.WithLabelValues("replayed").Inc()
		d.log.Info().Str("transaction_id", tr.TransactionID).Str("idempotency_key", idem.Key).Msg("Transfer replayed")
		return tr, true, nil
	}
	transfersTotal.WithLabelValues(transferResult(err)).Inc()
	if err == nil {
		d.log.Info().
			Str("transaction_id", tr.TransactionID).
			Str("idempotency_key", idem.Key).
			Str("from", fromName).
			Str("to", toName).
			Int64("amount", tr.Amount).
			Msg("Transfer committed")
	}
	return tr, false, err
}

func (d *Dispatcher) history(ctx context.Context, name string, limit int) (string, error) {
	acc, err := d.ledger.GetByName(ctx, name)
	if err != nil {
		return "", err
	}
	txns, err := d.ledger.GetHistory(ctx, acc.ID, limit)
	if err != nil {
		return "", err
	}
	return renderHistory(acc.Name, txns), nil
}

func (d *Dispatcher) finish(name, text string, err error) Result {
	if err == nil {
		commandsTotal.WithLabelValues(name, outcomeOK).Inc()
		d.log.Debug().Str("command", name).Msg("Command executed")
		return Result{Command: name, Text: text}
	}

	msg, rejected := failureText(err)
	if rejected {
		commandsTotal.WithLabelValues(name, outcomeRejected).Inc()
		d.log.Info().Err(err).Str("command", name).Msg("Command rejected")
	} else {
		commandsTotal.WithLabelValues(name, outcomeError).Inc()
		d.log.Error().Err(err).Str("command", name).Msg("Command failed")
	}
	return Result{Command: name, Text: msg, Err: err}
}
