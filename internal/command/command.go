// Package command extracts a single typed banking command from free-form
// generated text.
//
// The text-generation step is instructed to emit calls such as
//
//	CALL:get_balance(name="张三")
//	CALL:transfer_money(from_name="张三", to_name="李四", amount=200)
//
// anywhere inside its reply. Parse recognises a closed set of these calls and
// returns None for everything else.
package command

import (
	"github.com/shopspring/decimal"
)

// DefaultHistoryLimit is used when a history call omits its limit.
const DefaultHistoryLimit = 10

// Command is one of GetBalance, GetAccountInfo, Transfer, GetHistory,
// ListAccounts or None.
type Command interface {
	// Name is the call name as it appears after the marker.
	Name() string
	isCommand()
}

type GetBalance struct {
	AccountName string
}

type GetAccountInfo struct {
	AccountName string
}

type Transfer struct {
	FromName string
	ToName   string
	Amount   decimal.Decimal
}

type GetHistory struct {
	AccountName string
	Limit       int
}

type ListAccounts struct{}

// None means the text carried no recognisable command.
type None struct{}

func (GetBalance) Name() string     { return "get_balance" }
func (GetAccountInfo) Name() string { return "get_account_info" }
func (Transfer) Name() string       { return "transfer_money" }
func (GetHistory) Name() string     { return "get_transaction_history" }
func (ListAccounts) Name() string   { return "list_accounts" }
func (None) Name() string           { return "none" }

func (GetBalance) isCommand()     {}
func (GetAccountInfo) isCommand() {}
func (Transfer) isCommand()       {}
func (GetHistory) isCommand()     {}
func (ListAccounts) isCommand()   {}
func (None) isCommand()           {}
