package domain

import (
	"time"
)

// Account is a customer account in the ledger. Balance and CreditLimit are
// stored in minor units (fen).
type Account struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	AccountNumber string    `json:"account_number"`
	AccountType   string    `json:"account_type"`
	Balance       int64     `json:"balance"`
	CreditLimit   int64     `json:"credit_limit"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AvailableLimit is the display-only figure CreditLimit - Balance. It can be negative.
func (a Account) AvailableLimit() int64 {
	return a.CreditLimit - a.Balance
}

// NewAccount is the payload for the administrative account creation path.
type NewAccount struct {
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	AccountType   string `json:"account_type"`
	Balance       int64  `json:"balance"`
	CreditLimit   int64  `json:"credit_limit"`
}

// TransactionType tags one leg of a transfer.
type TransactionType string

const (
	Debit  TransactionType = "转出"
	Credit TransactionType = "转入"
)

// Transaction is one leg of a transfer. Rows are append-only.
type Transaction struct {
	TransactionID         string          `json:"transaction_id"`
	AccountID             int64           `json:"account_id"`
	Type                  TransactionType `json:"type"`
	Amount                int64           `json:"amount"`
	CounterpartyAccountID *int64          `json:"counterparty_account_id,omitempty"`
	CounterpartyName      string          `json:"counterparty_name,omitempty"`
	Description           string          `json:"description"`
	CreatedAt             time.Time       `json:"created_at"`
}

// TransferResult is the committed outcome of a transfer, with both accounts
// as they were right after the commit.
type TransferResult struct {
	TransactionID string  `json:"transaction_id"`
	Amount        int64   `json:"amount"`
	From          Account `json:"from"`
	To            Account `json:"to"`
}

// Role tags the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one message in a session's conversation history.
type Turn struct {
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TransferLegIDs derives the two leg identifiers from a transfer's base id.
func TransferLegIDs(base string) (debit, credit string) {
	return base + "_FROM", base + "_TO"
}
