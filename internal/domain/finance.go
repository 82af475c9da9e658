/**
 * @description
 * This file defines the financial domain models for the portal-service: simulated
 * bank accounts and the append-only transaction ledger attached to them.
 *
 * @notes
 * - Amounts are stored as `int64` in cents to avoid floating-point inaccuracies
 *   with financial data. API requests carry amounts as decimal strings and are
 *   parsed exactly once (see money.go).
 * - An account's balance is a cached projection of its transaction history; the
 *   two are only ever updated together inside one database transaction.
 */

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BankType is the closed set of simulated bank tags an account can carry.
type BankType string

const (
	BankNequi       BankType = "NEQUI"
	BankBancolombia BankType = "BANCOLOMBIA"
	BankDaviplata   BankType = "DAVIPLATA"
	BankNu          BankType = "NU"
	BankOther       BankType = "OTRO"
)

// BankTypes lists every valid bank tag, in display order.
var BankTypes = []BankType{BankNequi, BankBancolombia, BankDaviplata, BankNu, BankOther}

// ParseBankType validates a raw tag against the closed set.
func ParseBankType(raw string) (BankType, error) {
	for _, bt := range BankTypes {
		if string(bt) == raw {
			return bt, nil
		}
	}
	return "", fmt.Errorf("unknown bank type %q", raw)
}

// Account represents one simulated bank account owned by a single user.
type Account struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	BankType     BankType  `json:"bank_type"`
	Alias        string    `json:"alias"`
	BalanceCents int64     `json:"balance_cents"`
	CreatedAt    time.Time `json:"created_at"`
}

// TransactionKind classifies one ledger movement.
type TransactionKind string

const (
	TxDeposit             TransactionKind = "deposit"
	TxInternalTransferOut TransactionKind = "internal_transfer_out"
	TxInternalTransferIn  TransactionKind = "internal_transfer_in"
	TxExternalTransferOut TransactionKind = "external_transfer_out"
	TxExternalTransferIn  TransactionKind = "external_transfer_in"
)

// Transaction is one immutable ledger record on one account. Transfers always
// produce exactly two of these, with amounts summing to zero, inserted in the
// same database transaction.
type Transaction struct {
	ID                    uuid.UUID       `json:"id"`
	AccountID             uuid.UUID       `json:"account_id"`
	OccurredAt            time.Time       `json:"occurred_at"`
	Description           string          `json:"description"`
	AmountCents           int64           `json:"amount_cents"`
	Kind                  TransactionKind `json:"kind"`
	CounterpartyAccountID *uuid.UUID      `json:"counterparty_account_id,omitempty"`
	CounterpartyEmail     *string         `json:"counterparty_email,omitempty"`
}

// OpenAccountRequest is the DTO for staging an open-account operation.
// InitialBalance arrives as a decimal string and may be empty (treated as 0).
type OpenAccountRequest struct {
	BankType       string `json:"bank_type"`
	Alias          string `json:"alias"`
	InitialBalance string `json:"initial_balance"`
}

// InternalTransferRequest is the DTO for staging a transfer between two
// accounts of the same user.
type InternalTransferRequest struct {
	FromAccountID uuid.UUID `json:"from_account_id"`
	ToAccountID   uuid.UUID `json:"to_account_id"`
	Amount        string    `json:"amount"`
	Description   string    `json:"description"`
}

// ExternalTransferRequest is the DTO for staging a transfer to another user,
// identified by email.
type ExternalTransferRequest struct {
	FromAccountID  uuid.UUID `json:"from_account_id"`
	RecipientEmail string    `json:"recipient_email"`
	Amount         string    `json:"amount"`
	Description    string    `json:"description"`
}
