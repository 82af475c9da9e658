/**
 * @description
 * This file defines the pending-operation descriptor: the ephemeral,
 * session-scoped record of exactly one staged-but-unconfirmed sensitive
 * operation, together with the id of the OTP challenge that must be satisfied
 * to execute it.
 *
 * @notes
 * - Each operation kind carries its own typed payload, populated exactly once
 *   at staging time from validated input. Confirmation re-validates the typed
 *   values against current state; it never re-parses raw strings.
 * - Exactly one payload pointer is non-nil, matching Kind.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// OperationKind identifies which sensitive operation a descriptor stages.
type OperationKind string

const (
	OpOpenAccount      OperationKind = "open_account"
	OpTransferInternal OperationKind = "transfer_internal"
	OpTransferExternal OperationKind = "transfer_external"
)

// OpenAccountPayload holds the validated parameters of a staged open-account
// operation.
type OpenAccountPayload struct {
	BankType            BankType `json:"bank_type"`
	Alias               string   `json:"alias"`
	InitialBalanceCents int64    `json:"initial_balance_cents"`
}

// InternalTransferPayload holds the validated parameters of a staged transfer
// between two accounts of the same user.
type InternalTransferPayload struct {
	FromAccountID uuid.UUID `json:"from_account_id"`
	ToAccountID   uuid.UUID `json:"to_account_id"`
	AmountCents   int64     `json:"amount_cents"`
	Description   string    `json:"description"`
}

// ExternalTransferPayload holds the validated parameters of a staged transfer
// to another user.
type ExternalTransferPayload struct {
	FromAccountID  uuid.UUID `json:"from_account_id"`
	RecipientEmail string    `json:"recipient_email"`
	AmountCents    int64     `json:"amount_cents"`
	Description    string    `json:"description"`
}

// PendingOperation describes one not-yet-applied sensitive operation. The
// descriptor lives in the session store until it is confirmed, cancelled, or
// replaced by staging another operation. ChallengeID is immutable for the
// lifetime of the descriptor except through an explicit resend, which rebinds
// the descriptor to a freshly issued challenge.
type PendingOperation struct {
	Kind             OperationKind            `json:"kind"`
	OpenAccount      *OpenAccountPayload      `json:"open_account,omitempty"`
	InternalTransfer *InternalTransferPayload `json:"internal_transfer,omitempty"`
	ExternalTransfer *ExternalTransferPayload `json:"external_transfer,omitempty"`
	Title            string                   `json:"title"`
	Detail           string                   `json:"detail"`
	CreatedAt        time.Time                `json:"created_at"`
	ChallengeID      uuid.UUID                `json:"challenge_id"`
}

// OperationSummary is the DTO returned to the confirmation screen.
type OperationSummary struct {
	Kind      OperationKind `json:"kind"`
	Title     string        `json:"title"`
	Detail    string        `json:"detail"`
	CreatedAt time.Time     `json:"created_at"`
}

// Summary builds the read-only view of a pending operation.
func (p *PendingOperation) Summary() OperationSummary {
	return OperationSummary{
		Kind:      p.Kind,
		Title:     p.Title,
		Detail:    p.Detail,
		CreatedAt: p.CreatedAt,
	}
}
