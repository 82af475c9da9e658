/**
 * @description
 * This file defines the `Repository` interface: the contract for all data
 * access the portal-service needs. Keeping an interface here decouples the
 * business logic in internal/app from the PostgreSQL implementation and lets
 * tests run against an in-memory fake.
 *
 * The three ledger operations (OpenAccount, TransferInternal,
 * TransferExternal) are deliberately coarse: each one is a single atomic unit
 * that re-validates state under row locks, applies the balance mutations,
 * inserts the paired transaction records, and consumes the authorizing OTP
 * challenge in the same commit. A crash or concurrent reader can never observe
 * a half-applied transfer or a used-but-unapplied challenge.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/finportal/portal-service/internal/domain"
)

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrEmailTaken            = errors.New("email already registered")
	ErrAccountNotFound       = errors.New("account not found")
	ErrSameAccount           = errors.New("source and destination accounts are the same")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrRecipientNotFound     = errors.New("recipient not found")
	ErrRecipientHasNoAccount = errors.New("recipient has no account")
	ErrChallengeNotFound     = errors.New("otp challenge not found")
	ErrChallengeUsed         = errors.New("otp challenge already used")
	ErrInvalidBankType       = errors.New("invalid bank type")
	ErrInvalidAlias          = errors.New("account alias must not be empty")
)

// OpenAccountParams carries the validated inputs of an open-account operation.
// ChallengeID is nil only for the starter account seeded at registration,
// which is not OTP-guarded.
type OpenAccountParams struct {
	UserID              uuid.UUID
	BankType            domain.BankType
	Alias               string
	InitialBalanceCents int64
	DepositDescription  string
	ChallengeID         *uuid.UUID
}

// TransferInternalParams carries the validated inputs of a transfer between
// two accounts of the same user.
type TransferInternalParams struct {
	UserID        uuid.UUID
	FromAccountID uuid.UUID
	ToAccountID   uuid.UUID
	AmountCents   int64
	Description   string
	ChallengeID   uuid.UUID
}

// TransferExternalParams carries the validated inputs of a transfer to
// another user, identified by email.
type TransferExternalParams struct {
	UserID         uuid.UUID
	SenderEmail    string
	FromAccountID  uuid.UUID
	RecipientEmail string
	AmountCents    int64
	Description    string
	ChallengeID    uuid.UUID
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User methods
	CreateUser(ctx context.Context, user *domain.User) error
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	MarkEmailVerified(ctx context.Context, userID uuid.UUID) error

	// Account and ledger read methods
	FindAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error)
	FindAccountByIDForUser(ctx context.Context, accountID, userID uuid.UUID) (*domain.Account, error)
	FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error)

	// OTP challenge methods
	CreateOtpChallenge(ctx context.Context, challenge *domain.OtpChallenge) error
	FindOtpChallengeByID(ctx context.Context, challengeID uuid.UUID) (*domain.OtpChallenge, error)
	// ConsumeOtpChallenge flips used=false to used=true; it fails with
	// ErrChallengeUsed if the challenge was already consumed. Used by the
	// login MFA flow, where no ledger mutation accompanies the consumption.
	ConsumeOtpChallenge(ctx context.Context, challengeID uuid.UUID) error

	// Ledger operations, each a single atomic unit
	OpenAccount(ctx context.Context, params OpenAccountParams) (*domain.Account, error)
	TransferInternal(ctx context.Context, params TransferInternalParams) error
	TransferExternal(ctx context.Context, params TransferExternalParams) error
}
