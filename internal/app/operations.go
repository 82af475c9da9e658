/**
 * @description
 * This file implements the sensitive-operation confirmation workflow: staging
 * an operation (validate inputs, issue a one-time code, park a typed
 * descriptor in the session, email the code), and later confirming, cancelling
 * or re-sending it.
 *
 * Key invariants:
 * - At most one pending operation exists per session. Staging while one is
 *   already pending replaces it; the previous descriptor and its challenge are
 *   silently discarded. This is a deliberate decision and is covered by tests.
 * - Confirmation validates the code against the descriptor's bound challenge
 *   id only, then re-validates feasibility from current state: the balance
 *   check at staging time is informational, the one inside the ledger
 *   transaction is authoritative.
 * - The challenge is consumed inside the same database transaction that
 *   applies the ledger mutation, so a confirmed code can never be replayed,
 *   even across a crash between validation and apply.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/finportal/portal-service/internal/domain"
	"github.com/finportal/portal-service/internal/otp"
	"github.com/finportal/portal-service/internal/session"
	"github.com/finportal/portal-service/internal/store"
)

const (
	defaultInternalTransferDescription = "Internal transfer"
	defaultExternalTransferDescription = "Transfer to another user"
)

// ConfirmResult reports what a successful confirmation executed. Account is
// set only for open-account operations.
type ConfirmResult struct {
	Kind    domain.OperationKind `json:"kind"`
	Account *domain.Account      `json:"account,omitempty"`
}

// StageOpenAccount validates an open-account request and stages it for OTP
// confirmation. No account is created yet.
func (s *Service) StageOpenAccount(ctx context.Context, token string, req domain.OpenAccountRequest) (*domain.OperationSummary, error) {
	sess, err := s.authedSession(ctx, token)
	if err != nil {
		return nil, err
	}

	bankType, err := domain.ParseBankType(req.BankType)
	if err != nil {
		return nil, ErrInvalidBankType
	}
	alias := strings.TrimSpace(req.Alias)
	if alias == "" {
		return nil, ErrInvalidAlias
	}
	balanceCents, err := domain.ParseBalanceCents(req.InitialBalance)
	if err != nil {
		return nil, err
	}

	op := domain.PendingOperation{
		Kind: domain.OpOpenAccount,
		OpenAccount: &domain.OpenAccountPayload{
			BankType:            bankType,
			Alias:               alias,
			InitialBalanceCents: balanceCents,
		},
		Title: "Open bank account",
		Detail: fmt.Sprintf("Bank: %s / Alias: %s / Initial balance: $%s",
			bankType, alias, domain.FormatCents(balanceCents)),
	}
	return s.stage(ctx, token, sess, op)
}

// StageInternalTransfer validates a transfer between two of the user's own
// accounts and stages it for OTP confirmation. The balance feasibility check
// here is a point-in-time courtesy; the authoritative check runs again inside
// the ledger transaction at confirmation time.
func (s *Service) StageInternalTransfer(ctx context.Context, token string, req domain.InternalTransferRequest) (*domain.OperationSummary, error) {
	sess, err := s.authedSession(ctx, token)
	if err != nil {
		return nil, err
	}

	if req.FromAccountID == req.ToAccountID {
		return nil, store.ErrSameAccount
	}
	amountCents, err := domain.ParseAmountCents(req.Amount)
	if err != nil {
		return nil, err
	}

	from, err := s.repo.FindAccountByIDForUser(ctx, req.FromAccountID, sess.UserID)
	if err != nil {
		return nil, err
	}
	to, err := s.repo.FindAccountByIDForUser(ctx, req.ToAccountID, sess.UserID)
	if err != nil {
		return nil, err
	}
	if from.BalanceCents < amountCents {
		return nil, store.ErrInsufficientFunds
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = defaultInternalTransferDescription
	}

	op := domain.PendingOperation{
		Kind: domain.OpTransferInternal,
		InternalTransfer: &domain.InternalTransferPayload{
			FromAccountID: from.ID,
			ToAccountID:   to.ID,
			AmountCents:   amountCents,
			Description:   description,
		},
		Title: "Internal transfer",
		Detail: fmt.Sprintf("From: %s (%s) / To: %s (%s) / Amount: $%s",
			from.Alias, from.BankType, to.Alias, to.BankType, domain.FormatCents(amountCents)),
	}
	return s.stage(ctx, token, sess, op)
}

// StageExternalTransfer validates a transfer to another user, resolved by
// email, and stages it for OTP confirmation.
func (s *Service) StageExternalTransfer(ctx context.Context, token string, req domain.ExternalTransferRequest) (*domain.OperationSummary, error) {
	sess, err := s.authedSession(ctx, token)
	if err != nil {
		return nil, err
	}

	recipientEmail := normalizeEmail(req.RecipientEmail)
	if recipientEmail == "" {
		return nil, store.ErrRecipientNotFound
	}
	amountCents, err := domain.ParseAmountCents(req.Amount)
	if err != nil {
		return nil, err
	}

	from, err := s.repo.FindAccountByIDForUser(ctx, req.FromAccountID, sess.UserID)
	if err != nil {
		return nil, err
	}
	if from.BalanceCents < amountCents {
		return nil, store.ErrInsufficientFunds
	}

	recipient, err := s.repo.FindUserByEmail(ctx, recipientEmail)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, store.ErrRecipientNotFound
		}
		return nil, err
	}
	recipientAccounts, err := s.repo.FindAccountsByUserID(ctx, recipient.ID)
	if err != nil {
		return nil, err
	}
	if len(recipientAccounts) == 0 {
		return nil, store.ErrRecipientHasNoAccount
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = defaultExternalTransferDescription
	}

	op := domain.PendingOperation{
		Kind: domain.OpTransferExternal,
		ExternalTransfer: &domain.ExternalTransferPayload{
			FromAccountID:  from.ID,
			RecipientEmail: recipient.Email,
			AmountCents:    amountCents,
			Description:    description,
		},
		Title: "Transfer to another user",
		Detail: fmt.Sprintf("From: %s (%s) / To: %s / Amount: $%s",
			from.Alias, from.BankType, recipient.Email, domain.FormatCents(amountCents)),
	}
	return s.stage(ctx, token, sess, op)
}

// stage issues the challenge, binds the descriptor to it, writes the
// descriptor into the session (replacing any previous one), and sends the
// code. The previous challenge, if any, is left orphaned and can never
// satisfy a descriptor again.
func (s *Service) stage(ctx context.Context, token string, sess *session.State, op domain.PendingOperation) (*domain.OperationSummary, error) {
	user, err := s.repo.FindUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}

	challenge, err := s.otp.Issue(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	op.ChallengeID = challenge.ID
	op.CreatedAt = s.now()

	sess.PendingOp = &op
	if err := s.sessions.Set(ctx, token, *sess); err != nil {
		return nil, err
	}

	s.notifier.SendOperationCode(ctx, user.Email, challenge.Code, op.Title, op.Detail)

	summary := op.Summary()
	return &summary, nil
}

// PendingOperation returns the summary of the session's staged operation.
func (s *Service) PendingOperation(ctx context.Context, token string) (*domain.OperationSummary, error) {
	sess, err := s.authedSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.PendingOp == nil {
		return nil, ErrNoPendingOperation
	}
	summary := sess.PendingOp.Summary()
	return &summary, nil
}

// ConfirmOperation validates the submitted code against the pending
// operation's bound challenge and, on success, applies the operation
// atomically. The descriptor is cleared exactly once before returning in every
// outcome except a wrong code, where retrying with a corrected code is
// meaningful.
func (s *Service) ConfirmOperation(ctx context.Context, token, code string) (*ConfirmResult, error) {
	sess, err := s.authedSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.PendingOp == nil {
		return nil, ErrNoPendingOperation
	}
	op := sess.PendingOp

	result, err := s.otp.Validate(ctx, op.ChallengeID, sess.UserID, code, s.opts.OtpMaxAge)
	if err != nil {
		return nil, err
	}
	switch result {
	case otp.ResultInvalid:
		// Descriptor retained: the user may retry with a corrected code.
		return nil, ErrCodeInvalid
	case otp.ResultExpired:
		s.clearPending(ctx, token, sess)
		return nil, ErrCodeExpired
	case otp.ResultAlreadyUsed:
		s.clearPending(ctx, token, sess)
		return nil, ErrCodeAlreadyUsed
	}

	confirmResult, execErr := s.execute(ctx, sess, op)

	// Whatever the outcome, this descriptor is spent: either the operation
	// applied (and its challenge was consumed in the same commit), or
	// re-validation against current state rejected it for good.
	s.clearPending(ctx, token, sess)

	if execErr != nil {
		if errors.Is(execErr, store.ErrChallengeUsed) {
			return nil, ErrCodeAlreadyUsed
		}
		return nil, execErr
	}
	return confirmResult, nil
}

// execute dispatches a validated descriptor to the ledger engine. Each branch
// runs as one atomic unit that re-validates feasibility and consumes the
// bound challenge.
func (s *Service) execute(ctx context.Context, sess *session.State, op *domain.PendingOperation) (*ConfirmResult, error) {
	switch op.Kind {
	case domain.OpOpenAccount:
		payload := op.OpenAccount
		challengeID := op.ChallengeID
		account, err := s.repo.OpenAccount(ctx, store.OpenAccountParams{
			UserID:              sess.UserID,
			BankType:            payload.BankType,
			Alias:               payload.Alias,
			InitialBalanceCents: payload.InitialBalanceCents,
			DepositDescription:  starterDepositComment,
			ChallengeID:         &challengeID,
		})
		if err != nil {
			return nil, err
		}
		return &ConfirmResult{Kind: op.Kind, Account: account}, nil

	case domain.OpTransferInternal:
		payload := op.InternalTransfer
		err := s.repo.TransferInternal(ctx, store.TransferInternalParams{
			UserID:        sess.UserID,
			FromAccountID: payload.FromAccountID,
			ToAccountID:   payload.ToAccountID,
			AmountCents:   payload.AmountCents,
			Description:   payload.Description,
			ChallengeID:   op.ChallengeID,
		})
		if err != nil {
			return nil, err
		}
		return &ConfirmResult{Kind: op.Kind}, nil

	case domain.OpTransferExternal:
		payload := op.ExternalTransfer
		user, err := s.repo.FindUserByID(ctx, sess.UserID)
		if err != nil {
			return nil, err
		}
		err = s.repo.TransferExternal(ctx, store.TransferExternalParams{
			UserID:         sess.UserID,
			SenderEmail:    user.Email,
			FromAccountID:  payload.FromAccountID,
			RecipientEmail: payload.RecipientEmail,
			AmountCents:    payload.AmountCents,
			Description:    payload.Description,
			ChallengeID:    op.ChallengeID,
		})
		if err != nil {
			return nil, err
		}
		return &ConfirmResult{Kind: op.Kind}, nil
	}
	return nil, fmt.Errorf("unknown pending operation kind %q", op.Kind)
}

// CancelOperation drops the pending descriptor. The bound challenge is not
// consumed; it simply expires on its own and can never execute anything.
func (s *Service) CancelOperation(ctx context.Context, token string) error {
	sess, err := s.authedSession(ctx, token)
	if err != nil {
		return err
	}
	s.clearPending(ctx, token, sess)
	return nil
}

// ResendOperationCode issues a fresh challenge for the pending operation,
// rebinds the descriptor to it, and re-sends the email. The previous code can
// no longer confirm this operation.
func (s *Service) ResendOperationCode(ctx context.Context, token string) (*domain.OperationSummary, error) {
	sess, err := s.authedSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.PendingOp == nil {
		return nil, ErrNoPendingOperation
	}

	user, err := s.repo.FindUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	challenge, err := s.otp.Issue(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}

	// Rebind on a copy so the stored descriptor only changes once the
	// session write succeeds.
	rebound := *sess.PendingOp
	rebound.ChallengeID = challenge.ID
	next := *sess
	next.PendingOp = &rebound
	if err := s.sessions.Set(ctx, token, next); err != nil {
		return nil, err
	}
	sess.PendingOp = &rebound

	s.notifier.SendOperationCode(ctx, user.Email, challenge.Code, rebound.Title, rebound.Detail)

	summary := rebound.Summary()
	return &summary, nil
}

// clearPending removes the descriptor from the session. A failed session
// write here is logged, not surfaced: the ledger outcome already happened and
// must be reported truthfully to the caller.
func (s *Service) clearPending(ctx context.Context, token string, sess *session.State) {
	sess.PendingOp = nil
	if err := s.sessions.Set(ctx, token, *sess); err != nil {
		log.Printf("level=error component=app msg=\"failed to clear pending operation\" err=%v", err)
	}
}
