/**
 * @description
 * This package models the per-browser session state the core depends on: who
 * is authenticated, whether the login MFA step is still outstanding, and the
 * descriptor of the single pending sensitive operation, if any. The core only
 * sees the Store interface (get/set/clear by opaque token); transport security
 * of the token is the caller's concern.
 */

package session

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/finportal/portal-service/internal/domain"
)

// Status is the explicit authentication state of a session.
type Status string

const (
	// StatusLoginPending means the password check passed but the login OTP
	// has not been verified yet.
	StatusLoginPending Status = "login_pending"
	// StatusAuthenticated means the session has completed MFA.
	StatusAuthenticated Status = "authenticated"
)

// ErrNotFound is returned when no session exists for a token.
var ErrNotFound = errors.New("session not found")

// State is the full session value. PendingOp is nil when no sensitive
// operation is staged; at most one descriptor exists per session.
type State struct {
	Status           Status                   `json:"status"`
	UserID           uuid.UUID                `json:"user_id"`
	LoginChallengeID *uuid.UUID               `json:"login_challenge_id,omitempty"`
	PendingOp        *domain.PendingOperation `json:"pending_operation,omitempty"`
}

// Clone returns a deep copy of the state. Stores hand clones across their
// boundary so callers and the store never share descriptor pointers, matching
// the value semantics the Redis store gets from serialization.
func (s State) Clone() State {
	out := s
	if s.LoginChallengeID != nil {
		id := *s.LoginChallengeID
		out.LoginChallengeID = &id
	}
	if s.PendingOp != nil {
		op := *s.PendingOp
		if op.OpenAccount != nil {
			p := *op.OpenAccount
			op.OpenAccount = &p
		}
		if op.InternalTransfer != nil {
			p := *op.InternalTransfer
			op.InternalTransfer = &p
		}
		if op.ExternalTransfer != nil {
			p := *op.ExternalTransfer
			op.ExternalTransfer = &p
		}
		out.PendingOp = &op
	}
	return out
}

// Store is the session transport contract.
type Store interface {
	// Create persists a new session and returns its opaque token.
	Create(ctx context.Context, state State) (string, error)
	Get(ctx context.Context, token string) (*State, error)
	Set(ctx context.Context, token string, state State) error
	Delete(ctx context.Context, token string) error
}
