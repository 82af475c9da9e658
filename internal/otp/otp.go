/**
 * @description
 * This package implements the OTP challenge primitive shared by the login MFA
 * step and the sensitive-operation confirmation workflow. It issues single-use,
 * time-boxed six-digit codes bound to one user and validates them against a
 * specific challenge id.
 *
 * @notes
 * - Codes are drawn uniformly at random from crypto/rand. Code values are not
 *   unique across challenges and do not need to be: validation is always
 *   scoped by challenge id.
 * - Validation is read-only. Consumption (used=false -> true) happens either
 *   inside the ledger transaction that applies the guarded operation, or via
 *   Repository.ConsumeOtpChallenge for the login flow. This keeps "mark used"
 *   and "apply effects" in one atomic unit.
 */

package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/finportal/portal-service/internal/domain"
	"github.com/finportal/portal-service/internal/store"
)

// Result classifies the outcome of validating a submitted code.
type Result string

const (
	ResultOK          Result = "ok"
	ResultExpired     Result = "expired"
	ResultInvalid     Result = "invalid"
	ResultAlreadyUsed Result = "already_used"
)

// CodeLength is the fixed width of issued codes.
const CodeLength = 6

var codeSpace = big.NewInt(1_000_000)

// Store issues and validates OTP challenges on top of the repository.
type Store struct {
	repo store.Repository
	now  func() time.Time
}

// NewStore creates an OTP challenge store.
func NewStore(repo store.Repository) *Store {
	return &Store{repo: repo, now: time.Now}
}

// WithClock overrides the time source. Tests only.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// GenerateCode returns a uniformly random fixed-width numeric code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Issue persists a fresh unused challenge for the user and returns it,
// including the plain code for delivery.
func (s *Store) Issue(ctx context.Context, userID uuid.UUID) (*domain.OtpChallenge, error) {
	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}
	challenge := &domain.OtpChallenge{
		ID:     uuid.New(),
		UserID: userID,
		Code:   code,
	}
	if err := s.repo.CreateOtpChallenge(ctx, challenge); err != nil {
		return nil, err
	}
	if challenge.CreatedAt.IsZero() {
		challenge.CreatedAt = s.now()
	}
	return challenge, nil
}

// Validate checks a submitted code against one specific challenge. It never
// mutates the challenge. A missing challenge or one belonging to a different
// user reports ResultInvalid rather than leaking which part failed.
func (s *Store) Validate(ctx context.Context, challengeID, userID uuid.UUID, submitted string, maxAge time.Duration) (Result, error) {
	challenge, err := s.repo.FindOtpChallengeByID(ctx, challengeID)
	if err != nil {
		if errors.Is(err, store.ErrChallengeNotFound) {
			return ResultInvalid, nil
		}
		return ResultInvalid, err
	}
	if challenge.UserID != userID {
		return ResultInvalid, nil
	}
	if challenge.Used {
		return ResultAlreadyUsed, nil
	}
	if s.now().Sub(challenge.CreatedAt) > maxAge {
		return ResultExpired, nil
	}
	// Exact compare, no normalization.
	if challenge.Code != submitted {
		return ResultInvalid, nil
	}
	return ResultOK, nil
}
