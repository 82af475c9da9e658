/**
 * @description
 * This file contains the core business logic for the portal-service. The
 * `Service` struct orchestrates registration, login with a second factor, and
 * the read side of the ledger, coordinating between the database repository,
 * the OTP challenge store, the session transport, and the email notifier.
 *
 * Key features:
 * - Registration seeds a starter account and sends a signed email-verification
 *   link; login is two-step (password, then a one-time code bound to the
 *   session's specific challenge id).
 * - All orchestrator calls take the session token explicitly; there is no
 *   ambient authentication state.
 *
 * @dependencies
 * - golang.org/x/crypto/bcrypt: password hashing.
 * - internal/domain, internal/store, internal/otp, internal/session,
 *   internal/notifier: domain models and collaborators.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/finportal/portal-service/internal/domain"
	"github.com/finportal/portal-service/internal/notifier"
	"github.com/finportal/portal-service/internal/otp"
	"github.com/finportal/portal-service/internal/session"
	"github.com/finportal/portal-service/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotVerified   = errors.New("email address not verified")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrNoLoginPending     = errors.New("no login verification pending")
	ErrNoPendingOperation = errors.New("no pending operation")
	ErrCodeInvalid        = errors.New("invalid one-time code")
	ErrCodeExpired        = errors.New("one-time code expired")
	ErrCodeAlreadyUsed    = errors.New("one-time code already used")
	ErrInvalidBankType    = errors.New("invalid bank type")
	ErrInvalidAlias       = errors.New("account alias must not be empty")
	ErrWeakPassword       = errors.New("password too short")
)

const (
	minPasswordLength = 8

	starterAccountAlias   = "Main Savings Account"
	starterBalanceCents   = 150_000_000 // 1,500,000.00
	starterDepositComment = "Initial deposit"
)

// Options carries the tunables the service needs from configuration.
type Options struct {
	// OtpMaxAge is the validity window of issued one-time codes.
	OtpMaxAge time.Duration
	// EmailTokenSecret signs email-verification tokens.
	EmailTokenSecret []byte
	// EmailTokenTTL bounds how long a verification link stays valid.
	EmailTokenTTL time.Duration
	// VerifyEmailBaseURL is the public endpoint the verification link points at.
	VerifyEmailBaseURL string
}

// Service provides the core business logic of the portal.
type Service struct {
	repo     store.Repository
	otp      *otp.Store
	sessions session.Store
	notifier notifier.Notifier
	opts     Options
	now      func() time.Time
}

// NewService creates a new portal service instance.
func NewService(repo store.Repository, otpStore *otp.Store, sessions session.Store, n notifier.Notifier, opts Options) *Service {
	return &Service{
		repo:     repo,
		otp:      otpStore,
		sessions: sessions,
		notifier: n,
		opts:     opts,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Register creates a user, seeds the starter account with its opening deposit,
// and sends the email-verification link.
func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.User, error) {
	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, ErrInvalidCredentials
	}
	if len(req.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	// The starter account is created at registration, before any session
	// exists, so it is not OTP-guarded (ChallengeID nil).
	if _, err := s.repo.OpenAccount(ctx, store.OpenAccountParams{
		UserID:              user.ID,
		BankType:            domain.BankOther,
		Alias:               starterAccountAlias,
		InitialBalanceCents: starterBalanceCents,
		DepositDescription:  starterDepositComment,
	}); err != nil {
		return nil, fmt.Errorf("failed to seed starter account: %w", err)
	}

	token, err := s.newEmailToken(email)
	if err != nil {
		log.Printf("level=error component=app msg=\"email token generation failed\" user_id=%s err=%v", user.ID, err)
	} else {
		link := fmt.Sprintf("%s?token=%s", s.opts.VerifyEmailBaseURL, token)
		s.notifier.SendVerificationLink(ctx, email, link)
	}
	return user, nil
}

// VerifyEmail validates a signed verification token and flips the user's
// verified flag. Verifying an already-verified address is a no-op.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	email, err := s.parseEmailToken(token)
	if err != nil {
		return err
	}
	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return nil
	}
	return s.repo.MarkEmailVerified(ctx, user.ID)
}

// Login checks the password and, on success, issues a login challenge and a
// session in login_pending state bound to that specific challenge id. The
// session is not usable for any operation until VerifyLoginCode succeeds.
func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (string, error) {
	user, err := s.repo.FindUserByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return "", ErrInvalidCredentials
	}
	if !user.EmailVerified {
		return "", ErrEmailNotVerified
	}

	challenge, err := s.otp.Issue(ctx, user.ID)
	if err != nil {
		return "", err
	}
	challengeID := challenge.ID
	token, err := s.sessions.Create(ctx, session.State{
		Status:           session.StatusLoginPending,
		UserID:           user.ID,
		LoginChallengeID: &challengeID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	s.notifier.SendLoginCode(ctx, user.Email, challenge.Code)
	return token, nil
}

// VerifyLoginCode validates the submitted code against the challenge the
// session was bound to at login and, on success, consumes the challenge and
// promotes the session to authenticated.
func (s *Service) VerifyLoginCode(ctx context.Context, token, code string) error {
	sess, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrNoLoginPending
		}
		return err
	}
	if sess.Status != session.StatusLoginPending || sess.LoginChallengeID == nil {
		return ErrNoLoginPending
	}

	result, err := s.otp.Validate(ctx, *sess.LoginChallengeID, sess.UserID, code, s.opts.OtpMaxAge)
	if err != nil {
		return err
	}
	switch result {
	case otp.ResultInvalid:
		return ErrCodeInvalid
	case otp.ResultExpired:
		return ErrCodeExpired
	case otp.ResultAlreadyUsed:
		return ErrCodeAlreadyUsed
	}

	if err := s.repo.ConsumeOtpChallenge(ctx, *sess.LoginChallengeID); err != nil {
		if errors.Is(err, store.ErrChallengeUsed) {
			return ErrCodeAlreadyUsed
		}
		return err
	}

	sess.Status = session.StatusAuthenticated
	sess.LoginChallengeID = nil
	return s.sessions.Set(ctx, token, *sess)
}

// Logout discards the session.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}

// AuthenticateToken resolves a session token to the authenticated user id.
// Sessions still pending MFA do not authenticate.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (uuid.UUID, error) {
	sess, err := s.authedSession(ctx, token)
	if err != nil {
		return uuid.Nil, err
	}
	return sess.UserID, nil
}

// authedSession loads the session and requires it to be fully authenticated.
func (s *Service) authedSession(ctx context.Context, token string) (*session.State, error) {
	sess, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	if sess.Status != session.StatusAuthenticated {
		return nil, ErrNotAuthenticated
	}
	return sess, nil
}

// ListAccounts returns the user's accounts plus the total balance projection.
func (s *Service) ListAccounts(ctx context.Context, token string) ([]domain.Account, int64, error) {
	sess, err := s.authedSession(ctx, token)
	if err != nil {
		return nil, 0, err
	}
	accounts, err := s.repo.FindAccountsByUserID(ctx, sess.UserID)
	if err != nil {
		return nil, 0, err
	}
	var total int64
	for _, a := range accounts {
		total += a.BalanceCents
	}
	return accounts, total, nil
}

// ListTransactions returns a single owned account's ledger, newest first.
func (s *Service) ListTransactions(ctx context.Context, token string, accountID uuid.UUID) ([]domain.Transaction, error) {
	sess, err := s.authedSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.FindAccountByIDForUser(ctx, accountID, sess.UserID); err != nil {
		return nil, err
	}
	return s.repo.FindTransactionsByAccountID(ctx, accountID)
}
