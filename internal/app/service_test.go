package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/finportal/portal-service/internal/domain"
	"github.com/finportal/portal-service/internal/otp"
	"github.com/finportal/portal-service/internal/session"
	"github.com/finportal/portal-service/internal/store"
	"github.com/finportal/portal-service/internal/store/storetest"
)

type sentMessage struct {
	email  string
	code   string
	title  string
	detail string
	link   string
}

// recordingNotifier captures outgoing messages so tests can read issued codes
// and verification links.
type recordingNotifier struct {
	operationCodes []sentMessage
	loginCodes     []sentMessage
	links          []sentMessage
}

func (n *recordingNotifier) SendOperationCode(ctx context.Context, email, code, title, detail string) {
	n.operationCodes = append(n.operationCodes, sentMessage{email: email, code: code, title: title, detail: detail})
}

func (n *recordingNotifier) SendLoginCode(ctx context.Context, email, code string) {
	n.loginCodes = append(n.loginCodes, sentMessage{email: email, code: code})
}

func (n *recordingNotifier) SendVerificationLink(ctx context.Context, email, link string) {
	n.links = append(n.links, sentMessage{email: email, link: link})
}

func (n *recordingNotifier) lastOperationCode(t *testing.T) string {
	t.Helper()
	if len(n.operationCodes) == 0 {
		t.Fatal("no operation code was sent")
	}
	return n.operationCodes[len(n.operationCodes)-1].code
}

func (n *recordingNotifier) lastLoginCode(t *testing.T) string {
	t.Helper()
	if len(n.loginCodes) == 0 {
		t.Fatal("no login code was sent")
	}
	return n.loginCodes[len(n.loginCodes)-1].code
}

func (n *recordingNotifier) lastLink(t *testing.T) string {
	t.Helper()
	if len(n.links) == 0 {
		t.Fatal("no verification link was sent")
	}
	return n.links[len(n.links)-1].link
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type testEnv struct {
	repo     *storetest.MemoryRepository
	sessions *session.MemoryStore
	notifier *recordingNotifier
	clock    *fakeClock
	service  *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	repo := storetest.NewMemoryRepository()
	repo.Clock = clock.Now
	sessions := session.NewMemoryStore()
	n := &recordingNotifier{}
	svc := NewService(repo, otp.NewStore(repo).WithClock(clock.Now), sessions, n, Options{
		OtpMaxAge:          5 * time.Minute,
		EmailTokenSecret:   []byte("test-secret"),
		EmailTokenTTL:      time.Hour,
		VerifyEmailBaseURL: "http://localhost:8080/auth/verify-email",
	}).WithClock(clock.Now)
	return &testEnv{repo: repo, sessions: sessions, notifier: n, clock: clock, service: svc}
}

// tokenFromLink pulls the signed token out of a verification link.
func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	parts := strings.SplitN(link, "token=", 2)
	if len(parts) != 2 || parts[1] == "" {
		t.Fatalf("verification link carries no token: %q", link)
	}
	return parts[1]
}

// registerVerified registers a user and completes email verification.
func registerVerified(t *testing.T, env *testEnv, email, password string) *domain.User {
	t.Helper()
	user, err := env.service.Register(context.Background(), domain.RegisterRequest{Email: email, Password: password})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	token := tokenFromLink(t, env.notifier.lastLink(t))
	if err := env.service.VerifyEmail(context.Background(), token); err != nil {
		t.Fatalf("VerifyEmail returned error: %v", err)
	}
	return user
}

// loginAuthenticated runs the full two-step login and returns the session token.
func loginAuthenticated(t *testing.T, env *testEnv, email, password string) string {
	t.Helper()
	token, err := env.service.Login(context.Background(), domain.LoginRequest{Email: email, Password: password})
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if err := env.service.VerifyLoginCode(context.Background(), token, env.notifier.lastLoginCode(t)); err != nil {
		t.Fatalf("VerifyLoginCode returned error: %v", err)
	}
	return token
}

// wrongCode returns a well-formed code guaranteed to differ from the given one.
func wrongCode(code string) string {
	if code == "000000" {
		return "000001"
	}
	return "000000"
}

func TestRegisterSeedsStarterAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.service.Register(ctx, domain.RegisterRequest{Email: "ana@example.com", Password: "hunter2hunter2"})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	accounts, err := env.repo.FindAccountsByUserID(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindAccountsByUserID returned error: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected exactly one starter account, got %d", len(accounts))
	}
	starter := accounts[0]
	if starter.Alias != "Main Savings Account" {
		t.Fatalf("unexpected starter alias %q", starter.Alias)
	}
	if starter.BalanceCents != 150_000_000 {
		t.Fatalf("expected starter balance of 150000000 cents, got %d", starter.BalanceCents)
	}

	txs, err := env.repo.FindTransactionsByAccountID(ctx, starter.ID)
	if err != nil {
		t.Fatalf("FindTransactionsByAccountID returned error: %v", err)
	}
	if len(txs) != 1 || txs[0].Kind != domain.TxDeposit || txs[0].AmountCents != starter.BalanceCents {
		t.Fatalf("expected a single opening deposit matching the balance, got %+v", txs)
	}

	link := env.notifier.lastLink(t)
	if !strings.HasPrefix(link, "http://localhost:8080/auth/verify-email?token=") {
		t.Fatalf("unexpected verification link %q", link)
	}
}

func TestRegisterNormalizesEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.service.Register(ctx, domain.RegisterRequest{Email: "  Ana@Example.COM ", Password: "hunter2hunter2"})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if user.Email != "ana@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}

	_, err = env.service.Register(ctx, domain.RegisterRequest{Email: "ANA@example.com", Password: "hunter2hunter2"})
	if !errors.Is(err, store.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken for case-variant duplicate, got %v", err)
	}
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Register(context.Background(), domain.RegisterRequest{Email: "ana@example.com", Password: "short"})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if len(env.repo.Users) != 0 {
		t.Fatal("user must not be persisted when the password is rejected")
	}
}

func TestVerifyEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.service.Register(ctx, domain.RegisterRequest{Email: "ana@example.com", Password: "hunter2hunter2"})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	token := tokenFromLink(t, env.notifier.lastLink(t))

	if err := env.service.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail returned error: %v", err)
	}
	stored, err := env.repo.FindUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindUserByID returned error: %v", err)
	}
	if !stored.EmailVerified {
		t.Fatal("expected user to be marked verified")
	}

	// Re-verifying is a no-op, not an error.
	if err := env.service.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("second VerifyEmail returned error: %v", err)
	}

	if err := env.service.VerifyEmail(ctx, "not-a-token"); !errors.Is(err, ErrInvalidEmailToken) {
		t.Fatalf("expected ErrInvalidEmailToken for garbage, got %v", err)
	}
}

func TestVerifyEmailRejectsExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.Register(ctx, domain.RegisterRequest{Email: "ana@example.com", Password: "hunter2hunter2"}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	token := tokenFromLink(t, env.notifier.lastLink(t))

	env.clock.Advance(2 * time.Hour)
	if err := env.service.VerifyEmail(ctx, token); !errors.Is(err, ErrInvalidEmailToken) {
		t.Fatalf("expected ErrInvalidEmailToken after expiry, got %v", err)
	}
}

func TestLoginRequiresVerifiedEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.Register(ctx, domain.RegisterRequest{Email: "ana@example.com", Password: "hunter2hunter2"}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	_, err := env.service.Login(ctx, domain.LoginRequest{Email: "ana@example.com", Password: "hunter2hunter2"})
	if !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registerVerified(t, env, "ana@example.com", "hunter2hunter2")

	if _, err := env.service.Login(ctx, domain.LoginRequest{Email: "ana@example.com", Password: "wrong-password"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := env.service.Login(ctx, domain.LoginRequest{Email: "nobody@example.com", Password: "hunter2hunter2"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestLoginMFAFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registerVerified(t, env, "ana@example.com", "hunter2hunter2")

	token, err := env.service.Login(ctx, domain.LoginRequest{Email: "ana@example.com", Password: "hunter2hunter2"})
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}

	// Pending sessions cannot act as authenticated ones.
	if _, err := env.service.AuthenticateToken(ctx, token); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated before MFA, got %v", err)
	}

	code := env.notifier.lastLoginCode(t)
	if err := env.service.VerifyLoginCode(ctx, token, wrongCode(code)); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid for wrong code, got %v", err)
	}
	// A wrong code does not end the login attempt.
	if err := env.service.VerifyLoginCode(ctx, token, code); err != nil {
		t.Fatalf("VerifyLoginCode returned error: %v", err)
	}

	if _, err := env.service.AuthenticateToken(ctx, token); err != nil {
		t.Fatalf("AuthenticateToken returned error after MFA: %v", err)
	}

	// The login challenge is single-use and the session no longer pending.
	if err := env.service.VerifyLoginCode(ctx, token, code); !errors.Is(err, ErrNoLoginPending) {
		t.Fatalf("expected ErrNoLoginPending on replay, got %v", err)
	}
}

func TestLoginCodeExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registerVerified(t, env, "ana@example.com", "hunter2hunter2")

	token, err := env.service.Login(ctx, domain.LoginRequest{Email: "ana@example.com", Password: "hunter2hunter2"})
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	code := env.notifier.lastLoginCode(t)

	env.clock.Advance(6 * time.Minute)
	if err := env.service.VerifyLoginCode(ctx, token, code); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired, got %v", err)
	}
}

func TestLogoutDiscardsSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registerVerified(t, env, "ana@example.com", "hunter2hunter2")
	token := loginAuthenticated(t, env, "ana@example.com", "hunter2hunter2")

	if err := env.service.Logout(ctx, token); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	if _, err := env.service.AuthenticateToken(ctx, token); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated after logout, got %v", err)
	}
}

func TestListAccountsTotalsBalances(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := registerVerified(t, env, "ana@example.com", "hunter2hunter2")
	token := loginAuthenticated(t, env, "ana@example.com", "hunter2hunter2")

	if _, err := env.repo.OpenAccount(ctx, store.OpenAccountParams{
		UserID:              user.ID,
		BankType:            domain.BankNequi,
		Alias:               "Side Account",
		InitialBalanceCents: 5000,
		DepositDescription:  "Initial deposit",
	}); err != nil {
		t.Fatalf("OpenAccount returned error: %v", err)
	}

	accounts, total, err := env.service.ListAccounts(ctx, token)
	if err != nil {
		t.Fatalf("ListAccounts returned error: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if total != 150_000_000+5000 {
		t.Fatalf("expected total of %d, got %d", 150_000_000+5000, total)
	}
}

func TestListTransactionsChecksOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registerVerified(t, env, "ana@example.com", "hunter2hunter2")
	other := registerVerified(t, env, "luis@example.com", "hunter2hunter2")
	token := loginAuthenticated(t, env, "ana@example.com", "hunter2hunter2")

	otherAccounts, err := env.repo.FindAccountsByUserID(ctx, other.ID)
	if err != nil {
		t.Fatalf("FindAccountsByUserID returned error: %v", err)
	}

	if _, err := env.service.ListTransactions(ctx, token, otherAccounts[0].ID); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound for foreign account, got %v", err)
	}
	if _, err := env.service.ListTransactions(ctx, token, uuid.New()); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound for unknown account, got %v", err)
	}
}
