/**
 * @description
 * PostgreSQL implementation of the `Repository` interface using the pgx driver.
 * Plain reads go straight through the pool; the three ledger operations run
 * inside explicit transactions with ordered `SELECT ... FOR UPDATE` row locks
 * so that concurrent transfers touching the same accounts serialize and can
 * never produce a negative balance or a lost update.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 * - internal/domain: domain models.
 */

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finportal/portal-service/internal/domain"
)

// PostgresRepository is the production implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateUser inserts a new user row. A unique-constraint violation on the
// email column surfaces as ErrEmailTaken.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, email_verified, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query, user.ID, user.Email, user.PasswordHash, user.EmailVerified).Scan(&user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT id, email, password_hash, email_verified, created_at
		FROM users
		WHERE email = $1
	`
	var u domain.User
	err := r.db.QueryRow(ctx, query, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.EmailVerified, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return &u, nil
}

func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `
		SELECT id, email, password_hash, email_verified, created_at
		FROM users
		WHERE id = $1
	`
	var u domain.User
	err := r.db.QueryRow(ctx, query, userID).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.EmailVerified, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user by id: %w", err)
	}
	return &u, nil
}

func (r *PostgresRepository) MarkEmailVerified(ctx context.Context, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET email_verified = TRUE WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) FindAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	query := `
		SELECT id, user_id, bank_type, alias, balance_cents, created_at
		FROM accounts
		WHERE user_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.BankType, &a.Alias, &a.BalanceCents, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *PostgresRepository) FindAccountByIDForUser(ctx context.Context, accountID, userID uuid.UUID) (*domain.Account, error) {
	query := `
		SELECT id, user_id, bank_type, alias, balance_cents, created_at
		FROM accounts
		WHERE id = $1 AND user_id = $2
	`
	var a domain.Account
	err := r.db.QueryRow(ctx, query, accountID, userID).Scan(&a.ID, &a.UserID, &a.BankType, &a.Alias, &a.BalanceCents, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &a, nil
}

func (r *PostgresRepository) FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	query := `
		SELECT id, account_id, occurred_at, description, amount_cents, kind,
		       counterparty_account_id, counterparty_email
		FROM transactions
		WHERE account_id = $1
		ORDER BY occurred_at DESC, id DESC
	`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.OccurredAt, &t.Description, &t.AmountCents, &t.Kind,
			&t.CounterpartyAccountID, &t.CounterpartyEmail); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (r *PostgresRepository) CreateOtpChallenge(ctx context.Context, challenge *domain.OtpChallenge) error {
	query := `
		INSERT INTO otp_challenges (id, user_id, code, used, created_at)
		VALUES ($1, $2, $3, FALSE, NOW())
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query, challenge.ID, challenge.UserID, challenge.Code).Scan(&challenge.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert otp challenge: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindOtpChallengeByID(ctx context.Context, challengeID uuid.UUID) (*domain.OtpChallenge, error) {
	query := `
		SELECT id, user_id, code, created_at, used
		FROM otp_challenges
		WHERE id = $1
	`
	var c domain.OtpChallenge
	err := r.db.QueryRow(ctx, query, challengeID).Scan(&c.ID, &c.UserID, &c.Code, &c.CreatedAt, &c.Used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to find otp challenge: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) ConsumeOtpChallenge(ctx context.Context, challengeID uuid.UUID) error {
	return consumeChallenge(ctx, r.db, challengeID)
}

// execer covers both the pool and an open transaction, so challenge
// consumption can run standalone (login MFA) or inside a ledger transaction.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// consumeChallenge flips used=false to used=true. The WHERE used = FALSE
// guard is the replay barrier: a second consumption attempt affects zero rows.
func consumeChallenge(ctx context.Context, db execer, challengeID uuid.UUID) error {
	tag, err := db.Exec(ctx, `UPDATE otp_challenges SET used = TRUE WHERE id = $1 AND used = FALSE`, challengeID)
	if err != nil {
		return fmt.Errorf("failed to consume otp challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChallengeUsed
	}
	return nil
}

// OpenAccount creates an account and, when the initial balance is non-zero,
// its opening deposit transaction, all in one commit. When params.ChallengeID
// is set the authorizing challenge is consumed in the same commit.
func (r *PostgresRepository) OpenAccount(ctx context.Context, params OpenAccountParams) (*domain.Account, error) {
	if _, err := domain.ParseBankType(string(params.BankType)); err != nil {
		return nil, ErrInvalidBankType
	}
	if params.Alias == "" {
		return nil, ErrInvalidAlias
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if params.ChallengeID != nil {
		if err := consumeChallenge(ctx, tx, *params.ChallengeID); err != nil {
			return nil, err
		}
	}

	account := domain.Account{
		ID:           uuid.New(),
		UserID:       params.UserID,
		BankType:     params.BankType,
		Alias:        params.Alias,
		BalanceCents: params.InitialBalanceCents,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO accounts (id, user_id, bank_type, alias, balance_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`, account.ID, account.UserID, account.BankType, account.Alias, account.BalanceCents).Scan(&account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}

	if params.InitialBalanceCents != 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO transactions (id, account_id, occurred_at, description, amount_cents, kind)
			VALUES ($1, $2, NOW(), $3, $4, $5)
		`, uuid.New(), account.ID, params.DepositDescription, params.InitialBalanceCents, domain.TxDeposit)
		if err != nil {
			return nil, fmt.Errorf("failed to insert opening deposit: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit open account: %w", err)
	}
	return &account, nil
}

// lockedAccount is the subset of account state read under FOR UPDATE.
type lockedAccount struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	BalanceCents int64
}

// lockAccount acquires a row lock on one account and returns its current state.
func lockAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*lockedAccount, error) {
	var a lockedAccount
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, balance_cents FROM accounts WHERE id = $1 FOR UPDATE
	`, accountID).Scan(&a.ID, &a.UserID, &a.BalanceCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return &a, nil
}

// lockAccountPair locks two distinct accounts in ascending id order so that
// concurrent transfers over the same pair cannot deadlock.
func lockAccountPair(ctx context.Context, tx pgx.Tx, first, second uuid.UUID) (*lockedAccount, *lockedAccount, error) {
	a, b := first, second
	swapped := false
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
		swapped = true
	}
	lockedA, err := lockAccount(ctx, tx, a)
	if err != nil {
		return nil, nil, err
	}
	lockedB, err := lockAccount(ctx, tx, b)
	if err != nil {
		return nil, nil, err
	}
	if swapped {
		return lockedB, lockedA, nil
	}
	return lockedA, lockedB, nil
}

// insertTransferLegs writes the paired ledger records of one transfer. The two
// amounts sum to zero by construction.
func insertTransferLegs(ctx context.Context, tx pgx.Tx,
	from, to uuid.UUID, amountCents int64, description string,
	outKind, inKind domain.TransactionKind, fromEmail, toEmail *string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions
			(id, account_id, occurred_at, description, amount_cents, kind, counterparty_account_id, counterparty_email)
		VALUES
			($1, $2, NOW(), $3, $4, $5, $6, $7),
			($8, $9, NOW(), $3, $10, $11, $12, $13)
	`,
		uuid.New(), from, description, -amountCents, outKind, to, toEmail,
		uuid.New(), to, amountCents, inKind, from, fromEmail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transfer legs: %w", err)
	}
	return nil
}

// applyBalanceDelta moves the cached balance projection of one account.
func applyBalanceDelta(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, deltaCents int64) error {
	_, err := tx.Exec(ctx, `UPDATE accounts SET balance_cents = balance_cents + $1 WHERE id = $2`, deltaCents, accountID)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

// TransferInternal moves money between two accounts of the same user. The
// ownership, distinctness, and balance checks all run under the row locks of
// the same transaction that consumes the OTP challenge and mutates the ledger.
func (r *PostgresRepository) TransferInternal(ctx context.Context, params TransferInternalParams) error {
	if params.AmountCents <= 0 {
		return domain.ErrInvalidAmount
	}
	if params.FromAccountID == params.ToAccountID {
		return ErrSameAccount
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := consumeChallenge(ctx, tx, params.ChallengeID); err != nil {
		return err
	}

	from, to, err := lockAccountPair(ctx, tx, params.FromAccountID, params.ToAccountID)
	if err != nil {
		return err
	}
	if from.UserID != params.UserID || to.UserID != params.UserID {
		return ErrAccountNotFound
	}
	if from.BalanceCents < params.AmountCents {
		return ErrInsufficientFunds
	}

	if err := insertTransferLegs(ctx, tx, from.ID, to.ID, params.AmountCents, params.Description,
		domain.TxInternalTransferOut, domain.TxInternalTransferIn, nil, nil); err != nil {
		return err
	}
	if err := applyBalanceDelta(ctx, tx, from.ID, -params.AmountCents); err != nil {
		return err
	}
	if err := applyBalanceDelta(ctx, tx, to.ID, params.AmountCents); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit internal transfer: %w", err)
	}
	return nil
}

// TransferExternal moves money from one of the sender's accounts to another
// user resolved by email. The recipient's earliest-created account receives
// the funds.
func (r *PostgresRepository) TransferExternal(ctx context.Context, params TransferExternalParams) error {
	if params.AmountCents <= 0 {
		return domain.ErrInvalidAmount
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := consumeChallenge(ctx, tx, params.ChallengeID); err != nil {
		return err
	}

	// Resolve the destination account id first (without locking) so both row
	// locks can then be taken in id order, same as the internal path.
	var recipientID uuid.UUID
	var recipientEmail string
	err = tx.QueryRow(ctx, `SELECT id, email FROM users WHERE email = $1`, params.RecipientEmail).
		Scan(&recipientID, &recipientEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRecipientNotFound
		}
		return fmt.Errorf("failed to resolve recipient: %w", err)
	}

	var toAccountID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM accounts WHERE user_id = $1 ORDER BY created_at, id LIMIT 1
	`, recipientID).Scan(&toAccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRecipientHasNoAccount
		}
		return fmt.Errorf("failed to resolve recipient account: %w", err)
	}
	if toAccountID == params.FromAccountID {
		return ErrSameAccount
	}

	from, to, err := lockAccountPair(ctx, tx, params.FromAccountID, toAccountID)
	if err != nil {
		return err
	}
	if from.UserID != params.UserID {
		return ErrAccountNotFound
	}
	if from.BalanceCents < params.AmountCents {
		return ErrInsufficientFunds
	}

	senderEmail := params.SenderEmail
	if err := insertTransferLegs(ctx, tx, from.ID, to.ID, params.AmountCents, params.Description,
		domain.TxExternalTransferOut, domain.TxExternalTransferIn, &senderEmail, &recipientEmail); err != nil {
		return err
	}
	if err := applyBalanceDelta(ctx, tx, from.ID, -params.AmountCents); err != nil {
		return err
	}
	if err := applyBalanceDelta(ctx, tx, to.ID, params.AmountCents); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit external transfer: %w", err)
	}
	return nil
}
