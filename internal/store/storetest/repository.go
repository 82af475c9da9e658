/**
 * @description
 * In-memory implementation of store.Repository for tests. It mirrors the
 * observable behavior of the PostgreSQL repository, including the atomicity
 * contract of the ledger operations: a failed operation leaves balances, the
 * ledger, and the authorizing challenge untouched.
 */

package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finportal/portal-service/internal/domain"
	"github.com/finportal/portal-service/internal/store"
)

// MemoryRepository is a functional in-memory store.Repository. Fields are
// exported so tests can inspect and manipulate state directly.
type MemoryRepository struct {
	Mu           sync.Mutex
	Users        map[uuid.UUID]*domain.User
	Accounts     map[uuid.UUID]*domain.Account
	AccountOrder []uuid.UUID
	Transactions map[uuid.UUID][]domain.Transaction
	Challenges   map[uuid.UUID]*domain.OtpChallenge

	// Clock overrides the time source for generated timestamps. Defaults to
	// time.Now when nil.
	Clock func() time.Time

	seq int64
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		Users:        make(map[uuid.UUID]*domain.User),
		Accounts:     make(map[uuid.UUID]*domain.Account),
		Transactions: make(map[uuid.UUID][]domain.Transaction),
		Challenges:   make(map[uuid.UUID]*domain.OtpChallenge),
	}
}

// tick returns a strictly increasing timestamp so creation order is stable
// even when the clock stands still.
func (r *MemoryRepository) tick() time.Time {
	r.seq++
	base := time.Now()
	if r.Clock != nil {
		base = r.Clock()
	}
	return base.Add(time.Duration(r.seq))
}

func (r *MemoryRepository) CreateUser(ctx context.Context, user *domain.User) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	for _, u := range r.Users {
		if u.Email == user.Email {
			return store.ErrEmailTaken
		}
	}
	user.CreatedAt = r.tick()
	stored := *user
	r.Users[user.ID] = &stored
	return nil
}

func (r *MemoryRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	for _, u := range r.Users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (r *MemoryRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	u, ok := r.Users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *MemoryRepository) MarkEmailVerified(ctx context.Context, userID uuid.UUID) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	u, ok := r.Users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	u.EmailVerified = true
	return nil
}

func (r *MemoryRepository) FindAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	var accounts []domain.Account
	for _, id := range r.AccountOrder {
		if a := r.Accounts[id]; a != nil && a.UserID == userID {
			accounts = append(accounts, *a)
		}
	}
	return accounts, nil
}

func (r *MemoryRepository) FindAccountByIDForUser(ctx context.Context, accountID, userID uuid.UUID) (*domain.Account, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	a, ok := r.Accounts[accountID]
	if !ok || a.UserID != userID {
		return nil, store.ErrAccountNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *MemoryRepository) FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	txs := r.Transactions[accountID]
	// Newest first, matching the SQL ordering.
	out := make([]domain.Transaction, len(txs))
	for i, tx := range txs {
		out[len(txs)-1-i] = tx
	}
	return out, nil
}

func (r *MemoryRepository) CreateOtpChallenge(ctx context.Context, challenge *domain.OtpChallenge) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if challenge.CreatedAt.IsZero() {
		challenge.CreatedAt = r.tick()
	}
	stored := *challenge
	r.Challenges[challenge.ID] = &stored
	return nil
}

func (r *MemoryRepository) FindOtpChallengeByID(ctx context.Context, challengeID uuid.UUID) (*domain.OtpChallenge, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	c, ok := r.Challenges[challengeID]
	if !ok {
		return nil, store.ErrChallengeNotFound
	}
	copied := *c
	return &copied, nil
}

func (r *MemoryRepository) ConsumeOtpChallenge(ctx context.Context, challengeID uuid.UUID) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.consumeLocked(challengeID)
}

// checkChallengeLocked reports the consumption errors without mutating, so
// ledger operations can fail validation and still leave the challenge usable,
// the same way a rolled-back transaction does.
func (r *MemoryRepository) checkChallengeLocked(challengeID uuid.UUID) error {
	c, ok := r.Challenges[challengeID]
	if !ok {
		return store.ErrChallengeNotFound
	}
	if c.Used {
		return store.ErrChallengeUsed
	}
	return nil
}

func (r *MemoryRepository) consumeLocked(challengeID uuid.UUID) error {
	if err := r.checkChallengeLocked(challengeID); err != nil {
		return err
	}
	r.Challenges[challengeID].Used = true
	return nil
}

func (r *MemoryRepository) OpenAccount(ctx context.Context, params store.OpenAccountParams) (*domain.Account, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if params.ChallengeID != nil {
		if err := r.checkChallengeLocked(*params.ChallengeID); err != nil {
			return nil, err
		}
	}

	account := &domain.Account{
		ID:           uuid.New(),
		UserID:       params.UserID,
		BankType:     params.BankType,
		Alias:        params.Alias,
		BalanceCents: params.InitialBalanceCents,
		CreatedAt:    r.tick(),
	}
	r.Accounts[account.ID] = account
	r.AccountOrder = append(r.AccountOrder, account.ID)

	if params.InitialBalanceCents != 0 {
		r.Transactions[account.ID] = append(r.Transactions[account.ID], domain.Transaction{
			ID:          uuid.New(),
			AccountID:   account.ID,
			OccurredAt:  r.tick(),
			Description: params.DepositDescription,
			AmountCents: params.InitialBalanceCents,
			Kind:        domain.TxDeposit,
		})
	}
	if params.ChallengeID != nil {
		r.Challenges[*params.ChallengeID].Used = true
	}

	copied := *account
	return &copied, nil
}

func (r *MemoryRepository) TransferInternal(ctx context.Context, params store.TransferInternalParams) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if params.AmountCents <= 0 {
		return domain.ErrInvalidAmount
	}
	if params.FromAccountID == params.ToAccountID {
		return store.ErrSameAccount
	}
	if err := r.checkChallengeLocked(params.ChallengeID); err != nil {
		return err
	}

	from, to := r.Accounts[params.FromAccountID], r.Accounts[params.ToAccountID]
	if from == nil || to == nil || from.UserID != params.UserID || to.UserID != params.UserID {
		return store.ErrAccountNotFound
	}
	if from.BalanceCents < params.AmountCents {
		return store.ErrInsufficientFunds
	}

	r.applyTransferLocked(from, to, params.AmountCents, params.Description,
		domain.TxInternalTransferOut, domain.TxInternalTransferIn, nil, nil)
	r.Challenges[params.ChallengeID].Used = true
	return nil
}

func (r *MemoryRepository) TransferExternal(ctx context.Context, params store.TransferExternalParams) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if params.AmountCents <= 0 {
		return domain.ErrInvalidAmount
	}
	if err := r.checkChallengeLocked(params.ChallengeID); err != nil {
		return err
	}

	var recipient *domain.User
	for _, u := range r.Users {
		if u.Email == params.RecipientEmail {
			recipient = u
			break
		}
	}
	if recipient == nil {
		return store.ErrRecipientNotFound
	}

	var to *domain.Account
	for _, id := range r.AccountOrder {
		if a := r.Accounts[id]; a != nil && a.UserID == recipient.ID {
			to = a
			break
		}
	}
	if to == nil {
		return store.ErrRecipientHasNoAccount
	}
	if to.ID == params.FromAccountID {
		return store.ErrSameAccount
	}

	from := r.Accounts[params.FromAccountID]
	if from == nil || from.UserID != params.UserID {
		return store.ErrAccountNotFound
	}
	if from.BalanceCents < params.AmountCents {
		return store.ErrInsufficientFunds
	}

	senderEmail := params.SenderEmail
	recipientEmail := recipient.Email
	r.applyTransferLocked(from, to, params.AmountCents, params.Description,
		domain.TxExternalTransferOut, domain.TxExternalTransferIn, &senderEmail, &recipientEmail)
	r.Challenges[params.ChallengeID].Used = true
	return nil
}

func (r *MemoryRepository) applyTransferLocked(from, to *domain.Account, amountCents int64, description string,
	outKind, inKind domain.TransactionKind, fromEmail, toEmail *string) {
	fromID, toID := from.ID, to.ID
	when := r.tick()
	r.Transactions[from.ID] = append(r.Transactions[from.ID], domain.Transaction{
		ID:                    uuid.New(),
		AccountID:             from.ID,
		OccurredAt:            when,
		Description:           description,
		AmountCents:           -amountCents,
		Kind:                  outKind,
		CounterpartyAccountID: &toID,
		CounterpartyEmail:     toEmail,
	})
	r.Transactions[to.ID] = append(r.Transactions[to.ID], domain.Transaction{
		ID:                    uuid.New(),
		AccountID:             to.ID,
		OccurredAt:            when,
		Description:           description,
		AmountCents:           amountCents,
		Kind:                  inKind,
		CounterpartyAccountID: &fromID,
		CounterpartyEmail:     fromEmail,
	})
	from.BalanceCents -= amountCents
	to.BalanceCents += amountCents
}
