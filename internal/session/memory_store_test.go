package session

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/finportal/portal-service/internal/domain"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	userID := uuid.New()

	token, err := store.Create(ctx, State{Status: StatusLoginPending, UserID: userID})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	state, err := store.Get(ctx, token)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if state.Status != StatusLoginPending || state.UserID != userID {
		t.Fatalf("unexpected state: %+v", state)
	}

	state.Status = StatusAuthenticated
	if err := store.Set(ctx, token, *state); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	state, err = store.Get(ctx, token)
	if err != nil {
		t.Fatalf("Get after Set returned error: %v", err)
	}
	if state.Status != StatusAuthenticated {
		t.Fatalf("expected authenticated status, got %q", state.Status)
	}

	if err := store.Delete(ctx, token); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := store.Get(ctx, token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	token, err := store.Create(ctx, State{
		Status:    StatusAuthenticated,
		UserID:    uuid.New(),
		PendingOp: &domain.PendingOperation{Kind: domain.OpOpenAccount, Title: "Open bank account"},
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	first, err := store.Get(ctx, token)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	first.Status = StatusLoginPending
	first.PendingOp = nil

	second, err := store.Get(ctx, token)
	if err != nil {
		t.Fatalf("second Get returned error: %v", err)
	}
	if second.Status != StatusAuthenticated {
		t.Fatal("mutating a returned state leaked into the store")
	}
	if second.PendingOp == nil {
		t.Fatal("clearing PendingOp on a returned state leaked into the store")
	}
}

func TestMemoryStoreGetReturnsDeepCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	challengeID := uuid.New()

	token, err := store.Create(ctx, State{
		Status: StatusAuthenticated,
		UserID: uuid.New(),
		PendingOp: &domain.PendingOperation{
			Kind:        domain.OpOpenAccount,
			Title:       "Open bank account",
			OpenAccount: &domain.OpenAccountPayload{Alias: "Savings", BankType: domain.BankNequi},
			ChallengeID: challengeID,
		},
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	first, err := store.Get(ctx, token)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	first.PendingOp.ChallengeID = uuid.New()
	first.PendingOp.OpenAccount.Alias = "Tampered"

	second, err := store.Get(ctx, token)
	if err != nil {
		t.Fatalf("second Get returned error: %v", err)
	}
	if second.PendingOp.ChallengeID != challengeID {
		t.Fatal("rebinding the challenge on a returned state leaked into the store")
	}
	if second.PendingOp.OpenAccount.Alias != "Savings" {
		t.Fatal("mutating a returned payload leaked into the store")
	}
}

func TestMemoryStoreUnknownToken(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "no-such-token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
