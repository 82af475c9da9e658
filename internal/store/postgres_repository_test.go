package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/finportal/portal-service/internal/domain"
)

// The parameter guards in OpenAccount run before any connection is used, so
// they are testable without a database.
func TestOpenAccountRejectsInvalidParams(t *testing.T) {
	repo := NewPostgresRepository(nil)

	tests := []struct {
		name    string
		params  OpenAccountParams
		wantErr error
	}{
		{
			name:    "unknown bank type",
			params:  OpenAccountParams{UserID: uuid.New(), BankType: "PAYPAL", Alias: "Savings"},
			wantErr: ErrInvalidBankType,
		},
		{
			name:    "lowercase bank type",
			params:  OpenAccountParams{UserID: uuid.New(), BankType: "nequi", Alias: "Savings"},
			wantErr: ErrInvalidBankType,
		},
		{
			name:    "empty alias",
			params:  OpenAccountParams{UserID: uuid.New(), BankType: domain.BankNequi, Alias: ""},
			wantErr: ErrInvalidAlias,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.OpenAccount(context.Background(), tt.params)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
