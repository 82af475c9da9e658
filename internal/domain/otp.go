package domain

import (
	"time"

	"github.com/google/uuid"
)

// OtpChallenge is a single-use numeric code bound to one user. A challenge is
// consumed (used=true) at most once; expired or orphaned challenges are never
// deleted, only rejected when validated.
type OtpChallenge struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Code      string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	Used      bool      `json:"used"`
}
