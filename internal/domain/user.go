/**
 * @description
 * This file defines the user model for the portal-service. A user owns zero or
 * more simulated bank accounts and must verify their email address before they
 * can log in and move money.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered portal user.
type User struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

// RegisterRequest is the DTO for incoming registration API requests.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the DTO for incoming login API requests.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyCodeRequest carries a submitted one-time code, both for the login MFA
// step and for confirming a pending operation.
type VerifyCodeRequest struct {
	Code string `json:"code"`
}
