/**
 * @description
 * Signed email-verification tokens. The registration flow embeds the user's
 * email address in an HS256-signed JWT with a bounded lifetime; following the
 * link proves ownership of the mailbox.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: token signing and validation.
 */

package app

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidEmailToken is returned when a verification token is malformed,
// signed with the wrong key, or expired.
var ErrInvalidEmailToken = errors.New("invalid or expired verification token")

func (s *Service) newEmailToken(email string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.EmailTokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.opts.EmailTokenSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign email token: %w", err)
	}
	return signed, nil
}

func (s *Service) parseEmailToken(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.opts.EmailTokenSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidEmailToken
	}
	return claims.Subject, nil
}
