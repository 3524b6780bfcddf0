// Package auth resolves client tokens to identities against the account
// store, and mints tokens for the dev API. Verification failure is never
// fatal to a session: callers fall back to a generated guest identity.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/topcerry22/ballerexeserver/model"
)

const (
	guestSuffixBytes = 3 // 6 hex chars

	defaultTokenTTL = 72 * time.Hour
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrUnknownAccount = errors.New("unknown account")
)

type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

type AccountStore interface {
	Lookup(ctx context.Context, username string) (model.Account, error)
}

// Verifier checks HS256 tokens and resolves them to stored accounts.
type Verifier struct {
	secret   []byte
	accounts AccountStore
}

func NewVerifier(secret string, accounts AccountStore) *Verifier {
	return &Verifier{
		secret:   []byte(secret),
		accounts: accounts,
	}
}

// VerifyToken resolves a token to a username. Any failure — malformed
// token, wrong signature, expired claims, unknown account — comes back
// as an error for the caller to degrade to a guest identity.
func (v *Verifier) VerifyToken(ctx context.Context, token string) (string, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Username == "" {
		return "", ErrInvalidToken
	}

	account, err := v.accounts.Lookup(ctx, claims.Username)
	if err != nil {
		return "", errors.Join(ErrUnknownAccount, err)
	}
	return account.Username, nil
}

// Issue mints a signed token for username. Used by the dev token
// endpoint; gameplay clients normally arrive with tokens issued
// elsewhere.
func (v *Verifier) Issue(username string) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(defaultTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Username: username,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// GuestName generates a guest identity of the form Guest_ + 6 hex chars.
func GuestName() string {
	suffix := make([]byte, guestSuffixBytes)
	_, _ = rand.Read(suffix)
	return "Guest_" + hex.EncodeToString(suffix)
}
