// Package auth issues and validates the bearer tokens that identify a
// member to the HTTP surface. The identity provider seam is the token
// subject: whatever upstream system authenticated the member, the engine
// only ever sees the stable member identifier carried here.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tandemlabs/tandem/backend/internal/pairing"
)

const (
	defaultTokenTTL = 30 * time.Minute
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// TokenManagerConfig configures the bearer token manager.
type TokenManagerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenManager signs and validates member bearer tokens.
type TokenManager struct {
	config TokenManagerConfig
	clock  func() time.Time
}

// NewTokenManager constructs a TokenManager with sane defaults.
func NewTokenManager(cfg TokenManagerConfig) *TokenManager {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenManager{
		config: TokenManagerConfig{
			SigningSecret: cfg.SigningSecret,
			Issuer:        cfg.Issuer,
			Audience:      cfg.Audience,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}
}

// Issue produces a signed token and its lifetime in seconds for the member.
func (m *TokenManager) Issue(_ context.Context, memberID pairing.MemberID) (string, int64, error) {
	if len(m.config.SigningSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if memberID.String() == "" {
		return "", 0, errMissingSubjectClaim
	}

	now := m.clock().UTC()
	expiresAt := now.Add(m.config.TokenTTL).UTC()

	registered := jwt.RegisteredClaims{
		Subject:   memberID.String(),
		Issuer:    m.config.Issuer,
		Audience:  []string{m.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(m.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// Validate ensures the token is well formed and returns the member it names.
func (m *TokenManager) Validate(tokenString string) (pairing.MemberID, error) {
	if len(m.config.SigningSecret) == 0 {
		return "", errMissingSigningSecret
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return m.config.SigningSecret, nil
		},
		jwt.WithAudience(m.config.Audience),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return pairing.NewMemberID(claims.Subject)
}
