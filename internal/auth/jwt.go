// Package auth signs and checks the two HS256 tokens the service hands out:
// session tokens returned by login and verification tokens mailed at
// registration. A token of one kind never validates as the other.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeSession = "session"
	TokenTypeVerify  = "verify"

	issuer = "wascheduler"
	leeway = 30 * time.Second
)

var (
	ErrInvalidTokenType = errors.New("invalid token type")
	ErrMissingClaim     = errors.New("missing claim")
)

type Claims struct {
	UserID    int64  `json:"uid,omitempty"`
	Email     string `json:"email,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret     []byte
	sessionTTL time.Duration
	verifyTTL  time.Duration
	parser     *jwt.Parser
}

func NewManager(secret string, sessionTTL, verifyTTL time.Duration) *Manager {
	return &Manager{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		verifyTTL:  verifyTTL,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
		),
	}
}

func (m *Manager) GenerateSessionToken(userID int64) (string, error) {
	return m.sign(Claims{
		UserID:    userID,
		TokenType: TokenTypeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: strconv.FormatInt(userID, 10),
		},
	}, m.sessionTTL)
}

// GenerateVerificationToken embeds email. Every call yields a distinct token
// so re-registration after expiry never reuses a mailed link.
func (m *Manager) GenerateVerificationToken(email string) (string, error) {
	return m.sign(Claims{
		Email:     email,
		TokenType: TokenTypeVerify,
	}, m.verifyTTL)
}

func (m *Manager) sign(c Claims, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	c.ID = uuid.NewString()
	c.Issuer = issuer
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", c.TokenType, err)
	}
	return signed, nil
}

// ParseAndValidate checks signature, issuer and expiry but not the kind.
func (m *Manager) ParseAndValidate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := m.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *Manager) VerifySessionToken(tokenStr string) (*Claims, error) {
	claims, err := m.parseKind(tokenStr, TokenTypeSession)
	if err != nil {
		return nil, err
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: uid", ErrMissingClaim)
	}
	return claims, nil
}

func (m *Manager) VerifyVerificationToken(tokenStr string) (*Claims, error) {
	claims, err := m.parseKind(tokenStr, TokenTypeVerify)
	if err != nil {
		return nil, err
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: email", ErrMissingClaim)
	}
	return claims, nil
}

func (m *Manager) parseKind(tokenStr, kind string) (*Claims, error) {
	claims, err := m.ParseAndValidate(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != kind {
		return nil, fmt.Errorf("%w: want %s, got %q", ErrInvalidTokenType, kind, claims.TokenType)
	}
	return claims, nil
}
