// Package identity resolves the authenticated principal from a bearer
// credential. Token mechanics stay at this boundary; the orchestrator
// only ever sees a Principal.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnauthenticated = errors.New("invalid or expired credential")
	ErrEmptyCredential = errors.New("credential cannot be null or empty")
)

// Principal is the caller identity attached to each request.
type Principal struct {
	UserID   string
	Username string
	Role     string
}

// Authenticator verifies bearer tokens with an explicitly injected
// signing secret. Constructed once at startup from configuration; no
// process-wide key state.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(secret []byte, ttl time.Duration) *Authenticator {
	return &Authenticator{secret: secret, ttl: ttl, now: time.Now}
}

// Authenticate parses and validates the token and returns the principal
// it carries. Expiry is checked before any claim is trusted.
func (a *Authenticator) Authenticate(bearer string) (Principal, error) {
	bearer = strings.TrimSpace(strings.TrimPrefix(bearer, "Bearer "))
	if bearer == "" {
		return Principal{}, ErrEmptyCredential
	}

	token, err := jwt.Parse(bearer, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, ErrUnauthenticated
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return Principal{}, fmt.Errorf("%w: missing expiry", ErrUnauthenticated)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}
	userID, _ := claims["uid"].(string)
	if userID == "" {
		userID = sub
	}
	role, _ := claims["role"].(string)

	return Principal{UserID: userID, Username: sub, Role: role}, nil
}

// IssueToken signs a token for the given user. Username and role must
// be present; mirrors the user service's token generation.
func (a *Authenticator) IssueToken(userID, username, role string) (string, error) {
	if strings.TrimSpace(username) == "" {
		return "", fmt.Errorf("username %w", ErrEmptyCredential)
	}
	if strings.TrimSpace(role) == "" {
		return "", fmt.Errorf("role %w", ErrEmptyCredential)
	}

	now := a.now()
	claims := jwt.MapClaims{
		"sub":  username,
		"uid":  userID,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(a.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
