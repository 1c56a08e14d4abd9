package identity

import (
	"errors"
	"testing"
	"time"
)

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator([]byte("test-secret-key-0123456789abcdef"), time.Hour)
}

func TestIssueAndAuthenticate(t *testing.T) {
	a := newTestAuthenticator()

	token, err := a.IssueToken("u1", "alice", "USER")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	p, err := a.Authenticate("Bearer " + token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.UserID != "u1" || p.Username != "alice" || p.Role != "USER" {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	a := newTestAuthenticator()

	for _, bearer := range []string{"", "Bearer ", "Bearer not.a.token"} {
		_, err := a.Authenticate(bearer)
		if err == nil {
			t.Fatalf("credential %q should be rejected", bearer)
		}
	}
}

func TestAuthenticateRejectsExpired(t *testing.T) {
	a := newTestAuthenticator()

	token, err := a.IssueToken("u1", "alice", "USER")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Move the verifier's clock past the token's expiry.
	a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := a.Authenticate(token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for expired token, got %v", err)
	}
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	a := newTestAuthenticator()
	other := NewAuthenticator([]byte("a-completely-different-secret!!!"), time.Hour)

	token, err := other.IssueToken("u1", "alice", "USER")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := a.Authenticate(token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for foreign signature, got %v", err)
	}
}

func TestIssueTokenValidation(t *testing.T) {
	a := newTestAuthenticator()
	if _, err := a.IssueToken("u1", "", "USER"); err == nil {
		t.Fatal("empty username must be rejected")
	}
	if _, err := a.IssueToken("u1", "alice", " "); err == nil {
		t.Fatal("empty role must be rejected")
	}
}
