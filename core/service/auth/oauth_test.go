package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/loopxjstar/Get-Gmails/core/domain"
)

func newTestService() *OAuthService {
	store := NewMemorySessionStore(0)
	return NewOAuthService("client-id", "client-secret", "http://localhost/auth/callback", store, time.Hour)
}

func TestAuthURLRegistersState(t *testing.T) {
	s := newTestService()

	url, err := s.AuthURL()
	if err != nil {
		t.Fatalf("AuthURL() error = %v", err)
	}
	if !strings.Contains(url, "state=") || !strings.Contains(url, "access_type=offline") {
		t.Errorf("AuthURL() = %q, missing state or offline access", url)
	}
	if len(s.states) != 1 {
		t.Errorf("states = %d, want 1 registered", len(s.states))
	}
}

func TestAuthURLUnconfigured(t *testing.T) {
	s := NewOAuthService("", "", "", NewMemorySessionStore(0), time.Hour)
	if _, err := s.AuthURL(); err == nil {
		t.Error("AuthURL() must fail without client credentials")
	}
}

func TestConsumeState(t *testing.T) {
	s := newTestService()

	s.states["good"] = time.Now().Add(time.Minute)
	s.states["stale"] = time.Now().Add(-time.Minute)

	if !s.consumeState("good") {
		t.Error("valid state must consume successfully")
	}
	if s.consumeState("good") {
		t.Error("state must be single-use")
	}
	if s.consumeState("stale") {
		t.Error("expired state must be rejected")
	}
	if s.consumeState("unknown") {
		t.Error("unknown state must be rejected")
	}
}

func TestHandleCallbackRejectsBadState(t *testing.T) {
	s := newTestService()
	if _, err := s.HandleCallback(context.Background(), "forged", "code"); err == nil {
		t.Error("HandleCallback() must reject an unregistered state")
	}
}

func TestIsTokenExpiredError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"invalid_grant", errors.New(`oauth2: "invalid_grant" "Bad Request"`), true},
		{"revoked", errors.New("Token has been expired or revoked."), true},
		{"transient network", errors.New("connection timed out"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTokenExpiredError(tt.err); got != tt.want {
				t.Errorf("isTokenExpiredError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestFreshTokenSkipsRefreshWhenValid(t *testing.T) {
	store := NewMemorySessionStore(0)
	s := NewOAuthService("id", "secret", "", store, time.Hour)

	sess := &domain.Session{
		ID:          "s1",
		Email:       "a@b.com",
		AccessToken: "live-token",
		Expiry:      time.Now().Add(time.Hour),
	}
	if err := store.Put(context.Background(), sess, time.Hour); err != nil {
		t.Fatal(err)
	}

	tok, err := s.FreshToken(context.Background(), "s1")
	if err != nil {
		t.Fatalf("FreshToken() error = %v", err)
	}
	if tok.AccessToken != "live-token" {
		t.Errorf("AccessToken = %q, want the stored token untouched", tok.AccessToken)
	}
}

func TestFreshTokenUnknownSession(t *testing.T) {
	s := newTestService()
	if _, err := s.FreshToken(context.Background(), "missing"); err == nil {
		t.Error("FreshToken() must fail for an unknown session")
	}
}
