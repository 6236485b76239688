// Package auth owns the OAuth flow and the session credential lifecycle.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/loopxjstar/Get-Gmails/core/domain"
	"github.com/loopxjstar/Get-Gmails/core/port/out"
	"github.com/loopxjstar/Get-Gmails/pkg/apperr"
	"github.com/loopxjstar/Get-Gmails/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
)

// stateTTL bounds how long a pending consent redirect stays valid.
const stateTTL = 10 * time.Minute

// refreshSkew refreshes tokens that expire within this window.
const refreshSkew = 5 * time.Minute

// ErrTokenExpired indicates the credential is permanently invalid and the
// user has to re-authenticate.
var ErrTokenExpired = fmt.Errorf("oauth token expired, re-authentication required")

type OAuthService struct {
	config     *oauth2.Config
	sessions   out.SessionStore
	sessionTTL time.Duration

	// CSRF state entries, validated and consumed by the callback.
	statesMu sync.Mutex
	states   map[string]time.Time

	// Concurrent refreshes for one session collapse into a single call.
	refreshGroup singleflight.Group
}

func NewOAuthService(clientID, clientSecret, redirectURL string, sessions out.SessionStore, sessionTTL time.Duration) *OAuthService {
	return &OAuthService{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/gmail.readonly",
				"https://www.googleapis.com/auth/userinfo.email",
			},
			Endpoint: google.Endpoint,
		},
		sessions:   sessions,
		sessionTTL: sessionTTL,
		states:     make(map[string]time.Time),
	}
}

// Configured reports whether OAuth client credentials are present.
func (s *OAuthService) Configured() bool {
	return s.config.ClientID != "" && s.config.ClientSecret != ""
}

// generateSecureState returns a cryptographically random state value.
func generateSecureState() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure state: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// AuthURL registers a fresh CSRF state and returns the consent URL.
func (s *OAuthService) AuthURL() (string, error) {
	if !s.Configured() {
		return "", apperr.ConfigError("google oauth not configured")
	}

	state, err := generateSecureState()
	if err != nil {
		return "", err
	}

	s.statesMu.Lock()
	now := time.Now()
	for k, exp := range s.states {
		if now.After(exp) {
			delete(s.states, k)
		}
	}
	s.states[state] = now.Add(stateTTL)
	s.statesMu.Unlock()

	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// consumeState validates and deletes a state entry.
func (s *OAuthService) consumeState(state string) bool {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	exp, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return time.Now().Before(exp)
}

// HandleCallback exchanges the authorization code, resolves the account
// address and creates a session holding the credential.
func (s *OAuthService) HandleCallback(ctx context.Context, state, code string) (*domain.Session, error) {
	if !s.consumeState(state) {
		return nil, apperr.BadRequest("invalid oauth state")
	}

	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, apperr.OAuthFailed(fmt.Errorf("failed to exchange token: %w", err))
	}

	email, err := s.fetchEmail(ctx, token)
	if err != nil {
		return nil, apperr.OAuthFailed(fmt.Errorf("failed to get user email: %w", err))
	}

	sess := &domain.Session{
		ID:        uuid.New().String(),
		Email:     email,
		Scopes:    s.config.Scopes,
		CreatedAt: time.Now(),
	}
	sess.ApplyToken(token)

	if err := s.sessions.Put(ctx, sess, s.sessionTTL); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	logger.Info("Authenticated account: %s", email)
	return sess, nil
}

func (s *OAuthService) fetchEmail(ctx context.Context, token *oauth2.Token) (string, error) {
	client := s.config.Client(ctx, token)
	resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var userInfo struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(resp.Body, &userInfo); err != nil {
		return "", err
	}
	if userInfo.Email == "" {
		return "", fmt.Errorf("userinfo response carried no email")
	}
	return userInfo.Email, nil
}

func decodeJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

// Session resolves a session id.
func (s *OAuthService) Session(ctx context.Context, id string) (*domain.Session, error) {
	return s.sessions.Get(ctx, id)
}

// Logout deletes the session and its credential.
func (s *OAuthService) Logout(ctx context.Context, id string) error {
	return s.sessions.Delete(ctx, id)
}

// isTokenExpiredError checks if the error indicates a permanent token failure.
func isTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid_client") ||
		strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "Token has been expired or revoked") ||
		strings.Contains(errStr, "Token has been revoked")
}

// FreshToken returns a valid token for the session, refreshing it first if
// it expires within the skew window. Concurrent callers for the same
// session share one refresh.
func (s *OAuthService) FreshToken(ctx context.Context, sessionID string) (*oauth2.Token, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if time.Until(sess.Expiry) >= refreshSkew {
		return sess.Token(), nil
	}

	tok, err, _ := s.refreshGroup.Do(sessionID, func() (interface{}, error) {
		return s.refresh(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return tok.(*oauth2.Token), nil
}

func (s *OAuthService) refresh(ctx context.Context, sessionID string) (*oauth2.Token, error) {
	// Re-read inside the flight: a concurrent winner may already have
	// stored a fresh token.
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if time.Until(sess.Expiry) >= refreshSkew {
		return sess.Token(), nil
	}

	newToken, err := s.config.TokenSource(ctx, sess.Token()).Token()
	if err != nil {
		if isTokenExpiredError(err) {
			logger.Warn("Token permanently expired for session %s: %v", sessionID, err)
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	sess.ApplyToken(newToken)
	if err := s.sessions.Put(ctx, sess, s.sessionTTL); err != nil {
		return nil, fmt.Errorf("failed to update session token: %w", err)
	}

	logger.Debug("Token refreshed for session %s", sessionID)
	return newToken, nil
}

// TokenSource adapts FreshToken to the oauth2.TokenSource contract so the
// Gmail provider refreshes through the session store.
func (s *OAuthService) TokenSource(ctx context.Context, sessionID string) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, svc: s, sessionID: sessionID}
}

type sessionTokenSource struct {
	ctx       context.Context
	svc       *OAuthService
	sessionID string
}

func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	return ts.svc.FreshToken(ts.ctx, ts.sessionID)
}
