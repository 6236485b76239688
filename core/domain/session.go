package domain

import (
	"time"

	"golang.org/x/oauth2"
)

// Session is one authenticated account plus its bearer credential. The
// credential lives only for the life of the session entry; it is never
// written to durable storage.
type Session struct {
	ID    string `json:"id"`
	Email string `json:"email"`

	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"-"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Token converts the stored credential to an oauth2 token.
func (s *Session) Token() *oauth2.Token {
	tt := s.TokenType
	if tt == "" {
		tt = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    tt,
		Expiry:       s.Expiry,
	}
}

// ApplyToken stores a (possibly refreshed) oauth2 token back onto the
// session. A refresh response may omit the refresh token; keep the old one.
func (s *Session) ApplyToken(tok *oauth2.Token) {
	s.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		s.RefreshToken = tok.RefreshToken
	}
	s.TokenType = tok.TokenType
	s.Expiry = tok.Expiry
}
