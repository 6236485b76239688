package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/loopxjstar/Get-Gmails/core/service/auth"
	"github.com/loopxjstar/Get-Gmails/pkg/apperr"
	"github.com/loopxjstar/Get-Gmails/pkg/logger"
)

// SessionCookie is the HTTP-only cookie carrying the session id.
const SessionCookie = "session_id"

type AuthHandler struct {
	auth         *auth.OAuthService
	cookieSecure bool
	sessionTTL   time.Duration
}

func NewAuthHandler(authService *auth.OAuthService, cookieSecure bool, sessionTTL time.Duration) *AuthHandler {
	return &AuthHandler{auth: authService, cookieSecure: cookieSecure, sessionTTL: sessionTTL}
}

func (h *AuthHandler) Register(app fiber.Router) {
	grp := app.Group("/auth")
	grp.Get("/login", h.Login)
	grp.Get("/callback", h.Callback)
	grp.Post("/logout", h.Logout)
}

// Login redirects the browser to Google's consent screen.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	if !h.auth.Configured() {
		return apperr.ConfigError("Google OAuth credentials are not configured")
	}
	url, err := h.auth.AuthURL()
	if err != nil {
		logger.WithError(err).Error("failed to build consent URL")
		return apperr.InternalWithError(err)
	}
	return c.Redirect(url, fiber.StatusTemporaryRedirect)
}

// Callback completes the OAuth code exchange and establishes a session.
func (h *AuthHandler) Callback(c *fiber.Ctx) error {
	if errParam := c.Query("error"); errParam != "" {
		logger.Warn("consent refused by provider: %s", errParam)
		return c.Redirect("/?error=" + errParam)
	}
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		return c.Redirect("/?error=missing_code")
	}

	sess, err := h.auth.HandleCallback(c.Context(), state, code)
	if err != nil {
		logger.WithError(err).Warn("oauth callback failed")
		return c.Redirect("/?error=auth_failed")
	}

	c.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Expires:  time.Now().Add(h.sessionTTL),
		HTTPOnly: true,
		Secure:   h.cookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	})

	logger.WithField("account", sess.Email).Info("session established")
	return c.Redirect("/dashboard")
}

// Logout drops the session and clears the cookie.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if id := c.Cookies(SessionCookie); id != "" {
		if err := h.auth.Logout(c.Context(), id); err != nil {
			logger.WithError(err).Warn("logout cleanup failed")
		}
	}
	c.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		Secure:   h.cookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	})
	return c.Redirect("/")
}
