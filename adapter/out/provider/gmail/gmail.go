// Package gmail adapts the Gmail API to the export core's MailProvider port.
package gmail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loopxjstar/Get-Gmails/core/port/out"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const queryDateLayout = "2006/01/02"

// Provider implements out.MailProvider for Gmail.
type Provider struct {
	svc *gmailapi.Service
	cb  *gobreaker.CircuitBreaker
}

// NewProvider builds a Gmail provider over the given token source. The
// token source refreshes the credential transparently on expiry.
func NewProvider(ctx context.Context, ts oauth2.TokenSource) (*Provider, error) {
	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "gmail",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client-class errors must not trip the breaker; only server-side
		// failures indicate the API itself is unhealthy.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if apiErr, ok := err.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 400, 401, 403, 404, 429:
					return true
				}
			}
			return false
		},
	})

	return &Provider{svc: svc, cb: cb}, nil
}

// Profile returns the authenticated account's address.
func (p *Provider) Profile(ctx context.Context) (string, error) {
	var email string
	err := p.execute(func() error {
		profile, err := p.svc.Users.GetProfile("me").Context(ctx).Do()
		if err != nil {
			return err
		}
		email = profile.EmailAddress
		return nil
	})
	if err != nil {
		return "", p.wrapError(err, "failed to get profile")
	}
	return email, nil
}

// ListSentPage returns one page of sent-message ids in [After, Before).
func (p *Provider) ListSentPage(ctx context.Context, q out.ListQuery) (*out.ListPage, error) {
	query := fmt.Sprintf("in:sent after:%s before:%s",
		q.After.Format(queryDateLayout), q.Before.Format(queryDateLayout))

	req := p.svc.Users.Messages.List("me").Q(query)
	if q.PageSize > 0 {
		req = req.MaxResults(q.PageSize)
	}
	if q.PageToken != "" {
		req = req.PageToken(q.PageToken)
	}

	var resp *gmailapi.ListMessagesResponse
	err := p.execute(func() error {
		var err error
		resp, err = req.Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, p.wrapError(err, "failed to list messages")
	}

	page := &out.ListPage{NextPageToken: resp.NextPageToken}
	for _, m := range resp.Messages {
		page.IDs = append(page.IDs, m.Id)
	}
	return page, nil
}

// GetMessage fetches the To header and server timestamp for one message.
func (p *Provider) GetMessage(ctx context.Context, id string) (*out.MailMessage, error) {
	var msg *gmailapi.Message
	err := p.execute(func() error {
		var err error
		msg, err = p.svc.Users.Messages.Get("me", id).
			Format("metadata").
			MetadataHeaders("To").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, p.wrapError(err, "failed to get message")
	}

	mm := &out.MailMessage{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		InternalDate: msg.InternalDate,
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			if strings.EqualFold(h.Name, "To") {
				mm.To = h.Value
				break
			}
		}
	}
	return mm, nil
}

// execute runs one API call through the circuit breaker.
func (p *Provider) execute(fn func() error) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// CircuitState returns the breaker state for the health endpoint.
func (p *Provider) CircuitState() string {
	return p.cb.State().String()
}

func (p *Provider) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return out.NewProviderError("gmail", out.ErrKindServer, "circuit breaker open", err)
	}

	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case 401:
			return out.NewProviderError("gmail", out.ErrKindAuthExpired, "token expired", err)
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") || strings.Contains(apiErr.Message, "rateLimitExceeded") {
				return out.NewProviderError("gmail", out.ErrKindRateLimited, "rate limit exceeded", err)
			}
			return out.NewProviderError("gmail", out.ErrKindQuotaExceeded, "quota exceeded", err)
		case 404:
			return out.NewProviderError("gmail", out.ErrKindNotFound, "not found", err)
		case 429:
			return out.NewProviderError("gmail", out.ErrKindRateLimited, "too many requests", err)
		case 500, 502, 503:
			return out.NewProviderError("gmail", out.ErrKindServer, "server error", err)
		}
	}

	return out.NewProviderError("gmail", out.ErrKindServer, defaultMsg, err)
}

// Ensure Provider implements out.MailProvider
var _ out.MailProvider = (*Provider)(nil)
