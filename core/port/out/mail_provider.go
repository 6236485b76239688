// Package out defines the outbound ports of the export core.
package out

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MailProvider is the outbound port for the remote mail API. The export
// pipeline depends on this interface only; the Gmail adapter implements it.
type MailProvider interface {
	// Profile returns the authenticated account's address.
	Profile(ctx context.Context) (string, error)

	// ListSentPage returns one page of sent-message ids for the query.
	ListSentPage(ctx context.Context, q ListQuery) (*ListPage, error)

	// GetMessage fetches the full message for one id.
	GetMessage(ctx context.Context, id string) (*MailMessage, error)
}

// ListQuery selects sent messages in [After, Before).
type ListQuery struct {
	After     time.Time
	Before    time.Time
	PageToken string
	PageSize  int64
}

// ListPage is one page of list results. An empty NextPageToken means the
// listing is exhausted.
type ListPage struct {
	IDs           []string
	NextPageToken string
}

// MailMessage carries the fields the normalizer consumes.
type MailMessage struct {
	ID           string
	ThreadID     string
	To           string // raw To header, empty if absent
	InternalDate int64  // server-assigned epoch milliseconds, 0 if absent
}

// ProviderErrKind classifies remote mail API failures. The pipeline
// dispatches on the kind, never on provider-specific status codes.
type ProviderErrKind int

const (
	ErrKindServer ProviderErrKind = iota
	ErrKindRateLimited
	ErrKindQuotaExceeded
	ErrKindAuthExpired
	ErrKindNotFound
)

func (k ProviderErrKind) String() string {
	switch k {
	case ErrKindRateLimited:
		return "rate_limited"
	case ErrKindQuotaExceeded:
		return "quota_exceeded"
	case ErrKindAuthExpired:
		return "auth_expired"
	case ErrKindNotFound:
		return "not_found"
	default:
		return "server"
	}
}

// ProviderError wraps a remote failure with its classification.
type ProviderError struct {
	Provider string
	Kind     ProviderErrKind
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Provider, e.Message, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Kind)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError builds a classified provider error.
func NewProviderError(provider string, kind ProviderErrKind, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Message: message, Err: err}
}

// KindOf returns the classification of err, or ErrKindServer for
// unclassified errors.
func KindOf(err error) ProviderErrKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrKindServer
}

// IsRateLimited reports whether err is a rate-limit signal.
func IsRateLimited(err error) bool {
	return err != nil && KindOf(err) == ErrKindRateLimited
}

// IsQuotaExceeded reports whether err is a quota-exhaustion signal.
func IsQuotaExceeded(err error) bool {
	return err != nil && KindOf(err) == ErrKindQuotaExceeded
}
