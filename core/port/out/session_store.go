package out

import (
	"context"
	"errors"
	"time"

	"github.com/loopxjstar/Get-Gmails/core/domain"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore holds authenticated sessions with a TTL. Entries never
// outlive the configured TTL; the in-memory implementation evicts with a
// janitor, the redis implementation relies on key expiry.
type SessionStore interface {
	Put(ctx context.Context, s *domain.Session, ttl time.Duration) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
}
