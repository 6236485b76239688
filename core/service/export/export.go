// Package export implements the sent-mail CSV export pipeline: page
// fetching, message normalization, month processing and job orchestration.
package export

import (
	"context"
	"time"

	"github.com/loopxjstar/Get-Gmails/core/domain"
)

// Config carries the pipeline knobs. Durations are injectable so tests
// run with millisecond backoffs.
type Config struct {
	// Allowed export window, inclusive.
	WindowStart domain.MonthKey
	WindowEnd   domain.MonthKey

	// Recipient suffix filter, case-insensitive. Empty disables it.
	ExcludedDomain string

	// Listing stage.
	PageSize      int64
	PageDelay     time.Duration
	ListRetryBase time.Duration
	ListRetryMax  int

	// Message stage.
	MessageDelay     time.Duration
	MessageRetryWait time.Duration
}

// DefaultConfig matches the production pacing: 500-id pages, 100ms page
// pause, 50ms message pause, 60s listing backoff base with 5 attempts,
// 30s single message retry.
func DefaultConfig() Config {
	return Config{
		WindowStart:      domain.MonthKey{Month: 12, Year: 2024},
		WindowEnd:        domain.MonthKey{Month: 7, Year: 2025},
		PageSize:         500,
		PageDelay:        100 * time.Millisecond,
		ListRetryBase:    60 * time.Second,
		ListRetryMax:     5,
		MessageDelay:     50 * time.Millisecond,
		MessageRetryWait: 30 * time.Second,
	}
}

// ProgressSink receives incremental job feedback. Implementations must be
// safe for use from the job's execution goroutine while status queries
// read concurrently.
type ProgressSink interface {
	Report(progress float64, message string)
}

// nopSink discards progress, for tests.
type nopSink struct{}

func (nopSink) Report(float64, string) {}

// sleep waits for d or until the context is canceled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
