package export

import (
	"context"
	"fmt"

	"github.com/loopxjstar/Get-Gmails/core/domain"
	"github.com/loopxjstar/Get-Gmails/core/port/out"
	"github.com/loopxjstar/Get-Gmails/pkg/logger"
)

// PageFetcher walks the provider's sent-mail listing for one calendar
// month and accumulates message ids across pages.
type PageFetcher struct {
	provider out.MailProvider
	cfg      Config
	log      *logger.Logger
}

func NewPageFetcher(provider out.MailProvider, cfg Config, log *logger.Logger) *PageFetcher {
	if log == nil {
		log = logger.Default()
	}
	return &PageFetcher{provider: provider, cfg: cfg, log: log}
}

// FetchMonth lists every sent-message id in the month. Progress for the
// listing stage occupies [base, base+span).
//
// Rate-limit responses are retried with exponential backoff starting at
// the configured base; when the retry budget is exhausted the error is
// returned and the month (and job) fails. Quota exhaustion during
// listing is fatal immediately. Any other provider error ends the
// listing early and returns the ids collected so far.
func (f *PageFetcher) FetchMonth(ctx context.Context, month domain.MonthKey, sink ProgressSink, base, span float64) ([]string, error) {
	if sink == nil {
		sink = nopSink{}
	}

	var (
		ids       []string
		pageToken string
		page      int
		retries   int
	)

	for {
		if err := ctx.Err(); err != nil {
			return ids, err
		}

		res, err := f.provider.ListSentPage(ctx, out.ListQuery{
			After:     month.Start(),
			Before:    month.End(),
			PageToken: pageToken,
			PageSize:  f.cfg.PageSize,
		})
		if err != nil {
			switch out.KindOf(err) {
			case out.ErrKindRateLimited:
				retries++
				if retries > f.cfg.ListRetryMax {
					f.log.WithField("month", month.String()).WithError(err).
						Error("listing rate limit retries exhausted")
					return ids, err
				}
				wait := f.cfg.ListRetryBase << (retries - 1)
				f.log.WithField("month", month.String()).
					WithField("attempt", retries).
					WithField("wait", wait.String()).
					Warn("listing rate limited, backing off")
				sink.Report(base, fmt.Sprintf("Rate limited while listing %s, waiting %s...", month.Name(), wait))
				if serr := sleep(ctx, wait); serr != nil {
					return ids, serr
				}
				continue
			case out.ErrKindQuotaExceeded:
				f.log.WithField("month", month.String()).WithError(err).
					Error("quota exceeded during listing")
				return ids, err
			default:
				if ctx.Err() != nil {
					return ids, ctx.Err()
				}
				// Partial listing is still useful. Keep what we have.
				f.log.WithField("month", month.String()).
					WithField("pages", page).
					WithError(err).
					Warn("listing ended early, keeping collected ids")
				return ids, nil
			}
		}
		retries = 0
		page++

		ids = append(ids, res.IDs...)

		p := base + span*float64(page)*0.05
		if max := base + span; p > max {
			p = max
		}
		sink.Report(p, fmt.Sprintf("Listing %s: %d messages across %d pages...", month.Name(), len(ids), page))

		if res.NextPageToken == "" {
			break
		}
		pageToken = res.NextPageToken

		if err := sleep(ctx, f.cfg.PageDelay); err != nil {
			return ids, err
		}
	}

	f.log.WithField("month", month.String()).
		WithField("messages", len(ids)).
		WithField("pages", page).
		Info("listing complete")
	return ids, nil
}
