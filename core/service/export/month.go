package export

import (
	"context"
	"errors"
	"fmt"

	"github.com/loopxjstar/Get-Gmails/core/domain"
	"github.com/loopxjstar/Get-Gmails/pkg/logger"
)

// MonthResult carries one month's normalized records. Truncated is set
// when quota ran out mid-month and later ids were left unfetched.
type MonthResult struct {
	Records   []domain.EmailRecord
	Truncated bool
}

// MonthProcessor runs the full pipeline for a single calendar month:
// list ids, then fetch and normalize each message sequentially.
type MonthProcessor struct {
	fetcher    *PageFetcher
	normalizer *Normalizer
	cfg        Config
	log        *logger.Logger
}

func NewMonthProcessor(fetcher *PageFetcher, normalizer *Normalizer, cfg Config, log *logger.Logger) *MonthProcessor {
	if log == nil {
		log = logger.Default()
	}
	return &MonthProcessor{fetcher: fetcher, normalizer: normalizer, cfg: cfg, log: log}
}

// Process exports one month, reporting progress inside [base, base+span).
// The listing stage takes the first third of the slice, the message
// stage the rest.
func (p *MonthProcessor) Process(ctx context.Context, month domain.MonthKey, sink ProgressSink, base, span float64) (*MonthResult, error) {
	if sink == nil {
		sink = nopSink{}
	}

	listSpan := span * 0.3
	ids, err := p.fetcher.FetchMonth(ctx, month, sink, base, listSpan)
	if err != nil {
		return nil, err
	}

	res := &MonthResult{}
	msgBase := base + listSpan
	msgSpan := span - listSpan

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := p.normalizer.Normalize(ctx, id)
		if errors.Is(err, ErrQuotaStop) {
			p.log.WithField("month", month.String()).
				WithField("fetched", i).
				WithField("remaining", len(ids)-i).
				Warn("quota exhausted mid-month, keeping collected records")
			res.Truncated = true
			break
		}
		if err != nil {
			return nil, err
		}
		if rec != nil {
			res.Records = append(res.Records, *rec)
		}

		if (i+1)%10 == 0 || i+1 == len(ids) {
			sink.Report(msgBase+msgSpan*float64(i+1)/float64(len(ids)),
				fmt.Sprintf("Processing %s: %d/%d messages...", month.Name(), i+1, len(ids)))
		}

		if i+1 < len(ids) {
			if err := sleep(ctx, p.cfg.MessageDelay); err != nil {
				return nil, err
			}
		}
	}

	p.log.WithField("month", month.String()).
		WithField("records", len(res.Records)).
		WithField("truncated", res.Truncated).
		Info("month processed")
	return res, nil
}
