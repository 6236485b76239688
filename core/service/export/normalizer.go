package export

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/loopxjstar/Get-Gmails/core/domain"
	"github.com/loopxjstar/Get-Gmails/core/port/out"
	"github.com/loopxjstar/Get-Gmails/pkg/logger"
)

// ErrQuotaStop signals that the provider quota ran out mid-month. The
// month processor stops fetching further messages but keeps everything
// normalized so far.
var ErrQuotaStop = errors.New("provider quota exhausted")

// istZone is the fixed +05:30 offset used for all exported timestamps.
var istZone = time.FixedZone("IST", 5*3600+30*60)

const sentDateLayout = "02/01/2006 15:04:05"

// Normalizer fetches message metadata and turns it into export records.
type Normalizer struct {
	provider out.MailProvider
	cfg      Config
	log      *logger.Logger
}

func NewNormalizer(provider out.MailProvider, cfg Config, log *logger.Logger) *Normalizer {
	if log == nil {
		log = logger.Default()
	}
	return &Normalizer{provider: provider, cfg: cfg, log: log}
}

// Normalize resolves one message id into a record. A nil record with a
// nil error means the message was skipped (unparseable, filtered, or
// persistently rate limited). ErrQuotaStop means the caller should stop
// the month while keeping prior records.
func (n *Normalizer) Normalize(ctx context.Context, id string) (*domain.EmailRecord, error) {
	msg, err := n.provider.GetMessage(ctx, id)
	if err != nil && out.IsRateLimited(err) {
		if serr := sleep(ctx, n.cfg.MessageRetryWait); serr != nil {
			return nil, serr
		}
		msg, err = n.provider.GetMessage(ctx, id)
	}
	if err != nil {
		switch out.KindOf(err) {
		case out.ErrKindQuotaExceeded:
			return nil, ErrQuotaStop
		case out.ErrKindRateLimited:
			n.log.WithField("message_id", id).Warn("message still rate limited after retry, skipping")
			return nil, nil
		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			n.log.WithField("message_id", id).WithError(err).Warn("message fetch failed, skipping")
			return nil, nil
		}
	}

	name, email, ok := parseRecipient(msg.To)
	if !ok {
		n.log.WithField("message_id", id).Debug("message has no parseable recipient, skipping")
		return nil, nil
	}
	if n.excluded(email) {
		return nil, nil
	}
	if msg.InternalDate <= 0 {
		n.log.WithField("message_id", id).Debug("message has no internal date, skipping")
		return nil, nil
	}

	return &domain.EmailRecord{
		SentDate:       formatIST(msg.InternalDate),
		RecipientName:  name,
		RecipientEmail: email,
		ThreadID:       msg.ThreadID,
		MessageID:      msg.ID,
		SentAtMillis:   msg.InternalDate,
	}, nil
}

func (n *Normalizer) excluded(email string) bool {
	if n.cfg.ExcludedDomain == "" {
		return false
	}
	suffix := "@" + strings.TrimPrefix(strings.ToLower(n.cfg.ExcludedDomain), "@")
	return strings.HasSuffix(strings.ToLower(email), suffix)
}

// parseRecipient extracts the first recipient from a To header. Accepts
// `"Display Name" <addr>`, `Display Name <addr>` and bare `addr` forms;
// when no display name is present the full address stands in for it.
func parseRecipient(to string) (name, email string, ok bool) {
	first := strings.TrimSpace(strings.SplitN(to, ",", 2)[0])
	if first == "" {
		return "", "", false
	}

	if open := strings.LastIndex(first, "<"); open >= 0 {
		end := strings.Index(first[open:], ">")
		if end < 0 {
			return "", "", false
		}
		email = strings.TrimSpace(first[open+1 : open+end])
		name = strings.Trim(strings.TrimSpace(first[:open]), `"'`)
	} else {
		email = first
	}

	if email == "" || !strings.Contains(email, "@") {
		return "", "", false
	}
	if name == "" {
		name = email
	}
	return name, email, true
}

// formatIST renders an epoch-millisecond instant in the fixed +05:30
// zone as dd/mm/yyyy hh:mm:ss.
func formatIST(ms int64) string {
	return time.UnixMilli(ms).In(istZone).Format(sentDateLayout)
}
