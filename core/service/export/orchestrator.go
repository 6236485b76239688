package export

import (
	"context"
	"errors"
	"fmt"

	"github.com/loopxjstar/Get-Gmails/core/domain"
	"github.com/loopxjstar/Get-Gmails/core/port/out"
	"github.com/loopxjstar/Get-Gmails/pkg/apperr"
	"github.com/loopxjstar/Get-Gmails/pkg/logger"
)

// ProviderFactory resolves a session into a ready mail provider,
// refreshing the session's credential first. It is called once per job,
// up front, so stale credentials fail the job before any listing starts.
type ProviderFactory func(ctx context.Context, sessionID string) (out.MailProvider, error)

// Runner executes job functions on a bounded pool. Run returns false
// when the queue is saturated and the job could not be accepted.
type Runner interface {
	Run(jobID string, fn func(ctx context.Context)) bool
}

// syncRunner executes jobs inline, for tests.
type syncRunner struct{}

func (syncRunner) Run(_ string, fn func(ctx context.Context)) bool {
	fn(context.Background())
	return true
}

// Orchestrator validates export requests, registers jobs and drives the
// month pipeline to a terminal status.
type Orchestrator struct {
	registry *Registry
	factory  ProviderFactory
	runner   Runner
	cfg      Config
	log      *logger.Logger
}

func NewOrchestrator(registry *Registry, factory ProviderFactory, runner Runner, cfg Config, log *logger.Logger) *Orchestrator {
	if runner == nil {
		runner = syncRunner{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &Orchestrator{registry: registry, factory: factory, runner: runner, cfg: cfg, log: log}
}

// Submit validates the request and starts (or coalesces onto) a job.
// The returned snapshot is the job to poll; created is false when an
// identical export was already in flight.
func (o *Orchestrator) Submit(sess *domain.Session, req domain.ExportRequest) (domain.ExportJob, bool, error) {
	if err := o.validate(req); err != nil {
		return domain.ExportJob{}, false, err
	}

	months := req.Months(o.cfg.WindowEnd)
	job, created := o.registry.Create(sess.Email, sess.ID, req, months)
	if !created {
		o.log.WithJob(job.ID).WithField("account", sess.Email).
			Info("duplicate export coalesced onto running job")
		return job, false, nil
	}

	jlog := o.log.WithJob(job.ID)
	jlog.WithField("account", sess.Email).
		WithField("mode", string(req.Mode)).
		WithField("months", len(months)).
		Info("export job accepted")

	if !o.runner.Run(job.ID, func(ctx context.Context) { o.execute(ctx, job.ID) }) {
		o.registry.Remove(job.ID)
		jlog.Warn("export queue saturated, job rejected")
		return domain.ExportJob{}, false, apperr.Internal("export queue is full, try again shortly")
	}
	return job, true, nil
}

func (o *Orchestrator) validate(req domain.ExportRequest) error {
	switch req.Mode {
	case domain.ModeSingle, domain.ModeCombined:
	default:
		return apperr.InvalidInput("mode", "must be single or combined")
	}
	if req.StartMonth < 1 || req.StartMonth > 12 {
		return apperr.InvalidInput("month", "must be between 1 and 12")
	}
	start := domain.MonthKey{Month: req.StartMonth, Year: req.StartYear}
	if start.Before(o.cfg.WindowStart) || start.After(o.cfg.WindowEnd) {
		return apperr.OutsideWindow(fmt.Sprintf(
			"exports are limited to %s %d through %s %d",
			o.cfg.WindowStart.Name(), o.cfg.WindowStart.Year,
			o.cfg.WindowEnd.Name(), o.cfg.WindowEnd.Year))
	}
	return nil
}

// execute runs the job to a terminal status. It owns all mutations of
// the job through the registry.
func (o *Orchestrator) execute(runCtx context.Context, jobID string) {
	ctx, cancel := context.WithCancel(runCtx)
	defer cancel()
	o.registry.BindCancel(jobID, cancel)

	job, ok := o.registry.Get(jobID)
	if !ok {
		return
	}
	jlog := o.log.WithJob(jobID)
	sink := registrySink{registry: o.registry, jobID: jobID}

	sink.Report(5, "Refreshing credentials...")
	provider, err := o.factory(ctx, job.SessionID)
	if err != nil {
		jlog.WithError(err).Error("credential refresh failed")
		o.registry.Fail(jobID, failureMessage(err))
		return
	}
	sink.Report(10, "Connecting to mail service...")

	fetcher := NewPageFetcher(provider, o.cfg, jlog)
	normalizer := NewNormalizer(provider, o.cfg, jlog)
	processor := NewMonthProcessor(fetcher, normalizer, o.cfg, jlog)

	var (
		records   []domain.EmailRecord
		artifacts []domain.Artifact
		truncated bool
	)
	span := 85.0 / float64(len(job.Months))

	for i, month := range job.Months {
		o.registry.SetCurrentMonth(jobID, i)
		base := 10 + span*float64(i)
		sink.Report(base, fmt.Sprintf("Exporting %s %d...", month.Name(), month.Year))

		res, err := processor.Process(ctx, month, sink, base, span)
		if err != nil {
			jlog.WithField("month", month.String()).WithError(err).Error("month failed")
			o.registry.Fail(jobID, failureMessage(err))
			return
		}
		records = append(records, res.Records...)
		truncated = truncated || res.Truncated

		if job.Request.Mode == domain.ModeSingle {
			art, err := BuildArtifact(job.AccountEmail, month, month, res.Records)
			if err != nil {
				o.registry.Fail(jobID, failureMessage(err))
				return
			}
			artifacts = append(artifacts, art)
		}
	}

	if job.Request.Mode == domain.ModeCombined {
		sink.Report(95, "Generating CSV...")
		from := job.Months[0]
		to := job.Months[len(job.Months)-1]
		art, err := BuildArtifact(job.AccountEmail, from, to, records)
		if err != nil {
			o.registry.Fail(jobID, failureMessage(err))
			return
		}
		artifacts = append(artifacts, art)
	}

	msg := fmt.Sprintf("Export complete: %d records.", len(records))
	if truncated {
		msg = fmt.Sprintf("Export complete: %d records (partial, quota ran out).", len(records))
	}
	o.registry.Complete(jobID, artifacts, len(records), msg)
	jlog.WithField("records", len(records)).
		WithField("artifacts", len(artifacts)).
		Info("export job completed")
}

// failureMessage converts a pipeline error into the user-facing reason
// stored on the failed job.
func failureMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return "Export canceled."
	}
	var ae *apperr.AppError
	if errors.As(err, &ae) {
		return ae.Message
	}
	switch out.KindOf(err) {
	case out.ErrKindAuthExpired:
		return "Authentication expired. Please sign in again."
	case out.ErrKindRateLimited:
		return "Mail API rate limit persisted after retries. Try again later."
	case out.ErrKindQuotaExceeded:
		return "Mail API quota exhausted. Try again tomorrow."
	default:
		return "Export failed: " + err.Error()
	}
}

// registrySink routes pipeline progress into the registry.
type registrySink struct {
	registry *Registry
	jobID    string
}

func (s registrySink) Report(progress float64, message string) {
	s.registry.SetProgress(s.jobID, progress, message)
}
