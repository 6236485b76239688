package export

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loopxjstar/Get-Gmails/core/domain"
)

// Registry is the in-memory job table. Reads return snapshots so status
// polling never observes a job mid-mutation, and terminal jobs are
// evicted by a janitor after their retention window.
type Registry struct {
	mu       sync.RWMutex
	jobs     map[string]*jobEntry
	inflight map[string]string // dedupe key -> running job id

	ttl       time.Duration
	stop      chan struct{}
	closeOnce sync.Once
}

type jobEntry struct {
	job       domain.ExportJob
	cancel    context.CancelFunc
	dedupeKey string
}

// NewRegistry builds a registry retaining finished jobs for ttl. A
// non-positive sweep interval disables the janitor, which tests rely on.
func NewRegistry(ttl, sweep time.Duration) *Registry {
	r := &Registry{
		jobs:     make(map[string]*jobEntry),
		inflight: make(map[string]string),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	if sweep > 0 {
		go r.janitor(sweep)
	}
	return r
}

// Close stops the janitor.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.stop) })
}

// dedupeKey identifies logically identical exports for coalescing.
func dedupeKey(accountEmail string, req domain.ExportRequest) string {
	return fmt.Sprintf("%s|%s|%02d-%04d", accountEmail, req.Mode, req.StartMonth, req.StartYear)
}

// Create registers a new processing job for the request, unless an
// identical export is already running, in which case the running job's
// id is returned with created=false.
func (r *Registry) Create(accountEmail, sessionID string, req domain.ExportRequest, months []domain.MonthKey) (job domain.ExportJob, created bool) {
	key := dedupeKey(accountEmail, req)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.inflight[key]; ok {
		if e, ok := r.jobs[existing]; ok && !e.job.Status.Terminal() {
			return snapshot(e), false
		}
		delete(r.inflight, key)
	}

	j := domain.ExportJob{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		AccountEmail: accountEmail,
		Request:      req,
		Months:       months,
		Status:       domain.StatusProcessing,
		Message:      "Export started...",
		CreatedAt:    time.Now(),
	}
	r.jobs[j.ID] = &jobEntry{job: j, dedupeKey: key}
	r.inflight[key] = j.ID
	return j, true
}

// Get returns a copy of the job.
func (r *Registry) Get(id string) (domain.ExportJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	if !ok {
		return domain.ExportJob{}, false
	}
	return snapshot(e), true
}

// BindCancel attaches the running job's cancel function.
func (r *Registry) BindCancel(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.jobs[id]; ok {
		e.cancel = cancel
	}
}

// Cancel requests cancellation of a running job. Returns false when the
// job does not exist or is already terminal.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok || e.job.Status.Terminal() || e.cancel == nil {
		return false
	}
	e.cancel()
	return true
}

// SetProgress updates a running job. Progress only ever moves forward;
// a stale lower value keeps the current number while still refreshing
// the message.
func (r *Registry) SetProgress(id string, progress float64, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok || e.job.Status.Terminal() {
		return
	}
	if progress > e.job.Progress {
		e.job.Progress = progress
	}
	if message != "" {
		e.job.Message = message
	}
}

// SetCurrentMonth records which month of the plan is being processed.
func (r *Registry) SetCurrentMonth(id string, idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.jobs[id]; ok && !e.job.Status.Terminal() {
		e.job.CurrentMonth = idx
	}
}

// Complete marks the job done with its artifacts.
func (r *Registry) Complete(id string, artifacts []domain.Artifact, totalRecords int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok || e.job.Status.Terminal() {
		return
	}
	e.job.Status = domain.StatusCompleted
	e.job.Progress = 100
	e.job.Message = message
	e.job.Artifacts = artifacts
	e.job.TotalRecords = totalRecords
	e.job.FinishedAt = time.Now()
	delete(r.inflight, e.dedupeKey)
}

// Fail marks the job failed with a user-facing reason.
func (r *Registry) Fail(id, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok || e.job.Status.Terminal() {
		return
	}
	e.job.Status = domain.StatusFailed
	e.job.Message = reason
	e.job.FinishedAt = time.Now()
	delete(r.inflight, e.dedupeKey)
}

// Remove drops a job outright, used when a job could not be queued.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.jobs[id]; ok {
		delete(r.inflight, e.dedupeKey)
		delete(r.jobs, id)
	}
}

func (r *Registry) janitor(sweep time.Duration) {
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.evictExpired(time.Now())
		}
	}
}

func (r *Registry) evictExpired(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.jobs {
		if e.job.Status.Terminal() && !e.job.FinishedAt.IsZero() && now.Sub(e.job.FinishedAt) > r.ttl {
			delete(r.jobs, id)
		}
	}
}

func snapshot(e *jobEntry) domain.ExportJob {
	j := e.job
	if len(j.Months) > 0 {
		j.Months = append([]domain.MonthKey(nil), j.Months...)
	}
	if len(j.Artifacts) > 0 {
		j.Artifacts = append([]domain.Artifact(nil), j.Artifacts...)
	}
	return j
}
