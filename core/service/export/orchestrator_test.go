package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/loopxjstar/Get-Gmails/core/domain"
	"github.com/loopxjstar/Get-Gmails/core/port/out"
	"github.com/loopxjstar/Get-Gmails/pkg/apperr"
)

func testSession() *domain.Session {
	return &domain.Session{ID: "sess-1", Email: "tester@gmail.com"}
}

func newTestOrchestrator(t *testing.T, provider out.MailProvider, runner Runner) (*Orchestrator, *Registry) {
	t.Helper()
	r := NewRegistry(time.Hour, 0)
	t.Cleanup(r.Close)
	factory := func(ctx context.Context, sessionID string) (out.MailProvider, error) {
		return provider, nil
	}
	return NewOrchestrator(r, factory, runner, fastConfig(), nil), r
}

func TestSubmitValidation(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newFakeProvider(), nil)

	tests := []struct {
		name     string
		req      domain.ExportRequest
		wantCode string
	}{
		{"bad mode", domain.ExportRequest{StartMonth: 3, StartYear: 2025, Mode: "weekly"}, apperr.CodeInvalidInput},
		{"month out of range", domain.ExportRequest{StartMonth: 13, StartYear: 2025, Mode: domain.ModeSingle}, apperr.CodeInvalidInput},
		{"before window", domain.ExportRequest{StartMonth: 11, StartYear: 2024, Mode: domain.ModeSingle}, apperr.CodeOutsideWindow},
		{"after window", domain.ExportRequest{StartMonth: 8, StartYear: 2025, Mode: domain.ModeSingle}, apperr.CodeOutsideWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := orch.Submit(testSession(), tt.req)
			ae := apperr.AsAppError(err)
			if ae == nil || ae.Code != tt.wantCode {
				t.Errorf("Submit() err = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestSingleMonthExport(t *testing.T) {
	fake := newFakeProvider()
	fake.listScript = []listStep{{page: out.ListPage{IDs: []string{"m1", "m2", "m3"}}}}
	fake.addMessage(out.MailMessage{ID: "m1", ThreadID: "t1", To: `"A" <a@keep.com>`, InternalDate: 1000})
	fake.addMessage(out.MailMessage{ID: "m2", ThreadID: "t2", To: `"B" <b@corp.example>`, InternalDate: 2000})
	fake.addMessage(out.MailMessage{ID: "m3", ThreadID: "t3", To: `"C" <c@keep.com>`, InternalDate: 3000})

	r := NewRegistry(time.Hour, 0)
	defer r.Close()
	cfg := fastConfig()
	cfg.ExcludedDomain = "corp.example"
	orch := NewOrchestrator(r, func(ctx context.Context, _ string) (out.MailProvider, error) {
		return fake, nil
	}, nil, cfg, nil)

	job, created, err := orch.Submit(testSession(), domain.ExportRequest{StartMonth: 3, StartYear: 2025, Mode: domain.ModeSingle})
	if err != nil || !created {
		t.Fatalf("Submit() = created %v, err %v", created, err)
	}

	got, _ := r.Get(job.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("Status = %v (%s), want completed", got.Status, got.Message)
	}
	if got.Progress != 100 {
		t.Errorf("Progress = %v, want exactly 100", got.Progress)
	}
	if got.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2 (excluded recipient dropped)", got.TotalRecords)
	}
	if len(got.Artifacts) != 1 {
		t.Fatalf("Artifacts = %d, want 1", len(got.Artifacts))
	}
	if got.Artifacts[0].Filename != "tester_march_2025.csv" {
		t.Errorf("Filename = %q", got.Artifacts[0].Filename)
	}
}

func TestCombinedExportSpansMonths(t *testing.T) {
	fake := newFakeProvider()
	fake.listScript = []listStep{
		{page: out.ListPage{IDs: []string{"jun1"}}},
		{page: out.ListPage{IDs: []string{"jul1"}}},
	}
	fake.addMessage(out.MailMessage{ID: "jun1", ThreadID: "t1", To: "a@x.com", InternalDate: 1000})
	fake.addMessage(out.MailMessage{ID: "jul1", ThreadID: "t2", To: "b@x.com", InternalDate: 2000})

	orch, r := newTestOrchestrator(t, fake, nil)
	job, _, err := orch.Submit(testSession(), domain.ExportRequest{StartMonth: 6, StartYear: 2025, Mode: domain.ModeCombined})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	got, _ := r.Get(job.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("Status = %v (%s), want completed", got.Status, got.Message)
	}
	if len(got.Months) != 2 {
		t.Errorf("Months = %v, want june and july", got.Months)
	}
	if len(got.Artifacts) != 1 {
		t.Fatalf("Artifacts = %d, want single combined artifact", len(got.Artifacts))
	}
	art := got.Artifacts[0]
	if art.Filename != "tester_june_2025_to_july_2025.csv" {
		t.Errorf("Filename = %q", art.Filename)
	}
	if art.RecordCount != 2 {
		t.Errorf("RecordCount = %d, want 2", art.RecordCount)
	}
}

func TestListingQuotaFailsJob(t *testing.T) {
	fake := newFakeProvider()
	fake.listScript = []listStep{
		{err: out.NewProviderError("fake", out.ErrKindQuotaExceeded, "quota", nil)},
	}

	orch, r := newTestOrchestrator(t, fake, nil)
	job, _, err := orch.Submit(testSession(), domain.ExportRequest{StartMonth: 3, StartYear: 2025, Mode: domain.ModeSingle})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	got, _ := r.Get(job.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("Status = %v, want failed", got.Status)
	}
	if !strings.Contains(got.Message, "quota") {
		t.Errorf("Message = %q, want quota explanation", got.Message)
	}
}

func TestFailureMessageByErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"canceled", context.Canceled, "canceled"},
		{"app error keeps its message", apperr.TokenExpired(nil), "re-authentication"},
		{"auth expired", out.NewProviderError("fake", out.ErrKindAuthExpired, "401", nil), "sign in"},
		{"rate limited", out.NewProviderError("fake", out.ErrKindRateLimited, "429", nil), "rate limit"},
		{"quota", out.NewProviderError("fake", out.ErrKindQuotaExceeded, "403", nil), "quota"},
		{"plain error", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := failureMessage(tt.err); !strings.Contains(got, tt.want) {
				t.Errorf("failureMessage(%v) = %q, want it to mention %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestMessageQuotaTruncatesButCompletes(t *testing.T) {
	fake := newFakeProvider()
	fake.listScript = []listStep{{page: out.ListPage{IDs: []string{"m1", "m2", "m3"}}}}
	fake.addMessage(out.MailMessage{ID: "m1", ThreadID: "t1", To: "a@x.com", InternalDate: 1000})
	fake.msgErrs["m2"] = []error{out.NewProviderError("fake", out.ErrKindQuotaExceeded, "quota", nil)}
	fake.addMessage(out.MailMessage{ID: "m3", ThreadID: "t3", To: "c@x.com", InternalDate: 3000})

	orch, r := newTestOrchestrator(t, fake, nil)
	job, _, err := orch.Submit(testSession(), domain.ExportRequest{StartMonth: 3, StartYear: 2025, Mode: domain.ModeSingle})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	got, _ := r.Get(job.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("Status = %v (%s), want completed with truncation", got.Status, got.Message)
	}
	if got.TotalRecords != 1 {
		t.Errorf("TotalRecords = %d, want the one collected before quota", got.TotalRecords)
	}
	if !strings.Contains(got.Message, "partial") {
		t.Errorf("Message = %q, want partial marker", got.Message)
	}
}

func TestListRetryExhaustionFailsJob(t *testing.T) {
	fake := newFakeProvider()
	rl := out.NewProviderError("fake", out.ErrKindRateLimited, "slow down", nil)
	fake.listScript = []listStep{{err: rl}, {err: rl}, {err: rl}, {err: rl}}

	orch, r := newTestOrchestrator(t, fake, nil)
	job, _, err := orch.Submit(testSession(), domain.ExportRequest{StartMonth: 3, StartYear: 2025, Mode: domain.ModeSingle})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	got, _ := r.Get(job.ID)
	if got.Status != domain.StatusFailed {
		t.Errorf("Status = %v, want failed after retry exhaustion", got.Status)
	}
}

func TestCredentialRefreshFailureFailsJob(t *testing.T) {
	r := NewRegistry(time.Hour, 0)
	defer r.Close()
	orch := NewOrchestrator(r, func(ctx context.Context, _ string) (out.MailProvider, error) {
		return nil, apperr.TokenExpired(nil)
	}, nil, fastConfig(), nil)

	job, _, err := orch.Submit(testSession(), domain.ExportRequest{StartMonth: 3, StartYear: 2025, Mode: domain.ModeSingle})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	got, _ := r.Get(job.ID)
	if got.Status != domain.StatusFailed {
		t.Errorf("Status = %v, want failed", got.Status)
	}
}

// holdRunner accepts jobs but never runs them, keeping jobs in flight.
type holdRunner struct{ held []string }

func (h *holdRunner) Run(jobID string, _ func(ctx context.Context)) bool {
	h.held = append(h.held, jobID)
	return true
}

func TestDuplicateSubmissionsCoalesce(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newFakeProvider(), &holdRunner{})

	req := domain.ExportRequest{StartMonth: 3, StartYear: 2025, Mode: domain.ModeSingle}
	first, created, err := orch.Submit(testSession(), req)
	if err != nil || !created {
		t.Fatalf("first Submit() = created %v, err %v", created, err)
	}
	second, created, err := orch.Submit(testSession(), req)
	if err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}
	if created || second.ID != first.ID {
		t.Errorf("duplicate = (id %q, created %v), want coalesced onto %q", second.ID, created, first.ID)
	}
}

// rejectRunner simulates a saturated queue.
type rejectRunner struct{}

func (rejectRunner) Run(string, func(ctx context.Context)) bool { return false }

func TestSaturatedQueueRejectsAndCleansUp(t *testing.T) {
	orch, r := newTestOrchestrator(t, newFakeProvider(), rejectRunner{})

	req := domain.ExportRequest{StartMonth: 3, StartYear: 2025, Mode: domain.ModeSingle}
	_, _, err := orch.Submit(testSession(), req)
	if err == nil {
		t.Fatal("Submit() must error when the queue rejects the job")
	}

	// The rejected job must not linger and block resubmission.
	_, _, err = orch.Submit(testSession(), req)
	if err == nil {
		t.Error("resubmission should hit the saturated queue again, not coalesce")
	}
	if n := len(r.inflight); n != 0 {
		t.Errorf("inflight entries = %d, want 0 after rejection cleanup", n)
	}
}

// blockingProvider parks listing until the context is canceled.
type blockingProvider struct {
	started chan struct{}
}

func (p *blockingProvider) Profile(ctx context.Context) (string, error) { return "t@g.com", nil }

func (p *blockingProvider) ListSentPage(ctx context.Context, q out.ListQuery) (*out.ListPage, error) {
	close(p.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *blockingProvider) GetMessage(ctx context.Context, id string) (*out.MailMessage, error) {
	return nil, ctx.Err()
}

// asyncRunner executes jobs on their own goroutine, like the real pool.
type asyncRunner struct{}

func (asyncRunner) Run(_ string, fn func(ctx context.Context)) bool {
	go fn(context.Background())
	return true
}

func TestCancelRunningJob(t *testing.T) {
	provider := &blockingProvider{started: make(chan struct{})}
	orch, r := newTestOrchestrator(t, provider, asyncRunner{})

	job, _, err := orch.Submit(testSession(), domain.ExportRequest{StartMonth: 3, StartYear: 2025, Mode: domain.ModeSingle})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case <-provider.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never reached the provider")
	}

	if !r.Cancel(job.ID) {
		t.Fatal("Cancel() must succeed on a running job")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, _ := r.Get(job.ID)
		if got.Status.Terminal() {
			if got.Status != domain.StatusFailed || !strings.Contains(got.Message, "canceled") {
				t.Errorf("terminal = (%v, %q), want failed with cancel message", got.Status, got.Message)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("job never reached a terminal status after cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProgressNeverRegresses(t *testing.T) {
	fake := newFakeProvider()
	fake.listScript = []listStep{
		{page: out.ListPage{IDs: []string{"m1"}, NextPageToken: "p2"}},
		{page: out.ListPage{IDs: []string{"m2"}}},
	}
	fake.addMessage(out.MailMessage{ID: "m1", To: "a@x.com", InternalDate: 1000})
	fake.addMessage(out.MailMessage{ID: "m2", To: "b@x.com", InternalDate: 2000})

	r := NewRegistry(time.Hour, 0)
	defer r.Close()

	var seen []float64
	runner := snapshotRunner{registry: r, seen: &seen}
	orch := NewOrchestrator(r, func(ctx context.Context, _ string) (out.MailProvider, error) {
		return fake, nil
	}, runner, fastConfig(), nil)

	job, _, err := orch.Submit(testSession(), domain.ExportRequest{StartMonth: 3, StartYear: 2025, Mode: domain.ModeSingle})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Errorf("progress regressed: %v -> %v", seen[i-1], seen[i])
		}
	}
	got, _ := r.Get(job.ID)
	if got.Progress != 100 {
		t.Errorf("final progress = %v, want exactly 100", got.Progress)
	}
}

// snapshotRunner runs inline, sampling registry progress around the run.
type snapshotRunner struct {
	registry *Registry
	seen     *[]float64
}

func (r snapshotRunner) Run(jobID string, fn func(ctx context.Context)) bool {
	sample := func() {
		if j, ok := r.registry.Get(jobID); ok {
			*r.seen = append(*r.seen, j.Progress)
		}
	}
	sample()
	fn(context.Background())
	sample()
	return true
}
