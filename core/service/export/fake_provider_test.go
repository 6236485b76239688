package export

import (
	"context"
	"sync"
	"time"

	"github.com/loopxjstar/Get-Gmails/core/port/out"
)

// listStep is one scripted ListSentPage response.
type listStep struct {
	page out.ListPage
	err  error
}

// fakeProvider replays scripted responses. List calls consume listScript
// in order; message fetches consume the per-id error script before
// returning the stored message.
type fakeProvider struct {
	mu sync.Mutex

	email      string
	listScript []listStep
	messages   map[string]out.MailMessage
	msgErrs    map[string][]error

	listCalls int
	getCalls  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		email:    "tester@gmail.com",
		messages: make(map[string]out.MailMessage),
		msgErrs:  make(map[string][]error),
	}
}

func (f *fakeProvider) addMessage(m out.MailMessage) {
	f.messages[m.ID] = m
}

func (f *fakeProvider) Profile(ctx context.Context) (string, error) {
	return f.email, nil
}

func (f *fakeProvider) ListSentPage(ctx context.Context, q out.ListQuery) (*out.ListPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if len(f.listScript) == 0 {
		return &out.ListPage{}, nil
	}
	step := f.listScript[0]
	f.listScript = f.listScript[1:]
	if step.err != nil {
		return nil, step.err
	}
	return &step.page, nil
}

func (f *fakeProvider) GetMessage(ctx context.Context, id string) (*out.MailMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if errs := f.msgErrs[id]; len(errs) > 0 {
		err := errs[0]
		f.msgErrs[id] = errs[1:]
		if err != nil {
			return nil, err
		}
	}
	m, ok := f.messages[id]
	if !ok {
		return nil, out.NewProviderError("fake", out.ErrKindNotFound, "no such message", nil)
	}
	return &m, nil
}

// fastConfig returns a pipeline config with millisecond pacing so tests
// do not sleep for real.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.PageDelay = 0
	cfg.MessageDelay = 0
	cfg.ListRetryBase = time.Millisecond
	cfg.ListRetryMax = 2
	cfg.MessageRetryWait = time.Millisecond
	return cfg
}

// collectSink records every progress report.
type collectSink struct {
	mu      sync.Mutex
	reports []float64
}

func (s *collectSink) Report(progress float64, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, progress)
}
