package export

import (
	"context"
	"errors"
	"testing"

	"github.com/loopxjstar/Get-Gmails/core/domain"
	"github.com/loopxjstar/Get-Gmails/core/port/out"
)

var testMonth = domain.MonthKey{Month: 3, Year: 2025}

func TestFetchMonthPaginates(t *testing.T) {
	fake := newFakeProvider()
	fake.listScript = []listStep{
		{page: out.ListPage{IDs: []string{"a", "b"}, NextPageToken: "p2"}},
		{page: out.ListPage{IDs: []string{"c"}, NextPageToken: "p3"}},
		{page: out.ListPage{IDs: []string{"d"}}},
	}

	f := NewPageFetcher(fake, fastConfig(), nil)
	ids, err := f.FetchMonth(context.Background(), testMonth, nil, 10, 20)
	if err != nil {
		t.Fatalf("FetchMonth() error = %v", err)
	}
	want := []string{"a", "b", "c", "d"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
	if fake.listCalls != 3 {
		t.Errorf("listCalls = %d, want 3", fake.listCalls)
	}
}

func TestFetchMonthRetriesRateLimit(t *testing.T) {
	fake := newFakeProvider()
	rl := out.NewProviderError("fake", out.ErrKindRateLimited, "slow down", nil)
	fake.listScript = []listStep{
		{err: rl},
		{err: rl},
		{page: out.ListPage{IDs: []string{"a"}}},
	}

	f := NewPageFetcher(fake, fastConfig(), nil)
	ids, err := f.FetchMonth(context.Background(), testMonth, nil, 0, 10)
	if err != nil {
		t.Fatalf("FetchMonth() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Errorf("ids = %v, want [a]", ids)
	}
}

func TestFetchMonthRateLimitExhaustion(t *testing.T) {
	fake := newFakeProvider()
	rl := out.NewProviderError("fake", out.ErrKindRateLimited, "slow down", nil)
	fake.listScript = []listStep{{err: rl}, {err: rl}, {err: rl}, {err: rl}}

	cfg := fastConfig() // ListRetryMax = 2
	f := NewPageFetcher(fake, cfg, nil)
	_, err := f.FetchMonth(context.Background(), testMonth, nil, 0, 10)
	if !out.IsRateLimited(err) {
		t.Errorf("err = %v, want rate-limited failure after exhaustion", err)
	}
	if fake.listCalls != 3 {
		t.Errorf("listCalls = %d, want 3 (initial + 2 retries)", fake.listCalls)
	}
}

func TestFetchMonthQuotaIsFatal(t *testing.T) {
	fake := newFakeProvider()
	fake.listScript = []listStep{
		{page: out.ListPage{IDs: []string{"a"}, NextPageToken: "p2"}},
		{err: out.NewProviderError("fake", out.ErrKindQuotaExceeded, "quota", nil)},
	}

	f := NewPageFetcher(fake, fastConfig(), nil)
	_, err := f.FetchMonth(context.Background(), testMonth, nil, 0, 10)
	if !out.IsQuotaExceeded(err) {
		t.Errorf("err = %v, want quota failure", err)
	}
}

func TestFetchMonthOtherErrorKeepsPartial(t *testing.T) {
	fake := newFakeProvider()
	fake.listScript = []listStep{
		{page: out.ListPage{IDs: []string{"a", "b"}, NextPageToken: "p2"}},
		{err: errors.New("connection reset")},
	}

	f := NewPageFetcher(fake, fastConfig(), nil)
	ids, err := f.FetchMonth(context.Background(), testMonth, nil, 0, 10)
	if err != nil {
		t.Fatalf("FetchMonth() error = %v, want partial success", err)
	}
	if len(ids) != 2 {
		t.Errorf("ids = %v, want the two collected before the failure", ids)
	}
}

func TestFetchMonthQueryBounds(t *testing.T) {
	fake := newFakeProvider()
	fake.listScript = []listStep{{page: out.ListPage{IDs: []string{"a"}}}}

	var captured out.ListQuery
	f := NewPageFetcher(capturingProvider{fake: fake, captured: &captured}, fastConfig(), nil)
	if _, err := f.FetchMonth(context.Background(), testMonth, nil, 0, 10); err != nil {
		t.Fatalf("FetchMonth() error = %v", err)
	}
	if !captured.After.Equal(testMonth.Start()) || !captured.Before.Equal(testMonth.End()) {
		t.Errorf("query bounds = [%v, %v), want [%v, %v)", captured.After, captured.Before, testMonth.Start(), testMonth.End())
	}
	if captured.PageSize != fastConfig().PageSize {
		t.Errorf("PageSize = %d, want %d", captured.PageSize, fastConfig().PageSize)
	}
}

type capturingProvider struct {
	fake     *fakeProvider
	captured *out.ListQuery
}

func (p capturingProvider) Profile(ctx context.Context) (string, error) {
	return p.fake.Profile(ctx)
}

func (p capturingProvider) ListSentPage(ctx context.Context, q out.ListQuery) (*out.ListPage, error) {
	*p.captured = q
	return p.fake.ListSentPage(ctx, q)
}

func (p capturingProvider) GetMessage(ctx context.Context, id string) (*out.MailMessage, error) {
	return p.fake.GetMessage(ctx, id)
}
