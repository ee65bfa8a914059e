package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gudagent/internal/guddesk"
)

type fakeSource struct {
	name     string
	sections []Section
	err      error
	calls    atomic.Int32
	block    chan struct{}
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Sections(ctx context.Context) ([]Section, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.sections, f.err
}

type fakeLister struct {
	articles []guddesk.Article
	err      error
}

func (f fakeLister) ListAllArticles(_ context.Context, published bool) ([]guddesk.Article, error) {
	if !published {
		return nil, errors.New("expected published listing")
	}
	return f.articles, f.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func waitForCalls(t *testing.T, src *fakeSource, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for src.calls.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d loads, got %d", want, src.calls.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func waitForFailures(t *testing.T, ix *Index, source string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		for _, h := range ix.Health().Snapshot() {
			if h.Source == source && h.ConsecutiveFailures >= want {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d failures recorded for %s", want, source)
		}
		time.Sleep(time.Millisecond)
	}
}

var pricingSections = []Section{
	{Heading: "Pricing", Content: "Starter is $19 per month."},
	{Heading: "Support", Content: "Email support on all plans."},
}

func TestIndexRefreshUsesFirstNonEmptySource(t *testing.T) {
	failing := &fakeSource{name: "remote", err: errors.New("unreachable")}
	empty := &fakeSource{name: "empty"}
	local := &fakeSource{name: "local", sections: pricingSections}
	ix := NewIndex([]DocumentSource{failing, empty, local})

	if err := ix.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if ix.SectionCount() != 2 || ix.Source() != "local" {
		t.Fatalf("unexpected snapshot count=%d source=%q", ix.SectionCount(), ix.Source())
	}

	health := ix.Health().Snapshot()
	if len(health) != 3 {
		t.Fatalf("expected health for 3 sources, got %+v", health)
	}
	if health[0].Source != "empty" || health[0].LastError == "" {
		t.Fatalf("expected empty source failure recorded, got %+v", health[0])
	}
}

func TestIndexRefreshFailureKeepsSnapshot(t *testing.T) {
	src := &fakeSource{name: "local", sections: pricingSections}
	ix := NewIndex([]DocumentSource{src})
	if err := ix.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	src.sections, src.err = nil, errors.New("disk gone")
	err := ix.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected refresh error")
	}
	if ix.SectionCount() != 2 {
		t.Fatalf("old snapshot must survive a failed refresh, got %d sections", ix.SectionCount())
	}
	if !errors.Is(NewIndex(nil).Refresh(context.Background()), ErrNoSections) {
		t.Fatal("index without sources should report ErrNoSections")
	}
}

func TestIndexSearch(t *testing.T) {
	ix := NewIndex([]DocumentSource{&fakeSource{name: "local", sections: pricingSections}})

	resp := ix.Search(context.Background(), "pricing plans")
	if !resp.Found || len(resp.Results) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Results[0].Heading != "Pricing" || resp.Results[0].Relevance != 3 {
		t.Fatalf("unexpected top result %+v", resp.Results[0])
	}

	miss := ix.Search(context.Background(), "kubernetes")
	if miss.Found || miss.Message != `No relevant information found for: "kubernetes"` {
		t.Fatalf("unexpected miss %+v", miss)
	}

	raw, err := json.Marshal(miss)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"found":false,"message":"No relevant information found for: \"kubernetes\""}` {
		t.Fatalf("unexpected json %s", raw)
	}
}

func TestIndexSearchEmpty(t *testing.T) {
	ix := NewIndex([]DocumentSource{&fakeSource{name: "local"}})
	resp := ix.Search(context.Background(), "pricing")
	if resp.Found || resp.Message != "Knowledge base is empty. No information available." {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestIndexReloadsWhenStale(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	src := &fakeSource{name: "local", sections: pricingSections}
	ix := NewIndex([]DocumentSource{src}, withClock(clock.Now), WithStaleAfter(5*time.Minute))

	ix.Search(context.Background(), "pricing")
	ix.Search(context.Background(), "pricing")
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected one load while fresh, got %d", got)
	}

	clock.Advance(6 * time.Minute)
	if resp := ix.Search(context.Background(), "pricing"); !resp.Found {
		t.Fatalf("stale snapshot should still answer, got %+v", resp)
	}
	waitForCalls(t, src, 2)
}

func TestIndexStaleSearchDoesNotWaitForReload(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	src := &fakeSource{name: "remote", sections: pricingSections}
	ix := NewIndex([]DocumentSource{src}, withClock(clock.Now), WithReloadTimeout(time.Hour))
	if err := ix.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	src.block = make(chan struct{})
	defer close(src.block)
	clock.Advance(10 * time.Minute)

	done := make(chan SearchResponse, 1)
	go func() { done <- ix.Search(context.Background(), "pricing") }()
	select {
	case resp := <-done:
		if !resp.Found {
			t.Fatalf("expected cached results, got %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("search blocked on a hanging reload")
	}
	waitForCalls(t, src, 2)

	ix.Search(context.Background(), "pricing")
	if got := src.calls.Load(); got != 2 {
		t.Fatalf("searches during a reload should join it, got %d loads", got)
	}
}

func TestIndexRefreshIsAtomicUnderConcurrentSearch(t *testing.T) {
	setA := []Section{
		{Heading: "Alpha one", Content: "shared answer"},
		{Heading: "Alpha two", Content: "shared answer"},
	}
	setB := []Section{
		{Heading: "Beta one", Content: "shared answer"},
		{Heading: "Beta two", Content: "shared answer"},
		{Heading: "Beta three", Content: "shared answer"},
	}
	src := &togglingSource{sets: [][]Section{setA, setB}}
	ix := NewIndex([]DocumentSource{src})
	if err := ix.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	stop := make(chan struct{})
	var refreshes sync.WaitGroup
	refreshes.Add(1)
	go func() {
		defer refreshes.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = ix.Refresh(context.Background())
			}
		}
	}()

	var searches sync.WaitGroup
	for range 8 {
		searches.Add(1)
		go func() {
			defer searches.Done()
			for range 200 {
				resp := ix.Search(context.Background(), "shared")
				if !resp.Found {
					t.Errorf("expected results, got %+v", resp)
					return
				}
				prefix := strings.Fields(resp.Results[0].Heading)[0]
				want := map[string]int{"Alpha": len(setA), "Beta": len(setB)}[prefix]
				if len(resp.Results) != want {
					t.Errorf("got %d results for set %s, want %d", len(resp.Results), prefix, want)
					return
				}
				for _, r := range resp.Results {
					if !strings.HasPrefix(r.Heading, prefix) {
						t.Errorf("results mix snapshots: %+v", resp.Results)
						return
					}
				}
			}
		}()
	}
	searches.Wait()
	close(stop)
	refreshes.Wait()
}

type togglingSource struct {
	sets  [][]Section
	calls atomic.Int64
}

func (s *togglingSource) Name() string { return "local" }

func (s *togglingSource) Sections(context.Context) ([]Section, error) {
	n := s.calls.Add(1)
	return s.sets[int(n)%len(s.sets)], nil
}

func TestIndexFailedReloadServesCacheAndBacksOff(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	src := &fakeSource{name: "remote", sections: pricingSections}
	ix := NewIndex([]DocumentSource{src}, withClock(clock.Now), WithFailureBackoff(time.Minute))
	if err := ix.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	src.sections, src.err = nil, errors.New("503")
	clock.Advance(10 * time.Minute)

	resp := ix.Search(context.Background(), "pricing")
	if !resp.Found {
		t.Fatalf("failed reload must not fail the query: %+v", resp)
	}
	waitForCalls(t, src, 2)
	waitForFailures(t, ix, "remote", 1)

	ix.Search(context.Background(), "pricing")
	if got := src.calls.Load(); got != 2 {
		t.Fatalf("expected no reload within the failure backoff, got %d loads", got)
	}

	clock.Advance(2 * time.Minute)
	if resp := ix.Search(context.Background(), "pricing"); !resp.Found {
		t.Fatalf("cache should still answer after backoff, got %+v", resp)
	}
	waitForCalls(t, src, 3)
}

func TestIndexConcurrentReloadsCoalesce(t *testing.T) {
	src := &fakeSource{name: "local", sections: pricingSections, block: make(chan struct{})}
	ix := NewIndex([]DocumentSource{src})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if resp := ix.Search(context.Background(), "pricing"); !resp.Found {
				t.Errorf("expected results, got %+v", resp)
			}
		}()
	}
	for src.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(src.block)
	wg.Wait()

	if got := src.calls.Load(); got > 2 {
		t.Fatalf("expected concurrent searches to share a reload, got %d loads", got)
	}
}

func TestIndexReset(t *testing.T) {
	src := &fakeSource{name: "local", sections: pricingSections}
	ix := NewIndex([]DocumentSource{src})
	_ = ix.Refresh(context.Background())
	ix.Reset()
	if ix.SectionCount() != 0 || ix.Source() != "" {
		t.Fatal("expected empty index after Reset")
	}
	ix.Search(context.Background(), "pricing")
	if src.calls.Load() != 2 {
		t.Fatalf("expected reload after Reset, got %d loads", src.calls.Load())
	}
}

func TestLocalFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.md")
	if err := os.WriteFile(path, []byte("# KB\n\n## Pricing\nStarter is $19.\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	sections, err := LocalFile{Path: path}.Sections(context.Background())
	if err != nil {
		t.Fatalf("Sections: %v", err)
	}
	if len(sections) != 1 || sections[0].Heading != "Pricing" || sections[0].Provenance != (Provenance{Source: SourceLocal, Ref: path}) {
		t.Fatalf("unexpected sections %+v", sections)
	}

	if _, err := (LocalFile{Path: filepath.Join(t.TempDir(), "missing.md")}).Sections(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestRemoteArticlesSource(t *testing.T) {
	src := RemoteArticles{Store: fakeLister{articles: []guddesk.Article{
		{Slug: "faq", Title: "FAQ", Body: "## Refunds\nWithin 30 days."},
	}}}
	sections, err := src.Sections(context.Background())
	if err != nil {
		t.Fatalf("Sections: %v", err)
	}
	if len(sections) != 1 || sections[0].Heading != "FAQ > Refunds" || sections[0].Provenance != (Provenance{Source: SourceRemote, Ref: "faq"}) {
		t.Fatalf("unexpected sections %+v", sections)
	}

	failing := RemoteArticles{Store: fakeLister{err: errors.New("401")}}
	if _, err := failing.Sections(context.Background()); err == nil {
		t.Fatal("expected listing error")
	}
}
