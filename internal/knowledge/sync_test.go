package knowledge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"gudagent/internal/guddesk"
	"gudagent/pkg/clients"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Pricing Plans", "pricing-plans"},
		{"  --Hello, World!--  ", "hello-world"},
		{"Café Crème Brûlée", "cafe-creme-brulee"},
		{"日本語", ""},
		{"!!!", ""},
		{"FAQ: 2026 Edition", "faq-2026-edition"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Slugify(tt.in); got != tt.want {
				t.Fatalf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	long := Slugify(strings.Repeat("word ", 40))
	if len(long) != 80 {
		t.Fatalf("expected slug capped at 80, got %d", len(long))
	}
}

func TestMakeExcerpt(t *testing.T) {
	if got := MakeExcerpt("  Short\n\n excerpt.  "); got != "Short excerpt." {
		t.Fatalf("unexpected short excerpt %q", got)
	}

	sentence := strings.Repeat("a", 120) + ". " + strings.Repeat("b", 200)
	if got := MakeExcerpt(sentence); got != strings.Repeat("a", 120)+"." {
		t.Fatalf("expected sentence break, got %q", got)
	}

	early := strings.Repeat("c", 50) + ". " + strings.Repeat("d", 300)
	got := MakeExcerpt(early)
	if !strings.HasSuffix(got, "…") || len([]rune(got)) != 201 {
		t.Fatalf("expected hard cut with ellipsis, got %q", got)
	}
}

func TestArticleBody(t *testing.T) {
	got := ArticleBody(Page{URL: "https://acme.com/faq", Title: "FAQ", Content: "Answers."})
	if got != "Answers.\n\n---\n*Source: [FAQ](https://acme.com/faq)*" {
		t.Fatalf("unexpected body %q", got)
	}
}

type fakeStore struct {
	mu        sync.Mutex
	existing  []guddesk.Article
	listErr   error
	conflicts map[string]bool
	failSlugs map[string]error
	created   []guddesk.ArticleInput
	updated   map[string]guddesk.ArticleInput
	listed    []bool
}

func (f *fakeStore) ListAllArticles(_ context.Context, published bool) ([]guddesk.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed = append(f.listed, published)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []guddesk.Article
	for _, a := range f.existing {
		if a.IsPublished == published {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateArticle(_ context.Context, in guddesk.ArticleInput) (guddesk.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failSlugs[in.Slug]; err != nil {
		return guddesk.Article{}, err
	}
	if f.conflicts[in.Slug] {
		return guddesk.Article{}, &clients.APIError{Service: "guddesk", Status: 409, Message: "Slug already exists"}
	}
	f.created = append(f.created, in)
	return guddesk.Article{ID: "new", Slug: in.Slug, Title: in.Title}, nil
}

func (f *fakeStore) UpdateArticle(_ context.Context, id string, in guddesk.ArticleInput) (guddesk.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updated == nil {
		f.updated = map[string]guddesk.ArticleInput{}
	}
	f.updated[id] = in
	return guddesk.Article{ID: id, Title: in.Title}, nil
}

func TestSyncCreatesUpdatesAndSkips(t *testing.T) {
	store := &fakeStore{
		existing: []guddesk.Article{
			{ID: "a1", Slug: "pricing", Title: "Pricing", IsPublished: true},
			{ID: "a2", Slug: "about-us", Title: "About us"},
		},
		conflicts: map[string]bool{"careers": true},
		failSlugs: map[string]error{"broken": errors.New("boom")},
	}
	syncer := NewSyncer(store, nil)
	syncer.token = func() string { return "k3x9" }

	pages := []Page{
		{URL: "https://acme.com/pricing", Title: "Pricing", Content: "Plans start at $19."},
		{URL: "https://acme.com/about", Title: "About Us", Content: "We build widgets."},
		{URL: "https://acme.com/faq", Title: "FAQ", Content: "Answers."},
		{URL: "https://acme.com/careers", Title: "Careers", Content: "Join us."},
		{URL: "https://acme.com/broken", Title: "Broken", Content: "Nope."},
		{URL: "https://acme.com/x", Title: "???", Content: "No slug."},
	}
	report := syncer.Sync(context.Background(), pages, true)

	if report.Created != 2 || report.Updated != 2 || report.Skipped != 2 {
		t.Fatalf("unexpected totals %+v", report)
	}
	if len(store.listed) != 2 {
		t.Fatalf("expected drafts and published listings, got %v", store.listed)
	}

	if _, ok := store.updated["a1"]; !ok {
		t.Fatal("expected pricing to update a1")
	}
	if in := store.updated["a2"]; !in.IsPublished || in.Slug != "" {
		t.Fatalf("update should carry publish flag without slug, got %+v", in)
	}

	byTitle := map[string]ArticleOutcome{}
	for _, o := range report.Outcomes {
		byTitle[o.Title] = o
	}
	if o := byTitle["Careers"]; o.Action != ActionCreated || !o.Suffixed || o.Slug != "careers-k3x9" {
		t.Fatalf("expected suffixed create for conflict, got %+v", o)
	}
	if o := byTitle["Broken"]; o.Action != ActionSkipped || o.Err == nil {
		t.Fatalf("expected skip with error, got %+v", o)
	}
	if o := byTitle["???"]; o.Action != ActionSkipped || o.Err != nil {
		t.Fatalf("expected silent skip for empty slug, got %+v", o)
	}
	if o := byTitle["FAQ"]; o.Action != ActionCreated || o.Slug != "faq" {
		t.Fatalf("expected plain create, got %+v", o)
	}
	for _, in := range store.created {
		if in.Slug == "faq" && in.Body != "Answers.\n\n---\n*Source: [FAQ](https://acme.com/faq)*" {
			t.Fatalf("unexpected body %q", in.Body)
		}
	}
}

func TestSyncTreatsListingFailureAsAllNew(t *testing.T) {
	store := &fakeStore{listErr: errors.New("unauthorized")}
	report := NewSyncer(store, nil).Sync(context.Background(), []Page{
		{URL: "https://acme.com/pricing", Title: "Pricing", Content: "Plans."},
	}, false)
	if report.Created != 1 || len(store.created) != 1 || store.created[0].IsPublished {
		t.Fatalf("expected a draft create, got %+v created=%+v", report, store.created)
	}
}

func TestSyncConflictRetryFailureSkips(t *testing.T) {
	store := &fakeStore{conflicts: map[string]bool{"faq": true, "faq-zzzz": true}}
	syncer := NewSyncer(store, nil)
	syncer.token = func() string { return "zzzz" }
	report := syncer.Sync(context.Background(), []Page{{Title: "FAQ", Content: "x"}}, false)
	if report.Skipped != 1 || !errors.Is(report.Outcomes[0].Err, guddesk.ErrConflict) {
		t.Fatalf("expected skip after failed retry, got %+v", report)
	}
}

func TestSlugToken(t *testing.T) {
	tok := slugToken()
	if len(tok) != 4 || strings.Trim(tok, "0123456789abcdefghijklmnopqrstuvwxyz") != "" {
		t.Fatalf("unexpected token %q", tok)
	}
}
