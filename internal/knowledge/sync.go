package knowledge

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"gudagent/internal/guddesk"
	"gudagent/pkg/logging"
)

const (
	maxSlugLength  = 80
	excerptChars   = 200
	excerptMinStop = 100
)

var nonSlugRun = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify folds accents, lowercases and hyphenates a title.
func Slugify(title string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), title)
	if err != nil {
		folded = title
	}
	slug := nonSlugRun.ReplaceAllString(strings.ToLower(folded), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLength {
		slug = slug[:maxSlugLength]
	}
	return slug
}

// MakeExcerpt returns roughly the first 200 characters, ending on a sentence
// when one closes late enough.
func MakeExcerpt(content string) string {
	cleaned := strings.TrimSpace(whitespaceRun.ReplaceAllString(content, " "))
	if utf8.RuneCountInString(cleaned) <= excerptChars {
		return cleaned
	}
	truncated := truncateRunes(cleaned, excerptChars)
	if stop := strings.LastIndex(truncated, ". "); stop >= 0 && utf8.RuneCountInString(truncated[:stop]) > excerptMinStop {
		return truncated[:stop+1]
	}
	return strings.TrimSpace(truncated) + "…"
}

// ArticleBody appends a source attribution footer to page content.
func ArticleBody(page Page) string {
	return page.Content + "\n\n---\n*Source: [" + page.Title + "](" + page.URL + ")*"
}

type ArticleStore interface {
	ArticleLister
	CreateArticle(ctx context.Context, in guddesk.ArticleInput) (guddesk.Article, error)
	UpdateArticle(ctx context.Context, id string, in guddesk.ArticleInput) (guddesk.Article, error)
}

type SyncAction string

const (
	ActionCreated SyncAction = "created"
	ActionUpdated SyncAction = "updated"
	ActionSkipped SyncAction = "skipped"
)

type ArticleOutcome struct {
	Title    string
	Slug     string
	Action   SyncAction
	Suffixed bool
	Err      error
}

type SyncReport struct {
	Created  int
	Updated  int
	Skipped  int
	Outcomes []ArticleOutcome
}

func (r *SyncReport) add(o ArticleOutcome) {
	switch o.Action {
	case ActionCreated:
		r.Created++
	case ActionUpdated:
		r.Updated++
	default:
		r.Skipped++
	}
	r.Outcomes = append(r.Outcomes, o)
	syncArticlesTotal.WithLabelValues(string(o.Action)).Inc()
}

type Syncer struct {
	store  ArticleStore
	logger logging.Logger
	token  func() string
}

func NewSyncer(store ArticleStore, logger logging.Logger) *Syncer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Syncer{store: store, logger: logger, token: slugToken}
}

// slugToken is the last four base36 digits of the current Unix millisecond.
func slugToken() string {
	s := strconv.FormatInt(time.Now().UnixMilli(), 36)
	return s[len(s)-4:]
}

// Sync pushes pages to the helpdesk as articles, updating those whose slug
// already exists. A failed listing treats every page as new.
func (s *Syncer) Sync(ctx context.Context, pages []Page, publish bool) SyncReport {
	existing, err := s.existingBySlug(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Could not fetch existing articles")
		existing = map[string]guddesk.Article{}
	}

	var report SyncReport
	for _, page := range pages {
		outcome := s.syncPage(ctx, page, publish, existing)
		report.add(outcome)

		entry := s.logger.WithFields(logging.Fields{"title": outcome.Title, "slug": outcome.Slug, "action": outcome.Action})
		if outcome.Err != nil {
			entry.WithError(outcome.Err).Warn("Article skipped")
		} else {
			entry.Info("Article synced")
		}
	}
	return report
}

func (s *Syncer) existingBySlug(ctx context.Context) (map[string]guddesk.Article, error) {
	var drafts, published []guddesk.Article
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		drafts, err = s.store.ListAllArticles(gctx, false)
		return err
	})
	g.Go(func() error {
		var err error
		published, err = s.store.ListAllArticles(gctx, true)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bySlug := make(map[string]guddesk.Article, len(drafts)+len(published))
	for _, a := range append(drafts, published...) {
		bySlug[a.Slug] = a
	}
	return bySlug, nil
}

func (s *Syncer) syncPage(ctx context.Context, page Page, publish bool, existing map[string]guddesk.Article) ArticleOutcome {
	outcome := ArticleOutcome{Title: page.Title, Slug: Slugify(page.Title)}
	if outcome.Slug == "" {
		outcome.Action = ActionSkipped
		return outcome
	}

	input := guddesk.ArticleInput{
		Title:       page.Title,
		Body:        ArticleBody(page),
		Excerpt:     MakeExcerpt(page.Content),
		IsPublished: publish,
	}

	var err error
	if current, ok := existing[outcome.Slug]; ok {
		_, err = s.store.UpdateArticle(ctx, current.ID, input)
		outcome.Action = ActionUpdated
	} else {
		input.Slug = outcome.Slug
		_, err = s.store.CreateArticle(ctx, input)
		outcome.Action = ActionCreated
	}
	if err == nil {
		return outcome
	}

	if !errors.Is(err, guddesk.ErrConflict) {
		outcome.Action = ActionSkipped
		outcome.Err = err
		return outcome
	}

	input.Slug = outcome.Slug + "-" + s.token()
	if _, err := s.store.CreateArticle(ctx, input); err != nil {
		outcome.Action = ActionSkipped
		outcome.Err = err
		return outcome
	}
	outcome.Slug = input.Slug
	outcome.Action = ActionCreated
	outcome.Suffixed = true
	return outcome
}
