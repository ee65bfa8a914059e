package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"gudagent/internal/guddesk"
	"gudagent/pkg/logging"
)

const (
	DefaultStaleAfter     = 5 * time.Minute
	defaultReloadTimeout  = 10 * time.Second
	defaultFailureBackoff = 30 * time.Second

	emptyIndexMessage = "Knowledge base is empty. No information available."
)

var ErrNoSections = errors.New("knowledge: no sections available")

// ArticleLister is the slice of the helpdesk API the index reads from.
type ArticleLister interface {
	ListAllArticles(ctx context.Context, published bool) ([]guddesk.Article, error)
}

// DocumentSource yields the sections of one knowledge origin.
type DocumentSource interface {
	Name() string
	Sections(ctx context.Context) ([]Section, error)
}

// RemoteArticles reads published helpdesk articles.
type RemoteArticles struct {
	Store ArticleLister
}

func (RemoteArticles) Name() string { return SourceRemote }

func (s RemoteArticles) Sections(ctx context.Context) ([]Section, error) {
	if s.Store == nil {
		return nil, errors.New("no article store configured")
	}
	articles, err := s.Store.ListAllArticles(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return SectionsFromArticles(articles), nil
}

// LocalFile reads a markdown knowledge base from disk.
type LocalFile struct {
	Path string
}

func (LocalFile) Name() string { return SourceLocal }

func (s LocalFile) Sections(_ context.Context) ([]Section, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	return ParseSections(string(data), Provenance{Source: SourceLocal, Ref: s.Path}), nil
}

type snapshot struct {
	sections []Section
	source   string
	loadedAt time.Time
}

type SearchResult struct {
	Heading   string `json:"heading"`
	Content   string `json:"content"`
	Relevance int    `json:"relevance"`
}

type SearchResponse struct {
	Found   bool           `json:"found"`
	Results []SearchResult `json:"results,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Index serves searches from an immutable snapshot that refreshes replace
// wholesale. Reads never take a lock.
type Index struct {
	sources        []DocumentSource
	snap           atomic.Pointer[snapshot]
	lastFailure    atomic.Int64
	group          singleflight.Group
	staleAfter     time.Duration
	reloadTimeout  time.Duration
	failureBackoff time.Duration
	health         *HealthTracker
	logger         logging.Logger
	now            func() time.Time
}

type IndexOption func(*Index)

func WithStaleAfter(d time.Duration) IndexOption {
	return func(ix *Index) {
		if d > 0 {
			ix.staleAfter = d
		}
	}
}

func WithReloadTimeout(d time.Duration) IndexOption {
	return func(ix *Index) {
		if d > 0 {
			ix.reloadTimeout = d
		}
	}
}

// WithFailureBackoff sets how long a failed reload suppresses further
// reloads triggered by searches.
func WithFailureBackoff(d time.Duration) IndexOption {
	return func(ix *Index) {
		if d >= 0 {
			ix.failureBackoff = d
		}
	}
}

func WithHealthTracker(h *HealthTracker) IndexOption {
	return func(ix *Index) {
		if h != nil {
			ix.health = h
		}
	}
}

func WithIndexLogger(logger logging.Logger) IndexOption {
	return func(ix *Index) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

func withClock(now func() time.Time) IndexOption {
	return func(ix *Index) { ix.now = now }
}

// NewIndex builds an empty index over sources, tried in order.
func NewIndex(sources []DocumentSource, opts ...IndexOption) *Index {
	ix := &Index{
		sources:        sources,
		staleAfter:     DefaultStaleAfter,
		reloadTimeout:  defaultReloadTimeout,
		failureBackoff: defaultFailureBackoff,
		health:         NewHealthTracker(),
		logger:         logging.Discard(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

func (ix *Index) Health() *HealthTracker { return ix.health }

// Refresh loads the first source that yields sections and swaps it in.
// When every source fails the previous snapshot stays in place.
func (ix *Index) Refresh(ctx context.Context) error {
	_, err, _ := ix.group.Do("refresh", func() (any, error) {
		return nil, ix.load(ctx)
	})
	return err
}

func (ix *Index) load(ctx context.Context) error {
	if len(ix.sources) == 0 {
		return ErrNoSections
	}

	var errs []error
	for _, src := range ix.sources {
		name := src.Name()
		sections, err := src.Sections(ctx)
		if err == nil && len(sections) == 0 {
			err = ErrNoSections
		}
		if err != nil {
			indexRefreshTotal.WithLabelValues(name, "error").Inc()
			failures := ix.health.RecordFailure(name, err)
			ix.logger.WithError(err).WithFields(logging.Fields{
				"source":               name,
				"consecutive_failures": failures,
			}).Warn("Knowledge source unavailable")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		ix.snap.Store(&snapshot{sections: sections, source: name, loadedAt: ix.now()})
		ix.lastFailure.Store(0)
		indexRefreshTotal.WithLabelValues(name, "success").Inc()
		indexSections.Set(float64(len(sections)))
		ix.health.RecordSuccess(name, len(sections))
		ix.logger.WithFields(logging.Fields{
			"source":   name,
			"sections": len(sections),
		}).Info("Knowledge base loaded")
		return nil
	}

	ix.lastFailure.Store(ix.now().UnixNano())
	return errors.Join(errs...)
}

// Reset drops the current snapshot so the next search reloads.
func (ix *Index) Reset() {
	ix.snap.Store(nil)
	ix.lastFailure.Store(0)
	indexSections.Set(0)
}

func (ix *Index) SectionCount() int {
	if snap := ix.snap.Load(); snap != nil {
		return len(snap.sections)
	}
	return 0
}

// Source names the origin of the current snapshot, or "" when empty.
func (ix *Index) Source() string {
	if snap := ix.snap.Load(); snap != nil {
		return snap.source
	}
	return ""
}

func (ix *Index) needsReload(snap *snapshot) bool {
	now := ix.now()
	if snap != nil && now.Sub(snap.loadedAt) < ix.staleAfter {
		return false
	}
	if last := ix.lastFailure.Load(); last != 0 && now.Sub(time.Unix(0, last)) < ix.failureBackoff {
		return false
	}
	return true
}

// current returns the snapshot to search. A stale snapshot is served as is
// while a reload runs in the background; only an empty index waits.
func (ix *Index) current(ctx context.Context) *snapshot {
	snap := ix.snap.Load()
	if !ix.needsReload(snap) {
		return snap
	}
	if snap != nil {
		ix.reloadAsync(context.WithoutCancel(ctx))
		return snap
	}
	reloadCtx, cancel := context.WithTimeout(ctx, ix.reloadTimeout)
	defer cancel()
	if err := ix.Refresh(reloadCtx); err != nil {
		ix.logger.WithError(err).Debug("Knowledge reload failed with no cached snapshot")
	}
	return ix.snap.Load()
}

// reloadAsync joins or starts the shared refresh without waiting for it.
func (ix *Index) reloadAsync(ctx context.Context) {
	ix.group.DoChan("refresh", func() (any, error) {
		reloadCtx, cancel := context.WithTimeout(ctx, ix.reloadTimeout)
		defer cancel()
		err := ix.load(reloadCtx)
		if err != nil {
			ix.logger.WithError(err).Debug("Background knowledge reload failed; serving cached snapshot")
		}
		return nil, err
	})
}

// Search ranks the current sections against query. A missing snapshot is
// loaded first; a stale one is served while it reloads in the background.
func (ix *Index) Search(ctx context.Context, query string) SearchResponse {
	snap := ix.current(ctx)
	if snap == nil || len(snap.sections) == 0 {
		searchTotal.WithLabelValues("empty").Inc()
		return SearchResponse{Found: false, Message: emptyIndexMessage}
	}

	ranked := Rank(snap.sections, query)
	if len(ranked) == 0 {
		searchTotal.WithLabelValues("miss").Inc()
		return SearchResponse{Found: false, Message: `No relevant information found for: "` + query + `"`}
	}

	results := make([]SearchResult, len(ranked))
	for i, s := range ranked {
		results[i] = SearchResult{Heading: s.Heading, Content: s.Content, Relevance: s.Score}
	}
	searchTotal.WithLabelValues("hit").Inc()
	return SearchResponse{Found: true, Results: results}
}
