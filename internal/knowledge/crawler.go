package knowledge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"gudagent/pkg/clients"
	"gudagent/pkg/logging"
)

const (
	DefaultMaxPages  = 20
	DefaultDelay     = 200 * time.Millisecond
	DefaultUserAgent = "gud-agent-crawler/1.0 (+https://github.com/gudlab/gud-agent)"

	fetchTimeout   = 10 * time.Second
	maxPageBytes   = 10 << 20 // 10 MB
	minPageContent = 50
	acceptHTML     = "text/html,application/xhtml+xml"
)

var ErrInvalidStartURL = errors.New("invalid start URL")

type Page struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type CrawlOptions struct {
	MaxPages int
	Exclude  []string
	Delay    time.Duration
}

// DefaultCrawlOptions returns 20 pages and a 200ms delay. A zero Delay in
// caller-built options means no delay.
func DefaultCrawlOptions() CrawlOptions {
	return CrawlOptions{MaxPages: DefaultMaxPages, Delay: DefaultDelay}
}

func (o CrawlOptions) normalized() CrawlOptions {
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	return o
}

// PageState is the position of one dequeued URL in the crawl pipeline.
type PageState int

const (
	StateQueued PageState = iota
	StateVisitedCheck
	StatePolicyCheck
	StateFetch
	StateExtract
	StateAccepted
	StateRejected
)

func (s PageState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateVisitedCheck:
		return "visited_check"
	case StatePolicyCheck:
		return "policy_check"
	case StateFetch:
		return "fetch"
	case StateExtract:
		return "extract"
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

type SkipReason int

const (
	SkipNone SkipReason = iota
	SkipAlreadyVisited
	SkipPolicy
	SkipHTTPStatus
	SkipContentType
	SkipFetchError
	SkipNoContent
)

func (r SkipReason) String() string {
	switch r {
	case SkipNone:
		return "none"
	case SkipAlreadyVisited:
		return "already_visited"
	case SkipPolicy:
		return "policy"
	case SkipHTTPStatus:
		return "http_status"
	case SkipContentType:
		return "content_type"
	case SkipFetchError:
		return "fetch_error"
	case SkipNoContent:
		return "no_content"
	default:
		return "unknown"
	}
}

type PageResult struct {
	URL    string
	State  PageState
	Page   *Page
	Reason SkipReason
	Err    error
}

func (r PageResult) reject(reason SkipReason, err error) PageResult {
	r.State = StateRejected
	r.Reason = reason
	r.Err = err
	return r
}

type CrawlCounts struct {
	Accepted       int
	AlreadyVisited int
	Policy         int
	HTTPStatus     int
	ContentType    int
	FetchError     int
	NoContent      int
}

func (c *CrawlCounts) add(r PageResult) {
	if r.State == StateAccepted {
		c.Accepted++
		return
	}
	switch r.Reason {
	case SkipAlreadyVisited:
		c.AlreadyVisited++
	case SkipPolicy:
		c.Policy++
	case SkipHTTPStatus:
		c.HTTPStatus++
	case SkipContentType:
		c.ContentType++
	case SkipFetchError:
		c.FetchError++
	case SkipNoContent:
		c.NoContent++
	}
}

func (c CrawlCounts) Rejected() int {
	return c.AlreadyVisited + c.Policy + c.HTTPStatus + c.ContentType + c.FetchError + c.NoContent
}

type CrawlReport struct {
	Pages   []Page
	Results []PageResult
	Counts  CrawlCounts
}

type Crawler struct {
	client    *http.Client
	logger    logging.Logger
	userAgent string
	maxBytes  int64
	sleep     func(ctx context.Context, d time.Duration) error
}

type CrawlerOption func(*Crawler)

func WithHTTPClient(client *http.Client) CrawlerOption {
	return func(c *Crawler) {
		if client != nil {
			c.client = client
		}
	}
}

func WithLogger(logger logging.Logger) CrawlerOption {
	return func(c *Crawler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithUserAgent(ua string) CrawlerOption {
	return func(c *Crawler) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) CrawlerOption {
	return func(c *Crawler) { c.sleep = fn }
}

func withMaxPageBytes(n int64) CrawlerOption {
	return func(c *Crawler) { c.maxBytes = n }
}

func NewCrawler(opts ...CrawlerOption) *Crawler {
	c := &Crawler{
		client:    &http.Client{Transport: clients.DefaultTransport()},
		logger:    logging.Discard(),
		userAgent: DefaultUserAgent,
		maxBytes:  maxPageBytes,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type crawlRun struct {
	origin  string
	opts    CrawlOptions
	visited map[string]bool
	queued  map[string]bool
	queue   []string
	fetches int
}

func (r *crawlRun) enqueue(link string) bool {
	if r.visited[link] || r.queued[link] {
		return false
	}
	r.queued[link] = true
	r.queue = append(r.queue, link)
	return true
}

// Crawl walks same-origin pages breadth first from startURL. Per-page
// failures are recorded in the report and never abort the crawl; a cancelled
// ctx stops it early with whatever was accepted so far.
func (c *Crawler) Crawl(ctx context.Context, startURL string, opts CrawlOptions) (*CrawlReport, error) {
	start, ok := parseAbsolute(startURL)
	if !ok || (start.Scheme != "http" && start.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStartURL, startURL)
	}
	opts = opts.normalized()
	began := time.Now()
	defer func() { crawlDuration.Observe(time.Since(began).Seconds()) }()

	run := &crawlRun{
		origin:  Origin(start),
		opts:    opts,
		visited: make(map[string]bool),
		queued:  make(map[string]bool),
	}
	run.enqueue(NormalizeURL(startURL))

	c.logger.WithFields(logging.Fields{
		"start_url": startURL,
		"max_pages": opts.MaxPages,
		"delay":     opts.Delay.String(),
		"exclude":   opts.Exclude,
	}).Info("Starting crawl")

	report := &CrawlReport{}
	for len(run.queue) > 0 && len(report.Pages) < opts.MaxPages {
		if ctx.Err() != nil {
			c.logger.WithError(ctx.Err()).Warn("Crawl cancelled")
			break
		}
		next := run.queue[0]
		run.queue = run.queue[1:]
		delete(run.queued, next)

		result, body := c.process(ctx, next, run)
		report.Results = append(report.Results, result)
		report.Counts.add(result)
		crawlPagesTotal.WithLabelValues(result.State.String(), result.Reason.String()).Inc()

		if result.State != StateAccepted {
			entry := c.logger.WithFields(logging.Fields{"url": result.URL, "reason": result.Reason.String()})
			if result.Err != nil {
				entry = entry.WithError(result.Err)
			}
			entry.Debug("Skipped page")
			continue
		}

		report.Pages = append(report.Pages, *result.Page)
		c.logger.WithFields(logging.Fields{
			"url":   result.URL,
			"title": result.Page.Title,
			"chars": utf8.RuneCountInString(result.Page.Content),
			"page":  len(report.Pages),
		}).Info("Crawled page")

		added := 0
		for _, link := range discoverLinks(body, result.URL, run.origin) {
			if run.enqueue(link) {
				added++
			}
		}
		linkDiscoveryTotal.Add(float64(added))
	}

	c.logger.WithFields(logging.Fields{
		"pages":    len(report.Pages),
		"rejected": report.Counts.Rejected(),
		"duration": time.Since(began).Round(time.Millisecond).String(),
	}).Info("Crawl finished")
	return report, nil
}

// process drives one URL through the state machine. The fetched body is
// returned alongside accepted results for link discovery.
func (c *Crawler) process(ctx context.Context, rawURL string, run *crawlRun) (PageResult, []byte) {
	res := PageResult{URL: NormalizeURL(rawURL), State: StateQueued}
	var body []byte

	for {
		switch res.State {
		case StateQueued:
			res.State = StateVisitedCheck

		case StateVisitedCheck:
			if run.visited[res.URL] {
				return res.reject(SkipAlreadyVisited, nil), nil
			}
			run.visited[res.URL] = true
			res.State = StatePolicyCheck

		case StatePolicyCheck:
			if ShouldSkip(res.URL, run.origin, run.opts.Exclude) {
				return res.reject(SkipPolicy, nil), nil
			}
			res.State = StateFetch

		case StateFetch:
			if run.fetches > 0 && run.opts.Delay > 0 {
				if err := c.sleep(ctx, run.opts.Delay); err != nil {
					return res.reject(SkipFetchError, err), nil
				}
			}
			run.fetches++
			data, reason, err := c.fetch(ctx, res.URL)
			if reason != SkipNone {
				return res.reject(reason, err), nil
			}
			body = data
			res.State = StateExtract

		case StateExtract:
			extracted, ok := Extract(body, res.URL)
			if !ok || utf8.RuneCountInString(extracted.Content) < minPageContent {
				return res.reject(SkipNoContent, nil), nil
			}
			res.Page = &Page{URL: res.URL, Title: extracted.Title, Content: extracted.Content}
			res.State = StateAccepted

		case StateAccepted, StateRejected:
			return res, body
		}
	}
}

func (c *Crawler) fetch(ctx context.Context, pageURL string) ([]byte, SkipReason, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, SkipFetchError, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", acceptHTML)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, SkipFetchError, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, SkipHTTPStatus, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if !isHTML(resp.Header.Get("Content-Type")) {
		return nil, SkipContentType, fmt.Errorf("content type %q", resp.Header.Get("Content-Type"))
	}

	if resp.ContentLength > c.maxBytes {
		return nil, SkipFetchError, fmt.Errorf("page is %d bytes, limit is %d", resp.ContentLength, c.maxBytes)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, SkipFetchError, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, SkipFetchError, fmt.Errorf("page exceeds %d bytes", c.maxBytes)
	}
	return data, SkipNone, nil
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "text/html")
	}
	return mediaType == "text/html"
}

// discoverLinks returns normalized same-origin links from a page, without
// the page itself.
func discoverLinks(body []byte, pageURL, origin string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		lower := strings.ToLower(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(lower, "javascript:") ||
			strings.HasPrefix(lower, "mailto:") ||
			strings.HasPrefix(lower, "tel:") {
			return
		}
		ref, err := base.Parse(href)
		if err != nil || ref.Host == "" || Origin(ref) != origin {
			return
		}
		ref.Fragment = ""
		ref.RawFragment = ""
		ref.RawQuery = ""
		link := NormalizeURL(ref.String())
		if link == pageURL {
			return
		}
		links = append(links, link)
	})
	return links
}
