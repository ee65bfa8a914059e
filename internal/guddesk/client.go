// Package guddesk talks to the GudDesk agent API: conversation replies,
// webhook registration and knowledge base articles.
package guddesk

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"gudagent/pkg/clients"
	"gudagent/pkg/logging"
)

const (
	serviceName       = "guddesk"
	defaultTimeout    = 15 * time.Second
	DefaultSenderName = "AI Agent"
)

type APIError = clients.APIError

var (
	ErrConflict      = clients.ErrConflict
	ErrNotFound      = clients.ErrNotFound
	ErrNotConfigured = errors.New("guddesk: GUDDESK_URL and GUDDESK_API_KEY are required")
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  logging.Logger
}

type Client struct {
	baseURL string
	apiKey  string
	http    *clients.HTTPClient
	logger  logging.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	breaker := clients.DefaultCircuitBreakerConfig(serviceName)
	breaker.Logger = cfg.Logger
	execCfg := clients.DefaultHTTPExecutorConfig()
	execCfg.CircuitBreaker = &breaker

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    clients.NewHTTPClient(cfg.Timeout, execCfg),
		logger:  cfg.Logger,
	}, nil
}

// WithHTTPClient swaps the transport client, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http.WithHTTPClient(hc)
	return c
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("x-api-key", c.apiKey)
	return h
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	return c.http.DoJSON(ctx, serviceName, method, clients.JoinURL(c.baseURL, path), c.header(), in, out)
}

type ReplyResult struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// Reply posts a bot message into a conversation. An empty senderName uses
// DefaultSenderName.
func (c *Client) Reply(ctx context.Context, conversationID, body, senderName string) (ReplyResult, error) {
	if senderName == "" {
		senderName = DefaultSenderName
	}
	in := map[string]string{
		"conversationId": conversationID,
		"body":           body,
		"senderName":     senderName,
	}
	var out ReplyResult
	err := c.do(ctx, http.MethodPost, "/api/agent/reply", in, &out)
	return out, err
}

type WebhookEndpoint struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events,omitempty"`
}

type WebhookRegistration struct {
	Status   string          `json:"status"` // created | exists
	Endpoint WebhookEndpoint `json:"endpoint"`
}

func (r WebhookRegistration) Created() bool { return r.Status == "created" }

func (c *Client) RegisterWebhook(ctx context.Context, webhookURL string) (WebhookRegistration, error) {
	var out WebhookRegistration
	err := c.do(ctx, http.MethodPost, "/api/agent/webhooks", map[string]string{"url": webhookURL}, &out)
	return out, err
}

func (c *Client) UnregisterWebhook(ctx context.Context, webhookURL string) error {
	return c.do(ctx, http.MethodDelete, "/api/agent/webhooks", map[string]string{"url": webhookURL}, nil)
}

type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Body        string    `json:"body"`
	Excerpt     string    `json:"excerpt,omitempty"`
	IsPublished bool      `json:"isPublished"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

type ArticleInput struct {
	Title       string `json:"title"`
	Slug        string `json:"slug,omitempty"`
	Body        string `json:"body"`
	Excerpt     string `json:"excerpt,omitempty"`
	IsPublished bool   `json:"isPublished"`
}

type ListArticlesParams struct {
	Published *bool
	Cursor    string
}

type ArticlePage struct {
	Articles   []Article `json:"articles"`
	NextCursor string    `json:"nextCursor"`
}

func (c *Client) ListArticles(ctx context.Context, params ListArticlesParams) (ArticlePage, error) {
	q := url.Values{}
	if params.Published != nil {
		q.Set("published", strconv.FormatBool(*params.Published))
	}
	if params.Cursor != "" {
		q.Set("cursor", params.Cursor)
	}
	path := "/api/agent/articles"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out ArticlePage
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// maxArticlePages bounds pagination against a server that never ends its cursor chain.
const maxArticlePages = 100

// ListAllArticles follows nextCursor until the listing is exhausted.
func (c *Client) ListAllArticles(ctx context.Context, published bool) ([]Article, error) {
	var all []Article
	params := ListArticlesParams{Published: &published}
	for range maxArticlePages {
		page, err := c.ListArticles(ctx, params)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Articles...)
		if page.NextCursor == "" || page.NextCursor == params.Cursor {
			return all, nil
		}
		params.Cursor = page.NextCursor
	}
	c.logger.WithField("pages", maxArticlePages).Warn("Article listing truncated")
	return all, nil
}

func (c *Client) CreateArticle(ctx context.Context, in ArticleInput) (Article, error) {
	var out Article
	err := c.do(ctx, http.MethodPost, "/api/agent/articles", in, &out)
	return out, err
}

func (c *Client) UpdateArticle(ctx context.Context, id string, in ArticleInput) (Article, error) {
	var out Article
	err := c.do(ctx, http.MethodPatch, "/api/agent/articles/"+url.PathEscape(id), in, &out)
	return out, err
}
