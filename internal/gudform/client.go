// Package gudform submits lead-capture responses to GudForm.
package gudform

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"gudagent/pkg/clients"
	"gudagent/pkg/logging"
)

const (
	serviceName    = "gudform"
	defaultTimeout = 15 * time.Second
)

var ErrNotConfigured = errors.New("gudform: GUDFORM_URL and GUDFORM_FORM_ID are required")

// FieldMapping maps lead attributes to form question IDs. Empty entries are not submitted.
type FieldMapping struct {
	Name    string
	Email   string
	Company string
	Phone   string
}

func (m FieldMapping) Empty() bool {
	return m.Name == "" && m.Email == "" && m.Company == "" && m.Phone == ""
}

type Config struct {
	BaseURL string
	FormID  string
	Fields  FieldMapping
	Timeout time.Duration
	Logger  logging.Logger
}

type Client struct {
	cfg  Config
	http *clients.HTTPClient
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.FormID == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	breaker := clients.DefaultCircuitBreakerConfig(serviceName)
	breaker.Logger = cfg.Logger
	execCfg := clients.DefaultHTTPExecutorConfig()
	execCfg.CircuitBreaker = &breaker
	return &Client{cfg: cfg, http: clients.NewHTTPClient(cfg.Timeout, execCfg)}, nil
}

func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http.WithHTTPClient(hc)
	return c
}

func (c *Client) Fields() FieldMapping { return c.cfg.Fields }

type Answer struct {
	QuestionID string `json:"questionId"`
	Value      string `json:"value"`
}

type Lead struct {
	Name    string
	Email   string
	Company string
	Phone   string
}

// BuildAnswers keeps only attributes that are both present and mapped.
func BuildAnswers(fields FieldMapping, lead Lead) []Answer {
	pairs := []struct{ id, value string }{
		{fields.Name, lead.Name},
		{fields.Email, lead.Email},
		{fields.Company, lead.Company},
		{fields.Phone, lead.Phone},
	}
	answers := make([]Answer, 0, len(pairs))
	for _, p := range pairs {
		if p.id != "" && p.value != "" {
			answers = append(answers, Answer{QuestionID: p.id, Value: p.value})
		}
	}
	return answers
}

type Response struct {
	ID string `json:"id"`
}

func (c *Client) Submit(ctx context.Context, answers []Answer) (Response, error) {
	endpoint := clients.JoinURL(c.cfg.BaseURL, "/api/forms/"+url.PathEscape(c.cfg.FormID)+"/responses")
	var out Response
	err := c.http.DoJSON(ctx, serviceName, http.MethodPost, endpoint, nil, map[string]any{"answers": answers}, &out)
	return out, err
}
