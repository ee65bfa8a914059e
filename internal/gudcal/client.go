// Package gudcal reads availability from and books meetings on GudCal.
package gudcal

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
	serviceName     = "gudcal"
	defaultTimeout  = 15 * time.Second
	DefaultTimezone = "America/New_York"
)

var (
	ErrConflict      = clients.ErrConflict
	ErrNotConfigured = errors.New("gudcal: GUDCAL_URL and GUDCAL_USERNAME are required")
)

type Config struct {
	BaseURL     string
	Username    string
	EventSlug   string
	EventTypeID string
	Timeout     time.Duration
	Logger      logging.Logger
}

type Client struct {
	cfg  Config
	http *clients.HTTPClient
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Username == "" {
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

type TimeSlot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type DaySlots struct {
	Date  string     `json:"date"`
	Slots []TimeSlot `json:"slots"`
}

type Availability struct {
	Slots    []DaySlots `json:"slots"`
	Timezone string     `json:"timezone"`
}

// GetSlots returns open slots between from and to (YYYY-MM-DD) grouped by day.
func (c *Client) GetSlots(ctx context.Context, from, to, timezone string) (Availability, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	q := url.Values{}
	q.Set("eventSlug", c.cfg.EventSlug)
	q.Set("from", from)
	q.Set("to", to)
	q.Set("timezone", timezone)
	endpoint := clients.JoinURL(c.cfg.BaseURL, "/api/availability/"+url.PathEscape(c.cfg.Username)) + "?" + q.Encode()

	var out Availability
	err := c.http.DoJSON(ctx, serviceName, http.MethodGet, endpoint, nil, nil, &out)
	return out, err
}

type BookingRequest struct {
	StartTime     string
	GuestName     string
	GuestEmail    string
	GuestTimezone string
	Notes         string
}

type Booking struct {
	UID    string `json:"uid"`
	Status string `json:"status"`
}

// Book reserves a slot. A taken slot surfaces as ErrConflict.
func (c *Client) Book(ctx context.Context, req BookingRequest) (Booking, error) {
	tz := req.GuestTimezone
	if tz == "" {
		tz = DefaultTimezone
	}
	in := struct {
		EventTypeID   string `json:"eventTypeId"`
		StartTime     string `json:"startTime"`
		GuestName     string `json:"guestName"`
		GuestEmail    string `json:"guestEmail"`
		GuestTimezone string `json:"guestTimezone"`
		Notes         string `json:"notes,omitempty"`
	}{c.cfg.EventTypeID, req.StartTime, req.GuestName, req.GuestEmail, tz, req.Notes}

	var out Booking
	err := c.http.DoJSON(ctx, serviceName, http.MethodPost, clients.JoinURL(c.cfg.BaseURL, "/api/bookings"), nil, in, &out)
	return out, err
}
