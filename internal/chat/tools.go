package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	_ "time/tzdata"

	"gudagent/internal/gudcal"
	"gudagent/internal/gudform"
	"gudagent/internal/knowledge"
	"gudagent/pkg/llm"
	"gudagent/pkg/logging"
)

const (
	slotLookaheadDays = 5
	dateLayout        = "2006-01-02"
	displayTimeLayout = "3:04 PM"
	bookedAtLayout    = "Monday, January 2, 2006 at 3:04 PM"

	slotTakenMessage   = "That time slot is no longer available. Please check availability again and choose a different time."
	noMappingMessage   = "Form field mappings are not configured. Could not save lead info."
	invalidEmailFormat = "%q is not a valid email address."
)

type ToolDefinition struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

var ToolDefinitions = []ToolDefinition{
	{
		Type: "function",
		Function: ToolFunction{
			Name:        "search_kb",
			Description: "Search the knowledge base for information to answer customer questions. Use this when the customer asks about the company, products, pricing, features, or anything that might be documented.",
			Parameters: toolParams(
				map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query: what the customer is asking about.",
					},
				},
				[]string{"query"},
			),
		},
	},
	{
		Type: "function",
		Function: ToolFunction{
			Name:        "collect_info",
			Description: "Collect and save visitor lead information (name, email, company, phone) by submitting it to a form. You should have at least their name and email before calling this.",
			Parameters: toolParams(
				map[string]any{
					"name":    stringParam("The visitor's full name"),
					"email":   stringParam("The visitor's email address"),
					"company": stringParam("The visitor's company or organization name"),
					"phone":   stringParam("The visitor's phone number"),
				},
				[]string{"name", "email"},
			),
		},
	},
	{
		Type: "function",
		Function: ToolFunction{
			Name:        "check_slots",
			Description: "Check available meeting or demo time slots. Use this when a visitor wants to schedule a meeting or demo. Returns available slots for the requested date range.",
			Parameters: toolParams(
				map[string]any{
					"date":     stringParam("Specific date to check (YYYY-MM-DD). If omitted, checks the next 5 days."),
					"timezone": stringParam("The visitor's timezone (IANA format, e.g. 'America/New_York'). Defaults to America/New_York."),
				},
				[]string{},
			),
		},
	},
	{
		Type: "function",
		Function: ToolFunction{
			Name:        "book_meeting",
			Description: "Book a meeting or demo with the visitor. Use this after checking available slots and confirming the visitor's preferred time. You MUST have the visitor's name, email, and chosen time slot before calling this.",
			Parameters: toolParams(
				map[string]any{
					"startTime":     stringParam("The meeting start time as an ISO 8601 string (e.g. '2024-03-15T14:00:00Z'). Must be one of the available slots from check_slots."),
					"guestName":     stringParam("The visitor's full name"),
					"guestEmail":    stringParam("The visitor's email address"),
					"guestTimezone": stringParam("The visitor's timezone (IANA format). Defaults to America/New_York."),
					"notes":         stringParam("Any additional notes about the meeting, such as what the visitor wants to discuss."),
				},
				[]string{"startTime", "guestName", "guestEmail"},
			),
		},
	},
}

func toolParams(properties map[string]any, required []string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func stringParam(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// KnowledgeSearcher is satisfied by *knowledge.Index.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string) knowledge.SearchResponse
}

// Calendar is satisfied by *gudcal.Client.
type Calendar interface {
	GetSlots(ctx context.Context, from, to, timezone string) (gudcal.Availability, error)
	Book(ctx context.Context, req gudcal.BookingRequest) (gudcal.Booking, error)
}

// LeadForm is satisfied by *gudform.Client.
type LeadForm interface {
	Fields() gudform.FieldMapping
	Submit(ctx context.Context, answers []gudform.Answer) (gudform.Response, error)
}

type ToolboxConfig struct {
	Knowledge KnowledgeSearcher
	Calendar  Calendar
	Forms     LeadForm
	Logger    logging.Logger
}

// Toolbox executes the agent's local tools. Business failures are reported
// inside the JSON result so the model can explain them to the visitor.
type Toolbox struct {
	knowledge KnowledgeSearcher
	calendar  Calendar
	forms     LeadForm
	logger    logging.Logger
	now       func() time.Time
}

func NewToolbox(cfg ToolboxConfig) *Toolbox {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Toolbox{
		knowledge: cfg.Knowledge,
		calendar:  cfg.Calendar,
		forms:     cfg.Forms,
		logger:    logger,
		now:       time.Now,
	}
}

func (t *Toolbox) Definitions() []llm.Tool {
	tools := make([]llm.Tool, 0, len(ToolDefinitions))
	for _, tool := range ToolDefinitions {
		tools = append(tools, llm.Tool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  tool.Function.Parameters,
		})
	}
	return tools
}

// toolResult is what a tool hands back: a JSON-able payload and whether the
// tool achieved what it was asked to do.
type toolResult struct {
	payload any
	ok      bool
}

// Execute runs one tool call and returns its JSON result. An error means the
// call itself was unusable (unknown tool, malformed arguments).
func (t *Toolbox) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	var (
		res toolResult
		err error
	)
	switch call.Name {
	case "search_kb":
		res, err = t.searchKB(ctx, call.Arguments)
	case "collect_info":
		res, err = t.collectInfo(ctx, call.Arguments)
	case "check_slots":
		res, err = t.checkSlots(ctx, call.Arguments)
	case "book_meeting":
		res, err = t.bookMeeting(ctx, call.Arguments)
	default:
		err = fmt.Errorf("unknown tool %q", call.Name)
	}
	if err != nil {
		toolCallsTotal.WithLabelValues(call.Name, "error").Inc()
		return "", err
	}

	status := "ok"
	if !res.ok {
		status = "failed"
	}
	toolCallsTotal.WithLabelValues(call.Name, status).Inc()

	out, err := json.Marshal(res.payload)
	if err != nil {
		return "", fmt.Errorf("encode %s result: %w", call.Name, err)
	}
	return string(out), nil
}

func decodeArgs(raw string, v any) error {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

type actionResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ResponseID string `json:"responseId,omitempty"`
	BookingID  string `json:"bookingId,omitempty"`
	Status     string `json:"status,omitempty"`
}

func failed(format string, args ...any) (toolResult, error) {
	return toolResult{payload: actionResult{Message: fmt.Sprintf(format, args...)}}, nil
}

func (t *Toolbox) searchKB(ctx context.Context, raw string) (toolResult, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return toolResult{}, err
	}
	if t.knowledge == nil {
		resp := knowledge.SearchResponse{Message: "Knowledge base is empty. No information available."}
		return toolResult{payload: resp}, nil
	}
	resp := t.knowledge.Search(ctx, strings.TrimSpace(args.Query))
	return toolResult{payload: resp, ok: resp.Found}, nil
}

// validEmail accepts a bare address only, not "Name <addr>".
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(s, ".")
}

func (t *Toolbox) collectInfo(ctx context.Context, raw string) (toolResult, error) {
	var args struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		Company string `json:"company"`
		Phone   string `json:"phone"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return toolResult{}, err
	}
	lead := gudform.Lead{
		Name:    strings.TrimSpace(args.Name),
		Email:   strings.TrimSpace(args.Email),
		Company: strings.TrimSpace(args.Company),
		Phone:   strings.TrimSpace(args.Phone),
	}
	if lead.Name == "" {
		return failed("The visitor's name is required.")
	}
	if !validEmail(lead.Email) {
		return failed(invalidEmailFormat, lead.Email)
	}
	if t.forms == nil {
		return failed("Failed to save lead information: %v", gudform.ErrNotConfigured)
	}

	answers := gudform.BuildAnswers(t.forms.Fields(), lead)
	if len(answers) == 0 {
		return failed(noMappingMessage)
	}
	resp, err := t.forms.Submit(ctx, answers)
	if err != nil {
		t.logger.WithError(err).Warn("Lead submission failed")
		return failed("Failed to save lead information: %v", err)
	}
	return toolResult{ok: true, payload: actionResult{
		Success:    true,
		Message:    fmt.Sprintf("Successfully captured lead information for %s (%s).", lead.Name, lead.Email),
		ResponseID: resp.ID,
	}}, nil
}

type slotView struct {
	Start       string `json:"start"`
	DisplayTime string `json:"displayTime"`
}

type dayView struct {
	Date           string     `json:"date"`
	AvailableSlots []slotView `json:"availableSlots"`
}

type slotsResult struct {
	Available bool      `json:"available"`
	Timezone  string    `json:"timezone,omitempty"`
	Days      []dayView `json:"days,omitempty"`
	Message   string    `json:"message"`
}

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func displayTime(start string, loc *time.Location) string {
	ts, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return start
	}
	return ts.In(loc).Format(displayTimeLayout)
}

func (t *Toolbox) checkSlots(ctx context.Context, raw string) (toolResult, error) {
	var args struct {
		Date     string `json:"date"`
		Timezone string `json:"timezone"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return toolResult{}, err
	}
	tz := strings.TrimSpace(args.Timezone)
	if tz == "" {
		tz = gudcal.DefaultTimezone
	}
	if t.calendar == nil {
		return toolResult{payload: slotsResult{Message: fmt.Sprintf("Failed to check availability: %v", gudcal.ErrNotConfigured)}}, nil
	}
	loc := loadLocation(tz)

	from, to := strings.TrimSpace(args.Date), strings.TrimSpace(args.Date)
	if from == "" {
		today := t.now().In(loc)
		from = today.Format(dateLayout)
		to = today.AddDate(0, 0, slotLookaheadDays).Format(dateLayout)
	}

	avail, err := t.calendar.GetSlots(ctx, from, to, tz)
	if err != nil {
		t.logger.WithError(err).WithField("timezone", tz).Warn("Availability lookup failed")
		return toolResult{payload: slotsResult{Message: fmt.Sprintf("Failed to check availability: %v", err)}}, nil
	}

	var days []dayView
	for _, day := range avail.Slots {
		if len(day.Slots) == 0 {
			continue
		}
		view := dayView{Date: day.Date, AvailableSlots: make([]slotView, 0, len(day.Slots))}
		for _, slot := range day.Slots {
			view.AvailableSlots = append(view.AvailableSlots, slotView{Start: slot.Start, DisplayTime: displayTime(slot.Start, loc)})
		}
		days = append(days, view)
	}

	if len(days) == 0 {
		return toolResult{payload: slotsResult{
			Timezone: tz,
			Message:  fmt.Sprintf("No available slots found between %s and %s (%s). Try a different date range.", from, to, tz),
		}}, nil
	}
	return toolResult{ok: true, payload: slotsResult{
		Available: true,
		Timezone:  tz,
		Days:      days,
		Message:   fmt.Sprintf("Found available slots across %d day(s).", len(days)),
	}}, nil
}

func (t *Toolbox) bookMeeting(ctx context.Context, raw string) (toolResult, error) {
	var args struct {
		StartTime     string `json:"startTime"`
		GuestName     string `json:"guestName"`
		GuestEmail    string `json:"guestEmail"`
		GuestTimezone string `json:"guestTimezone"`
		Notes         string `json:"notes"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return toolResult{}, err
	}
	name := strings.TrimSpace(args.GuestName)
	email := strings.TrimSpace(args.GuestEmail)
	if name == "" {
		return failed("The guest's name is required.")
	}
	if !validEmail(email) {
		return failed(invalidEmailFormat, email)
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(args.StartTime))
	if err != nil {
		return failed("%q is not a valid ISO 8601 start time. Use one of the slots returned by check_slots.", args.StartTime)
	}
	tz := strings.TrimSpace(args.GuestTimezone)
	if tz == "" {
		tz = gudcal.DefaultTimezone
	}
	if t.calendar == nil {
		return failed("Failed to book meeting: %v", gudcal.ErrNotConfigured)
	}

	booking, err := t.calendar.Book(ctx, gudcal.BookingRequest{
		StartTime:     strings.TrimSpace(args.StartTime),
		GuestName:     name,
		GuestEmail:    email,
		GuestTimezone: tz,
		Notes:         strings.TrimSpace(args.Notes),
	})
	if errors.Is(err, gudcal.ErrConflict) {
		return failed(slotTakenMessage)
	}
	if err != nil {
		t.logger.WithError(err).Warn("Booking failed")
		return failed("Failed to book meeting: %v", err)
	}

	when := start.In(loadLocation(tz)).Format(bookedAtLayout)
	return toolResult{ok: true, payload: actionResult{
		Success:   true,
		BookingID: booking.UID,
		Status:    booking.Status,
		Message:   fmt.Sprintf("Meeting booked successfully for %s (%s) at %s. Booking ID: %s", name, email, when, booking.UID),
	}}, nil
}
