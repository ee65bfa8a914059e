package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"gudagent/internal/gudcal"
	"gudagent/internal/gudform"
	"gudagent/internal/knowledge"
	"gudagent/pkg/clients"
	"gudagent/pkg/llm"
)

type fakeSearcher struct {
	queries []string
	resp    knowledge.SearchResponse
}

func (f *fakeSearcher) Search(_ context.Context, query string) knowledge.SearchResponse {
	f.queries = append(f.queries, query)
	return f.resp
}

type fakeCalendar struct {
	avail    gudcal.Availability
	slotsErr error
	booking  gudcal.Booking
	bookErr  error

	from, to, tz string
	booked       []gudcal.BookingRequest
}

func (f *fakeCalendar) GetSlots(_ context.Context, from, to, tz string) (gudcal.Availability, error) {
	f.from, f.to, f.tz = from, to, tz
	return f.avail, f.slotsErr
}

func (f *fakeCalendar) Book(_ context.Context, req gudcal.BookingRequest) (gudcal.Booking, error) {
	f.booked = append(f.booked, req)
	return f.booking, f.bookErr
}

type fakeForm struct {
	fields    gudform.FieldMapping
	err       error
	submitted [][]gudform.Answer
}

func (f *fakeForm) Fields() gudform.FieldMapping { return f.fields }

func (f *fakeForm) Submit(_ context.Context, answers []gudform.Answer) (gudform.Response, error) {
	f.submitted = append(f.submitted, answers)
	if f.err != nil {
		return gudform.Response{}, f.err
	}
	return gudform.Response{ID: "resp_1"}, nil
}

// 10:00 in New York, a Monday before DST starts.
var fixedNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func newTestToolbox(cfg ToolboxConfig) *Toolbox {
	tb := NewToolbox(cfg)
	tb.now = func() time.Time { return fixedNow }
	return tb
}

func execTool(t *testing.T, tb *Toolbox, name, args string) map[string]any {
	t.Helper()
	out, err := tb.Execute(context.Background(), llm.ToolCall{ID: "c", Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("Execute(%s): %v", name, err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("result is not JSON: %q", out)
	}
	return payload
}

func TestToolDefinitions(t *testing.T) {
	defs := NewToolbox(ToolboxConfig{}).Definitions()
	want := []string{"search_kb", "collect_info", "check_slots", "book_meeting"}
	if len(defs) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(defs))
	}
	for i, name := range want {
		if defs[i].Name != name || defs[i].Parameters["type"] != "object" {
			t.Fatalf("tool %d = %+v", i, defs[i])
		}
	}
}

func TestExecuteRejectsUnusableCalls(t *testing.T) {
	tb := NewToolbox(ToolboxConfig{})
	if _, err := tb.Execute(context.Background(), llm.ToolCall{Name: "delete_everything"}); err == nil {
		t.Fatal("expected unknown tool error")
	}
	if _, err := tb.Execute(context.Background(), llm.ToolCall{Name: "search_kb", Arguments: `{"query":`}); err == nil {
		t.Fatal("expected malformed arguments error")
	}
}

func TestSearchKB(t *testing.T) {
	searcher := &fakeSearcher{resp: knowledge.SearchResponse{
		Found:   true,
		Results: []knowledge.SearchResult{{Heading: "Pricing", Content: "Plans start at $10.", Relevance: 3}},
	}}
	tb := newTestToolbox(ToolboxConfig{Knowledge: searcher})

	payload := execTool(t, tb, "search_kb", `{"query":"  pricing plans "}`)
	if payload["found"] != true {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(searcher.queries) != 1 || searcher.queries[0] != "pricing plans" {
		t.Fatalf("unexpected queries %v", searcher.queries)
	}

	empty := execTool(t, newTestToolbox(ToolboxConfig{}), "search_kb", `{"query":"x"}`)
	if empty["found"] != false || empty["message"] == "" {
		t.Fatalf("expected empty knowledge message, got %+v", empty)
	}
}

func TestCollectInfo(t *testing.T) {
	mapped := gudform.FieldMapping{Name: "q_name", Email: "q_email"}
	tests := []struct {
		name        string
		form        *fakeForm
		args        string
		success     bool
		wantMessage string
		submits     int
	}{
		{"captured", &fakeForm{fields: mapped}, `{"name":"Ada","email":"ada@example.com","company":"Acme"}`, true, "Successfully captured lead information for Ada (ada@example.com).", 1},
		{"no mapping", &fakeForm{}, `{"name":"Ada","email":"ada@example.com"}`, false, noMappingMessage, 0},
		{"invalid email", &fakeForm{fields: mapped}, `{"name":"Ada","email":"not-an-email"}`, false, `"not-an-email" is not a valid email address.`, 0},
		{"missing name", &fakeForm{fields: mapped}, `{"email":"ada@example.com"}`, false, "The visitor's name is required.", 0},
		{"submit fails", &fakeForm{fields: mapped, err: &clients.APIError{Service: "gudform", Status: 500, Message: "boom"}}, `{"name":"Ada","email":"ada@example.com"}`, false, "Failed to save lead information: gudform request failed (500): boom", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := execTool(t, newTestToolbox(ToolboxConfig{Forms: tt.form}), "collect_info", tt.args)
			if payload["success"] != tt.success || payload["message"] != tt.wantMessage {
				t.Fatalf("unexpected payload %+v", payload)
			}
			if len(tt.form.submitted) != tt.submits {
				t.Fatalf("expected %d submissions, got %d", tt.submits, len(tt.form.submitted))
			}
			if tt.success && payload["responseId"] != "resp_1" {
				t.Fatalf("expected response id, got %+v", payload)
			}
		})
	}
}

func TestCollectInfoWithoutForm(t *testing.T) {
	payload := execTool(t, newTestToolbox(ToolboxConfig{}), "collect_info", `{"name":"Ada","email":"ada@example.com"}`)
	if payload["success"] != false || !strings.HasPrefix(payload["message"].(string), "Failed to save lead information:") {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestCheckSlotsDefaultRange(t *testing.T) {
	cal := &fakeCalendar{avail: gudcal.Availability{Slots: []gudcal.DaySlots{
		{Date: "2026-03-02", Slots: []gudcal.TimeSlot{{Start: "2026-03-02T14:00:00Z"}, {Start: "2026-03-02T19:30:00Z"}}},
		{Date: "2026-03-03"},
		{Date: "2026-03-04", Slots: []gudcal.TimeSlot{{Start: "2026-03-04T15:00:00Z"}}},
	}}}
	payload := execTool(t, newTestToolbox(ToolboxConfig{Calendar: cal}), "check_slots", `{}`)

	if cal.from != "2026-03-02" || cal.to != "2026-03-07" || cal.tz != gudcal.DefaultTimezone {
		t.Fatalf("unexpected range %s..%s (%s)", cal.from, cal.to, cal.tz)
	}
	if payload["available"] != true || payload["message"] != "Found available slots across 2 day(s)." {
		t.Fatalf("unexpected payload %+v", payload)
	}
	days := payload["days"].([]any)
	first := days[0].(map[string]any)["availableSlots"].([]any)
	if got := first[0].(map[string]any)["displayTime"]; got != "9:00 AM" {
		t.Fatalf("expected 9:00 AM, got %v", got)
	}
	if got := first[1].(map[string]any)["displayTime"]; got != "2:30 PM" {
		t.Fatalf("expected 2:30 PM, got %v", got)
	}
}

func TestCheckSlotsSpecificDate(t *testing.T) {
	cal := &fakeCalendar{}
	payload := execTool(t, newTestToolbox(ToolboxConfig{Calendar: cal}), "check_slots", `{"date":"2026-04-01","timezone":"Europe/Berlin"}`)

	if cal.from != "2026-04-01" || cal.to != "2026-04-01" || cal.tz != "Europe/Berlin" {
		t.Fatalf("unexpected range %s..%s (%s)", cal.from, cal.to, cal.tz)
	}
	want := "No available slots found between 2026-04-01 and 2026-04-01 (Europe/Berlin). Try a different date range."
	if payload["available"] != false || payload["message"] != want || payload["timezone"] != "Europe/Berlin" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestCheckSlotsFailure(t *testing.T) {
	cal := &fakeCalendar{slotsErr: errors.New("gudcal request failed (503): Service Unavailable")}
	payload := execTool(t, newTestToolbox(ToolboxConfig{Calendar: cal}), "check_slots", `{}`)
	if payload["available"] != false || payload["message"] != "Failed to check availability: gudcal request failed (503): Service Unavailable" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if _, ok := payload["timezone"]; ok {
		t.Fatalf("failure should not carry a timezone: %+v", payload)
	}
}

func TestBookMeeting(t *testing.T) {
	valid := `{"startTime":"2026-03-02T14:00:00Z","guestName":"Ada","guestEmail":"ada@example.com","notes":"pricing"}`
	tests := []struct {
		name        string
		cal         *fakeCalendar
		args        string
		success     bool
		wantMessage string
	}{
		{
			"booked",
			&fakeCalendar{booking: gudcal.Booking{UID: "bk_1", Status: "ACCEPTED"}},
			valid,
			true,
			"Meeting booked successfully for Ada (ada@example.com) at Monday, March 2, 2026 at 9:00 AM. Booking ID: bk_1",
		},
		{
			"slot taken",
			&fakeCalendar{bookErr: &clients.APIError{Service: "gudcal", Status: 409, Message: "Slot taken"}},
			valid,
			false,
			slotTakenMessage,
		},
		{
			"other failure",
			&fakeCalendar{bookErr: errors.New("timeout")},
			valid,
			false,
			"Failed to book meeting: timeout",
		},
		{
			"bad start time",
			&fakeCalendar{},
			`{"startTime":"tomorrow at 3","guestName":"Ada","guestEmail":"ada@example.com"}`,
			false,
			`"tomorrow at 3" is not a valid ISO 8601 start time. Use one of the slots returned by check_slots.`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := execTool(t, newTestToolbox(ToolboxConfig{Calendar: tt.cal}), "book_meeting", tt.args)
			if payload["success"] != tt.success || payload["message"] != tt.wantMessage {
				t.Fatalf("unexpected payload %+v", payload)
			}
		})
	}
}

func TestBookMeetingDefaultsTimezone(t *testing.T) {
	cal := &fakeCalendar{booking: gudcal.Booking{UID: "bk_1"}}
	execTool(t, newTestToolbox(ToolboxConfig{Calendar: cal}), "book_meeting", `{"startTime":"2026-03-02T14:00:00Z","guestName":"Ada","guestEmail":"ada@example.com"}`)
	if len(cal.booked) != 1 || cal.booked[0].GuestTimezone != gudcal.DefaultTimezone {
		t.Fatalf("unexpected booking request %+v", cal.booked)
	}
}
