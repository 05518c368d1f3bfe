package capability

import (
	"context"
	"fmt"
	"strings"
	"time"

	calendar "google.golang.org/api/calendar/v3"
)

const eventSearchLimit = 10

// CalendarClient executes calendar actions against the Google Calendar API.
type CalendarClient struct {
	svc    *calendar.Service
	userID string
	memory SemanticIndex
}

func (c *CalendarClient) Capability() Capability { return Calendar }

func (c *CalendarClient) Execute(ctx context.Context, inv Invocation) (string, error) {
	switch {
	case actionHas(inv.Action, "create", "schedule", "add"):
		return c.create(ctx, inv)
	case actionHas(inv.Action, "delete", "cancel", "remove"):
		return c.delete(ctx, inv)
	default:
		return c.search(ctx, inv)
	}
}

func (c *CalendarClient) create(ctx context.Context, inv Invocation) (string, error) {
	summary := stringParam(inv.Params, "summary", "title", "event_name")
	if summary == "" {
		summary = inv.Query
	}
	start := stringParam(inv.Params, "start", "start_time", "date")
	if start == "" {
		return "", fmt.Errorf("no start time was provided for the event")
	}
	end := stringParam(inv.Params, "end", "end_time")

	event := &calendar.Event{
		Summary:     summary,
		Description: stringParam(inv.Params, "description"),
		Start:       eventTime(start),
		End:         eventTime(end),
	}
	if event.End == nil {
		// Default to an hour when the request named no end.
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			event.End = eventTime(t.Add(time.Hour).Format(time.RFC3339))
		}
	}
	if attendee := stringParam(inv.Params, "attendee", "attendee_email", "with"); attendee != "" {
		event.Attendees = []*calendar.EventAttendee{{Email: attendee}}
	}

	created, err := c.svc.Events.Insert("primary", event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create event: %w", err)
	}
	return fmt.Sprintf("created event %q starting %s (id %s)", created.Summary, start, created.Id), nil
}

// eventTime accepts either an RFC3339 timestamp or a bare date.
func eventTime(value string) *calendar.EventDateTime {
	if value == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", value); err == nil {
		return &calendar.EventDateTime{Date: value}
	}
	return &calendar.EventDateTime{DateTime: value}
}

func (c *CalendarClient) delete(ctx context.Context, inv Invocation) (string, error) {
	eventID := stringParam(inv.Params, "event_id", "id")
	if eventID == "" {
		return "", fmt.Errorf("no event id was provided to cancel")
	}

	if err := c.svc.Events.Delete("primary", eventID).Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("failed to delete event: %w", err)
	}
	return fmt.Sprintf("cancelled event %s", eventID), nil
}

func (c *CalendarClient) search(ctx context.Context, inv Invocation) (string, error) {
	call := c.svc.Events.List("primary").
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(eventSearchLimit).
		Context(ctx)

	timeMin := stringParam(inv.Params, "time_min", "start", "from")
	if timeMin == "" {
		timeMin = time.Now().UTC().Format(time.RFC3339)
	}
	call = call.TimeMin(timeMin)
	if timeMax := stringParam(inv.Params, "time_max", "end", "until"); timeMax != "" {
		call = call.TimeMax(timeMax)
	}
	if q := stringParam(inv.Params, "query", "search"); q != "" {
		call = call.Q(q)
	}

	resp, err := call.Do()
	if err != nil {
		return "", fmt.Errorf("failed to search events: %w", err)
	}
	if len(resp.Items) == 0 {
		return "no upcoming events matched the search", nil
	}

	var summaries []string
	for _, event := range resp.Items {
		start := ""
		if event.Start != nil {
			start = event.Start.DateTime
			if start == "" {
				start = event.Start.Date
			}
		}
		summary := fmt.Sprintf("%q at %s", event.Summary, start)
		summaries = append(summaries, summary)
		c.memory.Index(ctx, c.userID, "event", event.Id, summary)
	}
	return fmt.Sprintf("found %d events: %s", len(summaries), strings.Join(summaries, "; ")), nil
}
