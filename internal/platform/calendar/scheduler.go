// Package calendar creates booking appointments on the studio Google Calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/lumen-studio/booking/internal/services"
)

// Config identifies the calendar and the access token injected by operators.
type Config struct {
	CalendarID  string
	AccessToken string
	TimeZone    string
}

// Scheduler implements services.CalendarScheduler over the Calendar v3 API.
type Scheduler struct {
	events     *gcal.EventsService
	tokens     oauth2.TokenSource
	calendarID string
	timeZone   string
}

var _ services.CalendarScheduler = (*Scheduler)(nil)

// NewScheduler builds a scheduler authorised by the static access token.
// The token is never refreshed here; an expired token reports unauthenticated.
func NewScheduler(ctx context.Context, cfg Config) (*Scheduler, error) {
	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimSpace(cfg.AccessToken)})
	svc, err := gcal.NewService(ctx, option.WithTokenSource(tokens))
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	return newScheduler(svc, tokens, cfg)
}

func newScheduler(svc *gcal.Service, tokens oauth2.TokenSource, cfg Config) (*Scheduler, error) {
	if svc == nil {
		return nil, errors.New("calendar: service is required")
	}
	calendarID := strings.TrimSpace(cfg.CalendarID)
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Scheduler{
		events:     svc.Events,
		tokens:     tokens,
		calendarID: calendarID,
		timeZone:   strings.TrimSpace(cfg.TimeZone),
	}, nil
}

// IsAuthenticated reports whether a usable access token is configured.
func (s *Scheduler) IsAuthenticated(context.Context) bool {
	if s == nil || s.tokens == nil {
		return false
	}
	token, err := s.tokens.Token()
	if err != nil || token == nil {
		return false
	}
	return strings.TrimSpace(token.AccessToken) != "" && token.Valid()
}

// CreateEvent inserts the appointment and returns the calendar event id.
func (s *Scheduler) CreateEvent(ctx context.Context, event services.CalendarEvent) (string, error) {
	if event.Start.IsZero() || !event.End.After(event.Start) {
		return "", errors.New("calendar: event window is invalid")
	}
	created, err := s.events.Insert(s.calendarID, s.toAPIEvent(event)).
		SendUpdates("all").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("calendar: insert event: %w", err)
	}
	return created.Id, nil
}

func (s *Scheduler) toAPIEvent(event services.CalendarEvent) *gcal.Event {
	out := &gcal.Event{
		Summary:     event.Summary,
		Description: event.Description,
		Location:    event.Location,
		Start:       &gcal.EventDateTime{DateTime: event.Start.Format(time.RFC3339), TimeZone: s.timeZone},
		End:         &gcal.EventDateTime{DateTime: event.End.Format(time.RFC3339), TimeZone: s.timeZone},
	}
	for _, email := range event.Attendees {
		if email = strings.TrimSpace(email); email != "" {
			out.Attendees = append(out.Attendees, &gcal.EventAttendee{Email: email})
		}
	}
	return out
}
