package google

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Septikai/obsidian-google-calendar-sync/internal/utils"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/calendar"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/event"
	log "github.com/sirupsen/logrus"
	gcal "google.golang.org/api/calendar/v3"
)

var ErrUnauthenticated = fmt.Errorf("google calendar is unauthenticated, authentication is required")

const statusCancelled = "cancelled"

// Calendar is one Google calendar of all-day events.
type Calendar struct {
	service      *gcal.Service
	calendarId   string
	lookbackDays int
	clock        utils.Clock
}

func newGoogleCalendar(service *gcal.Service, calendarId string, lookbackDays int, clock utils.Clock) *Calendar {
	return &Calendar{
		service:      service,
		calendarId:   calendarId,
		lookbackDays: lookbackDays,
		clock:        clock,
	}
}

func (c *Calendar) ListEvents(ctx context.Context) ([]calendar.Payload, error) {
	call := c.service.Events.List(c.calendarId).
		SingleEvents(true).
		OrderBy("startTime")
	if c.lookbackDays > 0 {
		call = call.TimeMin(utils.DaysAgo(c.clock, c.lookbackDays).Format(time.RFC3339))
	}

	var events []calendar.Payload
	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			if payload, ok := toPayload(item); ok {
				events = append(events, payload)
			}
		}
		return nil
	})
	if err != nil {
		err := fmt.Errorf("unable to retrieve events from Google Calendar: %w", err)
		log.Error(err)
		return nil, err
	}
	log.Debugf("Retrieved %d events from calendar %s", len(events), c.calendarId)
	return events, nil
}

func (c *Calendar) InsertEvent(ctx context.Context, payload calendar.Payload) (string, error) {
	log.Debugf("Adding event: %s %q, to calendar: %s", payload.Date, payload.Summary, c.calendarId)
	googleEvent, err := toGoogleEvent(payload)
	if err != nil {
		return "", err
	}
	result, err := c.service.Events.Insert(c.calendarId, googleEvent).Context(ctx).Do()
	if err != nil {
		err := fmt.Errorf("unable to insert event in Google Calendar: %w", err)
		log.Error(err)
		return "", err
	}
	return result.Id, nil
}

func (c *Calendar) UpdateEvent(ctx context.Context, id string, payload calendar.Payload) error {
	log.Debugf("Updating event %s: %s %q", id, payload.Date, payload.Summary)
	googleEvent, err := toGoogleEvent(payload)
	if err != nil {
		return err
	}
	_, err = c.service.Events.Update(c.calendarId, id, googleEvent).Context(ctx).Do()
	if err != nil {
		err := fmt.Errorf("unable to update event in Google Calendar: %w", err)
		log.Error(err)
		return err
	}
	return nil
}

// toPayload converts a Google event. Timed events keep the date of their start.
func toPayload(item *gcal.Event) (calendar.Payload, bool) {
	if item == nil || item.Status == statusCancelled || item.Start == nil {
		return calendar.Payload{}, false
	}
	date := item.Start.Date
	if date == "" {
		date, _, _ = strings.Cut(item.Start.DateTime, "T")
	}
	if date == "" {
		log.Warnf("found calendar event without start - ignoring: %s", item.Id)
		return calendar.Payload{}, false
	}
	summary := item.Summary
	if summary == "" {
		summary = event.Untitled
	}
	return calendar.Payload{
		ID:          item.Id,
		Summary:     summary,
		Description: item.Description,
		Date:        date,
	}, true
}

func toGoogleEvent(payload calendar.Payload) (*gcal.Event, error) {
	end, err := event.NextDay(payload.Date)
	if err != nil {
		return nil, err
	}
	return &gcal.Event{
		Summary:     payload.Summary,
		Description: payload.Description,
		Start:       &gcal.EventDateTime{Date: payload.Date},
		End:         &gcal.EventDateTime{Date: end},
	}, nil
}
