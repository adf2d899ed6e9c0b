package google

import (
	"context"
	"fmt"

	"github.com/Septikai/obsidian-google-calendar-sync/internal/config"
	"github.com/Septikai/obsidian-google-calendar-sync/internal/utils"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/calendar"
	log "github.com/sirupsen/logrus"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

type CalendarItem struct {
	ID      string
	Summary string
}

type Service interface {
	calendar.Gateway
	GetCalendar(ctx context.Context) (*Calendar, error)
	ListCalendars(ctx context.Context) ([]CalendarItem, error)
}

// ServiceImpl is the calendar gateway used by the sync. The authenticated client is resolved on every
// call so that a login completed while running takes effect on the next pass.
type ServiceImpl struct {
	auth         *GoogleAuth
	calendarId   string
	lookbackDays int
	clock        utils.Clock
}

func NewService(auth *GoogleAuth, cfg config.Google, sync config.Sync, clock utils.Clock) *ServiceImpl {
	return &ServiceImpl{
		auth:         auth,
		calendarId:   cfg.CalendarId,
		lookbackDays: sync.LookbackDays,
		clock:        clock,
	}
}

func (s *ServiceImpl) GetCalendar(ctx context.Context) (*Calendar, error) {
	service, err := s.prepareGoogleService(ctx)
	if err != nil {
		return nil, err
	}
	return newGoogleCalendar(service, s.calendarId, s.lookbackDays, s.clock), nil
}

func (s *ServiceImpl) ListEvents(ctx context.Context) ([]calendar.Payload, error) {
	c, err := s.GetCalendar(ctx)
	if err != nil {
		return nil, err
	}
	return c.ListEvents(ctx)
}

func (s *ServiceImpl) InsertEvent(ctx context.Context, payload calendar.Payload) (string, error) {
	c, err := s.GetCalendar(ctx)
	if err != nil {
		return "", err
	}
	return c.InsertEvent(ctx, payload)
}

func (s *ServiceImpl) UpdateEvent(ctx context.Context, id string, payload calendar.Payload) error {
	c, err := s.GetCalendar(ctx)
	if err != nil {
		return err
	}
	return c.UpdateEvent(ctx, id, payload)
}

func (s *ServiceImpl) ListCalendars(ctx context.Context) ([]CalendarItem, error) {
	googleService, err := s.prepareGoogleService(ctx)
	if err != nil {
		return nil, err
	}
	calendars, err := googleService.CalendarList.List().Context(ctx).Do()
	if err != nil {
		err := fmt.Errorf("unable to retrieve calendars from Google Calendar: %w", err)
		log.Error(err)
		return nil, err
	}
	var googleCalendars []CalendarItem
	for _, cal := range calendars.Items {
		googleCalendars = append(googleCalendars, CalendarItem{
			ID:      cal.Id,
			Summary: cal.Summary,
		})
	}
	return googleCalendars, nil
}

func (s *ServiceImpl) prepareGoogleService(ctx context.Context) (*gcal.Service, error) {
	client, err := s.auth.getClient(ctx)
	if err != nil {
		err := fmt.Errorf("unable to retrieve Google auth client: %w", err)
		log.Error(err)
		return nil, err
	}
	if client == nil {
		log.Debug("Google Calendar is unauthenticated, authentication is required")
		return nil, ErrUnauthenticated
	}
	service, err := gcal.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		err := fmt.Errorf("unable to retrieve Calendar client: %w", err)
		log.Error(err)
		return nil, err
	}

	return service, nil
}
