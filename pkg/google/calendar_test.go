package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Septikai/obsidian-google-calendar-sync/internal/utils"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/calendar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

func TestToPayload(t *testing.T) {
	t.Run("should use the all-day start date", func(t *testing.T) {
		p, ok := toPayload(&gcal.Event{Id: "g1", Summary: "Trip", Description: "d", Start: &gcal.EventDateTime{Date: "2024-01-02"}})

		require.True(t, ok)
		assert.Equal(t, calendar.Payload{ID: "g1", Summary: "Trip", Description: "d", Date: "2024-01-02"}, p)
	})

	t.Run("should take the date part of a timed event", func(t *testing.T) {
		p, ok := toPayload(&gcal.Event{Id: "g1", Start: &gcal.EventDateTime{DateTime: "2024-01-02T10:00:00+01:00"}})

		require.True(t, ok)
		assert.Equal(t, "2024-01-02", p.Date)
		assert.Equal(t, "Untitled", p.Summary)
	})

	t.Run("should skip cancelled events and events without start", func(t *testing.T) {
		_, ok := toPayload(&gcal.Event{Id: "g1", Status: "cancelled", Start: &gcal.EventDateTime{Date: "2024-01-02"}})
		assert.False(t, ok)

		_, ok = toPayload(&gcal.Event{Id: "g2"})
		assert.False(t, ok)
	})
}

func TestToGoogleEvent(t *testing.T) {
	e, err := toGoogleEvent(calendar.Payload{Summary: "New Year", Description: "link", Date: "2023-12-31"})

	require.NoError(t, err)
	assert.Equal(t, "2023-12-31", e.Start.Date)
	assert.Equal(t, "2024-01-01", e.End.Date)
	assert.Equal(t, "New Year", e.Summary)

	_, err = toGoogleEvent(calendar.Payload{Date: "soon"})
	assert.Error(t, err)
}

type fakeGoogle struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []gcal.Event
}

func (f *fakeGoogle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("pageToken") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"id": "g1", "summary": "Trip", "start": map[string]string{"date": "2024-01-01"}},
					{"id": "g2", "status": "cancelled", "start": map[string]string{"date": "2024-01-01"}},
				},
				"nextPageToken": "page-2",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "g3", "summary": "Dinner", "start": map[string]string{"dateTime": "2024-01-03T19:00:00Z"}},
			},
		})
	default:
		var body gcal.Event
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.bodies = append(f.bodies, body)
		f.mu.Unlock()
		body.Id = "created-id"
		_ = json.NewEncoder(w).Encode(body)
	}
}

func setupCalendar(t *testing.T, lookbackDays int) (*Calendar, *fakeGoogle) {
	fake := &fakeGoogle{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	service, err := gcal.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	clock := &utils.MockClock{}
	clock.SetNow(time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))
	return newGoogleCalendar(service, "primary", lookbackDays, clock), fake
}

func TestCalendar_ListEvents(t *testing.T) {
	t.Run("should read every page and skip cancelled events", func(t *testing.T) {
		c, fake := setupCalendar(t, 0)

		events, err := c.ListEvents(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []calendar.Payload{
			{ID: "g1", Summary: "Trip", Date: "2024-01-01"},
			{ID: "g3", Summary: "Dinner", Date: "2024-01-03"},
		}, events)
		require.Len(t, fake.requests, 2)
		query := fake.requests[0].URL.Query()
		assert.Equal(t, "true", query.Get("singleEvents"))
		assert.Equal(t, "startTime", query.Get("orderBy"))
		assert.Empty(t, query.Get("timeMin"))
	})

	t.Run("should limit the lookback", func(t *testing.T) {
		c, fake := setupCalendar(t, 7)

		_, err := c.ListEvents(context.Background())

		require.NoError(t, err)
		assert.Equal(t, "2024-01-03T00:00:00Z", fake.requests[0].URL.Query().Get("timeMin"))
	})
}

func TestCalendar_InsertAndUpdate(t *testing.T) {
	c, fake := setupCalendar(t, 0)
	payload := calendar.Payload{Summary: "Trip", Description: "link", Date: "2024-01-01"}

	id, err := c.InsertEvent(context.Background(), payload)
	require.NoError(t, err)
	err = c.UpdateEvent(context.Background(), "g1", payload)
	require.NoError(t, err)

	assert.Equal(t, "created-id", id)
	require.Len(t, fake.bodies, 2)
	assert.Equal(t, http.MethodPost, fake.requests[0].Method)
	assert.Equal(t, http.MethodPut, fake.requests[1].Method)
	assert.Contains(t, fake.requests[1].URL.Path, "/events/g1")
	for _, body := range fake.bodies {
		assert.Equal(t, "2024-01-01", body.Start.Date)
		assert.Equal(t, "2024-01-02", body.End.Date)
		assert.Equal(t, "link", body.Description)
	}
}
