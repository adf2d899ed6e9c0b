package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Septikai/obsidian-google-calendar-sync/internal/event_bus"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/calendar"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("should merge triggers that are still queued", func(t *testing.T) {
		f := setupEngine(t, Options{ImportRemote: true})
		d := NewDispatcher(f.engine, nil)

		d.RequestPass("startup")
		d.RequestPass("timer")
		d.enqueue(trigger{kind: triggerCreate, path: "2024-01-01 Trip.md"})
		d.enqueue(trigger{kind: triggerModify, path: "2024-01-01 Trip.md"})
		assert.Equal(t, 2, d.Status().Queued)

		ran := d.Drain(ctx)

		assert.Equal(t, 2, ran)
		assert.Zero(t, d.Status().Queued)
		require.NotNil(t, d.Status().LastPass)
		assert.Equal(t, "pass", d.Status().LastPass.Trigger)
	})

	t.Run("should run document triggers published on the bus", func(t *testing.T) {
		f := setupSynced(t)
		bus := event_bus.NewEventBus()
		d := NewDispatcher(f.engine, bus)
		_, err := f.docs.Rename(ctx, vault.Document{Path: "2024-01-01 Trip.md"}, "2024-01-05 Trip2.md")
		require.NoError(t, err)

		require.NoError(t, bus.Emit(ctx, event_bus.TopicDocumentRenamed,
			event_bus.DocumentRenamed{OldPath: "2024-01-01 Trip.md", Path: "2024-01-05 Trip2.md"}))
		d.Drain(ctx)

		require.Len(t, f.cal.Updates, 1)
		assert.Equal(t, "Trip2", f.cal.Updates[0].Summary)
		status := d.Status()
		require.NotNil(t, status.LastReport)
		assert.Nil(t, status.LastPass)
	})

	t.Run("should process triggers in the background until cancelled", func(t *testing.T) {
		f := setupEngine(t, Options{ImportRemote: true})
		bus := event_bus.NewEventBus()
		d := NewDispatcher(f.engine, bus)
		f.docs.Put("2024-01-01 Trip.md", vault.Metadata{}, "")
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- d.Run(runCtx) }()

		require.NoError(t, bus.Emit(ctx, event_bus.TopicRefreshRequested, event_bus.RefreshRequested{Reason: "test"}))

		assert.Eventually(t, func() bool {
			return d.Status().LastPass != nil
		}, time.Second, 10*time.Millisecond)
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
		assert.Equal(t, 1, d.Status().LastPass.Created)
	})
}

func TestHandler(t *testing.T) {
	f := setupSynced(t)
	d := NewDispatcher(f.engine, nil)
	h := NewHandler(d, f.local)

	t.Run("should queue a refresh", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/sync/refresh", nil)
		w := httptest.NewRecorder()

		h.Refresh(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, 1, d.Status().Queued)
	})

	t.Run("should return the status of the last pass", func(t *testing.T) {
		f.cal.Put(calendar.Payload{ID: "g2", Summary: "Dentist", Date: "2024-02-01"})
		d.Drain(context.Background())
		req := httptest.NewRequest(http.MethodGet, "/api/sync/status", nil)
		w := httptest.NewRecorder()

		h.Status(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var status Status
		require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
		require.NotNil(t, status.LastPass)
		assert.Equal(t, 1, status.LastPass.Materialized)
		assert.Zero(t, status.Queued)
	})

	t.Run("should list local events", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
		w := httptest.NewRecorder()

		h.ListEvents(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var events []EventDto
		require.NoError(t, json.NewDecoder(w.Body).Decode(&events))
		require.Len(t, events, 2)
		assert.Equal(t, "g1", events[0].Id)
		assert.Equal(t, "2024-01-01 Trip.md", events[0].Document)
		assert.Equal(t, "linked", events[0].State)
		assert.Equal(t, "Dentist", events[1].Summary)
	})
}
