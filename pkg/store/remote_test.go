package store

import (
	"context"
	"errors"
	"testing"

	"github.com/Septikai/obsidian-google-calendar-sync/pkg/calendar"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/event"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteStore_Refresh(t *testing.T) {
	ctx := context.Background()
	codec := link.NewCodec("obsidian", "Notes")

	t.Run("should insert new events and decode links", func(t *testing.T) {
		cal := calendar.NewStubCalendar()
		cal.Put(calendar.Payload{ID: "g1", Summary: "Trip", Date: "2024-01-01", Description: tripLink + "\n\nPack bags"})
		cal.Put(calendar.Payload{ID: "g2", Summary: "Dentist", Date: "2024-01-03"})
		s := NewRemoteStore(codec)

		events, err := s.Refresh(ctx, cal)

		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "g1", events[0].ID)
		assert.Equal(t, tripLink, events[0].Link)
		assert.Empty(t, events[1].Link)
		assert.False(t, events[1].PushBack)
	})

	t.Run("should normalise CRLF descriptions", func(t *testing.T) {
		cal := calendar.NewStubCalendar()
		cal.Put(calendar.Payload{ID: "g1", Summary: "Trip", Date: "2024-01-01", Description: tripLink + "\r\n\r\nPack bags"})
		s := NewRemoteStore(codec)

		events, err := s.Refresh(ctx, cal)

		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, tripLink, events[0].Link)
		assert.Equal(t, tripLink+"\n\nPack bags", events[0].Description)
	})

	t.Run("should follow remote summary and date", func(t *testing.T) {
		cal := calendar.NewStubCalendar()
		cal.Put(calendar.Payload{ID: "g1", Summary: "Trip", Date: "2024-01-01", Description: tripLink})
		s := NewRemoteStore(codec)
		_, err := s.Refresh(ctx, cal)
		require.NoError(t, err)

		cal.Put(calendar.Payload{ID: "g1", Summary: "Trip", Date: "2024-01-02", Description: tripLink})
		_, err = s.Refresh(ctx, cal)
		require.NoError(t, err)

		e, ok := s.Get("g1")
		require.True(t, ok)
		assert.Equal(t, "2024-01-02", e.Date)
		assert.False(t, e.PushBack)
	})

	t.Run("should keep the linked description and flag a push-back", func(t *testing.T) {
		cal := calendar.NewStubCalendar()
		cal.Put(calendar.Payload{ID: "g1", Summary: "Trip", Date: "2024-01-01", Description: tripLink + "\n\nPack bags"})
		s := NewRemoteStore(codec)
		_, err := s.Refresh(ctx, cal)
		require.NoError(t, err)

		cal.Put(calendar.Payload{ID: "g1", Summary: "Trip", Date: "2024-01-01", Description: "Pack bags and passport"})
		events, err := s.Refresh(ctx, cal)
		require.NoError(t, err)

		require.Len(t, events, 1)
		assert.True(t, events[0].PushBack)
		assert.Equal(t, tripLink+"\n\nPack bags", events[0].Description)
		assert.Equal(t, tripLink, events[0].Link)

		s.Put(event.RemoteEvent{ID: "g1", Details: events[0].Details, Link: tripLink})
		stored, _ := s.Get("g1")
		assert.False(t, stored.PushBack)
	})

	t.Run("should drop events that are gone and keep the cache on errors", func(t *testing.T) {
		cal := calendar.NewStubCalendar()
		cal.Put(calendar.Payload{ID: "g1", Summary: "Trip", Date: "2024-01-01"})
		s := NewRemoteStore(codec)
		_, err := s.Refresh(ctx, cal)
		require.NoError(t, err)

		cal.ListErr = errors.New("offline")
		_, err = s.Refresh(ctx, cal)
		assert.Error(t, err)
		_, ok := s.Get("g1")
		assert.True(t, ok)

		cal.ListErr = nil
		cal.Cleanup()
		_, err = s.Refresh(ctx, cal)
		require.NoError(t, err)
		_, ok = s.Get("g1")
		assert.False(t, ok)
	})
}

func TestRemoteStore_Find(t *testing.T) {
	s := NewRemoteStore(link.NewCodec("obsidian", "Notes"))
	s.Put(event.RemoteEvent{ID: "g1", Details: event.Details{Date: "2024-01-01", Summary: "Trip"}, Link: tripLink})
	s.Put(event.RemoteEvent{ID: "g2", Details: event.Details{Date: "2024-01-01", Summary: "Trip"}})

	assert.Len(t, s.FindByKey(event.Key{Date: "2024-01-01", Summary: "Trip"}), 2)
	byLink := s.FindByLink(tripLink)
	require.Len(t, byLink, 1)
	assert.Equal(t, "g1", byLink[0].ID)
	assert.Empty(t, s.FindByLink(""))
}
