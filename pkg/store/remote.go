package store

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/Septikai/obsidian-google-calendar-sync/pkg/calendar"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/event"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/link"
	log "github.com/sirupsen/logrus"
)

// RemoteStore caches the events of the remote calendar in listing order.
type RemoteStore struct {
	mu     sync.RWMutex
	codec  *link.Codec
	events map[string]event.RemoteEvent
	order  []string
}

func NewRemoteStore(codec *link.Codec) *RemoteStore {
	return &RemoteStore{
		codec:  codec,
		events: make(map[string]event.RemoteEvent),
	}
}

// FromPayload converts a calendar payload, decoding the embedded link of its description. Line endings
// are normalised to \n.
func (s *RemoteStore) FromPayload(p calendar.Payload) event.RemoteEvent {
	description := strings.ReplaceAll(p.Description, "\r\n", "\n")
	e := event.RemoteEvent{
		Details: event.Details{Date: p.Date, Summary: p.Summary, Description: description},
		ID:      p.ID,
	}
	if token, ok := s.codec.Decode(description); ok {
		e.Link = token.Raw
	}
	return e
}

// Refresh replaces the cache with the current listing of gw.
//
// Summary and date always follow the listing. A description that arrives without a link does not
// replace a cached description that has one: the cached description is kept and the event is flagged
// for a push-back. Events missing from the listing are dropped.
func (s *RemoteStore) Refresh(ctx context.Context, gw calendar.Gateway) ([]event.RemoteEvent, error) {
	payloads, err := gw.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh remote events: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	events := make(map[string]event.RemoteEvent, len(payloads))
	order := make([]string, 0, len(payloads))
	for _, p := range payloads {
		if p.ID == "" {
			continue
		}
		if _, dup := events[p.ID]; dup {
			continue
		}
		incoming := s.FromPayload(p)
		if cached, known := s.events[p.ID]; known {
			incoming = merge(cached, incoming)
		}
		events[p.ID] = incoming
		order = append(order, p.ID)
	}
	s.events = events
	s.order = order

	result := make([]event.RemoteEvent, 0, len(order))
	for _, id := range order {
		result = append(result, events[id])
	}
	log.Debugf("Refreshed %d remote events", len(result))
	return result, nil
}

func merge(cached, incoming event.RemoteEvent) event.RemoteEvent {
	if incoming.Link == "" && cached.Link != "" {
		incoming.Description = cached.Description
		incoming.Link = cached.Link
		incoming.PushBack = true
		return incoming
	}
	incoming.PushBack = cached.PushBack && incoming.Link == ""
	return incoming
}

func (s *RemoteStore) Get(id string) (event.RemoteEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	return e, ok
}

// Put stores e as the current remote state. It clears the push-back flag.
func (s *RemoteStore) Put(e event.RemoteEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.events[e.ID]; !known {
		s.order = append(s.order, e.ID)
	}
	e.PushBack = false
	s.events[e.ID] = e
}

func (s *RemoteStore) FindByKey(key event.Key) []event.RemoteEvent {
	return s.find(func(e event.RemoteEvent) bool { return e.Key() == key })
}

func (s *RemoteStore) FindByLink(token string) []event.RemoteEvent {
	return s.find(func(e event.RemoteEvent) bool { return e.Link != "" && e.Link == token })
}

func (s *RemoteStore) find(match func(event.RemoteEvent) bool) []event.RemoteEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []event.RemoteEvent
	for _, id := range s.order {
		if e := s.events[id]; match(e) {
			found = append(found, e)
		}
	}
	return found
}

// All returns the cached events in listing order.
func (s *RemoteStore) All() []event.RemoteEvent {
	return s.find(func(event.RemoteEvent) bool { return true })
}

func (s *RemoteStore) Snapshot() map[string]event.RemoteEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.events)
}
