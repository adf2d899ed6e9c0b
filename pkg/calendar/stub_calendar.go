package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type StubCalendar struct {
	mu   sync.RWMutex
	data map[string]Payload

	Inserts []Payload
	Updates []Payload
	// InsertErr and UpdateErr are returned by the next calls when set
	InsertErr error
	UpdateErr error
	ListErr   error
}

func NewStubCalendar() *StubCalendar {
	return &StubCalendar{data: map[string]Payload{}}
}

// Put stores an event as if it had been created remotely.
func (c *StubCalendar) Put(payload Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	c.data[payload.ID] = payload
}

func (c *StubCalendar) Get(id string) (Payload, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.data[id]
	return p, ok
}

func (c *StubCalendar) ListEvents(_ context.Context) ([]Payload, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	events := make([]Payload, 0, len(c.data))
	for _, e := range c.data {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].Date != events[j].Date {
			return events[i].Date < events[j].Date
		}
		return events[i].ID < events[j].ID
	})
	return events, nil
}

func (c *StubCalendar) InsertEvent(_ context.Context, payload Payload) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Inserts = append(c.Inserts, payload)
	if c.InsertErr != nil {
		return "", c.InsertErr
	}
	payload.ID = uuid.NewString()
	c.data[payload.ID] = payload
	return payload.ID, nil
}

func (c *StubCalendar) UpdateEvent(_ context.Context, id string, payload Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		return errors.New("event id is required")
	}
	payload.ID = id
	c.Updates = append(c.Updates, payload)
	if c.UpdateErr != nil {
		return c.UpdateErr
	}
	if _, ok := c.data[id]; !ok {
		return fmt.Errorf("event %s not found", id)
	}
	c.data[id] = payload
	return nil
}

func (c *StubCalendar) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = map[string]Payload{}
	c.Inserts = nil
	c.Updates = nil
}
