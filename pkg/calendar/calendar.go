// Package calendar defines the remote side of the sync: a calendar of all-day events.
package calendar

import (
	"context"
)

// Payload is an all-day event as exchanged with a calendar. Date is the first day, the event ends
// before the following day.
type Payload struct {
	ID          string
	Summary     string
	Description string
	Date        string
}

// Gateway is a remote calendar. ListEvents expands recurring events into single occurrences ordered by
// start time. Errors are opaque to the caller.
type Gateway interface {
	ListEvents(ctx context.Context) ([]Payload, error)
	InsertEvent(ctx context.Context, payload Payload) (string, error)
	UpdateEvent(ctx context.Context, id string, payload Payload) error
}
