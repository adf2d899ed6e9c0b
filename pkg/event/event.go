package event

import (
	"fmt"
	"time"
)

// DateLayout is the day-granularity format used for event dates, document names and all-day payloads.
const DateLayout = "2006-01-02"

// Untitled is the summary given to events whose name carries no title.
const Untitled = "Untitled"

// Details is the value shared by the local and remote views of an event.
type Details struct {
	Date        string
	Summary     string
	Description string
}

// Key is the composite natural key used when an id is not known.
type Key struct {
	Date    string
	Summary string
}

func (d Details) Key() Key {
	return Key{Date: d.Date, Summary: d.Summary}
}

func (d Details) String() string {
	return fmt.Sprintf("%s %q", d.Date, d.Summary)
}

// State is the reconciliation state of a single event.
type State int

const (
	Unlinked State = iota
	PendingRemoteCreate
	Linked
	ConflictSkipped
)

func (s State) String() string {
	switch s {
	case Unlinked:
		return "unlinked"
	case PendingRemoteCreate:
		return "pending-remote-create"
	case Linked:
		return "linked"
	case ConflictSkipped:
		return "conflict-skipped"
	default:
		return "unknown"
	}
}

// LocalEvent is an event backed by a document. Document name and date/summary always agree:
// the name is the authority for both.
type LocalEvent struct {
	Details
	ID       string
	Document string
	Link     string
	State    State
}

func (e LocalEvent) IsLinked() bool {
	return e.ID != ""
}

// RemoteEvent mirrors an event of the remote calendar. PushBack marks a cached description that
// must be written back because the remote copy lost its embedded link.
type RemoteEvent struct {
	Details
	ID       string
	Link     string
	PushBack bool
}

// Patch is a sparse set of field changes. Nil fields are left untouched.
type Patch struct {
	Date        *string
	Summary     *string
	Description *string
	Metadata    map[string]any
}

func (p Patch) IsEmpty() bool {
	return p.Date == nil && p.Summary == nil && p.Description == nil && len(p.Metadata) == 0
}

func (p Patch) Renames() bool {
	return p.Date != nil || p.Summary != nil
}

// Apply shallow-merges the patch into d.
func (p Patch) Apply(d Details) Details {
	if p.Date != nil {
		d.Date = *p.Date
	}
	if p.Summary != nil {
		d.Summary = *p.Summary
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	return d
}

// NextDay returns the exclusive end date of an all-day event starting on date.
func NextDay(date string) (string, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("invalid event date %q: %w", date, err)
	}
	return day.AddDate(0, 0, 1).Format(DateLayout), nil
}

// Ptr is a small helper for building patches.
func Ptr[T any](v T) *T {
	return &v
}
