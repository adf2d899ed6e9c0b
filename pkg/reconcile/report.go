package reconcile

import (
	"time"

	"github.com/Septikai/obsidian-google-calendar-sync/pkg/event"
	log "github.com/sirupsen/logrus"
)

type IssueKind string

const (
	IssueConflict IssueKind = "conflict"
	IssueFailure  IssueKind = "failure"
)

// Issue is a problem with a single event. Date and summary identify the event for the user.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	Date     string    `json:"date"`
	Summary  string    `json:"summary"`
	Document string    `json:"document,omitempty"`
	Error    string    `json:"error"`
	err      error
}

func newIssue(kind IssueKind, d event.Details, document string, err error) Issue {
	return Issue{
		Kind:     kind,
		Date:     d.Date,
		Summary:  d.Summary,
		Document: document,
		Error:    err.Error(),
		err:      err,
	}
}

func (i Issue) Unwrap() error {
	return i.err
}

// Report is the outcome of one run of the engine.
type Report struct {
	Trigger       string    `json:"trigger"`
	Started       time.Time `json:"started"`
	Finished      time.Time `json:"finished"`
	Created       int       `json:"created"`
	Linked        int       `json:"linked"`
	LocalUpdated  int       `json:"localUpdated"`
	RemoteUpdated int       `json:"remoteUpdated"`
	PushedBack    int       `json:"pushedBack"`
	Materialized  int       `json:"materialized"`
	Missing       int       `json:"missing"`
	Conflicts     []Issue   `json:"conflicts"`
	Failures      []Issue   `json:"failures"`
}

// Changes counts the writes made to either side.
func (r Report) Changes() int {
	return r.Created + r.Linked + r.LocalUpdated + r.RemoteUpdated + r.PushedBack + r.Materialized
}

func (r Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Notifier receives every conflict and failure as it happens.
type Notifier interface {
	Notify(issue Issue)
}

type LogNotifier struct{}

func (LogNotifier) Notify(issue Issue) {
	entry := log.WithFields(log.Fields{
		"date":    issue.Date,
		"summary": issue.Summary,
	})
	if issue.Document != "" {
		entry = entry.WithField("document", issue.Document)
	}
	switch issue.Kind {
	case IssueConflict:
		entry.Warnf("Skipped conflicting event: %s", issue.Error)
	default:
		entry.Errorf("Failed to sync event: %s", issue.Error)
	}
}
