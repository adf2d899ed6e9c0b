// Package reconcile converges event documents and the remote calendar.
//
// Authority is split per field. The remote side wins date and summary unless the document was renamed
// since the previous pass. The side carrying the embedded link wins the description. Every entry point
// runs to completion and returns a Report; failures of one event never stop the others.
//
// The engine is not safe for concurrent use. Triggers are serialised by the Dispatcher.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/Septikai/obsidian-google-calendar-sync/internal/utils"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/calendar"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/event"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/identity"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/link"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/store"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/vault"
	log "github.com/sirupsen/logrus"
)

type Options struct {
	// ImportRemote creates documents for events that only exist remotely.
	ImportRemote bool
}

type Engine struct {
	local    *store.LocalStore
	remote   *store.RemoteStore
	calendar calendar.Gateway
	codec    *link.Codec
	notifier Notifier
	clock    utils.Clock
	opts     Options
}

func NewEngine(local *store.LocalStore, remote *store.RemoteStore, cal calendar.Gateway, codec *link.Codec,
	notifier Notifier, clock utils.Clock, opts Options) *Engine {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Engine{
		local:    local,
		remote:   remote,
		calendar: cal,
		codec:    codec,
		notifier: notifier,
		clock:    clock,
		opts:     opts,
	}
}

// previousState is what a pass knew before it reloaded both stores.
type previousState struct {
	local  map[string]event.LocalEvent
	remote map[string]event.RemoteEvent
}

func (p previousState) localByID(id string) (event.LocalEvent, bool) {
	if id == "" {
		return event.LocalEvent{}, false
	}
	e, ok := p.local[id]
	return e, ok
}

// FullPass reloads both stores and reconciles every event.
func (e *Engine) FullPass(ctx context.Context) (r Report) {
	r = e.begin("pass")
	defer e.finish(&r)

	prev := previousState{local: make(map[string]event.LocalEvent), remote: e.remote.Snapshot()}
	for _, l := range e.local.Snapshot() {
		if l.IsLinked() {
			prev.local[l.ID] = l
		}
	}

	if err := e.local.Load(ctx); err != nil {
		e.fail(&r, event.Details{}, "", err)
		return
	}
	remotes, err := e.remote.Refresh(ctx, e.calendar)
	if err != nil {
		e.fail(&r, event.Details{}, "", err)
		return
	}

	handled := make(map[string]bool)
	for _, remote := range remotes {
		e.reconcileRemote(ctx, &r, remote, prev, handled)
	}

	// remote-derived changes are done, what is left are documents without a remote counterpart
	leftovers := make([]event.LocalEvent, 0)
	byKey := make(map[event.Key][]event.LocalEvent)
	for _, local := range e.local.All() {
		if handled[local.Document] {
			continue
		}
		leftovers = append(leftovers, local)
		if !local.IsLinked() && local.State != event.ConflictSkipped {
			byKey[local.Key()] = append(byKey[local.Key()], local)
		}
	}
	for key, group := range byKey {
		if len(group) < 2 {
			continue
		}
		for _, local := range group {
			handled[local.Document] = true
			e.local.SetState(local.Document, event.ConflictSkipped)
		}
		e.conflict(&r, event.Details{Date: key.Date, Summary: key.Summary}, group[0].Document,
			fmt.Errorf("%w: %d documents share the same date and summary", ErrDuplicateCandidate, len(group)))
	}

	for _, local := range leftovers {
		if handled[local.Document] {
			continue
		}
		switch {
		case local.State == event.ConflictSkipped:
			e.conflict(&r, local.Details, local.Document,
				fmt.Errorf("%w: event %s is linked from more than one document", ErrDuplicateCandidate, local.ID))
		case local.IsLinked():
			r.Missing++
			log.Debugf("%s: %v", local.Document, fmt.Errorf("%w: remote event %s", ErrMissingMatch, local.ID))
		default:
			e.createRemote(ctx, &r, local)
		}
	}
	return
}

// OnCreate handles a new document.
func (e *Engine) OnCreate(ctx context.Context, path string) (r Report) {
	r = e.begin("create " + path)
	defer e.finish(&r)
	e.create(ctx, &r, path)
	return
}

// OnModify pushes local changes of a linked document.
func (e *Engine) OnModify(ctx context.Context, path string) (r Report) {
	r = e.begin("modify " + path)
	defer e.finish(&r)
	e.modify(ctx, &r, path)
	return
}

// OnRename handles a document renamed from oldPath to path. A name that is no longer an event name is
// reverted to the remote state.
func (e *Engine) OnRename(ctx context.Context, oldPath, path string) (r Report) {
	r = e.begin("rename " + oldPath + " -> " + path)
	defer e.finish(&r)
	e.rename(ctx, &r, oldPath, path)
	return
}

func (e *Engine) reconcileRemote(ctx context.Context, r *Report, remote event.RemoteEvent, prev previousState, handled map[string]bool) {
	if holders := e.local.FindByID(remote.ID); len(holders) > 1 {
		for _, h := range holders {
			handled[h.Document] = true
			e.local.SetState(h.Document, event.ConflictSkipped)
		}
		e.conflict(r, remote.Details, "",
			fmt.Errorf("%w: event %s is linked from %d documents", ErrDuplicateCandidate, remote.ID, len(holders)))
		return
	}

	local, m := identity.FindLocalMatch(remote, e.local)
	switch m {
	case identity.Ambiguous:
		for _, c := range e.localCandidates(remote) {
			handled[c.Document] = true
			e.local.SetState(c.Document, event.ConflictSkipped)
		}
		e.conflict(r, remote.Details, "",
			fmt.Errorf("%w: several documents match remote event %s", ErrDuplicateCandidate, remote.ID))
		return
	case identity.NoMatch:
		e.importRemote(ctx, r, remote)
		return
	}

	if handled[local.Document] {
		e.conflict(r, remote.Details, local.Document,
			fmt.Errorf("%w: document already matched another remote event", ErrDuplicateCandidate))
		return
	}
	handled[local.Document] = true

	if m != identity.MatchByID {
		back, bm := identity.FindRemoteMatch(local, e.remote, e.local)
		if !bm.Found() || back.ID != remote.ID {
			e.local.SetState(local.Document, event.ConflictSkipped)
			e.conflict(r, local.Details, local.Document,
				fmt.Errorf("%w: several remote events match the document", ErrDuplicateCandidate))
			return
		}
	}

	previous, hasPrevious := prev.localByID(local.ID)
	previousRemote, hasPreviousRemote := prev.remote[remote.ID]
	e.reconcilePair(ctx, r, local, remote, pairHistory{
		local:     previous,
		hasLocal:  hasPrevious,
		remote:    previousRemote,
		hasRemote: hasPreviousRemote,
	})
}

type pairHistory struct {
	local     event.LocalEvent
	hasLocal  bool
	remote    event.RemoteEvent
	hasRemote bool
}

// reconcilePair converges a matched local and remote event. Local changes are written first, then the
// remote event is updated if it still differs.
func (e *Engine) reconcilePair(ctx context.Context, r *Report, local event.LocalEvent, remote event.RemoteEvent, h pairHistory) {
	linking := !local.IsLinked()
	renamedLocally := h.hasLocal && h.local.Document != local.Document
	remoteSummaryValid := identity.ValidSummary(remote.Summary)

	want := local.Details
	if !renamedLocally {
		want.Date = remote.Date
		if remoteSummaryValid {
			want.Summary = remote.Summary
		} else if remote.Summary != local.Summary {
			log.Warnf("Remote summary %q of %s cannot be used as a document name, keeping %q",
				remote.Summary, remote.ID, local.Summary)
		}
	}

	localText := e.codec.Strip(local.Description)
	remoteText := e.codec.Strip(remote.Description)
	pushBack := remote.PushBack || remote.Link == ""
	text := remoteText
	switch {
	case pushBack:
		text = localText
		if linking && localText == "" {
			text = remoteText
		}
	case remoteText != localText && h.hasLocal:
		localEdited := e.codec.Strip(h.local.Description) != localText
		remoteEdited := !h.hasRemote || e.codec.Strip(h.remote.Description) != remoteText
		if localEdited && !remoteEdited {
			text = localText
		}
	}

	patch := event.Patch{}
	if want.Date != local.Date {
		patch.Date = event.Ptr(want.Date)
	}
	if want.Summary != local.Summary {
		patch.Summary = event.Ptr(want.Summary)
	}
	if text != localText || linking || local.Description != link.Compose(local.Link, text) {
		patch.Description = event.Ptr(text)
	}
	if linking {
		patch.Metadata = map[string]any{vault.IDKey: remote.ID}
	}

	updated := local
	if !patch.IsEmpty() {
		var err error
		updated, err = e.local.MaterializeToDocument(ctx, local, patch)
		if err != nil {
			e.localWriteFailed(r, want, local.Document, err)
			return
		}
		if linking {
			r.Linked++
		} else {
			r.LocalUpdated++
		}
	}

	summaryDiffers := want.Summary != remote.Summary && (remoteSummaryValid || renamedLocally)
	if !pushBack && want.Date == remote.Date && !summaryDiffers && text == remoteText {
		return
	}
	if e.pushLocal(ctx, r, updated, remote.ID) {
		if pushBack {
			r.PushedBack++
		} else {
			r.RemoteUpdated++
		}
	}
}

// pushLocal sends the canonical form of local to the remote event id.
func (e *Engine) pushLocal(ctx context.Context, r *Report, local event.LocalEvent, id string) bool {
	description := link.Compose(local.Link, e.codec.Strip(local.Description))
	payload := calendar.Payload{ID: id, Summary: local.Summary, Date: local.Date, Description: description}
	if err := e.calendar.UpdateEvent(ctx, id, payload); err != nil {
		e.fail(r, local.Details, local.Document, fmt.Errorf("%w: update %s: %v", ErrRemoteWrite, id, err))
		return false
	}
	e.remote.Put(event.RemoteEvent{
		Details: event.Details{Date: local.Date, Summary: local.Summary, Description: description},
		ID:      id,
		Link:    local.Link,
	})
	return true
}

func (e *Engine) importRemote(ctx context.Context, r *Report, remote event.RemoteEvent) {
	if !e.opts.ImportRemote {
		log.Debugf("Not importing remote-only event %s %s", remote.ID, remote.Details)
		return
	}
	if !identity.ValidSummary(remote.Summary) {
		log.Warnf("Cannot import remote event %s: summary %q is not a valid document name", remote.ID, remote.Summary)
		return
	}
	created, err := e.local.CreateDocument(ctx, remote)
	if err != nil {
		e.localWriteFailed(r, remote.Details, "", err)
		return
	}
	r.Materialized++
	log.Infof("Created %s for remote event %s", created.Document, remote.ID)

	if remote.Link == "" && e.pushLocal(ctx, r, created, remote.ID) {
		r.PushedBack++
	}
}

// createRemote inserts a pending local event unless a remote counterpart turns up.
func (e *Engine) createRemote(ctx context.Context, r *Report, local event.LocalEvent) {
	var others []event.LocalEvent
	for _, o := range e.local.FindByKey(local.Key()) {
		if o.Document != local.Document {
			others = append(others, o)
		}
	}
	if len(others) > 0 {
		e.local.SetState(local.Document, event.ConflictSkipped)
		for _, o := range others {
			e.local.SetState(o.Document, event.ConflictSkipped)
		}
		e.conflict(r, local.Details, local.Document,
			fmt.Errorf("%w: %s has the same date and summary", ErrDuplicateCandidate, others[0].Document))
		return
	}

	remote, m := identity.FindRemoteMatch(local, e.remote, e.local)
	switch {
	case m == identity.Ambiguous:
		e.local.SetState(local.Document, event.ConflictSkipped)
		e.conflict(r, local.Details, local.Document,
			fmt.Errorf("%w: several remote events match the document", ErrDuplicateCandidate))
		return
	case m.Found() && len(e.local.FindByID(remote.ID)) > 0:
		e.local.SetState(local.Document, event.ConflictSkipped)
		e.conflict(r, local.Details, local.Document,
			fmt.Errorf("%w: event %s is already linked from another document", ErrDuplicateCandidate, remote.ID))
		return
	case m.Found():
		e.reconcilePair(ctx, r, local, remote, pairHistory{})
		return
	}

	e.local.SetState(local.Document, event.PendingRemoteCreate)
	text := e.codec.Strip(local.Description)
	description := link.Compose(local.Link, text)
	id, err := e.calendar.InsertEvent(ctx, calendar.Payload{
		Summary:     local.Summary,
		Date:        local.Date,
		Description: description,
	})
	if err != nil {
		e.fail(r, local.Details, local.Document, fmt.Errorf("%w: insert: %v", ErrRemoteWrite, err))
		return
	}
	r.Created++
	e.remote.Put(event.RemoteEvent{
		Details: event.Details{Date: local.Date, Summary: local.Summary, Description: description},
		ID:      id,
		Link:    local.Link,
	})

	pending := local
	pending.State = event.PendingRemoteCreate
	linked, err := e.local.MaterializeToDocument(ctx, pending, event.Patch{
		Description: event.Ptr(text),
		Metadata:    map[string]any{vault.IDKey: id},
	})
	if err != nil {
		e.fail(r, local.Details, local.Document, fmt.Errorf("failed to store remote id %s: %w", id, err))
		return
	}
	log.Infof("Created remote event %s for %s", id, linked.Document)
}

func (e *Engine) create(ctx context.Context, r *Report, path string) {
	doc := vault.Document{Path: path}
	cur, ok, err := e.local.Parse(ctx, doc)
	if err != nil {
		e.fail(r, event.Details{}, path, err)
		return
	}
	if !ok {
		return
	}
	existing, known := e.local.ByPath(path)
	if known && existing.IsLinked() && existing.ID == cur.ID {
		e.modify(ctx, r, path)
		return
	}

	if cur.IsLinked() && e.contested(r, cur) {
		return
	}
	e.local.Upsert(cur)
	if cur.IsLinked() {
		remote, found := e.remote.Get(cur.ID)
		if !found {
			r.Missing++
			log.Debugf("%s: %v", path, fmt.Errorf("%w: remote event %s", ErrMissingMatch, cur.ID))
			return
		}
		e.reconcilePair(ctx, r, cur, remote, pairHistory{remote: remote, hasRemote: true})
		return
	}
	e.createRemote(ctx, r, cur)
}

func (e *Engine) modify(ctx context.Context, r *Report, path string) {
	prev, known := e.local.ByPath(path)
	if !known {
		e.create(ctx, r, path)
		return
	}
	cur, ok, err := e.local.Parse(ctx, vault.Document{Path: path})
	if err != nil {
		e.fail(r, prev.Details, path, err)
		return
	}
	if !ok {
		return
	}

	switch {
	case prev.State == event.ConflictSkipped:
		cur.State = event.ConflictSkipped
		e.local.Upsert(cur)
		return
	case !cur.IsLinked():
		// pending documents are inserted by the next full pass
		if prev.State == event.PendingRemoteCreate {
			cur.State = event.PendingRemoteCreate
		}
		e.local.Upsert(cur)
		return
	}

	remote, found := e.remote.Get(cur.ID)
	if !found {
		e.local.Upsert(cur)
		r.Missing++
		log.Debugf("%s: %v", path, fmt.Errorf("%w: remote event %s", ErrMissingMatch, cur.ID))
		return
	}
	if cur.ID != prev.ID {
		if e.contested(r, cur) {
			return
		}
		e.reconcilePair(ctx, r, cur, remote, pairHistory{remote: remote, hasRemote: true})
		return
	}

	text := e.codec.Strip(cur.Description)
	changed := cur.Date != prev.Date || cur.Summary != prev.Summary || text != e.codec.Strip(prev.Description)
	if changed && !e.pushLocal(ctx, r, cur, cur.ID) {
		// keep the last known record so the next full pass still sees the local edit
		return
	}
	if changed {
		r.RemoteUpdated++
	}

	if cur.Description != link.Compose(cur.Link, text) {
		if _, err := e.local.MaterializeToDocument(ctx, cur, event.Patch{Description: event.Ptr(text)}); err != nil {
			e.localWriteFailed(r, cur.Details, path, err)
		}
		return
	}
	e.local.Upsert(cur)
}

func (e *Engine) rename(ctx context.Context, r *Report, oldPath, path string) {
	prev, known := e.local.ByPath(oldPath)
	if !known {
		e.modify(ctx, r, path)
		return
	}
	_, _, isEvent := identity.ParseName(vault.Document{Path: path}.Name())

	if !prev.IsLinked() {
		e.local.Remove(oldPath)
		if isEvent {
			e.create(ctx, r, path)
		}
		return
	}
	if !isEvent {
		e.revert(ctx, r, prev, path)
		return
	}

	cur, _, err := e.local.Parse(ctx, vault.Document{Path: path})
	if err != nil {
		e.fail(r, prev.Details, path, err)
		return
	}
	e.local.Remove(oldPath)
	cur, err = e.local.MaterializeToDocument(ctx, cur, event.Patch{Description: event.Ptr(e.codec.Strip(cur.Description))})
	if err != nil {
		e.localWriteFailed(r, cur.Details, path, err)
		return
	}
	if !cur.IsLinked() {
		return
	}
	if _, found := e.remote.Get(cur.ID); !found {
		r.Missing++
		log.Debugf("%s: %v", path, fmt.Errorf("%w: remote event %s", ErrMissingMatch, cur.ID))
		return
	}
	if e.pushLocal(ctx, r, cur, cur.ID) {
		r.RemoteUpdated++
	}
}

// revert restores a linked document that lost its event name from the remote state.
func (e *Engine) revert(ctx context.Context, r *Report, prev event.LocalEvent, path string) {
	target := prev.Details
	if remote, found := e.remote.Get(prev.ID); found {
		target.Date = remote.Date
		target.Description = remote.Description
		if identity.ValidSummary(remote.Summary) {
			target.Summary = remote.Summary
		}
	}

	e.local.Remove(prev.Document)
	cur := prev
	cur.Document = path
	restored, err := e.local.MaterializeToDocument(ctx, cur, event.Patch{
		Date:        event.Ptr(target.Date),
		Summary:     event.Ptr(target.Summary),
		Description: event.Ptr(e.codec.Strip(target.Description)),
		Metadata:    map[string]any{vault.IDKey: prev.ID},
	})
	if err != nil {
		e.localWriteFailed(r, target, path, err)
		return
	}
	r.LocalUpdated++
	log.Infof("%s is not an event name, restored %s", path, restored.Document)
}

// contested marks cur and every other document holding its id as conflicting. It reports false when
// cur is the only holder.
func (e *Engine) contested(r *Report, cur event.LocalEvent) bool {
	var others []event.LocalEvent
	for _, h := range e.local.FindByID(cur.ID) {
		if h.Document != cur.Document {
			others = append(others, h)
		}
	}
	if len(others) == 0 {
		return false
	}
	cur.State = event.ConflictSkipped
	e.local.Upsert(cur)
	for _, o := range others {
		e.local.SetState(o.Document, event.ConflictSkipped)
	}
	e.conflict(r, cur.Details, cur.Document,
		fmt.Errorf("%w: event %s is also linked from %s", ErrDuplicateCandidate, cur.ID, others[0].Document))
	return true
}

func (e *Engine) localCandidates(remote event.RemoteEvent) []event.LocalEvent {
	candidates := e.local.FindByKey(remote.Key())
	if remote.Link != "" {
		candidates = append(candidates, e.local.FindByLink(remote.Link)...)
	}
	kept := candidates[:0]
	for _, c := range candidates {
		if c.ID == "" || c.ID == remote.ID {
			kept = append(kept, c)
		}
	}
	return kept
}

func (e *Engine) begin(trigger string) Report {
	return Report{Trigger: trigger, Started: e.clock.Now()}
}

func (e *Engine) finish(r *Report) {
	r.Finished = e.clock.Now()
	entry := log.WithFields(log.Fields{
		"trigger":   r.Trigger,
		"changes":   r.Changes(),
		"conflicts": len(r.Conflicts),
		"failures":  len(r.Failures),
	})
	if r.Changes() > 0 || len(r.Conflicts) > 0 || len(r.Failures) > 0 {
		entry.Info("Sync finished")
	} else {
		entry.Debug("Sync finished")
	}
}

func (e *Engine) conflict(r *Report, d event.Details, document string, err error) {
	issue := newIssue(IssueConflict, d, document, err)
	r.Conflicts = append(r.Conflicts, issue)
	e.notifier.Notify(issue)
}

func (e *Engine) fail(r *Report, d event.Details, document string, err error) {
	issue := newIssue(IssueFailure, d, document, err)
	r.Failures = append(r.Failures, issue)
	e.notifier.Notify(issue)
}

// localWriteFailed reports name collisions as conflicts and everything else as failures.
func (e *Engine) localWriteFailed(r *Report, d event.Details, document string, err error) {
	if errors.Is(err, vault.ErrExists) {
		e.conflict(r, d, document, fmt.Errorf("%w: %v", ErrDuplicateCandidate, err))
		return
	}
	e.fail(r, d, document, err)
}
