// Package store holds the in-memory tables of the sync: local events backed by documents and the cached
// view of the remote calendar.
package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/Septikai/obsidian-google-calendar-sync/pkg/event"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/identity"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/link"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/vault"
	log "github.com/sirupsen/logrus"
)

// LocalStore is the table of local events keyed by document path, with an index on remote id.
type LocalStore struct {
	mu         sync.RWMutex
	docs       vault.Gateway
	codec      *link.Codec
	collection string
	records    map[string]event.LocalEvent
	ids        map[string]string
}

func NewLocalStore(docs vault.Gateway, codec *link.Codec, collection string) *LocalStore {
	return &LocalStore{
		docs:       docs,
		codec:      codec,
		collection: vault.CleanCollection(collection),
		records:    make(map[string]event.LocalEvent),
		ids:        make(map[string]string),
	}
}

func (s *LocalStore) Collection() string {
	return s.collection
}

// Load rebuilds the table from the documents of the collection. Documents whose name is not an event
// name are skipped. Unreadable documents are logged and skipped.
func (s *LocalStore) Load(ctx context.Context) error {
	docs, err := s.docs.ListDocuments(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to load local events: %w", err)
	}

	records := make(map[string]event.LocalEvent, len(docs))
	holders := make(map[string][]string)
	for _, doc := range docs {
		e, ok, err := s.Parse(ctx, doc)
		if err != nil {
			log.Errorf("Skipping %s: %v", doc.Path, err)
			continue
		}
		if !ok {
			continue
		}
		if e.IsLinked() {
			holders[e.ID] = append(holders[e.ID], doc.Path)
		}
		records[doc.Path] = e
	}

	// an id held by more than one document links none of them
	ids := make(map[string]string, len(holders))
	for id, paths := range holders {
		if len(paths) == 1 {
			ids[id] = paths[0]
			continue
		}
		log.Warnf("Documents %s are linked to the same event %s", strings.Join(paths, ", "), id)
		for _, p := range paths {
			e := records[p]
			e.State = event.ConflictSkipped
			records[p] = e
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	s.ids = ids
	log.Debugf("Loaded %d local events from %d documents", len(records), len(docs))
	return nil
}

// Parse reads a single document. It reports false for documents that are not events. Date and summary
// come from the document name, values of the same keys in the metadata are ignored.
func (s *LocalStore) Parse(ctx context.Context, doc vault.Document) (event.LocalEvent, bool, error) {
	date, summary, ok := identity.ParseName(doc.Name())
	if !ok {
		return event.LocalEvent{}, false, nil
	}
	meta, err := s.docs.ReadMetadata(ctx, doc)
	if err != nil {
		return event.LocalEvent{}, false, err
	}
	body, err := s.docs.ReadBody(ctx, doc)
	if err != nil {
		return event.LocalEvent{}, false, err
	}

	if v := meta.Text("date"); v != "" && v != date {
		log.Debugf("%s: metadata date %s differs from the name, using %s", doc.Path, v, date)
	}
	if v := meta.Text("summary"); v != "" && v != summary {
		log.Debugf("%s: metadata summary %q differs from the name, using %q", doc.Path, v, summary)
	}

	e := event.LocalEvent{
		Details: event.Details{
			Date:        date,
			Summary:     summary,
			Description: strings.TrimSpace(body),
		},
		ID:       meta.Text(vault.IDKey),
		Document: doc.Path,
		Link:     s.codec.Encode(doc.Path),
		State:    event.Unlinked,
	}
	if e.IsLinked() {
		e.State = event.Linked
	}
	return e, true, nil
}

func (s *LocalStore) Get(id string) (event.LocalEvent, bool) {
	if id == "" {
		return event.LocalEvent{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.ids[id]
	if !ok {
		return event.LocalEvent{}, false
	}
	return s.records[p], true
}

func (s *LocalStore) ByPath(path string) (event.LocalEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.records[path]
	return e, ok
}

// Upsert stores e under its document path.
func (s *LocalStore) Upsert(e event.LocalEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsert(e)
}

func (s *LocalStore) upsert(e event.LocalEvent) {
	if old, ok := s.records[e.Document]; ok && old.ID != "" && s.ids[old.ID] == e.Document {
		delete(s.ids, old.ID)
	}
	s.records[e.Document] = e
	if e.ID != "" && e.State != event.ConflictSkipped {
		s.ids[e.ID] = e.Document
	}
}

func (s *LocalStore) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(path)
}

func (s *LocalStore) remove(path string) {
	if old, ok := s.records[path]; ok && old.ID != "" && s.ids[old.ID] == path {
		delete(s.ids, old.ID)
	}
	delete(s.records, path)
}

// SetState changes the state of the record at path, if any.
func (s *LocalStore) SetState(path string, state event.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.records[path]; ok {
		e.State = state
		s.upsert(e)
	}
}

// ApplyPatch merges the set fields of p into the record linked to id. Unknown ids are ignored and
// reported as false. Only the table changes, the document is left alone.
func (s *LocalStore) ApplyPatch(id string, p event.Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, ok := s.ids[id]
	if !ok {
		return false
	}
	e := s.records[path]
	e.Details = p.Apply(e.Details)
	s.records[path] = e
	return true
}

func (s *LocalStore) FindByKey(key event.Key) []event.LocalEvent {
	return s.find(func(e event.LocalEvent) bool { return e.Key() == key })
}

// FindByID returns every record holding id, including records that are not indexed because of a conflict.
func (s *LocalStore) FindByID(id string) []event.LocalEvent {
	return s.find(func(e event.LocalEvent) bool { return id != "" && e.ID == id })
}

func (s *LocalStore) FindByLink(token string) []event.LocalEvent {
	return s.find(func(e event.LocalEvent) bool { return e.Link != "" && e.Link == token })
}

func (s *LocalStore) find(match func(event.LocalEvent) bool) []event.LocalEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []event.LocalEvent
	for _, p := range slices.Sorted(maps.Keys(s.records)) {
		if e := s.records[p]; match(e) {
			found = append(found, e)
		}
	}
	return found
}

// All returns every record ordered by document path.
func (s *LocalStore) All() []event.LocalEvent {
	return s.find(func(event.LocalEvent) bool { return true })
}

// Snapshot copies the table keyed by document path.
func (s *LocalStore) Snapshot() map[string]event.LocalEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.records)
}

// MaterializeToDocument writes the change p of event e to its document and returns the stored result.
//
// A change of date or summary renames the document to "<date> <summary>.md" instead of writing metadata.
// Metadata entries of p are merged into the metadata block, a nil value removes the key. The body is
// always rewritten to the link of the (possibly new) document name followed by the free text.
func (s *LocalStore) MaterializeToDocument(ctx context.Context, e event.LocalEvent, p event.Patch) (event.LocalEvent, error) {
	next := p.Apply(e.Details)
	doc := vault.Document{Path: e.Document}

	if p.Renames() {
		if !identity.ValidSummary(next.Summary) {
			return e, fmt.Errorf("summary %q cannot be used as a document name", next.Summary)
		}
		if name := identity.FormatName(next.Date, next.Summary); name != doc.Name() {
			renamed, err := s.docs.Rename(ctx, doc, name)
			if err != nil {
				return e, fmt.Errorf("failed to rename %s: %w", doc.Path, err)
			}
			s.Remove(doc.Path)
			doc = renamed
		}
	}

	id := e.ID
	if len(p.Metadata) > 0 {
		err := s.docs.MutateMetadata(ctx, doc, func(meta vault.Metadata) vault.Metadata {
			for k, v := range p.Metadata {
				if v == nil {
					delete(meta, k)
				} else {
					meta[k] = v
				}
			}
			return meta
		})
		if err != nil {
			return e, fmt.Errorf("failed to write metadata of %s: %w", doc.Path, err)
		}
		if v, ok := p.Metadata[vault.IDKey]; ok {
			id, _ = v.(string)
		}
	}

	token := s.codec.Encode(doc.Path)
	description := link.Compose(token, s.codec.Strip(next.Description))
	err := s.docs.MutateBody(ctx, doc, func(string) string { return description })
	if err != nil {
		return e, fmt.Errorf("failed to write body of %s: %w", doc.Path, err)
	}

	next.Description = description
	result := event.LocalEvent{
		Details:  next,
		ID:       id,
		Document: doc.Path,
		Link:     token,
		State:    e.State,
	}
	switch {
	case id != "":
		result.State = event.Linked
	case result.State == event.Linked:
		result.State = event.Unlinked
	}
	s.Upsert(result)
	return result, nil
}

// CreateDocument materialises an event that only exists remotely as a new linked document.
func (s *LocalStore) CreateDocument(ctx context.Context, remote event.RemoteEvent) (event.LocalEvent, error) {
	if !identity.ValidSummary(remote.Summary) {
		return event.LocalEvent{}, fmt.Errorf("summary %q cannot be used as a document name", remote.Summary)
	}
	name := identity.FormatName(remote.Date, remote.Summary)
	path := name
	if s.collection != "" {
		path = s.collection + "/" + name
	}
	token := s.codec.Encode(path)
	description := link.Compose(token, s.codec.Strip(remote.Description))

	doc, err := s.docs.CreateDocument(ctx, s.collection, name, vault.Metadata{vault.IDKey: remote.ID}, description)
	if err != nil {
		if errors.Is(err, vault.ErrExists) {
			return event.LocalEvent{}, err
		}
		return event.LocalEvent{}, fmt.Errorf("failed to create document for %s: %w", remote.Details, err)
	}

	e := event.LocalEvent{
		Details: event.Details{
			Date:        remote.Date,
			Summary:     remote.Summary,
			Description: description,
		},
		ID:       remote.ID,
		Document: doc.Path,
		Link:     token,
		State:    event.Linked,
	}
	s.Upsert(e)
	return e, nil
}
