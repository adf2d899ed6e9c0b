package vault

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

type stubDocument struct {
	meta Metadata
	body string
}

// Stub is an in-memory Gateway used in tests. It counts every write it performs.
type Stub struct {
	mu      sync.RWMutex
	docs    map[string]stubDocument
	Writes  int
	Renames int
	Creates int
}

func NewStub() *Stub {
	return &Stub{docs: make(map[string]stubDocument)}
}

// Put stores a document without counting it as a write.
func (s *Stub) Put(path string, meta Metadata, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = stubDocument{meta: meta.Clone(), body: body}
}

func (s *Stub) Exists(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[path]
	return ok
}

func (s *Stub) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.docs))
	for p := range s.docs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (s *Stub) TotalWrites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Writes + s.Renames + s.Creates
}

func (s *Stub) ListDocuments(_ context.Context, collection string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	collection = CleanCollection(collection)
	var docs []Document
	for p := range s.docs {
		doc := Document{Path: p}
		if doc.Collection() == collection && strings.HasSuffix(p, extension) {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

func (s *Stub) ReadMetadata(_ context.Context, doc Document) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[doc.Path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", doc.Path, ErrNotFound)
	}
	return d.meta.Clone(), nil
}

func (s *Stub) MutateMetadata(_ context.Context, doc Document, fn func(Metadata) Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[doc.Path]
	if !ok {
		return fmt.Errorf("%s: %w", doc.Path, ErrNotFound)
	}
	next := fn(d.meta.Clone())
	if reflect.DeepEqual(next, d.meta) {
		return nil
	}
	d.meta = next
	s.docs[doc.Path] = d
	s.Writes++
	return nil
}

func (s *Stub) ReadBody(_ context.Context, doc Document) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[doc.Path]
	if !ok {
		return "", fmt.Errorf("%s: %w", doc.Path, ErrNotFound)
	}
	return d.body, nil
}

func (s *Stub) MutateBody(_ context.Context, doc Document, fn func(string) string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[doc.Path]
	if !ok {
		return fmt.Errorf("%s: %w", doc.Path, ErrNotFound)
	}
	next := ensureTrailingNewline(fn(d.body))
	if next == d.body {
		return nil
	}
	d.body = next
	s.docs[doc.Path] = d
	s.Writes++
	return nil
}

func (s *Stub) Rename(_ context.Context, doc Document, newName string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[doc.Path]
	if !ok {
		return Document{}, fmt.Errorf("%s: %w", doc.Path, ErrNotFound)
	}
	target := Document{Path: join(doc.Collection(), newName)}
	if target.Path == doc.Path {
		return doc, nil
	}
	if _, exists := s.docs[target.Path]; exists {
		return Document{}, fmt.Errorf("%s: %w", target.Path, ErrExists)
	}
	delete(s.docs, doc.Path)
	s.docs[target.Path] = d
	s.Renames++
	return target, nil
}

func (s *Stub) CreateDocument(_ context.Context, collection string, name string, metadata Metadata, body string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := Document{Path: join(collection, name)}
	if _, exists := s.docs[doc.Path]; exists {
		return Document{}, fmt.Errorf("%s: %w", doc.Path, ErrExists)
	}
	s.docs[doc.Path] = stubDocument{meta: metadata.Clone(), body: ensureTrailingNewline(body)}
	s.Creates++
	return doc, nil
}
