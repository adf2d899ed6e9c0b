// Package vault is the document side of the sync: markdown documents with a YAML metadata block,
// grouped in a collection directory of a vault.
package vault

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path"
	"strings"
)

// IDKey is the metadata key holding the remote id of a linked document.
const IDKey = "google-id"

const extension = ".md"

var (
	ErrNotFound = errors.New("document not found")
	ErrExists   = errors.New("document already exists")
)

// Document identifies a document by its slash separated path relative to the vault root.
type Document struct {
	Path string
}

func (d Document) Name() string {
	return path.Base(d.Path)
}

func (d Document) Collection() string {
	dir := path.Dir(d.Path)
	if dir == "." {
		return ""
	}
	return dir
}

type Metadata map[string]any

func (m Metadata) Text(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return maps.Clone(m)
}

// Gateway reads and writes documents. Mutations take a pure function from the old value to the new one
// and replace the document atomically once the function returns.
type Gateway interface {
	ListDocuments(ctx context.Context, collection string) ([]Document, error)
	ReadMetadata(ctx context.Context, doc Document) (Metadata, error)
	MutateMetadata(ctx context.Context, doc Document, fn func(Metadata) Metadata) error
	ReadBody(ctx context.Context, doc Document) (string, error)
	MutateBody(ctx context.Context, doc Document, fn func(string) string) error
	Rename(ctx context.Context, doc Document, newName string) (Document, error)
	CreateDocument(ctx context.Context, collection string, name string, metadata Metadata, body string) (Document, error)
}

// CleanCollection turns a configured collection ("/", "Calendar/", "") into the form used in document paths.
func CleanCollection(collection string) string {
	collection = strings.Trim(strings.TrimSpace(collection), "/")
	if collection == "." {
		return ""
	}
	return collection
}

func join(collection, name string) string {
	collection = CleanCollection(collection)
	if collection == "" {
		return name
	}
	return collection + "/" + name
}
