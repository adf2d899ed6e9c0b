package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
	log "github.com/sirupsen/logrus"
)

// FileSystem is a Gateway over markdown files of a vault directory on disk.
type FileSystem struct {
	root string
	mu   sync.Mutex
}

func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: filepath.Clean(root)}
}

func (f *FileSystem) Root() string {
	return f.root
}

func (f *FileSystem) abs(docPath string) string {
	return filepath.Join(f.root, filepath.FromSlash(docPath))
}

// ListDocuments returns the markdown documents directly inside collection, sorted by name.
func (f *FileSystem) ListDocuments(_ context.Context, collection string) ([]Document, error) {
	collection = CleanCollection(collection)
	entries, err := os.ReadDir(f.abs(collection))
	if err != nil {
		return nil, fmt.Errorf("failed to list collection %q: %w", collection, err)
	}
	docs := make([]Document, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || filepath.Ext(entry.Name()) != extension {
			continue
		}
		docs = append(docs, Document{Path: join(collection, entry.Name())})
	}
	return docs, nil
}

func (f *FileSystem) ReadMetadata(_ context.Context, doc Document) (Metadata, error) {
	content, err := f.read(doc)
	if err != nil {
		return nil, err
	}
	block, _ := splitDocument(content)
	meta, err := parseMetadata(block)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", doc.Path, err)
	}
	return meta, nil
}

func (f *FileSystem) MutateMetadata(_ context.Context, doc Document, fn func(Metadata) Metadata) error {
	return f.mutate(doc, func(meta Metadata, body string) (Metadata, string) {
		return fn(meta.Clone()), body
	})
}

func (f *FileSystem) ReadBody(_ context.Context, doc Document) (string, error) {
	content, err := f.read(doc)
	if err != nil {
		return "", err
	}
	_, body := splitDocument(content)
	return body, nil
}

func (f *FileSystem) MutateBody(_ context.Context, doc Document, fn func(string) string) error {
	return f.mutate(doc, func(meta Metadata, body string) (Metadata, string) {
		return meta, ensureTrailingNewline(fn(body))
	})
}

// Rename moves doc to newName inside the same collection. An existing target is never overwritten.
func (f *FileSystem) Rename(_ context.Context, doc Document, newName string) (Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.ContainsAny(newName, `/\`) {
		return Document{}, fmt.Errorf("invalid document name %q", newName)
	}
	target := Document{Path: join(doc.Collection(), newName)}
	if target.Path == doc.Path {
		return doc, nil
	}
	if _, err := os.Stat(f.abs(target.Path)); err == nil {
		return Document{}, fmt.Errorf("failed to rename %s: %s: %w", doc.Path, target.Path, ErrExists)
	}
	if err := os.Rename(f.abs(doc.Path), f.abs(target.Path)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, fmt.Errorf("failed to rename %s: %w", doc.Path, ErrNotFound)
		}
		return Document{}, fmt.Errorf("failed to rename %s: %w", doc.Path, err)
	}
	log.Debugf("Renamed document %s to %s", doc.Path, target.Path)
	return target, nil
}

func (f *FileSystem) CreateDocument(_ context.Context, collection string, name string, metadata Metadata, body string) (Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc := Document{Path: join(collection, name)}
	path := f.abs(doc.Path)
	if _, err := os.Stat(path); err == nil {
		return Document{}, fmt.Errorf("failed to create %s: %w", doc.Path, ErrExists)
	}
	content, err := composeDocument(metadata, ensureTrailingNewline(body))
	if err != nil {
		return Document{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Document{}, fmt.Errorf("failed to create collection for %s: %w", doc.Path, err)
	}
	if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return Document{}, fmt.Errorf("failed to write %s: %w", doc.Path, err)
	}
	log.Debugf("Created document %s", doc.Path)
	return doc, nil
}

func (f *FileSystem) read(doc Document) (string, error) {
	content, err := os.ReadFile(f.abs(doc.Path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", doc.Path, ErrNotFound)
		}
		return "", fmt.Errorf("failed to read %s: %w", doc.Path, err)
	}
	return string(content), nil
}

// mutate is the read-modify-write cycle behind both Mutate methods. Unchanged documents are not
// rewritten so that the watcher does not see spurious modifications.
func (f *FileSystem) mutate(doc Document, fn func(Metadata, string) (Metadata, string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	content, err := f.read(doc)
	if err != nil {
		return err
	}
	block, body := splitDocument(content)
	meta, err := parseMetadata(block)
	if err != nil {
		return fmt.Errorf("%s: %w", doc.Path, err)
	}

	nextMeta, nextBody := fn(meta, body)
	if reflect.DeepEqual(nextMeta, meta) && nextBody == body {
		return nil
	}
	if reflect.DeepEqual(nextMeta, meta) && len(meta) > 0 {
		// keep the block as written by the user when only the body changes
		content = delimiter + "\n" + block + delimiter + "\n" + nextBody
	} else {
		content, err = composeDocument(nextMeta, nextBody)
		if err != nil {
			return err
		}
	}

	if err := atomic.WriteFile(f.abs(doc.Path), strings.NewReader(content)); err != nil {
		return fmt.Errorf("failed to write %s: %w", doc.Path, err)
	}
	return nil
}
