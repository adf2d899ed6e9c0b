package vault

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Septikai/obsidian-google-calendar-sync/internal/event_bus"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const DefaultRenameWindow = 250 * time.Millisecond

// Watcher turns file system notifications of a collection directory into document events on the bus.
// A rename is reported by the file system as the old name going away followed by the new name
// appearing; the two are paired when they arrive within the rename window.
type Watcher struct {
	watcher    *fsnotify.Watcher
	bus        *event_bus.EventBus
	root       string
	collection string
	window     time.Duration

	mu      sync.Mutex
	pending *pendingRename
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
}

type pendingRename struct {
	path  string
	timer *time.Timer
}

func NewWatcher(root, collection string, bus *event_bus.EventBus, window time.Duration) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if window <= 0 {
		window = DefaultRenameWindow
	}
	return &Watcher{
		watcher:    w,
		bus:        bus,
		root:       filepath.Clean(root),
		collection: CleanCollection(collection),
		window:     window,
		done:       make(chan struct{}),
	}, nil
}

// Start watches the collection directory until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	dir := filepath.Join(w.root, filepath.FromSlash(w.collection))
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.running = true
	w.wg.Add(1)
	go w.loop(ctx)

	log.Infof("Watching %s for document changes", dir)
	return nil
}

func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	if w.pending != nil {
		w.pending.timer.Stop()
		w.pending = nil
	}
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	docPath, ok := w.documentPath(ev.Name)
	if !ok {
		return
	}

	switch {
	case ev.Has(fsnotify.Rename):
		w.holdRename(docPath)
	case ev.Has(fsnotify.Create):
		if oldPath, paired := w.takeRename(); paired && oldPath != docPath {
			w.publish(ctx, event_bus.TopicDocumentRenamed, event_bus.DocumentRenamed{OldPath: oldPath, Path: docPath})
			return
		}
		w.publish(ctx, event_bus.TopicDocumentCreated, event_bus.DocumentCreated{Path: docPath})
	case ev.Has(fsnotify.Write):
		w.publish(ctx, event_bus.TopicDocumentModified, event_bus.DocumentModified{Path: docPath})
	}
}

func (w *Watcher) holdRename(docPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.timer.Stop()
		log.Debugf("Dropping unpaired rename of %s", w.pending.path)
	}
	p := &pendingRename{path: docPath}
	p.timer = time.AfterFunc(w.window, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.pending == p {
			// moved out of the collection or deleted
			log.Debugf("Document %s left the collection", p.path)
			w.pending = nil
		}
	})
	w.pending = p
}

func (w *Watcher) takeRename() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending == nil {
		return "", false
	}
	w.pending.timer.Stop()
	oldPath := w.pending.path
	w.pending = nil
	return oldPath, true
}

// documentPath maps an absolute file name to a document path. Only markdown files directly inside the
// collection qualify. Temporary files of atomic writes do not carry the extension and are skipped.
func (w *Watcher) documentPath(name string) (string, bool) {
	if filepath.Ext(name) != extension || strings.HasPrefix(filepath.Base(name), ".") {
		return "", false
	}
	rel, err := filepath.Rel(w.root, name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	doc := Document{Path: filepath.ToSlash(rel)}
	if doc.Collection() != w.collection {
		return "", false
	}
	return doc.Path, true
}

func (w *Watcher) publish(ctx context.Context, topic event_bus.EventType, data any) {
	log.Debugf("Document event %s: %+v", topic, data)
	if err := w.bus.Emit(ctx, topic, data); err != nil {
		log.Errorf("Failed to publish %s: %v", topic, err)
	}
}
