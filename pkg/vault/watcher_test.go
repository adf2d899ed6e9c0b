package vault

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Septikai/obsidian-google-calendar-sync/internal/event_bus"
	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	mu     sync.Mutex
	events []event_bus.Event
}

func (r *recorded) all() []event_bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event_bus.Event(nil), r.events...)
}

func recordBus() (*event_bus.EventBus, *recorded) {
	bus := event_bus.NewEventBus()
	rec := &recorded{}
	for _, topic := range []event_bus.EventType{
		event_bus.TopicDocumentCreated,
		event_bus.TopicDocumentModified,
		event_bus.TopicDocumentRenamed,
	} {
		bus.Subscribe(topic, func(e event_bus.Event) error {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.events = append(rec.events, e)
			return nil
		})
	}
	return bus, rec
}

func TestWatcher_Handle(t *testing.T) {
	ctx := context.Background()
	root := "/vault"

	newWatcher := func(t *testing.T) (*Watcher, *recorded) {
		bus, rec := recordBus()
		w, err := NewWatcher(root, "Calendar", bus, time.Minute)
		require.NoError(t, err)
		t.Cleanup(func() { _ = w.Stop() })
		return w, rec
	}

	t.Run("should pair a rename with the following create", func(t *testing.T) {
		w, rec := newWatcher(t)

		w.handle(ctx, fsnotify.Event{Name: "/vault/Calendar/2024-01-01 Trip.md", Op: fsnotify.Rename})
		w.handle(ctx, fsnotify.Event{Name: "/vault/Calendar/2024-01-05 Trip2.md", Op: fsnotify.Create})

		events := rec.all()
		require.Len(t, events, 1)
		assert.Equal(t, event_bus.TopicDocumentRenamed, events[0].Type)
		assert.Equal(t, event_bus.DocumentRenamed{
			OldPath: "Calendar/2024-01-01 Trip.md",
			Path:    "Calendar/2024-01-05 Trip2.md",
		}, events[0].Data)
	})

	t.Run("should report writes and plain creates", func(t *testing.T) {
		w, rec := newWatcher(t)

		w.handle(ctx, fsnotify.Event{Name: "/vault/Calendar/2024-01-01 Trip.md", Op: fsnotify.Create})
		w.handle(ctx, fsnotify.Event{Name: "/vault/Calendar/2024-01-01 Trip.md", Op: fsnotify.Write})

		events := rec.all()
		require.Len(t, events, 2)
		assert.Equal(t, event_bus.DocumentCreated{Path: "Calendar/2024-01-01 Trip.md"}, events[0].Data)
		assert.Equal(t, event_bus.DocumentModified{Path: "Calendar/2024-01-01 Trip.md"}, events[1].Data)
	})

	t.Run("should ignore files outside the collection and non documents", func(t *testing.T) {
		w, rec := newWatcher(t)

		w.handle(ctx, fsnotify.Event{Name: "/vault/Other/2024-01-01 Trip.md", Op: fsnotify.Write})
		w.handle(ctx, fsnotify.Event{Name: "/vault/Calendar/2024-01-01 Trip.md123456", Op: fsnotify.Create})
		w.handle(ctx, fsnotify.Event{Name: "/vault/Calendar/.hidden.md", Op: fsnotify.Write})
		w.handle(ctx, fsnotify.Event{Name: "/vault/Calendar/2024-01-01 Trip.md", Op: fsnotify.Remove})

		assert.Empty(t, rec.all())
	})
}

func TestWatcher_UnpairedRename(t *testing.T) {
	bus, rec := recordBus()
	w, err := NewWatcher("/vault", "", bus, 10*time.Millisecond)
	require.NoError(t, err)
	defer w.Stop()

	w.handle(context.Background(), fsnotify.Event{Name: "/vault/2024-01-01 Trip.md", Op: fsnotify.Rename})
	assert.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.pending == nil
	}, time.Second, 5*time.Millisecond)
	w.handle(context.Background(), fsnotify.Event{Name: "/vault/2024-01-02 Other.md", Op: fsnotify.Create})

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, event_bus.TopicDocumentCreated, events[0].Type)
}

func TestWatcher_Start(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Calendar"), 0o755))
	bus, rec := recordBus()
	w, err := NewWatcher(root, "Calendar", bus, 50*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	fs := NewFileSystem(root)
	_, err = fs.CreateDocument(ctx, "Calendar", "2024-01-01 Trip.md", Metadata{}, "Notes")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, e := range rec.all() {
			if created, ok := e.Data.(event_bus.DocumentCreated); ok && created.Path == "Calendar/2024-01-01 Trip.md" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
