package reconcile

import (
	"context"
	"sync"

	"github.com/Septikai/obsidian-google-calendar-sync/internal/event_bus"
	log "github.com/sirupsen/logrus"
)

type triggerKind int

const (
	triggerPass triggerKind = iota
	triggerCreate
	triggerModify
	triggerRename
)

type trigger struct {
	kind    triggerKind
	path    string
	oldPath string
	reason  string
}

func (t trigger) key() string {
	switch t.kind {
	case triggerPass:
		return "pass"
	case triggerRename:
		return "rename:" + t.oldPath + "->" + t.path
	default:
		// create and modify of the same document are both a re-read of it
		return "doc:" + t.path
	}
}

// Status is what the dispatcher knows about past and queued runs.
type Status struct {
	LastPass   *Report `json:"lastPass,omitempty"`
	LastReport *Report `json:"lastReport,omitempty"`
	Queued     int     `json:"queued"`
	Running    bool    `json:"running"`
}

// Dispatcher serialises all triggers of the engine on a single worker. Triggers with the same target
// that are still queued are merged.
type Dispatcher struct {
	engine *Engine

	mu       sync.Mutex
	queue    []trigger
	queued   map[string]bool
	running  bool
	lastPass *Report
	last     *Report

	wake chan struct{}
}

func NewDispatcher(engine *Engine, eventBus *event_bus.EventBus) *Dispatcher {
	d := &Dispatcher{
		engine: engine,
		queued: make(map[string]bool),
		wake:   make(chan struct{}, 1),
	}
	if eventBus == nil {
		return d
	}
	event_bus.SubscribeTyped[event_bus.DocumentCreated](
		eventBus,
		event_bus.TopicDocumentCreated,
		func(e event_bus.EventT[event_bus.DocumentCreated]) error {
			d.enqueue(trigger{kind: triggerCreate, path: e.Data.Path})
			return nil
		},
	)
	event_bus.SubscribeTyped[event_bus.DocumentModified](
		eventBus,
		event_bus.TopicDocumentModified,
		func(e event_bus.EventT[event_bus.DocumentModified]) error {
			d.enqueue(trigger{kind: triggerModify, path: e.Data.Path})
			return nil
		},
	)
	event_bus.SubscribeTyped[event_bus.DocumentRenamed](
		eventBus,
		event_bus.TopicDocumentRenamed,
		func(e event_bus.EventT[event_bus.DocumentRenamed]) error {
			d.enqueue(trigger{kind: triggerRename, oldPath: e.Data.OldPath, path: e.Data.Path})
			return nil
		},
	)
	event_bus.SubscribeTyped[event_bus.RefreshRequested](
		eventBus,
		event_bus.TopicRefreshRequested,
		func(e event_bus.EventT[event_bus.RefreshRequested]) error {
			d.RequestPass(e.Data.Reason)
			return nil
		},
	)
	return d
}

// RequestPass queues a full pass unless one is already waiting.
func (d *Dispatcher) RequestPass(reason string) {
	d.enqueue(trigger{kind: triggerPass, reason: reason})
}

func (d *Dispatcher) enqueue(t trigger) {
	d.mu.Lock()
	key := t.key()
	if d.queued[key] {
		d.mu.Unlock()
		log.Debugf("Trigger %s already queued", key)
		return
	}
	d.queued[key] = true
	d.queue = append(d.queue, t)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) next() (trigger, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return trigger{}, false
	}
	t := d.queue[0]
	d.queue = d.queue[1:]
	delete(d.queued, t.key())
	d.running = true
	return t, true
}

// Run processes triggers until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Info("Sync dispatcher started")
	for {
		if err := ctx.Err(); err != nil {
			log.Info("Sync dispatcher stopped")
			return err
		}
		if d.step(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
		case <-d.wake:
		}
	}
}

// Drain processes every queued trigger on the calling goroutine and returns how many ran.
func (d *Dispatcher) Drain(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil && d.step(ctx) {
		n++
	}
	return n
}

func (d *Dispatcher) step(ctx context.Context) bool {
	t, ok := d.next()
	if !ok {
		return false
	}

	var r Report
	switch t.kind {
	case triggerPass:
		log.Debugf("Running full pass (%s)", t.reason)
		r = d.engine.FullPass(ctx)
	case triggerCreate:
		r = d.engine.OnCreate(ctx, t.path)
	case triggerModify:
		r = d.engine.OnModify(ctx, t.path)
	case triggerRename:
		r = d.engine.OnRename(ctx, t.oldPath, t.path)
	}

	d.mu.Lock()
	d.running = false
	d.last = &r
	if t.kind == triggerPass {
		d.lastPass = &r
	}
	d.mu.Unlock()
	return true
}

func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		LastPass:   d.lastPass,
		LastReport: d.last,
		Queued:     len(d.queue),
		Running:    d.running,
	}
}
