package app

import (
	"path/filepath"
	"time"

	"github.com/Septikai/obsidian-google-calendar-sync/internal/config"
	"github.com/Septikai/obsidian-google-calendar-sync/internal/event_bus"
	"github.com/Septikai/obsidian-google-calendar-sync/internal/utils"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/calendar"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/google"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/link"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/reconcile"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/store"
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/vault"
)

// Dependencies holds all services and handlers for the application.
type Dependencies struct {
	Clock    utils.Clock
	EventBus *event_bus.EventBus

	Codec       *link.Codec
	Vault       vault.Gateway
	LocalStore  *store.LocalStore
	RemoteStore *store.RemoteStore

	GoogleAuth    *google.GoogleAuth
	GoogleService google.Service
	GoogleHandler *google.Handler

	Engine      *reconcile.Engine
	Dispatcher  *reconcile.Dispatcher
	SyncHandler *reconcile.Handler
}

// BuildDependencies initializes and wires all application services and handlers.
func BuildDependencies(cfg config.Application) (*Dependencies, error) {
	deps := &Dependencies{}

	deps.Clock = utils.SystemClock{}
	deps.EventBus = event_bus.NewEventBusWithClock(deps.Clock)

	googleAuth, err := google.NewGoogleAuth(cfg, deps.EventBus)
	if err != nil {
		return nil, err
	}
	deps.GoogleAuth = googleAuth
	deps.GoogleService = google.NewService(deps.GoogleAuth, cfg.Google, cfg.Sync, deps.Clock)
	deps.GoogleHandler = google.NewHandler(deps.GoogleService, deps.GoogleAuth)

	wireSync(deps, cfg, vault.NewFileSystem(cfg.Vault.Path), deps.GoogleService)
	return deps, nil
}

// wireSync builds the stores, engine and dispatcher on top of a document and a calendar gateway.
func wireSync(deps *Dependencies, cfg config.Application, docs vault.Gateway, cal calendar.Gateway) {
	deps.Codec = link.NewCodec(cfg.Vault.Scheme, cfg.Vault.Name)
	deps.Vault = docs
	deps.LocalStore = store.NewLocalStore(docs, deps.Codec, filepath.ToSlash(cfg.Vault.Directory))
	deps.RemoteStore = store.NewRemoteStore(deps.Codec)

	deps.Engine = reconcile.NewEngine(deps.LocalStore, deps.RemoteStore, cal, deps.Codec,
		reconcile.LogNotifier{}, deps.Clock, reconcile.Options{ImportRemote: cfg.Sync.ImportRemote})
	deps.Dispatcher = reconcile.NewDispatcher(deps.Engine, deps.EventBus)
	deps.SyncHandler = reconcile.NewHandler(deps.Dispatcher, deps.LocalStore)
}

func renameWindow(cfg config.Sync) time.Duration {
	if cfg.DebounceMs <= 0 {
		return vault.DefaultRenameWindow
	}
	return time.Duration(cfg.DebounceMs) * time.Millisecond
}
