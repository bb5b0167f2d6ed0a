package fsal

import (
	"context"
	"fmt"
	"log"

	"github.com/Outernet-Project/fsal/bundle"
	"github.com/Outernet-Project/fsal/catalog"
	"github.com/Outernet-Project/fsal/config"
	"github.com/Outernet-Project/fsal/events"
	"github.com/Outernet-Project/fsal/indexer"
	"github.com/Outernet-Project/fsal/internal/fsnotifysource"
	"github.com/Outernet-Project/fsal/mutation"
	"github.com/Outernet-Project/fsal/notify"
	"github.com/Outernet-Project/fsal/pathrules"
	"github.com/Outernet-Project/fsal/protocol"
	"github.com/Outernet-Project/fsal/query"
	"github.com/Outernet-Project/fsal/scheduler"
)

// Manager owns every collaborator a running daemon needs and wires
// them together, mirroring the original implementation's FSDBManager:
// a single object constructed once from Config that holds the catalog
// store, the indexing/query/mutation engines, the change-event queue,
// the notification source, and the protocol server.
type Manager struct {
	Config    *config.Config
	BasePaths []string
	Store     *catalog.Store
	Scheduler *scheduler.Scheduler
	Events    *events.Queue
	Indexer   *indexer.Indexer
	Query     *query.Engine
	Mutation  *mutation.Engine
	Notify    *notify.Handler
	Server    *protocol.Server

	source *fsnotifysource.Source
}

// NewManager builds a Manager from cfg. It opens the catalog database
// and binds the protocol socket, but does not yet start watching the
// filesystem or accepting connections; call Start for that.
func NewManager(cfg *config.Config) (*Manager, error) {
	basePaths := config.ResolvedBasePaths(cfg)

	blacklist, err := pathrules.CompileBlacklist(cfg.Blacklist)
	if err != nil {
		return nil, fmt.Errorf("compiling blacklist: %w", err)
	}

	store, err := catalog.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	evQueue := events.NewQueue(0)
	sched := scheduler.New()
	bundles := bundle.New(cfg.BundlesDir, cfg.BundlesExts)
	whitelist := pathrules.NewWhitelist(nil)

	idx := &indexer.Indexer{
		Store:         store,
		BasePaths:     basePaths,
		Blacklist:     blacklist,
		Bundles:       bundles,
		Events:        evQueue,
		YieldInterval: cfg.YieldInterval,
	}

	queryEngine := &query.Engine{
		Store:     store,
		BasePaths: basePaths,
		Whitelist: whitelist,
	}

	mutationEngine := &mutation.Engine{
		Store:     store,
		BasePaths: basePaths,
		Events:    evQueue,
		Indexer:   idx,
		Scheduler: sched,
	}

	notifyHandler := &notify.Handler{
		Store:     store,
		BasePaths: basePaths,
		Bundles:   bundles,
		Indexer:   idx,
		Scheduler: sched,
	}

	dispatcher := &protocol.Dispatcher{
		Query:     queryEngine,
		Mutation:  mutationEngine,
		Indexer:   idx,
		Events:    evQueue,
		Scheduler: sched,
		Whitelist: whitelist,
	}

	server := &protocol.Server{SocketPath: cfg.SocketPath, Dispatcher: dispatcher}
	if err := server.Listen(); err != nil {
		store.Close()
		sched.Stop()
		return nil, fmt.Errorf("binding socket: %w", err)
	}

	source, err := fsnotifysource.New(basePaths, fsnotifysource.DefaultBatchWindow)
	if err != nil {
		server.Close()
		store.Close()
		sched.Stop()
		return nil, fmt.Errorf("starting filesystem watcher: %w", err)
	}

	return &Manager{
		Config:    cfg,
		BasePaths: basePaths,
		Store:     store,
		Scheduler: sched,
		Events:    evQueue,
		Indexer:   idx,
		Query:     queryEngine,
		Mutation:  mutationEngine,
		Notify:    notifyHandler,
		Server:    server,
		source:    source,
	}, nil
}

// Start performs the initial full index, begins watching for
// filesystem changes, and starts serving protocol connections. Serve
// blocks until the listener is closed, so Start runs it in its own
// goroutine and returns immediately.
func (m *Manager) Start() error {
	if err := m.Indexer.Refresh(context.Background()); err != nil {
		log.Printf("manager: initial refresh: %v", err)
	}

	m.source.Start(func(paths []string) {
		m.Notify.Handle(context.Background(), paths)
	})

	go func() {
		if err := m.Server.Serve(); err != nil {
			log.Printf("manager: protocol server stopped: %v", err)
		}
	}()

	log.Printf("manager: serving %d base path(s) on %s", len(m.BasePaths), m.Config.SocketPath)
	return nil
}

// Stop shuts down the watcher, the protocol server, the scheduler, and
// the catalog store, in that order so nothing is left trying to submit
// work to an already-stopped scheduler.
func (m *Manager) Stop() {
	if err := m.source.Stop(); err != nil {
		log.Printf("manager: stopping watcher: %v", err)
	}
	if err := m.Server.Close(); err != nil {
		log.Printf("manager: closing server: %v", err)
	}
	m.Scheduler.Stop()
	if err := m.Store.Close(); err != nil {
		log.Printf("manager: closing catalog: %v", err)
	}
}
