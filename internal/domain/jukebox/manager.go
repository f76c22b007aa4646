package jukebox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/edumarques81/stellar-jukebox/internal/domain/albums"
	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
	"github.com/edumarques81/stellar-jukebox/internal/infra/worker"
)

// AlbumCache is the published album view and its rebuild entry point.
type AlbumCache interface {
	Current() (*albums.View, error)
	Rebuild(ctx context.Context, catalog song.Catalog) (*albums.View, error)
}

// RebuildObserver is told about finished album view rebuilds.
type RebuildObserver func(view *albums.View, err error)

// Manager owns the engines of every partition and the shared album view.
type Manager struct {
	albums    AlbumCache
	catalog   song.Catalog
	submitter Submitter
	onRebuild RebuildObserver

	mu      sync.RWMutex
	engines map[string]*Engine

	// rebuilt is closed after the first rebuild attempt.
	rebuilt     chan struct{}
	rebuiltOnce sync.Once

	rebuildMu sync.Mutex
	rebuild   rebuildState
	// rebuildAgain is set when the database changed during a running
	// rebuild, whose pass may already be past the changed tracks.
	rebuildAgain bool
}

type rebuildState int

const (
	rebuildIdle rebuildState = iota
	rebuildQueued
	rebuildRunning
)

// NewManager creates a manager. onRebuild may be nil.
func NewManager(cache AlbumCache, catalog song.Catalog, submitter Submitter, onRebuild RebuildObserver) *Manager {
	return &Manager{
		albums:    cache,
		catalog:   catalog,
		submitter: submitter,
		onRebuild: onRebuild,
		engines:   make(map[string]*Engine),
		rebuilt:   make(chan struct{}),
	}
}

// Add registers the engine of a partition.
func (m *Manager) Add(e *Engine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.engines[e.Partition()]; ok {
		return fmt.Errorf("partition %q already registered", e.Partition())
	}
	m.engines[e.Partition()] = e
	return nil
}

// Engine returns the engine of partition.
func (m *Manager) Engine(partition string) (*Engine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.engines[partition]
	return e, ok
}

// Partitions returns the registered partition names, sorted.
func (m *Manager) Partitions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.engines))
	for name := range m.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run starts an initial album rebuild and every engine, and blocks until
// ctx is cancelled. Engines in album mode start once the first rebuild
// has finished so they do not fail on an empty view.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.RequestRebuild(); err != nil {
		log.Warn().Err(err).Msg("Initial album view rebuild not scheduled")
		m.markRebuilt()
	}

	m.mu.RLock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, e := range engines {
		waitForAlbums := e.settings.Mode == ModeAlbums
		g.Go(func() error {
			if waitForAlbums {
				select {
				case <-m.rebuilt:
				case <-ctx.Done():
					return nil
				}
			}
			e.Run(ctx)
			return nil
		})
	}
	return g.Wait()
}

// RequestRebuild schedules an album view rebuild. A request while one is
// queued is covered by it; a request while one runs schedules exactly one
// more after it finishes.
func (m *Manager) RequestRebuild() error {
	m.rebuildMu.Lock()
	switch m.rebuild {
	case rebuildQueued:
		m.rebuildMu.Unlock()
		return nil
	case rebuildRunning:
		m.rebuildAgain = true
		m.rebuildMu.Unlock()
		log.Debug().Msg("Album view rebuild running, another one follows")
		return nil
	}
	m.rebuild = rebuildQueued
	m.rebuildMu.Unlock()

	_, err := m.submitter.Submit(worker.Task{
		Kind: worker.KindAlbumRebuild,
		Run:  m.runRebuild,
	})
	if err != nil {
		m.rebuildMu.Lock()
		m.rebuild = rebuildIdle
		m.rebuildMu.Unlock()
	}
	return err
}

func (m *Manager) runRebuild(ctx context.Context) error {
	m.rebuildMu.Lock()
	m.rebuild = rebuildRunning
	m.rebuildMu.Unlock()

	defer m.markRebuilt()
	defer m.rebuildFinished()

	view, err := m.albums.Rebuild(ctx, m.catalog)
	if errors.Is(err, albums.ErrRebuildInProgress) {
		return nil
	}
	if m.onRebuild != nil {
		m.onRebuild(view, err)
	}
	if err == nil {
		m.triggerAll()
	}
	return err
}

func (m *Manager) rebuildFinished() {
	m.rebuildMu.Lock()
	again := m.rebuildAgain
	m.rebuild, m.rebuildAgain = rebuildIdle, false
	m.rebuildMu.Unlock()

	if again {
		if err := m.RequestRebuild(); err != nil {
			log.Warn().Err(err).Msg("Failed to schedule follow-up album view rebuild")
		}
	}
}

func (m *Manager) markRebuilt() {
	m.rebuiltOnce.Do(func() { close(m.rebuilt) })
}

func (m *Manager) triggerAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.engines {
		e.Trigger()
	}
}

// HandleEvent dispatches an MPD idle event seen on partition. Database
// changes rebuild the album view; queue and player changes wake the
// partition's engine.
func (m *Manager) HandleEvent(partition, subsystem string) {
	switch subsystem {
	case "database":
		if err := m.RequestRebuild(); err != nil {
			log.Warn().Err(err).Msg("Failed to schedule album view rebuild")
		}
	case "player", "playlist":
		if e, ok := m.Engine(partition); ok {
			e.HandleEvent(subsystem)
		}
	}
}
