package albums

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
)

// Cache publishes album views. Rebuilds run against a private view and
// replace the published one in a single swap; readers keep whatever view
// they obtained from Current.
type Cache struct {
	mu         sync.RWMutex
	view       *View
	building   atomic.Bool
	generation atomic.Uint64
	opts       BuildOptions
}

// NewCache creates an empty cache.
func NewCache(opts BuildOptions) *Cache {
	return &Cache{opts: opts}
}

// Current returns the published view, ErrNotBuilt before the first
// successful rebuild.
func (c *Cache) Current() (*View, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.view == nil {
		return nil, ErrNotBuilt
	}
	return c.view, nil
}

// Building reports whether a rebuild is running.
func (c *Cache) Building() bool {
	return c.building.Load()
}

// Rebuild builds a new view from catalog and publishes it. On failure
// the previous view stays published.
func (c *Cache) Rebuild(ctx context.Context, catalog song.Catalog) (*View, error) {
	if !c.building.CompareAndSwap(false, true) {
		return nil, ErrRebuildInProgress
	}
	defer c.building.Store(false)

	start := time.Now()
	view, err := Build(ctx, catalog, c.opts)
	if err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Album view rebuild failed, keeping previous view")
		return nil, err
	}

	view.generation = c.generation.Add(1)
	view.builtAt = time.Now()

	c.mu.Lock()
	c.view = view
	c.mu.Unlock()

	log.Info().
		Int("albums", view.Len()).
		Int("songs", view.Songs()).
		Uint64("generation", view.generation).
		Dur("elapsed", time.Since(start)).
		Msg("Album view rebuilt")
	return view, nil
}
