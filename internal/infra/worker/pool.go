// Package worker runs long background tasks (album rebuilds, jukebox
// fills) on a small fixed set of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned by Submit when the backlog is full.
	ErrQueueFull = errors.New("worker queue full")
	// ErrNotRunning is returned by Submit before Start or after Stop.
	ErrNotRunning = errors.New("worker pool not running")
)

// Kind labels a task for logs and metrics.
type Kind string

const (
	KindAlbumRebuild Kind = "album-rebuild"
	KindJukeboxFill  Kind = "jukebox-fill"
	KindManualFill   Kind = "manual-fill"
)

// Task is one unit of background work.
type Task struct {
	ID        string
	Kind      Kind
	Partition string
	Run       func(ctx context.Context) error
}

// Observer is told about every finished task.
type Observer func(kind Kind, elapsed time.Duration, err error)

// Pool executes submitted tasks, one per worker at a time.
type Pool struct {
	size     int
	tasks    chan Task
	observer Observer

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	active  atomic.Int32
}

// Option configures a Pool.
type Option func(*Pool)

// WithObserver registers a callback invoked after each task.
func WithObserver(o Observer) Option {
	return func(p *Pool) { p.observer = o }
}

// NewPool creates a pool of size workers with a backlog of queueSize.
func NewPool(size, queueSize int, opts ...Option) *Pool {
	if size <= 0 {
		size = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	p := &Pool{
		size:  size,
		tasks: make(chan Task, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start spawns the workers. They stop when ctx is cancelled or Stop is
// called.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("worker pool already started")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.group, p.ctx = errgroup.WithContext(p.ctx)
	for i := 0; i < p.size; i++ {
		id := i
		p.group.Go(func() error {
			p.loop(id)
			return nil
		})
	}
	p.running = true

	log.Info().Int("workers", p.size).Msg("Worker pool started")
	return nil
}

// Stop cancels running tasks and waits for the workers to exit.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	group := p.group
	p.mu.Unlock()

	err := group.Wait()
	log.Info().Msg("Worker pool stopped")
	return err
}

// Submit queues a task and returns its id. It never blocks.
func (p *Pool) Submit(t Task) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return "", ErrNotRunning
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	select {
	case p.tasks <- t:
		log.Debug().Str("task", t.ID).Str("kind", string(t.Kind)).Str("partition", t.Partition).Msg("Task queued")
		return t.ID, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrQueueFull, t.Kind)
	}
}

// Active returns the number of tasks currently running.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Backlog returns the number of queued tasks.
func (p *Pool) Backlog() int {
	return len(p.tasks)
}

func (p *Pool) loop(id int) {
	for {
		select {
		case <-p.ctx.Done():
			log.Debug().Int("worker", id).Msg("Worker shutting down")
			return
		case t := <-p.tasks:
			p.run(id, t)
		}
	}
}

func (p *Pool) run(id int, t Task) {
	p.active.Add(1)
	defer p.active.Add(-1)

	start := time.Now()
	err := p.safeRun(t)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().Err(err).
			Int("worker", id).
			Str("task", t.ID).
			Str("kind", string(t.Kind)).
			Str("partition", t.Partition).
			Dur("elapsed", elapsed).
			Msg("Task failed")
	} else {
		log.Debug().
			Int("worker", id).
			Str("task", t.ID).
			Str("kind", string(t.Kind)).
			Dur("elapsed", elapsed).
			Msg("Task finished")
	}

	if p.observer != nil {
		p.observer(t.Kind, elapsed, err)
	}
}

// safeRun converts a panicking task into an error so the worker survives.
func (p *Pool) safeRun(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Kind, r)
		}
	}()
	return t.Run(p.ctx)
}
