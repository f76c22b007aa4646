package mpd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"
)

// Subsystems the gateway reacts to.
var WatchedSubsystems = []string{"database", "player", "playlist"}

const watchRetryDelay = time.Second

// Watch delivers changed subsystems of the client's partition until ctx is
// cancelled. Idle connections see only their own partition's player and
// queue events, so named partitions get their own idle loop.
func (c *Client) Watch(ctx context.Context, subsystems ...string) (<-chan string, error) {
	if c.partition == DefaultPartition {
		return c.watchDefault(ctx, subsystems)
	}

	ch := make(chan string, 10)
	go c.idleLoop(ctx, ch, subsystems)
	return ch, nil
}

func (c *Client) watchDefault(ctx context.Context, subsystems []string) (<-chan string, error) {
	watcher, err := mpd.NewWatcher("tcp", c.addr(), c.password, subsystems...)
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	c.mu.Lock()
	c.watcher = watcher
	c.mu.Unlock()

	ch := make(chan string, 10)

	go func() {
		defer close(ch)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case subsystem, ok := <-watcher.Event:
				if !ok {
					return
				}
				select {
				case ch <- subsystem:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Error:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("MPD watcher error")
				// gompd reconnects on its own
				time.Sleep(watchRetryDelay)
			}
		}
	}()

	return ch, nil
}

// idleLoop runs idle on a dedicated connection bound to the partition.
func (c *Client) idleLoop(ctx context.Context, ch chan<- string, subsystems []string) {
	defer close(ch)

	for ctx.Err() == nil {
		conn, err := dial(c.addr(), c.password, c.partition)
		if err != nil {
			log.Error().Err(err).Str("partition", c.partition).Msg("MPD idle connection failed")
			if !sleepCtx(ctx, watchRetryDelay) {
				return
			}
			continue
		}

		stop := context.AfterFunc(ctx, func() { conn.Close() })
		err = c.idle(ctx, conn, ch, subsystems)
		stop()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("partition", c.partition).Msg("MPD idle interrupted, reconnecting")
		if !sleepCtx(ctx, watchRetryDelay) {
			return
		}
	}
}

func (c *Client) idle(ctx context.Context, conn *mpd.Client, ch chan<- string, subsystems []string) error {
	cmd := "idle"
	if len(subsystems) > 0 {
		cmd += " " + strings.Join(subsystems, " ")
	}
	for {
		changed, err := conn.Command("%s", mpd.Quoted(cmd)).Strings("changed")
		if err != nil {
			return err
		}
		for _, subsystem := range changed {
			select {
			case ch <- subsystem:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
