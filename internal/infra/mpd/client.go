// Package mpd provides a wrapper around the gompd MPD client.
package mpd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
)

// DefaultPartition is the partition every MPD client starts in.
const DefaultPartition = "default"

// ErrNotConnected is returned when no connection could be established.
var ErrNotConnected = errors.New("not connected to MPD")

// Client wraps the MPD client with reconnection logic. Every connection is
// bound to one partition.
type Client struct {
	mu        sync.Mutex
	client    *mpd.Client
	watcher   *mpd.Watcher
	host      string
	port      int
	password  string
	partition string
}

// NewClient creates a new MPD client wrapper for partition. An empty
// partition selects the default one.
func NewClient(host string, port int, password, partition string) *Client {
	if partition == "" {
		partition = DefaultPartition
	}
	return &Client{
		host:      host,
		port:      port,
		password:  password,
		partition: partition,
	}
}

// Partition returns the partition the client is bound to.
func (c *Client) Partition() string { return c.partition }

func (c *Client) addr() string { return fmt.Sprintf("%s:%d", c.host, c.port) }

// Connect establishes connection to MPD.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked()
}

// connectLocked establishes connection (must hold lock).
func (c *Client) connectLocked() error {
	client, err := dial(c.addr(), c.password, c.partition)
	if err != nil {
		return err
	}
	c.client = client
	log.Info().Str("addr", c.addr()).Str("partition", c.partition).Msg("Connected to MPD")
	return nil
}

// dial opens an authenticated connection bound to partition.
func dial(addr, password, partition string) (*mpd.Client, error) {
	log.Debug().Str("addr", addr).Str("partition", partition).Msg("Connecting to MPD")

	client, err := mpd.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MPD: %w", err)
	}

	if password != "" {
		if err := client.Command("password %s", password).OK(); err != nil {
			client.Close()
			return nil, fmt.Errorf("MPD authentication failed: %w", err)
		}
	}

	if partition != DefaultPartition {
		if err := client.Command("partition %s", partition).OK(); err != nil {
			client.Close()
			return nil, fmt.Errorf("bind partition %q: %w", partition, err)
		}
	}
	return client, nil
}

// ensureConnected checks connection and reconnects if needed (must hold lock).
func (c *Client) ensureConnectedLocked() error {
	if c.client == nil {
		return c.connectLocked()
	}

	if err := c.client.Ping(); err != nil {
		log.Warn().Err(err).Str("partition", c.partition).Msg("MPD connection lost, reconnecting...")
		c.client.Close()
		c.client = nil
		return c.connectLocked()
	}

	return nil
}

// do runs fn on a live connection. Commands on one client are serialized.
func (c *Client) do(ctx context.Context, fn func(*mpd.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnectedLocked(); err != nil {
		return err
	}
	return fn(c.client)
}

// Close closes the MPD connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watcher != nil {
		c.watcher.Close()
		c.watcher = nil
	}

	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// Ping checks if the connection is alive.
func (c *Client) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return ErrNotConnected
	}
	return c.client.Ping()
}

// Status returns the current MPD status of the partition.
func (c *Client) Status(ctx context.Context) (mpd.Attrs, error) {
	var attrs mpd.Attrs
	err := c.do(ctx, func(client *mpd.Client) error {
		var err error
		attrs, err = client.Status()
		return err
	})
	return attrs, err
}

// QueueLength returns the number of songs in the play queue.
func (c *Client) QueueLength(ctx context.Context) (int, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(status["playlistlength"])
	if err != nil {
		return 0, fmt.Errorf("invalid playlistlength %q: %w", status["playlistlength"], err)
	}
	return n, nil
}

// PlayerState returns "play", "pause" or "stop".
func (c *Client) PlayerState(ctx context.Context) (string, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return "", err
	}
	return status["state"], nil
}

// Queue returns the songs of the play queue.
func (c *Client) Queue(ctx context.Context) ([]song.Song, error) {
	var attrs []mpd.Attrs
	err := c.do(ctx, func(client *mpd.Client) error {
		var err error
		attrs, err = client.PlaylistInfo(-1, -1)
		return err
	})
	if err != nil {
		return nil, err
	}
	return songsFromAttrs(attrs), nil
}

// CurrentSong returns the current song; ok is false when the queue has
// no current song.
func (c *Client) CurrentSong(ctx context.Context) (song.Song, bool, error) {
	var attrs mpd.Attrs
	err := c.do(ctx, func(client *mpd.Client) error {
		var err error
		attrs, err = client.CurrentSong()
		return err
	})
	if err != nil {
		return song.Song{}, false, err
	}
	if attrs["file"] == "" {
		return song.Song{}, false, nil
	}
	return song.FromAttrs(attrs), true, nil
}

// Play starts playback at the current position.
func (c *Client) Play(ctx context.Context) error {
	return c.do(ctx, func(client *mpd.Client) error {
		return client.Play(-1)
	})
}

// AddURIAt inserts a song at pos and returns its queue id. A negative
// pos appends.
func (c *Client) AddURIAt(ctx context.Context, uri string, pos int) (int, error) {
	var id int
	err := c.do(ctx, func(client *mpd.Client) error {
		var err error
		id, err = client.AddID(uri, pos)
		return err
	})
	return id, err
}

// AddExpression appends every database song matching a filter expression.
func (c *Client) AddExpression(ctx context.Context, expression string) error {
	return c.do(ctx, func(client *mpd.Client) error {
		if err := client.Command("findadd %s", expression).OK(); err != nil {
			return fmt.Errorf("findadd %s: %w", expression, err)
		}
		return nil
	})
}

func songsFromAttrs(attrs []mpd.Attrs) []song.Song {
	songs := make([]song.Song, 0, len(attrs))
	for _, a := range attrs {
		if a["file"] == "" {
			continue
		}
		songs = append(songs, song.FromAttrs(a))
	}
	return songs
}
