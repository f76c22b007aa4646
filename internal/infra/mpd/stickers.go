package mpd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"
)

// Stickers stores annotations in MPD's sticker database. Values are
// integers; timestamps are unix seconds.
type Stickers struct {
	client *Client
}

// NewStickers returns an annotation store backed by client's stickers.
func NewStickers(client *Client) *Stickers {
	return &Stickers{client: client}
}

// GetInt returns the sticker name of uri.
func (s *Stickers) GetInt(ctx context.Context, uri, name string) (int64, bool, error) {
	var value int64
	var found bool
	err := s.client.do(ctx, func(client *mpd.Client) error {
		sticker, err := client.StickerGet(uri, name)
		if isNoExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("sticker get %s %s: %w", uri, name, err)
		}
		value, found = parseStickerInt(sticker.Value)
		return nil
	})
	return value, found, err
}

// IntSet returns every URI carrying sticker name.
func (s *Stickers) IntSet(ctx context.Context, name string) (map[string]int64, error) {
	files, stickers, err := s.find(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(files))
	for i, file := range files {
		if v, ok := parseStickerInt(stickers[i].Value); ok {
			out[file] = v
		}
	}
	return out, nil
}

// RecencySet returns every URI carrying the timestamp sticker name.
func (s *Stickers) RecencySet(ctx context.Context, name string) (map[string]time.Time, error) {
	values, err := s.IntSet(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(values))
	for uri, v := range values {
		out[uri] = time.Unix(v, 0)
	}
	return out, nil
}

// Set writes sticker name of uri.
func (s *Stickers) Set(ctx context.Context, uri, name string, value int64) error {
	return s.client.do(ctx, func(client *mpd.Client) error {
		if err := client.StickerSet(uri, name, strconv.FormatInt(value, 10)); err != nil {
			return fmt.Errorf("sticker set %s %s: %w", uri, name, err)
		}
		return nil
	})
}

// Increment adds delta to sticker name of uri, starting from 0. The read
// and write share the client lock so concurrent increments through the
// same client do not lose updates.
func (s *Stickers) Increment(ctx context.Context, uri, name string, delta int64) error {
	return s.client.do(ctx, func(client *mpd.Client) error {
		var current int64
		sticker, err := client.StickerGet(uri, name)
		switch {
		case isNoExist(err):
		case err != nil:
			return fmt.Errorf("sticker get %s %s: %w", uri, name, err)
		default:
			current, _ = parseStickerInt(sticker.Value)
		}
		if err := client.StickerSet(uri, name, strconv.FormatInt(current+delta, 10)); err != nil {
			return fmt.Errorf("sticker set %s %s: %w", uri, name, err)
		}
		return nil
	})
}

func (s *Stickers) find(ctx context.Context, name string) ([]string, []mpd.Sticker, error) {
	var files []string
	var stickers []mpd.Sticker
	err := s.client.do(ctx, func(client *mpd.Client) error {
		var err error
		files, stickers, err = client.StickerFind("", name)
		if isNoExist(err) {
			files, stickers = nil, nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("sticker find %s: %w", name, err)
		}
		return nil
	})
	if len(files) != len(stickers) {
		log.Warn().Int("files", len(files)).Int("stickers", len(stickers)).Str("name", name).Msg("Mismatched sticker find response")
		n := min(len(files), len(stickers))
		files, stickers = files[:n], stickers[:n]
	}
	return files, stickers, err
}

// isNoExist reports MPD's ACK [50] answer to a missing sticker.
func isNoExist(err error) bool {
	if err == nil {
		return false
	}
	var mpdErr *mpd.Error
	if errors.As(err, &mpdErr) {
		return mpdErr.Code == mpd.ErrorNoExist
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such sticker")
}

func parseStickerInt(value string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
