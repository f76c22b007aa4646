package mpd

import (
	"context"
	"fmt"

	"github.com/fhs/gompd/v2/mpd"

	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
)

// allSongs matches every song of the database; songs without a known
// modification time carry 0 and still match.
const allSongs = "(modified-since '0')"

// Enumerate returns the records [start, end) of src. The database is paged
// with search windows; stored playlists are always read in full and sliced.
func (c *Client) Enumerate(ctx context.Context, src song.Source, start, end int) ([]song.Song, error) {
	var attrs []mpd.Attrs
	err := c.do(ctx, func(client *mpd.Client) error {
		var err error
		if src.IsDatabase() {
			attrs, err = searchWindow(client, start, end)
			return err
		}
		attrs, err = client.PlaylistContents(src.Playlist)
		if err != nil {
			return fmt.Errorf("list playlist %q: %w", src.Playlist, err)
		}
		attrs = sliceWindow(attrs, start, end)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return songsFromAttrs(attrs), nil
}

func searchWindow(client *mpd.Client, start, end int) ([]mpd.Attrs, error) {
	if end <= 0 {
		attrs, err := client.Command("search %s", allSongs).AttrsList("file")
		if err != nil {
			return nil, fmt.Errorf("search database: %w", err)
		}
		return attrs, nil
	}
	attrs, err := client.Command("search %s window %s", allSongs, mpd.Quoted(windowArg(start, end))).AttrsList("file")
	if err != nil {
		return nil, fmt.Errorf("search database window %s: %w", windowArg(start, end), err)
	}
	return attrs, nil
}

// windowArg formats a START:END range argument.
func windowArg(start, end int) string {
	if start < 0 {
		start = 0
	}
	return fmt.Sprintf("%d:%d", start, end)
}

// sliceWindow applies [start, end) to a full listing; end <= 0 keeps the
// tail.
func sliceWindow[T any](items []T, start, end int) []T {
	if start < 0 {
		start = 0
	}
	if end <= 0 || end > len(items) {
		end = len(items)
	}
	if start >= end {
		return nil
	}
	return items[start:end]
}

// ListPlaylists returns the names of the stored playlists.
func (c *Client) ListPlaylists(ctx context.Context) ([]string, error) {
	var attrs []mpd.Attrs
	err := c.do(ctx, func(client *mpd.Client) error {
		var err error
		attrs, err = client.ListPlaylists()
		return err
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(attrs))
	for _, a := range attrs {
		if name := a["playlist"]; name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
