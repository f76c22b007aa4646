package socketio

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/edumarques81/stellar-jukebox/internal/domain/albums"
	"github.com/edumarques81/stellar-jukebox/internal/domain/candidates"
	"github.com/edumarques81/stellar-jukebox/internal/domain/jukebox"
	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
)

var _ Jukebox = (*jukebox.Engine)(nil)

type emitted struct {
	event   string
	payload interface{}
}

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []emitted
	rooms  map[string]bool
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, rooms: make(map[string]bool)}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Emit(event string, v ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := emitted{event: event}
	if len(v) > 0 {
		e.payload = v[0]
	}
	c.events = append(c.events, e)
}

func (c *fakeConn) Join(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = true
}

func (c *fakeConn) Leave(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// last returns the payload of the most recent event named event.
func (c *fakeConn) last(t *testing.T, event string) interface{} {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].event == event {
			return c.events[i].payload
		}
	}
	t.Fatalf("no %s event emitted, got %+v", event, c.events)
	return nil
}

type fakeJukebox struct {
	partition    string
	settings     jukebox.Settings
	configured   []jukebox.Settings
	configureErr error
	pending      []candidates.Candidate
	added        int
	addErr       error
}

func newFakeJukebox(partition string) *fakeJukebox {
	return &fakeJukebox{partition: partition, settings: jukebox.DefaultSettings()}
}

func (f *fakeJukebox) Status(context.Context) (jukebox.Status, error) {
	return jukebox.Status{
		Partition: f.partition,
		Mode:      f.settings.Mode,
		State:     jukebox.StateIdle,
		Pending:   len(f.pending),
		LastFill:  time.Unix(1700000000, 0),
		Settings:  f.settings,
	}, nil
}

func (f *fakeJukebox) Configure(_ context.Context, s jukebox.Settings) error {
	if f.configureErr != nil {
		return f.configureErr
	}
	if err := s.Validate(); err != nil {
		return err
	}
	f.configured = append(f.configured, s)
	f.settings = s
	return nil
}

func (f *fakeJukebox) Pending(context.Context) ([]candidates.Candidate, error) {
	return append([]candidates.Candidate(nil), f.pending...), nil
}

func (f *fakeJukebox) Clear(context.Context) (int, error) {
	n := len(f.pending)
	f.pending = nil
	return n, nil
}

func (f *fakeJukebox) AddManual(_ context.Context, count int) (int, error) {
	if f.addErr != nil {
		return 0, f.addErr
	}
	f.added += count
	return count, nil
}

type handlerFixture struct {
	handlers  *Handlers
	clients   *ClientRegistry
	jukeboxes map[string]*fakeJukebox
	conn      *fakeConn
}

func newHandlerFixture(source AlbumSource) *handlerFixture {
	f := &handlerFixture{
		clients: NewClientRegistry(0),
		jukeboxes: map[string]*fakeJukebox{
			"default": newFakeJukebox("default"),
			"kitchen": newFakeJukebox("kitchen"),
		},
		conn: newFakeConn("client-1"),
	}
	lookup := func(p string) (Jukebox, bool) {
		j, ok := f.jukeboxes[p]
		return j, ok
	}
	f.handlers = NewHandlers(lookup, source, f.clients, "default", time.Second)
	f.clients.Add(f.conn, "127.0.0.1", "default")
	return f
}

func TestHandleStatusDefaultPartition(t *testing.T) {
	f := newHandlerFixture(nil)

	f.handlers.HandleStatus(f.conn, nil)

	st := f.conn.last(t, EventPushJukeboxStatus).(StatusPayload)
	if st.Partition != "default" || st.State != "idle" || st.Error != "" {
		t.Errorf("unexpected status %+v", st)
	}
	if st.LastFill != 1700000000 {
		t.Errorf("expected unix last fill, got %d", st.LastFill)
	}
	if st.Settings.Mode != "off" || st.Settings.LastPlayedHours != 24 || st.Settings.UniqueTag != "Album" {
		t.Errorf("unexpected settings %+v", st.Settings)
	}
}

func TestHandleStatusUnknownPartition(t *testing.T) {
	f := newHandlerFixture(nil)

	f.handlers.HandleStatus(f.conn, map[string]interface{}{"partition": "garage"})

	st := f.conn.last(t, EventPushJukeboxStatus).(StatusPayload)
	if !strings.Contains(st.Error, "unknown partition") {
		t.Errorf("expected unknown partition error, got %+v", st)
	}
}

func TestHandleJoinSwitchesRoom(t *testing.T) {
	f := newHandlerFixture(nil)
	f.conn.Join(RoomName("default"))

	f.handlers.HandleJoin(f.conn, map[string]interface{}{"partition": "kitchen"})

	if f.conn.rooms[RoomName("default")] || !f.conn.rooms[RoomName("kitchen")] {
		t.Errorf("expected to follow only kitchen, rooms %v", f.conn.rooms)
	}
	if st := f.conn.last(t, EventPushJukeboxStatus).(StatusPayload); st.Partition != "kitchen" {
		t.Errorf("expected kitchen status, got %+v", st)
	}

	// Requests without a partition now address kitchen
	f.handlers.HandleAdd(f.conn, map[string]interface{}{"count": float64(2)})
	if f.jukeboxes["kitchen"].added != 2 || f.jukeboxes["default"].added != 0 {
		t.Error("add should have gone to the followed partition")
	}
}

func TestHandleJoinUnknownPartition(t *testing.T) {
	f := newHandlerFixture(nil)

	f.handlers.HandleJoin(f.conn, map[string]interface{}{"partition": "garage"})

	if len(f.conn.rooms) != 0 {
		t.Errorf("client should not join an unknown partition, rooms %v", f.conn.rooms)
	}
	if p, _ := f.clients.Partition(f.conn.ID()); p != "default" {
		t.Errorf("followed partition should be unchanged, got %q", p)
	}
}

func TestHandleConfigureOverlaysSettings(t *testing.T) {
	f := newHandlerFixture(nil)

	f.handlers.HandleConfigure(f.conn, map[string]interface{}{
		"mode":            "songs",
		"queueLength":     float64(5),
		"uniqueTag":       "artist",
		"minDuration":     float64(90),
		"lastPlayedHours": float64(48),
		"include":         `(Genre == "Jazz")`,
		"autoplay":        true,
	})

	j := f.jukeboxes["default"]
	if len(j.configured) != 1 {
		t.Fatalf("expected one Configure call, got %d", len(j.configured))
	}
	s := j.configured[0]
	if s.Mode != jukebox.ModeSongs || s.QueueLength != 5 || s.UniqueTag != song.TagArtist {
		t.Errorf("unexpected settings %+v", s)
	}
	if s.MinDuration != 90*time.Second || s.LastPlayed != 48*time.Hour || !s.Autoplay {
		t.Errorf("unexpected durations %+v", s)
	}
	if s.SongPolicy != jukebox.DefaultSettings().SongPolicy {
		t.Errorf("refill marks should survive a reconfigure, got %+v", s.SongPolicy)
	}

	st := f.conn.last(t, EventPushJukeboxStatus).(StatusPayload)
	if st.Error != "" || st.Settings.Mode != "songs" || st.Settings.MinDuration != 90 {
		t.Errorf("unexpected status after configure %+v", st)
	}
}

func TestHandleConfigureRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]interface{}
		want    string
	}{
		{"mode", map[string]interface{}{"mode": "radio"}, "unknown jukebox mode"},
		{"unique tag", map[string]interface{}{"uniqueTag": "Colour"}, "unknown unique tag"},
		{"expression", map[string]interface{}{"include": "(Artist =="}, "include"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(nil)
			f.handlers.HandleConfigure(f.conn, tt.payload)

			if n := len(f.jukeboxes["default"].configured); n != 0 {
				t.Errorf("expected no applied settings, got %d", n)
			}
			st := f.conn.last(t, EventPushJukeboxStatus).(StatusPayload)
			if !strings.Contains(st.Error, tt.want) {
				t.Errorf("expected error mentioning %q, got %q", tt.want, st.Error)
			}
		})
	}
}

func TestHandleAdd(t *testing.T) {
	f := newHandlerFixture(nil)

	f.handlers.HandleAdd(f.conn, map[string]interface{}{"count": float64(0)})
	if resp := f.conn.last(t, EventPushJukeboxAdded).(CountPayload); resp.Error == "" {
		t.Error("expected an error for a zero count")
	}

	f.handlers.HandleAdd(f.conn, map[string]interface{}{"count": float64(3)})
	if resp := f.conn.last(t, EventPushJukeboxAdded).(CountPayload); resp.Count != 3 || resp.Error != "" {
		t.Errorf("unexpected add response %+v", resp)
	}

	f.jukeboxes["default"].addErr = errors.New("fill failed")
	f.handlers.HandleAdd(f.conn, map[string]interface{}{"count": float64(3)})
	if resp := f.conn.last(t, EventPushJukeboxAdded).(CountPayload); resp.Error != "fill failed" {
		t.Errorf("expected the fill error, got %+v", resp)
	}
}

func TestHandlePendingAndClear(t *testing.T) {
	cat := &albumCatalog{songs: []song.Song{
		albumSong("a/1.flac", "Ayo", "Joyful"),
		albumSong("a/2.flac", "Ayo", "Joyful"),
	}}
	view, err := albums.Build(context.Background(), cat, albums.BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	var album *albums.Album
	for _, a := range view.Iterate(albums.ByKey(), false) {
		album = a
	}

	f := newHandlerFixture(nil)
	f.jukeboxes["default"].pending = []candidates.Candidate{
		{Key: "x/1.flac", Weight: 3, TagValue: "X"},
		{Key: album.Key, Weight: 1, Album: album},
	}

	f.handlers.HandlePending(f.conn, nil)
	resp := f.conn.last(t, EventPushJukeboxPending).(PendingPayload)
	if len(resp.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %+v", resp)
	}
	if resp.Candidates[0].Album || resp.Candidates[0].Weight != 3 {
		t.Errorf("unexpected song candidate %+v", resp.Candidates[0])
	}
	if c := resp.Candidates[1]; !c.Album || c.Title != "Joyful" || c.Artist != "Ayo" {
		t.Errorf("unexpected album candidate %+v", c)
	}

	f.handlers.HandleClear(f.conn, nil)
	if cleared := f.conn.last(t, EventPushJukeboxCleared).(CountPayload); cleared.Count != 2 {
		t.Errorf("expected 2 cleared, got %+v", cleared)
	}
	f.handlers.HandlePending(f.conn, nil)
	if resp := f.conn.last(t, EventPushJukeboxPending).(PendingPayload); len(resp.Candidates) != 0 || resp.Candidates == nil {
		t.Errorf("expected an empty, non-nil candidate list, got %+v", resp.Candidates)
	}
}

type albumCatalog struct {
	songs []song.Song
}

func (c *albumCatalog) Enumerate(_ context.Context, _ song.Source, start, end int) ([]song.Song, error) {
	if end <= 0 || end > len(c.songs) {
		end = len(c.songs)
	}
	if start >= end {
		return nil, nil
	}
	return c.songs[start:end], nil
}

func albumSong(uri, artist, album string) song.Song {
	return song.Song{
		Path: uri,
		TagValues: map[song.Tag][]string{
			song.TagArtist: {artist},
			song.TagAlbum:  {album},
		},
		Length: 3 * time.Minute,
	}
}

func TestHandleAlbums(t *testing.T) {
	cache := albums.NewCache(albums.BuildOptions{PageSize: 2})
	cat := &albumCatalog{songs: []song.Song{
		albumSong("c/1.flac", "Coltrane", "Ballads"),
		albumSong("c/2.flac", "Coltrane", "Ballads"),
		albumSong("a/1.flac", "Adderley", "Somethin' Else"),
		albumSong("m/1.flac", "Monk", "Brilliant Corners"),
	}}

	f := newHandlerFixture(cache)

	f.handlers.HandleAlbums(f.conn, nil)
	if resp := f.conn.last(t, EventPushAlbums).(AlbumsPayload); !strings.Contains(resp.Error, "not built") {
		t.Errorf("expected not built error, got %+v", resp)
	}

	if _, err := cache.Rebuild(context.Background(), cat); err != nil {
		t.Fatal(err)
	}

	f.handlers.HandleAlbums(f.conn, map[string]interface{}{"page": float64(1), "limit": float64(2)})
	resp := f.conn.last(t, EventPushAlbums).(AlbumsPayload)
	if resp.Error != "" {
		t.Fatalf("unexpected error %s", resp.Error)
	}
	if resp.Pagination.Total != 3 || len(resp.Albums) != 2 {
		t.Fatalf("expected 2 of 3 albums, got %+v", resp)
	}
	if resp.Albums[0].Artist != "Adderley" || resp.Albums[1].Title != "Ballads" {
		t.Errorf("unexpected key order %+v", resp.Albums)
	}
	if resp.Albums[1].Songs != 2 || resp.Albums[1].Duration != 360 || resp.Albums[1].Expression == "" {
		t.Errorf("unexpected album summary %+v", resp.Albums[1])
	}

	f.handlers.HandleAlbums(f.conn, map[string]interface{}{"page": float64(2), "limit": float64(2)})
	if resp := f.conn.last(t, EventPushAlbums).(AlbumsPayload); len(resp.Albums) != 1 || resp.Albums[0].Artist != "Monk" {
		t.Errorf("unexpected second page %+v", resp.Albums)
	}

	f.handlers.HandleAlbums(f.conn, map[string]interface{}{"sort": "Album", "desc": true})
	if resp := f.conn.last(t, EventPushAlbums).(AlbumsPayload); len(resp.Albums) != 3 || resp.Albums[0].Title != "Somethin' Else" {
		t.Errorf("unexpected descending album order %+v", resp.Albums)
	}

	f.handlers.HandleAlbums(f.conn, map[string]interface{}{"sort": "Colour"})
	if resp := f.conn.last(t, EventPushAlbums).(AlbumsPayload); resp.Error == "" {
		t.Error("expected an error for an unknown sort order")
	}
}
