package jukebox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edumarques81/stellar-jukebox/internal/domain/albums"
	"github.com/edumarques81/stellar-jukebox/internal/domain/candidates"
	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
	"github.com/edumarques81/stellar-jukebox/internal/infra/worker"
)

type albumCatalog struct {
	songs []song.Song
	err   error
	// listed runs once after the next listing was served.
	listed func()
}

func (c *albumCatalog) Enumerate(_ context.Context, _ song.Source, start, end int) ([]song.Song, error) {
	if c.err != nil {
		return nil, c.err
	}
	if end <= 0 || end > len(c.songs) {
		end = len(c.songs)
	}
	if start >= end {
		return nil, nil
	}
	page := c.songs[start:end]
	if hook := c.listed; hook != nil {
		c.listed = nil
		hook()
	}
	return page, nil
}

func albumSong(uri, artist, album string) song.Song {
	return song.Song{
		Path: uri,
		TagValues: map[song.Tag][]string{
			song.TagArtist: {artist},
			song.TagAlbum:  {album},
		},
		Length: 3 * time.Minute,
		ID:     -1,
	}
}

func albumCandidates(t *testing.T, cat song.Catalog) []candidates.Candidate {
	t.Helper()
	view, err := albums.Build(context.Background(), cat, albums.BuildOptions{})
	if err != nil {
		t.Fatalf("build album view: %v", err)
	}
	var out []candidates.Candidate
	for key, a := range view.Iterate(albums.ByKey(), false) {
		out = append(out, candidates.Candidate{Key: key, Weight: 1, Album: a})
	}
	return out
}

func threeAlbums() *albumCatalog {
	return &albumCatalog{songs: []song.Song{
		albumSong("a1.flac", "Artist A", "First"),
		albumSong("a2.flac", "Artist A", "First"),
		albumSong("b1.flac", "Artist B", "Second"),
		albumSong("c1.flac", "Artist C", "Third"),
	}}
}

func newTestEngine(t *testing.T, partition string, settings Settings, player Player, filler Filler, sub Submitter) *Engine {
	t.Helper()
	e, err := NewEngine(Config{
		Partition: partition,
		Player:    player,
		Filler:    filler,
		Submitter: sub,
		Notifier:  &mockNotifier{},
	}, settings)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestManagerRegistration(t *testing.T) {
	m := NewManager(albums.NewCache(albums.BuildOptions{}), threeAlbums(), &deferredSubmitter{}, nil)
	filler := &mockFiller{fill: fixedFill(0)}

	for _, name := range []string{"kitchen", "default"} {
		if err := m.Add(newTestEngine(t, name, DefaultSettings(), &MockPlayer{}, filler, &deferredSubmitter{})); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}
	if err := m.Add(newTestEngine(t, "default", DefaultSettings(), &MockPlayer{}, filler, &deferredSubmitter{})); err == nil {
		t.Error("duplicate partition should be rejected")
	}

	got := m.Partitions()
	if len(got) != 2 || got[0] != "default" || got[1] != "kitchen" {
		t.Errorf("unexpected partitions %v", got)
	}
	if _, ok := m.Engine("garage"); ok {
		t.Error("unknown partition should not resolve")
	}
}

func TestManagerRebuildOnDatabaseEvent(t *testing.T) {
	cache := albums.NewCache(albums.BuildOptions{})
	sub := &deferredSubmitter{}
	var rebuilt *albums.View
	m := NewManager(cache, threeAlbums(), sub, func(v *albums.View, err error) {
		if err != nil {
			t.Errorf("rebuild failed: %v", err)
		}
		rebuilt = v
	})

	m.HandleEvent("default", "database")
	if len(sub.tasks) != 1 || sub.tasks[0].Kind != worker.KindAlbumRebuild {
		t.Fatalf("expected one album rebuild task, got %+v", sub.tasks)
	}
	if err := sub.tasks[0].Run(context.Background()); err != nil {
		t.Fatalf("rebuild task: %v", err)
	}

	if rebuilt == nil || rebuilt.Len() != 3 {
		t.Fatalf("expected a view of 3 albums, got %v", rebuilt)
	}
	if _, err := cache.Current(); err != nil {
		t.Errorf("view should be published: %v", err)
	}
	select {
	case <-m.rebuilt:
	default:
		t.Error("first rebuild should release waiting engines")
	}
}

func TestManagerRebuildsAgainAfterChangeDuringRebuild(t *testing.T) {
	cache := albums.NewCache(albums.BuildOptions{})
	cat := threeAlbums()
	sub := &deferredSubmitter{}
	var sizes []int
	m := NewManager(cache, cat, sub, func(v *albums.View, err error) {
		if err != nil {
			t.Errorf("rebuild failed: %v", err)
			return
		}
		sizes = append(sizes, v.Len())
	})

	m.HandleEvent("default", "database")
	m.HandleEvent("default", "database")
	if len(sub.tasks) != 1 {
		t.Fatalf("a queued rebuild should cover later events, got %d tasks", len(sub.tasks))
	}

	// The database changes after the running pass has listed its tracks.
	cat.listed = func() {
		cat.songs = append(cat.songs, albumSong("d1.flac", "Artist D", "Fourth"))
		m.HandleEvent("default", "database")
	}
	if err := sub.tasks[0].Run(context.Background()); err != nil {
		t.Fatalf("rebuild task: %v", err)
	}
	if len(sub.tasks) != 2 {
		t.Fatalf("expected a follow-up rebuild, got %d tasks", len(sub.tasks))
	}
	if err := sub.tasks[1].Run(context.Background()); err != nil {
		t.Fatalf("follow-up rebuild: %v", err)
	}
	if len(sub.tasks) != 2 {
		t.Errorf("no further rebuild expected, got %d tasks", len(sub.tasks))
	}

	if len(sizes) != 2 || sizes[0] != 3 || sizes[1] != 4 {
		t.Errorf("expected views of 3 then 4 albums, got %v", sizes)
	}
	view, err := cache.Current()
	if err != nil || view.Len() != 4 {
		t.Errorf("published view should include the change, got %v", err)
	}
}

func TestManagerRebuildFailureKeepsView(t *testing.T) {
	cache := albums.NewCache(albums.BuildOptions{})
	cat := threeAlbums()
	sub := &deferredSubmitter{}
	var lastErr error
	m := NewManager(cache, cat, sub, func(_ *albums.View, err error) { lastErr = err })

	if err := m.RequestRebuild(); err != nil {
		t.Fatalf("RequestRebuild: %v", err)
	}
	_ = sub.tasks[0].Run(context.Background())

	cat.err = errors.New("connection refused")
	if err := m.RequestRebuild(); err != nil {
		t.Fatalf("RequestRebuild: %v", err)
	}
	if err := sub.tasks[1].Run(context.Background()); err == nil {
		t.Error("expected rebuild error")
	}
	if lastErr == nil {
		t.Error("observer should see the failure")
	}
	view, err := cache.Current()
	if err != nil || view.Len() != 3 {
		t.Errorf("previous view should stay published, got %v", err)
	}
}

func TestManagerRoutesQueueEvents(t *testing.T) {
	m := NewManager(albums.NewCache(albums.BuildOptions{}), threeAlbums(), &deferredSubmitter{}, nil)
	e := newTestEngine(t, "default", DefaultSettings(), &MockPlayer{}, &mockFiller{fill: fixedFill(0)}, &deferredSubmitter{})
	if err := m.Add(e); err != nil {
		t.Fatal(err)
	}

	m.HandleEvent("default", "playlist")
	m.HandleEvent("other", "player")
	m.HandleEvent("default", "mixer")

	if len(e.inbox) != 1 {
		t.Fatalf("expected one routed event, got %d", len(e.inbox))
	}
	if msg, ok := (<-e.inbox).(eventMsg); !ok || msg.subsystem != "playlist" {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestManagerRunAlbumMode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cat := threeAlbums()
	cache := albums.NewCache(albums.BuildOptions{})
	builder := candidates.NewBuilder(cat, cache, nil)
	sub := inlineSubmitter{}
	m := NewManager(cache, cat, sub, nil)

	settings := DefaultSettings()
	settings.Mode = ModeAlbums
	settings.QueueLength = 2
	player := &MockPlayer{State: "stop", AlbumSize: 1}
	e := newTestEngine(t, "default", settings, player, builder, sub)
	if err := m.Add(e); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	var st Status
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var err error
		st, err = e.Status(ctx)
		if err == nil && !st.LastFill.IsZero() && st.State != StateFilling {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if st.State != StateIdle {
		t.Fatalf("expected idle engine, got %s (%s)", st.State, st.LastError)
	}
	if len(player.Expressions) != 2 {
		t.Errorf("expected 2 albums queued, got %d", len(player.Expressions))
	}
	if st.Pending != 1 {
		t.Errorf("expected 1 album pending, got %d", st.Pending)
	}
}
