package albums

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/edumarques81/stellar-jukebox/internal/domain/expr"
	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
)

// fakeCatalog serves tracks in pages and can fail at a given offset.
type fakeCatalog struct {
	tracks  []song.Song
	failAt  int
	calls   int
	lastEnd int
	// window is "" to honour start/end, "start" to ignore start and
	// "all" to ignore both.
	window string
}

func (f *fakeCatalog) Enumerate(_ context.Context, _ song.Source, start, end int) ([]song.Song, error) {
	f.calls++
	f.lastEnd = end
	if f.failAt >= 0 && start >= f.failAt {
		return nil, errors.New("connection reset")
	}
	switch f.window {
	case "start":
		end -= start
		start = 0
	case "all":
		start, end = 0, 0
	}
	if end <= 0 || end > len(f.tracks) {
		end = len(f.tracks)
	}
	if start >= end {
		return nil, nil
	}
	return f.tracks[start:end], nil
}

func track(uri, artist, album string, seconds int, disc string) song.Song {
	tags := map[song.Tag][]string{song.TagAlbumArtist: {artist}}
	if album != "" {
		tags[song.TagAlbum] = []string{album}
	}
	if disc != "" {
		tags[song.TagDisc] = []string{disc}
	}
	return song.Song{Path: uri, TagValues: tags, Length: time.Duration(seconds) * time.Second, ID: -1}
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{failAt: -1, tracks: []song.Song{
		track("neubauten/tabula/01.flac", "Einstürzende Neubauten", "Tabula Rasa", 300, "1"),
		track("neubauten/tabula/02.flac", "Einstürzende Neubauten", "Tabula Rasa", 200, "1"),
		track("neubauten/halber/01.flac", "Einstürzende Neubauten", "Halber Mensch", 250, "1/2"),
		track("neubauten/halber/02.flac", "Einstürzende Neubauten", "Halber Mensch", 250, "2/2"),
		track("cave/henry/01.flac", "Nick Cave", "Henry's Dream", 400, ""),
		track("misc/loose.flac", "Nobody", "", 100, ""),
	}}
}

func seeded() BuildOptions {
	return BuildOptions{PageSize: 2, Rand: rand.New(rand.NewPCG(1, 2))}
}

func TestBuildAggregates(t *testing.T) {
	cat := testCatalog()
	view, err := Build(context.Background(), cat, seeded())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if view.Len() != 3 {
		t.Fatalf("expected 3 albums, got %d", view.Len())
	}
	if view.Songs() != 5 {
		t.Errorf("tracks without album should be skipped, got %d songs", view.Songs())
	}

	a, err := view.Get("Einstürzende Neubauten::Halber Mensch")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if a.Songs != 2 || a.Length != 500*time.Second || a.Discs != 2 {
		t.Errorf("unexpected aggregate: songs=%d length=%v discs=%d", a.Songs, a.Length, a.Discs)
	}
	if a.FirstURI != "neubauten/halber/01.flac" {
		t.Errorf("expected first seen uri, got %q", a.FirstURI)
	}

	// 6 tracks with a window of 2: pages of 2, 2, 2 and a final empty one.
	if cat.calls != 4 {
		t.Errorf("expected 4 catalog calls, got %d", cat.calls)
	}
}

func TestBuildFullListing(t *testing.T) {
	cat := testCatalog()
	view, err := Build(context.Background(), cat, BuildOptions{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if cat.calls != 1 || cat.lastEnd != 0 {
		t.Errorf("expected one full listing, got %d calls", cat.calls)
	}
	if view.Len() != 3 {
		t.Errorf("expected 3 albums, got %d", view.Len())
	}
}

func TestBuildStopsWhenCatalogIgnoresWindow(t *testing.T) {
	tests := []struct {
		window    string
		wantCalls int
		wantSongs int
	}{
		{"start", 2, 2},
		{"all", 1, 5},
	}

	for _, tt := range tests {
		t.Run(tt.window, func(t *testing.T) {
			cat := testCatalog()
			cat.window = tt.window

			view, err := Build(context.Background(), cat, seeded())
			if err != nil {
				t.Fatal(err)
			}
			if cat.calls != tt.wantCalls {
				t.Errorf("expected %d catalog calls, got %d", tt.wantCalls, cat.calls)
			}
			if view.Songs() != tt.wantSongs {
				t.Errorf("expected %d songs, got %d", tt.wantSongs, view.Songs())
			}
		})
	}
}

func TestGetNotFound(t *testing.T) {
	view, _ := Build(context.Background(), testCatalog(), seeded())
	if _, err := view.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	cat := testCatalog()
	first, err := Build(context.Background(), cat, seeded())
	if err != nil {
		t.Fatal(err)
	}
	second, err := Build(context.Background(), cat, BuildOptions{PageSize: 3})
	if err != nil {
		t.Fatal(err)
	}

	if first.Len() != second.Len() {
		t.Fatalf("album count changed: %d vs %d", first.Len(), second.Len())
	}
	for key, a := range first.Iterate(ByKey(), false) {
		b, err := second.Get(key)
		if err != nil {
			t.Fatalf("album %q missing from second build", key)
		}
		if a.Songs != b.Songs || a.Length != b.Length || a.Discs != b.Discs {
			t.Errorf("album %q differs between builds", key)
		}
	}
}

func TestCollisionGetsSuffix(t *testing.T) {
	a := track("x/1.flac", "Various", "Greatest Hits", 100, "")
	a.TagValues[song.TagMusicBrainzAlbumID] = []string{"mbid-1"}
	b := track("y/1.flac", "Various", "Greatest Hits", 200, "")
	b.TagValues[song.TagMusicBrainzAlbumID] = []string{"mbid-2"}
	c := track("x/2.flac", "Various", "Greatest Hits", 300, "")
	c.TagValues[song.TagMusicBrainzAlbumID] = []string{"mbid-1"}

	cat := &fakeCatalog{failAt: -1, tracks: []song.Song{a, b, c}}
	view, err := Build(context.Background(), cat, seeded())
	if err != nil {
		t.Fatal(err)
	}
	if view.Len() != 2 {
		t.Fatalf("expected 2 albums, got %d", view.Len())
	}

	first, err := view.Get("Various::Greatest Hits")
	if err != nil {
		t.Fatal(err)
	}
	if first.Songs != 2 || first.Length != 400*time.Second {
		t.Errorf("tracks of the first album should merge, got %d songs", first.Songs)
	}

	for key, album := range view.Iterate(ByKey(), false) {
		if album.BaseKey != "Various::Greatest Hits" {
			t.Errorf("unexpected base key %q", album.BaseKey)
		}
		if key != first.Key && album.FirstURI != "y/1.flac" {
			t.Errorf("suffixed album should hold the second release, got %q", album.FirstURI)
		}
	}
}

func TestResolveCollision(t *testing.T) {
	rnd := rand.New(rand.NewPCG(7, 7))
	existing := map[string]bool{"a::b": true}
	taken := func(k string) bool { return existing[k] }

	if got := ResolveCollision(taken, "a::c", rnd); got != "a::c" {
		t.Errorf("free key should be unchanged, got %q", got)
	}

	// Occupy every one character suffix so resolution must grow further.
	for i := 0; i < len(suffixChars); i++ {
		existing["a::b::"+string(suffixChars[i])] = true
	}
	got := ResolveCollision(taken, "a::b", rnd)
	if existing[got] {
		t.Fatalf("resolved key %q is taken", got)
	}
	if len(got) != len("a::b::")+2 {
		t.Errorf("expected a two character suffix, got %q", got)
	}
}

func TestIterateOrders(t *testing.T) {
	cat := testCatalog()
	cat.tracks[4].TagValues[song.TagDate] = []string{"1992"}
	cat.tracks[0].TagValues[song.TagDate] = []string{"2000"}
	cat.tracks[2].TagValues[song.TagDate] = []string{"985"}
	cat.tracks[4].AddedAt = time.Unix(3000, 0)
	cat.tracks[0].AddedAt = time.Unix(1000, 0)
	cat.tracks[2].AddedAt = time.Unix(2000, 0)

	view, err := Build(context.Background(), cat, seeded())
	if err != nil {
		t.Fatal(err)
	}

	titles := func(order Order, desc bool) []string {
		var out []string
		for _, a := range view.Iterate(order, desc) {
			out = append(out, a.Title())
		}
		return out
	}

	tests := []struct {
		name  string
		order Order
		desc  bool
		want  []string
	}{
		{"key", ByKey(), false, []string{"Halber Mensch", "Tabula Rasa", "Henry's Dream"}},
		{"key desc", ByKey(), true, []string{"Henry's Dream", "Tabula Rasa", "Halber Mensch"}},
		{"date numeric", ByTag(song.TagDate, song.TagNone), false, []string{"Halber Mensch", "Henry's Dream", "Tabula Rasa"}},
		{"added desc", ByAdded(song.TagNone), true, []string{"Henry's Dream", "Halber Mensch", "Tabula Rasa"}},
		{"album folded", ByTag(song.TagAlbum, song.TagNone), false, []string{"Halber Mensch", "Henry's Dream", "Tabula Rasa"}},
	}

	for _, tt := range tests {
		got := titles(tt.order, tt.desc)
		if len(got) != len(tt.want) {
			t.Fatalf("%s: got %v", tt.name, got)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
				break
			}
		}
	}

	// The sequence restarts on every range.
	if a, b := titles(ByAdded(song.TagNone), false), titles(ByAdded(song.TagNone), false); a[0] != b[0] {
		t.Error("iteration is not restartable")
	}
}

func TestList(t *testing.T) {
	view, _ := Build(context.Background(), testCatalog(), seeded())
	page := view.List(ByKey(), false, 1, 1)
	if len(page) != 1 || page[0].Title() != "Tabula Rasa" {
		t.Errorf("unexpected page %v", page)
	}
	if all := view.List(ByKey(), false, 0, 0); len(all) != 3 {
		t.Errorf("expected all albums, got %d", len(all))
	}
}

func TestAlbumExpressionMatchesMembers(t *testing.T) {
	cat := testCatalog()
	view, _ := Build(context.Background(), cat, seeded())
	a, err := view.Get("Nick Cave::Henry's Dream")
	if err != nil {
		t.Fatal(err)
	}

	e, err := expr.Parse(a.Expression())
	if err != nil {
		t.Fatalf("album expression does not parse: %v (%s)", err, a.Expression())
	}
	for _, tr := range cat.tracks {
		want := song.First(tr, song.TagAlbum) == "Henry's Dream"
		if e.Match(tr) != want {
			t.Errorf("%s: match should be %v", tr.Path, want)
		}
	}
}

func TestAlbumExpressionWithoutArtists(t *testing.T) {
	untagged := song.Song{Path: "rips/01.flac", TagValues: map[song.Tag][]string{song.TagAlbum: {"Greatest Hits"}}, ID: -1}
	byArtist := song.Song{Path: "queen/01.flac", TagValues: map[song.Tag][]string{
		song.TagAlbum: {"Greatest Hits"}, song.TagArtist: {"Queen"},
	}, ID: -1}
	byAlbumArtist := track("abba/01.flac", "ABBA", "Greatest Hits", 200, "")
	cat := &fakeCatalog{failAt: -1, tracks: []song.Song{untagged, byArtist, byAlbumArtist}}

	view, err := Build(context.Background(), cat, seeded())
	if err != nil {
		t.Fatal(err)
	}
	if view.Len() != 3 {
		t.Fatalf("expected 3 albums, got %d", view.Len())
	}

	for key, a := range view.Iterate(ByKey(), false) {
		e, err := expr.Parse(a.Expression())
		if err != nil {
			t.Fatalf("%s: expression does not parse: %v (%s)", key, err, a.Expression())
		}
		matched := 0
		for _, tr := range cat.tracks {
			if e.Match(tr) {
				matched++
				if tr.Path != a.FirstURI {
					t.Errorf("%s: expression %s also matches %s", key, a.Expression(), tr.Path)
				}
			}
		}
		if matched != 1 {
			t.Errorf("%s: expected exactly its own track, matched %d", key, matched)
		}
	}
}

func TestCacheKeepsPreviousViewOnFailure(t *testing.T) {
	c := NewCache(seeded())
	if _, err := c.Current(); !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("expected ErrNotBuilt, got %v", err)
	}

	cat := testCatalog()
	first, err := c.Rebuild(context.Background(), cat)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if first.Generation() != 1 {
		t.Errorf("expected generation 1, got %d", first.Generation())
	}

	cat.failAt = 2
	if _, err := c.Rebuild(context.Background(), cat); err == nil {
		t.Fatal("expected rebuild to fail")
	}

	current, err := c.Current()
	if err != nil {
		t.Fatal(err)
	}
	if current != first {
		t.Error("failed rebuild replaced the published view")
	}
	if c.Building() {
		t.Error("building flag should be cleared")
	}
}
