// Package albums aggregates per-track records into an ordered, key
// addressable view of albums that is rebuilt in the background and
// published atomically.
package albums

import (
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/edumarques81/stellar-jukebox/internal/domain/expr"
	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
)

var (
	// ErrNotFound is returned when an album key is not in the view.
	ErrNotFound = errors.New("album not found")
	// ErrNotBuilt is returned when no view has been published yet.
	ErrNotBuilt = errors.New("album view not built")
	// ErrRebuildInProgress is returned when a rebuild is already running.
	ErrRebuildInProgress = errors.New("album view rebuild already in progress")
)

// keySep separates the components of an album key.
const keySep = "::"

// seedTags are copied from the first track of an album.
var seedTags = []song.Tag{
	song.TagAlbum, song.TagAlbumSort, song.TagAlbumArtist, song.TagAlbumArtistSort,
	song.TagArtist, song.TagArtistSort, song.TagDate, song.TagOriginalDate,
	song.TagGenre, song.TagLabel, song.TagComposer, song.TagGrouping,
	song.TagMusicBrainzAlbumID, song.TagMusicBrainzAlbumArtistID,
	song.TagMusicBrainzReleaseGroupID,
}

// Album is a synthetic record summarizing every track of one album.
// It satisfies song.Record so the filter language and the candidate
// builder can treat it like a song.
type Album struct {
	Key      string
	BaseKey  string
	FirstURI string
	Songs    int
	Discs    int
	Length   time.Duration
	LastMod  time.Time
	AddedAt  time.Time
	Prio     int
	Format   string

	// artistTag is AlbumArtist, or Artist for albums without one.
	artistTag song.Tag
	grouping  song.Tag
	tags      map[song.Tag][]string
}

// URI returns the first track seen for the album.
func (a *Album) URI() string { return a.FirstURI }

// Values returns the tag values taken from the album's first track.
func (a *Album) Values(tag song.Tag) []string { return a.tags[tag] }

// Duration returns the summed length of all tracks.
func (a *Album) Duration() time.Duration { return a.Length }

// Priority returns the highest track priority.
func (a *Album) Priority() int { return a.Prio }

// LastModified returns the newest track modification time.
func (a *Album) LastModified() time.Time { return a.LastMod }

// Added returns the newest track added time.
func (a *Album) Added() time.Time { return a.AddedAt }

// AudioFormat returns the format of the first track.
func (a *Album) AudioFormat() string { return a.Format }

// Title returns the album name.
func (a *Album) Title() string { return song.First(a, song.TagAlbum) }

// Artist returns the album artist (or artist) values joined for display.
func (a *Album) Artist() string { return song.Joined(a, a.artistTag) }

// Expression returns a filter expression matching the album's tracks.
func (a *Album) Expression() string {
	clauses := []string{expr.Equals(song.TagAlbum, a.Title())}
	for _, v := range a.tags[a.artistTag] {
		clauses = append(clauses, expr.Equals(a.artistTag, v))
	}
	// Albums keyed by Artist hold only tracks without AlbumArtist; albums
	// with neither tag hold only tracks without both.
	if a.artistTag == song.TagArtist {
		clauses = append(clauses, expr.Equals(song.TagAlbumArtist, ""))
		if len(a.tags[song.TagArtist]) == 0 {
			clauses = append(clauses, expr.Equals(song.TagArtist, ""))
		}
	}
	if a.grouping != song.TagNone {
		for _, v := range a.tags[a.grouping] {
			clauses = append(clauses, expr.Equals(a.grouping, v))
		}
	}
	if mbid := song.First(a, song.TagMusicBrainzAlbumID); mbid != "" {
		clauses = append(clauses, expr.Equals(song.TagMusicBrainzAlbumID, mbid))
	}
	return expr.And(clauses...)
}

// Clone returns a copy safe to hand out of the view.
func (a *Album) Clone() *Album {
	c := *a
	c.tags = make(map[song.Tag][]string, len(a.tags))
	for k, v := range a.tags {
		c.tags[k] = append([]string(nil), v...)
	}
	return &c
}

func newAlbum(key, base string, artistTag, grouping song.Tag, r song.Record) *Album {
	a := &Album{
		Key:       key,
		BaseKey:   base,
		FirstURI:  r.URI(),
		Prio:      r.Priority(),
		Format:    r.AudioFormat(),
		artistTag: artistTag,
		grouping:  grouping,
		tags:      make(map[song.Tag][]string),
	}
	for _, tag := range seedTags {
		if v := r.Values(tag); len(v) > 0 {
			a.tags[tag] = append([]string(nil), v...)
		}
	}
	if grouping != song.TagNone {
		if v := r.Values(grouping); len(v) > 0 {
			a.tags[grouping] = append([]string(nil), v...)
		}
	}
	a.merge(r)
	return a
}

func (a *Album) merge(r song.Record) {
	a.Songs++
	a.Length += r.Duration()
	if disc := song.DiscNumber(r); disc > a.Discs {
		a.Discs = disc
	}
	if a.Discs == 0 {
		a.Discs = 1
	}
	if p := r.Priority(); p > a.Prio {
		a.Prio = p
	}
	if t := r.LastModified(); t.After(a.LastMod) {
		a.LastMod = t
	}
	if t := r.Added(); t.After(a.AddedAt) {
		a.AddedAt = t
	}
}

// KeyOf derives the album key of a track: album artists (or artists) and
// album name, plus the grouping tag when one is configured. ok is false
// for tracks without an album tag.
func KeyOf(r song.Record, grouping song.Tag) (key string, artistTag song.Tag, ok bool) {
	album := song.First(r, song.TagAlbum)
	if album == "" {
		return "", "", false
	}
	artistTag = song.TagAlbumArtist
	artists := r.Values(artistTag)
	if len(artists) == 0 {
		artistTag = song.TagArtist
		artists = r.Values(artistTag)
	}

	key = strings.Join(artists, ", ") + keySep + album
	if grouping != song.TagNone {
		key += keySep + song.Joined(r, grouping)
	}
	return key, artistTag, true
}

const suffixChars = "abcdefghijklmnopqrstuvwxyz0123456789"

// ResolveCollision returns key unchanged when it is free, otherwise key
// with random characters appended until taken reports false.
func ResolveCollision(taken func(string) bool, key string, rnd *rand.Rand) string {
	if !taken(key) {
		return key
	}
	var suffix strings.Builder
	for {
		suffix.WriteByte(suffixChars[rnd.IntN(len(suffixChars))])
		candidate := key + keySep + suffix.String()
		if !taken(candidate) {
			return candidate
		}
	}
}
