// Package song defines the per-track records read from the MPD database and
// the capability interface shared by songs and aggregated albums.
package song

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Record is the read-only view of anything the filter language and the
// candidate builder can look at: a single song or an aggregated album.
type Record interface {
	URI() string
	Values(tag Tag) []string
	Duration() time.Duration
	Priority() int
	LastModified() time.Time
	Added() time.Time
	AudioFormat() string
}

// Song is an immutable snapshot of one track as returned by MPD.
type Song struct {
	Path      string
	TagValues map[Tag][]string
	Length    time.Duration
	Prio      int
	LastMod   time.Time
	AddedAt   time.Time
	Format    string
	// ID is the queue id; only set for songs read from the play queue.
	ID int
}

// URI returns the song path relative to the music directory.
func (s Song) URI() string { return s.Path }

// Values returns all values of a tag, nil if the tag is absent.
func (s Song) Values(tag Tag) []string { return s.TagValues[tag] }

// Duration returns the song length.
func (s Song) Duration() time.Duration { return s.Length }

// Priority returns the queue priority (0-255).
func (s Song) Priority() int { return s.Prio }

// LastModified returns the file modification time.
func (s Song) LastModified() time.Time { return s.LastMod }

// Added returns the time the song was added to the database.
func (s Song) Added() time.Time { return s.AddedAt }

// AudioFormat returns the "samplerate:bits:channels" string.
func (s Song) AudioFormat() string { return s.Format }

// First returns the first value of tag or "" when absent.
func First(r Record, tag Tag) string {
	if values := r.Values(tag); len(values) > 0 {
		return values[0]
	}
	return ""
}

// Joined returns all values of tag joined with ", ".
func Joined(r Record, tag Tag) string {
	return strings.Join(r.Values(tag), ", ")
}

// DiscNumber parses the Disc tag ("2" or "2/3"); 0 when absent or invalid.
func DiscNumber(r Record) int {
	disc := First(r, TagDisc)
	if idx := strings.Index(disc, "/"); idx > 0 {
		disc = disc[:idx]
	}
	n, err := strconv.Atoi(strings.TrimSpace(disc))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Source identifies where records are streamed from: the whole database
// or a stored playlist.
type Source struct {
	Playlist string
}

// Database returns the source covering the whole MPD database.
func Database() Source { return Source{} }

// FromPlaylist returns the source for a stored playlist.
func FromPlaylist(name string) Source { return Source{Playlist: name} }

// IsDatabase reports whether the source is the whole database.
func (s Source) IsDatabase() bool { return s.Playlist == "" || s.Playlist == "Database" }

func (s Source) String() string {
	if s.IsDatabase() {
		return "Database"
	}
	return s.Playlist
}

// Catalog streams track records from a source. Records [start, end) are
// returned; end <= 0 requests the whole source in one listing. A page
// shorter than requested marks the end of the source.
type Catalog interface {
	Enumerate(ctx context.Context, src Source, start, end int) ([]Song, error)
}
