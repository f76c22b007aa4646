package jukebox

import (
	"fmt"
	"strings"
	"time"

	"github.com/edumarques81/stellar-jukebox/internal/domain/candidates"
	"github.com/edumarques81/stellar-jukebox/internal/domain/expr"
	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
)

// Mode selects what the jukebox adds to the queue.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeSongs  Mode = "songs"
	ModeAlbums Mode = "albums"
)

// ParseMode resolves a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeOff, "":
		return ModeOff, nil
	case ModeSongs, "song":
		return ModeSongs, nil
	case ModeAlbums, "album":
		return ModeAlbums, nil
	}
	return "", fmt.Errorf("unknown jukebox mode %q", s)
}

// Kind returns the candidate kind produced in this mode. Off maps to
// songs, which is what one shot fills use when the jukebox is disabled.
func (m Mode) Kind() candidates.Kind {
	if m == ModeAlbums {
		return candidates.KindAlbums
	}
	return candidates.KindSongs
}

// State is the lifecycle state of a partition's jukebox.
type State string

const (
	StateOff     State = "off"
	StateIdle    State = "idle"
	StateFilling State = "filling"
	StateError   State = "error"
)

// Settings configure one partition's jukebox.
type Settings struct {
	Mode Mode `json:"mode"`
	// Playlist is the stored playlist to pick from; empty or "Database"
	// selects the whole database.
	Playlist string `json:"playlist"`
	// QueueLength is the minimum number of songs kept in the live queue.
	QueueLength int `json:"queueLength"`
	// UniqueTag forbids two picks sharing its value; TagNone disables it.
	UniqueTag song.Tag `json:"uniqueTag"`
	// LastPlayed skips songs played within this window.
	LastPlayed  time.Duration `json:"lastPlayed"`
	IgnoreHated bool          `json:"ignoreHated"`
	MinDuration time.Duration `json:"minDuration"`
	MaxDuration time.Duration `json:"maxDuration"`
	Include     string        `json:"include"`
	Exclude     string        `json:"exclude"`
	Autoplay    bool          `json:"autoplay"`

	SongPolicy  candidates.RefillPolicy `json:"-"`
	AlbumPolicy candidates.RefillPolicy `json:"-"`
}

// DefaultSettings returns a disabled jukebox with the default marks.
func DefaultSettings() Settings {
	return Settings{
		Mode:        ModeOff,
		QueueLength: 1,
		UniqueTag:   song.TagAlbum,
		LastPlayed:  24 * time.Hour,
		SongPolicy:  candidates.AutoPolicy(candidates.KindSongs),
		AlbumPolicy: candidates.AutoPolicy(candidates.KindAlbums),
	}
}

// Validate checks the settings, parsing the filter expressions.
func (s Settings) Validate() error {
	if _, err := ParseMode(string(s.Mode)); err != nil {
		return err
	}
	if s.QueueLength < 0 {
		return fmt.Errorf("queue length must not be negative, got %d", s.QueueLength)
	}
	if s.LastPlayed < 0 || s.MinDuration < 0 || s.MaxDuration < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if s.MaxDuration > 0 && s.MinDuration > s.MaxDuration {
		return fmt.Errorf("minimum duration %v exceeds maximum %v", s.MinDuration, s.MaxDuration)
	}
	if s.Mode == ModeAlbums && !s.Source().IsDatabase() {
		return fmt.Errorf("%w: album mode requires the database source", candidates.ErrConfiguration)
	}
	for name, p := range map[string]candidates.RefillPolicy{"song": s.SongPolicy, "album": s.AlbumPolicy} {
		if p.LowWater < 0 || p.Target < p.LowWater {
			return fmt.Errorf("invalid %s refill marks %d/%d", name, p.LowWater, p.Target)
		}
	}
	if _, err := s.Constraints(); err != nil {
		return err
	}
	return nil
}

// Source returns the record source selected by Playlist.
func (s Settings) Source() song.Source {
	return song.FromPlaylist(s.Playlist)
}

// Policy returns the refill policy of the automatic queue in mode.
func (s Settings) Policy() candidates.RefillPolicy {
	if s.Mode == ModeAlbums {
		return s.AlbumPolicy
	}
	return s.SongPolicy
}

// Constraints converts the settings to builder constraints.
func (s Settings) Constraints() (candidates.Constraints, error) {
	include, err := expr.ParseOptional(s.Include)
	if err != nil {
		return candidates.Constraints{}, fmt.Errorf("include: %w", err)
	}
	exclude, err := expr.ParseOptional(s.Exclude)
	if err != nil {
		return candidates.Constraints{}, fmt.Errorf("exclude: %w", err)
	}
	return candidates.Constraints{
		MinDuration:  s.MinDuration,
		MaxDuration:  s.MaxDuration,
		RecentWithin: s.LastPlayed,
		IgnoreHated:  s.IgnoreHated,
		Include:      include,
		Exclude:      exclude,
		UniqueTag:    s.UniqueTag,
	}, nil
}

// selectionChanged reports whether switching from s to next invalidates
// already pending candidates.
func (s Settings) selectionChanged(next Settings) bool {
	return s.Mode != next.Mode ||
		s.Source().String() != next.Source().String() ||
		s.UniqueTag != next.UniqueTag ||
		s.LastPlayed != next.LastPlayed ||
		s.IgnoreHated != next.IgnoreHated ||
		s.MinDuration != next.MinDuration ||
		s.MaxDuration != next.MaxDuration ||
		s.Include != next.Include ||
		s.Exclude != next.Exclude
}
