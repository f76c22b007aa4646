// Package candidates selects random songs or albums for the jukebox. A
// fill streams the catalog once, filters every record and keeps a
// uniform reservoir sample of the survivors.
package candidates

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edumarques81/stellar-jukebox/internal/domain/albums"
	"github.com/edumarques81/stellar-jukebox/internal/domain/expr"
	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
)

var (
	// ErrProtocol wraps failed catalog or annotation round trips. Fills
	// failing with it may be retried.
	ErrProtocol = errors.New("protocol error")
	// ErrConfiguration marks requests that cannot succeed until the
	// configuration changes. Never retried.
	ErrConfiguration = errors.New("configuration error")
)

// IsRetryable reports whether a fill error may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// Kind selects what a fill produces.
type Kind string

const (
	KindSongs  Kind = "songs"
	KindAlbums Kind = "albums"
)

// ParseKind resolves "songs" or "albums".
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case KindSongs, "song", "track":
		return KindSongs, nil
	case KindAlbums, "album":
		return KindAlbums, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrConfiguration, s)
}

// Candidate is one selected song or album. Key is the song URI or the
// album key; Album is set only for albums.
type Candidate struct {
	Key      string
	Weight   int
	TagValue string
	Album    *albums.Album
}

// IsAlbum reports whether the candidate is an album.
func (c Candidate) IsAlbum() bool { return c.Album != nil }

// Constraints filter the records considered by a fill.
type Constraints struct {
	MinDuration time.Duration
	MaxDuration time.Duration
	// RecentWithin drops records played less than this long ago.
	RecentWithin time.Duration
	IgnoreHated  bool
	Include      *expr.Expression
	Exclude      *expr.Expression
	// UniqueTag forbids two selections sharing its value. TagNone
	// disables the check.
	UniqueTag song.Tag
}

// Exclusions are records a fill must not select again.
type Exclusions struct {
	// Queue is the live play queue.
	Queue []song.Song
	// History holds the recently played URIs.
	History map[string]struct{}
	// Pending is the jukebox's own pending queue.
	Pending []Candidate
}

// Request describes one fill.
type Request struct {
	Source      song.Source
	Kind        Kind
	Count       int
	Constraints Constraints
	Exclude     Exclusions
}

// Result is the outcome of a fill. Shortfall is set when fewer than the
// requested number of candidates qualified.
type Result struct {
	Candidates []Candidate
	Seen       int
	Skipped    int
	Shortfall  bool
}
