// Package annotation defines the key/value facts attached to song URIs
// (play counts, ratings, last played time) and the store contract the
// jukebox consults.
package annotation

import (
	"context"
	"fmt"
	"time"
)

// Names of the annotations maintained by the gateway.
const (
	PlayCount  = "playCount"
	LastPlayed = "lastPlayed"
	Like       = "like"
	Rating     = "rating"
)

// Values of the Like annotation.
const (
	Hate    int64 = 0
	Neutral int64 = 1
	Love    int64 = 2
)

// Source is a key/value store of integer annotations per URI.
type Source interface {
	// GetInt returns the value of name for uri; ok is false when unset.
	GetInt(ctx context.Context, uri, name string) (value int64, ok bool, err error)
	// RecencySet returns every URI carrying the timestamp annotation name.
	RecencySet(ctx context.Context, name string) (map[string]time.Time, error)
	Set(ctx context.Context, uri, name string, value int64) error
	Increment(ctx context.Context, uri, name string, delta int64) error
}

// Lister is implemented by sources that can return every value of one
// annotation in a single round trip.
type Lister interface {
	IntSet(ctx context.Context, name string) (map[string]int64, error)
}

// RecordPlay bumps the play count and stamps the last played time.
func RecordPlay(ctx context.Context, src Source, uri string, at time.Time) error {
	if err := src.Increment(ctx, uri, PlayCount, 1); err != nil {
		return fmt.Errorf("increment %s: %w", PlayCount, err)
	}
	if err := src.Set(ctx, uri, LastPlayed, at.Unix()); err != nil {
		return fmt.Errorf("set %s: %w", LastPlayed, err)
	}
	return nil
}

// IsHated reports whether uri carries like == Hate.
func IsHated(ctx context.Context, src Source, uri string) (bool, error) {
	v, ok, err := src.GetInt(ctx, uri, Like)
	if err != nil {
		return false, err
	}
	return ok && v == Hate, nil
}
