package candidates

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-jukebox/internal/domain/albums"
	"github.com/edumarques81/stellar-jukebox/internal/domain/annotation"
	"github.com/edumarques81/stellar-jukebox/internal/domain/expr"
	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
)

// AlbumSource returns the published album view.
type AlbumSource interface {
	Current() (*albums.View, error)
}

// Builder runs fills against a catalog. It holds no per-fill state and
// may serve several partitions concurrently.
type Builder struct {
	catalog  song.Catalog
	albums   AlbumSource
	notes    annotation.Source
	pageSize int
	grouping song.Tag

	// rnd, when set, is shared by every fill and serialized by rndMu.
	rndMu sync.Mutex
	rnd   *rand.Rand
	now   func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithPageSize sets the catalog window; <= 0 requests full listings.
func WithPageSize(n int) Option {
	return func(b *Builder) { b.pageSize = n }
}

// WithGrouping sets the grouping tag used for album keys.
func WithGrouping(tag song.Tag) Option {
	return func(b *Builder) { b.grouping = tag }
}

// WithRand makes fills draw from r.
func WithRand(r *rand.Rand) Option {
	return func(b *Builder) { b.rnd = r }
}

// WithClock overrides the time source used for recency checks.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a builder. notes may be nil when no annotation store
// is available; recency and disliked checks are then skipped.
func NewBuilder(catalog song.Catalog, albumSource AlbumSource, notes annotation.Source, opts ...Option) *Builder {
	b := &Builder{
		catalog:  catalog,
		albums:   albumSource,
		notes:    notes,
		pageSize: albums.DefaultPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Fill selects up to req.Count candidates. Every qualifying record has the
// same probability of being selected. Errors wrap ErrProtocol or
// ErrConfiguration; a short result is reported through Result.Shortfall.
func (b *Builder) Fill(ctx context.Context, req Request) (Result, error) {
	if req.Count <= 0 {
		return Result{}, nil
	}

	var view *albums.View
	if req.Kind == KindAlbums {
		if !req.Source.IsDatabase() {
			return Result{}, fmt.Errorf("%w: album mode requires the database source, got playlist %q",
				ErrConfiguration, req.Source.Playlist)
		}
		if b.albums == nil {
			return Result{}, fmt.Errorf("%w: album view not available", ErrConfiguration)
		}
		v, err := b.albums.Current()
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		view = v
	}

	f, err := b.newFilter(ctx, req)
	if err != nil {
		return Result{}, err
	}

	if b.rnd != nil {
		b.rndMu.Lock()
		defer b.rndMu.Unlock()
	}
	s := newSampler(req.Count, b.random())

	start := time.Now()
	if view != nil {
		b.sampleAlbums(view, f, s)
	} else if err := b.sampleSongs(ctx, req.Source, f, s); err != nil {
		return Result{}, err
	}
	if f.err != nil {
		return Result{}, f.err
	}

	res := s.result()
	log.Debug().
		Str("source", req.Source.String()).
		Str("kind", string(req.Kind)).
		Int("requested", req.Count).
		Int("selected", len(res.Candidates)).
		Int("seen", res.Seen).
		Int("skipped", res.Skipped).
		Dur("elapsed", time.Since(start)).
		Msg("Candidate fill finished")
	return res, nil
}

func (b *Builder) random() *rand.Rand {
	if b.rnd != nil {
		return b.rnd
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// sampleSongs streams the database page by page; playlists are read in
// one listing.
func (b *Builder) sampleSongs(ctx context.Context, src song.Source, f *filter, s *sampler) error {
	pageSize := b.pageSize
	if !src.IsDatabase() {
		pageSize = 0
	}
	err := song.Scan(ctx, b.catalog, src, pageSize, func(track song.Song) error {
		f.offerSong(track, s)
		return f.err
	})
	if errors.Is(err, song.ErrEnumerate) {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return err
}

func (b *Builder) sampleAlbums(view *albums.View, f *filter, s *sampler) {
	for _, a := range view.Iterate(albums.ByKey(), false) {
		f.offerAlbum(a, s)
	}
}

// filter holds everything a fill checks per record, resolved up front.
type filter struct {
	kind      Kind
	c         Constraints
	now       time.Time
	recent    map[string]time.Time
	hated     map[string]struct{}
	perRecord annotation.Source
	ctx       context.Context
	// err is the first per-record annotation failure.
	err error

	excludedKeys map[string]struct{}
	excludedTags map[string]struct{}
	history      map[string]struct{}
}

func (b *Builder) newFilter(ctx context.Context, req Request) (*filter, error) {
	f := &filter{
		kind:         req.Kind,
		c:            req.Constraints,
		now:          b.now(),
		ctx:          ctx,
		excludedKeys: make(map[string]struct{}),
		excludedTags: make(map[string]struct{}),
		history:      req.Exclude.History,
	}

	if b.notes != nil && f.c.RecentWithin > 0 {
		recent, err := b.notes.RecencySet(ctx, annotation.LastPlayed)
		if err != nil {
			return nil, fmt.Errorf("%w: load %s: %w", ErrProtocol, annotation.LastPlayed, err)
		}
		f.recent = recent
	}

	if b.notes != nil && f.c.IgnoreHated {
		if lister, ok := b.notes.(annotation.Lister); ok {
			likes, err := lister.IntSet(ctx, annotation.Like)
			if err != nil {
				return nil, fmt.Errorf("%w: load %s: %w", ErrProtocol, annotation.Like, err)
			}
			f.hated = make(map[string]struct{})
			for uri, v := range likes {
				if v == annotation.Hate {
					f.hated[uri] = struct{}{}
				}
			}
		} else {
			f.perRecord = b.notes
		}
	}

	for _, qs := range req.Exclude.Queue {
		if req.Kind == KindAlbums {
			if key, _, ok := albums.KeyOf(qs, b.grouping); ok {
				f.excludedKeys[key] = struct{}{}
			}
		} else {
			f.excludedKeys[qs.URI()] = struct{}{}
		}
		if v := f.tagValue(qs); v != "" {
			f.excludedTags[v] = struct{}{}
		}
	}
	for _, c := range req.Exclude.Pending {
		f.excludedKeys[c.Key] = struct{}{}
		if c.Album != nil {
			f.excludedKeys[c.Album.BaseKey] = struct{}{}
		}
		if c.TagValue != "" {
			f.excludedTags[c.TagValue] = struct{}{}
		}
	}
	return f, nil
}

func (f *filter) tagValue(r song.Record) string {
	if f.c.UniqueTag == song.TagNone {
		return ""
	}
	return song.Joined(r, f.c.UniqueTag)
}

// accept applies the record filters in order: duration, recency,
// disliked, then the exclude/include expressions.
func (f *filter) accept(r song.Record) bool {
	if f.kind == KindSongs {
		d := r.Duration()
		if f.c.MinDuration > 0 && d < f.c.MinDuration {
			return false
		}
		if f.c.MaxDuration > 0 && d > f.c.MaxDuration {
			return false
		}
	}

	uri := r.URI()
	if f.recent != nil {
		if at, ok := f.recent[uri]; ok && f.now.Sub(at) < f.c.RecentWithin {
			return false
		}
	}
	if f.hated != nil {
		if _, ok := f.hated[uri]; ok {
			return false
		}
	} else if f.perRecord != nil {
		if f.err != nil {
			return false
		}
		hated, err := annotation.IsHated(f.ctx, f.perRecord, uri)
		if err != nil {
			f.err = fmt.Errorf("%w: load %s for %s: %w", ErrProtocol, annotation.Like, uri, err)
			return false
		}
		if hated {
			return false
		}
	}

	return expr.Accept(f.c.Include, f.c.Exclude, r)
}

func (f *filter) excluded(key, uri, tagValue string) bool {
	if _, ok := f.excludedKeys[key]; ok {
		return true
	}
	if _, ok := f.history[uri]; ok {
		return true
	}
	if tagValue != "" {
		if _, ok := f.excludedTags[tagValue]; ok {
			return true
		}
	}
	return false
}

func (f *filter) offerSong(s song.Song, smp *sampler) {
	if !f.accept(s) {
		smp.skipped++
		return
	}
	tv := f.tagValue(s)
	if f.excluded(s.URI(), s.URI(), tv) {
		smp.skipped++
		return
	}
	smp.offer(Candidate{Key: s.URI(), TagValue: tv})
}

func (f *filter) offerAlbum(a *albums.Album, smp *sampler) {
	if !f.accept(a) {
		smp.skipped++
		return
	}
	tv := f.tagValue(a)
	if f.excluded(a.Key, a.URI(), tv) || f.excluded(a.BaseKey, a.URI(), "") {
		smp.skipped++
		return
	}
	smp.offer(Candidate{Key: a.Key, TagValue: tv, Album: a})
}

// sampler keeps a uniform random sample of at most want candidates over
// a stream of unknown length. Candidates sharing a uniqueness tag value
// (or a key when uniqueness is off) form a group: groups are sampled
// uniformly, and each sampled group keeps one uniformly chosen member.
type sampler struct {
	want     int
	rnd      *rand.Rand
	picked   []Candidate
	groups   map[string]*group
	distinct int
	seen     int
	skipped  int
}

// group tracks one uniqueness value. slot is -1 while the group holds no
// place in the sample; a group that lost its place never regains it.
type group struct {
	slot    int
	members int
}

func newSampler(want int, rnd *rand.Rand) *sampler {
	return &sampler{
		want:   want,
		rnd:    rnd,
		groups: make(map[string]*group),
	}
}

func groupOf(c Candidate) string {
	if c.TagValue != "" {
		return "tag\x00" + c.TagValue
	}
	return "key\x00" + c.Key
}

func (s *sampler) offer(c Candidate) {
	s.seen++
	c.Weight = s.seen

	id := groupOf(c)
	if g, ok := s.groups[id]; ok {
		g.members++
		if g.slot >= 0 && s.rnd.IntN(g.members) == 0 {
			s.picked[g.slot] = c
		}
		return
	}

	g := &group{slot: -1, members: 1}
	s.groups[id] = g
	s.distinct++

	if len(s.picked) < s.want {
		g.slot = len(s.picked)
		s.picked = append(s.picked, c)
		return
	}
	if j := s.rnd.IntN(s.distinct); j < s.want {
		s.groups[groupOf(s.picked[j])].slot = -1
		g.slot = j
		s.picked[j] = c
	}
}

func (s *sampler) result() Result {
	out := append([]Candidate(nil), s.picked...)
	s.rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return Result{
		Candidates: out,
		Seen:       s.seen,
		Skipped:    s.skipped,
		Shortfall:  len(out) < s.want,
	}
}
