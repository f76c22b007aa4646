package albums

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
)

// DefaultPageSize is the number of tracks requested per catalog call.
const DefaultPageSize = 1000

// BuildOptions controls how a view is built.
type BuildOptions struct {
	// PageSize is the catalog window; <= 0 requests one full listing.
	PageSize int
	// Grouping is an optional tag appended to album keys.
	Grouping song.Tag
	// Rand draws collision suffixes. Nil uses a time seeded source.
	Rand *rand.Rand
}

// builder aggregates tracks into a private, unpublished view.
type builder struct {
	view       *View
	grouping   song.Tag
	rnd        *rand.Rand
	identities map[string]string
}

func newBuilder(opts BuildOptions) *builder {
	rnd := opts.Rand
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &builder{
		view:       newView(),
		grouping:   opts.Grouping,
		rnd:        rnd,
		identities: make(map[string]string),
	}
}

// add seeds or merges the album of one track. Two tracks with the same
// base key but different MusicBrainz album ids are different albums; the
// second one gets a collision suffix.
func (b *builder) add(r song.Record) {
	base, artistTag, ok := KeyOf(r, b.grouping)
	if !ok {
		return
	}
	b.view.songs++

	identity := base + "\x00" + song.First(r, song.TagMusicBrainzAlbumID)
	if key, ok := b.identities[identity]; ok {
		if a, found := b.view.tree.Get(&Album{Key: key}); found {
			a.merge(r)
			return
		}
	}

	key := ResolveCollision(b.taken, base, b.rnd)
	b.identities[identity] = key
	b.view.tree.ReplaceOrInsert(newAlbum(key, base, artistTag, b.grouping, r))
}

func (b *builder) taken(key string) bool {
	return b.view.tree.Has(&Album{Key: key})
}

// Build streams the whole database once and returns a new view. Any
// catalog error aborts the build; nothing partial is returned.
func Build(ctx context.Context, catalog song.Catalog, opts BuildOptions) (*View, error) {
	b := newBuilder(opts)
	err := song.Scan(ctx, catalog, song.Database(), opts.PageSize, func(track song.Song) error {
		b.add(track)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b.view, nil
}
