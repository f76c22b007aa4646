package albums

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/google/btree"

	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
)

const treeDegree = 32

// SortField selects the primary component of a listing order.
type SortField string

const (
	SortKey      SortField = "key"
	SortTag      SortField = "tag"
	SortModified SortField = "modified"
	SortAdded    SortField = "added"
)

// Order describes how Iterate walks the view.
type Order struct {
	By        SortField
	Tag       song.Tag // primary tag for SortTag
	Secondary song.Tag // optional tie breaker
}

// ByKey orders albums by their key.
func ByKey() Order { return Order{By: SortKey} }

// ByTag orders albums by a tag value, then by secondary.
func ByTag(tag, secondary song.Tag) Order {
	return Order{By: SortTag, Tag: tag, Secondary: secondary}
}

// ByModified orders albums by their newest modification time.
func ByModified(secondary song.Tag) Order { return Order{By: SortModified, Secondary: secondary} }

// ByAdded orders albums by the time their newest track was added.
func ByAdded(secondary song.Tag) Order { return Order{By: SortAdded, Secondary: secondary} }

// ParseOrder resolves "key", "modified", "added" or a tag name.
func ParseOrder(name string, secondary song.Tag) (Order, error) {
	switch strings.ToLower(name) {
	case "", string(SortKey):
		return ByKey(), nil
	case string(SortModified), "last-modified":
		return ByModified(secondary), nil
	case string(SortAdded):
		return ByAdded(secondary), nil
	}
	tag, ok := song.LookupTag(name)
	if !ok {
		return Order{}, fmt.Errorf("unknown sort order %q", name)
	}
	return ByTag(tag, secondary), nil
}

// View is an immutable, key ordered snapshot of all albums.
type View struct {
	tree       *btree.BTreeG[*Album]
	generation uint64
	builtAt    time.Time
	songs      int
}

func byKey(a, b *Album) bool { return a.Key < b.Key }

func newView() *View {
	return &View{tree: btree.NewG(treeDegree, byKey)}
}

// Len returns the number of albums.
func (v *View) Len() int { return v.tree.Len() }

// Songs returns the number of tracks aggregated into the view.
func (v *View) Songs() int { return v.songs }

// Generation identifies the build that produced the view.
func (v *View) Generation() uint64 { return v.generation }

// BuiltAt returns when the view was published.
func (v *View) BuiltAt() time.Time { return v.builtAt }

// Get returns the album stored under key.
func (v *View) Get(key string) (*Album, error) {
	a, ok := v.tree.Get(&Album{Key: key})
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return a, nil
}

// Iterate returns a lazy sequence of albums in the requested order. Every
// range over the sequence starts from the beginning. Albums yielded are
// shared with the view and must not be modified.
func (v *View) Iterate(order Order, desc bool) iter.Seq2[string, *Album] {
	return func(yield func(string, *Album) bool) {
		if order.By == SortKey || order.By == "" {
			walk := v.tree.Ascend
			if desc {
				walk = v.tree.Descend
			}
			walk(func(a *Album) bool {
				return yield(a.Key, a)
			})
			return
		}

		sorted := v.sortIndex(order)
		walk := sorted.Ascend
		if desc {
			walk = sorted.Descend
		}
		walk(func(e sortEntry) bool {
			return yield(e.album.Key, e.album)
		})
	}
}

// List returns at most limit albums starting at offset. A non-positive
// limit returns everything after offset.
func (v *View) List(order Order, desc bool, offset, limit int) []*Album {
	var out []*Album
	i := 0
	for _, a := range v.Iterate(order, desc) {
		if i >= offset {
			out = append(out, a)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		i++
	}
	return out
}

type sortEntry struct {
	key   string
	album *Album
}

// sortIndex builds a throwaway ordered map keyed by
// primary::secondary::uri, case folded.
func (v *View) sortIndex(order Order) *btree.BTreeG[sortEntry] {
	index := btree.NewG(treeDegree, func(a, b sortEntry) bool { return a.key < b.key })
	v.tree.Ascend(func(a *Album) bool {
		index.ReplaceOrInsert(sortEntry{key: sortKey(a, order), album: a})
		return true
	})
	return index
}

func sortKey(a *Album, order Order) string {
	var primary string
	switch order.By {
	case SortModified:
		primary = timeKey(a.LastMod)
	case SortAdded:
		primary = timeKey(a.AddedAt)
	default:
		primary = padNumeric(song.First(a, order.Tag))
	}

	var secondary string
	if order.Secondary != song.TagNone {
		secondary = padNumeric(song.First(a, order.Secondary))
	}
	return strings.ToLower(primary + keySep + secondary + keySep + a.FirstURI)
}

func timeKey(t time.Time) string {
	if t.IsZero() {
		return fmt.Sprintf("%020d", 0)
	}
	return fmt.Sprintf("%020d", t.Unix())
}

// padNumeric zero pads integers so they sort numerically as strings.
func padNumeric(v string) string {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return v
	}
	return fmt.Sprintf("%020d", n)
}
