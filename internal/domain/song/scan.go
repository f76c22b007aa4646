package song

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ErrEnumerate marks a catalog failure during Scan, as opposed to an error
// returned by the visitor.
var ErrEnumerate = errors.New("enumerate catalog")

// Scan streams every record of src through visit, pageSize records per
// catalog call; pageSize <= 0 requests one full listing. A short page ends
// the scan. So does a page repeating the previous page's first record, or
// a scan whose record count fell behind the requested offset, which is how
// a server ignoring the window shows up. Visit errors stop the scan and are
// returned unchanged.
func Scan(ctx context.Context, catalog Catalog, src Source, pageSize int, visit func(Song) error) error {
	if pageSize <= 0 {
		tracks, err := catalog.Enumerate(ctx, src, 0, 0)
		if err != nil {
			return fmt.Errorf("%w %s: %w", ErrEnumerate, src, err)
		}
		for i := range tracks {
			if err := visit(tracks[i]); err != nil {
				return err
			}
		}
		return nil
	}

	var prevFirst string
	processed := 0
	for start := 0; ; {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + pageSize
		page, err := catalog.Enumerate(ctx, src, start, end)
		if err != nil {
			return fmt.Errorf("%w %s at %d: %w", ErrEnumerate, src, start, err)
		}
		if len(page) > 0 && start > 0 && page[0].URI() == prevFirst {
			log.Warn().Str("source", src.String()).Int("offset", start).Msg("Catalog returned the previous page again, ending scan")
			return nil
		}
		if len(page) > 0 {
			prevFirst = page[0].URI()
		}
		for i := range page {
			if err := visit(page[i]); err != nil {
				return err
			}
		}
		processed += len(page)
		if len(page) < pageSize {
			return nil
		}
		if processed != end {
			log.Warn().Str("source", src.String()).Int("offset", end).Int("processed", processed).Msg("Catalog stopped advancing, ending scan")
			return nil
		}
		start = end
	}
}
