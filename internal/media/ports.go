package media

import (
	"context"

	"media-companion/internal/domain"
)

// TagPage is one page of a tag search. Received counts every post upstream
// returned, including ones dropped before mapping to Items.
type TagPage struct {
	Items    []domain.MediaItem
	Received int
}

// TagSearcher queries a tag-indexed content API. pageIndex is zero-based.
type TagSearcher interface {
	SearchByTag(ctx context.Context, tags []string, pageSize, pageIndex int) (TagPage, error)
}

// ListingPage is one page of a cursor-paginated listing.
type ListingPage struct {
	Items      []domain.MediaItem
	NextCursor string
}

// ListingFetcher queries a link-aggregation API. An empty NextCursor means
// the listing has no further pages.
type ListingFetcher interface {
	TopByTimeframe(ctx context.Context, source, timeframe string, pageSize int, cursor string) (ListingPage, error)
}

// Commentator produces a structured multi-answer payload for n items in one
// upstream call.
type Commentator interface {
	GenerateBatch(ctx context.Context, prompt, context string, n int) (string, error)
}

// DedupSet reports whether a locator has already been delivered.
type DedupSet interface {
	Contains(locator string) bool
}

// DedupFunc adapts a function to DedupSet.
type DedupFunc func(locator string) bool

func (f DedupFunc) Contains(locator string) bool { return f(locator) }
