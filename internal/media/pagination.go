package media

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"media-companion/internal/domain"
)

const (
	defaultPageSize       = 50
	defaultMaxPages       = 10
	defaultSelectAttempts = 8
	defaultLowWater       = 5
	defaultFetchTries     = 3
)

// PaginationState is the fetch state of one source within one session.
type PaginationState struct {
	Cursor    string
	Page      int
	Fetching  bool
	Exhausted bool
}

// SourceOptions tunes a PaginatedSource. Zero values take defaults.
type SourceOptions struct {
	PageSize       int
	MaxPages       int
	SelectAttempts int
	LowWater       int
	FetchTries     uint
	NewBackOff     func() backoff.BackOff
	Rand           *rand.Rand
	Logger         *slog.Logger
}

func (o SourceOptions) withDefaults() SourceOptions {
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.MaxPages <= 0 {
		o.MaxPages = defaultMaxPages
	}
	if o.SelectAttempts <= 0 {
		o.SelectAttempts = defaultSelectAttempts
	}
	if o.LowWater <= 0 {
		o.LowWater = defaultLowWater
	}
	if o.FetchTries == 0 {
		o.FetchTries = defaultFetchTries
	}
	if o.NewBackOff == nil {
		o.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		}
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// PaginatedSource pulls pages incrementally from a character's sources into
// a shared candidate pool. It is owned by exactly one session.
type PaginatedSource struct {
	character domain.Character
	tags      TagSearcher
	listing   ListingFetcher
	opts      SourceOptions

	mu     sync.Mutex
	states map[string]*PaginationState
	order  []string
	pool   []domain.MediaItem
	pooled map[string]bool
	wg     sync.WaitGroup
}

// NewPaginatedSource builds the per-session pagination state for character.
// Only the fetcher matching the character's source kind is required.
func NewPaginatedSource(character domain.Character, tags TagSearcher, listing ListingFetcher, opts SourceOptions) (*PaginatedSource, error) {
	switch character.Source.Kind {
	case domain.SourceKindTagIndexed:
		if tags == nil {
			return nil, errors.New("media: tag searcher must not be nil for tag_indexed sources")
		}
	case domain.SourceKindSubreddit:
		if listing == nil {
			return nil, errors.New("media: listing fetcher must not be nil for subreddit sources")
		}
	default:
		return nil, errors.New("media: unknown source kind " + string(character.Source.Kind))
	}
	names := character.Source.Names()
	if len(names) == 0 {
		return nil, errors.New("media: character has no sources")
	}
	p := &PaginatedSource{
		character: character,
		tags:      tags,
		listing:   listing,
		opts:      opts.withDefaults(),
		states:    make(map[string]*PaginationState, len(names)),
		order:     append([]string(nil), names...),
		pooled:    make(map[string]bool),
	}
	for _, name := range names {
		p.states[name] = &PaginationState{}
	}
	return p, nil
}

// Refill requests the next page of source. It is a no-op while the source is
// fetching or exhausted. With wait=false the request runs in the background
// and a later Select consumes its results.
func (p *PaginatedSource) Refill(ctx context.Context, source string, wait bool) {
	p.mu.Lock()
	st, ok := p.states[source]
	if !ok || st.Fetching || st.Exhausted {
		p.mu.Unlock()
		return
	}
	st.Fetching = true
	cursor, page := st.Cursor, st.Page
	p.mu.Unlock()

	if wait {
		p.fetch(ctx, source, cursor, page)
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.fetch(ctx, source, cursor, page)
	}()
}

type pageResult struct {
	items    []domain.MediaItem
	received int
	next     string
}

func (p *PaginatedSource) fetch(ctx context.Context, source, cursor string, page int) {
	op := func() (pageResult, error) {
		switch p.character.Source.Kind {
		case domain.SourceKindTagIndexed:
			out, err := p.tags.SearchByTag(ctx, strings.Fields(source), p.opts.PageSize, page)
			if err != nil {
				return pageResult{}, err
			}
			received := max(out.Received, len(out.Items))
			next := ""
			if received >= p.opts.PageSize {
				next = strconv.Itoa(page + 1)
			}
			return pageResult{items: out.Items, received: received, next: next}, nil
		default:
			out, err := p.listing.TopByTimeframe(ctx, source, p.character.Source.Timeframe(), p.opts.PageSize, cursor)
			if err != nil {
				return pageResult{}, err
			}
			return pageResult{items: out.Items, received: len(out.Items), next: out.NextCursor}, nil
		}
	}
	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(p.opts.NewBackOff()),
		backoff.WithMaxTries(p.opts.FetchTries),
	)

	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.states[source]
	st.Fetching = false
	if err != nil {
		st.Exhausted = true
		p.opts.Logger.Warn("media source fetch failed, marking exhausted",
			"source", source, "page", page, "err", err)
		return
	}

	st.Page++
	added := 0
	minScore := p.character.Source.MinScore()
	for _, item := range res.items {
		if p.pooled[item.Locator] || !Suitable(p.character.Source.Kind, item, minScore) {
			continue
		}
		if item.Source == "" {
			item.Source = source
		}
		p.pooled[item.Locator] = true
		p.pool = append(p.pool, item)
		added++
	}
	st.Cursor = res.next
	if res.next == "" || res.received == 0 || st.Page >= p.opts.MaxPages {
		st.Exhausted = true
	}
	p.opts.Logger.Debug("media source page fetched",
		"source", source, "page", page, "received", res.received, "added", added, "exhausted", st.Exhausted)
}

// Select draws a random pool item that dedup has not seen. After
// SelectAttempts misses it forces one synchronous refill and tries once more.
func (p *PaginatedSource) Select(ctx context.Context, dedup DedupSet) (domain.MediaItem, bool) {
	for round := 0; round < 2; round++ {
		if item, ok := p.trySelect(dedup); ok {
			p.topUp(ctx)
			return item, true
		}
		if round == 0 {
			p.refillNext(ctx, true)
		}
	}
	return domain.MediaItem{}, false
}

func (p *PaginatedSource) trySelect(dedup DedupSet) (domain.MediaItem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for attempt := 0; attempt < p.opts.SelectAttempts && len(p.pool) > 0; attempt++ {
		idx := p.opts.Rand.Intn(len(p.pool))
		item := p.pool[idx]
		last := len(p.pool) - 1
		p.pool[idx] = p.pool[last]
		p.pool = p.pool[:last]
		if dedup != nil && dedup.Contains(item.Locator) {
			continue
		}
		return item, true
	}
	return domain.MediaItem{}, false
}

func (p *PaginatedSource) topUp(ctx context.Context) {
	p.mu.Lock()
	low := len(p.pool) < p.opts.LowWater
	p.mu.Unlock()
	if low {
		p.refillNext(ctx, false)
	}
}

// refillNext refills a random source that is neither fetching nor exhausted.
func (p *PaginatedSource) refillNext(ctx context.Context, wait bool) {
	p.mu.Lock()
	eligible := make([]string, 0, len(p.order))
	for _, name := range p.order {
		st := p.states[name]
		if !st.Fetching && !st.Exhausted {
			eligible = append(eligible, name)
		}
	}
	var source string
	if len(eligible) > 0 {
		source = eligible[p.opts.Rand.Intn(len(eligible))]
	}
	p.mu.Unlock()
	if source != "" {
		p.Refill(ctx, source, wait)
	}
}

// Exhausted reports whether every source is exhausted and the pool is empty.
func (p *PaginatedSource) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pool) > 0 {
		return false
	}
	for _, st := range p.states {
		if !st.Exhausted {
			return false
		}
	}
	return true
}

// PoolSize returns the number of candidates waiting in the pool.
func (p *PaginatedSource) PoolSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pool)
}

// States returns a snapshot of the per-source pagination state.
func (p *PaginatedSource) States() map[string]PaginationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]PaginationState, len(p.states))
	for name, st := range p.states {
		out[name] = *st
	}
	return out
}

// Wait blocks until background refills have finished.
func (p *PaginatedSource) Wait() {
	p.wg.Wait()
}

// Reset drops the candidate pool. Pagination state is kept so exhausted
// sources stay exhausted.
func (p *PaginatedSource) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pool = nil
}
