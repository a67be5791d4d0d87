package gallery

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lehigh-university-libraries/herbarium/internal/models"
	"github.com/lehigh-university-libraries/herbarium/internal/storage"
)

const defaultHydrateLimit = 4

// Update is published after every cursor move that was not superseded
type Update struct {
	Page *models.GalleryPage
	Err  error
}

// Paginator walks one scope page by page for a single browsing session.
type Paginator struct {
	plants       storage.PlantStore
	images       storage.ImageStore
	scope        Scope
	hydrateLimit int

	mu        sync.Mutex
	cursor    int
	seq       uint64
	cancel    context.CancelFunc
	listeners []func(Update)
	pending   []func()
	draining  bool

	wg sync.WaitGroup
}

// Option configures a Paginator
type Option func(*Paginator)

// WithHydrateLimit caps concurrent image reads per page
func WithHydrateLimit(n int) Option {
	return func(p *Paginator) {
		if n > 0 {
			p.hydrateLimit = n
		}
	}
}

func New(plants storage.PlantStore, images storage.ImageStore, scope Scope, opts ...Option) *Paginator {
	p := &Paginator{
		plants:       plants,
		images:       images,
		scope:        scope,
		hydrateLimit: defaultHydrateLimit,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewForUser scopes a paginator to the active user's own records
func NewForUser(plants storage.PlantStore, images storage.ImageStore, users storage.UserContext, opts ...Option) *Paginator {
	return New(plants, images, User(users.CurrentUsername()), opts...)
}

func (p *Paginator) Scope() Scope {
	return p.scope
}

// Cursor is the index of the last successfully loaded page
func (p *Paginator) Cursor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Subscribe adds a listener for page updates
func (p *Paginator) Subscribe(fn func(Update)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Wait blocks until in-flight fetches have returned
func (p *Paginator) Wait() {
	p.wg.Wait()
}

// Close cancels any in-flight fetch
func (p *Paginator) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Load fetches pageIndex in the background
func (p *Paginator) Load(ctx context.Context, pageIndex int) {
	p.move(ctx, func(int) (int, bool) { return pageIndex, true })
}

// NextPage loads the page after the cursor. The page count is read from the
// store on every call, so records added since the last fetch are reachable.
// At the last page it does nothing and reports false. A failed count is
// published as an Update and also reports false.
func (p *Paginator) NextPage(ctx context.Context) bool {
	total, err := p.TotalPages(ctx)
	if err != nil {
		p.fail(err)
		return false
	}
	return p.move(ctx, func(cursor int) (int, bool) {
		if cursor >= total-1 {
			return cursor, false
		}
		return cursor + 1, true
	})
}

// PreviousPage loads the page before the cursor. At page 0 it does nothing
// and reports false.
func (p *Paginator) PreviousPage(ctx context.Context) bool {
	return p.move(ctx, func(cursor int) (int, bool) {
		if cursor <= 0 {
			return cursor, false
		}
		return cursor - 1, true
	})
}

// move starts a fetch for the target chosen from the committed cursor.
// A newer move cancels and replaces an older one still in flight.
func (p *Paginator) move(ctx context.Context, target func(cursor int) (int, bool)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	pageIndex, ok := target(p.cursor)
	if !ok {
		slog.Debug("Gallery move ignored at boundary", "scope", p.scope, "cursor", p.cursor)
		return false
	}

	seq := p.supersede()
	fetchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(fetchCtx, cancel, seq, pageIndex)
	return true
}

func (p *Paginator) run(ctx context.Context, cancel context.CancelFunc, seq uint64, pageIndex int) {
	defer p.wg.Done()
	defer cancel()

	page, err := p.FetchPage(ctx, pageIndex)

	p.mu.Lock()
	if seq != p.seq {
		p.mu.Unlock()
		slog.Debug("Discarding superseded gallery fetch", "scope", p.scope, "page", pageIndex)
		return
	}
	p.cancel = nil
	if err == nil {
		p.cursor = page.PageIndex
	} else {
		slog.Warn("Gallery fetch failed", "scope", p.scope, "page", pageIndex, "error", err)
	}
	p.enqueue(Update{Page: page, Err: err})
	p.mu.Unlock()

	p.drain()
}

// fail publishes err as the outcome of a move that never reached a fetch.
// It replaces any fetch still in flight.
func (p *Paginator) fail(err error) {
	p.mu.Lock()
	p.supersede()
	slog.Warn("Gallery page count failed", "scope", p.scope, "error", err)
	p.enqueue(Update{Err: err})
	p.mu.Unlock()

	p.drain()
}

// supersede cancels the in-flight fetch and returns the new sequence number.
// Callers hold p.mu.
func (p *Paginator) supersede() uint64 {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.seq++
	return p.seq
}

func (p *Paginator) enqueue(update Update) {
	listeners := append([]func(Update){}, p.listeners...)
	p.pending = append(p.pending, func() {
		for _, fn := range listeners {
			fn(update)
		}
	})
}

// drain delivers queued updates in commit order, outside the lock
func (p *Paginator) drain() {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.draining = true
	for len(p.pending) > 0 {
		fn := p.pending[0]
		p.pending = p.pending[1:]
		p.mu.Unlock()
		fn()
		p.mu.Lock()
	}
	p.draining = false
	p.mu.Unlock()
}
