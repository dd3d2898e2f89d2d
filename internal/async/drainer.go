// Package async runs tag-triggered background tasks.
//
// A handler registers against a "request" tag. The drainer polls for
// refs carrying a request tag without its protected completion
// counterpart, claims each by writing the "+"-prefixed tag through
// Ingest, and invokes the handler. The completion tag marks "claimed",
// not "succeeded": a handler error leaves the ref claimed permanently,
// the accepted trade-off for avoiding duplicate side effects from
// non-idempotent handlers.
//
// Response handlers register against a "response" tag and fire while no
// plugin-data entry is recorded under the protected form of the tag; no
// completion tag is written for them.
package async

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/weft/internal/domain"
	"github.com/roach88/weft/internal/ingest"
	"github.com/roach88/weft/internal/query"
	"github.com/roach88/weft/internal/store"
)

// DefaultInterval is the poll delay between drain ticks.
const DefaultInterval = 3 * time.Second

// Handler processes one ref. Handlers must be independently
// idempotent or retryable: the drainer's contract is "invoke at least
// once after claiming", not "invoke exactly once on success".
type Handler func(ctx context.Context, ref *domain.Ref) error

// Drainer polls refs for registered request and response tags.
type Drainer struct {
	store  *store.Store
	ingest *ingest.Ingest

	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	tags      map[string]Handler
	responses map[string]Handler

	// lastModified is the drain watermark: refs at or before it have
	// been visited. Advanced per ref, in modified order, so an older
	// unprocessed ref is never skipped.
	lastModified time.Time

	// ticking rejects overlapping ticks. A tick still running when the
	// next is due must be skipped, never run concurrently with itself,
	// since it mutates the watermark.
	ticking atomic.Bool
}

// Option configures a Drainer.
type Option func(*Drainer)

// WithInterval sets the poll delay between ticks.
func WithInterval(interval time.Duration) Option {
	return func(d *Drainer) {
		d.interval = interval
	}
}

// WithClock injects a time source. Tests use a deterministic clock.
func WithClock(now func() time.Time) Option {
	return func(d *Drainer) {
		d.now = now
	}
}

// New creates a Drainer. The watermark starts a day in the past so a
// restart re-scans recent refs; claimed refs are filtered out by the
// tracking query, so the re-scan is idempotent.
func New(s *store.Store, ing *ingest.Ingest, opts ...Option) *Drainer {
	d := &Drainer{
		store:     s,
		ingest:    ing,
		interval:  DefaultInterval,
		now:       time.Now,
		tags:      make(map[string]Handler),
		responses: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.lastModified = d.now().Add(-24 * time.Hour)
	return d
}

// AddAsyncTag registers a handler for a request tag.
func (d *Drainer) AddAsyncTag(t string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tags[t] = h
}

// AddAsyncResponse registers a handler for a response tag.
func (d *Drainer) AddAsyncResponse(t string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses[t] = h
}

// trackingQuery builds the selector query matching unhandled work:
// each request tag without its protected completion counterpart, OR
// any response tag. Deterministic order for logging and tests.
func (d *Drainer) trackingQuery() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	terms := make([]string, 0, len(d.tags)+len(d.responses))
	for t := range d.tags {
		terms = append(terms, t+":!+"+t)
	}
	for t := range d.responses {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return strings.Join(terms, "|")
}

// Run polls on a fixed interval until the context is cancelled.
func (d *Drainer) Run(ctx context.Context) {
	slog.Info("drainer starting", "interval", d.interval)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("drainer stopping")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one drain cycle: repeat the tracking query one ref at a
// time, in strictly increasing modified order, until nothing matches.
//
// Non-reentrant: a tick overlapping a still-running tick is skipped.
func (d *Drainer) Tick(ctx context.Context) {
	if len(d.tags) == 0 {
		return
	}
	if !d.ticking.CompareAndSwap(false, true) {
		return
	}
	defer d.ticking.Store(false)

	pred, err := query.Compile(d.trackingQuery())
	if err != nil {
		slog.Error("tracking query failed to compile", "error", err)
		return
	}

	for {
		refs, err := d.store.RefsModifiedAfter(ctx, store.RefQuery{
			ModifiedAfter: d.lastModified,
			Limit:         1,
			Where: func(ref *domain.Ref) bool {
				return pred(ref.Tags)
			},
		})
		if err != nil {
			slog.Error("drain query failed", "error", err)
			return
		}
		if len(refs) == 0 {
			return
		}
		d.drainRef(ctx, refs[0])
	}
}

// drainRef processes one matched ref: advance the watermark, claim and
// run request handlers, run response handlers.
func (d *Drainer) drainRef(ctx context.Context, ref *domain.Ref) {
	d.lastModified = ref.Modified

	d.mu.Lock()
	tags := make(map[string]Handler, len(d.tags))
	for t, h := range d.tags {
		tags[t] = h
	}
	responses := make(map[string]Handler, len(d.responses))
	for t, h := range d.responses {
		responses[t] = h
	}
	d.mu.Unlock()

	for t, handler := range tags {
		if !ref.HasTag(t) || ref.HasTag("+"+t) {
			continue
		}
		// Claim before invoking: the completion tag persists even when
		// the handler fails, so the ref is never double-processed.
		ref.AddTags([]string{"+" + t})
		if err := d.ingest.Update(ctx, ref); err != nil {
			slog.Error("claim failed", "tag", t, "url", ref.URL, "error", err)
			continue
		}
		if err := handler(ctx, ref); err != nil {
			slog.Error("async handler failed", "tag", t, "url", ref.URL, "error", err)
		}
	}

	for t, handler := range responses {
		if !ref.HasTag(t) || ref.HasPluginResponse("+"+t) {
			continue
		}
		if err := handler(ctx, ref); err != nil {
			slog.Error("async response handler failed", "tag", t, "url", ref.URL, "error", err)
		}
	}
}
