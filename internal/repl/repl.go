// Package repl implements cross-origin replication.
//
// Per foreign origin, per entity type, two independent flows keep the
// local mirror eventually consistent: Pull reads foreign entities
// modified after a stored cursor and merges them locally; Push sends
// local entities the foreign side has not acknowledged yet. Both flows
// are idempotent under re-delivery, so the cursor is a monotonic
// low-water-mark, not a dedup index.
//
// Network and foreign-side errors abort the current batch without
// advancing the cursor past the last success; the next scheduled round
// retries from the same watermark. This is a liveness guarantee, not a
// latency guarantee.
package repl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/weft/internal/domain"
	"github.com/roach88/weft/internal/ingest"
	"github.com/roach88/weft/internal/store"
)

// Entity type names, shared by the cursor table and the wire paths.
const (
	KindRef      = "ref"
	KindExt      = "ext"
	KindUser     = "user"
	KindPlugin   = "plugin"
	KindTemplate = "template"
)

// Kinds lists every replicated entity type.
var Kinds = []string{KindRef, KindExt, KindUser, KindPlugin, KindTemplate}

// DefaultBatchSize bounds entities per request when the origin config
// leaves it unset.
const DefaultBatchSize = 50

// Client is the transport port to one foreign origin's replication API.
// The wire payloads are plain per-entity-type lists plus a single
// cursor timestamp.
type Client interface {
	// Pull decodes the foreign entities of one type modified strictly
	// after the watermark, modified-ascending, into out (a pointer to a
	// slice of the entity type).
	Pull(ctx context.Context, kind string, after time.Time, limit int, out any) error

	// Cursor returns the foreign side's stored watermark for entities
	// from the named origin. Used to initialize a missing push cursor.
	Cursor(ctx context.Context, kind, origin string) (time.Time, error)

	// Push delivers a batch of local entities to the foreign side.
	Push(ctx context.Context, kind string, batch any) error
}

// ClientFactory builds a transport for an origin. Injected so tests can
// substitute a fake foreign deployment.
type ClientFactory func(origin *domain.Origin) Client

// Replicator drives pull and push rounds for every configured origin.
type Replicator struct {
	store     *store.Store
	ingest    *ingest.Ingest
	newClient ClientFactory

	// localName is how foreign origins know this deployment, e.g.
	// "@home". Sent when asking the foreign side for its cursor.
	localName string

	// Cursor records are read-modify-write; one lock per
	// (origin, kind, direction) keeps concurrent rounds for the same
	// stream from racing the watermark backwards.
	mu      sync.Mutex
	cursors map[string]*sync.Mutex
}

// New creates a Replicator.
func New(s *store.Store, ing *ingest.Ingest, localName string, factory ClientFactory) *Replicator {
	return &Replicator{
		store:     s,
		ingest:    ing,
		newClient: factory,
		localName: localName,
		cursors:   make(map[string]*sync.Mutex),
	}
}

// cursorLock returns the lock guarding one cursor record.
func (r *Replicator) cursorLock(origin, kind string, dir store.Direction) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := origin + "/" + kind + "/" + string(dir)
	if r.cursors[key] == nil {
		r.cursors[key] = &sync.Mutex{}
	}
	return r.cursors[key]
}

// Round runs one pull and one push for every entity type of the origin.
// Errors are logged and swallowed: replication failures are never
// surfaced to an interactive caller, only retried next round.
func (r *Replicator) Round(ctx context.Context, origin *domain.Origin) {
	round := uuid.NewString()
	client := r.newClient(origin)
	for _, kind := range Kinds {
		if err := r.Pull(ctx, origin, client, kind); err != nil {
			slog.Warn("pull failed", "round", round, "origin", origin.Name, "kind", kind, "error", err)
		}
		if err := r.Push(ctx, origin, client, kind); err != nil {
			slog.Warn("push failed", "round", round, "origin", origin.Name, "kind", kind, "error", err)
		}
	}
	slog.Debug("replication round finished", "round", round, "origin", origin.Name)
}

// Pull replicates one entity type inbound from the origin.
//
// Batches are requested modified-ascending so a crash mid-batch resumes
// without gaps. The stored cursor only ever advances to the modified
// time of the last successfully merged entity.
func (r *Replicator) Pull(ctx context.Context, origin *domain.Origin, client Client, kind string) error {
	lock := r.cursorLock(origin.Name, kind, store.DirectionPull)
	lock.Lock()
	defer lock.Unlock()

	stream, err := r.stream(kind)
	if err != nil {
		return err
	}

	cursor, err := r.store.GetCursor(ctx, origin.Name, kind, store.DirectionPull)
	if err != nil {
		return err
	}
	batchSize := origin.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	for {
		n, last, err := stream.pullBatch(ctx, client, origin, cursor, batchSize)
		if n > 0 {
			// Persist the low-water-mark even when the batch failed
			// partway: everything up to last is merged.
			if serr := r.store.SetCursor(ctx, origin.Name, kind, store.DirectionPull, last); serr != nil {
				return serr
			}
			cursor = last
		}
		if err != nil {
			return err
		}
		if n < batchSize {
			return nil
		}
	}
}

// Push replicates one entity type outbound to the origin.
//
// The locally tracked push cursor is the foreign side's last
// acknowledged watermark; it only advances after the foreign side
// accepts the batch. A missing local record is initialized from the
// foreign cursor endpoint.
func (r *Replicator) Push(ctx context.Context, origin *domain.Origin, client Client, kind string) error {
	lock := r.cursorLock(origin.Name, kind, store.DirectionPush)
	lock.Lock()
	defer lock.Unlock()

	stream, err := r.stream(kind)
	if err != nil {
		return err
	}

	cursor, err := r.store.GetCursor(ctx, origin.Name, kind, store.DirectionPush)
	if err != nil {
		return err
	}
	if cursor.IsZero() {
		remote, err := client.Cursor(ctx, kind, r.localName)
		if err != nil {
			return err
		}
		cursor = remote
	}
	batchSize := origin.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	for {
		n, last, err := stream.pushBatch(ctx, client, r.store, cursor, batchSize)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		// Foreign side acknowledged receipt; advance the local record.
		if err := r.store.SetCursor(ctx, origin.Name, kind, store.DirectionPush, last); err != nil {
			return err
		}
		cursor = last
		if n < batchSize {
			return nil
		}
	}
}
