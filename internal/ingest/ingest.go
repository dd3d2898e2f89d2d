// Package ingest validates and persists refs.
//
// All ref mutation in the system funnels through here: interactive
// writes, the replication inbound merge, and the async drainer's claim
// writes. Ingest owns tag-hierarchy regeneration, the optimistic
// concurrency check, and the duplicate-modified retry, then fans out a
// change notification.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/weft/internal/domain"
	"github.com/roach88/weft/internal/errs"
	"github.com/roach88/weft/internal/store"
	"github.com/roach88/weft/internal/tag"
)

// maxModifiedRetries bounds the duplicate-modified retry loop. Each
// retry nudges the timestamp forward one microsecond, so collisions
// between concurrent writers resolve without operator help.
const maxModifiedRetries = 5

// Notifier receives change fan-out after a successful write. The
// replication outbound side uses this to wake early instead of waiting
// for its timer.
type Notifier interface {
	RefChanged(ref *domain.Ref)
}

// Ingest persists refs through the store port.
type Ingest struct {
	store    *store.Store
	notifier Notifier

	// now is the injected time source.
	now func() time.Time
}

// Option configures an Ingest.
type Option func(*Ingest)

// WithNotifier attaches a change fan-out hook.
func WithNotifier(n Notifier) Option {
	return func(i *Ingest) {
		i.notifier = n
	}
}

// WithClock injects a time source. Tests use a deterministic clock.
func WithClock(now func() time.Time) Option {
	return func(i *Ingest) {
		i.now = now
	}
}

// New creates an Ingest over the store.
func New(s *store.Store, opts ...Option) *Ingest {
	i := &Ingest{
		store: s,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest validates and persists a new ref.
//
// Regenerates hierarchical tags, stamps created/modified from the
// clock, and retries on a duplicate modified timestamp. The (url,
// origin) identity must not exist yet.
func (i *Ingest) Ingest(ctx context.Context, ref *domain.Ref) error {
	if err := validate(ref); err != nil {
		return err
	}
	ref.AddHierarchicalTags()
	now := i.now().UTC()
	ref.Created = now
	if ref.Published.IsZero() {
		ref.Published = now
	}
	for attempt := 0; ; attempt++ {
		ref.Modified = now.Add(time.Duration(attempt) * time.Microsecond)
		err := i.store.CreateRef(ctx, ref)
		if err == nil {
			break
		}
		if errs.IsDuplicateModified(err) && attempt < maxModifiedRetries {
			continue
		}
		return fmt.Errorf("ingest ref: %w", err)
	}
	i.notify(ref)
	return nil
}

// Update validates and persists changes to an existing ref.
//
// Enforces the optimistic concurrency check: the caller's modified
// timestamp, truncated to seconds, must match the stored value or the
// write fails with ModifiedConflict. The compare-and-swap against the
// exact stored timestamp closes the remaining race window.
func (i *Ingest) Update(ctx context.Context, ref *domain.Ref) error {
	if err := validate(ref); err != nil {
		return err
	}
	existing, err := i.store.GetRef(ctx, ref.URL, ref.Origin)
	if err != nil {
		return err
	}
	if !ref.Modified.Truncate(time.Second).Equal(existing.Modified.Truncate(time.Second)) {
		return errs.New(errs.CodeModifiedConflict, "modified timestamp is stale").
			WithKey("ref", ref.URL+ref.Origin)
	}
	ref.AddHierarchicalTags()
	ref.Created = existing.Created
	now := i.now().UTC()
	for attempt := 0; ; attempt++ {
		ref.Modified = now.Add(time.Duration(attempt) * time.Microsecond)
		err := i.store.CompareAndSwapRef(ctx, ref, existing.Modified)
		if err == nil {
			break
		}
		if errs.IsDuplicateModified(err) && attempt < maxModifiedRetries {
			continue
		}
		return fmt.Errorf("update ref: %w", err)
	}
	i.notify(ref)
	return nil
}

// IngestForeign merges a replicated foreign ref.
//
// The same validation and hierarchy rules as a local write apply, but
// the foreign modified timestamp is preserved: it is the replication
// cursor watermark. Re-delivery of an already-seen (url, origin,
// modified) tuple is a no-op overwrite.
func (i *Ingest) IngestForeign(ctx context.Context, ref *domain.Ref) error {
	if ref.Local() {
		return errs.New(errs.CodeForeignWrite, "foreign merge requires a foreign origin").
			WithKey("ref", ref.URL)
	}
	if err := validate(ref); err != nil {
		return err
	}
	ref.AddHierarchicalTags()
	if err := i.store.PutRef(ctx, ref); err != nil {
		return fmt.Errorf("merge foreign ref: %w", err)
	}
	i.notify(ref)
	return nil
}

// Delete removes a ref. Deleting an absent ref is success: delete is
// idempotent by contract.
func (i *Ingest) Delete(ctx context.Context, url, origin string) error {
	return i.store.DeleteRef(ctx, url, origin)
}

func (i *Ingest) notify(ref *domain.Ref) {
	if i.notifier != nil {
		i.notifier.RefChanged(ref)
	}
}

// validate rejects refs with no URL or unparseable tags before any
// mutation is attempted.
func validate(ref *domain.Ref) error {
	if ref.URL == "" {
		return fmt.Errorf("ref url is required")
	}
	for _, t := range ref.Tags {
		if _, err := tag.Parse(t); err != nil {
			return err
		}
	}
	return nil
}

// LogNotifier logs ref changes. The default fan-out when no replication
// wake-up is wired.
type LogNotifier struct{}

// RefChanged implements Notifier.
func (LogNotifier) RefChanged(ref *domain.Ref) {
	slog.Debug("ref changed", "url", ref.URL, "origin", ref.Origin, "modified", ref.Modified)
}
