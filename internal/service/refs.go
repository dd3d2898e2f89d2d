// Package service is the guarded operation surface.
//
// Authorization is expressed as explicit calls to the access decision
// engine at the start of every operation (or, for reads, as a
// post-fetch check or an injected query predicate), never as framework
// annotations. Denials fail fast, before any mutation is attempted.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/roach88/weft/internal/auth"
	"github.com/roach88/weft/internal/domain"
	"github.com/roach88/weft/internal/errs"
	"github.com/roach88/weft/internal/ingest"
	"github.com/roach88/weft/internal/query"
	"github.com/roach88/weft/internal/store"
)

// Refs serves interactive ref operations for one request.
type Refs struct {
	auth   *auth.Auth
	store  *store.Store
	ingest *ingest.Ingest
}

// NewRefs creates the ref service for one request's auth context.
func NewRefs(a *auth.Auth, s *store.Store, ing *ingest.Ingest) *Refs {
	return &Refs{auth: a, store: s, ingest: ing}
}

// Create persists a new local ref. Foreign identities are rejected with
// ForeignWrite: foreign data arrives only through replication.
func (r *Refs) Create(ctx context.Context, ref *domain.Ref) error {
	if !r.auth.CanWriteRef(ctx, ref) {
		return errs.New(errs.CodeAccessDenied, "cannot write ref").WithKey("ref", ref.URL)
	}
	if !ref.Local() {
		return errs.New(errs.CodeForeignWrite, "cannot create foreign ref locally").WithKey("ref", ref.URL+ref.Origin)
	}
	return r.ingest.Ingest(ctx, ref)
}

// Get returns one ref after a post-fetch read check. The caller sees
// only the tags they can read.
func (r *Refs) Get(ctx context.Context, url, origin string) (*domain.Ref, error) {
	ref, err := r.store.GetRef(ctx, url, origin)
	if err != nil {
		return nil, err
	}
	if !r.auth.CanReadRef(ctx, ref) {
		return nil, errs.New(errs.CodeAccessDenied, "cannot read ref").WithKey("ref", url+origin)
	}
	ref.Tags = r.auth.FilterTags(ctx, ref.Tags)
	return ref, nil
}

// PageFilter selects refs for Page.
type PageFilter struct {
	// Query is a selector query string; empty matches everything.
	Query string

	// ModifiedAfter bounds results to newer refs when set.
	ModifiedAfter time.Time

	// Limit bounds the page size.
	Limit int
}

// Page lists readable refs matching the filter, modified-ascending.
//
// The read spec predicate is injected before execution, so unreadable
// refs never leave the store layer; visible refs are additionally
// stripped of tags the caller cannot read.
func (r *Refs) Page(ctx context.Context, filter PageFilter) ([]*domain.Ref, error) {
	ok, err := r.auth.CanReadQuery(ctx, filter.Query)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.CodeAccessDenied, "cannot read query").WithKey("query", filter.Query)
	}
	filterPred, err := query.Compile(filter.Query)
	if err != nil {
		return nil, err
	}
	readSpec := r.auth.RefReadSpec(ctx)
	refs, err := r.store.RefsModifiedAfter(ctx, store.RefQuery{
		ModifiedAfter: filter.ModifiedAfter,
		Limit:         filter.Limit,
		Where: func(ref *domain.Ref) bool {
			return readSpec(ref) && filterPred(ref.QualifiedTags())
		},
	})
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		ref.Tags = r.auth.FilterTags(ctx, ref.Tags)
	}
	return refs, nil
}

// Update persists changes to an existing local ref.
//
// Tags the editor could not see are merged back before the write, so an
// edit cycle never silently deletes hidden tags. The stale-timestamp
// check itself lives in Ingest.
func (r *Refs) Update(ctx context.Context, ref *domain.Ref) error {
	if !r.auth.CanWriteRef(ctx, ref) {
		return errs.New(errs.CodeAccessDenied, "cannot write ref").WithKey("ref", ref.URL)
	}
	if !ref.Local() {
		return errs.New(errs.CodeForeignWrite, "cannot update foreign ref locally").WithKey("ref", ref.URL+ref.Origin)
	}
	existing, err := r.store.GetRef(ctx, ref.URL, ref.Origin)
	if err != nil {
		return err
	}
	ref.AddTags(r.auth.HiddenTags(ctx, existing.Tags))
	return r.ingest.Update(ctx, ref)
}

// Tag toggles one tag on the local ref at url. A "-tag" argument
// removes the tag instead.
func (r *Refs) Tag(ctx context.Context, t, url string) error {
	// A removal is checked against the tag being removed.
	check := strings.TrimPrefix(t, "-")
	if !r.auth.CanTag(ctx, check, url) {
		return errs.New(errs.CodeAccessDenied, "cannot tag ref").WithKey("ref", url)
	}
	existing, err := r.store.GetRef(ctx, url, "")
	if err != nil {
		return err
	}
	existing.AddTags([]string{t})
	return r.ingest.Update(ctx, existing)
}

// Delete removes the local ref at url. Deleting an absent ref is
// success: delete is idempotent.
func (r *Refs) Delete(ctx context.Context, url string) error {
	if !r.auth.CanWriteRefURL(ctx, url) {
		return errs.New(errs.CodeAccessDenied, "cannot write ref").WithKey("ref", url)
	}
	return r.ingest.Delete(ctx, url, "")
}
