package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/weft/internal/domain"
	"github.com/roach88/weft/internal/errs"
)

// RefPredicate filters refs in memory after the modified-ascending scan.
// Used to compose the auth read spec with query filters.
type RefPredicate func(*domain.Ref) bool

// RefQuery selects refs by watermark, origin, and predicate.
type RefQuery struct {
	// ModifiedAfter is the exclusive low-water-mark. Zero means all.
	ModifiedAfter time.Time

	// Origin restricts results to one origin when HasOrigin is set.
	// The empty string is a valid origin (local), hence the flag.
	Origin    string
	HasOrigin bool

	// Limit bounds the result count. Zero means no limit.
	Limit int

	// Where is applied to each candidate in modified order. Refs failing
	// the predicate are skipped and do not count against Limit.
	Where RefPredicate
}

// GetRef returns the ref with the given identity, or a NotFound error.
func (s *Store) GetRef(ctx context.Context, url, origin string) (*domain.Ref, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT url, origin, title, comment, tags, sources, plugins, published, created, modified
		FROM refs WHERE url = ? AND origin = ?
	`, url, origin)

	ref, err := scanRef(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.CodeNotFound, "ref not found").WithKey("ref", url+origin)
	}
	if err != nil {
		return nil, fmt.Errorf("get ref: %w", err)
	}
	return ref, nil
}

// RefExists reports whether a ref with the given identity is stored.
func (s *Store) RefExists(ctx context.Context, url, origin string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM refs WHERE url = ? AND origin = ?`, url, origin).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("ref exists: %w", err)
	}
	return n > 0, nil
}

// CreateRef inserts a new ref. Returns DuplicateModified if another ref
// in the same origin already carries the modified timestamp.
func (s *Store) CreateRef(ctx context.Context, ref *domain.Ref) error {
	tags, sources, plugins, err := marshalRefBlobs(ref)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO refs (url, origin, title, comment, tags, sources, plugins, published, created, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ref.URL, ref.Origin, ref.Title, ref.Comment, tags, sources, plugins,
		unixNano(ref.Published), unixNano(ref.Created), unixNano(ref.Modified),
	)
	if err != nil {
		return fmt.Errorf("create ref: %w", mapConstraintErr(err, "ref", ref.URL+ref.Origin))
	}
	return nil
}

// CompareAndSwapRef updates a ref only if its stored modified timestamp
// still equals expect. Returns ModifiedConflict when the guard fails.
//
// This is the single-writer discipline for refs: a live edit racing a
// replication merge cannot silently lose data because one of the two
// writers observes a stale watermark.
func (s *Store) CompareAndSwapRef(ctx context.Context, ref *domain.Ref, expect time.Time) error {
	tags, sources, plugins, err := marshalRefBlobs(ref)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE refs
		SET title = ?, comment = ?, tags = ?, sources = ?, plugins = ?, published = ?, modified = ?
		WHERE url = ? AND origin = ? AND modified = ?
	`,
		ref.Title, ref.Comment, tags, sources, plugins,
		unixNano(ref.Published), unixNano(ref.Modified),
		ref.URL, ref.Origin, unixNano(expect),
	)
	if err != nil {
		return fmt.Errorf("update ref: %w", mapConstraintErr(err, "ref", ref.URL+ref.Origin))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ref: %w", err)
	}
	if n == 0 {
		return errs.New(errs.CodeModifiedConflict, "stored modified timestamp changed").WithKey("ref", ref.URL+ref.Origin)
	}
	return nil
}

// PutRef inserts or overwrites a ref unconditionally. Used by the
// replication inbound merge, where re-delivery of an already-seen
// (url, origin, modified) tuple must be a no-op overwrite.
func (s *Store) PutRef(ctx context.Context, ref *domain.Ref) error {
	tags, sources, plugins, err := marshalRefBlobs(ref)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO refs (url, origin, title, comment, tags, sources, plugins, published, created, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url, origin) DO UPDATE SET
			title = excluded.title, comment = excluded.comment,
			tags = excluded.tags, sources = excluded.sources,
			plugins = excluded.plugins, published = excluded.published,
			modified = excluded.modified
	`,
		ref.URL, ref.Origin, ref.Title, ref.Comment, tags, sources, plugins,
		unixNano(ref.Published), unixNano(ref.Created), unixNano(ref.Modified),
	)
	if err != nil {
		return fmt.Errorf("put ref: %w", err)
	}
	return nil
}

// DeleteRef removes a ref. Deleting an absent ref is a no-op: delete is
// idempotent by contract.
func (s *Store) DeleteRef(ctx context.Context, url, origin string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM refs WHERE url = ? AND origin = ?`, url, origin)
	if err != nil {
		return fmt.Errorf("delete ref: %w", err)
	}
	return nil
}

// RefsModifiedAfter returns refs matching the query in strictly
// increasing modified order.
func (s *Store) RefsModifiedAfter(ctx context.Context, q RefQuery) ([]*domain.Ref, error) {
	query := `
		SELECT url, origin, title, comment, tags, sources, plugins, published, created, modified
		FROM refs WHERE modified > ?
	`
	args := []any{unixNano(q.ModifiedAfter)}
	if q.HasOrigin {
		query += ` AND origin = ?`
		args = append(args, q.Origin)
	}
	query += ` ORDER BY modified ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query refs: %w", err)
	}
	defer rows.Close()

	var refs []*domain.Ref
	for rows.Next() {
		ref, err := scanRef(rows)
		if err != nil {
			return nil, fmt.Errorf("query refs: %w", err)
		}
		if q.Where != nil && !q.Where(ref) {
			continue
		}
		refs = append(refs, ref)
		if q.Limit > 0 && len(refs) == q.Limit {
			break
		}
	}
	return refs, rows.Err()
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRef(row scanner) (*domain.Ref, error) {
	var ref domain.Ref
	var tags, sources, plugins []byte
	var published, created, modified int64
	err := row.Scan(&ref.URL, &ref.Origin, &ref.Title, &ref.Comment,
		&tags, &sources, &plugins, &published, &created, &modified)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tags, &ref.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal(sources, &ref.Sources); err != nil {
		return nil, fmt.Errorf("unmarshal sources: %w", err)
	}
	if err := json.Unmarshal(plugins, &ref.Plugins); err != nil {
		return nil, fmt.Errorf("unmarshal plugins: %w", err)
	}
	ref.Published = fromUnixNano(published)
	ref.Created = fromUnixNano(created)
	ref.Modified = fromUnixNano(modified)
	return &ref, nil
}

func marshalRefBlobs(ref *domain.Ref) (tags, sources, plugins []byte, err error) {
	if tags, err = marshalList(ref.Tags); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal tags: %w", err)
	}
	if sources, err = marshalList(ref.Sources); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal sources: %w", err)
	}
	if ref.Plugins == nil {
		plugins = []byte("{}")
	} else if plugins, err = json.Marshal(ref.Plugins); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal plugins: %w", err)
	}
	return tags, sources, plugins, nil
}

// marshalList renders nil as the empty JSON array so column values are
// never NULL.
func marshalList(list []string) ([]byte, error) {
	if list == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(list)
}
