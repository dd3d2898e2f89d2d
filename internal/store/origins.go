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

// Direction distinguishes the two replication flows a cursor tracks.
type Direction string

const (
	// DirectionPull tracks the max modified timestamp already ingested
	// from a foreign origin.
	DirectionPull Direction = "pull"

	// DirectionPush tracks the foreign origin's last acknowledged
	// cursor for local entities.
	DirectionPush Direction = "push"
)

// GetOrigin returns the origin with the given name, or a NotFound error.
func (s *Store) GetOrigin(ctx context.Context, name string) (*domain.Origin, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, url, pull_interval, batch_size, add_tags, remove_tags, modified
		FROM origins WHERE name = ?
	`, name)

	origin, err := scanOrigin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.CodeNotFound, "origin not found").WithKey("origin", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get origin: %w", err)
	}
	return origin, nil
}

// PutOrigin inserts or overwrites an origin.
func (s *Store) PutOrigin(ctx context.Context, origin *domain.Origin) error {
	addTags, err := marshalList(origin.AddTags)
	if err != nil {
		return fmt.Errorf("marshal add tags: %w", err)
	}
	removeTags, err := marshalList(origin.RemoveTags)
	if err != nil {
		return fmt.Errorf("marshal remove tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO origins (name, url, pull_interval, batch_size, add_tags, remove_tags, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			url = excluded.url, pull_interval = excluded.pull_interval,
			batch_size = excluded.batch_size, add_tags = excluded.add_tags,
			remove_tags = excluded.remove_tags, modified = excluded.modified
	`,
		origin.Name, origin.URL, int64(origin.PullInterval), origin.BatchSize,
		addTags, removeTags, unixNano(origin.Modified),
	)
	if err != nil {
		return fmt.Errorf("put origin: %w", err)
	}
	return nil
}

// DeleteOrigin removes an origin and its cursors. Idempotent.
func (s *Store) DeleteOrigin(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM origins WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete origin: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cursors WHERE origin = ?`, name); err != nil {
		return fmt.Errorf("delete origin cursors: %w", err)
	}
	return nil
}

// ListOrigins returns all configured origins ordered by name.
func (s *Store) ListOrigins(ctx context.Context) ([]*domain.Origin, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, url, pull_interval, batch_size, add_tags, remove_tags, modified
		FROM origins ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list origins: %w", err)
	}
	defer rows.Close()

	var origins []*domain.Origin
	for rows.Next() {
		origin, err := scanOrigin(rows)
		if err != nil {
			return nil, fmt.Errorf("list origins: %w", err)
		}
		origins = append(origins, origin)
	}
	return origins, rows.Err()
}

// GetCursor returns the replication watermark for (origin, kind,
// direction). Absent cursors return the zero time, the sentinel in the
// distant past.
func (s *Store) GetCursor(ctx context.Context, origin, kind string, dir Direction) (time.Time, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx, `
		SELECT cursor FROM cursors WHERE origin = ? AND kind = ? AND direction = ?
	`, origin, kind, string(dir)).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get cursor: %w", err)
	}
	return fromUnixNano(cursor), nil
}

// SetCursor stores the replication watermark for (origin, kind,
// direction). Only the replication client calls this, after a fully
// ingested or fully acknowledged batch.
func (s *Store) SetCursor(ctx context.Context, origin, kind string, dir Direction, cursor time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (origin, kind, direction, cursor)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(origin, kind, direction) DO UPDATE SET cursor = excluded.cursor
	`, origin, kind, string(dir), unixNano(cursor))
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

func scanOrigin(row scanner) (*domain.Origin, error) {
	var origin domain.Origin
	var addTags, removeTags []byte
	var pullInterval, modified int64
	err := row.Scan(&origin.Name, &origin.URL, &pullInterval, &origin.BatchSize,
		&addTags, &removeTags, &modified)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(addTags, &origin.AddTags); err != nil {
		return nil, fmt.Errorf("unmarshal add tags: %w", err)
	}
	if err := json.Unmarshal(removeTags, &origin.RemoveTags); err != nil {
		return nil, fmt.Errorf("unmarshal remove tags: %w", err)
	}
	origin.PullInterval = time.Duration(pullInterval)
	origin.Modified = fromUnixNano(modified)
	return &origin, nil
}
