package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/weft/internal/domain"
	"github.com/roach88/weft/internal/errs"
)

// The ext, plugin, and template tables share one shape: a tag-keyed
// metadata record with a config blob and a modified cursor. One set of
// row helpers serves all three; the typed methods below adapt them to
// the domain structs.

type tagRecord struct {
	Tag      string
	Origin   string
	Name     string
	Config   []byte
	Modified time.Time
}

func (s *Store) getRecord(ctx context.Context, table, tag, origin string) (*tagRecord, error) {
	// table is one of the compile-time constants below, never user input.
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT tag, origin, name, config, modified FROM %s WHERE tag = ? AND origin = ?
	`, table), tag, origin)

	var rec tagRecord
	var modified int64
	err := row.Scan(&rec.Tag, &rec.Origin, &rec.Name, &rec.Config, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.CodeNotFound, table+" record not found").WithKey(table, tag+origin)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	rec.Modified = fromUnixNano(modified)
	return &rec, nil
}

func (s *Store) putRecord(ctx context.Context, table string, rec *tagRecord) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (tag, origin, name, config, modified)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tag, origin) DO UPDATE SET
			name = excluded.name, config = excluded.config, modified = excluded.modified
	`, table), rec.Tag, rec.Origin, rec.Name, rec.Config, unixNano(rec.Modified))
	if err != nil {
		return fmt.Errorf("put %s: %w", table, err)
	}
	return nil
}

func (s *Store) deleteRecord(ctx context.Context, table, tag, origin string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE tag = ? AND origin = ?`, table), tag, origin)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

func (s *Store) recordsModifiedAfter(ctx context.Context, table, origin string, after time.Time, limit int) ([]*tagRecord, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT tag, origin, name, config, modified FROM %s
		WHERE origin = ? AND modified > ?
		ORDER BY modified ASC LIMIT ?
	`, table), origin, unixNano(after), noLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var recs []*tagRecord
	for rows.Next() {
		var rec tagRecord
		var modified int64
		if err := rows.Scan(&rec.Tag, &rec.Origin, &rec.Name, &rec.Config, &modified); err != nil {
			return nil, fmt.Errorf("query %s: %w", table, err)
		}
		rec.Modified = fromUnixNano(modified)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

const (
	tableExts      = "exts"
	tablePlugins   = "plugins"
	tableTemplates = "templates"
)

// GetExt returns tag-extension metadata, or a NotFound error.
func (s *Store) GetExt(ctx context.Context, tag, origin string) (*domain.Ext, error) {
	rec, err := s.getRecord(ctx, tableExts, tag, origin)
	if err != nil {
		return nil, err
	}
	return &domain.Ext{Tag: rec.Tag, Origin: rec.Origin, Name: rec.Name, Config: rec.Config, Modified: rec.Modified}, nil
}

// PutExt inserts or overwrites ext metadata. Idempotent on re-delivery.
func (s *Store) PutExt(ctx context.Context, ext *domain.Ext) error {
	return s.putRecord(ctx, tableExts, &tagRecord{
		Tag: ext.Tag, Origin: ext.Origin, Name: ext.Name, Config: ext.Config, Modified: ext.Modified,
	})
}

// DeleteExt removes ext metadata. Idempotent.
func (s *Store) DeleteExt(ctx context.Context, tag, origin string) error {
	return s.deleteRecord(ctx, tableExts, tag, origin)
}

// ExtsModifiedAfter returns ext records of one origin past the
// watermark, modified-ascending, bounded by limit.
func (s *Store) ExtsModifiedAfter(ctx context.Context, origin string, after time.Time, limit int) ([]*domain.Ext, error) {
	recs, err := s.recordsModifiedAfter(ctx, tableExts, origin, after, limit)
	if err != nil {
		return nil, err
	}
	exts := make([]*domain.Ext, len(recs))
	for i, rec := range recs {
		exts[i] = &domain.Ext{Tag: rec.Tag, Origin: rec.Origin, Name: rec.Name, Config: rec.Config, Modified: rec.Modified}
	}
	return exts, nil
}

// GetPlugin returns a plugin declaration, or a NotFound error.
func (s *Store) GetPlugin(ctx context.Context, tag, origin string) (*domain.Plugin, error) {
	rec, err := s.getRecord(ctx, tablePlugins, tag, origin)
	if err != nil {
		return nil, err
	}
	return &domain.Plugin{Tag: rec.Tag, Origin: rec.Origin, Name: rec.Name, Schema: rec.Config, Modified: rec.Modified}, nil
}

// PutPlugin inserts or overwrites a plugin declaration.
func (s *Store) PutPlugin(ctx context.Context, plugin *domain.Plugin) error {
	return s.putRecord(ctx, tablePlugins, &tagRecord{
		Tag: plugin.Tag, Origin: plugin.Origin, Name: plugin.Name, Config: plugin.Schema, Modified: plugin.Modified,
	})
}

// DeletePlugin removes a plugin declaration. Idempotent.
func (s *Store) DeletePlugin(ctx context.Context, tag, origin string) error {
	return s.deleteRecord(ctx, tablePlugins, tag, origin)
}

// PluginsModifiedAfter returns plugin records of one origin past the
// watermark, modified-ascending, bounded by limit.
func (s *Store) PluginsModifiedAfter(ctx context.Context, origin string, after time.Time, limit int) ([]*domain.Plugin, error) {
	recs, err := s.recordsModifiedAfter(ctx, tablePlugins, origin, after, limit)
	if err != nil {
		return nil, err
	}
	plugins := make([]*domain.Plugin, len(recs))
	for i, rec := range recs {
		plugins[i] = &domain.Plugin{Tag: rec.Tag, Origin: rec.Origin, Name: rec.Name, Schema: rec.Config, Modified: rec.Modified}
	}
	return plugins, nil
}

// GetTemplate returns a template declaration, or a NotFound error.
func (s *Store) GetTemplate(ctx context.Context, tag, origin string) (*domain.Template, error) {
	rec, err := s.getRecord(ctx, tableTemplates, tag, origin)
	if err != nil {
		return nil, err
	}
	return &domain.Template{Tag: rec.Tag, Origin: rec.Origin, Name: rec.Name, Schema: rec.Config, Modified: rec.Modified}, nil
}

// PutTemplate inserts or overwrites a template declaration.
func (s *Store) PutTemplate(ctx context.Context, template *domain.Template) error {
	return s.putRecord(ctx, tableTemplates, &tagRecord{
		Tag: template.Tag, Origin: template.Origin, Name: template.Name, Config: template.Schema, Modified: template.Modified,
	})
}

// DeleteTemplate removes a template declaration. Idempotent.
func (s *Store) DeleteTemplate(ctx context.Context, tag, origin string) error {
	return s.deleteRecord(ctx, tableTemplates, tag, origin)
}

// TemplatesModifiedAfter returns template records of one origin past the
// watermark, modified-ascending, bounded by limit.
func (s *Store) TemplatesModifiedAfter(ctx context.Context, origin string, after time.Time, limit int) ([]*domain.Template, error) {
	recs, err := s.recordsModifiedAfter(ctx, tableTemplates, origin, after, limit)
	if err != nil {
		return nil, err
	}
	templates := make([]*domain.Template, len(recs))
	for i, rec := range recs {
		templates[i] = &domain.Template{Tag: rec.Tag, Origin: rec.Origin, Name: rec.Name, Schema: rec.Config, Modified: rec.Modified}
	}
	return templates, nil
}
