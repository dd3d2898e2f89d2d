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

// GetUser returns the user with the given identity, or a NotFound error.
func (s *Store) GetUser(ctx context.Context, tag, origin string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tag, origin, name, read_access, write_access, last_login, modified
		FROM users WHERE tag = ? AND origin = ?
	`, tag, origin)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.CodeNotFound, "user not found").WithKey("user", tag+origin)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// GetUserByQualifiedTag resolves a qualified tag like "+user/alice@remote"
// into its (tag, origin) identity and loads the user.
func (s *Store) GetUserByQualifiedTag(ctx context.Context, qualified string) (*domain.User, error) {
	tag, origin := splitOrigin(qualified)
	return s.GetUser(ctx, tag, origin)
}

// PutUser inserts or overwrites a user. Idempotent on re-delivery.
func (s *Store) PutUser(ctx context.Context, user *domain.User) error {
	readAccess, err := marshalList(user.ReadAccess)
	if err != nil {
		return fmt.Errorf("marshal read access: %w", err)
	}
	writeAccess, err := marshalList(user.WriteAccess)
	if err != nil {
		return fmt.Errorf("marshal write access: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (tag, origin, name, read_access, write_access, last_login, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tag, origin) DO UPDATE SET
			name = excluded.name, read_access = excluded.read_access,
			write_access = excluded.write_access, last_login = excluded.last_login,
			modified = excluded.modified
	`,
		user.Tag, user.Origin, user.Name, readAccess, writeAccess,
		unixNano(user.LastLogin), unixNano(user.Modified),
	)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// DeleteUser removes a user. Idempotent.
func (s *Store) DeleteUser(ctx context.Context, tag, origin string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM users WHERE tag = ? AND origin = ?`, tag, origin)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// UsersModifiedAfter returns users of one origin modified strictly after
// the watermark, in increasing modified order, bounded by limit.
func (s *Store) UsersModifiedAfter(ctx context.Context, origin string, after time.Time, limit int) ([]*domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag, origin, name, read_access, write_access, last_login, modified
		FROM users WHERE origin = ? AND modified > ?
		ORDER BY modified ASC LIMIT ?
	`, origin, unixNano(after), noLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("query users: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func scanUser(row scanner) (*domain.User, error) {
	var user domain.User
	var readAccess, writeAccess []byte
	var lastLogin, modified int64
	err := row.Scan(&user.Tag, &user.Origin, &user.Name,
		&readAccess, &writeAccess, &lastLogin, &modified)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(readAccess, &user.ReadAccess); err != nil {
		return nil, fmt.Errorf("unmarshal read access: %w", err)
	}
	if err := json.Unmarshal(writeAccess, &user.WriteAccess); err != nil {
		return nil, fmt.Errorf("unmarshal write access: %w", err)
	}
	user.LastLogin = fromUnixNano(lastLogin)
	user.Modified = fromUnixNano(modified)
	return &user, nil
}

// splitOrigin separates the "@origin" suffix from a qualified tag.
func splitOrigin(qualified string) (tag, origin string) {
	for i := 0; i < len(qualified); i++ {
		if qualified[i] == '@' {
			return qualified[:i], qualified[i:]
		}
	}
	return qualified, ""
}

// noLimit maps a zero limit to SQLite's unbounded LIMIT sentinel.
func noLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
