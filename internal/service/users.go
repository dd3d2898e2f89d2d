package service

import (
	"context"
	"time"

	"github.com/roach88/weft/internal/auth"
	"github.com/roach88/weft/internal/domain"
	"github.com/roach88/weft/internal/errs"
	"github.com/roach88/weft/internal/store"
)

// Users serves interactive user operations for one request.
type Users struct {
	auth  *auth.Auth
	store *store.Store

	// now is the injected time source for modified stamping.
	now func() time.Time
}

// NewUsers creates the user service for one request's auth context.
func NewUsers(a *auth.Auth, s *store.Store) *Users {
	return &Users{auth: a, store: s, now: time.Now}
}

// WithClock injects a time source. Tests use a deterministic clock.
func (u *Users) WithClock(now func() time.Time) *Users {
	u.now = now
	return u
}

// Get returns one user after a post-fetch read check on its tag.
func (u *Users) Get(ctx context.Context, qualified string) (*domain.User, error) {
	user, err := u.store.GetUserByQualifiedTag(ctx, qualified)
	if err != nil {
		return nil, err
	}
	if !u.auth.CanReadTag(ctx, user.QualifiedTag()) {
		return nil, errs.New(errs.CodeAccessDenied, "cannot read user").WithKey("user", qualified)
	}
	return user, nil
}

// Put creates or updates a local user record.
//
// CanWriteUser enforces the access-list rules: no public selectors, and
// newly granted selectors require the grantor to hold write access.
func (u *Users) Put(ctx context.Context, user *domain.User) error {
	if !u.auth.CanWriteUser(ctx, user) {
		return errs.New(errs.CodeAccessDenied, "cannot write user").WithKey("user", user.QualifiedTag())
	}
	if !user.Local() {
		return errs.New(errs.CodeForeignWrite, "cannot write foreign user locally").WithKey("user", user.QualifiedTag())
	}
	user.Modified = u.now().UTC()
	return u.store.PutUser(ctx, user)
}

// Delete removes a local user. Idempotent: deleting an absent user is
// success.
func (u *Users) Delete(ctx context.Context, qualified string) error {
	if !u.auth.CanWriteTag(ctx, qualified) {
		return errs.New(errs.CodeAccessDenied, "cannot write user").WithKey("user", qualified)
	}
	user, err := u.store.GetUserByQualifiedTag(ctx, qualified)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil
		}
		return err
	}
	return u.store.DeleteUser(ctx, user.Tag, user.Origin)
}
