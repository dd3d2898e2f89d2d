// Package auth is the access decision engine.
//
// One Auth value serves one request: it resolves the caller's role and
// user record (lazily, cached for the request's lifetime) and answers
// read/write/query-visibility questions using tag capture semantics.
//
// Every denial path returns false. The engine raises no errors of its
// own except malformed-tag parse failures, which surface through
// CanReadQuery so callers can tell "denied" from "unparseable".
package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/roach88/weft/internal/domain"
	"github.com/roach88/weft/internal/errs"
	"github.com/roach88/weft/internal/query"
	"github.com/roach88/weft/internal/tag"
)

// Principal is the authenticated caller: the output of whatever token
// verification ran upstream. The user tag carries the visibility prefix,
// e.g. "+user/alice" or "_user/alice".
type Principal struct {
	UserTag string
	Role    Role
}

// UserLoader resolves qualified user tags to stored user records.
// Implemented by the store.
type UserLoader interface {
	GetUserByQualifiedTag(ctx context.Context, qualified string) (*domain.User, error)
}

// RefLoader resolves ref identities to stored refs.
// Implemented by the store.
type RefLoader interface {
	GetRef(ctx context.Context, url, origin string) (*domain.Ref, error)
}

// Auth answers access decisions for a single request.
//
// Not safe for concurrent use: the per-request user cache is unguarded
// by design, matching the one-request-one-Auth lifecycle.
type Auth struct {
	principal Principal
	users     UserLoader
	refs      RefLoader

	// lockOverride is the minimum role that may edit a locked ref.
	// Zero (RoleAnon) disables override entirely: locks bind everyone,
	// which is the behavior the system's own tests exercise.
	lockOverride Role
	hasOverride  bool

	// Per-request cache: the user record is loaded at most once.
	user       *domain.User
	userLoaded bool
}

// Option configures an Auth.
type Option func(*Auth)

// WithLockOverrideRole sets the minimum role that may bypass the lock
// tag. Who overrides a lock is an operator decision, not a fixed rule.
func WithLockOverrideRole(role Role) Option {
	return func(a *Auth) {
		a.lockOverride = role
		a.hasOverride = true
	}
}

// New creates the access decision engine for one request.
func New(principal Principal, users UserLoader, refs RefLoader, opts ...Option) *Auth {
	a := &Auth{
		principal: principal,
		users:     users,
		refs:      refs,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HasRole reports whether the caller's role meets or exceeds role.
func (a *Auth) HasRole(role Role) bool {
	return a.principal.Role.AtLeast(role)
}

// UserTag returns the caller's qualified user tag.
func (a *Auth) UserTag() string {
	return a.principal.UserTag
}

// User returns the caller's stored user record, or nil when absent.
// Loaded once per request and cached for its duration.
func (a *Auth) User(ctx context.Context) *domain.User {
	if a.userLoaded {
		return a.user
	}
	a.userLoaded = true
	if a.principal.UserTag == "" || a.users == nil {
		return nil
	}
	user, err := a.users.GetUserByQualifiedTag(ctx, a.principal.UserTag)
	if err != nil {
		if !errs.IsNotFound(err) {
			slog.Warn("user lookup failed", "tag", a.principal.UserTag, "error", err)
		}
		return nil
	}
	a.user = user
	return a.user
}

// ReadAccess returns the caller's read-access selector list.
func (a *Auth) ReadAccess(ctx context.Context) []string {
	if user := a.User(ctx); user != nil {
		return user.ReadAccess
	}
	return nil
}

// WriteAccess returns the caller's write-access selector list.
func (a *Auth) WriteAccess(ctx context.Context) []string {
	if user := a.User(ctx); user != nil {
		return user.WriteAccess
	}
	return nil
}

// CanReadRef decides read access to a ref.
//
// Moderators read everything. The public tag makes a ref readable by
// any role, anonymous included. Otherwise a user reads a ref owned by
// their user tag or captured by a read-access selector.
func (a *Auth) CanReadRef(ctx context.Context, ref *domain.Ref) bool {
	if a.HasRole(RoleMod) {
		return true
	}
	if len(ref.Tags) == 0 {
		return false
	}
	if ref.HasTag(domain.PublicTag) {
		return true
	}
	if !a.HasRole(RoleUser) {
		return false
	}
	qualified := ref.QualifiedTags()
	if tag.Contains(qualified, a.UserTag()) {
		return true
	}
	return tag.AnyCaptures(a.ReadAccess(ctx), nonPublic(qualified))
}

// CanReadRefURL decides read access to the local ref at url.
// Absent refs are unreadable, not an error.
func (a *Auth) CanReadRefURL(ctx context.Context, url string) bool {
	if a.HasRole(RoleMod) {
		return true
	}
	existing, err := a.refs.GetRef(ctx, url, "")
	if err != nil {
		return false
	}
	return a.CanReadRef(ctx, existing)
}

// CanWriteRef decides write access for the full incoming ref: the
// caller must be able to write the identity, and every newly introduced
// non-public tag must independently pass CanAddTag. This prevents a
// writer from laundering a private tag they cannot read into a ref they
// can otherwise edit.
func (a *Auth) CanWriteRef(ctx context.Context, ref *domain.Ref) bool {
	if !a.CanWriteRefURL(ctx, ref.URL) {
		return false
	}
	var existingTags []string
	if existing, err := a.refs.GetRef(ctx, ref.URL, ""); err == nil {
		existingTags = existing.QualifiedNonPublicTags()
	}
	for _, t := range tag.NewTags(ref.QualifiedNonPublicTags(), existingTags) {
		if !a.CanAddTag(ctx, t) {
			return false
		}
	}
	return true
}

// CanWriteRefURL decides write access to the local ref identity at url.
//
// A missing ref is writable by any user (creation). An existing ref
// requires ownership, a capturing write-access selector, or moderator
// role. The lock tag denies every edit below the configured override
// role; ownership does not bypass a lock.
func (a *Auth) CanWriteRefURL(ctx context.Context, url string) bool {
	if !a.HasRole(RoleUser) {
		return false
	}
	existing, err := a.refs.GetRef(ctx, url, "")
	if err != nil {
		return errs.IsNotFound(err)
	}
	if len(existing.Tags) == 0 {
		return false
	}
	if existing.HasTag(domain.LockedTag) {
		if !a.hasOverride || !a.HasRole(a.lockOverride) {
			return false
		}
	}
	if a.HasRole(RoleMod) {
		return true
	}
	qualified := existing.QualifiedTags()
	if tag.Contains(qualified, a.UserTag()) {
		return true
	}
	return tag.AnyCaptures(a.WriteAccess(ctx), nonPublic(qualified))
}

// CanAddTag decides whether the caller may attach the tag to a ref.
// Public tags are always addable. Prefixed tags require moderator role,
// ownership, or a capturing read-access selector.
func (a *Auth) CanAddTag(ctx context.Context, t string) bool {
	if tag.IsPublic(t) {
		return true
	}
	if a.HasRole(RoleMod) {
		return true
	}
	if !a.HasRole(RoleUser) {
		return false
	}
	if t == a.UserTag() {
		return true
	}
	return tag.AnyCaptures(a.ReadAccess(ctx), []string{t})
}

// CanTag decides whether the caller may toggle the tag on the ref at
// url. Editors may toggle public tags on any ref they can read.
func (a *Auth) CanTag(ctx context.Context, t, url string) bool {
	if a.HasRole(RoleEditor) && tag.IsPublic(t) && a.CanReadRefURL(ctx, url) {
		return true
	}
	return a.CanReadTag(ctx, t) && a.CanWriteRefURL(ctx, url)
}

// CanReadTag decides read access to a tag. Only private tags are
// restricted.
func (a *Auth) CanReadTag(ctx context.Context, t string) bool {
	if !strings.HasPrefix(t, "_") {
		return true
	}
	return a.CanAddTag(ctx, t)
}

// CanWriteTag decides write access to tag metadata. Public tags require
// editor role; prefixed tags require ownership or a capturing
// write-access selector.
func (a *Auth) CanWriteTag(ctx context.Context, t string) bool {
	if a.HasRole(RoleMod) {
		return true
	}
	if tag.IsPublic(t) {
		return a.HasRole(RoleEditor)
	}
	if !a.HasRole(RoleUser) {
		return false
	}
	if t == a.UserTag() {
		return true
	}
	return tag.AnyCaptures(a.WriteAccess(ctx), []string{t})
}

// CanReadQuery vets a selector query string before execution.
//
// Queries naming only public or protected selectors are always allowed.
// Each private selector other than the caller's own user tag must be
// present in the caller's read-access list: set containment, not
// capture, since query terms are exact selectors.
//
// Returns a MalformedTag error when the query fails to tokenize into
// valid selectors, so callers can distinguish denied from unparseable.
func (a *Auth) CanReadQuery(ctx context.Context, rawQuery string) (bool, error) {
	if rawQuery == "" {
		return true, nil
	}
	if err := query.Validate(rawQuery); err != nil {
		return false, err
	}
	if a.HasRole(RoleMod) {
		return true, nil
	}
	var privates []string
	for _, selector := range query.Selectors(rawQuery) {
		if strings.HasPrefix(selector, "_") && selector != a.UserTag() {
			privates = append(privates, selector)
		}
	}
	if len(privates) == 0 {
		return true, nil
	}
	if !a.HasRole(RoleUser) {
		return false, nil
	}
	readAccess := a.ReadAccess(ctx)
	for _, selector := range privates {
		if !tag.Contains(readAccess, selector) {
			return false, nil
		}
	}
	return true, nil
}

// CanWriteUser decides write access to a user record.
//
// Public selectors are rejected from access lists outright: public is
// always readable and writable by baseline rules, so listing it is
// meaningless. Granting access requires the grantor to already hold
// write access to every newly granted selector.
func (a *Auth) CanWriteUser(ctx context.Context, user *domain.User) bool {
	if a.HasRole(RoleMod) {
		return true
	}
	if !a.CanWriteTag(ctx, user.QualifiedTag()) {
		return false
	}
	for _, t := range user.ReadAccess {
		if tag.IsPublic(t) {
			return false
		}
	}
	for _, t := range user.WriteAccess {
		if tag.IsPublic(t) {
			return false
		}
	}
	var existingRead, existingWrite []string
	if existing, err := a.users.GetUserByQualifiedTag(ctx, user.QualifiedTag()); err == nil {
		existingRead = existing.ReadAccess
		existingWrite = existing.WriteAccess
	}
	for _, t := range tag.NewTags(user.ReadAccess, existingRead) {
		if !a.CanWriteTag(ctx, t) {
			return false
		}
	}
	for _, t := range tag.NewTags(user.WriteAccess, existingWrite) {
		if !a.CanWriteTag(ctx, t) {
			return false
		}
	}
	return true
}

// FilterTags strips tags the caller cannot read. Moderators see
// everything.
func (a *Auth) FilterTags(ctx context.Context, tags []string) []string {
	if a.HasRole(RoleMod) {
		return tags
	}
	var visible []string
	for _, t := range tags {
		if a.CanReadTag(ctx, t) {
			visible = append(visible, t)
		}
	}
	return visible
}

// HiddenTags returns the complement of FilterTags: the tags the caller
// cannot see. Updates merge these back so an edit never silently
// deletes tags the editor lacked visibility into.
func (a *Auth) HiddenTags(ctx context.Context, tags []string) []string {
	if a.HasRole(RoleMod) {
		return nil
	}
	var hidden []string
	for _, t := range tags {
		if !a.CanReadTag(ctx, t) {
			hidden = append(hidden, t)
		}
	}
	return hidden
}

// RefReadSpec builds the reusable read predicate for ref queries:
// public OR owned-by-caller OR captured by any read-access selector.
// Moderators get the unconditional true predicate. The caller's access
// lists are resolved once; the returned closure does no I/O.
func (a *Auth) RefReadSpec(ctx context.Context) func(*domain.Ref) bool {
	if a.HasRole(RoleMod) {
		return func(*domain.Ref) bool { return true }
	}
	spec := query.Predicate(query.HasTag(domain.PublicTag))
	if a.HasRole(RoleUser) {
		spec = query.Or(spec,
			query.HasTag(a.UserTag()),
			query.AnyCapturedBy(a.ReadAccess(ctx)))
	}
	return func(ref *domain.Ref) bool {
		// The public tag is matched unqualified; ownership and capture
		// run against origin-qualified tags.
		if ref.HasTag(domain.PublicTag) {
			return true
		}
		return spec(ref.QualifiedTags())
	}
}

// TagReadSpec builds the read predicate for tag metadata queries:
// public OR the caller's own tag OR captured by a read-access selector.
func (a *Auth) TagReadSpec(ctx context.Context) func(qualifiedTag string) bool {
	if a.HasRole(RoleMod) {
		return func(string) bool { return true }
	}
	userTag := a.UserTag()
	hasUser := a.HasRole(RoleUser)
	readAccess := a.ReadAccess(ctx)
	return func(t string) bool {
		if tag.IsPublic(t) {
			return true
		}
		if !hasUser {
			return false
		}
		if t == userTag {
			return true
		}
		return tag.AnyCaptures(readAccess, []string{t})
	}
}

// nonPublic drops the literal public tag from a qualified tag list
// before capture matching.
func nonPublic(tags []string) []string {
	var result []string
	for _, t := range tags {
		if t != domain.PublicTag {
			result = append(result, t)
		}
	}
	return result
}
