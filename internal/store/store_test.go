package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weft/internal/domain"
	"github.com/roach88/weft/internal/errs"
)

// openTestStore creates a store backed by a throwaway database file.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestRef(url string, modified time.Time, tags ...string) *domain.Ref {
	return &domain.Ref{
		URL:      url,
		Tags:     tags,
		Created:  modified,
		Modified: modified,
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestRefRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ref := makeTestRef("https://example.com/a", now, "public", "science")
	ref.Title = "A title"
	ref.Comment = "a comment"
	ref.Sources = []string{"https://example.com/b"}
	ref.SetPlugin("+plugin/thumb", []byte(`{"w":100}`))
	ref.Published = now.Add(-time.Hour)
	require.NoError(t, s.CreateRef(ctx, ref))

	got, err := s.GetRef(ctx, ref.URL, "")
	require.NoError(t, err)
	assert.Equal(t, ref.URL, got.URL)
	assert.Equal(t, ref.Title, got.Title)
	assert.Equal(t, ref.Comment, got.Comment)
	assert.Equal(t, []string{"public", "science"}, got.Tags)
	assert.Equal(t, []string{"https://example.com/b"}, got.Sources)
	assert.Equal(t, []byte(`{"w":100}`), got.Plugins["+plugin/thumb"])
	assert.True(t, got.Published.Equal(now.Add(-time.Hour)))
	assert.True(t, got.Modified.Equal(now))
}

func TestGetRef_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetRef(context.Background(), "missing", "")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestRefExists(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := s.RefExists(ctx, "u", "")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.CreateRef(ctx, makeTestRef("u", now)))
	ok, err = s.RefExists(ctx, "u", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateRef_DuplicateModified(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateRef(ctx, makeTestRef("a", now)))

	// A second ref in the same origin with the same modified timestamp
	// violates the uniqueness guarantee the cursor protocol relies on.
	err := s.CreateRef(ctx, makeTestRef("b", now))
	require.Error(t, err)
	assert.True(t, errs.IsDuplicateModified(err))

	// Different origins never collide.
	foreign := makeTestRef("b", now)
	foreign.Origin = "@remote"
	assert.NoError(t, s.CreateRef(ctx, foreign))
}

func TestCompareAndSwapRef(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ref := makeTestRef("u", now, "a")
	require.NoError(t, s.CreateRef(ctx, ref))

	ref.Title = "updated"
	ref.Modified = now.Add(time.Second)
	require.NoError(t, s.CompareAndSwapRef(ctx, ref, now))

	got, err := s.GetRef(ctx, "u", "")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Title)
	assert.True(t, got.Modified.Equal(now.Add(time.Second)))

	// The guard timestamp is now stale; a second swap against it fails.
	ref.Modified = now.Add(2 * time.Second)
	err = s.CompareAndSwapRef(ctx, ref, now)
	require.Error(t, err)
	assert.True(t, errs.IsModifiedConflict(err))
}

func TestPutRef_OverwritesOnRedelivery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ref := makeTestRef("u", now, "a")
	ref.Origin = "@remote"
	require.NoError(t, s.PutRef(ctx, ref))
	require.NoError(t, s.PutRef(ctx, ref))

	ref.Tags = []string{"a", "b"}
	require.NoError(t, s.PutRef(ctx, ref))

	got, err := s.GetRef(ctx, "u", "@remote")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Tags)
}

func TestDeleteRef_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRef(ctx, makeTestRef("u", time.Now().UTC())))
	require.NoError(t, s.DeleteRef(ctx, "u", ""))
	require.NoError(t, s.DeleteRef(ctx, "u", ""))

	_, err := s.GetRef(ctx, "u", "")
	assert.True(t, errs.IsNotFound(err))
}

func TestRefsModifiedAfter_Ordering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Insert out of order; results must come back modified-ascending.
	require.NoError(t, s.CreateRef(ctx, makeTestRef("c", base.Add(3*time.Second))))
	require.NoError(t, s.CreateRef(ctx, makeTestRef("a", base.Add(1*time.Second))))
	require.NoError(t, s.CreateRef(ctx, makeTestRef("b", base.Add(2*time.Second))))

	refs, err := s.RefsModifiedAfter(ctx, RefQuery{ModifiedAfter: base})
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, "a", refs[0].URL)
	assert.Equal(t, "b", refs[1].URL)
	assert.Equal(t, "c", refs[2].URL)

	// The watermark is exclusive.
	refs, err = s.RefsModifiedAfter(ctx, RefQuery{ModifiedAfter: base.Add(1 * time.Second)})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "b", refs[0].URL)
}

func TestRefsModifiedAfter_PredicateAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateRef(ctx, makeTestRef("a", base.Add(1*time.Second), "skip")))
	require.NoError(t, s.CreateRef(ctx, makeTestRef("b", base.Add(2*time.Second), "keep")))
	require.NoError(t, s.CreateRef(ctx, makeTestRef("c", base.Add(3*time.Second), "keep")))

	// Skipped refs do not count against the limit.
	refs, err := s.RefsModifiedAfter(ctx, RefQuery{
		ModifiedAfter: base,
		Limit:         1,
		Where:         func(ref *domain.Ref) bool { return ref.HasTag("keep") },
	})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "b", refs[0].URL)
}

func TestRefsModifiedAfter_OriginFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateRef(ctx, makeTestRef("a", base.Add(1*time.Second))))
	foreign := makeTestRef("b", base.Add(2*time.Second))
	foreign.Origin = "@remote"
	require.NoError(t, s.CreateRef(ctx, foreign))

	// HasOrigin with the empty string selects local refs only.
	refs, err := s.RefsModifiedAfter(ctx, RefQuery{Origin: "", HasOrigin: true})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "a", refs[0].URL)

	refs, err = s.RefsModifiedAfter(ctx, RefQuery{Origin: "@remote", HasOrigin: true})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "b", refs[0].URL)
}

func TestUserRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	user := &domain.User{
		Tag:         "+user/alice",
		Name:        "Alice",
		ReadAccess:  []string{"_secret"},
		WriteAccess: []string{"+team"},
		Modified:    now,
	}
	require.NoError(t, s.PutUser(ctx, user))

	got, err := s.GetUser(ctx, "+user/alice", "")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, []string{"_secret"}, got.ReadAccess)
	assert.Equal(t, []string{"+team"}, got.WriteAccess)

	// Overwrite is an upsert.
	user.Name = "Alice B"
	require.NoError(t, s.PutUser(ctx, user))
	got, err = s.GetUser(ctx, "+user/alice", "")
	require.NoError(t, err)
	assert.Equal(t, "Alice B", got.Name)
}

func TestGetUserByQualifiedTag(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	user := &domain.User{Tag: "+user/bob", Origin: "@remote", Modified: time.Now().UTC()}
	require.NoError(t, s.PutUser(ctx, user))

	got, err := s.GetUserByQualifiedTag(ctx, "+user/bob@remote")
	require.NoError(t, err)
	assert.Equal(t, "@remote", got.Origin)

	_, err = s.GetUserByQualifiedTag(ctx, "+user/bob")
	assert.True(t, errs.IsNotFound(err))
}

func TestDeleteUser_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutUser(ctx, &domain.User{Tag: "+user/alice"}))
	require.NoError(t, s.DeleteUser(ctx, "+user/alice", ""))
	require.NoError(t, s.DeleteUser(ctx, "+user/alice", ""))
}

func TestUsersModifiedAfter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.PutUser(ctx, &domain.User{Tag: "+user/a", Modified: base.Add(1 * time.Second)}))
	require.NoError(t, s.PutUser(ctx, &domain.User{Tag: "+user/b", Modified: base.Add(2 * time.Second)}))
	require.NoError(t, s.PutUser(ctx, &domain.User{Tag: "+user/c", Origin: "@remote", Modified: base.Add(3 * time.Second)}))

	users, err := s.UsersModifiedAfter(ctx, "", base, 0)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "+user/a", users[0].Tag)

	users, err = s.UsersModifiedAfter(ctx, "", base, 1)
	require.NoError(t, err)
	require.Len(t, users, 1)
}

func TestExtRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ext := &domain.Ext{Tag: "science", Name: "Science", Config: []byte(`{"pinned":[]}`), Modified: now}
	require.NoError(t, s.PutExt(ctx, ext))

	got, err := s.GetExt(ctx, "science", "")
	require.NoError(t, err)
	assert.Equal(t, "Science", got.Name)
	assert.Equal(t, []byte(`{"pinned":[]}`), got.Config)

	require.NoError(t, s.DeleteExt(ctx, "science", ""))
	_, err = s.GetExt(ctx, "science", "")
	assert.True(t, errs.IsNotFound(err))
}

func TestPluginAndTemplateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	plugin := &domain.Plugin{Tag: "plugin/thumb", Schema: []byte(`{}`), Modified: now}
	require.NoError(t, s.PutPlugin(ctx, plugin))
	gotPlugin, err := s.GetPlugin(ctx, "plugin/thumb", "")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{}`), gotPlugin.Schema)

	template := &domain.Template{Tag: "user", Schema: []byte(`{"type":"object"}`), Modified: now}
	require.NoError(t, s.PutTemplate(ctx, template))
	gotTemplate, err := s.GetTemplate(ctx, "user", "")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"type":"object"}`), gotTemplate.Schema)

	plugins, err := s.PluginsModifiedAfter(ctx, "", time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, plugins, 1)
}

func TestOriginRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	origin := &domain.Origin{
		Name:         "@remote",
		URL:          "https://remote.example.com",
		PullInterval: 5 * time.Minute,
		BatchSize:    20,
		AddTags:      []string{"mirrored"},
		RemoveTags:   []string{"local.only"},
		Modified:     time.Now().UTC(),
	}
	require.NoError(t, s.PutOrigin(ctx, origin))

	got, err := s.GetOrigin(ctx, "@remote")
	require.NoError(t, err)
	assert.Equal(t, "https://remote.example.com", got.URL)
	assert.Equal(t, 5*time.Minute, got.PullInterval)
	assert.Equal(t, 20, got.BatchSize)
	assert.Equal(t, []string{"mirrored"}, got.AddTags)
	assert.Equal(t, []string{"local.only"}, got.RemoveTags)

	origins, err := s.ListOrigins(ctx)
	require.NoError(t, err)
	assert.Len(t, origins, 1)
}

func TestCursors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Absent cursors read as the zero time.
	cursor, err := s.GetCursor(ctx, "@remote", "ref", DirectionPull)
	require.NoError(t, err)
	assert.True(t, cursor.IsZero())

	mark := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetCursor(ctx, "@remote", "ref", DirectionPull, mark))

	cursor, err = s.GetCursor(ctx, "@remote", "ref", DirectionPull)
	require.NoError(t, err)
	assert.True(t, cursor.Equal(mark))

	// Directions are independent records.
	cursor, err = s.GetCursor(ctx, "@remote", "ref", DirectionPush)
	require.NoError(t, err)
	assert.True(t, cursor.IsZero())

	// Upsert replaces the watermark.
	require.NoError(t, s.SetCursor(ctx, "@remote", "ref", DirectionPull, mark.Add(time.Minute)))
	cursor, err = s.GetCursor(ctx, "@remote", "ref", DirectionPull)
	require.NoError(t, err)
	assert.True(t, cursor.Equal(mark.Add(time.Minute)))
}

func TestDeleteOrigin_RemovesCursors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutOrigin(ctx, &domain.Origin{Name: "@remote", URL: "https://r.example.com"}))
	require.NoError(t, s.SetCursor(ctx, "@remote", "ref", DirectionPull, time.Now().UTC()))

	require.NoError(t, s.DeleteOrigin(ctx, "@remote"))

	_, err := s.GetOrigin(ctx, "@remote")
	assert.True(t, errs.IsNotFound(err))
	cursor, err := s.GetCursor(ctx, "@remote", "ref", DirectionPull)
	require.NoError(t, err)
	assert.True(t, cursor.IsZero())
}
