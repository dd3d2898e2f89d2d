package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weft/internal/domain"
	"github.com/roach88/weft/internal/errs"
	"github.com/roach88/weft/internal/store"
	"github.com/roach88/weft/internal/testutil"
)

func makeTestIngest(t *testing.T, clock *testutil.Clock) (*Ingest, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, WithClock(clock.Now)), s
}

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestIngest_StampsAndExpandsTags(t *testing.T) {
	clock := testutil.NewClock(testStart)
	ing, s := makeTestIngest(t, clock)
	ctx := context.Background()

	ref := &domain.Ref{URL: "https://example.com/a", Tags: []string{"public", "science/physics"}}
	require.NoError(t, ing.Ingest(ctx, ref))

	got, err := s.GetRef(ctx, ref.URL, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"public", "science/physics", "science"}, got.Tags)
	assert.True(t, got.Created.Equal(testStart))
	assert.True(t, got.Modified.Equal(testStart))
	assert.True(t, got.Published.Equal(testStart))
}

func TestIngest_RejectsInvalid(t *testing.T) {
	clock := testutil.NewClock(testStart)
	ing, _ := makeTestIngest(t, clock)
	ctx := context.Background()

	assert.Error(t, ing.Ingest(ctx, &domain.Ref{}))

	err := ing.Ingest(ctx, &domain.Ref{URL: "u", Tags: []string{"Bad Tag"}})
	require.Error(t, err)
	assert.True(t, errs.IsMalformedTag(err))
}

func TestIngest_RetriesDuplicateModified(t *testing.T) {
	clock := testutil.NewClock(testStart)
	ing, s := makeTestIngest(t, clock)
	ctx := context.Background()

	// Two refs created at the same clock instant would collide on the
	// (origin, modified) uniqueness; the second must land one
	// microsecond later instead of failing.
	require.NoError(t, ing.Ingest(ctx, &domain.Ref{URL: "a"}))
	require.NoError(t, ing.Ingest(ctx, &domain.Ref{URL: "b"}))

	first, err := s.GetRef(ctx, "a", "")
	require.NoError(t, err)
	second, err := s.GetRef(ctx, "b", "")
	require.NoError(t, err)
	assert.True(t, first.Modified.Equal(testStart))
	assert.True(t, second.Modified.Equal(testStart.Add(time.Microsecond)))
}

func TestUpdate_StaleModifiedConflicts(t *testing.T) {
	clock := testutil.NewClock(testStart)
	ing, _ := makeTestIngest(t, clock)
	ctx := context.Background()

	require.NoError(t, ing.Ingest(ctx, &domain.Ref{URL: "u", Tags: []string{"public"}}))

	clock.Advance(time.Minute)
	stale := &domain.Ref{URL: "u", Tags: []string{"public"}, Modified: testStart.Add(-time.Hour)}
	err := ing.Update(ctx, stale)
	require.Error(t, err)
	assert.True(t, errs.IsModifiedConflict(err))
}

func TestUpdate_TruncatedSecondsMatch(t *testing.T) {
	clock := testutil.NewClock(testStart)
	ing, s := makeTestIngest(t, clock)
	ctx := context.Background()

	require.NoError(t, ing.Ingest(ctx, &domain.Ref{URL: "u", Tags: []string{"public"}}))

	// A modified value differing only in sub-second precision still
	// passes the staleness check; serialization boundaries often drop
	// fractional seconds.
	clock.Advance(time.Minute)
	update := &domain.Ref{
		URL:      "u",
		Title:    "updated",
		Tags:     []string{"public"},
		Modified: testStart.Add(250 * time.Millisecond),
	}
	require.NoError(t, ing.Update(ctx, update))

	got, err := s.GetRef(ctx, "u", "")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Title)
	assert.True(t, got.Modified.Equal(testStart.Add(time.Minute)))
	assert.True(t, got.Created.Equal(testStart))
}

func TestUpdate_MissingRef(t *testing.T) {
	clock := testutil.NewClock(testStart)
	ing, _ := makeTestIngest(t, clock)

	err := ing.Update(context.Background(), &domain.Ref{URL: "missing"})
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestIngestForeign_RequiresForeignOrigin(t *testing.T) {
	clock := testutil.NewClock(testStart)
	ing, _ := makeTestIngest(t, clock)

	err := ing.IngestForeign(context.Background(), &domain.Ref{URL: "u"})
	require.Error(t, err)
	assert.True(t, errs.IsForeignWrite(err))
}

func TestIngestForeign_PreservesModifiedAndOverwrites(t *testing.T) {
	clock := testutil.NewClock(testStart)
	ing, s := makeTestIngest(t, clock)
	ctx := context.Background()

	foreignModified := testStart.Add(-time.Hour)
	ref := &domain.Ref{URL: "u", Origin: "@remote", Tags: []string{"a/b"}, Modified: foreignModified}
	require.NoError(t, ing.IngestForeign(ctx, ref))

	got, err := s.GetRef(ctx, "u", "@remote")
	require.NoError(t, err)
	assert.True(t, got.Modified.Equal(foreignModified))
	assert.ElementsMatch(t, []string{"a/b", "a"}, got.Tags)

	// Re-delivery of the same tuple is a no-op overwrite, not an error.
	redelivered := &domain.Ref{URL: "u", Origin: "@remote", Tags: []string{"a/b"}, Modified: foreignModified}
	assert.NoError(t, ing.IngestForeign(ctx, redelivered))
}

func TestDelete_Idempotent(t *testing.T) {
	clock := testutil.NewClock(testStart)
	ing, _ := makeTestIngest(t, clock)
	ctx := context.Background()

	require.NoError(t, ing.Ingest(ctx, &domain.Ref{URL: "u"}))
	require.NoError(t, ing.Delete(ctx, "u", ""))
	require.NoError(t, ing.Delete(ctx, "u", ""))
}

// recordingNotifier captures change fan-out for assertions.
type recordingNotifier struct {
	urls []string
}

func (n *recordingNotifier) RefChanged(ref *domain.Ref) {
	n.urls = append(n.urls, ref.URL)
}

func TestNotifier_FiresOnWrites(t *testing.T) {
	clock := testutil.NewClock(testStart)
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	notifier := &recordingNotifier{}
	ing := New(s, WithClock(clock.Now), WithNotifier(notifier))
	ctx := context.Background()

	require.NoError(t, ing.Ingest(ctx, &domain.Ref{URL: "a"}))
	clock.Advance(time.Minute)
	require.NoError(t, ing.Update(ctx, &domain.Ref{URL: "a", Modified: testStart}))

	assert.Equal(t, []string{"a", "a"}, notifier.urls)
}
