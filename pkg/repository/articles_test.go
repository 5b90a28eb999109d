package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/newsflux/pkg/dedup"
	"github.com/umputun/newsflux/pkg/domain"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(context.Background(), Config{DSN: fmt.Sprintf("file:%s/test.db?cache=shared&mode=rwc", t.TempDir())})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testRecord(link string) *domain.ArticleRecord {
	return &domain.ArticleRecord{
		SourceID:       "src-1",
		Domain:         "example.com",
		Title:          "Central Bank Raises Rates Again",
		TitleSource:    "og",
		Link:           link,
		Author:         "jane doe",
		Content:        strings.Repeat("the central bank raised rates citing inflation ", 5),
		Fingerprint:    "abc123",
		FingerprintLen: 200,
		Category:       "economia",
		CategoryConf:   0.95,
		CategoryMethod: "url",
		Published:      time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestArticles_SaveAndGet(t *testing.T) {
	articles := NewArticles(setupTestDB(t))
	ctx := context.Background()

	rec := testRecord("https://example.com/a1")
	saved, err := articles.Save(ctx, rec)
	require.NoError(t, err)
	assert.True(t, saved)
	assert.NotZero(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := articles.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Link, got.Link)
	assert.Equal(t, "economia", got.Category)
	assert.InDelta(t, 0.95, got.CategoryConf, 0.001)
}

func TestArticles_SaveConflictIsNotAnError(t *testing.T) {
	articles := NewArticles(setupTestDB(t))
	ctx := context.Background()

	saved, err := articles.Save(ctx, testRecord("https://example.com/same"))
	require.NoError(t, err)
	require.True(t, saved)

	// second save of the same link reports saved=false without error
	dup := testRecord("https://example.com/same")
	dup.Title = "Different Title Same Link"
	saved, err = articles.Save(ctx, dup)
	require.NoError(t, err)
	assert.False(t, saved)
}

func TestArticles_FindByFingerprint(t *testing.T) {
	articles := NewArticles(setupTestDB(t))
	ctx := context.Background()

	rec := testRecord("https://example.com/a1")
	_, err := articles.Save(ctx, rec)
	require.NoError(t, err)

	t.Run("match within window", func(t *testing.T) {
		got, err := articles.FindByFingerprint(ctx, "abc123", "example.com", time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, rec.Link, got.Link)
	})

	t.Run("no match for other domain", func(t *testing.T) {
		got, err := articles.FindByFingerprint(ctx, "abc123", "other.com", time.Time{})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("no match outside window", func(t *testing.T) {
		got, err := articles.FindByFingerprint(ctx, "abc123", "example.com", time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("unknown fingerprint", func(t *testing.T) {
		got, err := articles.FindByFingerprint(ctx, "nope", "example.com", time.Time{})
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestArticles_FindCandidatesByTitlePrefix(t *testing.T) {
	articles := NewArticles(setupTestDB(t))
	ctx := context.Background()

	first := testRecord("https://example.com/a1")
	_, err := articles.Save(ctx, first)
	require.NoError(t, err)

	second := testRecord("https://example.com/a2")
	second.Title = "Central Bank Raises Rates, Markets React"
	_, err = articles.Save(ctx, second)
	require.NoError(t, err)

	unrelated := testRecord("https://example.com/a3")
	unrelated.Title = "Completely Different Story"
	_, err = articles.Save(ctx, unrelated)
	require.NoError(t, err)

	prefix := dedup.Normalize("Central Bank Raises Rates")
	got, err := articles.FindCandidatesByTitlePrefix(ctx, prefix, "example.com", time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 2, "prefix matches on the normalized title")

	got, err = articles.FindCandidatesByTitlePrefix(ctx, prefix, "other.com", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestArticles_RecentSourceScrape(t *testing.T) {
	articles := NewArticles(setupTestDB(t))
	ctx := context.Background()

	recent, err := articles.RecentSourceScrape(ctx, "src-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, recent)

	_, err = articles.Save(ctx, testRecord("https://example.com/a1"))
	require.NoError(t, err)

	recent, err = articles.RecentSourceScrape(ctx, "src-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, recent)

	recent, err = articles.RecentSourceScrape(ctx, "other-source", time.Hour)
	require.NoError(t, err)
	assert.False(t, recent)
}

func TestArticles_CountByCategory(t *testing.T) {
	articles := NewArticles(setupTestDB(t))
	ctx := context.Background()

	for i, category := range []string{"economia", "economia", "deportes"} {
		rec := testRecord(fmt.Sprintf("https://example.com/a%d", i))
		rec.Category = category
		_, err := articles.Save(ctx, rec)
		require.NoError(t, err)
	}

	counts, err := articles.CountByCategory(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"economia": 2, "deportes": 1}, counts)
}

func TestOpen_SchemaIdempotent(t *testing.T) {
	dir := t.TempDir()
	dsn := fmt.Sprintf("file:%s/test.db?cache=shared&mode=rwc", dir)

	db, err := Open(context.Background(), Config{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// reopening against the same file must not fail on existing tables
	db, err = Open(context.Background(), Config{DSN: dsn, MaxOpenConns: 2, MaxIdleConns: 1})
	require.NoError(t, err)
	assert.NoError(t, db.Close())
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\% sure`, escapeLike("100% sure"))
	assert.Equal(t, `a\_b`, escapeLike("a_b"))
	assert.Equal(t, `back\\slash`, escapeLike(`back\slash`))
}
