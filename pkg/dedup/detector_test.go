package dedup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/newsflux/pkg/domain"
)

// indexStub is an in-test Index with canned records
type indexStub struct {
	byFingerprint map[string]*domain.ArticleRecord
	candidates    []domain.ArticleRecord
	err           error

	lastPrefix string
	lastSince  time.Time
}

func (s *indexStub) FindByFingerprint(_ context.Context, hash, _ string, since time.Time) (*domain.ArticleRecord, error) {
	s.lastSince = since
	if s.err != nil {
		return nil, s.err
	}
	return s.byFingerprint[hash], nil
}

func (s *indexStub) FindCandidatesByTitlePrefix(_ context.Context, prefix, _ string, _ time.Time) ([]domain.ArticleRecord, error) {
	s.lastPrefix = prefix
	if s.err != nil {
		return nil, s.err
	}
	return s.candidates, nil
}

var longContent = strings.Repeat("government announces new infrastructure spending plan for rural regions ", 5)

func TestDetector_ExactDuplicate(t *testing.T) {
	f := NewFingerprinter(50)
	fp, ok := f.Fingerprint(longContent)
	require.True(t, ok)

	stored := &domain.ArticleRecord{ID: 42, Link: "https://example.com/orig"}
	idx := &indexStub{byFingerprint: map[string]*domain.ArticleRecord{fp.Hash: stored}}
	d := NewDetector(idx, f, 0.85)

	res := d.CheckDuplicate(context.Background(), domain.Article{
		Title:   "Government announces spending plan",
		Content: longContent,
		Link:    "https://example.com/copy",
	}, Scope{Domain: "example.com", Window: 7 * 24 * time.Hour})

	assert.True(t, res.IsDuplicate)
	assert.Equal(t, "exact", res.Method)
	assert.Equal(t, int64(42), res.Matched.ID)
}

func TestDetector_SimilarDuplicate(t *testing.T) {
	f := NewFingerprinter(50)
	// same text with light editing, identical token set is not required
	variant := longContent + " update"

	idx := &indexStub{candidates: []domain.ArticleRecord{
		{ID: 7, Link: "https://example.com/syndicated", Content: variant},
	}}
	d := NewDetector(idx, f, 0.85)

	res := d.CheckDuplicate(context.Background(), domain.Article{
		Title:   "Government announces new infrastructure spending",
		Content: longContent,
	}, Scope{Domain: "example.com"})

	assert.True(t, res.IsDuplicate)
	assert.Equal(t, "similar", res.Method)
	assert.Equal(t, int64(7), res.Matched.ID)
}

func TestDetector_BelowThreshold(t *testing.T) {
	f := NewFingerprinter(50)
	idx := &indexStub{candidates: []domain.ArticleRecord{
		{ID: 7, Content: strings.Repeat("completely different story about sports results ", 5)},
	}}
	d := NewDetector(idx, f, 0.85)

	res := d.CheckDuplicate(context.Background(), domain.Article{
		Title:   "Government announces new infrastructure spending",
		Content: longContent,
	}, Scope{Domain: "example.com"})

	assert.False(t, res.IsDuplicate)
	assert.Empty(t, res.Method)
}

func TestDetector_LookupErrorNotDuplicate(t *testing.T) {
	f := NewFingerprinter(50)
	idx := &indexStub{err: errors.New("db down")}
	d := NewDetector(idx, f, 0.85)

	res := d.CheckDuplicate(context.Background(), domain.Article{
		Title:   "Some valid title here",
		Content: longContent,
	}, Scope{Domain: "example.com"})

	assert.False(t, res.IsDuplicate, "lookup failures must not block ingestion")
}

func TestDetector_TitlePrefixBounded(t *testing.T) {
	f := NewFingerprinter(50)
	idx := &indexStub{}
	d := NewDetector(idx, f, 0.85)

	d.CheckDuplicate(context.Background(), domain.Article{
		Title:   "A Very Long Title That Goes On And On About Nothing In Particular",
		Content: "short",
	}, Scope{})

	assert.Len(t, idx.lastPrefix, titlePrefixLen)
	assert.Equal(t, strings.ToLower(idx.lastPrefix), idx.lastPrefix, "prefix is normalized")
}

func TestDetector_TitlePrefixKeepsRunesWhole(t *testing.T) {
	f := NewFingerprinter(50)
	idx := &indexStub{}
	d := NewDetector(idx, f, 0.85)

	// the accented letter straddles the prefix cut point
	d.CheckDuplicate(context.Background(), domain.Article{
		Title:   "abcdefghijklmnopqrstuvwé y algo más de texto",
		Content: "short",
	}, Scope{})

	assert.True(t, utf8.ValidString(idx.lastPrefix), "prefix must stay valid utf-8: %q", idx.lastPrefix)
	assert.Equal(t, "abcdefghijklmnopqrstuvw", idx.lastPrefix)
}

func TestDetector_EmptyTitleNoCandidates(t *testing.T) {
	f := NewFingerprinter(50)
	idx := &indexStub{candidates: []domain.ArticleRecord{{ID: 1, Content: longContent}}}
	d := NewDetector(idx, f, 0.85)

	res := d.CheckDuplicate(context.Background(), domain.Article{Title: "", Content: "short"}, Scope{})
	assert.False(t, res.IsDuplicate)
	assert.Empty(t, idx.lastPrefix, "no candidate lookup without a title")
}

func TestDetector_WindowPassedToIndex(t *testing.T) {
	f := NewFingerprinter(10)
	idx := &indexStub{}
	d := NewDetector(idx, f, 0.85)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d.nowFn = func() time.Time { return now }

	d.CheckDuplicate(context.Background(), domain.Article{
		Title:   "Some title for the lookup",
		Content: longContent,
	}, Scope{Window: 48 * time.Hour})

	assert.Equal(t, now.Add(-48*time.Hour), idx.lastSince)
}

func TestJaccard(t *testing.T) {
	a := Tokens("one two three four")
	b := Tokens("one two three five")
	assert.InDelta(t, 0.6, jaccard(a, b), 0.01)

	assert.Zero(t, jaccard(nil, b))
	assert.Zero(t, jaccard(a, nil))
	assert.InDelta(t, 1.0, jaccard(a, a), 0.001)
}
