package dedup

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/go-pkgz/lgr"

	"github.com/umputun/newsflux/pkg/domain"
)

// titlePrefixLen bounds the normalized title prefix used to pull the
// near-duplicate candidate set
const titlePrefixLen = 24

// Index is the persistence-side lookup the detector needs, implemented by
// the article repository
type Index interface {
	FindByFingerprint(ctx context.Context, hash, dom string, since time.Time) (*domain.ArticleRecord, error)
	FindCandidatesByTitlePrefix(ctx context.Context, prefix, dom string, since time.Time) ([]domain.ArticleRecord, error)
}

// Scope restricts a duplicate check to a domain and time window
type Scope struct {
	Domain string
	Window time.Duration
}

// Result is the outcome of a duplicate check
type Result struct {
	IsDuplicate bool
	Matched     *domain.ArticleRecord
	Method      string // "exact" or "similar", empty when not a duplicate
}

// Detector finds exact and near duplicates of an article within a
// domain/time-window scope. Exact matches go through the content
// fingerprint, near duplicates through token-set similarity over a small
// title-prefix candidate set.
type Detector struct {
	index         Index
	fingerprinter *Fingerprinter
	threshold     float64
	nowFn         func() time.Time
}

// NewDetector creates a detector with the given similarity threshold
func NewDetector(index Index, fingerprinter *Fingerprinter, threshold float64) *Detector {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.85
	}
	return &Detector{index: index, fingerprinter: fingerprinter, threshold: threshold, nowFn: time.Now}
}

// CheckDuplicate reports whether the candidate duplicates an already stored
// article. Lookup errors resolve to "not a duplicate", false negatives are
// preferred over blocking ingestion.
func (d *Detector) CheckDuplicate(ctx context.Context, candidate domain.Article, scope Scope) Result {
	since := time.Time{}
	if scope.Window > 0 {
		since = d.nowFn().Add(-scope.Window)
	}

	// exact path, authoritative on match
	if fp, ok := d.fingerprinter.Fingerprint(candidate.Content); ok {
		matched, err := d.index.FindByFingerprint(ctx, fp.Hash, scope.Domain, since)
		if err != nil {
			lgr.Printf("[WARN] fingerprint lookup failed for %q: %v", candidate.Link, err)
		} else if matched != nil {
			return Result{IsDuplicate: true, Matched: matched, Method: "exact"}
		}
	}

	// near-duplicate path, resilient to reformatting and syndication variants
	prefix := Normalize(candidate.Title)
	if prefix == "" {
		return Result{}
	}
	if len(prefix) > titlePrefixLen {
		cut := titlePrefixLen
		for cut > 0 && !utf8.RuneStart(prefix[cut]) { // don't split a multi-byte rune
			cut--
		}
		prefix = prefix[:cut]
	}

	candidates, err := d.index.FindCandidatesByTitlePrefix(ctx, prefix, scope.Domain, since)
	if err != nil {
		lgr.Printf("[WARN] candidate lookup failed for %q: %v", candidate.Link, err)
		return Result{}
	}

	tokens := Tokens(candidate.Content)
	for i := range candidates {
		similarity := jaccard(tokens, Tokens(candidates[i].Content))
		if similarity >= d.threshold {
			lgr.Printf("[DEBUG] near-duplicate of %q at similarity %.2f", candidates[i].Link, similarity)
			return Result{IsDuplicate: true, Matched: &candidates[i], Method: "similar"}
		}
	}
	return Result{}
}

// jaccard computes token-set similarity between two token sets
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
