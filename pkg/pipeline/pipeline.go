// Package pipeline orchestrates batch ingestion runs: fetch, extract,
// title resolution, classification, duplicate detection and persistence,
// with cache invalidation accumulated over the run and flushed once at
// the end.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/umputun/newsflux/pkg/classify"
	"github.com/umputun/newsflux/pkg/dedup"
	"github.com/umputun/newsflux/pkg/domain"
	"github.com/umputun/newsflux/pkg/title"
)

//go:generate moq -out mocks/fetcher.go -pkg mocks -skip-ensure -fmt goimports . Fetcher
//go:generate moq -out mocks/extractor.go -pkg mocks -skip-ensure -fmt goimports . Extractor
//go:generate moq -out mocks/persistence.go -pkg mocks -skip-ensure -fmt goimports . Persistence

// Fetcher retrieves raw markup for a URL
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor turns markup into raw articles
type Extractor interface {
	ExtractPage(markup []byte, src domain.Source, pageURL string) (domain.Article, error)
	ExtractFeed(markup []byte, src domain.Source) ([]domain.Article, error)
}

// TitleResolver runs the title cascade over page markup
type TitleResolver interface {
	Resolve(ctx context.Context, markup string, inp title.Input) (title.Resolution, bool)
}

// Classifier assigns a category to an article
type Classifier interface {
	Classify(ctx context.Context, inp classify.Input) classify.Result
}

// Deduper checks an article against already stored ones
type Deduper interface {
	CheckDuplicate(ctx context.Context, candidate domain.Article, scope dedup.Scope) dedup.Result
}

// Persistence stores processed articles
type Persistence interface {
	Save(ctx context.Context, rec *domain.ArticleRecord) (saved bool, err error)
	RecentSourceScrape(ctx context.Context, sourceID string, window time.Duration) (bool, error)
}

// Cache is the invalidation surface of the cache-aside store
type Cache interface {
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

// Params control batch execution
type Params struct {
	Concurrency        int           // source-level fetch concurrency
	ArticleTimeout     time.Duration // per-article processing timeout
	BatchTimeout       time.Duration // whole-run timeout
	RecentScrapeWindow time.Duration // skip sources scraped within this window
	DedupWindow        time.Duration // duplicate lookup window
}

// Orchestrator runs batches of sources through the ingestion pipeline.
// A failing source or article never aborts the run, failures land in the
// run stats instead.
type Orchestrator struct {
	fetcher       Fetcher
	extractor     Extractor
	titles        TitleResolver
	classifier    Classifier
	deduper       Deduper
	store         Persistence
	cache         Cache
	fingerprinter *dedup.Fingerprinter
	params        Params
}

// New creates an orchestrator. Missing dependencies are configuration
// errors, the only failures allowed to abort before a run begins.
func New(fetcher Fetcher, extractor Extractor, titles TitleResolver, classifier Classifier,
	deduper Deduper, store Persistence, cacheStore Cache, fingerprinter *dedup.Fingerprinter, params Params) (*Orchestrator, error) {

	switch {
	case fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case titles == nil:
		return nil, fmt.Errorf("title resolver is required")
	case classifier == nil:
		return nil, fmt.Errorf("classifier is required")
	case deduper == nil:
		return nil, fmt.Errorf("duplicate detector is required")
	case store == nil:
		return nil, fmt.Errorf("persistence is required")
	case cacheStore == nil:
		return nil, fmt.Errorf("cache is required")
	case fingerprinter == nil:
		return nil, fmt.Errorf("fingerprinter is required")
	}

	if params.Concurrency <= 0 {
		params.Concurrency = 5
	}
	if params.ArticleTimeout <= 0 {
		params.ArticleTimeout = 30 * time.Second
	}
	if params.BatchTimeout <= 0 {
		params.BatchTimeout = 15 * time.Minute
	}
	if params.DedupWindow <= 0 {
		params.DedupWindow = 7 * 24 * time.Hour
	}

	return &Orchestrator{
		fetcher:       fetcher,
		extractor:     extractor,
		titles:        titles,
		classifier:    classifier,
		deduper:       deduper,
		store:         store,
		cache:         cacheStore,
		fingerprinter: fingerprinter,
		params:        params,
	}, nil
}

// ProcessUnit makes the orchestrator a queue processor, one unit is one batch
func (o *Orchestrator) ProcessUnit(ctx context.Context, unit domain.WorkUnit) (domain.BatchRunStats, error) {
	return o.RunBatch(ctx, unit.Sources)
}

// runState accumulates results across concurrent source workers
type runState struct {
	mu      sync.Mutex
	stats   domain.BatchRunStats
	domains map[string]struct{} // domains with new articles, invalidated at batch end
}

func (rs *runState) recordError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	lgr.Printf("[WARN] %s", msg)
	rs.mu.Lock()
	rs.stats.Failed++
	rs.stats.Errors = append(rs.stats.Errors, msg)
	rs.mu.Unlock()
}

// RunBatch processes all sources concurrently and returns the run stats.
// The returned stats are complete even when the batch timeout cut the run
// short, whatever was processed stays counted.
func (o *Orchestrator) RunBatch(ctx context.Context, sources []domain.Source) (domain.BatchRunStats, error) {
	ctx, cancel := context.WithTimeout(ctx, o.params.BatchTimeout)
	defer cancel()

	rs := &runState{domains: make(map[string]struct{})}
	rs.stats.Started = time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.params.Concurrency)
	for _, src := range sources {
		g.Go(func() error {
			o.processSource(gctx, src, rs)
			return nil // source failures are recorded in stats, never propagated
		})
	}
	_ = g.Wait()

	// single invalidation pass, one DeleteByPrefix per touched domain no
	// matter how many articles landed in it
	for dom := range rs.domains {
		if _, err := o.cache.DeleteByPrefix(ctx, "articles:"+dom+":"); err != nil {
			lgr.Printf("[WARN] cache invalidation failed for domain %s: %v", dom, err)
		}
	}

	rs.stats.Finished = time.Now()
	lgr.Printf("[INFO] batch done: processed=%d succeeded=%d failed=%d duplicates=%d in %v",
		rs.stats.Processed, rs.stats.Succeeded, rs.stats.Failed, rs.stats.Duplicates, rs.stats.Duration())

	// a timed-out batch is a partial failure like any other, the work that
	// didn't make it is already in the failed counts and error list
	if err := ctx.Err(); err != nil {
		lgr.Printf("[WARN] batch cut short: %v", err)
	}
	return rs.stats, nil
}

// processSource fetches one source and runs its articles through the pipeline
func (o *Orchestrator) processSource(ctx context.Context, src domain.Source, rs *runState) {
	if o.params.RecentScrapeWindow > 0 {
		recent, err := o.store.RecentSourceScrape(ctx, src.ID, o.params.RecentScrapeWindow)
		if err != nil {
			lgr.Printf("[WARN] recent scrape check failed for %s: %v", src.ID, err)
		} else if recent {
			lgr.Printf("[DEBUG] source %s scraped within %v, skipping", src.ID, o.params.RecentScrapeWindow)
			return
		}
	}

	markup, err := o.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		rs.recordError("fetch source %s: %v", src.ID, err)
		return
	}

	switch src.Kind {
	case domain.SourceFeed:
		articles, err := o.extractor.ExtractFeed(markup, src)
		if err != nil {
			rs.recordError("extract feed %s: %v", src.ID, err)
			return
		}
		for _, article := range articles {
			o.processArticle(ctx, article, "", src, rs)
		}
	case domain.SourceHTML:
		article, err := o.extractor.ExtractPage(markup, src, src.URL)
		if err != nil {
			rs.recordError("extract page %s: %v", src.ID, err)
			return
		}
		o.processArticle(ctx, article, string(markup), src, rs)
	default:
		rs.recordError("source %s has unknown kind %q", src.ID, src.Kind)
	}
}

// processArticle runs title resolution, classification, dedup and persistence
// for one article. markup is the page HTML when the article came from an
// html source, empty for feed items.
func (o *Orchestrator) processArticle(ctx context.Context, article domain.Article, markup string, src domain.Source, rs *runState) {
	ctx, cancel := context.WithTimeout(ctx, o.params.ArticleTimeout)
	defer cancel()

	rs.mu.Lock()
	rs.stats.Processed++
	rs.mu.Unlock()

	resolvedTitle, titleSource := o.resolveTitle(ctx, article, markup)

	res := o.classifier.Classify(ctx, classify.Input{
		URL:     article.Link,
		Domain:  article.Domain,
		Title:   resolvedTitle,
		Content: article.Content,
	})
	if src.CategoryHint != "" && res.Method == "fallback" {
		// a source-level hint beats the generic fallback
		res.Category = src.CategoryHint
	}

	dup := o.deduper.CheckDuplicate(ctx, article, dedup.Scope{Domain: article.Domain, Window: o.params.DedupWindow})
	if dup.IsDuplicate {
		lgr.Printf("[DEBUG] duplicate (%s) of %q: %s", dup.Method, dup.Matched.Link, article.Link)
		rs.mu.Lock()
		rs.stats.Duplicates++
		rs.mu.Unlock()
		return
	}

	rec := domain.ArticleRecord{
		SourceID:       article.SourceID,
		Domain:         article.Domain,
		Title:          resolvedTitle,
		TitleSource:    titleSource,
		Link:           article.Link,
		Author:         article.Author,
		Content:        article.Content,
		Category:       res.Category,
		CategoryConf:   res.Confidence,
		CategoryMethod: res.Method,
		Published:      article.Published,
	}
	if fp, ok := o.fingerprinter.Fingerprint(article.Content); ok {
		rec.Fingerprint = fp.Hash
		rec.FingerprintLen = fp.Length
	}

	saved, err := o.store.Save(ctx, &rec)
	if err != nil {
		rs.recordError("save article %s: %v", article.Link, err)
		return
	}

	rs.mu.Lock()
	if saved {
		rs.stats.Succeeded++
		rs.domains[article.Domain] = struct{}{}
	} else {
		// link already stored, same outcome as a detected duplicate
		rs.stats.Duplicates++
	}
	rs.mu.Unlock()
}

// resolveTitle runs the title cascade for page articles, validates the
// provided title for feed items, and falls back to the first line of the
// content when nothing better exists
func (o *Orchestrator) resolveTitle(ctx context.Context, article domain.Article, markup string) (resolved, source string) {
	if markup != "" {
		if res, ok := o.titles.Resolve(ctx, markup, title.Input{URL: article.Link, Content: article.Content}); ok {
			return res.Title, res.Source
		}
	}

	if article.Title != "" {
		cleaned := title.CleanTitle(article.Title, siteNameOf(article.Domain))
		if title.IsValidTitle(cleaned, article.Domain) {
			return cleaned, "source"
		}
	}

	return firstLine(article.Content), "content"
}

// siteNameOf treats the article domain as the site name for suffix cleaning
func siteNameOf(dom string) string {
	return dom
}

// firstLine returns the first sentence-ish chunk of the content, capped
// to a headline length
func firstLine(content string) string {
	line := strings.Join(strings.Fields(content), " ")
	if idx := strings.IndexAny(line, ".!?"); idx > 20 {
		line = line[:idx]
	}
	const maxLen = 120
	if utf8.RuneCountInString(line) > maxLen {
		runes := []rune(line)
		line = string(runes[:maxLen]) + "..."
	}
	return strings.TrimSpace(line)
}
