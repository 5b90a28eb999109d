package content

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-shiori/dom"
	"github.com/markusmobius/go-trafilatura"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/umputun/newsflux/pkg/domain"
)

// Extractor turns fetched markup into raw articles. HTML pages go through
// trafilatura, feed markup through gofeed. Rich content is sanitized with
// a UGC policy before it leaves this package.
type Extractor struct {
	minTextLength int
	sanitizer     *bluemonday.Policy
}

// NewExtractor creates an extractor, minTextLength rejects pages where
// extraction produced only navigation crumbs
func NewExtractor(minTextLength int) *Extractor {
	return &Extractor{
		minTextLength: minTextLength,
		sanitizer:     bluemonday.UGCPolicy(),
	}
}

// ExtractPage extracts a single article from page markup
func (e *Extractor) ExtractPage(markup []byte, src domain.Source, pageURL string) (domain.Article, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return domain.Article{}, fmt.Errorf("parse URL: %w", err)
	}

	opts := trafilatura.Options{
		EnableFallback:  true,
		ExcludeComments: true,
		ExcludeTables:   false,
		IncludeImages:   false,
		IncludeLinks:    false,
		Deduplicate:     true,
		OriginalURL:     parsedURL,
	}

	result, err := trafilatura.Extract(bytes.NewReader(markup), opts)
	if err != nil {
		return domain.Article{}, fmt.Errorf("extract content from %s: %w", pageURL, err)
	}
	if result == nil || strings.TrimSpace(result.ContentText) == "" {
		return domain.Article{}, fmt.Errorf("no content extracted from %s", pageURL)
	}

	text := strings.TrimSpace(result.ContentText)
	if len(text) < e.minTextLength {
		return domain.Article{}, fmt.Errorf("extracted text too short (%d chars) for %s", len(text), pageURL)
	}

	article := domain.Article{
		SourceID:  src.ID,
		Domain:    hostOf(pageURL),
		Title:     strings.TrimSpace(result.Metadata.Title),
		Content:   text,
		Author:    strings.TrimSpace(result.Metadata.Author),
		Link:      pageURL,
		Published: result.Metadata.Date,
	}
	if result.ContentNode != nil {
		article.RichHTML = e.sanitizer.Sanitize(dom.OuterHTML(result.ContentNode))
	}
	return article, nil
}

// ExtractFeed parses feed markup into raw articles, newest first as the
// feed lists them. MaxItems of the source caps the result when set.
func (e *Extractor) ExtractFeed(markup []byte, src domain.Source) ([]domain.Article, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := feed.Items
	if src.MaxItems > 0 && len(items) > src.MaxItems {
		items = items[:src.MaxItems]
	}

	articles := make([]domain.Article, 0, len(items))
	for _, item := range items {
		article := domain.Article{
			SourceID: src.ID,
			Domain:   hostOf(item.Link),
			Title:    strings.TrimSpace(item.Title),
			Link:     item.Link,
		}

		// prefer full content over the summary, whichever is present
		// carries the item's HTML
		raw := item.Content
		if raw == "" {
			raw = item.Description
		}
		article.RichHTML = e.sanitizer.Sanitize(raw)
		article.Content = strings.TrimSpace(bluemonday.StrictPolicy().Sanitize(raw))

		if item.Author != nil {
			article.Author = item.Author.Name
		}
		if item.PublishedParsed != nil {
			article.Published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			article.Published = *item.UpdatedParsed
		}

		articles = append(articles, article)
	}
	return articles, nil
}

// hostOf extracts the host from a URL, www prefix stripped. Empty on
// unparseable links, the caller decides whether that matters.
func hostOf(link string) string {
	parsed, err := url.Parse(link)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
}
