package title

import (
	"context"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-pkgz/lgr"
)

// validity bounds for a resolved title, in normalized characters
const (
	minTitleLen = 10
	maxTitleLen = 200
)

// descriptionWords bounds how much of a meta description is used as a title
const descriptionWords = 15

// genericTitles are boilerplate values no real article title should equal
var genericTitles = map[string]struct{}{
	"home": {}, "untitled": {}, "index": {}, "welcome": {}, "news": {},
	"noticias": {}, "inicio": {}, "portada": {}, "error": {}, "404": {},
	"page not found": {}, "null": {}, "undefined": {}, "default": {},
}

// separators used by sites to append the site name to the page title
var siteNameSeparators = []string{" | ", " — ", " – ", " - ", " :: ", " » "}

// Input carries the article context for title resolution
type Input struct {
	URL     string
	Content string // extracted text, used only by the llm strategy
}

// Resolution is a successfully resolved title
type Resolution struct {
	Title      string  `json:"title"`
	Source     string  `json:"source"` // strategy tag that produced the title
	Confidence float64 `json:"confidence"`
	SiteName   string  `json:"site_name"`
}

// Completion is the LLM capability used as the last-resort strategy
type Completion interface {
	GenerateTitle(ctx context.Context, content string) (title string, err error)
}

// Resolver runs the title extraction cascade over page markup. Structural
// strategies are tried in order of trust, the LLM only when every one of
// them fails validity checks. An unresolved cascade never yields an
// empty or invalid title, it signals failure explicitly.
type Resolver struct {
	completion Completion
}

// NewResolver creates a title resolver, completion may be nil to disable
// the llm fallback
func NewResolver(completion Completion) *Resolver {
	return &Resolver{completion: completion}
}

// markupStrategy extracts a raw title candidate from parsed markup
type markupStrategy struct {
	name       string
	confidence float64
	extract    func(doc *goquery.Document) string
}

// strategies in cascade order, meta tags before document structure
var markupStrategies = []markupStrategy{
	{"og", 0.95, func(doc *goquery.Document) string {
		return metaContent(doc, `meta[property="og:title"]`)
	}},
	{"twitter", 0.9, func(doc *goquery.Document) string {
		return metaContent(doc, `meta[name="twitter:title"]`)
	}},
	{"title", 0.85, func(doc *goquery.Document) string {
		return doc.Find("title").First().Text()
	}},
	{"h1", 0.8, func(doc *goquery.Document) string {
		return doc.Find("h1").First().Text()
	}},
	{"description", 0.6, func(doc *goquery.Document) string {
		return truncateWords(metaContent(doc, `meta[name="description"]`), descriptionWords)
	}},
}

// Resolve runs the cascade, false when no strategy produced a valid title
func (r *Resolver) Resolve(ctx context.Context, markup string, inp Input) (Resolution, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		lgr.Printf("[WARN] failed to parse markup for %q: %v", inp.URL, err)
		doc = nil
	}

	siteName := resolveSiteName(doc, inp.URL)

	if doc != nil {
		for _, s := range markupStrategies {
			candidate := CleanTitle(s.extract(doc), siteName)
			if IsValidTitle(candidate, siteName) {
				return Resolution{Title: candidate, Source: s.name, Confidence: s.confidence, SiteName: siteName}, true
			}
		}
	}

	// last resort, only reached when all structural strategies failed
	if r.completion != nil && inp.Content != "" {
		generated, err := r.completion.GenerateTitle(ctx, inp.Content)
		if err != nil {
			lgr.Printf("[WARN] llm title generation failed for %q: %v", inp.URL, err)
		} else {
			candidate := CleanTitle(generated, siteName)
			if IsValidTitle(candidate, siteName) {
				return Resolution{Title: candidate, Source: "ai", Confidence: 0.7, SiteName: siteName}, true
			}
		}
	}

	return Resolution{SiteName: siteName}, false
}

// CleanTitle normalizes whitespace and strips a trailing site-name suffix
// such as "Some Headline | Example News"
func CleanTitle(raw, siteName string) string {
	title := strings.Join(strings.Fields(raw), " ")
	if siteName == "" {
		return title
	}
	for _, sep := range siteNameSeparators {
		idx := strings.LastIndex(title, sep)
		if idx <= 0 {
			continue
		}
		tail := strings.TrimSpace(title[idx+len(sep):])
		if strings.EqualFold(tail, siteName) {
			return strings.TrimSpace(title[:idx])
		}
	}
	return title
}

// IsValidTitle rejects generic, boilerplate and degenerate titles
func IsValidTitle(title, siteName string) bool {
	normalized := strings.Join(strings.Fields(title), " ")
	length := utf8.RuneCountInString(normalized)
	if length < minTitleLen || length > maxTitleLen {
		return false
	}
	if _, generic := genericTitles[strings.ToLower(normalized)]; generic {
		return false
	}
	if siteName != "" && strings.EqualFold(normalized, siteName) {
		return false
	}
	for _, r := range normalized {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false // only non-word characters
}

// resolveSiteName prefers og:site_name, falling back to the URL host
func resolveSiteName(doc *goquery.Document, rawURL string) string {
	if doc != nil {
		if name := strings.TrimSpace(metaContent(doc, `meta[property="og:site_name"]`)); name != "" {
			return name
		}
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return strings.TrimPrefix(parsed.Host, "www.")
}

// metaContent returns the content attribute of the first matching meta tag
func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return content
}

// truncateWords keeps the first n words of the text
func truncateWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ")
}
