package content

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/newsflux/pkg/domain"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head>
	<title>Central Bank Raises Rates - Example News</title>
	<meta property="og:title" content="Central Bank Raises Rates"/>
	<meta name="author" content="Jane Doe"/>
</head>
<body>
	<article>
		<h1>Central Bank Raises Rates</h1>
		<p>The central bank raised interest rates by half a point on Tuesday, citing persistent
		inflation across consumer goods and services. Analysts had expected a smaller increase.</p>
		<p>Markets reacted with a sharp sell-off in bonds while the currency strengthened against
		major trading partners. The bank signalled further increases may follow this year.</p>
		<p>Economists remain divided on whether the tightening cycle will tip the economy into
		recession or merely slow growth to a sustainable pace over the coming quarters.</p>
	</article>
</body>
</html>`

func TestExtractor_ExtractPage(t *testing.T) {
	e := NewExtractor(100)
	src := domain.Source{ID: "example-page", Kind: domain.SourceHTML}

	article, err := e.ExtractPage([]byte(articleHTML), src, "https://www.example.com/economia/rates")
	require.NoError(t, err)

	assert.Equal(t, "example-page", article.SourceID)
	assert.Equal(t, "example.com", article.Domain)
	assert.Equal(t, "https://www.example.com/economia/rates", article.Link)
	assert.Contains(t, article.Content, "raised interest rates")
	assert.Greater(t, len(article.Content), 100)
}

func TestExtractor_ExtractPageTooShort(t *testing.T) {
	e := NewExtractor(10000)
	_, err := e.ExtractPage([]byte(articleHTML), domain.Source{ID: "s"}, "https://example.com/a")
	assert.Error(t, err)
}

func TestExtractor_ExtractPageNoContent(t *testing.T) {
	e := NewExtractor(100)
	_, err := e.ExtractPage([]byte("<html><body></body></html>"), domain.Source{ID: "s"}, "https://example.com/a")
	assert.Error(t, err)
}

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>Example Feed</title>
	<link>https://example.com</link>
	<item>
		<title>First Story Headline</title>
		<link>https://www.example.com/news/first</link>
		<description><![CDATA[<p>Summary of the <b>first</b> story.</p><script>alert(1)</script>]]></description>
		<author>john@example.com (John Smith)</author>
		<pubDate>Mon, 24 Aug 2026 10:00:00 GMT</pubDate>
	</item>
	<item>
		<title>Second Story Headline</title>
		<link>https://example.com/news/second</link>
		<description>Plain text summary of the second story.</description>
	</item>
	<item>
		<title>Third Story Headline</title>
		<link>https://example.com/news/third</link>
		<description>Third summary.</description>
	</item>
</channel>
</rss>`

func TestExtractor_ExtractFeed(t *testing.T) {
	e := NewExtractor(100)
	src := domain.Source{ID: "example-feed", Kind: domain.SourceFeed}

	articles, err := e.ExtractFeed([]byte(feedXML), src)
	require.NoError(t, err)
	require.Len(t, articles, 3)

	first := articles[0]
	assert.Equal(t, "example-feed", first.SourceID)
	assert.Equal(t, "First Story Headline", first.Title)
	assert.Equal(t, "example.com", first.Domain, "www is stripped from the item host")
	assert.Equal(t, "John Smith", first.Author)
	assert.Equal(t, time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC), first.Published.UTC())

	// script tags are sanitized out, markup survives in rich content only
	assert.NotContains(t, first.RichHTML, "<script>")
	assert.Contains(t, first.RichHTML, "<b>")
	assert.NotContains(t, first.Content, "<")
	assert.Contains(t, first.Content, "Summary of the first story.")

	second := articles[1]
	assert.Equal(t, "Plain text summary of the second story.", second.Content)
	assert.True(t, second.Published.IsZero())
}

func TestExtractor_ExtractFeedMaxItems(t *testing.T) {
	e := NewExtractor(100)
	src := domain.Source{ID: "example-feed", Kind: domain.SourceFeed, MaxItems: 2}

	articles, err := e.ExtractFeed([]byte(feedXML), src)
	require.NoError(t, err)
	assert.Len(t, articles, 2)
}

func TestExtractor_ExtractFeedBadXML(t *testing.T) {
	e := NewExtractor(100)
	_, err := e.ExtractFeed([]byte("not xml at all"), domain.Source{ID: "s"})
	assert.Error(t, err)
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		link string
		want string
	}{
		{"https://www.example.com/a", "example.com"},
		{"https://News.Example.COM/a", "news.example.com"},
		{"not a url", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.link, func(t *testing.T) {
			assert.Equal(t, tt.want, hostOf(tt.link))
		})
	}
}

func TestExtractor_ContentStrippedOfMarkup(t *testing.T) {
	e := NewExtractor(100)
	articles, err := e.ExtractFeed([]byte(feedXML), domain.Source{ID: "s"})
	require.NoError(t, err)
	for _, a := range articles {
		assert.False(t, strings.Contains(a.Content, "<"), "plain content must carry no tags: %q", a.Content)
	}
}
