package domain

import "time"

// Article is a raw article as produced by the extractor,
// not yet classified or deduplicated.
type Article struct {
	SourceID  string
	Domain    string // host part of the article link
	Title     string
	Content   string
	RichHTML  string // sanitized rich content, may be empty
	Author    string
	Link      string
	Published time.Time
}

// ArticleRecord is a persisted article with processing results attached
type ArticleRecord struct {
	ID             int64     `db:"id"`
	SourceID       string    `db:"source_id"`
	Domain         string    `db:"domain"`
	Title          string    `db:"title"`
	TitleSource    string    `db:"title_source"`
	Link           string    `db:"link"`
	Author         string    `db:"author"`
	Content        string    `db:"content"`
	Fingerprint    string    `db:"fingerprint"`
	FingerprintLen int       `db:"fingerprint_len"`
	Category       string    `db:"category"`
	CategoryConf   float64   `db:"category_conf"`
	CategoryMethod string    `db:"category_method"`
	Published      time.Time `db:"published"`
	CreatedAt      time.Time `db:"created_at"`
}
