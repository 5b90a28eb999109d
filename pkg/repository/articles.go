package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/umputun/newsflux/pkg/dedup"
	"github.com/umputun/newsflux/pkg/domain"
)

// Articles handles article persistence and the duplicate-detection lookups
type Articles struct {
	db *sqlx.DB
}

// NewArticles creates the articles repository
func NewArticles(db *sqlx.DB) *Articles {
	return &Articles{db: db}
}

// dbArticle adds the normalized title column the domain record doesn't carry
type dbArticle struct {
	domain.ArticleRecord
	TitleNorm string `db:"title_norm"`
}

// Save inserts an article record, retrying on sqlite lock errors. A link
// already present is not an error, it reports saved=false and leaves the
// stored row untouched.
func (a *Articles) Save(ctx context.Context, rec *domain.ArticleRecord) (saved bool, err error) {
	row := dbArticle{ArticleRecord: *rec, TitleNorm: dedup.Normalize(rec.Title)}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO articles (
			source_id, domain, title, title_norm, title_source, link, author,
			content, fingerprint, fingerprint_len, category, category_conf,
			category_method, published, created_at
		) VALUES (
			:source_id, :domain, :title, :title_norm, :title_source, :link, :author,
			:content, :fingerprint, :fingerprint_len, :category, :category_conf,
			:category_method, :published, :created_at
		)
	`

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	err = retrier.Do(ctx, func() error {
		result, execErr := a.db.NamedExecContext(ctx, query, row)
		if execErr != nil {
			if isLockError(execErr) {
				return execErr // repeater will retry this
			}
			return &criticalError{err: execErr}
		}
		id, idErr := result.LastInsertId()
		if idErr != nil {
			return &criticalError{err: fmt.Errorf("get insert id: %w", idErr)}
		}
		rec.ID = id
		rec.CreatedAt = row.CreatedAt
		return nil
	})

	if err != nil {
		var critical *criticalError
		if errors.As(err, &critical) {
			err = critical.err
		}
		if isConflictError(err) {
			return false, nil
		}
		return false, fmt.Errorf("save article: %w", err)
	}
	return true, nil
}

// Get retrieves an article by ID
func (a *Articles) Get(ctx context.Context, id int64) (*domain.ArticleRecord, error) {
	var row dbArticle
	if err := a.db.GetContext(ctx, &row, "SELECT * FROM articles WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	return &row.ArticleRecord, nil
}

// FindByFingerprint returns the stored article matching the exact content
// fingerprint within the domain and window, nil when none exists
func (a *Articles) FindByFingerprint(ctx context.Context, hash, dom string, since time.Time) (*domain.ArticleRecord, error) {
	query := `
		SELECT * FROM articles
		WHERE fingerprint = ? AND domain = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT 1
	`
	var row dbArticle
	err := a.db.GetContext(ctx, &row, query, hash, dom, since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	return &row.ArticleRecord, nil
}

// FindCandidatesByTitlePrefix returns stored articles whose normalized title
// starts with the given prefix, scoped to the domain and window
func (a *Articles) FindCandidatesByTitlePrefix(ctx context.Context, prefix, dom string, since time.Time) ([]domain.ArticleRecord, error) {
	query := `
		SELECT * FROM articles
		WHERE domain = ? AND title_norm LIKE ? ESCAPE '\' AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT 50
	`
	var rows []dbArticle
	if err := a.db.SelectContext(ctx, &rows, query, dom, escapeLike(prefix)+"%", since); err != nil {
		return nil, fmt.Errorf("find candidates by title prefix: %w", err)
	}
	records := make([]domain.ArticleRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].ArticleRecord
	}
	return records, nil
}

// RecentSourceScrape reports whether the source produced any article within
// the window, used to skip refetching sources scraped moments ago
func (a *Articles) RecentSourceScrape(ctx context.Context, sourceID string, window time.Duration) (bool, error) {
	var exists bool
	err := a.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM articles WHERE source_id = ? AND created_at >= ?)",
		sourceID, time.Now().UTC().Add(-window))
	if err != nil {
		return false, fmt.Errorf("check recent scrape: %w", err)
	}
	return exists, nil
}

// CountByCategory returns article counts per category, for the status endpoint
func (a *Articles) CountByCategory(ctx context.Context) (map[string]int, error) {
	rows, err := a.db.QueryxContext(ctx, "SELECT category, COUNT(*) FROM articles GROUP BY category")
	if err != nil {
		return nil, fmt.Errorf("count by category: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		counts[category] = count
	}
	return counts, rows.Err()
}

// likeEscaper escapes LIKE wildcards in user-derived text
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
