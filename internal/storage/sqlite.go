package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/BenjaminSRussell/siteaudit/internal/progress"
	"github.com/BenjaminSRussell/siteaudit/internal/types"
)

// SQLiteStorage provides SQLite-based storage for queryable audit data
type SQLiteStorage struct {
	db *sql.DB
}

// PageFilter narrows QueryPages
type PageFilter struct {
	StatusCode int
	FailedOnly bool
	MissingAlt bool
}

// CrawlStats summarizes one stored crawl
type CrawlStats struct {
	TotalPages      int
	SuccessfulPages int
	FailedPages     int
	Redirects       int
	MissingAltPages int
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; the reporter goroutine is the only caller during a crawl
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS crawls (
		id TEXT PRIMARY KEY,
		seed_url TEXT NOT NULL,
		check_alt_text INTEGER NOT NULL,
		search_term TEXT,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		discovered INTEGER,
		processed INTEGER,
		errors INTEGER,
		cancelled INTEGER
	);

	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		crawl_id TEXT NOT NULL,
		url TEXT NOT NULL,
		status_code INTEGER,
		origin TEXT,
		redirect_url TEXT,
		contains_search_term INTEGER,
		error TEXT,
		crawled_at TIMESTAMP NOT NULL,
		UNIQUE (crawl_id, url),
		FOREIGN KEY (crawl_id) REFERENCES crawls(id)
	);

	CREATE INDEX IF NOT EXISTS idx_pages_crawl ON pages(crawl_id);
	CREATE INDEX IF NOT EXISTS idx_pages_status_code ON pages(status_code);

	CREATE TABLE IF NOT EXISTS missing_alt (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		crawl_id TEXT NOT NULL,
		page_url TEXT NOT NULL,
		image_url TEXT NOT NULL,
		FOREIGN KEY (crawl_id) REFERENCES crawls(id)
	);

	CREATE INDEX IF NOT EXISTS idx_missing_alt_page ON missing_alt(crawl_id, page_url);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// BeginCrawl registers a crawl and returns its id
func (s *SQLiteStorage) BeginCrawl(target types.CrawlTarget) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		"INSERT INTO crawls (id, seed_url, check_alt_text, search_term, started_at) VALUES (?, ?, ?, ?, ?)",
		id, target.BaseURL, target.CheckAltText, target.SearchTerm, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record crawl: %w", err)
	}
	return id, nil
}

// ErrNoCrawls is returned by LatestCrawl on an empty database
var ErrNoCrawls = errors.New("no crawls recorded")

// LatestCrawl returns the id of the most recently started crawl
func (s *SQLiteStorage) LatestCrawl() (string, error) {
	var id string
	err := s.db.QueryRow("SELECT id FROM crawls ORDER BY rowid DESC LIMIT 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoCrawls
	}
	if err != nil {
		return "", fmt.Errorf("failed to find latest crawl: %w", err)
	}
	return id, nil
}

// FinishCrawl stores the final counters of a crawl
func (s *SQLiteStorage) FinishCrawl(crawlID string, results *types.Results) error {
	_, err := s.db.Exec(
		"UPDATE crawls SET finished_at = ?, discovered = ?, processed = ?, errors = ?, cancelled = ? WHERE id = ?",
		time.Now().UTC(), results.Discovered, results.Processed, results.Errors, results.Cancelled, crawlID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish crawl: %w", err)
	}
	return nil
}

// SavePage saves a page result and its images without alt text
func (s *SQLiteStorage) SavePage(crawlID string, result types.PageResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var searchHit sql.NullBool
	if result.ContainsSearchTerm != nil {
		searchHit = sql.NullBool{Bool: *result.ContainsSearchTerm, Valid: true}
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO pages
		(crawl_id, url, status_code, origin, redirect_url, contains_search_term, error, crawled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		crawlID,
		result.URL,
		result.StatusCode,
		result.Origin,
		result.RedirectURL,
		searchHit,
		result.Error,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save page: %w", err)
	}

	if len(result.ImagesWithoutAlt) > 0 {
		stmt, err := tx.Prepare("INSERT INTO missing_alt (crawl_id, page_url, image_url) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, img := range result.ImagesWithoutAlt {
			if _, err := stmt.Exec(crawlID, result.URL, img); err != nil {
				return fmt.Errorf("failed to save image: %w", err)
			}
		}
	}

	return tx.Commit()
}

// Sink returns a progress sink writing page results of one crawl
func (s *SQLiteStorage) Sink(crawlID string) progress.Sink {
	return progress.SinkFunc(func(ctx context.Context, event types.Event) error {
		if event.URLStatus == nil {
			return nil
		}
		return s.SavePage(crawlID, *event.URLStatus)
	})
}

// QueryPages queries pages of a crawl with filters
func (s *SQLiteStorage) QueryPages(crawlID string, filter PageFilter) ([]types.PageResult, error) {
	query := `SELECT url, status_code, origin, redirect_url, contains_search_term, error
		FROM pages WHERE crawl_id = ?`
	args := []interface{}{crawlID}

	if filter.StatusCode != 0 {
		query += " AND status_code = ?"
		args = append(args, filter.StatusCode)
	}
	if filter.FailedOnly {
		query += " AND (status_code = 0 OR status_code >= 400 OR error != '')"
	}
	if filter.MissingAlt {
		query += " AND url IN (SELECT page_url FROM missing_alt WHERE crawl_id = ?)"
		args = append(args, crawlID)
	}
	query += " ORDER BY id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]types.PageResult, 0)
	for rows.Next() {
		var result types.PageResult
		var searchHit sql.NullBool
		if err := rows.Scan(
			&result.URL,
			&result.StatusCode,
			&result.Origin,
			&result.RedirectURL,
			&searchHit,
			&result.Error,
		); err != nil {
			return nil, err
		}
		if searchHit.Valid {
			hit := searchHit.Bool
			result.ContainsSearchTerm = &hit
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		images, err := s.imagesWithoutAlt(crawlID, results[i].URL)
		if err != nil {
			return nil, err
		}
		results[i].ImagesWithoutAlt = images
	}

	return results, nil
}

func (s *SQLiteStorage) imagesWithoutAlt(crawlID, pageURL string) ([]string, error) {
	rows, err := s.db.Query("SELECT image_url FROM missing_alt WHERE crawl_id = ? AND page_url = ? ORDER BY id", crawlID, pageURL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []string
	for rows.Next() {
		var img string
		if err := rows.Scan(&img); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// GetStats returns statistics for a stored crawl
func (s *SQLiteStorage) GetStats(crawlID string) (CrawlStats, error) {
	var stats CrawlStats

	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status_code = 200 AND error = '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status_code = 0 OR status_code >= 400 OR error != '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status_code >= 300 AND status_code < 400 THEN 1 ELSE 0 END), 0)
		FROM pages WHERE crawl_id = ?`, crawlID,
	).Scan(&stats.TotalPages, &stats.SuccessfulPages, &stats.FailedPages, &stats.Redirects)
	if err != nil {
		return stats, err
	}

	err = s.db.QueryRow("SELECT COUNT(DISTINCT page_url) FROM missing_alt WHERE crawl_id = ?", crawlID).Scan(&stats.MissingAltPages)
	if err != nil {
		return stats, err
	}

	return stats, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
