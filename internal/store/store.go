// Package store persists feeds, articles and settings in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Feed is a subscribed feed.
type Feed struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Category    string `json:"category,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Article is one stored feed entry.
type Article struct {
	ID        string `json:"id"`
	FeedID    string `json:"feed_id"`
	Title     string `json:"title"`
	Link      string `json:"link"`
	Content   string `json:"content,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Author    string `json:"author,omitempty"`
	PubDate   int64  `json:"pub_date,omitempty"`
	Read      bool   `json:"is_read"`
	Starred   bool   `json:"is_starred"`
	FetchedAt int64  `json:"fetched_at"`
}

// Filter narrows article listings.
type Filter string

const (
	FilterAll     Filter = "all"
	FilterUnread  Filter = "unread"
	FilterStarred Filter = "starred"
)

// Store is a SQLite-backed store. A single connection serializes writes,
// which is how SQLite wants to be used.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists. The parent directory is created when missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	// WAL plus a generous busy timeout keeps the refresh worker and the
	// API handlers from tripping over SQLITE_BUSY.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS feeds (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		description TEXT,
		image_url TEXT,
		category TEXT,
		created_at INTEGER DEFAULT (unixepoch()),
		updated_at INTEGER DEFAULT (unixepoch())
	);

	CREATE TABLE IF NOT EXISTS articles (
		id TEXT PRIMARY KEY,
		feed_id TEXT NOT NULL,
		title TEXT NOT NULL,
		link TEXT NOT NULL,
		content TEXT,
		summary TEXT,
		author TEXT,
		pub_date INTEGER,
		is_read INTEGER DEFAULT 0,
		is_starred INTEGER DEFAULT 0,
		fetched_at INTEGER DEFAULT (unixepoch()),
		FOREIGN KEY (feed_id) REFERENCES feeds(id)
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_articles_link ON articles(link);
	CREATE INDEX IF NOT EXISTS idx_articles_feed ON articles(feed_id);
	CREATE INDEX IF NOT EXISTS idx_articles_date ON articles(pub_date DESC);
	CREATE INDEX IF NOT EXISTS idx_articles_starred ON articles(is_starred);
	CREATE INDEX IF NOT EXISTS idx_articles_read ON articles(is_read);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AddFeed stores a new subscription and returns it with generated fields
// filled in. Feed URLs are unique.
func (s *Store) AddFeed(title, url, description, category string) (Feed, error) {
	f := Feed{
		ID:          uuid.NewString(),
		Title:       title,
		URL:         url,
		Description: description,
		Category:    category,
		CreatedAt:   time.Now().Unix(),
	}
	f.UpdatedAt = f.CreatedAt

	_, err := s.db.Exec(`
		INSERT INTO feeds (id, title, url, description, category, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.Title, f.URL, f.Description, f.Category, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return Feed{}, fmt.Errorf("add feed: %w", err)
	}
	return f, nil
}

// Feeds lists all subscriptions ordered by title.
func (s *Store) Feeds() ([]Feed, error) {
	rows, err := s.db.Query(`
		SELECT id, title, url, ifnull(description,''), ifnull(image_url,''),
		       ifnull(category,''), created_at, updated_at
		FROM feeds ORDER BY title
	`)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		var f Feed
		if err := rows.Scan(&f.ID, &f.Title, &f.URL, &f.Description,
			&f.ImageURL, &f.Category, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// Feed returns one subscription by id.
func (s *Store) Feed(id string) (Feed, error) {
	var f Feed
	err := s.db.QueryRow(`
		SELECT id, title, url, ifnull(description,''), ifnull(image_url,''),
		       ifnull(category,''), created_at, updated_at
		FROM feeds WHERE id = ?
	`, id).Scan(&f.ID, &f.Title, &f.URL, &f.Description,
		&f.ImageURL, &f.Category, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return Feed{}, fmt.Errorf("get feed %s: %w", id, err)
	}
	return f, nil
}

// RemoveFeed deletes a subscription and its articles.
func (s *Store) RemoveFeed(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM articles WHERE feed_id = ?", id); err != nil {
		return fmt.Errorf("remove feed articles: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM feeds WHERE id = ?", id); err != nil {
		return fmt.Errorf("remove feed: %w", err)
	}
	return tx.Commit()
}

// UpdateFeedMeta refreshes title, description and image from a fetched
// feed document and bumps updated_at.
func (s *Store) UpdateFeedMeta(id, title, description, imageURL string) error {
	_, err := s.db.Exec(`
		UPDATE feeds SET title = ?, description = ?, image_url = ?, updated_at = unixepoch()
		WHERE id = ?
	`, title, description, imageURL, id)
	return err
}

// InsertArticle stores an article unless one with the same link already
// exists. It reports whether a row was actually inserted.
func (s *Store) InsertArticle(a Article) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.FetchedAt == 0 {
		a.FetchedAt = time.Now().Unix()
	}

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO articles
		(id, feed_id, title, link, content, summary, author, pub_date, is_read, is_starred, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)
	`, a.ID, a.FeedID, a.Title, a.Link, a.Content, a.Summary, a.Author,
		nullableInt(a.PubDate), a.FetchedAt)
	if err != nil {
		return false, fmt.Errorf("insert article: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Articles lists stored articles, newest first. feedID narrows to one
// feed when non-empty.
func (s *Store) Articles(feedID string, filter Filter, limit, offset int) ([]Article, error) {
	query := `
		SELECT id, feed_id, title, link, ifnull(content,''), ifnull(summary,''),
		       ifnull(author,''), ifnull(pub_date,0), is_read, is_starred, fetched_at
		FROM articles`
	var conds []string
	var args []any

	if feedID != "" {
		conds = append(conds, "feed_id = ?")
		args = append(args, feedID)
	}
	switch filter {
	case FilterUnread:
		conds = append(conds, "is_read = 0")
	case FilterStarred:
		conds = append(conds, "is_starred = 1")
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY pub_date DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.ID, &a.FeedID, &a.Title, &a.Link, &a.Content,
			&a.Summary, &a.Author, &a.PubDate, &a.Read, &a.Starred, &a.FetchedAt); err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// MarkRead flips an article's read flag.
func (s *Store) MarkRead(id string, read bool) error {
	_, err := s.db.Exec("UPDATE articles SET is_read = ? WHERE id = ?", boolInt(read), id)
	return err
}

// SetStarred flips an article's starred flag.
func (s *Store) SetStarred(id string, starred bool) error {
	_, err := s.db.Exec("UPDATE articles SET is_starred = ? WHERE id = ?", boolInt(starred), id)
	return err
}

// Setting reads one settings value; ok is false when the key is unset.
func (s *Store) Setting(key string) (value string, ok bool, err error) {
	err = s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting writes one settings value, replacing any previous one.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
