package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Database holds search history and, with the sqlite ledger backend, the usage ledger
type Database struct {
	db  *sql.DB
	now func() time.Time
}

// HistoryEntry is one stored search result
type HistoryEntry struct {
	ContentItem
	Keyword string    `json:"keyword"`
	SeenAt  time.Time `json:"seen_at"`
}

// OpenDatabase opens (or creates) the SQLite file at path and ensures the schema exists
func OpenDatabase(path string) (*Database, error) {
	slog.Debug("Initializing database", "path", path)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps a :memory: database shared
	db.SetMaxOpenConns(1)

	createLedgerTable := `
	CREATE TABLE IF NOT EXISTS usage_ledger (
		id INTEGER PRIMARY KEY CHECK (id = 1),  -- single row
		date TEXT NOT NULL,
		tokens INTEGER NOT NULL DEFAULT 0
	)`
	if _, err := db.Exec(createLedgerTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create usage_ledger table: %w", err)
	}

	createPostsTable := `
	CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_key TEXT NOT NULL UNIQUE,          -- permalink, or source URL when the permalink is empty
		post_id TEXT,
		title TEXT NOT NULL,
		author TEXT,
		subreddit TEXT,
		keyword TEXT,
		permalink TEXT,
		url TEXT,
		preview TEXT,
		score INTEGER DEFAULT 0,
		num_comments INTEGER DEFAULT 0,
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL
	)`
	if _, err := db.Exec(createPostsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create posts table: %w", err)
	}

	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_posts_last_seen ON posts(last_seen)"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create posts index: %w", err)
	}
	slog.Debug("Database initialized successfully")

	return &Database{db: db, now: time.Now}, nil
}

// Close closes the underlying connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Load implements LedgerStore
func (d *Database) Load(ctx context.Context) (UsageLedger, error) {
	query, args, err := sq.Select("date", "tokens").From("usage_ledger").Where(sq.Eq{"id": 1}).ToSql()
	if err != nil {
		return UsageLedger{}, fmt.Errorf("failed to build ledger query: %w", err)
	}

	var ledger UsageLedger
	err = d.db.QueryRowContext(ctx, query, args...).Scan(&ledger.Date, &ledger.Tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return UsageLedger{}, nil
	}
	if err != nil {
		return UsageLedger{}, fmt.Errorf("failed to read usage ledger: %w", err)
	}
	return ledger, nil
}

// Save implements LedgerStore
func (d *Database) Save(ctx context.Context, ledger UsageLedger) error {
	query, args, err := sq.Insert("usage_ledger").
		Columns("id", "date", "tokens").
		Values(1, ledger.Date, ledger.Tokens).
		Suffix("ON CONFLICT(id) DO UPDATE SET date = excluded.date, tokens = excluded.tokens").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build ledger update: %w", err)
	}

	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to write usage ledger: %w", err)
	}
	return nil
}

// Add implements LedgerAdder with a single upsert
func (d *Database) Add(ctx context.Context, date string, n int) (UsageLedger, error) {
	query, args, err := sq.Insert("usage_ledger").
		Columns("id", "date", "tokens").
		Values(1, date, n).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
			tokens = CASE WHEN usage_ledger.date = excluded.date THEN usage_ledger.tokens + excluded.tokens ELSE excluded.tokens END,
			date = excluded.date
		RETURNING date, tokens`).
		ToSql()
	if err != nil {
		return UsageLedger{}, fmt.Errorf("failed to build ledger increment: %w", err)
	}

	var ledger UsageLedger
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&ledger.Date, &ledger.Tokens); err != nil {
		return UsageLedger{}, fmt.Errorf("failed to increment usage ledger: %w", err)
	}
	return ledger, nil
}

// SavePosts upserts search results keyed by permalink and returns how many rows were written.
// Items without permalink and source URL are skipped.
func (d *Database) SavePosts(ctx context.Context, keyword string, items []ContentItem) (int, error) {
	slog.Debug("Updating stored posts", "itemCount", len(items))

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := d.now().Unix()
	saved := 0
	for _, item := range items {
		key := item.Permalink
		if key == "" {
			key = item.SourceURL
		}
		if key == "" {
			continue
		}

		query, args, err := sq.Insert("posts").
			Columns("post_key", "post_id", "title", "author", "subreddit", "keyword", "permalink", "url", "preview",
				"score", "num_comments", "first_seen", "last_seen").
			Values(key, item.ID, item.Title, item.Author, item.Community, keyword, item.Permalink, item.SourceURL, item.Preview,
				item.Score, item.CommentCount, now, now).
			Suffix(`ON CONFLICT(post_key) DO UPDATE SET
				title = excluded.title,
				author = excluded.author,
				keyword = excluded.keyword,
				preview = excluded.preview,
				score = excluded.score,
				num_comments = excluded.num_comments,
				last_seen = excluded.last_seen`). // first_seen is kept on conflict
			ToSql()
		if err != nil {
			return saved, fmt.Errorf("failed to build post upsert: %w", err)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return saved, fmt.Errorf("failed to store post %s: %w", key, err)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit posts: %w", err)
	}
	slog.Debug("Stored posts", "count", saved, "keyword", keyword)
	return saved, nil
}

// RecentPosts returns the most recently seen posts, newest first
func (d *Database) RecentPosts(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("history limit must be positive, got %d", limit)
	}
	query, args, err := sq.Select("post_id", "title", "author", "subreddit", "keyword", "permalink", "url", "preview",
		"score", "num_comments", "last_seen").
		From("posts").
		OrderBy("last_seen DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build history query: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []HistoryEntry{}
	for rows.Next() {
		var entry HistoryEntry
		var lastSeen int64
		err := rows.Scan(&entry.ID, &entry.Title, &entry.Author, &entry.Community, &entry.Keyword, &entry.Permalink,
			&entry.SourceURL, &entry.Preview, &entry.Score, &entry.CommentCount, &lastSeen)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entry.SeenAt = time.Unix(lastSeen, 0).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	slog.Debug("Retrieved posts from database", "count", len(entries))
	return entries, nil
}
