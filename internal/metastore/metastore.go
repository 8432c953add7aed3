// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
// Package metastore is the local SQLite-backed mirror of durable, small
// metadata that doesn't belong in the vector store: per-repo tracked-file
// hashes (so the scanner survives a restart without re-hashing everything),
// URL-content cache validators, and review-snapshot counters. Grounded on
// the teacher's internal/drone/database/client_db.go (tracked_files schema,
// upsert-on-conflict idiom) generalized from a single global table to one
// keyed by repo path, and on cmd/hive-server/main.go's initDatabase (the
// teacher's own documents/chunks schema-bootstrap idiom).
package metastore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the local SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the metastore database under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("metastore: create dir: %w", err)
	}
	db, err := sql.Open("sqlite3", filepath.Join(dir, "cortexd.db"))
	if err != nil {
		return nil, fmt.Errorf("metastore: open: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS tracked_files (
		repo_path TEXT NOT NULL,
		file_path TEXT NOT NULL,
		file_hash TEXT NOT NULL,
		last_processed DATETIME DEFAULT CURRENT_TIMESTAMP,
		status TEXT DEFAULT 'pending',
		PRIMARY KEY (repo_path, file_path)
	);
	CREATE INDEX IF NOT EXISTS idx_tracked_files_hash ON tracked_files(file_hash);

	CREATE TABLE IF NOT EXISTS url_contents (
		url TEXT PRIMARY KEY,
		display_name TEXT,
		markdown TEXT,
		content_hash TEXT,
		etag TEXT,
		last_modified TEXT,
		last_indexed DATETIME,
		backend_id TEXT
	);

	CREATE TABLE IF NOT EXISTS review_snapshots (
		repo_path TEXT NOT NULL,
		source_branch TEXT NOT NULL,
		committed_ref TEXT,
		review_count INTEGER DEFAULT 0,
		PRIMARY KEY (repo_path, source_branch)
	);

	CREATE TABLE IF NOT EXISTS ingestion_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_path TEXT NOT NULL,
		file_path TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS credentials (
		provider TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// TrackedFile mirrors one row of tracked_files.
type TrackedFile struct {
	RepoPath string
	FilePath string
	FileHash string
	Status   string
}

// GetTrackedFile returns nil, nil if the file has no tracked row.
func (s *Store) GetTrackedFile(repoPath, filePath string) (*TrackedFile, error) {
	var tf TrackedFile
	err := s.db.QueryRow(
		`SELECT repo_path, file_path, file_hash, status FROM tracked_files WHERE repo_path = ? AND file_path = ?`,
		repoPath, filePath,
	).Scan(&tf.RepoPath, &tf.FilePath, &tf.FileHash, &tf.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metastore: get tracked file: %w", err)
	}
	return &tf, nil
}

// UpsertTrackedFile records the latest known hash/status for one file.
func (s *Store) UpsertTrackedFile(repoPath, filePath, fileHash, status string) error {
	_, err := s.db.Exec(`
		INSERT INTO tracked_files (repo_path, file_path, file_hash, status, last_processed)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(repo_path, file_path) DO UPDATE SET
			file_hash = excluded.file_hash,
			status = excluded.status,
			last_processed = CURRENT_TIMESTAMP
	`, repoPath, filePath, fileHash, status)
	if err != nil {
		return fmt.Errorf("metastore: upsert tracked file: %w", err)
	}
	return nil
}

// DeleteTrackedFile removes a file's tracking row (used when a manifest
// diff reports the file no longer exists).
func (s *Store) DeleteTrackedFile(repoPath, filePath string) error {
	_, err := s.db.Exec(`DELETE FROM tracked_files WHERE repo_path = ? AND file_path = ?`, repoPath, filePath)
	if err != nil {
		return fmt.Errorf("metastore: delete tracked file: %w", err)
	}
	return nil
}

// ListTrackedFiles loads every tracked file for repoPath, used to rebuild
// the in-memory RepoManifest when the coordinator restarts.
func (s *Store) ListTrackedFiles(repoPath string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT file_path, file_hash FROM tracked_files WHERE repo_path = ?`, repoPath)
	if err != nil {
		return nil, fmt.Errorf("metastore: list tracked files: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		out[path] = hash
	}
	return out, rows.Err()
}

// RecordIngestionEvent appends a line to the ingestion event log. The log is
// write-only: no method of this package reads it back.
func (s *Store) RecordIngestionEvent(repoPath, filePath, status, message string) error {
	_, err := s.db.Exec(
		`INSERT INTO ingestion_events (repo_path, file_path, status, message) VALUES (?, ?, ?, ?)`,
		repoPath, filePath, status, message,
	)
	return err
}

// IncrementReviewCount bumps the monotonic review counter for a branch and
// returns the new value, grounded on local_snapshot.py's
// "_increment_review_count" called only after a successful snapshot move.
func (s *Store) IncrementReviewCount(repoPath, sourceBranch, committedRef string) (int, error) {
	_, err := s.db.Exec(`
		INSERT INTO review_snapshots (repo_path, source_branch, committed_ref, review_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(repo_path, source_branch) DO UPDATE SET
			committed_ref = excluded.committed_ref,
			review_count = review_count + 1
	`, repoPath, sourceBranch, committedRef)
	if err != nil {
		return 0, fmt.Errorf("metastore: increment review count: %w", err)
	}

	var count int
	err = s.db.QueryRow(
		`SELECT review_count FROM review_snapshots WHERE repo_path = ? AND source_branch = ?`,
		repoPath, sourceBranch,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("metastore: read review count: %w", err)
	}
	return count, nil
}

// ReviewSnapshotRow mirrors one row of review_snapshots.
type ReviewSnapshotRow struct {
	RepoPath     string
	SourceBranch string
	CommittedRef string
	ReviewCount  int
}

// GetReviewSnapshot returns nil, nil if the branch has never been snapshotted.
func (s *Store) GetReviewSnapshot(repoPath, sourceBranch string) (*ReviewSnapshotRow, error) {
	var row ReviewSnapshotRow
	err := s.db.QueryRow(
		`SELECT repo_path, source_branch, committed_ref, review_count FROM review_snapshots WHERE repo_path = ? AND source_branch = ?`,
		repoPath, sourceBranch,
	).Scan(&row.RepoPath, &row.SourceBranch, &row.CommittedRef, &row.ReviewCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metastore: get review snapshot: %w", err)
	}
	return &row, nil
}

// StoreCredential persists a bearer token under provider, overwriting any
// existing one.
func (s *Store) StoreCredential(provider, token string) error {
	_, err := s.db.Exec(`
		INSERT INTO credentials (provider, token, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(provider) DO UPDATE SET
			token = excluded.token,
			updated_at = CURRENT_TIMESTAMP
	`, provider, token)
	if err != nil {
		return fmt.Errorf("metastore: store credential: %w", err)
	}
	return nil
}

// LoadCredential returns "", nil if no token is stored for provider.
func (s *Store) LoadCredential(provider string) (string, error) {
	var token string
	err := s.db.QueryRow(`SELECT token FROM credentials WHERE provider = ?`, provider).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("metastore: load credential: %w", err)
	}
	return token, nil
}

// DeleteCredential removes a stored token, a no-op if none exists.
func (s *Store) DeleteCredential(provider string) error {
	_, err := s.db.Exec(`DELETE FROM credentials WHERE provider = ?`, provider)
	if err != nil {
		return fmt.Errorf("metastore: delete credential: %w", err)
	}
	return nil
}

// UpsertURLContent stores or refreshes a cached URL fetch.
func (s *Store) UpsertURLContent(url, displayName, markdown, contentHash, etag, lastModified, backendID string) error {
	_, err := s.db.Exec(`
		INSERT INTO url_contents (url, display_name, markdown, content_hash, etag, last_modified, last_indexed, backend_id)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?)
		ON CONFLICT(url) DO UPDATE SET
			display_name = excluded.display_name,
			markdown = excluded.markdown,
			content_hash = excluded.content_hash,
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			last_indexed = CURRENT_TIMESTAMP,
			backend_id = excluded.backend_id
	`, url, displayName, markdown, contentHash, etag, lastModified, backendID)
	if err != nil {
		return fmt.Errorf("metastore: upsert url content: %w", err)
	}
	return nil
}

// URLContentRow mirrors one row of url_contents.
type URLContentRow struct {
	URL, DisplayName, Markdown, ContentHash, ETag, LastModified, BackendID string
	LastIndexed                                                           time.Time
}

func (s *Store) GetURLContent(url string) (*URLContentRow, error) {
	var row URLContentRow
	err := s.db.QueryRow(
		`SELECT url, display_name, markdown, content_hash, etag, last_modified, last_indexed, backend_id FROM url_contents WHERE url = ?`,
		url,
	).Scan(&row.URL, &row.DisplayName, &row.Markdown, &row.ContentHash, &row.ETag, &row.LastModified, &row.LastIndexed, &row.BackendID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metastore: get url content: %w", err)
	}
	return &row, nil
}

func (s *Store) ListURLContents() ([]URLContentRow, error) {
	rows, err := s.db.Query(`SELECT url, display_name, markdown, content_hash, etag, last_modified, last_indexed, backend_id FROM url_contents`)
	if err != nil {
		return nil, fmt.Errorf("metastore: list url contents: %w", err)
	}
	defer rows.Close()

	var out []URLContentRow
	for rows.Next() {
		var row URLContentRow
		if err := rows.Scan(&row.URL, &row.DisplayName, &row.Markdown, &row.ContentHash, &row.ETag, &row.LastModified, &row.LastIndexed, &row.BackendID); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) DeleteURLContent(url string) error {
	_, err := s.db.Exec(`DELETE FROM url_contents WHERE url = ?`, url)
	return err
}
