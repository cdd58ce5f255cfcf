// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     store
// Description: SQLite-backed transcript archive
// Author:      Mike Stoffels with Claude
// Created:     2026-07-15
// License:     MIT
// ============================================================================

// Package store persists finished transcriptions. Every transcript is
// archived with an audio fingerprint, so repeated transcriptions of the
// same recording can be answered from the archive.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/msto63/mSW/internal/segment"
)

// Record represents one archived transcription
type Record struct {
	ID          string            `json:"id"`
	Fingerprint string            `json:"fingerprint"`
	Source      string            `json:"source"` // file path, "upload" or "live"
	Language    string            `json:"language"`
	Task        string            `json:"task"`
	Text        string            `json:"text"`
	Duration    float32           `json:"duration"`
	Segments    []segment.Segment `json:"segments,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Filter defines criteria for listing transcripts
type Filter struct {
	Language  string
	Source    string
	Search    string // substring match on the transcript text
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// TranscriptStore defines the interface for transcript persistence
type TranscriptStore interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*Record, error)
	List(ctx context.Context, filter Filter) ([]*Record, error)
	Delete(ctx context.Context, id string) error
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
	Statistics(ctx context.Context) (map[string]interface{}, error)
	Close() error
}

// SQLiteStore implements TranscriptStore using SQLite
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// Config holds configuration for the SQLite store
type Config struct {
	Path string
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Path: "./data/transcripts.db",
	}
}

// NewSQLiteStore creates a new SQLite-based transcript store
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Open database with WAL mode
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the necessary tables
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Transcripts table
	CREATE TABLE IF NOT EXISTS transcripts (
		id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		task TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		duration REAL NOT NULL DEFAULT 0,
		segments TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Indices
	CREATE INDEX IF NOT EXISTS idx_transcripts_fingerprint ON transcripts(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transcripts_language ON transcripts(language);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save archives a transcription
func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Text == "" && len(rec.Segments) == 0 {
		return fmt.Errorf("transcript is empty")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	var segmentsJSON []byte
	if rec.Segments != nil {
		segmentsJSON, _ = json.Marshal(rec.Segments)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcripts (id, fingerprint, source, language, task, text, duration, segments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Fingerprint, rec.Source, rec.Language, rec.Task, rec.Text, rec.Duration, segmentsJSON, rec.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}

	return nil
}

// Get retrieves a transcript by ID; a missing id yields (nil, nil)
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, fingerprint, source, language, task, text, duration, segments, created_at
		FROM transcripts WHERE id = ?
	`, id)

	return scanRecord(row)
}

// GetByFingerprint retrieves the newest transcript of an audio
// fingerprint; no match yields (nil, nil)
func (s *SQLiteStore) GetByFingerprint(ctx context.Context, fingerprint string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if fingerprint == "" {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, fingerprint, source, language, task, text, duration, segments, created_at
		FROM transcripts
		WHERE fingerprint = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, fingerprint)

	return scanRecord(row)
}

// List returns transcripts matching the filter, newest first
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Build base query
	query := `
		SELECT id, fingerprint, source, language, task, text, duration, segments, created_at
		FROM transcripts WHERE 1=1`
	var args []interface{}

	if filter.Language != "" {
		query += " AND language = ?"
		args = append(args, filter.Language)
	}
	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, filter.Source)
	}
	if filter.Search != "" {
		query += " AND text LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}
	if !filter.StartTime.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, filter.EndTime)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes a transcript
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}

	return nil
}

// Prune removes transcripts older than the specified duration
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)

	result, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune transcripts: %w", err)
	}

	deleted, _ := result.RowsAffected()
	return deleted, nil
}

// Statistics returns archive counters
func (s *SQLiteStore) Statistics(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]interface{})

	var total int64
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcripts`).Scan(&total)
	stats["total_transcripts"] = total

	var totalDuration float64
	s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(duration), 0) FROM transcripts`).Scan(&totalDuration)
	stats["total_audio_seconds"] = totalDuration

	byLanguage := make(map[string]int64)
	rows, _ := s.db.QueryContext(ctx, `SELECT language, COUNT(*) FROM transcripts GROUP BY language`)
	if rows != nil {
		defer rows.Close()
		for rows.Next() {
			var lang string
			var count int64
			if err := rows.Scan(&lang, &count); err == nil {
				byLanguage[lang] = count
			}
		}
	}
	stats["by_language"] = byLanguage

	return stats, nil
}

// Vacuum reclaims space after large prunes
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `VACUUM`)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner covers sql.Row and sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var segmentsJSON sql.NullString

	err := row.Scan(&rec.ID, &rec.Fingerprint, &rec.Source, &rec.Language, &rec.Task,
		&rec.Text, &rec.Duration, &segmentsJSON, &rec.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan transcript: %w", err)
	}

	if segmentsJSON.Valid && segmentsJSON.String != "" {
		json.Unmarshal([]byte(segmentsJSON.String), &rec.Segments)
	}

	return &rec, nil
}
