// Package storage provides SQLite-backed persistence for recorded session outcomes.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/eventdrift/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Storage wraps a SQLite database holding the outcome history.
type Storage struct {
	db         *sql.DB
	maxRecords int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/eventdrift/data.db.
func New(maxRecords int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "eventdrift", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxRecords: maxRecords}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS outcomes (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			event_ts        INTEGER NOT NULL,
			content         TEXT NOT NULL DEFAULT '',
			outcome         TEXT NOT NULL,
			final_ratio     REAL NOT NULL,
			base_price      REAL NOT NULL DEFAULT 0,
			samples         INTEGER NOT NULL DEFAULT 0,
			failures        INTEGER NOT NULL DEFAULT 0,
			recorded_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_event_ts ON outcomes(event_ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AddRecord appends a history entry and enforces the record cap.
// A record without an ID gets a fresh UUID.
func (s *Storage) AddRecord(rec *models.Record) error {
	if err := rec.Event.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	if !rec.Outcome.Valid() {
		return fmt.Errorf("invalid record: unknown outcome %q", rec.Outcome)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO outcomes
			(id, event_ts, content, outcome, final_ratio, base_price, samples, failures, recorded_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Event.Timestamp, rec.Event.Content, string(rec.Outcome),
		rec.FinalRatio, rec.BasePrice, rec.Samples, rec.Failures,
		rec.RecordedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	if _, err = tx.Exec(`
		DELETE FROM outcomes WHERE seq NOT IN (
			SELECT seq FROM outcomes ORDER BY seq DESC LIMIT ?
		)`, s.maxRecords); err != nil {
		return fmt.Errorf("failed to enforce record cap: %w", err)
	}

	return tx.Commit()
}

func (s *Storage) GetRecord(id string) (*models.Record, error) {
	row := s.db.QueryRow(`SELECT `+recordCols+` FROM outcomes WHERE id = ?`, id)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// LoadRecords returns all records in the order they were recorded.
func (s *Storage) LoadRecords() ([]models.Record, error) {
	rows, err := s.db.Query(`SELECT ` + recordCols + ` FROM outcomes ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := []models.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Count returns the number of stored records.
func (s *Storage) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM outcomes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// RotateRecords keeps at most maxRecords newest records.
func (s *Storage) RotateRecords() error {
	_, err := s.db.Exec(`
		DELETE FROM outcomes WHERE seq NOT IN (
			SELECT seq FROM outcomes ORDER BY seq DESC LIMIT ?
		)`, s.maxRecords)
	if err != nil {
		return fmt.Errorf("failed to rotate records: %w", err)
	}
	return nil
}

const recordCols = `id, event_ts, content, outcome, final_ratio, base_price, samples, failures, recorded_at`

func scanRecord(scan func(...any) error) (*models.Record, error) {
	var rec models.Record
	var outcome string
	var recordedAtNano int64
	err := scan(
		&rec.ID, &rec.Event.Timestamp, &rec.Event.Content, &outcome,
		&rec.FinalRatio, &rec.BasePrice, &rec.Samples, &rec.Failures,
		&recordedAtNano,
	)
	if err != nil {
		return nil, err
	}
	rec.Outcome = models.Outcome(outcome)
	rec.RecordedAt = time.Unix(0, recordedAtNano)
	return &rec, nil
}
