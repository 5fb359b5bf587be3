package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// CountRecord is one stored reporting window
type CountRecord struct {
	ID          string
	Timestamp   string // local time, 2006-01-02_15:04:05
	PeopleCount int
	TrackingIDs []int
	CreatedAt   time.Time
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// SaveCountRecord inserts a record. Saving the same id twice is an error.
func (d *Database) SaveCountRecord(ctx context.Context, rec *CountRecord) error {
	ids := rec.TrackingIDs
	if ids == nil {
		ids = []int{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal tracking ids: %w", err)
	}

	query := `INSERT INTO count_records (id, time_stamp, people_count, tracking_ids, created_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err = d.db.ExecContext(ctx, query, rec.ID, rec.Timestamp, rec.PeopleCount, string(idsJSON), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save count record: %w", err)
	}
	return nil
}

// GetCountRecord retrieves a record by ID. Returns nil when not found.
func (d *Database) GetCountRecord(ctx context.Context, id string) (*CountRecord, error) {
	query := `SELECT id, time_stamp, people_count, tracking_ids, created_at FROM count_records WHERE id = ?`

	rec, err := scanCountRecord(d.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get count record: %w", err)
	}
	return rec, nil
}

// ListCountRecords returns records created at or after since, newest first.
// A zero since returns all records; limit <= 0 means no limit.
func (d *Database) ListCountRecords(ctx context.Context, since time.Time, limit int) ([]*CountRecord, error) {
	query := `SELECT id, time_stamp, people_count, tracking_ids, created_at FROM count_records
		WHERE created_at >= ? ORDER BY created_at DESC`
	args := []any{since.UTC()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list count records: %w", err)
	}
	defer rows.Close()

	var records []*CountRecord
	for rows.Next() {
		rec, err := scanCountRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan count record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteOldCountRecords deletes records created before the cutoff
func (d *Database) DeleteOldCountRecords(ctx context.Context, before time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM count_records WHERE created_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old count records: %w", err)
	}
	return result.RowsAffected()
}

// TotalPeople sums people_count over records created at or after since
func (d *Database) TotalPeople(ctx context.Context, since time.Time) (int, error) {
	var total sql.NullInt64
	err := d.db.QueryRowContext(ctx,
		"SELECT SUM(people_count) FROM count_records WHERE created_at >= ?", since.UTC()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum people count: %w", err)
	}
	return int(total.Int64), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCountRecord(row rowScanner) (*CountRecord, error) {
	var rec CountRecord
	var idsJSON string
	if err := row.Scan(&rec.ID, &rec.Timestamp, &rec.PeopleCount, &idsJSON, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(idsJSON), &rec.TrackingIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tracking ids: %w", err)
	}
	return &rec, nil
}
