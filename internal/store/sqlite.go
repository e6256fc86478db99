package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ink2md/pkg/models"
)

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: exec %s: %w", pragma, err)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS conversion_history (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	conversion_id       TEXT NOT NULL UNIQUE,
	original_filename   TEXT NOT NULL,
	output_filename     TEXT,
	status              TEXT NOT NULL DEFAULT 'queued',
	htr_provider        TEXT,
	formatting_provider TEXT,
	error_message       TEXT,
	retry_count         INTEGER NOT NULL DEFAULT 0,
	file_size           INTEGER NOT NULL DEFAULT 0,
	page_count          INTEGER NOT NULL DEFAULT 0,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversion_history_conversion_id ON conversion_history(conversion_id);
CREATE INDEX IF NOT EXISTS idx_conversion_history_status ON conversion_history(status);
CREATE INDEX IF NOT EXISTS idx_conversion_history_created_at ON conversion_history(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func (s *SQLiteStore) Create(ctx context.Context, rec models.ConversionRecord) error {
	const op = "Create"

	if rec.Status == "" {
		rec.Status = models.StatusQueued
	}
	if rec.Status != models.StatusQueued {
		return newStoreError(op, rec.ConversionID, fmt.Errorf("%w: new records start queued, got %s", ErrInvalidTransition, rec.Status))
	}

	now := s.timestamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversion_history
			(conversion_id, original_filename, status, htr_provider, formatting_provider,
			 retry_count, file_size, page_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ConversionID, rec.OriginalFilename, string(rec.Status),
		nullString(rec.HTRProvider), nullString(rec.FormattingProvider),
		rec.RetryCount, rec.FileSize, rec.PageCount, now, now,
	)
	if err != nil {
		return writeFailed(op, rec.ConversionID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, conversionID string, status models.Status, upd StatusUpdate) error {
	const op = "UpdateStatus"

	if status == models.StatusCompleted && strings.TrimSpace(models.Deref(upd.OutputFilename)) == "" {
		return newStoreError(op, conversionID, fmt.Errorf("%w: completed records need an output filename", ErrInvalidTransition))
	}
	if status != models.StatusCompleted && upd.OutputFilename != nil {
		return newStoreError(op, conversionID, fmt.Errorf("%w: output filename is only set on completion", ErrInvalidTransition))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return writeFailed(op, conversionID, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM conversion_history WHERE conversion_id = ?`, conversionID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return newStoreError(op, conversionID, ErrRecordNotFound)
	}
	if err != nil {
		return writeFailed(op, conversionID, err)
	}

	if !models.CanTransition(models.Status(current), status) {
		return newStoreError(op, conversionID, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status))
	}

	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(status), s.timestamp()}

	if status == models.StatusCompleted {
		sets = append(sets, "output_filename = ?", "error_message = NULL")
		args = append(args, *upd.OutputFilename)
	} else {
		sets = append(sets, "output_filename = NULL")
	}
	if upd.HTRProvider != nil {
		sets = append(sets, "htr_provider = ?")
		args = append(args, nullString(upd.HTRProvider))
	}
	if upd.FormattingProvider != nil {
		sets = append(sets, "formatting_provider = ?")
		args = append(args, nullString(upd.FormattingProvider))
	}
	if upd.ErrorMessage != nil && status != models.StatusCompleted {
		sets = append(sets, "error_message = ?")
		args = append(args, *upd.ErrorMessage)
	}
	if upd.PageCount != nil {
		sets = append(sets, "page_count = ?")
		args = append(args, *upd.PageCount)
	}
	args = append(args, conversionID)

	query := `UPDATE conversion_history SET ` + strings.Join(sets, ", ") + ` WHERE conversion_id = ?`
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return writeFailed(op, conversionID, err)
	}
	if err := checkRowsAffected(res, op, conversionID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return writeFailed(op, conversionID, err)
	}
	return nil
}

func (s *SQLiteStore) IncrementRetry(ctx context.Context, conversionID string) (int, error) {
	const op = "IncrementRetry"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, writeFailed(op, conversionID, err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE conversion_history SET retry_count = retry_count + 1, updated_at = ? WHERE conversion_id = ?`,
		s.timestamp(), conversionID,
	)
	if err != nil {
		return 0, writeFailed(op, conversionID, err)
	}
	if err := checkRowsAffected(res, op, conversionID); err != nil {
		return 0, err
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT retry_count FROM conversion_history WHERE conversion_id = ?`, conversionID,
	).Scan(&count); err != nil {
		return 0, writeFailed(op, conversionID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, writeFailed(op, conversionID, err)
	}
	return count, nil
}

const recordColumns = `conversion_id, original_filename, output_filename, status, htr_provider,
	formatting_provider, error_message, retry_count, file_size, page_count, created_at, updated_at`

func (s *SQLiteStore) Get(ctx context.Context, conversionID string) (*models.ConversionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM conversion_history WHERE conversion_id = ?`, conversionID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newStoreError("Get", conversionID, ErrRecordNotFound)
	}
	if err != nil {
		return nil, newStoreError("Get", conversionID, err)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter HistoryFilter) ([]models.ConversionRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultHistoryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	query := `SELECT ` + recordColumns + ` FROM conversion_history`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newStoreError("List", "", err)
	}
	defer rows.Close()

	var records []models.ConversionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, newStoreError("List", "", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, newStoreError("List", "", err)
	}
	return records, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, conversionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversion_history WHERE conversion_id = ?`, conversionID)
	if err != nil {
		return writeFailed("Delete", conversionID, err)
	}
	return checkRowsAffected(res, "Delete", conversionID)
}

func (s *SQLiteStore) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{ByStatus: map[models.Status]int{}}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(retry_count), 0) FROM conversion_history GROUP BY status`)
	if err != nil {
		return nil, newStoreError("Statistics", "", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count, retries int
		if err := rows.Scan(&status, &count, &retries); err != nil {
			return nil, newStoreError("Statistics", "", err)
		}
		stats.ByStatus[models.Status(status)] = count
		stats.Total += count
		stats.TotalRetries += retries
	}
	if err := rows.Err(); err != nil {
		return nil, newStoreError("Statistics", "", err)
	}

	since := s.now().Add(-24 * time.Hour).UTC().Format(timeLayout)
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversion_history WHERE created_at >= ?`, since,
	).Scan(&stats.Last24Hours); err != nil {
		return nil, newStoreError("Statistics", "", err)
	}
	return stats, nil
}

// scannable is satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*models.ConversionRecord, error) {
	var (
		rec                                   models.ConversionRecord
		status, createdAt, updatedAt          string
		output, htr, formatting, errorMessage sql.NullString
	)
	if err := row.Scan(
		&rec.ConversionID, &rec.OriginalFilename, &output, &status, &htr,
		&formatting, &errorMessage, &rec.RetryCount, &rec.FileSize, &rec.PageCount,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	rec.Status = models.Status(status)
	rec.OutputFilename = fromNullString(output)
	rec.HTRProvider = fromNullString(htr)
	rec.FormattingProvider = fromNullString(formatting)
	rec.ErrorMessage = fromNullString(errorMessage)

	var err error
	if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &rec, nil
}

func checkRowsAffected(res sql.Result, op, conversionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return writeFailed(op, conversionID, err)
	}
	if n == 0 {
		return newStoreError(op, conversionID, ErrRecordNotFound)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
