package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed run history
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// CreateSyncRun inserts a new SyncRun and sets its ID
func (s *Store) CreateSyncRun(run *SyncRun) error {
	const query = `
		INSERT INTO sync_runs (
			start_time, end_time, downloaded, skipped, failed, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		run.StartTime, run.EndTime, run.Downloaded, run.Skipped,
		run.Failed, run.Status, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// UpdateSyncRun updates an existing SyncRun by ID
func (s *Store) UpdateSyncRun(run *SyncRun) error {
	const query = `
		UPDATE sync_runs
		SET end_time = ?, downloaded = ?, skipped = ?, failed = ?,
		    status = ?, error_message = ?
		WHERE id = ?
	`

	_, err := s.db.Exec(
		query,
		run.EndTime, run.Downloaded, run.Skipped, run.Failed,
		run.Status, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns the most recent sync runs, newest first
func (s *Store) ListSyncRuns(limit int) ([]SyncRun, error) {
	const query = `
		SELECT id, start_time, end_time, downloaded, skipped, failed,
		       status, error_message
		FROM sync_runs
		ORDER BY start_time DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var run SyncRun
		if err := rows.Scan(
			&run.ID, &run.StartTime, &run.EndTime, &run.Downloaded,
			&run.Skipped, &run.Failed, &run.Status, &run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AddReportFile inserts a downloaded report record and sets its ID
func (s *Store) AddReportFile(rf *ReportFile) error {
	const query = `
		INSERT INTO report_files (
			section, file, type, report_date, size,
			downloaded_at, processed_at, sync_run_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var processed any
	if !rf.ProcessedAt.IsZero() {
		processed = rf.ProcessedAt
	}

	result, err := s.db.Exec(
		query,
		rf.Section, rf.File, rf.Type, rf.ReportDate, rf.Size,
		rf.DownloadedAt, processed, rf.SyncRunID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert report file: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rf.ID = id
	return nil
}

// MarkProcessed stamps a report file as fully transformed
func (s *Store) MarkProcessed(section, file string, when time.Time) error {
	const query = `
		UPDATE report_files SET processed_at = ?
		WHERE section = ? AND file = ?
	`
	if _, err := s.db.Exec(query, when, section, file); err != nil {
		return fmt.Errorf("failed to mark report processed: %w", err)
	}
	return nil
}

// ListReportFiles returns a section's report records, newest first
func (s *Store) ListReportFiles(section string, limit int) ([]ReportFile, error) {
	const query = `
		SELECT id, section, file, type, report_date, size,
		       downloaded_at, processed_at, sync_run_id
		FROM report_files
		WHERE section = ?
		ORDER BY downloaded_at DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, section, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list report files: %w", err)
	}
	defer rows.Close()

	var files []ReportFile
	for rows.Next() {
		var rf ReportFile
		var processed sql.NullTime
		if err := rows.Scan(
			&rf.ID, &rf.Section, &rf.File, &rf.Type, &rf.ReportDate,
			&rf.Size, &rf.DownloadedAt, &processed, &rf.SyncRunID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan report file: %w", err)
		}
		if processed.Valid {
			rf.ProcessedAt = processed.Time
		}
		files = append(files, rf)
	}
	return files, rows.Err()
}

// CountReportFiles returns the number of recorded reports for a section
func (s *Store) CountReportFiles(section string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM report_files WHERE section = ?`, section,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count report files: %w", err)
	}
	return count, nil
}
