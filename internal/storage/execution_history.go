// Package storage persists execution results.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/pushbot/internal/model"
)

// HistoryFilter narrows a history query. Zero fields match everything.
type HistoryFilter struct {
	TaskName string
	Outcome  model.Outcome
	Since    time.Time
}

// ExecutionHistory defines the interface for execution history storage
type ExecutionHistory interface {
	// Store stores an execution result
	Store(ctx context.Context, result model.ExecutionResult) error

	// List retrieves results matching the filter, newest first
	List(ctx context.Context, filter HistoryFilter, offset, limit int) ([]model.ExecutionResult, error)

	// Count returns the number of results matching the filter
	Count(ctx context.Context, filter HistoryFilter) (int, error)

	// DeleteBefore deletes results attempted before the given time
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)

	// Close releases the storage
	Close() error
}

// SQLiteExecutionHistory implements ExecutionHistory using SQLite
type SQLiteExecutionHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteExecutionHistory opens or creates the history database at dbPath
func NewSQLiteExecutionHistory(logger *zap.Logger, dbPath string) (*SQLiteExecutionHistory, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	storage := &SQLiteExecutionHistory{
		logger: logger.Named("history"),
		db:     db,
	}

	if err := storage.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteExecutionHistory) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS execution_history (
			id TEXT PRIMARY KEY,
			task_name TEXT NOT NULL,
			outcome TEXT NOT NULL,
			detail TEXT,
			attempted_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_execution_history_task_name ON execution_history(task_name);
		CREATE INDEX IF NOT EXISTS idx_execution_history_attempted_at ON execution_history(attempted_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Store implements ExecutionHistory.Store
func (s *SQLiteExecutionHistory) Store(ctx context.Context, result model.ExecutionResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_history (
			id, task_name, outcome, detail, attempted_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?)`,
		result.ID,
		result.TaskName,
		string(result.Outcome),
		sql.NullString{String: result.Detail, Valid: result.Detail != ""},
		result.AttemptedAt.UnixNano(),
		result.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to store execution result: %w", err)
	}
	return nil
}

// List implements ExecutionHistory.List
func (s *SQLiteExecutionHistory) List(ctx context.Context, filter HistoryFilter, offset, limit int) ([]model.ExecutionResult, error) {
	where, args := filter.clause()
	query := "SELECT id, task_name, outcome, detail, attempted_at, duration_ms FROM execution_history" +
		where + " ORDER BY attempted_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution history: %w", err)
	}
	defer rows.Close()

	var results []model.ExecutionResult
	for rows.Next() {
		var (
			result      model.ExecutionResult
			outcome     string
			detail      sql.NullString
			attemptedAt int64
			durationMs  int64
		)

		if err := rows.Scan(&result.ID, &result.TaskName, &outcome, &detail, &attemptedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan execution history: %w", err)
		}

		result.Outcome = model.Outcome(outcome)
		result.Detail = detail.String
		result.AttemptedAt = time.Unix(0, attemptedAt)
		result.Duration = time.Duration(durationMs) * time.Millisecond
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return results, nil
}

// Count implements ExecutionHistory.Count
func (s *SQLiteExecutionHistory) Count(ctx context.Context, filter HistoryFilter) (int, error) {
	where, args := filter.clause()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM execution_history"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count execution history: %w", err)
	}
	return count, nil
}

// DeleteBefore implements ExecutionHistory.DeleteBefore
func (s *SQLiteExecutionHistory) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM execution_history WHERE attempted_at < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete execution history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old execution history records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

// Close closes the database connection
func (s *SQLiteExecutionHistory) Close() error {
	return s.db.Close()
}

func (f HistoryFilter) clause() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.TaskName != "" {
		conds = append(conds, "task_name = ?")
		args = append(args, f.TaskName)
	}
	if f.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, string(f.Outcome))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "attempted_at >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
