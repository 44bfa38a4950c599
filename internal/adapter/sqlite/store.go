// Package sqlite records finished detection runs and their verdicts so the
// latest verdict table of a detector survives restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	// timeLayout is fixed-width so finished_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

	defaultRetainedRuns = 50
)

// Store persists runs in a SQLite database.
// It implements pipeline.VerdictSink.
type Store struct {
	db     *sql.DB
	path   string
	keep   int
	logger *slog.Logger
}

// Open connects to the database at path, creating it if needed, and applies migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path, keep: defaultRetainedRuns, logger: logger}
	if err := s.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Name identifies the sink in logs and metrics.
func (s *Store) Name() string { return "sqlite" }

// PublishRun stores run and its verdicts in one transaction, then drops
// runs of the same detector and variable beyond the retention limit.
func (s *Store) PublishRun(ctx context.Context, run domain.Run) error {
	if err := retryOnBusy(ctx, func() error { return s.insertRun(ctx, run) }); err != nil {
		return err
	}
	n, err := s.Prune(ctx, run.Detector, run.Variable, s.keep)
	if err != nil {
		s.logger.Warn("prune runs failed", "detector", run.Detector, "variable", run.Variable, "error", err)
		return nil
	}
	if n > 0 {
		s.logger.Debug("pruned runs", "detector", run.Detector, "variable", run.Variable, "deleted", n)
	}
	return nil
}

func (s *Store) insertRun(ctx context.Context, run domain.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, detector, variable, start_date, end_date, started_at, finished_at, flagged)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(),
		string(run.Detector),
		run.Variable,
		nullableDate(run.Range.Start),
		nullableDate(run.Range.End),
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.Flagged(),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO verdicts (run_id, position, site_id, outlier, status) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare verdict insert: %w", err)
	}
	defer stmt.Close()

	for i, v := range run.Verdicts {
		if _, err := stmt.ExecContext(ctx, run.ID.String(), i, string(v.Site), v.Outlier, string(v.Status)); err != nil {
			return fmt.Errorf("insert verdict %s: %w", v.Site, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.ID, err)
	}
	return nil
}

// LatestRun loads the most recently finished run of a detector and variable.
func (s *Store) LatestRun(ctx context.Context, d domain.Detector, variable string) (domain.Run, error) {
	var (
		id, startedAt, finishedAt string
		startDate, endDate        sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, start_date, end_date, started_at, finished_at
         FROM runs WHERE detector = ? AND variable = ?
         ORDER BY finished_at DESC LIMIT 1`,
		string(d), variable,
	).Scan(&id, &startDate, &endDate, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, fmt.Errorf("%w: %s %s", domain.ErrRunNotFound, d, variable)
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("query latest run: %w", err)
	}

	run := domain.Run{Detector: d, Variable: variable}
	if run.ID, err = uuid.Parse(id); err != nil {
		return domain.Run{}, fmt.Errorf("parse run id %q: %w", id, err)
	}
	if run.Range, err = domain.NewDateRange(startDate.String, endDate.String); err != nil {
		return domain.Run{}, err
	}
	if run.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return domain.Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
		return domain.Run{}, fmt.Errorf("parse finished_at: %w", err)
	}

	if run.Verdicts, err = s.verdicts(ctx, id, d); err != nil {
		return domain.Run{}, err
	}
	return run, nil
}

func (s *Store) verdicts(ctx context.Context, runID string, d domain.Detector) ([]domain.Verdict, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT site_id, outlier, status FROM verdicts WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	var out []domain.Verdict
	for rows.Next() {
		v := domain.Verdict{Detector: d}
		var site, status string
		if err := rows.Scan(&site, &v.Outlier, &status); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		v.Site = domain.SiteID(site)
		v.Status = domain.Status(status)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verdicts: %w", err)
	}
	return out, nil
}

// Prune deletes every run of d and variable except the newest keep.
func (s *Store) Prune(ctx context.Context, d domain.Detector, variable string, keep int) (int64, error) {
	var deleted int64
	err := retryOnBusy(ctx, func() error {
		var pruneErr error
		deleted, pruneErr = s.prune(ctx, d, variable, keep)
		return pruneErr
	})
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return deleted, nil
}

func (s *Store) prune(ctx context.Context, d domain.Detector, variable string, keep int) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const stale = `SELECT id FROM runs WHERE detector = ? AND variable = ? AND id NOT IN (
        SELECT id FROM runs WHERE detector = ? AND variable = ?
        ORDER BY finished_at DESC LIMIT ?)`
	args := []any{string(d), variable, string(d), variable, keep}

	// Verdicts go first; foreign key enforcement is per connection.
	if _, err := tx.ExecContext(ctx, "DELETE FROM verdicts WHERE run_id IN ("+stale+")", args...); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id IN ("+stale+")", args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		if !sharedretry.SleepWithContext(ctx, delay) {
			return ctx.Err()
		}
		delay = sharedretry.NextBackoff(delay, busyRetryMaxBackoff)
	}
	return lastErr
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(domain.DateLayout)
}
