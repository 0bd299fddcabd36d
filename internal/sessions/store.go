package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"beamline/internal/config"
)

// Store manages calibration session persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
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
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// Open initializes or connects to the session database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.ShareDir, "sessions.db"))
}

// OpenPath connects to a session database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

const sessionColumns = "id, method, status, cache_key, started_at, finished_at, unit_outcomes_json, error_message"

// Begin records a new running session and returns it.
func (s *Store) Begin(ctx context.Context, method Method, cacheKey string) (*Session, error) {
	session := &Session{
		ID:        uuid.NewString(),
		Method:    method,
		Status:    StatusRunning,
		CacheKey:  cacheKey,
		StartedAt: time.Now().UTC(),
	}

	err := s.execWithRetry(
		ctx,
		`INSERT INTO calibration_sessions (`+sessionColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		string(session.Method),
		string(session.Status),
		nullableString(session.CacheKey),
		session.StartedAt.Format(time.RFC3339Nano),
		nil,
		nil,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// Finish marks a session terminal with its per-unit outcomes.
func (s *Store) Finish(ctx context.Context, id string, status Status, outcomes []UnitOutcome, errorMessage string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	var outcomesJSON any
	if len(outcomes) > 0 {
		data, err := json.Marshal(outcomes)
		if err != nil {
			return fmt.Errorf("marshal unit outcomes: %w", err)
		}
		outcomesJSON = string(data)
	}

	err := s.execWithRetry(
		ctx,
		`UPDATE calibration_sessions
         SET status = ?, finished_at = ?, unit_outcomes_json = ?, error_message = ?
         WHERE id = ?`,
		string(status),
		time.Now().UTC().Format(time.RFC3339Nano),
		outcomesJSON,
		nullableString(errorMessage),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	return nil
}

// GetByID fetches a session by identifier, nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+sessionColumns+` FROM calibration_sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// List returns the most recent sessions, newest first. A non-positive limit
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM calibration_sessions ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var result []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, session)
	}
	return result, rows.Err()
}

// Stats returns a count of sessions grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT status, COUNT(1) FROM calibration_sessions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates session state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusRunning:
			health.Running += count
		case StatusSucceeded:
			health.Succeeded += count
		case StatusFailed:
			health.Failed += count
		case StatusAborted:
			health.Aborted += count
		}
	}
	return health, nil
}

// AbortRunning marks all running sessions aborted. Called on daemon shutdown
// so interrupted calibrations never linger as running.
func (s *Store) AbortRunning(ctx context.Context, reason string) (int64, error) {
	ctx = ensureContext(ctx)
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(
			ctx,
			`UPDATE calibration_sessions
             SET status = ?, finished_at = ?, error_message = ?
             WHERE status = ?`,
			string(StatusAborted),
			time.Now().UTC().Format(time.RFC3339Nano),
			reason,
			string(StatusRunning),
		)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("abort running sessions: %w", err)
	}
	return affected, nil
}

// Prune deletes terminal sessions beyond the newest keep entries.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	ctx = ensureContext(ctx)
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(
			ctx,
			`DELETE FROM calibration_sessions
             WHERE status != ? AND id NOT IN (
                 SELECT id FROM calibration_sessions ORDER BY started_at DESC LIMIT ?
             )`,
			string(StatusRunning),
			keep,
		)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return affected, nil
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		id           string
		methodStr    string
		statusStr    string
		cacheKey     sql.NullString
		startedRaw   string
		finishedRaw  sql.NullString
		outcomesJSON sql.NullString
		errorMessage sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&methodStr,
		&statusStr,
		&cacheKey,
		&startedRaw,
		&finishedRaw,
		&outcomesJSON,
		&errorMessage,
	); err != nil {
		return nil, err
	}

	session := &Session{
		ID:           id,
		Method:       Method(methodStr),
		CacheKey:     cacheKey.String,
		ErrorMessage: errorMessage.String,
	}

	status, ok := ParseStatus(statusStr)
	if !ok {
		return nil, fmt.Errorf("session %s has unknown status %q", id, statusStr)
	}
	session.Status = status

	startedAt, err := time.Parse(time.RFC3339Nano, startedRaw)
	if err != nil {
		return nil, fmt.Errorf("session %s has invalid started_at: %w", id, err)
	}
	session.StartedAt = startedAt

	if finishedRaw.Valid && finishedRaw.String != "" {
		finishedAt, err := time.Parse(time.RFC3339Nano, finishedRaw.String)
		if err != nil {
			return nil, fmt.Errorf("session %s has invalid finished_at: %w", id, err)
		}
		session.FinishedAt = &finishedAt
	}

	if outcomesJSON.Valid && outcomesJSON.String != "" {
		if err := json.Unmarshal([]byte(outcomesJSON.String), &session.UnitOutcomes); err != nil {
			return nil, fmt.Errorf("session %s has invalid unit outcomes: %w", id, err)
		}
	}

	return session, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
