package daemon

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/modoterra/hearth/pkg/core"
)

// LogStore keeps collected log lines for historical queries.
type LogStore struct {
	sql *sql.DB
	now func() time.Time
}

// OpenLogStore opens (or creates) the sqlite database at path. Use
// ":memory:" for a throwaway store.
func OpenLogStore(path string) (*LogStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &LogStore{sql: conn, now: time.Now}, nil
}

func (s *LogStore) Close() error {
	return s.sql.Close()
}

func (s *LogStore) Migrate() error {
	_, err := s.sql.Exec(`
		CREATE TABLE IF NOT EXISTS log_lines (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			ts        INTEGER NOT NULL,
			source    TEXT NOT NULL DEFAULT '',
			namespace TEXT NOT NULL DEFAULT '',
			domain    TEXT NOT NULL DEFAULT '',
			message   TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create log_lines: %w", err)
	}
	if _, err := s.sql.Exec(`CREATE INDEX IF NOT EXISTS log_lines_ts ON log_lines (ts)`); err != nil {
		return fmt.Errorf("create log_lines_ts: %w", err)
	}
	return nil
}

// Append stores lines in one transaction.
func (s *LogStore) Append(ctx context.Context, lines ...core.LogLine) error {
	if len(lines) == 0 {
		return nil
	}
	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append logs: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO log_lines (ts, source, namespace, domain, message)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("append logs: %w", err)
	}
	defer stmt.Close()

	for _, l := range lines {
		if _, err := stmt.ExecContext(ctx, l.Timestamp.UnixNano(), l.Source, l.Namespace, l.Domain, l.Message); err != nil {
			return fmt.Errorf("append logs: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append logs: %w", err)
	}
	return nil
}

// Since returns lines newer than sinceSeconds ago, oldest first.
func (s *LogStore) Since(ctx context.Context, sinceSeconds int) ([]core.LogLine, error) {
	cutoff := s.now().Add(-time.Duration(sinceSeconds) * time.Second).UnixNano()
	rows, err := s.sql.QueryContext(ctx, `
		SELECT ts, source, namespace, domain, message
		FROM log_lines
		WHERE ts >= ?
		ORDER BY ts, id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	lines := []core.LogLine{}
	for rows.Next() {
		var (
			l  core.LogLine
			ts int64
		)
		if err := rows.Scan(&ts, &l.Source, &l.Namespace, &l.Domain, &l.Message); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		l.Timestamp = time.Unix(0, ts).UTC()
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	return lines, nil
}

// Prune deletes lines older than retention and returns how many went.
func (s *LogStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention).UnixNano()
	res, err := s.sql.ExecContext(ctx, `DELETE FROM log_lines WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune logs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Count returns the number of stored lines.
func (s *LogStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM log_lines`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count logs: %w", err)
	}
	return n, nil
}
