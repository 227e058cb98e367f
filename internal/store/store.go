// Package store keeps audit records in a SQLite database so they can be
// queried after the fact.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"opguard/internal/domain"

	_ "modernc.org/sqlite"
)

// DefaultQueryLimit caps Query when the filter sets no limit.
const DefaultQueryLimit = 100

// SQLiteStore is an append-only audit table.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// One writer; SQLite serializes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, path: dbPath, logger: logger}, nil
}

func (s *SQLiteStore) Path() string { return s.path }

// Insert writes rec. Records are immutable; a duplicate ID is an error.
func (s *SQLiteStore) Insert(ctx context.Context, rec domain.AuditRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, created_at, kind, source, command) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UnixNano(), string(rec.Kind), rec.Source, rec.Command,
	)
	if err != nil {
		return fmt.Errorf("insert audit record %s: %w", rec.ID, err)
	}
	return nil
}

// Query returns matching records, newest first.
func (s *SQLiteStore) Query(ctx context.Context, f domain.AuditFilter) ([]domain.AuditRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Source != "" {
		where = append(where, "source = ? COLLATE NOCASE")
		args = append(args, f.Source)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UnixNano())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	q := "SELECT id, created_at, kind, source, command FROM audit_log"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var (
			rec  domain.AuditRecord
			nano int64
			kind string
		)
		if err := rows.Scan(&rec.ID, &nano, &kind, &rec.Source, &rec.Command); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Timestamp = time.Unix(0, nano)
		rec.Kind = domain.AuditKind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of records per kind.
func (s *SQLiteStore) Count(ctx context.Context) (map[domain.AuditKind]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM audit_log GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("count audit log: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.AuditKind]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[domain.AuditKind(kind)] = n
	}
	return counts, rows.Err()
}

// SchemaVersion reports the applied migration version.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	return GetSchemaVersion(s.db)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
