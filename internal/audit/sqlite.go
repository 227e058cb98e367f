package audit

import (
	"context"

	"opguard/internal/domain"
)

// Inserter is the subset of store.SQLiteStore the sink needs.
type Inserter interface {
	Insert(ctx context.Context, rec domain.AuditRecord) error
	Close() error
}

// DBOutput writes records into the SQLite audit table.
type DBOutput struct {
	db Inserter
}

func NewDBOutput(db Inserter) *DBOutput { return &DBOutput{db: db} }

func (o *DBOutput) Name() string { return "audit-db" }

func (o *DBOutput) Write(ctx context.Context, rec domain.AuditRecord) error {
	return o.db.Insert(ctx, rec)
}

func (o *DBOutput) Close() error { return o.db.Close() }
