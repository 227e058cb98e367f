package domain

import (
	"context"
	"time"
)

// AuditKind classifies an audit record.
type AuditKind string

const (
	KindOpGrant             AuditKind = "OP_GRANT"
	KindBlockedCmd          AuditKind = "BLOCKED_CMD"
	KindBlockedCmdAutomated AuditKind = "BLOCKED_CMD_AUTOMATED"
)

// Blocked reports whether the kind records a cancelled command.
func (k AuditKind) Blocked() bool {
	return k == KindBlockedCmd || k == KindBlockedCmdAutomated
}

// AuditRecord is written once and never updated.
type AuditRecord struct {
	ID        string
	Timestamp time.Time
	Kind      AuditKind
	Source    string // actor name or automated source label
	Command   string // raw command text, empty for OP_GRANT
}

// AuditSink receives audit records. Record must not block on I/O and must
// not fail: output errors are handled inside the sink.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord)
}

// AuditFilter narrows an audit query. Zero values match everything.
type AuditFilter struct {
	Kind   AuditKind
	Source string
	Since  time.Time
	Limit  int
}
