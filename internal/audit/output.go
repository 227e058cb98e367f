package audit

import (
	"context"

	"opguard/internal/domain"
)

// Output is a durable audit destination. Write is called from the sink's
// background worker only, one record at a time.
type Output interface {
	Name() string
	Write(ctx context.Context, rec domain.AuditRecord) error
	Close() error
}
