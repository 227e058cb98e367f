package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"opguard/internal/domain"
)

// FileOutput appends one formatted line per record to a text file. A file
// that was rotated or removed is reopened at path on the next write.
type FileOutput struct {
	path   string
	mu     sync.Mutex
	f      *os.File
	closed bool
}

// NewFileOutput opens path for appending, creating it and its directory.
func NewFileOutput(path string) (*FileOutput, error) {
	if path == "" {
		return nil, os.ErrInvalid
	}
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &FileOutput{path: path, f: f}, nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return f, nil
}

func (o *FileOutput) Name() string { return "audit-file" }

func (o *FileOutput) Path() string { return o.path }

func (o *FileOutput) Write(_ context.Context, rec domain.AuditRecord) error {
	line := Format(rec) + "\n"
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return os.ErrClosed
	}
	if err := o.reopenIfMoved(); err != nil {
		return err
	}
	_, err := o.f.WriteString(line)
	return err
}

// reopenIfMoved makes o.f the file currently at o.path.
func (o *FileOutput) reopenIfMoved() error {
	if o.f != nil {
		cur, err := os.Stat(o.path)
		if err == nil {
			held, herr := o.f.Stat()
			if herr == nil && os.SameFile(cur, held) {
				return nil
			}
		}
		o.f.Close()
		o.f = nil
	}
	f, err := openAppend(o.path)
	if err != nil {
		return err
	}
	o.f = f
	return nil
}

func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if o.f == nil {
		return nil
	}
	err := o.f.Close()
	o.f = nil
	return err
}
