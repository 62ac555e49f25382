package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const currentLogName = "audit.log"

// ErrLoggerClosed is returned by Log after Close
var ErrLoggerClosed = errors.New("audit logger closed")

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	Dir      string // directory holding audit.log and rotated files
	Rotate   bool
	MaxSize  int64 // bytes before rotation (default: 100MB)
	MaxFiles int   // rotated files kept (default: 10)
}

// DefaultFileLoggerConfig returns default configuration
func DefaultFileLoggerConfig() FileLoggerConfig {
	return FileLoggerConfig{
		Dir:      "/var/log/tenantgate/audit",
		Rotate:   true,
		MaxSize:  100 * 1024 * 1024,
		MaxFiles: 10,
	}
}

// FileLogger appends events as JSON lines to audit.log. With rotation on,
// a full file is renamed to audit-<utc timestamp>.log and the oldest rotated
// files beyond MaxFiles are removed.
type FileLogger struct {
	cfg FileLoggerConfig

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	closed  bool
	now     func() time.Time
}

// NewFileLogger creates a new file-based audit sink
func NewFileLogger(cfg FileLoggerConfig) (*FileLogger, error) {
	def := DefaultFileLoggerConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = def.MaxFiles
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	l := &FileLogger{cfg: cfg, now: time.Now}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) path() string {
	return filepath.Join(l.cfg.Dir, currentLogName)
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	l.file = f
	l.encoder = json.NewEncoder(f)
	return nil
}

// rotateIfFull must be called with mu held
func (l *FileLogger) rotateIfFull() error {
	if !l.cfg.Rotate {
		return nil
	}
	info, err := l.file.Stat()
	if err != nil || info.Size() < l.cfg.MaxSize {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log: %w", err)
	}
	stamp := l.now().UTC().Format("20060102T150405.000000000")
	rotated := filepath.Join(l.cfg.Dir, fmt.Sprintf("audit-%s.log", stamp))
	if err := os.Rename(l.path(), rotated); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}
	if err := l.open(); err != nil {
		return err
	}
	return l.prune()
}

func (l *FileLogger) prune() error {
	files, err := filepath.Glob(filepath.Join(l.cfg.Dir, "audit-*.log"))
	if err != nil || len(files) <= l.cfg.MaxFiles {
		return err
	}

	sort.Strings(files)
	var firstErr error
	for _, f := range files[:len(files)-l.cfg.MaxFiles] {
		if err := os.Remove(f); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to remove old audit log %s: %w", f, err)
		}
	}
	return firstErr
}

// Log implements Logger
func (l *FileLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLoggerClosed
	}
	if err := l.rotateIfFull(); err != nil {
		return err
	}
	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Close implements Logger
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

// ReadLogs reads up to count events from the current file; count <= 0 reads
// everything
func (l *FileLogger) ReadLogs(count int) ([]*Event, error) {
	f, err := os.Open(l.path())
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var events []*Event
	dec := json.NewDecoder(f)
	for count <= 0 || len(events) < count {
		var e Event
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode audit log entry: %w", err)
		}
		events = append(events, &e)
	}
	return events, nil
}
