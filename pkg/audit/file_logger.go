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
	"strings"
	"sync"
	"time"
)

// FileLogger writes audit events as JSON lines, rotating by size
type FileLogger struct {
	path     string
	mu       sync.Mutex
	file     *os.File
	size     int64
	maxSize  int64
	maxFiles int
}

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	Path     string // Active log file; rotated files sit next to it
	MaxSize  int64  // Rotate once the file reaches this many bytes (default 100MB)
	MaxFiles int    // Rotated files to keep (default 10)
}

// NewFileLogger opens (or creates) the audit log file
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	logger := &FileLogger{
		path:     config.Path,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
	}
	if logger.maxSize <= 0 {
		logger.maxSize = 100 * 1024 * 1024
	}
	if logger.maxFiles <= 0 {
		logger.maxFiles = 10
	}

	if err := logger.open(); err != nil {
		return nil, err
	}
	return logger, nil
}

func (l *FileLogger) open() error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat audit log file: %w", err)
	}

	l.file = file
	l.size = info.Size()
	return nil
}

func (l *FileLogger) rotatedPattern() string {
	ext := filepath.Ext(l.path)
	return strings.TrimSuffix(l.path, ext) + "-*" + ext
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log file: %w", err)
	}
	l.file = nil

	ext := filepath.Ext(l.path)
	rotated := fmt.Sprintf("%s-%s%s", strings.TrimSuffix(l.path, ext), time.Now().UTC().Format("20060102T150405.000000000"), ext)
	if err := os.Rename(l.path, rotated); err != nil {
		return fmt.Errorf("failed to rename audit log file: %w", err)
	}

	if err := l.cleanup(); err != nil {
		return err
	}
	return l.open()
}

// cleanup removes the oldest rotated files beyond maxFiles. Rotated names
// embed a sortable timestamp.
func (l *FileLogger) cleanup() error {
	files, err := filepath.Glob(l.rotatedPattern())
	if err != nil {
		return fmt.Errorf("failed to list rotated audit logs: %w", err)
	}
	if len(files) <= l.maxFiles {
		return nil
	}

	sort.Strings(files)
	var errs []error
	for _, f := range files[:len(files)-l.maxFiles] {
		if err := os.Remove(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log appends event to the file
func (l *FileLogger) Log(ctx context.Context, event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit log is closed")
	}

	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	b = append(b, '\n')

	if l.size > 0 && l.size+int64(len(b)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("failed to rotate audit log: %w", err)
		}
	}

	n, err := l.file.Write(b)
	l.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Search scans the active file and returns matching events, newest first
func (l *FileLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var matched []*AuditEvent
	decoder := json.NewDecoder(file)
	for {
		var event AuditEvent
		if err := decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode audit log entry: %w", err)
		}
		if filter.Matches(&event) {
			matched = append(matched, &event)
		}
	}

	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*AuditEvent{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	if matched == nil {
		matched = []*AuditEvent{}
	}
	return matched, nil
}

// Close closes the file logger
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
