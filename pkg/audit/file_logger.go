package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fieldnote/fieldnote/pkg/observability"
)

const currentFileName = "audit.log"

// FileLogger appends audit events as JSON lines
type FileLogger struct {
	basePath string
	maxSize  int64
	maxFiles int
	logger   *observability.Logger

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	BasePath string // Directory for audit logs
	MaxSize  int64  // Rotate once audit.log reaches this many bytes; 0 disables rotation
	MaxFiles int    // Rotated files to keep (default: 10)
	Logger   *observability.Logger
}

// NewFileLogger creates the directory if needed and opens audit.log for appending
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	l := &FileLogger{
		basePath: config.BasePath,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
		logger:   config.Logger,
	}
	if l.maxFiles <= 0 {
		l.maxFiles = 10
	}
	if l.logger == nil {
		l.logger = observability.NopLogger()
	}

	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) currentPath() string {
	return filepath.Join(l.basePath, currentFileName)
}

func (l *FileLogger) openLogFile() error {
	file, err := os.OpenFile(l.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
	return nil
}

// rotate renames audit.log aside and opens a fresh one
func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log file: %w", err)
	}

	rotated := filepath.Join(l.basePath, fmt.Sprintf("audit-%s.log", time.Now().UTC().Format("20060102-150405.000000000")))
	if err := os.Rename(l.currentPath(), rotated); err != nil {
		return fmt.Errorf("failed to rename audit log file: %w", err)
	}

	l.cleanupOldFiles()
	return l.openLogFile()
}

// cleanupOldFiles keeps the newest maxFiles rotated files. Names sort by time.
func (l *FileLogger) cleanupOldFiles() {
	files, err := filepath.Glob(filepath.Join(l.basePath, "audit-*.log"))
	if err != nil || len(files) <= l.maxFiles {
		return
	}
	sort.Strings(files)
	for _, file := range files[:len(files)-l.maxFiles] {
		if err := os.Remove(file); err != nil {
			l.logger.WithError(err).WithField("file", file).Warn("Failed to remove old audit log")
		}
	}
}

// Log appends the event, rotating first when the file is full
func (l *FileLogger) Log(_ context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit log file is closed")
	}

	if l.maxSize > 0 {
		if info, err := l.file.Stat(); err == nil && info.Size() >= l.maxSize {
			if err := l.rotate(); err != nil {
				return fmt.Errorf("failed to rotate audit log: %w", err)
			}
		}
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// ReadLogs returns the last limit events of the current file, oldest first.
// A limit of zero or less returns all of them.
func (l *FileLogger) ReadLogs(limit int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.currentPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("failed to parse audit log line: %w", err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log file: %w", err)
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Close closes the current file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
