// Package logging tees the standard logger to stdout and a rotating file
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// keepRotated is the number of rotated files retained next to the live log
const keepRotated = 5

var debug atomic.Bool

// Logger is an io.Writer over a size-rotated log file
type Logger struct {
	mu          sync.Mutex
	file        *os.File
	filePath    string
	maxBytes    int64
	currentSize int64
}

// Config holds logger configuration
type Config struct {
	Dir         string // Empty means stdout only
	ServiceName string // Used as the file name
	MaxSizeMB   int64  // Rotation threshold (default: 50MB)
	Debug       bool
}

// New opens the log file under cfg.Dir. It does not touch the standard logger.
func New(cfg Config) (*Logger, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "beacond"
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Logger{
		filePath: filepath.Join(cfg.Dir, cfg.ServiceName+".log"),
		maxBytes: cfg.MaxSizeMB * 1024 * 1024,
	}
	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

// Setup points the standard logger at stdout, plus a rotating file when
// cfg.Dir is set. The returned logger is nil in stdout-only mode; Close on a
// nil *Logger is a no-op.
func Setup(cfg Config) (*Logger, error) {
	debug.Store(cfg.Debug)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if cfg.Dir == "" {
		log.SetOutput(os.Stdout)
		return nil, nil
	}

	l, err := New(cfg)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, l))
	return l, nil
}

// Path returns the live log file path
func (l *Logger) Path() string {
	return l.filePath
}

func (l *Logger) openLogFile() error {
	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	l.file = f
	l.currentSize = stat.Size()
	return nil
}

// Write implements io.Writer, rotating first when p would overflow the file
func (l *Logger) Write(p []byte) (n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentSize > 0 && l.currentSize+int64(len(p)) > l.maxBytes {
		if err := l.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "Log rotation failed: %v\n", err)
		}
	}
	if l.file == nil {
		return 0, os.ErrClosed
	}

	n, err = l.file.Write(p)
	l.currentSize += int64(n)
	return n, err
}

func (l *Logger) rotate() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	// Nanosecond suffix keeps names unique and lexically ordered by age
	backupPath := fmt.Sprintf("%s.%s", l.filePath, time.Now().UTC().Format("20060102-150405.000000000"))
	if err := os.Rename(l.filePath, backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	l.cleanupOldLogs()
	return l.openLogFile()
}

func (l *Logger) cleanupOldLogs() {
	matches, err := filepath.Glob(l.filePath + ".*")
	if err != nil || len(matches) <= keepRotated {
		return
	}
	sort.Strings(matches)
	for _, m := range matches[:len(matches)-keepRotated] {
		os.Remove(m)
	}
}

// Close closes the log file
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// DebugEnabled reports whether Debugf output is on
func DebugEnabled() bool {
	return debug.Load()
}

// SetDebug switches Debugf output
func SetDebug(on bool) {
	debug.Store(on)
}

// Debugf logs through the standard logger when debug output is enabled
func Debugf(format string, args ...interface{}) {
	if debug.Load() {
		log.Printf("[DEBUG] "+format, args...)
	}
}
