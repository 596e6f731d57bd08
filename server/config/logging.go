package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/rs/zerolog"
)

// LogManager is a size-rotated log file. It implements io.Writer and is
// safe for concurrent use.
type LogManager struct {
	config *LogConfig

	mu      sync.Mutex
	file    *os.File
	written int64
	now     func() time.Time
}

// NewLogManager creates a new log manager
func NewLogManager(cfg *LogConfig) *LogManager {
	return &LogManager{
		config: cfg,
		now:    time.Now,
	}
}

// CleanupLogFile truncates the log file before logging starts
func CleanupLogFile(filePath string) error {
	if filePath == "" {
		return nil
	}

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return errors.New(ErrLogFileOpenFailed, "failed to open log file for cleanup", err)
	}
	return file.Close()
}

// Open prepares the log file, rotating it first when it is already too large
func (lm *LogManager) Open() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.openLocked()
}

func (lm *LogManager) openLocked() error {
	if lm.config.FilePath == "" {
		return errors.New(ErrLogFilePathRequired, "no log file path specified", nil)
	}

	if err := os.MkdirAll(filepath.Dir(lm.config.FilePath), 0755); err != nil {
		return errors.New(ErrLogDirectoryCreationFailed, "failed to create log directory", err)
	}

	info, err := os.Stat(lm.config.FilePath)
	switch {
	case os.IsNotExist(err):
		lm.written = 0
	case err != nil:
		return errors.New(ErrLogFileStatFailed, "failed to stat log file", err)
	default:
		lm.written = info.Size()
	}

	if lm.exceeds(0) {
		if err := lm.rotateLocked(); err != nil {
			return err
		}
	}

	file, err := os.OpenFile(lm.config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return errors.New(ErrLogFileOpenFailed, "failed to open log file", err)
	}
	lm.file = file
	return nil
}

func (lm *LogManager) maxBytes() int64 {
	return int64(lm.config.MaxSize) * 1024 * 1024
}

func (lm *LogManager) exceeds(extra int) bool {
	return lm.config.MaxSize > 0 && lm.written > 0 && lm.written+int64(extra) > lm.maxBytes()
}

// Write appends p, rotating when the file would grow past MaxSize
func (lm *LogManager) Write(p []byte) (int, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.file == nil {
		if err := lm.openLocked(); err != nil {
			return 0, err
		}
	}

	if lm.exceeds(len(p)) {
		if err := lm.rotateLocked(); err != nil {
			return 0, err
		}
		if err := lm.openLocked(); err != nil {
			return 0, err
		}
	}

	n, err := lm.file.Write(p)
	lm.written += int64(n)
	return n, err
}

// rotateLocked renames the current file to a timestamped backup
func (lm *LogManager) rotateLocked() error {
	if lm.file != nil {
		lm.file.Close()
		lm.file = nil
	}

	backupPath := fmt.Sprintf("%s.%s", lm.config.FilePath, lm.now().Format("2006-01-02-15-04-05.000"))
	if err := os.Rename(lm.config.FilePath, backupPath); err != nil && !os.IsNotExist(err) {
		return errors.New(ErrLogRotationFailed, "failed to rotate log file", err)
	}
	lm.written = 0

	if err := lm.cleanupOldBackups(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to cleanup old log backups: %v\n", err)
	}
	return nil
}

// backupInfo holds information about a backup file
type backupInfo struct {
	path    string
	modTime time.Time
}

// cleanupOldBackups removes backups beyond MaxBackups or older than MaxAge
func (lm *LogManager) cleanupOldBackups() error {
	if lm.config.MaxBackups <= 0 && lm.config.MaxAge <= 0 {
		return nil
	}

	logDir := filepath.Dir(lm.config.FilePath)
	logBase := filepath.Base(lm.config.FilePath)

	entries, err := os.ReadDir(logDir)
	if err != nil {
		return errors.New(ErrLogBackupReadFailed, "failed to read log directory", err)
	}

	var backups []backupInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), logBase+".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backupInfo{
			path:    filepath.Join(logDir, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	// newest first
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].modTime.After(backups[j].modTime)
	})

	cutoff := lm.now().AddDate(0, 0, -lm.config.MaxAge)
	for i, backup := range backups {
		tooMany := lm.config.MaxBackups > 0 && i >= lm.config.MaxBackups
		tooOld := lm.config.MaxAge > 0 && backup.modTime.Before(cutoff)
		if !tooMany && !tooOld {
			continue
		}
		if err := os.Remove(backup.path); err != nil {
			return errors.New(ErrLogBackupRemoveFailed, "failed to remove old backup", err).AddContext("backup_path", backup.path)
		}
	}
	return nil
}

// Close closes the log manager and any open files
func (lm *LogManager) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.file == nil {
		return nil
	}
	err := lm.file.Close()
	lm.file = nil
	return err
}

// SetupLogger creates a configured zerolog logger. The returned closer
// releases the log file, if any.
func SetupLogger(cfg *Config) (zerolog.Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer

	if cfg.Log.Console {
		if cfg.Log.Format == "json" {
			writers = append(writers, os.Stdout)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
			})
		}
	}

	var closer io.Closer = nopCloser{}
	if cfg.Log.FilePath != "" {
		if cfg.Log.Cleanup {
			if err := CleanupLogFile(cfg.Log.FilePath); err != nil {
				return zerolog.Logger{}, nil, errors.New(ErrLogCleanupFailed, "failed to cleanup log file", err)
			}
		}

		logManager := NewLogManager(&cfg.Log)
		if err := logManager.Open(); err != nil {
			return zerolog.Logger{}, nil, errors.New(ErrLogFileWriterSetupFailed, "failed to setup file writer", err)
		}
		writers = append(writers, logManager)
		closer = logManager
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("component", "oxygen").
		Logger()

	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
