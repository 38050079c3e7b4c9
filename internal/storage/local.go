package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrS3NotConfigured is returned when S3 operations are attempted
// without proper configuration.
var ErrS3NotConfigured = errors.New("S3 storage is not configured")

// Temp file prefixes. Sweep only touches files named "<prefix>_*".
const (
	PrefixInput  = "input"
	PrefixOutput = "output"
	PrefixThumb  = "thumb"
)

var tempPrefixes = []string{PrefixInput + "_", PrefixOutput + "_", PrefixThumb + "_"}

// LocalStorage implements the Storage interface using local disk.
// Archive is not supported unless wrapped with S3Storage.
type LocalStorage struct {
	tempDir string
}

// NewLocalStorage creates a new LocalStorage instance.
// If tempDir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(tempDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "watermark-bot")
	}

	if err := os.MkdirAll(tempDir, 0o750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	return &LocalStorage{tempDir: tempDir}, nil
}

// TempDir returns the temporary directory path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// TempPath returns "<tempDir>/<prefix>_<uniqueID>.<ext>".
func (s *LocalStorage) TempPath(prefix, uniqueID, ext string) string {
	name := SanitizeID(prefix) + "_" + SanitizeID(uniqueID)
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		name += "." + SanitizeID(ext)
	}
	return filepath.Join(s.tempDir, name)
}

// CleanupTemp removes the specified temporary files. Empty paths and files
// that no longer exist are skipped. It continues past failures and returns
// all of them joined.
func (s *LocalStorage) CleanupTemp(ctx context.Context, paths []string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return errors.Join(append(errs, fmt.Errorf("context cancelled: %w", ctx.Err()))...)
		default:
		}

		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove temp file %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// Sweep removes job temp files (see TempPath) whose modification time is
// older than maxAge. Other files in the directory are left alone. It is used
// at startup to clear leftovers of a previous process.
func (s *LocalStorage) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		return 0, fmt.Errorf("read temp directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, fmt.Errorf("context cancelled: %w", ctx.Err())
		}
		if !entry.Type().IsRegular() || !isTempName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.tempDir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func isTempName(name string) bool {
	for _, prefix := range tempPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Archive is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) Archive(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}

// SanitizeID maps id onto [A-Za-z0-9_-]; any other byte becomes '_'.
// An empty id becomes "unknown".
func SanitizeID(id string) string {
	if id == "" {
		return "unknown"
	}
	b := []byte(id)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}
