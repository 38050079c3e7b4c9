// Package storage owns the on-disk layout of per-job temp files and the
// optional S3 archive of finished outputs.
package storage

import (
	"context"
	"io"
	"time"
)

// Storage defines where jobs put their working files and how finished
// outputs are archived.
type Storage interface {
	// TempPath returns the path for a job file named
	// "<prefix>_<uniqueID>.<ext>" inside the temp directory. uniqueID is
	// sanitized so it can never escape the directory.
	TempPath(prefix, uniqueID, ext string) string

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Sweep removes job temp files older than maxAge and returns how many
	// were removed. Files not created through TempPath are kept.
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)

	// Archive uploads data under key and returns its URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	Archive(ctx context.Context, key string, data io.Reader) (url string, err error)
}
