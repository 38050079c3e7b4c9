// Package id provides unique identifier generation for jobs.
package id

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefix is prepended to every job ID.
const Prefix = "job-"

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// Generate creates a new unique, time-sortable job ID.
// Format: job-<ULID>
// Example: job-01HGW2BBG0000000000000000A
func Generate() string {
	mu.Lock()
	defer mu.Unlock()
	return Prefix + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Time extracts the creation time encoded in a job ID.
func Time(jobID string) (time.Time, bool) {
	u, err := ulid.ParseStrict(strings.TrimPrefix(jobID, Prefix))
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}
