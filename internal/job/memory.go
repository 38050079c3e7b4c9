package job

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// DefaultHistory is the number of jobs a MemoryRepository keeps.
const DefaultHistory = 200

// MemoryRepository is an in-memory implementation of Repository.
// It keeps at most limit jobs; when full, the oldest terminal job is
// evicted. Running jobs are never evicted.
type MemoryRepository struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	limit int
}

// NewMemoryRepository creates a new in-memory job repository. A limit <= 0
// uses DefaultHistory.
func NewMemoryRepository(limit int) *MemoryRepository {
	if limit <= 0 {
		limit = DefaultHistory
	}
	return &MemoryRepository{
		jobs:  make(map[string]*Job),
		limit: limit,
	}
}

// Save persists a clone of job, evicting old terminal jobs if needed.
func (r *MemoryRepository) Save(_ context.Context, job *Job) error {
	c := job.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[c.ID] = c
	r.evictLocked()
	return nil
}

// evictLocked drops the oldest terminal jobs until the repository fits its
// limit.
func (r *MemoryRepository) evictLocked() {
	for len(r.jobs) > r.limit {
		var oldest *Job
		for _, j := range r.jobs {
			if !j.State.IsTerminal() {
				continue
			}
			if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
				oldest = j
			}
		}
		if oldest == nil {
			return
		}
		delete(r.jobs, oldest.ID)
	}
}

// FindByID retrieves a job by its ID.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns all jobs, newest first.
// Returns clones to prevent external mutations.
func (r *MemoryRepository) List(_ context.Context) ([]*Job, error) {
	r.mu.RLock()
	result := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		result = append(result, job.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, k int) bool {
		if result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].ID > result[k].ID
		}
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})
	return result, nil
}

// Delete removes a job from storage.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(r.jobs, id)
	return nil
}
