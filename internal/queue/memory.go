package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a fully in-memory Store. Safe for concurrent access.
// Intended for unit testing and local development.
type MemoryStore struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	nowFunc func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*Job),
		nowFunc: time.Now,
	}
}

// SetNow overrides the clock, letting tests fast-forward delayed jobs.
func (s *MemoryStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = now
}

func (s *MemoryStore) Add(_ context.Context, j *Job) (*Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[j.ID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *j
	s.jobs[j.ID] = &cp
	out := cp
	return &out, true, nil
}

func (s *MemoryStore) Get(_ context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) Remove(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if j.State == StateActive {
		return ErrJobActive
	}
	delete(s.jobs, jobID)
	return nil
}

func (s *MemoryStore) Dequeue(_ context.Context, queues []string, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc().UTC()
	inQueues := make(map[string]bool, len(queues))
	for _, q := range queues {
		inQueues[q] = true
	}

	var due []*Job
	for _, j := range s.jobs {
		if !inQueues[j.Queue] {
			continue
		}
		if j.State != StateWaiting && j.State != StateDelayed {
			continue
		}
		if j.RunAt.After(now) {
			continue
		}
		due = append(due, j)
	}
	sort.Slice(due, func(i, k int) bool { return due[i].RunAt.Before(due[k].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*Job, 0, len(due))
	for _, j := range due {
		j.State = StateActive
		started := now
		j.StartedAt = &started
		j.UpdatedAt = now
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; !ok {
		return ErrJobNotFound
	}
	j.UpdatedAt = s.nowFunc().UTC()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *MemoryStore) TrimFinished(_ context.Context, queue string, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finished []*Job
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		if j.State == StateCompleted || j.State == StateFailed {
			finished = append(finished, j)
		}
	}
	if len(finished) <= keep {
		return 0, nil
	}

	// Oldest finish first.
	sort.Slice(finished, func(i, k int) bool {
		return finishTime(finished[i]).Before(finishTime(finished[k]))
	})
	toDrop := finished[:len(finished)-keep]
	for _, j := range toDrop {
		delete(s.jobs, j.ID)
	}
	return int64(len(toDrop)), nil
}

func finishTime(j *Job) time.Time {
	if j.FinishedAt != nil {
		return *j.FinishedAt
	}
	return j.UpdatedAt
}
