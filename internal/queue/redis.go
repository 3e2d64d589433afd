package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Redis key naming. All keys are prefixed with "capture:" to avoid
// collisions with other tenants of the instance.
const keyPrefix = "capture:"

// jobKey returns the Hash key for a job entity: capture:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// queueKey returns the Sorted Set key holding runnable/delayed job ids for
// a queue, scored by run-at time: capture:queue:{name}
func queueKey(name string) string { return keyPrefix + "queue:" + name }

// finishedKey returns the Sorted Set key tracking completed/failed job ids
// for retention trimming, scored by finish time: capture:finished:{name}
func finishedKey(name string) string { return keyPrefix + "finished:" + name }

// RedisStore implements Store backed by Redis. Jobs are stored as Hashes;
// each queue is a Sorted Set scored by the job's run-at time so delayed
// jobs become eligible exactly when due.
type RedisStore struct {
	client  goredis.Cmdable
	nowFunc func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed job store. The caller owns the
// Redis client lifecycle.
func NewRedisStore(client goredis.Cmdable) *RedisStore {
	return &RedisStore{client: client, nowFunc: time.Now}
}

// Ping verifies the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Add stores the job as a Hash and adds it to the queue's Sorted Set.
// A duplicate id returns the stored job unchanged.
func (s *RedisStore) Add(ctx context.Context, j *Job) (*Job, bool, error) {
	key := jobKey(j.ID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("queue/redis: add check exists: %w", err)
	}
	if exists > 0 {
		existing, getErr := s.getByKey(ctx, key)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.ZAdd(ctx, queueKey(j.Queue), goredis.Z{
		Score:  float64(j.RunAt.UnixMilli()),
		Member: j.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, false, fmt.Errorf("queue/redis: add job: %w", err)
	}
	return j, true, nil
}

// Get retrieves a job by id.
func (s *RedisStore) Get(ctx context.Context, jobID string) (*Job, error) {
	return s.getByKey(ctx, jobKey(jobID))
}

// Remove deletes a job unless a worker is executing it.
func (s *RedisStore) Remove(ctx context.Context, jobID string) error {
	key := jobKey(jobID)

	vals, err := s.client.HMGet(ctx, key, "state", "queue").Result()
	if err != nil {
		return fmt.Errorf("queue/redis: remove read: %w", err)
	}
	state, _ := vals[0].(string)
	q, _ := vals[1].(string)
	if state == "" {
		return ErrJobNotFound
	}
	if State(state) == StateActive {
		return ErrJobActive
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, queueKey(q), jobID)
	pipe.ZRem(ctx, finishedKey(q), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue/redis: remove job: %w", err)
	}
	return nil
}

// Dequeue claims up to limit due jobs across the given queues. A job is
// due when its run-at score has passed. Claiming is a ZRem per id so two
// pools polling the same queue cannot both own a job.
func (s *RedisStore) Dequeue(ctx context.Context, queues []string, limit int) ([]*Job, error) {
	now := s.nowFunc().UTC()
	var jobs []*Job

	for _, q := range queues {
		if len(jobs) >= limit {
			break
		}
		remaining := limit - len(jobs)
		qk := queueKey(q)

		ids, err := s.client.ZRangeByScore(ctx, qk, &goredis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(now.UnixMilli(), 10),
			Count: int64(remaining),
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("queue/redis: dequeue range: %w", err)
		}

		for _, jID := range ids {
			claimed, remErr := s.client.ZRem(ctx, qk, jID).Result()
			if remErr != nil {
				return nil, fmt.Errorf("queue/redis: dequeue claim: %w", remErr)
			}
			if claimed == 0 {
				continue // another worker won the claim
			}

			key := jobKey(jID)
			if err := s.client.HSet(ctx, key,
				"state", string(StateActive),
				"started_at", now.Format(time.RFC3339Nano),
				"updated_at", now.Format(time.RFC3339Nano),
			).Err(); err != nil {
				return nil, fmt.Errorf("queue/redis: dequeue update: %w", err)
			}

			j, getErr := s.getByKey(ctx, key)
			if getErr != nil {
				return nil, getErr
			}
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// Update persists changes to an existing job and keeps the queue and
// retention indexes consistent with the job's state.
func (s *RedisStore) Update(ctx context.Context, j *Job) error {
	key := jobKey(j.ID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("queue/redis: update exists: %w", err)
	}
	if exists == 0 {
		return ErrJobNotFound
	}

	j.UpdatedAt = s.nowFunc().UTC()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	switch j.State {
	case StateWaiting, StateDelayed:
		pipe.ZAdd(ctx, queueKey(j.Queue), goredis.Z{
			Score:  float64(j.RunAt.UnixMilli()),
			Member: j.ID,
		})
	case StateCompleted, StateFailed:
		pipe.ZRem(ctx, queueKey(j.Queue), j.ID)
		score := float64(j.UpdatedAt.UnixMilli())
		if j.FinishedAt != nil {
			score = float64(j.FinishedAt.UnixMilli())
		}
		pipe.ZAdd(ctx, finishedKey(j.Queue), goredis.Z{Score: score, Member: j.ID})
	case StateActive:
		pipe.ZRem(ctx, queueKey(j.Queue), j.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue/redis: update job: %w", err)
	}
	return nil
}

// TrimFinished keeps the newest keep finished jobs per queue.
func (s *RedisStore) TrimFinished(ctx context.Context, queue string, keep int) (int64, error) {
	fk := finishedKey(queue)

	count, err := s.client.ZCard(ctx, fk).Result()
	if err != nil {
		return 0, fmt.Errorf("queue/redis: trim card: %w", err)
	}
	excess := count - int64(keep)
	if excess <= 0 {
		return 0, nil
	}

	// Oldest entries sort first (scored by finish time).
	ids, err := s.client.ZRange(ctx, fk, 0, excess-1).Result()
	if err != nil {
		return 0, fmt.Errorf("queue/redis: trim range: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, jID := range ids {
		pipe.Del(ctx, jobKey(jID))
	}
	pipe.ZRemRangeByRank(ctx, fk, 0, excess-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("queue/redis: trim finished: %w", err)
	}
	return int64(len(ids)), nil
}

func (s *RedisStore) getByKey(ctx context.Context, key string) (*Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("queue/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, ErrJobNotFound
	}
	return mapToJob(vals)
}

func jobToMap(j *Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":            j.ID,
		"name":          j.Name,
		"queue":         j.Queue,
		"payload":       string(j.Payload),
		"state":         string(j.State),
		"max_attempts":  strconv.Itoa(j.MaxAttempts),
		"attempts_made": strconv.Itoa(j.AttemptsMade),
		"last_error":    j.LastError,
		"run_at":        j.RunAt.Format(time.RFC3339Nano),
		"created_at":    j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":    j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.FinishedAt != nil {
		m["finished_at"] = j.FinishedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToJob(m map[string]string) (*Job, error) {
	if m["id"] == "" {
		return nil, errors.New("queue/redis: job record missing id")
	}

	maxAttempts, _ := strconv.Atoi(m["max_attempts"])   //nolint:errcheck // best-effort parse from trusted Redis data
	attemptsMade, _ := strconv.Atoi(m["attempts_made"]) //nolint:errcheck // best-effort parse from trusted Redis data

	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &Job{
		ID:           m["id"],
		Name:         m["name"],
		Queue:        m["queue"],
		Payload:      []byte(m["payload"]),
		State:        State(m["state"]),
		MaxAttempts:  maxAttempts,
		AttemptsMade: attemptsMade,
		LastError:    m["last_error"],
		RunAt:        runAt,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}

	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["finished_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.FinishedAt = &t
	}
	return j, nil
}
