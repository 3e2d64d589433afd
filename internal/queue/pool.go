package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// HandlerFunc processes a dequeued job. A non-nil error triggers the
// pool's retry machinery; the queue does not distinguish error kinds,
// every failure burns one of the job's bounded attempts.
type HandlerFunc func(ctx context.Context, j *Job) error

// DeadLetterFunc is invoked once when a job exhausts its attempts, after
// the job is marked failed. Used to emit the critical alert path.
type DeadLetterFunc func(ctx context.Context, j *Job, err error)

// Pool manages a set of concurrent worker goroutines that poll the store
// for due jobs and run them through registered handlers, with bounded
// retries, backoff, dead-letter callbacks, and retention sweeping.
type Pool struct {
	store        Store
	handlers     map[string]HandlerFunc
	handlersMu   sync.RWMutex
	backoff      Strategy
	deadLetter   DeadLetterFunc
	limiter      *Limiter
	concurrency  int
	queues       []string
	pollInterval time.Duration
	keepFinished int
	sweepEvery   time.Duration
	logger       *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithQueues sets the queues the pool will poll.
func WithQueues(queues ...string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how often idle workers poll for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithBackoff sets the retry delay strategy.
func WithBackoff(s Strategy) PoolOption {
	return func(p *Pool) { p.backoff = s }
}

// WithDeadLetter sets the callback invoked when a job exhausts retries.
func WithDeadLetter(fn DeadLetterFunc) PoolOption {
	return func(p *Pool) { p.deadLetter = fn }
}

// WithLimiter sets per-queue rate limiting and concurrency control.
func WithLimiter(l *Limiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// WithRetention bounds how many finished jobs are kept per queue and how
// often the sweep runs. keep <= 0 disables sweeping.
func WithRetention(keep int, every time.Duration) PoolOption {
	return func(p *Pool) {
		p.keepFinished = keep
		p.sweepEvery = every
	}
}

// NewPool creates a worker pool over the given store.
func NewPool(store Store, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:        store,
		handlers:     make(map[string]HandlerFunc),
		backoff:      DefaultStrategy(),
		concurrency:  5,
		queues:       []string{"default"},
		pollInterval: time.Second,
		sweepEvery:   time.Minute,
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register binds a handler to a job name. Must be called before Start.
func (p *Pool) Register(name string, h HandlerFunc) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.handlers[name] = h
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.dequeueLoop()
	}

	if p.keepFinished > 0 && p.sweepEvery > 0 {
		p.wg.Add(1)
		go p.sweepLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for in-flight jobs to finish
// or the context to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out")
		return ctx.Err()
	}
}

func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		jobs, err := p.store.Dequeue(context.Background(), p.queues, 1)
		if err != nil {
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if len(jobs) == 0 {
			p.sleep()
			continue
		}

		j := jobs[0]

		if p.limiter != nil && !p.limiter.Acquire(j.Queue) {
			// Over the queue's limit: hand the job back with a small delay.
			j.State = StateWaiting
			j.RunAt = time.Now().UTC().Add(p.pollInterval)
			j.StartedAt = nil
			if updateErr := p.store.Update(context.Background(), j); updateErr != nil {
				p.logger.Error("failed to return rate-limited job",
					slog.String("job_id", j.ID),
					slog.String("error", updateErr.Error()),
				)
			}
			p.sleep()
			continue
		}

		p.runJob(j)

		if p.limiter != nil {
			p.limiter.Release(j.Queue)
		}
	}
}

// runJob executes one job and applies the retry/dead-letter policy.
func (p *Pool) runJob(j *Job) {
	ctx := context.Background()

	handler := p.handlerFor(j.Name)
	var err error
	if handler == nil {
		err = fmt.Errorf("%w: %s", ErrNoHandler, j.Name)
	} else {
		err = handler(ctx, j)
	}

	now := time.Now().UTC()
	if err == nil {
		j.State = StateCompleted
		j.FinishedAt = &now
		j.LastError = ""
		if updateErr := p.store.Update(ctx, j); updateErr != nil {
			p.logger.Error("failed to mark job completed",
				slog.String("job_id", j.ID),
				slog.String("error", updateErr.Error()),
			)
		}
		return
	}

	j.AttemptsMade++
	j.LastError = err.Error()

	if j.AttemptsMade < j.MaxAttempts {
		delay := p.backoff.Delay(j.AttemptsMade)
		j.State = StateDelayed
		j.RunAt = now.Add(delay)
		j.StartedAt = nil
		if updateErr := p.store.Update(ctx, j); updateErr != nil {
			p.logger.Error("failed to schedule retry",
				slog.String("job_id", j.ID),
				slog.String("error", updateErr.Error()),
			)
			return
		}
		p.logger.Warn("job failed, retry scheduled",
			slog.String("job_id", j.ID),
			slog.String("job_name", j.Name),
			slog.Int("attempt", j.AttemptsMade),
			slog.Int("max_attempts", j.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		return
	}

	j.State = StateFailed
	j.FinishedAt = &now
	if updateErr := p.store.Update(ctx, j); updateErr != nil {
		p.logger.Error("failed to mark job failed",
			slog.String("job_id", j.ID),
			slog.String("error", updateErr.Error()),
		)
	}

	p.logger.Error("job failed permanently",
		slog.String("job_id", j.ID),
		slog.String("job_name", j.Name),
		slog.Int("attempts", j.AttemptsMade),
		slog.String("error", err.Error()),
	)

	if p.deadLetter != nil {
		p.deadLetter(ctx, j, err)
	}
}

func (p *Pool) handlerFor(name string) HandlerFunc {
	p.handlersMu.RLock()
	defer p.handlersMu.RUnlock()
	return p.handlers[name]
}

func (p *Pool) sweepLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			for _, q := range p.queues {
				removed, err := p.store.TrimFinished(context.Background(), q, p.keepFinished)
				if err != nil {
					p.logger.Error("retention sweep error",
						slog.String("queue", q),
						slog.String("error", err.Error()),
					)
					continue
				}
				if removed > 0 {
					p.logger.Debug("retention sweep",
						slog.String("queue", q),
						slog.Int64("removed", removed),
					)
				}
			}
		}
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}
