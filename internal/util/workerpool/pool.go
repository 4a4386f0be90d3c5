package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is one inbound event handed to a bot's handler goroutines
type Job struct {
	Name string
	Run  func(context.Context) error
}

// Config holds pool configuration
type Config struct {
	Name      string
	Workers   int
	QueueSize int
	Logger    *zap.Logger
	// OnPanic is invoked with the recovered value after a job panics
	OnPanic func(job string, recovered interface{})
}

// Pool runs jobs on a fixed set of goroutines. Stop closes the queue and
// lets workers drain everything already accepted.
type Pool struct {
	name    string
	workers int
	queue   chan Job
	logger  *zap.Logger
	onPanic func(string, interface{})

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	stopped sync.Once

	active    int32
	accepted  uint64
	completed uint64
	failed    uint64
	rejected  uint64
}

// New starts a pool. Jobs receive a context that is cancelled only when
// Stop times out.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:    cfg.Name,
		workers: cfg.Workers,
		queue:   make(chan Job, cfg.QueueSize),
		logger:  cfg.Logger,
		onPanic: cfg.OnPanic,
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.loop(i)
	}

	p.logger.Debug("Worker pool started",
		zap.String("name", p.name),
		zap.Int("workers", p.workers),
		zap.Int("queue_size", cfg.QueueSize))

	return p
}

func (p *Pool) loop(id int) {
	defer p.wg.Done()
	for job := range p.queue {
		p.execute(id, job)
	}
}

func (p *Pool) execute(workerID int, job Job) {
	atomic.AddInt32(&p.active, 1)
	defer atomic.AddInt32(&p.active, -1)

	start := time.Now()
	err := p.safeRun(job)
	if err != nil {
		atomic.AddUint64(&p.failed, 1)
		p.logger.Warn("Job failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	atomic.AddUint64(&p.completed, 1)
}

func (p *Pool) safeRun(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			p.logger.Error("Job panic recovered",
				zap.String("pool", p.name),
				zap.String("job", job.Name),
				zap.Any("panic", r))
			if p.onPanic != nil {
				p.onPanic(job.Name, r)
			}
		}
	}()
	return job.Run(p.ctx)
}

// Submit blocks until the job is queued, ctx is done or the pool stops
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		atomic.AddUint64(&p.rejected, 1)
		return fmt.Errorf("worker pool '%s' is stopped", p.name)
	}
	select {
	case p.queue <- job:
		atomic.AddUint64(&p.accepted, 1)
		return nil
	case <-ctx.Done():
		atomic.AddUint64(&p.rejected, 1)
		return ctx.Err()
	}
}

// TrySubmit queues the job without blocking
func (p *Pool) TrySubmit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		atomic.AddUint64(&p.rejected, 1)
		return false
	}
	select {
	case p.queue <- job:
		atomic.AddUint64(&p.accepted, 1)
		return true
	default:
		atomic.AddUint64(&p.rejected, 1)
		return false
	}
}

// Stop refuses new jobs and waits for queued and running jobs. If timeout
// elapses first the job context is cancelled and an error is returned.
func (p *Pool) Stop(timeout time.Duration) error {
	var err error
	p.stopped.Do(func() {
		// blocked submitters hold the read lock until workers free a slot
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Debug("Worker pool drained", zap.String("name", p.name))
		case <-time.After(timeout):
			p.cancel()
			err = fmt.Errorf("worker pool '%s' stop timeout after %v", p.name, timeout)
			p.logger.Warn("Worker pool stop timeout", zap.String("name", p.name))
		}
		p.cancel()
	})
	return err
}

// Stats returns a snapshot of pool counters
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Workers:   p.workers,
		Active:    int(atomic.LoadInt32(&p.active)),
		Queued:    len(p.queue),
		Accepted:  atomic.LoadUint64(&p.accepted),
		Completed: atomic.LoadUint64(&p.completed),
		Failed:    atomic.LoadUint64(&p.failed),
		Rejected:  atomic.LoadUint64(&p.rejected),
	}
}

// Stats represents pool statistics
type Stats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Active    int    `json:"active"`
	Queued    int    `json:"queued"`
	Accepted  uint64 `json:"accepted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
}

// SuccessRate returns the share of finished jobs that succeeded, as a percentage
func (s Stats) SuccessRate() float64 {
	finished := s.Completed + s.Failed
	if finished == 0 {
		return 100.0
	}
	return float64(s.Completed) / float64(finished) * 100.0
}
