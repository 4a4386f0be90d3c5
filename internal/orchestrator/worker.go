package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/devrev/botforge/internal/metrics"
	"github.com/devrev/botforge/internal/transport"
	"github.com/devrev/botforge/internal/util/workerpool"
	"go.uber.org/zap"
)

// Handler processes one inbound event
type Handler interface {
	Handle(ctx context.Context, ev transport.Event) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, ev transport.Event) error

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, ev transport.Event) error {
	return f(ctx, ev)
}

// WorkerConfig sizes a worker's handler pool
type WorkerConfig struct {
	HandlerWorkers   int
	HandlerQueueSize int
	StopTimeout      time.Duration
}

// Worker runs one bot: an event loop feeding a handler pool, plus detached
// jobs such as broadcasts that live as long as the worker.
type Worker struct {
	name        string
	bot         transport.Bot
	pool        *workerpool.Pool
	stopTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	stopping bool
	loopDone chan struct{}
	detached sync.WaitGroup
	stopOnce sync.Once
}

// NewWorker creates a worker for bot; call Start to begin consuming events
func NewWorker(name string, bot transport.Bot, cfg WorkerConfig, m *metrics.Metrics, logger *zap.Logger) *Worker {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 15 * time.Second
	}
	logger = logger.With(zap.String("worker", name))
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		name: name,
		bot:  bot,
		pool: workerpool.New(workerpool.Config{
			Name:      name,
			Workers:   cfg.HandlerWorkers,
			QueueSize: cfg.HandlerQueueSize,
			Logger:    logger,
		}),
		stopTimeout: cfg.StopTimeout,
		metrics:     m,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		loopDone:    make(chan struct{}),
	}
}

// Name returns the worker name
func (w *Worker) Name() string { return w.name }

// Bot returns the worker's transport binding
func (w *Worker) Bot() transport.Bot { return w.bot }

// Context is cancelled when the worker stops
func (w *Worker) Context() context.Context { return w.ctx }

// Start begins dispatching events to h. Calling it twice is a no-op.
func (w *Worker) Start(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopping {
		return
	}
	w.started = true
	go w.loop(h)
	w.logger.Info("Worker started", zap.String("bot", w.bot.Identity().Handle))
}

func (w *Worker) loop(h Handler) {
	defer close(w.loopDone)

	for ev := range w.bot.Events(w.ctx) {
		ev := ev
		kind := ev.Kind()
		job := workerpool.Job{
			Name: kind,
			Run: func(ctx context.Context) error {
				err := h.Handle(ctx, ev)
				outcome := "ok"
				if err != nil {
					outcome = "error"
				}
				w.metrics.RecordHandlerEvent(kind, outcome)
				return err
			},
		}
		if err := w.pool.Submit(w.ctx, job); err != nil {
			w.logger.Debug("Dropped event", zap.String("kind", kind), zap.Error(err))
		}
	}
}

// Go runs fn in the background bound to the worker's lifetime. It returns
// false once the worker is stopping.
func (w *Worker) Go(name string, fn func(ctx context.Context)) bool {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return false
	}
	w.detached.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.detached.Done()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Detached job panic recovered",
					zap.String("job", name),
					zap.Any("panic", r))
			}
		}()
		fn(w.ctx)
	}()
	return true
}

// Stop cancels the worker, closes the bot, and waits for the event loop,
// detached jobs and in-flight handlers in that order.
func (w *Worker) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopping = true
		started := w.started
		w.mu.Unlock()

		w.cancel()
		if cerr := w.bot.Close(); cerr != nil {
			w.logger.Warn("Failed to close bot", zap.Error(cerr))
		}
		if started {
			<-w.loopDone
		}
		w.detached.Wait()
		err = w.pool.Stop(w.stopTimeout)

		w.logger.Info("Worker stopped")
	})
	return err
}

// Stats returns handler pool counters
func (w *Worker) Stats() workerpool.Stats {
	return w.pool.Stats()
}
