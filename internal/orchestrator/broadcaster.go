package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/devrev/botforge/internal/errors"
	"github.com/devrev/botforge/internal/metrics"
	"github.com/devrev/botforge/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// BroadcastReport summarizes one broadcast run
type BroadcastReport struct {
	Attempted int     `json:"attempted"`
	Delivered int     `json:"delivered"`
	Failed    []int64 `json:"failed,omitempty"`
	Cancelled bool    `json:"cancelled"`
}

// Add folds another report into r
func (r *BroadcastReport) Add(other BroadcastReport) {
	r.Attempted += other.Attempted
	r.Delivered += other.Delivered
	r.Failed = append(r.Failed, other.Failed...)
	r.Cancelled = r.Cancelled || other.Cancelled
}

// Broadcaster paces message fan-out through one bot
type Broadcaster struct {
	interval    time.Duration
	concurrency int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewBroadcaster creates a broadcaster sending at most one message per interval
func NewBroadcaster(interval time.Duration, concurrency int, m *metrics.Metrics, logger *zap.Logger) *Broadcaster {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Broadcaster{interval: interval, concurrency: concurrency, metrics: m, logger: logger}
}

// Send delivers text to every recipient. Per-recipient failures are recorded
// and skipped; cancelling ctx stops scheduling further sends.
func (b *Broadcaster) Send(ctx context.Context, bot transport.Bot, recipients []int64, text string) BroadcastReport {
	limit := rate.Inf
	if b.interval > 0 {
		limit = rate.Every(b.interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	var (
		mu     sync.Mutex
		report BroadcastReport
	)

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for _, id := range recipients {
		if err := limiter.Wait(ctx); err != nil {
			report.Cancelled = true
			break
		}
		id := id
		g.Go(func() error {
			_, err := bot.SendMessage(ctx, id, text, nil)

			mu.Lock()
			defer mu.Unlock()
			report.Attempted++
			if err != nil {
				report.Failed = append(report.Failed, id)
				b.logger.Debug("Broadcast delivery failed",
					zap.String("bot", bot.Identity().Handle),
					zap.Error(apperrors.DeliveryFailure(id, err)))
				return nil
			}
			report.Delivered++
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i] < report.Failed[j] })
	b.metrics.RecordBroadcast(report.Delivered, len(report.Failed))
	b.logger.Info("Broadcast finished",
		zap.String("bot", bot.Identity().Handle),
		zap.Int("recipients", len(recipients)),
		zap.Int("delivered", report.Delivered),
		zap.Int("failed", len(report.Failed)),
		zap.Bool("cancelled", report.Cancelled))
	return report
}
