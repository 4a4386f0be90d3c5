package service

import (
	"context"
	"strings"

	"github.com/devrev/botforge/internal/metrics"
	"github.com/devrev/botforge/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MembershipChecker answers channel membership queries
type MembershipChecker interface {
	IsMember(ctx context.Context, channel string, userID int64) (transport.MembershipStatus, error)
}

// GateResult is the outcome of a gate evaluation. Required always lists every
// channel so the caller can render them all at once.
type GateResult struct {
	Passed   bool
	Required []string
	Failed   []string
}

// GatingService evaluates channel membership requirements
type GatingService struct {
	maxParallel int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewGatingService creates a new gating service
func NewGatingService(maxParallel int, m *metrics.Metrics, logger *zap.Logger) *GatingService {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &GatingService{maxParallel: maxParallel, metrics: m, logger: logger}
}

// EnsureMember probes every channel. A probe error or a left/kicked status
// fails the gate; unknown statuses pass.
func (s *GatingService) EnsureMember(ctx context.Context, checker MembershipChecker, userID int64, channels []string) GateResult {
	result := GateResult{Passed: true, Required: append([]string(nil), channels...)}
	if len(channels) == 0 {
		return result
	}

	// each goroutine owns one slot
	failed := make([]bool, len(channels))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallel)
	for i, ch := range channels {
		i, ch := i, ch
		g.Go(func() error {
			status, err := checker.IsMember(gctx, ch, userID)
			if err != nil {
				s.logger.Debug("Membership probe failed",
					zap.String("channel", ch),
					zap.Int64("user_id", userID),
					zap.Error(err))
			}
			if err != nil || status == transport.StatusLeft || status == transport.StatusKicked {
				failed[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, ch := range channels {
		if failed[i] {
			result.Passed = false
			result.Failed = append(result.Failed, ch)
		}
	}
	s.metrics.RecordGateCheck(result.Passed)
	return result
}

// RequiredChannels merges global and tenant channels in order
func RequiredChannels(global, tenant []string) []string {
	return NormalizeChannels(append(append([]string(nil), global...), tenant...))
}

// NormalizeChannels trims, strips the @ prefix and removes duplicates
func NormalizeChannels(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, c := range raw {
		c = strings.TrimPrefix(strings.TrimSpace(c), "@")
		if c == "" {
			continue
		}
		key := strings.ToLower(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
