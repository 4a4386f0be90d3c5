// Package orchestrator runs one worker per registered tenant bot.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/devrev/botforge/internal/errors"
	"github.com/devrev/botforge/internal/metrics"
	"github.com/devrev/botforge/internal/model"
	"github.com/devrev/botforge/internal/service"
	"github.com/devrev/botforge/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TenantRegistry is the registry surface the orchestrator needs
type TenantRegistry interface {
	CreateTenant(ctx context.Context, ownerID int64, credential string, identity service.TenantIdentity) (*model.Tenant, error)
	GetTenant(ctx context.Context, tenantID int64) (*model.Tenant, error)
	ListTenants(ctx context.Context) ([]*model.Tenant, error)
	Credential(tenant *model.Tenant) (string, error)
}

// MemberDirectory lists broadcast recipients
type MemberDirectory interface {
	ListMemberIDs(ctx context.Context, tenantID int64) ([]int64, error)
}

// SurfaceFactory builds the command surface for a tenant worker
type SurfaceFactory interface {
	TenantSurface(o *Orchestrator, tenant *model.Tenant, w *Worker) Handler
}

// Config holds orchestrator configuration
type Config struct {
	HandlerWorkers       int
	HandlerQueueSize     int
	StopTimeout          time.Duration
	StartConcurrency     int
	BroadcastInterval    time.Duration
	BroadcastConcurrency int
}

// Orchestrator owns the running set. All starts and stops go through it so a
// tenant never has more than one worker.
type Orchestrator struct {
	registry    TenantRegistry
	members     MemberDirectory
	connector   transport.Connector
	factory     SurfaceFactory
	broadcaster *Broadcaster
	cfg         Config
	metrics     *metrics.Metrics
	logger      *zap.Logger

	mu      sync.RWMutex
	running map[int64]*Worker
	closing bool

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	detached sync.WaitGroup
}

// New creates an orchestrator with an empty running set
func New(
	registry TenantRegistry,
	members MemberDirectory,
	connector transport.Connector,
	factory SurfaceFactory,
	cfg Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.StartConcurrency <= 0 {
		cfg.StartConcurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		registry:    registry,
		members:     members,
		connector:   connector,
		factory:     factory,
		broadcaster: NewBroadcaster(cfg.BroadcastInterval, cfg.BroadcastConcurrency, m, logger),
		cfg:         cfg,
		metrics:     m,
		logger:      logger,
		running:     make(map[int64]*Worker),
		locks:       make(map[int64]*sync.Mutex),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// NewWorker creates a worker sized from the orchestrator config. The parent
// bot uses this too.
func (o *Orchestrator) NewWorker(name string, bot transport.Bot) *Worker {
	return NewWorker(name, bot, WorkerConfig{
		HandlerWorkers:   o.cfg.HandlerWorkers,
		HandlerQueueSize: o.cfg.HandlerQueueSize,
		StopTimeout:      o.cfg.StopTimeout,
	}, o.metrics, o.logger)
}

// Connector returns the transport connector
func (o *Orchestrator) Connector() transport.Connector {
	return o.connector
}

// RegisterTenant probes the token, persists the tenant and starts it. A start
// failure is logged and leaves the tenant stopped; the tenant is still returned.
func (o *Orchestrator) RegisterTenant(ctx context.Context, ownerID int64, token string) (*model.Tenant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.CredentialInvalid(fmt.Errorf("empty token"))
	}

	identity, err := o.connector.Probe(ctx, token)
	if err != nil {
		o.logger.Info("Credential probe failed", zap.Int64("owner_id", ownerID), zap.Error(err))
		return nil, apperrors.CredentialInvalid(err)
	}

	tenant, err := o.registry.CreateTenant(ctx, ownerID, token, service.TenantIdentity{
		DisplayName: identity.DisplayName,
		Handle:      identity.Handle,
	})
	if err != nil {
		return nil, err
	}

	if err := o.Start(ctx, tenant.ID); err != nil {
		o.logger.Error("Failed to start newly registered tenant",
			zap.Int64("tenant_id", tenant.ID),
			zap.Error(err))
	}
	return tenant, nil
}

// Start runs a worker for the tenant. It is a no-op when one is already running.
func (o *Orchestrator) Start(ctx context.Context, tenantID int64) error {
	lock := o.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	if o.IsRunning(tenantID) {
		return nil
	}
	if o.isClosing() {
		return apperrors.Unavailable("orchestrator is shutting down", nil)
	}

	err := o.start(ctx, tenantID)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	o.metrics.RecordWorkerStart(outcome)
	return err
}

func (o *Orchestrator) start(ctx context.Context, tenantID int64) error {
	tenant, err := o.registry.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	token, err := o.registry.Credential(tenant)
	if err != nil {
		return err
	}
	bot, err := o.connector.Connect(ctx, token)
	if err != nil {
		return apperrors.Unavailable(fmt.Sprintf("failed to connect tenant %d", tenantID), err)
	}

	w := o.NewWorker(fmt.Sprintf("tenant-%d", tenantID), bot)
	w.Start(o.factory.TenantSurface(o, tenant, w))

	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		_ = w.Stop()
		return apperrors.Unavailable("orchestrator is shutting down", nil)
	}
	o.running[tenantID] = w
	n := len(o.running)
	o.mu.Unlock()

	o.metrics.SetWorkersRunning(n)
	o.logger.Info("Tenant started",
		zap.Int64("tenant_id", tenantID),
		zap.String("handle", tenant.Handle))
	return nil
}

// Stop shuts the tenant's worker down and waits for it; no-op when not running
func (o *Orchestrator) Stop(tenantID int64) error {
	lock := o.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	o.mu.Lock()
	w, ok := o.running[tenantID]
	delete(o.running, tenantID)
	n := len(o.running)
	o.mu.Unlock()

	if !ok {
		return nil
	}
	o.metrics.SetWorkersRunning(n)

	err := w.Stop()
	o.logger.Info("Tenant stopped", zap.Int64("tenant_id", tenantID))
	return err
}

// StopAll refuses further starts, cancels orchestrator-level broadcasts and
// stops every worker concurrently.
func (o *Orchestrator) StopAll() error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()

	o.cancel()
	o.detached.Wait()

	ids := o.RunningIDs()
	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return o.Stop(id)
		})
	}
	err := g.Wait()

	o.logger.Info("All tenants stopped", zap.Int("count", len(ids)))
	return err
}

// Bootstrap starts every registered tenant with bounded parallelism. Individual
// failures are logged and skipped; the number started is returned.
func (o *Orchestrator) Bootstrap(ctx context.Context) (int, error) {
	tenants, err := o.registry.ListTenants(ctx)
	if err != nil {
		return 0, err
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.StartConcurrency)
	for _, t := range tenants {
		id := t.ID
		g.Go(func() error {
			if err := o.Start(ctx, id); err != nil {
				o.logger.Warn("Failed to start tenant during bootstrap",
					zap.Int64("tenant_id", id),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	started := len(o.RunningIDs())
	o.logger.Info("Bootstrap complete",
		zap.Int("registered", len(tenants)),
		zap.Int("running", started))
	return started, nil
}

// BroadcastToTenant sends text to every member of a running tenant
func (o *Orchestrator) BroadcastToTenant(ctx context.Context, tenantID int64, text string) (BroadcastReport, error) {
	w := o.worker(tenantID)
	if w == nil {
		return BroadcastReport{}, apperrors.NotRunning(tenantID)
	}
	ids, err := o.members.ListMemberIDs(ctx, tenantID)
	if err != nil {
		return BroadcastReport{}, err
	}
	return o.broadcaster.Send(ctx, w.Bot(), ids, text), nil
}

// BroadcastToAll broadcasts through every running tenant; stopped tenants are skipped
func (o *Orchestrator) BroadcastToAll(ctx context.Context, text string) (BroadcastReport, error) {
	var total BroadcastReport
	for _, id := range o.RunningIDs() {
		if ctx.Err() != nil {
			total.Cancelled = true
			break
		}
		report, err := o.BroadcastToTenant(ctx, id, text)
		if apperrors.Is(err, apperrors.ErrCodeNotRunning) {
			continue
		}
		if err != nil {
			o.logger.Warn("Broadcast skipped tenant", zap.Int64("tenant_id", id), zap.Error(err))
			continue
		}
		total.Add(report)
	}
	return total, nil
}

// StartBroadcast runs BroadcastToTenant in the background on the tenant's
// worker; onDone receives the result unless the worker is gone first.
func (o *Orchestrator) StartBroadcast(tenantID int64, text string, onDone func(BroadcastReport, error)) error {
	w := o.worker(tenantID)
	if w == nil {
		return apperrors.NotRunning(tenantID)
	}
	ok := w.Go("broadcast", func(ctx context.Context) {
		report, err := o.BroadcastToTenant(ctx, tenantID, text)
		if onDone != nil {
			onDone(report, err)
		}
	})
	if !ok {
		return apperrors.NotRunning(tenantID)
	}
	return nil
}

// StartBroadcastAll runs BroadcastToAll in the background until StopAll
func (o *Orchestrator) StartBroadcastAll(text string, onDone func(BroadcastReport, error)) error {
	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return apperrors.Unavailable("orchestrator is shutting down", nil)
	}
	o.detached.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.detached.Done()
		report, err := o.BroadcastToAll(o.ctx, text)
		if onDone != nil {
			onDone(report, err)
		}
	}()
	return nil
}

// IsRunning reports whether the tenant has a worker
func (o *Orchestrator) IsRunning(tenantID int64) bool {
	return o.worker(tenantID) != nil
}

// State returns the lifecycle state of a registered tenant
func (o *Orchestrator) State(tenantID int64) model.TenantState {
	if o.IsRunning(tenantID) {
		return model.TenantStateRunning
	}
	return model.TenantStateStopped
}

// RunningIDs returns running tenant ids in ascending order
func (o *Orchestrator) RunningIDs() []int64 {
	o.mu.RLock()
	ids := make([]int64, 0, len(o.running))
	for id := range o.running {
		ids = append(ids, id)
	}
	o.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (o *Orchestrator) worker(tenantID int64) *Worker {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running[tenantID]
}

func (o *Orchestrator) isClosing() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closing
}

func (o *Orchestrator) tenantLock(tenantID int64) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[tenantID] = l
	}
	return l
}
