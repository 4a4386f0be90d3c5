package handler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devrev/botforge/internal/model"
	"github.com/devrev/botforge/internal/orchestrator"
	"github.com/devrev/botforge/internal/secret"
	"github.com/devrev/botforge/internal/service"
	"github.com/devrev/botforge/internal/store"
	"github.com/devrev/botforge/internal/transport"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	deps    Deps
	ledger  *service.LedgerService
	tenants *service.TenantService
}

func newTestEnv(t *testing.T, globalChannels ...string) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	cache := store.NewInMemoryCache(100, zap.NewNop())
	t.Cleanup(cache.Close)
	sealer, err := secret.NewSealer("")
	require.NoError(t, err)

	tenants := service.NewTenantService(st, cache, time.Minute, sealer, nil, nil,
		service.TenantDefaults{Currency: "NGN", MinWithdraw: decimal.NewFromInt(100), MaxWithdraw: decimal.NewFromInt(3000)},
		zap.NewNop())
	ledger := service.NewLedgerService(st, st, nil, nil,
		service.EarningRates{PerMember: decimal.NewFromInt(1), Downline: decimal.RequireFromString("0.25")}, "NGN", zap.NewNop())

	return &testEnv{
		deps: Deps{
			Ledger:         ledger,
			Tenants:        tenants,
			Sessions:       service.NewSessionService(store.NewMemorySessionStore(), time.Minute, zap.NewNop()),
			Gating:         service.NewGatingService(2, nil, zap.NewNop()),
			GlobalChannels: globalChannels,
			Logger:         zap.NewNop(),
		},
		ledger:  ledger,
		tenants: tenants,
	}
}

func (e *testEnv) createTenant(t *testing.T, ownerID int64, handle string) *model.Tenant {
	t.Helper()
	tenant, err := e.tenants.CreateTenant(context.Background(), ownerID, "tok-"+handle,
		service.TenantIdentity{Handle: handle, DisplayName: strings.ToUpper(handle)})
	require.NoError(t, err)
	return tenant
}

func (e *testEnv) credit(t *testing.T, scope model.Scope, key string, amount string) {
	t.Helper()
	_, err := e.ledger.Credit(context.Background(), scope, key, decimal.RequireFromString(amount))
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, scope model.Scope, key string) string {
	t.Helper()
	bal, err := e.ledger.GetBalance(context.Background(), scope, key)
	require.NoError(t, err)
	return bal.StringFixed(2)
}

func command(sender int64, name, args string) transport.Event {
	return transport.Event{Command: &transport.Command{
		Name:     name,
		Args:     strings.Fields(args),
		RawArgs:  args,
		SenderID: sender,
		ChatID:   sender,
	}}
}

func callback(sender int64, data string) transport.Event {
	return transport.Event{Callback: &transport.CallbackAction{
		ID:       "cb-" + data,
		Data:     data,
		SenderID: sender,
		Message:  transport.MessageRef{ChatID: sender, MessageID: 42},
	}}
}

func text(sender int64, body string) transport.Event {
	return transport.Event{Text: &transport.TextMessage{Text: body, SenderID: sender, ChatID: sender}}
}

func lastText(msgs []string) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

// stubBroadcaster completes broadcasts synchronously with a fixed report
type stubBroadcaster struct {
	mu     sync.Mutex
	texts  []string
	report orchestrator.BroadcastReport
	err    error
}

func (b *stubBroadcaster) StartBroadcast(tenantID int64, text string, onDone func(orchestrator.BroadcastReport, error)) error {
	b.record(text)
	onDone(b.report, nil)
	return nil
}

func (b *stubBroadcaster) StartBroadcastAll(text string, onDone func(orchestrator.BroadcastReport, error)) error {
	if b.err != nil {
		return b.err
	}
	b.record(text)
	onDone(b.report, nil)
	return nil
}

func (b *stubBroadcaster) record(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.texts = append(b.texts, text)
}

func (b *stubBroadcaster) sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.texts...)
}

func mustAmount(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	d, err := service.ParseAmount(raw)
	require.NoError(t, err)
	return d
}
