package handler

import (
	"context"
	"testing"

	"github.com/devrev/botforge/internal/transport"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRouter_Dispatch(t *testing.T) {
	r := NewRouter(zap.NewNop())
	var got []string

	r.Command("Start", func(ctx context.Context, cmd *transport.Command) error {
		got = append(got, "start:"+cmd.RawArgs)
		return nil
	})
	r.Callback("task:", func(ctx context.Context, cb *transport.CallbackAction) error {
		got = append(got, "task")
		return nil
	})
	r.Callback("task:approve:", func(ctx context.Context, cb *transport.CallbackAction) error {
		got = append(got, "approve")
		return nil
	})
	r.Text(func(ctx context.Context, msg *transport.TextMessage) error {
		got = append(got, "text:"+msg.Text)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, r.Handle(ctx, command(1, "start", "ref=2")))
	require.NoError(t, r.Handle(ctx, callback(1, "task:reject:3")))
	require.NoError(t, r.Handle(ctx, callback(1, "task:approve:3")))
	require.NoError(t, r.Handle(ctx, text(1, "hello")))

	// unknown routes are dropped silently
	require.NoError(t, r.Handle(ctx, command(1, "nope", "")))
	require.NoError(t, r.Handle(ctx, callback(1, "other")))
	require.NoError(t, r.Handle(ctx, transport.Event{}))

	assert.Equal(t, []string{"start:ref=2", "task", "approve", "text:hello"}, got)
}

func TestRouter_NoTextHandler(t *testing.T) {
	r := NewRouter(zap.NewNop())
	assert.NoError(t, r.Handle(context.Background(), text(1, "hello")))
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want *int64
	}{
		{name: "none", args: nil},
		{name: "valid", args: []string{"ref=42"}, want: int64Ptr(42)},
		{name: "not a ref", args: []string{"hello"}},
		{name: "garbage id", args: []string{"ref=abc"}},
		{name: "negative id", args: []string{"ref=-3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRef(tt.args))
		})
	}
}

func TestParseCheckJoin(t *testing.T) {
	assert.Nil(t, parseCheckJoin("check_join"))
	assert.Equal(t, int64Ptr(9), parseCheckJoin("check_join:9"))
	assert.Nil(t, parseCheckJoin("check_join:x"))
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "₦12.50", money(decimal.RequireFromString("12.5"), "NGN"))
	assert.Equal(t, "₦1.00", money(decimal.RequireFromString("1"), ""))
	assert.Equal(t, "3.00 USDT", money(decimal.RequireFromString("3"), "USDT"))
}

func int64Ptr(v int64) *int64 { return &v }
