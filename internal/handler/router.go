// Package handler implements the chat command surfaces of the parent and tenant bots.
package handler

import (
	"context"
	"strings"

	"github.com/devrev/botforge/internal/transport"
	"go.uber.org/zap"
)

// CommandFunc handles a slash command
type CommandFunc func(ctx context.Context, cmd *transport.Command) error

// CallbackFunc handles an inline button press
type CallbackFunc func(ctx context.Context, cb *transport.CallbackAction) error

// TextFunc handles a plain message
type TextFunc func(ctx context.Context, msg *transport.TextMessage) error

type callbackRoute struct {
	prefix string
	fn     CallbackFunc
}

// Router dispatches events by command name or callback data prefix. Unknown
// commands and callbacks are ignored.
type Router struct {
	commands  map[string]CommandFunc
	callbacks []callbackRoute
	text      TextFunc
	logger    *zap.Logger
}

// NewRouter creates an empty router
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		commands: make(map[string]CommandFunc),
		logger:   logger,
	}
}

// Command registers a command handler
func (r *Router) Command(name string, fn CommandFunc) {
	r.commands[strings.ToLower(name)] = fn
}

// Callback registers a handler for callback data equal to prefix or starting
// with it; the longest matching prefix wins
func (r *Router) Callback(prefix string, fn CallbackFunc) {
	r.callbacks = append(r.callbacks, callbackRoute{prefix: prefix, fn: fn})
}

// Text registers the plain message handler
func (r *Router) Text(fn TextFunc) {
	r.text = fn
}

// Handle implements orchestrator.Handler
func (r *Router) Handle(ctx context.Context, ev transport.Event) error {
	switch {
	case ev.Command != nil:
		fn, ok := r.commands[ev.Command.Name]
		if !ok {
			r.logger.Debug("Ignoring unknown command", zap.String("command", ev.Command.Name))
			return nil
		}
		return fn(ctx, ev.Command)

	case ev.Callback != nil:
		var best *callbackRoute
		for i := range r.callbacks {
			route := &r.callbacks[i]
			if strings.HasPrefix(ev.Callback.Data, route.prefix) && (best == nil || len(route.prefix) > len(best.prefix)) {
				best = route
			}
		}
		if best == nil {
			r.logger.Debug("Ignoring unknown callback", zap.String("data", ev.Callback.Data))
			return nil
		}
		return best.fn(ctx, ev.Callback)

	case ev.Text != nil:
		if r.text == nil {
			return nil
		}
		return r.text(ctx, ev.Text)
	}
	return nil
}
