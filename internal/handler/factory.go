package handler

import (
	"context"

	"github.com/devrev/botforge/internal/model"
	"github.com/devrev/botforge/internal/orchestrator"
	"go.uber.org/zap"
)

// Factory builds tenant surfaces for the orchestrator
type Factory struct {
	deps Deps
}

// NewFactory creates a surface factory sharing deps across tenants
func NewFactory(deps Deps) *Factory {
	return &Factory{deps: deps}
}

// TenantSurface implements orchestrator.SurfaceFactory. The command menu is
// published on the worker so a slow API call never delays the start.
func (f *Factory) TenantSurface(o *orchestrator.Orchestrator, tenant *model.Tenant, w *orchestrator.Worker) orchestrator.Handler {
	s := NewTenantSurface(f.deps, tenant, w.Bot(), o)
	w.Go("set_commands", func(ctx context.Context) {
		if err := s.RegisterCommands(ctx); err != nil {
			s.logger.Warn("Failed to set tenant command menu", zap.Error(err))
		}
	})
	return s
}
