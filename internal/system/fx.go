package system

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/persistence"
)

// Module provides the multi-channel system with fx dependency injection
var Module = fx.Options(
	fx.Provide(NewSystemWithLifecycle),
)

// SystemParams contains the fx-injected dependencies
type SystemParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Logger    *zap.Logger
	Store     persistence.Store `optional:"true"`
}

// NewSystemWithLifecycle builds the system and binds it to the fx lifecycle
func NewSystemWithLifecycle(p SystemParams) *MultiChannelSystem {
	sys := NewMultiChannelSystem(Params{
		Config: p.Config,
		Logger: p.Logger,
		Store:  p.Store,
	})

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sys.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return sys.Stop(ctx)
		},
	})

	return sys
}
