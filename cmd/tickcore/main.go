package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/persistence"
	"github.com/quantstream/tickcore/internal/server"
	"github.com/quantstream/tickcore/internal/system"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration directory")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := config.InitLogger(cfg)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	app := fx.New(
		fx.Supply(cfg),
		fx.Supply(logger),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger { return &fxevent.ZapLogger{Logger: l} }),
		fx.Provide(newStore),
		system.Module,
		fx.Provide(newServer),
		fx.Invoke(func(*server.Server) {}),
	)

	app.Run()
}

// newStore opens the time-series store when persistence is enabled
func newStore(cfg *config.Config, logger *zap.Logger) (persistence.Store, error) {
	if !cfg.Persistence.Enabled {
		return nil, nil
	}
	return persistence.NewGormStore(cfg.Persistence.Database, logger)
}

// newServer builds the operational HTTP server and binds its lifecycle
func newServer(lc fx.Lifecycle, cfg *config.Config, sys *system.MultiChannelSystem, logger *zap.Logger) *server.Server {
	srv := server.NewServer(cfg.Server, sys, logger)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return srv.Start(ctx) },
		OnStop:  func(ctx context.Context) error { return srv.Stop(ctx) },
	})
	return srv
}
