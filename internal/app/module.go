// Package app composes the application with fx: configuration, logging,
// the event bus, and the operation engine. Commands run through Run,
// which builds the graph, executes one function against it, and tears
// it down.
package app

import (
	"context"

	"github.com/chatvault/chatvault/internal/bus"
	"github.com/chatvault/chatvault/internal/config"
	"github.com/chatvault/chatvault/internal/engine"
	"github.com/chatvault/chatvault/internal/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved invocation settings passed to the fx module.
type Params struct {
	ConfigPath string // empty = default location
	Quiet      bool   // suppress console log output
}

// Module returns the fx module composing all providers.
func Module(p Params) fx.Option {
	return fx.Module("chatvault",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideEngine,
			provideRunner,
		),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = config.Path()
	}
	return config.Load(path)
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if p.Quiet {
		return zap.NewNop(), nil
	}
	return logging.New(cfg.LogPath)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideEngine(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *engine.Engine {
	return engine.New(cfg, b, logger)
}

func provideRunner(cfg *config.Config) *engine.Runner {
	return engine.NewRunner(cfg.Workers)
}

// Env is everything a command needs from the composed application.
type Env struct {
	fx.In

	Config *config.Config
	Bus    *bus.Bus
	Engine *engine.Engine
	Runner *engine.Runner
	Logger *zap.Logger
}

// Run builds the application, invokes fn once, and shuts down. The
// returned error is fn's error, or the construction error if the graph
// could not be built.
func Run(ctx context.Context, p Params, fn func(context.Context, Env) error) error {
	var runErr error
	fxApp := fx.New(
		fx.NopLogger,
		Module(p),
		fx.Invoke(func(env Env) {
			runErr = fn(ctx, env)
		}),
	)
	if err := fxApp.Start(ctx); err != nil {
		return err
	}
	stopErr := fxApp.Stop(context.Background())
	if runErr != nil {
		return runErr
	}
	return stopErr
}
