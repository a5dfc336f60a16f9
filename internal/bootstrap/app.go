package bootstrap

import (
	"time"

	"flow-agent/internal/browser"
	"flow-agent/internal/config"
	"flow-agent/internal/flow"
	"flow-agent/internal/ports"
	"flow-agent/internal/server"

	"go.uber.org/fx"
)

func options() fx.Option {
	return fx.Options(
		fx.Provide(
			config.GetConfig,
			newLogger,

			fx.Annotate(browser.NewManager, fx.As(new(ports.SessionManager))),
			fx.Annotate(flow.NewService, fx.As(new(ports.VideoGenerator))),

			server.New,
		),

		// The trace provider is invoked, not provided: nothing consumes it
		// from the graph, it registers itself as the otel global.
		fx.Invoke(
			newTraceProvider,
			runServer,
		),

		fx.StartTimeout(30*time.Second),
	)
}

func NewApp() *fx.App {
	return fx.New(options())
}
