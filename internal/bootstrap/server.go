package bootstrap

import (
	"context"
	"errors"
	"net/http"

	"flow-agent/internal/config"
	"flow-agent/internal/ports"
	"flow-agent/internal/server"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func runServer(lc fx.Lifecycle, conf *config.Config, srv *server.Server, sessions ports.SessionManager, logger *zap.Logger) {
	httpServer := &http.Server{
		Addr:    conf.ServerConfig.Addr,
		Handler: srv.Router(),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting HTTP server", zap.String("addr", conf.ServerConfig.Addr))

			go func() {
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server stopped unexpectedly", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server")

			shutdownCtx, cancel := context.WithTimeout(ctx, conf.ServerConfig.ShutdownTimeout)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown failed", zap.Error(err))
			}

			if err := sessions.Close(ctx); err != nil {
				logger.Error("Failed to close browser session", zap.Error(err))
			}

			return nil
		},
	})
}
