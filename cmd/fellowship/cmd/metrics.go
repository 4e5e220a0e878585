package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/fellowship/internal/metrics"
	"github.com/samber/do/v2"
)

// serveMetrics exposes the client's Prometheus registry on addr until ctx is
// canceled. An empty addr disables it.
func serveMetrics(ctx context.Context, addr string, root do.Injector, logger *slog.Logger) {
	if addr == "" {
		return
	}
	m := do.MustInvoke[*metrics.Metrics](root)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()
	logger.Info("Serving metrics", "addr", addr)
}
