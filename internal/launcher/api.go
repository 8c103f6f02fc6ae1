package launcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgnsrekt/deforum_launcher/internal/api"
	"github.com/dgnsrekt/deforum_launcher/internal/netutil"
	"github.com/dgnsrekt/deforum_launcher/internal/runs"
)

const shutdownTimeout = 10 * time.Second

// runAPI serves the HTTP and WebSocket API until ctx is cancelled.
func (d *Dispatcher) runAPI(ctx context.Context, inv Invocation) error {
	cfg := d.env.Config
	logger := d.env.Logger

	store, err := runs.NewStore(cfg.RunsDir)
	if err != nil {
		return err
	}
	model := d.modelID(inv, DefaultAnimationModel)
	svc := runs.NewService(ctx, logger, d.env.Runner, store, model).WithEventLog(cfg.RunsDir)
	if n, err := svc.MarkInterrupted(); err != nil {
		logger.Warn("failed to recover stale runs", "error", err)
	} else if n > 0 {
		logger.Info("marked interrupted runs as failed", "count", n)
	}

	ln, err := netutil.Listen(cfg.APIBindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		logger.Error("failed to select bind address", "preferred", cfg.APIBindAddr, "error", err)
		return err
	}

	srv := &http.Server{Handler: api.NewServer(logger, svc)}
	addr := ln.Addr().String()
	logger.Info("api listening", "addr", addr, "model_id", model, "docs", "http://"+addr+"/docs")
	if d.env.Ready != nil {
		d.env.Ready(ln.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", "error", err)
	}
	svc.Wait()
	logger.Info("api stopped")
	return nil
}
