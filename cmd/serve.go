package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"dbvault/internal/api"
	"dbvault/internal/scratch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the restore service with its HTTP API",
	Long: `Run dbvault as a long-lived service.

The service exposes the restore API, serves execution history and
Prometheus metrics, and sweeps abandoned scratch directories on a
schedule. Restores submitted through the API run in the background;
stopping the service waits for in-flight restores to finish.

Endpoints:
  POST /api/restores            submit a restore
  GET  /api/executions          list executions, newest first
  GET  /api/executions/{id}     one execution with its full log
  GET  /api/adapters            configured adapters (no secrets)
  POST /api/adapters/{id}/test  connectivity probe
  GET  /metrics                 Prometheus exposition
  GET  /healthz                 liveness`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	rt, err := newRuntime(true)
	if err != nil {
		return err
	}
	defer rt.close()

	sweeper := scratch.NewSweeper(rt.scratch, func(id string) (bool, error) {
		return rt.execs.Active(context.Background(), id)
	}, cfg.SweepMaxAge)
	if err := sweeper.Start(cfg.SweepInterval); err != nil {
		return err
	}
	defer sweeper.Stop()

	server := api.NewServer(api.Deps{
		Restores:   rt.orch,
		Executions: rt.execs,
		Store:      rt.store,
		Registry:   rt.reg,
		Keeper:     rt.keeper,
		Metrics:    rt.metrics,
		Log:        log,
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("restore service listening", "addr", cfg.ListenAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down, draining in-flight restores")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
