package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fgeck/savekeeper/internal/metrics"
	"github.com/fgeck/savekeeper/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var syncOnStart bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Keep running and fire the scheduled jobs",
	Long: `Run in the foreground until interrupted:
1. Sync once at startup (unless --initial-sync=false)
2. Auto sync every auto_sync_interval minutes (if a backend is configured)
3. Timed quick backup every auto_backup_interval minutes (if a quick action game is set)
4. Serve prometheus metrics (if metrics.listen is set in the options file)`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().BoolVar(&syncOnStart, "initial-sync", true, "sync once at startup")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	m, opts, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if opts.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              opts.Metrics.Listen,
			Handler:           metricsMux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("listen", opts.Metrics.Listen).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics listener failed")
				cancel()
			}
		}()
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	m.StartScheduler(ctx)

	if syncOnStart {
		if _, err := m.SyncNow(ctx, models.TriggerScheduled); err != nil {
			log.Warn().Err(err).Msg("initial sync failed")
		}
	}

	log.Info().Str("version", Version).Msg("daemon running")
	<-ctx.Done()
	log.Info().Msg("daemon stopping")
	return nil
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
