package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"vdotapes/internal/handlers"
	"vdotapes/internal/logging"
	"vdotapes/internal/memory"
	"vdotapes/internal/metrics"
	"vdotapes/internal/middleware"
	"vdotapes/internal/startup"
)

const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the catalog HTTP API",
		Long: `Open the store, bring its schema up to date and serve the catalog API
until SIGINT or SIGTERM is received.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startTime := time.Now()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			startup.LogStartup()
			memory.ConfigureFromEnv()
			startup.LogConfig(cfg)

			if err := startup.PrepareDataDir(cfg.DatabasePath); err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			ctx, stop := signalContext()
			defer stop()

			dbStart := time.Now()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			startup.LogDatabaseInit(time.Since(dbStart), st.db.SchemaVersion(), st.db.InCompatibilityWindow())

			h := handlers.New(st.catalog)
			router := newRouter(h, cfg.MetricsEnabled)
			startup.LogHTTPRoutes(router)

			loggingConfig := middleware.DefaultLoggingConfig()
			loggingConfig.LogHealthChecks = cfg.LogHealthChecks
			handler := middleware.Logger(loggingConfig)(router)
			handler = middleware.Compression(middleware.DefaultCompressionConfig())(handler)

			var collector *metrics.Collector
			if cfg.MetricsEnabled {
				metrics.InitializeMetrics()
				info := startup.GetBuildInfo()
				metrics.SetAppInfo(info.Version, info.Commit, info.GoVersion)
				collector = metrics.NewCollector(st.catalog, st.db, cfg.MetricsInterval)
				collector.Start()
			}

			srv := &http.Server{
				Addr:         ":" + cfg.Port,
				Handler:      handler,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 0,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			startup.LogServerStarted(cfg.Port, cfg.MetricsEnabled, time.Since(startTime))

			select {
			case err := <-errCh:
				if collector != nil {
					collector.Stop()
				}
				return err
			case sig := <-sigChan:
				logging.Info("Received %s, shutting down", sig)
			}

			shutdown(srv, collector)
			return nil
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "override PORT")

	return cmd
}

// newRouter mounts the API, the probes and, when enabled, /metrics.
func newRouter(h *handlers.Handlers, metricsEnabled bool) *mux.Router {
	r := mux.NewRouter()
	if metricsEnabled {
		r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
		handlers.RegisterMetrics(r)
	}
	h.Register(r)
	return r
}

func shutdown(srv *http.Server, collector *metrics.Collector) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		logging.Info("  [OK] HTTP server stopped")
	}

	if collector != nil {
		collector.Stop()
		logging.Info("  [OK] Metrics collector stopped")
	}
	logging.Info("  [OK] Shutdown complete")
}
