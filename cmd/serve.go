package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/o2c-export/internal/api"
	"github.com/sells-group/o2c-export/internal/config"
	"github.com/sells-group/o2c-export/internal/monitoring"
	"github.com/sells-group/o2c-export/internal/pipeline"
	"github.com/sells-group/o2c-export/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the export trigger and run history API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initExport(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		runner := pipeline.NewRunner(env.Pipeline)
		srv := buildServer(cfg, runner, env.Store)
		checker := monitoring.NewChecker(monitoring.NewCollector(env.Store), env.Alerter, cfg.Monitoring, cfg.Export.CutoffDay)

		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		if cfg.Monitoring.WebhookURL != "" {
			g.Go(func() error {
				checker.Run(gCtx)
				return nil
			})
		}
		return g.Wait()
	},
}

// buildServer wires the API router into an http.Server for c.
func buildServer(c *config.Config, runner api.Starter, st store.Store) *http.Server {
	opts := api.Options{
		CutoffDay:      c.Export.CutoffDay,
		AllowedOrigins: c.Server.AllowedOrigins,
	}
	if c.Server.TriggerPerMinute > 0 {
		opts.TriggerRate = rate.Limit(float64(c.Server.TriggerPerMinute) / 60)
		opts.TriggerBurst = c.Server.TriggerPerMinute
	}
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", c.Server.Port),
		Handler:           api.NewServer(runner, st, opts).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
