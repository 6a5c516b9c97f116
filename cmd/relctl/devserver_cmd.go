package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pkt.systems/relsdk"
	"pkt.systems/relsdk/internal/logutil"
	"pkt.systems/relsdk/internal/relsim"
)

func newDevServerCommand(app *cli) *cobra.Command {
	var (
		listen         string
		pprofListen    string
		runtimeMetrics bool
	)
	cmd := &cobra.Command{
		Use:   "dev-server",
		Short: "Run the in-memory simulated service for local development",
		Long: `Run an in-memory simulation of the service. It understands a small
subset of the query language, keeps everything in memory and forgets it on
exit. --token (or the config file's token) makes it require that bearer token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := logutil.Named(app.logger, "dev-server")
			cfg, err := app.config()
			if err != nil {
				return err
			}
			token, err := cfg.ResolveToken()
			if err != nil {
				return err
			}
			telCfg := cfg.Telemetry("relctl-dev-server")
			telCfg.PprofListen = pprofListen
			telCfg.RuntimeMetrics = runtimeMetrics
			tel, err := relsdk.SetupTelemetry(ctx, telCfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tel.Shutdown(shutdownCtx); err != nil {
					logger.Warn("dev-server.telemetry.shutdown_failed", "error", err)
				}
			}()

			sim := relsim.New(
				relsim.WithLogger(logger),
				relsim.WithBearerToken(token),
				relsim.WithTracing(strings.TrimSpace(cfg.OTLPEndpoint) != ""),
			)
			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", listen, err)
			}
			srv := &http.Server{Handler: sim.Handler(), ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error("dev-server.shutdown_failed", "error", err)
				}
			}()
			logger.Info("dev-server.listening",
				"addr", ln.Addr().String(),
				"auth", token != "",
				"max_body", humanizeBytes(relsim.MaxBodyBytes),
				"metrics", tel.MetricsAddr() != nil,
			)
			fmt.Fprintf(cmd.OutOrStdout(), "listening on http://%s\n", ln.Addr())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Info("dev-server.stopped", "transactions", sim.Transactions())
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&listen, "listen", relsdk.DefaultDevServerListen, "listen address")
	flags.String(metricsListenKey, "", "Prometheus metrics listen address (empty disables)")
	flags.StringVar(&pprofListen, "pprof-listen", "", "pprof listen address (empty disables)")
	flags.BoolVar(&runtimeMetrics, "runtime-metrics", false, "add Go runtime metrics to the metrics endpoint")
	if err := viper.BindPFlag(metricsListenKey, flags.Lookup(metricsListenKey)); err != nil {
		panic(err)
	}
	if err := viper.BindEnv(metricsListenKey, "RELCTL_METRICS_LISTEN"); err != nil {
		panic(err)
	}
	return cmd
}
