package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/relsdk"
	"pkt.systems/relsdk/client"
	"pkt.systems/relsdk/internal/logutil"
	"pkt.systems/relsdk/internal/pathutil"
)

const (
	serverKey          = "server"
	tokenKey           = "token"
	tokenFileKey       = "token-file"
	caFileKey          = "ca-file"
	timeoutKey         = "timeout"
	computeKey         = "compute"
	localServerKey     = "local-server"
	serializeWritesKey = "serialize-writes"
	logLevelKey        = "log-level"
	otlpEndpointKey    = "otlp-endpoint"
	metricsListenKey   = "metrics-listen"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("RELCTL_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "relctl")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}

func mustBindFlag(key, env string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if env != "" {
		if err := viper.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

func humanizeBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return strings.ReplaceAll(humanize.Bytes(uint64(n)), " ", "")
}

// cli carries state shared by every subcommand of one root command.
type cli struct {
	logger     pslog.Logger
	configFile string
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	app := &cli{logger: logutil.EnsureLogger(baseLogger)}
	cmd := &cobra.Command{
		Use:           "relctl",
		Short:         "relctl talks to a transactional relational-query service",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # Run the simulated service locally, then create a database on it
  relctl dev-server &
  relctl --local-server db create mydb

  # Install a source file and query it
  relctl source install mydb model.rel
  relctl query mydb 'def output = answer'

  # Load a CSV from an S3-compatible store (TLS unless ?insecure=1)
  relctl load mydb people --from s3://localhost:9000/data/people.csv?insecure=1
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path, err := loadConfigFile()
			if err != nil {
				return err
			}
			app.configFile = path
			level := strings.TrimSpace(viper.GetString(logLevelKey))
			if parsed, ok := pslog.ParseLevel(level); ok && level != "" {
				app.logger = app.logger.LogLevel(parsed)
			}
			if path != "" {
				logutil.Named(app.logger, "cli", "config").Debug("cli.config.loaded", "path", path)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.relsdk/"+relsdk.ConfigFileName+")")
	flags.String(serverKey, relsdk.DefaultServer, "service base URL (bare hosts get http:// and port "+client.DefaultPort+")")
	flags.String(tokenKey, "", "bearer token")
	flags.String(tokenFileKey, "", "file holding the bearer token")
	flags.String(caFileKey, "", "PEM bundle used to verify the service certificate")
	flags.Duration(timeoutKey, relsdk.DefaultTimeout, "per-request timeout")
	flags.String(computeKey, "", "compute used when a command names none")
	flags.Bool(localServerKey, false, "connect to a local server (control-plane commands are unavailable)")
	flags.Bool(serializeWritesKey, false, "run write transactions to one database one at a time")
	flags.String(logLevelKey, relsdk.DefaultLogLevel, "log level (trace|debug|info|warn|error)")
	flags.String(otlpEndpointKey, "", "OTLP collector endpoint for client spans")

	if err := viper.BindPFlag("config", flags.Lookup("config")); err != nil {
		panic(err)
	}
	if err := viper.BindEnv("config", "RELCTL_CONFIG"); err != nil {
		panic(err)
	}
	mustBindFlag(serverKey, "RELCTL_SERVER", flags.Lookup(serverKey))
	mustBindFlag(tokenKey, "RELCTL_TOKEN", flags.Lookup(tokenKey))
	mustBindFlag(tokenFileKey, "RELCTL_TOKEN_FILE", flags.Lookup(tokenFileKey))
	mustBindFlag(caFileKey, "RELCTL_CA_FILE", flags.Lookup(caFileKey))
	mustBindFlag(timeoutKey, "RELCTL_TIMEOUT", flags.Lookup(timeoutKey))
	mustBindFlag(computeKey, "RELCTL_COMPUTE", flags.Lookup(computeKey))
	mustBindFlag(localServerKey, "RELCTL_LOCAL_SERVER", flags.Lookup(localServerKey))
	mustBindFlag(serializeWritesKey, "RELCTL_SERIALIZE_WRITES", flags.Lookup(serializeWritesKey))
	mustBindFlag(logLevelKey, "RELCTL_LOG_LEVEL", flags.Lookup(logLevelKey))
	mustBindFlag(otlpEndpointKey, "RELCTL_OTLP_ENDPOINT", flags.Lookup(otlpEndpointKey))

	cmd.AddCommand(
		newDBCommand(app),
		newSourceCommand(app),
		newQueryCommand(app),
		newEDBCommand(app),
		newCardinalityCommand(app),
		newLoadCommand(app),
		newComputeCommand(app),
		newDatabaseCommand(app),
		newDevServerCommand(app),
		newVersionCommand(),
	)
	return cmd
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	explicit := cfgPath != ""
	if cfgPath == "" {
		candidate, err := relsdk.DefaultConfigFile()
		if err != nil {
			return "", nil
		}
		cfgPath = candidate
	}
	expanded, err := pathutil.ExpandUserAndEnv(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}
	viper.SetConfigFile(expanded)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

// config resolves the connection settings from flags, environment and the
// config file, in that order of precedence.
func (a *cli) config() (relsdk.Config, error) {
	cfg := relsdk.Config{
		Server:          viper.GetString(serverKey),
		Token:           viper.GetString(tokenKey),
		TokenFile:       viper.GetString(tokenFileKey),
		CAFile:          viper.GetString(caFileKey),
		Timeout:         viper.GetDuration(timeoutKey),
		Compute:         viper.GetString(computeKey),
		LocalServer:     viper.GetBool(localServerKey),
		SerializeWrites: viper.GetBool(serializeWritesKey),
		LogLevel:        viper.GetString(logLevelKey),
		OTLPEndpoint:    viper.GetString(otlpEndpointKey),
		MetricsListen:   viper.GetString(metricsListenKey),
	}
	if err := cfg.Validate(); err != nil {
		return relsdk.Config{}, err
	}
	return cfg, nil
}

// client builds a client and, when an OTLP endpoint is configured, the
// telemetry that exports its spans. The returned func releases both.
func (a *cli) client(cmd *cobra.Command) (*client.Client, func(), error) {
	cfg, err := a.config()
	if err != nil {
		return nil, nil, err
	}
	logger := logutil.Named(a.logger, "cli")
	var tel *relsdk.Telemetry
	if cfg.OTLPEndpoint != "" {
		tel, err = relsdk.SetupTelemetry(cmd.Context(), relsdk.TelemetryConfig{
			ServiceName:  "relctl",
			OTLPEndpoint: cfg.OTLPEndpoint,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
	}
	c, err := cfg.NewClient(logger)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, nil, err
	}
	release := func() {
		_ = c.Close()
		_ = tel.Shutdown(context.Background())
	}
	return c, release, nil
}
