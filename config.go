package relsdk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/relsdk/client"
	"pkt.systems/relsdk/internal/pathutil"
)

const (
	// DefaultServer is the endpoint used when none is configured.
	DefaultServer = client.DefaultEndpoint
	// DefaultTimeout bounds each request.
	DefaultTimeout = client.DefaultHTTPTimeout
	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"
	// ConfigFileName is the file relctl reads from the config directory.
	ConfigFileName = "relctl.yaml"
	// DefaultDevServerListen is where the dev-server binds by default.
	DefaultDevServerListen = "127.0.0.1:8010"
)

// Config holds connection and telemetry settings shared by relctl and
// embedding programs. The yaml tags match the relctl config file keys.
type Config struct {
	// Server is the service endpoint (for example "http://127.0.0.1:8010").
	Server string `yaml:"server"`
	// Token is sent as a bearer token. TokenFile is read when Token is empty.
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token-file"`
	// CAFile verifies the service certificate instead of the system roots.
	CAFile string `yaml:"ca-file"`
	// Timeout bounds each HTTP request.
	Timeout time.Duration `yaml:"timeout"`
	// Compute is used when an operation names none.
	Compute string `yaml:"compute"`
	// LocalServer disables control-plane calls.
	LocalServer bool `yaml:"local-server"`
	// SerializeWrites runs write transactions to one database one at a time.
	SerializeWrites bool `yaml:"serialize-writes"`
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `yaml:"log-level"`
	// OTLPEndpoint exports client spans when set.
	OTLPEndpoint string `yaml:"otlp-endpoint"`
	// MetricsListen serves Prometheus metrics when set.
	MetricsListen string `yaml:"metrics-listen"`
}

// DefaultConfig returns the configuration relctl starts from.
func DefaultConfig() Config {
	return Config{
		Server:   DefaultServer,
		Timeout:  DefaultTimeout,
		LogLevel: DefaultLogLevel,
	}
}

// Validate normalizes c and reports the first invalid setting.
func (c *Config) Validate() error {
	c.Server = strings.TrimSpace(c.Server)
	if c.Server == "" {
		c.Server = DefaultServer
	}
	endpoint, err := client.ParseEndpoint(c.Server)
	if err != nil {
		return fmt.Errorf("config: server: %w", err)
	}
	c.Server = endpoint
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	} else if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must be >= 0")
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if _, ok := pslog.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if strings.TrimSpace(c.Token) != "" && strings.TrimSpace(c.TokenFile) != "" {
		return fmt.Errorf("config: token and token-file are mutually exclusive")
	}
	for _, p := range []*string{&c.TokenFile, &c.CAFile} {
		expanded, err := pathutil.ExpandUserAndEnv(*p)
		if err != nil {
			return fmt.Errorf("config: expand %q: %w", *p, err)
		}
		*p = expanded
	}
	c.Compute = strings.TrimSpace(c.Compute)
	return nil
}

// ResolveToken returns Token, or the trimmed contents of TokenFile.
func (c Config) ResolveToken() (string, error) {
	if token := strings.TrimSpace(c.Token); token != "" {
		return token, nil
	}
	if strings.TrimSpace(c.TokenFile) == "" {
		return "", nil
	}
	data, err := pathutil.ReadFile("config: token-file", c.TokenFile)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Telemetry returns the telemetry settings carried by c.
func (c Config) Telemetry(serviceName string) TelemetryConfig {
	return TelemetryConfig{
		ServiceName:   serviceName,
		OTLPEndpoint:  c.OTLPEndpoint,
		MetricsListen: c.MetricsListen,
	}
}

// ClientOptions translates c into client options. Call Validate first.
func (c Config) ClientOptions(logger pslog.Base) ([]client.Option, error) {
	token, err := c.ResolveToken()
	if err != nil {
		return nil, err
	}
	opts := []client.Option{
		client.WithHTTPTimeout(c.Timeout),
		client.WithLocalServer(c.LocalServer),
		client.WithSerializedWrites(c.SerializeWrites),
	}
	if logger != nil {
		opts = append(opts, client.WithLogger(logger))
	}
	if token != "" {
		opts = append(opts, client.WithBearerToken(token))
	}
	if c.CAFile != "" {
		opts = append(opts, client.WithRootCAFile(c.CAFile))
	}
	if c.Compute != "" {
		opts = append(opts, client.WithComputeName(c.Compute))
	}
	if strings.TrimSpace(c.OTLPEndpoint) != "" {
		opts = append(opts, client.WithOTelTransport())
	}
	return opts, nil
}

// NewClient validates c and builds a client from it.
func (c Config) NewClient(logger pslog.Base) (*client.Client, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	opts, err := c.ClientOptions(logger)
	if err != nil {
		return nil, err
	}
	return client.New(c.Server, opts...)
}

// DefaultConfigDir returns $RELSDK_CONFIG_DIR, or ~/.relsdk.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("RELSDK_CONFIG_DIR")); override != "" {
		if filepath.IsAbs(override) {
			return override, nil
		}
		return filepath.Abs(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".relsdk"), nil
}

// DefaultConfigFile returns the path of relctl.yaml in DefaultConfigDir.
func DefaultConfigFile() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}
