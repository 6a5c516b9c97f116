package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/pslog"
	"pkt.systems/relsdk/internal/logutil"
	"pkt.systems/relsdk/internal/pathutil"
	"pkt.systems/relsdk/txn"
)

const (
	// DefaultEndpoint is used by callers that do not name a service.
	DefaultEndpoint = "http://127.0.0.1:8010"
	// DefaultPort is applied to endpoints given without scheme and port.
	DefaultPort = "8010"
	// DefaultHTTPTimeout bounds each SDK-issued request.
	DefaultHTTPTimeout = 300 * time.Second
	// DefaultComputeSize is used by CreateCompute when size is empty.
	DefaultComputeSize = "XS"
	// DefaultComputeRegion is used by CreateCompute when region is empty.
	DefaultComputeRegion = "us-east"
)

// Client talks to one service endpoint. It is safe for concurrent use; its
// version cache is scoped to the Client instance.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	httpTimeout     time.Duration
	token           string
	headers         http.Header
	rootCAFile      string
	otelTransport   bool
	logger          pslog.Base
	transport       Transport
	builder         *txn.Builder
	defaultCompute  string
	localServer     bool
	serializeWrites bool
	writeLocks      keyedMutex
	metrics         *clientMetrics
	tracer          trace.Tracer
}

// Option customises client construction.
type Option func(*Client)

// WithHTTPClient supplies a custom HTTP client.
func WithHTTPClient(cli *http.Client) Option {
	return func(c *Client) {
		if cli != nil {
			c.httpClient = cli
		}
	}
}

// WithLogger supplies a logger for client diagnostics. Passing nil falls back
// to pslog.NoopLogger().
func WithLogger(logger pslog.Base) Option {
	return func(c *Client) {
		c.logger = logutil.WithSubsystem(logger, "client.sdk")
	}
}

// WithBearerToken sends "Authorization: Bearer <token>" on every request.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithHeader adds a default header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if c.headers == nil {
			c.headers = make(http.Header)
		}
		c.headers.Add(key, value)
	}
}

// WithHTTPTimeout overrides the per-request timeout. Zero or negative values
// are ignored.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpTimeout = d
		}
	}
}

// WithRootCAFile verifies the service certificate against the PEM bundle at
// path instead of the system roots. Ignored when WithHTTPClient is used.
func WithRootCAFile(path string) Option {
	return func(c *Client) {
		c.rootCAFile = strings.TrimSpace(path)
	}
}

// WithComputeName sets the compute used when an operation names none.
func WithComputeName(name string) Option {
	return func(c *Client) {
		c.defaultCompute = strings.TrimSpace(name)
	}
}

// WithLocalServer marks the endpoint as a local server without the account
// control plane; compute and database administration calls then fail with
// ErrLocalServer.
func WithLocalServer(local bool) Option {
	return func(c *Client) {
		c.localServer = local
	}
}

// WithTransport replaces the transaction transport. Control-plane calls keep
// using HTTP against the base URL.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

// WithOTelTransport instruments outgoing requests with otelhttp.
func WithOTelTransport() Option {
	return func(c *Client) {
		c.otelTransport = true
	}
}

// WithSerializedWrites makes non-readonly transactions against the same
// database run one at a time, from version stamp to version apply.
func WithSerializedWrites(enabled bool) Option {
	return func(c *Client) {
		c.serializeWrites = enabled
	}
}

// WithVersionTracker shares a version cache between clients.
func WithVersionTracker(tracker *txn.VersionTracker) Option {
	return func(c *Client) {
		if tracker != nil {
			c.builder = txn.NewBuilder(tracker)
		}
	}
}

// New constructs a client for baseURL. A bare host or host:port gets the
// http scheme and, without a port, DefaultPort.
//
//	cli, err := client.New("localhost", client.WithLocalServer(true))
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("baseURL required")
	}
	endpoint, err := ParseEndpoint(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:     endpoint,
		httpTimeout: DefaultHTTPTimeout,
		logger:      pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.initialize(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initialize() error {
	if c.logger == nil {
		c.logger = pslog.NoopLogger()
	}
	if c.builder == nil {
		c.builder = txn.NewBuilder(nil)
	}
	if c.httpClient == nil {
		cli, err := buildHTTPClient(c.rootCAFile)
		if err != nil {
			return err
		}
		c.httpClient = cli
	}
	if c.otelTransport {
		base := c.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		wrapped := *c.httpClient
		wrapped.Transport = otelhttp.NewTransport(base)
		c.httpClient = &wrapped
	}
	if c.transport == nil {
		c.transport = httpTransport{c: c}
	}
	c.metrics = newClientMetrics(c.logger)
	c.tracer = otel.Tracer("pkt.systems/relsdk/client")
	c.logDebug("client.init", "endpoint", c.baseURL, "local_server", c.localServer, "serialize_writes", c.serializeWrites)
	return nil
}

func buildHTTPClient(rootCAFile string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if rootCAFile != "" {
		pem, err := pathutil.ReadFile("relsdk: root ca", rootCAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("relsdk: root ca %q: no certificates found", rootCAFile)
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{Transport: tr}, nil
}

// BaseURL returns the normalized endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Version returns the cached version for db (0 when none was observed).
func (c *Client) Version(db string) int64 {
	return c.builder.Tracker().Get(db)
}

// Builder exposes the transaction builder, for callers assembling batches
// with RunActions.
func (c *Client) Builder() *txn.Builder {
	return c.builder
}

// Close releases idle connections.
func (c *Client) Close() error {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}
	return nil
}

func (c *Client) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if c.httpTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, c.httpTimeout)
}

func (c *Client) compute(explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	return c.defaultCompute
}

// ParseEndpoint normalizes raw into a base URL without a trailing slash.
func ParseEndpoint(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("relsdk: empty endpoint")
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return "", fmt.Errorf("relsdk: parse endpoint %q: %w", trimmed, err)
		}
		if u.Host == "" {
			return "", fmt.Errorf("relsdk: endpoint %q has no host", trimmed)
		}
		return strings.TrimRight(u.String(), "/"), nil
	}
	if strings.Contains(trimmed, "://") {
		return "", fmt.Errorf("relsdk: unsupported endpoint scheme in %q", trimmed)
	}
	u, err := url.Parse("http://" + trimmed)
	if err != nil {
		return "", fmt.Errorf("relsdk: parse endpoint %q: %w", trimmed, err)
	}
	return ensurePort(u, DefaultPort), nil
}

func ensurePort(u *url.URL, defaultPort string) string {
	host := u.Hostname()
	if host == "" {
		return strings.TrimRight(u.String(), "/")
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	u.Host = net.JoinHostPort(strings.Trim(host, "[]"), port)
	return strings.TrimRight(u.String(), "/")
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func hasKey(keyvals []any, target string) bool {
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok && key == target {
			return true
		}
	}
	return false
}

func (c *Client) enrichKeyvals(ctx context.Context, keyvals []any) []any {
	cid := CorrelationIDFromContext(ctx)
	if cid == "" || hasKey(keyvals, "cid") {
		return keyvals
	}
	enriched := append([]any(nil), keyvals...)
	return append(enriched, "cid", cid)
}

func (c *Client) logTraceCtx(ctx context.Context, msg string, keyvals ...any) {
	c.logger.Trace(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logDebugCtx(ctx context.Context, msg string, keyvals ...any) {
	c.logger.Debug(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logWarnCtx(ctx context.Context, msg string, keyvals ...any) {
	c.logger.Warn(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logErrorCtx(ctx context.Context, msg string, keyvals ...any) {
	c.logger.Error(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logDebug(msg string, keyvals ...any) {
	c.logDebugCtx(context.Background(), msg, keyvals...)
}
