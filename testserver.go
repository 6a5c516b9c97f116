package relsdk

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"pkt.systems/pslog"
	"pkt.systems/relsdk/client"
	"pkt.systems/relsdk/internal/relsim"
)

// TestServer wraps an in-process simulated service with a ready client.
type TestServer struct {
	BaseURL string
	Client  *client.Client

	sim    *relsim.Sim
	server *httptest.Server
	opts   testServerOptions
}

type testingWriter struct {
	t  testing.TB
	mu sync.Mutex
	// closed guards against writes after the associated test has finished.
	closed bool
}

func (w *testingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return len(p), nil
	}
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		func(entry string) {
			defer func() {
				if r := recover(); r != nil {
					msg := fmt.Sprint(r)
					if strings.Contains(msg, "Log in goroutine after") {
						return
					}
					panic(r)
				}
			}()
			w.t.Log(entry)
		}(string(line))
	}
	return len(p), nil
}

func (w *testingWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// NewTestingLogger returns a structured logger writing through t. The level
// can be raised with RELSDK_TEST_LOG_LEVEL.
func NewTestingLogger(t testing.TB, level pslog.Level) pslog.Logger {
	writer := &testingWriter{t: t}
	t.Cleanup(writer.close)
	return pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("RELSDK_TEST_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: level}),
		pslog.WithEnvWriter(writer),
	).With("app", "testserver")
}

// URL returns the base URL clients should use to reach the server.
func (ts *TestServer) URL() string {
	if ts == nil {
		return ""
	}
	return ts.BaseURL
}

// Sim exposes the simulated service, for tests that inspect or force its
// state.
func (ts *TestServer) Sim() *relsim.Sim {
	if ts == nil {
		return nil
	}
	return ts.sim
}

// NewClient returns a new client configured against the test server. Each
// client has its own version cache.
func (ts *TestServer) NewClient(opts ...client.Option) (*client.Client, error) {
	if ts == nil {
		return nil, fmt.Errorf("nil test server")
	}
	options := []client.Option{client.WithLocalServer(ts.opts.local)}
	if ts.opts.token != "" {
		options = append(options, client.WithBearerToken(ts.opts.token))
	}
	if ts.opts.logger != nil {
		options = append(options, client.WithLogger(ts.opts.logger))
	}
	options = append(options, ts.opts.clientOpts...)
	options = append(options, opts...)
	return client.New(ts.BaseURL, options...)
}

// Stop closes the client and the listener.
func (ts *TestServer) Stop() {
	if ts == nil {
		return
	}
	if ts.Client != nil {
		_ = ts.Client.Close()
	}
	if ts.server != nil {
		ts.server.Close()
	}
}

type testServerOptions struct {
	token      string
	local      bool
	logger     pslog.Logger
	clientOpts []client.Option
	simOpts    []relsim.Option
	noClient   bool
}

// TestServerOption customises StartTestServer.
type TestServerOption func(*testServerOptions)

// WithTestBearerToken requires token on the server and sends it from clients.
func WithTestBearerToken(token string) TestServerOption {
	return func(o *testServerOptions) { o.token = token }
}

// WithTestLocalServer configures clients as local-server connections, which
// disables the control plane.
func WithTestLocalServer() TestServerOption {
	return func(o *testServerOptions) { o.local = true }
}

// WithTestLogger sets the logger for both server and clients.
func WithTestLogger(logger pslog.Logger) TestServerOption {
	return func(o *testServerOptions) { o.logger = logger }
}

// WithTestLoggerFromTB logs through t at level.
func WithTestLoggerFromTB(t testing.TB, level pslog.Level) TestServerOption {
	return func(o *testServerOptions) { o.logger = NewTestingLogger(t, level) }
}

// WithTestClientOptions appends options for every client the server creates.
func WithTestClientOptions(opts ...client.Option) TestServerOption {
	return func(o *testServerOptions) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithTestSimOptions appends options for the simulated service.
func WithTestSimOptions(opts ...relsim.Option) TestServerOption {
	return func(o *testServerOptions) { o.simOpts = append(o.simOpts, opts...) }
}

// WithoutTestClient skips creating TestServer.Client.
func WithoutTestClient() TestServerOption {
	return func(o *testServerOptions) { o.noClient = true }
}

// NewTestServer starts a simulated service on a loopback listener.
func NewTestServer(opts ...TestServerOption) (*TestServer, error) {
	var o testServerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	simOpts := make([]relsim.Option, 0, len(o.simOpts)+2)
	if o.token != "" {
		simOpts = append(simOpts, relsim.WithBearerToken(o.token))
	}
	if o.logger != nil {
		simOpts = append(simOpts, relsim.WithLogger(o.logger))
	}
	simOpts = append(simOpts, o.simOpts...)
	sim := relsim.New(simOpts...)
	server := httptest.NewServer(sim.Handler())
	ts := &TestServer{BaseURL: server.URL, sim: sim, server: server, opts: o}
	if !o.noClient {
		cli, err := ts.NewClient()
		if err != nil {
			server.Close()
			return nil, fmt.Errorf("test client: %w", err)
		}
		ts.Client = cli
	}
	return ts, nil
}

// StartTestServer is a convenience wrapper that fails the test on error and
// registers cleanup.
func StartTestServer(t testing.TB, opts ...TestServerOption) *TestServer {
	t.Helper()
	ts, err := NewTestServer(opts...)
	if err != nil {
		t.Fatalf("start test server: %v", err)
	}
	t.Cleanup(ts.Stop)
	return ts
}
