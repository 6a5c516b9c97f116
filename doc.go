// Package relsdk is the Go SDK for a transactional relational-query service.
// Programs install source, run queries, load data and manage database
// lifecycles through transactions posted to the service; the SDK tracks the
// version of every database it touches and stamps it on each request.
//
// The root package carries what embedding programs and relctl share:
// Config, telemetry setup and an in-process test server. Most callers only
// need the client package.
//
// # Connecting
//
//	cfg := relsdk.DefaultConfig()
//	cfg.Server = "http://127.0.0.1:8010"
//	cfg.LocalServer = true
//	cli, err := cfg.NewClient(nil)
//	if err != nil { log.Fatal(err) }
//	defer cli.Close()
//
//	if _, err := cli.CreateDatabase(ctx, "mydb", false); err != nil {
//	    log.Fatal(err)
//	}
//	res, err := cli.Query(ctx, "mydb", "def answer = 42", []string{"answer"})
//
// Config.Validate normalizes the endpoint the same way client.New does: a
// bare host gets the http scheme and port 8010.
//
// # Versions
//
// Every response carries the database version the service committed or read.
// The client applies it only when it is strictly greater than the cached
// value, so concurrent responses never move the cache backwards. A request
// whose version is ahead of the service fails with client.ErrStaleVersion.
//
// # Telemetry
//
// SetupTelemetry installs OpenTelemetry trace and metric providers: spans go
// to an OTLP collector over gRPC or HTTP, metrics are served for Prometheus
// scraping. The client records transaction counts, latency and version
// movements against the global meter provider.
//
// # Testing
//
// StartTestServer runs a simulated service on a loopback listener and hands
// back a configured client:
//
//	ts := relsdk.StartTestServer(t)
//	if _, err := ts.Client.CreateDatabase(ctx, "db", false); err != nil {
//	    t.Fatal(err)
//	}
//
// The simulator understands a small subset of the query language: constant
// definitions, set literals, insert and delete into base relations,
// integrity constraints and output.
package relsdk
