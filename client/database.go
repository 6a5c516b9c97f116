package client

import (
	"context"
	"strings"
	"sync"

	"pkt.systems/relsdk/api"
)

// Database binds a Client to one database and compute.
type Database struct {
	c       *Client
	name    string
	compute string

	mu       sync.Mutex
	openMode api.Mode
}

// Database returns a handle for name. An empty compute uses the client
// default. Create on the handle uses OPEN_OR_CREATE until it first succeeds.
func (c *Client) Database(name, compute string) *Database {
	return &Database{
		c:        c,
		name:     strings.TrimSpace(name),
		compute:  strings.TrimSpace(compute),
		openMode: api.ModeOpenOrCreate,
	}
}

// Name returns the database name.
func (d *Database) Name() string { return d.name }

// Version returns the cached version of the database.
func (d *Database) Version() int64 { return d.c.Version(d.name) }

func (d *Database) opts(extra []CallOption) []CallOption {
	if d.compute == "" {
		return extra
	}
	return append([]CallOption{WithCompute(d.compute)}, extra...)
}

// Create ensures the database exists.
func (d *Database) Create(ctx context.Context) (*api.TransactionResult, error) {
	d.mu.Lock()
	mode := d.openMode
	d.mu.Unlock()
	res, err := d.c.RunActions(ctx, d.name, nil, TxnOptions{Mode: mode, Compute: d.compute})
	if err == nil {
		d.mu.Lock()
		d.openMode = api.ModeOpen
		d.mu.Unlock()
	}
	return res, err
}

// Ping is ConnectToDatabase.
func (d *Database) Ping(ctx context.Context) (*api.TransactionResult, error) {
	return d.c.ConnectToDatabase(ctx, d.name, d.opts(nil)...)
}

// Query is Client.Query against this database.
func (d *Database) Query(ctx context.Context, source string, outputs []string, opts ...CallOption) (*api.TransactionResult, error) {
	return d.c.Query(ctx, d.name, source, outputs, d.opts(opts)...)
}

// Install is Client.InstallSource against this database.
func (d *Database) Install(ctx context.Context, sourceName, text string, opts ...CallOption) (*api.TransactionResult, error) {
	return d.c.InstallSource(ctx, d.name, sourceName, text, d.opts(opts)...)
}

// DeleteSource is Client.DeleteSource against this database.
func (d *Database) DeleteSource(ctx context.Context, sourceName string, opts ...CallOption) (*api.TransactionResult, error) {
	return d.c.DeleteSource(ctx, d.name, sourceName, d.opts(opts)...)
}

// ListSources is Client.ListSources against this database.
func (d *Database) ListSources(ctx context.Context, opts ...CallOption) (*api.TransactionResult, error) {
	return d.c.ListSources(ctx, d.name, d.opts(opts)...)
}

// ListEDB is Client.ListEDB against this database.
func (d *Database) ListEDB(ctx context.Context, relName string, opts ...CallOption) (*api.TransactionResult, error) {
	return d.c.ListEDB(ctx, d.name, relName, d.opts(opts)...)
}

// Cardinality returns the per-relation counts of relName (or of every
// relation when empty) together with the full result.
func (d *Database) Cardinality(ctx context.Context, relName string, opts ...CallOption) ([]api.Relation, *api.TransactionResult, error) {
	res, err := d.c.Cardinality(ctx, d.name, relName, d.opts(opts)...)
	if err != nil || res == nil || len(res.Actions) == 0 {
		return nil, res, err
	}
	return res.Actions[0].Result.Result, res, nil
}

// LoadJSON is Client.LoadJSON against this database.
func (d *Database) LoadJSON(ctx context.Context, relation, data, path string, opts ...CallOption) (*api.TransactionResult, error) {
	return d.c.LoadJSON(ctx, d.name, relation, data, path, d.opts(opts)...)
}

// LoadData is Client.LoadData against this database.
func (d *Database) LoadData(ctx context.Context, relation string, data api.LoadData, opts ...CallOption) (*api.TransactionResult, error) {
	return d.c.LoadData(ctx, d.name, relation, data, d.opts(opts)...)
}
