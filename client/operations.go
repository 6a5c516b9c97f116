package client

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/relsdk/api"
	"pkt.systems/relsdk/txn"
)

// Querier runs queries and read-only inspections.
type Querier interface {
	Query(ctx context.Context, db, source string, outputs []string, opts ...CallOption) (*api.TransactionResult, error)
	ListEDB(ctx context.Context, db, relName string, opts ...CallOption) (*api.TransactionResult, error)
	Cardinality(ctx context.Context, db, relName string, opts ...CallOption) (*api.TransactionResult, error)
}

// SourceAdmin manages installed sources and loaded data.
type SourceAdmin interface {
	InstallSource(ctx context.Context, db, sourceName, text string, opts ...CallOption) (*api.TransactionResult, error)
	DeleteSource(ctx context.Context, db, sourceName string, opts ...CallOption) (*api.TransactionResult, error)
	ListSources(ctx context.Context, db string, opts ...CallOption) (*api.TransactionResult, error)
	LoadData(ctx context.Context, db, relation string, data api.LoadData, opts ...CallOption) (*api.TransactionResult, error)
}

// DatabaseLifecycle creates, clones and opens databases.
type DatabaseLifecycle interface {
	CreateDatabase(ctx context.Context, db string, overwrite bool, opts ...CallOption) (*api.TransactionResult, error)
	CloneDatabase(ctx context.Context, clone, source string, overwrite bool, opts ...CallOption) (*api.TransactionResult, error)
	ConnectToDatabase(ctx context.Context, db string, opts ...CallOption) (*api.TransactionResult, error)
}

var (
	_ Querier           = (*Client)(nil)
	_ SourceAdmin       = (*Client)(nil)
	_ DatabaseLifecycle = (*Client)(nil)
)

type callOptions struct {
	actionName string
	compute    string
	write      bool
	inputs     []api.Relation
	persist    []string
	sourcePath string
}

// CallOption tunes a single operation.
type CallOption func(*callOptions)

// WithActionName labels the operation's action; the default is "action".
func WithActionName(name string) CallOption {
	return func(o *callOptions) { o.actionName = name }
}

// WithCompute routes the transaction to compute, overriding WithComputeName.
func WithCompute(compute string) CallOption {
	return func(o *callOptions) { o.compute = compute }
}

// WithWrite runs a Query as a write transaction (readonly=false).
func WithWrite() CallOption {
	return func(o *callOptions) { o.write = true }
}

// WithInputs binds relations as query inputs.
func WithInputs(inputs ...api.Relation) CallOption {
	return func(o *callOptions) { o.inputs = append(o.inputs, inputs...) }
}

// WithPersist asks a write query to persist the named relations.
func WithPersist(relations ...string) CallOption {
	return func(o *callOptions) { o.persist = append(o.persist, relations...) }
}

// WithSourcePath sets the path of an installed source; it defaults to the
// source name.
func WithSourcePath(path string) CallOption {
	return func(o *callOptions) { o.sourcePath = path }
}

func applyCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// TxnOptions describes the transaction wrapped around RunActions.
type TxnOptions struct {
	ReadOnly       bool
	Mode           api.Mode
	Compute        string
	SourceDatabase string
}

// Query evaluates source against db and returns outputs. Queries are readonly
// unless WithWrite is given.
func (c *Client) Query(ctx context.Context, db, source string, outputs []string, opts ...CallOption) (*api.TransactionResult, error) {
	req, err := c.queryRequest(db, source, outputs, applyCallOptions(opts))
	if err != nil {
		return nil, err
	}
	return c.run(ctx, req)
}

func (c *Client) queryRequest(db, source string, outputs []string, o callOptions) (txn.Request, error) {
	action, err := txn.QueryAction(o.actionName, source, outputs, o.inputs, o.persist...)
	if err != nil {
		return txn.Request{}, err
	}
	return c.request(db, o, !o.write, api.ModeOpen, action), nil
}

// InstallSource installs text as sourceName in db.
func (c *Client) InstallSource(ctx context.Context, db, sourceName, text string, opts ...CallOption) (*api.TransactionResult, error) {
	req, err := c.installRequest(db, sourceName, text, applyCallOptions(opts))
	if err != nil {
		return nil, err
	}
	return c.run(ctx, req)
}

func (c *Client) installRequest(db, sourceName, text string, o callOptions) (txn.Request, error) {
	action, err := txn.InstallAction(o.actionName, sourceName, text, o.sourcePath)
	if err != nil {
		return txn.Request{}, err
	}
	return c.request(db, o, false, api.ModeOpen, action), nil
}

// DeleteSource removes sourceName from db.
func (c *Client) DeleteSource(ctx context.Context, db, sourceName string, opts ...CallOption) (*api.TransactionResult, error) {
	o := applyCallOptions(opts)
	action, err := txn.DeleteSourceAction(o.actionName, sourceName)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, c.request(db, o, false, api.ModeOpen, action))
}

// ListSources lists the sources installed in db.
func (c *Client) ListSources(ctx context.Context, db string, opts ...CallOption) (*api.TransactionResult, error) {
	o := applyCallOptions(opts)
	return c.run(ctx, c.request(db, o, true, api.ModeOpen, txn.ListSourcesAction(o.actionName)))
}

// ListEDB lists the base relations of db, filtered by relName when non-empty.
func (c *Client) ListEDB(ctx context.Context, db, relName string, opts ...CallOption) (*api.TransactionResult, error) {
	o := applyCallOptions(opts)
	return c.run(ctx, c.request(db, o, true, api.ModeOpen, txn.ListEDBAction(o.actionName, relName)))
}

// Cardinality counts the tuples of relName, or of every relation when relName
// is empty.
func (c *Client) Cardinality(ctx context.Context, db, relName string, opts ...CallOption) (*api.TransactionResult, error) {
	o := applyCallOptions(opts)
	return c.run(ctx, c.request(db, o, true, api.ModeOpen, txn.CardinalityAction(o.actionName, relName)))
}

// LoadData loads external data into relation.
func (c *Client) LoadData(ctx context.Context, db, relation string, data api.LoadData, opts ...CallOption) (*api.TransactionResult, error) {
	o := applyCallOptions(opts)
	action, err := txn.LoadDataAction(o.actionName, relation, data)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, c.request(db, o, false, api.ModeOpen, action))
}

// LoadJSON loads a JSON document, given inline as data or by path.
//
// Deprecated: load data from within a query instead.
func (c *Client) LoadJSON(ctx context.Context, db, relation, data, path string, opts ...CallOption) (*api.TransactionResult, error) {
	o := applyCallOptions(opts)
	action, err := txn.LoadJSONAction(o.actionName, relation, data, path)
	if err != nil {
		return nil, err
	}
	c.logWarnCtx(ctx, "client.load_json.deprecated", "db", db, "relation", relation)
	return c.run(ctx, c.request(db, o, false, api.ModeOpen, action))
}

// CreateDatabase creates db. Without overwrite, an existing database aborts
// the transaction.
func (c *Client) CreateDatabase(ctx context.Context, db string, overwrite bool, opts ...CallOption) (*api.TransactionResult, error) {
	mode := api.ModeCreate
	if overwrite {
		mode = api.ModeCreateOverwrite
	}
	return c.run(ctx, c.request(db, applyCallOptions(opts), false, mode))
}

// CloneDatabase creates clone as a copy of source.
func (c *Client) CloneDatabase(ctx context.Context, clone, source string, overwrite bool, opts ...CallOption) (*api.TransactionResult, error) {
	req := c.cloneRequest(clone, source, overwrite, applyCallOptions(opts))
	return c.run(ctx, req)
}

func (c *Client) cloneRequest(clone, source string, overwrite bool, o callOptions) txn.Request {
	mode := api.ModeClone
	if overwrite {
		mode = api.ModeCloneOverwrite
	}
	req := c.request(clone, o, false, mode)
	req.SourceDatabase = source
	return req
}

// ConnectToDatabase pings db with an empty readonly transaction, which also
// refreshes its cached version.
func (c *Client) ConnectToDatabase(ctx context.Context, db string, opts ...CallOption) (*api.TransactionResult, error) {
	return c.run(ctx, c.request(db, applyCallOptions(opts), true, api.ModeOpen))
}

// RunActions runs actions, in order, as one transaction.
func (c *Client) RunActions(ctx context.Context, db string, actions []api.LabeledAction, opts TxnOptions) (*api.TransactionResult, error) {
	return c.run(ctx, txn.Request{
		Database:       db,
		Compute:        c.compute(opts.Compute),
		Actions:        actions,
		ReadOnly:       opts.ReadOnly,
		Mode:           opts.Mode,
		SourceDatabase: opts.SourceDatabase,
	})
}

func (c *Client) request(db string, o callOptions, readOnly bool, mode api.Mode, actions ...api.LabeledAction) txn.Request {
	if actions == nil {
		actions = []api.LabeledAction{}
	}
	return txn.Request{
		Database: db,
		Compute:  c.compute(o.compute),
		Actions:  actions,
		ReadOnly: readOnly,
		Mode:     mode,
	}
}

// run is build, post, apply: exactly one round trip and one version apply.
func (c *Client) run(ctx context.Context, req txn.Request) (*api.TransactionResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := c.builder.Build(req)
	if err != nil {
		return nil, err
	}
	if c.serializeWrites && !req.ReadOnly {
		unlock := c.writeLocks.lock(tx.DBName)
		defer unlock()
		// Rebuild under the lock so the cached version is current.
		if tx, err = c.builder.Build(req); err != nil {
			return nil, err
		}
	}
	return c.execute(ctx, tx)
}

func (c *Client) execute(ctx context.Context, tx *api.Transaction) (*api.TransactionResult, error) {
	ctx = ensureCorrelation(ctx)
	ctx, span := c.tracer.Start(ctx, "relsdk.transaction",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("relsdk.db", tx.DBName),
			attribute.String("relsdk.txn.mode", string(tx.Mode)),
			attribute.Bool("relsdk.txn.readonly", tx.ReadOnly),
			attribute.Int64("relsdk.txn.version", tx.Version),
			attribute.Int("relsdk.txn.actions", len(tx.Actions)),
		),
	)
	defer span.End()

	c.logDebugCtx(ctx, "client.txn.start",
		"db", tx.DBName,
		"mode", tx.Mode,
		"readonly", tx.ReadOnly,
		"version", tx.Version,
		"actions", len(tx.Actions),
	)
	began := time.Now()
	result, err := c.transport.PostTransaction(ctx, tx)
	elapsed := time.Since(began)

	advanced := c.builder.ApplyResponse(tx.DBName, result)
	if advanced {
		c.logDebugCtx(ctx, "client.txn.version_advanced", "db", tx.DBName, "from", tx.Version, "to", result.Version)
	}

	var stale *StaleVersionError
	isStaleErr := errors.As(err, &stale)
	outcome := "ok"
	switch {
	case isStaleErr:
		outcome = "stale"
	case IsAborted(err):
		outcome = "aborted"
	case err != nil:
		outcome = "error"
	case result != nil && result.HasProblems():
		outcome = "problems"
	}
	c.metrics.recordTransaction(ctx, tx, outcome, elapsed, advanced, isStaleErr)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		c.logWarnCtx(ctx, "client.txn.error", "db", tx.DBName, "mode", tx.Mode, "outcome", outcome, "elapsed", elapsed, "error", err)
		return result, err
	}
	if result == nil {
		return nil, errors.New("relsdk: transport returned neither result nor error")
	}
	c.logDebugCtx(ctx, "client.txn.complete",
		"db", tx.DBName,
		"version", result.Version,
		"problems", len(result.Problems),
		"elapsed", elapsed,
	)
	return result, nil
}
