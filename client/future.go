package client

import (
	"context"

	"pkt.systems/relsdk/api"
	"pkt.systems/relsdk/txn"
)

// Future is the pending outcome of one asynchronous operation.
type Future struct {
	done   chan struct{}
	result *api.TransactionResult
	err    error
}

// Done is closed once the round trip completed.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the operation completes or ctx ends. Ending ctx does not
// cancel the operation; cancel the context passed when starting it for that.
func (f *Future) Wait(ctx context.Context) (*api.TransactionResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		return f.result, f.err
	default:
	}
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AsyncClient exposes the Client operations as futures. Argument validation
// still happens before the call returns.
type AsyncClient struct {
	c *Client
}

// Async returns the asynchronous view of c.
func (c *Client) Async() *AsyncClient {
	return &AsyncClient{c: c}
}

func (a *AsyncClient) start(ctx context.Context, req txn.Request) (*Future, error) {
	if _, err := a.c.builder.Build(req); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.result, f.err = a.c.run(ctx, req)
	}()
	return f, nil
}

// Query is Client.Query returning a Future.
func (a *AsyncClient) Query(ctx context.Context, db, source string, outputs []string, opts ...CallOption) (*Future, error) {
	req, err := a.c.queryRequest(db, source, outputs, applyCallOptions(opts))
	if err != nil {
		return nil, err
	}
	return a.start(ctx, req)
}

// InstallSource is Client.InstallSource returning a Future.
func (a *AsyncClient) InstallSource(ctx context.Context, db, sourceName, text string, opts ...CallOption) (*Future, error) {
	req, err := a.c.installRequest(db, sourceName, text, applyCallOptions(opts))
	if err != nil {
		return nil, err
	}
	return a.start(ctx, req)
}

// DeleteSource is Client.DeleteSource returning a Future.
func (a *AsyncClient) DeleteSource(ctx context.Context, db, sourceName string, opts ...CallOption) (*Future, error) {
	o := applyCallOptions(opts)
	action, err := txn.DeleteSourceAction(o.actionName, sourceName)
	if err != nil {
		return nil, err
	}
	return a.start(ctx, a.c.request(db, o, false, api.ModeOpen, action))
}

// ListSources is Client.ListSources returning a Future.
func (a *AsyncClient) ListSources(ctx context.Context, db string, opts ...CallOption) (*Future, error) {
	o := applyCallOptions(opts)
	return a.start(ctx, a.c.request(db, o, true, api.ModeOpen, txn.ListSourcesAction(o.actionName)))
}

// ListEDB is Client.ListEDB returning a Future.
func (a *AsyncClient) ListEDB(ctx context.Context, db, relName string, opts ...CallOption) (*Future, error) {
	o := applyCallOptions(opts)
	return a.start(ctx, a.c.request(db, o, true, api.ModeOpen, txn.ListEDBAction(o.actionName, relName)))
}

// Cardinality is Client.Cardinality returning a Future.
func (a *AsyncClient) Cardinality(ctx context.Context, db, relName string, opts ...CallOption) (*Future, error) {
	o := applyCallOptions(opts)
	return a.start(ctx, a.c.request(db, o, true, api.ModeOpen, txn.CardinalityAction(o.actionName, relName)))
}

// LoadData is Client.LoadData returning a Future.
func (a *AsyncClient) LoadData(ctx context.Context, db, relation string, data api.LoadData, opts ...CallOption) (*Future, error) {
	o := applyCallOptions(opts)
	action, err := txn.LoadDataAction(o.actionName, relation, data)
	if err != nil {
		return nil, err
	}
	return a.start(ctx, a.c.request(db, o, false, api.ModeOpen, action))
}

// CreateDatabase is Client.CreateDatabase returning a Future.
func (a *AsyncClient) CreateDatabase(ctx context.Context, db string, overwrite bool, opts ...CallOption) (*Future, error) {
	mode := api.ModeCreate
	if overwrite {
		mode = api.ModeCreateOverwrite
	}
	return a.start(ctx, a.c.request(db, applyCallOptions(opts), false, mode))
}

// CloneDatabase is Client.CloneDatabase returning a Future.
func (a *AsyncClient) CloneDatabase(ctx context.Context, clone, source string, overwrite bool, opts ...CallOption) (*Future, error) {
	return a.start(ctx, a.c.cloneRequest(clone, source, overwrite, applyCallOptions(opts)))
}

// ConnectToDatabase is Client.ConnectToDatabase returning a Future.
func (a *AsyncClient) ConnectToDatabase(ctx context.Context, db string, opts ...CallOption) (*Future, error) {
	return a.start(ctx, a.c.request(db, applyCallOptions(opts), true, api.ModeOpen))
}

// RunActions is Client.RunActions returning a Future.
func (a *AsyncClient) RunActions(ctx context.Context, db string, actions []api.LabeledAction, opts TxnOptions) (*Future, error) {
	return a.start(ctx, txn.Request{
		Database:       db,
		Compute:        a.c.compute(opts.Compute),
		Actions:        actions,
		ReadOnly:       opts.ReadOnly,
		Mode:           opts.Mode,
		SourceDatabase: opts.SourceDatabase,
	})
}
