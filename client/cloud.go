package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"pkt.systems/relsdk/api"
)

// ComputeAdmin manages computes and database settings on the account control
// plane.
type ComputeAdmin interface {
	ListComputes(ctx context.Context, filter ComputeFilter) (*api.ListComputesResponse, error)
	CreateCompute(ctx context.Context, req api.CreateComputeRequest) (*api.CreateComputeResponse, error)
	DeleteCompute(ctx context.Context, name string, dryRun bool) (*api.DeleteComputeResponse, error)
	ListComputeEvents(ctx context.Context, computeID string) (*api.ListComputeEventsResponse, error)
	ListDatabases(ctx context.Context, filter DatabaseFilter) (*api.ListDatabasesResponse, error)
	UpdateDatabase(ctx context.Context, req api.UpdateDatabaseRequest) (*api.UpdateDatabaseResponse, error)
	RemoveDefaultCompute(ctx context.Context, db string) (*api.UpdateDatabaseResponse, error)
}

var _ ComputeAdmin = (*Client)(nil)

// ComputeFilter narrows ListComputes. Empty fields match everything.
type ComputeFilter struct {
	Names   []string
	IDs     []string
	Sizes   []string
	States  []string
	Regions []string
}

func (f ComputeFilter) values() url.Values {
	v := url.Values{}
	addAll(v, "name", f.Names)
	addAll(v, "id", f.IDs)
	addAll(v, "size", f.Sizes)
	addAll(v, "state", f.States)
	addAll(v, "region", f.Regions)
	return v
}

// DatabaseFilter narrows ListDatabases. Empty fields match everything.
type DatabaseFilter struct {
	Names  []string
	States []string
}

func (f DatabaseFilter) values() url.Values {
	v := url.Values{}
	addAll(v, "name", f.Names)
	addAll(v, "state", f.States)
	return v
}

func addAll(v url.Values, key string, values []string) {
	for _, s := range values {
		if s = strings.TrimSpace(s); s != "" {
			v.Add(key, s)
		}
	}
}

func (c *Client) controlPlane(method string) error {
	if c.localServer {
		return fmt.Errorf("%w: the method, %s, is not available on a local server connection", ErrLocalServer, method)
	}
	return nil
}

// ListComputes lists the computes of the account.
func (c *Client) ListComputes(ctx context.Context, filter ComputeFilter) (*api.ListComputesResponse, error) {
	if err := c.controlPlane("ListComputes"); err != nil {
		return nil, err
	}
	var out api.ListComputesResponse
	if err := c.doJSON(ensureCorrelation(ctx), http.MethodGet, "/compute", filter.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCompute provisions a compute. Size defaults to DefaultComputeSize and
// region to DefaultComputeRegion.
func (c *Client) CreateCompute(ctx context.Context, req api.CreateComputeRequest) (*api.CreateComputeResponse, error) {
	if err := c.controlPlane("CreateCompute"); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("relsdk: compute name required")
	}
	if strings.TrimSpace(req.Size) == "" {
		req.Size = DefaultComputeSize
	}
	if strings.TrimSpace(req.Region) == "" {
		req.Region = DefaultComputeRegion
	}
	var out api.CreateComputeResponse
	if err := c.doJSON(ensureCorrelation(ctx), http.MethodPut, "/compute", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteCompute removes the compute called name.
func (c *Client) DeleteCompute(ctx context.Context, name string, dryRun bool) (*api.DeleteComputeResponse, error) {
	if err := c.controlPlane("DeleteCompute"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("relsdk: compute name required")
	}
	var out api.DeleteComputeResponse
	body := api.DeleteComputeRequest{Name: strings.TrimSpace(name), DryRun: dryRun}
	if err := c.doJSON(ensureCorrelation(ctx), http.MethodDelete, "/compute", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListComputeEvents lists lifecycle events of one compute.
func (c *Client) ListComputeEvents(ctx context.Context, computeID string) (*api.ListComputeEventsResponse, error) {
	if err := c.controlPlane("ListComputeEvents"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(computeID) == "" {
		return nil, fmt.Errorf("relsdk: compute id required")
	}
	var out api.ListComputeEventsResponse
	path := "/compute/" + url.PathEscape(strings.TrimSpace(computeID)) + "/events"
	if err := c.doJSON(ensureCorrelation(ctx), http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDatabases lists the databases of the account.
func (c *Client) ListDatabases(ctx context.Context, filter DatabaseFilter) (*api.ListDatabasesResponse, error) {
	if err := c.controlPlane("ListDatabases"); err != nil {
		return nil, err
	}
	var out api.ListDatabasesResponse
	if err := c.doJSON(ensureCorrelation(ctx), http.MethodGet, "/database", filter.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateDatabase changes database settings such as the default compute.
func (c *Client) UpdateDatabase(ctx context.Context, req api.UpdateDatabaseRequest) (*api.UpdateDatabaseResponse, error) {
	if err := c.controlPlane("UpdateDatabase"); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("relsdk: database name required")
	}
	var out api.UpdateDatabaseResponse
	if err := c.doJSON(ensureCorrelation(ctx), http.MethodPost, "/database", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveDefaultCompute clears the default compute of db.
func (c *Client) RemoveDefaultCompute(ctx context.Context, db string) (*api.UpdateDatabaseResponse, error) {
	if err := c.controlPlane("RemoveDefaultCompute"); err != nil {
		return nil, err
	}
	return c.UpdateDatabase(ctx, api.UpdateDatabaseRequest{Name: db, RemoveDefaultCompute: true})
}
