package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"pkt.systems/relsdk/api"
	"pkt.systems/relsdk/internal/version"
)

// TransactionPath is the service route for transactions.
const TransactionPath = "/transaction"

// maxErrorBody caps how much of a failed response is retained.
const maxErrorBody = 1 << 20

// Transport performs one transaction round trip. Implementations return the
// partial result together with the error when the service produced one.
type Transport interface {
	PostTransaction(ctx context.Context, tx *api.Transaction) (*api.TransactionResult, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, tx *api.Transaction) (*api.TransactionResult, error)

// PostTransaction calls f.
func (f TransportFunc) PostTransaction(ctx context.Context, tx *api.Transaction) (*api.TransactionResult, error) {
	return f(ctx, tx)
}

type httpTransport struct {
	c *Client
}

func (t httpTransport) PostTransaction(ctx context.Context, tx *api.Transaction) (*api.TransactionResult, error) {
	var result api.TransactionResult
	err := t.c.doJSON(ctx, http.MethodPost, TransactionPath, nil, tx, &result)
	if err == nil {
		return &result, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Result, classifyTransactionError(tx, apiErr)
	}
	return nil, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, payload any, out any) error {
	c.logTraceCtx(ctx, "client.http.start", "method", method, "path", path, "endpoint", c.baseURL)
	var body io.Reader
	if payload != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return fmt.Errorf("relsdk: encode %s %s: %w", method, path, err)
		}
		body = buf
	}
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, target, body)
	if err != nil {
		return fmt.Errorf("relsdk: build %s %s: %w", method, path, err)
	}
	c.applyHeaders(ctx, req, payload != nil)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logErrorCtx(ctx, "client.http.transport_error", "method", method, "path", path, "error", err)
		return fmt.Errorf("relsdk: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			return fmt.Errorf("relsdk: read %s %s error body: %w", method, path, readErr)
		}
		c.logWarnCtx(ctx, "client.http.error", "method", method, "path", path, "status", resp.StatusCode)
		return decodeAPIError(resp.StatusCode, data)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
	} else {
		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("relsdk: decode %s %s: %w", method, path, err)
		}
	}
	c.logTraceCtx(ctx, "client.http.success", "method", method, "path", path, "status", resp.StatusCode)
	return nil
}

func (c *Client) applyHeaders(ctx context.Context, req *http.Request, hasBody bool) {
	for k, vals := range c.headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id := CorrelationIDFromContext(ctx); id != "" && req.Header.Get(headerCorrelationID) == "" {
		req.Header.Set(headerCorrelationID, id)
	}
}
