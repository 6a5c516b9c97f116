package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"pkt.systems/relsdk/api"
	"pkt.systems/relsdk/txn"
)

// ErrStaleVersion matches *StaleVersionError via errors.Is.
var ErrStaleVersion = errors.New("relsdk: stale version")

// ErrLocalServer is returned by control-plane calls on a client configured
// WithLocalServer.
var ErrLocalServer = errors.New("relsdk: not available on a local server connection")

// ErrorCodeStaleVersion is the error identifier the service uses for requests
// carrying a version it has not reached.
const ErrorCodeStaleVersion = "stale_version"

// APIError describes a non-2xx response.
type APIError struct {
	// Status is the HTTP status code.
	Status int
	// Response is the decoded error envelope, when the body carried one.
	Response api.ErrorResponse
	// Result is the partial transaction result, when the body carried one.
	Result *api.TransactionResult
	// Body is the raw response body.
	Body []byte
}

func (e *APIError) Error() string {
	if e.Response.Error != "" {
		if e.Response.Detail != "" {
			return fmt.Sprintf("relsdk: %s (%s)", e.Response.Error, e.Response.Detail)
		}
		return "relsdk: " + e.Response.Error
	}
	if e.Result != nil && e.Result.Aborted {
		if problems := e.Result.ErrorProblems(); len(problems) > 0 {
			return fmt.Sprintf("relsdk: transaction aborted (status %d): %s", e.Status, problems[0].Message)
		}
		return fmt.Sprintf("relsdk: transaction aborted (status %d)", e.Status)
	}
	return fmt.Sprintf("relsdk: status %d", e.Status)
}

// Aborted reports whether the service aborted the transaction.
func (e *APIError) Aborted() bool {
	return e != nil && e.Result != nil && e.Result.Aborted
}

// StaleVersionError reports a transaction rejected because its version is
// ahead of the service. Refresh (for example by reconnecting with a fresh
// client) and retry.
type StaleVersionError struct {
	Database string
	// Sent is the version carried by the rejected transaction.
	Sent int64
	// Current is the service's version, when reported.
	Current int64
	API     *APIError
}

func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("relsdk: stale version for %q: sent %d, service at %d", e.Database, e.Sent, e.Current)
}

func (e *StaleVersionError) Unwrap() error {
	if e.API == nil {
		return nil
	}
	return e.API
}

func (e *StaleVersionError) Is(target error) bool {
	return target == ErrStaleVersion
}

// IsValidation reports whether err is a client-side argument error.
func IsValidation(err error) bool {
	return txn.IsValidation(err)
}

// IsTransportError reports whether err came from the network or a non-2xx
// response, as opposed to argument validation or caller cancellation.
func IsTransportError(err error) bool {
	if err == nil || IsValidation(err) || errors.Is(err, ErrLocalServer) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsAborted reports whether err carries an aborted transaction result.
func IsAborted(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Aborted()
}

func decodeAPIError(status int, data []byte) *APIError {
	apiErr := &APIError{Status: status, Body: data}
	if len(data) == 0 {
		return apiErr
	}
	envelope, result, err := api.DecodeErrorBody(data)
	if err != nil {
		return apiErr
	}
	apiErr.Response = envelope
	apiErr.Result = result
	return apiErr
}

func isStale(apiErr *APIError) bool {
	if apiErr == nil {
		return false
	}
	if apiErr.Response.Error == ErrorCodeStaleVersion {
		return true
	}
	if apiErr.Status != http.StatusConflict || apiErr.Result == nil {
		return false
	}
	for _, p := range apiErr.Result.Problems {
		if p.ErrorCode == ErrorCodeStaleVersion {
			return true
		}
	}
	return false
}

func classifyTransactionError(tx *api.Transaction, apiErr *APIError) error {
	if !isStale(apiErr) {
		return apiErr
	}
	current := apiErr.Response.CurrentVersion
	if current == 0 && apiErr.Result != nil {
		current = apiErr.Result.Version
	}
	return &StaleVersionError{Database: tx.DBName, Sent: tx.Version, Current: current, API: apiErr}
}
