package relsim

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pkt.systems/pslog"
	"pkt.systems/relsdk/api"
)

const headerCorrelationID = "X-Correlation-Id"

// MaxBodyBytes caps request bodies accepted by the handler.
const MaxBodyBytes = 32 << 20

type httpError struct {
	Status  int
	Code    string
	Detail  string
	Version int64
}

func (e httpError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return e.Code
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// Handler returns the HTTP surface of the service.
func (s *Sim) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /transaction", s.wrap("transaction", s.handleTransaction))
	mux.Handle("GET /compute", s.wrap("compute.list", s.handleListComputes))
	mux.Handle("PUT /compute", s.wrap("compute.create", s.handleCreateCompute))
	mux.Handle("DELETE /compute", s.wrap("compute.delete", s.handleDeleteCompute))
	mux.Handle("GET /compute/{id}/events", s.wrap("compute.events", s.handleComputeEvents))
	mux.Handle("GET /database", s.wrap("database.list", s.handleListDatabases))
	mux.Handle("POST /database", s.wrap("database.update", s.handleUpdateDatabase))
	mux.Handle("GET /healthz", s.wrap("healthz", func(w http.ResponseWriter, _ *http.Request) error {
		w.WriteHeader(http.StatusOK)
		return nil
	}))
	if !s.tracing {
		return mux
	}
	return otelhttp.NewHandler(mux, "relsim.http",
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents))
}

func (s *Sim) wrap(operation string, fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := s.logger.With("req_id", xid.New().String(), "op", operation, "method", r.Method, "path", r.URL.Path)
		if cid := strings.TrimSpace(r.Header.Get(headerCorrelationID)); cid != "" {
			logger = logger.With("cid", cid)
			w.Header().Set(headerCorrelationID, cid)
		}
		r = r.WithContext(pslog.ContextWithLogger(r.Context(), logger))
		logger.Trace("http.request.start", "remote_addr", r.RemoteAddr)
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			s.writeError(w, logger, httpError{Status: http.StatusUnauthorized, Code: "unauthorized", Detail: "missing or invalid bearer token"})
			return
		}
		if err := fn(w, r); err != nil {
			logger.Debug("http.request.error", "elapsed", time.Since(start), "error", err)
			s.writeError(w, logger, err)
			return
		}
		logger.Trace("http.request.complete", "elapsed", time.Since(start))
	})
}

func (s *Sim) writeError(w http.ResponseWriter, logger pslog.Logger, err error) {
	var httpErr httpError
	if !errors.As(err, &httpErr) {
		logger.Error("http.request.internal_error", "error", err)
		httpErr = httpError{Status: http.StatusInternalServerError, Code: "internal_error", Detail: err.Error()}
	}
	writeJSON(w, httpErr.Status, api.ErrorResponse{
		Error:          httpErr.Code,
		Detail:         httpErr.Detail,
		CurrentVersion: httpErr.Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_body", Detail: err.Error()}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_body", Detail: err.Error()}
	}
	return nil
}

// staleBody carries both the aborted result and the error envelope.
type staleBody struct {
	api.TransactionResult
	Error          string `json:"error"`
	CurrentVersion int64  `json:"current_version"`
}

func (s *Sim) handleTransaction(w http.ResponseWriter, r *http.Request) error {
	var tx api.Transaction
	if err := decodeBody(r, &tx); err != nil {
		return err
	}
	if tx.Type != "" && tx.Type != "Transaction" {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_transaction", Detail: fmt.Sprintf("unexpected type %q", tx.Type)}
	}
	if strings.TrimSpace(tx.DBName) == "" {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_transaction", Detail: "dbname required"}
	}
	if tx.Mode.IsClone() != (tx.Source() != "") {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_transaction", Detail: "source_dbname must be set exactly for clone modes"}
	}
	out := s.execute(r.Context(), &tx)
	switch {
	case out.errBody != nil && out.result.Type == "":
		return httpError{Status: out.status, Code: out.errBody.Error, Detail: out.errBody.Detail}
	case out.errBody != nil:
		writeJSON(w, out.status, staleBody{
			TransactionResult: out.result,
			Error:             out.errBody.Error,
			CurrentVersion:    out.errBody.CurrentVersion,
		})
	default:
		writeJSON(w, out.status, out.result)
	}
	return nil
}

func (s *Sim) handleListComputes(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, api.ListComputesResponse{
		Computes: s.listComputes(q["name"], q["id"], q["size"], q["state"], q["region"]),
	})
	return nil
}

func (s *Sim) handleCreateCompute(w http.ResponseWriter, r *http.Request) error {
	var req api.CreateComputeRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	c, err := s.createCompute(req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, api.CreateComputeResponse{Compute: c})
	return nil
}

func (s *Sim) handleDeleteCompute(w http.ResponseWriter, r *http.Request) error {
	var req api.DeleteComputeRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	resp, err := s.deleteCompute(req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (s *Sim) handleComputeEvents(w http.ResponseWriter, r *http.Request) error {
	events, err := s.computeEvents(r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, api.ListComputeEventsResponse{Events: events})
	return nil
}

func (s *Sim) handleListDatabases(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, api.ListDatabasesResponse{Databases: s.listDatabases(q["name"], q["state"])})
	return nil
}

func (s *Sim) handleUpdateDatabase(w http.ResponseWriter, r *http.Request) error {
	var req api.UpdateDatabaseRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	db, err := s.updateDatabase(req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, api.UpdateDatabaseResponse{Database: db})
	return nil
}
