// Package relsim simulates the transactional relational-query service in
// memory. It backs the SDK tests and the relctl dev-server.
package relsim

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/xid"

	"pkt.systems/pslog"
	"pkt.systems/relsdk/api"
	"pkt.systems/relsdk/internal/logutil"
)

// Option configures a Sim.
type Option func(*Sim)

// WithLogger sets the logger. Nil disables logging.
func WithLogger(logger pslog.Logger) Option {
	return func(s *Sim) { s.logger = logutil.EnsureLogger(logger) }
}

// WithBearerToken makes every request require "Authorization: Bearer token".
func WithBearerToken(token string) Option {
	return func(s *Sim) { s.token = token }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Sim) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTracing wraps the HTTP handler with otelhttp.
func WithTracing(enabled bool) Option {
	return func(s *Sim) { s.tracing = enabled }
}

// Sim is the simulated service. It is safe for concurrent use; transactions
// are applied one at a time.
type Sim struct {
	mu       sync.Mutex
	dbs      map[string]*database
	versions map[string]int64
	computes map[string]*compute
	txCount  int64

	token   string
	tracing bool
	now     func() time.Time
	logger  pslog.Logger
	metrics *simMetrics
}

// New returns an empty simulated service.
func New(opts ...Option) *Sim {
	s := &Sim{
		dbs:      make(map[string]*database),
		versions: make(map[string]int64),
		computes: make(map[string]*compute),
		now:      time.Now,
		logger:   pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logutil.Named(s.logger, "relsim")
	s.metrics = newSimMetrics(s.logger)
	return s
}

// Version reports the committed version of db.
func (s *Sim) Version(db string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dbs[db]
	if !ok {
		return 0, false
	}
	return d.version, true
}

// SetVersion forces the version of db, creating nothing. Tests use it to
// simulate commits made by other clients.
func (s *Sim) SetVersion(db string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dbs[db]
	if !ok {
		return fmt.Errorf("relsim: database %q not found", db)
	}
	d.version = version
	s.versions[db] = version
	return nil
}

// Transactions returns how many transactions reached the service.
func (s *Sim) Transactions() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

// outcome is the processed transaction: the result body and HTTP status.
type outcome struct {
	status  int
	result  api.TransactionResult
	errBody *api.ErrorResponse
}

func aborted(status int, version int64, problems ...api.Problem) outcome {
	return outcome{status: status, result: api.TransactionResult{
		Type:     "TransactionResult",
		Aborted:  true,
		Version:  version,
		Problems: problems,
		Actions:  []api.LabeledActionResult{},
		Output:   []api.Relation{},
	}}
}

// Execute applies tx and returns the result together with the HTTP status
// the service answers with.
func (s *Sim) Execute(ctx context.Context, tx *api.Transaction) (int, api.TransactionResult) {
	out := s.execute(ctx, tx)
	return out.status, out.result
}

func (s *Sim) execute(ctx context.Context, tx *api.Transaction) outcome {
	id := xid.New().String()
	began := s.now()
	logger := s.logger.With("txn_id", id, "db", tx.DBName, "mode", tx.Mode, "readonly", tx.ReadOnly)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	out := s.apply(tx)
	label := "committed"
	switch {
	case out.result.Aborted && out.status == http.StatusConflict:
		label = "stale"
	case out.result.Aborted:
		label = "aborted"
	case tx.ReadOnly:
		label = "read"
	}
	s.metrics.record(ctx, tx, label, len(tx.Actions), s.now().Sub(began))
	logger.Debug("relsim.txn.complete",
		"status", out.status,
		"outcome", label,
		"version", out.result.Version,
		"problems", len(out.result.Problems),
	)
	return out
}

func (s *Sim) apply(tx *api.Transaction) outcome {
	name := tx.DBName
	current := s.versions[name]
	if tx.Version > current {
		return staleOutcome(current, tx.Version)
	}

	existing := s.dbs[name]
	var work *database
	mode := tx.Mode
	if mode == "" {
		mode = api.ModeOpen
	}
	switch mode {
	case api.ModeOpen:
		if existing == nil {
			return aborted(http.StatusUnprocessableEntity, current, errorProblem(CodeDatabaseNotFound, "database %q does not exist", name))
		}
		work = existing.clone(name)
	case api.ModeOpenOrCreate:
		if existing == nil {
			work = newDatabase(name, s.now())
			work.version = current
		} else {
			work = existing.clone(name)
		}
	case api.ModeCreate, api.ModeCreateOverwrite:
		if existing != nil && !mode.Overwrites() {
			return aborted(http.StatusUnprocessableEntity, current, errorProblem(CodeDatabaseExists, "database %q already exists", name))
		}
		work = newDatabase(name, s.now())
		work.version = current
	case api.ModeClone, api.ModeCloneOverwrite:
		source := s.dbs[tx.Source()]
		if source == nil {
			return aborted(http.StatusUnprocessableEntity, current, errorProblem(CodeDatabaseNotFound, "source database %q does not exist", tx.Source()))
		}
		if existing != nil && !mode.Overwrites() {
			return aborted(http.StatusUnprocessableEntity, current, errorProblem(CodeDatabaseExists, "database %q already exists", name))
		}
		work = source.clone(name)
		work.created = s.now()
		work.version = current
	default:
		return outcome{status: http.StatusBadRequest, errBody: &api.ErrorResponse{Error: "invalid_mode", Detail: fmt.Sprintf("unknown mode %q", tx.Mode)}}
	}

	result := api.TransactionResult{
		Type:     "TransactionResult",
		Output:   []api.Relation{},
		Problems: []api.Problem{},
		Actions:  make([]api.LabeledActionResult, 0, len(tx.Actions)),
	}
	for _, la := range tx.Actions {
		ar, problems, abort := s.runAction(work, la.Action, tx.ReadOnly, &result)
		result.Problems = append(result.Problems, problems...)
		if abort {
			return aborted(http.StatusUnprocessableEntity, current, result.Problems...)
		}
		result.Actions = append(result.Actions, api.LabeledActionResult{Type: "LabeledActionResult", Name: la.Name, Result: ar})
	}

	if tx.ReadOnly && existing != nil {
		result.Version = current
		return outcome{status: http.StatusOK, result: result}
	}
	work.version = current + 1
	s.dbs[name] = work
	s.versions[name] = work.version
	result.Version = work.version
	return outcome{status: http.StatusOK, result: result}
}

func staleOutcome(current, sent int64) outcome {
	out := aborted(http.StatusConflict, current, api.Problem{
		Type:      "ClientProblem",
		ErrorCode: CodeStaleVersion,
		Message:   fmt.Sprintf("transaction version %d is ahead of database version %d", sent, current),
		IsError:   true,
	})
	out.errBody = &api.ErrorResponse{Error: CodeStaleVersion, CurrentVersion: current}
	return out
}

func (s *Sim) runAction(db *database, action api.Action, readOnly bool, tx *api.TransactionResult) (api.ActionResult, []api.Problem, bool) {
	ar := api.ActionResult{Type: string(action.Kind()) + "Result"}
	// Queries may mutate but only do so through their inserts and deletes,
	// which are checked after evaluation.
	if _, isQuery := action.(api.QueryAction); readOnly && action.Mutating() && !isQuery {
		return ar, []api.Problem{errorProblem(CodeReadOnlyWrite, "%s is not allowed in a readonly transaction", action.Kind())}, true
	}
	switch a := action.(type) {
	case api.QueryAction:
		ev := evaluate(db, a.Source.Value, a.Inputs)
		if ev.violated {
			return ar, ev.problems, true
		}
		if ev.writes() || (len(a.Persist) > 0) {
			if readOnly {
				return ar, append(ev.problems, errorProblem(CodeReadOnlyWrite, "base relations cannot change in a readonly transaction")), true
			}
			ev.apply(db, a.Persist)
		}
		ar.Output = []api.Relation{}
		for _, name := range a.Outputs {
			ar.Output = append(ar.Output, ev.relation(name)...)
		}
		tx.Output = append(tx.Output, ev.relation("output")...)
		return ar, ev.problems, false
	case api.InstallAction:
		var problems []api.Problem
		for _, src := range a.Sources {
			if _, errs := parseProgram(src.Value); len(errs) > 0 {
				for _, err := range errs {
					p := errorProblem(CodeParseError, "%v", err)
					p.Path = src.Path
					problems = append(problems, p)
				}
			}
			src.Type = "Source"
			db.sources[src.Name] = src
		}
		return ar, problems, false
	case api.ModifyWorkspaceAction:
		for _, name := range a.DeleteSource {
			delete(db.sources, name)
		}
		return ar, nil, false
	case api.ListSourceAction:
		ar.Sources = db.listSources()
		return ar, nil, false
	case api.ListEdbAction:
		ar.Rels = db.relKeys(a.RelName)
		if ar.Rels == nil {
			ar.Rels = []api.RelKey{}
		}
		return ar, nil, false
	case api.CardinalityAction:
		ar.Result = db.cardinality(a.RelName)
		return ar, nil, false
	case api.LoadDataAction:
		rows, err := loadRows(a.Value)
		if err != nil {
			return ar, []api.Problem{errorProblem(CodeLoadError, "load %s: %v", a.Rel, err)}, true
		}
		for _, row := range rows {
			db.insertRow(a.Rel, row)
		}
		return ar, nil, false
	default:
		return ar, []api.Problem{errorProblem("UNSUPPORTED_ACTION", "unsupported action %T", action)}, true
	}
}
