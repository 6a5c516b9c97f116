package api

import (
	"bytes"
	"encoding/json"
)

// Mode is the database-lifecycle intent carried by a transaction.
type Mode string

const (
	// ModeOpen requires the database to exist.
	ModeOpen Mode = "OPEN"
	// ModeOpenOrCreate opens the database, creating it when missing.
	ModeOpenOrCreate Mode = "OPEN_OR_CREATE"
	// ModeCreate creates the database and fails when it already exists.
	ModeCreate Mode = "CREATE"
	// ModeCreateOverwrite destroys any existing database and recreates it.
	ModeCreateOverwrite Mode = "CREATE_OVERWRITE"
	// ModeClone behaves like ModeCreate but copies state from SourceDBName.
	ModeClone Mode = "CLONE"
	// ModeCloneOverwrite behaves like ModeCreateOverwrite but copies state from SourceDBName.
	ModeCloneOverwrite Mode = "CLONE_OVERWRITE"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeOpen, ModeOpenOrCreate, ModeCreate, ModeCreateOverwrite, ModeClone, ModeCloneOverwrite:
		return true
	}
	return false
}

// IsClone reports whether m requires a source database.
func (m Mode) IsClone() bool {
	return m == ModeClone || m == ModeCloneOverwrite
}

// Creates reports whether m brings a new database into existence.
func (m Mode) Creates() bool {
	switch m {
	case ModeCreate, ModeCreateOverwrite, ModeClone, ModeCloneOverwrite:
		return true
	}
	return false
}

// Overwrites reports whether m replaces an existing database.
func (m Mode) Overwrites() bool {
	return m == ModeCreateOverwrite || m == ModeCloneOverwrite
}

// Transaction is the payload for POST /transaction.
type Transaction struct {
	// Type is always "Transaction" on the wire.
	Type string `json:"type"`
	// DBName names the target database.
	DBName string `json:"dbname"`
	// ComputeName routes the transaction to a compute; nil when unset.
	ComputeName *string `json:"compute_name"`
	// Mode is the lifecycle intent.
	Mode Mode `json:"mode"`
	// ReadOnly marks transactions that must not mutate the database.
	ReadOnly bool `json:"readonly"`
	// Version is the last version the client observed for DBName.
	Version int64 `json:"version"`
	// SourceDBName is set iff Mode is a clone mode.
	SourceDBName *string `json:"source_dbname"`
	// Actions are executed in order.
	Actions []LabeledAction `json:"actions"`
}

// Compute returns the compute name or "".
func (t *Transaction) Compute() string {
	if t == nil || t.ComputeName == nil {
		return ""
	}
	return *t.ComputeName
}

// Source returns the clone source database or "".
func (t *Transaction) Source() string {
	if t == nil || t.SourceDBName == nil {
		return ""
	}
	return *t.SourceDBName
}

// StringPtr returns nil for empty strings and &s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// TransactionResult is the response body of POST /transaction.
type TransactionResult struct {
	Type     string                `json:"type,omitempty"`
	Aborted  bool                  `json:"aborted"`
	Version  int64                 `json:"version"`
	Output   []Relation            `json:"output"`
	Problems []Problem             `json:"problems"`
	Actions  []LabeledActionResult `json:"actions"`
}

// HasProblems reports whether the result carries any diagnostics.
func (r *TransactionResult) HasProblems() bool {
	return r != nil && len(r.Problems) > 0
}

// ErrorProblems returns the problems flagged as errors or exceptions.
func (r *TransactionResult) ErrorProblems() []Problem {
	if r == nil {
		return nil
	}
	var out []Problem
	for _, p := range r.Problems {
		if p.IsError || p.IsException {
			out = append(out, p)
		}
	}
	return out
}

// ActionResult locates the result of the labeled action called name.
func (r *TransactionResult) ActionResult(name string) (*ActionResult, bool) {
	if r == nil {
		return nil, false
	}
	for i := range r.Actions {
		if r.Actions[i].Name == name {
			return &r.Actions[i].Result, true
		}
	}
	return nil, false
}

// LabeledActionResult pairs an action label with its result.
type LabeledActionResult struct {
	Type   string       `json:"type,omitempty"`
	Name   string       `json:"name"`
	Result ActionResult `json:"result"`
}

// ActionResult holds the per-kind result fields. Only the fields matching the
// originating action kind are populated.
type ActionResult struct {
	// Type echoes the action kind, for example "QueryActionResult".
	Type string `json:"type,omitempty"`
	// Output is populated by query actions.
	Output []Relation `json:"output,omitempty"`
	// Sources is populated by list-source actions.
	Sources []Source `json:"sources,omitempty"`
	// Rels is populated by list-EDB actions.
	Rels []RelKey `json:"rels,omitempty"`
	// Result is populated by cardinality actions.
	Result []Relation `json:"result,omitempty"`
}

// Relation is a column-oriented relation.
type Relation struct {
	Type    string  `json:"type,omitempty"`
	RelKey  RelKey  `json:"rel_key"`
	Columns [][]any `json:"columns"`
}

// UnmarshalJSON decodes r keeping integer column values exact. Integers become
// int64 and every other number becomes float64.
func (r *Relation) UnmarshalJSON(data []byte) error {
	type plain Relation
	var raw plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	for c := range raw.Columns {
		for i, v := range raw.Columns[c] {
			raw.Columns[c][i] = normalizeNumber(v)
		}
	}
	*r = Relation(raw)
	return nil
}

func normalizeNumber(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case []any:
		for i := range val {
			val[i] = normalizeNumber(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = normalizeNumber(val[k])
		}
		return val
	default:
		return v
	}
}

// Rows returns the tuples of r in row-major order.
func (r Relation) Rows() [][]any {
	if len(r.Columns) == 0 {
		return nil
	}
	n := len(r.Columns[0])
	rows := make([][]any, n)
	for i := 0; i < n; i++ {
		row := make([]any, len(r.Columns))
		for c := range r.Columns {
			if i < len(r.Columns[c]) {
				row[c] = r.Columns[c][i]
			}
		}
		rows[i] = row
	}
	return rows
}

// RelKey identifies a relation by name and column types.
type RelKey struct {
	Type   string   `json:"type,omitempty"`
	Name   string   `json:"name"`
	Keys   []string `json:"keys"`
	Values []string `json:"values"`
}

// Source is one installed program source.
type Source struct {
	Type  string `json:"type,omitempty"`
	Name  string `json:"name"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

// Problem is a diagnostic attached to a transaction result.
type Problem struct {
	Type        string `json:"type,omitempty"`
	ErrorCode   string `json:"error_code"`
	Message     string `json:"message"`
	Path        string `json:"path,omitempty"`
	Report      string `json:"report,omitempty"`
	IsError     bool   `json:"is_error"`
	IsException bool   `json:"is_exception"`
}

// ErrorResponse is the error envelope returned for failures that do not
// produce a transaction result.
type ErrorResponse struct {
	// Error is the stable error identifier.
	Error string `json:"error"`
	// Detail provides human-readable context.
	Detail string `json:"detail,omitempty"`
	// CurrentVersion reports the service's version for conflict diagnostics.
	CurrentVersion int64 `json:"current_version,omitempty"`
}

// DecodeErrorBody splits data into its error envelope and, when present, the
// partial transaction result.
func DecodeErrorBody(data []byte) (ErrorResponse, *TransactionResult, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return ErrorResponse{}, nil, err
	}
	var envelope ErrorResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ErrorResponse{}, nil, err
	}
	_, hasAborted := keys["aborted"]
	_, hasProblems := keys["problems"]
	if !hasAborted && !hasProblems {
		return envelope, nil, nil
	}
	var result TransactionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return envelope, nil, err
	}
	return envelope, &result, nil
}
