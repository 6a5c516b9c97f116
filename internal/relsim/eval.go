package relsim

import (
	"fmt"
	"sort"
	"strings"

	"pkt.systems/relsdk/api"
)

// Problem codes reported by the simulator.
const (
	CodeParseError          = "PARSE_ERROR"
	CodeUndefined           = "UNDEFINED"
	CodeConstraintViolation = "INTEGRITY_CONSTRAINT_VIOLATION"
	CodeReadOnlyWrite       = "READONLY_WRITE"
	CodeDatabaseNotFound    = "DATABASE_NOT_FOUND"
	CodeDatabaseExists      = "DATABASE_ALREADY_EXISTS"
	CodeLoadError           = "LOAD_ERROR"
	CodeStaleVersion        = "stale_version"
)

func errorProblem(code, format string, args ...any) api.Problem {
	return api.Problem{
		Type:      "ClientProblem",
		ErrorCode: code,
		Message:   fmt.Sprintf(format, args...),
		IsError:   true,
	}
}

// tupleSet is a deduplicated, insertion-ordered set of tuples.
type tupleSet struct {
	index map[string]struct{}
	rows  [][]any
}

func newTupleSet(rows ...[]any) *tupleSet {
	s := &tupleSet{index: make(map[string]struct{})}
	for _, row := range rows {
		s.add(row)
	}
	return s
}

func tupleID(row []any) string {
	var b strings.Builder
	for _, v := range row {
		fmt.Fprintf(&b, "%T:%v\x00", v, v)
	}
	return b.String()
}

func (s *tupleSet) add(row []any) bool {
	id := tupleID(row)
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.rows = append(s.rows, append([]any(nil), row...))
	return true
}

func (s *tupleSet) remove(row []any) bool {
	id := tupleID(row)
	if _, ok := s.index[id]; !ok {
		return false
	}
	delete(s.index, id)
	for i, r := range s.rows {
		if tupleID(r) == id {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			break
		}
	}
	return true
}

func (s *tupleSet) len() int { return len(s.rows) }

func (s *tupleSet) clone() *tupleSet {
	return newTupleSet(s.rows...)
}

func typeName(v any) string {
	switch x := v.(type) {
	case int64:
		return "Int64"
	case float64:
		return "Float64"
	case bool:
		return "Bool"
	case string:
		if strings.HasPrefix(x, ":") {
			return x
		}
		return "String"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func signature(row []any) []string {
	types := make([]string, len(row))
	for i, v := range row {
		types[i] = typeName(v)
	}
	return types
}

// toRelations groups rows by column types into column-oriented relations.
func toRelations(name string, rows [][]any) []api.Relation {
	type group struct {
		key  api.RelKey
		rows [][]any
	}
	var order []string
	groups := make(map[string]*group)
	for _, row := range rows {
		sig := signature(row)
		id := strings.Join(sig, ",")
		g, ok := groups[id]
		if !ok {
			g = &group{key: api.RelKey{Type: "RelKey", Name: name, Keys: sig, Values: []string{}}}
			groups[id] = g
			order = append(order, id)
		}
		g.rows = append(g.rows, row)
	}
	out := make([]api.Relation, 0, len(order))
	for _, id := range order {
		g := groups[id]
		cols := make([][]any, len(g.key.Keys))
		for c := range cols {
			cols[c] = make([]any, 0, len(g.rows))
			for _, row := range g.rows {
				cols[c] = append(cols[c], row[c])
			}
		}
		out = append(out, api.Relation{Type: "Relation", RelKey: g.key, Columns: cols})
	}
	return out
}

func fromRelation(rel api.Relation) [][]any {
	rows := rel.Rows()
	for _, row := range rows {
		for i, v := range row {
			if f, ok := v.(float64); ok && f == float64(int64(f)) {
				row[i] = int64(f)
			}
		}
	}
	return rows
}

// evaluation is the outcome of evaluating one program against a database.
type evaluation struct {
	env      map[string]*tupleSet
	inserts  map[string]*tupleSet
	deletes  map[string]*tupleSet
	problems []api.Problem
	violated bool
}

// evaluate runs the installed sources followed by query against db. Inputs
// shadow base relations of the same name.
func evaluate(db *database, query string, inputs []api.Relation) *evaluation {
	ev := &evaluation{
		env:     make(map[string]*tupleSet),
		inserts: make(map[string]*tupleSet),
		deletes: make(map[string]*tupleSet),
	}
	inputSets := make(map[string]*tupleSet)
	for _, in := range inputs {
		set, ok := inputSets[in.RelKey.Name]
		if !ok {
			set = newTupleSet()
			inputSets[in.RelKey.Name] = set
		}
		for _, row := range fromRelation(in) {
			set.add(row)
		}
	}

	var program []stmt
	for _, name := range db.sourceNames() {
		stmts, _ := parseProgram(db.sources[name].Value)
		program = append(program, stmts...)
	}
	stmts, errs := parseProgram(query)
	for _, err := range errs {
		ev.problems = append(ev.problems, errorProblem(CodeParseError, "%v", err))
	}
	program = append(program, stmts...)

	lookup := func(name string) ([][]any, bool) {
		switch name {
		case "true":
			return [][]any{{}}, true
		case "false":
			return nil, true
		}
		if set, ok := ev.env[name]; ok {
			return set.rows, true
		}
		if set, ok := inputSets[name]; ok {
			return set.rows, true
		}
		if rows, ok := db.baseRows(name); ok {
			return rows, true
		}
		return nil, false
	}
	resolve := func(s stmt) [][]any {
		if s.body.ref == "" {
			return s.body.tuples
		}
		rows, ok := lookup(s.body.ref)
		if !ok {
			ev.problems = append(ev.problems, errorProblem(CodeUndefined, "line %d: %s is undefined", s.line, s.body.ref))
		}
		return rows
	}

	for _, s := range program {
		rows := resolve(s)
		switch s.kind {
		case stmtDef:
			set, ok := ev.env[s.name]
			if !ok {
				set = newTupleSet()
				ev.env[s.name] = set
			}
			for _, row := range rows {
				set.add(row)
			}
		case stmtInsert, stmtDelete:
			target := ev.inserts
			if s.kind == stmtDelete {
				target = ev.deletes
			}
			set, ok := target[s.name]
			if !ok {
				set = newTupleSet()
				target[s.name] = set
			}
			for _, row := range rows {
				set.add(row)
			}
		case stmtConstraint:
			if len(rows) == 0 {
				label := s.name
				if label == "" {
					label = "anonymous"
				}
				ev.violated = true
				ev.problems = append(ev.problems, api.Problem{
					Type:        "IntegrityConstraintViolation",
					ErrorCode:   CodeConstraintViolation,
					Message:     fmt.Sprintf("line %d: integrity constraint %s violated", s.line, label),
					IsError:     true,
					IsException: true,
				})
			}
		}
	}
	return ev
}

func (ev *evaluation) writes() bool {
	return len(ev.inserts) > 0 || len(ev.deletes) > 0
}

func (ev *evaluation) relation(name string) []api.Relation {
	set, ok := ev.env[name]
	if !ok {
		return nil
	}
	return toRelations(name, set.rows)
}

// apply writes the evaluation's inserts, deletes and persisted relations into
// db.
func (ev *evaluation) apply(db *database, persist []string) {
	for _, name := range sortedKeys(ev.deletes) {
		for _, row := range ev.deletes[name].rows {
			db.deleteRow(name, row)
		}
	}
	for _, name := range sortedKeys(ev.inserts) {
		for _, row := range ev.inserts[name].rows {
			db.insertRow(name, row)
		}
	}
	for _, name := range persist {
		if set, ok := ev.env[name]; ok {
			for _, row := range set.rows {
				db.insertRow(name, row)
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
