package relsim

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"pkt.systems/relsdk/api"
)

// StdlibSource is installed in every new database.
const StdlibSource = "stdlib"

const stdlibText = `// builtin definitions
def true_value = true
`

// database is the committed state of one simulated database. Transactions
// work on a copy and swap it in on commit.
type database struct {
	name           string
	version        int64
	created        time.Time
	defaultCompute string
	sources        map[string]api.Source
	// base relations keyed by name, then by column signature.
	base map[string]map[string]*tupleSet
}

func newDatabase(name string, now time.Time) *database {
	db := &database{
		name:    name,
		created: now,
		sources: make(map[string]api.Source),
		base:    make(map[string]map[string]*tupleSet),
	}
	db.sources[StdlibSource] = api.Source{Type: "Source", Name: StdlibSource, Path: StdlibSource, Value: stdlibText}
	return db
}

func (db *database) clone(name string) *database {
	out := &database{
		name:           name,
		version:        db.version,
		created:        db.created,
		defaultCompute: db.defaultCompute,
		sources:        make(map[string]api.Source, len(db.sources)),
		base:           make(map[string]map[string]*tupleSet, len(db.base)),
	}
	for k, v := range db.sources {
		out.sources[k] = v
	}
	for name, sigs := range db.base {
		copied := make(map[string]*tupleSet, len(sigs))
		for sig, set := range sigs {
			copied[sig] = set.clone()
		}
		out.base[name] = copied
	}
	return out
}

func (db *database) sourceNames() []string {
	return sortedKeys(db.sources)
}

func (db *database) listSources() []api.Source {
	out := make([]api.Source, 0, len(db.sources))
	for _, name := range db.sourceNames() {
		out = append(out, db.sources[name])
	}
	return out
}

func (db *database) baseRows(name string) ([][]any, bool) {
	sigs, ok := db.base[name]
	if !ok {
		return nil, false
	}
	var rows [][]any
	for _, sig := range sortedKeys(sigs) {
		rows = append(rows, sigs[sig].rows...)
	}
	return rows, true
}

func (db *database) insertRow(name string, row []any) {
	sigs, ok := db.base[name]
	if !ok {
		sigs = make(map[string]*tupleSet)
		db.base[name] = sigs
	}
	sig := strings.Join(signature(row), ",")
	set, ok := sigs[sig]
	if !ok {
		set = newTupleSet()
		sigs[sig] = set
	}
	set.add(row)
}

func (db *database) deleteRow(name string, row []any) {
	sigs, ok := db.base[name]
	if !ok {
		return
	}
	sig := strings.Join(signature(row), ",")
	set, ok := sigs[sig]
	if !ok {
		return
	}
	set.remove(row)
	if set.len() == 0 {
		delete(sigs, sig)
	}
	if len(sigs) == 0 {
		delete(db.base, name)
	}
}

func (db *database) relKeys(filter string) []api.RelKey {
	var out []api.RelKey
	for _, name := range sortedKeys(db.base) {
		if filter != "" && name != filter {
			continue
		}
		for _, sig := range sortedKeys(db.base[name]) {
			keys := []string{}
			if sig != "" {
				keys = strings.Split(sig, ",")
			}
			out = append(out, api.RelKey{Type: "RelKey", Name: name, Keys: keys, Values: []string{}})
		}
	}
	return out
}

func (db *database) cardinality(filter string) []api.Relation {
	names := sortedKeys(db.base)
	if filter != "" {
		names = []string{filter}
	}
	out := make([]api.Relation, 0, len(names))
	for _, name := range names {
		var n int64
		for _, set := range db.base[name] {
			n += int64(set.len())
		}
		out = append(out, api.Relation{
			Type:    "Relation",
			RelKey:  api.RelKey{Type: "RelKey", Name: name, Keys: []string{}, Values: []string{"Int64"}},
			Columns: [][]any{{n}},
		})
	}
	return out
}

// loadRows converts inline data into tuples. JSON documents become
// (path..., value) tuples; CSV rows become (:column, row, value) tuples.
func loadRows(data api.LoadData) ([][]any, error) {
	if data.Path != "" && data.Data == "" {
		return nil, fmt.Errorf("path %q is not reachable from the simulated service", data.Path)
	}
	switch contentType := strings.ToLower(strings.TrimSpace(data.ContentType)); {
	case strings.HasPrefix(contentType, "application/json"):
		dec := json.NewDecoder(strings.NewReader(data.Data))
		dec.UseNumber()
		var doc any
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		var rows [][]any
		flattenJSON(nil, doc, &rows)
		return rows, nil
	case strings.HasPrefix(contentType, "text/csv"):
		return csvRows(data.Data)
	default:
		return nil, fmt.Errorf("unsupported content type %q", data.ContentType)
	}
}

func flattenJSON(path []any, v any, rows *[][]any) {
	switch x := v.(type) {
	case map[string]any:
		for _, k := range sortedKeys(x) {
			flattenJSON(append(append([]any(nil), path...), ":"+k), x[k], rows)
		}
	case []any:
		for i, item := range x {
			flattenJSON(append(append([]any(nil), path...), int64(i+1)), item, rows)
		}
	default:
		*rows = append(*rows, append(append([]any(nil), path...), jsonScalar(x)))
	}
}

func jsonScalar(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case nil:
		return "null"
	default:
		return x
	}
}

func csvRows(data string) ([][]any, error) {
	r := csv.NewReader(bytes.NewBufferString(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	var rows [][]any
	for line := int64(1); ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", line, err)
		}
		for i, field := range record {
			if i >= len(header) {
				break
			}
			rows = append(rows, []any{":" + strings.TrimSpace(header[i]), line, csvValue(field)})
		}
	}
}

func csvValue(field string) any {
	if n, err := strconv.ParseInt(field, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(field, 64); err == nil {
		return f
	}
	return field
}

func (db *database) summary() api.Database {
	return api.Database{
		Name:               db.name,
		State:              "CREATED",
		DefaultComputeName: db.defaultCompute,
		Version:            db.version,
	}
}

func sortDatabases(dbs []api.Database) {
	sort.Slice(dbs, func(i, j int) bool { return dbs[i].Name < dbs[j].Name })
}
