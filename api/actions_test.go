package api_test

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"pkt.systems/relsdk/api"
)

func TestLabeledActionRoundTripEveryKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		action api.Action
	}{
		{name: "query", action: api.QueryAction{
			Source:  api.Source{Type: "Source", Name: "query", Value: "def bar = 2"},
			Inputs:  []api.Relation{},
			Outputs: []string{"bar"},
			Persist: []string{},
		}},
		{name: "install", action: api.InstallAction{Sources: []api.Source{{Type: "Source", Name: "a.rel", Path: "a.rel", Value: "def a = 1"}}}},
		{name: "delete", action: api.ModifyWorkspaceAction{DeleteSource: []string{"a.rel"}}},
		{name: "list sources", action: api.ListSourceAction{}},
		{name: "list edb", action: api.ListEdbAction{RelName: "foo"}},
		{name: "cardinality", action: api.CardinalityAction{RelName: "foo"}},
		{name: "load", action: api.LoadDataAction{Rel: "people", Value: api.LoadData{Type: "LoadData", ContentType: "application/json", Data: `{"a":1}`, Key: []string{}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := api.LabeledAction{Name: tc.name, Action: tc.action}
			data, err := json.Marshal(in)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if !strings.Contains(string(data), `"type":"`+string(tc.action.Kind())+`"`) {
				t.Fatalf("missing discriminant in %s", data)
			}
			var out api.LabeledAction
			if err := json.Unmarshal(data, &out); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if out.Name != in.Name {
				t.Fatalf("name=%q, want %q", out.Name, in.Name)
			}
			if !reflect.DeepEqual(out.Action, in.Action) {
				t.Fatalf("action=%#v, want %#v", out.Action, in.Action)
			}
		})
	}
}

func TestLabeledActionRejectsForeignFields(t *testing.T) {
	t.Parallel()

	raw := `{"type":"LabeledAction","name":"x","action":{"type":"ListEdbAction","relname":"foo","delete_source":["a"]}}`
	var la api.LabeledAction
	if err := json.Unmarshal([]byte(raw), &la); err == nil {
		t.Fatalf("expected error for field from another action kind")
	}
}

func TestLabeledActionRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`{"name":"x","action":{"type":"DropEverythingAction"}}`,
		`{"name":"x","action":{"relname":"foo"}}`,
	} {
		var la api.LabeledAction
		if err := json.Unmarshal([]byte(raw), &la); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestMarshalNilActionFails(t *testing.T) {
	t.Parallel()

	if _, err := json.Marshal(api.LabeledAction{Name: "x"}); err == nil {
		t.Fatal("expected error marshalling nil action")
	}
}

func TestTransactionWireShape(t *testing.T) {
	t.Parallel()

	txn := api.Transaction{
		Type:    "Transaction",
		DBName:  "db",
		Mode:    api.ModeOpen,
		Version: 3,
		Actions: []api.LabeledAction{},
	}
	data, err := json.Marshal(txn)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"dbname", "compute_name", "mode", "readonly", "version", "source_dbname", "actions"} {
		if _, ok := generic[key]; !ok {
			t.Fatalf("missing key %q in %s", key, data)
		}
	}
	if generic["compute_name"] != nil || generic["source_dbname"] != nil {
		t.Fatalf("expected null optional names, got %s", data)
	}
}

func TestModePredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode       api.Mode
		valid      bool
		clone      bool
		creates    bool
		overwrites bool
	}{
		{api.ModeOpen, true, false, false, false},
		{api.ModeOpenOrCreate, true, false, false, false},
		{api.ModeCreate, true, false, true, false},
		{api.ModeCreateOverwrite, true, false, true, true},
		{api.ModeClone, true, true, true, false},
		{api.ModeCloneOverwrite, true, true, true, true},
		{api.Mode("DROP"), false, false, false, false},
	}
	for _, tt := range tests {
		if got := tt.mode.Valid(); got != tt.valid {
			t.Fatalf("%s Valid()=%v", tt.mode, got)
		}
		if got := tt.mode.IsClone(); got != tt.clone {
			t.Fatalf("%s IsClone()=%v", tt.mode, got)
		}
		if got := tt.mode.Creates(); got != tt.creates {
			t.Fatalf("%s Creates()=%v", tt.mode, got)
		}
		if got := tt.mode.Overwrites(); got != tt.overwrites {
			t.Fatalf("%s Overwrites()=%v", tt.mode, got)
		}
	}
}

func TestDecodeErrorBody(t *testing.T) {
	t.Parallel()

	envelope, result, err := api.DecodeErrorBody([]byte(`{"error":"unauthorized","detail":"bad token"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error != "unauthorized" || result != nil {
		t.Fatalf("unexpected decode: %+v %+v", envelope, result)
	}

	envelope, result, err = api.DecodeErrorBody([]byte(`{"aborted":true,"version":4,"problems":[{"error_code":"DATABASE_EXISTS","message":"exists","is_error":true}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result == nil || !result.Aborted || result.Version != 4 || len(result.ErrorProblems()) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if envelope.Error != "" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestRelationKeepsIntegerPrecision(t *testing.T) {
	t.Parallel()

	body := `{"aborted":true,"version":2,"output":[{"rel_key":{"name":"big","keys":[],"values":["Int64"]},"columns":[[9007199254740993,1.5,"x",[7]]]}]}`
	_, result, err := api.DecodeErrorBody([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result == nil || len(result.Output) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	want := []any{int64(9007199254740993), 1.5, "x", []any{int64(7)}}
	if got := result.Output[0].Columns[0]; !reflect.DeepEqual(got, want) {
		t.Fatalf("columns = %#v, want %#v", got, want)
	}
}

func TestRelationRows(t *testing.T) {
	t.Parallel()

	rel := api.Relation{Columns: [][]any{{1.0, 2.0}, {"a", "b"}}}
	rows := rel.Rows()
	want := [][]any{{1.0, "a"}, {2.0, "b"}}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows=%v, want %v", rows, want)
	}
}
