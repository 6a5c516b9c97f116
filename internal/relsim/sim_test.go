package relsim

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"pkt.systems/relsdk/api"
)

func txFor(db string, mode api.Mode, readOnly bool, version int64, actions ...api.Action) *api.Transaction {
	tx := &api.Transaction{Type: "Transaction", DBName: db, Mode: mode, ReadOnly: readOnly, Version: version}
	for _, a := range actions {
		tx.Actions = append(tx.Actions, api.LabeledAction{Name: "t", Action: a})
	}
	return tx
}

func query(src string, outputs ...string) api.QueryAction {
	return api.QueryAction{Source: api.Source{Type: "Source", Name: "query", Value: src}, Outputs: outputs}
}

func mustCreate(t *testing.T, s *Sim, db string) int64 {
	t.Helper()
	status, res := s.Execute(context.Background(), txFor(db, api.ModeCreate, false, 0))
	if status != http.StatusOK || res.Aborted {
		t.Fatalf("create %s: status %d result %+v", db, status, res)
	}
	return res.Version
}

func TestCreateOpenLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	status, res := s.Execute(ctx, txFor("db", api.ModeOpen, true, 0))
	if status != http.StatusUnprocessableEntity || !res.Aborted {
		t.Fatalf("open missing: status %d aborted %v", status, res.Aborted)
	}
	if v := mustCreate(t, s, "db"); v != 1 {
		t.Fatalf("expected version 1 after create, got %d", v)
	}
	status, res = s.Execute(ctx, txFor("db", api.ModeCreate, false, 1))
	if status != http.StatusUnprocessableEntity || !res.Aborted {
		t.Fatalf("second create: status %d aborted %v", status, res.Aborted)
	}
	if len(res.Problems) != 1 || res.Problems[0].ErrorCode != CodeDatabaseExists {
		t.Fatalf("unexpected problems %+v", res.Problems)
	}
	status, res = s.Execute(ctx, txFor("db", api.ModeCreateOverwrite, false, 1))
	if status != http.StatusOK || res.Version != 2 {
		t.Fatalf("overwrite: status %d version %d", status, res.Version)
	}
	status, res = s.Execute(ctx, txFor("db", api.ModeOpen, true, 2))
	if status != http.StatusOK || res.Version != 2 {
		t.Fatalf("readonly open must not bump: status %d version %d", status, res.Version)
	}
}

func TestStaleVersion(t *testing.T) {
	s := New()
	mustCreate(t, s, "db")
	status, res := s.Execute(context.Background(), txFor("db", api.ModeOpen, true, 7))
	if status != http.StatusConflict || !res.Aborted {
		t.Fatalf("expected 409 aborted, got %d %+v", status, res)
	}
	if res.Version != 1 || res.Problems[0].ErrorCode != CodeStaleVersion {
		t.Fatalf("unexpected stale result %+v", res)
	}
}

func TestQueryEvaluation(t *testing.T) {
	s := New()
	mustCreate(t, s, "db")
	ctx := context.Background()

	_, res := s.Execute(ctx, txFor("db", api.ModeOpen, true, 1, query("def bar = 2\ndef output = \"hi\"", "bar")))
	if res.Aborted || len(res.Problems) != 0 {
		t.Fatalf("unexpected failure %+v", res)
	}
	out := res.Actions[0].Result.Output
	if len(out) != 1 || out[0].Columns[0][0] != int64(2) {
		t.Fatalf("unexpected output %+v", out)
	}
	if len(res.Output) != 1 || res.Output[0].Columns[0][0] != "hi" {
		t.Fatalf("unexpected top-level output %+v", res.Output)
	}

	_, res = s.Execute(ctx, txFor("db", api.ModeOpen, false, 1,
		query("def insert[:foo] = {(1,);(2,);(3,)}\ndef insert[:foo] = \"Hi\""),
		api.ListEdbAction{},
		api.CardinalityAction{RelName: "foo"},
	))
	if res.Aborted || res.Version != 2 {
		t.Fatalf("insert failed %+v", res)
	}
	rels := res.Actions[1].Result.Rels
	if len(rels) != 2 {
		t.Fatalf("expected two foo relations, got %+v", rels)
	}
	if got := res.Actions[2].Result.Result[0].Columns[0][0]; got != int64(4) {
		t.Fatalf("expected cardinality 4, got %v", got)
	}

	_, res = s.Execute(ctx, txFor("db", api.ModeOpen, false, 2, query("def delete[:foo] = 2\ndef x = foo", "x")))
	if got := len(res.Actions[0].Result.Output); got != 2 {
		t.Fatalf("expected foo in two signatures before delete applies, got %d", got)
	}
	_, res = s.Execute(ctx, txFor("db", api.ModeOpen, true, 3, api.CardinalityAction{RelName: "foo"}))
	if got := res.Actions[0].Result.Result[0].Columns[0][0]; got != int64(3) {
		t.Fatalf("expected cardinality 3 after delete, got %v", got)
	}
}

func TestProblemsAndConstraints(t *testing.T) {
	s := New()
	mustCreate(t, s, "db")
	ctx := context.Background()

	status, res := s.Execute(ctx, txFor("db", api.ModeOpen, true, 1, query("def p =", "p")))
	if status != http.StatusOK || res.Aborted || len(res.Problems) == 0 {
		t.Fatalf("parse error should be a non-fatal problem: %d %+v", status, res)
	}
	if res.Problems[0].ErrorCode != CodeParseError {
		t.Fatalf("unexpected problem %+v", res.Problems[0])
	}

	status, res = s.Execute(ctx, txFor("db", api.ModeOpen, true, 1, query("ic {}", "p")))
	if status != http.StatusUnprocessableEntity || !res.Aborted {
		t.Fatalf("violated constraint should abort: %d %+v", status, res)
	}

	status, res = s.Execute(ctx, txFor("db", api.ModeOpen, true, 1, query("def insert[:foo] = 1")))
	if status != http.StatusUnprocessableEntity || res.Problems[0].ErrorCode != CodeReadOnlyWrite {
		t.Fatalf("readonly insert should abort: %d %+v", status, res)
	}
	if v, _ := s.Version("db"); v != 1 {
		t.Fatalf("aborted transactions must not bump version, got %d", v)
	}
}

func TestReadOnlyRejectsMutatingActions(t *testing.T) {
	s := New()
	mustCreate(t, s, "db")
	ctx := context.Background()

	cases := []struct {
		name   string
		action api.Action
		reject bool
	}{
		{"install", api.InstallAction{Sources: []api.Source{{Name: "lib", Value: "def five = 5"}}}, true},
		{"modify workspace", api.ModifyWorkspaceAction{DeleteSource: []string{"lib"}}, true},
		{"load data", api.LoadDataAction{Rel: "doc", Value: api.LoadData{ContentType: "application/json", Data: `{"a":1}`}}, true},
		{"query", query("def x = 1", "x"), false},
		{"list source", api.ListSourceAction{}, false},
		{"list edb", api.ListEdbAction{}, false},
		{"cardinality", api.CardinalityAction{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, res := s.Execute(ctx, txFor("db", api.ModeOpen, true, 1, tc.action))
			if !tc.reject {
				if status != http.StatusOK || res.Aborted {
					t.Fatalf("expected success: %d %+v", status, res)
				}
				return
			}
			if status != http.StatusUnprocessableEntity || !res.Aborted || res.Problems[0].ErrorCode != CodeReadOnlyWrite {
				t.Fatalf("expected readonly abort: %d %+v", status, res)
			}
		})
	}
	if v, _ := s.Version("db"); v != 1 {
		t.Fatalf("readonly transactions must not bump version, got %d", v)
	}
}

func TestSourcesAndClone(t *testing.T) {
	s := New()
	mustCreate(t, s, "db")
	ctx := context.Background()

	_, res := s.Execute(ctx, txFor("db", api.ModeOpen, false, 1,
		api.InstallAction{Sources: []api.Source{{Name: "lib", Path: "lib", Value: "def five = 5"}}}))
	if res.Aborted || res.Version != 2 {
		t.Fatalf("install failed %+v", res)
	}
	_, res = s.Execute(ctx, txFor("db", api.ModeOpen, true, 2, query("def ten = five", "ten"), api.ListSourceAction{}))
	if got := res.Actions[0].Result.Output[0].Columns[0][0]; got != int64(5) {
		t.Fatalf("installed definition not visible, got %v", got)
	}
	if got := len(res.Actions[1].Result.Sources); got != 2 {
		t.Fatalf("expected stdlib and lib sources, got %d", got)
	}

	clone := txFor("copy", api.ModeClone, false, 0)
	clone.SourceDBName = api.StringPtr("db")
	if status, res := s.Execute(ctx, clone); status != http.StatusOK || res.Version != 1 {
		t.Fatalf("clone: %d %+v", status, res)
	}
	_, res = s.Execute(ctx, txFor("copy", api.ModeOpen, true, 1, api.ListSourceAction{}))
	if got := len(res.Actions[0].Result.Sources); got != 2 {
		t.Fatalf("clone should carry sources, got %d", got)
	}

	_, res = s.Execute(ctx, txFor("db", api.ModeOpen, false, 2, api.ModifyWorkspaceAction{DeleteSource: []string{"lib"}}))
	_, res = s.Execute(ctx, txFor("db", api.ModeOpen, true, res.Version, api.ListSourceAction{}))
	if got := len(res.Actions[0].Result.Sources); got != 1 {
		t.Fatalf("expected only stdlib after delete, got %d", got)
	}
}

func TestLoadData(t *testing.T) {
	s := New()
	mustCreate(t, s, "db")
	ctx := context.Background()

	_, res := s.Execute(ctx, txFor("db", api.ModeOpen, false, 1,
		api.LoadDataAction{Rel: "doc", Value: api.LoadData{ContentType: "application/json", Data: `{"a":1,"b":[true,"x"]}`}},
		api.LoadDataAction{Rel: "csv", Value: api.LoadData{ContentType: "text/csv", Data: "name,age\nann,31\nbob,42\n"}},
	))
	if res.Aborted {
		t.Fatalf("load aborted %+v", res)
	}
	_, res = s.Execute(ctx, txFor("db", api.ModeOpen, true, 2, api.CardinalityAction{}))
	counts := map[string]any{}
	for _, rel := range res.Actions[0].Result.Result {
		counts[rel.RelKey.Name] = rel.Columns[0][0]
	}
	if counts["doc"] != int64(3) || counts["csv"] != int64(4) {
		t.Fatalf("unexpected counts %v", counts)
	}

	status, res := s.Execute(ctx, txFor("db", api.ModeOpen, false, 2,
		api.LoadDataAction{Rel: "bad", Value: api.LoadData{ContentType: "application/json", Data: "{"}}))
	if status != http.StatusUnprocessableEntity || res.Problems[0].ErrorCode != CodeLoadError {
		t.Fatalf("bad json should abort: %d %+v", status, res)
	}
}

func TestHandlerStaleBody(t *testing.T) {
	s := New(WithBearerToken("secret"))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	post := func(tx *api.Transaction, token string) (*http.Response, []byte) {
		t.Helper()
		body, _ := json.Marshal(tx)
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/transaction", bytes.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set(headerCorrelationID, "cid-1")
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(resp.Body)
		return resp, buf.Bytes()
	}

	if resp, _ := post(txFor("db", api.ModeCreate, false, 0), ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if resp, _ := post(txFor("db", api.ModeCreate, false, 0), "secret"); resp.StatusCode != http.StatusOK {
		t.Fatalf("create: %d", resp.StatusCode)
	}
	resp, data := post(txFor("db", api.ModeOpen, true, 9), "secret")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get(headerCorrelationID); got != "cid-1" {
		t.Fatalf("correlation id not echoed: %q", got)
	}
	envelope, result, err := api.DecodeErrorBody(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error != CodeStaleVersion || envelope.CurrentVersion != 1 || result == nil || !result.Aborted {
		t.Fatalf("unexpected stale body %s", data)
	}
}

func TestComputeAndDatabaseAdmin(t *testing.T) {
	s := New()
	mustCreate(t, s, "db")

	c, err := s.createCompute(api.CreateComputeRequest{Name: "c1", Size: "XS", Region: "us-east"})
	if err != nil || c.ID == "" || c.State != "PROVISIONED" {
		t.Fatalf("create compute: %+v %v", c, err)
	}
	if _, err := s.createCompute(api.CreateComputeRequest{Name: "c1"}); err == nil {
		t.Fatalf("expected duplicate compute error")
	}
	events, err := s.computeEvents(c.ID)
	if err != nil || len(events) != 2 {
		t.Fatalf("events: %+v %v", events, err)
	}
	db, err := s.updateDatabase(api.UpdateDatabaseRequest{Name: "db", DefaultComputeName: "c1"})
	if err != nil || db.DefaultComputeName != "c1" {
		t.Fatalf("update database: %+v %v", db, err)
	}
	if _, err := s.deleteCompute(api.DeleteComputeRequest{Name: "c1"}); err != nil {
		t.Fatalf("delete compute: %v", err)
	}
	if got := s.listDatabases(nil, nil); len(got) != 1 || got[0].DefaultComputeName != "" {
		t.Fatalf("deleting a compute should clear database defaults: %+v", got)
	}
}
