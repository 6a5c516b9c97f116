package txn_test

import (
	"sync"
	"testing"

	"pkt.systems/relsdk/api"
	"pkt.systems/relsdk/txn"
)

func TestBuildInstallSourceFromFreshTracker(t *testing.T) {
	t.Parallel()

	b := txn.NewBuilder(nil)
	la, err := txn.InstallAction("t", "src.rel", "def foo = 1", "")
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	tx, err := b.Build(txn.Request{Database: "db", Actions: []api.LabeledAction{la}, Mode: api.ModeOpen})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tx.Version != 0 || tx.Mode != api.ModeOpen || tx.ReadOnly {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if len(tx.Actions) != 1 || tx.Actions[0].Name != "t" || tx.Actions[0].Action.Kind() != api.KindInstall {
		t.Fatalf("unexpected actions %+v", tx.Actions)
	}
	if tx.ComputeName != nil || tx.SourceDBName != nil {
		t.Fatalf("expected nil optional names")
	}
}

func TestBuildStampsTrackedVersion(t *testing.T) {
	t.Parallel()

	tracker := txn.NewVersionTracker()
	b := txn.NewBuilder(tracker)
	b.ApplyVersion("db", 7)
	tx, err := b.Build(txn.Request{Database: "db", ReadOnly: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tx.Version != 7 {
		t.Fatalf("version=%d, want 7", tx.Version)
	}
	other, err := b.Build(txn.Request{Database: "other"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if other.Version != 0 {
		t.Fatalf("version=%d, want 0", other.Version)
	}
}

func TestBuildValidation(t *testing.T) {
	t.Parallel()

	b := txn.NewBuilder(nil)
	tests := []struct {
		name string
		req  txn.Request
	}{
		{"missing database", txn.Request{}},
		{"unknown mode", txn.Request{Database: "db", Mode: "DROP"}},
		{"clone without source", txn.Request{Database: "db", Mode: api.ModeClone}},
		{"clone overwrite without source", txn.Request{Database: "db", Mode: api.ModeCloneOverwrite}},
		{"source without clone", txn.Request{Database: "db", Mode: api.ModeCreate, SourceDatabase: "src"}},
		{"nil action", txn.Request{Database: "db", Actions: []api.LabeledAction{{Name: "x"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := b.Build(tt.req); !txn.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestBuildClone(t *testing.T) {
	t.Parallel()

	b := txn.NewBuilder(nil)
	tx, err := b.Build(txn.Request{Database: "clone", Mode: api.ModeClone, SourceDatabase: "src", Compute: "c1"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tx.Source() != "src" || tx.Compute() != "c1" {
		t.Fatalf("unexpected transaction %+v", tx)
	}
}

func TestApplyVersionIsMonotonic(t *testing.T) {
	t.Parallel()

	b := txn.NewBuilder(nil)
	if !b.ApplyVersion("db", 3) {
		t.Fatal("expected advance to 3")
	}
	if !b.ApplyResponse("db", &api.TransactionResult{Version: 5}) {
		t.Fatal("expected advance to 5")
	}
	if b.ApplyResponse("db", &api.TransactionResult{Version: 4}) {
		t.Fatal("expected no advance to 4")
	}
	if b.ApplyVersion("db", 5) {
		t.Fatal("expected no advance on equal version")
	}
	if b.ApplyResponse("db", nil) {
		t.Fatal("expected no advance on nil result")
	}
	if got := b.Tracker().Get("db"); got != 5 {
		t.Fatalf("version=%d, want 5", got)
	}
}

func TestApplyVersionConcurrentKeepsMaximum(t *testing.T) {
	t.Parallel()

	b := txn.NewBuilder(nil)
	var wg sync.WaitGroup
	for i := int64(1); i <= 200; i++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			b.ApplyVersion("db", v)
		}(i)
	}
	wg.Wait()
	if got := b.Tracker().Get("db"); got != 200 {
		t.Fatalf("version=%d, want 200", got)
	}
}

func TestVersionTrackerIsPlainCache(t *testing.T) {
	t.Parallel()

	tracker := txn.NewVersionTracker()
	if got := tracker.Get("missing"); got != 0 {
		t.Fatalf("unseen version=%d", got)
	}
	tracker.Set("db", 9)
	tracker.Set("db", 2)
	if got := tracker.Get("db"); got != 2 {
		t.Fatalf("version=%d, want 2", got)
	}
	if tracker.Len() != 1 || tracker.Snapshot()["db"] != 2 {
		t.Fatalf("unexpected snapshot %v", tracker.Snapshot())
	}
}
