package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/relsdk/client"
)

func TestDBCommands(t *testing.T) {
	_, conn := startServer(t)
	if out := run(t, conn, "db", "create", "mydb"); out != "created mydb at version 1\n" {
		t.Fatalf("create: %q", out)
	}
	if _, _, err := executeRootCommand(t, append(conn, "db", "create", "mydb")...); err == nil {
		t.Fatal("expected second create to abort")
	}
	if out := run(t, conn, "db", "create", "mydb", "--overwrite"); out != "created mydb at version 2\n" {
		t.Fatalf("overwrite: %q", out)
	}
	if out := run(t, conn, "db", "clone", "mydb", "copy"); out != "cloned mydb to copy at version 1\n" {
		t.Fatalf("clone: %q", out)
	}
	if out := run(t, conn, "db", "ping", "mydb"); out != "mydb version 2\n" {
		t.Fatalf("ping: %q", out)
	}
	if _, _, err := executeRootCommand(t, append(conn, "db", "ping", "missing")...); err == nil {
		t.Fatal("expected ping of a missing database to fail")
	}
}

func TestSourceQueryAndEDB(t *testing.T) {
	_, conn := startServer(t)
	run(t, conn, "db", "create", "mydb")
	dir := t.TempDir()
	model := filepath.Join(dir, "model.rel")
	if err := os.WriteFile(model, []byte("def answer = 42\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if out := run(t, conn, "source", "install", "mydb", model); !strings.Contains(out, "at version 2") {
		t.Fatalf("install: %q", out)
	}
	out := run(t, conn, "source", "list", "mydb")
	if !strings.Contains(out, "model\t") {
		t.Fatalf("list: %q", out)
	}

	out = run(t, conn, "query", "mydb", "def output = answer")
	if !strings.Contains(out, "42") {
		t.Fatalf("query text: %q", out)
	}
	out = run(t, conn, "query", "mydb", "def output = answer", "--format", "json")
	if !strings.Contains(out, `"aborted": false`) || !strings.Contains(out, `"version": 2`) {
		t.Fatalf("query json: %q", out)
	}
	out = run(t, conn, "query", "mydb", "def output = answer", "-o", "yaml")
	if !strings.Contains(out, "aborted: false") {
		t.Fatalf("query yaml: %q", out)
	}
	if _, _, err := executeRootCommand(t, append(conn, "query", "mydb", "def x = 1", "--format", "xml")...); err == nil {
		t.Fatal("expected bad format error")
	}

	run(t, conn, "query", "mydb", "def insert[:k] = 7", "--write")
	if out := run(t, conn, "edb", "list", "mydb"); !strings.Contains(out, "k(") {
		t.Fatalf("edb list: %q", out)
	}
	if out := run(t, conn, "cardinality", "mydb", "k"); out != "k\t1\n" {
		t.Fatalf("cardinality: %q", out)
	}

	if out := run(t, conn, "source", "delete", "mydb", "model"); !strings.Contains(out, "deleted model") {
		t.Fatalf("delete: %q", out)
	}
	if out := run(t, conn, "source", "list", "mydb"); strings.Contains(out, "model") {
		t.Fatalf("source still listed: %q", out)
	}
}

func TestQueryFromStdinAndFile(t *testing.T) {
	_, conn := startServer(t)
	run(t, conn, "db", "create", "mydb")
	cmd, stdout, _ := newTestRootCommand(t, append(conn, "query", "mydb")...)
	cmd.SetIn(strings.NewReader(`def output = "from stdin"`))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("stdin query: %v", err)
	}
	if !strings.Contains(stdout.String(), "from stdin") {
		t.Fatalf("stdin output %q", stdout.String())
	}
	file := filepath.Join(t.TempDir(), "q.rel")
	if err := os.WriteFile(file, []byte(`def output = "from file"`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if out := run(t, conn, "query", "mydb", "-f", file); !strings.Contains(out, "from file") {
		t.Fatalf("file output %q", out)
	}
}

func TestLoadCommand(t *testing.T) {
	_, conn := startServer(t)
	run(t, conn, "db", "create", "mydb")
	csv := filepath.Join(t.TempDir(), "people.csv")
	if err := os.WriteFile(csv, []byte("name,age\nada,36\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if out := run(t, conn, "load", "mydb", "people", "--from", csv); out != "loaded people at version 2\n" {
		t.Fatalf("load from: %q", out)
	}
	if out := run(t, conn, "cardinality", "mydb", "people"); out != "people\t2\n" {
		t.Fatalf("cardinality: %q", out)
	}
	if out := run(t, conn, "load", "mydb", "doc", "--data", `{"a":1}`, "--content-type", "application/json"); out != "loaded doc at version 3\n" {
		t.Fatalf("load data: %q", out)
	}
	if _, _, err := executeRootCommand(t, append(conn, "load", "mydb", "doc", "--data", "x")...); err == nil {
		t.Fatal("expected missing content type error")
	}
	if _, _, err := executeRootCommand(t, append(conn, "load", "mydb", "doc")...); err == nil {
		t.Fatal("expected missing source error")
	}
}

func TestComputeAndDatabaseCommands(t *testing.T) {
	_, conn := startServer(t)
	run(t, conn, "db", "create", "mydb")
	out := run(t, conn, "compute", "create", "c1")
	if !strings.Contains(out, "c1") || !strings.Contains(out, "PROVISIONED") {
		t.Fatalf("compute create: %q", out)
	}
	if out := run(t, conn, "compute", "list", "--name", "c1"); !strings.Contains(out, "c1") {
		t.Fatalf("compute list: %q", out)
	}
	if out := run(t, conn, "database", "update", "mydb", "--default-compute", "c1"); out != "mydb default compute c1\n" {
		t.Fatalf("database update: %q", out)
	}
	if out := run(t, conn, "database", "list", "-o", "json"); !strings.Contains(out, `"default_compute_name": "c1"`) {
		t.Fatalf("database list: %q", out)
	}
	if out := run(t, conn, "database", "update", "mydb", "--remove-default-compute"); out != "mydb default compute (none)\n" {
		t.Fatalf("remove default: %q", out)
	}
	if out := run(t, conn, "compute", "delete", "c1"); out != "deleted c1\n" {
		t.Fatalf("compute delete: %q", out)
	}
	_, _, err := executeRootCommand(t, append(conn, "--local-server", "compute", "list")...)
	if err == nil || !strings.Contains(err.Error(), "not available on a local server") {
		t.Fatalf("expected local server rejection, got %v", err)
	}
}

func TestSourceWatchReinstalls(t *testing.T) {
	ts, conn := startServer(t)
	run(t, conn, "db", "create", "mydb")
	file := filepath.Join(t.TempDir(), "live.rel")
	if err := os.WriteFile(file, []byte("def a = 1"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	observer, err := ts.NewClient()
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	installed := func(want string) bool {
		res, err := observer.ListSources(context.Background(), "mydb")
		if err != nil {
			return false
		}
		for _, src := range res.Actions[0].Result.Sources {
			if src.Name == "live" && src.Value == want {
				return true
			}
		}
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd, _, _ := newTestRootCommand(t, append(conn, "source", "watch", "mydb", file, "--debounce", "10ms")...)
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	waitFor(t, func() bool { return installed("def a = 1") })
	if err := os.WriteFile(file, []byte("def a = 2"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	waitFor(t, func() bool { return installed("def a = 2") })
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDevServer(t *testing.T) {
	cmd, _, _ := newTestRootCommand(t, "dev-server", "--listen", "127.0.0.1:0", "--token", "tok")
	var stdout syncBuffer
	cmd.SetOut(&stdout)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	var url string
	waitFor(t, func() bool {
		line := stdout.String()
		if !strings.HasPrefix(line, "listening on ") {
			return false
		}
		url = strings.TrimSpace(strings.TrimPrefix(line, "listening on "))
		return true
	})
	c, err := client.New(url, client.WithBearerToken("tok"), client.WithLocalServer(true))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer c.Close()
	res, err := c.CreateDatabase(ctx, "dev", false)
	if err != nil || res.Version != 1 {
		t.Fatalf("create on dev server: %+v %v", res, err)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("dev-server returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dev-server did not stop")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
