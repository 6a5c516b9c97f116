package relsdk

import (
	"context"
	"testing"

	"pkt.systems/pslog"
)

func TestStartTestServerDefault(t *testing.T) {
	ts := StartTestServer(t, WithTestLoggerFromTB(t, pslog.InfoLevel))
	if ts.Client == nil {
		t.Fatal("expected auto client")
	}
	ctx := context.Background()
	if _, err := ts.Client.CreateDatabase(ctx, "db", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if v, ok := ts.Sim().Version("db"); !ok || v != 1 {
		t.Fatalf("expected simulated version 1, got %d (%v)", v, ok)
	}
	other, err := ts.NewClient()
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if other.Version("db") != 0 {
		t.Fatalf("new clients must start with an empty version cache")
	}
}

func TestStartTestServerWithoutClient(t *testing.T) {
	ts := StartTestServer(t, WithoutTestClient(), WithTestBearerToken("tok"))
	if ts.Client != nil {
		t.Fatal("expected no client")
	}
	cli, err := ts.NewClient()
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := cli.CreateDatabase(context.Background(), "db", false); err != nil {
		t.Fatalf("token should be forwarded: %v", err)
	}
}
