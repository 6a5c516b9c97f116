package relsdk

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestResolveOTLPTarget(t *testing.T) {
	cases := []struct {
		in       string
		protocol string
		endpoint string
		path     string
		insecure bool
	}{
		{"collector", "grpc", "collector:4317", "", true},
		{"collector:9000", "grpc", "collector:9000", "", true},
		{"grpcs://collector", "grpc", "collector:4317", "", false},
		{"http://collector", "http", "collector:4318", "", true},
		{"https://collector:443/v1/traces", "http", "collector:443", "/v1/traces", false},
	}
	for _, tc := range cases {
		got, err := resolveOTLPTarget(tc.in)
		if err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if got.protocol != tc.protocol || got.endpoint != tc.endpoint || got.path != tc.path || got.insecure != tc.insecure {
			t.Fatalf("%s: unexpected target %+v", tc.in, got)
		}
	}
	if _, err := resolveOTLPTarget("udp://collector"); err == nil {
		t.Fatal("expected unknown scheme error")
	}
}

func TestSetupTelemetryDisabled(t *testing.T) {
	tel, err := SetupTelemetry(context.Background(), TelemetryConfig{}, nil)
	if err != nil || tel != nil {
		t.Fatalf("expected nil telemetry, got %v %v", tel, err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil shutdown: %v", err)
	}
	if _, err := SetupTelemetry(context.Background(), TelemetryConfig{RuntimeMetrics: true}, nil); err == nil {
		t.Fatal("expected runtime metrics without listener to fail")
	}
}

func TestSetupTelemetryMetrics(t *testing.T) {
	ctx := context.Background()
	tel, err := SetupTelemetry(ctx, TelemetryConfig{ServiceName: "relsdk-test", MetricsListen: "127.0.0.1:0"}, nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(ctx) })

	ts := StartTestServer(t)
	if _, err := ts.Client.CreateDatabase(ctx, "db", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	resp, err := http.Get("http://" + tel.MetricsAddr().String() + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "relsdk_client_transactions") {
		t.Fatalf("client metrics missing from scrape:\n%s", body)
	}
}
