package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/relsdk"
	"pkt.systems/relsdk/internal/version"
)

func newTestRootCommand(t *testing.T, args ...string) (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	viper.Reset()
	t.Setenv("RELSDK_CONFIG_DIR", t.TempDir())
	t.Setenv("RELCTL_CONFIG", "")
	cmd := newRootCommand(pslog.NoopLogger())
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	return cmd, &stdout, &stderr
}

func executeRootCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd, stdout, stderr := newTestRootCommand(t, args...)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// startServer returns a test server and the connection flags for it.
func startServer(t *testing.T, opts ...relsdk.TestServerOption) (*relsdk.TestServer, []string) {
	t.Helper()
	ts := relsdk.StartTestServer(t, append([]relsdk.TestServerOption{relsdk.WithoutTestClient()}, opts...)...)
	return ts, []string{"--server", ts.URL()}
}

func run(t *testing.T, conn []string, args ...string) string {
	t.Helper()
	stdout, stderr, err := executeRootCommand(t, append(append([]string(nil), conn...), args...)...)
	if err != nil {
		t.Fatalf("relctl %s: %v (stderr %q)", strings.Join(args, " "), err, stderr)
	}
	return stdout
}

func TestVersionCommand(t *testing.T) {
	stdout, stderr, err := executeRootCommand(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if stderr != "" {
		t.Fatalf("expected empty stderr, got %q", stderr)
	}
	if want := version.Module() + " " + version.Current() + "\n"; stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
	stdout, _, err = executeRootCommand(t, "version", "--semver")
	if err != nil || stdout != version.Semver()+"\n" {
		t.Fatalf("version --semver: %q %v", stdout, err)
	}
	if _, _, err := executeRootCommand(t, "version", "--version", "--semver"); err == nil {
		t.Fatal("expected error when both --version and --semver are set")
	}
}

func TestConfigFileSuppliesServer(t *testing.T) {
	ts, _ := startServer(t, relsdk.WithTestBearerToken("tok"))
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "relctl.yaml")
	doc := "server: " + ts.URL() + "\ntoken: tok\ntimeout: 5s\n"
	if err := os.WriteFile(cfgPath, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	out := run(t, []string{"--config", cfgPath}, "db", "create", "mydb")
	if out != "created mydb at version 1\n" {
		t.Fatalf("unexpected output %q", out)
	}
	if _, _, err := executeRootCommand(t, "--server", ts.URL(), "db", "ping", "mydb"); err == nil {
		t.Fatal("expected unauthorized without token")
	}
	if _, _, err := executeRootCommand(t, "--config", filepath.Join(dir, "missing.yaml"), "version"); err == nil {
		t.Fatal("expected explicit missing config file to fail")
	}
}

func TestEnvironmentSuppliesServer(t *testing.T) {
	ts, _ := startServer(t)
	t.Setenv("RELCTL_SERVER", ts.URL())
	out, _, err := executeRootCommand(t, "db", "create", "envdb")
	if err != nil || out != "created envdb at version 1\n" {
		t.Fatalf("unexpected result %q %v", out, err)
	}
}

func TestInvalidConnectionSettings(t *testing.T) {
	if _, _, err := executeRootCommand(t, "--server", "ftp://host", "db", "ping", "x"); err == nil {
		t.Fatal("expected bad scheme error")
	}
	if _, _, err := executeRootCommand(t, "--token", "a", "--token-file", "/tmp/x", "db", "ping", "x"); err == nil {
		t.Fatal("expected token conflict error")
	}
}
