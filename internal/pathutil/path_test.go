package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandUserAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("RELSDK_TEST_DIR", "/srv/data")

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"~", home},
		{"~/token", filepath.Join(home, "token")},
		{"$RELSDK_TEST_DIR/x.json", "/srv/data/x.json"},
		{"relative/path", "relative/path"},
	}
	for _, tt := range tests {
		got, err := ExpandUserAndEnv(tt.in)
		if err != nil {
			t.Fatalf("ExpandUserAndEnv(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ExpandUserAndEnv(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("secret"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := ReadFile("token", path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "secret" {
		t.Fatalf("data=%q", data)
	}
	if _, err := ReadFile("token", ""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := ReadFile("token", filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
