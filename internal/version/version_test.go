package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestPseudoVersionFromSettings(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.time", Value: "2026-03-04T05:06:07Z"},
		{Key: "vcs.modified", Value: "true"},
	}
	got := pseudoVersion(settings)
	want := "v0.0.0-20260304050607-0123456789ab+dirty"
	if got != want {
		t.Fatalf("pseudoVersion=%q, want %q", got, want)
	}
	if pseudoVersion(nil) != "" {
		t.Fatal("expected empty pseudo version without vcs settings")
	}
}

func TestBuildVersionOverride(t *testing.T) {
	prev := buildVersion
	t.Cleanup(func() { buildVersion = prev })
	buildVersion = "v1.2.3-rc1+meta"
	if Current() != "v1.2.3-rc1+meta" {
		t.Fatalf("Current()=%q", Current())
	}
	if Semver() != "v1.2.3" {
		t.Fatalf("Semver()=%q", Semver())
	}
	if !strings.HasPrefix(UserAgent(), "relsdk/v1.2.3") {
		t.Fatalf("UserAgent()=%q", UserAgent())
	}
}
