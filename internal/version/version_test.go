package version

import (
	"strings"
	"testing"
)

func withBuild(t *testing.T, v, c, d string) {
	t.Helper()
	prev := [3]string{version, commit, date}
	t.Cleanup(func() { version, commit, date = prev[0], prev[1], prev[2] })
	version, commit, date = v, c, d
}

func TestCurrent_FromLdflags(t *testing.T) {
	withBuild(t, "1.4.0", "abc123", "2026-05-01")

	build := Current()
	if build.Version != "1.4.0" || build.Commit != "abc123" || build.Date != "2026-05-01" {
		t.Fatalf("unexpected build: %+v", build)
	}
	if build.GoVersion == "" {
		t.Fatal("go version comes from debug.BuildInfo and must be set under go test")
	}
	if got := String(); got != "version=1.4.0 commit=abc123 date=2026-05-01" {
		t.Fatalf("String() = %q", got)
	}
	if GetVersion() != "1.4.0" || GetCommit() != "abc123" {
		t.Fatalf("getters disagree with Current: %s %s", GetVersion(), GetCommit())
	}
	if UserAgent() != "storefront/1.4.0" {
		t.Fatalf("UserAgent() = %q", UserAgent())
	}
}

func TestGetCommit_WithoutLdflags(t *testing.T) {
	withBuild(t, "dev", "unknown", "unknown")

	// без vcs-сведений в BuildInfo остаётся значение по умолчанию
	if got := GetCommit(); got == "" {
		t.Fatal("commit must never be empty")
	}
	if !strings.HasPrefix(String(), "version=dev commit=") {
		t.Fatalf("String() = %q", String())
	}
}
