package version

import (
	"runtime/debug"
	"testing"
)

func TestFillFromBuildInfo(t *testing.T) {
	t.Parallel()
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	var info Info
	fillFromBuildInfo(&info, bi)
	if info.Version != "v1.2.3" || info.Commit != "0123456789abcdef0123" || info.BuildTime != "2026-01-02T03:04:05Z" || !info.Modified {
		t.Fatalf("info = %+v", info)
	}

	pinned := Info{Version: "v9", Commit: "abc"}
	fillFromBuildInfo(&pinned, bi)
	if pinned.Version != "v9" || pinned.Commit != "abc" {
		t.Fatalf("ldflags values overwritten: %+v", pinned)
	}
}

func TestFillFromBuildInfoDevel(t *testing.T) {
	t.Parallel()
	var info Info
	fillFromBuildInfo(&info, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	if info.Version != "" {
		t.Fatalf("version = %q", info.Version)
	}
}

func TestShortCommit(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"", ""},
		{"abc", "abc"},
		{"0123456789abcdef", "0123456789ab"},
	}
	for _, tc := range tests {
		if got := shortCommit(tc.in); got != tc.want {
			t.Fatalf("shortCommit(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
