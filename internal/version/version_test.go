package version_test

import (
	"runtime"
	"strings"
	"testing"

	"github.com/edumarques81/stellar-jukebox/internal/version"
)

func TestGetInfo(t *testing.T) {
	info := version.GetInfo()

	if info.Name != version.Name || info.Version != version.Version {
		t.Errorf("unexpected info %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("expected go version %s, got %s", runtime.Version(), info.GoVersion)
	}
}

func TestGetInfoPrefersLinkerValues(t *testing.T) {
	commit, built := version.GitCommit, version.BuildTime
	t.Cleanup(func() { version.GitCommit, version.BuildTime = commit, built })

	version.GitCommit = "0123456789abcdef"
	version.BuildTime = "2026-01-02T03:04:05Z"

	info := version.GetInfo()
	if info.GitCommit != "0123456789abcdef" || info.BuildTime != "2026-01-02T03:04:05Z" {
		t.Errorf("ldflags values should win, got %+v", info)
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		name string
		info version.Info
		want string
	}{
		{"bare", version.Info{Name: "Stellar Jukebox", Version: "1.0.0"}, "Stellar Jukebox v1.0.0"},
		{"short commit", version.Info{Name: "J", Version: "1", GitCommit: "abc"}, "J v1 (abc)"},
		{"long commit", version.Info{Name: "J", Version: "1", GitCommit: "0123456789"}, "J v1 (0123456)"},
		{"built", version.Info{Name: "J", Version: "1", BuildTime: "today"}, "J v1 built today"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}

	if s := version.GetInfo().String(); !strings.HasPrefix(s, version.Name) {
		t.Errorf("String() should start with the name, got %s", s)
	}
}
