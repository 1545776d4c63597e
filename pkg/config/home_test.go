package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-homedir"
)

func withUserHome(t *testing.T, dir string) {
	t.Helper()
	prev := homedir.DisableCache
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = prev })
	t.Setenv("HOME", dir)
	t.Setenv("USERPROFILE", dir)
}

func TestGetHome_EnvVar(t *testing.T) {
	ResetHome()
	t.Setenv("DROID_AGENT_HOME", "/custom/path")

	got := GetHome()
	if got != "/custom/path" {
		t.Errorf("GetHome() = %q, want %q", got, "/custom/path")
	}
}

func TestGetHome_EnvVarExpandsTilde(t *testing.T) {
	ResetHome()
	defer ResetHome()
	user := t.TempDir()
	withUserHome(t, user)
	t.Setenv("DROID_AGENT_HOME", "~/agent")

	if got, want := GetHome(), filepath.Join(user, "agent"); got != want {
		t.Errorf("GetHome() = %q, want %q", got, want)
	}
}

func TestGetHome_UserDir(t *testing.T) {
	ResetHome()
	defer ResetHome()
	user := t.TempDir()
	withUserHome(t, user)
	t.Setenv("DROID_AGENT_HOME", "")

	want := filepath.Join(user, ".droid-agent")
	if err := os.Mkdir(want, 0o755); err != nil {
		t.Fatal(err)
	}

	if got := GetHome(); got != want {
		t.Errorf("GetHome() = %q, want %q", got, want)
	}
}

func TestGetHome_FallbackToCwd(t *testing.T) {
	ResetHome()
	defer ResetHome()
	withUserHome(t, t.TempDir())
	t.Setenv("DROID_AGENT_HOME", "")

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if got := GetHome(); got != cwd {
		t.Errorf("GetHome() = %q, want cwd %q", got, cwd)
	}
}

func TestGetHome_Cached(t *testing.T) {
	ResetHome()
	t.Setenv("DROID_AGENT_HOME", "/first")

	first := GetHome()

	// Changing env must not affect the cached value
	t.Setenv("DROID_AGENT_HOME", "/second")
	second := GetHome()

	if first != second {
		t.Errorf("GetHome() not cached: first=%q, second=%q", first, second)
	}
}

func TestGetArtifactsAndLogsDir(t *testing.T) {
	ResetHome()
	t.Setenv("DROID_AGENT_HOME", "/test/home")

	if got, want := GetArtifactsDir(), filepath.Join("/test/home", "artifacts"); got != want {
		t.Errorf("GetArtifactsDir() = %q, want %q", got, want)
	}
	if got, want := GetLogsDir(), filepath.Join("/test/home", "logs"); got != want {
		t.Errorf("GetLogsDir() = %q, want %q", got, want)
	}
}

func TestGetDriversDir(t *testing.T) {
	ResetHome()
	t.Setenv("DROID_AGENT_HOME", "/test/home")

	tests := []struct {
		platform string
		want     string
	}{
		{"ios", filepath.Join("/test/home", "drivers", "ios")},
		{"android", filepath.Join("/test/home", "drivers", "android")},
	}

	for _, tt := range tests {
		ResetHome()
		t.Setenv("DROID_AGENT_HOME", "/test/home")

		got := GetDriversDir(tt.platform)
		if got != tt.want {
			t.Errorf("GetDriversDir(%q) = %q, want %q", tt.platform, got, tt.want)
		}
	}
}

func TestDefault_PathsUnderHome(t *testing.T) {
	ResetHome()
	t.Setenv("DROID_AGENT_HOME", "/srv/agent")
	defer ResetHome()

	cfg := Default()
	if cfg.Output.Dir != filepath.Join("/srv/agent", "artifacts") {
		t.Errorf("Output.Dir = %q", cfg.Output.Dir)
	}
	if cfg.Log.File != filepath.Join("/srv/agent", "logs", "droid-agent.log") {
		t.Errorf("Log.File = %q", cfg.Log.File)
	}
}
