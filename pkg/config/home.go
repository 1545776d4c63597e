package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/go-homedir"
)

const (
	envHome = "DROID_AGENT_HOME"

	// userHomeDir is the per-user install location under the OS home directory.
	userHomeDir = ".droid-agent"
)

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the droid-agent home directory, resolved once per process.
//
// Resolution order:
//  1. $DROID_AGENT_HOME, with a leading ~ expanded
//  2. <home> when the binary lives in <home>/bin
//  3. ~/.droid-agent when that directory exists
//  4. the current working directory
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetArtifactsDir returns <home>/artifacts, the default task output root.
func GetArtifactsDir() string {
	return filepath.Join(GetHome(), "artifacts")
}

// GetLogsDir returns <home>/logs.
func GetLogsDir() string {
	return filepath.Join(GetHome(), "logs")
}

// GetDriversDir returns <home>/drivers/<platform>, where the uiautomator2
// server APKs are looked up.
func GetDriversDir(platform string) string {
	return filepath.Join(GetHome(), "drivers", platform)
}

func resolveHome() string {
	if env := os.Getenv(envHome); env != "" {
		if expanded, err := homedir.Expand(env); err == nil {
			return filepath.Clean(expanded)
		}
		return env
	}

	if home, ok := binaryHome(); ok {
		return home
	}

	if home, ok := userHome(); ok {
		return home
	}

	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

func binaryHome() (string, bool) {
	execPath, err := os.Executable()
	if err != nil {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
		execPath = resolved
	}
	binDir := filepath.Dir(execPath)
	if filepath.Base(binDir) != "bin" {
		return "", false
	}
	return filepath.Dir(binDir), true
}

func userHome() (string, bool) {
	dir, err := homedir.Dir()
	if err != nil {
		return "", false
	}
	home := filepath.Join(dir, userHomeDir)
	if info, err := os.Stat(home); err != nil || !info.IsDir() {
		return "", false
	}
	return home, true
}

// ResetHome drops the cached home directory. Tests only.
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
