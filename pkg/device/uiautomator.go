package device

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// UIAutomator2 package names
const (
	UIAutomator2Server = "io.appium.uiautomator2.server"
	UIAutomator2Test   = "io.appium.uiautomator2.server.test"
)

// Port range for TCP forwarding (Windows)
const (
	portRangeStart = 6001
	portRangeEnd   = 7001
)

// UIAutomator2Config holds configuration for the UIAutomator2 server.
type UIAutomator2Config struct {
	SocketPath string        // Unix socket path (Linux/Mac only, default: /tmp/droid-agent-<serial>.sock)
	LocalPort  int           // TCP port (Windows only, default: auto-find free port)
	DevicePort int           // Port on device (default: 6790)
	Timeout    time.Duration // Startup timeout (default: 30s)
	UseTCP     bool          // Force TCP forwarding on any OS
}

// DefaultUIAutomator2Config returns default configuration.
func DefaultUIAutomator2Config() UIAutomator2Config {
	return UIAutomator2Config{
		DevicePort: 6790,
		Timeout:    30 * time.Second,
		UseTCP:     runtime.GOOS == "windows",
	}
}

// StartUIAutomator2 starts the UIAutomator2 server on the device and waits for it to answer.
func (d *AndroidDevice) StartUIAutomator2(ctx context.Context, cfg UIAutomator2Config) error {
	if !d.IsInstalled(ctx, UIAutomator2Server) {
		return fmt.Errorf("UIAutomator2 server not installed: %s", UIAutomator2Server)
	}
	if !d.IsInstalled(ctx, UIAutomator2Test) {
		return fmt.Errorf("UIAutomator2 test APK not installed: %s", UIAutomator2Test)
	}

	// Stop any existing instance
	d.StopUIAutomator2(ctx)

	var err error
	if cfg.UseTCP {
		err = d.setupTCPForward(ctx, cfg)
	} else {
		err = d.setupSocketForward(ctx, cfg)
	}
	if err != nil {
		return err
	}

	// nohup keeps the instrumentation alive after the adb shell exits
	instrumentCmd := fmt.Sprintf(
		"nohup am instrument -w -e disableAnalytics true "+
			"%s/androidx.test.runner.AndroidJUnitRunner "+
			"> /dev/null 2>&1 &",
		UIAutomator2Test,
	)
	if _, err := d.Shell(ctx, instrumentCmd); err != nil {
		return fmt.Errorf("failed to start instrumentation: %w", err)
	}

	if err := d.waitForUIAutomator2Ready(ctx, cfg.Timeout); err != nil {
		d.StopUIAutomator2(context.WithoutCancel(ctx))
		return err
	}

	d.logger.Info("uiautomator2 ready",
		zap.String("socket", d.socketPath), zap.Int("port", d.localPort))
	return nil
}

// setupSocketForward sets up Unix socket forwarding (Linux/Mac).
func (d *AndroidDevice) setupSocketForward(ctx context.Context, cfg UIAutomator2Config) error {
	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = d.DefaultSocketPath()
	}

	// Remove stale socket file
	os.Remove(socketPath)

	if err := d.ForwardSocket(ctx, socketPath, cfg.DevicePort); err != nil {
		return fmt.Errorf("socket forward failed: %w", err)
	}
	d.socketPath = socketPath
	return nil
}

// setupTCPForward sets up TCP port forwarding.
func (d *AndroidDevice) setupTCPForward(ctx context.Context, cfg UIAutomator2Config) error {
	localPort := cfg.LocalPort
	if localPort == 0 {
		port, err := findFreePort(portRangeStart, portRangeEnd)
		if err != nil {
			return err
		}
		localPort = port
	}

	if err := d.Forward(ctx, localPort, cfg.DevicePort); err != nil {
		return fmt.Errorf("port forward failed: %w", err)
	}
	d.localPort = localPort
	return nil
}

// findFreePort finds a free TCP port in the given range.
func findFreePort(start, end int) (int, error) {
	for port := start; port <= end; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			ln.Close()
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free port found in range %d-%d", start, end)
}

// StopUIAutomator2 stops the UIAutomator2 server and removes forwards. Errors are ignored.
func (d *AndroidDevice) StopUIAutomator2(ctx context.Context) {
	d.Shell(ctx, "am force-stop "+UIAutomator2Server)
	d.Shell(ctx, "am force-stop "+UIAutomator2Test)

	if d.socketPath != "" {
		d.RemoveSocketForward(ctx, d.socketPath)
		os.Remove(d.socketPath)
		d.socketPath = ""
	}
	if d.localPort != 0 {
		d.RemoveForward(ctx, d.localPort)
		d.localPort = 0
	}
}

// waitForUIAutomator2Ready polls the status endpoint until it answers or timeout elapses.
func (d *AndroidDevice) waitForUIAutomator2Ready(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		if d.checkHealth(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("UIAutomator2 server not ready after %v", timeout)
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// checkHealth checks if UIAutomator2 is responding.
func (d *AndroidDevice) checkHealth(ctx context.Context) bool {
	switch {
	case d.socketPath != "":
		return checkHealthWithClient(ctx, socketHTTPClient(d.socketPath), "http://localhost/status")
	case d.localPort != 0:
		return checkHealthWithClient(ctx, &http.Client{Timeout: 2 * time.Second},
			fmt.Sprintf("http://127.0.0.1:%d/status", d.localPort))
	}
	return false
}

func socketHTTPClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var dialer net.Dialer
				return dialer.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 2 * time.Second,
	}
}

// checkHealthWithClient performs health check using the given client and URL.
func checkHealthWithClient(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// InstallUIAutomator2 installs UIAutomator2 APKs from the given directory.
func (d *AndroidDevice) InstallUIAutomator2(ctx context.Context, apksDir string) error {
	apks := []struct {
		pkg     string
		pattern string
	}{
		{UIAutomator2Server, "appium-uiautomator2-server-v*.apk"},
		{UIAutomator2Test, "appium-uiautomator2-server-debug-androidTest.apk"},
	}

	for _, apk := range apks {
		if d.IsInstalled(ctx, apk.pkg) {
			continue
		}
		apkPath, err := findAPK(apksDir, apk.pattern)
		if err != nil {
			return fmt.Errorf("failed to find APK for %s: %w", apk.pkg, err)
		}
		if err := d.Install(ctx, apkPath); err != nil {
			return fmt.Errorf("failed to install %s: %w", apk.pkg, err)
		}
	}

	return nil
}

// findAPK finds an APK file matching the pattern in the given directory.
func findAPK(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no APK found matching %s", pattern)
	}
	return matches[0], nil
}
