// Package device bootstraps an Android device over ADB: device discovery,
// port forwarding and the on-device uiautomator2 server.
package device

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Runner executes a host command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args, folding stderr into the error.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("%w: %s", err, errMsg)
	}
	return stdout.String(), nil
}

// AndroidDevice manages an Android device connection via ADB.
type AndroidDevice struct {
	serial     string
	adbPath    string
	runner     Runner
	logger     *zap.Logger
	socketPath string // Unix socket path for UIAutomator2 (Linux/Mac)
	localPort  int    // TCP port for UIAutomator2 (Windows)
}

// Info contains basic device information.
type Info struct {
	Serial     string `json:"serial"`
	Model      string `json:"model"`
	SDK        string `json:"sdk"`
	Brand      string `json:"brand"`
	IsEmulator bool   `json:"isEmulator"`
}

// Option configures an AndroidDevice.
type Option func(*AndroidDevice)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(d *AndroidDevice) { d.runner = r }
}

// WithADBPath sets the adb binary instead of looking it up in PATH.
func WithADBPath(path string) Option {
	return func(d *AndroidDevice) { d.adbPath = path }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *AndroidDevice) { d.logger = l }
}

// New creates an AndroidDevice for the given serial.
// If serial is empty, it auto-detects the connected device.
func New(ctx context.Context, serial string, opts ...Option) (*AndroidDevice, error) {
	d := &AndroidDevice{runner: ExecRunner{}, logger: zap.NewNop()}
	for _, o := range opts {
		o(d)
	}
	d.logger = d.logger.Named("device")

	if d.adbPath == "" {
		path, err := findADB()
		if err != nil {
			return nil, err
		}
		d.adbPath = path
	}

	if serial == "" {
		devices, err := listDevices(ctx, d.runner, d.adbPath)
		if err != nil {
			return nil, fmt.Errorf("no device specified and auto-detect failed: %w", err)
		}
		first, err := firstOnline(devices)
		if err != nil {
			return nil, fmt.Errorf("no device specified and auto-detect failed: %w", err)
		}
		serial = first.Serial
	}
	d.serial = serial

	if err := d.waitForDevice(ctx, 5*time.Second); err != nil {
		return nil, fmt.Errorf("device not found: %w", err)
	}

	d.logger.Info("device connected", zap.String("serial", serial))
	return d, nil
}

// Serial returns the device serial number.
func (d *AndroidDevice) Serial() string {
	return d.serial
}

// Shell executes a shell command on the device.
func (d *AndroidDevice) Shell(ctx context.Context, cmd string) (string, error) {
	return d.adb(ctx, "shell", cmd)
}

// Install installs an APK on the device.
func (d *AndroidDevice) Install(ctx context.Context, apkPath string) error {
	_, err := d.adb(ctx, "install", "-r", "-g", apkPath)
	return err
}

// IsInstalled checks if a package is installed.
func (d *AndroidDevice) IsInstalled(ctx context.Context, pkg string) bool {
	out, err := d.Shell(ctx, "pm list packages "+pkg)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "package:"+pkg {
			return true
		}
	}
	return false
}

// Forward creates a port forward from local to device.
func (d *AndroidDevice) Forward(ctx context.Context, localPort, remotePort int) error {
	_, err := d.adb(ctx, "forward", fmt.Sprintf("tcp:%d", localPort), fmt.Sprintf("tcp:%d", remotePort))
	return err
}

// RemoveForward removes a port forward.
func (d *AndroidDevice) RemoveForward(ctx context.Context, localPort int) error {
	_, err := d.adb(ctx, "forward", "--remove", fmt.Sprintf("tcp:%d", localPort))
	return err
}

// ForwardSocket forwards a Unix socket to a device TCP port.
func (d *AndroidDevice) ForwardSocket(ctx context.Context, socketPath string, remotePort int) error {
	_, err := d.adb(ctx, "forward", "localfilesystem:"+socketPath, fmt.Sprintf("tcp:%d", remotePort))
	return err
}

// RemoveSocketForward removes a Unix socket forward.
func (d *AndroidDevice) RemoveSocketForward(ctx context.Context, socketPath string) error {
	_, err := d.adb(ctx, "forward", "--remove", "localfilesystem:"+socketPath)
	return err
}

// DefaultSocketPath returns the default Unix socket path for this device.
func (d *AndroidDevice) DefaultSocketPath() string {
	return fmt.Sprintf("/tmp/droid-agent-%s.sock", d.serial)
}

// SocketPath returns the current UIAutomator2 socket path (empty if not started or on Windows).
func (d *AndroidDevice) SocketPath() string {
	return d.socketPath
}

// LocalPort returns the current UIAutomator2 TCP port (0 if not started or on Linux/Mac).
func (d *AndroidDevice) LocalPort() int {
	return d.localPort
}

// Info returns device information.
func (d *AndroidDevice) Info(ctx context.Context) Info {
	info := Info{Serial: d.serial}
	getprop := func(name string) string {
		out, err := d.Shell(ctx, "getprop "+name)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(out)
	}

	info.Model = getprop("ro.product.model")
	info.SDK = getprop("ro.build.version.sdk")
	info.Brand = getprop("ro.product.brand")
	info.IsEmulator = getprop("ro.kernel.qemu") == "1"
	return info
}

// adb executes an ADB command against this device.
func (d *AndroidDevice) adb(ctx context.Context, args ...string) (string, error) {
	cmdArgs := make([]string, 0, len(args)+2)
	if d.serial != "" {
		cmdArgs = append(cmdArgs, "-s", d.serial)
	}
	cmdArgs = append(cmdArgs, args...)

	out, err := d.runner.Run(ctx, d.adbPath, cmdArgs...)
	if err != nil {
		d.logger.Debug("adb failed", zap.Strings("args", args), zap.Error(err))
		return "", fmt.Errorf("adb %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

// waitForDevice waits for the device to be available.
func (d *AndroidDevice) waitForDevice(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		if d.isConnected(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for device %s", d.serial)
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// isConnected checks if the device is connected.
func (d *AndroidDevice) isConnected(ctx context.Context) bool {
	out, err := d.adb(ctx, "get-state")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "device"
}

// findADB locates the ADB binary.
func findADB() (string, error) {
	if path, err := exec.LookPath("adb"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("adb not found in PATH; ensure Android SDK is installed")
}
