package device

import (
	"context"
	"fmt"
	"strings"
)

// Device is one entry of `adb devices -l`.
type Device struct {
	Serial string `json:"serial"`
	State  string `json:"state"`
	Model  string `json:"model,omitempty"`
}

// ListDevices returns all devices adb knows about, in any state.
func ListDevices(ctx context.Context, opts ...Option) ([]Device, error) {
	d := &AndroidDevice{runner: ExecRunner{}}
	for _, o := range opts {
		o(d)
	}
	if d.adbPath == "" {
		path, err := findADB()
		if err != nil {
			return nil, err
		}
		d.adbPath = path
	}
	return listDevices(ctx, d.runner, d.adbPath)
}

func listDevices(ctx context.Context, r Runner, adbPath string) ([]Device, error) {
	out, err := r.Run(ctx, adbPath, "devices", "-l")
	if err != nil {
		return nil, fmt.Errorf("adb devices: %w", err)
	}
	return parseDevices(out), nil
}

func parseDevices(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		d := Device{Serial: parts[0], State: parts[1]}
		for _, p := range parts[2:] {
			if model, ok := strings.CutPrefix(p, "model:"); ok {
				d.Model = model
			}
		}
		devices = append(devices, d)
	}
	return devices
}

func firstOnline(devices []Device) (Device, error) {
	for _, d := range devices {
		if d.State == "device" {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("no connected devices found")
}
