package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/droid-agent/pkg/config"
	"github.com/devicelab-dev/droid-agent/pkg/device"
	"github.com/devicelab-dev/droid-agent/pkg/uiautomator2"
)

// deviceSession is a connected device with a live uiautomator2 session.
type deviceSession struct {
	dev    *device.AndroidDevice
	client *uiautomator2.Client
	info   device.Info
	logger *zap.Logger
}

// connectDevice finds the device, starts the uiautomator2 server on it and
// opens a session.
func connectDevice(ctx context.Context, cfg *config.Config, log *zap.Logger) (*deviceSession, error) {
	if serial := cfg.Device.Serial; serial != "" {
		printSetupStep(fmt.Sprintf("Connecting to device %s...", serial))
	} else {
		printSetupStep("Connecting to device...")
	}
	dev, err := device.New(ctx, cfg.Device.Serial, device.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("connect to device: %w", err)
	}
	info := dev.Info(ctx)
	log.Info("device connected",
		zap.String("serial", info.Serial),
		zap.String("model", info.Model),
		zap.String("sdk", info.SDK),
		zap.Bool("emulator", info.IsEmulator))
	printSetupSuccess(fmt.Sprintf("Connected to %s %s (SDK %s)", info.Brand, info.Model, info.SDK))

	uiaCfg := device.DefaultUIAutomator2Config()
	if cfg.Device.DriverPort > 0 {
		uiaCfg.DevicePort = cfg.Device.DriverPort
	}
	uiaCfg.SocketPath = cfg.Device.SocketPath
	if uiaCfg.SocketPath == "" {
		uiaCfg.SocketPath = dev.DefaultSocketPath()
	}

	// fail fast before touching the device
	if !uiaCfg.UseTCP && isSocketInUse(uiaCfg.SocketPath) {
		return nil, fmt.Errorf("device %s is already in use\n"+
			"Another droid-agent instance may be driving this device.\n"+
			"Socket: %s", dev.Serial(), uiaCfg.SocketPath)
	}

	if !dev.IsInstalled(ctx, device.UIAutomator2Server) {
		printSetupStep("Installing UIAutomator2 APKs...")
		if err := dev.InstallUIAutomator2(ctx, config.GetDriversDir("android")); err != nil {
			return nil, fmt.Errorf("install UIAutomator2: %w", err)
		}
		printSetupSuccess("UIAutomator2 installed")
	}

	printSetupStep("Starting UIAutomator2 server...")
	if err := dev.StartUIAutomator2(ctx, uiaCfg); err != nil {
		return nil, fmt.Errorf("start UIAutomator2: %w", err)
	}
	printSetupSuccess("UIAutomator2 server started")

	var client *uiautomator2.Client
	if dev.SocketPath() != "" {
		client = uiautomator2.NewClient(dev.SocketPath(), log)
	} else {
		client = uiautomator2.NewClientTCP(dev.LocalPort(), log)
	}

	printSetupStep("Creating session...")
	caps := uiautomator2.Capabilities{PlatformName: "Android", DeviceName: info.Model}
	if err := client.CreateSession(ctx, caps); err != nil {
		dev.StopUIAutomator2(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("create session: %w", err)
	}
	log.Info("uiautomator2 session created", zap.String("session_id", client.SessionID()))
	printSetupSuccess("Session created")

	return &deviceSession{dev: dev, client: client, info: info, logger: log}, nil
}

// Close ends the session and stops the server. Errors are logged only.
func (s *deviceSession) Close() {
	if err := s.client.Close(); err != nil {
		s.logger.Warn("close uiautomator2 session", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.dev.StopUIAutomator2(ctx)
}

// isSocketInUse reports whether another process is serving socketPath.
// A stale socket file is removed.
func isSocketInUse(socketPath string) bool {
	if socketPath == "" {
		return false
	}
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return false
	}

	conn, err := net.DialTimeout("unix", socketPath, 500*time.Millisecond)
	if err != nil {
		_ = os.Remove(socketPath)
		return false
	}
	_ = conn.Close()
	return true
}
