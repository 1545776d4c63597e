package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/droid-agent/pkg/agent"
	"github.com/devicelab-dev/droid-agent/pkg/annotate"
	"github.com/devicelab-dev/droid-agent/pkg/capture"
	"github.com/devicelab-dev/droid-agent/pkg/config"
	"github.com/devicelab-dev/droid-agent/pkg/logger"
)

// loadConfig reads the config file, then the environment, then the flags.
// Later sources win.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if v := c.String("device"); v != "" {
		cfg.Device.Serial = v
	}
	if v := c.Int("driver-port"); v > 0 {
		cfg.Device.DriverPort = v
	}
	for flag, dst := range map[string]*string{"output": &cfg.Output.Dir, "log-file": &cfg.Log.File} {
		if v := c.String(flag); v != "" {
			expanded, err := homedir.Expand(v)
			if err != nil {
				return nil, fmt.Errorf("--%s: %w", flag, err)
			}
			*dst = expanded
		}
	}
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}

	// run-only flags; zero values mean "not given"
	if v := c.Int("max-rounds"); v > 0 {
		cfg.Agent.MaxRounds = v
	}
	if v := c.String("provider"); v != "" {
		cfg.Model.Provider = v
	}
	if v := c.String("model"); v != "" {
		cfg.Model.Model = v
	}
	if v := c.String("endpoint"); v != "" {
		cfg.Model.Endpoint = v
	}
	if v := c.String("parser"); v != "" {
		cfg.Agent.Parser = v
	}
	if c.IsSet("interval") {
		cfg.Agent.RequestIntervalSeconds = c.Int("interval")
	}
	if c.Bool("dark") {
		cfg.Agent.DarkModeAnnotation = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging installs the global logger and returns its closer.
func setupLogging(cfg *config.Config, verbose bool) (func(), error) {
	opts := logger.Options{
		File:       cfg.Log.File,
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}
	if verbose {
		opts.Console = os.Stderr
	}
	if err := logger.Setup(opts); err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	return logger.Close, nil
}

func agentConfig(cfg *config.Config) agent.Config {
	ac := agent.DefaultConfig()
	ac.MaxRounds = cfg.Agent.MaxRounds
	ac.RequestInterval = cfg.RequestInterval()
	ac.SettleDelay = cfg.SettleDelay()
	ac.MinElementDistance = cfg.Agent.MinElementDistance
	ac.CaptureTimeout = captureBudget(cfg.Capture)
	ac.Annotate = annotate.Options{DarkMode: cfg.Agent.DarkModeAnnotation}
	return ac
}

func captureConfig(cc config.CaptureConfig) capture.Config {
	return capture.Config{
		CallbackTimeout: cc.CallbackTimeout,
		PollAttempts:    cc.PollAttempts,
		PollInterval:    cc.PollInterval,
		TeardownWait:    cc.TeardownWait,
	}
}

// captureBudget is the longest one capture can take: the settle delay, the
// callback wait and every polling attempt.
func captureBudget(cc config.CaptureConfig) time.Duration {
	return capture.RenderSettleDelay + cc.CallbackTimeout + time.Duration(cc.PollAttempts)*cc.PollInterval
}
