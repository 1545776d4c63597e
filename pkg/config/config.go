// Package config handles configuration for droid-agent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/droid-agent/pkg/core"
)

// DefaultAPIKeyEnv is read when model.apiKey is empty and model.apiKeyEnv is unset.
const DefaultAPIKeyEnv = "DROID_AGENT_API_KEY"

// Config represents the workspace configuration (config.yaml).
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	Model   ModelConfig   `yaml:"model"`
	Capture CaptureConfig `yaml:"capture"`
	Device  DeviceConfig  `yaml:"device"`
	Output  OutputConfig  `yaml:"output"`
	Log     LogConfig     `yaml:"log"`
}

// AgentConfig tunes the control loop.
type AgentConfig struct {
	MaxRounds              int     `yaml:"maxRounds"`
	RequestIntervalSeconds int     `yaml:"requestIntervalSeconds"`
	SettleDelayMs          int     `yaml:"settleDelayMs"`
	MinElementDistance     float64 `yaml:"minElementDistance"`
	DarkModeAnnotation     bool    `yaml:"darkModeAnnotation"`
	Parser                 string  `yaml:"parser"` // legacy or strict
}

// ModelConfig selects the vision model provider.
type ModelConfig struct {
	Provider    string        `yaml:"provider"` // openai or gemini
	Endpoint    string        `yaml:"endpoint"` // empty uses the provider default
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"apiKey"`
	APIKeyEnv   string        `yaml:"apiKeyEnv"`
	MaxTokens   int           `yaml:"maxTokens"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
	MinInterval time.Duration `yaml:"minInterval"`
}

// CaptureConfig bounds the frame acquisition waits.
type CaptureConfig struct {
	CallbackTimeout time.Duration `yaml:"callbackTimeout"`
	PollAttempts    int           `yaml:"pollAttempts"`
	PollInterval    time.Duration `yaml:"pollInterval"`
	TeardownWait    time.Duration `yaml:"teardownWait"`
	FrameInterval   time.Duration `yaml:"frameInterval"`
}

// DeviceConfig identifies the target device and driver endpoint.
type DeviceConfig struct {
	Serial     string `yaml:"serial"`
	DriverPort int    `yaml:"driverPort"`
	SocketPath string `yaml:"socketPath"`
}

// OutputConfig controls where round artifacts and reports go.
type OutputConfig struct {
	Dir           string `yaml:"dir"`
	KeepArtifacts bool   `yaml:"keepArtifacts"`
}

// LogConfig controls the log file.
type LogConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
}

// Default returns a configuration with every field populated.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxRounds:              20,
			RequestIntervalSeconds: 2,
			SettleDelayMs:          500,
			MinElementDistance:     40,
			Parser:                 "legacy",
		},
		Model: ModelConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			APIKeyEnv:   DefaultAPIKeyEnv,
			MaxTokens:   1024,
			Temperature: 0,
			Timeout:     60 * time.Second,
		},
		Capture: CaptureConfig{
			CallbackTimeout: 3 * time.Second,
			PollAttempts:    10,
			PollInterval:    100 * time.Millisecond,
			TeardownWait:    5 * time.Second,
			FrameInterval:   250 * time.Millisecond,
		},
		Device: DeviceConfig{
			DriverPort: 6790,
		},
		Output: OutputConfig{
			Dir:           GetArtifactsDir(),
			KeepArtifacts: true,
		},
		Log: LogConfig{
			File:       filepath.Join(GetLogsDir(), "droid-agent.log"),
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
	}
}

// Load loads configuration from a file, layered over Default.
func Load(path string) (*Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try config.yaml first
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try config.yml
	configPath = filepath.Join(dir, "config.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, return defaults
	return Default(), nil
}

// APIKey resolves the model credential. An empty result means none is configured.
func (c *Config) APIKey() string {
	if c.Model.APIKey != "" {
		return c.Model.APIKey
	}
	env := c.Model.APIKeyEnv
	if env == "" {
		env = DefaultAPIKeyEnv
	}
	return strings.TrimSpace(os.Getenv(env))
}

// RequestInterval is the inter-round delay.
func (c *Config) RequestInterval() time.Duration {
	return time.Duration(c.Agent.RequestIntervalSeconds) * time.Second
}

// SettleDelay is the wait between capture and extraction.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Agent.SettleDelayMs) * time.Millisecond
}

// Environment overrides read by ApplyEnv.
const (
	EnvDevice    = "DROID_AGENT_DEVICE"
	EnvProvider  = "DROID_AGENT_PROVIDER"
	EnvModel     = "DROID_AGENT_MODEL"
	EnvEndpoint  = "DROID_AGENT_ENDPOINT"
	EnvOutputDir = "DROID_AGENT_OUTPUT"
	EnvMaxRounds = "DROID_AGENT_MAX_ROUNDS"
)

// ApplyEnv overlays the DROID_AGENT_* environment variables that are set.
func (c *Config) ApplyEnv() error {
	for env, field := range map[string]*string{
		EnvDevice:    &c.Device.Serial,
		EnvProvider:  &c.Model.Provider,
		EnvModel:     &c.Model.Model,
		EnvEndpoint:  &c.Model.Endpoint,
		EnvOutputDir: &c.Output.Dir,
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*field = v
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvMaxRounds)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("%s must be an integer, got %q", EnvMaxRounds, v))
		}
		c.Agent.MaxRounds = n
	}
	return c.expandPaths()
}

// Validate reports the first invalid field as core.ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(field string, value interface{}, why string) error {
		return core.ErrInvalidConfig.
			WithMessage(fmt.Sprintf("invalid config: %s %s", field, why)).
			WithDetails(map[string]interface{}{"field": field, "value": value})
	}

	switch {
	case c.Agent.MaxRounds <= 0:
		return invalid("agent.maxRounds", c.Agent.MaxRounds, "must be positive")
	case c.Agent.RequestIntervalSeconds < 0:
		return invalid("agent.requestIntervalSeconds", c.Agent.RequestIntervalSeconds, "must not be negative")
	case c.Agent.SettleDelayMs < 0:
		return invalid("agent.settleDelayMs", c.Agent.SettleDelayMs, "must not be negative")
	case c.Agent.MinElementDistance < 0:
		return invalid("agent.minElementDistance", c.Agent.MinElementDistance, "must not be negative")
	case c.Agent.Parser != "legacy" && c.Agent.Parser != "strict":
		return invalid("agent.parser", c.Agent.Parser, "must be legacy or strict")
	case c.Model.Provider != "openai" && c.Model.Provider != "gemini":
		return invalid("model.provider", c.Model.Provider, "must be openai or gemini")
	case c.Model.Model == "":
		return invalid("model.model", c.Model.Model, "is required")
	case c.Model.Retries < 0:
		return invalid("model.retries", c.Model.Retries, "must not be negative")
	case c.Capture.CallbackTimeout <= 0:
		return invalid("capture.callbackTimeout", c.Capture.CallbackTimeout, "must be positive")
	case c.Capture.PollAttempts <= 0:
		return invalid("capture.pollAttempts", c.Capture.PollAttempts, "must be positive")
	case c.Capture.PollInterval <= 0:
		return invalid("capture.pollInterval", c.Capture.PollInterval, "must be positive")
	}
	return nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Output.Dir, &c.Log.File, &c.Device.SocketPath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}
