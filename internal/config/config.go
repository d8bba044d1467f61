// Package config loads the fleetbench configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fleetbench/fleetbench-go/internal/orchestrator"
	"github.com/fleetbench/fleetbench-go/pkg/agent"
	"github.com/fleetbench/fleetbench-go/pkg/connection"
	"github.com/fleetbench/fleetbench-go/pkg/discovery"
	"github.com/fleetbench/fleetbench-go/pkg/infra"
	"github.com/fleetbench/fleetbench-go/pkg/model"
	"github.com/fleetbench/fleetbench-go/pkg/plan"
	"github.com/fleetbench/fleetbench-go/pkg/remote"
	"github.com/fleetbench/fleetbench-go/pkg/results"
)

// DefaultBandSettle is waited before the first step of a new band.
const DefaultBandSettle = 30 * time.Second

// Config is the complete run configuration. It is built once at start-up
// and handed to each component's constructor.
type Config struct {
	// Devices is the static roster.
	Devices []model.Device `yaml:"devices"`

	// Roster is a roster file merged into Devices.
	Roster string `yaml:"roster"`

	Discovery      Discovery      `yaml:"discovery"`
	Infrastructure Infrastructure `yaml:"infrastructure"`
	Matrix         plan.Matrix    `yaml:"matrix"`
	Timeouts       Timeouts       `yaml:"timeouts"`

	Retry connection.RetryPolicy `yaml:"retry"`
	Ports Ports                  `yaml:"ports"`

	// Execution is "sequential" or "parallel".
	Execution string `yaml:"execution"`

	// FailureThreshold is the number of consecutive failures that
	// excludes a device from the rest of a run.
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryBudget is the number of consecutive recovery timeouts after
	// which a session fails for good. Zero never fails a session.
	RecoveryBudget int `yaml:"recovery_budget"`

	// Workers caps concurrent devices in parallel mode. Zero means one
	// per device.
	Workers int `yaml:"workers"`

	Agent     Agent     `yaml:"agent"`
	KeepAlive KeepAlive `yaml:"keepalive"`

	// Journal is the CBOR run journal. Empty disables it.
	Journal string `yaml:"journal"`

	// Store is the SQLite run history. Empty disables it.
	Store string `yaml:"store"`

	Thresholds results.Thresholds `yaml:"thresholds"`
}

// Discovery configures mDNS lookup of agents.
type Discovery struct {
	MDNS      bool          `yaml:"mdns"`
	Service   string        `yaml:"service"`
	Domain    string        `yaml:"domain"`
	Timeout   time.Duration `yaml:"timeout"`
	Interface string        `yaml:"interface"`

	// Credential logs in to discovered devices.
	Credential model.Credential `yaml:"credential"`
}

// Infrastructure describes the access point under control.
type Infrastructure struct {
	Router model.Device `yaml:"router"`

	// Package is the uci package of the radios.
	Package       string   `yaml:"package"`
	ReloadCommand string   `yaml:"reload_command"`
	Optional      []string `yaml:"optional_keys"`

	// Reset restores the default mode per band after a run.
	Reset bool `yaml:"reset"`
}

// Timeouts are the per-operation time limits.
type Timeouts struct {
	Connect        time.Duration `yaml:"connect"`
	Command        time.Duration `yaml:"command"`
	Recovery       time.Duration `yaml:"recovery"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Verify         time.Duration `yaml:"verify"`
	VerifyInterval time.Duration `yaml:"verify_interval"`
	Step           time.Duration `yaml:"step"`
	Iperf          time.Duration `yaml:"iperf"`
	Cleanup        time.Duration `yaml:"cleanup"`
	BandSettle     time.Duration `yaml:"band_settle"`
}

// Ports is the inclusive measurement port range.
type Ports struct {
	First int `yaml:"first"`
	Last  int `yaml:"last"`
}

// Agent configures the on-device helper.
type Agent struct {
	// LocalDir is the bundle pushed to every device. Empty skips deployment.
	LocalDir string `yaml:"local_dir"`

	LinuxDir   string `yaml:"linux_dir"`
	WindowsDir string `yaml:"windows_dir"`

	// Server is the measurement server the agents run iperf against.
	Server string `yaml:"server"`

	// ForgetNetworks removes the test network profiles after a run.
	ForgetNetworks bool `yaml:"forget_networks"`
}

// KeepAlive configures liveness pings on connected sessions.
type KeepAlive struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxMissed int           `yaml:"max_missed"`
}

// Default returns a configuration with every default applied and no
// devices or bands.
func Default() *Config {
	ka := remote.DefaultKeepAliveConfig()
	uci := infra.DefaultUCIConfig()
	return &Config{
		Discovery: Discovery{
			Service: discovery.ServiceTypeAgent,
			Domain:  discovery.Domain,
			Timeout: discovery.BrowseTimeout,
		},
		Infrastructure: Infrastructure{
			Router:        model.Device{ID: "router", OS: model.OSLinux},
			Package:       uci.Package,
			ReloadCommand: uci.ReloadCommand,
			Optional:      uci.Optional,
			Reset:         true,
		},
		Timeouts: Timeouts{
			Connect:        remote.DefaultConnectTimeout,
			Command:        agent.DefaultTimeout,
			Recovery:       orchestrator.DefaultRecoveryTimeout,
			PollInterval:   remote.DefaultPollInterval,
			Verify:         infra.DefaultVerifyTimeout,
			VerifyInterval: infra.DefaultVerifyInterval,
			Step:           orchestrator.DefaultStepTimeout,
			Iperf:          2 * time.Minute,
			Cleanup:        orchestrator.DefaultCleanupTimeout,
			BandSettle:     DefaultBandSettle,
		},
		Retry:            connection.DefaultRetryPolicy(),
		Ports:            Ports{First: orchestrator.DefaultFirstPort, Last: orchestrator.DefaultLastPort},
		Execution:        orchestrator.Sequential.String(),
		FailureThreshold: orchestrator.DefaultFailureThreshold,
		RecoveryBudget:   remote.DefaultRecoveryBudget,
		Agent: Agent{
			LinuxDir:   agent.DefaultLinuxDir,
			WindowsDir: agent.DefaultWindowsDir,
		},
		KeepAlive: KeepAlive{
			Enabled:   true,
			Interval:  ka.PingInterval,
			Timeout:   ka.PingTimeout,
			MaxMissed: ka.MaxMissedPings,
		},
		Thresholds: results.DefaultThresholds(),
	}
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{File: path, Message: err.Error(), Cause: err}
	}
	return cfg, nil
}

// Parse decodes YAML over Default, fills band gaps from the planner
// defaults and validates the result. Devices may still be empty when a
// roster file or discovery supplies them.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	cfg.fillBands()
	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{Message: "invalid configuration", Cause: err}
	}
	return cfg, nil
}

// fillBands completes bands that only name their network.
func (c *Config) fillBands() {
	for i, bp := range c.Matrix.Bands {
		d := plan.DefaultBandPlan(bp.Band, bp.SSID, bp.Password)
		if bp.Radio == "" {
			bp.Radio = d.Radio
		}
		if len(bp.Channels) == 0 {
			bp.Channels = d.Channels
		}
		if len(bp.Standards) == 0 {
			bp.Standards = d.Standards
		}
		if bp.Modes == nil {
			bp.Modes = d.Modes
		}
		c.Matrix.Bands[i] = bp
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	seen := map[string]bool{}
	for _, d := range c.Devices {
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Errorf("device %q listed twice", d.ID))
		}
		seen[d.ID] = true
	}
	if len(c.Devices) == 0 && c.Roster == "" && !c.Discovery.MDNS {
		errs = append(errs, errors.New("no devices: set devices, roster or discovery.mdns"))
	}
	if c.Discovery.MDNS && c.Discovery.Credential.User == "" {
		errs = append(errs, errors.New("discovery.credential.user is required with mdns"))
	}
	if err := c.Infrastructure.Router.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("infrastructure: %w", err))
	}
	if len(c.Matrix.Bands) == 0 {
		errs = append(errs, plan.ErrEmptyMatrix)
	}
	if err := c.Matrix.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := orchestrator.ParseExecution(c.Execution); err != nil {
		errs = append(errs, err)
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Ports.First <= 0 || c.Ports.Last > 65535 || c.Ports.First > c.Ports.Last {
		errs = append(errs, fmt.Errorf("invalid port range %d-%d", c.Ports.First, c.Ports.Last))
	}
	if c.FailureThreshold < 1 {
		errs = append(errs, errors.New("failure_threshold must be at least 1"))
	}
	if c.RecoveryBudget < 0 {
		errs = append(errs, errors.New("recovery_budget must not be negative"))
	}
	if c.Workers < 0 {
		errs = append(errs, errors.New("workers must not be negative"))
	}
	for name, d := range map[string]time.Duration{
		"connect":         c.Timeouts.Connect,
		"command":         c.Timeouts.Command,
		"recovery":        c.Timeouts.Recovery,
		"poll_interval":   c.Timeouts.PollInterval,
		"verify":          c.Timeouts.Verify,
		"verify_interval": c.Timeouts.VerifyInterval,
		"step":            c.Timeouts.Step,
		"iperf":           c.Timeouts.Iperf,
		"cleanup":         c.Timeouts.Cleanup,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s must be positive", name))
		}
	}
	if c.Timeouts.BandSettle < 0 {
		errs = append(errs, errors.New("timeouts.band_settle must not be negative"))
	}
	if c.KeepAlive.Enabled && (c.KeepAlive.Interval <= 0 || c.KeepAlive.MaxMissed < 1) {
		errs = append(errs, errors.New("keepalive needs a positive interval and max_missed"))
	}
	for std, th := range c.Thresholds {
		if th.Good > th.Excellent {
			errs = append(errs, fmt.Errorf("threshold %s: good %.0f above excellent %.0f", std, th.Good, th.Excellent))
		}
	}
	return errors.Join(errs...)
}

// MergeDevices adds devices not yet in the roster, keeping the order and
// the first entry of each name.
func (c *Config) MergeDevices(devs []model.Device) {
	for _, d := range devs {
		if !slices.ContainsFunc(c.Devices, func(e model.Device) bool { return e.ID == d.ID }) {
			c.Devices = append(c.Devices, d)
		}
	}
}

// MDNSConfig returns the agent browser settings.
func (c *Config) MDNSConfig() discovery.MDNSConfig {
	return discovery.MDNSConfig{
		Service:    c.Discovery.Service,
		Domain:     c.Discovery.Domain,
		Timeout:    c.Discovery.Timeout,
		Interface:  c.Discovery.Interface,
		Credential: c.Discovery.Credential,
	}
}

// SessionConfig returns the device session settings.
func (c *Config) SessionConfig() remote.SessionConfig {
	sc := remote.DefaultSessionConfig()
	sc.ConnectTimeout = c.Timeouts.Connect
	sc.PollInterval = c.Timeouts.PollInterval
	sc.Retry = c.Retry
	sc.RecoveryBudget = c.RecoveryBudget
	return sc
}

// KeepAliveConfig returns the ping settings.
func (c *Config) KeepAliveConfig() remote.KeepAliveConfig {
	return remote.KeepAliveConfig{
		PingInterval:   c.KeepAlive.Interval,
		PingTimeout:    c.KeepAlive.Timeout,
		MaxMissedPings: c.KeepAlive.MaxMissed,
	}
}

// UCIConfig returns the router adapter settings.
func (c *Config) UCIConfig() infra.UCIConfig {
	return infra.UCIConfig{
		Package:        c.Infrastructure.Package,
		ReloadCommand:  c.Infrastructure.ReloadCommand,
		Optional:       c.Infrastructure.Optional,
		CommandTimeout: c.Timeouts.Command,
		RecoveryWait:   c.Timeouts.Recovery,
	}
}

// InfraConfig returns the controller settings.
func (c *Config) InfraConfig() infra.Config {
	ic := infra.Config{
		VerifyTimeout:  c.Timeouts.Verify,
		VerifyInterval: c.Timeouts.VerifyInterval,
	}
	if c.Infrastructure.Reset {
		ic.Defaults = plan.ResetModes(c.Matrix)
	}
	return ic
}

// ClientConfig returns the agent client settings.
func (c *Config) ClientConfig() agent.ClientConfig {
	return agent.ClientConfig{
		WorkDirs: map[model.OSClass]string{
			model.OSLinux:   c.Agent.LinuxDir,
			model.OSWindows: c.Agent.WindowsDir,
		},
		Timeout: c.Timeouts.Command,
	}
}

// EngineConfig returns the orchestrator settings. Execution has been
// checked by Validate.
func (c *Config) EngineConfig() orchestrator.Config {
	x, _ := orchestrator.ParseExecution(c.Execution)
	return orchestrator.Config{
		Execution:        x,
		FailureThreshold: c.FailureThreshold,
		RecoveryTimeout:  c.Timeouts.Recovery,
		StepTimeout:      c.Timeouts.Step,
		Workers:          c.Workers,
		FirstPort:        c.Ports.First,
		LastPort:         c.Ports.Last,
		BandSettleDelay:  c.Timeouts.BandSettle,
		CleanupTimeout:   c.Timeouts.Cleanup,
		Thresholds:       c.Thresholds,
	}
}

// LoadError is returned when the configuration cannot be loaded.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}
