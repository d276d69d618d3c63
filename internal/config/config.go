// Package config loads and validates the warden configuration. The engine
// refuses to start on an invalid config; a missing file means defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warden-project/warden/internal/capability"
	"github.com/warden-project/warden/internal/errclass"
	"github.com/warden-project/warden/internal/trust"
)

// Config holds the global warden configuration.
type Config struct {
	Trust        TrustConfig           `yaml:"trust"`
	Policy       PolicyConfig          `yaml:"policy"`
	Capabilities []capability.Contract `yaml:"capabilities"`
	Limits       LimitsConfig          `yaml:"limits"`
	Workspace    WorkspaceConfig       `yaml:"workspace"`
	Audit        AuditConfig           `yaml:"audit"`
	Daemon       DaemonConfig          `yaml:"daemon"`
	Notify       NotifyConfig          `yaml:"notify"`
}

// TrustConfig seeds the trust ledger.
type TrustConfig struct {
	Initial float64      `yaml:"initial"`
	Decay   DecayConfig  `yaml:"decay"`
	Tiers   []trust.Tier `yaml:"tiers"`
}

// DecayConfig controls the idle decay of the trust score.
type DecayConfig struct {
	Rate     float64 `yaml:"rate"`
	Interval string  `yaml:"interval"`
	Floor    float64 `yaml:"floor"`
}

// IntervalDuration parses the configured decay interval or returns the
// default.
func (d DecayConfig) IntervalDuration() time.Duration {
	if d.Interval != "" {
		if dur, err := time.ParseDuration(d.Interval); err == nil && dur > 0 {
			return dur
		}
	}
	return trust.DefaultDecayInterval
}

// PolicyConfig controls the permission gate.
type PolicyConfig struct {
	DoorSlamThreshold float64  `yaml:"door_slam_threshold"`
	Locks             []string `yaml:"locks"`
	ConfirmationTTL   string   `yaml:"confirmation_ttl"`
}

// DefaultConfirmTTL is used when no confirmation_ttl is configured.
const DefaultConfirmTTL = 10 * time.Minute

// ConfirmTTLDuration parses the configured confirmation window or returns
// the default.
func (p PolicyConfig) ConfirmTTLDuration() time.Duration {
	if p.ConfirmationTTL != "" {
		if dur, err := time.ParseDuration(p.ConfirmationTTL); err == nil && dur > 0 {
			return dur
		}
	}
	return DefaultConfirmTTL
}

// LimitsConfig bounds execution.
type LimitsConfig struct {
	MaxConcurrentActions int    `yaml:"max_concurrent_actions"`
	ActionTimeout        string `yaml:"action_timeout"`
}

// DefaultActionTimeout is used when no action_timeout is configured.
const DefaultActionTimeout = 30 * time.Second

// ActionTimeoutDuration parses the configured per-action budget or returns
// the default.
func (l LimitsConfig) ActionTimeoutDuration() time.Duration {
	if l.ActionTimeout != "" {
		if dur, err := time.ParseDuration(l.ActionTimeout); err == nil && dur > 0 {
			return dur
		}
	}
	return DefaultActionTimeout
}

// WorkspaceConfig locates the governed working set and warden's own state.
type WorkspaceConfig struct {
	Root  string `yaml:"root"`
	State string `yaml:"state"`
}

// AuditConfig controls audit log settings.
type AuditConfig struct {
	Path string `yaml:"path"`
	Ring int    `yaml:"ring"`
}

// DaemonConfig controls daemon behavior.
type DaemonConfig struct {
	IdleTimeout string `yaml:"idle_timeout"`
}

// DefaultIdleTimeout is used when no idle_timeout is configured.
const DefaultIdleTimeout = 5 * time.Minute

// IdleTimeoutDuration parses the configured idle timeout or returns the
// default.
func (d DaemonConfig) IdleTimeoutDuration() time.Duration {
	if d.IdleTimeout != "" {
		if dur, err := time.ParseDuration(d.IdleTimeout); err == nil && dur > 0 {
			return dur
		}
	}
	return DefaultIdleTimeout
}

// NotifyConfig controls outbound webhook delivery.
type NotifyConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Hooks      []HookConfig `yaml:"hooks"`
	MaxRetries int          `yaml:"max_retries"`
	RetryDelay string       `yaml:"retry_delay"`
	Queue      int          `yaml:"queue"`
}

// RetryDelayDuration parses the configured retry delay or returns the
// default.
func (n NotifyConfig) RetryDelayDuration() time.Duration {
	if n.RetryDelay != "" {
		if dur, err := time.ParseDuration(n.RetryDelay); err == nil && dur > 0 {
			return dur
		}
	}
	return 2 * time.Second
}

// HookConfig is one webhook destination. Events narrows delivery; empty
// means every event.
type HookConfig struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	share := filepath.Join(home, ".local", "share", "warden")
	return &Config{
		Trust: TrustConfig{
			Initial: trust.DefaultInitial,
			Decay: DecayConfig{
				Rate:     trust.DefaultDecayRate,
				Interval: "1h",
				Floor:    trust.DefaultDecayFloor,
			},
			Tiers: DefaultTiers(),
		},
		Policy: PolicyConfig{
			DoorSlamThreshold: 0.2,
			Locks:             DefaultLocks(),
			ConfirmationTTL:   "10m",
		},
		Capabilities: capability.Defaults(),
		Limits: LimitsConfig{
			MaxConcurrentActions: 4,
			ActionTimeout:        "30s",
		},
		Workspace: WorkspaceConfig{
			Root:  filepath.Join(share, "workspace"),
			State: filepath.Join(share, "state"),
		},
		Audit: AuditConfig{
			Path: filepath.Join(share, "audit.jsonl"),
			Ring: 10000,
		},
		Daemon: DaemonConfig{
			IdleTimeout: "5m",
		},
		Notify: NotifyConfig{
			MaxRetries: 3,
			RetryDelay: "2s",
			Queue:      128,
		},
	}
}

// DefaultTiers returns the stock four-band tier table. Capabilities listed
// per tier are display metadata; contract thresholds are the real gate.
func DefaultTiers() []trust.Tier {
	return []trust.Tier{
		{ID: 0, Name: "restricted", Min: 0, Max: 0.25,
			Capabilities: []string{"file_read", "dir_list"}},
		{ID: 1, Name: "supervised", Min: 0.25, Max: 0.5,
			Capabilities: []string{"file_read", "dir_list", "dir_create", "file_write"}},
		{ID: 2, Name: "trusted", Min: 0.5, Max: 0.75,
			Capabilities: []string{"file_read", "dir_list", "dir_create", "file_write", "file_move", "external_comm", "system_command"}},
		{ID: 3, Name: "autonomous", Min: 0.75, Max: 1,
			Capabilities: []string{"file_read", "dir_list", "dir_create", "file_write", "file_move", "external_comm", "system_command", "file_delete"}},
	}
}

// DefaultLocks returns the stock constitutional lock tokens. Locks match as
// case-insensitive substrings of the resource and action type; anything
// here is unreachable at every trust level.
func DefaultLocks() []string {
	return []string{
		"rm -rf /",
		"id_rsa",
		".ssh",
		".env",
		"credentials",
		"secret_key",
		"/etc/passwd",
		"/etc/shadow",
	}
}

// Load reads the config from the standard location
// (~/.config/warden/config.yaml). If the file doesn't exist, returns the
// default config.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads the config from the given path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errclass.ErrConfig.WithMessagef("parse %s: %v", path, err)
	}

	cfg.Workspace.Root = expandHome(cfg.Workspace.Root)
	cfg.Workspace.State = expandHome(cfg.Workspace.State)
	cfg.Audit.Path = expandHome(cfg.Audit.Path)
	return cfg, nil
}

// expandHome rewrites a leading ~ to the user's home directory.
func expandHome(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}

// Validate checks the whole config coherently. The first problem found is
// returned as an E_CONFIG error.
func (c *Config) Validate() error {
	if c.Trust.Initial < 0 || c.Trust.Initial > 1 {
		return errclass.ErrConfig.WithMessagef("trust.initial %v outside [0,1]", c.Trust.Initial)
	}
	if c.Trust.Decay.Rate < 0 {
		return errclass.ErrConfig.WithMessagef("trust.decay.rate %v is negative", c.Trust.Decay.Rate)
	}
	if c.Trust.Decay.Floor < 0 || c.Trust.Decay.Floor > 1 {
		return errclass.ErrConfig.WithMessagef("trust.decay.floor %v outside [0,1]", c.Trust.Decay.Floor)
	}
	if _, err := trust.NewTable(c.Trust.Tiers); err != nil {
		return err
	}
	if c.Policy.DoorSlamThreshold < 0 || c.Policy.DoorSlamThreshold > 1 {
		return errclass.ErrConfig.WithMessagef("policy.door_slam_threshold %v outside [0,1]", c.Policy.DoorSlamThreshold)
	}
	for _, lock := range c.Policy.Locks {
		if strings.TrimSpace(lock) == "" {
			return errclass.ErrConfig.WithMessage("policy.locks contains an empty token")
		}
	}
	if _, err := capability.NewRegistry(c.Capabilities); err != nil {
		return err
	}
	if c.Limits.MaxConcurrentActions <= 0 {
		return errclass.ErrConfig.WithMessagef("limits.max_concurrent_actions %d must be positive", c.Limits.MaxConcurrentActions)
	}
	if c.Audit.Ring <= 0 {
		return errclass.ErrConfig.WithMessagef("audit.ring %d must be positive", c.Audit.Ring)
	}
	for _, d := range []struct {
		name  string
		value string
	}{
		{"trust.decay.interval", c.Trust.Decay.Interval},
		{"policy.confirmation_ttl", c.Policy.ConfirmationTTL},
		{"limits.action_timeout", c.Limits.ActionTimeout},
		{"daemon.idle_timeout", c.Daemon.IdleTimeout},
		{"notify.retry_delay", c.Notify.RetryDelay},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return errclass.ErrConfig.WithMessagef("%s: %v", d.name, err)
		}
	}
	for i, hook := range c.Notify.Hooks {
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return errclass.ErrConfig.WithMessagef("notify.hooks[%d].url %q is not an http(s) URL", i, hook.URL)
		}
	}
	return nil
}

// TierTable builds the validated tier table.
func (c *Config) TierTable() (*trust.Table, error) {
	return trust.NewTable(c.Trust.Tiers)
}

// CapabilityRegistry builds the validated contract registry.
func (c *Config) CapabilityRegistry() (*capability.Registry, error) {
	return capability.NewRegistry(c.Capabilities)
}

// ConfigPath returns the standard config file path.
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "warden", "config.yaml")
}
