// Package config loads and validates the immutable build configuration.
// A Config is constructed once at startup and passed explicitly into every
// component; nothing in this package is mutated after Load returns.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full build configuration.
type Config struct {
	// Image describes what to build. The core treats suite, mirror and
	// package lists as opaque inputs handed to external tools.
	Image ImageConfig `yaml:"image"`

	// WorkDir is the base directory for build workspaces. Empty means the
	// system temp directory.
	WorkDir string `yaml:"work_dir,omitempty"`

	// LogDir receives the per-run log file, event database and reports.
	LogDir string `yaml:"log_dir,omitempty"`

	// Mode selects how operation failures are handled.
	Mode HandlingMode `yaml:"mode,omitempty"`

	// DryRun logs external commands instead of executing them.
	DryRun bool `yaml:"dry_run,omitempty"`

	// SkipCleanup leaves the workspace and mounts in place after the run.
	SkipCleanup bool `yaml:"skip_cleanup,omitempty"`

	// NonContinuable lists operation names that must not be tolerated
	// under graceful mode when recovery is exhausted.
	NonContinuable []string `yaml:"non_continuable,omitempty"`

	// CommandTimeout is the hard ceiling for any single external command.
	CommandTimeout Duration `yaml:"command_timeout,omitempty"`

	// MonitorInterval is the session integrity check interval.
	MonitorInterval Duration `yaml:"monitor_interval,omitempty"`

	Retry   RetryConfig   `yaml:"retry,omitempty"`
	Events  EventsConfig  `yaml:"events,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
	Report  ReportConfig  `yaml:"report,omitempty"`
}

// ImageConfig describes the target image.
type ImageConfig struct {
	Suite     string   `yaml:"suite"`
	Mirror    string   `yaml:"mirror,omitempty"`
	Arch      string   `yaml:"arch,omitempty"`
	Packages  []string `yaml:"packages,omitempty"`
	VolumeID  string   `yaml:"volume_id,omitempty"`
	OutputISO string   `yaml:"output_iso"`

	// ISOTool selects the assembler: grub-mkrescue (default, BIOS+UEFI
	// boot) or xorriso for layouts grub-mkrescue cannot express.
	ISOTool string `yaml:"iso_tool,omitempty"`
}

// RetryConfig holds backoff knobs for the recovery engine.
type RetryConfig struct {
	Backoff     RetryBackoffMode `yaml:"backoff,omitempty"`
	Initial     Duration         `yaml:"initial,omitempty"`
	Max         Duration         `yaml:"max,omitempty"`
	MaxAttempts int              `yaml:"max_attempts,omitempty"`
}

// EventsConfig configures the optional NATS event sink.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
}

// MetricsConfig configures the optional Pushgateway push at end of run.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url,omitempty"`
}

// ReportConfig selects which report formats to write.
type ReportConfig struct {
	Formats []string `yaml:"formats,omitempty"` // text, markdown, html
}

const (
	defaultCommandTimeout  = 30 * time.Minute
	defaultMonitorInterval = 10 * time.Second
	defaultMaxAttempts     = 3
)

// defaultNonContinuable covers operations whose failure invalidates
// everything built on top of them.
var defaultNonContinuable = []string{"bootstrap", "squashfs", "iso"}

// Load reads configuration from a YAML file, overlaying .env values first so
// references like ${ISOFORGE_MIRROR} resolve through the environment at the
// call sites that consult it. The returned Config is fully defaulted and
// validated.
func Load(path string) (*Config, error) {
	// Missing .env files are fine; only report unexpected parse errors.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		if _, statErr := os.Stat(".env"); statErr == nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
	if c.LogDir == "" {
		c.LogDir = "./isoforge-logs"
	}
	if c.Mode == "" {
		c.Mode = HandlingGraceful
	}
	if len(c.NonContinuable) == 0 {
		c.NonContinuable = append([]string(nil), defaultNonContinuable...)
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = Duration(defaultCommandTimeout)
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = Duration(defaultMonitorInterval)
	}
	if c.Retry.Backoff == "" {
		c.Retry.Backoff = RetryBackoffLinear
	}
	if c.Retry.Initial <= 0 {
		c.Retry.Initial = Duration(time.Second)
	}
	if c.Retry.Max <= 0 {
		c.Retry.Max = Duration(30 * time.Second)
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = defaultMaxAttempts
	}
	if c.Image.Arch == "" {
		c.Image.Arch = "amd64"
	}
	if c.Image.Mirror == "" {
		c.Image.Mirror = "http://deb.debian.org/debian"
	}
	if c.Image.VolumeID == "" {
		c.Image.VolumeID = "ISOFORGE"
	}
	if c.Image.ISOTool == "" {
		c.Image.ISOTool = "grub-mkrescue"
	}
	if len(c.Report.Formats) == 0 {
		c.Report.Formats = []string{"text"}
	}
}

// applyEnv overrides a small set of operational knobs from the environment.
// Image content stays file-driven.
func (c *Config) applyEnv() {
	if v := os.Getenv("ISOFORGE_MODE"); v != "" {
		if m := NormalizeHandlingMode(v); m != "" {
			c.Mode = m
		}
	}
	if v := os.Getenv("ISOFORGE_DRY_RUN"); v == "1" || v == "true" {
		c.DryRun = true
	}
	if v := os.Getenv("ISOFORGE_SKIP_CLEANUP"); v == "1" || v == "true" {
		c.SkipCleanup = true
	}
	if v := os.Getenv("ISOFORGE_NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	if v := os.Getenv("ISOFORGE_PUSHGATEWAY_URL"); v != "" {
		c.Metrics.PushgatewayURL = v
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Image.Suite == "" {
		return fmt.Errorf("config: image.suite is required")
	}
	if c.Image.OutputISO == "" {
		return fmt.Errorf("config: image.output_iso is required")
	}
	switch c.Image.ISOTool {
	case "grub-mkrescue", "xorriso":
	default:
		return fmt.Errorf("config: invalid image.iso_tool %q (valid: grub-mkrescue, xorriso)", c.Image.ISOTool)
	}
	if NormalizeHandlingMode(string(c.Mode)) == "" {
		return fmt.Errorf("config: invalid mode %q (valid: graceful, strict, permissive)", c.Mode)
	}
	if NormalizeRetryBackoff(string(c.Retry.Backoff)) == "" {
		return fmt.Errorf("config: invalid retry.backoff %q (valid: fixed, linear, exponential)", c.Retry.Backoff)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be >= 1")
	}
	for _, f := range c.Report.Formats {
		switch f {
		case "text", "markdown", "html":
		default:
			return fmt.Errorf("config: unknown report format %q", f)
		}
	}
	return nil
}

// IsNonContinuable reports whether the named operation is on the
// non-continuable list.
func (c *Config) IsNonContinuable(op string) bool {
	for _, name := range c.NonContinuable {
		if name == op {
			return true
		}
	}
	return false
}

const starterConfig = `# isoforge build configuration
image:
  suite: bookworm
  mirror: http://deb.debian.org/debian
  arch: amd64
  volume_id: ISOFORGE
  output_iso: ./out/custom.iso
  # iso_tool: xorriso        # default: grub-mkrescue
  packages:
    - linux-image-amd64
    - live-boot
    - systemd-sysv

log_dir: ./isoforge-logs
mode: graceful            # graceful | strict | permissive
command_timeout: 30m
monitor_interval: 10s

retry:
  backoff: linear          # fixed | linear | exponential
  initial: 1s
  max: 30s
  max_attempts: 3

report:
  formats: [text, markdown]
`

// Init writes a starter configuration file. Existing files are preserved
// unless force is set.
func Init(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
