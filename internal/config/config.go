// Package config defines the daemon's validated configuration, populated
// from CLI flags and the two recognised environment variables rather than
// a config file — the real external interface (see SPEC_FULL.md §6) has no
// file-based configuration surface. The Defaults/Bind/Validate shape
// mirrors the teacher's internal/config/config.go, adapted to a flag
// source instead of YAML.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Config holds every daemon-wide tunable.
type Config struct {
	// Verbosity counts -v/--verbose occurrences; 0 means info level.
	Verbosity int

	// Replace requests takeover of the bus names if already owned.
	Replace bool

	// BlockDrivers lists driver names the registry must skip during probe.
	BlockDrivers []string

	// BlockActions lists action names the registry must skip during probe.
	BlockActions []string

	// DisableUPower skips power-source/battery-level integration entirely,
	// even if a bound back-end would otherwise need it.
	DisableUPower bool

	// DisableLogind skips suspend/resume integration entirely.
	DisableLogind bool

	// MetricsAddr is the loopback address the Prometheus/healthz server
	// binds to. Empty disables the metrics server.
	MetricsAddr string

	// UMockdevDir re-roots sysfs lookups and the persisted-state path when
	// non-empty; sourced from $UMOCKDEV_DIR, not a flag.
	UMockdevDir string
}

// Defaults returns a Config with every field at its documented default.
func Defaults() *Config {
	return &Config{
		Verbosity:     0,
		Replace:       false,
		BlockDrivers:  nil,
		BlockActions:  nil,
		DisableUPower: false,
		DisableLogind: false,
		MetricsAddr:   "127.0.0.1:9099",
		UMockdevDir:   os.Getenv("UMOCKDEV_DIR"),
	}
}

type repeatedFlag struct{ values *[]string }

func (r repeatedFlag) String() string { return "" }
func (r repeatedFlag) Set(v string) error {
	*r.values = append(*r.values, v)
	return nil
}

type countFlag struct{ count *int }

func (c countFlag) String() string { return "" }
func (c countFlag) Set(string) error {
	*c.count++
	return nil
}
func (countFlag) IsBoolFlag() bool { return true }

// Bind registers the daemon's CLI flags on fs, backed by a Defaults()
// config. Call fs.Parse after Bind, then Validate the result.
func Bind(fs *flag.FlagSet) *Config {
	cfg := Defaults()

	fs.Var(countFlag{&cfg.Verbosity}, "v", "increase log verbosity (repeatable)")
	fs.Var(countFlag{&cfg.Verbosity}, "verbose", "increase log verbosity (repeatable)")
	fs.BoolVar(&cfg.Replace, "r", false, "replace an existing owner of the bus names")
	fs.BoolVar(&cfg.Replace, "replace", false, "replace an existing owner of the bus names")
	fs.Var(repeatedFlag{&cfg.BlockDrivers}, "block-driver", "block a driver by name (repeatable)")
	fs.Var(repeatedFlag{&cfg.BlockActions}, "block-action", "block an action by name (repeatable)")
	fs.BoolVar(&cfg.DisableUPower, "disable-upower", false, "disable power-source/battery integration")
	fs.BoolVar(&cfg.DisableLogind, "disable-logind", false, "disable suspend/resume integration")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "loopback address for /metrics and /healthz; empty disables")

	return cfg
}

// Validate accumulates every problem found in cfg and returns them joined
// into a single error, or nil if cfg is well-formed.
func Validate(cfg *Config) error {
	var problems []string

	for _, name := range cfg.BlockDrivers {
		if strings.TrimSpace(name) == "" {
			problems = append(problems, "--block-driver requires a non-empty name")
		}
	}
	for _, name := range cfg.BlockActions {
		if strings.TrimSpace(name) == "" {
			problems = append(problems, "--block-action requires a non-empty name")
		}
	}
	if cfg.Verbosity < 0 {
		problems = append(problems, "verbosity cannot be negative")
	}
	if cfg.MetricsAddr != "" && strings.TrimSpace(cfg.MetricsAddr) == "" {
		problems = append(problems, "metrics-addr must not be blank when set")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}

// IsBlockedDriver reports whether name appears in BlockDrivers.
func (c *Config) IsBlockedDriver(name string) bool { return contains(c.BlockDrivers, name) }

// IsBlockedAction reports whether name appears in BlockActions.
func (c *Config) IsBlockedAction(name string) bool { return contains(c.BlockActions, name) }

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
