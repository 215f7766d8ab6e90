package config

import (
	"flag"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Verbosity != 0 {
		t.Errorf("Verbosity = %d, want 0", cfg.Verbosity)
	}
	if cfg.MetricsAddr == "" {
		t.Error("MetricsAddr default must not be empty")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate(Defaults()) = %v, want nil", err)
	}
}

func TestValidateRejectsBlankBlocklistEntries(t *testing.T) {
	cfg := Defaults()
	cfg.BlockDrivers = []string{"amd_pstate", "  "}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() = nil, want error for blank block-driver entry")
	}
	if !strings.Contains(err.Error(), "block-driver") {
		t.Errorf("Validate() error = %q, want mention of block-driver", err)
	}
}

func TestBindParsesRepeatedFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg := Bind(fs)

	err := fs.Parse([]string{
		"-v", "-v",
		"--block-driver", "amd_pstate",
		"--block-driver", "intel_pstate",
		"--replace",
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Verbosity != 2 {
		t.Errorf("Verbosity = %d, want 2", cfg.Verbosity)
	}
	if !cfg.Replace {
		t.Error("Replace = false, want true")
	}
	if !cfg.IsBlockedDriver("amd_pstate") || !cfg.IsBlockedDriver("intel_pstate") {
		t.Errorf("BlockDrivers = %v, want both amd_pstate and intel_pstate", cfg.BlockDrivers)
	}
	if cfg.IsBlockedDriver("platform_profile") {
		t.Error("IsBlockedDriver(platform_profile) = true, want false")
	}
}
