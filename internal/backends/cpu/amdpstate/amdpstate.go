// Package amdpstate implements the amd_pstate CPU driver: energy
// performance preference plus the minimum-frequency and core-performance-
// boost knobs AMD's active-mode pstate driver exposes. Grounded
// file-for-file on ppd-driver-amd-pstate.c in original_source.
package amdpstate

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/upower/power-profilesd/internal/backends/basedriver"
	"github.com/upower/power-profilesd/internal/backends/sysfs"
	"github.com/upower/power-profilesd/internal/profile"
)

const (
	Name = "amd_pstate"

	cpufreqPolicyDir = "/sys/devices/system/cpu/cpufreq/"
	pstateStatusPath = "/sys/devices/system/cpu/amd_pstate/status"
	acpiPMProfile    = "/sys/firmware/acpi/pm_profile"
)

// ACPI preferred_pm_profile values that disqualify amd_pstate, per
// original_source's enum acpi_preferred_pm_profiles: unspecified and the
// three server-class profiles.
var disqualifiedPMProfiles = map[int]bool{
	0: true, // unspecified
	4: true, // enterprise server
	5: true, // SOHO server
	7: true, // performance server
}

// Driver implements backend.Driver for amd_pstate.
type Driver struct {
	basedriver.Base

	root string

	mu         sync.Mutex
	eppDevices []string
	onBattery  bool
	activated  profile.Profile
}

// New constructs an unprobed Driver.
func New(root string) *Driver {
	d := &Driver{root: root}
	d.Base = basedriver.New(Name, profile.CPUDriver, profile.All)
	return d
}

// Probe implements ppd_driver_amd_pstate_probe: requires active-mode
// amd_pstate, a non-server ACPI PM profile, and at least one cpufreq
// policy exposing energy_performance_preference.
func (d *Driver) Probe() (profile.ProbeOutcome, error) {
	status, err := sysfs.ReadString(sysfs.Path(d.root, pstateStatusPath))
	if err != nil || status != "active" {
		return profile.ProbeFail, fmt.Errorf("amd_pstate is not running in active mode")
	}

	pmProfileStr, err := sysfs.ReadString(sysfs.Path(d.root, acpiPMProfile))
	if err != nil {
		return profile.ProbeFail, fmt.Errorf("could not read ACPI pm_profile: %w", err)
	}
	pmProfile, _ := strconv.Atoi(pmProfileStr)
	if disqualifiedPMProfiles[pmProfile] {
		return profile.ProbeFail, fmt.Errorf("amd_pstate not supported on ACPI pm_profile %d", pmProfile)
	}

	policyDir := sysfs.Path(d.root, cpufreqPolicyDir)
	var devices []string
	for _, entry := range sysfs.ListDir(policyDir) {
		path := filepath.Join(policyDir, entry, "energy_performance_preference")
		contents, err := sysfs.ReadString(path)
		if err != nil {
			continue
		}
		if err := sysfs.WriteString(path, contents); err != nil {
			continue
		}
		devices = append(devices, filepath.Join(policyDir, entry))
	}

	d.mu.Lock()
	d.eppDevices = devices
	d.mu.Unlock()

	if len(devices) == 0 {
		return profile.ProbeFail, fmt.Errorf("no energy_performance_preference attributes found")
	}
	return profile.ProbeSuccess, nil
}

func govPref(p profile.Profile) string {
	if p == profile.Performance {
		return "performance"
	}
	return "powersave"
}

func eppPref(p profile.Profile, onBattery bool) string {
	switch p {
	case profile.PowerSaver:
		return "power"
	case profile.Balanced:
		if onBattery {
			return "balance_power"
		}
		return "balance_performance"
	case profile.Performance:
		return "performance"
	default:
		return "balance_performance"
	}
}

func cpbPref(p profile.Profile) string {
	if p == profile.PowerSaver {
		return "0"
	}
	return "1"
}

func minFreqAttr(p profile.Profile) string {
	if p == profile.PowerSaver {
		return "cpuinfo_min_freq"
	}
	return "amd_pstate_lowest_nonlinear_freq"
}

func (d *Driver) applyToDevices(p profile.Profile) error {
	if p == profile.Unset {
		return nil
	}

	d.mu.Lock()
	bases := append([]string(nil), d.eppDevices...)
	onBattery := d.onBattery
	d.mu.Unlock()

	if len(bases) == 0 {
		return fmt.Errorf("no amd_pstate devices probed")
	}

	for _, base := range bases {
		if err := sysfs.WriteString(filepath.Join(base, "scaling_governor"), govPref(p)); err != nil {
			return err
		}
		if err := sysfs.WriteString(filepath.Join(base, "energy_performance_preference"), eppPref(p, onBattery)); err != nil {
			return err
		}

		cpbPath := filepath.Join(base, "boost")
		if sysfs.Exists(cpbPath) {
			if err := sysfs.WriteString(cpbPath, cpbPref(p)); err != nil {
				return err
			}
		}

		srcAttr := minFreqAttr(p)
		srcPath := filepath.Join(base, srcAttr)
		if sysfs.Exists(srcPath) {
			if value, err := sysfs.ReadString(srcPath); err == nil {
				_ = sysfs.WriteString(filepath.Join(base, "scaling_min_freq"), strings.TrimSpace(value))
			}
		}
	}

	d.mu.Lock()
	d.activated = p
	d.mu.Unlock()
	return nil
}

// ActivateProfile implements ppd_driver_amd_pstate_activate_profile.
func (d *Driver) ActivateProfile(p profile.Profile, _ profile.ActivationReason) error {
	return d.applyToDevices(p)
}

// PowerChanged re-applies the last activated profile with the new power
// source's EPP preference, mirroring the intel_pstate driver's behavior
// (the amd_pstate driver in original_source does not yet implement this
// capability, but the EPP/power-source coupling is identical).
func (d *Driver) PowerChanged(src profile.PowerSource) error {
	d.mu.Lock()
	d.onBattery = src == profile.PowerBattery
	activated := d.activated
	d.mu.Unlock()

	return d.applyToDevices(activated)
}
