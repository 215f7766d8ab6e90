// Package amdgpudpm implements the amdgpu_dpm action: it forces the
// AMDGPU DRM driver's power_dpm_force_performance_level sysfs attribute to
// "low" under power-saver and "auto" otherwise. Grounded file-for-file on
// ppd-action-amdgpu-dpm.c in original_source; the original's gudev
// subsystem query and uevent-driven hotplug re-apply are ported to a
// sysfs directory walk over /sys/class/drm, since no example in the pack
// carries a gudev/libudev binding.
package amdgpudpm

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/upower/power-profilesd/internal/backends/sysfs"
	"github.com/upower/power-profilesd/internal/profile"
)

const (
	Name = "amdgpu_dpm"

	drmClassDir = "/sys/class/drm/"
	dpmAttr     = "device/power_dpm_force_performance_level"

	targetLow  = "low"
	targetAuto = "auto"
)

// Action implements backend.Action.
type Action struct {
	root string

	mu           sync.Mutex
	lastProfile  profile.Profile
}

// New constructs an unprobed Action.
func New(root string) *Action {
	return &Action{root: root}
}

func (a *Action) Name() string             { return Name }
func (a *Action) Kind() profile.BackendKind { return profile.ActionKind }

// Probe succeeds only on AMD hosts (AuthenticAMD in /proc/cpuinfo), per
// ppd_action_amdgpu_dpm_probe's ppd_utils_match_cpu_vendor check.
func (a *Action) Probe() (profile.ProbeOutcome, error) {
	if !sysfs.MatchCPUVendor(a.root, "AuthenticAMD") {
		return profile.ProbeFail, fmt.Errorf("not an AMD CPU")
	}
	return profile.ProbeSuccess, nil
}

func targetFor(p profile.Profile) string {
	if p == profile.PowerSaver {
		return targetLow
	}
	return targetAuto
}

// drmCardDevices returns the power_dpm_force_performance_level path for
// every DRM card (not renderD*) device found, the sysfs-walk analogue of
// querying gudev for "drm_minor" devtype entries.
func (a *Action) drmCardDevices() []string {
	base := sysfs.Path(a.root, drmClassDir)
	var paths []string
	for _, entry := range sysfs.ListDir(base) {
		if !strings.HasPrefix(entry, "card") || strings.Contains(entry, "-") {
			continue
		}
		path := filepath.Join(base, entry, dpmAttr)
		if sysfs.Exists(path) {
			paths = append(paths, path)
		}
	}
	return paths
}

func (a *Action) updateTarget(p profile.Profile) error {
	target := targetFor(p)
	for _, path := range a.drmCardDevices() {
		current, err := sysfs.ReadString(path)
		if err != nil {
			continue
		}
		if current == target || current == "manual" {
			continue
		}
		if err := sysfs.WriteString(path, target); err != nil {
			return err
		}
	}
	return nil
}

// ActivateProfile implements ppd_action_amdgpu_dpm_activate_profile.
func (a *Action) ActivateProfile(p profile.Profile, _ profile.ActivationReason) error {
	a.mu.Lock()
	a.lastProfile = p
	a.mu.Unlock()
	return a.updateTarget(p)
}
