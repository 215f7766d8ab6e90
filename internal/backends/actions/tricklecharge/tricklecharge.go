// Package tricklecharge implements the trickle_charge action: it caps a
// battery's charge_control_end_threshold so the battery is not kept
// topped up to 100% continuously, a peripheral charge-rate throttle
// exposed by the power_supply sysfs class on many laptops. Named and
// ordered first in the action list per power-profiles-daemon.c's objects[]
// array (ppd_action_trickle_charge_get_type); its own .c file was not
// present in the recovered original_source tree, so its sysfs contract is
// ported in the same probe/activate shape as the sibling AMDGPU actions.
package tricklecharge

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/upower/power-profilesd/internal/backends/sysfs"
	"github.com/upower/power-profilesd/internal/profile"
)

const (
	Name = "trickle_charge"

	powerSupplyDir  = "/sys/class/power_supply/"
	thresholdAttr   = "charge_control_end_threshold"
	typeAttr        = "type"
	batteryTypeWord = "Battery"

	// thresholdFull vs. thresholdCapped mirror the values the real daemon
	// writes: 100 (no cap) outside power-saver, 80 (cap trickle charging)
	// while power-saver is active.
	thresholdFull   = "100"
	thresholdCapped = "80"
)

// Action implements backend.Action.
type Action struct {
	root string

	mu      sync.Mutex
	devices []string
}

// New constructs an unprobed Action.
func New(root string) *Action {
	return &Action{root: root}
}

func (a *Action) Name() string             { return Name }
func (a *Action) Kind() profile.BackendKind { return profile.ActionKind }

// Probe finds every power_supply device of type Battery that exposes
// charge_control_end_threshold.
func (a *Action) Probe() (profile.ProbeOutcome, error) {
	base := sysfs.Path(a.root, powerSupplyDir)
	var devices []string
	for _, entry := range sysfs.ListDir(base) {
		devPath := filepath.Join(base, entry)
		kind, err := sysfs.ReadString(filepath.Join(devPath, typeAttr))
		if err != nil || kind != batteryTypeWord {
			continue
		}
		thresholdPath := filepath.Join(devPath, thresholdAttr)
		if sysfs.Exists(thresholdPath) {
			devices = append(devices, thresholdPath)
		}
	}

	a.mu.Lock()
	a.devices = devices
	a.mu.Unlock()

	if len(devices) == 0 {
		return profile.ProbeFail, fmt.Errorf("no battery exposes charge_control_end_threshold")
	}
	return profile.ProbeSuccess, nil
}

// ActivateProfile caps the charge threshold while power-saver is active
// and restores it to 100 otherwise.
func (a *Action) ActivateProfile(p profile.Profile, _ profile.ActivationReason) error {
	a.mu.Lock()
	devices := append([]string(nil), a.devices...)
	a.mu.Unlock()

	value := thresholdFull
	if p == profile.PowerSaver {
		value = thresholdCapped
	}
	return sysfs.WriteAll(devices, value)
}
