// Package amdgpupanelpower implements the amdgpu_panel_power action: it
// sets the ABM (adaptive backlight management) panel_power_savings level
// on connected eDP panels based on active profile and, while on battery,
// battery percentage. Grounded file-for-file on
// ppd-action-amdgpu-panel-power.c in original_source; the gudev
// subsystem query is ported to a sysfs directory walk over
// /sys/class/drm, as in the sibling amdgpu_dpm action.
package amdgpupanelpower

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/upower/power-profilesd/internal/backends/sysfs"
	"github.com/upower/power-profilesd/internal/profile"
)

const (
	Name = "amdgpu_panel_power"

	drmClassDir      = "/sys/class/drm/"
	panelPowerAttr   = "amdgpu/panel_power_savings"
	panelStatusAttr  = "status"
	connectedStatus  = "connected"
)

// Action implements backend.Action.
type Action struct {
	root string

	mu            sync.Mutex
	lastProfile   profile.Profile
	onBattery     bool
	validBattery  bool
	batteryLevel  float64
	panelSavings  int
}

// New constructs an unprobed Action.
func New(root string) *Action {
	return &Action{root: root}
}

func (a *Action) Name() string             { return Name }
func (a *Action) Kind() profile.BackendKind { return profile.ActionKind }

// Probe succeeds only on AMD hosts, per ppd_action_amdgpu_panel_power's
// reliance on an AMDGPU-specific sysfs attribute.
func (a *Action) Probe() (profile.ProbeOutcome, error) {
	if !sysfs.MatchCPUVendor(a.root, "AuthenticAMD") {
		return profile.ProbeFail, fmt.Errorf("not an AMD CPU")
	}
	return profile.ProbeSuccess, nil
}

// connectedPanelConnectors lists DRM connector entries (sysfs entries
// containing "-", e.g. card0-eDP-1) reporting status=connected and
// exposing the panel_power_savings attribute.
func (a *Action) connectedPanelConnectors() []string {
	base := sysfs.Path(a.root, drmClassDir)
	var connectors []string
	for _, entry := range sysfs.ListDir(base) {
		if !strings.Contains(entry, "-") {
			continue
		}
		connDir := filepath.Join(base, entry)
		status, err := sysfs.ReadString(filepath.Join(connDir, panelStatusAttr))
		if err != nil || status != connectedStatus {
			continue
		}
		if sysfs.Exists(filepath.Join(connDir, panelPowerAttr)) {
			connectors = append(connectors, connDir)
		}
	}
	return connectors
}

func (a *Action) setPanelPower(power int) error {
	for _, connDir := range a.connectedPanelConnectors() {
		path := filepath.Join(connDir, panelPowerAttr)
		current, err := sysfs.ReadString(path)
		if err != nil {
			continue
		}
		parsed, err := strconv.ParseUint(current, 10, 64)
		if err == nil && int(parsed) == power {
			continue
		}
		if err := sysfs.WriteString(path, strconv.Itoa(power)); err != nil {
			return err
		}
		break
	}
	return nil
}

// target implements ppd_action_amdgpu_panel_update_target's level table:
// only engaged while on battery, with thresholds that tighten as the
// selected profile becomes more power-conscious.
func target(lastProfile profile.Profile, onBattery bool, batteryLevel float64) int {
	if !onBattery {
		return 0
	}
	switch lastProfile {
	case profile.PowerSaver:
		switch {
		case batteryLevel == 0 || batteryLevel >= 50:
			return 0
		case batteryLevel > 30:
			return 1
		case batteryLevel > 20:
			return 2
		default:
			return 3
		}
	case profile.Balanced:
		if batteryLevel == 0 || batteryLevel >= 30 {
			return 0
		}
		return 1
	case profile.Performance:
		return 0
	default:
		return 0
	}
}

func (a *Action) updateTarget() error {
	a.mu.Lock()
	t := target(a.lastProfile, a.onBattery, a.batteryLevel)
	a.mu.Unlock()

	if err := a.setPanelPower(t); err != nil {
		return err
	}

	a.mu.Lock()
	a.panelSavings = t
	a.mu.Unlock()
	return nil
}

// ActivateProfile implements ppd_action_amdgpu_panel_power_activate_profile.
func (a *Action) ActivateProfile(p profile.Profile, _ profile.ActivationReason) error {
	a.mu.Lock()
	a.lastProfile = p
	valid := a.validBattery
	a.mu.Unlock()

	if !valid {
		return nil
	}
	return a.updateTarget()
}

// PowerChanged implements ppd_action_amdgpu_panel_power_power_changed:
// PowerUnknown marks battery data stale without touching the panel;
// AC/battery both mark it valid and re-evaluate.
func (a *Action) PowerChanged(src profile.PowerSource) error {
	a.mu.Lock()
	if src == profile.PowerUnknown {
		a.validBattery = false
		a.mu.Unlock()
		return nil
	}
	a.onBattery = src == profile.PowerBattery
	a.validBattery = true
	a.mu.Unlock()

	return a.updateTarget()
}

// BatteryChanged implements ppd_action_amdgpu_panel_power_battery_changed.
func (a *Action) BatteryChanged(level float64) error {
	a.mu.Lock()
	a.batteryLevel = level
	a.mu.Unlock()
	return a.updateTarget()
}
