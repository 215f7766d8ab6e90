// Package intelpstate implements the intel_pstate CPU driver: it writes
// energy_performance_preference (or, on older kernels, energy_perf_bias)
// under each cpufreq policy directory, and surfaces a "high-operating-
// temperature" degraded reason while the kernel's no_turbo flag is set.
// Grounded file-for-file on ppd-driver-intel-pstate.c in original_source.
package intelpstate

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/upower/power-profilesd/internal/backends/basedriver"
	"github.com/upower/power-profilesd/internal/backends/sysfs"
	"github.com/upower/power-profilesd/internal/profile"
)

const (
	Name = "intel_pstate"

	cpuDir           = "/sys/devices/system/cpu/"
	cpufreqPolicyDir = "/sys/devices/system/cpu/cpufreq/"
	pstateStatusPath = "/sys/devices/system/cpu/intel_pstate/status"
	noTurboPath      = "/sys/devices/system/cpu/intel_pstate/no_turbo"
	turboPctPath     = "/sys/devices/system/cpu/intel_pstate/turbo_pct"

	// pollInterval replaces the source's GFileMonitor on no_turbo: a Go
	// polling ticker is the portable analogue without a notify/inotify
	// dependency anywhere else in the pack.
	pollInterval = 5 * time.Second
)

// Driver implements backend.Driver for intel_pstate.
type Driver struct {
	basedriver.Base

	root string

	mu         sync.Mutex
	eppDevices []string
	epbDevices []string
	onBattery  bool
	activated  profile.Profile

	stopPoll chan struct{}
}

// New constructs an unprobed Driver. root is the UMOCKDEV_DIR override
// (empty string means the real /).
func New(root string) *Driver {
	d := &Driver{root: root}
	d.Base = basedriver.New(Name, profile.CPUDriver, profile.All)
	return d
}

// Probe implements ppd_driver_intel_pstate_probe: succeeds if either the
// energy_performance_preference or energy_perf_bias attribute is found
// under at least one cpufreq policy, and additionally arms turbo-degraded
// polling when the CPU has turbo boost at all.
func (d *Driver) Probe() (profile.ProbeOutcome, error) {
	eppOK := d.probeEPP()
	epbOK := d.probeEPB()

	if !eppOK && !epbOK {
		return profile.ProbeFail, fmt.Errorf("no energy_performance_preference or energy_perf_bias attributes found")
	}

	if d.hasTurbo() {
		d.startDegradedPolling()
		d.updateDegraded()
	}

	return profile.ProbeSuccess, nil
}

func (d *Driver) probeEPP() bool {
	status, err := sysfs.ReadString(sysfs.Path(d.root, pstateStatusPath))
	if err != nil || status != "active" {
		return false
	}

	policyDir := sysfs.Path(d.root, cpufreqPolicyDir)
	var devices []string
	for _, entry := range sysfs.ListDir(policyDir) {
		path := filepath.Join(policyDir, entry, "energy_performance_preference")
		if !sysfs.Exists(path) {
			continue
		}
		govPath := filepath.Join(policyDir, entry, "scaling_governor")
		if err := sysfs.WriteString(govPath, "powersave"); err != nil {
			continue
		}
		devices = append(devices, path)
	}

	d.mu.Lock()
	d.eppDevices = devices
	d.mu.Unlock()
	return len(devices) > 0
}

func (d *Driver) probeEPB() bool {
	cpuRoot := sysfs.Path(d.root, cpuDir)
	var devices []string
	for _, entry := range sysfs.ListDir(cpuRoot) {
		path := filepath.Join(cpuRoot, entry, "power", "energy_perf_bias")
		if sysfs.Exists(path) {
			devices = append(devices, path)
		}
	}

	d.mu.Lock()
	d.epbDevices = devices
	d.mu.Unlock()
	return len(devices) > 0
}

func (d *Driver) hasTurbo() bool {
	contents, err := sysfs.ReadString(sysfs.Path(d.root, turboPctPath))
	if err != nil {
		return false
	}
	return contents != "0"
}

func (d *Driver) startDegradedPolling() {
	d.stopPoll = make(chan struct{})
	go func(stop chan struct{}) {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.updateDegraded()
			case <-stop:
				return
			}
		}
	}(d.stopPoll)
}

// Close stops the no_turbo polling goroutine, if one was started. The
// registry calls this on unbind/restart when a driver implements io.Closer.
func (d *Driver) Close() error {
	d.mu.Lock()
	stop := d.stopPoll
	d.stopPoll = nil
	d.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	return nil
}

func (d *Driver) updateDegraded() {
	contents, err := sysfs.ReadString(sysfs.Path(d.root, noTurboPath))
	reason := ""
	if err == nil && contents == "1" {
		reason = "high-operating-temperature"
	}
	d.SetDegraded(reason)
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

func epbPref(p profile.Profile, onBattery bool) string {
	switch p {
	case profile.PowerSaver:
		return "15"
	case profile.Balanced:
		if onBattery {
			return "8"
		}
		return "6"
	case profile.Performance:
		return "0"
	default:
		return "6"
	}
}

func (d *Driver) applyToDevices(p profile.Profile) error {
	if p == profile.Unset {
		return nil
	}

	d.mu.Lock()
	epp := append([]string(nil), d.eppDevices...)
	epb := append([]string(nil), d.epbDevices...)
	onBattery := d.onBattery
	d.mu.Unlock()

	if len(epp) == 0 && len(epb) == 0 {
		return fmt.Errorf("no EPP or EPB devices probed")
	}

	if len(epp) > 0 {
		if err := sysfs.WriteAll(epp, eppPref(p, onBattery)); err != nil {
			return err
		}
	}
	if len(epb) > 0 {
		if err := sysfs.WriteAll(epb, epbPref(p, onBattery)); err != nil {
			return err
		}
	}

	d.mu.Lock()
	d.activated = p
	d.mu.Unlock()
	return nil
}

// ActivateProfile implements ppd_driver_intel_pstate_activate_profile.
func (d *Driver) ActivateProfile(p profile.Profile, _ profile.ActivationReason) error {
	return d.applyToDevices(p)
}

// PowerChanged implements ppd_driver_intel_pstate_power_changed: remembers
// the AC/battery state and re-applies the last activated profile, since
// the EPP/EPB preference for "balanced" depends on power source.
func (d *Driver) PowerChanged(src profile.PowerSource) error {
	d.mu.Lock()
	d.onBattery = src == profile.PowerBattery
	activated := d.activated
	d.mu.Unlock()

	return d.applyToDevices(activated)
}

// PrepareToSleep implements ppd_driver_intel_pstate_prepare_for_sleep:
// re-asserts the preference on resume only.
func (d *Driver) PrepareToSleep(entering bool) error {
	if entering {
		return nil
	}
	d.mu.Lock()
	activated := d.activated
	d.mu.Unlock()
	if err := d.applyToDevices(activated); err != nil {
		return fmt.Errorf("could not reapply energy_perf_bias preference on resume: %w", err)
	}
	return nil
}
