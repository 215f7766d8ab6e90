// Package platformprofile implements the platform driver that writes the
// kernel's generic ACPI platform-profile firmware interface
// (/sys/firmware/acpi/platform_profile), and watches the companion
// platform_profile_choices file once at probe time to determine which of
// the three named profiles the firmware actually advertises. Grounded
// structurally on ppd-driver-intel-pstate.c's probe/activate/degraded
// shape in original_source — the platform_profile driver's own .c file
// was not present in the recovered original_source tree, so its sysfs
// contract (documented in spec.md §4.1) is ported in the same style as
// the sibling CPU drivers.
package platformprofile

import (
	"fmt"
	"strings"
	"sync"

	"github.com/upower/power-profilesd/internal/backends/basedriver"
	"github.com/upower/power-profilesd/internal/backends/sysfs"
	"github.com/upower/power-profilesd/internal/profile"
)

const (
	Name = "platform_profile"

	profilePath        = "/sys/firmware/acpi/platform_profile"
	profileChoicesPath = "/sys/firmware/acpi/platform_profile_choices"

	// choiceLowPower is the kernel's naming for "power-saver" on firmware
	// that ships the older vocabulary; both spellings are accepted.
	choicePowerSaver  = "power-saver"
	choiceLowPower    = "low-power"
	choiceBalanced    = "balanced"
	choicePerformance = "performance"
)

// Driver implements backend.Driver for the generic ACPI platform-profile
// interface.
type Driver struct {
	basedriver.Base

	root string

	mu        sync.Mutex
	choices   map[profile.Profile]string // our profile -> firmware choice string
	supported profile.Profile
	activated profile.Profile
}

// New constructs an unprobed Driver. The declared supported-profiles set
// starts as the full set (the registry's pre-probe validation in
// spec.md §4.2 step 4 requires a non-empty declared subset); Probe then
// narrows it to whatever platform_profile_choices actually advertises.
func New(root string) *Driver {
	d := &Driver{root: root, supported: profile.All}
	d.Base = basedriver.New(Name, profile.PlatformDriver, profile.All)
	return d
}

// SupportedProfiles overrides basedriver.Base's fixed field: the
// supported set narrows to the firmware's actual choices once Probe has
// read platform_profile_choices.
func (d *Driver) SupportedProfiles() profile.Profile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.supported
}

// Probe reads platform_profile_choices and maps each recognised choice
// word to one of our three profiles, succeeding if at least one
// recognised choice is present. Which profiles the bound drivers must
// cover together is left to the registry's required-driver gate.
func (d *Driver) Probe() (profile.ProbeOutcome, error) {
	if !sysfs.Exists(sysfs.Path(d.root, profilePath)) {
		return profile.ProbeFail, fmt.Errorf("no platform_profile sysfs attribute")
	}

	raw, err := sysfs.ReadString(sysfs.Path(d.root, profileChoicesPath))
	if err != nil {
		return profile.ProbeFail, fmt.Errorf("could not read platform_profile_choices: %w", err)
	}

	choices := map[profile.Profile]string{}
	var supported profile.Profile
	for _, word := range strings.Fields(raw) {
		switch word {
		case choicePowerSaver, choiceLowPower:
			choices[profile.PowerSaver] = word
			supported |= profile.PowerSaver
		case choiceBalanced:
			choices[profile.Balanced] = word
			supported |= profile.Balanced
		case choicePerformance:
			choices[profile.Performance] = word
			supported |= profile.Performance
		}
	}

	if supported&profile.All == 0 {
		return profile.ProbeFail, fmt.Errorf("no recognised platform_profile choices in %q", raw)
	}

	d.mu.Lock()
	d.choices = choices
	d.supported = supported
	d.mu.Unlock()

	return profile.ProbeSuccess, nil
}

// ActivateProfile writes the firmware-facing choice word for p.
func (d *Driver) ActivateProfile(p profile.Profile, _ profile.ActivationReason) error {
	d.mu.Lock()
	word, ok := d.choices[p]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("platform_profile does not support %q", p)
	}

	if err := sysfs.WriteString(sysfs.Path(d.root, profilePath), word); err != nil {
		return err
	}

	d.mu.Lock()
	d.activated = p
	d.mu.Unlock()
	return nil
}

// PrepareToSleep re-asserts the last activated profile on resume: some
// firmware resets platform_profile across a sleep cycle.
func (d *Driver) PrepareToSleep(entering bool) error {
	if entering {
		return nil
	}
	d.mu.Lock()
	activated := d.activated
	d.mu.Unlock()
	if activated == profile.Unset {
		return nil
	}
	return d.ActivateProfile(activated, profile.ReasonResume)
}
