// Package placeholder implements the generic placeholder driver: it
// advertises every profile and always probes successfully, existing
// purely so the registry's required-driver gate (spec.md §4.2) can never
// fail on hardware lacking any of the concrete drivers. It performs no
// sysfs I/O at all — there is nothing to roll back to, and nothing that
// can fail. Grounded on ppd_driver_placeholder in original_source (its
// .c file was filtered out of the recovered tree; the contract is fully
// specified in power-profiles-daemon.c's objects[] ordering comment,
// "Generic profile driver", bound after every hardware-specific driver).
package placeholder

import (
	"github.com/upower/power-profilesd/internal/backends/basedriver"
	"github.com/upower/power-profilesd/internal/profile"
)

// Name is the stable identifier bound last in the ordered constructor
// list (internal/backends.Constructors), after every hardware driver.
const Name = "placeholder"

// Driver implements backend.Driver with no back-end state of its own.
type Driver struct {
	basedriver.Base
}

// New constructs the placeholder driver.
func New() *Driver {
	d := &Driver{}
	d.Base = basedriver.New(Name, profile.CPUDriver, profile.All)
	return d
}

// Probe always succeeds.
func (d *Driver) Probe() (profile.ProbeOutcome, error) {
	return profile.ProbeSuccess, nil
}

// ActivateProfile is a no-op that always succeeds.
func (d *Driver) ActivateProfile(profile.Profile, profile.ActivationReason) error {
	return nil
}
