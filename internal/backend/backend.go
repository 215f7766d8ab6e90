// Package backend defines the uniform contract for power-profile back-ends:
// probe, activate-profile, and the optional capability interfaces a
// back-end may additionally implement (power-source/battery/suspend
// reactions, firmware-initiated change signals).
//
// The object-system vtable of the source (probe/activate_profile/
// power_changed/battery_changed/prepare_to_sleep, plus the profile-changed
// and probe-request signals) becomes a required Backend interface plus a
// set of small optional interfaces that a concrete back-end implements only
// if it needs them. The registry (internal/registry) discovers which
// optional interfaces a back-end satisfies via type assertion instead of
// an explicit capability bitmask — that is the idiomatic Go rendering of
// "capability presence is explicit" from the design notes.
package backend

import "github.com/upower/power-profilesd/internal/profile"

// Backend is implemented by every driver and action.
type Backend interface {
	// Name is the stable identifier used for logs, blocklists, and (for
	// drivers) persisted state. Unique across all back-ends.
	Name() string

	// Kind distinguishes CPU driver / platform driver / action.
	Kind() profile.BackendKind

	// Probe is idempotent and has no observable side effects on failure.
	// Actions only ever return ProbeSuccess or ProbeFail; ProbeDefer is
	// meaningful for drivers only.
	Probe() (profile.ProbeOutcome, error)

	// ActivateProfile makes the back-end's externally observable state
	// reflect p. Must return promptly: the core's event loop does not
	// yield between the steps of a transactional activation, so any
	// internal I/O here must complete synchronously from the loop's
	// point of view.
	ActivateProfile(p profile.Profile, reason profile.ActivationReason) error
}

// Driver is a Backend that additionally owns a slot (CPU or platform),
// advertises the subset of profiles it supports, and can report being
// performance-degraded or request a re-probe.
type Driver interface {
	Backend

	// SupportedProfiles is a non-empty subset of profile.All.
	SupportedProfiles() profile.Profile

	// PerformanceDegraded returns the current degraded reason, or "" if
	// not degraded.
	PerformanceDegraded() string

	// SetProfileChangedHandler installs the callback invoked when the
	// driver detects a firmware-initiated profile change. At most one
	// handler is ever installed (the registry clears it at bind time and
	// the daemon installs it once per bind); a nil handler clears it.
	SetProfileChangedHandler(func(profile.Profile))

	// SetProbeRequestHandler installs the callback invoked when a
	// deferred driver becomes ready to be re-probed.
	SetProbeRequestHandler(func())

	// SetDegradedChangedHandler installs the callback invoked whenever
	// PerformanceDegraded's value changes.
	SetDegradedChangedHandler(func(reason string))
}

// Action is a Backend with no slot; its effects are secondary to profile
// switching. Action carries no additional required methods — it may still
// implement the optional PowerChanger/BatteryChanger interfaces below.
type Action interface {
	Backend
}

// PowerChanger is implemented by back-ends that react to AC/battery source
// changes. Must not change the active profile.
type PowerChanger interface {
	PowerChanged(src profile.PowerSource) error
}

// BatteryChanger is implemented by back-ends that react to battery
// percentage changes. Must not change the active profile.
type BatteryChanger interface {
	BatteryChanged(level float64) error
}

// SleepPreparer is implemented by drivers that need to re-assert state
// across suspend/resume. entering is true when the system is about to
// sleep, false on resume. Only drivers implement this in practice; the
// registry checks the interface on any Backend regardless of kind.
type SleepPreparer interface {
	PrepareToSleep(entering bool) error
}
