// Package basedriver factors out the handler-storage boilerplate every
// concrete driver in internal/backends needs to satisfy backend.Driver:
// the three Set*Handler setters, the degraded-reason property, and the
// helpers that fire the installed callbacks. Grounded on the GObject
// property/signal plumbing (driver-name, profiles, performance-degraded,
// profile-changed, probe-request) common to every *.c driver in
// original_source, collapsed to plain Go fields and callbacks per
// SPEC_FULL.md's "Object-system signals -> explicit callbacks" design note.
package basedriver

import (
	"sync"

	"github.com/upower/power-profilesd/internal/profile"
)

// Base is embedded by every concrete driver.
type Base struct {
	mu sync.Mutex

	name     string
	kind     profile.BackendKind
	profiles profile.Profile
	degraded string

	onProfileChanged  func(profile.Profile)
	onProbeRequest    func()
	onDegradedChanged func(string)
}

// New constructs a Base for a driver with the given stable name, slot
// kind, and supported-profiles bitset.
func New(name string, kind profile.BackendKind, profiles profile.Profile) Base {
	return Base{name: name, kind: kind, profiles: profiles}
}

func (b *Base) Name() string                        { return b.name }
func (b *Base) Kind() profile.BackendKind            { return b.kind }
func (b *Base) SupportedProfiles() profile.Profile   { return b.profiles }

func (b *Base) PerformanceDegraded() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.degraded
}

// SetDegraded updates the degraded reason and, if it changed, notifies the
// installed handler. Called by the concrete driver's own file watcher.
func (b *Base) SetDegraded(reason string) {
	b.mu.Lock()
	changed := reason != b.degraded
	if changed {
		b.degraded = reason
	}
	handler := b.onDegradedChanged
	b.mu.Unlock()

	if changed && handler != nil {
		handler(reason)
	}
}

func (b *Base) SetProfileChangedHandler(fn func(profile.Profile)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onProfileChanged = fn
}

func (b *Base) SetProbeRequestHandler(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onProbeRequest = fn
}

func (b *Base) SetDegradedChangedHandler(fn func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDegradedChanged = fn
}

// NotifyProfileChanged fires the firmware-initiated profile-change
// handler, if one is installed.
func (b *Base) NotifyProfileChanged(p profile.Profile) {
	b.mu.Lock()
	fn := b.onProfileChanged
	b.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

// NotifyProbeRequest fires the deferred-driver re-probe handler, if one is
// installed.
func (b *Base) NotifyProbeRequest() {
	b.mu.Lock()
	fn := b.onProbeRequest
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}
