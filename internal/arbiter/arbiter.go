// Package arbiter implements the Profile Arbitration Engine (C3): the
// transactional activation across CPU driver, platform driver, and
// fire-and-forget actions, plus the active/selected profile state machine.
// Structured as a mutex-protected struct with small single-purpose
// methods, the way the teacher's internal/escalation/state_machine.go
// ProcessState is structured. The transaction itself is grounded on
// activate_target_profile and set_active_profile in the original C daemon.
package arbiter

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upower/power-profilesd/internal/audit"
	"github.com/upower/power-profilesd/internal/backend"
	"github.com/upower/power-profilesd/internal/holds"
	"github.com/upower/power-profilesd/internal/observability"
	"github.com/upower/power-profilesd/internal/ppderr"
	"github.com/upower/power-profilesd/internal/profile"
	"github.com/upower/power-profilesd/internal/state"
)

// Engine holds the arbitration state. All exported methods are safe for
// concurrent use, though in practice the daemon drives every call from its
// single event loop goroutine (see SPEC_FULL.md §5).
type Engine struct {
	mu       sync.Mutex
	active   profile.Profile
	selected profile.Profile

	cpu      backend.Driver
	platform backend.Driver
	actions  []backend.Action

	holds   *holds.Registry
	store   *state.Store
	ledger  *audit.Ledger // optional; nil disables audit entries
	metrics *observability.Metrics // optional; nil disables metrics
	logger  *zap.Logger

	// notify is called after every committed (or attempted) transaction
	// and after every hold-registry mutation; it carries no payload by
	// design — the bus adapter recomputes and diffs the full property set
	// against what it last emitted, matching "emit exactly the fields
	// that changed" without the arbiter needing to know the D-Bus
	// property encoding.
	notify func()

	// notifyReleased is invoked once per hold, synchronously, before the
	// activation it precedes — the ordering guarantee in spec.md §5 that
	// release notifications are emitted before the triggering activation.
	notifyReleased func(holds.Hold)
}

// New constructs an Engine with active and selected both defaulted to
// Balanced, per spec.md §4.3. Call Bind once back-ends are probed, then
// Reset to run the start-up/restart sequence.
func New(
	holdsReg *holds.Registry,
	store *state.Store,
	ledger *audit.Ledger,
	metrics *observability.Metrics,
	logger *zap.Logger,
	notify func(),
	notifyReleased func(holds.Hold),
) *Engine {
	return &Engine{
		active:         profile.Balanced,
		selected:       profile.Balanced,
		holds:          holdsReg,
		store:          store,
		ledger:         ledger,
		metrics:        metrics,
		logger:         logger,
		notify:         notify,
		notifyReleased: notifyReleased,
	}
}

// Bind installs the currently bound back-ends. Called by the registry
// after every probe pass (initial start and every restart).
func (e *Engine) Bind(cpu, platform backend.Driver, actions []backend.Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cpu = cpu
	e.platform = platform
	e.actions = actions
}

// Active returns the currently active profile.
func (e *Engine) Active() profile.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Selected returns the user-chosen baseline profile.
func (e *Engine) Selected() profile.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// SupportedProfiles returns the union of the bound drivers' supported
// profile bits.
func (e *Engine) SupportedProfiles() profile.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.supportedLocked()
}

func (e *Engine) supportedLocked() profile.Profile {
	var set profile.Profile
	if e.cpu != nil {
		set |= e.cpu.SupportedProfiles()
	}
	if e.platform != nil {
		set |= e.platform.SupportedProfiles()
	}
	return set
}

// Degraded returns the comma-join of the bound drivers' current
// performance-degraded reasons, empty string dropped, per spec.md §4.3.
func (e *Engine) Degraded() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var parts []string
	if e.cpu != nil {
		if r := e.cpu.PerformanceDegraded(); r != "" {
			parts = append(parts, r)
		}
	}
	if e.platform != nil {
		if r := e.platform.PerformanceDegraded(); r != "" {
			parts = append(parts, r)
		}
	}
	return strings.Join(parts, ",")
}

// Reset runs the start-up/restart sequence: apply persisted state (gated
// on bound driver identity), then transactionally activate the resulting
// active profile with reason Reset. Called once at start-up and again
// after every registry restart triggered by a deferred re-probe.
func (e *Engine) Reset() error {
	e.applyPersistedConfiguration()

	e.mu.Lock()
	target := e.active
	e.mu.Unlock()

	return e.activate(target, profile.ReasonReset, "")
}

// applyPersistedConfiguration implements the apply-configuration rule in
// spec.md §4.3: persisted CpuDriver/PlatformDriver must match the bound
// driver names (when that slot is populated in the file) or the whole
// record is discarded; an unparseable Profile is erased.
func (e *Engine) applyPersistedConfiguration() {
	p, err := e.store.Load()
	if err != nil {
		e.logger.Debug("failed to read persisted state", zap.Error(err))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if p.CPUDriver != "" {
		if e.cpu == nil || e.cpu.Name() != p.CPUDriver {
			return
		}
	}
	if p.PlatformDriver != "" {
		if e.platform == nil || e.platform.Name() != p.PlatformDriver {
			return
		}
	}

	target, ok := profile.Parse(p.Profile)
	if !ok {
		if p.Profile != "" {
			if err := e.store.EraseProfile(); err != nil {
				e.logger.Debug("failed to erase unparseable persisted profile", zap.Error(err))
			}
		}
		return
	}
	if !target.Has(e.supportedLocked()) {
		return
	}
	e.active = target
	e.selected = target
}

// SetUserProfile implements the user-set path in spec.md §4.3/§4.4: all
// existing holds are released with notification to their owners before the
// activation proceeds; selected_profile is updated only once that
// activation succeeds, so a failed user set leaves the baseline untouched.
// A no-op set (target already active) returns nil without releasing holds,
// persisting, or notifying — invariant 6.
func (e *Engine) SetUserProfile(target profile.Profile) error {
	if !target.IsSingular() {
		return ppderr.InvalidArgs("invalid profile name")
	}

	e.mu.Lock()
	if target == e.active {
		e.mu.Unlock()
		return nil
	}
	if !target.Has(e.supportedLocked()) {
		e.mu.Unlock()
		return ppderr.Unavailable("cannot switch to unavailable profile %q", target)
	}
	e.mu.Unlock()

	for _, h := range e.holds.ReleaseAll() {
		e.notifyReleased(h)
	}

	err := e.activate(target, profile.ReasonUser, "")
	if err == nil {
		e.mu.Lock()
		e.selected = target
		e.mu.Unlock()
	}
	e.notify()
	return err
}

// ReconcileHolds recomputes the target profile from the current hold set
// (effective hold profile if any hold exists, else the selected baseline)
// and activates it if it differs from the active profile. Called after
// every single hold Add/Release (not ReleaseAll, which SetUserProfile
// drives directly).
func (e *Engine) ReconcileHolds() error {
	effective := e.holds.EffectiveProfile()

	e.mu.Lock()
	target := effective
	if target == profile.Unset {
		target = e.selected
	}
	current := e.active
	e.mu.Unlock()

	var err error
	if target != current {
		err = e.activate(target, profile.ReasonProgramHold, "")
	}
	e.notify()
	return err
}

// HandleFirmwareNotification implements the driver-profile-changed path:
// a driver reports a firmware-initiated profile change. No-op if it
// matches the already-active profile.
func (e *Engine) HandleFirmwareNotification(p profile.Profile) error {
	e.mu.Lock()
	current := e.active
	e.mu.Unlock()

	var err error
	if p != current {
		err = e.activate(p, profile.ReasonInternal, "")
	}
	e.notify()
	return err
}

// activate is the transactional activation core: CPU driver, then platform
// driver (rolling back the CPU driver on platform failure), then
// fire-and-forget actions, then commit and optionally persist. requester
// is recorded in the audit ledger only; it never affects behavior.
func (e *Engine) activate(target profile.Profile, reason profile.ActivationReason, requester string) error {
	start := time.Now()

	e.mu.Lock()
	previous := e.active
	cpu := e.cpu
	platform := e.platform
	actions := append([]backend.Action(nil), e.actions...)
	e.mu.Unlock()

	activateErr := e.runTransaction(target, previous, reason, cpu, platform, actions)

	e.mu.Lock()
	if activateErr == nil {
		e.active = target
	}
	e.mu.Unlock()

	if e.metrics != nil {
		outcome := "success"
		if activateErr != nil {
			outcome = "failure"
		}
		e.metrics.ActivationsTotal.WithLabelValues(reason.String(), outcome).Inc()
		e.metrics.ActivationLatency.Observe(time.Since(start).Seconds())
		active := e.Active()
		for _, p := range []profile.Profile{profile.PowerSaver, profile.Balanced, profile.Performance} {
			v := 0.0
			if p == active {
				v = 1
			}
			e.metrics.ActiveProfile.WithLabelValues(p.String()).Set(v)
		}
	}

	if activateErr == nil && reason.Persists() {
		if err := e.persist(target); err != nil {
			e.logger.Warn("failed to persist state", zap.Error(err))
		}
	}

	if e.ledger != nil {
		entry := audit.Entry{From: previous, To: target, Reason: reason, Requester: requester, Succeeded: activateErr == nil}
		if activateErr != nil {
			entry.FailureMsg = activateErr.Error()
		}
		if err := e.ledger.Append(entry); err != nil {
			e.logger.Debug("failed to append audit entry", zap.Error(err))
		}
	}

	if activateErr != nil {
		e.logger.Warn("activation failed",
			zap.String("target", target.String()),
			zap.String("reason", reason.String()),
			zap.Error(activateErr))
	} else {
		e.logger.Info("activated profile",
			zap.String("target", target.String()),
			zap.String("reason", reason.String()))
	}

	return activateErr
}

func (e *Engine) runTransaction(target, previous profile.Profile, reason profile.ActivationReason, cpu, platform backend.Driver, actions []backend.Action) error {
	if cpu != nil && target.Has(cpu.SupportedProfiles()) {
		if err := cpu.ActivateProfile(target, reason); err != nil {
			return ppderr.NewBackendFailure(cpu.Name(), "activate_profile", err)
		}
	}

	if platform != nil && target.Has(platform.SupportedProfiles()) {
		if err := platform.ActivateProfile(target, reason); err != nil {
			platformErr := ppderr.NewBackendFailure(platform.Name(), "activate_profile", err)
			if cpu != nil && target.Has(cpu.SupportedProfiles()) {
				if rbErr := cpu.ActivateProfile(previous, profile.ReasonInternal); rbErr != nil {
					e.logger.Warn("CPU driver rollback failed",
						zap.String("driver", cpu.Name()),
						zap.Error(rbErr))
				}
			}
			return platformErr
		}
	}

	for _, a := range actions {
		if err := a.ActivateProfile(target, reason); err != nil {
			e.logger.Warn("action activation failed",
				zap.String("action", a.Name()),
				zap.Error(err))
		}
	}

	return nil
}

// ProfileInfo is one entry of the bus-facing Profiles property.
type ProfileInfo struct {
	Profile        profile.Profile
	CPUDriver      string
	PlatformDriver string
}

// ProfilesProperty builds the Profiles property value: one entry per
// supported profile, annotated with whichever bound driver names
// contribute support for it.
func (e *Engine) ProfilesProperty() []ProfileInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []ProfileInfo
	for _, p := range []profile.Profile{profile.PowerSaver, profile.Balanced, profile.Performance} {
		if !p.Has(e.supportedLocked()) {
			continue
		}
		info := ProfileInfo{Profile: p}
		if e.cpu != nil && p.Has(e.cpu.SupportedProfiles()) {
			info.CPUDriver = e.cpu.Name()
		}
		if e.platform != nil && p.Has(e.platform.SupportedProfiles()) {
			info.PlatformDriver = e.platform.Name()
		}
		out = append(out, info)
	}
	return out
}

// ActionNames returns the bound action names, for the Actions property.
func (e *Engine) ActionNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.actions))
	for _, a := range e.actions {
		names = append(names, a.Name())
	}
	return names
}

// DriverNames returns the bound CPU and platform driver names (empty if
// unbound), for diagnostics and persistence.
func (e *Engine) DriverNames() (cpu, platform string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cpu != nil {
		cpu = e.cpu.Name()
	}
	if e.platform != nil {
		platform = e.platform.Name()
	}
	return
}

func (e *Engine) persist(target profile.Profile) error {
	e.mu.Lock()
	var cpuName, platformName string
	if e.cpu != nil {
		cpuName = e.cpu.Name()
	}
	if e.platform != nil {
		platformName = e.platform.Name()
	}
	e.mu.Unlock()

	return e.store.Save(state.Persisted{
		CPUDriver:      cpuName,
		PlatformDriver: platformName,
		Profile:        target.String(),
	})
}
