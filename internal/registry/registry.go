// Package registry implements the Back-end Registry & Probe Loop (C2): an
// ordered probe pass over a statically declared constructor list, slot
// exclusivity for the CPU and platform driver, blocklist filtering,
// deferred-probe bookkeeping, and full-restart on a deferred driver's
// probe-request. Grounded on start_profile_drivers/stop_profile_drivers/
// restart_profile_drivers/driver_probe_request_cb/has_required_drivers in
// the original C daemon; the ordered static constructor list is the direct
// analogue of the source's objects[] array. Startup step logging follows
// the teacher's numbered-step texture in cmd/octoreflex/main.go.
package registry

import (
	"io"

	"go.uber.org/zap"

	"github.com/upower/power-profilesd/internal/backend"
	"github.com/upower/power-profilesd/internal/config"
	"github.com/upower/power-profilesd/internal/observability"
	"github.com/upower/power-profilesd/internal/ppderr"
	"github.com/upower/power-profilesd/internal/profile"
)

// Constructor builds one back-end instance. Called once per probe pass —
// back-ends are not reused across restarts, matching "re-created on
// restart" in spec.md §3's lifecycle note.
type Constructor func() backend.Backend

// Registry owns the currently bound back-ends and the deferred list.
type Registry struct {
	logger  *zap.Logger
	metrics *observability.Metrics
	cfg     *config.Config

	constructors []Constructor

	cpu      backend.Driver
	platform backend.Driver
	actions  []backend.Action
	deferred []backend.Driver

	// onRestartNeeded is set by the daemon to drive a full restart when a
	// deferred driver signals probe-request. Kept as an injected callback
	// rather than the registry calling its own Restart directly so the
	// daemon can serialize the restart onto its single event loop.
	onRestartNeeded func()
}

// New constructs an empty Registry.
func New(logger *zap.Logger, metrics *observability.Metrics, cfg *config.Config, onRestartNeeded func()) *Registry {
	return &Registry{logger: logger, metrics: metrics, cfg: cfg, onRestartNeeded: onRestartNeeded}
}

// Bound returns the currently bound CPU driver, platform driver (either
// may be nil), and action list.
func (r *Registry) Bound() (cpu, platform backend.Driver, actions []backend.Action) {
	return r.cpu, r.platform, append([]backend.Action(nil), r.actions...)
}

// NeedsPowerSource reports whether any bound back-end implements
// backend.PowerChanger.
func (r *Registry) NeedsPowerSource() bool {
	for _, b := range r.allBound() {
		if _, ok := b.(backend.PowerChanger); ok {
			return true
		}
	}
	return false
}

// NeedsBatteryLevel reports whether any bound back-end implements
// backend.BatteryChanger.
func (r *Registry) NeedsBatteryLevel() bool {
	for _, b := range r.allBound() {
		if _, ok := b.(backend.BatteryChanger); ok {
			return true
		}
	}
	return false
}

// NeedsSuspendMonitor reports whether any bound back-end implements
// backend.SleepPreparer.
func (r *Registry) NeedsSuspendMonitor() bool {
	for _, b := range r.allBound() {
		if _, ok := b.(backend.SleepPreparer); ok {
			return true
		}
	}
	return false
}

func (r *Registry) allBound() []backend.Backend {
	var all []backend.Backend
	if r.cpu != nil {
		all = append(all, r.cpu)
	}
	if r.platform != nil {
		all = append(all, r.platform)
	}
	for _, a := range r.actions {
		all = append(all, a)
	}
	return all
}

// Start runs the probe sequence over constructors in declared order: skip
// blocklisted names, enforce at-most-one CPU/platform slot, validate a
// non-empty supported-profiles subset for drivers, probe, and bind on
// success or retain on defer. constructors is remembered for Restart.
func (r *Registry) Start(constructors []Constructor) error {
	r.constructors = constructors
	r.cpu, r.platform, r.actions, r.deferred = nil, nil, nil, nil

	r.logger.Info("probing back-ends", zap.Int("candidates", len(constructors)))

	for _, ctor := range constructors {
		b := ctor()
		name := b.Name()

		if drv, ok := b.(backend.Driver); ok {
			if r.cfg.IsBlockedDriver(name) {
				r.logger.Debug("driver blocked", zap.String("driver", name))
				continue
			}
			if r.slotFilled(drv) {
				r.logger.Debug("driver slot already filled, skipping", zap.String("driver", name))
				continue
			}
			if drv.SupportedProfiles()&profile.All == 0 {
				r.logger.Warn("driver declares no supported profiles, skipping", zap.String("driver", name))
				continue
			}
			r.probeAndBindDriver(drv)
			continue
		}

		if action, ok := b.(backend.Action); ok {
			if r.cfg.IsBlockedAction(name) {
				r.logger.Debug("action blocked", zap.String("action", name))
				continue
			}
			r.probeAndBindAction(action)
		}
	}

	if !r.HasRequiredDrivers() {
		return ppderr.ErrStartupFailure
	}

	r.recordBoundCounts()

	r.logger.Info("back-end probe complete",
		zap.String("cpu_driver", driverName(r.cpu)),
		zap.String("platform_driver", driverName(r.platform)),
		zap.Int("actions", len(r.actions)),
		zap.Int("deferred", len(r.deferred)))

	return nil
}

func driverName(d backend.Driver) string {
	if d == nil {
		return ""
	}
	return d.Name()
}

func (r *Registry) slotFilled(drv backend.Driver) bool {
	switch drv.Kind() {
	case profile.CPUDriver:
		return r.cpu != nil
	case profile.PlatformDriver:
		return r.platform != nil
	default:
		return false
	}
}

func (r *Registry) probeAndBindDriver(drv backend.Driver) {
	outcome, err := drv.Probe()
	r.recordProbe(drv.Name(), outcome)

	switch outcome {
	case profile.ProbeFail:
		if err != nil {
			r.logger.Debug("driver probe failed", zap.String("driver", drv.Name()), zap.Error(err))
		}
		return
	case profile.ProbeDefer:
		drv.SetProbeRequestHandler(r.requestRestart)
		r.deferred = append(r.deferred, drv)
		return
	}

	drv.SetProfileChangedHandler(nil)
	drv.SetDegradedChangedHandler(nil)
	drv.SetProbeRequestHandler(nil)

	switch drv.Kind() {
	case profile.CPUDriver:
		r.cpu = drv
	case profile.PlatformDriver:
		r.platform = drv
	}
	r.logger.Info("bound driver", zap.String("driver", drv.Name()), zap.String("kind", drv.Kind().String()))
}

func (r *Registry) probeAndBindAction(a backend.Action) {
	outcome, err := a.Probe()
	r.recordProbe(a.Name(), outcome)

	if outcome != profile.ProbeSuccess {
		if err != nil {
			r.logger.Debug("action probe failed", zap.String("action", a.Name()), zap.Error(err))
		}
		return
	}
	r.actions = append(r.actions, a)
	r.logger.Info("bound action", zap.String("action", a.Name()))
}

func (r *Registry) recordProbe(name string, outcome profile.ProbeOutcome) {
	if r.metrics != nil {
		r.metrics.ProbeOutcomesTotal.WithLabelValues(name, outcome.String()).Inc()
	}
}

// recordBoundCounts syncs BackendsBoundTotal to the current bind state, by
// kind. Called after every successful probe pass (initial start and
// restart) and reset to zero on Stop.
func (r *Registry) recordBoundCounts() {
	if r.metrics == nil {
		return
	}
	cpuCount := 0
	if r.cpu != nil {
		cpuCount = 1
	}
	platformCount := 0
	if r.platform != nil {
		platformCount = 1
	}
	r.metrics.BackendsBoundTotal.WithLabelValues("cpu").Set(float64(cpuCount))
	r.metrics.BackendsBoundTotal.WithLabelValues("platform").Set(float64(platformCount))
	r.metrics.BackendsBoundTotal.WithLabelValues("action").Set(float64(len(r.actions)))
}

// HasRequiredDrivers implements has_required_drivers: at least one of
// {cpu, platform} must be bound, and their combined supported profiles
// must cover {balanced, power-saver}.
func (r *Registry) HasRequiredDrivers() bool {
	if r.cpu == nil && r.platform == nil {
		return false
	}
	var supported profile.Profile
	if r.cpu != nil {
		supported |= r.cpu.SupportedProfiles()
	}
	if r.platform != nil {
		supported |= r.platform.SupportedProfiles()
	}
	required := profile.Balanced | profile.PowerSaver
	return supported&required == required
}

// requestRestart is installed as every deferred driver's probe-request
// handler.
func (r *Registry) requestRestart() {
	if r.metrics != nil {
		r.metrics.RestartsTotal.Inc()
	}
	if r.onRestartNeeded != nil {
		r.onRestartNeeded()
	}
}

// Restart tears down and re-probes using the constructor list passed to
// the last Start call.
func (r *Registry) Restart() error {
	r.Stop()
	return r.Start(r.constructors)
}

// Stop implements the stop sequence: disconnect signal handlers and clear
// every bound and deferred back-end. Peer-watch/hold teardown and external
// signal unsubscription are the caller's responsibility (internal/holds,
// internal/external) since the registry has no visibility into either.
func (r *Registry) Stop() {
	for _, d := range r.deferred {
		d.SetProbeRequestHandler(nil)
		closeBackend(d)
	}
	if r.cpu != nil {
		r.cpu.SetProfileChangedHandler(nil)
		r.cpu.SetDegradedChangedHandler(nil)
		closeBackend(r.cpu)
	}
	if r.platform != nil {
		r.platform.SetProfileChangedHandler(nil)
		r.platform.SetDegradedChangedHandler(nil)
		closeBackend(r.platform)
	}
	for _, a := range r.actions {
		closeBackend(a)
	}
	r.cpu, r.platform, r.actions, r.deferred = nil, nil, nil, nil
	r.recordBoundCounts()
}

// closeBackend releases resources held by a back-end that implements
// io.Closer (e.g. a polling goroutine watching a sysfs attribute). Most
// back-ends hold no such resource and are left untouched.
func closeBackend(b backend.Backend) {
	if c, ok := b.(io.Closer); ok {
		_ = c.Close()
	}
}
