package main

import (
	"go.uber.org/zap"

	"github.com/upower/power-profilesd/internal/arbiter"
	"github.com/upower/power-profilesd/internal/backend"
	"github.com/upower/power-profilesd/internal/observability"
	"github.com/upower/power-profilesd/internal/profile"
)

// installDriverHandlers wires a newly-bound CPU/platform driver's
// firmware-initiated-change and degraded-reason-change callbacks back onto
// the event loop. Called once per registry bind (initial start and every
// restart), after the registry has reset both handlers to nil.
func installDriverHandlers(loop *runLoop, eng *arbiter.Engine, notify func(), drivers ...backend.Driver) {
	for _, d := range drivers {
		if d == nil {
			continue
		}
		d := d
		d.SetProfileChangedHandler(func(p profile.Profile) {
			loop.post(func() {
				// Failure is already logged inside activate(); nothing
				// further to do here.
				_ = eng.HandleFirmwareNotification(p)
			})
		})
		d.SetDegradedChangedHandler(func(string) {
			loop.post(notify)
		})
	}
}

// applyPowerChanged fans PowerChanged out to every bound back-end
// implementing backend.PowerChanger. Runs on the event loop.
func applyPowerChanged(log *zap.Logger, metrics *observability.Metrics, cpu, platform backend.Driver, actions []backend.Action, src profile.PowerSource) {
	for _, b := range boundBackends(cpu, platform, actions) {
		pc, ok := b.(backend.PowerChanger)
		if !ok {
			continue
		}
		if err := pc.PowerChanged(src); err != nil {
			log.Warn("power_changed failed", zap.String("backend", b.Name()), zap.Error(err))
		}
	}
	if metrics != nil {
		metrics.ExternalSignalsTotal.WithLabelValues("power_changed").Inc()
	}
}

// applyBatteryChanged fans BatteryChanged out to every bound back-end
// implementing backend.BatteryChanger. Runs on the event loop.
func applyBatteryChanged(log *zap.Logger, metrics *observability.Metrics, cpu, platform backend.Driver, actions []backend.Action, level float64) {
	for _, b := range boundBackends(cpu, platform, actions) {
		bc, ok := b.(backend.BatteryChanger)
		if !ok {
			continue
		}
		if err := bc.BatteryChanged(level); err != nil {
			log.Warn("battery_changed failed", zap.String("backend", b.Name()), zap.Error(err))
		}
	}
	if metrics != nil {
		metrics.ExternalSignalsTotal.WithLabelValues("battery_changed").Inc()
	}
}

// applySuspend fans PrepareToSleep out to every bound back-end implementing
// backend.SleepPreparer, on both the entering-sleep and resume edges. Runs
// on the event loop.
func applySuspend(log *zap.Logger, metrics *observability.Metrics, cpu, platform backend.Driver, actions []backend.Action, entering bool) {
	for _, b := range boundBackends(cpu, platform, actions) {
		sp, ok := b.(backend.SleepPreparer)
		if !ok {
			continue
		}
		if err := sp.PrepareToSleep(entering); err != nil {
			log.Warn("prepare_to_sleep failed", zap.String("backend", b.Name()), zap.Error(err))
		}
	}
	if metrics != nil {
		metrics.ExternalSignalsTotal.WithLabelValues("prepare_to_sleep").Inc()
	}
}

func boundBackends(cpu, platform backend.Driver, actions []backend.Action) []backend.Backend {
	var all []backend.Backend
	if cpu != nil {
		all = append(all, cpu)
	}
	if platform != nil {
		all = append(all, platform)
	}
	for _, a := range actions {
		all = append(all, a)
	}
	return all
}
