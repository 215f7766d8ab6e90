package registry

import (
	"testing"

	"go.uber.org/zap"

	"github.com/upower/power-profilesd/internal/backend"
	"github.com/upower/power-profilesd/internal/config"
	"github.com/upower/power-profilesd/internal/profile"
)

type stubDriver struct {
	name      string
	kind      profile.BackendKind
	supported profile.Profile
	outcome   profile.ProbeOutcome

	onProbeRequest func()
}

func (d *stubDriver) Name() string                        { return d.name }
func (d *stubDriver) Kind() profile.BackendKind           { return d.kind }
func (d *stubDriver) Probe() (profile.ProbeOutcome, error) { return d.outcome, nil }
func (d *stubDriver) SupportedProfiles() profile.Profile  { return d.supported }
func (d *stubDriver) PerformanceDegraded() string         { return "" }
func (d *stubDriver) ActivateProfile(profile.Profile, profile.ActivationReason) error { return nil }
func (d *stubDriver) SetProfileChangedHandler(func(profile.Profile))                  {}
func (d *stubDriver) SetProbeRequestHandler(f func())                                 { d.onProbeRequest = f }
func (d *stubDriver) SetDegradedChangedHandler(func(string))                          {}

func ctorFor(d *stubDriver) Constructor {
	return func() backend.Backend { return d }
}

func TestStartBindsFirstSuccessfulDriverPerSlot(t *testing.T) {
	first := &stubDriver{name: "intel_pstate", kind: profile.CPUDriver, supported: profile.All, outcome: profile.ProbeSuccess}
	second := &stubDriver{name: "amd_pstate", kind: profile.CPUDriver, supported: profile.All, outcome: profile.ProbeSuccess}

	r := New(zap.NewNop(), nil, config.Defaults(), nil)
	if err := r.Start([]Constructor{ctorFor(first), ctorFor(second)}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	cpu, _, _ := r.Bound()
	if cpu == nil || cpu.Name() != "intel_pstate" {
		t.Errorf("bound cpu driver = %v, want intel_pstate (first to probe success)", cpu)
	}
}

func TestStartSkipsBlockedDriver(t *testing.T) {
	blocked := &stubDriver{name: "intel_pstate", kind: profile.CPUDriver, supported: profile.All, outcome: profile.ProbeSuccess}
	fallback := &stubDriver{name: "amd_pstate", kind: profile.CPUDriver, supported: profile.All, outcome: profile.ProbeSuccess}

	cfg := config.Defaults()
	cfg.BlockDrivers = []string{"intel_pstate"}

	r := New(zap.NewNop(), nil, cfg, nil)
	if err := r.Start([]Constructor{ctorFor(blocked), ctorFor(fallback)}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	cpu, _, _ := r.Bound()
	if cpu == nil || cpu.Name() != "amd_pstate" {
		t.Errorf("bound cpu driver = %v, want amd_pstate (intel_pstate blocked)", cpu)
	}
}

func TestStartFailsWithoutRequiredDrivers(t *testing.T) {
	narrow := &stubDriver{name: "narrow", kind: profile.CPUDriver, supported: profile.Performance, outcome: profile.ProbeSuccess}

	r := New(zap.NewNop(), nil, config.Defaults(), nil)
	err := r.Start([]Constructor{ctorFor(narrow)})
	if err == nil {
		t.Fatal("Start() error = nil, want startup failure (no balanced+power-saver coverage)")
	}
}

func TestDeferredDriverTriggersRestart(t *testing.T) {
	deferred := &stubDriver{name: "deferred", kind: profile.PlatformDriver, supported: profile.All, outcome: profile.ProbeDefer}
	cpu := &stubDriver{name: "cpu", kind: profile.CPUDriver, supported: profile.All, outcome: profile.ProbeSuccess}

	restarted := 0
	r := New(zap.NewNop(), nil, config.Defaults(), func() { restarted++ })
	if err := r.Start([]Constructor{ctorFor(cpu), ctorFor(deferred)}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if deferred.onProbeRequest == nil {
		t.Fatal("deferred driver never had its probe-request handler installed")
	}
	deferred.onProbeRequest()

	if restarted != 1 {
		t.Errorf("restart callback invoked %d times, want 1", restarted)
	}
}
