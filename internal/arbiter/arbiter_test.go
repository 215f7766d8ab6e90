package arbiter

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/upower/power-profilesd/internal/backend"
	"github.com/upower/power-profilesd/internal/holds"
	"github.com/upower/power-profilesd/internal/profile"
	"github.com/upower/power-profilesd/internal/state"
)

// fakeDriver is a minimal backend.Driver for arbiter tests.
type fakeDriver struct {
	name      string
	supported profile.Profile
	degraded  string

	activateErr  error
	activateLog  []profile.Profile
	activateReasons []profile.ActivationReason
}

func (d *fakeDriver) Name() string                          { return d.name }
func (d *fakeDriver) Kind() profile.BackendKind              { return profile.CPUDriver }
func (d *fakeDriver) Probe() (profile.ProbeOutcome, error)   { return profile.ProbeSuccess, nil }
func (d *fakeDriver) SupportedProfiles() profile.Profile     { return d.supported }
func (d *fakeDriver) PerformanceDegraded() string            { return d.degraded }
func (d *fakeDriver) SetProfileChangedHandler(func(profile.Profile)) {}
func (d *fakeDriver) SetProbeRequestHandler(func())                  {}
func (d *fakeDriver) SetDegradedChangedHandler(func(string))         {}

func (d *fakeDriver) ActivateProfile(p profile.Profile, reason profile.ActivationReason) error {
	d.activateLog = append(d.activateLog, p)
	d.activateReasons = append(d.activateReasons, reason)
	if d.activateErr != nil {
		return d.activateErr
	}
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeDriver, *fakeDriver) {
	t.Helper()
	dir := t.TempDir()
	store := state.NewStore(dir)
	hr := holds.New()

	cpu := &fakeDriver{name: "test_cpu", supported: profile.All}
	platform := &fakeDriver{name: "test_platform", supported: profile.All}

	e := New(hr, store, nil, nil, zap.NewNop(), func() {}, func(holds.Hold) {})
	e.Bind(cpu, platform, nil)
	return e, cpu, platform
}

// TestSimpleUserSet exercises S1.
func TestSimpleUserSet(t *testing.T) {
	e, cpu, _ := newTestEngine(t)

	if err := e.SetUserProfile(profile.Performance); err != nil {
		t.Fatalf("SetUserProfile() error = %v", err)
	}
	if e.Active() != profile.Performance {
		t.Errorf("Active() = %v, want Performance", e.Active())
	}
	if len(cpu.activateLog) != 1 || cpu.activateLog[0] != profile.Performance {
		t.Errorf("cpu.activateLog = %v, want [Performance]", cpu.activateLog)
	}
	if cpu.activateReasons[0] != profile.ReasonUser {
		t.Errorf("cpu activation reason = %v, want User", cpu.activateReasons[0])
	}
}

// TestIdempotentSetEmitsNoNotification exercises invariant 6.
func TestIdempotentSetEmitsNoNotification(t *testing.T) {
	e, cpu, _ := newTestEngine(t)
	notified := 0
	e.notify = func() { notified++ }

	if err := e.SetUserProfile(profile.Balanced); err != nil {
		t.Fatalf("SetUserProfile(current) error = %v", err)
	}
	if notified != 0 {
		t.Errorf("notify called %d times for a no-op set, want 0", notified)
	}
	if len(cpu.activateLog) != 0 {
		t.Errorf("driver was activated on a no-op set: %v", cpu.activateLog)
	}
}

// TestRollbackOnPlatformFailure exercises S6 and invariant 2/5.
func TestRollbackOnPlatformFailure(t *testing.T) {
	e, cpu, platform := newTestEngine(t)
	platform.activateErr = errors.New("firmware rejected profile")

	err := e.SetUserProfile(profile.Performance)
	if err == nil {
		t.Fatal("SetUserProfile() error = nil, want platform failure")
	}

	if e.Active() != profile.Balanced {
		t.Errorf("Active() = %v after failed activation, want unchanged Balanced", e.Active())
	}
	if e.Selected() != profile.Balanced {
		t.Errorf("Selected() = %v after failed user set, want unchanged Balanced", e.Selected())
	}

	if len(cpu.activateLog) != 2 {
		t.Fatalf("cpu.activateLog = %v, want [Performance, Balanced] (activate then rollback)", cpu.activateLog)
	}
	if cpu.activateLog[0] != profile.Performance || cpu.activateReasons[0] != profile.ReasonUser {
		t.Errorf("cpu first call = (%v,%v), want (Performance,User)", cpu.activateLog[0], cpu.activateReasons[0])
	}
	if cpu.activateLog[1] != profile.Balanced || cpu.activateReasons[1] != profile.ReasonInternal {
		t.Errorf("cpu rollback call = (%v,%v), want (Balanced,Internal)", cpu.activateLog[1], cpu.activateReasons[1])
	}
}

// TestPersistenceGatedOnDriverIdentity exercises S7's gate: a persisted
// profile recorded against a different CPU driver name is not applied.
func TestPersistenceGatedOnDriverIdentity(t *testing.T) {
	dir := t.TempDir()
	store := state.NewStore(dir)
	if err := store.Save(state.Persisted{CPUDriver: "intel_pstate", Profile: "performance"}); err != nil {
		t.Fatal(err)
	}

	hr := holds.New()
	cpu := &fakeDriver{name: "amd_pstate", supported: profile.All}
	e := New(hr, store, nil, nil, zap.NewNop(), func() {}, func(holds.Hold) {})
	e.Bind(cpu, nil, nil)

	if err := e.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if e.Active() != profile.Balanced {
		t.Errorf("Active() = %v, want Balanced (persisted CpuDriver mismatch must be discarded)", e.Active())
	}
}

func TestReconcileHoldsActivatesEffectiveProfile(t *testing.T) {
	e, cpu, _ := newTestEngine(t)
	hr := holds.New()
	e.holds = hr

	if _, err := hr.Add(profile.Performance, "video", "vlc", ":1.1", "primary"); err != nil {
		t.Fatal(err)
	}
	if err := e.ReconcileHolds(); err != nil {
		t.Fatalf("ReconcileHolds() error = %v", err)
	}
	if e.Active() != profile.Performance {
		t.Errorf("Active() = %v, want Performance", e.Active())
	}
	if cpu.activateReasons[len(cpu.activateReasons)-1] != profile.ReasonProgramHold {
		t.Errorf("last activation reason = %v, want ProgramHold", cpu.activateReasons[len(cpu.activateReasons)-1])
	}
}

var _ backend.Driver = (*fakeDriver)(nil)
