package tricklecharge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/upower/power-profilesd/internal/profile"
)

func writeFixture(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestProbeFailsWithoutBattery(t *testing.T) {
	a := New(t.TempDir())
	outcome, err := a.Probe()
	if outcome != profile.ProbeFail || err == nil {
		t.Errorf("Probe() = (%v, %v), want (ProbeFail, error)", outcome, err)
	}
}

func TestProbeFindsBatteryDevices(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root+powerSupplyDir+"BAT0/type", "Battery")
	writeFixture(t, root+powerSupplyDir+"BAT0/charge_control_end_threshold", "100")
	writeFixture(t, root+powerSupplyDir+"AC/type", "Mains")

	a := New(root)
	outcome, err := a.Probe()
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if outcome != profile.ProbeSuccess {
		t.Fatalf("Probe() = %v, want ProbeSuccess", outcome)
	}
}

func TestActivateProfileCapsThresholdInPowerSaver(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root+powerSupplyDir+"BAT0/type", "Battery")
	threshold := root + powerSupplyDir + "BAT0/charge_control_end_threshold"
	writeFixture(t, threshold, "100")

	a := New(root)
	if _, err := a.Probe(); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	if err := a.ActivateProfile(profile.PowerSaver, profile.ReasonUser); err != nil {
		t.Fatalf("ActivateProfile(PowerSaver) error = %v", err)
	}
	got, err := os.ReadFile(threshold)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "80" {
		t.Errorf("charge_control_end_threshold = %q, want 80", got)
	}

	if err := a.ActivateProfile(profile.Balanced, profile.ReasonUser); err != nil {
		t.Fatalf("ActivateProfile(Balanced) error = %v", err)
	}
	got, err = os.ReadFile(threshold)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "100" {
		t.Errorf("charge_control_end_threshold = %q, want 100", got)
	}
}
