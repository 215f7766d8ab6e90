package amdpstate

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

func setupFixture(t *testing.T, pmProfile string) string {
	t.Helper()
	root := t.TempDir()
	writeFixture(t, root+pstateStatusPath, "active")
	writeFixture(t, root+acpiPMProfile, pmProfile)
	writeFixture(t, root+cpufreqPolicyDir+"policy0/energy_performance_preference", "balance_performance")
	writeFixture(t, root+cpufreqPolicyDir+"policy0/scaling_governor", "powersave")
	return root
}

func TestProbeFailsWhenNotActive(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root+pstateStatusPath, "guided")

	d := New(root)
	outcome, err := d.Probe()
	if outcome != profile.ProbeFail || err == nil {
		t.Errorf("Probe() = (%v, %v), want (ProbeFail, error)", outcome, err)
	}
}

func TestProbeFailsOnDisqualifiedPMProfile(t *testing.T) {
	root := setupFixture(t, "4") // enterprise server

	d := New(root)
	outcome, err := d.Probe()
	if outcome != profile.ProbeFail || err == nil {
		t.Errorf("Probe() with server PM profile = (%v, %v), want (ProbeFail, error)", outcome, err)
	}
}

func TestProbeSucceeds(t *testing.T) {
	root := setupFixture(t, "2") // mobile, not disqualified

	d := New(root)
	outcome, err := d.Probe()
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if outcome != profile.ProbeSuccess {
		t.Fatalf("Probe() = %v, want ProbeSuccess", outcome)
	}
}

func TestActivateProfileWritesGovernorAndEPP(t *testing.T) {
	root := setupFixture(t, "2")
	d := New(root)
	if _, err := d.Probe(); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	if err := d.ActivateProfile(profile.Performance, profile.ReasonUser); err != nil {
		t.Fatalf("ActivateProfile() error = %v", err)
	}

	gov, err := os.ReadFile(root + cpufreqPolicyDir + "policy0/scaling_governor")
	if err != nil {
		t.Fatal(err)
	}
	if string(gov) != "performance" {
		t.Errorf("scaling_governor = %q, want performance", gov)
	}
	epp, err := os.ReadFile(root + cpufreqPolicyDir + "policy0/energy_performance_preference")
	if err != nil {
		t.Fatal(err)
	}
	if string(epp) != "performance" {
		t.Errorf("energy_performance_preference = %q, want performance", epp)
	}
}

func TestActivateProfilePowerSaverDisablesBoost(t *testing.T) {
	root := setupFixture(t, "2")
	writeFixture(t, root+cpufreqPolicyDir+"policy0/boost", "1")

	d := New(root)
	if _, err := d.Probe(); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if err := d.ActivateProfile(profile.PowerSaver, profile.ReasonUser); err != nil {
		t.Fatalf("ActivateProfile() error = %v", err)
	}

	boost, err := os.ReadFile(root + cpufreqPolicyDir + "policy0/boost")
	if err != nil {
		t.Fatal(err)
	}
	if string(boost) != "0" {
		t.Errorf("boost = %q, want 0", boost)
	}
}
