package amdgpudpm

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

func writeCPUVendor(t *testing.T, root, vendor string) {
	t.Helper()
	writeFixture(t, root+"/proc/cpuinfo", "vendor_id\t: "+vendor+"\n")
}

func TestProbeFailsOnNonAMDHost(t *testing.T) {
	root := t.TempDir()
	writeCPUVendor(t, root, "GenuineIntel")

	a := New(root)
	outcome, err := a.Probe()
	if outcome != profile.ProbeFail || err == nil {
		t.Errorf("Probe() on Intel host = (%v, %v), want (ProbeFail, error)", outcome, err)
	}
}

func TestProbeSucceedsOnAMDHost(t *testing.T) {
	root := t.TempDir()
	writeCPUVendor(t, root, "AuthenticAMD")

	a := New(root)
	outcome, err := a.Probe()
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if outcome != profile.ProbeSuccess {
		t.Fatalf("Probe() = %v, want ProbeSuccess", outcome)
	}
}

func TestActivateProfileSetsForcePerformanceLevel(t *testing.T) {
	root := t.TempDir()
	writeCPUVendor(t, root, "AuthenticAMD")
	dpmAttrPath := root + drmClassDir + "card0/device/power_dpm_force_performance_level"
	writeFixture(t, dpmAttrPath, "auto")

	a := New(root)
	if _, err := a.Probe(); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	if err := a.ActivateProfile(profile.PowerSaver, profile.ReasonUser); err != nil {
		t.Fatalf("ActivateProfile(PowerSaver) error = %v", err)
	}
	got, err := os.ReadFile(dpmAttrPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "low" {
		t.Errorf("power_dpm_force_performance_level = %q, want low", got)
	}

	if err := a.ActivateProfile(profile.Performance, profile.ReasonUser); err != nil {
		t.Fatalf("ActivateProfile(Performance) error = %v", err)
	}
	got, err = os.ReadFile(dpmAttrPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "auto" {
		t.Errorf("power_dpm_force_performance_level = %q, want auto", got)
	}
}

func TestActivateProfileSkipsManualOverride(t *testing.T) {
	root := t.TempDir()
	writeCPUVendor(t, root, "AuthenticAMD")
	dpmAttrPath := root + drmClassDir + "card0/device/power_dpm_force_performance_level"
	writeFixture(t, dpmAttrPath, "manual")

	a := New(root)
	if _, err := a.Probe(); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if err := a.ActivateProfile(profile.PowerSaver, profile.ReasonUser); err != nil {
		t.Fatalf("ActivateProfile() error = %v", err)
	}

	got, err := os.ReadFile(dpmAttrPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "manual" {
		t.Errorf("power_dpm_force_performance_level = %q, want unchanged manual", got)
	}
}

func TestIgnoresRenderOnlyDRMEntries(t *testing.T) {
	root := t.TempDir()
	writeCPUVendor(t, root, "AuthenticAMD")
	writeFixture(t, root+drmClassDir+"renderD128/device/power_dpm_force_performance_level", "auto")

	a := New(root)
	if _, err := a.Probe(); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if got := a.drmCardDevices(); len(got) != 0 {
		t.Errorf("drmCardDevices() = %v, want none (renderD* excluded)", got)
	}
}
