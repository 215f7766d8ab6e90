package placeholder

import (
	"testing"

	"github.com/upower/power-profilesd/internal/profile"
)

func TestProbeAlwaysSucceeds(t *testing.T) {
	d := New()
	outcome, err := d.Probe()
	if err != nil {
		t.Fatalf("Probe() error = %v, want nil", err)
	}
	if outcome != profile.ProbeSuccess {
		t.Errorf("Probe() = %v, want ProbeSuccess", outcome)
	}
}

func TestSupportsEveryProfile(t *testing.T) {
	d := New()
	for _, p := range []profile.Profile{profile.PowerSaver, profile.Balanced, profile.Performance} {
		if !p.Has(d.SupportedProfiles()) {
			t.Errorf("SupportedProfiles() does not include %v", p)
		}
	}
}

func TestActivateProfileIsNoop(t *testing.T) {
	d := New()
	if err := d.ActivateProfile(profile.Performance, profile.ReasonUser); err != nil {
		t.Errorf("ActivateProfile() error = %v, want nil", err)
	}
}
