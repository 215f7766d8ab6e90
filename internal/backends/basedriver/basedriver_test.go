package basedriver

import (
	"testing"

	"github.com/upower/power-profilesd/internal/profile"
)

func TestNewFields(t *testing.T) {
	b := New("intel_pstate", profile.CPUDriver, profile.All)

	if got := b.Name(); got != "intel_pstate" {
		t.Errorf("Name() = %q, want intel_pstate", got)
	}
	if got := b.Kind(); got != profile.CPUDriver {
		t.Errorf("Kind() = %v, want CPUDriver", got)
	}
	if got := b.SupportedProfiles(); got != profile.All {
		t.Errorf("SupportedProfiles() = %v, want All", got)
	}
	if got := b.PerformanceDegraded(); got != "" {
		t.Errorf("PerformanceDegraded() = %q, want empty", got)
	}
}

func TestSetDegradedNotifiesOnlyOnChange(t *testing.T) {
	b := New("x", profile.CPUDriver, profile.All)

	var calls []string
	b.SetDegradedChangedHandler(func(reason string) { calls = append(calls, reason) })

	b.SetDegraded("high-operating-temperature")
	b.SetDegraded("high-operating-temperature")
	b.SetDegraded("")

	if len(calls) != 2 {
		t.Fatalf("handler called %d times, want 2 (set + clear, no repeat)", len(calls))
	}
	if calls[0] != "high-operating-temperature" || calls[1] != "" {
		t.Errorf("handler calls = %v, want [high-operating-temperature, \"\"]", calls)
	}
	if got := b.PerformanceDegraded(); got != "" {
		t.Errorf("PerformanceDegraded() after clear = %q, want empty", got)
	}
}

func TestNotifyProfileChangedNoHandlerIsNoop(t *testing.T) {
	b := New("x", profile.PlatformDriver, profile.All)
	b.NotifyProfileChanged(profile.Performance) // must not panic with no handler installed
}

func TestNotifyProfileChangedFiresInstalledHandler(t *testing.T) {
	b := New("x", profile.PlatformDriver, profile.All)

	var got profile.Profile
	b.SetProfileChangedHandler(func(p profile.Profile) { got = p })
	b.NotifyProfileChanged(profile.PowerSaver)

	if got != profile.PowerSaver {
		t.Errorf("handler received %v, want PowerSaver", got)
	}
}

func TestNotifyProbeRequestFiresInstalledHandler(t *testing.T) {
	b := New("x", profile.PlatformDriver, profile.All)

	fired := false
	b.SetProbeRequestHandler(func() { fired = true })
	b.NotifyProbeRequest()

	if !fired {
		t.Error("probe-request handler was not invoked")
	}
}
