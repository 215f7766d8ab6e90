package dbusapi

import (
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/upower/power-profilesd/internal/backends/placeholder"
)

func TestHoldProfileRejectsUnholdableProfile(t *testing.T) {
	s := newTestService(t)
	h := &handler{s: s, iface: primaryIface}

	for _, name := range []string{"balanced", "nonsense"} {
		cookie, dbusErr := h.HoldProfile(name, "reason", "app", dbus.Sender(":1.1"))
		if dbusErr == nil {
			t.Errorf("HoldProfile(%q) = nil error, want InvalidArgs", name)
		}
		if cookie != 0 {
			t.Errorf("HoldProfile(%q) cookie = %d, want 0", name, cookie)
		}
	}
}

func TestHoldProfileAcceptsHoldableProfile(t *testing.T) {
	s := newTestService(t)
	s.engine.Bind(placeholder.New(), nil, nil)
	h := &handler{s: s, iface: primaryIface}

	cookie, dbusErr := h.HoldProfile("performance", "video", "vlc", dbus.Sender(":1.1"))
	if dbusErr != nil {
		t.Fatalf("HoldProfile(performance) error = %v", dbusErr)
	}
	if cookie == 0 {
		t.Error("HoldProfile(performance) cookie = 0, want nonzero")
	}
	if s.holdsReg.Len() != 1 {
		t.Errorf("holds registry Len() = %d, want 1", s.holdsReg.Len())
	}
}

func TestReleaseProfileUnknownCookie(t *testing.T) {
	s := newTestService(t)
	h := &handler{s: s, iface: primaryIface}

	if dbusErr := h.ReleaseProfile(999); dbusErr == nil {
		t.Error("ReleaseProfile(unknown) = nil error, want InvalidArgs")
	}
}

func TestGetUnknownInterface(t *testing.T) {
	s := newTestService(t)
	h := &handler{s: s, iface: primaryIface}

	if _, dbusErr := h.Get(legacyIface, "ActiveProfile"); dbusErr == nil {
		t.Error("Get(wrong iface) = nil error, want UnknownInterface")
	}
}

func TestGetUnknownProperty(t *testing.T) {
	s := newTestService(t)
	h := &handler{s: s, iface: primaryIface}

	if _, dbusErr := h.Get(primaryIface, "NoSuchProperty"); dbusErr == nil {
		t.Error("Get(unknown property) = nil error, want UnknownProperty")
	}
}

func TestGetAllReturnsFullSnapshot(t *testing.T) {
	s := newTestService(t)
	h := &handler{s: s, iface: primaryIface}

	all, dbusErr := h.GetAll(primaryIface)
	if dbusErr != nil {
		t.Fatalf("GetAll() error = %v", dbusErr)
	}
	if _, ok := all["ActiveProfile"]; !ok {
		t.Error("GetAll() missing ActiveProfile")
	}
}

func TestSetRejectsNonActiveProfileProperty(t *testing.T) {
	s := newTestService(t)
	h := &handler{s: s, iface: primaryIface}

	dbusErr := h.Set(primaryIface, "Version", dbus.MakeVariant("9.9.9"), dbus.Sender(":1.1"))
	if dbusErr == nil {
		t.Error("Set(Version) = nil error, want PropertyReadOnly")
	}
}

func TestSetRejectsNonStringValue(t *testing.T) {
	s := newTestService(t)
	h := &handler{s: s, iface: primaryIface}

	dbusErr := h.Set(primaryIface, "ActiveProfile", dbus.MakeVariant(42), dbus.Sender(":1.1"))
	if dbusErr == nil {
		t.Error("Set(ActiveProfile, int) = nil error, want InvalidArgs")
	}
}

func TestSetRejectsUnknownProfileName(t *testing.T) {
	s := newTestService(t)
	h := &handler{s: s, iface: primaryIface}

	dbusErr := h.Set(primaryIface, "ActiveProfile", dbus.MakeVariant("nonsense"), dbus.Sender(":1.1"))
	if dbusErr == nil {
		t.Error("Set(ActiveProfile, nonsense) = nil error, want InvalidArgs")
	}
}

// TestSetWithoutBoundDriverIsUnavailable exercises the no-drivers-bound
// case: a freshly constructed engine has no CPU/platform driver bound, so
// every profile but the already-active Balanced is unavailable.
func TestSetWithoutBoundDriverIsUnavailable(t *testing.T) {
	s := newTestService(t)
	h := &handler{s: s, iface: primaryIface}

	dbusErr := h.Set(primaryIface, "ActiveProfile", dbus.MakeVariant("power-saver"), dbus.Sender(":1.1"))
	if dbusErr == nil {
		t.Error("Set(ActiveProfile, power-saver) with no bound driver = nil error, want Unavailable")
	}
	if got := s.engine.Active().String(); got != "balanced" {
		t.Errorf("engine.Active() = %v, want balanced (unchanged)", got)
	}
}

func TestSetToAlreadyActiveProfileIsNoop(t *testing.T) {
	s := newTestService(t)
	h := &handler{s: s, iface: primaryIface}

	if dbusErr := h.Set(primaryIface, "ActiveProfile", dbus.MakeVariant("balanced"), dbus.Sender(":1.1")); dbusErr != nil {
		t.Fatalf("Set(ActiveProfile, balanced) error = %v", dbusErr)
	}
}
