package dbusapi

import (
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/upower/power-profilesd/internal/authz"
	"github.com/upower/power-profilesd/internal/holds"
	"github.com/upower/power-profilesd/internal/profile"
)

// handler implements both the daemon's own method interface (HoldProfile,
// ReleaseProfile) and org.freedesktop.DBus.Properties, bound to a single
// well-known interface name. One instance is exported per endpoint so a
// hold created through the legacy interface is released and replied to
// through the legacy interface, per spec.md §4.4.
type handler struct {
	s     *Service
	iface string
}

// HoldProfile implements handle_method_call's "HoldProfile" branch: an
// availability check against the bound drivers, an authorization check,
// registry insertion, then re-arbitration. sender is
// supplied by godbus as the special Sender parameter type and is never
// present in the method's D-Bus signature.
func (h *handler) HoldProfile(profileName, reason, applicationID string, sender dbus.Sender) (uint32, *dbus.Error) {
	p, ok := profile.Parse(profileName)
	if !ok || !holds.Holdable(p) {
		return 0, dbus.NewError("org.freedesktop.DBus.Error.InvalidArgs",
			[]interface{}{"profile cannot be held: " + profileName})
	}
	if !p.Has(h.s.engine.SupportedProfiles()) {
		return 0, dbus.NewError("org.freedesktop.DBus.Error.InvalidArgs",
			[]interface{}{"profile is not available: " + profileName})
	}

	if h.s.authzChecker != nil {
		if err := h.s.authzChecker.Authorize(string(sender), authz.ActionHoldProfile); err != nil {
			return 0, dbus.NewError("org.freedesktop.DBus.Error.AccessDenied", []interface{}{err.Error()})
		}
	}

	var cookie uint32
	var addErr error
	h.s.runSync(func() {
		cookie, addErr = h.s.holdsReg.Add(p, reason, applicationID, string(sender), h.iface)
		if addErr != nil {
			h.s.recordHoldMutation("add", "error")
			return
		}
		h.s.recordHoldMutation("add", "success")
		if rerr := h.s.engine.ReconcileHolds(); rerr != nil {
			h.s.logger.Warn("reconcile after hold add failed", zap.Uint32("cookie", cookie), zap.Error(rerr))
		}
	})
	if addErr != nil {
		return 0, dbus.NewError("org.freedesktop.DBus.Error.InvalidArgs", []interface{}{addErr.Error()})
	}

	return cookie, nil
}

// ReleaseProfile implements handle_method_call's "ReleaseProfile" branch.
// Releasing an unknown cookie is a D-Bus error, per the original's
// behavior of surfacing release_profile_hold's failure back to the caller.
func (h *handler) ReleaseProfile(cookie uint32) *dbus.Error {
	var releaseErr error
	h.s.runSync(func() {
		var hold holds.Hold
		hold, releaseErr = h.s.holdsReg.Release(cookie)
		if releaseErr != nil {
			h.s.recordHoldMutation("release", "error")
			return
		}
		h.s.recordHoldMutation("release", "success")
		h.s.EmitProfileReleased(hold)
		if rerr := h.s.engine.ReconcileHolds(); rerr != nil {
			h.s.logger.Warn("reconcile after hold release failed", zap.Uint32("cookie", cookie), zap.Error(rerr))
		}
	})
	if releaseErr != nil {
		return dbus.NewError("org.freedesktop.DBus.Error.InvalidArgs", []interface{}{releaseErr.Error()})
	}

	return nil
}

// Get implements org.freedesktop.DBus.Properties.Get.
func (h *handler) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	if iface != "" && iface != h.iface {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", nil)
	}
	v, ok := h.s.snapshot()[name]
	if !ok {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", []interface{}{name})
	}
	return v, nil
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll.
func (h *handler) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != "" && iface != h.iface {
		return nil, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", nil)
	}
	return h.s.snapshot(), nil
}

// Set implements org.freedesktop.DBus.Properties.Set. ActiveProfile is the
// only writable property, gated on the switch-profile action exactly as
// HoldProfile is gated on hold-profile; every other property write is
// rejected as handle_set_property rejects anything but ActiveProfile.
func (h *handler) Set(iface, name string, value dbus.Variant, sender dbus.Sender) *dbus.Error {
	if iface != "" && iface != h.iface {
		return dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", nil)
	}
	if name != "ActiveProfile" {
		return dbus.NewError("org.freedesktop.DBus.Error.PropertyReadOnly", []interface{}{name})
	}

	if h.s.authzChecker != nil {
		if err := h.s.authzChecker.Authorize(string(sender), authz.ActionSwitchProfile); err != nil {
			return dbus.NewError("org.freedesktop.DBus.Error.AccessDenied", []interface{}{err.Error()})
		}
	}

	name2, ok := value.Value().(string)
	if !ok {
		return dbus.NewError("org.freedesktop.DBus.Error.InvalidArgs", []interface{}{"ActiveProfile must be a string"})
	}
	p, ok := profile.Parse(name2)
	if !ok {
		return dbus.NewError("org.freedesktop.DBus.Error.InvalidArgs", []interface{}{"unknown profile: " + name2})
	}

	var setErr error
	h.s.runSync(func() {
		setErr = h.s.engine.SetUserProfile(p)
	})
	if setErr != nil {
		return dbus.NewError("org.freedesktop.UPower.PowerProfiles.Unavailable", []interface{}{setErr.Error()})
	}
	return nil
}
