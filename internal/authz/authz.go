// Package authz implements the PolicyKit authorization gate guarding
// switch-profile and hold-profile requests that arrive over the bus from
// a caller other than the daemon's own internal logic. Grounded on
// check_authorization/on_authorization_finished in the original C daemon,
// ported from libpolkit-gobject-1's async call to a synchronous
// github.com/godbus/dbus/v5 call against org.freedesktop.PolicyKit1,
// matching how the rest of this module reaches system services.
package authz

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	// ActionSwitchProfile gates writes to the ActiveProfile property.
	ActionSwitchProfile = "org.freedesktop.UPower.PowerProfiles.switch-profile"
	// ActionHoldProfile gates HoldProfile.
	ActionHoldProfile = "org.freedesktop.UPower.PowerProfiles.hold-profile"

	policyKitService = "org.freedesktop.PolicyKit1"
	policyKitPath    = "/org/freedesktop/PolicyKit1/Authority"
	policyKitIface   = "org.freedesktop.PolicyKit1.Authority"

	subjectKindSystemBus = "system-bus-name"

	flagsAllowInteraction = uint32(1)
)

// Checker authorizes a bus caller against a PolicyKit action.
type Checker struct {
	authority dbus.BusObject
}

// New wraps a system bus connection's PolicyKit1 authority object.
func New(conn *dbus.Conn) *Checker {
	return &Checker{authority: conn.Object(policyKitService, dbus.ObjectPath(policyKitPath))}
}

// subject is the (subject-kind, details) pair CheckAuthorization expects;
// see the PolicyKit1 D-Bus API reference.
type subject struct {
	Kind    string
	Details map[string]dbus.Variant
}

// authResult mirrors CheckAuthorization's out parameter layout:
// (is_authorized, is_challenge, details).
type authResult struct {
	IsAuthorized bool
	IsChallenge  bool
	Details      map[string]string
}

// Authorize blocks until PolicyKit renders a decision for sender acting on
// action, allowing an interactive authentication dialog. Returns nil if
// authorized, an error describing the denial otherwise.
func (c *Checker) Authorize(sender, action string) error {
	subj := subject{
		Kind: subjectKindSystemBus,
		Details: map[string]dbus.Variant{
			"name": dbus.MakeVariant(sender),
		},
	}
	details := map[string]string{}

	var result authResult
	call := c.authority.Call(
		policyKitIface+".CheckAuthorization", 0,
		subj, action, details, flagsAllowInteraction, "",
	)
	if call.Err != nil {
		return fmt.Errorf("policykit check for %s: %w", action, call.Err)
	}
	if err := call.Store(&result.IsAuthorized, &result.IsChallenge, &result.Details); err != nil {
		return fmt.Errorf("policykit response for %s: %w", action, err)
	}
	if !result.IsAuthorized {
		return fmt.Errorf("%s: not authorized", action)
	}
	return nil
}
