// Package external implements External Signal Integration (C5): lazily
// established subscriptions to org.freedesktop.UPower (power source,
// battery level) and org.freedesktop.login1 (suspend/resume), translating
// each into a back-end notification without ever touching the selected
// profile. Grounded on upower_source_update*/upower_battery_*/
// on_logind_prepare_for_sleep_cb in the original C daemon. Reached over
// the same github.com/godbus/dbus/v5 connection the bus adapter uses to
// expose the daemon's own API.
package external

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/upower/power-profilesd/internal/profile"
)

const (
	upowerService = "org.freedesktop.UPower"
	upowerPath    = "/org/freedesktop/UPower"
	upowerIface   = "org.freedesktop.UPower"
	upowerDevIface = "org.freedesktop.UPower.Device"

	logindPath    = "/org/freedesktop/login1"
	logindIface   = "org.freedesktop.login1.Manager"

	propsIface = "org.freedesktop.DBus.Properties"
)

// Monitor owns every external subscription. Each Watch* method is
// independent and only called when the registry reports some bound
// back-end needs it (see internal/registry's Needs* methods) — mirroring
// the source's "connect only if required" gating.
type Monitor struct {
	conn   *dbus.Conn
	logger *zap.Logger
}

// New wraps an already-connected system bus connection.
func New(conn *dbus.Conn, logger *zap.Logger) *Monitor {
	return &Monitor{conn: conn, logger: logger}
}

// WatchPowerSource subscribes to UPower's OnBattery property and invokes
// onChange with the derived PowerSource on every change, including an
// immediate initial call with the current value (or PowerUnknown if
// UPower is unreachable, logged at debug per spec.md §7's "external
// service failures are logged at debug and treated as feature
// unavailable"). Returns a cancel function.
func (m *Monitor) WatchPowerSource(onChange func(profile.PowerSource)) (cancel func(), err error) {
	obj := m.conn.Object(upowerService, dbus.ObjectPath(upowerPath))

	initial, ferr := m.fetchOnBattery(obj)
	if ferr != nil {
		m.logger.Debug("upower unreachable, power source unknown", zap.Error(ferr))
		onChange(profile.PowerUnknown)
	} else {
		onChange(profile.FromOnBattery(initial))
	}

	rule := fmt.Sprintf(
		"type='signal',interface='%s',member='PropertiesChanged',path='%s'",
		propsIface, upowerPath,
	)
	if err := m.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return func() {}, fmt.Errorf("subscribe upower properties: %w", err)
	}

	ch := make(chan *dbus.Signal, 8)
	m.conn.Signal(ch)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig, ok := <-ch:
				if !ok {
					return
				}
				if sig.Path != dbus.ObjectPath(upowerPath) || sig.Name != propsIface+".PropertiesChanged" {
					continue
				}
				if onBattery, ok := extractBoolProperty(sig.Body, "OnBattery"); ok {
					onChange(profile.FromOnBattery(onBattery))
				}
			case <-done:
				m.conn.RemoveSignal(ch)
				_ = m.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule).Err
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

func (m *Monitor) fetchOnBattery(obj dbus.BusObject) (bool, error) {
	var v dbus.Variant
	if err := obj.Call(propsIface+".Get", 0, upowerIface, "OnBattery").Store(&v); err != nil {
		return false, err
	}
	b, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("OnBattery: unexpected type %T", v.Value())
	}
	return b, nil
}

// WatchBatteryLevel subscribes to the display device's Percentage
// property and invokes onChange on every change (values applied
// monotonically, no dead-band, per spec.md §4.5).
func (m *Monitor) WatchBatteryLevel(onChange func(level float64)) (cancel func(), err error) {
	upower := m.conn.Object(upowerService, dbus.ObjectPath(upowerPath))

	var devicePath dbus.ObjectPath
	if err := upower.Call(upowerIface+".GetDisplayDevice", 0).Store(&devicePath); err != nil {
		m.logger.Debug("upower display device unreachable", zap.Error(err))
		return func() {}, nil
	}

	devObj := m.conn.Object(upowerService, devicePath)
	var v dbus.Variant
	if err := devObj.Call(propsIface+".Get", 0, upowerDevIface, "Percentage").Store(&v); err == nil {
		if pct, ok := v.Value().(float64); ok {
			onChange(pct)
		}
	}

	rule := fmt.Sprintf(
		"type='signal',interface='%s',member='PropertiesChanged',path='%s'",
		propsIface, devicePath,
	)
	if err := m.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return func() {}, fmt.Errorf("subscribe battery properties: %w", err)
	}

	ch := make(chan *dbus.Signal, 8)
	m.conn.Signal(ch)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig, ok := <-ch:
				if !ok {
					return
				}
				if sig.Path != devicePath || sig.Name != propsIface+".PropertiesChanged" {
					continue
				}
				if pct, ok := extractFloatProperty(sig.Body, "Percentage"); ok {
					onChange(pct)
				}
			case <-done:
				m.conn.RemoveSignal(ch)
				_ = m.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule).Err
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

// WatchSuspend subscribes to logind's PrepareForSleep(b) signal and
// invokes onEdge(entering) for both the entering-sleep and resume edges,
// passing the boolean straight through — matching the source's behavior
// of calling prepare_to_sleep on both edges and leaving no-op-on-entering
// to individual drivers.
func (m *Monitor) WatchSuspend(onEdge func(entering bool)) (cancel func(), err error) {
	rule := fmt.Sprintf(
		"type='signal',interface='%s',member='PrepareForSleep',path='%s'",
		logindIface, logindPath,
	)
	if err := m.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return func() {}, fmt.Errorf("subscribe logind PrepareForSleep: %w", err)
	}

	ch := make(chan *dbus.Signal, 8)
	m.conn.Signal(ch)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig, ok := <-ch:
				if !ok {
					return
				}
				if sig.Path != dbus.ObjectPath(logindPath) || sig.Name != logindIface+".PrepareForSleep" {
					continue
				}
				if len(sig.Body) != 1 {
					continue
				}
				if entering, ok := sig.Body[0].(bool); ok {
					onEdge(entering)
				}
			case <-done:
				m.conn.RemoveSignal(ch)
				_ = m.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule).Err
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

func extractBoolProperty(body []interface{}, key string) (bool, bool) {
	v, ok := extractProperty(body, key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func extractFloatProperty(body []interface{}, key string) (float64, bool) {
	v, ok := extractProperty(body, key)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// extractProperty reads key out of a PropertiesChanged signal body, whose
// shape is (interface string, changed map[string]dbus.Variant, invalidated
// []string).
func extractProperty(body []interface{}, key string) (interface{}, bool) {
	if len(body) < 2 {
		return nil, false
	}
	changed, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return nil, false
	}
	v, ok := changed[key]
	if !ok {
		return nil, false
	}
	return v.Value(), true
}
