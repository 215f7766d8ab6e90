// Package main — cmd/power-profilesctl/main.go
//
// power-profilesctl is the CLI companion to power-profilesd: a thin bus
// client talking to org.freedesktop.UPower.PowerProfiles exactly as a
// desktop session would, recovering the original's powerprofilesctl
// (spec.md §6 only implies such a client via "desktop sessions and
// applications"). Every subcommand except `log` is one or two bus calls;
// `log` reads the audit ledger file directly. There is no daemon-side
// logic here.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/godbus/dbus/v5"

	"github.com/upower/power-profilesd/internal/audit"
)

const (
	service = "org.freedesktop.UPower.PowerProfiles"
	path    = dbus.ObjectPath("/org/freedesktop/UPower/PowerProfiles")
	iface   = "org.freedesktop.UPower.PowerProfiles"

	propsIface = "org.freedesktop.DBus.Properties"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	if os.Args[1] == "log" {
		if err := cmdLog(os.Args[2:]); err != nil {
			fatal("%v", err)
		}
		return
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		fatal("system bus connection failed: %v", err)
	}
	defer conn.Close() //nolint:errcheck

	obj := conn.Object(service, path)

	var cmdErr error
	switch os.Args[1] {
	case "get":
		cmdErr = cmdGet(obj)
	case "set":
		cmdErr = cmdSet(obj, os.Args[2:])
	case "hold":
		cmdErr = cmdHold(conn, obj, os.Args[2:])
	case "list-holds":
		cmdErr = cmdListHolds(obj)
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}

	if cmdErr != nil {
		fatal("%v", cmdErr)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: power-profilesctl <command> [args]

commands:
  get                              print the active profile and the supported list
  set PROFILE                      switch the active profile
  hold PROFILE REASON APP_ID       hold PROFILE until killed, then release it
  list-holds                       list every active hold
  log [N]                          print the last N activations from the audit ledger (default 20)`)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "power-profilesctl: "+format+"\n", args...)
	os.Exit(1)
}

// cmdGet implements `get`: print the active profile, then every supported
// profile name, one per line, matching the original's plain-text listing.
func cmdGet(obj dbus.BusObject) error {
	active, err := getStringProp(obj, "ActiveProfile")
	if err != nil {
		return fmt.Errorf("ActiveProfile: %w", err)
	}
	fmt.Printf("* %s\n", active)

	profiles, err := getProfilesProp(obj)
	if err != nil {
		return fmt.Errorf("Profiles: %w", err)
	}
	for _, p := range profiles {
		if p == active {
			continue
		}
		fmt.Printf("  %s\n", p)
	}
	return nil
}

// cmdSet implements `set PROFILE` by writing the ActiveProfile property.
func cmdSet(obj dbus.BusObject, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: power-profilesctl set PROFILE")
	}
	call := obj.Call(propsIface+".Set", 0, iface, "ActiveProfile", dbus.MakeVariant(args[0]))
	return call.Err
}

// cmdHold implements `hold PROFILE REASON APP_ID`: calls HoldProfile, prints
// the resulting cookie, then blocks on SIGINT/SIGTERM and releases the hold
// on the way out — the original's "runs until killed" client contract.
func cmdHold(conn *dbus.Conn, obj dbus.BusObject, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: power-profilesctl hold PROFILE REASON APP_ID")
	}
	profileName, reason, appID := args[0], args[1], args[2]

	var cookie uint32
	if err := obj.Call(iface+".HoldProfile", 0, profileName, reason, appID).Store(&cookie); err != nil {
		return fmt.Errorf("HoldProfile: %w", err)
	}
	fmt.Printf("Holding profile %s with cookie %d\n", profileName, cookie)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if err := obj.Call(iface+".ReleaseProfile", 0, cookie).Err; err != nil {
		return fmt.Errorf("ReleaseProfile: %w", err)
	}
	fmt.Printf("Released cookie %d\n", cookie)
	_ = conn // kept alive for the duration of the wait
	return nil
}

// cmdListHolds implements `list-holds`, reading ActiveProfileHolds.
func cmdListHolds(obj dbus.BusObject) error {
	var v dbus.Variant
	if err := obj.Call(propsIface+".Get", 0, iface, "ActiveProfileHolds").Store(&v); err != nil {
		return fmt.Errorf("ActiveProfileHolds: %w", err)
	}

	holds, ok := v.Value().([]map[string]dbus.Variant)
	if !ok {
		return fmt.Errorf("ActiveProfileHolds: unexpected type %T", v.Value())
	}
	if len(holds) == 0 {
		fmt.Println("no active holds")
		return nil
	}
	for i, h := range holds {
		appID, _ := h["ApplicationId"].Value().(string)
		p, _ := h["Profile"].Value().(string)
		reason, _ := h["Reason"].Value().(string)
		fmt.Printf("%s: %s (%s) held by %s\n", strconv.Itoa(i), p, reason, appID)
	}
	return nil
}

// cmdLog implements `log [N]`: opens the daemon's audit ledger read-only and
// prints the last N entries (default 20), oldest first. This is the
// operator-diagnostics read path for internal/audit — the ledger is never
// consulted by the daemon itself to decide behavior, only written by it and
// read here.
func cmdLog(args []string) error {
	n := 20
	if len(args) == 1 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed <= 0 {
			return fmt.Errorf("usage: power-profilesctl log [N]")
		}
		n = parsed
	} else if len(args) > 1 {
		return fmt.Errorf("usage: power-profilesctl log [N]")
	}

	ledger, err := audit.Open(auditPath())
	if err != nil {
		return fmt.Errorf("opening audit ledger: %w", err)
	}
	defer ledger.Close() //nolint:errcheck

	entries, err := ledger.Recent(n)
	if err != nil {
		return fmt.Errorf("reading audit ledger: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("no activations recorded")
		return nil
	}
	for _, e := range entries {
		status := "ok"
		if !e.Succeeded {
			status = "failed: " + e.FailureMsg
		}
		fmt.Printf("%s  %s -> %s  reason=%s requester=%q  %s\n",
			e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.From, e.To, e.Reason, e.Requester, status)
	}
	return nil
}

func auditPath() string {
	if dir := os.Getenv("UMOCKDEV_DIR"); dir != "" {
		return dir + "/ppd_audit_test.db"
	}
	return audit.DefaultPath
}

func getStringProp(obj dbus.BusObject, name string) (string, error) {
	var v dbus.Variant
	if err := obj.Call(propsIface+".Get", 0, iface, name).Store(&v); err != nil {
		return "", err
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("unexpected type %T", v.Value())
	}
	return s, nil
}

func getProfilesProp(obj dbus.BusObject) ([]string, error) {
	var v dbus.Variant
	if err := obj.Call(propsIface+".Get", 0, iface, "Profiles").Store(&v); err != nil {
		return nil, err
	}
	entries, ok := v.Value().([]map[string]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T", v.Value())
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if p, ok := e["Profile"].Value().(string); ok {
			out = append(out, p)
		}
	}
	return out, nil
}
