// Package main — cmd/power-profilesd/main.go
//
// power-profilesd entrypoint.
//
// Startup sequence:
//  1. Parse flags and the two recognised environment variables.
//  2. Build the logger (verbosity from -v, color from NO_COLOR/tty).
//  3. Start the event loop goroutine.
//  4. Connect to the system bus.
//  5. Open the state store and (best-effort) the audit ledger.
//  6. Start the Prometheus/healthz server.
//  7. Probe and bind back-ends (internal/registry), run the engine's reset.
//  8. Start external signal integration, gated on what the bound back-ends need.
//  9. Export the D-Bus API surface and claim both bus names.
// 10. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel external signal subscriptions.
//  2. Tear down the back-end registry (internal/registry.Stop).
//  3. Close the audit ledger and bus connection.
//  4. Stop the event loop.
//  5. Flush the logger.
//  6. Exit 0.
//
// Every mutation of shared daemon state (active/selected profile, the hold
// registry, bound back-ends) is funneled through the event loop's channel
// of closures (runLoop, in loop.go) rather than called directly from bus
// method handlers or signal-watcher goroutines — the single-threaded
// cooperative event loop required by SPEC_FULL.md §5.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/upower/power-profilesd/internal/arbiter"
	"github.com/upower/power-profilesd/internal/audit"
	"github.com/upower/power-profilesd/internal/authz"
	"github.com/upower/power-profilesd/internal/backends"
	"github.com/upower/power-profilesd/internal/config"
	"github.com/upower/power-profilesd/internal/dbusapi"
	"github.com/upower/power-profilesd/internal/external"
	"github.com/upower/power-profilesd/internal/holds"
	"github.com/upower/power-profilesd/internal/logging"
	"github.com/upower/power-profilesd/internal/observability"
	"github.com/upower/power-profilesd/internal/profile"
	"github.com/upower/power-profilesd/internal/registry"
	"github.com/upower/power-profilesd/internal/state"
)

// version is overridden at build time via -ldflags.
var version = "0.1.0"

func main() {
	fs := flag.NewFlagSet("power-profilesd", flag.ExitOnError)
	showVersion := fs.Bool("version", false, "print version and exit")
	cfg := config.Bind(fs)
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: logger ───────────────────────────────────────────────────────
	log := logging.New(logging.LevelFromVerbosity(cfg.Verbosity), logging.ColorEnabled())
	defer log.Sync() //nolint:errcheck

	if os.Geteuid() != 0 {
		log.Warn("not running as root; sysfs writes and PolicyKit checks will likely fail")
	}
	log.Info("power-profilesd starting", zap.String("version", version))

	// ── Step 3: event loop ───────────────────────────────────────────────────
	loop := newRunLoop()
	go loop.run()
	defer loop.stop()

	// ── Step 4: system bus ───────────────────────────────────────────────────
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		log.Fatal("system bus connection failed", zap.Error(err))
	}
	defer conn.Close() //nolint:errcheck

	// ── Step 5: state + audit ────────────────────────────────────────────────
	store := state.NewStore(cfg.UMockdevDir)
	log.Info("state store opened", zap.String("path", store.Path()))

	ledger, err := audit.Open(auditPath(cfg.UMockdevDir))
	if err != nil {
		log.Warn("audit ledger unavailable, activations will not be recorded", zap.Error(err))
		ledger = nil
	} else {
		defer ledger.Close() //nolint:errcheck
	}

	// ── Step 6: metrics ──────────────────────────────────────────────────────
	metrics := observability.NewMetrics()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.ServeMetrics(loop.ctx, cfg.MetricsAddr); err != nil {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
		log.Info("metrics server started", zap.String("addr", cfg.MetricsAddr))
	}

	// ── Step 7: back-end registry + arbitration engine ───────────────────────
	holdsReg := holds.New()

	var eng *arbiter.Engine
	var reg *registry.Registry
	var svc *dbusapi.Service

	notify := func() {
		if svc != nil {
			svc.EmitPropertiesChanged()
		}
	}
	notifyReleased := func(h holds.Hold) {
		if svc != nil {
			svc.EmitProfileReleased(h)
		}
	}

	reg = registry.New(log, metrics, cfg, func() {
		loop.post(func() { restartRegistry(loop, log, reg, eng, notify) })
	})
	eng = arbiter.New(holdsReg, store, ledger, metrics, log, notify, notifyReleased)

	if err := reg.Start(backends.Constructors(cfg.UMockdevDir)); err != nil {
		log.Fatal("back-end probe failed: no driver covers balanced+power-saver", zap.Error(err))
	}
	cpu, platform, actions := reg.Bound()
	eng.Bind(cpu, platform, actions)
	installDriverHandlers(loop, eng, notify, cpu, platform)

	if err := eng.Reset(); err != nil {
		log.Warn("initial activation failed", zap.Error(err))
	}
	notify()

	// ── Step 8: external signal integration ──────────────────────────────────
	mon := external.New(conn, log)
	var cancelFns []func()

	if !cfg.DisableUPower && reg.NeedsPowerSource() {
		cancel, err := mon.WatchPowerSource(func(src profile.PowerSource) {
			loop.post(func() {
				cpu, platform, actions := reg.Bound()
				applyPowerChanged(log, metrics, cpu, platform, actions, src)
			})
		})
		if err != nil {
			log.Warn("power source integration unavailable", zap.Error(err))
		} else {
			cancelFns = append(cancelFns, cancel)
		}
	}
	if !cfg.DisableUPower && reg.NeedsBatteryLevel() {
		cancel, err := mon.WatchBatteryLevel(func(level float64) {
			loop.post(func() {
				cpu, platform, actions := reg.Bound()
				applyBatteryChanged(log, metrics, cpu, platform, actions, level)
			})
		})
		if err != nil {
			log.Warn("battery level integration unavailable", zap.Error(err))
		} else {
			cancelFns = append(cancelFns, cancel)
		}
	}
	if !cfg.DisableLogind && reg.NeedsSuspendMonitor() {
		cancel, err := mon.WatchSuspend(func(entering bool) {
			loop.post(func() {
				cpu, platform, actions := reg.Bound()
				applySuspend(log, metrics, cpu, platform, actions, entering)
			})
		})
		if err != nil {
			log.Warn("suspend/resume integration unavailable", zap.Error(err))
		} else {
			cancelFns = append(cancelFns, cancel)
		}
	}

	// ── Step 9: bus API surface ───────────────────────────────────────────────
	authzChecker := authz.New(conn)
	svc = dbusapi.New(conn, eng, holdsReg, authzChecker, metrics, version, loop.postSync, log)
	if err := svc.Export(cfg.Replace); err != nil {
		log.Fatal("failed to export D-Bus API", zap.Error(err))
	}
	log.Info("D-Bus API exported", zap.Bool("replace", cfg.Replace))

	// ── Step 10: wait for shutdown ────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	for _, cancel := range cancelFns {
		cancel()
	}
	reg.Stop()
	log.Info("power-profilesd shutdown complete")
}

// restartRegistry re-probes every back-end and re-binds the engine, run on
// the event loop by the registry's onRestartNeeded callback.
func restartRegistry(loop *runLoop, log *zap.Logger, reg *registry.Registry, eng *arbiter.Engine, notify func()) {
	log.Info("deferred driver ready, restarting back-end registry")
	if err := reg.Restart(); err != nil {
		log.Error("registry restart failed: no driver covers balanced+power-saver", zap.Error(err))
		return
	}
	cpu, platform, actions := reg.Bound()
	eng.Bind(cpu, platform, actions)
	installDriverHandlers(loop, eng, notify, cpu, platform)
	if err := eng.Reset(); err != nil {
		log.Warn("post-restart activation failed", zap.Error(err))
	}
	notify()
}

func auditPath(umockdevDir string) string {
	if umockdevDir != "" {
		return umockdevDir + "/ppd_audit_test.db"
	}
	return audit.DefaultPath
}
