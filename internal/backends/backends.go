// Package backends assembles the ordered list of back-end constructors
// the registry probes at start-up and on every restart: hardware-specific
// drivers first (platform_profile, intel_pstate, amd_pstate), the generic
// placeholder driver last among drivers, then the fire-and-forget actions
// (trickle_charge, amdgpu_panel_power, amdgpu_dpm). The order is the
// direct port of objects[] in power-profiles-daemon.c.
package backends

import (
	"github.com/upower/power-profilesd/internal/backend"
	"github.com/upower/power-profilesd/internal/backends/actions/amdgpudpm"
	"github.com/upower/power-profilesd/internal/backends/actions/amdgpupanelpower"
	"github.com/upower/power-profilesd/internal/backends/actions/tricklecharge"
	"github.com/upower/power-profilesd/internal/backends/cpu/amdpstate"
	"github.com/upower/power-profilesd/internal/backends/cpu/intelpstate"
	"github.com/upower/power-profilesd/internal/backends/placeholder"
	"github.com/upower/power-profilesd/internal/backends/platformprofile"
	"github.com/upower/power-profilesd/internal/registry"
)

// Constructors returns the ordered constructor list the registry probes,
// rooted at umockdevDir (empty string means the real sysfs tree).
func Constructors(umockdevDir string) []registry.Constructor {
	return []registry.Constructor{
		func() backend.Backend { return platformprofile.New(umockdevDir) },
		func() backend.Backend { return intelpstate.New(umockdevDir) },
		func() backend.Backend { return amdpstate.New(umockdevDir) },

		func() backend.Backend { return placeholder.New() },

		func() backend.Backend { return tricklecharge.New(umockdevDir) },
		func() backend.Backend { return amdgpupanelpower.New(umockdevDir) },
		func() backend.Backend { return amdgpudpm.New(umockdevDir) },
	}
}
