// Package state persists the three-key [State] section (CpuDriver,
// PlatformDriver, Profile) the arbiter uses to decide whether a prior
// activated profile is applicable on restart. Grounded on
// load_configuration/save_configuration/apply_configuration in the
// original C daemon: a GKeyFile [State] section with KEEP_COMMENTS
// semantics on load. gopkg.in/ini.v1 is the direct analogue — it preserves
// both the comments and any keys it doesn't recognise across a
// load-modify-save round trip, which bbolt (the teacher's persistence
// library) cannot represent.
package state

import (
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

const (
	// DefaultPath is used when $UMOCKDEV_DIR is unset.
	DefaultPath = "/var/lib/power-profiles-daemon/state.ini"

	sectionName = "State"

	keyCPUDriver      = "CpuDriver"
	keyPlatformDriver = "PlatformDriver"
	keyProfile        = "Profile"
)

// Persisted mirrors the [State] section's three keys. An empty field means
// the key was absent or unparseable.
type Persisted struct {
	CPUDriver      string
	PlatformDriver string
	Profile        string
}

// Store reads and writes the persisted state file at a fixed path, derived
// once at construction from $UMOCKDEV_DIR per SPEC_FULL.md §6.
type Store struct {
	path string
}

// NewStore derives the state file path: $UMOCKDEV_DIR/ppd_test_conf.ini
// when umockdevDir is non-empty, else DefaultPath.
func NewStore(umockdevDir string) *Store {
	if umockdevDir != "" {
		return &Store{path: filepath.Join(umockdevDir, "ppd_test_conf.ini")}
	}
	return &Store{path: DefaultPath}
}

// Path returns the file path this Store reads and writes.
func (s *Store) Path() string { return s.path }

// Load reads the persisted state. A missing file is not an error: it
// returns a zero-value Persisted, matching the source's "absent means no
// prior state" treatment. Any other read/parse failure is returned to the
// caller, who is expected to demote it to a debug log (ConfigReadFailure
// is never propagated to a client).
func (s *Store) Load() (Persisted, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return Persisted{}, nil
	}

	cfg, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, s.path)
	if err != nil {
		return Persisted{}, err
	}

	sec, err := cfg.GetSection(sectionName)
	if err != nil {
		return Persisted{}, nil
	}

	return Persisted{
		CPUDriver:      sec.Key(keyCPUDriver).String(),
		PlatformDriver: sec.Key(keyPlatformDriver).String(),
		Profile:        sec.Key(keyProfile).String(),
	}, nil
}

// Save writes p to the state file, preserving any comments and unrelated
// sections already present (load-modify-save round trip). Creates the
// parent directory and the file if neither exists. Best-effort: a write
// failure is returned to the caller, who is expected to log a warning and
// not propagate it further (ConfigWriteFailure is never surfaced to a
// client).
func (s *Store) Save(p Persisted) error {
	cfg, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true, Loose: true}, s.path)
	if err != nil {
		cfg = ini.Empty()
	}

	sec, err := cfg.NewSection(sectionName)
	if err != nil {
		return err
	}
	sec.Key(keyCPUDriver).SetValue(p.CPUDriver)
	sec.Key(keyPlatformDriver).SetValue(p.PlatformDriver)
	sec.Key(keyProfile).SetValue(p.Profile)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return cfg.SaveTo(s.path)
}

// EraseProfile clears the persisted Profile key while leaving CpuDriver,
// PlatformDriver, and any comments untouched, per spec.md §4.3: "an
// unparseable Profile is erased from the store."
func (s *Store) EraseProfile() error {
	p, err := s.Load()
	if err != nil {
		return err
	}
	p.Profile = ""
	return s.Save(p)
}
