// Package sysfs provides the handful of file-system primitives every
// concrete driver/action in internal/backends shares: a root-overridable
// path resolver and synchronous, truncating file writes. Grounded
// directly on ppd_utils_get_sysfs_path/ppd_utils_write/ppd_utils_write_files
// and ppd_utils_match_cpu_vendor in the original C daemon's ppd-utils.c.
package sysfs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Path resolves filename against root when root is non-empty (the
// UMOCKDEV_DIR test fixture case), else returns filename unchanged —
// the direct analogue of ppd_utils_get_sysfs_path's UMOCKDEV_DIR lookup.
func Path(root, filename string) string {
	if root == "" {
		return filename
	}
	return filepath.Join(root, filename)
}

// Exists reports whether path is present, via the same class of cheap
// syscall ppd_utils relies on g_file_test for.
func Exists(path string) bool {
	return unix.Access(path, unix.F_OK) == nil
}

// ReadString reads path and returns its contents with surrounding
// whitespace trimmed, mirroring g_file_get_contents + g_strchomp.
func ReadString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteString truncates path and writes value, matching
// ppd_utils_write's O_WRONLY|O_TRUNC|O_SYNC semantics.
func WriteString(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_SYNC, 0)
	if err != nil {
		return fmt.Errorf("open %q for writing: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(value); err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	return nil
}

// WriteAll writes value to every path in paths, stopping at the first
// failure — the direct analogue of ppd_utils_write_files.
func WriteAll(paths []string, value string) error {
	for _, p := range paths {
		if err := WriteString(p, value); err != nil {
			return err
		}
	}
	return nil
}

// ListDir returns the entry names of dir, or nil if it cannot be opened
// (treated as "nothing found" by every probe that calls it).
func ListDir(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// MatchCPUVendor reports whether root-relative /proc/cpuinfo's first
// vendor_id line equals vendor, per ppd_utils_match_cpu_vendor.
func MatchCPUVendor(root, vendor string) bool {
	contents, err := os.ReadFile(Path(root, "/proc/cpuinfo"))
	if err != nil {
		return false
	}
	for _, line := range bytes.Split(contents, []byte("\n")) {
		s := string(line)
		if !strings.HasPrefix(s, "vendor_id") {
			continue
		}
		parts := strings.SplitN(s, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.TrimSpace(parts[1]) == vendor {
			return true
		}
	}
	return false
}
