package sysfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPath(t *testing.T) {
	if got := Path("", "/sys/foo"); got != "/sys/foo" {
		t.Errorf("Path(\"\", ...) = %q, want unchanged", got)
	}
	if got := Path("/root", "/sys/foo"); got != filepath.Join("/root", "/sys/foo") {
		t.Errorf("Path(root, ...) = %q, want joined", got)
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present")
	if err := os.WriteFile(present, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if !Exists(present) {
		t.Error("Exists(present file) = false, want true")
	}
	if Exists(filepath.Join(dir, "absent")) {
		t.Error("Exists(absent file) = true, want false")
	}
}

func TestReadStringTrimsWhitespace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "attr")
	if err := os.WriteFile(path, []byte("  performance\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadString(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "performance" {
		t.Errorf("ReadString() = %q, want %q", got, "performance")
	}
}

func TestReadStringMissingFile(t *testing.T) {
	if _, err := ReadString(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("ReadString(missing) = nil error, want error")
	}
}

func TestWriteStringTruncates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "attr")
	if err := os.WriteFile(path, []byte("old-value-longer-than-new"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := WriteString(path, "new"); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new" {
		t.Errorf("file contents = %q, want %q (no trailing garbage from the longer prior value)", got, "new")
	}
}

func TestWriteAllStopsAtFirstFailure(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good")
	if err := os.WriteFile(good, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing-dir", "attr")

	if err := WriteAll([]string{good, missing}, "value"); err == nil {
		t.Error("WriteAll with an unwritable path = nil error, want error")
	}
}

func TestListDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a", "b"} {
		if err := os.Mkdir(filepath.Join(dir, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	entries := ListDir(dir)
	if len(entries) != 2 {
		t.Fatalf("ListDir() = %v, want 2 entries", entries)
	}

	if got := ListDir(filepath.Join(dir, "does-not-exist")); got != nil {
		t.Errorf("ListDir(missing) = %v, want nil", got)
	}
}

func TestMatchCPUVendor(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "proc"), 0o755); err != nil {
		t.Fatal(err)
	}
	cpuinfo := "processor\t: 0\nvendor_id\t: AuthenticAMD\nmodel name\t: x\n"
	if err := os.WriteFile(filepath.Join(root, "proc", "cpuinfo"), []byte(cpuinfo), 0o644); err != nil {
		t.Fatal(err)
	}

	if !MatchCPUVendor(root, "AuthenticAMD") {
		t.Error("MatchCPUVendor(AuthenticAMD) = false, want true")
	}
	if MatchCPUVendor(root, "GenuineIntel") {
		t.Error("MatchCPUVendor(GenuineIntel) = true, want false")
	}
}

func TestMatchCPUVendorMissingFile(t *testing.T) {
	if MatchCPUVendor(t.TempDir(), "AuthenticAMD") {
		t.Error("MatchCPUVendor with no /proc/cpuinfo = true, want false")
	}
}
