package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	safeDir := t.TempDir()

	inside := filepath.Join(safeDir, "sample.png")
	if err := os.WriteFile(inside, []byte("x"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if err := ValidatePathWithinDirectory(inside, safeDir); err != nil {
		t.Errorf("expected path inside dir to validate: %v", err)
	}

	// Nested paths that do not exist yet are still confined.
	pending := filepath.Join(safeDir, "out", "fig.png")
	if err := ValidatePathWithinDirectory(pending, safeDir); err != nil {
		t.Errorf("expected pending path to validate: %v", err)
	}
}

func TestValidatePathWithinDirectoryRejectsEscape(t *testing.T) {
	safeDir := t.TempDir()

	cases := []string{
		filepath.Join(safeDir, "..", "escape.png"),
		"/etc/passwd",
		filepath.Join(safeDir, "a", "..", "..", "b.png"),
	}
	for _, p := range cases {
		if err := ValidatePathWithinDirectory(p, safeDir); err == nil {
			t.Errorf("expected %q to be rejected", p)
		}
	}
}

func TestValidatePathWithinDirectorySymlinkEscape(t *testing.T) {
	safeDir := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(safeDir, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if err := ValidatePathWithinDirectory(filepath.Join(link, "sample.png"), safeDir); err == nil {
		t.Error("expected symlinked escape to be rejected")
	}
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	target := filepath.Join(dirB, "sample.png")
	if err := ValidatePathWithinAllowedDirs(target, []string{dirA, dirB}); err != nil {
		t.Errorf("expected path in second dir to validate: %v", err)
	}

	if err := ValidatePathWithinAllowedDirs(target, []string{dirA}); err == nil {
		t.Error("expected path outside allowed dirs to be rejected")
	}

	if err := ValidatePathWithinAllowedDirs(target, nil); err == nil {
		t.Error("expected empty allow list to be rejected")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"sample_01.png", "sample_01.png"},
		{"batch 3/vial #7", "batch_3_vial_7"},
		{"../../etc/passwd", "etc_passwd"},
		{"", "unknown"},
		{"///", "unknown"},
		{"Überprobe.png", "berprobe.png"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
