package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(dir, "elsewhere")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"plain file", filepath.Join(dir, "error.png"), false},
		{"nested new file", filepath.Join(dir, "runs", "a", "error.png"), false},
		{"dot dot escape", filepath.Join(dir, "..", "error.png"), true},
		{"absolute elsewhere", filepath.Join(outside, "error.png"), true},
		{"through symlink", filepath.Join(link, "error.png"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, dir)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePathWithinDirectory_MissingSafeDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	if err := ValidatePathWithinDirectory(filepath.Join(missing, "x"), missing); err == nil {
		t.Error("expected error for a safe directory that does not exist")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"error-3f2a.png":      "error-3f2a.png",
		"../../etc/passwd":    "etc_passwd",
		"run id with spaces!": "run_id_with_spaces",
		"":                    "unknown",
		"___":                 "unknown",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateFilename(t *testing.T) {
	for _, name := range []string{"error-run1.png", "flight.db", ".hidden"} {
		if err := ValidateFilename(name); err != nil {
			t.Errorf("ValidateFilename(%q) = %v", name, err)
		}
	}
	for _, name := range []string{"", ".", "..", "../x.png", "a/b.png", `a\b.png`} {
		if err := ValidateFilename(name); err == nil {
			t.Errorf("ValidateFilename(%q) should fail", name)
		}
	}
}
