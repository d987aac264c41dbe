/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"tilde prefix", "~/runs/md.traj", filepath.Join(home, "runs", "md.traj")},
		{"bare tilde", "~", home},
		{"absolute", "/tmp/a.xyz", "/tmp/a.xyz"},
		{"relative", "a/b.cif", "a/b.cif"},
		{"tilde in middle", "a/~/b", "a/~/b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandHome(tt.in); got != tt.want {
				t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCanonicalPath(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "structure.cif")
	if err := os.WriteFile(target, []byte("data_x"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	wantTarget, err := filepath.EvalSymlinks(target)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}

	t.Run("symlink resolves to target", func(t *testing.T) {
		link := filepath.Join(tmpDir, "link.cif")
		if err := os.Symlink(target, link); err != nil {
			t.Skipf("symlinks unsupported: %v", err)
		}
		got, err := CanonicalPath(link)
		if err != nil {
			t.Fatalf("CanonicalPath() error = %v", err)
		}
		if got != wantTarget {
			t.Errorf("CanonicalPath() = %q, want %q", got, wantTarget)
		}
	})

	t.Run("missing path returns error and absolute path", func(t *testing.T) {
		missing := filepath.Join(tmpDir, "missing.cif")
		got, err := CanonicalPath(missing)
		if err == nil {
			t.Fatal("CanonicalPath() expected error for missing path")
		}
		if !filepath.IsAbs(got) {
			t.Errorf("CanonicalPath() = %q, want absolute path", got)
		}
	})
}
