/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome expands a leading ~/ to the user's home directory.
// Paths without the prefix, or when the home directory is unknown, are returned unchanged.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

// CanonicalPath expands ~/, makes the path absolute and resolves symlinks.
// If symlink resolution fails (typically because the path does not exist)
// the cleaned absolute path is returned together with the error.
func CanonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(ExpandHome(path))
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs, err
	}
	return resolved, nil
}
