/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package artifacts

import (
	"mime"
	"path/filepath"
	"sort"
	"strings"
)

// Type classifies an artifact from its file suffix
type Type string

const (
	TypeImage       Type = "image"
	TypeStructure   Type = "structure"
	TypeTable       Type = "table"
	TypeHTMLPreview Type = "html_preview"
	TypeFile        Type = "file"
)

// allowedSuffixes are the file suffixes eligible for registration during enrichment
var allowedSuffixes = map[string]Type{
	".xyz":    TypeStructure,
	".extxyz": TypeStructure,
	".traj":   TypeStructure,
	".cif":    TypeStructure,
	".vasp":   TypeStructure,
	".poscar": TypeStructure,
	".png":    TypeImage,
	".svg":    TypeImage,
	".eps":    TypeImage,
	".pdf":    TypeImage,
	".csv":    TypeTable,
	".dat":    TypeTable,
	".txt":    TypeFile,
	".json":   TypeFile,
	".log":    TypeFile,
	".html":   TypeHTMLPreview,
}

// mimeTypes covers suffixes the platform MIME table usually lacks
var mimeTypes = map[string]string{
	".xyz":    "chemical/x-xyz",
	".extxyz": "chemical/x-xyz",
	".cif":    "chemical/x-cif",
	".vasp":   "text/plain",
	".poscar": "text/plain",
	".traj":   "application/octet-stream",
	".png":    "image/png",
	".svg":    "image/svg+xml",
	".eps":    "application/postscript",
	".pdf":    "application/pdf",
	".csv":    "text/csv",
	".dat":    "text/plain",
	".txt":    "text/plain",
	".json":   "application/json",
	".log":    "text/plain",
	".html":   "text/html",
}

// Suffix returns the lowercased file suffix including the dot.
// A bare POSCAR file name counts as ".poscar".
func Suffix(path string) string {
	base := filepath.Base(path)
	if strings.EqualFold(base, "POSCAR") || strings.EqualFold(base, "CONTCAR") {
		return ".poscar"
	}
	return strings.ToLower(filepath.Ext(base))
}

// Allowed reports whether the path has an allow-listed suffix
func Allowed(path string) bool {
	_, ok := allowedSuffixes[Suffix(path)]
	return ok
}

// GuessType derives the artifact type from the file suffix
func GuessType(path string) Type {
	if t, ok := allowedSuffixes[Suffix(path)]; ok {
		return t
	}
	return TypeFile
}

// MIMEType guesses a media type from the file name
func MIMEType(path string) string {
	suffix := Suffix(path)
	if m, ok := mimeTypes[suffix]; ok {
		return m
	}
	if m := mime.TypeByExtension(suffix); m != "" {
		return m
	}
	return "application/octet-stream"
}

// SupportedFormats lists the allow-listed suffixes, sorted
func SupportedFormats() []string {
	out := make([]string, 0, len(allowedSuffixes))
	for suffix := range allowedSuffixes {
		out = append(out, strings.TrimPrefix(suffix, "."))
	}
	sort.Strings(out)
	return out
}
