/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package dispatch

import (
	"fmt"
	"strings"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/workflows"
)

// Lattices that cannot be built as a conventional cubic cell
var nonCubicSystems = map[string]bool{
	"hcp":          true,
	"hexagonal":    true,
	"rhombohedral": true,
	"trigonal":     true,
}

const (
	hintFileNotFound = "Verify file paths: inputs must be paths on the server, such as the filepath values returned by earlier workflows."
	hintDownloadURLs = "Use returned artifact download_url links only to download results; pass filepath values to other tools."
	hintNativeDep    = "A native dependency of the scientific stack is missing on the server. Try another calculator (calculator_name='orb' or 'nequix') or a different structure format."
	hintMemory       = "The backend ran out of memory. Reduce the number of atoms, the supercell size or the trajectory length."
	hintTimeout      = "The workflow hit the backend time limit. Reduce steps or system size, or run it as a background task."
	hintCalculator   = "Use calculator_name 'auto', 'orb', 'nequix' or 'kim'."
)

// Hints returns suggestions for fixing a failed call, most specific first
func Hints(tool string, args map[string]any, wfErr *workflows.Error) []string {
	hints := []string{}
	if wfErr == nil {
		return hints
	}
	message := strings.ToLower(wfErr.Type + " " + wfErr.Message + " " + wfErr.Traceback)

	if system, _ := args["crystal_system"].(string); nonCubicSystems[strings.ToLower(system)] {
		if strings.Contains(message, "cubic") || requestsCubic(args) {
			hints = append(hints, fmt.Sprintf(
				"%s is not a cubic lattice: set builder_kwargs.cubic=false (or omit it) and give both a and c lattice constants, e.g. builder_kwargs={\"a\": 2.556, \"c\": 4.174}.",
				strings.ToLower(system)))
		}
	}

	if containsAny(message, "modulenotfounderror", "importerror", "no module named", "shared object", "cannot open shared") {
		hints = append(hints, hintNativeDep)
	}

	if containsAny(message, "memoryerror", "out of memory", "killed", "oom-kill") || wfErr.ExitCode == 137 {
		hints = append(hints, hintMemory)
	}

	if wfErr.Type == workflows.ErrTypeTimeout || containsAny(message, "timeouterror", "timed out", "deadline") {
		hints = append(hints, hintTimeout)
	}

	if strings.Contains(message, "calculator") && containsAny(message, "unknown", "unsupported", "not available", "invalid", "not found") {
		hints = append(hints, hintCalculator)
	}

	if containsAny(message, "filenotfounderror", "no such file", "file not found", "does not exist") && hasPathInput(args) {
		hints = append(hints, hintFileNotFound, hintDownloadURLs)
	}

	return hints
}

func requestsCubic(args map[string]any) bool {
	kwargs, _ := args["builder_kwargs"].(map[string]any)
	cubic, _ := kwargs["cubic"].(bool)
	return cubic
}

func hasPathInput(args map[string]any) bool {
	for k, v := range args {
		if s, ok := v.(string); ok && s != "" && (strings.HasSuffix(k, "filepath") || k == "filepath") {
			return true
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
