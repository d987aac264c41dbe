/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package artifacts

import "encoding/json"

// FileRef marks a result field as a file reference explicitly, so enrichment
// does not need to guess from a bare string. It serializes as the plain path.
type FileRef struct {
	Path  string
	Label string // optional; defaults to the enclosing map key
}

// MarshalJSON emits the path as a JSON string
func (f FileRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Path)
}

// String returns the path
func (f FileRef) String() string {
	return f.Path
}
