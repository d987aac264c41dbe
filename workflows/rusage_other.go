/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

//go:build !unix

package workflows

import "os"

func maxRSSKB(_ *os.ProcessState) int64 {
	return 0
}
