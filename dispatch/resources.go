/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package dispatch

import (
	"os"

	"github.com/prometheus/procfs"
)

// Snapshot describes the server process at the time of a failure. Fields
// that cannot be read on this platform are omitted.
func Snapshot(backendMaxRSSKB int64) map[string]any {
	res := map[string]any{"pid": os.Getpid()}
	if cwd, err := os.Getwd(); err == nil {
		res["cwd"] = cwd
	}
	if backendMaxRSSKB > 0 {
		res["backend_max_rss_kb"] = backendMaxRSSKB
	}

	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return res
	}

	if proc, err := fs.Self(); err == nil {
		if status, err := proc.NewStatus(); err == nil {
			res["max_rss_kb"] = status.VmHWM / 1024
			res["rss_kb"] = status.VmRSS / 1024
		}
	}

	if mi, err := fs.Meminfo(); err == nil {
		mem := map[string]any{}
		setKB(mem, "mem_total_kb", mi.MemTotal)
		setKB(mem, "mem_free_kb", mi.MemFree)
		setKB(mem, "mem_available_kb", mi.MemAvailable)
		setKB(mem, "swap_total_kb", mi.SwapTotal)
		setKB(mem, "swap_free_kb", mi.SwapFree)
		if len(mem) > 0 {
			res["meminfo"] = mem
		}
	}
	return res
}

func setKB(m map[string]any, key string, v *uint64) {
	if v != nil {
		m[key] = *v
	}
}
