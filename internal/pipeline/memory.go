package pipeline

import (
	"runtime"
	"runtime/debug"
)

// memoryRatio reports current heap usage as a fraction of the configured
// limit.
func memoryRatio(limitMB int) float64 {
	if limitMB <= 0 {
		return 0
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / (float64(limitMB) * 1024 * 1024)
}

// gcHint requests a best-effort collection and returns retained pages to
// the OS.
func gcHint() {
	debug.FreeOSMemory()
}
