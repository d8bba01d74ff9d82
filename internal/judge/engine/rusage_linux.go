//go:build linux

package engine

import (
	"os"
	"syscall"
)

// peakMemoryMB reads the child's peak resident set size from rusage.
func peakMemoryMB(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	rusage, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return 0
	}
	// Maxrss is in kilobytes on Linux.
	return rusage.Maxrss / 1024
}
