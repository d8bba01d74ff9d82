//go:build !linux

package engine

import "os"

// peakMemoryMB is unavailable off Linux; memory limits are not enforced.
func peakMemoryMB(_ *os.ProcessState) int64 {
	return 0
}
