//go:build !linux

package gfx

// No portable thread id; affinity falls back to the context marker alone.
const hasThreadIDs = false

func currentThreadID() int64 {
	return 0
}
