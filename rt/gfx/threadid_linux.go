//go:build linux

package gfx

import "golang.org/x/sys/unix"

const hasThreadIDs = true

func currentThreadID() int64 {
	return int64(unix.Gettid())
}
