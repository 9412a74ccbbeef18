//go:build !windows

package store

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// availableDiskSpace returns the bytes available to unprivileged writers in dir.
func availableDiskSpace(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, fmt.Errorf("store: failed to get disk stats: %w", err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
