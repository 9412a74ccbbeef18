//go:build windows

package store

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// availableDiskSpace returns the bytes available to the caller in dir.
func availableDiskSpace(dir string) (uint64, error) {
	pathPtr, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, fmt.Errorf("store: failed to convert path: %w", err)
	}

	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeBytesAvailable, &totalBytes, &totalFreeBytes); err != nil {
		return 0, fmt.Errorf("store: failed to get disk stats: %w", err)
	}
	return freeBytesAvailable, nil
}
