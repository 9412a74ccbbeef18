//go:build windows

package config

import (
	"os"
)

// openConfigFile opens the config file on Windows.
// Windows doesn't have O_NOFOLLOW, and symlinks require special privileges
// to create.
func openConfigFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return f, nil
}

// checkFileSecurity on Windows is a no-op; ACLs govern access there.
func checkFileSecurity(_ os.FileInfo) error {
	return nil
}
