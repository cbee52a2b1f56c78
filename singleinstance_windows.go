//go:build windows

package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows"
)

// acquireLock creates a named mutex derived from path; a second process gets
// ERROR_ALREADY_EXISTS.
func acquireLock(path string) (func(), error) {
	name := "Local\\logichue-" + strings.NewReplacer("\\", "_", ":", "_", "/", "_").Replace(filepath.Clean(path))
	ptr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}

	h, err := windows.CreateMutex(nil, false, ptr)
	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		if h != 0 {
			windows.CloseHandle(h)
		}
		return nil, fmt.Errorf("%w (mutex %s)", errAlreadyRunning, name)
	}
	if err != nil {
		return nil, fmt.Errorf("create mutex %s: %w", name, err)
	}

	return func() {
		windows.CloseHandle(h)
	}, nil
}
