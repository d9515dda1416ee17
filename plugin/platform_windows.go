//go:build windows

package plugin

import (
	"fmt"
	"path/filepath"
	"reflect"
	"unsafe"

	"gitlab.com/stephen-fox/questpost/hotkey"
	"gitlab.com/stephen-fox/questpost/memory"
	"golang.org/x/sys/windows"
)

// WindowsPlatform returns the Platform of the current process.
func WindowsPlatform() Platform {
	proc := memory.CurrentProcess()

	return Platform{
		Memory:    proc,
		Keys:      hotkey.AsyncKeyState{},
		ImageBase: proc.ImageBase,
		NewCallback: func(fn func(session uintptr) uintptr) uintptr {
			return windows.NewCallback(fn)
		},
		ModuleDir: moduleDir,
	}
}

// moduleDir returns the directory of the module containing
// this function (i.e., the plugin DLL rather than the game).
func moduleDir() (string, error) {
	var module windows.Handle

	err := windows.GetModuleHandleEx(
		windows.GET_MODULE_HANDLE_EX_FLAG_FROM_ADDRESS|windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT,
		(*uint16)(unsafe.Pointer(reflect.ValueOf(moduleDir).Pointer())),
		&module)
	if err != nil {
		return "", fmt.Errorf("failed to get plugin module handle - %w", err)
	}

	buf := make([]uint16, windows.MAX_LONG_PATH)

	n, err := windows.GetModuleFileName(module, &buf[0], uint32(len(buf)))
	if err != nil {
		return "", fmt.Errorf("failed to get plugin file name - %w", err)
	}

	return filepath.Dir(windows.UTF16ToString(buf[:n])), nil
}
