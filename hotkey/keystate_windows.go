//go:build windows

package hotkey

import (
	"golang.org/x/sys/windows"
)

var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	procGetAsyncKeyState = user32.NewProc("GetAsyncKeyState")
)

// AsyncKeyState implements KeyState using GetAsyncKeyState. It reports
// the state of the physical keyboard regardless of which window has
// focus.
type AsyncKeyState struct{}

func (AsyncKeyState) IsDown(virtualKey uint16) bool {
	ret, _, _ := procGetAsyncKeyState.Call(uintptr(virtualKey))

	// The most significant bit of the SHORT result is set
	// while the key is down.
	return ret&0x8000 != 0
}
