//go:build windows

// Command questpost is a plugin for the game's mod loader. It must be
// built with -buildmode=c-shared. The loader calls plugin_init after
// loading the DLL and plugin_fini before unloading it.
//
// Once initialized, pressing F10 (or the configured hotkey) posts the
// configured quest the next time the game runs the hooked code.
package main

import "C"
import (
	"unsafe"

	"gitlab.com/stephen-fox/questpost/plugin"
)

var p = plugin.New(plugin.WindowsPlatform())

//export plugin_init
func plugin_init(gameDir *C.char, reserved unsafe.Pointer) unsafe.Pointer {
	defer func() {
		// A panic must not unwind into the host.
		recover()
	}()

	var pathHint string
	if gameDir != nil {
		pathHint = C.GoString(gameDir)
	}

	// Failures are logged. The host does not use the result.
	_ = p.Init(pathHint)

	return nil
}

//export plugin_fini
func plugin_fini() {
	defer func() {
		recover()
	}()

	p.Fini()
}

func main() {}
