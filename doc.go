// Package questpost provides an in-process plugin that intercepts a target
// program mid-function, captures a transient session pointer, and uses it
// to invoke the target's own quest posting routines on request.
//
// APIs are separated into subpackages, and documented accordingly.
// The plugin itself is assembled by the plugin package and exported
// to the host program by cmd/questpost.
//
// For scripting convenience, some "OrExit" functions and methods are
// provided. Any errors encountered by these functions are treated as
// fatal. In such cases, an exit handler function is invoked. These
// functions are never used by the plugin, which must not terminate
// its host process.
package questpost
