// Package hook implements mid-function interception for 64-bit x86
// Windows programs.
//
// A mid-function hook replaces a run of whole instructions somewhere in
// the middle of a function with a jump to a trampoline. The trampoline
// saves the volatile register state, calls a native callback with a
// single argument derived from a register, restores the state, executes
// a verbatim copy of the replaced instructions, and jumps back to the
// first instruction after the replaced run. Neither the redirect nor the
// trampoline's return jump modify a register, so the replaced
// instructions observe exactly the state they would have observed had
// the function not been patched.
//
// The replaced bytes are checked against an expected signature before
// anything is written. A signature describes one build of the target
// program; a mismatch means the target address is not valid for the
// running build and the hook refuses to install.
package hook
