// Package quest posts quests through a running game's own quest board
// routines.
//
// The game only exposes the state needed to post a quest (the
// "session") transiently, as a pointer held in a register while one of
// its functions runs. A Trigger is fed that pointer each time the
// function runs (see Trigger.Capture) and, when a post was requested
// from another goroutine (see Trigger.Arm), hands it to an Executor on
// the same thread, while the pointer is known to be valid.
package quest
