package quest

import (
	"io"
	"log"
	"sync/atomic"

	"gitlab.com/stephen-fox/questpost/memory"
)

// Poster posts a quest using a session. *Executor implements it.
type Poster interface {
	Post(session uintptr) error
}

// TriggerConfig configures a Trigger.
type TriggerConfig struct {
	Poster Poster

	// Verbose enables logging each time the captured
	// session changes.
	Verbose bool

	// OptLogger, when non-nil, receives capture diagnostics.
	OptLogger *log.Logger
}

// NewTrigger creates a new *Trigger with no pending request.
func NewTrigger(config TriggerConfig) *Trigger {
	logger := config.OptLogger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Trigger{
		config: config,
		logger: logger,
	}
}

// Trigger hands post requests made on any goroutine to the thread
// that captures sessions.
//
// Capture and Arm may be called concurrently with each other. Each arm
// results in at most one post, made by the first Capture that follows
// it. Arming repeatedly before a capture results in a single post.
// A request that is never followed by a capture stays pending.
type Trigger struct {
	config  TriggerConfig
	logger  *log.Logger
	pending atomic.Bool
	last    atomic.Uintptr
}

// Capture records session as the most recently observed session. If a
// post is pending, it is made synchronously with session before Capture
// returns. Non-canonical sessions are ignored.
//
// Capture is called from the hooked function, so it must not block.
func (o *Trigger) Capture(session uintptr) {
	if !memory.IsCanonicalUserPointer(session) {
		return
	}

	previous := o.last.Swap(session)
	if previous != session && o.config.Verbose {
		o.logger.Printf("session changed: 0x%x -> 0x%x", previous, session)
	}

	if !o.pending.Swap(false) {
		return
	}

	o.logger.Printf("consuming post request with session 0x%x", session)

	// Errors are logged by the Poster.
	_ = o.config.Poster.Post(session)
}

// Arm requests a post on the next Capture.
func (o *Trigger) Arm() {
	o.pending.Store(true)
}

// Pending returns true if a post has been requested
// but not yet made.
func (o *Trigger) Pending() bool {
	return o.pending.Load()
}

// LastSession returns the most recently captured session,
// or zero if none has been captured.
func (o *Trigger) LastSession() uintptr {
	return o.last.Load()
}
