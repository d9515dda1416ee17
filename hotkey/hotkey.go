// Package hotkey detects key presses by polling the keyboard state.
package hotkey

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"
)

const (
	// VirtualKeyF10 is the Windows virtual-key code of F10.
	VirtualKeyF10 uint16 = 0x79

	DefaultInterval = 15 * time.Millisecond
)

// ErrStopTimeout is returned by Poller.Stop when the polling
// goroutine does not exit in time.
var ErrStopTimeout = errors.New("timed out waiting for poller to exit")

// KeyState reports whether a key is currently held down.
type KeyState interface {
	IsDown(virtualKey uint16) bool
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Keys KeyState

	// VirtualKey is the key to watch.
	VirtualKey uint16

	// Interval is the time between polls. DefaultInterval
	// is used when it is zero.
	Interval time.Duration

	// OnPress is called on the polling goroutine each time
	// the key goes from up to down. Holding the key down
	// results in a single call.
	OnPress func()

	OptLogger *log.Logger
}

// StartPoller starts polling in a new goroutine. Polling continues
// until ctx is done or Stop is called. A key that is already down
// when StartPoller is called does not count as a press until it
// is released.
func StartPoller(ctx context.Context, config PollerConfig) (*Poller, error) {
	if config.Keys == nil {
		return nil, errors.New("key state cannot be nil")
	}

	if config.OnPress == nil {
		return nil, errors.New("on press function cannot be nil")
	}

	if config.Interval < 0 {
		return nil, fmt.Errorf("interval cannot be negative - got %s", config.Interval)
	}

	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}

	logger := config.OptLogger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	ctx, cancelFn := context.WithCancel(ctx)

	p := &Poller{
		config: config,
		logger: logger,
		cancel: cancelFn,
		done:   make(chan struct{}),
	}

	// The key is sampled before returning so that a press made
	// right after StartPoller returns is never mistaken for a
	// key that was already held.
	wasDown := config.Keys.IsDown(config.VirtualKey)

	go p.loop(ctx, wasDown)

	return p, nil
}

// Poller polls a single key. Refer to StartPoller.
type Poller struct {
	config PollerConfig
	logger *log.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

func (o *Poller) loop(ctx context.Context, wasDown bool) {
	defer close(o.done)

	o.logger.Printf("polling key 0x%x every %s", o.config.VirtualKey, o.config.Interval)

	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Printf("polling stopped")
			return
		case <-ticker.C:
			isDown := o.config.Keys.IsDown(o.config.VirtualKey)
			if isDown && !wasDown {
				o.logger.Printf("key 0x%x pressed", o.config.VirtualKey)
				o.config.OnPress()
			}

			wasDown = isDown
		}
	}
}

// Done returns a channel that is closed when the polling
// goroutine exits.
func (o *Poller) Done() <-chan struct{} {
	return o.done
}

// Stop stops polling and waits up to timeout for the polling
// goroutine to exit. It may be called more than once.
func (o *Poller) Stop(timeout time.Duration) error {
	o.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-o.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%s - %w", timeout, ErrStopTimeout)
	}
}
