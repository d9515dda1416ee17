// Package plugin ties the quest poster's components together behind
// the two lifecycle calls a host program makes: Init and Fini.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/stephen-fox/questpost/config"
	"gitlab.com/stephen-fox/questpost/diag"
	"gitlab.com/stephen-fox/questpost/hook"
	"gitlab.com/stephen-fox/questpost/hotkey"
	"gitlab.com/stephen-fox/questpost/memory"
	"gitlab.com/stephen-fox/questpost/quest"
)

// StopTimeout is how long Fini waits for the hotkey
// poller to exit.
const StopTimeout = 2 * time.Second

// Memory is the game process' memory.
type Memory interface {
	memory.Patcher
	memory.ExecAllocator
	memory.Caller
}

// Platform provides the operating system facilities a Plugin uses.
type Platform struct {
	Memory Memory
	Keys   hotkey.KeyState

	// ImageBase returns the game executable's load address.
	ImageBase func() (uintptr, error)

	// NewCallback returns the address of a native-callable
	// function that calls fn.
	NewCallback func(fn func(session uintptr) uintptr) uintptr

	// ModuleDir returns the directory containing the plugin.
	// The settings file is read from and the log file is
	// written to this directory.
	ModuleDir func() (string, error)
}

// New creates a new, uninitialized *Plugin.
func New(platform Platform) *Plugin {
	return &Plugin{
		platform: platform,
		sink:     diag.Discard(),
	}
}

// Plugin is the quest poster. A Plugin may be initialized again
// after Fini.
type Plugin struct {
	platform Platform

	mu          sync.Mutex
	initialized bool
	sink        *diag.Sink
	hook        hook.Interceptor
	poller      *hotkey.Poller

	callbackOnce sync.Once
	callback     uintptr
	trigger      atomic.Pointer[quest.Trigger]
}

// Init loads the settings, opens the log, installs the hook, and
// starts polling the hotkey. pathHint is the host's directory; it is
// used in place of the plugin's directory when the latter cannot be
// determined.
//
// If the hook cannot be installed, the hotkey is not polled and an
// error is returned. The log remains open until Fini.
func (o *Plugin) Init(pathHint string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.initialized {
		return nil
	}

	o.initialized = true

	dir, err := o.platform.ModuleDir()
	if err != nil || dir == "" {
		dir = pathHint
	}

	sink, sinkErr := diag.Open(diag.SinkConfig{
		FilePath:  filepath.Join(dir, diag.FileName),
		FreshFile: true,
	})
	if sinkErr != nil {
		sink = diag.Discard()
	}

	o.sink = sink
	initLogger := sink.Logger(diag.CategoryInit)

	initLogger.Printf("gameDir=%s", pathHint)

	if err != nil {
		initLogger.Printf("failed to find plugin directory, using gameDir - %s", err)
	}

	err = o.start(dir)
	if err != nil {
		initLogger.Printf("mid-hook install failed - %s", err)
		return err
	}

	initLogger.Printf("OK")

	return nil
}

func (o *Plugin) start(dir string) error {
	cfgLogger := o.sink.Logger(diag.CategoryConfig)

	cfg, err := config.Load(filepath.Join(dir, config.FileName), cfgLogger)
	if err != nil {
		cfgLogger.Printf("using defaults - %s", err)
		cfg = config.Default()
	}

	imageBase, err := o.platform.ImageBase()
	if err != nil {
		return fmt.Errorf("failed to get image base - %w", err)
	}

	executor, err := quest.NewExecutor(quest.ExecutorConfig{
		Params:    cfg.Params,
		Layout:    cfg.Layout,
		Addresses: cfg.AddressTable(imageBase),
		Memory:    o.platform.Memory,
		Caller:    o.platform.Memory,
		OptLogger: o.sink.Logger(diag.CategoryPost),
	})
	if err != nil {
		return fmt.Errorf("failed to create quest executor - %w", err)
	}

	trigger := quest.NewTrigger(quest.TriggerConfig{
		Poster:    executor,
		Verbose:   cfg.Verbose > 0,
		OptLogger: o.sink.Logger(diag.CategoryCapture),
	})

	o.trigger.Store(trigger)

	mh, err := hook.NewMidHook(hook.MidHookConfig{
		Target:    imageBase + uintptr(cfg.TargetRva),
		Signature: cfg.Signature,
		Callback:  o.captureCallback(),
		Argument:  cfg.Session,
		Memory:    o.platform.Memory,
		Allocator: o.platform.Memory,
		OptLogger: o.sink.Logger(diag.CategoryHook),
	})
	if err != nil {
		return err
	}

	err = mh.Install()
	if err != nil {
		return err
	}

	o.hook = mh

	threadLogger := o.sink.Logger(diag.CategoryThread)

	poller, err := hotkey.StartPoller(context.Background(), hotkey.PollerConfig{
		Keys:       o.platform.Keys,
		VirtualKey: cfg.Hotkey,
		Interval:   cfg.PollInterval,
		OnPress: func() {
			trigger.Arm()
			threadLogger.Printf("hotkey pressed, queued post request")
		},
		OptLogger: threadLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to start hotkey poller - %w", err)
	}

	o.poller = poller

	return nil
}

// captureCallback returns the address of the function the hook calls.
// Native callbacks cannot be released, so one is created per Plugin and
// forwards to the current Trigger.
func (o *Plugin) captureCallback() uintptr {
	o.callbackOnce.Do(func() {
		o.callback = o.platform.NewCallback(func(session uintptr) uintptr {
			trigger := o.trigger.Load()
			if trigger != nil {
				trigger.Capture(session)
			}

			return 0
		})
	})

	return o.callback
}

// Fini stops polling the hotkey, removes the hook, and closes the log.
// The hook is removed even if the poller does not stop in time.
// Calling Fini on an uninitialized Plugin does nothing.
func (o *Plugin) Fini() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized {
		return
	}

	finiLogger := o.sink.Logger(diag.CategoryFini)
	finiLogger.Printf("begin")

	if o.poller != nil {
		err := o.poller.Stop(StopTimeout)
		if errors.Is(err, hotkey.ErrStopTimeout) {
			finiLogger.Printf("input thread did not exit - %s", err)
		}

		o.poller = nil
	}

	if o.hook != nil {
		err := o.hook.Remove()
		if err != nil {
			finiLogger.Printf("failed to remove mid-hook - %s", err)
		}

		o.hook = nil
	}

	o.trigger.Store(nil)

	finiLogger.Printf("end")
	o.sink.Close()
	o.sink = diag.Discard()
	o.initialized = false
}
