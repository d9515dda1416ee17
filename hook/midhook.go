package hook

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"gitlab.com/stephen-fox/questpost/asmkit"
	"gitlab.com/stephen-fox/questpost/conv"
	"gitlab.com/stephen-fox/questpost/memory"
)

// Interceptor is implemented by types that patch a program and can
// later undo the patch.
type Interceptor interface {
	// Install applies the patch. Installing an already
	// installed patch does nothing and returns nil.
	Install() error

	// Remove undoes the patch. Removing a patch that is
	// not installed does nothing and returns nil.
	Remove() error
}

// ErrSignatureMismatch is wrapped by *SignatureMismatchError.
var ErrSignatureMismatch = errors.New("signature mismatch")

// SignatureMismatchError is returned when the bytes at a hook's target
// are not the expected signature, which usually means the running
// program is a different build than the one the target address
// was taken from.
type SignatureMismatchError struct {
	Target   uintptr
	Expected []byte
	Actual   []byte
}

func (o *SignatureMismatchError) Error() string {
	return fmt.Sprintf("%s at 0x%x (expected: %s | actual: %s)",
		ErrSignatureMismatch, o.Target,
		conv.BytesToHexString(o.Expected), conv.BytesToHexString(o.Actual))
}

func (o *SignatureMismatchError) Unwrap() error {
	return ErrSignatureMismatch
}

// MidHookConfig configures a MidHook.
type MidHookConfig struct {
	// Target is the address of the first instruction to replace.
	Target uintptr

	// Signature is the expected content of the instructions
	// to replace. Its length determines how many bytes are
	// replaced and must be at least RedirectLen.
	Signature []byte

	// Callback is the address of a native-callable function
	// that takes one pointer-sized argument.
	Callback uintptr

	// Argument selects the value passed to Callback.
	Argument Argument

	Memory    memory.Patcher
	Allocator memory.ExecAllocator

	// OptLogger, when non-nil, receives install
	// and removal diagnostics.
	OptLogger *log.Logger
}

// NewMidHook creates a new *MidHook. The hook is not installed.
func NewMidHook(config MidHookConfig) (*MidHook, error) {
	if config.Target == 0 {
		return nil, errors.New("target address cannot be zero")
	}

	if len(config.Signature) < RedirectLen {
		return nil, fmt.Errorf("signature must be at least %d bytes - it is %d bytes",
			RedirectLen, len(config.Signature))
	}

	if config.Callback == 0 {
		return nil, errors.New("callback address cannot be zero")
	}

	if config.Memory == nil {
		return nil, errors.New("memory patcher cannot be nil")
	}

	if config.Allocator == nil {
		return nil, errors.New("executable memory allocator cannot be nil")
	}

	logger := config.OptLogger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &MidHook{
		config: config,
		logger: logger,
	}, nil
}

// MidHook intercepts a function mid-body. Refer to the package
// documentation for details.
//
// The original bytes captured at install time are the only source
// used to restore the target on removal. The trampoline is allocated
// on the first successful install and is never freed.
type MidHook struct {
	config    MidHookConfig
	logger    *log.Logger
	mu        sync.Mutex
	installed bool
	original  []byte
	stub      uintptr
}

// Installed returns true if the hook is currently installed.
func (o *MidHook) Installed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.installed
}

// Trampoline returns the trampoline's address, or zero if the
// hook is not installed.
func (o *MidHook) Trampoline() uintptr {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.installed {
		return 0
	}

	return o.stub
}

// Install verifies the target's signature, builds the trampoline, and
// redirects the target to it. On failure, the target is left unmodified
// and the hook remains uninstalled.
func (o *MidHook) Install() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.installed {
		return nil
	}

	target := o.config.Target
	regionLen := len(o.config.Signature)

	current, err := o.config.Memory.Read(target, regionLen)
	if err != nil {
		return fmt.Errorf("failed to read %d bytes at target 0x%x - %w", regionLen, target, err)
	}

	if !bytes.Equal(current, o.config.Signature) {
		err := &SignatureMismatchError{
			Target:   target,
			Expected: o.config.Signature,
			Actual:   current,
		}
		o.logger.Printf("%s (version mismatch)", err)
		return err
	}

	_, err = asmkit.CheckRelocatableX86_64(current)
	if err != nil {
		return fmt.Errorf("instructions at 0x%x cannot be moved to a trampoline - %w", target, err)
	}

	tramp, err := BuildTrampoline(TrampolineConfig{
		Callback: o.config.Callback,
		Argument: o.config.Argument,
		Excised:  current,
		ReturnTo: target + uintptr(regionLen),
	})
	if err != nil {
		return fmt.Errorf("failed to build trampoline - %w", err)
	}

	stub := o.stub
	allocated := false

	if stub == 0 {
		stub, err = o.config.Allocator.AllocExec(len(tramp.Code))
		if err != nil {
			return fmt.Errorf("failed to allocate trampoline - %w", err)
		}

		allocated = true
	}

	redirect, err := BuildRedirect(stub, regionLen)
	if err == nil {
		err = o.config.Memory.Patch(stub, tramp.Code)
	}
	if err == nil {
		err = o.config.Memory.Patch(target, redirect)
	}
	if err != nil {
		if allocated {
			freeErr := o.config.Allocator.FreeExec(stub)
			if freeErr != nil {
				o.logger.Printf("failed to free trampoline at 0x%x - %s", stub, freeErr)
			}
		}

		return fmt.Errorf("failed to patch target 0x%x - %w", target, err)
	}

	o.original = current
	o.stub = stub
	o.installed = true

	o.logger.Printf("installed mid-hook at 0x%x (trampoline: 0x%x, %d bytes, argument: %s)",
		target, stub, len(tramp.Code), o.config.Argument)

	return nil
}

// Remove writes the original bytes back to the target.
//
// The trampoline stays allocated because the hooked thread may still be
// running it (or the callback it calls) when the bytes are restored.
// It is reused if the hook is installed again.
func (o *MidHook) Remove() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.installed {
		return nil
	}

	err := o.config.Memory.Patch(o.config.Target, o.original)
	if err != nil {
		return fmt.Errorf("failed to restore original bytes at 0x%x - %w", o.config.Target, err)
	}

	o.installed = false

	o.logger.Printf("removed mid-hook at 0x%x", o.config.Target)

	return nil
}
