package memory

import (
	"fmt"
	"sort"
	"sync"
)

var defaultSandboxExecBase = uint64(0x7ff000000000)

const sandboxPageSize = 0x1000

// NewSandbox creates an empty *Sandbox. Refer to Sandbox's
// documentation for more information.
func NewSandbox() *Sandbox {
	return &Sandbox{
		nextExec: uintptr(defaultSandboxExecBase),
		routines: make(map[uintptr]func(args ...uintptr) uintptr),
	}
}

// Sandbox is a simulated address space backed by Go slices. It implements
// ReadWriter, Patcher, ExecAllocator, and Caller.
//
// Regions are created with Map. Accesses must fall entirely within a
// single region, otherwise ErrUnmapped is returned. Calls are recorded
// and dispatched to routines registered with OnCall.
type Sandbox struct {
	// OptPatchFn, when non-nil, is invoked before each Patch. If it
	// returns an error, the patch fails and memory is left unmodified.
	// It simulates a failure to elevate page protection.
	OptPatchFn func(address uintptr, p []byte) error

	// OptAllocErr, when non-nil, is returned by AllocExec.
	OptAllocErr error

	mu       sync.Mutex
	regions  []*sandboxRegion
	nextExec uintptr
	routines map[uintptr]func(args ...uintptr) uintptr
	calls    []SandboxCall
	patches  int
}

type sandboxRegion struct {
	base uintptr
	data []byte
}

func (o *sandboxRegion) contains(address uintptr, numBytes int) bool {
	if numBytes < 0 || address < o.base {
		return false
	}

	// Compared as offsets so that address+numBytes cannot wrap.
	offset := address - o.base
	size := uintptr(len(o.data))

	return offset <= size && uintptr(numBytes) <= size-offset
}

// SandboxCall records a Call made against a Sandbox.
type SandboxCall struct {
	Address uintptr
	Args    []uintptr
}

// Map creates a zero-filled region of size bytes at base and returns
// its backing slice. Modifying the slice modifies the region.
func (o *Sandbox) Map(base uintptr, size int) []byte {
	return o.MapBytes(base, make([]byte, size))
}

// MapBytes creates a region at base backed by p.
func (o *Sandbox) MapBytes(base uintptr, p []byte) []byte {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.regions = append(o.regions, &sandboxRegion{
		base: base,
		data: p,
	})

	sort.Slice(o.regions, func(i, j int) bool {
		return o.regions[i].base < o.regions[j].base
	})

	return p
}

// Unmap removes the region starting at base.
func (o *Sandbox) Unmap(base uintptr) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, r := range o.regions {
		if r.base == base {
			o.regions = append(o.regions[:i], o.regions[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("no region starts at 0x%x - %w", base, ErrUnmapped)
}

func (o *Sandbox) find(address uintptr, numBytes int) (*sandboxRegion, error) {
	for _, r := range o.regions {
		if r.contains(address, numBytes) {
			return r, nil
		}
	}

	return nil, fmt.Errorf("0x%x (%d bytes) - %w", address, numBytes, ErrUnmapped)
}

func (o *Sandbox) Read(address uintptr, numBytes int) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	r, err := o.find(address, numBytes)
	if err != nil {
		return nil, err
	}

	start := address - r.base
	out := make([]byte, numBytes)
	copy(out, r.data[start:])

	return out, nil
}

func (o *Sandbox) Write(address uintptr, p []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.writeLocked(address, p)
}

func (o *Sandbox) writeLocked(address uintptr, p []byte) error {
	r, err := o.find(address, len(p))
	if err != nil {
		return err
	}

	copy(r.data[address-r.base:], p)

	return nil
}

func (o *Sandbox) Patch(address uintptr, p []byte) error {
	if o.OptPatchFn != nil {
		err := o.OptPatchFn(address, p)
		if err != nil {
			return fmt.Errorf("failed to change protection at 0x%x - %w", address, err)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.writeLocked(address, p)
	if err != nil {
		return err
	}

	o.patches++

	return nil
}

// NumPatches returns the number of successful Patch calls.
func (o *Sandbox) NumPatches() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.patches
}

func (o *Sandbox) AllocExec(size int) (uintptr, error) {
	if o.OptAllocErr != nil {
		return 0, o.OptAllocErr
	}

	if size <= 0 {
		return 0, fmt.Errorf("allocation size must be greater than zero - got %d", size)
	}

	o.mu.Lock()
	base := o.nextExec
	numPages := (size + sandboxPageSize - 1) / sandboxPageSize
	o.nextExec += uintptr(numPages * sandboxPageSize)
	o.mu.Unlock()

	o.Map(base, size)

	return base, nil
}

func (o *Sandbox) FreeExec(address uintptr) error {
	return o.Unmap(address)
}

// OnCall registers fn as the routine located at address.
func (o *Sandbox) OnCall(address uintptr, fn func(args ...uintptr) uintptr) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.routines[address] = fn
}

// Call records the call and invokes the routine registered with OnCall,
// if any. Calls to addresses without a routine return zero.
func (o *Sandbox) Call(address uintptr, args ...uintptr) (uintptr, error) {
	o.mu.Lock()
	o.calls = append(o.calls, SandboxCall{
		Address: address,
		Args:    append([]uintptr(nil), args...),
	})
	fn := o.routines[address]
	o.mu.Unlock()

	if fn == nil {
		return 0, nil
	}

	return fn(args...), nil
}

// Calls returns a copy of the calls made so far, in order.
func (o *Sandbox) Calls() []SandboxCall {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]SandboxCall(nil), o.calls...)
}
