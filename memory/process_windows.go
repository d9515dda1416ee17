//go:build windows

package memory

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

// CurrentProcess returns a *Process for the calling process.
func CurrentProcess() *Process {
	return &Process{
		handle: windows.CurrentProcess(),
	}
}

// Process provides access to the memory of the current process. It
// implements ReadWriter, Patcher, ExecAllocator, and Caller.
//
// Reads and writes go through ReadProcessMemory and WriteProcessMemory so
// that a bad address produces an error rather than an access violation.
type Process struct {
	handle windows.Handle
}

// ImageBase returns the load address of the process' executable.
func (o *Process) ImageBase() (uintptr, error) {
	var module windows.Handle

	err := windows.GetModuleHandleEx(0, nil, &module)
	if err != nil {
		return 0, fmt.Errorf("failed to get executable module handle - %w", err)
	}

	return uintptr(module), nil
}

func (o *Process) Read(address uintptr, numBytes int) ([]byte, error) {
	if numBytes <= 0 {
		return nil, nil
	}

	buf := make([]byte, numBytes)
	var numRead uintptr

	err := windows.ReadProcessMemory(o.handle, address, &buf[0], uintptr(numBytes), &numRead)
	if err != nil {
		return nil, fmt.Errorf("failed to read %d bytes at 0x%x - %w", numBytes, address, err)
	}

	if int(numRead) != numBytes {
		return nil, fmt.Errorf("short read at 0x%x (%d of %d bytes) - %w",
			address, numRead, numBytes, ErrUnmapped)
	}

	return buf, nil
}

func (o *Process) Write(address uintptr, p []byte) error {
	if len(p) == 0 {
		return nil
	}

	var numWritten uintptr

	err := windows.WriteProcessMemory(o.handle, address, &p[0], uintptr(len(p)), &numWritten)
	if err != nil {
		return fmt.Errorf("failed to write %d bytes at 0x%x - %w", len(p), address, err)
	}

	if int(numWritten) != len(p) {
		return fmt.Errorf("short write at 0x%x (%d of %d bytes) - %w",
			address, numWritten, len(p), ErrUnmapped)
	}

	return nil
}

func (o *Process) Patch(address uintptr, p []byte) error {
	if len(p) == 0 {
		return nil
	}

	size := uintptr(len(p))

	var oldProtect uint32
	err := windows.VirtualProtect(address, size, windows.PAGE_EXECUTE_READWRITE, &oldProtect)
	if err != nil {
		return fmt.Errorf("failed to make 0x%x writable - %w", address, err)
	}

	copy(unsafe.Slice((*byte)(unsafe.Pointer(address)), len(p)), p)

	procFlushInstructionCache.Call(uintptr(o.handle), address, size)

	var discard uint32
	err = windows.VirtualProtect(address, size, oldProtect, &discard)
	if err != nil {
		return fmt.Errorf("failed to restore protection 0x%x at 0x%x - %w",
			oldProtect, address, err)
	}

	return nil
}

func (o *Process) AllocExec(size int) (uintptr, error) {
	address, err := windows.VirtualAlloc(
		0,
		uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE,
		windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %d executable bytes - %w", size, err)
	}

	return address, nil
}

func (o *Process) FreeExec(address uintptr) error {
	err := windows.VirtualFree(address, 0, windows.MEM_RELEASE)
	if err != nil {
		return fmt.Errorf("failed to free 0x%x - %w", address, err)
	}

	return nil
}

func (o *Process) Call(address uintptr, args ...uintptr) (uintptr, error) {
	if address == 0 {
		return 0, fmt.Errorf("cannot call a null address")
	}

	r1, _, _ := syscall.SyscallN(address, args...)

	return r1, nil
}
