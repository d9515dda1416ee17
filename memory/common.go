package memory

import (
	"errors"
	"log"
)

// ReadWriter abstracts access to data memory.
type ReadWriter interface {
	// Read copies numBytes bytes starting at address.
	Read(address uintptr, numBytes int) ([]byte, error)

	// Write copies p to address. The memory is expected
	// to already be writable.
	Write(address uintptr, p []byte) error
}

// Patcher abstracts modification of code memory.
type Patcher interface {
	ReadWriter

	// Patch overwrites the memory at address with p. The containing
	// page(s) are made writable and executable for the duration of
	// the copy, the instruction cache is flushed for the range, and
	// the previous protection is restored afterwards.
	//
	// If the protection cannot be elevated, no bytes are written.
	Patch(address uintptr, p []byte) error
}

// ExecAllocator abstracts allocation of executable memory.
type ExecAllocator interface {
	// AllocExec allocates a readable, writable, and executable
	// buffer of at least size bytes.
	AllocExec(size int) (uintptr, error)

	// FreeExec releases a buffer returned by AllocExec.
	FreeExec(address uintptr) error
}

// Caller abstracts invocation of native routines.
type Caller interface {
	// Call invokes the routine at address using the platform's
	// native calling convention and returns its first result
	// register.
	Call(address uintptr, args ...uintptr) (uintptr, error)
}

var (
	// ErrUnmapped is returned when an address range is not
	// backed by accessible memory.
	ErrUnmapped = errors.New("memory is not mapped")

	// DefaultExitFn is invoked by functions and methods ending in
	// the "OrExit" suffix when an error occurs.
	DefaultExitFn = func(err error) {
		log.Fatalln(err)
	}
)
