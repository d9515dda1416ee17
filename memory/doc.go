// Package memory provides functionality for reading, writing, and patching
// memory in the current process.
//
// The API is split into small interfaces so that callers can be exercised
// against a simulated address space:
//	- ReadWriter reads and writes data memory (e.g., fields of a
//	  structure owned by the host program)
//	- Patcher additionally rewrites code memory, temporarily elevating
//	  page protection and flushing the instruction cache
//	- ExecAllocator allocates and releases executable buffers
//	- Caller invokes native routines at arbitrary addresses
//
// On Windows, the Process type implements all of the above for the
// current process. The Sandbox type implements them on top of ordinary
// Go slices and is used by tests and offline tooling.
//
// Addresses that belong to the host program are borrowed. Before any
// such address is dereferenced, it should be checked with
// IsCanonicalUserPointer.
package memory
