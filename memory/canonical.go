package memory

const (
	// MinUserAddress is the lowest address considered valid for
	// a user-mode pointer. The first 64 KiB are never mapped
	// on Windows.
	MinUserAddress uint64 = 0x10000

	// MaxUserAddress is the highest canonical user-mode
	// address on x86 64-bit systems.
	MaxUserAddress uint64 = 0x00007fffffffffff
)

// IsCanonicalUserPointer returns true if address lies within the
// canonical user-mode address range.
func IsCanonicalUserPointer(address uintptr) bool {
	a := uint64(address)

	return a >= MinUserAddress && a <= MaxUserAddress
}
