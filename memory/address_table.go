package memory

import (
	"fmt"
)

// NewAddressTable creates a new instance of an *AddressTable for a module
// loaded at base. Refer to AddressTable's documentation for more
// information.
func NewAddressTable(base uintptr) *AddressTable {
	return &AddressTable{
		base:            base,
		symbolsToOffset: make(map[string]uint32),
	}
}

// AddressTable helps organize the addresses of symbols in a module whose
// load address is only known at runtime (e.g., an executable with ASLR
// enabled). Symbols are stored as offsets relative to the module's base,
// which is how they are typically recorded when reversing a particular
// build of a program.
//
// An offset of zero means "not configured". Address reports such symbols
// as missing rather than resolving them to the module's base.
//
// An AddressTable is not safe for concurrent modification. It is meant
// to be populated once and then only read.
type AddressTable struct {
	base            uintptr
	symbolsToOffset map[string]uint32
}

// AddOffset adds or sets the offset of a symbol.
func (o *AddressTable) AddOffset(symbolName string, offset uint32) *AddressTable {
	o.symbolsToOffset[symbolName] = offset
	return o
}

// Address returns the absolute address of the specified symbol.
// The second return value is false if the symbol is unknown or
// its offset is zero.
func (o *AddressTable) Address(symbolName string) (uintptr, bool) {
	offset, hasIt := o.symbolsToOffset[symbolName]
	if !hasIt || offset == 0 {
		return 0, false
	}

	return o.base + uintptr(offset), true
}

// Missing returns the subset of symbolNames that Address would
// not resolve, in the order they were specified.
func (o *AddressTable) Missing(symbolNames ...string) []string {
	var missing []string

	for _, name := range symbolNames {
		_, ok := o.Address(name)
		if !ok {
			missing = append(missing, name)
		}
	}

	return missing
}

// AddressOrExit returns the address of the specified symbol.
//
// If the symbol is missing, then DefaultExitFn is invoked.
func (o *AddressTable) AddressOrExit(symbolName string) uintptr {
	addr, ok := o.Address(symbolName)
	if !ok {
		DefaultExitFn(fmt.Errorf("failed to find the symbol '%s' in the table for base 0x%x",
			symbolName, o.base))
	}

	return addr
}
