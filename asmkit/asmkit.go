package asmkit

import (
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

const (
	SkipSyntax  DisassemblySyntax = ""
	ATTSyntax   DisassemblySyntax = "att"
	GoSyntax    DisassemblySyntax = "go"
	IntelSyntax DisassemblySyntax = "intel"
)

type DisassemblySyntax string

type DisassemblerConfig struct {
	Syntax     DisassemblySyntax
	ArchConfig interface{}
}

type X86Config struct {
	Bits int
}

func NewDisassembler(config DisassemblerConfig) (*Disassembler, error) {
	switch assertedConfig := config.ArchConfig.(type) {
	case X86Config:
		switch assertedConfig.Bits {
		case 16, 32, 64:
		default:
			return nil, fmt.Errorf("unsupported x86 bits: %d", assertedConfig.Bits)
		}

		var disassemblyFn func(inst x86asm.Inst) string
		switch config.Syntax {
		case SkipSyntax:
			// Do nothing.
		case ATTSyntax:
			disassemblyFn = func(inst x86asm.Inst) string {
				return x86asm.GNUSyntax(inst, 0, nil)
			}
		case GoSyntax:
			disassemblyFn = func(inst x86asm.Inst) string {
				return x86asm.GoSyntax(inst, 0, nil)
			}
		case IntelSyntax:
			disassemblyFn = func(inst x86asm.Inst) string {
				return x86asm.IntelSyntax(inst, 0, nil)
			}
		default:
			return nil, fmt.Errorf("unsupported syntax type for x86: %q", config.Syntax)
		}

		return &Disassembler{
			disassOneInstFn: func(remainingInsts []byte) (Inst, error) {
				x86Inst, err := x86asm.Decode(remainingInsts, assertedConfig.Bits)
				if err != nil {
					return Inst{}, err
				}

				var disassembly string
				if disassemblyFn != nil {
					disassembly = disassemblyFn(x86Inst)
				}

				instBin := copySlice(remainingInsts, x86Inst.Len)

				return Inst{
					Bin:  instBin,
					Len:  x86Inst.Len,
					Dis:  disassembly,
					Inst: x86Inst,
				}, nil
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported config type: %T", assertedConfig)
	}
}

func copySlice(src []byte, numBytes int) []byte {
	cp := make([]byte, numBytes)

	copy(cp, src[0:numBytes])

	return cp
}

type Disassembler struct {
	disassOneInstFn func(remainingInsts []byte) (Inst, error)
}

// All decodes every instruction in rawInstructions, calling onDecodeFn
// for each one. Decoding must end exactly at the end of rawInstructions.
func (o *Disassembler) All(rawInstructions []byte, onDecodeFn func(Inst) error) error {
	index := 0

	for index < len(rawInstructions) {
		inst, err := o.disassOneInstFn(rawInstructions[index:])
		if err != nil {
			return fmt.Errorf("failed to decode instruction at offset %d - %w - remaining data: 0x%x",
				index, err, rawInstructions[index:])
		}

		inst.Index = index

		err = onDecodeFn(inst)
		if err != nil {
			return fmt.Errorf("on decode function failed for instruction at offset %d (%q) - %w",
				index, inst.Dis, err)
		}

		index += inst.Len
	}

	return nil
}

func (o *Disassembler) Next(rawInstructions []byte) (Inst, error) {
	return o.disassOneInstFn(rawInstructions)
}

// Inst is a single decoded instruction.
type Inst struct {
	// Bin is the instruction's encoding.
	Bin []byte

	// Len is the length of Bin.
	Len int

	// Index is the instruction's offset in the decoded data.
	Index int

	// Dis is the instruction's disassembly in the configured
	// syntax. It is empty when SkipSyntax is used.
	Dis string

	// Inst is the architecture-specific instruction
	// (e.g., x86asm.Inst).
	Inst interface{}
}

// ErrNotRelocatable is returned by CheckRelocatableX86_64 when
// an instruction cannot be copied verbatim to another address.
var ErrNotRelocatable = errors.New("instruction is not relocatable")

// CheckRelocatableX86_64 verifies that code consists of whole 64-bit x86
// instructions that behave identically when copied to another address.
// Instructions with a PC-relative operand (relative branches and
// RIP-relative memory accesses) are rejected, as is code that ends
// partway through an instruction.
//
// The decoded instructions are returned on success.
func CheckRelocatableX86_64(code []byte) ([]Inst, error) {
	if len(code) == 0 {
		return nil, errors.New("no instructions were provided")
	}

	disass, err := NewDisassembler(DisassemblerConfig{
		Syntax:     IntelSyntax,
		ArchConfig: X86Config{Bits: 64},
	})
	if err != nil {
		return nil, err
	}

	var insts []Inst

	err = disass.All(code, func(inst Inst) error {
		x86Inst := inst.Inst.(x86asm.Inst)

		// x86asm decodes the bytes of a cut off instruction
		// as one-byte pseudo-instructions with no opcode
		// (e.g., "rex.wb") rather than failing.
		if x86Inst.Op == 0 {
			return fmt.Errorf("incomplete instruction %q at offset %d - %w",
				inst.Dis, inst.Index, ErrNotRelocatable)
		}

		if isPCRelative(x86Inst) {
			return fmt.Errorf("%q - %w", inst.Dis, ErrNotRelocatable)
		}

		insts = append(insts, inst)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return insts, nil
}

func isPCRelative(inst x86asm.Inst) bool {
	if inst.PCRel != 0 {
		return true
	}

	for _, arg := range inst.Args {
		switch a := arg.(type) {
		case nil:
			return false
		case x86asm.Rel:
			return true
		case x86asm.Mem:
			if a.Base == x86asm.RIP {
				return true
			}
		}
	}

	return false
}
