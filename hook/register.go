package hook

import (
	"fmt"
	"strings"
)

// Register is a 64-bit x86 general purpose register, numbered
// the way it is encoded in ModR/M and REX fields.
type Register uint8

const (
	RAX Register = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var registerNames = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (o Register) String() string {
	if int(o) >= len(registerNames) {
		return fmt.Sprintf("Register(%d)", uint8(o))
	}

	return registerNames[o]
}

// ParseRegister parses a register name such as "rbp" or "R12".
func ParseRegister(name string) (Register, error) {
	lower := strings.ToLower(strings.TrimSpace(name))

	for i, n := range registerNames {
		if n == lower {
			return Register(i), nil
		}
	}

	return 0, fmt.Errorf("unknown register: %q", name)
}

// low3 returns the bits encoded in a ModR/M field.
func (o Register) low3() byte {
	return byte(o) & 7
}

// extended returns true if the register requires a REX extension bit.
func (o Register) extended() bool {
	return o >= R8
}
