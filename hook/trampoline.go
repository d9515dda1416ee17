package hook

import (
	"errors"
	"fmt"
	"math"

	"gitlab.com/stephen-fox/questpost/iokit"
	"gitlab.com/stephen-fox/questpost/memory"
)

const (
	// RedirectLen is the size of the redirect written at the
	// interception point: jmp qword ptr [rip+0] followed by
	// the 8-byte trampoline address.
	RedirectLen = 14

	nop = 0x90

	// savedStateLen is the number of bytes pushed by the trampoline
	// before the callback argument is loaded: flags plus eight
	// general purpose registers.
	savedStateLen = 8 + 8*8

	// frameLen is the stack space reserved below the aligned stack
	// pointer: 0x20 bytes of shadow space for the callee followed
	// by a save area for xmm0 through xmm5.
	frameLen        = 0x80
	shadowSpaceLen  = 0x20
	numVolatileXMMs = 6
)

// Argument describes how the callback's single argument is derived from
// the register state at the interception point.
type Argument struct {
	// Register is the source register.
	Register Register

	// Disp is added to the value of Register.
	Disp int32

	// Deref loads the 8 bytes located at Register+Disp rather than
	// passing the sum itself.
	Deref bool
}

func (o Argument) String() string {
	switch {
	case o.Deref:
		return fmt.Sprintf("[%s%+#x]", o.Register, o.Disp)
	case o.Disp != 0:
		return fmt.Sprintf("%s%+#x", o.Register, o.Disp)
	default:
		return o.Register.String()
	}
}

// TrampolineConfig configures BuildTrampoline.
type TrampolineConfig struct {
	// Callback is the address of a native-callable function that
	// takes one pointer-sized argument.
	Callback uintptr

	// Argument selects the value passed to Callback.
	Argument Argument

	// Excised is a verbatim copy of the instructions replaced
	// by the redirect.
	Excised []byte

	// ReturnTo is the address of the first instruction following
	// the excised instructions.
	ReturnTo uintptr
}

// Trampoline is position-independent machine code produced by
// BuildTrampoline.
type Trampoline struct {
	// Code is the trampoline's machine code.
	Code []byte

	// CallbackOffset is the offset of the callback's
	// 8-byte address within Code.
	CallbackOffset int

	// ExcisedOffset is the offset of the copied
	// instructions within Code.
	ExcisedOffset int

	// ReturnJumpOffset is the offset of the final jump back
	// to the intercepted function.
	ReturnJumpOffset int
}

// BuildTrampoline emits a trampoline for the x86 64-bit Windows
// calling convention.
//
// The trampoline preserves the flags, every volatile general purpose
// register, xmm0 through xmm5, and the caller's stack pointer across the
// callback. The stack is 16-byte aligned and shadow space is reserved
// before the call. It ends with an absolute jump that does not use a
// register, so it never returns with a ret.
func BuildTrampoline(config TrampolineConfig) (Trampoline, error) {
	if config.Callback == 0 {
		return Trampoline{}, errors.New("callback address cannot be zero")
	}

	if config.ReturnTo == 0 {
		return Trampoline{}, errors.New("return address cannot be zero")
	}

	if len(config.Excised) == 0 {
		return Trampoline{}, errors.New("excised instructions cannot be empty")
	}

	loadArg, err := encodeLoadArgument(config.Argument)
	if err != nil {
		return Trampoline{}, fmt.Errorf("failed to encode argument %s - %w",
			config.Argument, err)
	}

	pm := memory.PointerMakerForX86_64()
	var tramp Trampoline

	builder := iokit.NewPayloadBuilder().
		Byte(0x9c).                   // pushfq
		Byte(0x50).                   // push rax
		Byte(0x51).                   // push rcx
		Byte(0x52).                   // push rdx
		Byte(0x41, 0x50).             // push r8
		Byte(0x41, 0x51).             // push r9
		Byte(0x41, 0x52).             // push r10
		Byte(0x41, 0x53).             // push r11
		Byte(0x53).                   // push rbx
		Bytes(loadArg).               // mov/lea rcx, <argument>
		Byte(0x48, 0x89, 0xe3).       // mov rbx, rsp
		Byte(0x48, 0x83, 0xe4, 0xf0). // and rsp, -16
		Byte(0x48, 0x81, 0xec).       // sub rsp, frameLen
		Uint32(frameLen)

	for i := 0; i < numVolatileXMMs; i++ {
		// movdqu [rsp+disp8], xmmN
		builder.Byte(0xf3, 0x0f, 0x7f, 0x44|byte(i)<<3, 0x24, xmmSaveDisp(i))
	}

	builder.Byte(0x48, 0xb8) // mov rax, imm64
	tramp.CallbackOffset = builder.Len()
	builder.Pointer(pm.FromUintptr(config.Callback)).
		Byte(0xff, 0xd0) // call rax

	for i := 0; i < numVolatileXMMs; i++ {
		// movdqu xmmN, [rsp+disp8]
		builder.Byte(0xf3, 0x0f, 0x6f, 0x44|byte(i)<<3, 0x24, xmmSaveDisp(i))
	}

	builder.
		Byte(0x48, 0x89, 0xdc). // mov rsp, rbx
		Byte(0x5b).             // pop rbx
		Byte(0x41, 0x5b).       // pop r11
		Byte(0x41, 0x5a).       // pop r10
		Byte(0x41, 0x59).       // pop r9
		Byte(0x41, 0x58).       // pop r8
		Byte(0x5a).             // pop rdx
		Byte(0x59).             // pop rcx
		Byte(0x58).             // pop rax
		Byte(0x9d)              // popfq

	tramp.ExcisedOffset = builder.Len()
	builder.Bytes(config.Excised)

	tramp.ReturnJumpOffset = builder.Len()
	builder.Bytes(absoluteJump(pm.FromUintptr(config.ReturnTo)))

	tramp.Code, err = builder.Build()
	if err != nil {
		return Trampoline{}, err
	}

	return tramp, nil
}

func xmmSaveDisp(i int) byte {
	return byte(shadowSpaceLen + 16*i)
}

// encodeLoadArgument encodes an instruction that loads the argument
// into rcx. It runs after the register state has been pushed, so
// rsp-relative arguments are adjusted by savedStateLen.
func encodeLoadArgument(arg Argument) ([]byte, error) {
	if arg.Register > R15 {
		return nil, fmt.Errorf("invalid register: %d", arg.Register)
	}

	disp := int64(arg.Disp)
	if arg.Register == RSP {
		disp += savedStateLen
	}

	if disp < math.MinInt32 || disp > math.MaxInt32 {
		return nil, fmt.Errorf("displacement %#x does not fit in 32 bits", disp)
	}

	if !arg.Deref && disp == 0 {
		// mov rcx, reg
		rex := byte(0x48)
		if arg.Register.extended() {
			rex |= 0x04 // REX.R
		}

		return []byte{rex, 0x89, 0xc0 | arg.Register.low3()<<3 | byte(RCX)}, nil
	}

	opcode := byte(0x8d) // lea rcx, [reg+disp32]
	if arg.Deref {
		opcode = 0x8b // mov rcx, [reg+disp32]
	}

	rex := byte(0x48)
	if arg.Register.extended() {
		rex |= 0x01 // REX.B
	}

	builder := iokit.NewPayloadBuilder().
		Byte(rex, opcode, 0x80|byte(RCX)<<3|arg.Register.low3())

	if arg.Register.low3() == RSP.low3() {
		// rsp and r12 require a SIB byte.
		builder.Byte(0x24)
	}

	return builder.Uint32(uint32(int32(disp))).Build()
}

func absoluteJump(to iokit.Byter) []byte {
	// jmp qword ptr [rip+0]
	return append([]byte{0xff, 0x25, 0x00, 0x00, 0x00, 0x00}, to.Bytes()...)
}

// BuildRedirect emits the code written at the interception point.
// It jumps to the trampoline at to and is padded with nops to
// regionLen bytes, the length of the replaced instructions.
func BuildRedirect(to uintptr, regionLen int) ([]byte, error) {
	if regionLen < RedirectLen {
		return nil, fmt.Errorf("region must be at least %d bytes - it is %d bytes",
			RedirectLen, regionLen)
	}

	return iokit.NewPayloadBuilder().
		Bytes(absoluteJump(memory.PointerMakerForX86_64().FromUintptr(to))).
		PadTo(regionLen, nop).
		Build()
}
