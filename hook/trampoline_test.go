package hook

import (
	"bytes"
	"encoding/binary"
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

var testExcised = []byte{
	0x48, 0x89, 0xac, 0xc7, 0x48, 0x40, 0x00, 0x00,
	0x49, 0x8d, 0x81, 0x05, 0x04, 0x00, 0x00,
}

func TestBuildRedirect(t *testing.T) {
	redirect, err := BuildRedirect(0x7ff000001000, len(testExcised))
	if err != nil {
		t.Fatal(err)
	}

	expected := []byte{
		0xff, 0x25, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x10, 0x00, 0x00, 0xf0, 0x7f, 0x00, 0x00,
		0x90,
	}

	if !bytes.Equal(redirect, expected) {
		t.Fatalf("expected %x - got %x", expected, redirect)
	}
}

func TestBuildRedirect_RegionTooSmall(t *testing.T) {
	_, err := BuildRedirect(0x7ff000001000, RedirectLen-1)
	if err == nil {
		t.Fatal("expected an error for a region smaller than the redirect")
	}
}

func TestBuildTrampoline(t *testing.T) {
	tramp, err := BuildTrampoline(TrampolineConfig{
		Callback: 0x7ff712345678,
		Argument: Argument{Register: RBP},
		Excised:  testExcised,
		ReturnTo: 0x141afba3b,
	})
	if err != nil {
		t.Fatal(err)
	}

	if tramp.CallbackOffset != 68 {
		t.Fatalf("expected callback offset 68 - got %d", tramp.CallbackOffset)
	}

	if tramp.ExcisedOffset != 130 {
		t.Fatalf("expected excised offset 130 - got %d", tramp.ExcisedOffset)
	}

	if tramp.ReturnJumpOffset != tramp.ExcisedOffset+len(testExcised) {
		t.Fatalf("expected return jump to follow the excised instructions - got offset %d",
			tramp.ReturnJumpOffset)
	}

	if len(tramp.Code) != tramp.ReturnJumpOffset+RedirectLen {
		t.Fatalf("expected %d bytes - got %d",
			tramp.ReturnJumpOffset+RedirectLen, len(tramp.Code))
	}

	callback := binary.LittleEndian.Uint64(tramp.Code[tramp.CallbackOffset:])
	if callback != 0x7ff712345678 {
		t.Fatalf("expected callback 0x7ff712345678 - got 0x%x", callback)
	}

	excised := tramp.Code[tramp.ExcisedOffset:tramp.ReturnJumpOffset]
	if !bytes.Equal(excised, testExcised) {
		t.Fatalf("expected excised instructions %x - got %x", testExcised, excised)
	}

	returnJump := tramp.Code[tramp.ReturnJumpOffset:]
	if !bytes.Equal(returnJump[0:6], []byte{0xff, 0x25, 0, 0, 0, 0}) {
		t.Fatalf("expected rip-relative indirect jump - got %x", returnJump[0:6])
	}

	returnTo := binary.LittleEndian.Uint64(returnJump[6:])
	if returnTo != 0x141afba3b {
		t.Fatalf("expected return address 0x141afba3b - got 0x%x", returnTo)
	}

	first, err := x86asm.Decode(tramp.Code, 64)
	if err != nil {
		t.Fatal(err)
	}

	if first.Op != x86asm.PUSHFQ {
		t.Fatalf("expected trampoline to start with pushfq - got %s", first)
	}
}

func TestBuildTrampoline_WholeInstructions(t *testing.T) {
	tramp, err := BuildTrampoline(TrampolineConfig{
		Callback: 0x7ff712345678,
		Argument: Argument{Register: R12, Disp: 0x10, Deref: true},
		Excised:  testExcised,
		ReturnTo: 0x141afba3b,
	})
	if err != nil {
		t.Fatal(err)
	}

	var calls int
	offset := 0

	for offset < tramp.ReturnJumpOffset {
		inst, err := x86asm.Decode(tramp.Code[offset:], 64)
		if err != nil {
			t.Fatalf("failed to decode instruction at offset %d - %s", offset, err)
		}

		if inst.Op == x86asm.RET {
			t.Fatalf("unexpected ret at offset %d", offset)
		}

		if inst.Op == x86asm.CALL {
			calls++
		}

		offset += inst.Len
	}

	if offset != tramp.ReturnJumpOffset {
		t.Fatalf("expected instructions to end at %d - ended at %d",
			tramp.ReturnJumpOffset, offset)
	}

	if calls != 1 {
		t.Fatalf("expected exactly one call - got %d", calls)
	}
}

func TestBuildTrampoline_MissingFields(t *testing.T) {
	_, err := BuildTrampoline(TrampolineConfig{
		Argument: Argument{Register: RBP},
		Excised:  testExcised,
		ReturnTo: 0x141afba3b,
	})
	if err == nil {
		t.Fatal("expected an error for a zero callback")
	}

	_, err = BuildTrampoline(TrampolineConfig{
		Callback: 0x7ff712345678,
		Argument: Argument{Register: RBP},
		ReturnTo: 0x141afba3b,
	})
	if err == nil {
		t.Fatal("expected an error for empty excised instructions")
	}
}

func TestEncodeLoadArgument(t *testing.T) {
	type testCase struct {
		arg      Argument
		op       x86asm.Op
		register x86asm.Reg
		disp     int64
		isMem    bool
	}

	testCases := []testCase{
		{
			arg:      Argument{Register: RBP},
			op:       x86asm.MOV,
			register: x86asm.RBP,
		},
		{
			arg:      Argument{Register: R9},
			op:       x86asm.MOV,
			register: x86asm.R9,
		},
		{
			arg:      Argument{Register: R12, Disp: 0x10, Deref: true},
			op:       x86asm.MOV,
			register: x86asm.R12,
			disp:     0x10,
			isMem:    true,
		},
		{
			arg:      Argument{Register: RSP, Disp: 8},
			op:       x86asm.LEA,
			register: x86asm.RSP,
			disp:     8 + savedStateLen,
			isMem:    true,
		},
		{
			arg:      Argument{Register: R13, Disp: -8},
			op:       x86asm.LEA,
			register: x86asm.R13,
			disp:     -8,
			isMem:    true,
		},
	}

	for _, tc := range testCases {
		code, err := encodeLoadArgument(tc.arg)
		if err != nil {
			t.Fatalf("%s: %s", tc.arg, err)
		}

		inst, err := x86asm.Decode(code, 64)
		if err != nil {
			t.Fatalf("%s: %s", tc.arg, err)
		}

		if inst.Len != len(code) {
			t.Fatalf("%s: expected %d bytes to be decoded - got %d", tc.arg, len(code), inst.Len)
		}

		if inst.Op != tc.op {
			t.Fatalf("%s: expected %s - got %s", tc.arg, tc.op, inst.Op)
		}

		if inst.Args[0] != x86asm.RCX {
			t.Fatalf("%s: expected destination rcx - got %s", tc.arg, inst.Args[0])
		}

		if !tc.isMem {
			if inst.Args[1] != tc.register {
				t.Fatalf("%s: expected source %s - got %s", tc.arg, tc.register, inst.Args[1])
			}
			continue
		}

		mem, ok := inst.Args[1].(x86asm.Mem)
		if !ok {
			t.Fatalf("%s: expected memory operand - got %T", tc.arg, inst.Args[1])
		}

		// x86asm zero extends 32-bit displacements.
		if mem.Base != tc.register || int32(mem.Disp) != int32(tc.disp) {
			t.Fatalf("%s: expected [%s%+d] - got [%s%+d]",
				tc.arg, tc.register, tc.disp, mem.Base, int32(mem.Disp))
		}
	}
}
