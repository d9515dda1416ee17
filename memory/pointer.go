package memory

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// PointerMakerForX86_64 returns a PointerMaker for 64-bit x86 targets.
func PointerMakerForX86_64() PointerMaker {
	return PointerMaker{
		byteOrder: binary.LittleEndian,
		ptrSize:   8,
	}
}

// PointerMaker encodes addresses as raw pointers for a target platform.
type PointerMaker struct {
	byteOrder binary.ByteOrder
	ptrSize   int
}

// Size returns the size of a pointer in bytes.
func (o PointerMaker) Size() int {
	return o.ptrSize
}

func (o PointerMaker) FromUintptr(address uintptr) Pointer {
	return o.FromUint(uint64(address))
}

func (o PointerMaker) FromUint(address uint64) Pointer {
	out := make([]byte, o.ptrSize)
	switch o.ptrSize {
	case 2:
		o.byteOrder.PutUint16(out, uint16(address))
	case 4:
		o.byteOrder.PutUint32(out, uint32(address))
	case 8:
		o.byteOrder.PutUint64(out, address)
	default:
		panic(fmt.Sprintf("unsupported pointer size: %d", o.ptrSize))
	}

	return Pointer{
		raw:       out,
		byteOrder: o.byteOrder,
	}
}

// FromRaw decodes a pointer that was read from memory.
func (o PointerMaker) FromRaw(raw []byte) (Pointer, error) {
	if len(raw) != o.ptrSize {
		return Pointer{}, fmt.Errorf("raw pointer must be %d bytes - it is %d bytes",
			o.ptrSize, len(raw))
	}

	cp := make([]byte, o.ptrSize)
	copy(cp, raw)

	return Pointer{
		raw:       cp,
		byteOrder: o.byteOrder,
	}, nil
}

func (o PointerMaker) FromHexString(hexStr string, sourceEndianness binary.ByteOrder) (Pointer, error) {
	return o.FromHexBytes([]byte(hexStr), sourceEndianness)
}

func (o PointerMaker) FromHexBytes(hexBytes []byte, sourceEndianness binary.ByteOrder) (Pointer, error) {
	hexBytesNoPrefix := bytes.TrimPrefix(hexBytes, []byte("0x"))

	hexStrLen := len(hexBytesNoPrefix)
	if hexStrLen == 0 {
		return Pointer{}, fmt.Errorf("hex string cannot be zero-length")
	}

	maxLen := o.ptrSize * 2
	if hexStrLen > maxLen {
		return Pointer{}, fmt.Errorf("hex string cannot be longer than %d chars - it is %d chars long",
			maxLen, hexStrLen)
	}

	numZeros := maxLen - hexStrLen
	if numZeros > 0 {
		zeros := bytes.Repeat([]byte("0"), numZeros)
		if sourceEndianness.String() == binary.LittleEndian.String() {
			hexBytesNoPrefix = append(hexBytesNoPrefix, zeros...)
		} else {
			hexBytesNoPrefix = append(zeros, hexBytesNoPrefix...)
		}
	}

	decoded := make([]byte, o.ptrSize)
	_, err := hex.Decode(decoded, hexBytesNoPrefix)
	if err != nil {
		return Pointer{}, fmt.Errorf("failed to hex decode data - %w", err)
	}

	if sourceEndianness.String() != o.byteOrder.String() {
		for i, j := 0, len(decoded)-1; i < j; i, j = i+1, j-1 {
			decoded[i], decoded[j] = decoded[j], decoded[i]
		}
	}

	return Pointer{
		raw:       decoded,
		byteOrder: o.byteOrder,
	}, nil
}

// Pointer is a raw pointer encoded for a target platform.
type Pointer struct {
	raw       []byte
	byteOrder binary.ByteOrder
}

// Bytes returns the pointer in its target encoding.
func (o Pointer) Bytes() []byte {
	return o.raw
}

// Uint returns the pointer's address.
func (o Pointer) Uint() uint64 {
	switch len(o.raw) {
	case 2:
		return uint64(o.byteOrder.Uint16(o.raw))
	case 4:
		return uint64(o.byteOrder.Uint32(o.raw))
	case 8:
		return o.byteOrder.Uint64(o.raw)
	default:
		return 0
	}
}

// Uintptr returns the pointer's address as a uintptr.
func (o Pointer) Uintptr() uintptr {
	return uintptr(o.Uint())
}

func (o Pointer) HexString() string {
	return fmt.Sprintf("0x%x", o.Uint())
}
