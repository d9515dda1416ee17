package iokit

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"
)

// DefaultExitFn is invoked by functions and methods ending in
// the "OrExit" suffix when an error occurs.
var DefaultExitFn = func(err error) {
	log.Fatalln(err)
}

// NewPayloadBuilder instantiates a new PayloadBuilder.
func NewPayloadBuilder() *PayloadBuilder {
	return &PayloadBuilder{}
}

// PayloadBuilder helps build machine code and other binary sequences
// by implementing the "builder pattern".
//
// The first error encountered is retained and causes all later calls
// to do nothing. It is returned by Build.
//
// For methods that take endianness as an optional argument,
// the default is little endian.
type PayloadBuilder struct {
	buf bytes.Buffer
	err error
}

func getEndianness(optOrder ...binary.ByteOrder) binary.ByteOrder {
	switch len(optOrder) {
	case 0:
		return binary.LittleEndian
	case 1:
		return optOrder[0]
	default:
		panic("only one binary.ByteOrder may be specified")
	}
}

// Len returns the number of bytes written so far. It is useful
// for recording offsets while emitting code.
func (o *PayloadBuilder) Len() int {
	return o.buf.Len()
}

// Uint32 writes an unsigned 32-bit integer to the payload.
// The endianness can be specified by the optOrder argument.
// If the optOrder argument is unspecified, little endian
// is used.
func (o *PayloadBuilder) Uint32(u uint32, optOrder ...binary.ByteOrder) *PayloadBuilder {
	bo := getEndianness(optOrder...)

	b := make([]byte, 4)

	bo.PutUint32(b, u)

	return o.Bytes(b)
}

// Uint64 writes an unsigned 64-bit integer to the payload.
// The endianness can be specified by the optOrder argument.
// If the optOrder argument is unspecified, little endian
// is used.
func (o *PayloadBuilder) Uint64(u uint64, optOrder ...binary.ByteOrder) *PayloadBuilder {
	bo := getEndianness(optOrder...)

	b := make([]byte, 8)

	bo.PutUint64(b, u)

	return o.Bytes(b)
}

// Byter abstracts types that can be represented as a []byte.
type Byter interface {
	// Bytes returns the object as a []byte.
	Bytes() []byte
}

// Pointer writes a raw pointer as a []byte to the payload.
func (o *PayloadBuilder) Pointer(pointer Byter) *PayloadBuilder {
	return o.Bytes(pointer.Bytes())
}

// Bytes writes the specified []byte to the payload.
func (o *PayloadBuilder) Bytes(b []byte) *PayloadBuilder {
	if o.err != nil {
		return o
	}

	_, err := o.buf.Write(b)
	if err != nil {
		o.err = err
	}

	return o
}

// Byte writes the specified byte to the payload.
func (o *PayloadBuilder) Byte(b ...byte) *PayloadBuilder {
	return o.Bytes(b)
}

// PadTo repeatedly writes b until the payload is n bytes long.
// It fails if the payload is already longer than n bytes.
func (o *PayloadBuilder) PadTo(n int, b byte) *PayloadBuilder {
	if o.err != nil {
		return o
	}

	if o.buf.Len() > n {
		o.err = fmt.Errorf("cannot pad payload to %d bytes - it is already %d bytes",
			n, o.buf.Len())
		return o
	}

	return o.Bytes(bytes.Repeat([]byte{b}, n-o.buf.Len()))
}

// Build returns the payload as a []byte, or the first error
// encountered while building it.
func (o *PayloadBuilder) Build() ([]byte, error) {
	if o.err != nil {
		return nil, fmt.Errorf("failed to build payload - %w", o.err)
	}

	return o.buf.Bytes(), nil
}

// BuildOrExit calls Build. If an error occurs, DefaultExitFn is invoked.
func (o *PayloadBuilder) BuildOrExit() []byte {
	b, err := o.Build()
	if err != nil {
		DefaultExitFn(err)
	}

	return b
}
