package conv

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// HexStringToBytes converts a human-written sequence of hex-encoded bytes
// into a []byte. Each byte may be written as a bare pair ("48"), with a
// C-style prefix ("0x48"), or as an escape sequence ("\x48"). Bytes may
// be separated by whitespace, commas, or nothing at all.
//
// This makes it possible to copy byte signatures out of a disassembler,
// a C array, or a Python string without reformatting them.
func HexStringToBytes(str string) ([]byte, error) {
	pairs := bytes.NewBuffer(nil)
	var pending []byte

	for i := 0; i < len(str); i++ {
		b := str[i]

		switch {
		case b == 'x' || b == 'X':
			// "0x" prefix: the '0' was buffered as the first
			// nibble of a pair. "\x" prefix: nothing buffered.
			if len(pending) == 1 && pending[0] == '0' {
				pending = pending[:0]
				continue
			}

			if len(pending) == 0 && i > 0 && str[i-1] == '\\' {
				continue
			}

			return nil, fmt.Errorf("unexpected '%c' at index %d", b, i)
		case isHexChar(b):
			pending = append(pending, b)
			if len(pending) == 2 {
				pairs.Write(pending)
				pending = pending[:0]
			}
		case isSeparator(b):
			if len(pending) != 0 {
				return nil, fmt.Errorf("incomplete byte %q before index %d", pending, i)
			}
		default:
			return nil, fmt.Errorf("unexpected character '%c' at index %d", b, i)
		}
	}

	if len(pending) != 0 {
		return nil, fmt.Errorf("incomplete byte %q at end of string", pending)
	}

	decoded := make([]byte, pairs.Len()/2)

	_, err := hex.Decode(decoded, pairs.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to hex-decode bytes - %w", err)
	}

	return decoded, nil
}

// BytesToHexString formats b the way HexStringToBytes parses it,
// as space-separated upper-case pairs.
func BytesToHexString(b []byte) string {
	buf := bytes.NewBuffer(nil)

	for i, c := range b {
		if i > 0 {
			buf.WriteByte(' ')
		}

		fmt.Fprintf(buf, "%02X", c)
	}

	return buf.String()
}

func isSeparator(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n', ',', '\\', '"', '\'':
		return true
	default:
		return false
	}
}

func isHexChar(b byte) bool {
	return (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F') || (b >= '0' && b <= '9')
}
