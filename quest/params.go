package quest

import (
	"strconv"
)

const (
	MinPlayers = 1
	MaxPlayers = 4
)

// Params are the values written into the session before a post.
type Params struct {
	QuestID     int32
	Players     int
	PassEnabled bool
	Passcode    int32
}

// ClampPlayers limits n to the range MinPlayers to MaxPlayers.
func ClampPlayers(n int) int {
	if n < MinPlayers {
		return MinPlayers
	}

	if n > MaxPlayers {
		return MaxPlayers
	}

	return n
}

// PlayerSelector returns the value the game stores for the player
// count, which is zero-based.
func (o Params) PlayerSelector() uint32 {
	return uint32(ClampPlayers(o.Players) - 1)
}

// Password returns the password as a NUL-terminated string in a
// bufLen-byte buffer. A disabled password is the string "0".
// The string is truncated when it does not fit.
func (o Params) Password(bufLen int) []byte {
	if bufLen <= 0 {
		return nil
	}

	str := "0"
	if o.PassEnabled {
		str = strconv.FormatInt(int64(o.Passcode), 10)
	}

	buf := make([]byte, bufLen)
	copy(buf[:bufLen-1], str)

	return buf
}
