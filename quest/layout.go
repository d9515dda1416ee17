package quest

// Layout describes where the fields written by an Executor are located.
// The offsets belong to one build of the game.
type Layout struct {
	// QuestIDOffset is the offset of the 32-bit quest
	// identifier relative to the session.
	QuestIDOffset uint32

	// PlayerSelectorPtrOffset is the offset of a pointer, relative
	// to the session, to the player selector object.
	PlayerSelectorPtrOffset uint32

	// PlayerSelectorOffset is the offset of the 32-bit player
	// selector relative to the player selector object.
	PlayerSelectorOffset uint32

	// PasswordOffset is the offset of the password string buffer
	// relative to the session.
	PasswordOffset uint32

	// PasswordLength is the size of the password buffer
	// including the NUL terminator.
	PasswordLength int

	// GateOffset is the offset of the gate byte relative to
	// the game's global state (SymbolGlobalBase). A non-zero
	// gate means the player is not in the hub.
	GateOffset uint32
}

// DefaultLayout returns the layout of the build the default hook
// signature matches.
func DefaultLayout() Layout {
	return Layout{
		QuestIDOffset:           0x292c,
		PlayerSelectorPtrOffset: 0x3588,
		PlayerSelectorOffset:    0x240,
		PasswordOffset:          0x36b8,
		PasswordLength:          32,
		GateOffset:              0xae3b,
	}
}
