package quest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"gitlab.com/stephen-fox/questpost/memory"
)

// Symbols an Executor resolves using its memory.AddressTable.
const (
	SymbolBuildPost  = "BuildPost"
	SymbolSendPost   = "SendPost"
	SymbolGlobalBase = "GlobalBase"
)

var (
	ErrInvalidSession      = errors.New("session pointer is not a canonical user address")
	ErrInvalidQuestID      = errors.New("quest id must be greater than zero")
	ErrNotInHub            = errors.New("not in hub")
	ErrNullPlayerSelector  = errors.New("player selector pointer is null or invalid")
	errNilExecutorResource = errors.New("executor memory, caller, and address table must be non-nil")
)

// MissingAddressesError is returned when one or more routines or
// globals an Executor depends on have not been configured.
type MissingAddressesError struct {
	Symbols []string
}

func (o *MissingAddressesError) Error() string {
	return "missing address configuration for: " + strings.Join(o.Symbols, ", ")
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Params Params
	Layout Layout

	// Addresses resolves SymbolBuildPost, SymbolSendPost,
	// and SymbolGlobalBase.
	Addresses *memory.AddressTable

	Memory memory.ReadWriter
	Caller memory.Caller

	// OptLogger, when non-nil, receives the outcome of each post.
	OptLogger *log.Logger
}

// NewExecutor creates a new *Executor. The player count in
// config.Params is clamped using ClampPlayers.
func NewExecutor(config ExecutorConfig) (*Executor, error) {
	if config.Addresses == nil || config.Memory == nil || config.Caller == nil {
		return nil, errNilExecutorResource
	}

	if config.Layout.PasswordLength <= 0 {
		return nil, fmt.Errorf("password length must be greater than zero - got %d",
			config.Layout.PasswordLength)
	}

	config.Params.Players = ClampPlayers(config.Params.Players)

	logger := config.OptLogger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Executor{
		config: config,
		logger: logger,
	}, nil
}

// Executor writes the quest parameters into a session and then calls
// the game's build and send routines with it.
//
// Post must only be called with a session that was just observed on
// the thread that owns it.
type Executor struct {
	config ExecutorConfig
	logger *log.Logger
}

// Post posts a quest using session. Every precondition is checked
// before the session is modified. Once the fields are written, the
// build routine is called followed by the send routine.
func (o *Executor) Post(session uintptr) error {
	err := o.post(session)
	if err != nil {
		o.logger.Printf("refusing post for session 0x%x - %s", session, err)
		return err
	}

	o.logger.Printf("success - session: 0x%x, quest id: %d, players: %d, password enabled: %t",
		session, o.config.Params.QuestID, o.config.Params.Players, o.config.Params.PassEnabled)

	return nil
}

func (o *Executor) post(session uintptr) error {
	if !memory.IsCanonicalUserPointer(session) {
		return fmt.Errorf("0x%x - %w", session, ErrInvalidSession)
	}

	if o.config.Params.QuestID <= 0 {
		return fmt.Errorf("%d - %w", o.config.Params.QuestID, ErrInvalidQuestID)
	}

	missing := o.config.Addresses.Missing(SymbolBuildPost, SymbolSendPost, SymbolGlobalBase)
	if len(missing) > 0 {
		return &MissingAddressesError{Symbols: missing}
	}

	build, _ := o.config.Addresses.Address(SymbolBuildPost)
	send, _ := o.config.Addresses.Address(SymbolSendPost)
	globalBase, _ := o.config.Addresses.Address(SymbolGlobalBase)

	gateAddr := globalBase + uintptr(o.config.Layout.GateOffset)
	gate, err := o.config.Memory.Read(gateAddr, 1)
	if err != nil {
		return fmt.Errorf("failed to read gate at 0x%x - %w", gateAddr, err)
	}

	if gate[0] != 0 {
		return fmt.Errorf("gate at 0x%x is %d - %w", gateAddr, gate[0], ErrNotInHub)
	}

	err = o.writeFields(session)
	if err != nil {
		return err
	}

	_, err = o.config.Caller.Call(build, session)
	if err != nil {
		return fmt.Errorf("failed to call build routine at 0x%x - %w", build, err)
	}

	_, err = o.config.Caller.Call(send, session)
	if err != nil {
		return fmt.Errorf("failed to call send routine at 0x%x - %w", send, err)
	}

	return nil
}

func (o *Executor) writeFields(session uintptr) error {
	layout := o.config.Layout
	mem := o.config.Memory

	selectorPtrAddr := session + uintptr(layout.PlayerSelectorPtrOffset)
	pm := memory.PointerMakerForX86_64()

	raw, err := mem.Read(selectorPtrAddr, pm.Size())
	if err != nil {
		return fmt.Errorf("failed to read player selector pointer at 0x%x - %w",
			selectorPtrAddr, err)
	}

	selectorPtr, err := pm.FromRaw(raw)
	if err != nil {
		return err
	}

	if !memory.IsCanonicalUserPointer(selectorPtr.Uintptr()) {
		return fmt.Errorf("session+0x%x is 0x%x - %w",
			layout.PlayerSelectorPtrOffset, selectorPtr.Uint(), ErrNullPlayerSelector)
	}

	writes := []struct {
		name    string
		address uintptr
		data    []byte
	}{
		{
			name:    "quest id",
			address: session + uintptr(layout.QuestIDOffset),
			data:    binary.LittleEndian.AppendUint32(nil, uint32(o.config.Params.QuestID)),
		},
		{
			name:    "player selector",
			address: selectorPtr.Uintptr() + uintptr(layout.PlayerSelectorOffset),
			data:    binary.LittleEndian.AppendUint32(nil, o.config.Params.PlayerSelector()),
		},
		{
			name:    "password",
			address: session + uintptr(layout.PasswordOffset),
			data:    o.config.Params.Password(layout.PasswordLength),
		},
	}

	for _, w := range writes {
		err := mem.Write(w.address, w.data)
		if err != nil {
			return fmt.Errorf("failed to write %s at 0x%x - %w", w.name, w.address, err)
		}
	}

	return nil
}
