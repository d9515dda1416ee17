// Package config loads settings from an INI file.
//
// Every setting has a default. A missing file, section, or key, or a
// value that cannot be parsed, results in the default being used.
package config

import (
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"gitlab.com/stephen-fox/questpost/conv"
	"gitlab.com/stephen-fox/questpost/hook"
	"gitlab.com/stephen-fox/questpost/memory"
	"gitlab.com/stephen-fox/questpost/quest"
	"gopkg.in/ini.v1"
)

const (
	// FileName is the name of the settings file. It is
	// expected to be next to the plugin.
	FileName = "QuestPostBeta.ini"

	// DefaultSignature is the content of the hooked
	// instructions in the supported game build.
	DefaultSignature = "48 89 AC C7 48 40 00 00 49 8D 81 05 04 00 00"
)

// Config is the plugin's settings.
type Config struct {
	Params  quest.Params
	Verbose int

	// Relative virtual addresses (offsets from the game's
	// image base). Zero means "not configured".
	BuildPostRva  uint32
	SendPostRva   uint32
	GlobalBaseRva uint32

	// TargetRva is the relative virtual address of the
	// first hooked instruction.
	TargetRva uint32

	// Signature is the expected content of the hooked
	// instructions.
	Signature []byte

	// Session derives the session pointer from the register
	// state at TargetRva.
	Session hook.Argument

	Layout quest.Layout

	// Hotkey is the virtual-key code that queues a post.
	Hotkey       uint16
	PollInterval time.Duration
}

// Default returns the default settings.
func Default() Config {
	sig, _ := conv.HexStringToBytes(DefaultSignature)

	return Config{
		Params: quest.Params{
			Players: 1,
		},
		Verbose:      1,
		BuildPostRva: 0x1146ba0,
		TargetRva:    0x1afba2c,
		Signature:    sig,
		Session:      hook.Argument{Register: hook.RBP},
		Layout:       quest.DefaultLayout(),
		Hotkey:       0x79,
		PollInterval: 15 * time.Millisecond,
	}
}

// AddressTable returns a table containing the quest routines and
// globals for a game image loaded at imageBase.
func (o Config) AddressTable(imageBase uintptr) *memory.AddressTable {
	return memory.NewAddressTable(imageBase).
		AddOffset(quest.SymbolBuildPost, o.BuildPostRva).
		AddOffset(quest.SymbolSendPost, o.SendPostRva).
		AddOffset(quest.SymbolGlobalBase, o.GlobalBaseRva)
}

// Load reads the settings in filePath on top of Default. A missing
// file is not an error. When optLogger is non-nil, the resulting
// settings and any ignored values are logged to it.
func Load(filePath string, optLogger *log.Logger) (Config, error) {
	logger := optLogger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	// Section and key names are case-insensitive, like
	// GetPrivateProfileString.
	file, err := ini.LoadSources(ini.LoadOptions{
		Loose:       true,
		Insensitive: true,
	}, filePath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse '%s' - %w", filePath, err)
	}

	cfg := Default()
	r := &reader{file: file, logger: logger}

	qp := r.section("QuestPost")
	cfg.Params.QuestID = qp.int32("QuestId", cfg.Params.QuestID)
	cfg.Params.Players = quest.ClampPlayers(qp.int("Players", cfg.Params.Players))
	cfg.Params.PassEnabled = qp.int("PassEnabled", 0) != 0
	cfg.Params.Passcode = qp.int32("Passcode", cfg.Params.Passcode)
	cfg.Verbose = qp.int("Verbose", cfg.Verbose)

	addrs := r.section("Addresses")
	cfg.BuildPostRva = addrs.hex("BuildPostRva", cfg.BuildPostRva)
	cfg.SendPostRva = addrs.hex("SendPostRva", cfg.SendPostRva)
	cfg.GlobalBaseRva = addrs.hex("GlobalBaseRva", cfg.GlobalBaseRva)

	hk := r.section("Hook")
	cfg.TargetRva = hk.hex("TargetRva", cfg.TargetRva)
	cfg.Signature = hk.signature("Signature", cfg.Signature)
	cfg.Session.Register = hk.register("SessionRegister", cfg.Session.Register)
	cfg.Session.Disp = hk.int32("SessionOffset", cfg.Session.Disp)
	cfg.Session.Deref = hk.int("SessionDeref", 0) != 0

	layout := r.section("Layout")
	cfg.Layout.QuestIDOffset = layout.hex("QuestIdOffset", cfg.Layout.QuestIDOffset)
	cfg.Layout.PlayerSelectorPtrOffset = layout.hex("PlayerSelectorPtrOffset", cfg.Layout.PlayerSelectorPtrOffset)
	cfg.Layout.PlayerSelectorOffset = layout.hex("PlayerSelectorOffset", cfg.Layout.PlayerSelectorOffset)
	cfg.Layout.PasswordOffset = layout.hex("PasswordOffset", cfg.Layout.PasswordOffset)
	cfg.Layout.GateOffset = layout.hex("GateOffset", cfg.Layout.GateOffset)

	passLen := layout.int("PasswordLength", cfg.Layout.PasswordLength)
	if passLen > 0 {
		cfg.Layout.PasswordLength = passLen
	} else {
		logger.Printf("ignoring Layout.PasswordLength %d - it must be greater than zero", passLen)
	}

	input := r.section("Input")
	cfg.Hotkey = input.hex16("Hotkey", cfg.Hotkey)

	pollMs := input.int("PollIntervalMs", int(cfg.PollInterval/time.Millisecond))
	if pollMs > 0 {
		cfg.PollInterval = time.Duration(pollMs) * time.Millisecond
	} else {
		logger.Printf("ignoring Input.PollIntervalMs %d - it must be greater than zero", pollMs)
	}

	logger.Printf("QuestId=%d Players=%d PassEnabled=%t Passcode=%d Verbose=%d",
		cfg.Params.QuestID, cfg.Params.Players, cfg.Params.PassEnabled, cfg.Params.Passcode, cfg.Verbose)
	logger.Printf("RVA Build=0x%X Send=0x%X GlobalBase=0x%X",
		cfg.BuildPostRva, cfg.SendPostRva, cfg.GlobalBaseRva)
	logger.Printf("Hook Target=0x%X Session=%s Signature=%s",
		cfg.TargetRva, cfg.Session, conv.BytesToHexString(cfg.Signature))

	return cfg, nil
}

type reader struct {
	file   *ini.File
	logger *log.Logger
}

func (o *reader) section(name string) *sectionReader {
	return &sectionReader{
		sec:    o.file.Section(name),
		logger: o.logger,
	}
}

type sectionReader struct {
	sec    *ini.Section
	logger *log.Logger
}

// value returns the trimmed value of a key and true if the key
// exists and is not empty.
func (o *sectionReader) value(key string) (string, bool) {
	if !o.sec.HasKey(key) {
		return "", false
	}

	v := strings.TrimSpace(o.sec.Key(key).String())

	return v, v != ""
}

func (o *sectionReader) ignore(key string, value string, err error) {
	o.logger.Printf("ignoring %s.%s %q - %s", o.sec.Name(), key, value, err)
}

func (o *sectionReader) int(key string, def int) int {
	str, ok := o.value(key)
	if !ok {
		return def
	}

	i, err := o.sec.Key(key).Int()
	if err != nil {
		o.ignore(key, str, err)
		return def
	}

	return i
}

func (o *sectionReader) int32(key string, def int32) int32 {
	str, ok := o.value(key)
	if !ok {
		return def
	}

	i, err := o.sec.Key(key).Int64()
	if err == nil && (i < math.MinInt32 || i > math.MaxInt32) {
		err = fmt.Errorf("must be between %d and %d", math.MinInt32, math.MaxInt32)
	}
	if err != nil {
		o.ignore(key, str, err)
		return def
	}

	return int32(i)
}

func (o *sectionReader) hex16(key string, def uint16) uint16 {
	str, ok := o.value(key)
	if !ok {
		return def
	}

	u, err := ParseHex(str)
	if err == nil && u > math.MaxUint16 {
		err = fmt.Errorf("must be at most 0x%x", math.MaxUint16)
	}
	if err != nil {
		o.ignore(key, str, err)
		return def
	}

	return uint16(u)
}

func (o *sectionReader) hex(key string, def uint32) uint32 {
	str, ok := o.value(key)
	if !ok {
		return def
	}

	u, err := ParseHex(str)
	if err != nil {
		o.ignore(key, str, err)
		return def
	}

	return u
}

func (o *sectionReader) signature(key string, def []byte) []byte {
	str, ok := o.value(key)
	if !ok {
		return def
	}

	sig, err := conv.HexStringToBytes(str)
	if err == nil && len(sig) < hook.RedirectLen {
		err = fmt.Errorf("must be at least %d bytes - got %d", hook.RedirectLen, len(sig))
	}
	if err != nil {
		o.ignore(key, str, err)
		return def
	}

	return sig
}

func (o *sectionReader) register(key string, def hook.Register) hook.Register {
	str, ok := o.value(key)
	if !ok {
		return def
	}

	reg, err := hook.ParseRegister(str)
	if err != nil {
		o.ignore(key, str, err)
		return def
	}

	return reg
}

// ParseHex parses a 32-bit hexadecimal number with or
// without a "0x" prefix.
func ParseHex(str string) (uint32, error) {
	str = strings.TrimSpace(str)
	if len(str) > 1 && str[0] == '0' && (str[1] == 'x' || str[1] == 'X') {
		str = str[2:]
	}

	u, err := strconv.ParseUint(str, 16, 32)
	if err != nil {
		return 0, err
	}

	return uint32(u), nil
}
