package config

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gitlab.com/stephen-fox/questpost/hook"
	"gitlab.com/stephen-fox/questpost/quest"
)

func writeConfig(t *testing.T, content string) string {
	filePath := filepath.Join(t.TempDir(), FileName)

	err := os.WriteFile(filePath, []byte(content), 0o600)
	if err != nil {
		t.Fatal(err)
	}

	return filePath
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName), nil)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("expected defaults - got %+v", cfg)
	}
}

func TestLoad(t *testing.T) {
	filePath := writeConfig(t, `
[QuestPost]
QuestId = 7
Players = 3
PassEnabled = 1
Passcode = 1234
Verbose = 0

[Addresses]
BuildPostRva = 0x1146BA0
SendPostRva = 1146f00
GlobalBaseRva = 0X5000000

[Hook]
TargetRva = 1AFBA2C
Signature = \x48\x89\xAC\xC7\x48\x40\x00\x00\x49\x8D\x81\x05\x04\x00\x00
SessionRegister = r12
SessionOffset = 0x10
SessionDeref = 1

[Layout]
PasswordLength = 16
GateOffset = AE3C

[Input]
Hotkey = 0x78
PollIntervalMs = 30
`)

	cfg, err := Load(filePath, nil)
	if err != nil {
		t.Fatal(err)
	}

	expectedParams := quest.Params{
		QuestID:     7,
		Players:     3,
		PassEnabled: true,
		Passcode:    1234,
	}

	if cfg.Params != expectedParams {
		t.Fatalf("expected %+v - got %+v", expectedParams, cfg.Params)
	}

	if cfg.Verbose != 0 {
		t.Fatalf("expected verbose 0 - got %d", cfg.Verbose)
	}

	if cfg.BuildPostRva != 0x1146ba0 || cfg.SendPostRva != 0x1146f00 || cfg.GlobalBaseRva != 0x5000000 {
		t.Fatalf("unexpected addresses: 0x%x 0x%x 0x%x",
			cfg.BuildPostRva, cfg.SendPostRva, cfg.GlobalBaseRva)
	}

	if cfg.TargetRva != 0x1afba2c {
		t.Fatalf("expected target 0x1afba2c - got 0x%x", cfg.TargetRva)
	}

	if !bytes.Equal(cfg.Signature, Default().Signature) {
		t.Fatalf("expected signature %x - got %x", Default().Signature, cfg.Signature)
	}

	expectedSession := hook.Argument{Register: hook.R12, Disp: 0x10, Deref: true}
	if cfg.Session != expectedSession {
		t.Fatalf("expected session %s - got %s", expectedSession, cfg.Session)
	}

	expectedLayout := quest.DefaultLayout()
	expectedLayout.PasswordLength = 16
	expectedLayout.GateOffset = 0xae3c

	if cfg.Layout != expectedLayout {
		t.Fatalf("expected layout %+v - got %+v", expectedLayout, cfg.Layout)
	}

	if cfg.Hotkey != 0x78 || cfg.PollInterval != 30*time.Millisecond {
		t.Fatalf("unexpected input settings: 0x%x %s", cfg.Hotkey, cfg.PollInterval)
	}
}

func TestLoad_ClampsPlayers(t *testing.T) {
	for content, expected := range map[string]int{
		"[QuestPost]\nPlayers = 0\n": 1,
		"[QuestPost]\nPlayers = 5\n": 4,
	} {
		cfg, err := Load(writeConfig(t, content), nil)
		if err != nil {
			t.Fatal(err)
		}

		if cfg.Params.Players != expected {
			t.Fatalf("%q: expected %d players - got %d", content, expected, cfg.Params.Players)
		}
	}
}

func TestLoad_InvalidValuesUseDefaults(t *testing.T) {
	filePath := writeConfig(t, `
[questpost]
questid = seven

[Addresses]
BuildPostRva = zzz

[Hook]
Signature = 48 89
SessionRegister = eax

[Input]
PollIntervalMs = 0
`)

	buf := bytes.NewBuffer(nil)

	cfg, err := Load(filePath, log.New(buf, "", 0))
	if err != nil {
		t.Fatal(err)
	}

	def := Default()

	if cfg.Params.QuestID != 0 {
		t.Fatalf("expected quest id 0 - got %d", cfg.Params.QuestID)
	}

	if cfg.BuildPostRva != def.BuildPostRva {
		t.Fatalf("expected default build rva - got 0x%x", cfg.BuildPostRva)
	}

	if !bytes.Equal(cfg.Signature, def.Signature) {
		t.Fatalf("expected default signature - got %x", cfg.Signature)
	}

	if cfg.Session != def.Session {
		t.Fatalf("expected default session argument - got %s", cfg.Session)
	}

	if cfg.PollInterval != def.PollInterval {
		t.Fatalf("expected default poll interval - got %s", cfg.PollInterval)
	}

	numIgnored := strings.Count(buf.String(), "ignoring")
	if numIgnored != 5 {
		t.Fatalf("expected 5 ignored values to be logged - got %d:\n%s", numIgnored, buf.String())
	}
}

func TestLoad_OutOfRangeValuesUseDefaults(t *testing.T) {
	filePath := writeConfig(t, `
[QuestPost]
QuestId = 4294967303
Passcode = -2147483649

[Hook]
SessionOffset = 0x80000000

[Input]
Hotkey = 0x10079
`)

	buf := bytes.NewBuffer(nil)

	cfg, err := Load(filePath, log.New(buf, "", 0))
	if err != nil {
		t.Fatal(err)
	}

	def := Default()

	if cfg.Params.QuestID != def.Params.QuestID {
		t.Fatalf("expected quest id %d - got %d", def.Params.QuestID, cfg.Params.QuestID)
	}

	if cfg.Params.Passcode != def.Params.Passcode {
		t.Fatalf("expected passcode %d - got %d", def.Params.Passcode, cfg.Params.Passcode)
	}

	if cfg.Session != def.Session {
		t.Fatalf("expected default session argument - got %s", cfg.Session)
	}

	if cfg.Hotkey != def.Hotkey {
		t.Fatalf("expected hotkey 0x%x - got 0x%x", def.Hotkey, cfg.Hotkey)
	}

	numIgnored := strings.Count(buf.String(), "ignoring")
	if numIgnored != 4 {
		t.Fatalf("expected 4 ignored values to be logged - got %d:\n%s", numIgnored, buf.String())
	}
}

func TestConfig_AddressTable(t *testing.T) {
	cfg := Default()

	table := cfg.AddressTable(0x140000000)

	build, ok := table.Address(quest.SymbolBuildPost)
	if !ok || build != 0x141146ba0 {
		t.Fatalf("expected build routine at 0x141146ba0 - got 0x%x", build)
	}

	missing := table.Missing(quest.SymbolBuildPost, quest.SymbolSendPost, quest.SymbolGlobalBase)
	if !reflect.DeepEqual(missing, []string{quest.SymbolSendPost, quest.SymbolGlobalBase}) {
		t.Fatalf("unexpected missing symbols: %v", missing)
	}
}

func TestParseHex(t *testing.T) {
	for str, expected := range map[string]uint32{
		"0x1146BA0": 0x1146ba0,
		"1146ba0":   0x1146ba0,
		" 0XAE3B ":  0xae3b,
		"0":         0,
	} {
		u, err := ParseHex(str)
		if err != nil {
			t.Fatalf("%q: %s", str, err)
		}

		if u != expected {
			t.Fatalf("%q: expected 0x%x - got 0x%x", str, expected, u)
		}
	}

	for _, str := range []string{"", "0x", "xyz", "100000000"} {
		_, err := ParseHex(str)
		if err == nil {
			t.Fatalf("%q: expected an error", str)
		}
	}
}
