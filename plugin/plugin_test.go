package plugin

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gitlab.com/stephen-fox/questpost/config"
	"gitlab.com/stephen-fox/questpost/diag"
	"gitlab.com/stephen-fox/questpost/hook"
	"gitlab.com/stephen-fox/questpost/memory"
	"gitlab.com/stephen-fox/questpost/quest"
)

const (
	testImageBase    = 0x140000000
	testCallbackAddr = 0x7ff712345678
	testSession      = 0x20000000
	testSelector     = 0x30000000
)

type testKeys struct {
	down atomic.Bool
}

func (o *testKeys) IsDown(virtualKey uint16) bool {
	return virtualKey == 0x79 && o.down.Load()
}

type testEnv struct {
	dir      string
	sandbox  *memory.Sandbox
	keys     *testKeys
	text     []byte
	session  []byte
	callback func(uintptr) uintptr
	mu       sync.Mutex
}

func newTestEnv(t *testing.T, ini string) *testEnv {
	env := &testEnv{
		dir:     t.TempDir(),
		sandbox: memory.NewSandbox(),
		keys:    &testKeys{},
	}

	if ini != "" {
		err := os.WriteFile(filepath.Join(env.dir, config.FileName), []byte(ini), 0o600)
		if err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default()
	target := uintptr(testImageBase) + uintptr(cfg.TargetRva)

	env.text = env.sandbox.Map(target-0x1000, 0x2000)
	copy(env.text[0x1000:], cfg.Signature)

	env.session = env.sandbox.Map(testSession, 0x4000)
	binary.LittleEndian.PutUint64(env.session[cfg.Layout.PlayerSelectorPtrOffset:], testSelector)
	env.sandbox.Map(testSelector, 0x1000)
	env.sandbox.Map(testImageBase+0x5000000, 0x10000)

	return env
}

func (o *testEnv) platform() Platform {
	return Platform{
		Memory: o.sandbox,
		Keys:   o.keys,
		ImageBase: func() (uintptr, error) {
			return testImageBase, nil
		},
		NewCallback: func(fn func(session uintptr) uintptr) uintptr {
			o.mu.Lock()
			defer o.mu.Unlock()

			o.callback = fn

			return testCallbackAddr
		},
		ModuleDir: func() (string, error) {
			return o.dir, nil
		},
	}
}

// capture simulates the game running the hooked instructions.
func (o *testEnv) capture(session uintptr) {
	o.mu.Lock()
	fn := o.callback
	o.mu.Unlock()

	fn(session)
}

func (o *testEnv) log(t *testing.T) string {
	raw, err := os.ReadFile(filepath.Join(o.dir, diag.FileName))
	if err != nil {
		t.Fatal(err)
	}

	return string(raw)
}

const testINI = `
[QuestPost]
QuestId = 7
Players = 3

[Addresses]
SendPostRva = 0x1146F00
GlobalBaseRva = 0x5000000

[Input]
PollIntervalMs = 1
`

func TestPlugin_InitPostFini(t *testing.T) {
	env := newTestEnv(t, testINI)
	before := append([]byte(nil), env.text...)

	p := New(env.platform())

	err := p.Init("C:\\Games\\MHW")
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(env.text, before) {
		t.Fatal("expected the hook to be installed")
	}

	env.capture(testSession)

	if len(env.sandbox.Calls()) != 0 {
		t.Fatal("capture without a key press should not post")
	}

	env.keys.down.Store(true)

	deadline := time.Now().Add(5 * time.Second)
	for len(env.sandbox.Calls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for post")
		}

		time.Sleep(time.Millisecond)
		env.capture(testSession)
	}

	calls := env.sandbox.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls - got %d", len(calls))
	}

	if calls[0].Address != testImageBase+0x1146ba0 || calls[1].Address != testImageBase+0x1146f00 {
		t.Fatalf("expected build then send - got %+v", calls)
	}

	questID := binary.LittleEndian.Uint32(env.session[quest.DefaultLayout().QuestIDOffset:])
	if questID != 7 {
		t.Fatalf("expected quest id 7 - got %d", questID)
	}

	p.Fini()

	if !bytes.Equal(env.text, before) {
		t.Fatal("expected original bytes to be restored")
	}

	log := env.log(t)

	for _, expected := range []string{
		"[INIT] gameDir=C:\\Games\\MHW",
		"[CFG] QuestId=7 Players=3",
		"[HOOK] installed mid-hook",
		"[TH] hotkey pressed, queued post request",
		"[POST] success",
		"[INIT] OK",
		"[FINI] begin",
		"[HOOK] removed mid-hook",
		"[FINI] end",
	} {
		if !strings.Contains(log, expected) {
			t.Fatalf("expected log to contain %q - got:\n%s", expected, log)
		}
	}

	// Captures after Fini must not do anything.
	env.capture(testSession)
	p.Fini()
}

func TestPlugin_SignatureMismatch(t *testing.T) {
	env := newTestEnv(t, testINI)
	env.text[0x1000] = 0xcc
	before := append([]byte(nil), env.text...)

	p := New(env.platform())

	err := p.Init("")
	if !errors.Is(err, hook.ErrSignatureMismatch) {
		t.Fatalf("expected signature mismatch - got %v", err)
	}

	if !bytes.Equal(env.text, before) || env.sandbox.NumPatches() != 0 {
		t.Fatal("target should not be modified")
	}

	p.Fini()

	log := env.log(t)
	if !strings.Contains(log, "[INIT] mid-hook install failed") {
		t.Fatalf("expected install failure to be logged - got:\n%s", log)
	}

	if strings.Contains(log, "[INIT] OK") {
		t.Fatalf("init should not report success - got:\n%s", log)
	}
}

func TestPlugin_ReinitReusesCallback(t *testing.T) {
	env := newTestEnv(t, testINI)

	var numCallbacks int
	platform := env.platform()
	newCallback := platform.NewCallback
	platform.NewCallback = func(fn func(session uintptr) uintptr) uintptr {
		numCallbacks++
		return newCallback(fn)
	}

	p := New(platform)

	for i := 0; i < 2; i++ {
		err := p.Init("")
		if err != nil {
			t.Fatal(err)
		}

		err = p.Init("")
		if err != nil {
			t.Fatal(err)
		}

		p.Fini()
	}

	if numCallbacks != 1 {
		t.Fatalf("expected 1 native callback - got %d", numCallbacks)
	}

	if env.sandbox.NumPatches() != 6 {
		t.Fatalf("expected 6 patches - got %d", env.sandbox.NumPatches())
	}
}

func TestPlugin_FiniWithoutInit(t *testing.T) {
	env := newTestEnv(t, "")

	New(env.platform()).Fini()

	if env.sandbox.NumPatches() != 0 {
		t.Fatal("fini without init should not patch")
	}
}

func TestPlugin_ModuleDirFallsBackToPathHint(t *testing.T) {
	env := newTestEnv(t, testINI)
	platform := env.platform()
	platform.ModuleDir = func() (string, error) {
		return "", errors.New("no module")
	}

	p := New(platform)

	err := p.Init(env.dir)
	if err != nil {
		t.Fatal(err)
	}

	p.Fini()

	if !strings.Contains(env.log(t), "[CFG] QuestId=7") {
		t.Fatal("expected settings to be read from the path hint directory")
	}
}
