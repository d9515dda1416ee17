package diag

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSink(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), FileName)

	sink, err := Open(SinkConfig{FilePath: filePath})
	if err != nil {
		t.Fatal(err)
	}

	hookLogger := sink.Logger(CategoryHook)
	hookLogger.Printf("installed at 0x%x", 0x141afba2c)
	sink.Logger(CategoryPost).Println("success")

	err = sink.Close()
	if err != nil {
		t.Fatal(err)
	}

	hookLogger.Println("this should be dropped")

	err = sink.Close()
	if err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines - got %d: %q", len(lines), raw)
	}

	if !strings.HasSuffix(lines[0], "[HOOK] installed at 0x141afba2c") {
		t.Fatalf("unexpected first line: %q", lines[0])
	}

	if !strings.HasSuffix(lines[1], "[POST] success") {
		t.Fatalf("unexpected second line: %q", lines[1])
	}
}

func TestSink_FreshFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), FileName)

	err := os.WriteFile(filePath, []byte("previous session\n"), 0o600)
	if err != nil {
		t.Fatal(err)
	}

	sink, err := Open(SinkConfig{FilePath: filePath, FreshFile: true})
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	sink.Logger(CategoryInit).Println("OK")

	raw, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatal(err)
	}

	if strings.Contains(string(raw), "previous session") {
		t.Fatalf("expected a fresh log file - got %q", raw)
	}

	if !strings.Contains(string(raw), "[INIT] OK") {
		t.Fatalf("expected the new line - got %q", raw)
	}
}

func TestDiscard(t *testing.T) {
	sink := Discard()
	sink.Logger(CategoryCapture).Println("nothing")

	err := sink.Close()
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(SinkConfig{})
	if err == nil {
		t.Fatal("expected an error")
	}
}
