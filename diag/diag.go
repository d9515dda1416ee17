// Package diag provides the plugin's diagnostic log.
//
// All components log through loggers returned by Sink.Logger. Each line
// is prefixed with the component's category (e.g., "[HOOK] ") and is
// written to the log file with a single write, so lines from different
// goroutines never interleave.
package diag

import (
	"errors"
	"io"
	"log"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log categories.
const (
	CategoryInit    = "INIT"
	CategoryFini    = "FINI"
	CategoryConfig  = "CFG"
	CategoryHook    = "HOOK"
	CategoryCapture = "CAP"
	CategoryPost    = "POST"
	CategoryThread  = "TH"
)

const (
	// FileName is the name of the log file. It is created
	// next to the plugin.
	FileName = "QuestPostBeta.log"

	defaultMaxSizeMB  = 5
	defaultMaxBackups = 3
)

// SinkConfig configures a Sink.
type SinkConfig struct {
	FilePath string

	// MaxSizeMB is the size at which the log file is rotated.
	// A default is used when it is zero.
	MaxSizeMB int

	// MaxBackups is the number of rotated files to keep.
	// A default is used when it is zero.
	MaxBackups int

	// FreshFile rotates the existing log file, if any, when
	// the Sink is opened so that each session starts with
	// an empty file.
	FreshFile bool
}

// Open opens the log file described by config.
func Open(config SinkConfig) (*Sink, error) {
	if config.FilePath == "" {
		return nil, errors.New("log file path cannot be empty")
	}

	if config.MaxSizeMB == 0 {
		config.MaxSizeMB = defaultMaxSizeMB
	}

	if config.MaxBackups == 0 {
		config.MaxBackups = defaultMaxBackups
	}

	file := &lumberjack.Logger{
		Filename:   config.FilePath,
		MaxSize:    config.MaxSizeMB,
		MaxBackups: config.MaxBackups,
		LocalTime:  true,
	}

	if config.FreshFile {
		err := file.Rotate()
		if err != nil {
			return nil, err
		}
	}

	return &Sink{
		file: file,
		w:    &closableWriter{w: file},
	}, nil
}

// Discard returns a Sink whose loggers write nothing.
func Discard() *Sink {
	return &Sink{
		w: &closableWriter{w: io.Discard},
	}
}

// Sink is a line-oriented log file shared by all components.
type Sink struct {
	file *lumberjack.Logger
	w    *closableWriter
}

// Logger returns a logger whose lines are prefixed with category.
// Loggers remain valid after Close, but write nothing.
func (o *Sink) Logger(category string) *log.Logger {
	return log.New(o.w, "["+category+"] ", log.Lmsgprefix|log.LstdFlags)
}

// Close closes the log file. It is safe to call more than once.
func (o *Sink) Close() error {
	if !o.w.close() {
		return nil
	}

	if o.file == nil {
		return nil
	}

	return o.file.Close()
}

// closableWriter drops writes after close is called. lumberjack
// reopens its file when written to after Close.
type closableWriter struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

func (o *closableWriter) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return len(p), nil
	}

	return o.w.Write(p)
}

// close returns false if already closed.
func (o *closableWriter) close() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}

	o.closed = true

	return true
}
