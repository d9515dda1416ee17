package main

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"gitlab.com/stephen-fox/questpost/asmkit"
	"gitlab.com/stephen-fox/questpost/config"
	"gitlab.com/stephen-fox/questpost/hook"
	"gitlab.com/stephen-fox/questpost/memory"
)

const (
	configArg       = "c"
	imageBaseArg    = "base"
	callbackArg     = "callback"
	asmSyntaxArg    = "s"
	outputFormatArg = "o"
	verboseArg      = "v"
	helpArg         = "h"

	intelSyntax = "intel"
	attSyntax   = "att"
	goSyntax    = "go"

	prettyFormat     = "pretty"
	hexFormat        = "hex"
	jsonDisassFormat = "json"
	goFormat         = "go"

	appName = "trampdump"
	usage   = appName + `
DESCRIPTION
  Builds the mid-hook described by a settings file against a simulated
  copy of the game's memory and prints the code that would be written:
  the redirect placed at the hooked instructions and the trampoline it
  jumps to.

  The hooked instructions are assumed to match the configured signature.
  Use this to review the effect of changing the hook settings without
  starting the game.

USAGE
  ` + appName + ` [options]

EXAMPLES:
  Print the disassembly of the default hook:
    $ ` + appName + `

  Print the trampoline for a settings file as a Go []byte:
    $ ` + appName + ` -` + configArg + ` ` + config.FileName + ` -` + outputFormatArg + ` ` + goFormat + `

OPTIONS
`
)

func main() {
	log.SetFlags(0)

	err := mainWithError()
	if err != nil {
		log.Fatalln("fatal:", err)
	}
}

func mainWithError() error {
	help := flag.Bool(
		helpArg,
		false,
		"Display this information")

	configPath := flag.String(
		configArg,
		config.FileName,
		"The settings file path (defaults are used if it does not exist)")

	imageBaseStr := flag.String(
		imageBaseArg,
		"0x140000000",
		"The game's image base address in hex")

	callbackStr := flag.String(
		callbackArg,
		"0x7ff000001000",
		"The capture callback's address in hex")

	outputFormat := flag.String(
		outputFormatArg,
		prettyFormat,
		fmt.Sprintf("The output format ('%s', '%s', '%s', '%s')",
			prettyFormat, hexFormat, jsonDisassFormat, goFormat))

	syntax := flag.String(
		asmSyntaxArg,
		intelSyntax,
		fmt.Sprintf("The desired assembly syntax ('%s', '%s', '%s')",
			intelSyntax, attSyntax, goSyntax))

	verbose := flag.Bool(
		verboseArg,
		false,
		"Log the loaded settings to stderr")

	flag.Parse()

	if *help {
		os.Stderr.WriteString(usage)
		flag.PrintDefaults()
		os.Exit(1)
	}

	var cfgLogger *log.Logger
	if *verbose {
		cfgLogger = log.New(os.Stderr, "[CFG] ", log.Lmsgprefix)
	}

	cfg, err := config.Load(*configPath, cfgLogger)
	if err != nil {
		return err
	}

	pm := memory.PointerMakerForX86_64()

	imageBase, err := pm.FromHexString(*imageBaseStr, binary.BigEndian)
	if err != nil {
		return fmt.Errorf("failed to parse image base - %w", err)
	}

	callback, err := pm.FromHexString(*callbackStr, binary.BigEndian)
	if err != nil {
		return fmt.Errorf("failed to parse callback address - %w", err)
	}

	disassembler, err := asmkit.NewDisassembler(asmkit.DisassemblerConfig{
		Syntax:     asmkit.DisassemblySyntax(*syntax),
		ArchConfig: asmkit.X86Config{Bits: 64},
	})
	if err != nil {
		return fmt.Errorf("failed to create new disassembler - %w", err)
	}

	sections, err := buildHook(cfg, imageBase.Uintptr(), callback.Uintptr())
	if err != nil {
		return err
	}

	output := bytes.NewBuffer(nil)

	for _, section := range sections {
		var writer instWriter

		switch *outputFormat {
		case prettyFormat:
			writer = &disassWriter{
				w: output,
			}
		case hexFormat:
			writer = &encoderWriter{
				encoder: hex.NewEncoder(output),
				w:       output,
			}
		case jsonDisassFormat:
			writer = &jsonDisassWriter{
				indent: "  ",
				w:      output,
			}
		case goFormat:
			writer = &goByteSliceWriter{
				name: section.name,
				w:    output,
			}
		default:
			return fmt.Errorf("unsupported output format: %q", *outputFormat)
		}

		if *outputFormat == prettyFormat {
			fmt.Fprintf(output, "%s @ 0x%x (%d bytes):\n", section.name, section.address, len(section.code))
		}

		err = decode(disassembler, section.code, writer.Write)
		if err != nil {
			return fmt.Errorf("failed to decode %s - %w", section.name, err)
		}

		err = writer.Flush()
		if err != nil {
			return fmt.Errorf("failed to write remaining data to output - %w", err)
		}
	}

	_, err = io.Copy(os.Stdout, output)
	if err != nil {
		return err
	}

	return nil
}

type codeSection struct {
	name    string
	address uintptr
	code    []byte
}

// buildHook installs the hook described by cfg in a sandbox that
// contains the expected instructions and returns the resulting code.
func buildHook(cfg config.Config, imageBase uintptr, callback uintptr) ([]codeSection, error) {
	sandbox := memory.NewSandbox()
	target := imageBase + uintptr(cfg.TargetRva)

	sandbox.MapBytes(target, append([]byte(nil), cfg.Signature...))

	mh, err := hook.NewMidHook(hook.MidHookConfig{
		Target:    target,
		Signature: cfg.Signature,
		Callback:  callback,
		Argument:  cfg.Session,
		Memory:    sandbox,
		Allocator: sandbox,
	})
	if err != nil {
		return nil, err
	}

	err = mh.Install()
	if err != nil {
		return nil, fmt.Errorf("failed to install hook - %w", err)
	}

	redirect, err := sandbox.Read(target, len(cfg.Signature))
	if err != nil {
		return nil, err
	}

	tramp, err := hook.BuildTrampoline(hook.TrampolineConfig{
		Callback: callback,
		Argument: cfg.Session,
		Excised:  cfg.Signature,
		ReturnTo: target + uintptr(len(cfg.Signature)),
	})
	if err != nil {
		return nil, err
	}

	installed, err := sandbox.Read(mh.Trampoline(), len(tramp.Code))
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(installed, tramp.Code) {
		return nil, errors.New("installed trampoline does not match the built trampoline")
	}

	return []codeSection{
		{name: "redirect", address: target, code: redirect},
		{name: "trampoline", address: mh.Trampoline(), code: installed},
	}, nil
}

// ripJump is "jmp qword ptr [rip+0]", which is followed by
// the 8-byte jump destination rather than an instruction.
var ripJump = []byte{0xff, 0x25, 0x00, 0x00, 0x00, 0x00}

// decode is like asmkit.Disassembler.All, but reports the destination
// following a ripJump as data.
func decode(disassembler *asmkit.Disassembler, code []byte, onDecodeFn func(asmkit.Inst) error) error {
	index := 0

	for index < len(code) {
		inst, err := disassembler.Next(code[index:])
		if err != nil {
			return fmt.Errorf("failed to decode instruction at offset %d - %w", index, err)
		}

		inst.Index = index

		err = onDecodeFn(inst)
		if err != nil {
			return err
		}

		index += inst.Len

		if bytes.Equal(inst.Bin, ripJump) && index+8 <= len(code) {
			dst := code[index : index+8]

			err = onDecodeFn(asmkit.Inst{
				Bin:   dst,
				Len:   len(dst),
				Index: index,
				Dis:   fmt.Sprintf(".quad 0x%x", binary.LittleEndian.Uint64(dst)),
			})
			if err != nil {
				return err
			}

			index += len(dst)
		}
	}

	return nil
}

type instWriter interface {
	Write(asmkit.Inst) error
	Flush() error
}

var _ instWriter = (*disassWriter)(nil)

type disassWriter struct {
	w io.Writer
}

func (o *disassWriter) Write(inst asmkit.Inst) error {
	_, err := fmt.Fprintf(o.w, "  %04x  %-32s %s\n", inst.Index, hex.EncodeToString(inst.Bin), inst.Dis)
	if err != nil {
		return err
	}

	return nil
}

func (o *disassWriter) Flush() error {
	_, err := o.w.Write([]byte{'\n'})
	return err
}

var _ instWriter = (*encoderWriter)(nil)

type encoderWriter struct {
	encoder io.Writer
	w       io.Writer
}

func (o *encoderWriter) Write(inst asmkit.Inst) error {
	_, err := o.encoder.Write(inst.Bin)
	if err != nil {
		return err
	}

	return nil
}

func (o *encoderWriter) Flush() error {
	closer, ok := o.encoder.(io.Closer)
	if ok {
		err := closer.Close()
		if err != nil {
			return err
		}
	}

	_, err := o.w.Write([]byte{'\n'})
	if err != nil {
		return err
	}

	return nil
}

var _ instWriter = (*jsonDisassWriter)(nil)

type jsonDisassWriter struct {
	indent string
	w      io.Writer
	buf    []string
}

func (o *jsonDisassWriter) Write(inst asmkit.Inst) error {
	o.buf = append(o.buf, inst.Dis)

	return nil
}

func (o *jsonDisassWriter) Flush() error {
	enc := json.NewEncoder(o.w)

	enc.SetIndent("", o.indent)

	err := enc.Encode(o.buf)
	if err != nil {
		return err
	}

	return nil
}

var _ instWriter = (*goByteSliceWriter)(nil)

type goByteSliceWriter struct {
	name   string
	isInit bool
	w      io.Writer
}

func (o *goByteSliceWriter) Write(inst asmkit.Inst) error {
	if !o.isInit {
		o.isInit = true

		_, err := fmt.Fprintf(o.w, "%s := []byte{\n", o.name)
		if err != nil {
			return err
		}
	}

	_, err := o.w.Write([]byte{'\t'})
	if err != nil {
		return err
	}

	for _, b := range inst.Bin {
		_, err = fmt.Fprintf(o.w, "0x%02x, ", b)
		if err != nil {
			return err
		}
	}

	_, err = o.w.Write([]byte("// " + inst.Dis + "\n"))
	if err != nil {
		return err
	}

	return nil
}

func (o *goByteSliceWriter) Flush() error {
	_, err := o.w.Write([]byte("}\n"))
	if err != nil {
		return err
	}

	return nil
}
