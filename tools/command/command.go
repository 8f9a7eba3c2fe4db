// Package command holds what the rkregs subcommands share.
package command

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rkdiag/rkregs/board"
)

// Func runs a command. args[0] is the command name.
type Func func(env *Env, args []string) error

// Env is the environment commands run in.
type Env struct {
	Board *board.Board
	Out   io.Writer
	Log   *log.Logger // verbose output, discarded unless -v

	// Commands is the command table, used by commands that run others.
	Commands map[string]Func

	p *message.Printer
}

// NewEnv returns an environment writing to out. A nil logger discards.
func NewEnv(b *board.Board, out io.Writer, logger *log.Logger) *Env {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Env{
		Board: b,
		Out:   out,
		Log:   logger,
		p:     message.NewPrinter(language.English),
	}
}

// Printf formats with digit grouping for numbers, i.e. 816,000,000.
func (e *Env) Printf(format string, args ...any) {
	e.p.Fprintf(e.Out, format, args...)
}

// ErrUsage is returned after a command printed its usage.
var ErrUsage = errors.New("invalid usage")

// FlagSet returns a flag set for a command that reports errors instead of
// exiting, so commands can run from scripts.
func (e *Env) FlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.Out)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), usage, name)
		fs.PrintDefaults()
	}
	return fs
}

// Parse parses args[1:] and maps flag.ErrHelp to ErrUsage.
func Parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args[1:]); err != nil {
		return ErrUsage
	}
	return nil
}

// Usage prints the usage of fs and returns ErrUsage.
func Usage(fs *flag.FlagSet) error {
	fs.Usage()
	return ErrUsage
}

// ParseUint32 parses a register address or value in Go syntax (0x, 0b, 0o
// or decimal).
func ParseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint32(v), nil
}

// ParseOnOff parses on/off style switches.
func ParseOnOff(s string) (bool, error) {
	switch s {
	case "on", "enable", "1", "true":
		return true, nil
	case "off", "disable", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
