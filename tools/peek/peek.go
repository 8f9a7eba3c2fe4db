// Package peek implements the peek command, which reads and writes single
// registers by physical address.
package peek

import (
	"fmt"
	"strings"

	"github.com/rkdiag/rkregs/mmio"
	"github.com/rkdiag/rkregs/tools/command"
)

const usageString = `Read or write registers by physical address.

Usage: %s [flags] <op> <addr> [value]

The ops are:

	read    <addr> [count]  print count words starting at addr
	write   <addr> <value>  store value
	setbits <addr> <mask>   set bits with a read-modify-write
	clrbits <addr> <mask>   clear bits with a read-modify-write

Addresses must be word aligned.

`

const (
	pageSize = 0x1000
	maxWords = 0x4000
)

// Run implements the peek command.
func Run(env *command.Env, args []string) error {
	fs := env.FlagSet("peek", usageString)
	bits := fs.Bool("bits", false, "Print read values as binary")
	if err := command.Parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return command.Usage(fs)
	}

	op := fs.Arg(0)
	addr, err := command.ParseUint32(fs.Arg(1))
	if err != nil {
		return err
	}
	arg := uint32(1)
	switch op {
	case "read", "r":
		if fs.NArg() > 2 {
			if arg, err = command.ParseUint32(fs.Arg(2)); err != nil {
				return err
			}
		}
		if arg == 0 || arg > maxWords {
			return fmt.Errorf("peek: count must be 1-%d", maxWords)
		}
	case "write", "w", "setbits", "sb", "clrbits", "cb":
		if fs.NArg() != 3 {
			return command.Usage(fs)
		}
		if arg, err = command.ParseUint32(fs.Arg(2)); err != nil {
			return err
		}
	default:
		return command.Usage(fs)
	}

	// Map whole pages around the accessed words. Offsets are still bounds
	// checked, so an unaligned addr fails on access.
	base := uint64(addr) &^ (pageSize - 1)
	off := addr - uint32(base)
	length := pageSize
	if op == "read" || op == "r" {
		length = int(off+4*arg+pageSize-1) &^ (pageSize - 1)
	}
	win, err := env.Board.MapRange(base, length)
	if err != nil {
		return err
	}
	defer win.Close()
	env.Log.Printf("peek: mapped %#x+%#x", base, length)

	reg := mmio.Reg32[uint32](win, off)
	switch op {
	case "read", "r":
		for i := uint32(0); i < arg; i++ {
			v, err := win.Read32(off + 4*i)
			if err != nil {
				return err
			}
			env.Printf("%#08x: %#08x", base+uint64(off+4*i), v)
			if *bits {
				env.Printf("  %s", binary(v))
			}
			env.Printf("\n")
		}
		return nil
	case "write", "w":
		return reg.Store(arg)
	case "setbits", "sb":
		return reg.SetBits(arg)
	default:
		return reg.ClearBits(arg)
	}
}

// binary formats v as 32 bits in groups of 4, most significant first.
func binary(v uint32) string {
	var b strings.Builder
	for i := 31; i >= 0; i-- {
		b.WriteByte('0' + byte(v>>i&1))
		if i%4 == 0 && i > 0 {
			b.WriteByte('_')
		}
	}
	return b.String()
}
