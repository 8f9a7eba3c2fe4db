// Package commandtest runs rkregs commands against simulated register banks.
package commandtest

import (
	"bytes"
	"fmt"
	"log"

	"github.com/rkdiag/rkregs/board"
	"github.com/rkdiag/rkregs/mmio"
	"github.com/rkdiag/rkregs/mmio/mmiotest"
	"github.com/rkdiag/rkregs/tools/command"
)

// Env is a command environment whose board windows are backed by banks.
type Env struct {
	*command.Env
	Out   bytes.Buffer
	Trace bytes.Buffer // verbose log output
	Banks map[string]*mmiotest.Bank
}

// New returns an environment with the built-in board profile. Every window
// of the profile gets a zeroed bank.
func New() *Env {
	e := &Env{Banks: make(map[string]*mmiotest.Bank)}
	b := board.Default()
	for name, w := range b.Windows {
		e.Banks[name] = mmiotest.NewBank(w.Base, w.Length)
	}
	b.Mapper = e.mapRange
	e.Env = command.NewEnv(b, &e.Out, log.New(&e.Trace, "", 0))
	return e
}

func (e *Env) mapRange(base uint64, length int) (*mmio.Window, error) {
	for _, bank := range e.Banks {
		start := bank.Window().Base()
		if base >= start && base+uint64(length) <= start+uint64(bank.Window().Len()) {
			return bank.Map(base, length)
		}
	}
	return nil, fmt.Errorf("commandtest: nothing mapped at %#x+%#x", base, length)
}

// Run runs the command with args, args[0] being the command name.
func (e *Env) Run(cmd command.Func, args ...string) error {
	return cmd(e.Env, args)
}
