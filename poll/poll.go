// Package poll implements bounded busy waiting on hardware status bits.
//
// There are no interrupts in user space register access, so waiting for the
// hardware means re-reading a register with a short sleep in between until a
// condition holds or a maximum number of checks is reached.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/rkdiag/rkregs/mmio"
)

// Cond is checked on every poll. An error aborts the wait.
type Cond func() (bool, error)

// Result is the outcome of a wait. Polls is the number of times the condition
// was checked, including the successful one.
type Result struct {
	Done  bool
	Polls int
}

var ErrNoIterations = errors.New("poll: MaxIterations must be positive")

// Poller checks a condition up to MaxIterations times with Delay between
// checks, so waiting takes at most about MaxIterations*Delay.
//
// A zero Delay polls as fast as the condition can be evaluated. Sleep is the
// delay primitive and defaults to time.Sleep, tests replace it to run without
// wall time.
type Poller struct {
	MaxIterations int
	Delay         time.Duration
	Sleep         func(time.Duration)
}

// Wait checks cond until it's true or the poller runs out of iterations. The
// condition is checked once before the first delay. Running out of
// iterations isn't an error, it's reported by Result.Done being false.
func (p *Poller) Wait(cond Cond) (Result, error) {
	return p.WaitContext(context.Background(), cond)
}

// WaitContext is like Wait but additionally stops with ctx's error once ctx is
// done.
func (p *Poller) WaitContext(ctx context.Context, cond Cond) (r Result, err error) {
	if p.MaxIterations <= 0 {
		return r, ErrNoIterations
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	for {
		if err = ctx.Err(); err != nil {
			return
		}
		r.Done, err = cond()
		r.Polls++
		if err != nil || r.Done || r.Polls == p.MaxIterations {
			return
		}
		// Delay == 0 spins without a yield hint, Go has none.
		if p.Delay > 0 {
			sleep(p.Delay)
		}
	}
}

// BitsSet returns a condition that's true when all bits of mask are set in the
// register at offset.
func BitsSet(regs mmio.Registers, offset uint32, mask uint32) Cond {
	return BitsEqual(regs, offset, mask, mask)
}

// BitsClear returns a condition that's true when all bits of mask are clear in
// the register at offset.
func BitsClear(regs mmio.Registers, offset uint32, mask uint32) Cond {
	return BitsEqual(regs, offset, mask, 0)
}

// BitsEqual returns a condition that's true when the bits of mask in the
// register at offset equal want.
func BitsEqual(regs mmio.Registers, offset uint32, mask, want uint32) Cond {
	return func() (bool, error) {
		v, err := regs.Read32(offset)
		return v&mask == want&mask, err
	}
}
