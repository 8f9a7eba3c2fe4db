// Package pll programs phase-locked loops through memory mapped registers.
//
// Reprogramming a PLL is a fixed sequence: power it down, let it settle,
// write the dividers, power it up and wait for the lock bit. The Programmer
// runs that sequence once per call and never retries. A PLL that doesn't lock
// is a normal outcome reported as *LockTimeoutError, it's up to the caller to
// pick other dividers or start over.
package pll

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/rkdiag/rkregs/debug"
	"github.com/rkdiag/rkregs/field"
	"github.com/rkdiag/rkregs/mmio"
	"github.com/rkdiag/rkregs/poll"
)

var (
	ErrReference    = errors.New("reference clock is 0 Hz")
	ErrTarget       = errors.New("target frequency is 0 Hz")
	ErrDividerRange = errors.New("divider out of range")
	ErrVCORange     = errors.New("vco out of range")
	ErrLockTimeout  = errors.New("pll did not lock")
)

// ConfigError is returned for targets that can't be programmed. It's detected
// before any register is written.
type ConfigError struct {
	TargetHz uint64
	Dividers Dividers
	Err      error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pll: %d Hz: %v", e.TargetHz, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// LockTimeoutError is returned if the lock bit wasn't set after all polls.
// Con0 and Con1 are the register values read after giving up. If reading
// them failed, ReadErr is set and they are meaningless.
type LockTimeoutError struct {
	TargetHz   uint64
	Polls      int
	Con0, Con1 uint32
	ReadErr    error
}

func (e *LockTimeoutError) Error() string {
	if e.ReadErr != nil {
		return fmt.Sprintf("pll: %d Hz: no lock after %d polls (registers unreadable: %v)",
			e.TargetHz, e.Polls, e.ReadErr)
	}
	return fmt.Sprintf("pll: %d Hz: no lock after %d polls (con0 %#08x, con1 %#08x)",
		e.TargetHz, e.Polls, e.Con0, e.Con1)
}

func (e *LockTimeoutError) Unwrap() error { return ErrLockTimeout }

// State is the step of the programming sequence a Programmer reached last.
type State uint8

const (
	Idle State = iota
	PoweredDown
	FieldsProgrammed
	PoweredUp
	Locked
	TimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PoweredDown:
		return "powered down"
	case FieldsProgrammed:
		return "fields programmed"
	case PoweredUp:
		return "powered up"
	case Locked:
		return "locked"
	case TimedOut:
		return "timed out"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

const (
	DefaultReferenceHz = 24_000_000
	DefaultSettle      = 10 * time.Microsecond
	DefaultPolls       = 1000
	DefaultPollDelay   = time.Microsecond
)

// Programmer sequences one PLL. Fields may be changed between calls to
// Configure.
//
// Programmer is not safe for concurrent use, and nothing else may write the
// PLL's registers while Configure runs.
type Programmer struct {
	ReferenceHz uint64
	Settle      time.Duration // after power down
	Poller      poll.Poller   // lock bit polling

	// Sleep is used for the settle time, and for polling if Poller.Sleep
	// is nil. Defaults to time.Sleep.
	Sleep func(time.Duration)

	// Log receives state transitions if not nil.
	Log *log.Logger

	regs   mmio.Registers
	layout Layout
	state  State
}

// New returns a programmer for the PLL described by layout, with the timing
// of the RK3588 TRM.
func New(regs mmio.Registers, layout Layout) *Programmer {
	debug.AssertErrNil(layout.Validate())
	return &Programmer{
		ReferenceHz: DefaultReferenceHz,
		Settle:      DefaultSettle,
		Poller:      poll.Poller{MaxIterations: DefaultPolls, Delay: DefaultPollDelay},
		regs:        regs,
		layout:      layout,
	}
}

// Layout returns the register layout the programmer was created with.
func (p *Programmer) Layout() Layout { return p.layout }

// State returns the last state reached by Configure.
func (p *Programmer) State() State { return p.state }

func (p *Programmer) enter(s State) {
	p.state = s
	if p.Log != nil {
		p.Log.Printf("pll %#x: %v", p.layout.Con0, s)
	}
}

func (p *Programmer) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	if p.Sleep != nil {
		p.Sleep(d)
	} else {
		time.Sleep(d)
	}
}

// Result describes a successful or timed out configuration.
type Result struct {
	Dividers Dividers
	Locked   bool
	Polls    int // lock bit checks
}

// Derive returns the dividers Configure would program for targetHz, or a
// *ConfigError.
func (p *Programmer) Derive(targetHz uint64) (Dividers, error) {
	d := Derive(p.layout.Rule, targetHz, p.ReferenceHz)
	if targetHz == 0 {
		return d, &ConfigError{TargetHz: targetHz, Dividers: d, Err: ErrTarget}
	}
	if err := p.layout.Check(d, p.ReferenceHz); err != nil {
		var cerr *ConfigError
		if errors.As(err, &cerr) {
			cerr.TargetHz = targetHz
		}
		return d, err
	}
	return d, nil
}

// Configure reprograms the PLL for targetHz and waits for it to lock.
//
// A target that can't be reached returns a *ConfigError without touching the
// hardware. A missing lock returns Result.Locked == false together with a
// *LockTimeoutError. Register access errors are returned as is and leave the
// PLL in whatever State was reached.
func (p *Programmer) Configure(targetHz uint64) (r Result, err error) {
	p.state = Idle
	r.Dividers, err = p.Derive(targetHz)
	if err != nil {
		return
	}
	if p.Poller.MaxIterations <= 0 {
		err = &ConfigError{TargetHz: targetHz, Dividers: r.Dividers, Err: poll.ErrNoIterations}
		return
	}
	l := &p.layout

	if err = field.Update(p.regs, l.Con0, l.Convention, field.Value{Field: l.PowerDown, V: 1}); err != nil {
		return
	}
	p.enter(PoweredDown)
	p.sleep(p.Settle)

	d := r.Dividers
	if err = field.Update(p.regs, l.Con0, l.Convention, field.Value{Field: l.FbDiv, V: d.FbDiv}); err != nil {
		return
	}
	err = field.Update(p.regs, l.Con1, l.Convention,
		field.Value{Field: l.PostDiv1, V: d.PostDiv1},
		field.Value{Field: l.PostDiv2, V: d.PostDiv2},
		field.Value{Field: l.RefDiv, V: d.RefDiv},
	)
	if err != nil {
		return
	}
	p.enter(FieldsProgrammed)

	if err = field.Update(p.regs, l.Con0, l.Convention, field.Value{Field: l.PowerDown, V: 0}); err != nil {
		return
	}
	p.enter(PoweredUp)

	poller := p.Poller
	if poller.Sleep == nil {
		poller.Sleep = p.sleep
	}
	pr, err := poller.Wait(poll.BitsSet(p.regs, l.Con0, l.Lock.Mask()))
	r.Polls = pr.Polls
	if err != nil {
		return
	}
	if !pr.Done {
		p.enter(TimedOut)
		terr := &LockTimeoutError{TargetHz: targetHz, Polls: pr.Polls}
		if terr.Con0, terr.ReadErr = p.regs.Read32(l.Con0); terr.ReadErr == nil {
			terr.Con1, terr.ReadErr = p.regs.Read32(l.Con1)
		}
		return r, terr
	}
	r.Locked = true
	p.enter(Locked)
	return
}

// Status is the decoded state of a PLL's registers.
type Status struct {
	Con0, Con1  uint32
	PoweredDown bool
	Locked      bool
	Dividers    Dividers
	RateHz      uint64 // 0 while powered down
}

// Status reads and decodes the PLL's registers.
func (p *Programmer) Status() (s Status, err error) {
	l := &p.layout
	if s.Con0, err = p.regs.Read32(l.Con0); err != nil {
		return
	}
	if s.Con1, err = p.regs.Read32(l.Con1); err != nil {
		return
	}
	s.PoweredDown = field.Extract(s.Con0, l.PowerDown) != 0
	s.Locked = field.Extract(s.Con0, l.Lock) != 0
	s.Dividers = Dividers{
		FbDiv:    field.Extract(s.Con0, l.FbDiv),
		PostDiv1: field.Extract(s.Con1, l.PostDiv1),
		PostDiv2: field.Extract(s.Con1, l.PostDiv2),
		RefDiv:   field.Extract(s.Con1, l.RefDiv),
	}
	if !s.PoweredDown {
		s.RateHz = s.Dividers.Rate(p.ReferenceHz)
	}
	return
}
