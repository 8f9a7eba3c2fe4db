// Package clock implements the pll and gate commands, which drive the clock
// and reset unit.
package clock

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
	"periph.io/x/conn/v3/physic"

	"github.com/rkdiag/rkregs/cru"
	"github.com/rkdiag/rkregs/mmio"
	"github.com/rkdiag/rkregs/pll"
	"github.com/rkdiag/rkregs/tools/command"
)

const pllUsage = `Program or inspect the general purpose PLL.

Usage: %s [flags] [sweep <frequency>...]

Without flags the current GPLL state is printed. Sweep configures every
frequency repeatedly and reports how long the PLL takes to lock.

`

func openCRU(env *command.Env) (*cru.CRU, *mmio.Window, error) {
	win, err := env.Board.Map("cru")
	if err != nil {
		return nil, nil, err
	}
	c, err := env.Board.CRU(win)
	if err != nil {
		win.Close()
		return nil, nil, err
	}
	c.GPLL().Log = env.Log
	return c, win, nil
}

func toHz(f physic.Frequency) (uint64, error) {
	if f < physic.Hertz {
		return 0, fmt.Errorf("invalid frequency %v", f)
	}
	return uint64(f / physic.Hertz), nil
}

func fromHz(hz uint64) physic.Frequency {
	return physic.Frequency(hz) * physic.Hertz
}

// RunPLL implements the pll command.
func RunPLL(env *command.Env, args []string) error {
	fs := env.FlagSet("pll", pllUsage)
	var rate physic.Frequency
	fs.Var(&rate, "rate", "Configure the GPLL to `frequency`, e.g. 816MHz")
	dryRun := fs.Bool("dry-run", false, "Derive and check the dividers for -rate without writing them")
	repeat := fs.Int("n", 10, "Configurations per frequency in sweep mode")
	if err := command.Parse(fs, args); err != nil {
		return err
	}

	if fs.NArg() > 0 {
		if fs.Arg(0) != "sweep" || fs.NArg() < 2 || *repeat < 1 {
			return command.Usage(fs)
		}
		return sweep(env, fs.Args()[1:], *repeat)
	}

	if *dryRun {
		if rate == 0 {
			return command.Usage(fs)
		}
		return derive(env, rate)
	}

	c, win, err := openCRU(env)
	if err != nil {
		return err
	}
	defer win.Close()
	gpll := c.GPLL()

	if rate != 0 {
		hz, err := toHz(rate)
		if err != nil {
			return err
		}
		r, err := gpll.Configure(hz)
		if err != nil {
			return fmt.Errorf("gpll %v: %w", rate, err)
		}
		env.Printf("GPLL %v: locked after %d polls, %v\n", rate, r.Polls, r.Dividers)
	}
	return printStatus(env, gpll)
}

func derive(env *command.Env, rate physic.Frequency) error {
	hz, err := toHz(rate)
	if err != nil {
		return err
	}
	l, err := env.Board.PLLLayout()
	if err != nil {
		return err
	}
	ref := env.Board.ReferenceHz
	d := pll.Derive(l.Rule, hz, ref)
	env.Printf("GPLL %v (%v rule): %v\n", rate, l.Rule, d)
	env.Printf("  vco  %d Hz\n", d.VCO(ref))
	env.Printf("  rate %d Hz (%v)\n", d.Rate(ref), fromHz(d.Rate(ref)))
	return l.Check(d, ref)
}

func printStatus(env *command.Env, gpll *pll.Programmer) error {
	s, err := gpll.Status()
	if err != nil {
		return err
	}
	power, lock := "powered up", "unlocked"
	if s.PoweredDown {
		power = "powered down"
	}
	if s.Locked {
		lock = "locked"
	}
	env.Printf("GPLL: %s, %s\n", power, lock)
	env.Printf("  con0 %#08x  con1 %#08x\n", s.Con0, s.Con1)
	env.Printf("  %v\n", s.Dividers)
	if s.RateHz != 0 {
		env.Printf("  rate %d Hz (%v)\n", s.RateHz, fromHz(s.RateHz))
	}
	return nil
}

func sweep(env *command.Env, freqs []string, n int) error {
	c, win, err := openCRU(env)
	if err != nil {
		return err
	}
	defer win.Close()
	gpll := c.GPLL()

	env.Printf("%-10s %8s %16s %20s\n", "rate", "locked", "polls", "lock time [µs]")
	for _, s := range freqs {
		var f physic.Frequency
		if err := f.Set(s); err != nil {
			return fmt.Errorf("sweep: %q: %w", s, err)
		}
		hz, err := toHz(f)
		if err != nil {
			return err
		}
		if _, err := gpll.Derive(hz); err != nil {
			env.Printf("%-10v skipped: %v\n", f, err)
			continue
		}

		var polls, micros []float64
		for range n {
			start := time.Now()
			r, err := gpll.Configure(hz)
			elapsed := time.Since(start)
			if errors.Is(err, pll.ErrLockTimeout) {
				continue
			}
			if err != nil {
				return err
			}
			polls = append(polls, float64(r.Polls))
			micros = append(micros, float64(elapsed)/float64(time.Microsecond))
		}
		env.Printf("%-10v %4d/%-3d", f, len(polls), n)
		if len(polls) > 0 {
			pm, ps := stat.MeanStdDev(polls, nil)
			tm, ts := stat.MeanStdDev(micros, nil)
			env.Printf(" %8.1f ±%6.1f %12.1f ±%6.1f", pm, ps, tm, ts)
		}
		env.Printf("\n")
	}
	return printStatus(env, gpll)
}

const gateUsage = `List or switch peripheral clock gates.

Usage: %s [<gate> on|off]

`

// RunGate implements the gate command.
func RunGate(env *command.Env, args []string) error {
	fs := env.FlagSet("gate", gateUsage)
	if err := command.Parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 0 && fs.NArg() != 2 {
		return command.Usage(fs)
	}

	c, win, err := openCRU(env)
	if err != nil {
		return err
	}
	defer win.Close()

	if fs.NArg() == 2 {
		g, err := cru.ParseGate(fs.Arg(0))
		if err != nil {
			return err
		}
		on, err := command.ParseOnOff(fs.Arg(1))
		if err != nil {
			return err
		}
		if err := c.SetGate(g, on); err != nil {
			return err
		}
		env.Log.Printf("gate: %v on=%v", g, on)
	}

	gates, err := c.Gates()
	if err != nil {
		return err
	}
	for _, g := range gates {
		state := "disabled"
		if g.Enabled {
			state = "enabled"
		}
		env.Printf("%-12v %s\n", g.Gate, state)
	}
	return nil
}
