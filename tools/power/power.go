// Package power implements the pd command for the power management unit.
package power

import (
	"github.com/rkdiag/rkregs/pmu"
	"github.com/rkdiag/rkregs/tools/command"
)

const usageString = `List or switch power domains and bus idle requests.

Usage: %s [domain <name> on|off | idle <bus> on|off]

Without arguments the state of all domains and buses is printed.

`

// Run implements the pd command.
func Run(env *command.Env, args []string) error {
	fs := env.FlagSet("pd", usageString)
	if err := command.Parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 0 && fs.NArg() != 3 {
		return command.Usage(fs)
	}

	win, err := env.Board.Map("pmu")
	if err != nil {
		return err
	}
	defer win.Close()
	p := env.Board.NewPMU(win)

	if fs.NArg() == 3 {
		on, err := command.ParseOnOff(fs.Arg(2))
		if err != nil {
			return err
		}
		switch fs.Arg(0) {
		case "domain":
			d, err := pmu.ParseDomain(fs.Arg(1))
			if err != nil {
				return err
			}
			if err := p.SetDomain(d, on); err != nil {
				return err
			}
			env.Log.Printf("pd: domain %v on=%v", d, on)
		case "idle":
			b, err := pmu.ParseBus(fs.Arg(1))
			if err != nil {
				return err
			}
			if err := p.RequestIdle(b, on); err != nil {
				return err
			}
			env.Log.Printf("pd: bus %v idle=%v", b, on)
		default:
			return command.Usage(fs)
		}
	}

	domains, err := p.Domains()
	if err != nil {
		return err
	}
	buses, err := p.Buses()
	if err != nil {
		return err
	}
	env.Printf("Power domains:\n")
	for _, d := range domains {
		state := "off"
		if d.On {
			state = "on"
		}
		env.Printf("  %-8v %s\n", d.Domain, state)
	}
	env.Printf("Buses:\n")
	for _, b := range buses {
		state := "active"
		if b.Idle {
			state = "idle"
		}
		env.Printf("  %-8v %s\n", b.Bus, state)
	}
	return nil
}
