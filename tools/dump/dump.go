// Package dump implements the dump and restore commands, which save register
// windows to snapshot files and write them back.
package dump

import (
	"fmt"
	"os"

	"github.com/rkdiag/rkregs/snapshot"
	"github.com/rkdiag/rkregs/tools/command"
)

const dumpUsage = `Save or print the registers of a board window.

Usage: %s [flags]

`

// Run implements the dump command.
func Run(env *command.Env, args []string) error {
	fs := env.FlagSet("dump", dumpUsage)
	window := fs.String("window", "cru", "Board window to dump")
	from := fs.Uint("from", 0, "First `offset` to dump")
	to := fs.Uint("to", 0, "Dump up to `offset`, the window end if 0")
	out := fs.String("o", "", "Write the snapshot to `file` instead of printing it")
	diff := fs.String("diff", "", "Print registers that changed since the snapshot in `file`")
	if err := command.Parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return command.Usage(fs)
	}

	w, ok := env.Board.Windows[*window]
	if !ok {
		return fmt.Errorf("dump: board %s has no window %q", env.Board.Name, *window)
	}
	end := uint32(*to)
	if end == 0 || end > uint32(w.Length) {
		end = uint32(w.Length)
	}
	if uint32(*from) >= end {
		return fmt.Errorf("dump: empty range %#x-%#x", *from, end)
	}

	win, err := env.Board.Map(*window)
	if err != nil {
		return err
	}
	defer win.Close()
	s, err := snapshot.Take(win, w.Base, snapshot.Range(uint32(*from), end))
	if err != nil {
		return err
	}
	env.Log.Printf("dump: %d words of %s", len(s.Words), *window)

	if *diff != "" {
		old, err := readFile(*diff)
		if err != nil {
			return err
		}
		if old.Base != s.Base {
			return fmt.Errorf("dump: %s is a snapshot of %#x, not %#x", *diff, old.Base, s.Base)
		}
		for _, c := range old.Diff(s) {
			env.Printf("%#08x: %#08x -> %#08x\n", s.Base+uint64(c.Offset), c.Old, c.New)
		}
	}

	if *out != "" {
		return writeFile(*out, s)
	}
	if *diff == "" {
		for _, w := range s.Words {
			env.Printf("%#08x: %#08x\n", s.Base+uint64(w.Offset), w.Value)
		}
	}
	return nil
}

const restoreUsage = `Write a snapshot back to the registers it was taken from.

Usage: %s [flags] <file>

`

// RunRestore implements the restore command.
func RunRestore(env *command.Env, args []string) error {
	fs := env.FlagSet("restore", restoreUsage)
	dryRun := fs.Bool("n", false, "Print the registers that would be written")
	if err := command.Parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return command.Usage(fs)
	}

	s, err := readFile(fs.Arg(0))
	if err != nil {
		return err
	}
	name, err := windowOf(env, s)
	if err != nil {
		return err
	}
	if *dryRun {
		for _, w := range s.Words {
			env.Printf("%#08x <- %#08x\n", s.Base+uint64(w.Offset), w.Value)
		}
		return nil
	}

	win, err := env.Board.Map(name)
	if err != nil {
		return err
	}
	defer win.Close()
	if err := s.Restore(win, env.Board.SelfMasked(name)); err != nil {
		return err
	}
	env.Printf("restored %d registers of %s\n", len(s.Words), name)
	return nil
}

// windowOf returns the board window s was taken from.
func windowOf(env *command.Env, s *snapshot.Snapshot) (string, error) {
	for name, w := range env.Board.Windows {
		if w.Base != s.Base {
			continue
		}
		for _, word := range s.Words {
			if word.Offset+4 > uint32(w.Length) {
				return "", fmt.Errorf("restore: offset %#x outside window %s", word.Offset, name)
			}
		}
		return name, nil
	}
	return "", fmt.Errorf("restore: no window at %#x on board %s", s.Base, env.Board.Name)
}

func readFile(path string) (*snapshot.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s := new(snapshot.Snapshot)
	if _, err := s.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func writeFile(path string, s *snapshot.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := s.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
