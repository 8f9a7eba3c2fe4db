// Package script implements the script command, which runs a file of rkregs
// commands.
package script

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/buildkite/shellwords"
	"github.com/kballard/go-shellquote"

	"github.com/rkdiag/rkregs/tools/command"
)

const usageString = `Run rkregs commands from a file, one per line.

Usage: %s [flags] <file>

Lines are split like POSIX shell words. Empty lines and lines starting with
# are skipped. A file of - reads standard input.

`

// Run implements the script command.
func Run(env *command.Env, args []string) error {
	fs := env.FlagSet("script", usageString)
	keepGoing := fs.Bool("k", false, "Continue after a failing line")
	if err := command.Parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return command.Usage(fs)
	}

	var r io.Reader = os.Stdin
	if name := fs.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	return Exec(env, fs.Arg(0), r, *keepGoing)
}

// Exec runs the commands read from r. name is used in error messages.
func Exec(env *command.Env, name string, r io.Reader, keepGoing bool) error {
	var failed int
	scanner := bufio.NewScanner(r)
	for lineno := 1; scanner.Scan(); lineno++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		err := execLine(env, line)
		if err == nil {
			continue
		}
		err = fmt.Errorf("%s:%d: %w", name, lineno, err)
		if !keepGoing {
			return err
		}
		env.Printf("%v\n", err)
		failed++
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%s: %d lines failed", name, failed)
	}
	return nil
}

func execLine(env *command.Env, line string) error {
	args, err := shellwords.SplitPosix(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	if args[0] == "script" {
		return fmt.Errorf("scripts can't run scripts")
	}
	cmd, ok := env.Commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s", args[0])
	}
	env.Log.Printf("+ %s", shellquote.Join(args...))
	return cmd(env, args)
}
