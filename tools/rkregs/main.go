package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/rkdiag/rkregs/board"
	"github.com/rkdiag/rkregs/tools/clock"
	"github.com/rkdiag/rkregs/tools/command"
	"github.com/rkdiag/rkregs/tools/dump"
	"github.com/rkdiag/rkregs/tools/info"
	"github.com/rkdiag/rkregs/tools/peek"
	"github.com/rkdiag/rkregs/tools/power"
	"github.com/rkdiag/rkregs/tools/script"
)

const usageString = `rkregs pokes and sequences RK3588 registers through /dev/mem.

Usage:

	%s [flags] <command> [arguments]

The commands are:

	peek     read and write registers by address
	pll      program or inspect the GPLL
	gate     list or switch clock gates
	pd       list or switch power domains and bus idle requests
	dump     save registers of a window
	restore  write saved registers back
	script   run commands from a file
	info     print board profile and CPU features

Run '%[1]s <command> -h' for the arguments of a command.

The flags are:

`

var (
	flagBoard   = flag.String("board", "", "Apply the board profile in `file` to the built-in RK3588 profile")
	flagVerbose = flag.Bool("v", false, "Log register sequencing")
)

var commands = map[string]command.Func{
	"peek":    peek.Run,
	"pll":     clock.RunPLL,
	"gate":    clock.RunGate,
	"pd":      power.Run,
	"dump":    dump.Run,
	"restore": dump.RunRestore,
	"script":  script.Run,
	"info":    info.Run,
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), usageString, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	log.Default().SetFlags(0)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(flag.CommandLine.Output(), "unknown command: %s\n", flag.Arg(0))
		flag.Usage()
		os.Exit(1)
	}

	b, err := board.Load(*flagBoard)
	if err != nil {
		log.Fatalln(err)
	}
	var logger *log.Logger
	if *flagVerbose {
		logger = log.Default()
	}
	env := command.NewEnv(b, os.Stdout, logger)
	env.Commands = commands

	if err := cmd(env, flag.Args()); err != nil {
		if errors.Is(err, command.ErrUsage) {
			os.Exit(2)
		}
		log.Fatalln(err)
	}
}
