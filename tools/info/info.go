// Package info implements the info command.
package info

import (
	"runtime"

	"golang.org/x/sys/cpu"
	"gopkg.in/yaml.v3"

	"github.com/rkdiag/rkregs/tools/command"
)

const usageString = `Print the board profile in use and the features of the CPU.

Usage: %s

`

// Run implements the info command.
func Run(env *command.Env, args []string) error {
	fs := env.FlagSet("info", usageString)
	if err := command.Parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return command.Usage(fs)
	}

	profile, err := yaml.Marshal(env.Board)
	if err != nil {
		return err
	}
	env.Printf("# board profile\n%s\n", profile)

	env.Printf("# cpu\n%s/%s, %d cores\n", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	if runtime.GOARCH != "arm64" {
		env.Printf("not an arm64 host, register access will fail\n")
		return nil
	}
	features := []struct {
		name string
		has  bool
	}{
		{"fp", cpu.ARM64.HasFP},
		{"asimd", cpu.ARM64.HasASIMD},
		{"aes", cpu.ARM64.HasAES},
		{"pmull", cpu.ARM64.HasPMULL},
		{"sha1", cpu.ARM64.HasSHA1},
		{"sha2", cpu.ARM64.HasSHA2},
		{"crc32", cpu.ARM64.HasCRC32},
		{"atomics", cpu.ARM64.HasATOMICS},
		{"asimdhp", cpu.ARM64.HasASIMDHP},
		{"asimddp", cpu.ARM64.HasASIMDDP},
		{"lrcpc", cpu.ARM64.HasLRCPC},
		{"dcpop", cpu.ARM64.HasDCPOP},
	}
	for _, f := range features {
		mark := "-"
		if f.has {
			mark = "+"
		}
		env.Printf("  %s%s\n", mark, f.name)
	}
	return nil
}
