//go:build debug

package debug

import "fmt"

// Guard expensive assertions (i.e. anything that formats or reads hardware)
// with `if debug.Enabled{...}`, otherwise they can't be removed in release
// builds.
const Enabled = true

func Assert(b bool, message string) {
	if !b {
		panic(message)
	}
}

func Assertf(b bool, format string, args ...any) {
	if !b {
		panic(fmt.Sprintf(format, args...))
	}
}

func AssertErrNil(err error) {
	if err != nil {
		panic(err)
	}
}
