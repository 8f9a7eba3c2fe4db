//go:build !debug

// Package debug provides assertions for programmer errors, i.e. register
// layouts that can't exist in hardware. They are enabled with the debug build
// tag and compile to no-ops otherwise.
//
// Hardware outcomes (timeouts, bad offsets from user input) are never
// asserted, they are returned as errors.
package debug

// Guard expensive assertions (i.e. anything that formats or reads hardware)
// with `if debug.Enabled{...}`, otherwise they can't be removed in release
// builds.
const Enabled = false

// Assert panics if b is false.
func Assert(b bool, message string) {}

// Assertf panics with a formatted message if b is false.
func Assertf(b bool, format string, args ...any) {}

// AssertErrNil panics if err is not nil.
func AssertErrNil(err error) {}
