package pll

import (
	"fmt"
	"math"
)

// Rule selects how dividers are derived from a target frequency.
type Rule uint8

const (
	// Enhanced doubles the VCO with postdiv1 = 2 for targets below 400 MHz.
	Enhanced Rule = iota

	// Simplified only sets the feedback divider, all other dividers are 1.
	Simplified
)

func (r Rule) String() string {
	switch r {
	case Enhanced:
		return "enhanced"
	case Simplified:
		return "simplified"
	}
	return fmt.Sprintf("Rule(%d)", uint8(r))
}

// ParseRule is the inverse of Rule.String.
func ParseRule(s string) (Rule, error) {
	switch s {
	case "enhanced":
		return Enhanced, nil
	case "simplified":
		return Simplified, nil
	}
	return 0, fmt.Errorf("unknown divider rule %q", s)
}

// Dividers are the values programmed into a PLL.
type Dividers struct {
	FbDiv    uint32
	PostDiv1 uint32
	PostDiv2 uint32
	RefDiv   uint32
}

func (d Dividers) String() string {
	return fmt.Sprintf("fbdiv=%d postdiv1=%d postdiv2=%d refdiv=%d", d.FbDiv, d.PostDiv1, d.PostDiv2, d.RefDiv)
}

// VCO returns the oscillator frequency for a reference clock, or 0 if refdiv
// is 0.
func (d Dividers) VCO(referenceHz uint64) uint64 {
	if d.RefDiv == 0 {
		return 0
	}
	return referenceHz / uint64(d.RefDiv) * uint64(d.FbDiv)
}

// Rate returns the output frequency for a reference clock, or 0 if any
// divider is 0.
func (d Dividers) Rate(referenceHz uint64) uint64 {
	if d.PostDiv1 == 0 || d.PostDiv2 == 0 {
		return 0
	}
	return d.VCO(referenceHz) / uint64(d.PostDiv1) / uint64(d.PostDiv2)
}

// Derive computes the dividers for targetHz. The feedback divider is
// truncated, so the resulting rate can be lower than the target, e.g. 200 MHz
// becomes 192 MHz with a 24 MHz reference. Derive doesn't check the result,
// see Layout.Check.
func Derive(rule Rule, targetHz, referenceHz uint64) Dividers {
	d := Dividers{PostDiv1: 1, PostDiv2: 1, RefDiv: 1}
	vco := targetHz
	if rule == Enhanced && targetHz < 400_000_000 {
		d.PostDiv1 = 2
		vco = targetHz * 2
	}
	step := referenceHz / uint64(d.RefDiv)
	if step == 0 {
		return d
	}
	d.FbDiv = uint32(min(vco/step, math.MaxUint32))
	return d
}
