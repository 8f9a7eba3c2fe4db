package pll

import (
	"fmt"

	"github.com/rkdiag/rkregs/field"
)

// Layout describes where a PLL keeps its dividers and status bits and how its
// registers are written. It's a property of the register family, not of a
// single PLL.
type Layout struct {
	Con0 uint32 // power, feedback divider and lock status
	Con1 uint32 // post and reference dividers

	PowerDown field.Field // in Con0, 1 = powered down
	FbDiv     field.Field // in Con0
	Lock      field.Field // in Con0, 1 = locked, read-only
	PostDiv1  field.Field // in Con1
	PostDiv2  field.Field // in Con1
	RefDiv    field.Field // in Con1

	Convention field.Convention
	Rule       Rule

	MinVCO, MaxVCO uint64 // valid VCO range in Hz
}

// RK3588GPLL is the general purpose PLL in the RK3588 CRU.
var RK3588GPLL = Layout{
	Con0: 0x0040,
	Con1: 0x0044,

	PowerDown: field.Bit(0),
	FbDiv:     field.Field{Shift: 8, Width: 8},
	Lock:      field.Bit(31),
	PostDiv1:  field.Field{Shift: 0, Width: 3},
	PostDiv2:  field.Field{Shift: 4, Width: 3},
	RefDiv:    field.Field{Shift: 8, Width: 6},

	Convention: field.SelfMasked,
	Rule:       Enhanced,

	MinVCO: 800_000_000,
	MaxVCO: 2_000_000_000,
}

// Validate checks that all fields exist and can be written with the layout's
// convention.
func (l *Layout) Validate() error {
	fields := []struct {
		name string
		f    field.Field
		rw   bool
	}{
		{"power-down", l.PowerDown, true},
		{"fbdiv", l.FbDiv, true},
		{"lock", l.Lock, false},
		{"postdiv1", l.PostDiv1, true},
		{"postdiv2", l.PostDiv2, true},
		{"refdiv", l.RefDiv, true},
	}
	for _, fd := range fields {
		if !fd.f.Valid() {
			return fmt.Errorf("pll: layout: invalid %s field %v", fd.name, fd.f)
		}
		if fd.rw && l.Convention == field.SelfMasked && !fd.f.Maskable() {
			return fmt.Errorf("pll: layout: %s field %v: %w", fd.name, fd.f, field.ErrNotMaskable)
		}
	}
	if l.Con0%4 != 0 || l.Con1%4 != 0 {
		return fmt.Errorf("pll: layout: unaligned register offset")
	}
	if l.MinVCO == 0 || l.MinVCO > l.MaxVCO {
		return fmt.Errorf("pll: layout: invalid VCO range %d-%d Hz", l.MinVCO, l.MaxVCO)
	}
	return nil
}

// Check returns a *ConfigError if d can't be programmed: a divider is zero or
// doesn't fit its field, or the VCO runs outside its valid range.
func (l *Layout) Check(d Dividers, referenceHz uint64) error {
	if referenceHz == 0 {
		return &ConfigError{Dividers: d, Err: ErrReference}
	}
	divs := []struct {
		name string
		v    uint32
		f    field.Field
	}{
		{"fbdiv", d.FbDiv, l.FbDiv},
		{"postdiv1", d.PostDiv1, l.PostDiv1},
		{"postdiv2", d.PostDiv2, l.PostDiv2},
		{"refdiv", d.RefDiv, l.RefDiv},
	}
	for _, div := range divs {
		if div.v == 0 || !field.Fits(div.f, div.v) {
			return &ConfigError{
				Dividers: d,
				Err:      fmt.Errorf("%s %d: %w (1-%d)", div.name, div.v, ErrDividerRange, div.f.Max()),
			}
		}
	}
	if vco := d.VCO(referenceHz); vco < l.MinVCO || vco > l.MaxVCO {
		return &ConfigError{
			Dividers: d,
			Err:      fmt.Errorf("vco %d Hz: %w (%d-%d Hz)", vco, ErrVCORange, l.MinVCO, l.MaxVCO),
		}
	}
	return nil
}
