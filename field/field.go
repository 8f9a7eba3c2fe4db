// Package field packs and unpacks bit fields of 32-bit registers.
//
// Two write conventions are supported. Plain registers need a read before
// every partial update. Self-masked registers, common on Rockchip SoCs, use
// the upper 16 bits of a write as per-bit write enables for the lower 16 bits,
// so a single write updates exactly the selected bits.
package field

import (
	"errors"
	"fmt"

	"github.com/rkdiag/rkregs/debug"
	"github.com/rkdiag/rkregs/mmio"
)

// Field is a contiguous range of bits in a register.
type Field struct {
	Shift uint8
	Width uint8
}

// Bit returns the one bit wide field at bit n.
func Bit(n uint8) Field { return Field{Shift: n, Width: 1} }

// Valid reports whether the field lies within 32 bits and is not empty.
func (f Field) Valid() bool {
	return f.Width >= 1 && f.Shift < 32 && int(f.Shift)+int(f.Width) <= 32
}

// Max returns the largest value the field can hold.
func (f Field) Max() uint32 {
	return uint32(1)<<f.Width - 1
}

// Mask returns the field's bits in register position.
func (f Field) Mask() uint32 {
	debug.Assertf(f.Valid(), "invalid field %v", f)
	return f.Max() << f.Shift
}

// Maskable reports whether the field can be written with the self-masked
// convention, i.e. it lies in the lower 16 bits.
func (f Field) Maskable() bool {
	return f.Valid() && int(f.Shift)+int(f.Width) <= 16
}

func (f Field) String() string {
	if f.Width == 1 {
		return fmt.Sprintf("[%d]", f.Shift)
	}
	return fmt.Sprintf("[%d:%d]", int(f.Shift)+int(f.Width)-1, f.Shift)
}

// Fits reports whether v can be stored in f without truncation.
func Fits(f Field, v uint32) bool { return v <= f.Max() }

// Extract returns the value of f in raw.
func Extract(raw uint32, f Field) uint32 {
	return (raw >> f.Shift) & f.Max()
}

// EncodePlain returns old with f replaced by v. Bits of v that don't fit are
// dropped, as the hardware would do.
func EncodePlain(old uint32, f Field, v uint32) uint32 {
	m := f.Mask()
	return old&^m | (v<<f.Shift)&m
}

// EncodeSelfMasked returns the word that sets f to v in a self-masked
// register without touching any other bits.
func EncodeSelfMasked(f Field, v uint32) uint32 {
	debug.Assertf(f.Maskable(), "field %v not maskable", f)
	m := f.Mask()
	return (v<<f.Shift)&m | m<<16
}

// Convention is the write convention of a register.
type Convention uint8

const (
	Plain Convention = iota
	SelfMasked
)

func (c Convention) String() string {
	switch c {
	case Plain:
		return "plain"
	case SelfMasked:
		return "self-masked"
	}
	return fmt.Sprintf("Convention(%d)", uint8(c))
}

// ParseConvention is the inverse of Convention.String.
func ParseConvention(s string) (Convention, error) {
	switch s {
	case "plain":
		return Plain, nil
	case "self-masked", "masked", "hiword":
		return SelfMasked, nil
	}
	return 0, fmt.Errorf("unknown write convention %q", s)
}

var ErrNotMaskable = errors.New("field outside the lower 16 bits")

// Value pairs a field with the value to write into it.
type Value struct {
	Field Field
	V     uint32
}

// Encode computes the word to write for updating all values at once. old is
// ignored for self-masked registers.
func Encode(conv Convention, old uint32, values ...Value) (uint32, error) {
	var w uint32
	if conv == Plain {
		w = old
	}
	for _, fv := range values {
		if !fv.Field.Valid() {
			return 0, fmt.Errorf("invalid field %v", fv.Field)
		}
		switch conv {
		case Plain:
			w = EncodePlain(w, fv.Field, fv.V)
		case SelfMasked:
			if !fv.Field.Maskable() {
				return 0, fmt.Errorf("field %v: %w", fv.Field, ErrNotMaskable)
			}
			w |= EncodeSelfMasked(fv.Field, fv.V)
		default:
			return 0, fmt.Errorf("unknown write convention %v", conv)
		}
	}
	return w, nil
}

// Update writes values to the register at offset using one store. Plain
// registers are read first.
func Update(regs mmio.Registers, offset uint32, conv Convention, values ...Value) error {
	var old uint32
	if conv == Plain {
		var err error
		if old, err = regs.Read32(offset); err != nil {
			return err
		}
	}
	w, err := Encode(conv, old, values...)
	if err != nil {
		return err
	}
	return regs.Write32(offset, w)
}
