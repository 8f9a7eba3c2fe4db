package mmio

// R32 is a register of type T at a fixed offset. It's the typed counterpart to
// raw Read32/Write32 calls, similar to register structs on bare metal, but
// every access can fail because the window is bounds checked.
type R32[T ~uint32] struct {
	regs   Registers
	offset uint32
}

func Reg32[T ~uint32](regs Registers, offset uint32) R32[T] {
	return R32[T]{regs, offset}
}

func (r R32[T]) Offset() uint32 { return r.offset }

func (r R32[T]) Load() (T, error) {
	v, err := r.regs.Read32(r.offset)
	return T(v), err
}

func (r R32[T]) Store(v T) error {
	return r.regs.Write32(r.offset, uint32(v))
}

// LoadBits returns the register value masked with mask.
func (r R32[T]) LoadBits(mask T) (T, error) {
	v, err := r.Load()
	return v & mask, err
}

// StoreBits replaces the bits in mask with bits using a read-modify-write
// sequence. Registers with a write-enable mask in the upper half must be
// written with field.EncodeSelfMasked instead.
func (r R32[T]) StoreBits(mask, bits T) error {
	v, err := r.Load()
	if err != nil {
		return err
	}
	return r.Store(v&^mask | bits&mask)
}

func (r R32[T]) SetBits(mask T) error {
	return r.StoreBits(mask, mask)
}

func (r R32[T]) ClearBits(mask T) error {
	return r.StoreBits(mask, 0)
}
