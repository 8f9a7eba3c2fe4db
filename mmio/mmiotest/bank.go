// Package mmiotest provides simulated register banks for testing code that
// drives memory mapped hardware.
package mmiotest

import (
	"fmt"
	"unsafe"

	"github.com/rkdiag/rkregs/mmio"
)

// Access is one recorded register access.
type Access struct {
	Write  bool
	Offset uint32
	Value  uint32 // value read, or value written by the caller
}

// Bank is a register bank backed by plain memory. It's accessed through a
// borrowed mmio.Window, so bounds and alignment errors are the same as on
// hardware.
//
// Offsets registered with SetMasked behave like registers with a write-enable
// mask in the upper half: a write only changes the low bits whose enable bit
// is set, and the upper half of the stored value is left alone.
type Bank struct {
	win    *mmio.Window
	mem    []byte
	words  []uint32
	masked map[uint32]bool

	// OnRead, if set, is called after every successful read with the number
	// of previous reads of the same offset. Its result is returned to the
	// caller instead of the stored value.
	OnRead func(offset uint32, n int, value uint32) uint32

	// OnWrite, if set, is called after every successful write with the value
	// that was stored.
	OnWrite func(offset uint32, stored uint32)

	Log   []Access
	reads map[uint32]int
}

// NewBank returns a bank of length bytes at physical address base.
func NewBank(base uint64, length int) *Bank {
	words := make([]uint32, (length+3)/4)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), len(words)*4)
	win, err := mmio.NewWindow(base, mem)
	if err != nil {
		panic(err) // []uint32 is always aligned
	}
	return &Bank{
		win:    win,
		mem:    mem,
		words:  words,
		masked: make(map[uint32]bool),
		reads:  make(map[uint32]int),
	}
}

// Window returns the window the bank is accessed through.
func (b *Bank) Window() *mmio.Window { return b.win }

// Map returns a new window over the bank memory from base to base+length,
// for code that maps and closes windows on its own. Accesses through it
// bypass the hooks, the log and write masking.
func (b *Bank) Map(base uint64, length int) (*mmio.Window, error) {
	start := base - b.win.Base()
	if base < b.win.Base() || length < 0 || start+uint64(length) > uint64(len(b.mem)) {
		return nil, fmt.Errorf("mmiotest: %#x+%#x outside of bank at %#x", base, length, b.win.Base())
	}
	return mmio.NewWindow(base, b.mem[start:start+uint64(length)])
}

// SetMasked marks offsets as self-masked registers.
func (b *Bank) SetMasked(offsets ...uint32) {
	for _, off := range offsets {
		b.masked[off] = true
	}
}

// Peek returns the stored value without recording an access.
func (b *Bank) Peek(offset uint32) uint32 { return b.words[offset/4] }

// Poke stores value without recording an access.
func (b *Bank) Poke(offset, value uint32) { b.words[offset/4] = value }

func (b *Bank) Read32(offset uint32) (uint32, error) {
	v, err := b.win.Read32(offset)
	if err != nil {
		return 0, err
	}
	if b.OnRead != nil {
		v = b.OnRead(offset, b.reads[offset], v)
	}
	b.reads[offset]++
	b.Log = append(b.Log, Access{Offset: offset, Value: v})
	return v, nil
}

func (b *Bank) Write32(offset uint32, value uint32) error {
	stored := value
	if b.masked[offset] {
		old, err := b.win.Read32(offset)
		if err != nil {
			return err
		}
		enable := value >> 16
		stored = old&^enable | value&enable
	}
	if err := b.win.Write32(offset, stored); err != nil {
		return err
	}
	b.Log = append(b.Log, Access{Write: true, Offset: offset, Value: value})
	if b.OnWrite != nil {
		b.OnWrite(offset, stored)
	}
	return nil
}

// Reads returns the number of reads of offset.
func (b *Bank) Reads(offset uint32) int { return b.reads[offset] }

// Writes returns the values written to offset, in order.
func (b *Bank) Writes(offset uint32) (values []uint32) {
	for _, a := range b.Log {
		if a.Write && a.Offset == offset {
			values = append(values, a.Value)
		}
	}
	return
}
