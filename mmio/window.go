// Package mmio provides word granular access to memory mapped register
// windows.
//
// Every access is a single 32-bit load or store. Narrower accesses are
// ignored or misinterpreted by most peripheral registers, so the package
// doesn't offer them.
package mmio

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"unsafe"
)

// Registers is implemented by anything that can read and write 32-bit
// registers by offset. Controllers take a Registers instead of a *Window so
// they can be driven by a simulated register bank.
type Registers interface {
	Read32(offset uint32) (uint32, error)
	Write32(offset uint32, value uint32) error
}

var (
	ErrOutOfRange = errors.New("offset out of range")
	ErrUnaligned  = errors.New("offset not word aligned")
	ErrClosed     = errors.New("register window closed")
)

// BoundsError reports an access outside of a window or at an unaligned offset.
// The access is never performed.
type BoundsError struct {
	Base   uint64
	Offset uint32
	Length int
	Err    error
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("mmio: %#x+%#x: %v (window length %#x)", e.Base, e.Offset, e.Err, e.Length)
}

func (e *BoundsError) Unwrap() error { return e.Err }

// Window is a contiguous range of mapped registers starting at physical
// address base. A Window returned by Map owns its mapping, one returned by
// NewWindow borrows the memory from the caller.
//
// Loads and stores are atomic, which keeps the compiler from eliding or
// merging them and keeps them in program order. The mapping itself must be
// device memory, which /dev/mem with O_SYNC guarantees.
//
// Window must not be closed while it's in use.
type Window struct {
	base   uint64
	mem    []byte
	closer io.Closer
}

// NewWindow returns a window over mem, which must be word aligned and a
// multiple of 4 bytes long. The window only borrows mem, it must stay valid
// until the window is closed.
func NewWindow(base uint64, mem []byte) (*Window, error) {
	if len(mem)%4 != 0 || uintptr(unsafe.Pointer(unsafe.SliceData(mem)))%4 != 0 {
		return nil, fmt.Errorf("mmio: window at %#x: %w", base, ErrUnaligned)
	}
	if base%4 != 0 {
		return nil, fmt.Errorf("mmio: window at %#x: %w", base, ErrUnaligned)
	}
	return &Window{base: base, mem: mem}, nil
}

// Base returns the physical address of offset 0.
func (w *Window) Base() uint64 { return w.base }

// Len returns the length of the window in bytes.
func (w *Window) Len() int { return len(w.mem) }

func (w *Window) word(offset uint32) (*uint32, error) {
	if w.mem == nil {
		return nil, ErrClosed
	}
	if offset%4 != 0 {
		return nil, &BoundsError{w.base, offset, len(w.mem), ErrUnaligned}
	}
	if uint64(offset)+4 > uint64(len(w.mem)) {
		return nil, &BoundsError{w.base, offset, len(w.mem), ErrOutOfRange}
	}
	return (*uint32)(unsafe.Pointer(&w.mem[offset])), nil
}

// Read32 loads the register at offset. Reads of some registers have side
// effects, e.g. clearing status bits. That's up to the caller to know.
func (w *Window) Read32(offset uint32) (uint32, error) {
	p, err := w.word(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(p), nil
}

// Write32 stores value to the register at offset with exactly one 32-bit
// store.
func (w *Window) Write32(offset uint32, value uint32) error {
	p, err := w.word(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint32(p, value)
	return nil
}

// Close releases the mapping if the window owns it. Any further access
// returns ErrClosed.
func (w *Window) Close() (err error) {
	if w.closer != nil {
		err = w.closer.Close()
		w.closer = nil
	}
	w.mem = nil
	return
}
