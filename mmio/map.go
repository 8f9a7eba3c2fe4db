package mmio

import (
	"fmt"

	"periph.io/x/host/v3/pmem"
)

// Map maps length bytes of physical memory at base through /dev/mem. The
// returned window owns the mapping and unmaps it on Close.
//
// Requires root, and a kernel that doesn't restrict /dev/mem to RAM
// (CONFIG_STRICT_DEVMEM is fine for MMIO ranges).
func Map(base uint64, length int) (*Window, error) {
	if base%4 != 0 || length <= 0 || length%4 != 0 {
		return nil, fmt.Errorf("mmio: map %#x+%#x: %w", base, length, ErrUnaligned)
	}
	view, err := pmem.Map(base, length)
	if err != nil {
		return nil, fmt.Errorf("mmio: map %#x+%#x: %w", base, length, err)
	}
	return &Window{base: base, mem: view.Bytes(), closer: view}, nil
}
