// Package snapshot saves and restores register contents, so experiments on a
// register window can be undone.
//
// The file format is little endian:
//
//	magic   [4]byte "RKRS"
//	version uint8   1
//	base    uint64  physical address of offset 0
//	count   uint32
//	words   [count]struct{ offset, value uint32 }
//	crc     uint8   CRC-8 of everything before
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/sigurn/crc8"

	"github.com/rkdiag/rkregs/mmio"
)

const version = 1

var magic = [4]byte{'R', 'K', 'R', 'S'}

var table = crc8.MakeTable(crc8.CRC8)

var (
	ErrFormat   = errors.New("snapshot: not a register snapshot")
	ErrVersion  = errors.New("snapshot: unsupported version")
	ErrChecksum = errors.New("snapshot: checksum mismatch")
)

// Word is the value of one register.
type Word struct {
	Offset uint32
	Value  uint32
}

// Snapshot is a set of register values of one window.
type Snapshot struct {
	Base  uint64
	Words []Word
}

// Range returns the word offsets from start up to but excluding end.
func Range(start, end uint32) (offsets []uint32) {
	for off := start &^ 3; off < end; off += 4 {
		offsets = append(offsets, off)
	}
	return
}

// Take reads the registers at offsets. Registers with read side effects must
// not be included.
func Take(regs mmio.Registers, base uint64, offsets []uint32) (*Snapshot, error) {
	s := &Snapshot{Base: base, Words: make([]Word, 0, len(offsets))}
	for _, off := range offsets {
		v, err := regs.Read32(off)
		if err != nil {
			return nil, err
		}
		s.Words = append(s.Words, Word{off, v})
	}
	return s, nil
}

// Restore writes all words back in order with plain stores. Self-masked
// registers only get their lower half restored, since the upper half of a
// snapshot holds status bits, not write enables.
func (s *Snapshot) Restore(regs mmio.Registers, selfMasked func(offset uint32) bool) error {
	for _, w := range s.Words {
		v := w.Value
		if selfMasked != nil && selfMasked(w.Offset) {
			v = 0xffff_0000 | v&0xffff
		}
		if err := regs.Write32(w.Offset, v); err != nil {
			return fmt.Errorf("snapshot: restore %#x: %w", w.Offset, err)
		}
	}
	return nil
}

// Change is a register that differs between two snapshots.
type Change struct {
	Offset   uint32
	Old, New uint32
}

// Diff returns the registers whose value in t differs from s. Registers only
// present in one snapshot are ignored.
func (s *Snapshot) Diff(t *Snapshot) (changes []Change) {
	old := make(map[uint32]uint32, len(s.Words))
	for _, w := range s.Words {
		old[w.Offset] = w.Value
	}
	for _, w := range t.Words {
		if v, ok := old[w.Offset]; ok && v != w.Value {
			changes = append(changes, Change{w.Offset, v, w.Value})
		}
	}
	return
}

// WriteTo implements io.WriterTo.
func (s *Snapshot) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(version)
	binary.Write(&buf, binary.LittleEndian, s.Base)
	binary.Write(&buf, binary.LittleEndian, uint32(len(s.Words)))
	binary.Write(&buf, binary.LittleEndian, s.Words)

	csum := crc8.Init(table)
	csum = crc8.Update(csum, buf.Bytes(), table)
	csum = crc8.Complete(csum, table)
	buf.WriteByte(csum)

	return buf.WriteTo(w)
}

const headerLen = len(magic) + 1 + 8 + 4

// ReadFrom implements io.ReaderFrom. It replaces the contents of s.
func (s *Snapshot) ReadFrom(r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	n := int64(len(data))
	if err != nil {
		return n, err
	}
	if len(data) < headerLen+1 || !bytes.Equal(data[:len(magic)], magic[:]) {
		return n, ErrFormat
	}
	if data[len(magic)] != version {
		return n, fmt.Errorf("%w %d", ErrVersion, data[len(magic)])
	}
	body, trailer := data[:len(data)-1], data[len(data)-1]
	if crc8.Checksum(body, table) != trailer {
		return n, ErrChecksum
	}

	rd := bytes.NewReader(body[len(magic)+1:])
	var count uint32
	binary.Read(rd, binary.LittleEndian, &s.Base)
	binary.Read(rd, binary.LittleEndian, &count)
	if uint64(rd.Len()) != uint64(count)*8 {
		return n, ErrFormat
	}
	s.Words = make([]Word, count)
	if err := binary.Read(rd, binary.LittleEndian, s.Words); err != nil {
		return n, err
	}
	return n, nil
}
