package modbits

import (
	"encoding/binary"
	"fmt"
)

const (
	ErrOutOfRange   Error = "bit address out of range"
	ErrInvalidCount Error = "bit count must be at least 1"
	ErrShortBuffer  Error = "bit buffer shorter than bit count"
	ErrReadOnly     Error = "view is read-only"
)

// CoilView exposes a subset of a register bank as a run of individually
// addressable bits. The table maps coil register index i to a bank address;
// bit b of the view lives in bit b%16 of the register aliased by entry b/16.
// The view never copies register contents into storage of its own - every
// read and write goes through the bank.
type CoilView struct {
	bank     Bank
	table    []uint16
	readOnly bool
}

// NewCoilView builds a view over bank from an ordered list of register
// addresses. The table is fixed for the lifetime of the view; every entry is
// validated against the bank size up front.
func NewCoilView(bank Bank, table []uint16) (*CoilView, error) {
	for i, addr := range table {
		if int(addr) >= bank.Size() {
			return nil, fmt.Errorf("coil table entry %d: register %d outside bank of size %d", i, addr, bank.Size())
		}
	}
	return &CoilView{bank: bank, table: append([]uint16(nil), table...)}, nil
}

// NewDiscreteView is NewCoilView with writes disabled, for registers exposed
// as discrete inputs.
func NewDiscreteView(bank Bank, table []uint16) (*CoilView, error) {
	v, err := NewCoilView(bank, table)
	if err != nil {
		return nil, err
	}
	v.readOnly = true
	return v, nil
}

// Bits returns the number of addressable bits in the view.
func (v *CoilView) Bits() int {
	return 16 * len(v.table)
}

// ReadBits packs the bits [start, start+count) into a buffer of
// ceil(count/8) bytes, bit start at the LSB of the first byte. Only the
// registers containing requested bits are read from the bank.
func (v *CoilView) ReadBits(start, count int) ([]byte, error) {
	if count < 1 {
		return nil, ErrInvalidCount
	}
	if start < 0 || start+count > v.Bits() {
		return nil, ErrOutOfRange
	}

	first := start / 16
	offset := start % 16

	// smallest run of table entries that contains every requested bit
	total := (offset+count-1)/16 + 1

	// materialize the run low byte first, so that bit n of a register is
	// bit n of the buffer
	buf := make([]byte, total*2)
	for i := 0; i < total; i++ {
		val, err := v.bank.Get(v.table[first+i])
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint16(buf[2*i:], val)
	}

	// shift bit start down to bit 0, pulling the high bits of each byte
	// from its successor; a shift of 8 or more is covered by skip alone
	shift := offset % 8
	skip := offset / 8
	for i := skip; i < len(buf); i++ {
		b := buf[i] >> shift
		if i+1 < len(buf) {
			b |= buf[i+1] << (8 - shift)
		}
		buf[i-skip] = b
	}

	n := (count-1)/8 + 1
	if count%8 != 0 {
		// zero the tail bits carried over from the last register
		buf[n-1] &= byte(1<<(count%8) - 1)
	}
	return buf[:n], nil
}

// WriteBits unpacks ceil(count/8) bytes of data into the bits
// [start, start+count). Registers only partially covered by the request keep
// their untouched bits: the affected run is read from the bank, the incoming
// bits are merged in, and the run is written back.
func (v *CoilView) WriteBits(start, count int, data []byte) error {
	if v.readOnly {
		return ErrReadOnly
	}
	if count < 1 {
		return ErrInvalidCount
	}
	if start < 0 || start+count > v.Bits() {
		return ErrOutOfRange
	}
	if len(data) < (count-1)/8+1 {
		return ErrShortBuffer
	}

	first := start / 16
	offset := start % 16
	total := (offset+count-1)/16 + 1

	buf := make([]byte, total*2)
	for i := 0; i < total; i++ {
		val, err := v.bank.Get(v.table[first+i])
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(buf[2*i:], val)
	}

	for i := 0; i < count; i++ {
		p := offset + i
		if data[i/8]&(1<<(i%8)) != 0 {
			buf[p/8] |= 1 << (p % 8)
		} else {
			buf[p/8] &^= 1 << (p % 8)
		}
	}

	for i := 0; i < total; i++ {
		if err := v.bank.Set(v.table[first+i], binary.LittleEndian.Uint16(buf[2*i:])); err != nil {
			return err
		}
	}
	return nil
}
