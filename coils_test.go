package modbits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBank(t *testing.T, values ...uint16) *RegisterBank {
	t.Helper()
	bank := NewRegisterBank(len(values))
	for i, v := range values {
		require.NoError(t, bank.Set(uint16(i), v))
	}
	return bank
}

func TestReadBits(t *testing.T) {
	test := []struct {
		name  string
		regs  []uint16
		table []uint16
		start int
		count int
		want  []byte
	}{
		{"single full register", []uint16{0xABCD}, []uint16{0}, 0, 16, []byte{0xCD, 0xAB}},
		{"masking of the final byte", []uint16{0xFFFF}, []uint16{0}, 0, 5, []byte{0x1F}},
		{"byte aligned start", []uint16{0xABCD}, []uint16{0}, 8, 8, []byte{0xAB}},
		{"register boundary spanning", []uint16{0xF000, 0x0003}, []uint16{0, 1}, 12, 8, []byte{0x3F}},
		{"single bit", []uint16{0x0200}, []uint16{0}, 9, 1, []byte{0x01}},
		{"unaligned run over three registers", []uint16{0xFFFF, 0x0000, 0xFFFF}, []uint16{0, 1, 2}, 12, 24, []byte{0x0F, 0x00, 0xF0}},
		{"scattered aliases", []uint16{0x0000, 0x0001, 0x0000, 0x8000}, []uint16{3, 1}, 15, 2, []byte{0x03}},
	}
	for _, tc := range test {
		t.Run(tc.name, func(t *testing.T) {
			view, err := NewCoilView(newBank(t, tc.regs...), tc.table)
			require.NoError(t, err)

			got, err := view.ReadBits(tc.start, tc.count)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestReadBitsBufferLength(t *testing.T) {
	view, err := NewCoilView(NewRegisterBank(4), []uint16{0, 1, 2, 3})
	require.NoError(t, err)

	for count := 1; count <= view.Bits(); count++ {
		got, err := view.ReadBits(0, count)
		require.NoError(t, err)
		assert.Equal(t, (count-1)/8+1, len(got), "count %d", count)
	}
}

func TestReadBitsErrors(t *testing.T) {
	view, err := NewCoilView(NewRegisterBank(2), []uint16{0, 1})
	require.NoError(t, err)

	test := []struct {
		name  string
		start int
		count int
		want  error
	}{
		{"zero count", 0, 0, ErrInvalidCount},
		{"negative count", 4, -1, ErrInvalidCount},
		{"negative start", -1, 4, ErrOutOfRange},
		{"count exceeds table", 0, 33, ErrOutOfRange},
		{"start plus count exceeds table", 30, 3, ErrOutOfRange},
	}
	for _, tc := range test {
		t.Run(tc.name, func(t *testing.T) {
			_, err := view.ReadBits(tc.start, tc.count)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestWriteBitsReadBitsRoundTrip(t *testing.T) {
	test := []struct {
		name  string
		start int
		count int
		data  []byte
	}{
		{"aligned byte", 0, 8, []byte{0xA5}},
		{"boundary spanning byte", 12, 8, []byte{0xA5}},
		{"partial final byte", 5, 11, []byte{0xCA, 0x05}},
		{"three registers", 7, 34, []byte{0x12, 0x34, 0x56, 0x78, 0x03}},
	}
	for _, tc := range test {
		t.Run(tc.name, func(t *testing.T) {
			view, err := NewCoilView(NewRegisterBank(4), []uint16{0, 1, 2, 3})
			require.NoError(t, err)

			require.NoError(t, view.WriteBits(tc.start, tc.count, tc.data))
			got, err := view.ReadBits(tc.start, tc.count)
			require.NoError(t, err)

			want := make([]byte, (tc.count-1)/8+1)
			copy(want, tc.data)
			if tc.count%8 != 0 {
				want[len(want)-1] &= byte(1<<(tc.count%8) - 1)
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestWriteBitsPreservesUntouchedBits(t *testing.T) {
	bank := newBank(t, 0xFFFF, 0xFFFF, 0xFFFF)
	view, err := NewCoilView(bank, []uint16{0, 1, 2})
	require.NoError(t, err)

	// clear bits 4..11 of register 0 only
	require.NoError(t, view.WriteBits(4, 8, []byte{0x00}))

	v, err := bank.Get(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xF00F), v)
	v, err = bank.Get(1)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFFFF), v)
	v, err = bank.Get(2)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFFFF), v)
}

func TestWriteBitsByteAlignedPreservesNeighbours(t *testing.T) {
	bank := newBank(t, 0xFFFF)
	view, err := NewCoilView(bank, []uint16{0})
	require.NoError(t, err)

	// start on a byte boundary inside the register
	require.NoError(t, view.WriteBits(8, 4, []byte{0x00}))

	v, err := bank.Get(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xF0FF), v)
}

func TestWriteBitsErrors(t *testing.T) {
	view, err := NewCoilView(NewRegisterBank(2), []uint16{0, 1})
	require.NoError(t, err)

	test := []struct {
		name  string
		start int
		count int
		data  []byte
		want  error
	}{
		{"zero count", 0, 0, []byte{0x01}, ErrInvalidCount},
		{"out of range", 20, 16, []byte{0xFF, 0xFF}, ErrOutOfRange},
		{"short buffer", 0, 9, []byte{0xFF}, ErrShortBuffer},
	}
	for _, tc := range test {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, view.WriteBits(tc.start, tc.count, tc.data), tc.want)
		})
	}
}

func TestDiscreteViewRejectsWrites(t *testing.T) {
	view, err := NewDiscreteView(newBank(t, 0x00FF), []uint16{0})
	require.NoError(t, err)

	assert.ErrorIs(t, view.WriteBits(0, 1, []byte{0x01}), ErrReadOnly)

	got, err := view.ReadBits(0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF}, got)
}

func TestNewCoilViewValidatesTable(t *testing.T) {
	_, err := NewCoilView(NewRegisterBank(4), []uint16{0, 4})
	assert.Error(t, err)
}

// recordingBank wraps a RegisterBank and records every accessed address.
type recordingBank struct {
	*RegisterBank
	reads  []uint16
	writes []uint16
}

func (b *recordingBank) Get(addr uint16) (uint16, error) {
	b.reads = append(b.reads, addr)
	return b.RegisterBank.Get(addr)
}

func (b *recordingBank) Set(addr uint16, value uint16) error {
	b.writes = append(b.writes, addr)
	return b.RegisterBank.Set(addr, value)
}

func TestReadBitsTouchesMinimalRegisterSpan(t *testing.T) {
	bank := &recordingBank{RegisterBank: NewRegisterBank(4)}
	view, err := NewCoilView(bank, []uint16{0, 1, 2, 3})
	require.NoError(t, err)

	// bits 17..26 live entirely in register 1
	_, err = view.ReadBits(17, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1}, bank.reads)
	assert.Empty(t, bank.writes)
}

func TestWriteBitsTouchesMinimalRegisterSpan(t *testing.T) {
	bank := &recordingBank{RegisterBank: NewRegisterBank(4)}
	view, err := NewCoilView(bank, []uint16{0, 1, 2, 3})
	require.NoError(t, err)

	// bits 12..19 span registers 0 and 1 only
	require.NoError(t, view.WriteBits(12, 8, []byte{0xFF}))
	assert.Equal(t, []uint16{0, 1}, bank.reads)
	assert.Equal(t, []uint16{0, 1}, bank.writes)
}
