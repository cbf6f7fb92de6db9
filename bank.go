package modbits

// Bank is the register storage the coil codec reads from and writes to. It
// exposes indexed access to 16-bit values and nothing about how the values
// are populated or served.
type Bank interface {
	Get(addr uint16) (uint16, error)
	Set(addr uint16, value uint16) error
	Size() int
}

// RegisterBank holds the authoritative register contents of one server. It
// is sized once at construction and never grows.
type RegisterBank struct {
	regs []uint16
}

func NewRegisterBank(size int) *RegisterBank {
	return &RegisterBank{regs: make([]uint16, size)}
}

func (b *RegisterBank) Get(addr uint16) (uint16, error) {
	if int(addr) >= len(b.regs) {
		return 0, ErrOutOfRange
	}
	return b.regs[addr], nil
}

func (b *RegisterBank) Set(addr uint16, value uint16) error {
	if int(addr) >= len(b.regs) {
		return ErrOutOfRange
	}
	b.regs[addr] = value
	return nil
}

func (b *RegisterBank) Size() int {
	return len(b.regs)
}
