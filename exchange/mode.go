package exchange

// TransferMode is the width of one unit moved per FIFO slot.
type TransferMode uint8

const (
	Width8 TransferMode = iota
	Width16
)

// ModeOf returns the transfer mode selected by the MODE16 bit of control
// register 1.
func ModeOf(con1 uint16) TransferMode {
	if con1&Con1Mode16 == 0 {
		return Width8
	}
	return Width16
}

// UnitSize returns the number of bytes one unit occupies in a caller buffer.
func (m TransferMode) UnitSize() int {
	if m == Width16 {
		return 2
	}
	return 1
}

// Units converts a byte count into a unit count. In Width16 an odd trailing
// byte is dropped.
func (m TransferMode) Units(byteCount int) int {
	if m == Width16 {
		return byteCount >> 1
	}
	return byteCount
}

// Bits returns the word size on the wire.
func (m TransferMode) Bits() int {
	return 8 * m.UnitSize()
}

func (m TransferMode) mask() uint16 {
	if m == Width16 {
		return 0xFFFF
	}
	return 0x00FF
}

func (m TransferMode) String() string {
	switch m {
	case Width8:
		return "8bit"
	case Width16:
		return "16bit"
	default:
		return "unknown"
	}
}
