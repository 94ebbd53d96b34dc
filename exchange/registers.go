package exchange

import "strings"

// Status register bits.
const (
	StatusRBF    uint16 = 1 << 0  // receive buffer full
	StatusTBF    uint16 = 1 << 1  // transmit buffer full
	StatusSRXMPT uint16 = 1 << 5  // receive FIFO empty
	StatusSPIROV uint16 = 1 << 6  // receive overflow
	StatusSRMPT  uint16 = 1 << 7  // shift register empty
	StatusSPIEN  uint16 = 1 << 15 // module enabled
)

// Control register 1 bits.
const (
	Con1Mode16 uint16 = 1 << 10
)

// Values written by Configure. Master, 1:1 primary and 2:1 secondary
// prescale, clock idle low, enhanced buffer on, interrupt on receive buffer
// full, module enabled.
const (
	ResetCon1 uint16 = 0x013B
	ResetCon2 uint16 = 0x0001
	ResetStat uint16 = 0x800C
)

// Status is the raw status register word.
type Status uint16

func (s Status) TransmitFull() bool {
	return uint16(s)&StatusTBF != 0
}

func (s Status) ReceiveEmpty() bool {
	return uint16(s)&StatusSRXMPT != 0
}

func (s Status) Overflow() bool {
	return uint16(s)&StatusSPIROV != 0
}

func (s Status) Enabled() bool {
	return uint16(s)&StatusSPIEN != 0
}

func (s Status) String() string {
	var flags []string
	if s.Enabled() {
		flags = append(flags, "SPIEN")
	}
	if s.TransmitFull() {
		flags = append(flags, "SPITBF")
	}
	if uint16(s)&StatusRBF != 0 {
		flags = append(flags, "SPIRBF")
	}
	if s.ReceiveEmpty() {
		flags = append(flags, "SRXMPT")
	}
	if s.Overflow() {
		flags = append(flags, "SPIROV")
	}
	if len(flags) == 0 {
		return "0"
	}
	return strings.Join(flags, "|")
}
