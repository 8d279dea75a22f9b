package radio

import (
	"encoding/binary"
	"time"
)

// SX126x opcodes.
const (
	opGetStatus           = 0xC0
	opWriteRegister       = 0x0D
	opReadRegister        = 0x1D
	opWriteBuffer         = 0x0E
	opReadBuffer          = 0x1E
	opSetSleep            = 0x84
	opSetStandby          = 0x80
	opSetTx               = 0x83
	opSetRx               = 0x82
	opSetRegulatorMode    = 0x96
	opCalibrate           = 0x89
	opCalibrateImage      = 0x98
	opSetPaConfig         = 0x95
	opSetRxTxFallback     = 0x93
	opSetDioIrqParams     = 0x08
	opGetIrqStatus        = 0x12
	opClearIrqStatus      = 0x02
	opSetRfFrequency      = 0x86
	opSetPacketType       = 0x8A
	opSetTxParams         = 0x8E
	opSetModulationParams = 0x8B
	opSetPacketParams     = 0x8C
	opSetBufferBase       = 0x8F
	opSetLoraSymbTimeout  = 0xA0
	opGetRxBufferStatus   = 0x13
	opGetPacketStatus     = 0x14
	opGetDeviceErrors     = 0x17
	opClearDeviceErrors   = 0x07
)

const (
	regLoraSyncWordMSB = 0x0740

	standbyRC         = 0x00
	packetTypeLora    = 0x01
	regulatorDCDC     = 0x01
	fallbackStandbyRC = 0x20
	rampTime200us     = 0x04

	xtalFreqHz = 32_000_000
	rtcFreqHz  = 64_000 // 15.625us per tick
)

// Irq is the chip's 10-bit interrupt status mask.
type Irq uint16

const (
	IrqTxDone           Irq = 1 << 0
	IrqRxDone           Irq = 1 << 1
	IrqPreambleDetected Irq = 1 << 2
	IrqSyncWordValid    Irq = 1 << 3
	IrqHeaderValid      Irq = 1 << 4
	IrqHeaderErr        Irq = 1 << 5
	IrqCrcErr           Irq = 1 << 6
	IrqCadDone          Irq = 1 << 7
	IrqCadDetected      Irq = 1 << 8
	IrqTimeout          Irq = 1 << 9
	IrqAll              Irq = 0x03FF
)

// Capabilities reports the fixed limits of the attached chip.
type Capabilities struct {
	FreqHzMin   uint32
	FreqHzMax   uint32
	PowerDbmMin int8
	PowerDbmMax int8
	DualSF      bool
	TCXOStartup time.Duration
}

// Capabilities of the sub-GHz SX126x as assembled on the reference board:
// single demodulation path, 5ms TCXO startup.
func (d *SX126x) Capabilities() Capabilities {
	return Capabilities{
		FreqHzMin:   150_000_000,
		FreqHzMax:   960_000_000,
		PowerDbmMin: -9,
		PowerDbmMax: 22,
		DualSF:      false,
		TCXOStartup: 5 * time.Millisecond,
	}
}

// Init brings a freshly reset chip into its working baseline: RC standby,
// DC-DC regulator, buffer bases at zero, standby fallback after RX/TX, and
// a clean device error register.
func (d *SX126x) Init() error {
	if err := d.SetStandby(); err != nil {
		return err
	}
	if err := d.WriteCommand([]byte{opSetRegulatorMode}, []byte{regulatorDCDC}); err != nil {
		return err
	}
	if err := d.SetBufferBaseAddress(0, 0); err != nil {
		return err
	}
	if err := d.WriteCommand([]byte{opSetRxTxFallback}, []byte{fallbackStandbyRC}); err != nil {
		return err
	}
	return d.ClearDeviceErrors()
}

func (d *SX126x) SetStandby() error {
	return d.WriteCommand([]byte{opSetStandby}, []byte{standbyRC})
}

func (d *SX126x) SetSleep() error {
	// warm start, RC64k retained
	return d.WriteCommand([]byte{opSetSleep}, []byte{0x04})
}

func (d *SX126x) SetPacketTypeLora() error {
	return d.WriteCommand([]byte{opSetPacketType}, []byte{packetTypeLora})
}

// SetRfFrequency programs the PLL. The chip counts in steps of
// xtal/2^25 Hz.
func (d *SX126x) SetRfFrequency(hz uint32) error {
	steps := uint32((uint64(hz) << 25) / xtalFreqHz)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], steps)
	return d.WriteCommand([]byte{opSetRfFrequency}, buf[:])
}

// CalibrateImage runs image rejection calibration for the band containing
// hz, using the band edges from the datasheet.
func (d *SX126x) CalibrateImage(hz uint32) error {
	var lo, hi byte
	switch {
	case hz > 900_000_000:
		lo, hi = 0xE1, 0xE9
	case hz > 850_000_000:
		lo, hi = 0xD7, 0xDB
	case hz > 770_000_000:
		lo, hi = 0xC1, 0xC5
	case hz > 460_000_000:
		lo, hi = 0x75, 0x81
	default:
		lo, hi = 0x6B, 0x6F
	}
	return d.WriteCommand([]byte{opCalibrateImage}, []byte{lo, hi})
}

// SetModulationParams programs SF, bandwidth and coding rate along with the
// low data rate optimisation flag.
func (d *SX126x) SetModulationParams(sf, bw, cr uint8, ldro bool) error {
	l := byte(0)
	if ldro {
		l = 1
	}
	return d.WriteCommand([]byte{opSetModulationParams}, []byte{sf, bw, cr, l})
}

// SetPacketParams programs the LoRa packet shape.
func (d *SX126x) SetPacketParams(preambleSymb uint16, implicitHeader bool, payloadLen uint8, crcOn, invertIQ bool) error {
	hdr := byte(0)
	if implicitHeader {
		hdr = 1
	}
	crc := byte(0)
	if crcOn {
		crc = 1
	}
	iq := byte(0)
	if invertIQ {
		iq = 1
	}
	return d.WriteCommand([]byte{opSetPacketParams}, []byte{
		byte(preambleSymb >> 8), byte(preambleSymb), hdr, payloadLen, crc, iq,
	})
}

// SetLoraSyncWord spreads the one-byte sync word across the two sync word
// registers the way the chip expects.
func (d *SX126x) SetLoraSyncWord(sw byte) error {
	msb := (sw & 0xF0) | 0x04
	lsb := ((sw & 0x0F) << 4) | 0x04
	return d.WriteRegister(regLoraSyncWordMSB, []byte{msb, lsb})
}

func (d *SX126x) SetLoraSymbNumTimeout(n uint8) error {
	return d.WriteCommand([]byte{opSetLoraSymbTimeout}, []byte{n})
}

// SetDioIrqParams enables mask at the system level and routes it to DIO1.
// DIO2 and DIO3 stay unrouted.
func (d *SX126x) SetDioIrqParams(mask Irq) error {
	var buf [8]byte
	binary.BigEndian.PutUint16(buf[0:2], uint16(mask))
	binary.BigEndian.PutUint16(buf[2:4], uint16(mask))
	return d.WriteCommand([]byte{opSetDioIrqParams}, buf[:])
}

func (d *SX126x) ClearIrqStatus(mask Irq) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(mask))
	return d.WriteCommand([]byte{opClearIrqStatus}, buf[:])
}

func (d *SX126x) GetIrqStatus() (Irq, error) {
	var buf [2]byte
	if err := d.ReadCommand([]byte{opGetIrqStatus, 0x00}, buf[:]); err != nil {
		return 0, err
	}
	return Irq(binary.BigEndian.Uint16(buf[:])), nil
}

// GetAndClearIrqStatus reads the pending interrupt mask and acknowledges
// exactly the bits that were read, so an edge arriving between the two
// commands is not lost.
func (d *SX126x) GetAndClearIrqStatus() (Irq, error) {
	irq, err := d.GetIrqStatus()
	if err != nil {
		return 0, err
	}
	if irq != 0 {
		if err := d.ClearIrqStatus(irq); err != nil {
			return irq, err
		}
	}
	return irq, nil
}

// timeoutTicks converts a duration to the chip's 15.625us RTC ticks,
// saturating at the 23-bit maximum. Zero means no timeout.
func timeoutTicks(d time.Duration) uint32 {
	ticks := uint64(d.Microseconds()) * rtcFreqHz / 1_000_000
	if ticks > 0xFFFFFE {
		ticks = 0xFFFFFE
	}
	return uint32(ticks)
}

// SetRx arms the receiver. A zero timeout keeps the chip in RX until a
// packet arrives; a non-zero timeout raises IRQ_TIMEOUT when nothing does.
func (d *SX126x) SetRx(timeout time.Duration) error {
	t := timeoutTicks(timeout)
	return d.WriteCommand([]byte{opSetRx}, []byte{byte(t >> 16), byte(t >> 8), byte(t)})
}

// SetTx starts transmission of the staged buffer. The host bounds the wait
// for completion, so no chip-side timeout is set.
func (d *SX126x) SetTx() error {
	return d.WriteCommand([]byte{opSetTx}, []byte{0x00, 0x00, 0x00})
}

// SetPaConfig programs the power amplifier for the SX1262 high-power path.
func (d *SX126x) SetPaConfig() error {
	return d.WriteCommand([]byte{opSetPaConfig}, []byte{0x04, 0x07, 0x00, 0x01})
}

func (d *SX126x) SetTxParams(powerDbm int8) error {
	return d.WriteCommand([]byte{opSetTxParams}, []byte{byte(powerDbm), rampTime200us})
}

func (d *SX126x) SetBufferBaseAddress(txBase, rxBase uint8) error {
	return d.WriteCommand([]byte{opSetBufferBase}, []byte{txBase, rxBase})
}

// WriteBuffer stages a payload at offset zero of the chip's data buffer.
func (d *SX126x) WriteBuffer(data []byte) error {
	return d.WriteCommand([]byte{opWriteBuffer, 0x00}, data)
}

// GetRxBufferStatus reports the length and start offset of the last
// received payload.
func (d *SX126x) GetRxBufferStatus() (length, offset uint8, err error) {
	var buf [2]byte
	if err := d.ReadCommand([]byte{opGetRxBufferStatus, 0x00}, buf[:]); err != nil {
		return 0, 0, err
	}
	return buf[0], buf[1], nil
}

// ReadBuffer copies len(out) bytes of received payload starting at offset.
func (d *SX126x) ReadBuffer(offset uint8, out []byte) error {
	return d.ReadCommand([]byte{opReadBuffer, offset, 0x00}, out)
}

// GetLoraPktStatus reports RSSI and SNR of the last received packet in dBm
// and dB.
func (d *SX126x) GetLoraPktStatus() (rssiDbm, snrDb int8, err error) {
	var buf [3]byte
	if err := d.ReadCommand([]byte{opGetPacketStatus, 0x00}, buf[:]); err != nil {
		return 0, 0, err
	}
	rssiDbm = int8(-(int16(buf[0]) / 2))
	snrDb = int8(buf[1]) / 4
	return rssiDbm, snrDb, nil
}

func (d *SX126x) WriteRegister(addr uint16, data []byte) error {
	return d.WriteCommand([]byte{opWriteRegister, byte(addr >> 8), byte(addr)}, data)
}

func (d *SX126x) ReadRegister(addr uint16, out []byte) error {
	return d.ReadCommand([]byte{opReadRegister, byte(addr >> 8), byte(addr), 0x00}, out)
}

func (d *SX126x) GetDeviceErrors() (uint16, error) {
	var buf [2]byte
	if err := d.ReadCommand([]byte{opGetDeviceErrors, 0x00}, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func (d *SX126x) ClearDeviceErrors() error {
	return d.WriteCommand([]byte{opClearDeviceErrors}, []byte{0x00, 0x00})
}
