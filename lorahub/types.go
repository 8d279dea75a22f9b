// Package lorahub is the concentrator HAL: a single-chain LoRa gateway
// facade over the SX126x driver, exposing configuration, start/stop,
// receive, scheduled transmit and status to the packet forwarder.
package lorahub

// Modulation identifies the emission type of a packet or channel.
type Modulation uint8

const (
	ModUndefined Modulation = 0x00
	ModCW        Modulation = 0x08
	ModLoRa      Modulation = 0x10
	ModFSK       Modulation = 0x20
)

// Bandwidth is the channel bandwidth. Values match the chip's LoRa
// bandwidth encoding, so they go on the wire as-is.
type Bandwidth uint8

const (
	BWUndefined Bandwidth = 0x00
	BW125kHz    Bandwidth = 0x04
	BW250kHz    Bandwidth = 0x05
	BW500kHz    Bandwidth = 0x06
)

// Hertz returns the bandwidth in Hz, or 0 when undefined.
func (bw Bandwidth) Hertz() uint32 {
	switch bw {
	case BW125kHz:
		return 125_000
	case BW250kHz:
		return 250_000
	case BW500kHz:
		return 500_000
	}
	return 0
}

// Datarate is the LoRa spreading factor. Values match the chip encoding.
type Datarate uint8

const (
	DRUndefined Datarate = 0
	DRLoraSF5   Datarate = 5
	DRLoraSF6   Datarate = 6
	DRLoraSF7   Datarate = 7
	DRLoraSF8   Datarate = 8
	DRLoraSF9   Datarate = 9
	DRLoraSF10  Datarate = 10
	DRLoraSF11  Datarate = 11
	DRLoraSF12  Datarate = 12
)

// Coderate is the LoRa error-correction rate. Values match the chip
// encoding.
type Coderate uint8

const (
	CRUndefined Coderate = 0x00
	CR4_5       Coderate = 0x01
	CR4_6       Coderate = 0x02
	CR4_7       Coderate = 0x03
	CR4_8       Coderate = 0x04
)

// CRCStatus reports the CRC outcome of a received packet.
type CRCStatus uint8

const (
	StatUndefined CRCStatus = 0x00
	StatNoCRC     CRCStatus = 0x01
	StatCRCBad    CRCStatus = 0x11
	StatCRCOK     CRCStatus = 0x10
)

// TxMode selects when a downlink leaves the antenna.
type TxMode uint8

const (
	TxImmediate TxMode = iota
	TxTimestamped
	TxOnGPS
)

// RxStatus is the receive half of the facade state machine.
type RxStatus uint8

const (
	RxStatusUnknown RxStatus = iota
	RxOff
	RxOn
	RxSuspended
)

// TxStatus is the transmit half of the facade state machine.
type TxStatus uint8

const (
	TxStatusUnknown TxStatus = iota
	TxOff
	TxFree
	TxScheduled
	TxEmitting
)

// StatusSelect picks which half of the state machine Status reports.
type StatusSelect uint8

const (
	SelectTx StatusSelect = 1
	SelectRx StatusSelect = 2
)

const (
	// RFChainCount is the number of radio chains on the board.
	RFChainCount = 1
	// IFChainCount is the number of IF chains per radio chain.
	IFChainCount = 1
	// MultiSFSlots is how many spreading factors one IF chain can be
	// configured with; only the first is demodulated on this chip.
	MultiSFSlots = 2
	// MaxPayload is the largest LoRa payload the chip buffer can hold.
	MaxPayload = 256

	// Preamble lengths in symbols.
	MinLoraPreamble = 6
	StdLoraPreamble = 8
	HdrLoraPreamble = 12

	// LoRa sync words.
	SyncWordPrivate      = 0x12
	SyncWordPublicSubGHz = 0x34
	SyncWordPublic2G4    = 0x21
)

// RxRFConf configures the radio chain: center frequency, RSSI calibration
// offset and whether downlinks are allowed on this chain.
type RxRFConf struct {
	FreqHz     uint32
	RSSIOffset float32
	TxEnable   bool
}

// RxIFConf configures the IF chain feeding the demodulator.
type RxIFConf struct {
	Modulation Modulation
	Bandwidth  Bandwidth
	Datarate   [MultiSFSlots]Datarate
	Coderate   Coderate
}

// PktRx is one uplink as handed to the forwarder.
type PktRx struct {
	FreqHz     uint32
	IFChain    uint8
	RFChain    uint8
	Status     CRCStatus
	CountUs    uint32
	Modulation Modulation
	Bandwidth  Bandwidth
	Datarate   Datarate
	Coderate   Coderate
	RSSI       float32
	SNR        float32
	Size       uint16
	Payload    [MaxPayload]byte
}

// PktTx is one downlink as handed down by the forwarder.
type PktTx struct {
	FreqHz     uint32
	TxMode     TxMode
	CountUs    uint32
	RFChain    uint8
	RFPower    int8
	Modulation Modulation
	Bandwidth  Bandwidth
	Datarate   Datarate
	Coderate   Coderate
	InvertPol  bool
	Preamble   uint16
	NoCRC      bool
	NoHeader   bool
	Size       uint16
	Payload    [MaxPayload]byte
}
