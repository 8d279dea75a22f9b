package lorahub

import (
	"time"

	"lorahub-go/gpio"
	"lorahub-go/radio"
)

// scripted radio

type fakeRadio struct {
	ops []string

	caps radio.Capabilities

	irqQueue []radio.Irq

	rxPayload []byte
	rssiDbm   int8
	snrDb     int8

	failOp   string
	failWith error

	lastFreqHz   uint32
	freqHistory  []uint32
	lastSyncWord byte
	lastSF       uint8
	lastBW       uint8
	lastCR       uint8
	lastLdro     bool
	lastPreamble uint16
	lastImplicit bool
	lastCrcOn    bool
	lastInvertIQ bool
	lastPower    int8
	lastBuffer   []byte
	lastIrqMask  radio.Irq
	lastRxWindow time.Duration
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{
		caps: radio.Capabilities{
			FreqHzMin:   150_000_000,
			FreqHzMax:   960_000_000,
			PowerDbmMin: -9,
			PowerDbmMax: 22,
			DualSF:      false,
			TCXOStartup: 5 * time.Millisecond,
		},
	}
}

func (r *fakeRadio) op(name string) error {
	r.ops = append(r.ops, name)
	if name == r.failOp {
		return r.failWith
	}
	return nil
}

func (r *fakeRadio) count(name string) int {
	n := 0
	for _, op := range r.ops {
		if op == name {
			n++
		}
	}
	return n
}

func (r *fakeRadio) Reset() error             { return r.op("reset") }
func (r *fakeRadio) Init() error              { return r.op("init") }
func (r *fakeRadio) SetStandby() error        { return r.op("standby") }
func (r *fakeRadio) SetPacketTypeLora() error { return r.op("packet_type") }

func (r *fakeRadio) SetRfFrequency(hz uint32) error {
	r.lastFreqHz = hz
	r.freqHistory = append(r.freqHistory, hz)
	return r.op("rf_frequency")
}

func (r *fakeRadio) CalibrateImage(hz uint32) error { return r.op("calibrate_image") }

func (r *fakeRadio) SetModulationParams(sf, bw, cr uint8, ldro bool) error {
	r.lastSF, r.lastBW, r.lastCR, r.lastLdro = sf, bw, cr, ldro
	return r.op("modulation_params")
}

func (r *fakeRadio) SetPacketParams(preambleSymb uint16, implicitHeader bool, payloadLen uint8, crcOn, invertIQ bool) error {
	r.lastPreamble, r.lastImplicit, r.lastCrcOn, r.lastInvertIQ = preambleSymb, implicitHeader, crcOn, invertIQ
	return r.op("packet_params")
}

func (r *fakeRadio) SetLoraSyncWord(sw byte) error {
	r.lastSyncWord = sw
	return r.op("sync_word")
}

func (r *fakeRadio) SetLoraSymbNumTimeout(n uint8) error { return r.op("symb_timeout") }

func (r *fakeRadio) SetDioIrqParams(mask radio.Irq) error {
	r.lastIrqMask = mask
	return r.op("dio_irq_params")
}

func (r *fakeRadio) ClearIrqStatus(mask radio.Irq) error { return r.op("clear_irq") }

func (r *fakeRadio) GetAndClearIrqStatus() (radio.Irq, error) {
	if err := r.op("get_irq"); err != nil {
		return 0, err
	}
	if len(r.irqQueue) == 0 {
		return 0, nil
	}
	irq := r.irqQueue[0]
	r.irqQueue = r.irqQueue[1:]
	return irq, nil
}

func (r *fakeRadio) SetRx(timeout time.Duration) error {
	r.lastRxWindow = timeout
	return r.op("set_rx")
}

func (r *fakeRadio) SetTx() error       { return r.op("set_tx") }
func (r *fakeRadio) SetPaConfig() error { return r.op("pa_config") }

func (r *fakeRadio) SetTxParams(powerDbm int8) error {
	r.lastPower = powerDbm
	return r.op("tx_params")
}

func (r *fakeRadio) WriteBuffer(data []byte) error {
	r.lastBuffer = append([]byte(nil), data...)
	return r.op("write_buffer")
}

func (r *fakeRadio) GetRxBufferStatus() (uint8, uint8, error) {
	if err := r.op("rx_buffer_status"); err != nil {
		return 0, 0, err
	}
	return uint8(len(r.rxPayload)), 0, nil
}

func (r *fakeRadio) ReadBuffer(offset uint8, out []byte) error {
	if err := r.op("read_buffer"); err != nil {
		return err
	}
	copy(out, r.rxPayload[offset:])
	return nil
}

func (r *fakeRadio) GetLoraPktStatus() (int8, int8, error) {
	if err := r.op("pkt_status"); err != nil {
		return 0, 0, err
	}
	return r.rssiDbm, r.snrDb, nil
}

func (r *fakeRadio) Capabilities() radio.Capabilities { return r.caps }

var _ Radio = (*fakeRadio)(nil)

// scripted line controller

type fakeLines struct {
	dirs      map[int]gpio.Direction
	levels    map[int]int
	intrs     map[int]gpio.IntrType
	callbacks map[int]gpio.Callback
}

func newFakeLines() *fakeLines {
	return &fakeLines{
		dirs:      map[int]gpio.Direction{},
		levels:    map[int]int{},
		intrs:     map[int]gpio.IntrType{},
		callbacks: map[int]gpio.Callback{},
	}
}

func (f *fakeLines) SetDirection(line int, dir gpio.Direction) error {
	f.dirs[line] = dir
	return nil
}

func (f *fakeLines) SetLevel(line, level int) error {
	f.levels[line] = level
	return nil
}

func (f *fakeLines) GetLevel(line int) (int, error) { return f.levels[line], nil }

func (f *fakeLines) SetIntrType(line int, intr gpio.IntrType) error {
	f.intrs[line] = intr
	return nil
}

func (f *fakeLines) SetCallback(line int, cb gpio.Callback) error {
	f.callbacks[line] = cb
	return nil
}

// fire simulates a hardware edge on the line.
func (f *fakeLines) fire(line int) {
	if cb := f.callbacks[line]; cb != nil {
		cb(line)
	}
}

var _ LineController = (*fakeLines)(nil)
