package lorahub

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soypat/lora"

	"lorahub-go/errcode"
	"lorahub-go/gpio"
	"lorahub-go/radio"
)

// Radio is the chip operation set the HAL drives. *radio.SX126x implements
// it; tests substitute a scripted fake.
type Radio interface {
	Reset() error
	Init() error
	SetStandby() error
	SetPacketTypeLora() error
	SetRfFrequency(hz uint32) error
	CalibrateImage(hz uint32) error
	SetModulationParams(sf, bw, cr uint8, ldro bool) error
	SetPacketParams(preambleSymb uint16, implicitHeader bool, payloadLen uint8, crcOn, invertIQ bool) error
	SetLoraSyncWord(sw byte) error
	SetLoraSymbNumTimeout(n uint8) error
	SetDioIrqParams(mask radio.Irq) error
	ClearIrqStatus(mask radio.Irq) error
	GetAndClearIrqStatus() (radio.Irq, error)
	SetRx(timeout time.Duration) error
	SetTx() error
	SetPaConfig() error
	SetTxParams(powerDbm int8) error
	WriteBuffer(data []byte) error
	GetRxBufferStatus() (length, offset uint8, err error)
	ReadBuffer(offset uint8, out []byte) error
	GetLoraPktStatus() (rssiDbm, snrDb int8, err error)
	Capabilities() radio.Capabilities
}

var _ Radio = (*radio.SX126x)(nil)

// LineController is the GPIO surface the HAL drives. *gpio.Controller
// implements it.
type LineController interface {
	SetDirection(line int, dir gpio.Direction) error
	SetLevel(line, level int) error
	GetLevel(line int) (int, error)
	SetIntrType(line int, intr gpio.IntrType) error
	SetCallback(line int, cb gpio.Callback) error
}

var _ LineController = (*gpio.Controller)(nil)

// Config binds the HAL to the physical radio.
type Config struct {
	// Context holds the SPI device node and GPIO line offsets.
	Context radio.Context
	// GPIO is the line controller for the chip's pins.
	GPIO LineController
	// Radio overrides the chip driver; nil selects the SX126x driver built
	// over Context and GPIO.
	Radio Radio
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Hal drives one LoRa radio chain. It is not safe for concurrent use: the
// forwarder calls it from a single thread, matching the chip's
// one-command-at-a-time protocol. Only the IRQ callback runs concurrently
// and touches nothing but the atomic IRQ latch.
type Hal struct {
	log   *slog.Logger
	gpio  LineController
	radio Radio
	ctx   *radio.Context

	rxrf RxRFConf
	rxif RxIFConf

	isStarted bool
	rxStatus  RxStatus
	txStatus  TxStatus

	rx rxState

	epoch time.Time
}

// New assembles a stopped HAL. Configuration and Start come later.
func New(cfg Config) *Hal {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx := cfg.Context
	h := &Hal{
		log:      log,
		gpio:     cfg.GPIO,
		ctx:      &ctx,
		radio:    cfg.Radio,
		rxStatus: RxOff,
		txStatus: TxOff,
		epoch:    time.Now(),
	}
	if h.radio == nil {
		h.radio = radio.NewSX126x(h.ctx, cfg.GPIO, log)
	}
	return h
}

// RxRFSetconf records the radio chain configuration. The HAL must be
// stopped.
func (h *Hal) RxRFSetconf(conf RxRFConf) error {
	if h.isStarted {
		return errcode.Wrap(errcode.Busy, "hal.rxrf_setconf",
			errors.New("concentrator is running, stop it before changing configuration"))
	}
	h.rxrf = conf
	return nil
}

// RxIFSetconf validates and records the IF chain configuration. The HAL
// must be stopped; on a validation error the previous configuration is
// kept.
func (h *Hal) RxIFSetconf(conf RxIFConf) error {
	if h.isStarted {
		return errcode.Wrap(errcode.Busy, "hal.rxif_setconf",
			errors.New("concentrator is running, stop it before changing configuration"))
	}
	if !conf.Bandwidth.valid() {
		return errcode.Wrap(errcode.InvalidArgument, "hal.rxif_setconf",
			fmt.Errorf("bandwidth 0x%02X", uint8(conf.Bandwidth)))
	}
	if !conf.Datarate[0].valid() {
		return errcode.Wrap(errcode.InvalidArgument, "hal.rxif_setconf",
			fmt.Errorf("datarate %d", uint8(conf.Datarate[0])))
	}
	if conf.Datarate[1] != DRUndefined && !conf.Datarate[1].valid() {
		return errcode.Wrap(errcode.InvalidArgument, "hal.rxif_setconf",
			fmt.Errorf("secondary datarate %d", uint8(conf.Datarate[1])))
	}
	if !conf.Coderate.valid() {
		return errcode.Wrap(errcode.InvalidArgument, "hal.rxif_setconf",
			fmt.Errorf("coderate 0x%02X", uint8(conf.Coderate)))
	}
	h.rxif = conf
	return nil
}

// Start checks that a complete configuration was supplied, brings up the
// GPIO wiring and the chip, arms reception and unlocks transmit when the
// chain allows it. Calling Start on a running HAL re-runs the bring-up.
func (h *Hal) Start() error {
	if h.isStarted {
		h.log.Info("concentrator already started, restarting")
	}
	if h.rxrf.FreqHz == 0 {
		return errcode.Wrap(errcode.NotConfigured, "hal.start",
			errors.New("radio frequency not configured"))
	}
	if h.rxif.Modulation == ModUndefined {
		return errcode.Wrap(errcode.NotConfigured, "hal.start",
			errors.New("modulation not configured"))
	}
	if h.rxif.Bandwidth == BWUndefined {
		return errcode.Wrap(errcode.NotConfigured, "hal.start",
			errors.New("bandwidth not configured"))
	}
	if h.rxif.Coderate == CRUndefined {
		return errcode.Wrap(errcode.NotConfigured, "hal.start",
			errors.New("coderate not configured"))
	}
	if h.rxif.Datarate[0] == DRUndefined {
		return errcode.Wrap(errcode.NotConfigured, "hal.start",
			errors.New("datarate not configured"))
	}

	if err := h.connect(); err != nil {
		return err
	}
	if err := h.radio.Reset(); err != nil {
		return err
	}
	if err := h.radio.Init(); err != nil {
		return err
	}
	if err := h.initRx(); err != nil {
		return err
	}

	h.rxStatus = RxOff
	if err := h.configureRx(h.rxrf.FreqHz, h.rxif); err != nil {
		return err
	}
	if err := h.setRx(); err != nil {
		return err
	}
	h.rxStatus = RxOn
	if h.rxrf.TxEnable {
		h.txStatus = TxFree
	} else {
		h.txStatus = TxOff
		h.log.Info("TX disabled on this chain")
	}
	h.isStarted = true
	h.log.Info("concentrator started", "freq_hz", h.rxrf.FreqHz,
		"sf", uint8(h.rxif.Datarate[0]), "bw_hz", h.rxif.Bandwidth.Hertz())
	return nil
}

// connect wires the GPIO lines the way the board expects: busy and IRQ as
// inputs with a rising edge on IRQ, chip select idling high, reset held,
// antenna switch on, LEDs off.
func (h *Hal) connect() error {
	g, ctx := h.gpio, h.ctx
	if err := g.SetDirection(ctx.Busy, gpio.DirInput); err != nil {
		return err
	}
	if err := g.SetDirection(ctx.ChipSelect, gpio.DirOutput); err != nil {
		return err
	}
	if err := g.SetLevel(ctx.ChipSelect, 1); err != nil {
		return err
	}
	if err := g.SetDirection(ctx.Reset, gpio.DirOutput); err != nil {
		return err
	}
	if err := g.SetDirection(ctx.Irq, gpio.DirInput); err != nil {
		return err
	}
	if err := g.SetIntrType(ctx.Irq, gpio.IntrRisingEdge); err != nil {
		return err
	}
	if ctx.AntennaSwitch >= 0 {
		if err := g.SetDirection(ctx.AntennaSwitch, gpio.DirOutput); err != nil {
			return err
		}
		if err := g.SetLevel(ctx.AntennaSwitch, 1); err != nil {
			return err
		}
	}
	for _, led := range []int{ctx.LedRx, ctx.LedTx} {
		if led < 0 {
			continue
		}
		if err := g.SetDirection(led, gpio.DirOutput); err != nil {
			return err
		}
		if err := g.SetLevel(led, 0); err != nil {
			return err
		}
	}
	return nil
}

// Stop marks the HAL stopped. The chip keeps its last state; a later Start
// re-runs the full bring-up.
func (h *Hal) Stop() error {
	if !h.isStarted {
		h.log.Info("concentrator was not started")
		return nil
	}
	h.isStarted = false
	h.rxStatus = RxOff
	h.txStatus = TxOff
	h.log.Info("concentrator stopped")
	return nil
}

// Receive fetches at most one pending uplink into pkts[0] and returns how
// many packets were written. maxPkt above 1 is accepted but this chip never
// holds more than one packet.
func (h *Hal) Receive(maxPkt int, pkts []PktRx) (int, error) {
	if !h.isStarted {
		return 0, errcode.Wrap(errcode.NotStarted, "hal.receive",
			errors.New("concentrator not started"))
	}
	if maxPkt < 1 || len(pkts) < 1 {
		return 0, errcode.Wrap(errcode.InvalidArgument, "hal.receive",
			fmt.Errorf("max_pkt %d with %d slots", maxPkt, len(pkts)))
	}

	p := &pkts[0]
	*p = PktRx{}
	n, irqFired, err := h.getPkt(p)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.FreqHz = h.rxrf.FreqHz
		p.IFChain = 0
		p.RFChain = 0
		p.Modulation = h.rxif.Modulation
		p.Bandwidth = h.rxif.Bandwidth
		p.Coderate = h.rxif.Coderate
		p.RSSI += h.rxrf.RSSIOffset
		// shift the RxDone instant back to the end of the payload
		p.CountUs -= timestampCorrection(p.Datarate, p.Bandwidth)
	}
	if irqFired {
		if err := h.setRx(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Status reports one half of the state machine for the given RF chain.
func (h *Hal) Status(rfChain uint8, sel StatusSelect) (uint8, error) {
	if rfChain >= RFChainCount {
		return 0, errcode.Wrap(errcode.InvalidArgument, "hal.status",
			fmt.Errorf("rf chain %d", rfChain))
	}
	switch sel {
	case SelectTx:
		if !h.isStarted {
			return uint8(TxOff), nil
		}
		return uint8(h.txStatus), nil
	case SelectRx:
		if !h.isStarted {
			return uint8(RxOff), nil
		}
		return uint8(h.rxStatus), nil
	}
	return 0, errcode.Wrap(errcode.InvalidArgument, "hal.status",
		fmt.Errorf("status select %d", sel))
}

// Instcnt returns the HAL's free-running microsecond counter. It wraps
// every ~71 minutes; instants are compared with signed 32-bit deltas.
func (h *Hal) Instcnt() uint32 {
	return uint32(time.Since(h.epoch).Microseconds())
}

// TimeOnAir returns the air time of pkt in milliseconds.
func (h *Hal) TimeOnAir(pkt *PktTx) (uint32, error) {
	if pkt == nil {
		return 0, errcode.Wrap(errcode.InvalidArgument, "hal.time_on_air",
			errors.New("nil packet"))
	}
	if pkt.Modulation != ModLoRa {
		return 0, errcode.Unsupported(fmt.Sprintf("modulation 0x%02X", uint8(pkt.Modulation)))
	}
	if !pkt.Datarate.valid() {
		return 0, errcode.Wrap(errcode.InvalidArgument, "hal.time_on_air",
			fmt.Errorf("datarate %d", uint8(pkt.Datarate)))
	}
	if !pkt.Bandwidth.valid() || !pkt.Coderate.valid() {
		return 0, errcode.Wrap(errcode.InvalidArgument, "hal.time_on_air",
			errors.New("bandwidth or coderate undefined"))
	}
	cfg := loraConfig(pkt)
	return uint32(cfg.TimeOnAir(int(pkt.Size)).Milliseconds()), nil
}

// loraConfig maps a downlink onto the modem parameter set used for air-time
// arithmetic.
func loraConfig(pkt *PktTx) lora.Config {
	hdr := lora.HeaderExplicit
	if pkt.NoHeader {
		hdr = lora.HeaderImplicit
	}
	return lora.Config{
		Bandwidth:       lora.Frequency(int64(pkt.Bandwidth.Hertz())),
		Frequency:       lora.Frequency(int64(pkt.FreqHz)),
		PreambleLength:  txPreamble(pkt.Preamble),
		HeaderType:      hdr,
		CodingRate:      lora.CodingRate(pkt.Coderate),
		SpreadingFactor: lora.SpreadingFactor(pkt.Datarate),
		CRC:             !pkt.NoCRC,
		LDRO:            computeLdro(pkt.Datarate, pkt.Bandwidth),
		IQInversion:     pkt.InvertPol,
	}
}

// MinMaxFreqHz reports the frequency limits of the attached chip. The HAL
// must be configured so the chain is known.
func (h *Hal) MinMaxFreqHz() (uint32, uint32, error) {
	if h.rxrf.FreqHz == 0 {
		return 0, 0, errcode.Wrap(errcode.NotConfigured, "hal.min_max_freq",
			errors.New("radio not configured"))
	}
	caps := h.radio.Capabilities()
	return caps.FreqHzMin, caps.FreqHzMax, nil
}

// MinMaxPowerDbm reports the TX power limits of the attached chip.
func (h *Hal) MinMaxPowerDbm() (int8, int8, error) {
	if h.rxrf.FreqHz == 0 {
		return 0, 0, errcode.Wrap(errcode.NotConfigured, "hal.min_max_power",
			errors.New("radio not configured"))
	}
	caps := h.radio.Capabilities()
	return caps.PowerDbmMin, caps.PowerDbmMax, nil
}

func (h *Hal) setLedRx(on bool) {
	if h.ctx.LedRx < 0 {
		return
	}
	if err := h.gpio.SetLevel(h.ctx.LedRx, boolToInt(on)); err != nil {
		h.log.Warn("rx led", "err", err)
	}
}

func (h *Hal) setLedTx(on bool) {
	if h.ctx.LedTx < 0 {
		return
	}
	if err := h.gpio.SetLevel(h.ctx.LedTx, boolToInt(on)); err != nil {
		h.log.Warn("tx led", "err", err)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
