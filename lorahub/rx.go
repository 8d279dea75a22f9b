package lorahub

import (
	"sync/atomic"
	"time"

	"lorahub-go/radio"
)

// rxWindowTimeout is how long the chip stays armed before raising a timeout
// IRQ; Receive re-arms it, so in steady state the receiver never sleeps.
const rxWindowTimeout = 120 * time.Second

// rxState is the bookkeeping between the IRQ callback and the poll path.
// The callback only touches the two atomics; everything else belongs to the
// caller's thread.
type rxState struct {
	irqFired   atomic.Bool
	irqCountUs atomic.Uint32

	flagRxDone    bool
	flagCrcErr    bool
	flagRxTimeout bool

	mainSF Datarate
	sideSF Datarate
}

// initRx installs the IRQ callback. The callback records the arrival
// instant and sets the latch; decoding happens later on the caller's
// thread.
func (h *Hal) initRx() error {
	return h.gpio.SetCallback(h.ctx.Irq, func(line int) {
		h.rx.irqCountUs.Store(h.Instcnt())
		h.rx.irqFired.Store(true)
	})
}

// processRadioIrq folds the chip's pending interrupt bits into the RX
// flags. It is a no-op while the latch is clear, so the poll path costs no
// SPI traffic between packets.
func (h *Hal) processRadioIrq() error {
	if !h.rx.irqFired.Swap(false) {
		return nil
	}
	irq, err := h.radio.GetAndClearIrqStatus()
	if err != nil {
		return err
	}
	if irq&radio.IrqRxDone != 0 {
		h.rx.flagRxDone = true
	}
	if irq&radio.IrqCrcErr != 0 {
		h.rx.flagCrcErr = true
	}
	if irq&radio.IrqTimeout != 0 {
		h.log.Debug("rx window timed out", "count_us", h.rx.irqCountUs.Load())
		h.rx.flagRxTimeout = true
	}
	return nil
}

// configureRx programs the chip for reception on the given channel. The
// secondary spreading factor is dropped with a warning when the chip cannot
// demodulate two at once.
func (h *Hal) configureRx(freqHz uint32, conf RxIFConf) error {
	h.setLedRx(false)
	h.setLedTx(false)

	if err := checkLoraModParams(freqHz, conf.Bandwidth, conf.Coderate); err != nil {
		return err
	}

	h.rx.mainSF = conf.Datarate[0]
	h.rx.sideSF = conf.Datarate[1]
	if h.rx.sideSF != DRUndefined && !h.radio.Capabilities().DualSF {
		h.log.Warn("dual-SF not supported by this chip, keeping primary only",
			"sf", uint8(h.rx.mainSF), "dropped_sf", uint8(h.rx.sideSF))
		h.rx.sideSF = DRUndefined
	}

	if err := h.radio.SetStandby(); err != nil {
		return err
	}
	if err := h.radio.SetPacketTypeLora(); err != nil {
		return err
	}
	sf := h.rx.mainSF
	if err := h.radio.SetModulationParams(uint8(sf), uint8(conf.Bandwidth),
		uint8(conf.Coderate), computeLdro(sf, conf.Bandwidth)); err != nil {
		return err
	}
	// longer preamble below SF7 so the demodulator has time to lock
	preamble := uint16(StdLoraPreamble)
	if sf < DRLoraSF7 {
		preamble = HdrLoraPreamble
	}
	if err := h.radio.SetPacketParams(preamble, false, 0, true, false); err != nil {
		return err
	}
	if err := h.radio.SetLoraSyncWord(loraSyncWord(freqHz, sf)); err != nil {
		return err
	}
	if err := h.radio.SetRfFrequency(freqHz); err != nil {
		return err
	}
	if err := h.radio.CalibrateImage(freqHz); err != nil {
		return err
	}
	// 0 keeps the demodulator locked until a full packet lands
	return h.radio.SetLoraSymbNumTimeout(0)
}

// setRx arms the receiver: RX-done, CRC-error and timeout routed to the IRQ
// line, stale bits cleared, one rx window opened.
func (h *Hal) setRx() error {
	mask := radio.IrqRxDone | radio.IrqCrcErr | radio.IrqTimeout
	if err := h.radio.SetDioIrqParams(mask); err != nil {
		return err
	}
	if err := h.radio.ClearIrqStatus(radio.IrqAll); err != nil {
		return err
	}
	return h.radio.SetRx(rxWindowTimeout)
}

// getPkt consumes one pending packet if the IRQ callback latched activity.
// Good and bad CRC both count as one packet; the payload is only fetched
// when the CRC passed. irqFired tells the caller to re-arm the window.
func (h *Hal) getPkt(p *PktRx) (n int, irqFired bool, err error) {
	if err := h.processRadioIrq(); err != nil {
		return 0, false, err
	}
	switch {
	case h.rx.flagRxDone || h.rx.flagCrcErr:
		irqFired = true
		h.setLedRx(true)
		p.CountUs = h.rx.irqCountUs.Load()
		p.Datarate = h.rx.mainSF
		rssi, snr, err := h.radio.GetLoraPktStatus()
		if err != nil {
			return 0, true, err
		}
		p.RSSI = float32(rssi)
		p.SNR = float32(snr)
		if h.rx.flagCrcErr {
			p.Status = StatCRCBad
		} else {
			p.Status = StatCRCOK
			length, offset, err := h.radio.GetRxBufferStatus()
			if err != nil {
				return 0, true, err
			}
			if err := h.radio.ReadBuffer(offset, p.Payload[:length]); err != nil {
				return 0, true, err
			}
			p.Size = uint16(length)
			h.log.Debug("packet received", "size", length,
				"rssi", rssi, "snr", snr, "count_us", p.CountUs)
		}
		n = 1
		h.rx.flagRxDone = false
		h.rx.flagCrcErr = false
		h.setLedRx(false)
	case h.rx.flagRxTimeout:
		irqFired = true
		h.rx.flagRxTimeout = false
	}
	return n, irqFired, nil
}

// timestampCorrection shifts the RxDone instant back by one symbol so the
// reported count_us points at the end of the payload, matching what the
// forwarder's timing arithmetic expects.
func timestampCorrection(sf Datarate, bw Bandwidth) uint32 {
	return symbolTimeUs(sf, bw)
}
