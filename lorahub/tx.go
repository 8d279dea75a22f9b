package lorahub

import (
	"errors"
	"fmt"
	"time"

	"lorahub-go/errcode"
	"lorahub-go/radio"
)

const (
	// schedulePollInterval paces the wait for a timestamped downlink's
	// emission instant.
	schedulePollInterval = 100 * time.Millisecond
	// completePollInterval paces the wait for the TX-done IRQ.
	completePollInterval = 10 * time.Millisecond
	// maxScheduleAhead bounds how far in the future a downlink may be
	// scheduled before the wait is declared wedged. Class B pings and
	// beacons stay well under this.
	maxScheduleAhead = 130 * time.Second
	// completeMargin pads the air-time-derived bound on the TX-done wait.
	completeMargin = time.Second
)

// configureTx validates the downlink and programs the chip for it: channel,
// modulation, packet shape, power, payload staged in the chip buffer, and
// TX IRQs armed.
func (h *Hal) configureTx(pkt *PktTx) error {
	h.setLedRx(false)

	if pkt.Modulation != ModLoRa {
		return errcode.Unsupported(fmt.Sprintf("modulation 0x%02X", uint8(pkt.Modulation)))
	}
	if err := checkLoraModParams(pkt.FreqHz, pkt.Bandwidth, pkt.Coderate); err != nil {
		return err
	}
	if !pkt.Datarate.valid() {
		return errcode.Wrap(errcode.InvalidArgument, "hal.configure_tx",
			fmt.Errorf("datarate %d", uint8(pkt.Datarate)))
	}
	if int(pkt.Size) > MaxPayload {
		return errcode.Wrap(errcode.InvalidArgument, "hal.configure_tx",
			fmt.Errorf("payload size %d", pkt.Size))
	}

	caps := h.radio.Capabilities()
	power := pkt.RFPower
	if power > caps.PowerDbmMax {
		h.log.Warn("requested power clipped", "requested_dbm", pkt.RFPower, "max_dbm", caps.PowerDbmMax)
		power = caps.PowerDbmMax
	} else if power < caps.PowerDbmMin {
		h.log.Warn("requested power raised", "requested_dbm", pkt.RFPower, "min_dbm", caps.PowerDbmMin)
		power = caps.PowerDbmMin
	}

	if err := h.radio.SetStandby(); err != nil {
		return err
	}
	if err := h.radio.SetPacketTypeLora(); err != nil {
		return err
	}
	if err := h.radio.SetModulationParams(uint8(pkt.Datarate), uint8(pkt.Bandwidth),
		uint8(pkt.Coderate), computeLdro(pkt.Datarate, pkt.Bandwidth)); err != nil {
		return err
	}
	if err := h.radio.SetPacketParams(txPreamble(pkt.Preamble), pkt.NoHeader,
		uint8(pkt.Size), !pkt.NoCRC, pkt.InvertPol); err != nil {
		return err
	}
	if err := h.radio.SetLoraSyncWord(loraSyncWord(pkt.FreqHz, pkt.Datarate)); err != nil {
		return err
	}
	if err := h.radio.SetRfFrequency(pkt.FreqHz); err != nil {
		return err
	}
	if err := h.radio.CalibrateImage(pkt.FreqHz); err != nil {
		return err
	}
	if err := h.radio.SetPaConfig(); err != nil {
		return err
	}
	if err := h.radio.SetTxParams(power); err != nil {
		return err
	}
	if err := h.radio.WriteBuffer(pkt.Payload[:pkt.Size]); err != nil {
		return err
	}
	if err := h.radio.SetDioIrqParams(radio.IrqTxDone | radio.IrqTimeout); err != nil {
		return err
	}
	return h.radio.ClearIrqStatus(radio.IrqAll)
}

// Send blocks until the downlink has left the antenna (or failed), then
// re-arms reception. Timestamped and GPS-triggered downlinks wait for their
// emission instant minus the TCXO startup time; immediate ones go out right
// away.
func (h *Hal) Send(pkt *PktTx) error {
	if pkt == nil {
		return errcode.Wrap(errcode.InvalidArgument, "hal.send", errors.New("nil packet"))
	}
	if !h.isStarted {
		return errcode.Wrap(errcode.NotStarted, "hal.send",
			errors.New("concentrator not started"))
	}

	h.rxStatus = RxSuspended
	if err := h.configureTx(pkt); err != nil {
		h.restoreRx()
		return err
	}
	h.txStatus = TxScheduled

	if pkt.TxMode != TxImmediate {
		if err := h.waitForInstant(pkt.CountUs); err != nil {
			h.txStatus = TxFree
			h.restoreRx()
			return err
		}
	}

	h.setLedTx(true)
	if err := h.radio.SetTx(); err != nil {
		h.setLedTx(false)
		h.txStatus = TxFree
		h.restoreRx()
		return err
	}
	h.txStatus = TxEmitting
	h.log.Debug("emitting", "count_us", h.Instcnt(), "size", pkt.Size)

	err := h.waitTxComplete(pkt)
	h.setLedTx(false)
	h.txStatus = TxFree
	h.restoreRx()
	return err
}

// waitForInstant sleeps until the microsecond counter reaches countUs minus
// the TCXO startup lead, comparing instants with wrap-safe signed deltas.
func (h *Hal) waitForInstant(countUs uint32) error {
	lead := uint32(h.radio.Capabilities().TCXOStartup.Microseconds())
	deadline := time.Now().Add(maxScheduleAhead)
	for {
		if int32(countUs-h.Instcnt()) <= int32(lead) {
			return nil
		}
		if time.Now().After(deadline) {
			return errcode.Wrap(errcode.Timeout, "hal.send",
				fmt.Errorf("emission instant %d never reached", countUs))
		}
		time.Sleep(schedulePollInterval)
	}
}

// waitTxComplete polls the chip until TX-done or the chip's own timeout,
// bounded by twice the packet's air time plus a margin so a wedged chip
// cannot park the caller.
func (h *Hal) waitTxComplete(pkt *PktTx) error {
	bound := completeMargin
	if toaMs, err := h.TimeOnAir(pkt); err == nil {
		bound += 2 * time.Duration(toaMs) * time.Millisecond
	}
	deadline := time.Now().Add(bound)
	for {
		irq, err := h.radio.GetAndClearIrqStatus()
		if err != nil {
			return err
		}
		if irq&radio.IrqTxDone != 0 {
			h.log.Debug("tx done", "count_us", h.Instcnt())
			return nil
		}
		if irq&radio.IrqTimeout != 0 {
			return errcode.Wrap(errcode.Timeout, "hal.send",
				errors.New("chip reported tx timeout"))
		}
		if time.Now().After(deadline) {
			return errcode.Wrap(errcode.Timeout, "hal.send",
				fmt.Errorf("tx completion irq missing after %s", bound))
		}
		time.Sleep(completePollInterval)
	}
}

// restoreRx reprograms the receive channel after a transmission or a failed
// attempt. Failures here are logged, not returned: the send outcome is
// already decided.
func (h *Hal) restoreRx() {
	if err := h.configureRx(h.rxrf.FreqHz, h.rxif); err != nil {
		h.log.Error("rx channel restore failed", "err", err)
	} else if err := h.setRx(); err != nil {
		h.log.Error("rx re-arm failed", "err", err)
	}
	h.rxStatus = RxOn
}
