package radio

import (
	"fmt"
	"log/slog"
	"time"

	"lorahub-go/errcode"
	"lorahub-go/spibus"
)

// Pins is the GPIO surface the driver needs: level writes for chip select,
// reset and the LEDs, level reads for the busy pin.
type Pins interface {
	SetLevel(line, level int) error
	GetLevel(line int) (int, error)
}

// TransferFunc performs one full-duplex SPI transfer. See spibus.Transfer.
type TransferFunc func(devPath string, cmd uint16, tx, rx []byte) error

const (
	resetPulse       = 5 * time.Millisecond
	resetSettle      = 5 * time.Millisecond
	wakeupPulse      = time.Millisecond
	busyPollInterval = time.Millisecond
	defaultBusyWait  = 5 * time.Second
)

// SX126x drives one chip over SPI with GPIO chip select and busy gating.
// Methods are not safe for concurrent use; the HAL serializes access.
type SX126x struct {
	ctx  *Context
	pins Pins
	log  *slog.Logger

	xfer     TransferFunc
	busyWait time.Duration
}

func NewSX126x(ctx *Context, pins Pins, log *slog.Logger) *SX126x {
	if log == nil {
		log = slog.Default()
	}
	return &SX126x{
		ctx:      ctx,
		pins:     pins,
		log:      log,
		xfer:     spibus.Transfer,
		busyWait: defaultBusyWait,
	}
}

// Reset pulses the reset line low then high and lets the chip settle.
func (d *SX126x) Reset() error {
	if err := d.pins.SetLevel(d.ctx.Reset, 0); err != nil {
		return err
	}
	time.Sleep(resetPulse)
	if err := d.pins.SetLevel(d.ctx.Reset, 1); err != nil {
		return err
	}
	time.Sleep(resetSettle)
	return nil
}

// Wakeup pulls the chip out of sleep by strobing chip select, then waits for
// the busy line to drop.
func (d *SX126x) Wakeup() error {
	if err := d.pins.SetLevel(d.ctx.ChipSelect, 0); err != nil {
		return err
	}
	time.Sleep(wakeupPulse)
	if err := d.pins.SetLevel(d.ctx.ChipSelect, 1); err != nil {
		return err
	}
	return d.waitOnBusy()
}

// waitOnBusy polls the busy line until it reads low. The chip holds busy
// high while it digests a command; a line stuck high means a wedged chip or
// broken wiring, reported as a timeout rather than spinning forever.
func (d *SX126x) waitOnBusy() error {
	deadline := time.Now().Add(d.busyWait)
	for {
		level, err := d.pins.GetLevel(d.ctx.Busy)
		if err != nil {
			return err
		}
		if level == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return errcode.Wrap(errcode.Timeout, "radio.wait_on_busy",
				fmt.Errorf("busy line high for more than %s", d.busyWait))
		}
		time.Sleep(busyPollInterval)
	}
}

// WriteCommand shifts out the command bytes followed by the data bytes,
// one byte per SPI transfer, with chip select held low for the whole frame.
// The chip must not be busy when the frame starts.
func (d *SX126x) WriteCommand(command, data []byte) error {
	if err := d.waitOnBusy(); err != nil {
		return err
	}
	if err := d.pins.SetLevel(d.ctx.ChipSelect, 0); err != nil {
		return err
	}
	err := d.shiftOut(command)
	if err == nil {
		err = d.shiftOut(data)
	}
	if csErr := d.pins.SetLevel(d.ctx.ChipSelect, 1); err == nil {
		err = csErr
	}
	return err
}

// ReadCommand shifts out the command bytes, then clocks len(out) response
// bytes by sending zeros, with chip select held low for the whole frame.
func (d *SX126x) ReadCommand(command []byte, out []byte) error {
	if err := d.waitOnBusy(); err != nil {
		return err
	}
	if err := d.pins.SetLevel(d.ctx.ChipSelect, 0); err != nil {
		return err
	}
	err := d.shiftOut(command)
	if err == nil {
		for i := range out {
			out[i], err = d.transferByte(0x00)
			if err != nil {
				break
			}
		}
	}
	if csErr := d.pins.SetLevel(d.ctx.ChipSelect, 1); err == nil {
		err = csErr
	}
	return err
}

func (d *SX126x) shiftOut(data []byte) error {
	for _, b := range data {
		if _, err := d.transferByte(b); err != nil {
			return err
		}
	}
	return nil
}

func (d *SX126x) transferByte(b byte) (byte, error) {
	var rx [1]byte
	if err := d.xfer(d.ctx.SpiPath, 0, []byte{b}, rx[:]); err != nil {
		return 0, err
	}
	return rx[0], nil
}
