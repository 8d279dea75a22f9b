// Package radio implements the SX126x driver: reset and wakeup sequencing,
// busy-gated command transfers over SPI with GPIO chip select, and the
// command set the concentrator HAL needs for LoRa receive and transmit.
package radio

// Context carries the fixed physical binding of one radio: the SPI device
// node and the GPIO line offsets wired to the chip. It is assembled once
// when the HAL connects and never mutated afterwards.
type Context struct {
	SpiPath string

	// Required lines.
	ChipSelect int
	Reset      int
	Busy       int
	Irq        int

	// Optional lines, -1 when not wired.
	AntennaSwitch int
	LedRx         int
	LedTx         int
}
