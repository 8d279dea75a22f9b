// Package spibus provides the single-transfer SPI primitive used to talk to
// the radio. Each call opens the device node, performs one full-duplex
// transfer and closes the node again. Transfers are already serialized by
// the radio's chip-select and busy protocol, so the per-call open keeps no
// state hostage between commands.
package spibus

import (
	"encoding/binary"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"lorahub-go/errcode"
)

const (
	busSpeed    = 2 * physic.MegaHertz
	bitsPerWord = 8
)

var hostInit sync.Once

// Transfer shifts tx out on the SPI device at devPath and copies the bytes
// clocked back in into rx. A non-zero cmd is sent as a 2-byte big-endian
// prefix ahead of tx; the bytes clocked in under the prefix are discarded.
// rx may be nil for write-only transfers, otherwise it must hold len(tx)
// bytes. Chip select is driven externally over GPIO, not by the bus.
func Transfer(devPath string, cmd uint16, tx, rx []byte) error {
	hostInit.Do(func() { _, _ = host.Init() })

	port, err := spireg.Open(devPath)
	if err != nil {
		return errcode.FromErrno("spibus.open", err)
	}
	defer port.Close()

	conn, err := port.Connect(busSpeed, spi.Mode0, bitsPerWord)
	if err != nil {
		return errcode.Wrap(errcode.IoError, "spibus.connect", err)
	}

	w, prefix := frame(cmd, tx)
	r := make([]byte, len(w))
	if err := conn.Tx(w, r); err != nil {
		return errcode.Wrap(errcode.IoError, "spibus.transfer", err)
	}
	if rx != nil {
		copy(rx, r[prefix:])
	}
	return nil
}

// frame builds the outgoing buffer: optional 2-byte big-endian command
// prefix followed by the payload. It returns the buffer and the prefix
// length so the caller can skip the prefix bytes in the response.
func frame(cmd uint16, tx []byte) ([]byte, int) {
	prefix := 0
	if cmd != 0 {
		prefix = 2
	}
	w := make([]byte, prefix+len(tx))
	if cmd != 0 {
		binary.BigEndian.PutUint16(w, cmd)
	}
	copy(w[prefix:], tx)
	return w, prefix
}
