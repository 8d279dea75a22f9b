// cmd/hubtest/main.go
package main

import (
	"encoding/hex"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lorahub-go/gpio"
	"lorahub-go/lorahub"
	"lorahub-go/radio"
)

const pollInterval = 10 * time.Millisecond

func main() {
	var (
		chipName = flag.String("gpiochip", "gpiochip0", "GPIO character device")
		spiPath  = flag.String("spidev", "/dev/spidev0.0", "SPI device node")
		csLine   = flag.Int("cs", 8, "chip select line offset")
		rstLine  = flag.Int("reset", 17, "reset line offset")
		busyLine = flag.Int("busy", 23, "busy line offset")
		irqLine  = flag.Int("irq", 24, "IRQ (DIO1) line offset")
		antLine  = flag.Int("ant", -1, "antenna switch line offset (-1 = not wired)")
		freqHz   = flag.Uint("freq", 868_100_000, "center frequency in Hz")
		sf       = flag.Uint("sf", 7, "spreading factor (5..12)")
		bwKHz    = flag.Uint("bw", 125, "bandwidth in kHz (125/250/500)")
		txEvery  = flag.Duration("tx-every", 0, "emit a test downlink at this interval (0 = rx only)")
		txPower  = flag.Int("tx-power", 14, "TX power in dBm")
		debug    = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	var bw lorahub.Bandwidth
	switch *bwKHz {
	case 125:
		bw = lorahub.BW125kHz
	case 250:
		bw = lorahub.BW250kHz
	case 500:
		bw = lorahub.BW500kHz
	default:
		log.Error("bandwidth must be 125, 250 or 500 kHz")
		os.Exit(2)
	}

	lines := gpio.New(log)
	if err := lines.Init(*chipName); err != nil {
		log.Error("gpio init failed", "chip", *chipName, "err", err, "detail", gpio.ErrorString(err))
		os.Exit(1)
	}
	defer lines.Cleanup()

	hal := lorahub.New(lorahub.Config{
		Context: radio.Context{
			SpiPath:       *spiPath,
			ChipSelect:    *csLine,
			Reset:         *rstLine,
			Busy:          *busyLine,
			Irq:           *irqLine,
			AntennaSwitch: *antLine,
			LedRx:         -1,
			LedTx:         -1,
		},
		GPIO:   lines,
		Logger: log,
	})

	if err := hal.RxRFSetconf(lorahub.RxRFConf{
		FreqHz:   uint32(*freqHz),
		TxEnable: *txEvery > 0,
	}); err != nil {
		log.Error("rf setconf failed", "err", err)
		os.Exit(1)
	}
	if err := hal.RxIFSetconf(lorahub.RxIFConf{
		Modulation: lorahub.ModLoRa,
		Bandwidth:  bw,
		Datarate:   [lorahub.MultiSFSlots]lorahub.Datarate{lorahub.Datarate(*sf)},
		Coderate:   lorahub.CR4_5,
	}); err != nil {
		log.Error("if setconf failed", "err", err)
		os.Exit(1)
	}
	if err := hal.Start(); err != nil {
		log.Error("start failed", "err", err)
		os.Exit(1)
	}
	defer hal.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	var lastTx time.Time
	pkts := make([]lorahub.PktRx, 1)
	for {
		select {
		case <-sig:
			log.Info("shutting down")
			return
		default:
		}

		n, err := hal.Receive(1, pkts)
		if err != nil {
			log.Error("receive failed", "err", err)
			return
		}
		if n > 0 {
			p := pkts[0]
			log.Info("uplink",
				"status", uint8(p.Status),
				"size", p.Size,
				"rssi", p.RSSI,
				"snr", p.SNR,
				"count_us", p.CountUs,
				"payload", hex.EncodeToString(p.Payload[:p.Size]))
		}

		if *txEvery > 0 && time.Since(lastTx) >= *txEvery {
			lastTx = time.Now()
			pkt := lorahub.PktTx{
				FreqHz:     uint32(*freqHz),
				TxMode:     lorahub.TxImmediate,
				RFPower:    int8(*txPower),
				Modulation: lorahub.ModLoRa,
				Bandwidth:  bw,
				Datarate:   lorahub.Datarate(*sf),
				Coderate:   lorahub.CR4_5,
				Size:       5,
			}
			copy(pkt.Payload[:], "HELLO")
			toa, _ := hal.TimeOnAir(&pkt)
			if err := hal.Send(&pkt); err != nil {
				log.Error("send failed", "err", err)
			} else {
				log.Info("downlink sent", "toa_ms", toa)
			}
		}

		time.Sleep(pollInterval)
	}
}
