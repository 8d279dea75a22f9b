package lorahub

import (
	"fmt"

	"lorahub-go/errcode"
)

// Operating band of the sub-GHz chip.
const (
	subGHzFreqMin = 150_000_000
	subGHzFreqMax = 960_000_000
	freq2G4Min    = 2_400_000_000
)

func (bw Bandwidth) valid() bool {
	switch bw {
	case BW125kHz, BW250kHz, BW500kHz:
		return true
	}
	return false
}

func (dr Datarate) valid() bool {
	return dr >= DRLoraSF5 && dr <= DRLoraSF12
}

func (cr Coderate) valid() bool {
	switch cr {
	case CR4_5, CR4_6, CR4_7, CR4_8:
		return true
	}
	return false
}

// checkLoraModParams validates the channel parameters shared by RX and TX
// configuration.
func checkLoraModParams(freqHz uint32, bw Bandwidth, cr Coderate) error {
	if freqHz < subGHzFreqMin || freqHz > subGHzFreqMax {
		return errcode.Wrap(errcode.InvalidArgument, "lorahub",
			fmt.Errorf("frequency %d Hz outside the sub-GHz band", freqHz))
	}
	if !bw.valid() {
		return errcode.Wrap(errcode.InvalidArgument, "lorahub",
			fmt.Errorf("bandwidth 0x%02X", uint8(bw)))
	}
	if !cr.valid() {
		return errcode.Wrap(errcode.InvalidArgument, "lorahub",
			fmt.Errorf("coderate 0x%02X", uint8(cr)))
	}
	return nil
}

// loraSyncWord picks the sync word for a public network: 0x21 in the
// 2.4 GHz band, 0x34 sub-GHz from SF7 up. SF5 and SF6 keep the private
// word, which those spreading factors demodulate more reliably.
func loraSyncWord(freqHz uint32, sf Datarate) byte {
	if uint64(freqHz) >= freq2G4Min {
		return SyncWordPublic2G4
	}
	if sf >= DRLoraSF7 {
		return SyncWordPublicSubGHz
	}
	return SyncWordPrivate
}

// symbolTimeUs is the duration of one LoRa symbol in microseconds.
func symbolTimeUs(sf Datarate, bw Bandwidth) uint32 {
	hz := bw.Hertz()
	if hz == 0 || !sf.valid() {
		return 0
	}
	return uint32((uint64(1) << sf) * 1_000_000 / uint64(hz))
}

// computeLdro reports whether low data rate optimisation is mandated: the
// chip requires it once the symbol time reaches 16.384ms.
func computeLdro(sf Datarate, bw Bandwidth) bool {
	return symbolTimeUs(sf, bw) >= 16_384
}

// txPreamble applies the preamble rules for a downlink: 0 means the
// standard length, anything shorter than the demodulator minimum is raised
// to it.
func txPreamble(requested uint16) uint16 {
	if requested == 0 {
		return StdLoraPreamble
	}
	if requested < MinLoraPreamble {
		return MinLoraPreamble
	}
	return requested
}
