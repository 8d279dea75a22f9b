package spibus

import (
	"bytes"
	"testing"
)

func TestFrame_NoCommandPrefix(t *testing.T) {
	w, prefix := frame(0, []byte{0xAA, 0xBB})
	if prefix != 0 {
		t.Fatalf("prefix = %d, want 0", prefix)
	}
	if !bytes.Equal(w, []byte{0xAA, 0xBB}) {
		t.Fatalf("frame = % X", w)
	}
}

func TestFrame_CommandPrefixBigEndian(t *testing.T) {
	w, prefix := frame(0x1D07, []byte{0x40})
	if prefix != 2 {
		t.Fatalf("prefix = %d, want 2", prefix)
	}
	if !bytes.Equal(w, []byte{0x1D, 0x07, 0x40}) {
		t.Fatalf("frame = % X", w)
	}
}

func TestFrame_EmptyPayload(t *testing.T) {
	w, prefix := frame(0xC000, nil)
	if prefix != 2 || !bytes.Equal(w, []byte{0xC0, 0x00}) {
		t.Fatalf("frame = % X prefix=%d", w, prefix)
	}
}
