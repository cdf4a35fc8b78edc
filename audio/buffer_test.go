package audio

import (
	"bytes"
	"testing"
)

func TestSampleBufferFill(t *testing.T) {
	buf := NewSampleBuffer(4)
	for i := range buf {
		buf[i] = 9
	}
	if n := buf.Fill([]int16{1, 2}); n != 2 {
		t.Fatalf("Fill() = %d, want 2", n)
	}
	want := SampleBuffer{1, 2, 0, 0}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("buf = %v, want %v", buf, want)
		}
	}
	if n := buf.Fill([]int16{5, 6, 7, 8, 9, 10}); n != 4 {
		t.Errorf("Fill() of a longer source = %d, want 4", n)
	}
}

func TestPCMLittleEndian(t *testing.T) {
	b := PCMBytes([]int16{1, -2, 0x1234})
	want := []byte{0x01, 0x00, 0xfe, 0xff, 0x34, 0x12}
	if !bytes.Equal(b, want) {
		t.Fatalf("PCMBytes() = % x, want % x", b, want)
	}
	// A trailing odd byte is not a sample.
	s := PCMSamples(append(b, 0x7f))
	if len(s) != 3 || s[1] != -2 || s[2] != 0x1234 {
		t.Errorf("PCMSamples() = %v", s)
	}
}
