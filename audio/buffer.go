package audio

import "encoding/binary"

// SampleBuffer is a fixed-length block of signed 16-bit mono samples.
// Workers allocate one per run and reuse it for every chunk.
type SampleBuffer []int16

func NewSampleBuffer(n int) SampleBuffer {
	return make(SampleBuffer, n)
}

// Fill copies src into the buffer and zeroes whatever src does not cover.
// It returns the number of real samples copied.
func (b SampleBuffer) Fill(src []int16) int {
	n := copy(b, src)
	clear(b[n:])
	return n
}

// bytesToInt16 decodes little-endian s16 PCM into dst and returns the
// number of samples written. A trailing odd byte is ignored.
func bytesToInt16(dst []int16, b []byte) int {
	n := min(len(dst), len(b)/2)
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return n
}

// int16ToBytes encodes samples as little-endian s16 PCM into dst.
func int16ToBytes(dst []byte, samples []int16) int {
	n := min(len(samples), len(dst)/2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(samples[i]))
	}
	return n * 2
}

// PCMBytes returns samples as a freshly allocated s16le byte slice.
func PCMBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	int16ToBytes(b, samples)
	return b
}

// PCMSamples decodes an s16le byte slice.
func PCMSamples(b []byte) []int16 {
	s := make([]int16, len(b)/2)
	bytesToInt16(s, b)
	return s
}
