package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// wavHeader is the canonical 44-byte PCM header.
type wavHeader struct {
	RiffMark      [4]byte // "RIFF"
	FileSize      uint32  // total size - 8
	WaveMark      [4]byte // "WAVE"
	FmtMark       [4]byte // "fmt "
	FmtSize       uint32  // 16
	AudioFormat   uint16  // 1=PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample/8
	BlockAlign    uint16 // NumChannels * BitsPerSample/8
	BitsPerSample uint16
	DataMark      [4]byte // "data"
	DataSize      uint32
}

const wavHeaderSize = 44

func newWavHeader(sampleRate, channels, dataSize int) wavHeader {
	h := wavHeader{
		RiffMark:      [4]byte{'R', 'I', 'F', 'F'},
		FileSize:      uint32(wavHeaderSize - 8 + dataSize),
		WaveMark:      [4]byte{'W', 'A', 'V', 'E'},
		FmtMark:       [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		BitsPerSample: BitDepth,
		DataMark:      [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataSize),
	}
	h.ByteRate = h.SampleRate * uint32(h.NumChannels) * uint32(h.BitsPerSample) / 8
	h.BlockAlign = h.NumChannels * h.BitsPerSample / 8
	return h
}

// WAVWriter records captured chunks to a WAV file. It is a Feeder, so it can
// sit in front of the modem decoder; sizes are patched on Close.
type WAVWriter struct {
	mu         sync.Mutex
	file       *os.File
	sampleRate int
	dataSize   int
	scratch    []byte
	err        error
}

func CreateWAV(path string, sampleRate int) (*WAVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}
	h := newWavHeader(sampleRate, Channels, 0)
	if err := binary.Write(file, binary.LittleEndian, &h); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return &WAVWriter{file: file, sampleRate: sampleRate}, nil
}

func (w *WAVWriter) Feed(samples []int16) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil || w.file == nil {
		return
	}
	if cap(w.scratch) < len(samples)*2 {
		w.scratch = make([]byte, len(samples)*2)
	}
	n := int16ToBytes(w.scratch[:len(samples)*2], samples)
	if _, err := w.file.Write(w.scratch[:n]); err != nil {
		w.err = err
		return
	}
	w.dataSize += n
}

// Samples is the number of samples recorded so far.
func (w *WAVWriter) Samples() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dataSize / bytesPerSample
}

func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return w.err
	}
	defer func() { w.file = nil }()

	h := newWavHeader(w.sampleRate, Channels, w.dataSize)
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		w.file.Close()
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, &h); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	return w.err
}

// ReadWAV loads a 16-bit mono PCM WAV file, as written by WAVWriter.
func ReadWAV(r io.Reader) ([]int16, int, error) {
	var h wavHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if string(h.RiffMark[:]) != "RIFF" || string(h.WaveMark[:]) != "WAVE" || string(h.DataMark[:]) != "data" {
		return nil, 0, fmt.Errorf("%w: not a canonical WAV file", ErrInvalidConfig)
	}
	if h.AudioFormat != 1 || h.NumChannels != Channels || h.BitsPerSample != BitDepth {
		return nil, 0, fmt.Errorf("%w: want 16-bit mono PCM", ErrInvalidConfig)
	}
	data := make([]byte, h.DataSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV data: %w", err)
	}
	return PCMSamples(data), int(h.SampleRate), nil
}
