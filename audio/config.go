package audio

import (
	"errors"
	"fmt"
	"strings"
)

// Fixed stream parameters shared by capture and playback. The modem only
// round-trips when both directions use the same format.
const (
	SampleRate = 48000
	Channels   = 1
	BitDepth   = 16

	CaptureBufferBytes  = 4096
	PlaybackBufferBytes = 16384
	PositionNotifyHz    = 30

	bytesPerSample = BitDepth / 8

	// CaptureChunkSamples is one full device read.
	CaptureChunkSamples = CaptureBufferBytes / bytesPerSample
	// PlaybackChunkSamples is one device write: half the device buffer, so
	// one chunk can be queued while the other plays.
	PlaybackChunkSamples = PlaybackBufferBytes / (2 * bytesPerSample)
)

var (
	ErrInvalidConfig     = errors.New("invalid audio config")
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrDeviceReleased    = errors.New("audio device released")
	ErrEmptyWaveform     = errors.New("empty waveform")
)

// QueuePolicy decides what the capture loop does when the decode queue is full.
type QueuePolicy string

const (
	QueueBlock      QueuePolicy = "block"
	QueueDropOldest QueuePolicy = "drop-oldest"
)

// Config 音频流参数
type Config struct {
	SampleRate          int
	CaptureBufferBytes  int
	PlaybackBufferBytes int
	PlaybackChunk       int // samples per write
	PositionNotifyHz    int

	// DecodeQueueDepth > 0 decouples the capture loop from the decoder.
	DecodeQueueDepth int
	DecodePolicy     QueuePolicy
}

func DefaultConfig() Config {
	return Config{
		SampleRate:          SampleRate,
		CaptureBufferBytes:  CaptureBufferBytes,
		PlaybackBufferBytes: PlaybackBufferBytes,
		PlaybackChunk:       PlaybackChunkSamples,
		PositionNotifyHz:    PositionNotifyHz,
		DecodePolicy:        QueueBlock,
	}
}

func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, c.SampleRate)
	case c.CaptureBufferBytes <= 0 || c.CaptureBufferBytes%bytesPerSample != 0:
		return fmt.Errorf("%w: capture buffer %d bytes", ErrInvalidConfig, c.CaptureBufferBytes)
	case c.PlaybackBufferBytes <= 0 || c.PlaybackBufferBytes%bytesPerSample != 0:
		return fmt.Errorf("%w: playback buffer %d bytes", ErrInvalidConfig, c.PlaybackBufferBytes)
	case c.PlaybackChunk <= 0 || c.PlaybackChunk*bytesPerSample > c.PlaybackBufferBytes:
		return fmt.Errorf("%w: playback chunk %d samples", ErrInvalidConfig, c.PlaybackChunk)
	case c.PositionNotifyHz <= 0 || c.PositionNotifyHz > c.SampleRate:
		return fmt.Errorf("%w: notify rate %d Hz", ErrInvalidConfig, c.PositionNotifyHz)
	case c.DecodeQueueDepth < 0:
		return fmt.Errorf("%w: decode queue depth %d", ErrInvalidConfig, c.DecodeQueueDepth)
	}
	if c.DecodeQueueDepth > 0 {
		if _, err := ParseQueuePolicy(string(c.DecodePolicy)); err != nil {
			return err
		}
	}
	return nil
}

// CaptureChunk is the number of samples in one capture read.
func (c Config) CaptureChunk() int {
	return c.CaptureBufferBytes / bytesPerSample
}

// StreamFormat is the format both workers open devices with.
func (c Config) StreamFormat() Format {
	return Format{SampleRate: c.SampleRate, Channels: Channels, BitDepth: BitDepth}
}

// PositionPeriod is the number of frames between position notifications.
func (c Config) PositionPeriod() int {
	return c.SampleRate / c.PositionNotifyHz
}

func ParseQueuePolicy(s string) (QueuePolicy, error) {
	switch QueuePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", QueueBlock:
		return QueueBlock, nil
	case QueueDropOldest:
		return QueueDropOldest, nil
	default:
		return "", fmt.Errorf("%w: unknown decode policy %q", ErrInvalidConfig, s)
	}
}

// ProgressMillis converts a playback head position to elapsed milliseconds.
func ProgressMillis(frames int64, sampleRate int) int {
	if frames <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(frames * 1000 / int64(sampleRate))
}
