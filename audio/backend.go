package audio

import (
	"fmt"
	"log/slog"
	"strings"
)

// NewBackend opens the named device backend: malgo, portaudio or loopback.
func NewBackend(name string, logger *slog.Logger) (Backend, error) {
	switch strings.ToLower(name) {
	case "", "malgo":
		return NewMalgoBackend(logger)
	case "portaudio":
		return NewPortAudioBackend(logger)
	case "loopback":
		return NewVirtualBackend(VirtualOptions{Realtime: true, Loopback: true}, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, name)
	}
}

func (p DeviceParams) validate() error {
	f := p.Format
	if f.SampleRate <= 0 || f.Channels != Channels || f.BitDepth != BitDepth {
		return fmt.Errorf("%w: unsupported format %d Hz/%d ch/%d bit",
			ErrInvalidConfig, f.SampleRate, f.Channels, f.BitDepth)
	}
	if p.BufferBytes <= 0 || p.BufferBytes%(bytesPerSample*f.Channels) != 0 {
		return fmt.Errorf("%w: bad buffer size %d", ErrInvalidConfig, p.BufferBytes)
	}
	return nil
}

// frames is the device buffer length in frames.
func (p DeviceParams) frames() int {
	return p.BufferBytes / (bytesPerSample * p.Format.Channels)
}
