// Package modem connects the audio engine to a data-over-sound modem.
package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEncodeFailed = errors.New("modem encode failed")
	ErrClosed       = errors.New("modem bridge closed")
)

// Bridge is the modem as seen by the audio engine.
type Bridge interface {
	// Encode returns the complete waveform for text before playback starts.
	Encode(ctx context.Context, text string) ([]int16, error)
	// Feed hands one captured chunk to the decoder. It is called from the
	// capture goroutine and must not retain samples.
	Feed(samples []int16)
	// Messages yields decoded payloads. Deliveries are independent of Feed
	// calls. The channel is closed when the bridge shuts down.
	Messages() <-chan []byte
	Close() error
}

// AudioFormat is how audio crosses the wire to the modem server.
type AudioFormat string

const (
	FormatPCM  AudioFormat = "pcm"
	FormatOpus AudioFormat = "opus"
)

func ParseAudioFormat(s string) (AudioFormat, error) {
	switch AudioFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatPCM:
		return FormatPCM, nil
	case FormatOpus:
		return FormatOpus, nil
	default:
		return "", fmt.Errorf("unsupported modem audio format %q", s)
	}
}
