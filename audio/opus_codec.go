package audio

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hraban/opus"
)

// OpusFrameSamples is one 20 ms Opus frame at SampleRate.
const OpusFrameSamples = SampleRate / 50

// OpusDecoder OPUS音频解码器
type OpusDecoder struct {
	decoder    *opus.Decoder
	sampleRate int
	channels   int
	pcm        []int16
	logger     *slog.Logger
}

// NewOpusDecoder 创建新的OPUS解码器
func NewOpusDecoder(sampleRate, channels int, logger *slog.Logger) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{
		decoder:    dec,
		sampleRate: sampleRate,
		channels:   channels,
		pcm:        make([]int16, 5760*channels), // 120 ms, the largest Opus frame
		logger:     logger,
	}, nil
}

// Decode returns the PCM for one packet. The result is only valid until
// the next call.
func (d *OpusDecoder) Decode(opusData []byte) ([]int16, error) {
	if d.decoder == nil {
		return nil, errors.New("decoder not initialized")
	}

	n, err := d.decoder.Decode(opusData, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	return d.pcm[:n*d.channels], nil
}

// Close 释放解码器资源
func (d *OpusDecoder) Close() {
	d.decoder = nil
}

// OpusEncoder OPUS音频编码器. Encode accepts arbitrary chunk sizes and
// emits one packet per complete 20 ms frame; the remainder is carried over.
type OpusEncoder struct {
	encoder    *opus.Encoder
	sampleRate int
	channels   int
	frame      int
	pending    []int16
	packet     []byte
	logger     *slog.Logger
}

// NewOpusEncoder 创建新的OPUS编码器
func NewOpusEncoder(sampleRate, channels, bitrate int, logger *slog.Logger) (*OpusEncoder, error) {
	// AppAudio keeps the tones intact better than AppVoIP.
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("failed to set bitrate: %w", err)
	}

	frame := sampleRate / 50 * channels
	return &OpusEncoder{
		encoder:    enc,
		sampleRate: sampleRate,
		channels:   channels,
		frame:      frame,
		pending:    make([]int16, 0, frame*2),
		packet:     make([]byte, 4000), // OPUS最大包大小
		logger:     logger,
	}, nil
}

// Encode appends pcm to the pending frame and returns the packets that
// became complete. Each packet is a fresh slice.
func (e *OpusEncoder) Encode(pcm []int16) ([][]byte, error) {
	if e.encoder == nil {
		return nil, errors.New("encoder not initialized")
	}

	e.pending = append(e.pending, pcm...)
	var packets [][]byte
	for len(e.pending) >= e.frame {
		n, err := e.encoder.Encode(e.pending[:e.frame], e.packet)
		if err != nil {
			return packets, fmt.Errorf("opus encode failed: %w", err)
		}
		packets = append(packets, append([]byte(nil), e.packet[:n]...))
		e.pending = append(e.pending[:0], e.pending[e.frame:]...)
	}
	return packets, nil
}

// Flush zero-pads and encodes whatever is pending.
func (e *OpusEncoder) Flush() ([][]byte, error) {
	if len(e.pending) == 0 {
		return nil, nil
	}
	pad := make([]int16, e.frame-len(e.pending))
	return e.Encode(pad)
}

// Close 释放编码器资源
func (e *OpusEncoder) Close() {
	e.encoder = nil
}
