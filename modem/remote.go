package modem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/lisuiheng/soundwave-go/audio"
	"github.com/lisuiheng/soundwave-go/pkg/interfaces"
	"github.com/lisuiheng/soundwave-go/utils"
)

var _ Bridge = (*RemoteBridge)(nil)

// RemoteConfig 远端调制解调器配置
type RemoteConfig struct {
	Format          AudioFormat
	ConnectAttempts int
	EncodeTimeout   time.Duration
	OpusBitrate     int
}

func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Format:          FormatPCM,
		ConnectAttempts: 5,
		EncodeTimeout:   10 * time.Second,
		OpusBitrate:     128000,
	}
}

// RemoteBridge runs the modem on a server reached through a transport.
type RemoteBridge struct {
	transport interfaces.TransportProtocol
	config    RemoteConfig
	logger    *slog.Logger
	backoff   utils.ReconnectStrategy

	opusEnc *audio.OpusEncoder
	opusDec *audio.OpusDecoder

	messages chan []byte
	closed   chan struct{}
	once     sync.Once
	wg       sync.WaitGroup

	feedMu   sync.Mutex
	feedErrs int

	encodeMu sync.Mutex // one encode in flight
	nextID   int

	pendingMu sync.Mutex
	pending   *pendingEncode
}

type pendingEncode struct {
	id       string
	expected int
	samples  []int16
	done     chan error
}

func NewRemoteBridge(transport interfaces.TransportProtocol, cfg RemoteConfig, logger *slog.Logger) (*RemoteBridge, error) {
	if transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	format, err := ParseAudioFormat(string(cfg.Format))
	if err != nil {
		return nil, err
	}
	cfg.Format = format
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 1
	}
	if cfg.EncodeTimeout <= 0 {
		cfg.EncodeTimeout = DefaultRemoteConfig().EncodeTimeout
	}

	b := &RemoteBridge{
		transport: transport,
		config:    cfg,
		logger:    logger.With("component", "modem"),
		backoff:   utils.NewExponentialBackoffWith(200*time.Millisecond, 5*time.Second),
		messages:  make(chan []byte, 16),
		closed:    make(chan struct{}),
	}

	if cfg.Format == FormatOpus {
		if cfg.OpusBitrate <= 0 {
			cfg.OpusBitrate = DefaultRemoteConfig().OpusBitrate
		}
		enc, err := audio.NewOpusEncoder(audio.SampleRate, audio.Channels, cfg.OpusBitrate, logger)
		if err != nil {
			return nil, err
		}
		dec, err := audio.NewOpusDecoder(audio.SampleRate, audio.Channels, logger)
		if err != nil {
			return nil, err
		}
		b.opusEnc, b.opusDec = enc, dec
	}
	return b, nil
}

// Connect dials the modem server, retrying with backoff, and announces the
// audio format.
func (b *RemoteBridge) Connect(ctx context.Context) error {
	b.logger.Info("Connecting to modem server",
		"transport", b.transport.ProtocolType(),
		"format", b.config.Format)

	err := utils.Retry(ctx, b.config.ConnectAttempts, b.backoff, func() error {
		if err := b.transport.Connect(ctx); err != nil {
			b.logger.Warn("Modem connect attempt failed", "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to modem server: %w", err)
	}

	hello := envelope{
		Type:      typeHello,
		Version:   1,
		Transport: b.transport.ProtocolType(),
		AudioParams: &audioParams{
			Format:     b.config.Format,
			SampleRate: audio.SampleRate,
			Channels:   audio.Channels,
			ChunkSize:  audio.CaptureChunkSamples,
		},
	}
	if err := b.sendJSON(hello); err != nil {
		b.transport.Close()
		return fmt.Errorf("failed to send hello message: %w", err)
	}

	b.wg.Add(1)
	go b.readLoop()

	b.logger.Info("Connected to modem server")
	return nil
}

// Encode asks the server for the waveform of text and waits for all of it.
func (b *RemoteBridge) Encode(ctx context.Context, text string) ([]int16, error) {
	b.encodeMu.Lock()
	defer b.encodeMu.Unlock()

	b.nextID++
	p := &pendingEncode{id: strconv.Itoa(b.nextID), done: make(chan error, 1)}

	b.pendingMu.Lock()
	b.pending = p
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		b.pending = nil
		b.pendingMu.Unlock()
	}()

	if err := b.sendJSON(envelope{Type: typeEncode, ID: p.id, Text: text}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodeFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.EncodeTimeout)
	defer cancel()

	select {
	case err := <-p.done:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrEncodeFailed, ctx.Err())
	case <-b.closed:
		return nil, ErrClosed
	}

	b.pendingMu.Lock()
	samples := p.samples
	b.pendingMu.Unlock()

	b.logger.Info("Message encoded", "id", p.id, "samples", len(samples))
	return samples, nil
}

// Feed forwards one captured chunk. Send failures are logged, not
// returned: the capture loop has nobody to hand them to.
func (b *RemoteBridge) Feed(samples []int16) {
	b.feedMu.Lock()
	defer b.feedMu.Unlock()

	select {
	case <-b.closed:
		return
	default:
	}

	var err error
	if b.opusEnc != nil {
		var packets [][]byte
		packets, err = b.opusEnc.Encode(samples)
		err = errors.Join(err, b.sendPackets(packets))
	} else {
		err = b.transport.Send(audio.PCMBytes(samples), interfaces.MsgBinary)
	}

	if err != nil {
		b.feedErrs++
		// First failure and then every 100th, to keep the log readable.
		if b.feedErrs%100 == 1 {
			b.logger.Warn("Failed to send captured audio", "error", err, "failures", b.feedErrs)
		}
	}
}

func (b *RemoteBridge) sendPackets(packets [][]byte) error {
	for _, pkt := range packets {
		if err := b.transport.Send(pkt, interfaces.MsgBinary); err != nil {
			return err
		}
	}
	return nil
}

// flushCapture sends the partial Opus frame left over from the last Feed.
func (b *RemoteBridge) flushCapture() {
	b.feedMu.Lock()
	defer b.feedMu.Unlock()

	if b.opusEnc == nil {
		return
	}
	packets, err := b.opusEnc.Flush()
	if err == nil {
		err = b.sendPackets(packets)
	}
	if err != nil {
		b.logger.Warn("Failed to flush captured audio", "error", err)
	}
}

func (b *RemoteBridge) Messages() <-chan []byte { return b.messages }

func (b *RemoteBridge) Close() error {
	var err error
	b.once.Do(func() {
		b.flushCapture()
		close(b.closed)
		err = b.transport.Close()
		b.wg.Wait()
		if b.opusEnc != nil {
			b.opusEnc.Close()
			b.opusDec.Close()
		}
	})
	return err
}

func (b *RemoteBridge) sendJSON(v envelope) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	b.logger.Debug("Sending JSON message", "type", v.Type, "id", v.ID)
	return b.transport.Send(data, interfaces.MsgText)
}

func (b *RemoteBridge) readLoop() {
	defer b.wg.Done()
	defer close(b.messages)

	for msg := range b.transport.Receive() {
		var err error
		switch msg.Type {
		case interfaces.MsgText:
			err = b.handleText(msg.Payload)
		case interfaces.MsgBinary:
			err = b.handleBinary(msg.Payload)
		}
		if err != nil {
			b.logger.Error("Failed to handle modem message", "type", msg.Type, "error", err)
		}
	}
	b.logger.Info("Modem connection closed")
}

func (b *RemoteBridge) handleText(data []byte) error {
	var msg envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	switch msg.Type {
	case typeHello:
		b.logger.Info("Received hello response from modem server", "session_id", msg.SessionID)
	case typeWaveform:
		return b.handleWaveform(msg)
	case typeReceived:
		b.logger.Info("Message received", "bytes", len(msg.Data))
		select {
		case b.messages <- msg.Data:
		case <-b.closed:
		}
	case typeError:
		b.logger.Error("Received error message", "id", msg.ID, "error", msg.Message)
		b.completePending(msg.ID, fmt.Errorf("%w: %s", ErrEncodeFailed, msg.Message))
	default:
		b.logger.Warn("Unknown message type received", "type", msg.Type)
	}
	return nil
}

func (b *RemoteBridge) handleWaveform(msg envelope) error {
	switch msg.State {
	case stateStart:
		b.pendingMu.Lock()
		defer b.pendingMu.Unlock()
		if b.pending == nil || b.pending.id != msg.ID {
			return fmt.Errorf("waveform %s was not requested", msg.ID)
		}
		b.pending.expected = msg.Samples
		b.pending.samples = make([]int16, 0, msg.Samples)
	case stateEnd:
		b.pendingMu.Lock()
		p := b.pending
		var err error
		if p != nil && p.expected > 0 {
			switch {
			case len(p.samples) < p.expected:
				err = fmt.Errorf("%w: got %d samples, want %d", ErrEncodeFailed, len(p.samples), p.expected)
			case len(p.samples) > p.expected:
				// Opus pads the last frame.
				p.samples = p.samples[:p.expected]
			}
		}
		b.pendingMu.Unlock()
		b.completePending(msg.ID, err)
	default:
		return fmt.Errorf("unknown waveform state %q", msg.State)
	}
	return nil
}

func (b *RemoteBridge) completePending(id string, err error) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	if b.pending == nil || (id != "" && b.pending.id != id) {
		return
	}
	select {
	case b.pending.done <- err:
	default:
	}
}

func (b *RemoteBridge) handleBinary(data []byte) error {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()

	if b.pending == nil {
		b.logger.Debug("Received unexpected binary message", "size", len(data))
		return nil
	}
	if b.opusDec == nil {
		b.pending.samples = append(b.pending.samples, audio.PCMSamples(data)...)
		return nil
	}
	pcm, err := b.opusDec.Decode(data)
	if err != nil {
		return err
	}
	b.pending.samples = append(b.pending.samples, pcm...)
	return nil
}
