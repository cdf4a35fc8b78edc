package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// portaudioFrames is the host block size. Engine chunks are multiples of it.
const portaudioFrames = 256

// PortAudioBackend opens blocking PortAudio streams.
type PortAudioBackend struct {
	logger *slog.Logger
	once   sync.Once
}

func NewPortAudioBackend(logger *slog.Logger) (*PortAudioBackend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &PortAudioBackend{logger: logger}, nil
}

func (b *PortAudioBackend) Name() string { return "portaudio" }

func (b *PortAudioBackend) Close() error {
	var err error
	b.once.Do(func() { err = portaudio.Terminate() })
	return err
}

func (b *PortAudioBackend) OpenInput(_ context.Context, p DeviceParams) (InputDevice, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	in := &paInput{block: make([]int16, portaudioFrames*p.Format.Channels)}

	stream, err := portaudio.OpenDefaultStream(p.Format.Channels, 0, float64(p.Format.SampleRate), portaudioFrames, in.block)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}
	in.stream = stream

	b.logger.Info("PortAudio input started", "sample_rate", p.Format.SampleRate)
	return in, nil
}

func (b *PortAudioBackend) OpenOutput(_ context.Context, p DeviceParams) (OutputDevice, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	out := &paOutput{
		block:    make([]int16, portaudioFrames*p.Format.Channels),
		channels: p.Format.Channels,
		notifier: newNotifier(),
	}

	stream, err := portaudio.OpenDefaultStream(0, p.Format.Channels, float64(p.Format.SampleRate), portaudioFrames, out.block)
	if err != nil {
		out.notifier.Close()
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		out.notifier.Close()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}
	out.stream = stream

	b.logger.Info("PortAudio output started", "sample_rate", p.Format.SampleRate)
	return out, nil
}

type paInput struct {
	stream   *portaudio.Stream
	block    []int16
	pending  []int16
	overruns atomic.Int64
}

func (in *paInput) Read(buf []int16) (int, error) {
	if len(in.pending) == 0 {
		err := in.stream.Read()
		if errors.Is(err, portaudio.InputOverflowed) {
			in.overruns.Add(1)
		} else if err != nil {
			return 0, err
		}
		in.pending = in.block
	}
	n := copy(buf, in.pending)
	in.pending = in.pending[n:]
	return n, nil
}

func (in *paInput) Overruns() int64 { return in.overruns.Load() }

func (in *paInput) Release() error {
	err := in.stream.Stop()
	if cerr := in.stream.Close(); err == nil {
		err = cerr
	}
	return err
}

// paOutput counts a block as played once the host has accepted it, so its
// position runs ahead of the speaker by the stream's output latency.
type paOutput struct {
	stream   *portaudio.Stream
	block    []int16
	fill     int
	channels int
	notifier *notifier

	mu       sync.Mutex
	released atomic.Bool
}

func (o *paOutput) Write(buf []int16) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.released.Load() {
		return 0, ErrDeviceReleased
	}
	n := copy(o.block[o.fill:], buf)
	o.fill += n
	if o.fill < len(o.block) {
		return n, nil
	}
	o.fill = 0
	if err := o.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
		return n, err
	}
	o.notifier.Advance(len(o.block) / o.channels)
	return n, nil
}

func (o *paOutput) SetPositionNotification(periodFrames int, fn func()) {
	o.notifier.SetPositionNotification(periodFrames, fn)
}

func (o *paOutput) SetMarker(frame int64, fn func()) { o.notifier.SetMarker(frame, fn) }

func (o *paOutput) Position() int64 { return o.notifier.Position() }

func (o *paOutput) Playing() bool { return !o.released.Load() }

// Release may be called while a Write is blocked in the host; it waits for
// that block to finish before closing the stream.
func (o *paOutput) Release() error {
	o.released.Store(true)
	o.notifier.Close()

	o.mu.Lock()
	defer o.mu.Unlock()
	err := o.stream.Stop()
	if cerr := o.stream.Close(); err == nil {
		err = cerr
	}
	return err
}
