package audio

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// MalgoBackend opens miniaudio devices. Device callbacks only move samples
// through a FIFO; blocking Read/Write and notifications happen elsewhere.
type MalgoBackend struct {
	ctx    *malgo.AllocatedContext
	logger *slog.Logger
	once   sync.Once
}

func NewMalgoBackend(logger *slog.Logger) (*MalgoBackend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	return &MalgoBackend{ctx: ctx, logger: logger}, nil
}

func (b *MalgoBackend) Name() string { return "malgo" }

func (b *MalgoBackend) Close() error {
	var err error
	b.once.Do(func() {
		err = b.ctx.Uninit()
		b.ctx.Free()
	})
	return err
}

func (b *MalgoBackend) deviceConfig(kind malgo.DeviceType, p DeviceParams) malgo.DeviceConfig {
	cfg := malgo.DefaultDeviceConfig(kind)
	cfg.SampleRate = uint32(p.Format.SampleRate)
	cfg.PeriodSizeInFrames = uint32(p.frames())
	cfg.Periods = 2
	if kind == malgo.Capture {
		cfg.Capture.Format = malgo.FormatS16
		cfg.Capture.Channels = uint32(p.Format.Channels)
	} else {
		cfg.Playback.Format = malgo.FormatS16
		cfg.Playback.Channels = uint32(p.Format.Channels)
	}
	// alsa specific settings for linux
	if runtime.GOOS == "linux" {
		cfg.Alsa.NoMMap = 1
	}
	return cfg
}

func (b *MalgoBackend) OpenInput(_ context.Context, p DeviceParams) (InputDevice, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	// Two device buffers of slack before the callback starts dropping.
	in := &malgoInput{fifo: newSampleFIFO(2 * p.frames() * p.Format.Channels)}

	device, err := malgo.InitDevice(b.ctx.Context, b.deviceConfig(malgo.Capture, p), malgo.DeviceCallbacks{
		Data: in.onData,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}
	in.device = device

	b.logger.Info("Capture device started",
		"sample_rate", p.Format.SampleRate,
		"period_frames", p.frames())
	return in, nil
}

func (b *MalgoBackend) OpenOutput(_ context.Context, p DeviceParams) (OutputDevice, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	out := &malgoOutput{
		fifo:     newSampleFIFO(p.frames() * p.Format.Channels),
		notifier: newNotifier(),
		channels: p.Format.Channels,
	}

	device, err := malgo.InitDevice(b.ctx.Context, b.deviceConfig(malgo.Playback, p), malgo.DeviceCallbacks{
		Data: out.onData,
	})
	if err != nil {
		out.notifier.Close()
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		out.notifier.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}
	out.device = device

	b.logger.Info("Playback device started",
		"sample_rate", p.Format.SampleRate,
		"period_frames", p.frames())
	return out, nil
}

type malgoInput struct {
	device   *malgo.Device
	fifo     *sampleFIFO
	scratch  []int16
	overruns atomic.Int64
}

func (in *malgoInput) onData(_, input []byte, _ uint32) {
	if n := len(input) / 2; cap(in.scratch) < n {
		in.scratch = make([]int16, n)
	}
	n := bytesToInt16(in.scratch[:cap(in.scratch)], input)
	if stored := in.fifo.TryWrite(in.scratch[:n]); stored < n {
		in.overruns.Add(int64(n - stored))
	}
}

func (in *malgoInput) Read(buf []int16) (int, error) { return in.fifo.Read(buf) }

// Overruns is the number of samples the callback had to drop because the
// reader was behind.
func (in *malgoInput) Overruns() int64 { return in.overruns.Load() }

func (in *malgoInput) Release() error {
	in.fifo.Close()
	err := in.device.Stop()
	in.device.Uninit()
	return err
}

type malgoOutput struct {
	device   *malgo.Device
	fifo     *sampleFIFO
	notifier *notifier
	channels int
	scratch  []int16
	released atomic.Bool
}

func (o *malgoOutput) onData(output, _ []byte, frameCount uint32) {
	want := int(frameCount) * o.channels
	if cap(o.scratch) < want {
		o.scratch = make([]int16, want)
	}
	n := o.fifo.TryRead(o.scratch[:want])
	written := int16ToBytes(output, o.scratch[:n])
	clear(output[written:])
	o.notifier.Advance(n / o.channels)
}

func (o *malgoOutput) Write(buf []int16) (int, error) { return o.fifo.Write(buf) }

func (o *malgoOutput) SetPositionNotification(periodFrames int, fn func()) {
	o.notifier.SetPositionNotification(periodFrames, fn)
}

func (o *malgoOutput) SetMarker(frame int64, fn func()) { o.notifier.SetMarker(frame, fn) }

func (o *malgoOutput) Position() int64 { return o.notifier.Position() }

func (o *malgoOutput) Playing() bool {
	return !o.released.Load() && o.device.IsStarted()
}

// Release may run on the notifier goroutine; it never waits for it.
func (o *malgoOutput) Release() error {
	o.released.Store(true)
	o.notifier.Close()
	o.fifo.Close()
	err := o.device.Stop()
	o.device.Uninit()
	return err
}
