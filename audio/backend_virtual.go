package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// VirtualOptions configures a VirtualBackend.
type VirtualOptions struct {
	// Realtime paces output consumption at the sample rate. Otherwise an
	// output device drains as soon as samples are written.
	Realtime bool
	// Loopback makes every input device hear what output devices play.
	// Loopback inputs are always paced in real time.
	Loopback bool
	// Source produces input samples when Loopback is off. Nil means real
	// time silence.
	Source func(dst []int16) (int, error)
}

// VirtualBackend is an in-memory audio backend. It records every device it
// hands out so callers can inspect what was written and released.
type VirtualBackend struct {
	opts   VirtualOptions
	logger *slog.Logger
	air    *sampleFIFO

	mu      sync.Mutex
	inputs  []*VirtualInput
	outputs []*VirtualOutput
}

func NewVirtualBackend(opts VirtualOptions, logger *slog.Logger) *VirtualBackend {
	b := &VirtualBackend{opts: opts, logger: logger}
	if opts.Loopback {
		b.air = newSampleFIFO(SampleRate)
	}
	return b
}

func (b *VirtualBackend) Name() string {
	if b.opts.Loopback {
		return "loopback"
	}
	return "virtual"
}

func (b *VirtualBackend) Close() error {
	if b.air != nil {
		b.air.Close()
	}
	return nil
}

func (b *VirtualBackend) Inputs() []*VirtualInput {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*VirtualInput(nil), b.inputs...)
}

func (b *VirtualBackend) Outputs() []*VirtualOutput {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*VirtualOutput(nil), b.outputs...)
}

func (b *VirtualBackend) OpenInput(ctx context.Context, p DeviceParams) (InputDevice, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in := &VirtualInput{
		rate:   p.Format.SampleRate,
		source: b.opts.Source,
		air:    b.air,
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	b.inputs = append(b.inputs, in)
	b.mu.Unlock()
	b.logger.Debug("Virtual input opened", "buffer_bytes", p.BufferBytes)
	return in, nil
}

func (b *VirtualBackend) OpenOutput(ctx context.Context, p DeviceParams) (OutputDevice, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := &VirtualOutput{
		rate:     p.Format.SampleRate,
		fifo:     newSampleFIFO(p.BufferBytes / bytesPerSample),
		notifier: newNotifier(),
		air:      b.air,
		realtime: b.opts.Realtime,
		done:     make(chan struct{}),
	}
	b.mu.Lock()
	b.outputs = append(b.outputs, out)
	b.mu.Unlock()
	go out.consume()
	b.logger.Debug("Virtual output opened", "buffer_bytes", p.BufferBytes, "realtime", b.opts.Realtime)
	return out, nil
}

// VirtualInput is a capture device fed by a Source or by loopback.
type VirtualInput struct {
	rate     int
	source   func(dst []int16) (int, error)
	air      *sampleFIFO
	released atomic.Int32
	closed   chan struct{}
}

func (in *VirtualInput) Read(buf []int16) (int, error) {
	if in.released.Load() > 0 {
		return 0, ErrDeviceReleased
	}
	if in.source != nil && in.air == nil {
		return in.source(buf)
	}

	// Silence or loopback, one buffer per buffer duration.
	select {
	case <-in.closed:
		return 0, ErrDeviceReleased
	case <-time.After(time.Duration(len(buf)) * time.Second / time.Duration(in.rate)):
	}
	n := 0
	if in.air != nil {
		n = in.air.TryRead(buf)
	}
	clear(buf[n:])
	return len(buf), nil
}

func (in *VirtualInput) Release() error {
	if in.released.Add(1) == 1 {
		close(in.closed)
	}
	return nil
}

// Releases counts Release calls; anything above one is a double release.
func (in *VirtualInput) Releases() int { return int(in.released.Load()) }

// VirtualOutput is a playback device that keeps everything written to it.
type VirtualOutput struct {
	rate     int
	fifo     *sampleFIFO
	notifier *notifier
	air      *sampleFIFO
	realtime bool
	done     chan struct{}

	mu       sync.Mutex
	writes   int
	written  []int16
	released atomic.Int32
}

// Write blocks until all of buf is queued. Samples are recorded before they
// are queued so Written never lags what has been played.
func (o *VirtualOutput) Write(buf []int16) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	o.mu.Lock()
	o.writes++
	o.written = append(o.written, buf...)
	o.mu.Unlock()

	queued := 0
	for queued < len(buf) {
		n, err := o.fifo.Write(buf[queued:])
		queued += n
		if err != nil {
			return queued, err
		}
	}
	return queued, nil
}

func (o *VirtualOutput) SetPositionNotification(periodFrames int, fn func()) {
	o.notifier.SetPositionNotification(periodFrames, fn)
}

func (o *VirtualOutput) SetMarker(frame int64, fn func()) { o.notifier.SetMarker(frame, fn) }

func (o *VirtualOutput) Position() int64 { return o.notifier.Position() }

func (o *VirtualOutput) Playing() bool { return o.released.Load() == 0 }

func (o *VirtualOutput) Release() error {
	if o.released.Add(1) > 1 {
		return errors.New("virtual output released twice")
	}
	o.notifier.Close()
	o.fifo.Close()
	<-o.done
	return nil
}

// Writes is the number of non-empty Write calls.
func (o *VirtualOutput) Writes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writes
}

// Written returns a copy of every sample handed to Write.
func (o *VirtualOutput) Written() []int16 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int16(nil), o.written...)
}

func (o *VirtualOutput) Releases() int { return int(o.released.Load()) }

// consume plays the FIFO out, either at once or at the sample rate.
func (o *VirtualOutput) consume() {
	defer close(o.done)
	scratch := make([]int16, o.rate/100)

	if !o.realtime {
		for {
			n, err := o.fifo.Read(scratch)
			if err != nil {
				return
			}
			o.played(scratch[:n])
		}
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	start := time.Now()
	var consumed int64
	for range ticker.C {
		due := int64(time.Since(start)) * int64(o.rate) / int64(time.Second)
		for consumed < due {
			want := min(int64(len(scratch)), due-consumed)
			n := o.fifo.TryRead(scratch[:want])
			if n == 0 {
				if o.released.Load() > 0 {
					return
				}
				// Underrun: the head does not move while nothing is queued.
				consumed = due
				break
			}
			consumed += int64(n)
			o.played(scratch[:n])
		}
		if o.released.Load() > 0 {
			return
		}
	}
}

func (o *VirtualOutput) played(samples []int16) {
	if o.air != nil {
		o.air.TryWrite(samples)
	}
	o.notifier.Advance(len(samples))
}
