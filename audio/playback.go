package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lisuiheng/soundwave-go/metrics"
)

// markerGrace is how long the writer waits past the expected drain time for
// the end marker before completing the run on its own.
const markerGrace = 2 * time.Second

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeStopped
	outcomeFailed
)

// PlaybackWorker writes a precomputed waveform to an output device in fixed
// chunks and reports progress and completion through a PlaybackListener.
type PlaybackWorker struct {
	backend  Backend
	config   Config
	samples  []int16
	listener PlaybackListener
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	state    atomicState
	run      *playbackRun
	last     *playbackRun
	gen      uint64
	progress atomic.Int64
}

type playbackRun struct {
	gen     uint64
	dev     OutputDevice
	release *releaseOnce
	stop    chan struct{}
	drained bool // whole waveform queued; guarded by PlaybackWorker.mu

	once     sync.Once
	finished chan struct{} // closed once the run has an outcome and no device
	done     chan struct{} // closed when the writer goroutine exits
	outcome  outcome
	err      error
}

// NewPlaybackWorker prepares playback of samples. The slice must not be
// modified while the worker uses it.
func NewPlaybackWorker(backend Backend, cfg Config, samples []int16, listener PlaybackListener, logger *slog.Logger) (*PlaybackWorker, error) {
	if backend == nil {
		return nil, errors.New("playback worker needs a backend")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if len(samples) == 0 {
		return nil, ErrEmptyWaveform
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if listener == nil {
		listener = PlaybackFuncs{}
	}
	return &PlaybackWorker{
		backend:  backend,
		config:   cfg,
		samples:  samples,
		listener: listener,
		logger:   logger.With("worker", "playback"),
	}, nil
}

// SetMetrics must be called before Start.
func (w *PlaybackWorker) SetMetrics(m *metrics.Metrics) { w.metrics = m }

func (w *PlaybackWorker) State() State { return w.state.Load() }

func (w *PlaybackWorker) Playing() bool { return w.state.Load() == StateActive }

// Samples is the waveform length N.
func (w *PlaybackWorker) Samples() int { return len(w.samples) }

// Progress is the last position reported to the listener, in milliseconds.
func (w *PlaybackWorker) Progress() int { return int(w.progress.Load()) }

// Duration is the playing time of the waveform without padding.
func (w *PlaybackWorker) Duration() time.Duration {
	return time.Duration(len(w.samples)) * time.Second / time.Duration(w.config.SampleRate)
}

// Start acquires the output device, arms the position and end-marker
// notifications and launches the writer. It does nothing while playing.
// Starting again after completion replays from the beginning.
func (w *PlaybackWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.run != nil {
		return nil
	}

	dev, err := w.backend.OpenOutput(ctx, DeviceParams{
		Format:      w.config.StreamFormat(),
		BufferBytes: w.config.PlaybackBufferBytes,
	})
	if err != nil {
		w.metrics.StartFailed(metrics.DirectionPlayback)
		w.logger.Error("Failed to open output device", "backend", w.backend.Name(), "error", err)
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	w.gen++
	r := &playbackRun{
		gen:      w.gen,
		dev:      dev,
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.release = newReleaseOnce(func() error {
		defer w.metrics.WorkerReleased(metrics.DirectionPlayback)
		return dev.Release()
	})

	dev.SetPositionNotification(w.config.PositionPeriod(), func() { w.onPosition(r) })
	dev.SetMarker(int64(len(w.samples)), func() { w.onMarker(r) })

	w.progress.Store(0)
	w.run, w.last = r, r
	w.state.Store(StateActive)
	w.metrics.WorkerStarted(metrics.DirectionPlayback)

	go w.loop(r)
	return nil
}

// Stop asks the writer to finish after its in-flight write and returns
// immediately, reporting whether it interrupted the run. Once the whole
// waveform is queued Stop has no effect: the end marker still completes the
// run and OnCompletion follows.
func (w *PlaybackWorker) Stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	r := w.run
	if r == nil || r.drained {
		return false
	}
	close(r.stop)
	w.run = nil
	w.state.Store(StateIdle)
	return true
}

// Wait blocks until the most recent run's writer has exited and its device
// is released, and returns the error that ended it, if any.
func (w *PlaybackWorker) Wait(ctx context.Context) error {
	w.mu.Lock()
	r := w.last
	w.mu.Unlock()

	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *PlaybackWorker) onPosition(r *playbackRun) {
	if r.release.Released() || !r.dev.Playing() || stopped(r) {
		return
	}
	// The head keeps moving through the zero padding; progress stops at the
	// end of the waveform.
	ms := min(ProgressMillis(r.dev.Position(), w.config.SampleRate),
		ProgressMillis(int64(len(w.samples)), w.config.SampleRate))
	w.progress.Store(int64(ms))
	w.metrics.Progress(ms)
	w.listener.OnProgress(ms)
}

// onMarker runs on the device notification goroutine, possibly before the
// writer's last Write has returned.
func (w *PlaybackWorker) onMarker(r *playbackRun) {
	w.mu.Lock()
	interrupted := stopped(r) && !r.drained
	w.mu.Unlock()

	if interrupted {
		w.finish(r, outcomeStopped, nil)
		return
	}
	w.finish(r, outcomeCompleted, nil)
}

func stopped(r *playbackRun) bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// finish settles the run exactly once: the first of marker, stop, timeout
// or write error wins and releases the device.
func (w *PlaybackWorker) finish(r *playbackRun, o outcome, err error) {
	r.once.Do(func() {
		if _, rerr := r.release.Release(); rerr != nil {
			w.logger.Warn("Failed to release output device", "run", r.gen, "error", rerr)
		}
		r.outcome, r.err = o, err

		w.mu.Lock()
		if w.run == r {
			w.run = nil
			if o == outcomeCompleted {
				w.state.Store(StateCompleted)
			} else {
				w.state.Store(StateIdle)
			}
		}
		w.mu.Unlock()
		close(r.finished)

		switch o {
		case outcomeCompleted:
			ms := ProgressMillis(int64(len(w.samples)), w.config.SampleRate)
			w.progress.Store(int64(ms))
			w.metrics.Progress(ms)
			w.metrics.PlaybackCompleted()
			w.logger.Info("Audio end reached", "run", r.gen, "progress_ms", ms)
			w.listener.OnProgress(ms)
			w.listener.OnCompletion()
		case outcomeFailed:
			w.metrics.DeviceError(metrics.DirectionPlayback)
			w.logger.Error("Audio playback aborted", "run", r.gen, "error", err)
			w.listener.OnError(err)
		case outcomeStopped:
			w.logger.Info("Audio playback stopped", "run", r.gen)
		}
	})
}

func (w *PlaybackWorker) loop(r *playbackRun) {
	defer close(r.done)

	logger := w.logger.With("run", r.gen)
	buf := NewSampleBuffer(w.config.PlaybackChunk)
	limit := len(w.samples)

	logger.Info("Audio streaming started",
		"backend", w.backend.Name(),
		"samples", limit,
		"chunk_samples", len(buf))

	cursor, writes := 0, 0
	for cursor < limit {
		select {
		case <-r.stop:
			w.finish(r, outcomeStopped, nil)
			return
		case <-r.finished:
			return
		default:
		}

		n := buf.Fill(w.samples[cursor:])
		if _, err := writeFull(r.dev, buf); err != nil {
			select {
			case <-r.stop:
				w.finish(r, outcomeStopped, nil)
			default:
				w.finish(r, outcomeFailed, fmt.Errorf("playback write: %w", err))
			}
			return
		}
		cursor += n
		writes++
		w.metrics.ChunkWritten(len(buf), len(buf)-n)
	}

	// From here on only the marker or the timeout settles the run.
	w.mu.Lock()
	interrupted := stopped(r)
	r.drained = !interrupted
	w.mu.Unlock()
	if interrupted {
		w.finish(r, outcomeStopped, nil)
		return
	}

	logger.Info("Audio streaming finished", "samples_written", cursor, "writes", writes)

	// Whatever is still queued in the device has to drain before the
	// marker can fire.
	queued := w.config.PlaybackBufferBytes/bytesPerSample + len(buf)
	timer := time.NewTimer(time.Duration(queued)*time.Second/time.Duration(w.config.SampleRate) + markerGrace)
	defer timer.Stop()

	select {
	case <-r.finished:
	case <-timer.C:
		logger.Warn("End marker not reached, completing playback")
		w.finish(r, outcomeCompleted, nil)
	}
}

// writeFull retries partial writes until the whole chunk is accepted.
func writeFull(dev OutputDevice, buf []int16) (int, error) {
	written, idle := 0, 0
	for written < len(buf) {
		n, err := dev.Write(buf[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n > 0 {
			idle = 0
			continue
		}
		if idle++; idle >= maxIdleCalls {
			return written, io.ErrNoProgress
		}
	}
	return written, nil
}

// PlaybackFuncs adapts optional callbacks to PlaybackListener.
type PlaybackFuncs struct {
	Progress   func(millis int)
	Completion func()
	Error      func(err error)
}

func (f PlaybackFuncs) OnProgress(millis int) {
	if f.Progress != nil {
		f.Progress(millis)
	}
}

func (f PlaybackFuncs) OnCompletion() {
	if f.Completion != nil {
		f.Completion()
	}
}

func (f PlaybackFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}
