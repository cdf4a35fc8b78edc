package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/lisuiheng/soundwave-go/metrics"
)

// maxIdleCalls bounds consecutive zero-length reads or writes before a
// device is treated as stuck.
const maxIdleCalls = 100

// CaptureWorker reads fixed-size chunks from an input device and hands each
// one to a Feeder.
//
// There is no buffering between the device and the Feeder unless
// Config.DecodeQueueDepth is set: when Feed takes longer than one chunk
// duration (CaptureChunk/SampleRate seconds) the device driver drops or
// overwrites samples. That degrades decoding but is not an engine error.
type CaptureWorker struct {
	backend Backend
	config  Config
	feeder  Feeder
	logger  *slog.Logger
	metrics *metrics.Metrics
	onError ErrorHandler

	mu    sync.Mutex
	state atomicState
	run   *captureRun
	last  *captureRun
	gen   uint64
}

// captureRun is one Start..exit cycle. Each run owns its own device and
// stop signal, so a run that is still draining after Stop cannot touch the
// session started after it.
type captureRun struct {
	gen  uint64
	stop chan struct{}
	done chan struct{}
	err  error
}

func NewCaptureWorker(backend Backend, cfg Config, feeder Feeder, logger *slog.Logger) (*CaptureWorker, error) {
	if backend == nil || feeder == nil {
		return nil, errors.New("capture worker needs a backend and a feeder")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CaptureWorker{
		backend: backend,
		config:  cfg,
		feeder:  feeder,
		logger:  logger.With("worker", "capture"),
	}, nil
}

// SetMetrics must be called before Start.
func (w *CaptureWorker) SetMetrics(m *metrics.Metrics) { w.metrics = m }

// OnError registers a handler for errors that end a run. It runs on the
// capture goroutine.
func (w *CaptureWorker) OnError(h ErrorHandler) { w.onError = h }

func (w *CaptureWorker) State() State { return w.state.Load() }

func (w *CaptureWorker) Capturing() bool { return w.state.Load() == StateActive }

// Start acquires the input device and launches the capture loop. It does
// nothing while a run is active. A failed acquisition leaves the worker idle.
func (w *CaptureWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.run != nil {
		return nil
	}

	dev, err := w.backend.OpenInput(ctx, DeviceParams{
		Format:      w.config.StreamFormat(),
		BufferBytes: w.config.CaptureBufferBytes,
	})
	if err != nil {
		w.metrics.StartFailed(metrics.DirectionCapture)
		w.logger.Error("Failed to open input device", "backend", w.backend.Name(), "error", err)
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	w.gen++
	r := &captureRun{gen: w.gen, stop: make(chan struct{}), done: make(chan struct{})}
	w.run, w.last = r, r
	w.state.Store(StateActive)
	w.metrics.WorkerStarted(metrics.DirectionCapture)

	go w.loop(r, dev)
	return nil
}

// Stop asks the current run to finish and returns immediately. The run
// notices after its in-flight read returns, then releases the device. Use
// Wait to block until that has happened. It reports whether a run was
// active.
func (w *CaptureWorker) Stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.run == nil {
		return false
	}
	close(w.run.stop)
	w.run = nil
	w.state.Store(StateIdle)
	return true
}

// Wait blocks until the most recent run has released its device and
// returns the error that ended it, if any.
func (w *CaptureWorker) Wait(ctx context.Context) error {
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

// finish moves the worker to idle if r is still the current run.
func (w *CaptureWorker) finish(r *captureRun) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.run == r {
		w.run = nil
		w.state.Store(StateIdle)
	}
}

func (w *CaptureWorker) loop(r *captureRun, dev InputDevice) {
	logger := w.logger.With("run", r.gen)
	chunk := w.config.CaptureChunk()

	var queue *decodeQueue
	feeder := w.feeder
	if w.config.DecodeQueueDepth > 0 {
		queue = newDecodeQueue(w.config.DecodeQueueDepth, w.config.DecodePolicy, w.metrics)
		go queue.run(w.feeder)
		feeder = queue
	}

	logger.Info("Audio capture started",
		"backend", w.backend.Name(),
		"sample_rate", w.config.SampleRate,
		"chunk_samples", chunk,
		"decode_queue", w.config.DecodeQueueDepth)

	var read int64
	err := w.capture(r, dev, NewSampleBuffer(chunk), feeder, &read)

	if o, ok := dev.(interface{ Overruns() int64 }); ok {
		if dropped := o.Overruns(); dropped > 0 {
			w.metrics.Overrun(int(dropped))
			logger.Warn("Capture fell behind the device, samples were dropped", "dropped", dropped)
		}
	}

	// The loop is the only owner of dev.
	if rerr := dev.Release(); rerr != nil {
		logger.Warn("Failed to release input device", "error", rerr)
	}
	w.metrics.WorkerReleased(metrics.DirectionCapture)

	if queue != nil {
		queue.Close()
	}

	if err != nil {
		w.metrics.DeviceError(metrics.DirectionCapture)
		logger.Error("Audio capture aborted", "error", err)
		w.finish(r)
		if w.onError != nil {
			w.onError(err)
		}
	}

	logger.Info("Audio capture stopped", "samples_read", read)
	r.err = err
	close(r.done)
}

func (w *CaptureWorker) capture(r *captureRun, dev InputDevice, buf SampleBuffer, feeder Feeder, read *int64) error {
	for {
		select {
		case <-r.stop:
			return nil
		default:
		}

		n, err := readFull(dev, buf)
		*read += int64(n)
		if err != nil {
			select {
			case <-r.stop:
				return nil
			default:
			}
			return fmt.Errorf("capture read: %w", err)
		}

		start := time.Now()
		feeder.Feed(buf)
		w.metrics.ChunkCaptured(len(buf), time.Since(start))
	}
}

// readFull keeps reading until buf is full so the decoder never sees a
// partial chunk.
func readFull(dev InputDevice, buf []int16) (int, error) {
	filled, idle := 0, 0
	for filled < len(buf) {
		n, err := dev.Read(buf[filled:])
		filled += n
		if err != nil {
			return filled, err
		}
		if n > 0 {
			idle = 0
			continue
		}
		if idle++; idle >= maxIdleCalls {
			return filled, io.ErrNoProgress
		}
	}
	return filled, nil
}
