package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lisuiheng/soundwave-go/audio"
	"github.com/lisuiheng/soundwave-go/metrics"
	"github.com/lisuiheng/soundwave-go/modem"
)

const (
	eventBuffer  = 64
	closeTimeout = 3 * time.Second
)

// EventType 表示会话事件类型
type EventType string

const (
	EventCaptureStarted    EventType = "capture_started"
	EventCaptureStopped    EventType = "capture_stopped"
	EventCaptureError      EventType = "capture_error"
	EventPlaybackStarted   EventType = "playback_started"
	EventPlaybackProgress  EventType = "playback_progress"
	EventPlaybackCompleted EventType = "playback_completed"
	EventPlaybackStopped   EventType = "playback_stopped"
	EventPlaybackError     EventType = "playback_error"
	EventMessage           EventType = "message"
)

// Event is one thing the engine wants the consumer to know about. Workers
// and device notifications never touch the console themselves; everything
// goes through Events.
type Event struct {
	Type     EventType
	Progress int // milliseconds, for progress and completion
	Samples  int // waveform length, for playback start
	Message  []byte
	Err      error
}

// Status 包含会话状态信息
type Status struct {
	Capture    audio.State
	Playback   audio.State
	ProgressMS int
	DurationMS int
	Sending    bool
	HalfDuplex bool
	Backend    string
}

// Options wires a Session to its audio backend and modem.
type Options struct {
	Backend    audio.Backend
	Bridge     modem.Bridge
	Audio      audio.Config
	HalfDuplex bool
	// RecordPath, when set, receives every captured chunk as a WAV file.
	RecordPath string
	Metrics    *metrics.Metrics
}

// Session owns the capture worker and at most one playback worker, and
// relays their callbacks onto a single event channel.
type Session struct {
	backend    audio.Backend
	bridge     modem.Bridge
	config     audio.Config
	halfDuplex bool
	logger     *slog.Logger
	metrics    *metrics.Metrics

	ctrl      audio.Controller
	captureMu sync.Mutex // serializes StartCapture and StopCapture
	capture   *audio.CaptureWorker
	tap       *audio.WAVWriter

	sendMu   sync.Mutex // serializes Send
	mu       sync.Mutex
	playback *audio.PlaybackWorker

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once

	ownsBackend bool
}

func NewSession(opts Options, log *slog.Logger) (*Session, error) {
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if opts.Backend == nil {
		return nil, errors.New("audio backend cannot be nil")
	}
	if opts.Bridge == nil {
		return nil, errors.New("modem bridge cannot be nil")
	}

	s := &Session{
		backend:    opts.Backend,
		bridge:     opts.Bridge,
		config:     opts.Audio,
		halfDuplex: opts.HalfDuplex,
		logger:     log,
		metrics:    opts.Metrics,
		ctrl:       audio.NewController(opts.HalfDuplex),
		events:     make(chan Event, eventBuffer),
		closed:     make(chan struct{}),
	}

	if opts.RecordPath != "" {
		tap, err := audio.CreateWAV(opts.RecordPath, opts.Audio.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to create recording: %w", err)
		}
		s.tap = tap
	}

	capture, err := audio.NewCaptureWorker(opts.Backend, opts.Audio, audio.FeederFunc(s.feed), log)
	if err != nil {
		if s.tap != nil {
			s.tap.Close()
		}
		return nil, fmt.Errorf("failed to create capture worker: %w", err)
	}
	capture.SetMetrics(opts.Metrics)
	capture.OnError(func(err error) {
		s.ctrl.StopReceiving()
		s.emit(Event{Type: EventCaptureError, Err: err})
	})
	s.capture = capture

	return s, nil
}

// Events yields session events in order. It is never closed; stop reading
// when Done is closed.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed by Close.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Run relays decoded messages from the modem until ctx ends, the session is
// closed or the modem goes away.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("Starting session main loop")
	defer s.logger.Info("Session main loop stopped")

	messages := s.bridge.Messages()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closed:
			return nil
		case msg, ok := <-messages:
			if !ok {
				select {
				case <-s.closed:
					return nil
				default:
				}
				return modem.ErrClosed
			}
			s.metrics.MessageReceived()
			s.logger.Info("Message decoded", "bytes", len(msg))
			s.emit(Event{Type: EventMessage, Message: msg})
		}
	}
}

// StartCapture opens the input device and starts feeding the decoder. It
// does nothing while already capturing.
func (s *Session) StartCapture(ctx context.Context) error {
	if s.isClosed() {
		return ErrNotRunning
	}

	s.captureMu.Lock()
	defer s.captureMu.Unlock()
	if s.capture.Capturing() {
		return nil
	}
	if err := s.capture.Start(ctx); err != nil {
		return err
	}
	s.ctrl.StartReceiving()
	s.emit(Event{Type: EventCaptureStarted})
	return nil
}

// StopCapture stops capturing without waiting for the device to be
// released.
func (s *Session) StopCapture() {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()
	if !s.capture.Stop() {
		return
	}
	s.ctrl.StopReceiving()
	s.emit(Event{Type: EventCaptureStopped})
}

// Send encodes text and starts playing it. The waveform is complete before
// playback begins. Only one transmission may be in flight.
func (s *Session) Send(ctx context.Context, text string) error {
	if s.isClosed() {
		return ErrNotRunning
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	busy := s.playback != nil && s.playback.Playing()
	s.mu.Unlock()
	if busy {
		return ErrPlaybackActive
	}

	began := time.Now()
	samples, err := s.bridge.Encode(ctx, text)
	if err != nil {
		return err
	}
	s.metrics.MessageSent(time.Since(began))

	var worker *audio.PlaybackWorker
	listener := audio.PlaybackFuncs{
		Progress: func(ms int) {
			s.emit(Event{Type: EventPlaybackProgress, Progress: ms})
		},
		Completion: func() {
			s.endTransmission(worker)
			s.emit(Event{Type: EventPlaybackCompleted, Progress: worker.Progress()})
		},
		Error: func(err error) {
			s.endTransmission(worker)
			s.emit(Event{Type: EventPlaybackError, Err: err})
		},
	}
	worker, err = audio.NewPlaybackWorker(s.backend, s.config, samples, listener, s.logger)
	if err != nil {
		return err
	}
	worker.SetMetrics(s.metrics)

	s.mu.Lock()
	s.playback = worker
	s.mu.Unlock()

	s.logger.Info("Transmitting message",
		"bytes", len(text),
		"samples", len(samples),
		"duration", worker.Duration())

	// Announced first: a short waveform can complete before Start returns.
	s.emit(Event{Type: EventPlaybackStarted, Samples: len(samples)})
	s.ctrl.StartSending()
	if err := worker.Start(ctx); err != nil {
		s.endTransmission(worker)
		s.emit(Event{Type: EventPlaybackError, Err: err})
		return err
	}
	return nil
}

// StopPlayback interrupts the current transmission and emits
// PlaybackStopped. A transmission whose last chunk is already queued is left
// to finish and emits PlaybackCompleted instead.
func (s *Session) StopPlayback() {
	s.mu.Lock()
	worker := s.playback
	s.mu.Unlock()

	if worker == nil || !worker.Stop() {
		return
	}
	s.endTransmission(worker)
	s.emit(Event{Type: EventPlaybackStopped, Progress: worker.Progress()})
}

// endTransmission reopens the decoder once worker is done, unless a newer
// transmission has taken over.
func (s *Session) endTransmission(worker *audio.PlaybackWorker) {
	s.mu.Lock()
	current := s.playback == worker
	s.mu.Unlock()
	if current {
		s.ctrl.StopSending()
	}
}

func (s *Session) Status() Status {
	st := Status{
		Capture:    s.capture.State(),
		Playback:   audio.StateIdle,
		Sending:    s.ctrl.IsSending(),
		HalfDuplex: s.halfDuplex,
		Backend:    s.backend.Name(),
	}

	s.mu.Lock()
	worker := s.playback
	s.mu.Unlock()
	if worker != nil {
		st.Playback = worker.State()
		st.ProgressMS = worker.Progress()
		st.DurationMS = int(worker.Duration() / time.Millisecond)
	}
	return st
}

// Close stops both workers, waits for their devices to be released and
// shuts down the modem bridge.
func (s *Session) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		close(s.closed)

		s.capture.Stop()
		s.mu.Lock()
		worker := s.playback
		s.mu.Unlock()
		if worker != nil {
			worker.Stop()
		}

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		// Run errors were already reported as events; only a device that
		// will not let go matters here.
		if err := s.capture.Wait(ctx); errors.Is(err, context.DeadlineExceeded) {
			errs = append(errs, fmt.Errorf("capture: %w", err))
		}
		if worker != nil {
			if err := worker.Wait(ctx); errors.Is(err, context.DeadlineExceeded) {
				errs = append(errs, fmt.Errorf("playback: %w", err))
			}
		}

		if s.tap != nil {
			if err := s.tap.Close(); err != nil {
				errs = append(errs, fmt.Errorf("recording: %w", err))
			}
		}
		if err := s.bridge.Close(); err != nil {
			errs = append(errs, fmt.Errorf("modem: %w", err))
		}
		if s.ownsBackend {
			if err := s.backend.Close(); err != nil {
				errs = append(errs, fmt.Errorf("backend: %w", err))
			}
		}
		s.logger.Info("Session closed")
	})
	return errors.Join(errs...)
}

// feed runs on the capture goroutine.
func (s *Session) feed(samples []int16) {
	if s.tap != nil {
		s.tap.Feed(samples)
	}
	// 发送期间不解码自己的信号
	if !s.ctrl.StartReceiving() {
		return
	}
	s.bridge.Feed(samples)
}

// emit delivers ev to the consumer. Progress events are dropped rather
// than stall a device notification when the consumer falls behind.
func (s *Session) emit(ev Event) {
	if ev.Type == EventPlaybackProgress {
		select {
		case s.events <- ev:
		default:
		}
		return
	}
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
