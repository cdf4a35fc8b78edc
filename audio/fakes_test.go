package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errNoDevice = errors.New("no such device")

// fakeBackend hands out devices built by the test.
type fakeBackend struct {
	openInput  func() (InputDevice, error)
	openOutput func() (OutputDevice, error)
}

func (b *fakeBackend) Name() string { return "fake" }
func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) OpenInput(ctx context.Context, p DeviceParams) (InputDevice, error) {
	if b.openInput == nil {
		return nil, errNoDevice
	}
	return b.openInput()
}

func (b *fakeBackend) OpenOutput(ctx context.Context, p DeviceParams) (OutputDevice, error) {
	if b.openOutput == nil {
		return nil, errNoDevice
	}
	return b.openOutput()
}

// fakeOutput accepts at most maxWrite samples per call and fails the write
// numbered failAt (1-based) when set. Playing everything it accepts is
// instant, so the marker fires as soon as enough has been written.
type fakeOutput struct {
	maxWrite int
	failAt   int

	mu       sync.Mutex
	calls    int
	written  []int16
	marker   int64
	onMarker func()
	fired    bool

	releases atomic.Int32
}

func (o *fakeOutput) Write(buf []int16) (int, error) {
	o.mu.Lock()
	o.calls++
	if o.failAt > 0 && o.calls == o.failAt {
		o.mu.Unlock()
		return 0, errors.New("device unplugged")
	}
	n := len(buf)
	if o.maxWrite > 0 {
		n = min(n, o.maxWrite)
	}
	o.written = append(o.written, buf[:n]...)
	var fire func()
	if !o.fired && o.onMarker != nil && int64(len(o.written)) >= o.marker {
		o.fired = true
		fire = o.onMarker
	}
	o.mu.Unlock()

	if fire != nil {
		go fire()
	}
	return n, nil
}

func (o *fakeOutput) SetPositionNotification(periodFrames int, fn func()) {}

func (o *fakeOutput) SetMarker(frame int64, fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.marker, o.onMarker = frame, fn
}

func (o *fakeOutput) Position() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return int64(len(o.written))
}

func (o *fakeOutput) Playing() bool { return o.releases.Load() == 0 }

func (o *fakeOutput) Release() error {
	o.releases.Add(1)
	return nil
}

func (o *fakeOutput) Written() []int16 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int16(nil), o.written...)
}

// recordingListener counts playback callbacks.
type recordingListener struct {
	mu          sync.Mutex
	progress    []int
	completions int
	errs        []error
	done        chan struct{}
	doneOnce    sync.Once
}

func newRecordingListener() *recordingListener {
	return &recordingListener{done: make(chan struct{})}
}

func (l *recordingListener) OnProgress(ms int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = append(l.progress, ms)
}

func (l *recordingListener) OnCompletion() {
	l.mu.Lock()
	l.completions++
	l.mu.Unlock()
	l.doneOnce.Do(func() { close(l.done) })
}

func (l *recordingListener) OnError(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
	l.doneOnce.Do(func() { close(l.done) })
}

func (l *recordingListener) snapshot() ([]int, int, []error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.progress...), l.completions, append([]error(nil), l.errs...)
}

// counterSource produces an increasing sample sequence in reads of at most
// step samples.
type counterSource struct {
	step int
	next atomic.Int32
}

func (s *counterSource) Read(dst []int16) (int, error) {
	n := min(len(dst), s.step)
	for i := 0; i < n; i++ {
		dst[i] = int16(s.next.Add(1))
	}
	return n, nil
}

// readerDevice turns a read function into an InputDevice.
type readerDevice func(dst []int16) (int, error)

func (f readerDevice) Read(dst []int16) (int, error) { return f(dst) }
func (f readerDevice) Release() error                { return nil }
