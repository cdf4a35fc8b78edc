package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func ramp(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(i%30000 + 1)
	}
	return s
}

func waitDone(t *testing.T, l *recordingListener) {
	t.Helper()
	select {
	case <-l.done:
	case <-time.After(5 * time.Second):
		t.Fatal("playback never finished")
	}
}

func TestPlaybackEmptyWaveform(t *testing.T) {
	_, err := NewPlaybackWorker(NewVirtualBackend(VirtualOptions{}, testLogger()), DefaultConfig(), nil, nil, testLogger())
	if !errors.Is(err, ErrEmptyWaveform) {
		t.Fatalf("NewPlaybackWorker(nil) error = %v, want ErrEmptyWaveform", err)
	}
}

func TestPlaybackPadsFinalChunk(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		writes int
	}{
		{"shorter than a chunk", 100, 1},
		{"exact chunks", 2 * PlaybackChunkSamples, 2},
		{"partial tail", 10000, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := NewVirtualBackend(VirtualOptions{}, testLogger())
			l := newRecordingListener()
			w, err := NewPlaybackWorker(backend, DefaultConfig(), ramp(tt.n), l, testLogger())
			if err != nil {
				t.Fatal(err)
			}
			if err := w.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			waitDone(t, l)
			if err := w.Wait(context.Background()); err != nil {
				t.Fatalf("Wait() error = %v", err)
			}

			out := backend.Outputs()[0]
			if out.Writes() != tt.writes {
				t.Errorf("writes = %d, want %d", out.Writes(), tt.writes)
			}
			written := out.Written()
			if len(written) != tt.writes*PlaybackChunkSamples {
				t.Fatalf("written = %d, want %d", len(written), tt.writes*PlaybackChunkSamples)
			}
			for i := 0; i < tt.n; i++ {
				if written[i] != int16(i%30000+1) {
					t.Fatalf("written[%d] = %d", i, written[i])
				}
			}
			for i := tt.n; i < len(written); i++ {
				if written[i] != 0 {
					t.Fatalf("padding written[%d] = %d, want 0", i, written[i])
				}
			}
		})
	}
}

func TestPlaybackEndToEnd(t *testing.T) {
	backend := NewVirtualBackend(VirtualOptions{}, testLogger())
	l := newRecordingListener()
	w, err := NewPlaybackWorker(backend, DefaultConfig(), ramp(144000), l, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if got := w.Duration(); got != 3*time.Second {
		t.Errorf("Duration() = %v, want 3s", got)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, l)
	w.Wait(context.Background())

	out := backend.Outputs()[0]
	if out.Writes() != 36 {
		t.Errorf("writes = %d, want 36", out.Writes())
	}
	if pad := len(out.Written()) - 144000; pad != 3456 {
		t.Errorf("padding = %d, want 3456", pad)
	}

	progress, completions, errs := l.snapshot()
	if completions != 1 || len(errs) != 0 {
		t.Fatalf("completions = %d, errors = %v", completions, errs)
	}
	if last := progress[len(progress)-1]; last != 3000 {
		t.Errorf("final progress = %d, want 3000", last)
	}
	if w.Progress() != 3000 {
		t.Errorf("Progress() = %d, want 3000", w.Progress())
	}
	if w.State() != StateCompleted {
		t.Errorf("state = %v, want completed", w.State())
	}
	if out.Releases() != 1 {
		t.Errorf("releases = %d, want 1", out.Releases())
	}
}

func TestPlaybackProgressBounds(t *testing.T) {
	backend := NewVirtualBackend(VirtualOptions{Realtime: true}, testLogger())
	l := newRecordingListener()
	n := SampleRate / 2
	w, err := NewPlaybackWorker(backend, DefaultConfig(), ramp(n), l, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, l)

	progress, completions, _ := l.snapshot()
	if completions != 1 {
		t.Fatalf("completions = %d, want 1", completions)
	}
	if len(progress) < 5 {
		t.Fatalf("only %d progress reports for 500 ms at 30 Hz", len(progress))
	}
	final := ProgressMillis(int64(n), SampleRate)
	period := 1000 / PositionNotifyHz
	for i, ms := range progress {
		if ms < 0 || ms > final {
			t.Errorf("progress[%d] = %d out of [0,%d]", i, ms, final)
		}
		if i > 0 && ms < progress[i-1] {
			t.Errorf("progress went backwards: %d after %d", ms, progress[i-1])
		}
	}
	// The last periodic report lands within one period of the end.
	if len(progress) >= 2 {
		if beforeFinal := progress[len(progress)-2]; final-beforeFinal > 2*period {
			t.Errorf("last periodic progress %d is more than a period before %d", beforeFinal, final)
		}
	}
	if progress[len(progress)-1] != final {
		t.Errorf("final progress = %d, want %d", progress[len(progress)-1], final)
	}
}

func TestPlaybackStartIsIdempotent(t *testing.T) {
	backend := NewVirtualBackend(VirtualOptions{Realtime: true}, testLogger())
	w, err := NewPlaybackWorker(backend, DefaultConfig(), ramp(SampleRate), nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(backend.Outputs()); got != 1 {
		t.Errorf("outputs opened = %d, want 1", got)
	}
	if !w.Playing() {
		t.Error("not playing after Start")
	}

	if !w.Stop() {
		t.Error("Stop() = false while the writer was mid-waveform")
	}
	if w.Stop() {
		t.Error("second Stop() = true")
	}
	if w.State() != StateIdle {
		t.Errorf("state after Stop = %v, want idle", w.State())
	}
	if err := w.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got := backend.Outputs()[0].Releases(); got != 1 {
		t.Errorf("releases = %d, want 1", got)
	}
}

func TestPlaybackConcurrentStart(t *testing.T) {
	backend := NewVirtualBackend(VirtualOptions{Realtime: true}, testLogger())
	w, err := NewPlaybackWorker(backend, DefaultConfig(), ramp(SampleRate), nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Start(context.Background()); err != nil {
				t.Errorf("Start() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(backend.Outputs()); got != 1 {
		t.Fatalf("outputs opened = %d, want 1", got)
	}
	w.Stop()
	if err := w.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got := backend.Outputs()[0].Releases(); got != 1 {
		t.Errorf("releases = %d, want 1", got)
	}
}

func TestPlaybackStopRacingMarker(t *testing.T) {
	for i := 0; i < 50; i++ {
		backend := NewVirtualBackend(VirtualOptions{}, testLogger())
		l := newRecordingListener()
		w, err := NewPlaybackWorker(backend, DefaultConfig(), ramp(PlaybackChunkSamples), l, testLogger())
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		if i%2 == 0 {
			time.Sleep(time.Duration(i) * 10 * time.Microsecond)
		}
		interrupted := w.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.Wait(ctx); err != nil {
			cancel()
			t.Fatalf("iteration %d: Wait() error = %v", i, err)
		}
		cancel()

		want := 1
		if interrupted {
			want = 0
		} else {
			waitDone(t, l)
		}
		_, completions, errs := l.snapshot()
		if completions != want || len(errs) != 0 {
			t.Fatalf("iteration %d: interrupted = %v, completions = %d, errors = %v", i, interrupted, completions, errs)
		}
		if got := backend.Outputs()[0].Releases(); got != 1 {
			t.Fatalf("iteration %d: releases = %d, want 1", i, got)
		}
	}
}

func TestPlaybackStopAfterLastWriteCompletes(t *testing.T) {
	backend := NewVirtualBackend(VirtualOptions{Realtime: true}, testLogger())
	l := newRecordingListener()
	// One chunk fits the device buffer, so the writer is done at once while
	// the head needs about 85 ms to reach the marker.
	w, err := NewPlaybackWorker(backend, DefaultConfig(), ramp(PlaybackChunkSamples), l, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	if w.Stop() {
		t.Fatal("Stop() = true after the whole waveform was queued")
	}
	if err := w.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	waitDone(t, l)

	progress, completions, errs := l.snapshot()
	if completions != 1 || len(errs) != 0 {
		t.Fatalf("completions = %d, errors = %v", completions, errs)
	}
	if last, final := progress[len(progress)-1], ProgressMillis(PlaybackChunkSamples, SampleRate); last != final {
		t.Errorf("final progress = %d, want %d", last, final)
	}
	if w.State() != StateCompleted {
		t.Errorf("state = %v, want completed", w.State())
	}
	if got := backend.Outputs()[0].Releases(); got != 1 {
		t.Errorf("releases = %d, want 1", got)
	}
}

func TestPlaybackStopSuppressesCompletion(t *testing.T) {
	backend := NewVirtualBackend(VirtualOptions{Realtime: true}, testLogger())
	l := newRecordingListener()
	w, err := NewPlaybackWorker(backend, DefaultConfig(), ramp(SampleRate*2), l, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if !w.Stop() {
		t.Fatal("Stop() = false while the writer was mid-waveform")
	}
	// A notification already past its check may still land.
	time.Sleep(5 * time.Millisecond)
	before, _, _ := l.snapshot()
	w.Wait(context.Background())
	time.Sleep(100 * time.Millisecond)

	progress, completions, _ := l.snapshot()
	if completions != 0 {
		t.Errorf("completions = %d after Stop, want 0", completions)
	}
	if len(progress) != len(before) {
		t.Errorf("%d progress reports after Stop", len(progress)-len(before))
	}
}

func TestPlaybackReplayAfterCompletion(t *testing.T) {
	backend := NewVirtualBackend(VirtualOptions{}, testLogger())
	done := make(chan struct{}, 2)
	listener := PlaybackFuncs{Completion: func() { done <- struct{}{} }}
	w, err := NewPlaybackWorker(backend, DefaultConfig(), ramp(5000), listener, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	for round := 1; round <= 2; round++ {
		if err := w.Start(context.Background()); err != nil {
			t.Fatalf("round %d: Start() error = %v", round, err)
		}
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("round %d never completed", round)
		}
		w.Wait(context.Background())
		if w.State() != StateCompleted {
			t.Errorf("round %d: state = %v, want completed", round, w.State())
		}
	}
	outs := backend.Outputs()
	if len(outs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(outs))
	}
	if got := outs[1].Written()[0]; got != 1 {
		t.Errorf("replay started at sample %d, want the first", got)
	}
}

func TestPlaybackShortWritesAreContinued(t *testing.T) {
	out := &fakeOutput{maxWrite: 1000}
	backend := &fakeBackend{openOutput: func() (OutputDevice, error) { return out, nil }}
	l := newRecordingListener()
	n := 9000
	w, err := NewPlaybackWorker(backend, DefaultConfig(), ramp(n), l, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, l)
	w.Wait(context.Background())

	written := out.Written()
	if want := 3 * PlaybackChunkSamples; len(written) != want {
		t.Fatalf("written = %d, want %d", len(written), want)
	}
	for i := 0; i < n; i++ {
		if written[i] != int16(i%30000+1) {
			t.Fatalf("written[%d] = %d", i, written[i])
		}
	}
	if out.releases.Load() != 1 {
		t.Errorf("releases = %d, want 1", out.releases.Load())
	}
}

func TestPlaybackWriteErrorIsFatal(t *testing.T) {
	out := &fakeOutput{failAt: 2}
	backend := &fakeBackend{openOutput: func() (OutputDevice, error) { return out, nil }}
	l := newRecordingListener()
	w, err := NewPlaybackWorker(backend, DefaultConfig(), ramp(SampleRate), l, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, l)

	if err := w.Wait(context.Background()); err == nil {
		t.Error("Wait() returned nil after a write error")
	}
	_, completions, errs := l.snapshot()
	if completions != 0 || len(errs) != 1 {
		t.Errorf("completions = %d, errors = %v", completions, errs)
	}
	if w.State() != StateIdle {
		t.Errorf("state = %v, want idle", w.State())
	}
	if out.releases.Load() != 1 {
		t.Errorf("releases = %d, want 1", out.releases.Load())
	}
}

func TestPlaybackStartFailure(t *testing.T) {
	w, err := NewPlaybackWorker(&fakeBackend{}, DefaultConfig(), ramp(100), nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Start() error = %v, want ErrDeviceUnavailable", err)
	}
	if w.State() != StateIdle || w.Playing() {
		t.Errorf("state = %v after failed start", w.State())
	}
}
