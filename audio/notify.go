package audio

import (
	"sync"
	"sync/atomic"
)

// notifier tracks the play head of an output device and runs position and
// marker callbacks on its own goroutine, never on the audio callback and
// never on the writer.
type notifier struct {
	position atomic.Int64

	mu          sync.Mutex
	period      int64
	onPeriod    func()
	lastPeriod  int64
	marker      int64
	onMarker    func()
	markerFired bool

	kick      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newNotifier() *notifier {
	n := &notifier{
		marker: -1,
		kick:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) SetPositionNotification(periodFrames int, fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.period = int64(periodFrames)
	n.onPeriod = fn
	n.lastPeriod = n.position.Load() / max(n.period, 1)
}

func (n *notifier) SetMarker(frame int64, fn func()) {
	n.mu.Lock()
	n.marker = frame
	n.onMarker = fn
	n.markerFired = false
	n.mu.Unlock()
	n.signal()
}

func (n *notifier) Position() int64 {
	return n.position.Load()
}

// Advance records frames that have left the device. Safe from a realtime
// callback: it never blocks.
func (n *notifier) Advance(frames int) {
	if frames <= 0 {
		return
	}
	n.position.Add(int64(frames))
	n.signal()
}

func (n *notifier) signal() {
	select {
	case n.kick <- struct{}{}:
	default:
	}
}

// Close stops dispatching. It may be called from inside a callback.
func (n *notifier) Close() {
	n.closeOnce.Do(func() { close(n.closed) })
}

func (n *notifier) isClosed() bool {
	select {
	case <-n.closed:
		return true
	default:
		return false
	}
}

func (n *notifier) run() {
	for {
		select {
		case <-n.closed:
			return
		case <-n.kick:
		}
		n.dispatch()
	}
}

func (n *notifier) dispatch() {
	pos := n.position.Load()

	n.mu.Lock()
	var periodic, marker func()
	if n.onPeriod != nil && n.period > 0 {
		if p := pos / n.period; p > n.lastPeriod {
			n.lastPeriod = p
			periodic = n.onPeriod
		}
	}
	if n.onMarker != nil && !n.markerFired && n.marker >= 0 && pos >= n.marker {
		n.markerFired = true
		marker = n.onMarker
	}
	n.mu.Unlock()

	if periodic != nil && !n.isClosed() {
		periodic()
	}
	if marker != nil && !n.isClosed() {
		marker()
	}
}
