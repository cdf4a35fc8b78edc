package audio

import "sync/atomic"

// State is the lifecycle state of a worker.
type State int32

const (
	StateIdle State = iota
	StateActive
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

type atomicState struct{ v atomic.Int32 }

func (a *atomicState) Load() State   { return State(a.v.Load()) }
func (a *atomicState) Store(s State) { a.v.Store(int32(s)) }

// releaseOnce guards a device handle so that only the first caller of
// Release reaches the device. The marker notification and a concurrent
// Stop both end up here.
type releaseOnce struct {
	released atomic.Bool
	release  func() error
}

func newReleaseOnce(release func() error) *releaseOnce {
	return &releaseOnce{release: release}
}

// Release reports whether this call performed the release.
func (r *releaseOnce) Release() (bool, error) {
	if !r.released.CompareAndSwap(false, true) {
		return false, nil
	}
	return true, r.release()
}

func (r *releaseOnce) Released() bool {
	return r.released.Load()
}
