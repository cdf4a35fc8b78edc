package audio

import "sync"

// sampleFIFO is a bounded ring of samples between a goroutine doing
// blocking Read/Write and a device callback that must never block.
type sampleFIFO struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []int16
	head   int
	size   int
	closed bool
}

func newSampleFIFO(capacity int) *sampleFIFO {
	f := &sampleFIFO{ring: make([]int16, capacity)}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Write blocks until there is room for at least one sample and stores as
// much of src as fits.
func (f *sampleFIFO) Write(src []int16) (int, error) {
	if len(src) == 0 {
		return 0, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.size == len(f.ring) && !f.closed {
		f.cond.Wait()
	}
	if f.closed {
		return 0, ErrDeviceReleased
	}
	return f.push(src), nil
}

// Read blocks until at least one sample is queued.
func (f *sampleFIFO) Read(dst []int16) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.size == 0 && !f.closed {
		f.cond.Wait()
	}
	if f.closed {
		return 0, ErrDeviceReleased
	}
	return f.pop(dst), nil
}

// TryWrite stores what fits without waiting; the rest is dropped.
func (f *sampleFIFO) TryWrite(src []int16) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0
	}
	return f.push(src)
}

// TryRead takes what is queued without waiting.
func (f *sampleFIFO) TryRead(dst []int16) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0
	}
	return f.pop(dst)
}

func (f *sampleFIFO) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// Close wakes every blocked caller with ErrDeviceReleased.
func (f *sampleFIFO) Close() {
	f.mu.Lock()
	f.closed = true
	f.cond.Broadcast()
	f.mu.Unlock()
}

func (f *sampleFIFO) push(src []int16) int {
	n := min(len(src), len(f.ring)-f.size)
	tail := (f.head + f.size) % len(f.ring)
	first := copy(f.ring[tail:], src[:n])
	copy(f.ring, src[first:n])
	f.size += n
	if n > 0 {
		f.cond.Broadcast()
	}
	return n
}

func (f *sampleFIFO) pop(dst []int16) int {
	n := min(len(dst), f.size)
	end := min(f.head+n, len(f.ring))
	first := copy(dst, f.ring[f.head:end])
	copy(dst[first:n], f.ring)
	f.head = (f.head + n) % len(f.ring)
	f.size -= n
	if n > 0 {
		f.cond.Broadcast()
	}
	return n
}
