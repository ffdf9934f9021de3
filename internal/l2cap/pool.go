package l2cap

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/srg/blecm/internal/device"
)

// Pool is a fixed set of SDU buffers kept on a lock-free free list
type Pool struct {
	free    mpmc.RichOverlappedRingBuffer[[]byte]
	bufSize int
	size    int
	inUse   atomic.Int32

	// buffers handed out by Get, keyed by backing array
	mu  sync.Mutex
	out map[*byte]struct{}
}

// NewPool allocates n buffers of bufSize bytes
func NewPool(n, bufSize int) (*Pool, error) {
	if n <= 0 || bufSize <= 0 {
		return nil, device.InvalidArgf("sdu pool %dx%d", n, bufSize)
	}

	// ring capacity is rounded to a power of two and keeps one slot open
	p := &Pool{
		free:    mpmc.NewOverlappedRingBuffer[[]byte](uint32(2 * n)),
		bufSize: bufSize,
		size:    n,
		out:     make(map[*byte]struct{}, n),
	}
	for i := 0; i < n; i++ {
		if _, err := p.free.EnqueueM(make([]byte, bufSize)); err != nil {
			return nil, fmt.Errorf("sdu pool init: %w", device.ErrNoMemory)
		}
	}
	return p, nil
}

// Get takes a buffer off the free list
func (p *Pool) Get() ([]byte, error) {
	if p.free.IsEmpty() {
		return nil, fmt.Errorf("sdu pool exhausted (%d buffers): %w", p.size, device.ErrNoMemory)
	}
	buf, err := p.free.Dequeue()
	if err != nil {
		return nil, fmt.Errorf("sdu pool exhausted (%d buffers): %w", p.size, device.ErrNoMemory)
	}
	p.mu.Lock()
	p.out[&buf[0]] = struct{}{}
	p.mu.Unlock()
	p.inUse.Add(1)
	return buf[:p.bufSize], nil
}

// Put returns a buffer obtained from Get. A buffer that is not currently
// handed out, e.g. one already returned, is rejected and the free list is
// left untouched.
func (p *Pool) Put(buf []byte) error {
	if cap(buf) == 0 {
		return nil
	}

	key := &buf[:1][0]
	p.mu.Lock()
	_, ok := p.out[key]
	delete(p.out, key)
	p.mu.Unlock()
	if !ok {
		return device.InvalidArgf("sdu buffer %p is not owned by the pool", key)
	}

	p.inUse.Add(-1)
	if _, err := p.free.EnqueueM(buf[:cap(buf)]); err != nil {
		return fmt.Errorf("sdu pool free list: %w", device.ErrInternal)
	}
	return nil
}

// InUse returns the number of buffers handed out
func (p *Pool) InUse() int {
	return int(p.inUse.Load())
}

// BufSize returns the size of each buffer
func (p *Pool) BufSize() int {
	return p.bufSize
}
