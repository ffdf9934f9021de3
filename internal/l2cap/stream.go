package l2cap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"
	"github.com/srg/blecm/internal/device"
)

// Stream adapts a CoC channel to io.Reader and io.Writer. Received SDUs are
// copied into an owned byte ring; writes are split into MTU-sized SDUs and
// wait out credit stalls.
//
//	st := l2cap.NewStream(mgr, 4096, 512)
//	_ = mgr.Connect(conn, 0x80, 512, 512, st.HandleEvent, nil)
//	_ = st.WaitConnected(ctx)
//	_, _ = io.Copy(os.Stdout, st)
type Stream struct {
	mgr     *Manager
	sduSize int

	mu        sync.Mutex
	cond      *sync.Cond
	ch        *Channel
	rx        *ringbuffer.RingBuffer
	connected bool
	closed    bool
	err       error
	deferred  bool // RecvReady postponed until the ring has room

	unstalled chan struct{}
	ready     chan struct{}
	readyOnce sync.Once

	// WriteTimeout bounds the wait for credit or buffers per SDU
	WriteTimeout time.Duration
}

// NewStream creates a stream whose receive ring holds rxCap bytes
func NewStream(mgr *Manager, rxCap, sduSize int) *Stream {
	st := &Stream{
		mgr:          mgr,
		sduSize:      sduSize,
		rx:           ringbuffer.New(rxCap),
		unstalled:    make(chan struct{}, 1),
		ready:        make(chan struct{}),
		WriteTimeout: 5 * time.Second,
	}
	st.cond = sync.NewCond(&st.mu)
	return st
}

// HandleEvent is the channel callback driving the stream
func (st *Stream) HandleEvent(ev *Event) error {
	switch ev.Type {
	case device.CocAccept:
		st.mu.Lock()
		st.ch = ev.Chan
		st.mu.Unlock()
		return st.mgr.Accept(ev.Chan, st.sduSize)

	case device.CocConnected:
		st.mu.Lock()
		st.ch = ev.Chan
		if ev.Status != 0 {
			st.err = device.StatusError("coc connect", ev.Status)
			st.closed = true
		} else {
			st.connected = true
		}
		st.cond.Broadcast()
		st.mu.Unlock()
		st.readyOnce.Do(func() { close(st.ready) })

	case device.CocDataReceived:
		st.mu.Lock()
		n, err := st.rx.Write(ev.SDU)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
			st.err = err
		}
		if n < len(ev.SDU) {
			st.err = fmt.Errorf("stream receive ring overflow, %d bytes dropped: %w", len(ev.SDU)-n, device.ErrNoMemory)
		}
		grant := st.rx.Free() >= st.sduSize
		st.deferred = !grant
		ch := st.ch
		st.cond.Broadcast()
		st.mu.Unlock()
		if grant {
			return st.mgr.RecvReady(ch, st.sduSize)
		}

	case device.CocTxUnstalled:
		select {
		case st.unstalled <- struct{}{}:
		default:
		}

	case device.CocDisconnected:
		st.mu.Lock()
		st.connected = false
		st.closed = true
		st.cond.Broadcast()
		st.mu.Unlock()
		st.readyOnce.Do(func() { close(st.ready) })
	}
	return nil
}

// WaitConnected blocks until the channel connects or fails
func (st *Stream) WaitConnected(ctx context.Context) error {
	select {
	case <-st.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.connected {
		if st.err != nil {
			return st.err
		}
		return fmt.Errorf("coc stream: %w", device.ErrNotConnected)
	}
	return nil
}

// Read copies buffered bytes into p, blocking until data arrives or the
// channel closes.
func (st *Stream) Read(p []byte) (int, error) {
	st.mu.Lock()
	for st.rx.IsEmpty() && !st.closed {
		st.cond.Wait()
	}
	if st.rx.IsEmpty() {
		err := st.err
		st.mu.Unlock()
		if err != nil {
			return 0, err
		}
		return 0, io.EOF
	}

	n, err := st.rx.Read(p)
	if errors.Is(err, ringbuffer.ErrIsEmpty) {
		err = nil
	}
	regrant := st.deferred && st.rx.Free() >= st.sduSize && st.connected
	if regrant {
		st.deferred = false
	}
	ch := st.ch
	st.mu.Unlock()

	if regrant {
		if rerr := st.mgr.RecvReady(ch, st.sduSize); rerr != nil && err == nil {
			err = rerr
		}
	}
	return n, err
}

// Write sends p as a sequence of SDUs no larger than the channel MTU
func (st *Stream) Write(p []byte) (int, error) {
	st.mu.Lock()
	ch := st.ch
	connected := st.connected
	st.mu.Unlock()
	if ch == nil || !connected {
		return 0, fmt.Errorf("coc stream: %w", device.ErrNotConnected)
	}

	mtu := int(ch.MTU())
	written := 0
	for written < len(p) {
		end := written + mtu
		if end > len(p) {
			end = len(p)
		}
		if err := st.sendSDU(ch, p[written:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

func (st *Stream) sendSDU(ch *Channel, sdu []byte) error {
	deadline := time.NewTimer(st.WriteTimeout)
	defer deadline.Stop()

	for {
		err := st.mgr.Send(ch, sdu)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, device.ErrNotFinished):
			select {
			case <-st.unstalled:
			case <-deadline.C:
				return fmt.Errorf("coc stream stalled: %w", device.ErrTimeout)
			}
		case errors.Is(err, device.ErrNoMemory):
			select {
			case <-time.After(5 * time.Millisecond):
			case <-deadline.C:
				return fmt.Errorf("coc stream out of buffers: %w", device.ErrTimeout)
			}
		default:
			return err
		}
	}
}

// Channel returns the underlying channel, nil before Connected/Accept
func (st *Stream) Channel() *Channel {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.ch
}

// Close disconnects the channel
func (st *Stream) Close() error {
	st.mu.Lock()
	ch := st.ch
	open := st.connected
	st.mu.Unlock()
	if ch == nil || !open {
		return nil
	}
	return st.mgr.Disconnect(ch)
}
