// Package iobridge pairs asynchronous host completions with the blocking
// calls that issued them. Each request owns a one-slot channel, so a
// completion that arrives after its caller timed out wakes nobody.
package iobridge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/device"
)

// Response is what a completion delivers to the waiting caller
type Response struct {
	Data []byte
	Err  error
}

// Request is an outstanding host operation
type Request struct {
	ID     device.ReqID
	Op     string
	Handle uint16
	SentAt time.Time

	responseC chan Response
}

// Tracker hands out request IDs and routes completions by ID
type Tracker struct {
	nextID  atomic.Uint64
	pending *hashmap.Map[device.ReqID, *Request]
	timeout time.Duration
	logger  *logrus.Logger
}

// NewTracker creates a tracker; timeout bounds every Wait
func NewTracker(timeout time.Duration, logger *logrus.Logger) *Tracker {
	if logger == nil {
		logger = logrus.New()
	}
	return &Tracker{
		pending: hashmap.New[device.ReqID, *Request](),
		timeout: timeout,
		logger:  logger,
	}
}

// Start registers a new request for op on handle
func (t *Tracker) Start(op string, handle uint16) *Request {
	req := &Request{
		ID:        device.ReqID(t.nextID.Add(1)),
		Op:        op,
		Handle:    handle,
		SentAt:    time.Now(),
		responseC: make(chan Response, 1),
	}
	t.pending.Set(req.ID, req)
	return req
}

// Wait blocks until req completes, ctx ends or the tracker timeout expires.
// On timeout the request is forgotten; the host operation keeps running.
func (t *Tracker) Wait(ctx context.Context, req *Request) ([]byte, error) {
	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case rsp := <-req.responseC:
		return rsp.Data, rsp.Err
	case <-timer.C:
		t.pending.Del(req.ID)
		t.logger.WithFields(logrus.Fields{
			"req_id": req.ID,
			"op":     req.Op,
			"handle": req.Handle,
		}).Debug("Request timed out")
		return nil, fmt.Errorf("%s on handle 0x%04x after %s: %w", req.Op, req.Handle, t.timeout, device.ErrTimeout)
	case <-ctx.Done():
		t.pending.Del(req.ID)
		return nil, ctx.Err()
	}
}

// Abandon forgets req without waiting, e.g. when issuing it failed
func (t *Tracker) Abandon(req *Request) {
	t.pending.Del(req.ID)
}

// Complete delivers rsp to the request with id. It reports false when
// nobody waits for it any more.
func (t *Tracker) Complete(id device.ReqID, rsp Response) bool {
	req, ok := t.pending.Get(id)
	if !ok || !t.pending.Del(id) {
		t.logger.WithFields(logrus.Fields{
			"req_id": id,
			"error":  rsp.Err,
		}).Warn("Late completion dropped")
		return false
	}
	req.responseC <- rsp
	return true
}

// FailAll completes every outstanding request with err
func (t *Tracker) FailAll(err error) int {
	var ids []device.ReqID
	t.pending.Range(func(id device.ReqID, _ *Request) bool {
		ids = append(ids, id)
		return true
	})

	n := 0
	for _, id := range ids {
		if t.Complete(id, Response{Err: err}) {
			n++
		}
	}
	return n
}

// Pending returns the number of outstanding requests
func (t *Tracker) Pending() int {
	return t.pending.Len()
}
