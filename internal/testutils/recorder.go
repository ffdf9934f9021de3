package testutils

import (
	"sync"
	"time"
)

// Recorded is one captured publication
type Recorded struct {
	Topic   string
	Payload any
}

// Recorder is a publisher that keeps everything it is given
type Recorder struct {
	mu      sync.Mutex
	events  []Recorded
	changed chan struct{}
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{changed: make(chan struct{})}
}

// Publish records the event
func (r *Recorder) Publish(topic string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Topic: topic, Payload: payload})
	close(r.changed)
	r.changed = make(chan struct{})
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Topics returns the recorded topics in publish order
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Topic
	}
	return out
}

// Count returns how many events of topic were recorded
func (r *Recorder) Count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Topic == topic {
			n++
		}
	}
	return n
}

// Last returns the latest event of topic
func (r *Recorder) Last(topic string) (Recorded, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Topic == topic {
			return r.events[i], true
		}
	}
	return Recorded{}, false
}

// WaitFor blocks until at least n events of topic were recorded
func (r *Recorder) WaitFor(topic string, n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		changed := r.changed
		r.mu.Unlock()

		if r.Count(topic) >= n {
			return true
		}
		select {
		case <-changed:
		case <-deadline.C:
			return r.Count(topic) >= n
		}
	}
}

// Reset forgets every recorded event
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
