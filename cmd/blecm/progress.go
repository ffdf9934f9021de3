package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows "<prefix> (<phase> <n>s)" on one terminal line while
// a command waits on the peer.
//
//	p := NewProgressPrinter(os.Stderr, "Reading 2a19", "Connecting")
//	p.Start()
//	defer p.Stop()
//
// A printer whose writer is not a terminal prints nothing.
type ProgressPrinter struct {
	w       io.Writer
	enabled bool
	prefix  string
	phase   atomic.Value // string

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a count-up progress line on w
func NewProgressPrinter(w io.Writer, prefix, phase string) *ProgressPrinter {
	p := &ProgressPrinter{
		w:       w,
		enabled: isTerminal(w),
		prefix:  prefix,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// Start begins redrawing the line; later calls are ignored
func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		if !p.enabled {
			close(p.done)
			return
		}
		go p.loop(time.Now())
	})
}

func (p *ProgressPrinter) loop(started time.Time) {
	defer close(p.done)
	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()

	p.draw(0)
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.draw(int(time.Since(started).Seconds()))
		}
	}
}

func (p *ProgressPrinter) draw(seconds int) {
	phase := p.phase.Load().(string)
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// SetPhase changes the phase shown on the next redraw
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Stop clears the line. Safe to call more than once and before Start.
func (p *ProgressPrinter) Stop() {
	p.startOnce.Do(func() { close(p.done) })
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
		if p.enabled {
			fmt.Fprint(p.w, clearLineSequence)
		}
	})
}
