package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/eventbus"
	"github.com/srg/blecm/internal/session"
	"github.com/srg/blecm/internal/svcindex"
	"golang.org/x/term"
)

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printer writes command output. Event handlers run on bus goroutines, so
// every write takes the lock.
type printer struct {
	mu sync.Mutex
	w  io.Writer

	service *color.Color
	char    *color.Color
	handle  *color.Color
	topic   *color.Color
	warn    *color.Color
}

func newPrinter(w io.Writer) *printer {
	p := &printer{
		w:       w,
		service: color.New(color.FgCyan, color.Bold),
		char:    color.New(color.FgGreen),
		handle:  color.New(color.FgHiBlack),
		topic:   color.New(color.FgYellow),
		warn:    color.New(color.FgRed),
	}
	if !isTerminal(w) || color.NoColor {
		for _, c := range []*color.Color{p.service, p.char, p.handle, p.topic, p.warn} {
			c.DisableColor()
		}
	} else {
		for _, c := range []*color.Color{p.service, p.char, p.handle, p.topic, p.warn} {
			c.EnableColor()
		}
	}
	return p
}

func (p *printer) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

// formatValue renders a value as hex or, when --hex is off and the bytes are
// printable, as text
func formatValue(data []byte, asHex bool) string {
	if asHex || !printable(data) {
		return hex.EncodeToString(data)
	}
	return string(data)
}

func printable(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	for _, b := range data {
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return true
}

// DescriptorValues maps descriptor handles to their read values
type DescriptorValues map[uint16][]byte

// Services prints the discovered database as an indented tree
func (p *printer) Services(services []svcindex.ServiceInfo, values DescriptorValues) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, svc := range services {
		fmt.Fprintf(p.w, "%s %s\n",
			p.service.Sprintf("Service %s", svc.UUID),
			p.handle.Sprintf("[0x%04x-0x%04x]", svc.StartHandle, svc.EndHandle))
		for _, c := range svc.Characteristics {
			fmt.Fprintf(p.w, "  %s %s %s\n",
				p.char.Sprintf("Characteristic %s", c.UUID),
				p.handle.Sprintf("[value 0x%04x]", c.ValueHandle),
				c.Properties)
			for _, d := range c.Descriptors {
				line := fmt.Sprintf("    Descriptor %s %s", d.UUID, p.handle.Sprintf("[0x%04x]", d.Handle))
				if data, ok := values[d.Handle]; ok {
					if u, err := device.ParseUUID(d.UUID); err == nil {
						line += " = " + device.DescribeDescriptor(u, data)
					}
				}
				fmt.Fprintln(p.w, line)
			}
		}
	}
}

// Event prints one session event as a single line
func (p *printer) Event(ev eventbus.Event) {
	var body string
	switch pl := ev.Payload.(type) {
	case session.LifecyclePayload:
		body = fmt.Sprintf("%s as %s", pl.DeviceName, pl.Role)
	case session.ConnectedPayload:
		body = fmt.Sprintf("peer=%s conn=0x%04x mtu=%d", pl.PeerAddr, pl.ConnHandle, pl.MTU)
	case session.DisconnectedPayload:
		body = fmt.Sprintf("peer=%s conn=0x%04x reason=0x%02x", pl.PeerAddr, pl.ConnHandle, pl.Reason)
	case session.DataPayload:
		name := pl.UUID
		if name == "" {
			name = fmt.Sprintf("0x%04x", pl.Handle)
		}
		kind := "notification"
		switch {
		case pl.Local:
			kind = "write"
		case pl.Indication:
			kind = "indication"
		}
		body = fmt.Sprintf("%s %s %s", kind, name, hex.EncodeToString(pl.Data))
	case session.CccdPayload:
		body = fmt.Sprintf("%s notify=%t indicate=%t", pl.UUID, pl.Notify, pl.Indicate)
	case session.DiscoveryPayload:
		body = fmt.Sprintf("%d services", len(pl.Services))
	case device.AdvReportEvent:
		body = fmt.Sprintf("%s %q rssi=%d", pl.Addr, pl.Name, pl.RSSI)
	default:
		body = fmt.Sprintf("%+v", pl)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s\n", p.topic.Sprintf("[%s]", ev.Topic), body)
}

// Warn prints a highlighted line
func (p *printer) Warn(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, p.warn.Sprintf(format, args...))
}
