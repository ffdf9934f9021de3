// Package svcindex keeps the discovered GATT database of the peer: services
// sorted by start handle, each owning characteristics sorted by value handle,
// each owning descriptors sorted by handle.
package svcindex

import (
	"fmt"
	"sort"
	"sync"

	"github.com/srg/blecm/internal/device"
)

// Descriptor is a discovered characteristic descriptor
type Descriptor struct {
	UUID   device.UUID
	Handle uint16
}

// Characteristic is a discovered characteristic and its descriptors
type Characteristic struct {
	UUID        device.UUID
	DefHandle   uint16
	ValueHandle uint16
	Properties  device.Property
	Descriptors []Descriptor

	descsDiscovered bool
}

// Service is a discovered primary service and its characteristics
type Service struct {
	UUID            device.UUID
	Range           device.HandleRange
	Characteristics []*Characteristic

	charsDiscovered bool
}

// Index is the ordered collection of discovered services.
// Mutations come from the host goroutine only; the mutex keeps snapshot
// readers on other goroutines consistent.
type Index struct {
	mu       sync.RWMutex
	services []*Service
}

// New creates an empty index
func New() *Index {
	return &Index{}
}

// InsertService adds a service at its sorted position: before the first
// record whose start handle is >= the new one, or at the end.
func (x *Index) InsertService(uuid device.UUID, r device.HandleRange) (*Service, error) {
	if !uuid.IsValid() {
		return nil, device.InvalidArgf("service uuid is not set")
	}
	if !r.Valid() {
		return nil, device.InvalidArgf("service %s has invalid range %s", uuid, r)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	svc := &Service{UUID: uuid, Range: r}
	pos := sort.Search(len(x.services), func(i int) bool {
		return x.services[i].Range.Start >= r.Start
	})
	x.services = append(x.services, nil)
	copy(x.services[pos+1:], x.services[pos:])
	x.services[pos] = svc
	return svc, nil
}

// InsertCharacteristic adds a characteristic to svc keeping value-handle order.
// The value handle must lie within the service range and follow the definition handle.
func (x *Index) InsertCharacteristic(svc *Service, c Characteristic) (*Characteristic, error) {
	if !svc.Range.Contains(c.DefHandle) || !svc.Range.Contains(c.ValueHandle) || c.ValueHandle <= c.DefHandle {
		return nil, device.InvalidArgf("characteristic %s (def 0x%04x, value 0x%04x) outside service %s range %s",
			c.UUID, c.DefHandle, c.ValueHandle, svc.UUID, svc.Range)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	chr := &Characteristic{
		UUID:        c.UUID,
		DefHandle:   c.DefHandle,
		ValueHandle: c.ValueHandle,
		Properties:  c.Properties,
	}
	pos := sort.Search(len(svc.Characteristics), func(i int) bool {
		return svc.Characteristics[i].ValueHandle >= c.ValueHandle
	})
	svc.Characteristics = append(svc.Characteristics, nil)
	copy(svc.Characteristics[pos+1:], svc.Characteristics[pos:])
	svc.Characteristics[pos] = chr
	return chr, nil
}

// InsertDescriptor adds a descriptor to chr keeping handle order
func (x *Index) InsertDescriptor(svc *Service, chr *Characteristic, d Descriptor) error {
	r := x.CharacteristicRange(svc, chr)
	if d.Handle <= chr.ValueHandle || d.Handle > r.End {
		return device.InvalidArgf("descriptor %s at 0x%04x outside characteristic %s range %s",
			d.UUID, d.Handle, chr.UUID, r)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	pos := sort.Search(len(chr.Descriptors), func(i int) bool {
		return chr.Descriptors[i].Handle >= d.Handle
	})
	chr.Descriptors = append(chr.Descriptors, Descriptor{})
	copy(chr.Descriptors[pos+1:], chr.Descriptors[pos:])
	chr.Descriptors[pos] = d
	return nil
}

// CharacteristicRange returns [definition handle, logical end] where the logical
// end is the next sibling's definition handle - 1, or the service end if last.
func (x *Index) CharacteristicRange(svc *Service, chr *Characteristic) device.HandleRange {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return charRange(svc, chr)
}

func charRange(svc *Service, chr *Characteristic) device.HandleRange {
	end := svc.Range.End
	i := sort.Search(len(svc.Characteristics), func(i int) bool {
		return svc.Characteristics[i].ValueHandle > chr.ValueHandle
	})
	if i < len(svc.Characteristics) {
		end = svc.Characteristics[i].DefHandle - 1
	}
	return device.HandleRange{Start: chr.DefHandle, End: end}
}

// Len returns the number of services
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.services)
}

// Services returns the services in handle order
func (x *Index) Services() []*Service {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]*Service, len(x.services))
	copy(out, x.services)
	return out
}

// Reset drops every record
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.services = nil
}

// FindCharacteristic looks a characteristic up by (service UUID, characteristic UUID)
func (x *Index) FindCharacteristic(svcUUID, chrUUID device.UUID) (*Service, *Characteristic, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	svcFound := false
	for _, svc := range x.services {
		if !svc.UUID.Equal(svcUUID) {
			continue
		}
		svcFound = true
		for _, chr := range svc.Characteristics {
			if chr.UUID.Equal(chrUUID) {
				return svc, chr, nil
			}
		}
	}
	if !svcFound {
		return nil, nil, &device.NotFoundError{Resource: "service", UUIDs: []string{svcUUID.String()}}
	}
	return nil, nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{svcUUID.String(), chrUUID.String()}}
}

// FindCharacteristicByUUID returns the first characteristic (in handle order) with the UUID
func (x *Index) FindCharacteristicByUUID(chrUUID device.UUID) (*Service, *Characteristic, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	for _, svc := range x.services {
		for _, chr := range svc.Characteristics {
			if chr.UUID.Equal(chrUUID) {
				return svc, chr, nil
			}
		}
	}
	return nil, nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{chrUUID.String()}}
}

// ServiceByHandle returns the service whose range owns handle h
func (x *Index) ServiceByHandle(h uint16) (*Service, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	// last service with start <= h
	i := sort.Search(len(x.services), func(i int) bool {
		return x.services[i].Range.Start > h
	}) - 1
	for ; i >= 0; i-- {
		if x.services[i].Range.Contains(h) {
			return x.services[i], nil
		}
	}
	return nil, &device.NotFoundError{Resource: "handle", UUIDs: []string{fmt.Sprintf("0x%04x", h)}}
}

// CharacteristicByValueHandle finds the characteristic of svc whose value handle is h
func (x *Index) CharacteristicByValueHandle(svc *Service, h uint16) (*Characteristic, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	i := sort.Search(len(svc.Characteristics), func(i int) bool {
		return svc.Characteristics[i].ValueHandle >= h
	})
	if i < len(svc.Characteristics) && svc.Characteristics[i].ValueHandle == h {
		return svc.Characteristics[i], nil
	}
	return nil, &device.NotFoundError{Resource: "handle", UUIDs: []string{fmt.Sprintf("0x%04x", h)}}
}

// FindDescriptor returns the descriptor of chr with the given UUID
func (x *Index) FindDescriptor(chr *Characteristic, uuid device.UUID) (Descriptor, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	for _, d := range chr.Descriptors {
		if d.UUID.Equal(uuid) {
			return d, nil
		}
	}
	return Descriptor{}, &device.NotFoundError{Resource: "descriptor", UUIDs: []string{chr.UUID.String(), uuid.String()}}
}
