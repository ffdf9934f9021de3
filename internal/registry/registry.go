// Package registry holds the services this device exposes in the peripheral
// role and turns them into the attribute database handed to the host.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// AccessFunc serves a peer (or local) access to a characteristic value.
// For reads the returned bytes become the value; for writes in carries the
// written bytes and the returned bytes, when non-nil, replace them.
// It runs with the attribute locked and must not read or write the same
// attribute through the session.
type AccessFunc func(op device.AccessOp, in []byte) ([]byte, error)

// CharacteristicDef is an application-supplied characteristic
type CharacteristicDef struct {
	Name       string
	UUID       device.UUID
	Properties device.Property
	Value      []byte
	Access     AccessFunc
}

// ServiceDef is an application-supplied primary service
type ServiceDef struct {
	UUID            device.UUID
	Characteristics []CharacteristicDef
}

// AttrKind tells value attributes from client configuration descriptors
type AttrKind int

const (
	AttrValue AttrKind = iota
	AttrCCCD
)

// Attribute is an entry of the built handle table
type Attribute struct {
	Kind        AttrKind
	Handle      uint16
	ValueHandle uint16
	Service     device.UUID
	Def         *CharacteristicDef
}

// Registry is the insertion-ordered set of local services
type Registry struct {
	mu       sync.RWMutex
	services *orderedmap.OrderedMap[string, *ServiceDef]
	table    map[uint16]*Attribute
	logger   *logrus.Logger
}

// New creates an empty registry
func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		services: orderedmap.New[string, *ServiceDef](),
		logger:   logger,
	}
}

// AddService registers def. The registry keeps its own copy.
func (r *Registry) AddService(def ServiceDef) error {
	if !def.UUID.IsValid() {
		return device.InvalidArgf("service uuid is not set")
	}
	seen := make(map[string]struct{}, len(def.Characteristics))
	for _, c := range def.Characteristics {
		if !c.UUID.IsValid() {
			return device.InvalidArgf("service %s: characteristic %q has no uuid", def.UUID, c.Name)
		}
		if _, dup := seen[c.UUID.Key()]; dup {
			return device.InvalidArgf("service %s: duplicate characteristic %s", def.UUID, c.UUID)
		}
		seen[c.UUID.Key()] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.services.Get(def.UUID.Key()); ok {
		return device.InvalidArgf("service %s already registered", def.UUID)
	}

	owned := &ServiceDef{UUID: def.UUID, Characteristics: make([]CharacteristicDef, len(def.Characteristics))}
	for i, c := range def.Characteristics {
		c.Value = append([]byte(nil), c.Value...)
		owned.Characteristics[i] = c
	}
	r.services.Set(def.UUID.Key(), owned)
	r.table = nil

	r.logger.WithFields(logrus.Fields{
		"uuid":            def.UUID.String(),
		"characteristics": len(def.Characteristics),
	}).Debug("Service registered")
	return nil
}

// RemoveService drops the service with the given UUID
func (r *Registry) RemoveService(uuid device.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.services.Delete(uuid.Key()); !ok {
		return &device.NotFoundError{Resource: "service", UUIDs: []string{uuid.String()}}
	}
	r.table = nil

	r.logger.WithField("uuid", uuid.String()).Debug("Service removed")
	return nil
}

// Len returns the number of registered services
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services.Len()
}

// Services returns the registered services in registration order
func (r *Registry) Services() []ServiceDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServiceDef, 0, r.services.Len())
	for p := r.services.Oldest(); p != nil; p = p.Next() {
		out = append(out, *p.Value)
	}
	return out
}

// Reset drops every service and the handle table
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = orderedmap.New[string, *ServiceDef]()
	r.table = nil
}

// Built reports whether the handle table reflects the current services
func (r *Registry) Built() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table != nil
}

// BuildDatabase assigns handles in registration order (service declaration,
// then per characteristic: declaration, value, and a CCCD when it can notify
// or indicate) and returns the go-ble services whose handlers call access.
func (r *Registry) BuildDatabase(access func(*device.Access) ([]byte, error)) ([]*ble.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := make(map[uint16]*Attribute)
	out := make([]*ble.Service, 0, r.services.Len())
	next := int(device.MinHandle)

	for p := r.services.Oldest(); p != nil; p = p.Next() {
		def := p.Value
		svc := ble.NewService(def.UUID.BLE())
		svc.Handle = uint16(next)
		next++

		for i := range def.Characteristics {
			cd := &def.Characteristics[i]
			chr := ble.NewCharacteristic(cd.UUID.BLE())
			chr.Handle = uint16(next)
			chr.ValueHandle = uint16(next + 1)
			next += 2

			attr := &Attribute{Kind: AttrValue, Handle: chr.ValueHandle, ValueHandle: chr.ValueHandle, Service: def.UUID, Def: cd}
			table[attr.Handle] = attr

			if cd.Properties.Has(device.PropRead) {
				chr.HandleRead(readHandler(attr, access))
			}
			if cd.Properties.Has(device.PropWrite) || cd.Properties.Has(device.PropWriteNoRsp) {
				chr.HandleWrite(writeHandler(attr, access))
			}
			if cd.Properties.CanSubscribe() {
				table[uint16(next)] = &Attribute{Kind: AttrCCCD, Handle: uint16(next), ValueHandle: chr.ValueHandle, Service: def.UUID, Def: cd}
				next++
			}
			// handler registration widens the property set
			chr.Property = cd.Properties.BLE()
			chr.EndHandle = uint16(next - 1)

			svc.AddCharacteristic(chr)
		}
		svc.EndHandle = uint16(next - 1)
		out = append(out, svc)

		if next-1 > int(device.MaxHandle) {
			return nil, fmt.Errorf("attribute database exceeds the handle space: %w", device.ErrNoMemory)
		}
	}

	r.table = table
	r.logger.WithFields(logrus.Fields{
		"services":   len(out),
		"attributes": len(table),
	}).Info("Local attribute database built")
	return out, nil
}

// Attribute returns the table entry for handle
func (r *Registry) Attribute(handle uint16) (*Attribute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.table == nil {
		return nil, fmt.Errorf("attribute database not built: %w", device.ErrNotStarted)
	}
	if a, ok := r.table[handle]; ok {
		return a, nil
	}
	return nil, &device.NotFoundError{Resource: "handle", UUIDs: []string{fmt.Sprintf("0x%04x", handle)}}
}

// Lookup finds the value attribute of characteristic chr, optionally within
// service svc (an invalid svc matches any service).
func (r *Registry) Lookup(svc, chr device.UUID) (*Attribute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.table == nil {
		return nil, fmt.Errorf("attribute database not built: %w", device.ErrNotStarted)
	}

	var best *Attribute
	for _, a := range r.table {
		if a.Kind != AttrValue || !a.Def.UUID.Equal(chr) {
			continue
		}
		if svc.IsValid() && !a.Service.Equal(svc) {
			continue
		}
		if best == nil || a.Handle < best.Handle {
			best = a
		}
	}
	if best == nil {
		uuids := []string{chr.String()}
		if svc.IsValid() {
			uuids = []string{svc.String(), chr.String()}
		}
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: uuids}
	}
	return best, nil
}

// Attributes returns the built handle table ordered by handle
func (r *Registry) Attributes() []*Attribute {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Attribute, 0, len(r.table))
	for _, a := range r.table {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// CCCDHandle returns the client configuration handle of the characteristic at valueHandle
func (r *Registry) CCCDHandle(valueHandle uint16) (uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.table[valueHandle+1]
	if ok && a.Kind == AttrCCCD && a.ValueHandle == valueHandle {
		return a.Handle, true
	}
	return 0, false
}

func readHandler(attr *Attribute, access func(*device.Access) ([]byte, error)) ble.ReadHandlerFunc {
	return func(req ble.Request, rsp ble.ResponseWriter) {
		out, err := access(&device.Access{
			Op:         device.AccessRead,
			ConnHandle: device.NoConnection,
			Handle:     attr.Handle,
			UUID:       attr.Def.UUID,
		})
		if err != nil {
			rsp.SetStatus(attStatus(err, ble.ErrReadNotPerm))
			return
		}
		offset := req.Offset()
		if offset > len(out) {
			rsp.SetStatus(ble.ErrInvalidOffset)
			return
		}
		_, _ = rsp.Write(out[offset:])
	}
}

func writeHandler(attr *Attribute, access func(*device.Access) ([]byte, error)) ble.WriteHandlerFunc {
	return func(req ble.Request, rsp ble.ResponseWriter) {
		_, err := access(&device.Access{
			Op:         device.AccessWrite,
			ConnHandle: device.NoConnection,
			Handle:     attr.Handle,
			UUID:       attr.Def.UUID,
			Data:       req.Data(),
		})
		if err != nil {
			rsp.SetStatus(attStatus(err, ble.ErrWriteNotPerm))
		}
	}
}

// attStatus maps a callback error onto an ATT error code
func attStatus(err error, fallback ble.ATTError) ble.ATTError {
	switch {
	case errors.Is(err, device.ErrNotFound):
		return ble.ErrAttrNotFound
	case errors.Is(err, device.ErrInvalidArgument):
		return ble.ErrInvalAttrValueLen
	case errors.Is(err, device.ErrNoMemory):
		return ble.ErrInsuffResources
	case errors.Is(err, device.ErrNotSupported):
		return ble.ErrReqNotSupp
	default:
		return fallback
	}
}
