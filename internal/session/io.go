package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/discovery"
	"github.com/srg/blecm/internal/iobridge"
	"github.com/srg/blecm/internal/registry"
	"github.com/srg/blecm/internal/svcindex"
)

// Key addresses a characteristic value either by handle or by UUID,
// optionally scoped to a service
type Key struct {
	Handle  uint16
	Service device.UUID
	UUID    device.UUID
}

// HandleKey addresses an attribute by handle
func HandleKey(h uint16) Key {
	return Key{Handle: h}
}

// UUIDKey addresses the first characteristic with uuid
func UUIDKey(uuid device.UUID) Key {
	return Key{UUID: uuid}
}

// ServiceKey addresses characteristic chr of service svc
func ServiceKey(svc, chr device.UUID) Key {
	return Key{Service: svc, UUID: chr}
}

func (k Key) String() string {
	switch {
	case k.Handle != 0:
		return fmt.Sprintf("0x%04x", k.Handle)
	case k.Service.IsValid():
		return k.Service.String() + "/" + k.UUID.String()
	default:
		return k.UUID.String()
	}
}

func (k Key) validate() error {
	if k.Handle == 0 && !k.UUID.IsValid() {
		return device.InvalidArgf("key needs a handle or a characteristic uuid")
	}
	return nil
}

// target is a resolved key: a peer attribute or a local one
type target struct {
	remote bool
	handle uint16
	uuid   device.UUID
	chr    *svcindex.Characteristic
	attr   *registry.Attribute
}

func (s *Session) remoteReady() bool {
	return s.connHandle() != device.NoConnection && s.disc.State() == discovery.Complete
}

// resolve tries the discovered peer database first, then the local registry
func (s *Session) resolve(k Key) (target, error) {
	if err := k.validate(); err != nil {
		return target{}, err
	}
	var remoteErr error
	if s.remoteReady() {
		t, err := s.resolveRemote(k)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, device.ErrNotFound) {
			return target{}, err
		}
		remoteErr = err
	}
	if s.registry.Built() {
		return s.resolveLocal(k)
	}
	if remoteErr != nil {
		return target{}, remoteErr
	}
	return target{}, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{k.String()}}
}

func (s *Session) resolveRemote(k Key) (target, error) {
	if k.Handle != 0 {
		svc, err := s.index.ServiceByHandle(k.Handle)
		if err != nil {
			return target{}, err
		}
		t := target{remote: true, handle: k.Handle}
		if chr, err := s.index.CharacteristicByValueHandle(svc, k.Handle); err == nil {
			t.chr, t.uuid = chr, chr.UUID
		}
		return t, nil
	}

	var (
		chr *svcindex.Characteristic
		err error
	)
	if k.Service.IsValid() {
		_, chr, err = s.index.FindCharacteristic(k.Service, k.UUID)
	} else {
		_, chr, err = s.index.FindCharacteristicByUUID(k.UUID)
	}
	if err != nil {
		return target{}, err
	}
	return target{remote: true, handle: chr.ValueHandle, uuid: chr.UUID, chr: chr}, nil
}

func (s *Session) resolveLocal(k Key) (target, error) {
	var (
		attr *registry.Attribute
		err  error
	)
	if k.Handle != 0 {
		attr, err = s.registry.Attribute(k.Handle)
	} else {
		attr, err = s.registry.Lookup(k.Service, k.UUID)
	}
	if err != nil {
		return target{}, err
	}
	if attr.Kind != registry.AttrValue {
		return target{}, device.InvalidArgf("handle 0x%04x is a client configuration descriptor", attr.Handle)
	}
	return target{handle: attr.Handle, uuid: attr.Def.UUID, attr: attr}, nil
}

// remoteUUID names the peer characteristic owning a value handle, if any
func (s *Session) remoteUUID(handle uint16) device.UUID {
	svc, err := s.index.ServiceByHandle(handle)
	if err != nil {
		return device.UUID{}
	}
	chr, err := s.index.CharacteristicByValueHandle(svc, handle)
	if err != nil {
		return device.UUID{}
	}
	return chr.UUID
}

// Read returns the value of k. Peer attributes are read over the link;
// local attributes come from the cache, populated through the access
// callback on a miss.
func (s *Session) Read(ctx context.Context, k Key) ([]byte, error) {
	if err := s.requireStarted(); err != nil {
		return nil, err
	}
	t, err := s.resolve(k)
	if err != nil {
		return nil, err
	}
	if !t.remote {
		return s.readLocal(t.attr)
	}
	if t.chr != nil && !t.chr.Properties.Has(device.PropRead) {
		return nil, fmt.Errorf("characteristic %s is not readable: %w", t.uuid, device.ErrNotSupported)
	}

	req := s.tracker.Start("read", t.handle)
	if err := s.host.Read(s.connHandle(), t.handle, req.ID); err != nil {
		s.tracker.Abandon(req)
		return nil, device.NormalizeError(err)
	}
	return s.tracker.Wait(ctx, req)
}

// Write stores value at k. Peer attributes are written with response; local
// attributes pass through the access callback into the cache.
func (s *Session) Write(ctx context.Context, k Key, value []byte) error {
	if value == nil {
		return device.InvalidArgf("write value is nil")
	}
	if err := s.requireStarted(); err != nil {
		return err
	}
	t, err := s.resolve(k)
	if err != nil {
		return err
	}
	if !t.remote {
		return s.writeLocal(t.attr, value)
	}
	if t.chr != nil && !t.chr.Properties.Has(device.PropWrite) && !t.chr.Properties.Has(device.PropWriteNoRsp) {
		return fmt.Errorf("characteristic %s is not writable: %w", t.uuid, device.ErrNotSupported)
	}
	return s.writeRemote(ctx, "write", t.handle, t.uuid, value)
}

func (s *Session) writeRemote(ctx context.Context, op string, handle uint16, uuid device.UUID, value []byte) error {
	data := append([]byte(nil), value...)
	req := s.tracker.Start(op, handle)
	s.writes.Set(req.ID, pendingWrite{handle: handle, uuid: uuid, data: data})
	if err := s.host.Write(s.connHandle(), handle, data, req.ID); err != nil {
		s.tracker.Abandon(req)
		s.writes.Del(req.ID)
		return device.NormalizeError(err)
	}
	_, err := s.tracker.Wait(ctx, req)
	return err
}

// Notify pushes data to the subscribed peer from local characteristic k.
// Peers subscribed only to indications get an indication.
func (s *Session) Notify(ctx context.Context, k Key, data []byte) error {
	if data == nil {
		return device.InvalidArgf("notification data is nil")
	}
	if err := s.requireStarted(); err != nil {
		return err
	}
	if !s.cfg.Role.IsPeripheral() {
		return fmt.Errorf("notify in %s role: %w", s.cfg.Role, device.ErrNotSupported)
	}
	if err := k.validate(); err != nil {
		return err
	}
	t, err := s.resolveLocal(k)
	if err != nil {
		return err
	}
	if !t.attr.Def.Properties.CanSubscribe() {
		return fmt.Errorf("characteristic %s neither notifies nor indicates: %w", t.uuid, device.ErrNotSupported)
	}

	s.mu.RLock()
	conn := s.conn
	sub := s.cccd[t.handle]
	s.mu.RUnlock()

	if conn == device.NoConnection {
		return fmt.Errorf("notify %s: %w", t.uuid, device.ErrNotConnected)
	}
	if !sub.notify && !sub.indicate {
		return fmt.Errorf("peer is not subscribed to %s: %w", t.uuid, device.ErrInvalidState)
	}
	indicate := !sub.notify

	unlock := s.lockAttr(t.handle)
	s.local.Set(t.handle, t.uuid, data)
	unlock()

	op := "notify"
	if indicate {
		op = "indicate"
	}
	req := s.tracker.Start(op, t.handle)
	if err := s.host.Notify(conn, t.handle, data, indicate, req.ID); err != nil {
		s.tracker.Abandon(req)
		return device.NormalizeError(err)
	}
	_, err = s.tracker.Wait(ctx, req)
	return err
}

// Subscribe writes data to the client configuration descriptor of peer
// characteristic k. A nil data enables notifications, or indications when
// the characteristic only indicates.
func (s *Session) Subscribe(ctx context.Context, k Key, data []byte) error {
	if err := s.requireStarted(); err != nil {
		return err
	}
	if err := k.validate(); err != nil {
		return err
	}
	if !s.remoteReady() {
		return fmt.Errorf("subscribe %s needs a discovered peer: %w", k, device.ErrNotConnected)
	}
	t, err := s.resolveRemote(k)
	if err != nil {
		return err
	}
	if t.chr == nil {
		return device.InvalidArgf("handle 0x%04x is not a characteristic value", t.handle)
	}
	if !t.chr.Properties.CanSubscribe() {
		return fmt.Errorf("characteristic %s neither notifies nor indicates: %w", t.uuid, device.ErrNotSupported)
	}
	cccd, err := s.index.FindDescriptor(t.chr, device.ClientConfigUUID)
	if err != nil {
		return err
	}

	if data == nil {
		data = []byte{0x01, 0x00}
		if !t.chr.Properties.Has(device.PropNotify) {
			data = []byte{0x02, 0x00}
		}
	}
	if len(data) != 2 {
		return device.InvalidArgf("client configuration value must be 2 bytes, got %d", len(data))
	}
	return s.writeRemote(ctx, "subscribe", cccd.Handle, device.UUID{}, data)
}

// lockAttr serializes the access callback and cache update of one local
// attribute between application calls and peer access on the host goroutine
func (s *Session) lockAttr(handle uint16) func() {
	mu, _ := s.attrLocks.GetOrInsert(handle, &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

// readLocal serves a local value from the cache, invoking the access
// callback only on a miss
func (s *Session) readLocal(attr *registry.Attribute) ([]byte, error) {
	if v, ok := s.local.Get(attr.Handle); ok {
		return v, nil
	}

	unlock := s.lockAttr(attr.Handle)
	defer unlock()

	// a peer write may have filled the cache while we waited
	if v, ok := s.local.Get(attr.Handle); ok {
		return v, nil
	}
	var v []byte
	if attr.Def.Access != nil {
		out, err := attr.Def.Access(device.AccessRead, nil)
		if err != nil {
			return nil, err
		}
		v = out
	}
	s.local.Set(attr.Handle, attr.Def.UUID, v)
	v, _ = s.local.Get(attr.Handle)
	return v, nil
}

// writeLocal passes value through the access callback and caches the result
func (s *Session) writeLocal(attr *registry.Attribute, value []byte) error {
	unlock := s.lockAttr(attr.Handle)
	defer unlock()

	stored := value
	if attr.Def.Access != nil {
		out, err := attr.Def.Access(device.AccessWrite, value)
		if err != nil {
			return err
		}
		if out != nil {
			stored = out
		}
	}
	s.local.Set(attr.Handle, attr.Def.UUID, stored)
	return nil
}

func completion(op string, status int, data []byte) iobridge.Response {
	if err := device.StatusError(op, status); err != nil {
		return iobridge.Response{Err: err}
	}
	return iobridge.Response{Data: data}
}
