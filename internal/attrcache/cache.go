// Package attrcache stores the last known value of every attribute the
// session touched, keyed by attribute handle with a secondary UUID index.
package attrcache

import (
	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/device"
)

// Cache holds owned copies of attribute values. Every update replaces the
// previous buffer for the handle.
type Cache struct {
	values  *hashmap.Map[uint16, []byte]
	handles *hashmap.Map[string, uint16]
	logger  *logrus.Logger
}

// New creates an empty cache
func New(logger *logrus.Logger) *Cache {
	if logger == nil {
		logger = logrus.New()
	}
	return &Cache{
		values:  hashmap.New[uint16, []byte](),
		handles: hashmap.New[string, uint16](),
		logger:  logger,
	}
}

// Set stores a copy of value under handle and, when uuid is valid, records
// uuid → handle.
func (c *Cache) Set(handle uint16, uuid device.UUID, value []byte) {
	buf := make([]byte, len(value))
	copy(buf, value)
	c.values.Set(handle, buf)
	if uuid.IsValid() {
		c.handles.Set(uuid.Key(), handle)
	}

	c.logger.WithFields(logrus.Fields{
		"handle": handle,
		"uuid":   uuid.String(),
		"len":    len(buf),
	}).Debug("Attribute cached")
}

// Get returns a copy of the value stored under handle
func (c *Cache) Get(handle uint16) ([]byte, bool) {
	v, ok := c.values.Get(handle)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

// HandleOf returns the handle last cached for uuid
func (c *Cache) HandleOf(uuid device.UUID) (uint16, bool) {
	return c.handles.Get(uuid.Key())
}

// GetByUUID resolves uuid through the secondary index and returns a copy of its value
func (c *Cache) GetByUUID(uuid device.UUID) ([]byte, uint16, bool) {
	h, ok := c.HandleOf(uuid)
	if !ok {
		return nil, 0, false
	}
	v, ok := c.Get(h)
	return v, h, ok
}

// Delete drops the value for handle and any UUID pointing at it
func (c *Cache) Delete(handle uint16) {
	c.values.Del(handle)

	var stale []string
	c.handles.Range(func(k string, h uint16) bool {
		if h == handle {
			stale = append(stale, k)
		}
		return true
	})
	for _, k := range stale {
		c.handles.Del(k)
	}
}

// Len returns the number of cached values
func (c *Cache) Len() int {
	return c.values.Len()
}

// Reset drops every value
func (c *Cache) Reset() {
	var hs []uint16
	c.values.Range(func(h uint16, _ []byte) bool {
		hs = append(hs, h)
		return true
	})
	for _, h := range hs {
		c.values.Del(h)
	}

	var ks []string
	c.handles.Range(func(k string, _ uint16) bool {
		ks = append(ks, k)
		return true
	})
	for _, k := range ks {
		c.handles.Del(k)
	}
}
