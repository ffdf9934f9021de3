package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/srg/blecm/internal/device"
	"github.com/srg/blecm/internal/session"
	"github.com/srg/blecm/internal/svcindex"
)

// resolveTarget turns a positional target and the --service/--desc flags
// into a session key. A target such as 0x001a is a raw attribute handle.
func resolveTarget(sess *session.Session, target, service, desc string) (session.Key, error) {
	if strings.HasPrefix(target, "0x") || strings.HasPrefix(target, "0X") {
		if desc != "" {
			return session.Key{}, device.InvalidArgf("--desc needs a characteristic UUID, not a handle")
		}
		h, err := strconv.ParseUint(target[2:], 16, 16)
		if err != nil || h == 0 {
			return session.Key{}, device.InvalidArgf("invalid attribute handle %q", target)
		}
		return session.HandleKey(uint16(h)), nil
	}

	chr, err := device.ParseUUID(target)
	if err != nil {
		return session.Key{}, fmt.Errorf("characteristic %q: %w", target, err)
	}
	var svc device.UUID
	if service != "" {
		if svc, err = device.ParseUUID(service); err != nil {
			return session.Key{}, fmt.Errorf("service %q: %w", service, err)
		}
	}
	if desc == "" {
		if svc.IsValid() {
			return session.ServiceKey(svc, chr), nil
		}
		return session.UUIDKey(chr), nil
	}

	d, err := device.ParseUUID(desc)
	if err != nil {
		return session.Key{}, fmt.Errorf("descriptor %q: %w", desc, err)
	}
	services, err := sess.Services()
	if err != nil {
		return session.Key{}, err
	}
	if h, ok := findDescriptor(services, svc, chr, d); ok {
		return session.HandleKey(h), nil
	}
	return session.Key{}, &device.NotFoundError{Resource: "descriptor", UUIDs: []string{chr.String(), d.String()}}
}

// findDescriptor returns the handle of descriptor d under characteristic chr,
// searching only svc when it is set
func findDescriptor(services []svcindex.ServiceInfo, svc, chr, d device.UUID) (uint16, bool) {
	for _, si := range services {
		if svc.IsValid() && !sameUUID(si.UUID, svc) {
			continue
		}
		for _, ci := range si.Characteristics {
			if !sameUUID(ci.UUID, chr) {
				continue
			}
			for _, di := range ci.Descriptors {
				if sameUUID(di.UUID, d) {
					return di.Handle, true
				}
			}
		}
	}
	return 0, false
}

func sameUUID(s string, u device.UUID) bool {
	parsed, err := device.ParseUUID(s)
	return err == nil && parsed.Equal(u)
}
