package svcindex

import "github.com/srg/blecm/internal/device"

// HasNonEmptyService reports whether any service spans more than its declaration
func (x *Index) HasNonEmptyService() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, svc := range x.services {
		if !svc.Range.Empty() {
			return true
		}
	}
	return false
}

// NextServiceForCharacteristics rescans from the beginning for the first
// non-empty service whose characteristics were not discovered yet.
func (x *Index) NextServiceForCharacteristics() *Service {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, svc := range x.services {
		if !svc.Range.Empty() && !svc.charsDiscovered && len(svc.Characteristics) == 0 {
			return svc
		}
	}
	return nil
}

// MarkCharacteristicsDiscovered records that svc's range was searched
func (x *Index) MarkCharacteristicsDiscovered(svc *Service) {
	x.mu.Lock()
	defer x.mu.Unlock()
	svc.charsDiscovered = true
}

// NextCharacteristicForDescriptors rescans services, then characteristics, for
// the first non-empty characteristic (logical end > value handle) whose
// descriptors were not discovered. The returned range is value+1..logical end.
func (x *Index) NextCharacteristicForDescriptors() (*Service, *Characteristic, device.HandleRange, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, svc := range x.services {
		for _, chr := range svc.Characteristics {
			if chr.descsDiscovered || len(chr.Descriptors) > 0 {
				continue
			}
			r := charRange(svc, chr)
			if r.End > chr.ValueHandle {
				return svc, chr, device.HandleRange{Start: chr.ValueHandle + 1, End: r.End}, true
			}
		}
	}
	return nil, nil, device.HandleRange{}, false
}

// MarkDescriptorsDiscovered records that chr's range was searched
func (x *Index) MarkDescriptorsDiscovered(chr *Characteristic) {
	x.mu.Lock()
	defer x.mu.Unlock()
	chr.descsDiscovered = true
}
