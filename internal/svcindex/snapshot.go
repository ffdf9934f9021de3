package svcindex

// DescriptorInfo is the JSON view of a descriptor
type DescriptorInfo struct {
	UUID   string `json:"uuid"`
	Handle uint16 `json:"handle"`
}

// CharacteristicInfo is the JSON view of a characteristic
type CharacteristicInfo struct {
	UUID        string           `json:"uuid"`
	DefHandle   uint16           `json:"def_handle"`
	ValueHandle uint16           `json:"value_handle"`
	EndHandle   uint16           `json:"end_handle"`
	Properties  string           `json:"properties"`
	Descriptors []DescriptorInfo `json:"descriptors"`
}

// ServiceInfo is the JSON view of a service
type ServiceInfo struct {
	UUID            string               `json:"uuid"`
	StartHandle     uint16               `json:"start_handle"`
	EndHandle       uint16               `json:"end_handle"`
	Characteristics []CharacteristicInfo `json:"characteristics"`
}

// Snapshot copies the index into plain values, safe to hand to other goroutines
func (x *Index) Snapshot() []ServiceInfo {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]ServiceInfo, 0, len(x.services))
	for _, svc := range x.services {
		si := ServiceInfo{
			UUID:            svc.UUID.String(),
			StartHandle:     svc.Range.Start,
			EndHandle:       svc.Range.End,
			Characteristics: make([]CharacteristicInfo, 0, len(svc.Characteristics)),
		}
		for _, chr := range svc.Characteristics {
			ci := CharacteristicInfo{
				UUID:        chr.UUID.String(),
				DefHandle:   chr.DefHandle,
				ValueHandle: chr.ValueHandle,
				EndHandle:   charRange(svc, chr).End,
				Properties:  chr.Properties.String(),
				Descriptors: make([]DescriptorInfo, 0, len(chr.Descriptors)),
			}
			for _, d := range chr.Descriptors {
				ci.Descriptors = append(ci.Descriptors, DescriptorInfo{UUID: d.UUID.String(), Handle: d.Handle})
			}
			si.Characteristics = append(si.Characteristics, ci)
		}
		out = append(out, si)
	}
	return out
}
