package eip

import (
	"github.com/gridwell/enip-adapter/pkg/cip"
)

// IdentityInfo is the subset of the Identity Object's attributes reported
// in a List_Identity reply (CIP Vol. 2 §2-4.3).
type IdentityInfo struct {
	VendorID        uint16
	DeviceType      uint16
	ProductCode     uint16
	MajorRevision   uint8
	MinorRevision   uint8
	Status          uint16
	SerialNumber    uint32
	ProductName     string
	State           uint8
}

// EncodeListIdentityReply builds the ListIdentity CPF item payload: a
// protocol version followed by a socket address structure and the identity
// attributes above.
func EncodeListIdentityReply(info IdentityInfo, addr [4]byte, port uint16) ([]byte, error) {
	w := cip.NewWriter(0)
	if err := w.PutUINT(1); err != nil { // protocol version
		return nil, err
	}
	// sockaddr_in: family (big-endian AF_INET=2), port (big-endian), addr, 8 zero bytes
	if err := w.PutBytes([]byte{0x00, 0x02}); err != nil {
		return nil, err
	}
	if err := w.PutBytes([]byte{byte(port >> 8), byte(port)}); err != nil {
		return nil, err
	}
	if err := w.PutBytes(addr[:]); err != nil {
		return nil, err
	}
	if err := w.PutBytes(make([]byte, 8)); err != nil {
		return nil, err
	}
	if err := w.PutUINT(cip.UINT(info.VendorID)); err != nil {
		return nil, err
	}
	if err := w.PutUINT(cip.UINT(info.DeviceType)); err != nil {
		return nil, err
	}
	if err := w.PutUINT(cip.UINT(info.ProductCode)); err != nil {
		return nil, err
	}
	if err := w.PutUSINT(cip.USINT(info.MajorRevision)); err != nil {
		return nil, err
	}
	if err := w.PutUSINT(cip.USINT(info.MinorRevision)); err != nil {
		return nil, err
	}
	if err := w.PutUINT(cip.UINT(info.Status)); err != nil {
		return nil, err
	}
	if err := w.PutUDINT(cip.UDINT(info.SerialNumber)); err != nil {
		return nil, err
	}
	name := cip.CipShortString{Value: info.ProductName}
	if err := name.Encode(w); err != nil {
		return nil, err
	}
	if err := w.PutUSINT(cip.USINT(info.State)); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeListIdentityReply parses a ListIdentity CPF item payload, used by
// tests asserting EncodeListIdentityReply round-trips.
func DecodeListIdentityReply(data []byte) (IdentityInfo, error) {
	r := cip.NewReader(data)
	var info IdentityInfo
	if _, err := r.ReadBytes(2); err != nil { // protocol version
		return info, err
	}
	if _, err := r.ReadBytes(2 + 2 + 4 + 8); err != nil { // sockaddr_in
		return info, err
	}
	vendorID, err := r.GetUINT()
	if err != nil {
		return info, err
	}
	info.VendorID = uint16(vendorID)
	deviceType, err := r.GetUINT()
	if err != nil {
		return info, err
	}
	info.DeviceType = uint16(deviceType)
	productCode, err := r.GetUINT()
	if err != nil {
		return info, err
	}
	info.ProductCode = uint16(productCode)
	major, err := r.GetUSINT()
	if err != nil {
		return info, err
	}
	info.MajorRevision = uint8(major)
	minor, err := r.GetUSINT()
	if err != nil {
		return info, err
	}
	info.MinorRevision = uint8(minor)
	status, err := r.GetUINT()
	if err != nil {
		return info, err
	}
	info.Status = uint16(status)
	serial, err := r.GetUDINT()
	if err != nil {
		return info, err
	}
	info.SerialNumber = uint32(serial)
	name, err := cip.DecodeCipShortString(r)
	if err != nil {
		return info, err
	}
	info.ProductName = name.Value
	state, err := r.GetUSINT()
	if err != nil {
		return info, err
	}
	info.State = uint8(state)
	return info, nil
}

// ServiceEntry is one entry in a List_Services reply: a communications
// service the device supports over encapsulation (CIP Vol. 2 §2-4.4).
type ServiceEntry struct {
	ProtocolVersion uint16
	CapabilityFlags uint16
	ServiceName     string
}

// EncodeListServicesReply builds the list of ListServices CPF item
// payloads, one per supported service.
func EncodeListServicesReply(entries []ServiceEntry) ([][]byte, error) {
	out := make([][]byte, 0, len(entries))
	for _, e := range entries {
		w := cip.NewWriter(0)
		if err := w.PutUINT(cip.UINT(e.ProtocolVersion)); err != nil {
			return nil, err
		}
		if err := w.PutUINT(cip.UINT(e.CapabilityFlags)); err != nil {
			return nil, err
		}
		name := make([]byte, 16)
		copy(name, e.ServiceName)
		if err := w.PutBytes(name); err != nil {
			return nil, err
		}
		out = append(out, w.Bytes())
	}
	return out, nil
}

// DecodeListServicesReply parses one ListServices CPF item payload.
func DecodeListServicesReply(data []byte) (ServiceEntry, error) {
	r := cip.NewReader(data)
	var e ServiceEntry
	ver, err := r.GetUINT()
	if err != nil {
		return e, err
	}
	e.ProtocolVersion = uint16(ver)
	flags, err := r.GetUINT()
	if err != nil {
		return e, err
	}
	e.CapabilityFlags = uint16(flags)
	name, err := r.ReadBytes(16)
	if err != nil {
		return e, err
	}
	end := len(name)
	for i, b := range name {
		if b == 0 {
			end = i
			break
		}
	}
	e.ServiceName = string(name[:end])
	return e, nil
}

// CapabilityFlagTCP and CapabilityFlagUDP mark the transport(s) a service
// entry supports (CIP Vol. 2 Table 2-4.4).
const (
	CapabilityFlagTCP uint16 = 0x0020
	CapabilityFlagUDP uint16 = 0x0100
)
