// Package ethlink implements the Ethernet Link Object (class 0xF6):
// interface speed/duplex, MAC address, and interface counters, referenced
// by the TCP/IP Interface Object's Physical Link Object path attribute
// (source/src/cip/cipethernetlink.c, supplemented feature).
package ethlink

import "github.com/gridwell/enip-adapter/pkg/cip"

// InterfaceCounters mirrors the subset of attribute 4 (Interface Counters)
// this adapter tracks: frames in/out and errors, the fields a diagnostic
// tool actually reads.
type InterfaceCounters struct {
	InOctets    cip.UDINT
	InUcastPkts cip.UDINT
	InErrors    cip.UDINT
	OutOctets   cip.UDINT
	OutUcastPkts cip.UDINT
	OutErrors   cip.UDINT
}

// Object wires a live Ethernet Link instance into a registry.
type Object struct {
	Class    *cip.Class
	instance *cip.Instance

	SpeedMbps cip.UDINT
	FullDuplex bool
	MACAddress [6]byte
	Counters  InterfaceCounters
}

// New creates the object and registers it.
func New(reg *cip.Registry, speedMbps cip.UDINT, fullDuplex bool, mac [6]byte) *Object {
	o := &Object{Class: cip.NewClass(cip.ClassEthernetLink, "Ethernet Link"), SpeedMbps: speedMbps, FullDuplex: fullDuplex, MACAddress: mac}
	o.instance = cip.NewInstance(1)

	o.instance.AddAttribute(&cip.Attribute{ID: 1, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutUDINT(o.SpeedMbps) }})

	o.instance.AddAttribute(&cip.Attribute{ID: 2, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error {
			var flags cip.DWORD
			if o.FullDuplex {
				flags |= 0x01
			}
			flags |= 0x02 // link active
			return w.PutDword(flags)
		}})

	o.instance.AddAttribute(&cip.Attribute{ID: 4, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error {
			for _, b := range []cip.UDINT{
				o.Counters.InOctets, o.Counters.InUcastPkts, o.Counters.InErrors,
				o.Counters.OutOctets, o.Counters.OutUcastPkts, o.Counters.OutErrors,
			} {
				if err := w.PutUDINT(b); err != nil {
					return err
				}
			}
			return nil
		}})

	o.instance.AddAttribute(&cip.Attribute{ID: 6, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutBytes(o.MACAddress[:]) }})

	o.Class.AddInstance(o.instance)
	reg.Register(o.Class)
	return o
}
