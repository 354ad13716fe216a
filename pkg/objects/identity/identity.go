// Package identity implements the Identity Object (class 0x01), the
// device's self-description and the target of the Reset service used by
// the encapsulation layer's "restart the device" scenario (spec §8
// scenario 1, supplemented from original_source's cipidentity.c).
package identity

import (
	"github.com/gridwell/enip-adapter/pkg/cip"
)

// Device states, reported in attribute 5 (Status) bit layout and attribute
// 8 (State) per CIP Vol. 1 §5-2.2.
const (
	StateNonExistent  cip.USINT = 0
	StateSelfTesting  cip.USINT = 1
	StateStandby      cip.USINT = 2
	StateOperational  cip.USINT = 3
	StateMajorRecoverableFault cip.USINT = 4
	StateMajorUnrecoverableFault cip.USINT = 5
)

// ResetHandler is invoked when a Reset service arrives, letting other
// objects (notably the connection manager) tear down their own state as
// part of the device-wide reset fan-out.
type ResetHandler func(resetType cip.USINT) error

// Object wires a live Identity instance into a registry.
type Object struct {
	Class    *cip.Class
	instance *cip.Instance

	VendorID      cip.UINT
	DeviceType    cip.UINT
	ProductCode   cip.UINT
	MajorRevision cip.USINT
	MinorRevision cip.USINT
	Status        cip.WORD
	SerialNumber  cip.UDINT
	ProductName   string
	State         cip.USINT

	resetHandlers []ResetHandler
}

// New creates the Identity Object, registers it, and returns it so callers
// can mutate the exported fields (e.g. Status) directly — those same
// fields back the attribute closures below, so a direct mutation is
// immediately visible over CIP.
func New(reg *cip.Registry, vendorID, deviceType, productCode cip.UINT, major, minor cip.USINT, serial cip.UDINT, productName string) *Object {
	o := &Object{
		Class:         cip.NewClass(cip.ClassIdentity, "Identity"),
		VendorID:      vendorID,
		DeviceType:    deviceType,
		ProductCode:   productCode,
		MajorRevision: major,
		MinorRevision: minor,
		SerialNumber:  serial,
		ProductName:   productName,
		State:         StateOperational,
	}
	o.instance = cip.NewInstance(1)

	o.instance.AddAttribute(&cip.Attribute{ID: 1, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutUINT(o.VendorID) }})
	o.instance.AddAttribute(&cip.Attribute{ID: 2, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutUINT(o.DeviceType) }})
	o.instance.AddAttribute(&cip.Attribute{ID: 3, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutUINT(o.ProductCode) }})
	o.instance.AddAttribute(&cip.Attribute{ID: 4, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error {
			if err := w.PutUSINT(o.MajorRevision); err != nil {
				return err
			}
			return w.PutUSINT(o.MinorRevision)
		}})
	o.instance.AddAttribute(&cip.Attribute{ID: 5, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutWord(o.Status) }})
	o.instance.AddAttribute(&cip.Attribute{ID: 6, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutUDINT(o.SerialNumber) }})
	o.instance.AddAttribute(&cip.Attribute{ID: 7, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error {
			return cip.CipShortString{Value: o.ProductName}.Encode(w)
		}})
	o.instance.AddAttribute(&cip.Attribute{ID: 8, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutUSINT(o.State) }})

	o.instance.AddService(&cip.Service{Code: cip.ServiceReset, Handler: o.handleReset})

	o.Class.AddInstance(o.instance)
	reg.Register(o.Class)
	return o
}

// OnReset registers a fan-out callback invoked by the Reset service, in
// registration order, before the response is sent. Any error from a
// handler aborts the remaining handlers and fails the Reset response —
// unlike the generic kernel's Post hooks, the Identity Object's own Reset
// handlers are allowed to fail the call because a botched reset should be
// reported, not silently swallowed.
func (o *Object) OnReset(h ResetHandler) {
	o.resetHandlers = append(o.resetHandlers, h)
}

func (o *Object) handleReset(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
	var resetType cip.USINT
	if len(req.RequestData) > 1 {
		return nil, cip.NewError(cip.StatusTooMuchData)
	}
	if len(req.RequestData) == 1 {
		resetType = cip.USINT(req.RequestData[0])
	}
	for _, h := range o.resetHandlers {
		if err := h(resetType); err != nil {
			return nil, err
		}
	}
	return cip.NewResponse(req.Service, nil), nil
}
