// Package assembly implements the Assembly Object (class 0x04): fixed-size
// data instances (attribute 3) with their length reported in attribute 4,
// each instance's data routed through the platform.AssemblyIO collaborator
// so the adapter core never touches real I/O directly (spec §6).
package assembly

import (
	"github.com/gridwell/enip-adapter/pkg/cip"
	"github.com/gridwell/enip-adapter/pkg/platform"
)

// Object wires live Assembly instances into a registry.
type Object struct {
	Class *cip.Class
	io    platform.AssemblyIO
}

// New creates the object shell; call AddInstance for each assembly
// instance this device exposes before the registry is handed to the
// server.
func New(reg *cip.Registry, io platform.AssemblyIO) *Object {
	o := &Object{Class: cip.NewClass(cip.ClassAssembly, "Assembly"), io: io}
	reg.Register(o.Class)
	return o
}

// AddInstance creates an assembly instance of the given size backed by the
// object's AssemblyIO collaborator, keyed by instance ID.
func (o *Object) AddInstance(id cip.UDINT, size int) {
	instanceID := id
	inst := cip.NewInstance(id)

	inst.AddAttribute(&cip.Attribute{ID: 3, Gettable: true, Settable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error {
			data, err := o.io.Read(uint32(instanceID))
			if err != nil {
				return err
			}
			return w.PutBytes(data)
		},
		Decode: func(r *cip.Reader) error {
			data := append([]byte(nil), r.Bytes()...)
			if err := r.Skip(len(data)); err != nil {
				return err
			}
			return o.io.Write(uint32(instanceID), data)
		}})

	inst.AddAttribute(&cip.Attribute{ID: 4, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutUINT(cip.UINT(size)) }})

	o.Class.AddInstance(inst)
}
