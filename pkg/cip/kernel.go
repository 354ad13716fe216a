package cip

import (
	"fmt"
	"sort"
)

// Attribute binds one instance (or class/meta-instance) attribute number to
// the concrete Go field backing it, via closures over a pointer to that
// field — the idiomatic replacement for the original C core's raw
// attribute-to-struct-field pointer (spec §9 Design Notes).
type Attribute struct {
	ID UINT

	// Gettable/Settable record which of the generic services may touch
	// this attribute; GetAllDummy marks a "reserved hole" that
	// GetAttributeAll must still emit as zero bytes of the given width
	// (the "safety network number" style gap called out in spec §4.2).
	Gettable      bool
	Settable      bool
	InGetAll      bool
	GetAllDummy   int // width in bytes when Encode is nil

	Encode func(w *Writer) error
	Decode func(r *Reader) error
}

func (a *Attribute) encodeInto(w *Writer) error {
	if a.Encode == nil {
		if a.GetAllDummy > 0 {
			return w.PutBytes(make([]byte, a.GetAllDummy))
		}
		return nil
	}
	return a.Encode(w)
}

// Service is a handler bound to a service code, installed on either an
// Instance (instance services) or a Class (class/meta-class services,
// accessible through instance 0).
type Service struct {
	Code    USINT
	Handler func(req *MessageRouterRequest) (*MessageRouterResponse, error)
}

// Hook is a Pre/Post callback invoked around service dispatch (spec §9
// "Pre/Post hook callbacks"). Returning a non-nil error from a Pre hook
// aborts dispatch with that error; Post hooks run only after the service
// produced a success response and may not themselves fail the response,
// matching the original's fire-and-forget semantics for Reset fan-out.
type Hook func(req *MessageRouterRequest) error

// Instance is one instance of a CIP class: a set of attributes, optional
// custom services, and optional Pre/Post hooks around the built-in generic
// services.
type Instance struct {
	ID         UDINT
	attrs      map[UINT]*Attribute
	attrOrder  []UINT
	services   map[USINT]*Service
	PreHooks   []Hook
	PostHooks  []Hook
}

// NewInstance creates an empty instance with the given instance number.
func NewInstance(id UDINT) *Instance {
	return &Instance{ID: id, attrs: make(map[UINT]*Attribute), services: make(map[USINT]*Service)}
}

// AddAttribute registers an attribute on the instance, preserving
// ascending-ID order for GetAttributeAll traversal.
func (inst *Instance) AddAttribute(a *Attribute) {
	inst.attrs[a.ID] = a
	inst.attrOrder = append(inst.attrOrder, a.ID)
	sort.Slice(inst.attrOrder, func(i, j int) bool { return inst.attrOrder[i] < inst.attrOrder[j] })
}

// AddService installs a custom service handler, overriding a generic
// built-in of the same code if one would otherwise apply.
func (inst *Instance) AddService(s *Service) {
	inst.services[s.Code] = s
}

// Attribute looks up a registered attribute by ID.
func (inst *Instance) Attribute(id UINT) (*Attribute, bool) {
	a, ok := inst.attrs[id]
	return a, ok
}

// Class is a CIP object class: a class code, its meta-instance (instance 0)
// attributes/services, and the live instance table. Instance allocation for
// Create follows "smallest unused instance number" (spec §4.2).
type Class struct {
	Code UINT
	Name string

	Meta      *Instance // instance 0 — class-level attributes/services
	Instances map[UDINT]*Instance

	// Factory builds a fresh instance (with its attributes wired) for the
	// Create service; nil means Create is unsupported for this class.
	Factory func(id UDINT) *Instance

	// Deletable reports whether the given instance may be removed by
	// Delete; instance 1 of most objects is permanently static.
	Deletable func(id UDINT) bool
}

// NewClass creates an empty class shell. Register it with a Registry to
// make it reachable from NotifyClass.
func NewClass(code UINT, name string) *Class {
	return &Class{
		Code:      code,
		Name:      name,
		Meta:      NewInstance(0),
		Instances: make(map[UDINT]*Instance),
	}
}

// AddInstance installs a pre-built instance under its own ID.
func (c *Class) AddInstance(inst *Instance) {
	c.Instances[inst.ID] = inst
}

func (c *Class) smallestUnusedID() UDINT {
	var id UDINT = 1
	for {
		if _, taken := c.Instances[id]; !taken {
			return id
		}
		id++
	}
}

// Registry is the process-wide table of CIP classes, replacing the
// original's intrusive per-class linked list (spec §9 Design Notes) with a
// map keyed by class code. Registration happens once at startup from the
// single main-loop goroutine; lookups thereafter are read-only.
type Registry struct {
	classes map[UINT]*Class
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[UINT]*Class)}
}

// Register adds a class to the registry. Registering the same class code
// twice is a programming error and panics immediately, the way the
// original core asserts on duplicate class registration at boot.
func (reg *Registry) Register(c *Class) {
	if _, exists := reg.classes[c.Code]; exists {
		panic(fmt.Sprintf("cip: class 0x%02X already registered", c.Code))
	}
	reg.classes[c.Code] = c
}

// Class looks up a registered class by code.
func (reg *Registry) Class(code UINT) (*Class, bool) {
	c, ok := reg.classes[code]
	return c, ok
}

// NotifyClass is the single entry point the encapsulation/connection-manager
// layer calls to dispatch a decoded Message Router request against the
// registry (spec §9 "NotifyClass dispatch entry point").
func (reg *Registry) NotifyClass(req *MessageRouterRequest) *MessageRouterResponse {
	if !req.Path.HasClass {
		return NewErrorResponse(req.Service, NewError(StatusPathSegmentError))
	}
	class, ok := reg.classes[req.Path.Class]
	if !ok {
		return NewErrorResponse(req.Service, NewError(StatusPathDestinationUnknown))
	}

	instID := UDINT(0)
	if req.Path.HasInstance {
		instID = req.Path.Instance
	}

	var inst *Instance
	if instID == 0 {
		inst = class.Meta
	} else {
		inst, ok = class.Instances[instID]
		if !ok {
			return NewErrorResponse(req.Service, NewError(StatusPathDestinationUnknown))
		}
	}

	for _, hook := range inst.PreHooks {
		if err := hook(req); err != nil {
			return responseFor(req.Service, err)
		}
	}

	resp, err := dispatchService(class, inst, req)
	if err != nil {
		return responseFor(req.Service, err)
	}

	if resp.IsSuccess() {
		for _, hook := range inst.PostHooks {
			_ = hook(req) // post hooks cannot fail an already-successful response
		}
	}

	return resp
}

func responseFor(service USINT, err error) *MessageRouterResponse {
	if cerr, ok := err.(*Error); ok {
		return NewErrorResponse(service, cerr)
	}
	return NewErrorResponse(service, NewError(StatusServiceNotSupported))
}

func dispatchService(class *Class, inst *Instance, req *MessageRouterRequest) (*MessageRouterResponse, error) {
	if svc, ok := inst.services[req.Service]; ok {
		return svc.Handler(req)
	}

	switch req.Service {
	case ServiceGetAttributeSingle:
		return genericGetAttributeSingle(inst, req)
	case ServiceSetAttributeSingle:
		return genericSetAttributeSingle(inst, req)
	case ServiceGetAttributeAll:
		return genericGetAttributeAll(inst, req)
	case ServiceGetAttributeList:
		return genericGetAttributeList(inst, req)
	case ServiceSetAttributeList:
		return genericSetAttributeList(inst, req)
	case ServiceCreate:
		return genericCreate(class, req)
	case ServiceDelete:
		return genericDelete(class, inst, req)
	case ServiceReset:
		return genericReset(inst, req)
	default:
		return nil, NewError(StatusServiceNotSupported)
	}
}

func genericGetAttributeSingle(inst *Instance, req *MessageRouterRequest) (*MessageRouterResponse, error) {
	if !req.Path.HasAttribute {
		return nil, NewError(StatusPathSegmentError)
	}
	attr, ok := inst.Attribute(req.Path.Attribute)
	if !ok {
		return nil, NewError(StatusAttributeNotSupported)
	}
	if !attr.Gettable {
		return nil, NewError(StatusAttributeNotGettable)
	}
	w := NewWriter(0)
	if err := attr.encodeInto(w); err != nil {
		return nil, err
	}
	return NewResponse(req.Service, w.Bytes()), nil
}

func genericSetAttributeSingle(inst *Instance, req *MessageRouterRequest) (*MessageRouterResponse, error) {
	if !req.Path.HasAttribute {
		return nil, NewError(StatusPathSegmentError)
	}
	attr, ok := inst.Attribute(req.Path.Attribute)
	if !ok {
		return nil, NewError(StatusAttributeNotSupported)
	}
	if !attr.Settable || attr.Decode == nil {
		return nil, NewError(StatusAttributeNotSetable)
	}
	r := NewReader(req.RequestData)
	if err := attr.Decode(r); err != nil {
		return nil, err
	}
	return NewResponse(req.Service, nil), nil
}

// genericGetAttributeAll concatenates every InGetAll attribute's encoding
// in ascending attribute-ID order, including GetAllDummy zero-filled holes
// (spec §4.2).
func genericGetAttributeAll(inst *Instance, req *MessageRouterRequest) (*MessageRouterResponse, error) {
	w := NewWriter(0)
	for _, id := range inst.attrOrder {
		attr := inst.attrs[id]
		if !attr.InGetAll {
			continue
		}
		if err := attr.encodeInto(w); err != nil {
			if err == ErrBufferOverflow {
				return NewErrorResponse(req.Service, NewError(StatusPartialTransfer)), nil
			}
			return nil, err
		}
	}
	return NewResponse(req.Service, w.Bytes()), nil
}

// genericGetAttributeList reads a count-prefixed list of attribute IDs and
// replies with the same count header followed by, per attribute, its ID, a
// status word and (on success) its value. Any unknown or ungettable
// attribute makes the overall status AttributeListError. If the buffer fills
// up partway through, the partial entry is dropped, the count header is
// rewritten to the number of entries emitted, and the overall status is
// PartialTransfer (spec §4.2 "Partial transfer").
func genericGetAttributeList(inst *Instance, req *MessageRouterRequest) (*MessageRouterResponse, error) {
	r := NewReader(req.RequestData)
	count, err := r.GetUINT()
	if err != nil {
		return nil, err
	}
	ids := make([]UINT, count)
	for i := range ids {
		if ids[i], err = r.GetUINT(); err != nil {
			return nil, err
		}
	}

	w := NewWriter(0)
	if err := w.PutUINT(count); err != nil {
		return nil, err
	}

	anyFailed := false
	for i, id := range ids {
		mark := w.Mark()
		if err := w.PutUINT(id); err != nil {
			return nil, err
		}
		attr, ok := inst.Attribute(id)
		if !ok || !attr.Gettable {
			if err := w.PutUINT(UINT(StatusAttributeNotSupported)); err != nil {
				return nil, err
			}
			anyFailed = true
			continue
		}
		if err := w.PutUINT(UINT(StatusSuccess)); err != nil {
			return nil, err
		}
		if err := attr.encodeInto(w); err != nil {
			if err == ErrBufferOverflow {
				w.SeekBackForHeaderFixup(mark)
				out := w.Bytes()
				out[0], out[1] = byte(i), byte(i>>8) // count header: entries actually emitted
				resp := NewErrorResponse(req.Service, NewError(StatusPartialTransfer))
				resp.ResponseData = out
				return resp, nil
			}
			return nil, err
		}
	}

	if anyFailed {
		resp := NewErrorResponse(req.Service, NewError(StatusAttributeListError))
		resp.ResponseData = w.Bytes()
		return resp, nil
	}
	return NewResponse(req.Service, w.Bytes()), nil
}

// genericSetAttributeList mirrors genericGetAttributeList for writes: a
// count-prefixed list of (ID, value) pairs, replying with per-attribute
// status codes and AttributeListError if any member could not be set.
func genericSetAttributeList(inst *Instance, req *MessageRouterRequest) (*MessageRouterResponse, error) {
	r := NewReader(req.RequestData)
	count, err := r.GetUINT()
	if err != nil {
		return nil, err
	}

	w := NewWriter(0)
	if err := w.PutUINT(count); err != nil {
		return nil, err
	}

	anyFailed := false
	for i := 0; i < int(count); i++ {
		id, err := r.GetUINT()
		if err != nil {
			return nil, err
		}
		if err := w.PutUINT(id); err != nil {
			return nil, err
		}
		attr, ok := inst.Attribute(id)
		if !ok || !attr.Settable || attr.Decode == nil {
			anyFailed = true
			if err := w.PutUINT(UINT(StatusAttributeNotSetable)); err != nil {
				return nil, err
			}
			continue
		}
		if err := attr.Decode(r); err != nil {
			anyFailed = true
			if cerr, ok := err.(*Error); ok {
				if perr := w.PutUINT(UINT(cerr.Status)); perr != nil {
					return nil, perr
				}
				continue
			}
			return nil, err
		}
		if err := w.PutUINT(UINT(StatusSuccess)); err != nil {
			return nil, err
		}
	}

	if anyFailed {
		resp := NewErrorResponse(req.Service, NewError(StatusAttributeListError))
		resp.ResponseData = w.Bytes()
		return resp, nil
	}
	return NewResponse(req.Service, w.Bytes()), nil
}

// genericCreate allocates the smallest unused instance number and builds a
// fresh instance via the class Factory.
func genericCreate(class *Class, req *MessageRouterRequest) (*MessageRouterResponse, error) {
	if class.Factory == nil {
		return nil, NewError(StatusServiceNotSupported)
	}
	id := class.smallestUnusedID()
	inst := class.Factory(id)
	class.AddInstance(inst)

	var p Path
	p.AddClass(class.Code)
	p.AddInstance32(uint32(id))
	return NewResponse(req.Service, p.Bytes()), nil
}

// genericDelete removes the addressed instance, refusing when the class
// marks it non-deletable (instance 1 on most objects) or supplies no
// Deletable predicate at all (the original core's "no deleter installed"
// refusal).
func genericDelete(class *Class, inst *Instance, req *MessageRouterRequest) (*MessageRouterResponse, error) {
	if inst.ID == 0 {
		return nil, NewError(StatusServiceNotSupported)
	}
	if class.Deletable == nil || !class.Deletable(inst.ID) {
		return nil, NewError(StatusObjectStateConflict)
	}
	delete(class.Instances, inst.ID)
	return NewResponse(req.Service, nil), nil
}

// genericReset accepts a Reset carrying no request data or a single
// reset-type USINT and rejects anything larger with TooMuchData; it changes
// no state itself. Objects with reset side effects (Identity, the security
// objects) install their own Reset service instead.
func genericReset(inst *Instance, req *MessageRouterRequest) (*MessageRouterResponse, error) {
	if len(req.RequestData) > 1 {
		return nil, NewError(StatusTooMuchData)
	}
	return NewResponse(req.Service, nil), nil
}
