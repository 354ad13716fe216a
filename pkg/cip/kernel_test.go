package cip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestRegistry() (*Registry, *Instance) {
	reg := NewRegistry()
	class := NewClass(ClassIdentity, "Identity")
	inst := NewInstance(1)

	var vendorID UINT = 42
	inst.AddAttribute(&Attribute{ID: 1, Gettable: true, InGetAll: true,
		Encode: func(w *Writer) error { return w.PutUINT(vendorID) }})
	inst.AddAttribute(&Attribute{ID: 2, Gettable: true, Settable: true, InGetAll: true,
		Encode: func(w *Writer) error { return w.PutUINT(vendorID) },
		Decode: func(r *Reader) error {
			v, err := r.GetUINT()
			if err != nil {
				return err
			}
			vendorID = v
			return nil
		}})
	inst.AddAttribute(&Attribute{ID: 13, InGetAll: true, GetAllDummy: 2})

	class.AddInstance(inst)
	reg.Register(class)
	return reg, inst
}

func requestPath(class, instance UINT, attr UINT) ParsedPath {
	p := ParsedPath{HasClass: true, Class: class}
	if instance != 0 {
		p.HasInstance = true
		p.Instance = UDINT(instance)
	}
	if attr != 0 {
		p.HasAttribute = true
		p.Attribute = attr
	}
	return p
}

func TestNotifyClassGetAttributeSingle(t *testing.T) {
	reg, _ := buildTestRegistry()
	resp := reg.NotifyClass(&MessageRouterRequest{Service: ServiceGetAttributeSingle, Path: requestPath(ClassIdentity, 1, 1)})
	require.True(t, resp.IsSuccess())
	v, err := NewReader(resp.ResponseData).GetUINT()
	require.NoError(t, err)
	require.EqualValues(t, 42, v)
}

func TestNotifyClassUnknownClass(t *testing.T) {
	reg, _ := buildTestRegistry()
	resp := reg.NotifyClass(&MessageRouterRequest{Service: ServiceGetAttributeSingle, Path: requestPath(0x99, 1, 1)})
	require.False(t, resp.IsSuccess())
	require.Equal(t, StatusPathDestinationUnknown, resp.GeneralStatus)
}

func TestNotifyClassSetAttributeSingle(t *testing.T) {
	reg, _ := buildTestRegistry()
	w := NewWriter(0)
	require.NoError(t, w.PutUINT(99))
	resp := reg.NotifyClass(&MessageRouterRequest{Service: ServiceSetAttributeSingle, Path: requestPath(ClassIdentity, 1, 2), RequestData: w.Bytes()})
	require.True(t, resp.IsSuccess())

	resp2 := reg.NotifyClass(&MessageRouterRequest{Service: ServiceGetAttributeSingle, Path: requestPath(ClassIdentity, 1, 2)})
	v, _ := NewReader(resp2.ResponseData).GetUINT()
	require.EqualValues(t, 99, v)
}

func TestNotifyClassAttributeNotSetable(t *testing.T) {
	reg, _ := buildTestRegistry()
	resp := reg.NotifyClass(&MessageRouterRequest{Service: ServiceSetAttributeSingle, Path: requestPath(ClassIdentity, 1, 1), RequestData: []byte{0, 0}})
	require.False(t, resp.IsSuccess())
	require.Equal(t, StatusAttributeNotSetable, resp.GeneralStatus)
}

func TestNotifyClassGetAttributeAllIncludesDummyHole(t *testing.T) {
	reg, _ := buildTestRegistry()
	resp := reg.NotifyClass(&MessageRouterRequest{Service: ServiceGetAttributeAll, Path: requestPath(ClassIdentity, 1, 0)})
	require.True(t, resp.IsSuccess())
	// attribute 1 (UINT) + attribute 2 (UINT) + attribute 13 dummy (2 bytes) = 6 bytes
	require.Len(t, resp.ResponseData, 6)
}

func TestNotifyClassGetAttributeListPartialFailure(t *testing.T) {
	reg, _ := buildTestRegistry()
	w := NewWriter(0)
	require.NoError(t, w.PutUINT(2))
	require.NoError(t, w.PutUINT(1))
	require.NoError(t, w.PutUINT(999))
	resp := reg.NotifyClass(&MessageRouterRequest{Service: ServiceGetAttributeList, Path: requestPath(ClassIdentity, 1, 0), RequestData: w.Bytes()})
	require.False(t, resp.IsSuccess())
	require.Equal(t, StatusAttributeListError, resp.GeneralStatus)
}

func TestRegistryDuplicateClassPanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewClass(ClassIdentity, "Identity"))
	require.Panics(t, func() { reg.Register(NewClass(ClassIdentity, "Identity")) })
}
