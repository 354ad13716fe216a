package qos

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridwell/enip-adapter/pkg/cip"
)

func TestDefaultDSCPValues(t *testing.T) {
	reg := cip.NewRegistry()
	New(reg, "")

	resp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service: cip.ServiceGetAttributeSingle,
		Path:    cip.ParsedPath{HasClass: true, Class: cip.ClassQoS, HasInstance: true, Instance: 1, HasAttribute: true, Attribute: 4},
	})
	require.True(t, resp.IsSuccess())
	v, err := cip.NewReader(resp.ResponseData).GetUSINT()
	require.NoError(t, err)
	require.EqualValues(t, 55, v)
}

func TestSetDSCPPersistsToNVFile(t *testing.T) {
	nvPath := filepath.Join(t.TempDir(), "qos.yaml")
	reg := cip.NewRegistry()
	o := New(reg, nvPath)

	w := cip.NewWriter(0)
	require.NoError(t, w.PutUSINT(10))
	resp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service:     cip.ServiceSetAttributeSingle,
		Path:        cip.ParsedPath{HasClass: true, Class: cip.ClassQoS, HasInstance: true, Instance: 1, HasAttribute: true, Attribute: 4},
		RequestData: w.Bytes(),
	})
	require.True(t, resp.IsSuccess())
	require.EqualValues(t, 10, o.Values().Urgent)

	o2 := New(cip.NewRegistry(), nvPath)
	require.EqualValues(t, 10, o2.Values().Urgent)
}
