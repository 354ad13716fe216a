package ethlink

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridwell/enip-adapter/pkg/cip"
)

func TestInterfaceSpeedAndMACAttributes(t *testing.T) {
	reg := cip.NewRegistry()
	mac := [6]byte{0x00, 0x1B, 0x44, 0x11, 0x3A, 0xB7}
	New(reg, 1000, true, mac)

	speedResp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service: cip.ServiceGetAttributeSingle,
		Path:    cip.ParsedPath{HasClass: true, Class: cip.ClassEthernetLink, HasInstance: true, Instance: 1, HasAttribute: true, Attribute: 1},
	})
	require.True(t, speedResp.IsSuccess())
	v, err := cip.NewReader(speedResp.ResponseData).GetUDINT()
	require.NoError(t, err)
	require.EqualValues(t, 1000, v)

	macResp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service: cip.ServiceGetAttributeSingle,
		Path:    cip.ParsedPath{HasClass: true, Class: cip.ClassEthernetLink, HasInstance: true, Instance: 1, HasAttribute: true, Attribute: 6},
	})
	require.True(t, macResp.IsSuccess())
	require.Equal(t, mac[:], macResp.ResponseData)
}
