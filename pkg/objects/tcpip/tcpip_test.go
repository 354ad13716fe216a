package tcpip

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridwell/enip-adapter/pkg/cip"
)

func TestInterfaceConfigGetSetRoundTrip(t *testing.T) {
	reg := cip.NewRegistry()
	nvPath := filepath.Join(t.TempDir(), "tcpip.yaml")
	o := New(reg, nvPath, InterfaceConfig{IPAddress: "10.0.0.5", NetworkMask: "255.255.255.0"})

	getResp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service: cip.ServiceGetAttributeSingle,
		Path:    cip.ParsedPath{HasClass: true, Class: cip.ClassTCPIPInterface, HasInstance: true, Instance: 1, HasAttribute: true, Attribute: 5},
	})
	require.True(t, getResp.IsSuccess())

	w := cip.NewWriter(0)
	require.NoError(t, w.PutUDINT(ipToU32("192.168.0.10")))
	require.NoError(t, w.PutUDINT(ipToU32("255.255.255.0")))
	require.NoError(t, w.PutUDINT(ipToU32("192.168.0.1")))
	require.NoError(t, w.PutUDINT(0))
	require.NoError(t, w.PutUDINT(0))
	require.NoError(t, cip.CipString{Value: "example.com"}.Encode(w))

	setResp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service:     cip.ServiceSetAttributeSingle,
		Path:        cip.ParsedPath{HasClass: true, Class: cip.ClassTCPIPInterface, HasInstance: true, Instance: 1, HasAttribute: true, Attribute: 5},
		RequestData: w.Bytes(),
	})
	require.True(t, setResp.IsSuccess())
	require.Equal(t, "192.168.0.10", o.Config().IPAddress)
	require.Equal(t, "example.com", o.Config().DomainName)

	o2 := New(cip.NewRegistry(), nvPath, InterfaceConfig{})
	require.Equal(t, "192.168.0.10", o2.Config().IPAddress)
}

func TestSafetyNetworkNumberHoleInGetAttributeAll(t *testing.T) {
	reg := cip.NewRegistry()
	New(reg, "", InterfaceConfig{})

	resp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service: cip.ServiceGetAttributeAll,
		Path:    cip.ParsedPath{HasClass: true, Class: cip.ClassTCPIPInterface, HasInstance: true, Instance: 1},
	})
	require.True(t, resp.IsSuccess())
	require.NotEmpty(t, resp.ResponseData)
	// Attributes 1-3 (12) + 4 (UINT size + 4-byte path = 6) + 5 (20 + empty
	// STRING 2) + 6 (empty STRING 2) + the 6-byte zero hole for attribute 13.
	require.Len(t, resp.ResponseData, 48)
	require.Equal(t, make([]byte, 6), resp.ResponseData[42:])
}
