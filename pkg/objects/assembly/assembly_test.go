package assembly

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridwell/enip-adapter/pkg/cip"
	"github.com/gridwell/enip-adapter/pkg/platform"
)

func TestAssemblyDataGetSetRoundTrip(t *testing.T) {
	reg := cip.NewRegistry()
	io := platform.NewMemoryAssemblyIO()
	o := New(reg, io)
	o.AddInstance(100, 4)

	setResp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service:     cip.ServiceSetAttributeSingle,
		Path:        cip.ParsedPath{HasClass: true, Class: cip.ClassAssembly, HasInstance: true, Instance: 100, HasAttribute: true, Attribute: 3},
		RequestData: []byte{1, 2, 3, 4},
	})
	require.True(t, setResp.IsSuccess())

	getResp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service: cip.ServiceGetAttributeSingle,
		Path:    cip.ParsedPath{HasClass: true, Class: cip.ClassAssembly, HasInstance: true, Instance: 100, HasAttribute: true, Attribute: 3},
	})
	require.True(t, getResp.IsSuccess())
	require.Equal(t, []byte{1, 2, 3, 4}, getResp.ResponseData)

	lenResp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service: cip.ServiceGetAttributeSingle,
		Path:    cip.ParsedPath{HasClass: true, Class: cip.ClassAssembly, HasInstance: true, Instance: 100, HasAttribute: true, Attribute: 4},
	})
	require.True(t, lenResp.IsSuccess())
	v, err := cip.NewReader(lenResp.ResponseData).GetUINT()
	require.NoError(t, err)
	require.EqualValues(t, 4, v)
}
