package connmgr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridwell/enip-adapter/internal/config"
	"github.com/gridwell/enip-adapter/internal/log"
	"github.com/gridwell/enip-adapter/pkg/cip"
	"github.com/gridwell/enip-adapter/pkg/platform"
)

func buildForwardOpenRequest(t *testing.T, serial uint16, otoTSize, ttoOSize uint16) []byte {
	t.Helper()
	var path cip.Path
	path.AddClass(cip.ClassAssembly)
	path.AddInstance(100)

	w := cip.NewWriter(0)
	require.NoError(t, w.PutUSINT(0x0A))            // priority/time_tick
	require.NoError(t, w.PutUSINT(0x0E))            // timeout_ticks
	require.NoError(t, w.PutUDINT(0x11111111))      // O->T connection ID
	require.NoError(t, w.PutUDINT(0x22222222))      // T->O connection ID (placeholder)
	require.NoError(t, w.PutUINT(cip.UINT(serial))) // connection serial number
	require.NoError(t, w.PutUINT(1))                // originator vendor ID
	require.NoError(t, w.PutUDINT(0xABCD1234))      // originator serial number
	require.NoError(t, w.PutUSINT(3))               // timeout multiplier
	require.NoError(t, w.PutBytes(make([]byte, 3))) // reserved
	require.NoError(t, w.PutUDINT(10000))           // O->T RPI (us)
	require.NoError(t, w.PutUINT(cip.UINT(otoTSize)))
	require.NoError(t, w.PutUDINT(10000)) // T->O RPI (us)
	require.NoError(t, w.PutUINT(cip.UINT(ttoOSize)))
	require.NoError(t, w.PutUSINT(1)) // transport type/trigger
	require.NoError(t, w.PutUSINT(cip.USINT(path.LenWords())))
	require.NoError(t, w.PutBytes(path.Bytes()))
	return w.Bytes()
}

func TestForwardOpenThenForwardClose(t *testing.T) {
	reg := cip.NewRegistry()
	io := platform.NewMemoryAssemblyIO()
	mgr := New(reg, config.ConnectionPoolSizes{ExclusiveOwner: 2, InputOnly: 2, ListenOnly: 2, Explicit: 2}, io, platform.SystemClock{}, nil, log.Nop(), nil, nil)

	reqData := buildForwardOpenRequest(t, 0x55, 4, 4)
	resp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service: cip.ServiceForwardOpen,
		Path:    cip.ParsedPath{HasClass: true, Class: cip.ClassConnectionMgr, HasInstance: true, Instance: 1},
		RequestData: reqData,
	})
	require.True(t, resp.IsSuccess())

	r := cip.NewReader(resp.ResponseData)
	otot, err := r.GetUDINT()
	require.NoError(t, err)
	require.EqualValues(t, 0x11111111, otot)
	ttoo, err := r.GetUDINT()
	require.NoError(t, err)
	require.NotZero(t, ttoo)

	require.Len(t, mgr.pools[RoleExclusiveOwner], 2)
	require.NotNil(t, mgr.pools[RoleExclusiveOwner][0])

	closeW := cip.NewWriter(0)
	require.NoError(t, closeW.PutUSINT(0x0A))
	require.NoError(t, closeW.PutUSINT(0x0E))
	require.NoError(t, closeW.PutUINT(0x55))
	require.NoError(t, closeW.PutUINT(1))
	require.NoError(t, closeW.PutUDINT(0xABCD1234))

	closeResp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service: cip.ServiceForwardClose,
		Path:    cip.ParsedPath{HasClass: true, Class: cip.ClassConnectionMgr, HasInstance: true, Instance: 1},
		RequestData: closeW.Bytes(),
	})
	require.True(t, closeResp.IsSuccess())
	require.Nil(t, mgr.pools[RoleExclusiveOwner][0])
}

func TestForwardOpenNoSlotsAvailable(t *testing.T) {
	reg := cip.NewRegistry()
	io := platform.NewMemoryAssemblyIO()
	New(reg, config.ConnectionPoolSizes{ExclusiveOwner: 0, InputOnly: 0, ListenOnly: 0, Explicit: 0}, io, platform.SystemClock{}, nil, log.Nop(), nil, nil)

	resp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service:     cip.ServiceForwardOpen,
		Path:        cip.ParsedPath{HasClass: true, Class: cip.ClassConnectionMgr, HasInstance: true, Instance: 1},
		RequestData: buildForwardOpenRequest(t, 1, 4, 4),
	})
	require.False(t, resp.IsSuccess())
	require.Equal(t, cip.StatusResourceUnavailable, resp.GeneralStatus)
}

func TestSeqOrdering(t *testing.T) {
	require.True(t, SEQ_GT(5, 3))
	require.False(t, SEQ_GT(3, 5))
	require.True(t, SEQ_LEQ(3, 5))
	require.True(t, SEQ_LEQ(5, 5))
}
