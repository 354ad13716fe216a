package security

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridwell/enip-adapter/pkg/cip"
)

func dtlsPath() cip.ParsedPath {
	return cip.ParsedPath{HasClass: true, Class: cip.ClassEtherNetIPSecure, HasInstance: true, Instance: 1, HasAttribute: true, Attribute: 12}
}

func TestDTLSTimeoutBoundary(t *testing.T) {
	reg := cip.NewRegistry()
	NewEIPSecurity(reg, nil)

	w := cip.NewWriter(0)
	require.NoError(t, w.PutINT(-1))
	resp := reg.NotifyClass(&cip.MessageRouterRequest{Service: cip.ServiceSetAttributeSingle, Path: dtlsPath(), RequestData: w.Bytes()})
	require.False(t, resp.IsSuccess())
	require.Equal(t, cip.StatusInvalidAttributeValue, resp.GeneralStatus)

	w = cip.NewWriter(0)
	require.NoError(t, w.PutINT(3601))
	resp = reg.NotifyClass(&cip.MessageRouterRequest{Service: cip.ServiceSetAttributeSingle, Path: dtlsPath(), RequestData: w.Bytes()})
	require.False(t, resp.IsSuccess())
	require.Equal(t, cip.StatusInvalidAttributeValue, resp.GeneralStatus)

	w = cip.NewWriter(0)
	require.NoError(t, w.PutINT(3600))
	resp = reg.NotifyClass(&cip.MessageRouterRequest{Service: cip.ServiceSetAttributeSingle, Path: dtlsPath(), RequestData: w.Bytes()})
	require.True(t, resp.IsSuccess())
}

func TestPSKListRejectsMoreThanOneEntry(t *testing.T) {
	reg := cip.NewRegistry()
	NewEIPSecurity(reg, nil)

	w := cip.NewWriter(0)
	require.NoError(t, w.PutUINT(2))
	resp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service: cip.ServiceSetAttributeSingle,
		Path:    cip.ParsedPath{HasClass: true, Class: cip.ClassEtherNetIPSecure, HasInstance: true, Instance: 1, HasAttribute: true, Attribute: 5},
		RequestData: w.Bytes(),
	})
	require.False(t, resp.IsSuccess())
	require.Equal(t, cip.StatusInvalidAttributeValue, resp.GeneralStatus)
}

func TestPSKAttributeReadsBackZeroLength(t *testing.T) {
	reg := cip.NewRegistry()
	NewEIPSecurity(reg, nil)

	resp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service: cip.ServiceGetAttributeSingle,
		Path:    cip.ParsedPath{HasClass: true, Class: cip.ClassEtherNetIPSecure, HasInstance: true, Instance: 1, HasAttribute: true, Attribute: 5},
	})
	require.True(t, resp.IsSuccess())
	v, err := cip.NewReader(resp.ResponseData).GetUINT()
	require.NoError(t, err)
	require.EqualValues(t, 0, v)
}

func TestApplyConfigFlagsCloseConnectionsAndObjectCleanup(t *testing.T) {
	reg := cip.NewRegistry()
	cipSec := NewCIPSecurity(reg)
	eipSec := NewEIPSecurity(reg, cipSec)

	closeDelay := cip.UDINT(0xFFFFFFFF)
	eipSec.OnCloseExistingConnections(func(d cip.UDINT) { closeDelay = d })

	w := cip.NewWriter(0)
	require.NoError(t, w.PutUINT(0x0003))
	require.NoError(t, w.PutUDINT(0))
	resp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service:     cip.ServiceApplyConfig,
		Path:        cip.ParsedPath{HasClass: true, Class: cip.ClassEtherNetIPSecure, HasInstance: true, Instance: 1},
		RequestData: w.Bytes(),
	})
	require.True(t, resp.IsSuccess())
	require.EqualValues(t, 0, closeDelay)
}

func TestResetEnableDisablePullModel(t *testing.T) {
	reg := cip.NewRegistry()
	o := NewEIPSecurity(reg, nil)

	resp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service:     cip.ServiceReset,
		Path:        cip.ParsedPath{HasClass: true, Class: cip.ClassEtherNetIPSecure, HasInstance: true, Instance: 1},
		RequestData: []byte{0},
	})
	require.True(t, resp.IsSuccess())
	require.Equal(t, PullStatePullModelDisabled, o.PullModelState())
	require.EqualValues(t, 0xFFFF, o.pullModelStatus)

	resp = reg.NotifyClass(&cip.MessageRouterRequest{
		Service: cip.ServiceReset,
		Path:    cip.ParsedPath{HasClass: true, Class: cip.ClassEtherNetIPSecure, HasInstance: true, Instance: 1},
	})
	require.True(t, resp.IsSuccess())
	require.Equal(t, PullStateFactoryDefault, o.PullModelState())
	require.EqualValues(t, 0, o.pullModelStatus)
}

func TestResetFromConfiguredRequiresAuthenticated(t *testing.T) {
	reg := cip.NewRegistry()
	o := NewEIPSecurity(reg, nil)
	o.state = PullStateConfigured

	resp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service: cip.ServiceReset,
		Path:    cip.ParsedPath{HasClass: true, Class: cip.ClassEtherNetIPSecure, HasInstance: true, Instance: 1},
	})
	require.False(t, resp.IsSuccess())
	require.Equal(t, cip.StatusPrivilegeViolation, resp.GeneralStatus)
}
