package security

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridwell/enip-adapter/pkg/cip"
)

func TestCIPSecurityBeginKickEndConfigLifecycle(t *testing.T) {
	reg := cip.NewRegistry()
	o := NewCIPSecurity(reg)
	require.Equal(t, StateFactoryDefault, o.State())

	path := cip.ParsedPath{HasClass: true, Class: cip.ClassCIPSecurity, HasInstance: true, Instance: 1}

	resp := reg.NotifyClass(&cip.MessageRouterRequest{Service: cip.ServiceBeginConfig, Path: path})
	require.True(t, resp.IsSuccess())
	require.Equal(t, StateConfigurationInProgress, o.State())

	resp = reg.NotifyClass(&cip.MessageRouterRequest{Service: cip.ServiceKickTimer, Path: path})
	require.True(t, resp.IsSuccess())
	resp = reg.NotifyClass(&cip.MessageRouterRequest{Service: cip.ServiceKickTimer, Path: path})
	require.True(t, resp.IsSuccess())

	resp = reg.NotifyClass(&cip.MessageRouterRequest{Service: cip.ServiceEndConfig, Path: path})
	require.True(t, resp.IsSuccess())
	require.Equal(t, StateConfigured, o.State())
}

func TestCIPSecurityBeginConfigDuringProgressConflicts(t *testing.T) {
	reg := cip.NewRegistry()
	o := NewCIPSecurity(reg)
	path := cip.ParsedPath{HasClass: true, Class: cip.ClassCIPSecurity, HasInstance: true, Instance: 1}

	resp := reg.NotifyClass(&cip.MessageRouterRequest{Service: cip.ServiceBeginConfig, Path: path})
	require.True(t, resp.IsSuccess())
	require.Equal(t, StateConfigurationInProgress, o.State())

	resp = reg.NotifyClass(&cip.MessageRouterRequest{Service: cip.ServiceBeginConfig, Path: path})
	require.False(t, resp.IsSuccess())
	require.Equal(t, cip.StatusObjectStateConflict, resp.GeneralStatus)
}

func TestCIPSecuritySessionTimerExpiryDemotesToIncomplete(t *testing.T) {
	reg := cip.NewRegistry()
	o := NewCIPSecurity(reg)
	path := cip.ParsedPath{HasClass: true, Class: cip.ClassCIPSecurity, HasInstance: true, Instance: 1}

	reg.NotifyClass(&cip.MessageRouterRequest{Service: cip.ServiceBeginConfig, Path: path})
	require.Equal(t, StateConfigurationInProgress, o.State())

	o.Tick(beginConfigSessionMs + 1)
	require.Equal(t, StateIncompleteConfiguration, o.State())
}

func TestCIPSecurityBeginConfigFromConfiguredRequiresAuthenticated(t *testing.T) {
	reg := cip.NewRegistry()
	o := NewCIPSecurity(reg)
	o.state = StateConfigured

	path := cip.ParsedPath{HasClass: true, Class: cip.ClassCIPSecurity, HasInstance: true, Instance: 1}
	resp := reg.NotifyClass(&cip.MessageRouterRequest{Service: cip.ServiceBeginConfig, Path: path})
	require.False(t, resp.IsSuccess())
	require.Equal(t, cip.StatusPrivilegeViolation, resp.GeneralStatus)

	resp = reg.NotifyClass(&cip.MessageRouterRequest{Service: cip.ServiceBeginConfig, Path: path, Authenticated: true})
	require.True(t, resp.IsSuccess())
}

func TestCIPSecurityResetCascadesToEIPSecurity(t *testing.T) {
	reg := cip.NewRegistry()
	cipSec := NewCIPSecurity(reg)
	eipSec := NewEIPSecurity(reg, cipSec)
	eipSec.state = PullStatePullModelDisabled
	eipSec.pullModelStatus = 0xFFFF

	resp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service: cip.ServiceReset,
		Path:    cip.ParsedPath{HasClass: true, Class: cip.ClassCIPSecurity, HasInstance: true, Instance: 1},
	})
	require.True(t, resp.IsSuccess())
	require.Equal(t, StateFactoryDefault, cipSec.State())
	require.Equal(t, PullStateFactoryDefault, eipSec.PullModelState())
}
