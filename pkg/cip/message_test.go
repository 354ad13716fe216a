package cip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRouterRequestDecode(t *testing.T) {
	var p Path
	p.AddClass(ClassIdentity)
	p.AddInstance(1)

	w := NewWriter(0)
	require.NoError(t, w.PutUSINT(ServiceGetAttributeSingle))
	require.NoError(t, w.PutUSINT(USINT(p.LenWords())))
	require.NoError(t, w.PutBytes(p.Bytes()))
	require.NoError(t, w.PutBytes([]byte{0xAA, 0xBB}))

	req, err := DecodeMessageRouterRequest(w.Bytes())
	require.NoError(t, err)
	require.Equal(t, ServiceGetAttributeSingle, req.Service)
	require.True(t, req.Path.HasClass)
	require.EqualValues(t, ClassIdentity, req.Path.Class)
	require.Equal(t, []byte{0xAA, 0xBB}, req.RequestData)
}

func TestMessageRouterResponseRoundTrip(t *testing.T) {
	resp := NewResponse(ServiceGetAttributeSingle, []byte{1, 2, 3})
	encoded, err := resp.Encode()
	require.NoError(t, err)

	decoded, err := DecodeMessageRouterResponse(encoded)
	require.NoError(t, err)
	require.True(t, decoded.IsSuccess())
	require.Equal(t, []byte{1, 2, 3}, decoded.ResponseData)
}

func TestMessageRouterErrorResponseRoundTrip(t *testing.T) {
	resp := NewErrorResponse(ServiceGetAttributeSingle, NewExtError(StatusResourceUnavailable, ExtStatusNoMoreConnsAvailable))
	encoded, err := resp.Encode()
	require.NoError(t, err)

	decoded, err := DecodeMessageRouterResponse(encoded)
	require.NoError(t, err)
	require.False(t, decoded.IsSuccess())
	require.Equal(t, StatusResourceUnavailable, decoded.GeneralStatus)
	require.Equal(t, []UINT{ExtStatusNoMoreConnsAvailable}, decoded.ExtStatus)

	var cerr *Error
	require.ErrorAs(t, decoded.Error(), &cerr)
}
