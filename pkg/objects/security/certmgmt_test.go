package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridwell/enip-adapter/pkg/cip"
)

type fakeCA struct {
	csr   []byte
	valid bool
	err   error
}

func (f fakeCA) GenerateCSR(_ context.Context, subject string, _ []string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.csr, nil
}

func (f fakeCA) VerifyCertificate(_ context.Context, _ []byte) (bool, error) {
	return f.valid, f.err
}

func shortStringBytes(t *testing.T, s string) []byte {
	t.Helper()
	w := cip.NewWriter(0)
	require.NoError(t, cip.CipShortString{Value: s}.Encode(w))
	return w.Bytes()
}

func TestCertMgmtCreateAllocatesDynamicInstance(t *testing.T) {
	reg := cip.NewRegistry()
	NewCertMgmt(reg, fakeCA{})

	resp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service:     cip.ServiceCreate,
		Path:        cip.ParsedPath{HasClass: true, Class: cip.ClassCertificateMgmt},
		RequestData: shortStringBytes(t, "rotating-cert"),
	})
	require.True(t, resp.IsSuccess())

	parsed, err := cip.DecodeEPath(cip.NewReader(resp.ResponseData), len(resp.ResponseData))
	require.NoError(t, err)
	require.True(t, parsed.HasInstance)
	require.EqualValues(t, 2, parsed.Instance)
}

func TestCreateCSRRejectedOnStaticInstance1(t *testing.T) {
	reg := cip.NewRegistry()
	NewCertMgmt(reg, fakeCA{csr: []byte("csr-bytes")})

	w := cip.NewWriter(0)
	for i := 0; i < 8; i++ {
		require.NoError(t, cip.CipShortString{Value: "x"}.Encode(w))
	}
	resp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service:     serviceCreateCSR,
		Path:        cip.ParsedPath{HasClass: true, Class: cip.ClassCertificateMgmt, HasInstance: true, Instance: 1},
		RequestData: w.Bytes(),
	})
	require.False(t, resp.IsSuccess())
	require.Equal(t, cip.StatusObjectStateConflict, resp.GeneralStatus)
}

func TestCreateCSRRejectsMalformedCountryField(t *testing.T) {
	reg := cip.NewRegistry()
	NewCertMgmt(reg, fakeCA{csr: []byte("csr-bytes")})

	reg.NotifyClass(&cip.MessageRouterRequest{
		Service:     cip.ServiceCreate,
		Path:        cip.ParsedPath{HasClass: true, Class: cip.ClassCertificateMgmt},
		RequestData: shortStringBytes(t, "dynamic"),
	})

	w := cip.NewWriter(0)
	fields := []string{"CN", "O", "OU", "L", "ST", "USA", "e@x.com", "1"} // Country is 3 chars, invalid
	for _, f := range fields {
		require.NoError(t, cip.CipShortString{Value: f}.Encode(w))
	}
	resp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service:     serviceCreateCSR,
		Path:        cip.ParsedPath{HasClass: true, Class: cip.ClassCertificateMgmt, HasInstance: true, Instance: 2},
		RequestData: w.Bytes(),
	})
	require.False(t, resp.IsSuccess())
	require.Equal(t, cip.StatusInvalidParameter, resp.GeneralStatus)
}

func TestCreateCSRMaterialisesFileObject(t *testing.T) {
	reg := cip.NewRegistry()
	o := NewCertMgmt(reg, fakeCA{csr: []byte("csr-bytes")})

	reg.NotifyClass(&cip.MessageRouterRequest{
		Service:     cip.ServiceCreate,
		Path:        cip.ParsedPath{HasClass: true, Class: cip.ClassCertificateMgmt},
		RequestData: shortStringBytes(t, "dynamic"),
	})

	w := cip.NewWriter(0)
	fields := []string{"CN", "O", "OU", "L", "ST", "US", "e@x.com", "1"}
	for _, f := range fields {
		require.NoError(t, cip.CipShortString{Value: f}.Encode(w))
	}
	resp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service:     serviceCreateCSR,
		Path:        cip.ParsedPath{HasClass: true, Class: cip.ClassCertificateMgmt, HasInstance: true, Instance: 2},
		RequestData: w.Bytes(),
	})
	require.True(t, resp.IsSuccess())

	parsed, err := cip.DecodeEPath(cip.NewReader(resp.ResponseData), len(resp.ResponseData))
	require.NoError(t, err)
	require.EqualValues(t, o.FileClass.Code, parsed.Class)
	require.Equal(t, CertStateConfiguring, o.instances[2].state)
}

func TestVerifyCertificateFailureReportsVerificationFailed(t *testing.T) {
	reg := cip.NewRegistry()
	NewCertMgmt(reg, fakeCA{valid: false})

	resp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service:     serviceVerifyCertificate,
		Path:        cip.ParsedPath{HasClass: true, Class: cip.ClassCertificateMgmt, HasInstance: true, Instance: 1},
		RequestData: []byte("cert-bytes"),
	})
	require.False(t, resp.IsSuccess())
	require.Equal(t, cip.StatusVerificationFailed, resp.GeneralStatus)
}

func TestCertificateListClassAttributeWalksInstances(t *testing.T) {
	reg := cip.NewRegistry()
	NewCertMgmt(reg, fakeCA{})

	resp := reg.NotifyClass(&cip.MessageRouterRequest{
		Service: cip.ServiceGetAttributeSingle,
		Path:    cip.ParsedPath{HasClass: true, Class: cip.ClassCertificateMgmt, HasAttribute: true, Attribute: 9},
	})
	require.True(t, resp.IsSuccess())
	r := cip.NewReader(resp.ResponseData)
	count, err := r.GetUINT()
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}
