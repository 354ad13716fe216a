package security

import "github.com/gridwell/enip-adapter/pkg/cip"

// PullState is the EtherNet/IP Security Object's state attribute, combining
// ordinary configuration with the pull-model provisioning flow (CIP Vol. 8
// §5-6, spec §4.5).
type PullState cip.USINT

const (
	PullStateFactoryDefault          PullState = 0
	PullStateConfigurationInProgress PullState = 1
	PullStateConfigured              PullState = 2
	PullStatePullModelInProgress     PullState = 3
	PullStatePullModelCompleted      PullState = 4
	PullStatePullModelDisabled       PullState = 5
)

// maxDTLSTimeoutSec, maxPSKCount, maxPSKIdentityLen and maxPSKKeyLen are the
// hard limits spec §4.5 places on attribute 5 (pre-shared keys) and
// attribute 12 (DTLS timeout): at most one PSK, an identity hint capped at
// 128 octets, a key capped at 64 octets, and a handshake timeout that must
// not exceed one hour.
const (
	maxDTLSTimeoutSec = 3600
	maxPSKCount       = 1
	maxPSKIdentityLen = 128
	maxPSKKeyLen      = 64
)

// psk is one pre-shared-key entry (identity hint + key material).
type psk struct {
	Identity []byte
	Key      []byte
}

// pendingConfig is the staged write set Apply_Config commits and
// Abort_Config discards (spec §4.5 "Apply_Config ... applies pending
// attribute writes").
type pendingConfig struct {
	allowedCipherSuites []byte
	psks                []psk
	deviceCertificate   cip.Path
	trustedAuthorities  cip.Path
	crlPath             cip.Path
	verifyClientCert    bool
	udpOnlyPolicy       bool
	certMgmtPath        cip.Path
}

// EIPSecurityObject implements class 0x5E.
type EIPSecurityObject struct {
	Class    *cip.Class
	instance *cip.Instance

	state          PullState
	pullModelStatus cip.UINT
	dtlsTimeoutSec cip.UINT

	active  pendingConfig
	pending pendingConfig

	cipSecurity     *CIPSecurityObject
	onCloseExisting CloseExistingConnectionsFunc
}

// NewEIPSecurity creates the EtherNet/IP Security Object and registers it.
// If cipSec is non-nil, this object's configuration lifecycle is wired to
// the CIP Security Object's Reset fan-out (spec §4.5).
func NewEIPSecurity(reg *cip.Registry, cipSec *CIPSecurityObject) *EIPSecurityObject {
	o := &EIPSecurityObject{
		Class:          cip.NewClass(cip.ClassEtherNetIPSecure, "EtherNet/IP Security"),
		state:          PullStateFactoryDefault,
		dtlsTimeoutSec: 30,
		cipSecurity:    cipSec,
	}
	o.instance = cip.NewInstance(1)

	o.instance.AddAttribute(&cip.Attribute{ID: 1, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutUSINT(cip.USINT(o.state)) }})

	o.instance.AddAttribute(&cip.Attribute{ID: 2, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutDword(0x0000000F) }}) // capability flags: supports all 4 cipher families below

	o.instance.AddAttribute(&cip.Attribute{ID: 3, Gettable: true,
		Encode: func(w *cip.Writer) error { return w.PutBytes(defaultCipherSuites) }})

	o.instance.AddAttribute(&cip.Attribute{ID: 4, Gettable: true, Settable: true,
		Encode: func(w *cip.Writer) error { return w.PutBytes(o.active.allowedCipherSuites) },
		Decode: func(r *cip.Reader) error {
			o.pending.allowedCipherSuites = append([]byte(nil), r.Bytes()...)
			return r.Skip(r.Remaining())
		}})

	// Attribute 5 (pre-shared keys) always reads back a zero-length PSK
	// view: secrecy, spec §4.5.
	o.instance.AddAttribute(&cip.Attribute{ID: 5, Gettable: true, Settable: true,
		Encode: func(w *cip.Writer) error { return w.PutUINT(0) },
		Decode: o.decodePSKList})

	o.instance.AddAttribute(&cip.Attribute{ID: 6, Gettable: true, Settable: true,
		Encode: func(w *cip.Writer) error { return w.PutBytes(o.active.deviceCertificate.Bytes()) },
		Decode: decodePathInto(&o.pending.deviceCertificate)})

	o.instance.AddAttribute(&cip.Attribute{ID: 7, Gettable: true, Settable: true,
		Encode: func(w *cip.Writer) error { return w.PutBytes(o.active.trustedAuthorities.Bytes()) },
		Decode: decodePathInto(&o.pending.trustedAuthorities)})

	o.instance.AddAttribute(&cip.Attribute{ID: 8, Gettable: true, Settable: true,
		Encode: func(w *cip.Writer) error { return w.PutBytes(o.active.crlPath.Bytes()) },
		Decode: decodePathInto(&o.pending.crlPath)})

	o.instance.AddAttribute(&cip.Attribute{ID: 9, Gettable: true, Settable: true,
		Encode: func(w *cip.Writer) error { return w.PutBOOL(cip.BOOL(o.active.verifyClientCert)) },
		Decode: func(r *cip.Reader) error {
			v, err := r.GetBOOL()
			if err != nil {
				return err
			}
			o.pending.verifyClientCert = bool(v)
			return nil
		}})

	o.instance.AddAttribute(&cip.Attribute{ID: 10, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error {
			return w.PutBOOL(cip.BOOL(o.state != PullStatePullModelDisabled))
		}})

	o.instance.AddAttribute(&cip.Attribute{ID: 11, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutUINT(o.pullModelStatus) }})

	o.instance.AddAttribute(&cip.Attribute{ID: 12, Gettable: true, Settable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutUINT(o.dtlsTimeoutSec) },
		Decode: func(r *cip.Reader) error {
			v, err := r.GetINT()
			if err != nil {
				return err
			}
			if v < 0 || v > maxDTLSTimeoutSec {
				return cip.NewError(cip.StatusInvalidAttributeValue)
			}
			o.dtlsTimeoutSec = cip.UINT(v)
			return nil
		}})

	o.instance.AddAttribute(&cip.Attribute{ID: 13, Gettable: true, Settable: true,
		Encode: func(w *cip.Writer) error { return w.PutBOOL(cip.BOOL(o.active.udpOnlyPolicy)) },
		Decode: func(r *cip.Reader) error {
			v, err := r.GetBOOL()
			if err != nil {
				return err
			}
			o.pending.udpOnlyPolicy = bool(v)
			return nil
		}})

	o.instance.AddAttribute(&cip.Attribute{ID: 14, Gettable: true,
		Encode: func(w *cip.Writer) error { return w.PutDword(0) }}) // reserved capability word

	o.instance.AddAttribute(&cip.Attribute{ID: 15, Gettable: true, Settable: true,
		Encode: func(w *cip.Writer) error { return w.PutBytes(o.active.certMgmtPath.Bytes()) },
		Decode: decodePathInto(&o.pending.certMgmtPath)})

	o.instance.AddAttribute(&cip.Attribute{ID: 16, Gettable: true,
		Encode: func(w *cip.Writer) error { return w.PutUINT(cip.UINT(len(o.active.psks))) }})

	o.instance.AddService(&cip.Service{Code: cip.ServiceReset, Handler: o.handleReset})
	o.instance.AddService(&cip.Service{Code: cip.ServiceApplyConfig, Handler: o.handleApplyConfig})
	o.instance.AddService(&cip.Service{Code: cip.ServiceAbortConfig, Handler: o.handleAbortConfig})

	o.Class.AddInstance(o.instance)
	reg.Register(o.Class)

	if cipSec != nil {
		cipSec.OnReset(o.resetForCIPSecurityCascade)
	}
	return o
}

// defaultCipherSuites lists the TLS 1.2/1.3 cipher suites CIP Vol. 8 §5-6.2
// mandates support for, in attribute 3 (read-only available list).
var defaultCipherSuites = []byte{0x13, 0x01, 0x13, 0x02, 0xC0, 0x2B, 0xC0, 0x2C}

func decodePathInto(dst *cip.Path) func(r *cip.Reader) error {
	return func(r *cip.Reader) error {
		*dst = append(cip.Path(nil), r.Bytes()...)
		return r.Skip(r.Remaining())
	}
}

func (o *EIPSecurityObject) decodePSKList(r *cip.Reader) error {
	count, err := r.GetUINT()
	if err != nil {
		return err
	}
	if count > maxPSKCount {
		return cip.NewError(cip.StatusInvalidAttributeValue)
	}
	entries := make([]psk, 0, count)
	for i := 0; i < int(count); i++ {
		idLen, err := r.GetUSINT()
		if err != nil {
			return err
		}
		if idLen > maxPSKIdentityLen {
			return cip.NewError(cip.StatusInvalidAttributeValue)
		}
		identity, err := r.ReadBytes(int(idLen))
		if err != nil {
			return err
		}
		keyLen, err := r.GetUSINT()
		if err != nil {
			return err
		}
		if keyLen > maxPSKKeyLen {
			return cip.NewError(cip.StatusInvalidAttributeValue)
		}
		key, err := r.ReadBytes(int(keyLen))
		if err != nil {
			return err
		}
		entries = append(entries, psk{
			Identity: append([]byte(nil), identity...),
			Key:      append([]byte(nil), key...),
		})
	}
	o.pending.psks = entries
	return nil
}

// DTLSTimeoutSec returns the currently configured handshake timeout.
func (o *EIPSecurityObject) DTLSTimeoutSec() cip.UINT { return o.dtlsTimeoutSec }

// PullModelState returns the current pull-model/configuration state.
func (o *EIPSecurityObject) PullModelState() PullState { return o.state }

// applyBehaviorFlag bits recognised by Apply_Config (spec §4.5, §8):
// bit 0 schedules closing existing connections after close_delay ms, bit 1
// schedules a CIP Security Object_Cleanup.
const (
	applyFlagCloseExistingConnections cip.UINT = 1 << 0
	applyFlagObjectCleanup            cip.UINT = 1 << 1
)

// CloseExistingConnectionsFunc is invoked by Apply_Config, during the
// service call, when bit 0 of apply_behavior_flags is set; it receives
// close_delay in milliseconds and does the delaying itself (cmd/adapter
// schedules the connection manager's CloseAll with it, spec §4.5).
type CloseExistingConnectionsFunc func(closeDelayMs cip.UDINT)

func (o *EIPSecurityObject) handleApplyConfig(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
	r := cip.NewReader(req.RequestData)
	flags, err := r.GetUINT()
	if err != nil {
		return nil, err
	}
	closeDelay, err := r.GetUDINT()
	if err != nil {
		return nil, err
	}

	o.active = o.pending

	if flags&applyFlagCloseExistingConnections != 0 && o.onCloseExisting != nil {
		o.onCloseExisting(closeDelay)
	}
	if flags&applyFlagObjectCleanup != 0 && o.cipSecurity != nil {
		o.cipSecurity.ObjectCleanup()
	}

	if o.state == PullStateConfigurationInProgress {
		o.state = PullStateConfigured
	}
	return cip.NewResponse(req.Service, nil), nil
}

func (o *EIPSecurityObject) handleAbortConfig(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
	o.pending = o.active
	return cip.NewResponse(req.Service, nil), nil
}

// OnCloseExistingConnections registers the callback Apply_Config's bit 0
// invokes.
func (o *EIPSecurityObject) OnCloseExistingConnections(f CloseExistingConnectionsFunc) {
	o.onCloseExisting = f
}

// handleReset implements the one-byte pull-model enable/disable parameter
// (spec §4.5): byte absent or nonzero enables the pull model (state ->
// FactoryDefault, pull-model-status -> 0); byte==0 disables it (state ->
// PullModelDisabled, pull-model-status -> 0xFFFF). A reset from Configured
// requires an authenticated (TLS) transport.
func (o *EIPSecurityObject) handleReset(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
	if len(req.RequestData) > 1 {
		return nil, cip.NewError(cip.StatusTooMuchData)
	}
	if o.state == PullStateConfigured && !req.Authenticated {
		return nil, cip.NewError(cip.StatusPrivilegeViolation)
	}

	enable := true
	if len(req.RequestData) == 1 {
		enable = req.RequestData[0] != 0
	}
	if enable {
		o.state = PullStateFactoryDefault
		o.pullModelStatus = 0
	} else {
		o.state = PullStatePullModelDisabled
		o.pullModelStatus = 0xFFFF
	}
	o.pending = pendingConfig{}
	o.active = pendingConfig{}
	return cip.NewResponse(req.Service, nil), nil
}

// resetForCIPSecurityCascade is invoked by the CIP Security Object's Reset
// fan-out (spec §4.5); it re-enables the pull model as if a bare Reset with
// no parameter had been issued, without re-checking the authenticated
// transport (the cascade is already gated by the originating Reset call).
func (o *EIPSecurityObject) resetForCIPSecurityCascade() {
	o.state = PullStateFactoryDefault
	o.pullModelStatus = 0
	o.pending = pendingConfig{}
	o.active = pendingConfig{}
}
