package security

import (
	"context"
	"sort"

	"github.com/sony/gobreaker"

	"github.com/gridwell/enip-adapter/pkg/cip"
	"github.com/gridwell/enip-adapter/pkg/platform"
)

// CertState is a Certificate Management Object instance's state attribute
// (spec §4.5).
type CertState cip.USINT

const (
	CertStateNonExistent CertState = 0
	CertStateCreated     CertState = 1
	CertStateConfiguring CertState = 2
	CertStateVerified    CertState = 3
	CertStateInvalid     CertState = 4
)

// serviceCreateCSR and serviceVerifyCertificate are the Certificate
// Management Object's instance-level services (CIP Vol. 8 §5-7.5/5-7.6).
const (
	serviceCreateCSR         cip.USINT = 0x4B
	serviceVerifyCertificate cip.USINT = 0x4C
)

// certInstance is one Certificate Management Object instance (instance 1 is
// static and non-deletable; further instances are created via the class
// Create service, spec §4.5).
type certInstance struct {
	id      cip.UDINT
	inst    *cip.Instance
	name    string
	state   CertState
	device  cip.Path // device certificate EPath (File Object)
	ca      cip.Path // CA certificate EPath (File Object)
	encoding cip.USINT
}

// fileObject is the minimal File Object (class 0x37) materialisation a
// generated CSR is exposed through (spec §4.5 "materialises the CSR as a
// File Object instance").
type fileObject struct {
	id   cip.UDINT
	data []byte
}

// CertificateManagementObject implements class 0x5F: Create, Create_CSR,
// and Verify_Certificate, delegating CSR generation/verification to an
// external platform.CertificateAuthority collaborator guarded by a circuit
// breaker so a flaky CA backend cannot be hammered by repeated calls during
// a bulk certificate rotation (spec §4.5, §6).
type CertificateManagementObject struct {
	Class     *cip.Class
	FileClass *cip.Class

	ca      platform.CertificateAuthority
	breaker *gobreaker.CircuitBreaker

	instances map[cip.UDINT]*certInstance
	files     map[cip.UDINT]*fileObject
	nextFileID cip.UDINT
}

// NewCertMgmt creates the Certificate Management Object (and the File
// Object class its CSR materialisation depends on), and registers both.
func NewCertMgmt(reg *cip.Registry, ca platform.CertificateAuthority) *CertificateManagementObject {
	o := &CertificateManagementObject{
		Class:     cip.NewClass(cip.ClassCertificateMgmt, "Certificate Management"),
		FileClass: cip.NewClass(0x37, "File"),
		ca:        ca,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "certificate-authority",
			MaxRequests: 1,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		instances:  make(map[cip.UDINT]*certInstance),
		files:      make(map[cip.UDINT]*fileObject),
		nextFileID: 1,
	}

	inst1 := o.newCertInstance(1, "device")
	o.Class.AddInstance(inst1.inst)

	o.Class.Deletable = func(id cip.UDINT) bool { return id != 1 }
	o.Class.Meta.AddService(&cip.Service{Code: cip.ServiceCreate, Handler: o.handleCreate})
	o.Class.Meta.AddAttribute(&cip.Attribute{ID: 9, Gettable: true,
		Encode: o.encodeCertificateList})

	reg.Register(o.Class)
	reg.Register(o.FileClass)
	return o
}

func (o *CertificateManagementObject) newCertInstance(id cip.UDINT, name string) *certInstance {
	ci := &certInstance{id: id, inst: cip.NewInstance(id), name: name, state: CertStateCreated}
	ci.inst.AddAttribute(&cip.Attribute{ID: 1, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return cip.CipShortString{Value: ci.name}.Encode(w) }})
	ci.inst.AddAttribute(&cip.Attribute{ID: 2, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutUSINT(cip.USINT(ci.state)) }})
	ci.inst.AddAttribute(&cip.Attribute{ID: 3, Gettable: true, Settable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutBytes(ci.device.Bytes()) },
		Decode: func(r *cip.Reader) error {
			ci.device = append(cip.Path(nil), r.Bytes()...)
			return r.Skip(r.Remaining())
		}})
	ci.inst.AddAttribute(&cip.Attribute{ID: 4, Gettable: true, Settable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutBytes(ci.ca.Bytes()) },
		Decode: func(r *cip.Reader) error {
			ci.ca = append(cip.Path(nil), r.Bytes()...)
			return r.Skip(r.Remaining())
		}})
	ci.inst.AddAttribute(&cip.Attribute{ID: 5, Gettable: true, Settable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutUSINT(ci.encoding) },
		Decode: func(r *cip.Reader) error {
			v, err := r.GetUSINT()
			if err != nil {
				return err
			}
			ci.encoding = v
			return nil
		}})
	ci.inst.AddService(&cip.Service{Code: serviceCreateCSR, Handler: func(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
		return o.handleCreateCSR(ci, req)
	}})
	ci.inst.AddService(&cip.Service{Code: serviceVerifyCertificate, Handler: func(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
		return o.handleVerifyCertificate(ci, req)
	}})
	o.instances[id] = ci
	return ci
}

// handleCreate is the Certificate Management Object's class-level Create
// service: the payload is a single ShortString instance name (spec §4.5).
func (o *CertificateManagementObject) handleCreate(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
	if len(req.RequestData) == 0 {
		return nil, cip.NewError(cip.StatusNotEnoughData)
	}
	r := cip.NewReader(req.RequestData)
	name, err := cip.DecodeCipShortString(r)
	if err != nil {
		return nil, err
	}

	id := o.smallestUnusedInstanceID()
	ci := o.newCertInstance(id, name.Value)
	o.Class.AddInstance(ci.inst)

	var p cip.Path
	p.AddClass(o.Class.Code)
	p.AddInstance32(uint32(id))
	return cip.NewResponse(req.Service, p.Bytes()), nil
}

func (o *CertificateManagementObject) smallestUnusedInstanceID() cip.UDINT {
	var id cip.UDINT = 1
	for {
		if _, taken := o.instances[id]; !taken {
			return id
		}
		id++
	}
}

// csrFields are the eight ShortString request parameters Create_CSR
// consumes, in order (spec §4.5).
type csrFields struct {
	CommonName, Organization, OrgUnit, Locality, State, Country, Email, Serial string
}

// handleCreateCSR is rejected on instance 1 (the static device-identity
// instance never regenerates its own key material through this path); it
// consumes the eight ShortString subject fields, validates Country is
// either empty or exactly two characters, delegates to the external CA
// collaborator, materialises the CSR as a File Object instance, and
// transitions this instance to Configuring (spec §4.5).
func (o *CertificateManagementObject) handleCreateCSR(ci *certInstance, req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
	if ci.id == 1 {
		return nil, cip.NewError(cip.StatusObjectStateConflict)
	}

	r := cip.NewReader(req.RequestData)
	var fields [8]string
	for i := range fields {
		s, err := cip.DecodeCipShortString(r)
		if err != nil {
			return nil, err
		}
		fields[i] = s.Value
	}
	f := csrFields{
		CommonName: fields[0], Organization: fields[1], OrgUnit: fields[2],
		Locality: fields[3], State: fields[4], Country: fields[5],
		Email: fields[6], Serial: fields[7],
	}
	if f.Country != "" && len(f.Country) != 2 {
		return nil, cip.NewError(cip.StatusInvalidParameter)
	}

	result, err := o.breaker.Execute(func() (any, error) {
		return o.ca.GenerateCSR(context.Background(), f.CommonName, nil)
	})
	if err != nil {
		return nil, cip.NewError(cip.StatusDeviceStateConflict)
	}
	csr := result.([]byte)

	fileID := o.nextFileID
	o.nextFileID++
	fo := &fileObject{id: fileID, data: csr}
	o.files[fileID] = fo
	foInst := cip.NewInstance(fileID)
	foInst.AddAttribute(&cip.Attribute{ID: 1, Gettable: true, InGetAll: true,
		Encode: func(w *cip.Writer) error { return w.PutBytes(fo.data) }})
	o.FileClass.AddInstance(foInst)

	ci.state = CertStateConfiguring

	var p cip.Path
	p.AddClass(o.FileClass.Code)
	p.AddInstance32(uint32(fileID))
	return cip.NewResponse(req.Service, p.Bytes()), nil
}

// handleVerifyCertificate updates this instance's state (and, transitively,
// every certificate chained from it via the CA attribute) based on the
// external collaborator's verdict (spec §4.5).
func (o *CertificateManagementObject) handleVerifyCertificate(ci *certInstance, req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
	cert := append([]byte(nil), req.RequestData...)

	result, err := o.breaker.Execute(func() (any, error) {
		return o.ca.VerifyCertificate(context.Background(), cert)
	})
	if err != nil {
		return nil, cip.NewError(cip.StatusDeviceStateConflict)
	}
	valid := result.(bool)

	o.propagateVerification(ci, valid, make(map[cip.UDINT]bool))

	if !valid {
		return cip.NewErrorResponse(req.Service, cip.NewError(cip.StatusVerificationFailed)), nil
	}
	w := cip.NewWriter(0)
	if err := w.PutBOOL(cip.BOOL(valid)); err != nil {
		return nil, err
	}
	return cip.NewResponse(req.Service, w.Bytes()), nil
}

// propagateVerification walks the CA-reference chain starting at ci,
// setting each reached instance's state, and stops at cycles via visited.
func (o *CertificateManagementObject) propagateVerification(ci *certInstance, valid bool, visited map[cip.UDINT]bool) {
	if visited[ci.id] {
		return
	}
	visited[ci.id] = true
	if valid {
		ci.state = CertStateVerified
	} else {
		ci.state = CertStateInvalid
	}
	for _, other := range o.instances {
		if other.id != ci.id && len(other.ca) > 0 {
			// A coarse "chained from" relation: any instance whose CA path
			// targets this class is considered reached from it.
			if pathTargetsInstance(other.ca, o.Class.Code, ci.id) {
				o.propagateVerification(other, valid, visited)
			}
		}
	}
}

func pathTargetsInstance(p cip.Path, classCode cip.UINT, instID cip.UDINT) bool {
	parsed, err := cip.DecodeEPath(cip.NewReader(p.Bytes()), len(p.Bytes()))
	if err != nil {
		return false
	}
	return parsed.HasClass && parsed.Class == classCode && parsed.HasInstance && parsed.Instance == instID
}

// encodeCertificateList is class attribute 9: walks the instance chain in
// ascending instance-ID order, emitting (name, EPath-to-this-instance) for
// each (spec §4.5).
func (o *CertificateManagementObject) encodeCertificateList(w *cip.Writer) error {
	ids := make([]cip.UDINT, 0, len(o.instances))
	for id := range o.instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if err := w.PutUINT(cip.UINT(len(ids))); err != nil {
		return err
	}
	for _, id := range ids {
		ci := o.instances[id]
		if err := (cip.CipShortString{Value: ci.name}).Encode(w); err != nil {
			return err
		}
		var p cip.Path
		p.AddClass(o.Class.Code)
		p.AddInstance32(uint32(id))
		if err := w.PutBytes(p.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
