package cip

import "net"

// MessageRouterRequest is the unwrapped body of a SendRRData/SendUnitData
// CIP item: a service code, a request path, and whatever service-specific
// data follows it (CIP Vol. 1 §2-4.1).
type MessageRouterRequest struct {
	Service     USINT
	Path        ParsedPath
	RequestData []byte

	// Authenticated reports whether this request arrived over a transport
	// the security objects consider authenticated (a TLS-terminated
	// encapsulation session, spec §4.5). Unconnected UDP and plain TCP
	// sessions leave this false; CIP Security's Begin_Config/Reset from
	// Configured state check it to return PrivilegeViolation otherwise.
	Authenticated bool

	// OriginatorAddr is the network address the request arrived from,
	// threaded through by the encapsulation layer so Forward_Open
	// (handled by the Connection Manager) knows where to open its
	// producing/consuming UDP sockets (spec §4.4, §6 "the core asks for
	// create producing/consuming UDP socket").
	OriginatorAddr net.Addr
}

// DecodeMessageRouterRequest parses the bytes carried in an unconnected or
// connected data item addressed to class 0x02 (the Message Router itself)
// or, more commonly, peeled off by the kernel before dispatching to the
// target object's NotifyClass.
func DecodeMessageRouterRequest(data []byte) (*MessageRouterRequest, error) {
	r := NewReader(data)
	service, err := r.GetUSINT()
	if err != nil {
		return nil, err
	}
	pathWords, err := r.GetUSINT()
	if err != nil {
		return nil, err
	}
	path, err := DecodeEPath(r, int(pathWords)*2)
	if err != nil {
		return nil, err
	}
	return &MessageRouterRequest{
		Service:     service,
		Path:        path,
		RequestData: append([]byte(nil), r.Bytes()...),
	}, nil
}

// WithAuthenticated returns a shallow copy of the request tagged with the
// transport's authentication state, used by the encapsulation layer right
// before handing the request to NotifyClass.
func (r *MessageRouterRequest) WithAuthenticated(auth bool) *MessageRouterRequest {
	cp := *r
	cp.Authenticated = auth
	return &cp
}

// WithOriginatorAddr returns a shallow copy of the request tagged with the
// remote address it arrived from.
func (r *MessageRouterRequest) WithOriginatorAddr(addr net.Addr) *MessageRouterRequest {
	cp := *r
	cp.OriginatorAddr = addr
	return &cp
}

// Encode serializes the request for a client-side unconnected send, with
// the request path supplied already expressed as raw bytes.
func (r *MessageRouterRequest) Encode(path Path) ([]byte, error) {
	w := NewWriter(0)
	if err := w.PutUSINT(r.Service); err != nil {
		return nil, err
	}
	if err := w.PutUSINT(USINT(path.LenWords())); err != nil {
		return nil, err
	}
	if err := w.PutBytes(path.Bytes()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(r.RequestData); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// MessageRouterResponse is the Message Router's reply envelope (CIP Vol. 1
// §2-4.2): reply service (request service | 0x80), general status, an
// optional list of extended status words, and service-specific reply data.
type MessageRouterResponse struct {
	Service       USINT
	GeneralStatus USINT
	ExtStatus     []UINT
	ResponseData  []byte
}

// NewResponse builds a success response for the given request service.
func NewResponse(requestService USINT, data []byte) *MessageRouterResponse {
	return &MessageRouterResponse{Service: requestService | 0x80, ResponseData: data}
}

// NewErrorResponse builds a failure response from a *cip.Error.
func NewErrorResponse(requestService USINT, err *Error) *MessageRouterResponse {
	return &MessageRouterResponse{
		Service:       requestService | 0x80,
		GeneralStatus: err.Status,
		ExtStatus:     err.ExtStatus,
	}
}

// Encode serializes the response onto the wire.
func (r *MessageRouterResponse) Encode() ([]byte, error) {
	w := NewWriter(0)
	if err := w.PutUSINT(r.Service); err != nil {
		return nil, err
	}
	if err := w.PutUSINT(0); err != nil { // reserved
		return nil, err
	}
	if err := w.PutUSINT(r.GeneralStatus); err != nil {
		return nil, err
	}
	if err := w.PutUSINT(USINT(len(r.ExtStatus))); err != nil {
		return nil, err
	}
	for _, e := range r.ExtStatus {
		if err := w.PutUINT(e); err != nil {
			return nil, err
		}
	}
	if err := w.PutBytes(r.ResponseData); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeMessageRouterResponse decodes a byte slice into a
// MessageRouterResponse (used by tests asserting the kernel's wire output).
func DecodeMessageRouterResponse(data []byte) (*MessageRouterResponse, error) {
	r := NewReader(data)
	resp := &MessageRouterResponse{}
	var err error
	if resp.Service, err = r.GetUSINT(); err != nil {
		return nil, err
	}
	if _, err = r.GetUSINT(); err != nil { // reserved
		return nil, err
	}
	if resp.GeneralStatus, err = r.GetUSINT(); err != nil {
		return nil, err
	}
	extCount, err := r.GetUSINT()
	if err != nil {
		return nil, err
	}
	resp.ExtStatus = make([]UINT, extCount)
	for i := range resp.ExtStatus {
		if resp.ExtStatus[i], err = r.GetUINT(); err != nil {
			return nil, err
		}
	}
	resp.ResponseData = append([]byte(nil), r.Bytes()...)
	return resp, nil
}

// IsSuccess reports whether the response indicates success.
func (r *MessageRouterResponse) IsSuccess() bool {
	return r.GeneralStatus == StatusSuccess
}

// Error returns a structured *cip.Error if the response failed, nil
// otherwise.
func (r *MessageRouterResponse) Error() error {
	if r.IsSuccess() {
		return nil
	}
	return &Error{Status: r.GeneralStatus, ExtStatus: r.ExtStatus}
}
