// Package server implements the EtherNet/IP encapsulation layer (C3): TCP
// session registration and explicit messaging (RegisterSession,
// UnRegisterSession, SendRRData, SendUnitData), and the UDP listener that
// answers unsolicited List_Identity/List_Services discovery (spec §4.3,
// supplemented per SPEC_FULL.md). Grounded on the teacher's
// pkg/server/server.go accept loop, generalized to the single-goroutine
// kernel hand-off spec §5 requires.
package server

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gridwell/enip-adapter/internal/log"
	"github.com/gridwell/enip-adapter/pkg/cip"
	"github.com/gridwell/enip-adapter/pkg/eip"
	"github.com/gridwell/enip-adapter/pkg/metrics"
	"github.com/gridwell/enip-adapter/pkg/objects/connmgr"
	"github.com/gridwell/enip-adapter/pkg/platform"
)

// kernelCall is one CIP dispatch handed from an accept-loop goroutine to
// the single main-loop goroutine that owns the class registry and
// connection manager (spec §5).
type kernelCall struct {
	req    *cip.MessageRouterRequest
	respCh chan *cip.MessageRouterResponse
}

// Session is one registered encapsulation session (spec §4.3).
type Session struct {
	Handle       uint32
	Conn         net.Conn
	LastActivity time.Time
}

// Server is the adapter's encapsulation endpoint.
type Server struct {
	reg     *cip.Registry
	connMgr *connmgr.Manager
	sockets platform.SocketFactory
	clock   platform.Clock
	log     log.Logger
	metrics *metrics.Registry

	inactivityTimeout time.Duration
	tickInterval      time.Duration

	calls chan kernelCall

	mu             sync.Mutex
	sessions       map[uint32]*Session
	nextHandle     uint32

	identity eip.IdentityInfo

	tickers []Ticker

	class1 chan class1Datagram
}

// class1Datagram is a raw UDP payload received on the Class 1 cyclic I/O
// port, handed off from the receiving goroutine to RunMainLoop so
// connmgr.Manager state is only ever touched from the single main-loop
// goroutine (spec §5).
type class1Datagram struct {
	data []byte
	src  net.Addr
}

// Ticker is implemented by objects that need to advance an internal
// millisecond countdown on every main-loop tick alongside the connection
// manager's watchdogs — the security objects' configuration-session
// timers (spec §4.5, the external `register_timeout_checker` collaborator
// in spec §6).
type Ticker interface {
	Tick(elapsedMs uint32)
}

// AddTicker registers a Ticker to be driven from RunMainLoop. Call before
// RunMainLoop starts.
func (s *Server) AddTicker(t Ticker) {
	s.tickers = append(s.tickers, t)
}

// New builds an encapsulation server. Call Run to start accepting
// connections and RunMainLoop (from whichever goroutine is meant to own
// CIP dispatch) to start servicing kernel calls and connection ticks.
func New(reg *cip.Registry, cm *connmgr.Manager, sockets platform.SocketFactory, clock platform.Clock, logger log.Logger, m *metrics.Registry, identity eip.IdentityInfo, inactivityTimeout, tickInterval time.Duration) *Server {
	return &Server{
		reg:               reg,
		connMgr:           cm,
		sockets:           sockets,
		clock:             clock,
		log:               logger,
		metrics:           m,
		inactivityTimeout: inactivityTimeout,
		tickInterval:      tickInterval,
		calls:             make(chan kernelCall, 64),
		sessions:          make(map[uint32]*Session),
		nextHandle:        1,
		identity:          identity,
		class1:            make(chan class1Datagram, 256),
	}
}

// RunMainLoop is the single goroutine that owns cip.Registry and
// connmgr.Manager state: it drains kernel calls handed off by accept-loop
// goroutines and ticks the connection manager's watchdogs/production
// timers, never touching that state from anywhere else (spec §5).
func (s *Server) RunMainLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case call := <-s.calls:
			resp := s.reg.NotifyClass(call.req)
			call.respCh <- resp
		case dg := <-s.class1:
			if err := s.connMgr.HandleClass1Datagram(dg.data, dg.src); err != nil {
				s.log.Debugf("class 1 datagram from %s rejected: %v", dg.src, err)
			}
		case <-ticker.C:
			elapsed := uint32(s.tickInterval.Milliseconds())
			s.connMgr.ManageConnections(elapsed)
			s.connMgr.ProduceDue()
			for _, t := range s.tickers {
				t.Tick(elapsed)
			}
			s.expireSessions()
		}
	}
}

func (s *Server) dispatch(req *cip.MessageRouterRequest) *cip.MessageRouterResponse {
	respCh := make(chan *cip.MessageRouterResponse, 1)
	s.calls <- kernelCall{req: req, respCh: respCh}
	return <-respCh
}

func (s *Server) expireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for h, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > s.inactivityTimeout {
			sess.Conn.Close()
			delete(s.sessions, h)
			if s.metrics != nil {
				s.metrics.EncapSessionsActive.Dec()
			}
		}
	}
}

// Run starts the TCP accept loop and the UDP discovery listener. Each
// accepted TCP connection is served by its own goroutine (handleConn);
// every CIP request that connection receives is hand off to RunMainLoop
// over s.calls rather than calling NotifyClass directly.
func (s *Server) Run(ctx context.Context, tcpAddr, udpAddr, class1Addr string) error {
	ln, err := s.sockets.ListenTCP(tcpAddr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	udp, err := s.sockets.ListenUDP(udpAddr)
	if err != nil {
		return err
	}
	go s.serveUDP(ctx, udp)

	if class1Addr != "" {
		class1Conn, err := s.sockets.ListenUDP(class1Addr)
		if err != nil {
			return err
		}
		go s.serveClass1(ctx, class1Conn)
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Warnf("accept error: %v", err)
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	var sessionHandle uint32

	for {
		var hdr eip.EncapsulationHeader
		if err := hdr.Decode(conn); err != nil {
			if err != io.EOF {
				s.log.Debugf("encapsulation header read error: %v", err)
			}
			break
		}
		body := make([]byte, hdr.Length)
		if hdr.Length > 0 {
			if _, err := io.ReadFull(conn, body); err != nil {
				break
			}
		}

		s.mu.Lock()
		if sh := s.sessions[sessionHandle]; sh != nil {
			sh.LastActivity = s.clock.Now()
		}
		s.mu.Unlock()

		respHdr, respBody, closeConn := s.handleCommand(&hdr, body, conn, &sessionHandle)
		respHdr.Length = uint16(len(respBody))
		out := append(respHdr.Bytes(), respBody...)
		if _, err := conn.Write(out); err != nil {
			break
		}
		if closeConn {
			break
		}
	}

	s.mu.Lock()
	if sessionHandle != 0 {
		delete(s.sessions, sessionHandle)
		if s.metrics != nil {
			s.metrics.EncapSessionsActive.Dec()
		}
	}
	s.mu.Unlock()
}

func (s *Server) handleCommand(hdr *eip.EncapsulationHeader, body []byte, conn net.Conn, sessionHandle *uint32) (eip.EncapsulationHeader, []byte, bool) {
	resp := eip.EncapsulationHeader{Command: hdr.Command, SessionHandle: hdr.SessionHandle, SenderContext: hdr.SenderContext}

	switch hdr.Command {
	case eip.CommandRegisterSession:
		s.mu.Lock()
		handle := s.nextHandle
		s.nextHandle++
		s.sessions[handle] = &Session{Handle: handle, Conn: conn, LastActivity: s.clock.Now()}
		s.mu.Unlock()
		*sessionHandle = handle
		resp.SessionHandle = eip.SessionHandle(handle)
		if s.metrics != nil {
			s.metrics.EncapSessionsActive.Inc()
		}
		data, _ := eip.NewRegisterSessionData().Encode()
		return resp, data, false

	case eip.CommandUnregisterSession:
		s.mu.Lock()
		delete(s.sessions, *sessionHandle)
		s.mu.Unlock()
		return resp, nil, true

	case eip.CommandSendRRData, eip.CommandSendUnitData:
		if !s.sessionValid(*sessionHandle) {
			resp.Status = eip.StatusInvalidSessionHandle
			return resp, nil, false
		}
		_, authenticated := conn.(*tls.Conn)
		respData, err := s.handleSendData(body, authenticated, conn.RemoteAddr())
		if err != nil {
			resp.Status = eip.StatusIncorrectData
			return resp, nil, false
		}
		return resp, respData, false

	default:
		resp.Status = eip.StatusInvalidCommand
		return resp, nil, false
	}
}

func (s *Server) sessionValid(handle uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[handle]
	return ok
}

// handleSendData unwraps a SendRRData/SendUnitData CPF body, peels the
// unconnected or connected data item, dispatches it to the kernel, and
// re-wraps the Message Router response into the matching CPF item.
func (s *Server) handleSendData(body []byte, authenticated bool, originator net.Addr) ([]byte, error) {
	if len(body) < 6 {
		return nil, cip.NewError(cip.StatusNotEnoughData)
	}
	// Interface handle (UDINT) + timeout (UINT) precede the CPF.
	cpf, err := eip.DecodeCommonPacketFormat(body[6:])
	if err != nil {
		return nil, err
	}

	item := cpf.FindItemByType(eip.ItemIDUnconnectedMessage)
	if item == nil {
		item = cpf.FindItemByType(eip.ItemIDConnectedData)
	}
	if item == nil {
		return nil, cip.NewError(cip.StatusPathSegmentError)
	}

	req, err := cip.DecodeMessageRouterRequest(item.Data)
	if err != nil {
		return nil, err
	}
	req = req.WithAuthenticated(authenticated).WithOriginatorAddr(originator)

	resp := s.dispatch(req)
	respBytes, err := resp.Encode()
	if err != nil {
		return nil, err
	}

	replyCPF := eip.NewCommonPacketFormat(
		eip.NewCPFItem(eip.ItemIDNullAddress, nil),
		eip.NewCPFItem(item.TypeID, respBytes),
	)
	encoded, err := replyCPF.Encode()
	if err != nil {
		return nil, err
	}

	out := make([]byte, 6+len(encoded))
	binary.LittleEndian.PutUint32(out[0:4], 0) // interface handle
	binary.LittleEndian.PutUint16(out[4:6], 0) // timeout
	copy(out[6:], encoded)
	return out, nil
}

// serveUDP answers unsolicited List_Identity/List_Services requests
// (supplemented feature; spec §4.3/§6).
func (s *Server) serveUDP(ctx context.Context, conn net.PacketConn) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		var hdr eip.EncapsulationHeader
		if err := hdr.Decode(bytesReader(buf[:n])); err != nil {
			continue
		}

		switch hdr.Command {
		case eip.CommandListIdentity:
			payload, err := eip.EncodeListIdentityReply(s.identity, [4]byte{0, 0, 0, 0}, 44818)
			if err != nil {
				continue
			}
			replyCPF := eip.NewCommonPacketFormat(eip.NewCPFItem(eip.ItemIDListIdentity, payload))
			encoded, err := replyCPF.Encode()
			if err != nil {
				continue
			}
			reply := eip.EncapsulationHeader{Command: hdr.Command, Length: uint16(len(encoded)), SenderContext: hdr.SenderContext}
			out := append(reply.Bytes(), encoded...)
			conn.WriteTo(out, addr)

		case eip.CommandListServices:
			entries, err := eip.EncodeListServicesReply([]eip.ServiceEntry{{ProtocolVersion: 1, CapabilityFlags: eip.CapabilityFlagTCP, ServiceName: "Communications"}})
			if err != nil {
				continue
			}
			items := make([]eip.CPFItem, 0, len(entries))
			for _, e := range entries {
				items = append(items, eip.NewCPFItem(eip.ItemIDListServices, e))
			}
			replyCPF := eip.NewCommonPacketFormat(items...)
			encoded, err := replyCPF.Encode()
			if err != nil {
				continue
			}
			reply := eip.EncapsulationHeader{Command: hdr.Command, Length: uint16(len(encoded)), SenderContext: hdr.SenderContext}
			out := append(reply.Bytes(), encoded...)
			conn.WriteTo(out, addr)
		}
	}
}

// serveClass1 reads raw Class 1 cyclic I/O datagrams off the connected
// data UDP socket and hands each one off to RunMainLoop, never touching
// connmgr.Manager state itself (spec §5).
func (s *Server) serveClass1(ctx context.Context, conn net.PacketConn) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		payload := append([]byte(nil), buf[:n]...)
		select {
		case s.class1 <- class1Datagram{data: payload, src: addr}:
		default:
			s.log.Warnf("class 1 receive queue full, dropping datagram from %s", addr)
		}
	}
}

type byteReader struct {
	b []byte
	i int
}

func bytesReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}
