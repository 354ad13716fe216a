// Package connmgr implements the Connection Manager (class 0x06):
// Forward_Open/Forward_Close, the fixed-size connection slot pools, Class 1
// cyclic I/O production/consumption, and the single-threaded cooperative
// tick model spec §5 mandates in place of the teacher's goroutine+ticker
// scheduler (grounded on the teacher's pkg/objects/connmgr stub and
// pkg/runtime/scheduler.go, generalized to the full state machine
// original_source's cipconnectionmanager.c/cipioconnection.c implement).
package connmgr

import (
	"fmt"
	"net"
	"sync"

	"github.com/gridwell/enip-adapter/internal/config"
	"github.com/gridwell/enip-adapter/internal/log"
	"github.com/gridwell/enip-adapter/pkg/cip"
	"github.com/gridwell/enip-adapter/pkg/eip"
	"github.com/gridwell/enip-adapter/pkg/metrics"
	"github.com/gridwell/enip-adapter/pkg/platform"
)

// Class1UDPPort is the well-known UDP port Class 1 cyclic I/O is produced
// to and consumed from (spec §6, CIP Vol. 2 §2-5.2).
const Class1UDPPort = 2222

// MulticastGroupForHostID derives the target-chosen multicast group a
// device advertises for T->O multicast production from its own IPv4
// address, per CIP Vol. 1 §3-5.3: 239.192.1.0 | ((host_id-1)&0x3FF)<<5.
func MulticastGroupForHostID(deviceIP net.IP) net.IP {
	ip4 := deviceIP.To4()
	if ip4 == nil {
		return net.IPv4(239, 192, 1, 0)
	}
	hostID := uint32(ip4[3])
	base := uint32(239)<<24 | uint32(192)<<16 | uint32(1)<<8
	group := base | (((hostID - 1) & 0x3FF) << 5)
	return net.IPv4(byte(group>>24), byte(group>>16), byte(group>>8), byte(group))
}

// State is the connection's lifecycle state (spec §4.4 state machine).
type State int

const (
	StateNonExistent State = iota
	StateConfiguring
	StateWaitingForConnectionID
	StateEstablished
	StateTimedOut
)

// Role identifies which fixed-size slot pool a connection was allocated
// from, derived from the O->T/T->O network connection parameters and the
// transport type/trigger in the Forward_Open request.
type Role int

const (
	RoleExclusiveOwner Role = iota
	RoleInputOnly
	RoleListenOnly
	RoleExplicit
)

func (r Role) String() string {
	switch r {
	case RoleExclusiveOwner:
		return "exclusive_owner"
	case RoleInputOnly:
		return "input_only"
	case RoleListenOnly:
		return "listen_only"
	default:
		return "explicit"
	}
}

// Network connection parameter bits relevant to role selection (CIP Vol. 1
// Table 3-5.8).
const (
	ncpRedundantOwner = 1 << 15
	ncpOwnerExclusive = 0
)

// Connection is one allocated connection slot. Zero value is an unused,
// NonExistent slot ready for Forward_Open to claim.
type Connection struct {
	State State
	Role  Role

	OtoTConnectionID uint32 // supplied by the originator, used as our receive filter
	TtoOConnectionID uint32 // generated by us: (incarnation<<16)|counter

	ConnectionSerialNumber uint16
	OriginatorVendorID     uint16
	OriginatorSerialNumber uint32

	OtoTRPIus uint32
	TtoORPIus uint32
	TimeoutMultiplier uint8

	ProductionInhibitMs uint32
	msSinceLastProduce  uint32
	msSinceLastReceive  uint32
	watchdogMs          uint32

	ProducedSeq uint32 // EIP-level sequence for the T->O direction
	ConsumedSeq uint32 // EIP-level sequence last accepted on the O->T direction

	AppSeqSend uint16 // CIP-level (Class 1 transport) sequence, T->O
	AppSeqRecv uint16 // CIP-level sequence last accepted, O->T

	ProduceInstance uint32
	ConsumeInstance uint32

	Multicast bool

	// RemoteAddr is the address datagrams are produced to (the
	// originator's consuming socket) and the address incoming datagrams
	// must originate from to be accepted (spec §4.4 "Receive path": "if
	// the source IP does not match originator_address.sin_addr, the
	// datagram is dropped").
	RemoteAddr *net.UDPAddr

	// TxSocket is the UDP socket this connection produces through, or nil
	// when none was opened (no socket factory, no destination address, or
	// the open failed). An additional multicast connection on an
	// already-produced input point holds the same socket value as the
	// connection that opened it.
	TxSocket net.PacketConn
}

// SEQ_GT reports whether a is strictly sequence-greater than b under
// 32-bit sequence-count wraparound arithmetic (spec §4.4 Class 1 ordering).
func SEQ_GT(a, b uint32) bool { return int32(a-b) > 0 }

// SEQ_LEQ reports whether a is sequence-less-than-or-equal to b.
func SEQ_LEQ(a, b uint32) bool { return int32(a-b) <= 0 }

// watchdogMs computes the connection timeout in milliseconds from the O->T
// RPI and the timeout multiplier, per CIP Vol. 1 §3-4.5.2: the multiplier
// selects a power-of-two factor (4, 8, 16, 32, 64, 128, 256, 512), and the
// result is never less than 10000 ms.
func watchdogMs(rpiUs uint32, multiplier uint8) uint32 {
	factor := uint32(4) << multiplier
	v := (rpiUs / 1000) * factor
	if v < 10000 {
		v = 10000
	}
	return v
}

// Manager owns every connection slot pool and the single Forward_Open/
// Forward_Close class registered against the Connection Manager class
// code. All of its methods run on the single main-loop goroutine (spec
// §5); nothing here takes a lock for its own connection state, though
// Metrics' Prometheus collectors remain safe to touch from that one
// goroutine regardless.
type Manager struct {
	reg   *cip.Registry
	class *cip.Class

	pools map[Role][]*Connection

	incarnationID uint16
	counter       uint16

	assemblyIO platform.AssemblyIO
	clock      platform.Clock
	metrics    *metrics.Registry
	log        log.Logger

	sockets  platform.SocketFactory
	deviceIP net.IP

	// producedRunIdle/consumedRunIdle mirror the device-wide
	// OpenerProducedDataHasRunIdleHeader/OpenerConsumedDataHasRunIdleHeader
	// compile-time options (spec §6): whether Class 1 frames this device
	// produces/expects to consume carry the 32-bit run/idle header.
	producedRunIdle bool
	consumedRunIdle bool

	// identity is this device's own vendor/device-type/product-code/revision,
	// checked against a Forward_Open's optional electronic key segment (spec
	// §4.4 item 1). Set via SetDeviceIdentity from cmd/adapter, which already
	// holds the Identity Object's values — this package cannot import
	// pkg/objects/identity directly without a package cycle.
	identity deviceIdentity

	mu sync.Mutex // guards incarnation/counter allocation only, called from one goroutine but kept honest for future multi-accept paths
}

// New builds the connection manager, allocating nil slot placeholders for
// each configured pool size, and registers its class (Forward_Open/
// Large_Forward_Open/Forward_Close) into reg. sockets is the platform
// collaborator used to open each connection's producing UDP socket
// (spec §6 "create_udp_socket"); deviceIP is this device's own IPv4
// address, used to derive the target-chosen multicast group (spec §6).
func New(reg *cip.Registry, pools config.ConnectionPoolSizes, io platform.AssemblyIO, clock platform.Clock, m *metrics.Registry, logger log.Logger, sockets platform.SocketFactory, deviceIP net.IP) *Manager {
	mgr := &Manager{
		reg:           reg,
		pools:         make(map[Role][]*Connection),
		incarnationID: 1,
		assemblyIO:    io,
		clock:         clock,
		metrics:       m,
		log:           logger,
		sockets:       sockets,
		deviceIP:      deviceIP,
	}
	mgr.pools[RoleExclusiveOwner] = make([]*Connection, pools.ExclusiveOwner)
	mgr.pools[RoleInputOnly] = make([]*Connection, pools.InputOnly)
	mgr.pools[RoleListenOnly] = make([]*Connection, pools.ListenOnly)
	mgr.pools[RoleExplicit] = make([]*Connection, pools.Explicit)

	mgr.class = cip.NewClass(cip.ClassConnectionMgr, "Connection Manager")
	inst := cip.NewInstance(1)
	inst.AddService(&cip.Service{Code: cip.ServiceForwardOpen, Handler: mgr.handleForwardOpen})
	inst.AddService(&cip.Service{Code: cip.ServiceLargeForwardOpen, Handler: mgr.handleForwardOpen})
	inst.AddService(&cip.Service{Code: cip.ServiceForwardClose, Handler: mgr.handleForwardClose})
	mgr.class.AddInstance(inst)
	reg.Register(mgr.class)

	return mgr
}

// deviceIdentity is the subset of the Identity Object's attributes a
// Forward_Open electronic key segment is matched against.
type deviceIdentity struct {
	VendorID      cip.UINT
	DeviceType    cip.UINT
	ProductCode   cip.UINT
	MajorRevision cip.USINT
	MinorRevision cip.USINT
}

// SetDeviceIdentity records this device's own vendor id/device type/product
// code/revision so handleForwardOpen can validate an incoming electronic
// key segment against it (spec §4.4 item 1). Call before any Forward_Open
// arrives. Until then the identity is all zeros, which satisfies only a key
// whose vendor, device type, product code and major revision are all zero.
func (m *Manager) SetDeviceIdentity(vendorID, deviceType, productCode cip.UINT, major, minor cip.USINT) {
	m.identity = deviceIdentity{VendorID: vendorID, DeviceType: deviceType, ProductCode: productCode, MajorRevision: major, MinorRevision: minor}
}

// SetRunIdleHeaders configures whether this device's produced/consumed
// Class 1 data carries the 32-bit run/idle header, mirroring the
// OpenerProducedDataHasRunIdleHeader/OpenerConsumedDataHasRunIdleHeader
// compile-time options (spec §6). Call before any Forward_Open arrives.
func (m *Manager) SetRunIdleHeaders(produced, consumed bool) {
	m.producedRunIdle = produced
	m.consumedRunIdle = consumed
}

func (m *Manager) nextConnectionID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	if m.counter == 0 {
		m.counter = 1
	}
	return (uint32(m.incarnationID) << 16) | uint32(m.counter)
}

func (m *Manager) allocSlot(role Role) (*Connection, int) {
	for i, c := range m.pools[role] {
		if c == nil {
			conn := &Connection{State: StateConfiguring, Role: role}
			m.pools[role][i] = conn
			return conn, i
		}
	}
	return nil, -1
}

// roleFor derives the slot pool a connection belongs to from its network
// connection parameters, the way original_source's cipioconnection.c
// inspects the O->T/T->O size and the redundant-owner bit.
func roleFor(otoTSize, ttoOSize uint16, otoTParams, ttoOParams uint16) Role {
	switch {
	case otoTSize == 0 && ttoOSize > 0:
		return RoleListenOnly
	case otoTSize > 0 && ttoOSize == 0:
		return RoleInputOnly
	case otoTParams&ncpRedundantOwner != 0 || ttoOParams&ncpRedundantOwner != 0:
		return RoleInputOnly
	default:
		return RoleExclusiveOwner
	}
}

// forwardOpenParams is the decoded Forward_Open request body (CIP Vol. 1
// Table 3-5.16); both the regular and large-forward-open variants decode
// into this shape, differing only in whether the size fields are 16 or 32
// bits wide.
type forwardOpenParams struct {
	TimeoutMultiplier      cip.USINT
	OtoTConnectionID       cip.UDINT
	TtoOConnectionID       cip.UDINT
	ConnectionSerialNumber cip.UINT
	OriginatorVendorID     cip.UINT
	OriginatorSerialNumber cip.UDINT
	OtoTRPIus              cip.UDINT
	OtoTParams             uint32
	TtoORPIus              cip.UDINT
	TtoOParams             uint32
	TransportTypeTrigger   cip.USINT
	Path                   cip.ParsedPath
}

func decodeForwardOpen(r *cip.Reader, large bool) (forwardOpenParams, error) {
	var p forwardOpenParams
	if _, err := r.GetUSINT(); err != nil { // Priority/Time_tick
		return p, err
	}
	if _, err := r.GetUSINT(); err != nil { // Timeout_ticks
		return p, err
	}
	var err error
	if p.OtoTConnectionID, err = r.GetUDINT(); err != nil {
		return p, err
	}
	if p.TtoOConnectionID, err = r.GetUDINT(); err != nil {
		return p, err
	}
	if p.ConnectionSerialNumber, err = r.GetUINT(); err != nil {
		return p, err
	}
	if p.OriginatorVendorID, err = r.GetUINT(); err != nil {
		return p, err
	}
	if p.OriginatorSerialNumber, err = r.GetUDINT(); err != nil {
		return p, err
	}
	if p.TimeoutMultiplier, err = r.GetUSINT(); err != nil { // Connection_timeout_multiplier
		return p, err
	}
	if _, err = r.ReadBytes(3); err != nil { // reserved padding to a DWORD boundary
		return p, err
	}
	if p.OtoTRPIus, err = r.GetUDINT(); err != nil {
		return p, err
	}
	if large {
		v, err := r.GetUDINT()
		if err != nil {
			return p, err
		}
		p.OtoTParams = uint32(v)
	} else {
		v, err := r.GetUINT()
		if err != nil {
			return p, err
		}
		p.OtoTParams = uint32(v)
	}
	if p.TtoORPIus, err = r.GetUDINT(); err != nil {
		return p, err
	}
	if large {
		v, err := r.GetUDINT()
		if err != nil {
			return p, err
		}
		p.TtoOParams = uint32(v)
	} else {
		v, err := r.GetUINT()
		if err != nil {
			return p, err
		}
		p.TtoOParams = uint32(v)
	}
	if p.TransportTypeTrigger, err = r.GetUSINT(); err != nil {
		return p, err
	}
	pathWords, err := r.GetUSINT()
	if err != nil {
		return p, err
	}
	p.Path, err = cip.DecodeEPath(r, int(pathWords)*2)
	if err != nil {
		return p, err
	}
	return p, nil
}

func (m *Manager) handleForwardOpen(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
	large := req.Service == cip.ServiceLargeForwardOpen
	r := cip.NewReader(req.RequestData)
	p, err := decodeForwardOpen(r, large)
	if err != nil {
		return nil, err
	}

	if p.Path.Key != nil {
		id := m.identity
		if cerr := p.Path.Key.MatchStatus(id.VendorID, id.DeviceType, id.ProductCode, id.MajorRevision, id.MinorRevision); cerr != nil {
			if m.metrics != nil {
				m.metrics.ForwardOpenRejected.WithLabelValues("electronic_key").Inc()
			}
			return nil, cerr
		}
	}

	otoTSize := uint16(p.OtoTParams & 0x01FF)
	ttoOSize := uint16(p.TtoOParams & 0x01FF)
	role := roleFor(otoTSize, ttoOSize, uint16(p.OtoTParams), uint16(p.TtoOParams))

	conn, _ := m.allocSlot(role)
	if conn == nil {
		if m.metrics != nil {
			m.metrics.ForwardOpenRejected.WithLabelValues("no_slots").Inc()
		}
		return nil, cip.NewExtError(cip.StatusResourceUnavailable, cip.ExtStatusNoMoreConnsAvailable)
	}

	conn.OtoTConnectionID = uint32(p.OtoTConnectionID)
	conn.TtoOConnectionID = m.nextConnectionID()
	conn.ConnectionSerialNumber = uint16(p.ConnectionSerialNumber)
	conn.OriginatorVendorID = uint16(p.OriginatorVendorID)
	conn.OriginatorSerialNumber = uint32(p.OriginatorSerialNumber)
	conn.OtoTRPIus = uint32(p.OtoTRPIus)
	conn.TtoORPIus = uint32(p.TtoORPIus)
	conn.TimeoutMultiplier = uint8(p.TimeoutMultiplier)
	conn.watchdogMs = watchdogMs(conn.OtoTRPIus, conn.TimeoutMultiplier)
	conn.Multicast = p.TtoOParams&(1<<13) != 0 // connection type 01 (bit 13) = multicast per NCP layout
	conn.State = StateEstablished

	if p.Path.HasPoint {
		conn.ProduceInstance = uint32(p.Path.Point)
	} else if p.Path.HasInstance {
		conn.ProduceInstance = uint32(p.Path.Instance)
	}
	conn.ConsumeInstance = conn.ProduceInstance
	conn.RemoteAddr = originatorUDPAddr(req.OriginatorAddr)

	if role != RoleExplicit && conn.TtoORPIus > 0 && m.sockets != nil {
		m.openProducingSocket(conn, role)
	}

	if m.metrics != nil {
		m.metrics.ForwardOpenTotal.Inc()
		m.metrics.ActiveConnections.WithLabelValues(role.String()).Inc()
	}
	m.log.Infof("forward_open established role=%s serial=0x%04X otot=0x%08X ttoo=0x%08X", role, conn.ConnectionSerialNumber, conn.OtoTConnectionID, conn.TtoOConnectionID)

	w := cip.NewWriter(0)
	if err := w.PutUDINT(cip.UDINT(conn.OtoTConnectionID)); err != nil {
		return nil, err
	}
	if err := w.PutUDINT(cip.UDINT(conn.TtoOConnectionID)); err != nil {
		return nil, err
	}
	if err := w.PutUINT(cip.UINT(conn.ConnectionSerialNumber)); err != nil {
		return nil, err
	}
	if err := w.PutUINT(cip.UINT(conn.OriginatorVendorID)); err != nil {
		return nil, err
	}
	if err := w.PutUDINT(cip.UDINT(conn.OriginatorSerialNumber)); err != nil {
		return nil, err
	}
	if err := w.PutUDINT(cip.UDINT(conn.OtoTRPIus)); err != nil {
		return nil, err
	}
	if err := w.PutUDINT(cip.UDINT(conn.TtoORPIus)); err != nil {
		return nil, err
	}
	if err := w.PutUSINT(0); err != nil { // Application Reply Size
		return nil, err
	}
	if err := w.PutUSINT(0); err != nil { // reserved
		return nil, err
	}
	return cip.NewResponse(req.Service, w.Bytes()), nil
}

func (m *Manager) handleForwardClose(req *cip.MessageRouterRequest) (*cip.MessageRouterResponse, error) {
	r := cip.NewReader(req.RequestData)
	if _, err := r.GetUSINT(); err != nil { // Priority/Time_tick
		return nil, err
	}
	if _, err := r.GetUSINT(); err != nil { // Timeout_ticks
		return nil, err
	}
	serial, err := r.GetUINT()
	if err != nil {
		return nil, err
	}
	vendorID, err := r.GetUINT()
	if err != nil {
		return nil, err
	}
	originatorSerial, err := r.GetUDINT()
	if err != nil {
		return nil, err
	}

	for role, slots := range m.pools {
		for i, c := range slots {
			if c == nil || c.State != StateEstablished {
				continue
			}
			if c.ConnectionSerialNumber == uint16(serial) && c.OriginatorVendorID == uint16(vendorID) && c.OriginatorSerialNumber == uint32(originatorSerial) {
				m.pools[role][i] = nil
				m.closeIfUnshared(c)
				if m.metrics != nil {
					m.metrics.ForwardCloseTotal.Inc()
					m.metrics.ActiveConnections.WithLabelValues(role.String()).Dec()
				}
				w := cip.NewWriter(0)
				if err := w.PutUINT(cip.UINT(serial)); err != nil {
					return nil, err
				}
				if err := w.PutUINT(cip.UINT(vendorID)); err != nil {
					return nil, err
				}
				if err := w.PutUDINT(cip.UDINT(originatorSerial)); err != nil {
					return nil, err
				}
				if err := w.PutUSINT(0); err != nil { // Application Reply Size
					return nil, err
				}
				if err := w.PutUSINT(0); err != nil { // reserved
					return nil, err
				}
				return cip.NewResponse(req.Service, w.Bytes()), nil
			}
		}
	}
	return nil, cip.NewExtError(cip.StatusInvalidParameterValue, cip.ExtStatusConnectionNotFound)
}

// ManageConnections advances every active connection's watchdog and
// production timers by elapsedMs, closing any connection that has missed
// its timeout. This is the single entry point the encapsulation layer
// calls once per tick from the main-loop goroutine (spec §5): no
// connection state is ever touched from another goroutine.
func (m *Manager) ManageConnections(elapsedMs uint32) {
	for role, slots := range m.pools {
		for i, c := range slots {
			if c == nil || c.State != StateEstablished {
				continue
			}
			c.msSinceLastReceive += elapsedMs
			if c.watchdogMs > 0 && c.msSinceLastReceive > c.watchdogMs {
				m.log.Warnf("connection watchdog timeout role=%s serial=0x%04X", role, c.ConnectionSerialNumber)
				c.State = StateTimedOut
				m.pools[role][i] = nil
				m.closeIfUnshared(c)
				if m.metrics != nil {
					m.metrics.WatchdogTimeouts.Inc()
					m.metrics.ActiveConnections.WithLabelValues(role.String()).Dec()
				}
				continue
			}
			c.msSinceLastProduce += elapsedMs
		}
	}
}

// CloseAll tears down every established connection, used by the
// EtherNet/IP Security Object's Apply_Config service when
// apply_behavior_flags bit 0 requests closing existing connections after a
// TLS policy change takes effect (spec §4.5).
func (m *Manager) CloseAll() {
	for role, slots := range m.pools {
		for i, c := range slots {
			if c == nil {
				continue
			}
			c.State = StateNonExistent
			m.pools[role][i] = nil
			if c.TxSocket != nil {
				c.TxSocket.Close()
				c.TxSocket = nil
			}
			if m.metrics != nil {
				m.metrics.ActiveConnections.WithLabelValues(role.String()).Dec()
			}
		}
	}
}

// closeIfUnshared closes c's producing socket unless another still-active
// connection shares it (the multicast-producer-ownership-transfer case,
// spec §4.4 "Close policy"): a shared T->O multicast producing socket
// outlives the exclusive-owner connection that originally opened it as
// long as an input-only/listen-only connection on the same input point
// still references it.
func (m *Manager) closeIfUnshared(c *Connection) {
	if c.TxSocket == nil {
		return
	}
	for _, slots := range m.pools {
		for _, other := range slots {
			if other != nil && other.State == StateEstablished && other.TxSocket == c.TxSocket {
				return
			}
		}
	}
	c.TxSocket.Close()
	c.TxSocket = nil
}

// DueToProduce returns the connections whose T->O RPI has elapsed since
// their last production and which are not currently gated by their
// production inhibit time, resetting their production timers. ProduceDue
// calls this on every main-loop tick to decide which Class 1 frames to send.
func (m *Manager) DueToProduce() []*Connection {
	var due []*Connection
	for _, slots := range m.pools {
		for _, c := range slots {
			if c == nil || c.State != StateEstablished {
				continue
			}
			if c.TtoORPIus == 0 {
				continue
			}
			rpiMs := c.TtoORPIus / 1000
			if c.msSinceLastProduce < rpiMs {
				continue
			}
			if c.ProductionInhibitMs > 0 && c.msSinceLastProduce < c.ProductionInhibitMs {
				continue
			}
			c.msSinceLastProduce = 0
			due = append(due, c)
		}
	}
	return due
}

func (m *Manager) findByConsumedID(connectionID uint32) *Connection {
	for _, slots := range m.pools {
		for _, c := range slots {
			if c != nil && c.State == StateEstablished && c.OtoTConnectionID == connectionID {
				return c
			}
		}
	}
	return nil
}

// noteReceivedOn resets the watchdog clock for c and applies the
// sequenced-address ordering check from spec §4.4 (SEQ_GT against the
// last-consumed sequence), returning false for a stale or duplicate packet
// the caller must discard. Shared by HandleClass1Datagram, which additionally
// checks the datagram's source address before calling this.
func (m *Manager) noteReceivedOn(c *Connection, seq uint32) bool {
	if c.ConsumedSeq != 0 && !SEQ_GT(seq, c.ConsumedSeq) {
		return false
	}
	c.ConsumedSeq = seq
	c.msSinceLastReceive = 0
	return true
}

// originatorUDPAddr derives the UDP address Class 1 datagrams should be
// produced to from the TCP/UDP address an explicit Forward_Open request
// arrived from, defaulting to the well-known Class 1 port (spec §6).
func originatorUDPAddr(addr net.Addr) *net.UDPAddr {
	if addr == nil {
		return nil
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	return &net.UDPAddr{IP: ip, Port: Class1UDPPort}
}

// findMulticastProducer returns the established connection already
// producing the given input-point instance as multicast, if one holds a
// live producing socket, so a second multicast subscriber on the same
// point shares rather than duplicates it (spec §4.4 "Parameter consistency
// for multicast producers": "the new connection inherits the existing
// producer's cip_produced_connection_id").
func (m *Manager) findMulticastProducer(instance uint32) *Connection {
	for _, slots := range m.pools {
		for _, c := range slots {
			if c != nil && c.State == StateEstablished && c.Multicast && c.ProduceInstance == instance && c.TxSocket != nil {
				return c
			}
		}
	}
	return nil
}

// openProducingSocket opens (or, for an additional multicast subscriber on
// an already-produced input point, shares) the UDP socket a newly
// established connection produces Class 1 data through.
func (m *Manager) openProducingSocket(conn *Connection, role Role) {
	if conn.Multicast {
		group := MulticastGroupForHostID(m.deviceIP)
		conn.RemoteAddr = &net.UDPAddr{IP: group, Port: Class1UDPPort}
		if existing := m.findMulticastProducer(conn.ProduceInstance); existing != nil {
			conn.TxSocket = existing.TxSocket
			conn.TtoOConnectionID = existing.TtoOConnectionID
			return
		}
	}
	if conn.RemoteAddr == nil {
		return
	}
	sock, err := m.sockets.DialUDP(conn.RemoteAddr.String())
	if err != nil {
		m.log.Warnf("failed to open producing socket role=%s dest=%s: %v", role, conn.RemoteAddr, err)
		return
	}
	conn.TxSocket = sock
}

// ProduceDue builds and sends a Class 1 cyclic datagram for every
// connection DueToProduce reports ready, reading the current payload from
// the assembly I/O collaborator and advancing the EIP-level and
// (when the payload changed) CIP-level application sequence counts (spec
// §4.4 "Transmission model", §6 "assembly_before_send"). The server
// package's main-loop tick calls this once per tick alongside
// ManageConnections.
func (m *Manager) ProduceDue() {
	for _, c := range m.DueToProduce() {
		if err := m.produceOne(c); err != nil {
			m.log.Warnf("class1 produce failed serial=0x%04X: %v", c.ConnectionSerialNumber, err)
		}
	}
}

func (m *Manager) produceOne(c *Connection) error {
	if c.TxSocket == nil || c.RemoteAddr == nil {
		return nil // no producing socket or destination: nothing to send.
	}
	data, err := m.assemblyIO.Read(c.ProduceInstance)
	if err != nil {
		return err
	}
	changed, err := m.assemblyIO.BeforeSend(c.ProduceInstance)
	if err != nil {
		return err
	}
	if changed {
		c.AppSeqSend++
	}
	c.ProducedSeq++

	var runIdle *uint32
	if m.producedRunIdle {
		v := eip.RunIdleRun
		runIdle = &v
	}
	items := eip.EncodeCyclicFrame(eip.CyclicFrame{
		ConnectionID: c.TtoOConnectionID,
		EIPSequence:  c.ProducedSeq,
		CIPSequence:  c.AppSeqSend,
		RunIdle:      runIdle,
		Data:         data,
	})
	cpf := eip.NewCommonPacketFormat(items...)
	encoded, err := cpf.Encode()
	if err != nil {
		return err
	}
	_, err = c.TxSocket.WriteTo(encoded, c.RemoteAddr)
	return err
}

// HandleClass1Datagram parses a raw Class 1 UDP payload (a bare CPF of a
// Sequenced Address item plus a Connected Data item, with no ENIP
// encapsulation header — spec §4.3 "On UDP"), matches it to its owning
// connection by consumed connection id, applies the source-address and
// sequence-ordering checks of spec §4.4's receive path, and delivers an
// accepted payload to the assembly I/O collaborator.
func (m *Manager) HandleClass1Datagram(data []byte, src net.Addr) error {
	cpf, err := eip.DecodeCommonPacketFormat(data)
	if err != nil {
		return err
	}
	frame, ok := eip.DecodeCyclicFrame(cpf, m.consumedRunIdle)
	if !ok {
		return fmt.Errorf("connmgr: malformed class 1 datagram")
	}

	c := m.findByConsumedID(frame.ConnectionID)
	if c == nil {
		return nil // unknown connection id, silently ignored per spec §4.4
	}

	if c.RemoteAddr != nil && !c.Multicast {
		srcHost, _, _ := net.SplitHostPort(src.String())
		if srcHost != "" && !c.RemoteAddr.IP.Equal(net.ParseIP(srcHost)) {
			m.log.Warnf("class 1 datagram from unexpected source %s for connection serial=0x%04X, dropped", src, c.ConnectionSerialNumber)
			return nil
		}
	}

	if !m.noteReceivedOn(c, frame.EIPSequence) {
		return nil // stale or duplicate, discarded per spec §4.4/§8
	}
	c.AppSeqRecv = frame.CIPSequence

	return m.assemblyIO.Write(c.ConsumeInstance, frame.Data)
}
