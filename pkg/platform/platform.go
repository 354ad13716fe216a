// Package platform defines the collaborator interfaces the adapter core is
// contracted against, as described in spec §6 "External interfaces": the
// core never reaches for net, time, or crypto packages directly, only for
// these seams, so the demo wiring in cmd/adapter can supply concrete
// implementations without the kernel or connection manager knowing about
// sockets at all.
package platform

import (
	"context"
	"net"
	"time"
)

// SocketFactory opens the sockets the adapter needs: a stream listener for
// explicit messaging and packet listeners for List_Identity/List_Services
// and for incoming Class 1 I/O (encapsulation layer, C3), plus each Class 1
// connection's producing socket (connection manager).
type SocketFactory interface {
	ListenTCP(addr string) (net.Listener, error)
	ListenUDP(addr string) (net.PacketConn, error)
	DialUDP(addr string) (net.PacketConn, error)
}

// Clock abstracts wall-clock reads so the encapsulation session inactivity
// timer can be driven by a fake clock in tests instead of real time.Now.
// The connection manager's RPI/timeout math runs on the elapsed
// milliseconds passed to ManageConnections instead.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by the time package.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// AssemblyIO is the boundary between the Assembly Object's attribute 3 data
// and whatever produces/consumes it on this device (a simulated process
// image in the demo wiring, real I/O on a deployed adapter).
type AssemblyIO interface {
	// Read returns the current data for the given assembly instance.
	Read(instance uint32) ([]byte, error)
	// Write accepts newly received data for the given assembly instance.
	Write(instance uint32, data []byte) error
	// BeforeSend reports whether instance's data changed since the last
	// call for that instance, the `assembly_before_send` collaborator
	// (spec §6) the connection manager consults to decide whether to
	// advance the CIP-level application sequence count on production.
	BeforeSend(instance uint32) (changed bool, err error)
}

// CertificateAuthority is the external collaborator the Certificate
// Management Object's Create_CSR/Verify_Certificate services call into
// (spec §4.5). It is wrapped in a circuit breaker in
// pkg/objects/security/certmgmt so a flaky backend cannot be hammered
// during a bulk certificate rotation.
type CertificateAuthority interface {
	GenerateCSR(ctx context.Context, subject string, keyUsage []string) (csr []byte, err error)
	VerifyCertificate(ctx context.Context, cert []byte) (valid bool, err error)
}
