package platform

import "net"

// NetSocketFactory is the production SocketFactory backed by the standard
// net package.
type NetSocketFactory struct{}

func (NetSocketFactory) ListenTCP(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

func (NetSocketFactory) ListenUDP(addr string) (net.PacketConn, error) {
	return net.ListenPacket("udp", addr)
}

func (NetSocketFactory) DialUDP(addr string) (net.PacketConn, error) {
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, err
	}
	return conn, nil
}
