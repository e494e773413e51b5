package hncp

import (
	"context"
	"fmt"
	"net"
	"time"
)

// UDPTransport is the default Transport implementation: one IPv4/IPv6
// multicast socket per link.
type UDPTransport struct {
	conn          *net.UDPConn
	multicastAddr *net.UDPAddr
	localAddr     *net.UDPAddr
}

// NewUDPTransport opens a multicast socket for ifaceName, joining group on
// port. The returned Transport both sends and receives on that socket.
func NewUDPTransport(ifaceName, group string, port int) (*UDPTransport, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("hncp: resolve interface %q: %w", ifaceName, err)
	}
	maddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", group, port))
	if err != nil {
		return nil, fmt.Errorf("hncp: resolve multicast group %q: %w", group, err)
	}
	conn, err := net.ListenMulticastUDP("udp", iface, maddr)
	if err != nil {
		return nil, fmt.Errorf("hncp: join multicast group on %s: %w", ifaceName, err)
	}

	local := &net.UDPAddr{Port: port}
	if addrs, err := iface.Addrs(); err == nil {
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.IsGlobalUnicast() {
				local.IP = ipNet.IP
				break
			}
		}
	}

	return &UDPTransport{conn: conn, multicastAddr: maddr, localAddr: local}, nil
}

// Send implements Transport. dst == nil targets the endpoint's multicast
// group.
func (t *UDPTransport) Send(dst net.Addr, data []byte) error {
	target := dst
	if target == nil {
		target = t.multicastAddr
	}
	_, err := t.conn.WriteTo(data, target)
	return err
}

func (t *UDPTransport) MulticastAddr() net.Addr { return t.multicastAddr }
func (t *UDPTransport) LocalAddr() net.Addr     { return t.localAddr }
func (t *UDPTransport) Close() error            { return t.conn.Close() }

// Pump reads datagrams off the socket and hands each to sink, tagged with
// endpointName. Run it in its own goroutine; it returns when ctx is
// cancelled or the socket is closed. Receive pumping is platform glue,
// not engine state, so it lives alongside the transport rather than
// inside the scheduler.
func (t *UDPTransport) Pump(ctx context.Context, endpointName string, sink PacketSink) error {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		t.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, src, err := t.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		sink.Deliver(endpointName, src, data)
	}
}
