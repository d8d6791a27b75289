// Package transport implements the multicast socket setup and send/receive
// loop: group join across interfaces, DSCP marking, own-IP collection for
// loopback suppression, and a symmetric sender/receiver pair.
package transport

import (
	"fmt"
	"log"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Group addresses fixed by spec.md §6.
const (
	MulticastAddrV4 = "239.255.43.2"
	MulticastAddrV6 = "ff02::7667"
	MulticastPort   = 7667
	TTL             = 1
	DSCPExpeditedForwarding = 0xB8
)

// Socket owns a joined multicast UDP socket, ready to send and receive.
type Socket struct {
	conn        *net.UDPConn
	groupAddr   *net.UDPAddr
	v4pc        *ipv4.PacketConn
	v6pc        *ipv6.PacketConn
	ipv6        bool
	LocalIPs    map[string]struct{}

	// OnPartialSend, if set, is called whenever a send writes fewer bytes
	// than requested (spec.md §7 "Socket send partial"). Used by the
	// caller to drive a metrics counter without this package depending on
	// Prometheus.
	OnPartialSend func()
}

// Open creates and configures a multicast socket. If useIPv6 is false, the
// IPv4 group is used; sendInterface, if non-nil, pins the outbound
// interface for IP_MULTICAST_IF/IPV6_MULTICAST_IF.
func Open(useIPv6 bool, sendInterface *net.Interface) (*Socket, error) {
	if useIPv6 {
		return openV6(sendInterface)
	}
	return openV4(sendInterface)
}

func openV4(sendInterface *net.Interface) (*Socket, error) {
	groupIP := net.ParseIP(MulticastAddrV4)
	laddr := &net.UDPAddr{IP: net.IPv4zero, Port: MulticastPort}

	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp4: %w", err)
	}
	if err := setReuseAddr(conn); err != nil {
		log.Printf("WARN: transport: SO_REUSEADDR: %v", err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(TTL); err != nil {
		log.Printf("WARN: transport: set multicast TTL: %v", err)
	}
	if err := pc.SetMulticastLoopback(false); err != nil {
		log.Printf("WARN: transport: disable multicast loopback: %v", err)
	}
	if err := setDSCP(conn, false); err != nil {
		log.Printf("WARN: transport: set DSCP: %v", err)
	}
	if err := allowAWDL(conn); err != nil {
		log.Printf("WARN: transport: allow AWDL: %v", err)
	}

	groupAddr := &net.UDPAddr{IP: groupIP, Port: MulticastPort}
	s := &Socket{conn: conn, groupAddr: groupAddr, v4pc: pc, LocalIPs: map[string]struct{}{}}

	ifaces, err := net.Interfaces()
	if err != nil {
		log.Printf("WARN: transport: enumerate interfaces: %v, joining on all", err)
		if err := pc.JoinGroup(nil, &net.UDPAddr{IP: groupIP}); err != nil {
			return nil, fmt.Errorf("transport: join multicast (fallback): %w", err)
		}
	} else {
		for i := range ifaces {
			iface := ifaces[i]
			if iface.Flags&net.FlagLoopback != 0 {
				continue
			}
			addrs, _ := iface.Addrs()
			joined := false
			for _, a := range addrs {
				ip := addrIP(a)
				if ip == nil || ip.To4() == nil {
					continue
				}
				s.LocalIPs[ip.String()] = struct{}{}
				if !joined {
					if err := pc.JoinGroup(&iface, &net.UDPAddr{IP: groupIP}); err != nil {
						log.Printf("WARN: transport: join multicast on %s: %v", iface.Name, err)
					} else {
						log.Printf("INFO: transport: joined multicast on %s (%s)", iface.Name, ip)
						joined = true
					}
				}
			}
		}
	}

	if sendInterface != nil {
		if err := pc.SetMulticastInterface(sendInterface); err != nil {
			log.Printf("WARN: transport: set send interface: %v", err)
		}
	}

	log.Printf("INFO: transport: IPv4 multicast socket ready on %s:%d", MulticastAddrV4, MulticastPort)
	return s, nil
}

func openV6(sendInterface *net.Interface) (*Socket, error) {
	groupIP := net.ParseIP(MulticastAddrV6)
	laddr := &net.UDPAddr{IP: net.IPv6unspecified, Port: MulticastPort}

	conn, err := net.ListenUDP("udp6", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp6: %w", err)
	}
	if err := setReuseAddr(conn); err != nil {
		log.Printf("WARN: transport: SO_REUSEADDR: %v", err)
	}

	pc := ipv6.NewPacketConn(conn)
	if err := pc.SetHopLimit(TTL); err != nil {
		log.Printf("WARN: transport: set hop limit: %v", err)
	}
	if err := pc.SetMulticastLoopback(false); err != nil {
		log.Printf("WARN: transport: disable multicast loopback: %v", err)
	}
	if err := setDSCP(conn, true); err != nil {
		log.Printf("WARN: transport: set DSCP: %v", err)
	}
	if err := allowAWDL(conn); err != nil {
		log.Printf("WARN: transport: allow AWDL: %v", err)
	}

	groupAddr := &net.UDPAddr{IP: groupIP, Port: MulticastPort}
	s := &Socket{conn: conn, groupAddr: groupAddr, v6pc: pc, ipv6: true, LocalIPs: map[string]struct{}{}}

	ifaces, err := net.Interfaces()
	if err != nil {
		log.Printf("WARN: transport: enumerate interfaces: %v, joining on all", err)
		if err := pc.JoinGroup(nil, &net.UDPAddr{IP: groupIP}); err != nil {
			return nil, fmt.Errorf("transport: join multicast v6 (fallback): %w", err)
		}
	} else {
		for i := range ifaces {
			iface := ifaces[i]
			if iface.Flags&net.FlagLoopback != 0 {
				continue
			}
			addrs, _ := iface.Addrs()
			joined := false
			for _, a := range addrs {
				ip := addrIP(a)
				if ip == nil || ip.To4() != nil {
					continue
				}
				s.LocalIPs[ip.String()] = struct{}{}
				if !joined {
					if err := pc.JoinGroup(&iface, &net.UDPAddr{IP: groupIP}); err != nil {
						log.Printf("WARN: transport: join multicast v6 on %s: %v", iface.Name, err)
					} else {
						log.Printf("INFO: transport: joined IPv6 multicast on %s (%s)", iface.Name, ip)
						joined = true
					}
				}
			}
		}
	}

	if sendInterface != nil {
		if err := pc.SetMulticastInterface(sendInterface); err != nil {
			log.Printf("WARN: transport: set send interface: %v", err)
		}
	}

	log.Printf("INFO: transport: IPv6 multicast socket ready on [%s]:%d", MulticastAddrV6, MulticastPort)
	return s, nil
}

func addrIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	default:
		return nil
	}
}

// Send serializes nothing itself — callers pass already-encoded bytes
// (internal/wire.Encode output). Partial sends are logged, not retried
// (spec.md §7).
func (s *Socket) Send(data []byte) {
	n, err := s.conn.WriteToUDP(data, s.groupAddr)
	if err != nil {
		log.Printf("WARN: transport: send: %v", err)
		return
	}
	if n < len(data) {
		log.Printf("WARN: transport: partial send %d/%d bytes", n, len(data))
		if s.OnPartialSend != nil {
			s.OnPartialSend()
		}
	}
}

// ReceiveLoop runs the single-reader recv loop until the socket is closed.
// handle is called with the sender's address and the raw datagram bytes;
// it must not block (spec.md §4.7 "no blocking work beyond decode +
// enqueue").
func (s *Socket) ReceiveLoop(handle func(src net.Addr, data []byte)) error {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return fmt.Errorf("transport: recv: %w", err)
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		handle(addr, cp)
	}
}

// IsLocal reports whether ip belongs to one of this host's own non-loopback
// interfaces (own-packet suppression, spec.md §4.7 step 1).
func (s *Socket) IsLocal(ip net.IP) bool {
	_, ok := s.LocalIPs[ip.String()]
	return ok
}

// Close releases the underlying socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}
