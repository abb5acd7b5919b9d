// Package udp is the UDP peer from spec.md §4.4: a port table plus
// cast/receive, rejecting datagrams addressed to a closed port with an
// ICMPv4 port-unreachable reply.
package udp

import (
	"log/slog"
	"net"

	"github.com/kestrelnet/uswire/internal/arpcache"
	"github.com/kestrelnet/uswire/internal/errs"
	"github.com/kestrelnet/uswire/internal/runtime"
	"github.com/kestrelnet/uswire/internal/sched"
	"github.com/kestrelnet/uswire/internal/wire"
)

// Peer is the UDP peer bound to one runtime and ARP peer.
type Peer struct {
	rt  *runtime.Runtime
	arp *arpcache.Peer

	openPorts map[uint16]bool
	warnLast  map[string]bool
}

// NewPeer constructs an empty-port-table Peer.
func NewPeer(rt *runtime.Runtime, arp *arpcache.Peer) *Peer {
	return &Peer{
		rt:        rt,
		arp:       arp,
		openPorts: make(map[uint16]bool),
		warnLast:  make(map[string]bool),
	}
}

func (p *Peer) warnOnce(key, msg string, args ...any) {
	if p.warnLast[key] {
		return
	}
	p.warnLast[key] = true
	slog.Warn("uswire.udp: "+msg, args...)
}

// Bind opens a local port so inbound datagrams addressed to it are
// delivered instead of rejected.
func (p *Peer) Bind(port uint16) {
	p.openPorts[port] = true
}

// Unbind closes a local port.
func (p *Peer) Unbind(port uint16) {
	delete(p.openPorts, port)
}

// Cast ARP-resolves dest (a cached MAC is used at once; a cache miss
// sleeps on an ARP query), constructs the datagram, and emits
// Transmit. It returns a Future so callers can await resolution failures
// (e.g. an unreachable destination) the same way every other peer does.
func (p *Peer) Cast(dest net.IP, dport, sport uint16, payload []byte) *sched.Future[struct{}] {
	return runtime.SpawnCoroutine(p.rt, func(c *sched.Ctx) (struct{}, error) {
		mac, ok := p.arp.Cache.Lookup(dest, c.Now())
		if !ok {
			var err error
			mac, err = sched.Await(c, p.arp.Query(dest), nil)
			if err != nil {
				return struct{}{}, err
			}
		}
		opts := p.rt.Options()
		frame, err := wire.EncodeUDP(opts.MyLinkAddr, mac, opts.MyIPv4Addr, dest, 64, sport, dport, payload)
		if err != nil {
			return struct{}{}, errs.Newf(errs.KindMalformed, "udp encode: %v", err.Error())
		}
		p.rt.EmitEvent(runtime.Transmit{Bytes: frame})
		return struct{}{}, nil
	})
}

// HandleInbound processes one decoded UDP datagram addressed to us: closed
// ports are rejected with an ICMPv4 port-unreachable reply, open ports
// surface a BytesReceived event.
func (p *Peer) HandleInbound(srcIP net.IP, srcMAC net.HardwareAddr, pkt *wire.UDPPacket) {
	if !p.openPorts[pkt.DstPort] {
		opts := p.rt.Options()
		quoted := make([]byte, 0, 8)
		quoted = append(quoted, byte(pkt.SrcPort>>8), byte(pkt.SrcPort), byte(pkt.DstPort>>8), byte(pkt.DstPort))
		frame, err := wire.EncodeICMPv4PortUnreachable(opts.MyLinkAddr, srcMAC, opts.MyIPv4Addr, srcIP, 64, quoted)
		if err != nil {
			p.warnOnce("encode-unreachable", "failed to encode port-unreachable", "err", err)
			return
		}
		p.rt.EmitEvent(runtime.Transmit{Bytes: frame})
		return
	}
	p.rt.EmitEvent(runtime.BytesReceived{
		LocalPort:  pkt.DstPort,
		RemoteAddr: srcIP,
		RemotePort: pkt.SrcPort,
		Payload:    pkt.Payload,
	})
}
