// Package engine is the top-level wiring that ties every protocol peer to
// one runtime handle, the way cmd/doublezerod/main.go wires the teacher's
// manager/bgp/routing/probing pieces together by hand with no DI framework.
package engine

import (
	"log/slog"
	"net"

	"github.com/kestrelnet/uswire/internal/arpcache"
	"github.com/kestrelnet/uswire/internal/clock"
	"github.com/kestrelnet/uswire/internal/icmp"
	"github.com/kestrelnet/uswire/internal/runtime"
	"github.com/kestrelnet/uswire/internal/tcp"
	"github.com/kestrelnet/uswire/internal/udp"
	"github.com/kestrelnet/uswire/internal/wire"
)

// Engine owns one Runtime and the four protocol peers built on top of it.
// It is the only thing an embedder (cmd/uswire-demo, or any other frame
// transport driver) needs to construct.
type Engine struct {
	RT   *runtime.Runtime
	ARP  *arpcache.Peer
	ICMP *icmp.Peer
	UDP  *udp.Peer
	TCP  *tcp.Peer
}

// New wires a fresh Engine: the ARP peer first (every other peer depends on
// it for resolution), then ICMPv4, UDP, and TCP against the same runtime.
func New(rt *runtime.Runtime) *Engine {
	arp := arpcache.NewPeer(rt)
	return &Engine{
		RT:   rt,
		ARP:  arp,
		ICMP: icmp.NewPeer(rt, arp),
		UDP:  udp.NewPeer(rt, arp),
		TCP:  tcp.NewPeer(rt, arp),
	}
}

// AdvanceClock drives the scheduler tick and every peer's own per-tick hook
// (today only the TCP peer has one, for its background_queue drain, which
// runs first so staged work moves into background_work at the start of the
// tick).
func (e *Engine) AdvanceClock(now clock.Instant) {
	e.TCP.Tick()
	e.RT.AdvanceClock(now)
}

// Deliver demuxes one raw inbound Ethernet II frame by EtherType and, for
// IPv4, by IP protocol number, routing the decoded payload to whichever
// peer owns it. A frame that fails to decode is dropped with a warning
// (spec.md §7: malformed input never panics or blocks the caller). An IPv4
// payload not addressed to my_ipv4_addr (spec.md §6) is dropped before
// dispatch — ARP is link-layer and always considered, since an ARP request
// for our own address has no IPv4 destination to match against.
func (e *Engine) Deliver(frame []byte) {
	f, err := wire.DecodeFrame(frame)
	if err != nil {
		slog.Warn("uswire.engine: dropped malformed frame", "err", err)
		return
	}

	if f.IPv4 != nil && !f.IPv4.DstIP.Equal(e.RT.Options().MyIPv4Addr) {
		return
	}

	switch {
	case f.ARP != nil:
		e.ARP.HandleInbound(f.ARP)
	case f.IPv4 != nil && f.IPv4.ICMPv4 != nil:
		if f.IPv4.ICMPv4.Type == wire.ICMPv4TypeEchoRequest {
			e.ICMP.HandleInboundEchoRequest(f.IPv4.SrcIP, f.SrcMAC, f.IPv4.ICMPv4)
		} else {
			e.ICMP.HandleInbound(f.IPv4.SrcIP, f.IPv4.ICMPv4)
		}
	case f.IPv4 != nil && f.IPv4.UDP != nil:
		e.UDP.HandleInbound(f.IPv4.SrcIP, f.SrcMAC, f.IPv4.UDP)
	case f.IPv4 != nil && f.IPv4.TCP != nil:
		if err := e.TCP.Receive(f.IPv4.SrcIP, f.SrcMAC, f.IPv4.TCP); err != nil {
			slog.Warn("uswire.engine: tcp receive rejected", "err", err, "src", netIPString(f.IPv4.SrcIP))
		}
	}
}

func netIPString(ip net.IP) string {
	if ip == nil {
		return "<nil>"
	}
	return ip.String()
}
