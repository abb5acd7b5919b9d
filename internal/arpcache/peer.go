package arpcache

import (
	"log/slog"
	"net"

	"github.com/kestrelnet/uswire/internal/clock"
	"github.com/kestrelnet/uswire/internal/errs"
	"github.com/kestrelnet/uswire/internal/runtime"
	"github.com/kestrelnet/uswire/internal/sched"
	"github.com/kestrelnet/uswire/internal/wire"
)

// Peer is the ARP peer described in spec.md §4.2: cache plus the
// request/reply state machine.
type Peer struct {
	rt    *runtime.Runtime
	Cache *Cache

	warnLast map[string]bool // throttled-warning dedup, one entry per distinct detail
}

// NewPeer constructs a Peer with an empty cache, bound to rt.
func NewPeer(rt *runtime.Runtime) *Peer {
	return &Peer{rt: rt, Cache: New(), warnLast: make(map[string]bool)}
}

func (p *Peer) warnOnce(key, msg string, args ...any) {
	if p.warnLast[key] {
		return
	}
	p.warnLast[key] = true
	slog.Warn("uswire.arpcache: "+msg, args...)
}

// Query returns a Future that resolves to the MAC address for ipv4, per
// spec.md §4.2: an immediate hit if cached, otherwise a broadcast ARP
// request retried on a fixed schedule until a reply arrives or all retries
// are exhausted (→ Timeout).
func (p *Peer) Query(ipv4 net.IP) *sched.Future[net.HardwareAddr] {
	return runtime.SpawnCoroutine(p.rt, func(c *sched.Ctx) (net.HardwareAddr, error) {
		if mac, ok := p.Cache.Lookup(ipv4, c.Now()); ok {
			return mac, nil
		}

		opts := p.rt.Options()
		for attempt := 0; attempt <= opts.ArpRequestRetries; attempt++ {
			p.emitRequest(ipv4)

			timeout := opts.ArpRequestTimeout
			found := sched.YieldUntil(c, func(now clock.Instant) bool {
				_, ok := p.Cache.Lookup(ipv4, now)
				return ok
			}, &timeout)

			if found {
				mac, _ := p.Cache.Lookup(ipv4, c.Now())
				return mac, nil
			}
		}
		return nil, errs.Timeout
	})
}

func (p *Peer) emitRequest(ipv4 net.IP) {
	opts := p.rt.Options()
	frame, err := wire.EncodeARP(opts.MyLinkAddr, wire.BroadcastMAC, &wire.ARPPacket{
		Op:         wire.ARPRequest,
		SenderMAC:  opts.MyLinkAddr,
		SenderIPv4: opts.MyIPv4Addr,
		TargetMAC:  net.HardwareAddr{0, 0, 0, 0, 0, 0},
		TargetIPv4: ipv4,
	})
	if err != nil {
		p.warnOnce("encode", "failed to encode arp request", "ipv4", ipv4, "err", err)
		return
	}
	p.rt.EmitEvent(runtime.Transmit{Bytes: frame})
}

// HandleInbound processes one decoded ARP packet (spec.md §4.2.3): every
// inbound packet (request or reply) learns the sender's (ipv4, mac) per
// standard gratuitous-ARP behavior; a request addressed to the local IP
// additionally triggers a reply.
func (p *Peer) HandleInbound(pkt *wire.ARPPacket) {
	now := p.rt.Now()
	opts := p.rt.Options()

	p.Cache.Insert(pkt.SenderIPv4, pkt.SenderMAC, now, opts.ArpDefaultTTL)

	if pkt.Op == wire.ARPRequest && pkt.TargetIPv4.Equal(opts.MyIPv4Addr) {
		frame, err := wire.EncodeARP(opts.MyLinkAddr, pkt.SenderMAC, &wire.ARPPacket{
			Op:         wire.ARPReply,
			SenderMAC:  opts.MyLinkAddr,
			SenderIPv4: opts.MyIPv4Addr,
			TargetMAC:  pkt.SenderMAC,
			TargetIPv4: pkt.SenderIPv4,
		})
		if err != nil {
			p.warnOnce("encode-reply", "failed to encode arp reply", "err", err)
			return
		}
		p.rt.EmitEvent(runtime.Transmit{Bytes: frame})
	}
}
