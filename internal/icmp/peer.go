// Package icmp is the ICMPv4 peer from spec.md §4.3: echo request/reply
// tracked by an outstanding-request set, and a ping coroutine returning the
// measured round-trip time.
package icmp

import (
	"encoding/binary"
	"hash/fnv"
	"log/slog"
	"net"
	"os"

	"github.com/kestrelnet/uswire/internal/arpcache"
	"github.com/kestrelnet/uswire/internal/clock"
	"github.com/kestrelnet/uswire/internal/errs"
	"github.com/kestrelnet/uswire/internal/runtime"
	"github.com/kestrelnet/uswire/internal/sched"
	"github.com/kestrelnet/uswire/internal/wire"
)

type pendingKey struct {
	id, seq uint16
}

// Peer is the ICMPv4 peer bound to one runtime and one ARP peer (ICMP
// resolves destinations the same way every other peer does).
type Peer struct {
	rt  *runtime.Runtime
	arp *arpcache.Peer

	seq         uint16
	outstanding map[pendingKey]bool

	warnLast map[string]bool
}

// NewPeer constructs a Peer. seq starts at 0 per engine lifetime (spec.md
// §4.3: "a wrapping seq counter seeded at 0").
func NewPeer(rt *runtime.Runtime, arp *arpcache.Peer) *Peer {
	return &Peer{
		rt:          rt,
		arp:         arp,
		outstanding: make(map[pendingKey]bool),
		warnLast:    make(map[string]bool),
	}
}

func (p *Peer) warnOnce(key, msg string, args ...any) {
	if p.warnLast[key] {
		return
	}
	p.warnLast[key] = true
	slog.Warn("uswire.icmp: "+msg, args...)
}

// nextID derives a unique-per-ping identifier: a hash of the local IPv4
// address, this process's id, and a 2-byte random nonce, truncated to 16
// bits (spec.md §4.3.1).
func (p *Peer) nextID() uint16 {
	h := fnv.New32a()
	_, _ = h.Write(p.rt.Options().MyIPv4Addr.To4())
	var pidBuf [8]byte
	binary.BigEndian.PutUint64(pidBuf[:], uint64(os.Getpid()))
	_, _ = h.Write(pidBuf[:])
	var nonce [2]byte
	_, _ = p.rt.Rng().Read(nonce[:])
	_, _ = h.Write(nonce[:])
	return uint16(h.Sum32())
}

// Ping resolves dest's MAC (from the ARP cache without sleeping when it is
// cached, otherwise by sleeping on the ARP peer), emits a single echo
// request, and resolves to the elapsed time once the matching reply is
// observed, or Timeout.
func (p *Peer) Ping(dest net.IP, timeout clock.Duration) *sched.Future[clock.Duration] {
	return runtime.SpawnCoroutine(p.rt, func(c *sched.Ctx) (clock.Duration, error) {
		mac, ok := p.arp.Cache.Lookup(dest, c.Now())
		if !ok {
			var err error
			mac, err = sched.Await(c, p.arp.Query(dest), nil)
			if err != nil {
				return 0, err
			}
		}

		id := p.nextID()
		seq := p.seq
		p.seq++
		key := pendingKey{id: id, seq: seq}
		p.outstanding[key] = true

		opts := p.rt.Options()
		frame, err := wire.EncodeICMPv4Echo(opts.MyLinkAddr, mac, opts.MyIPv4Addr, dest, 64, false, id, seq, nil)
		if err != nil {
			delete(p.outstanding, key)
			return 0, errs.Newf(errs.KindMalformed, "icmp encode: %v", err.Error())
		}
		start := c.Now()
		p.rt.EmitEvent(runtime.Transmit{Bytes: frame})

		to := timeout
		ok := sched.YieldUntil(c, func(now clock.Instant) bool {
			return !p.outstanding[key]
		}, &to)
		if !ok {
			delete(p.outstanding, key)
			return 0, errs.Timeout
		}
		return clock.SaturatingSub(c.Now(), start), nil
	})
}

// HandleInbound processes one decoded ICMPv4 packet arriving for us
// (spec.md §4.3.2): an echo reply matching an outstanding (id, seq) removes
// it from the set (idempotent — removing twice is a no-op); anything else is
// surfaced as an Icmpv4Error event.
func (p *Peer) HandleInbound(from net.IP, pkt *wire.ICMPv4Packet) {
	if pkt.Type == wire.ICMPv4TypeEchoReply {
		delete(p.outstanding, pendingKey{id: pkt.ID, seq: pkt.Seq})
		return
	}
	p.rt.EmitEvent(runtime.Icmpv4Error{From: from, Type: pkt.Type, Code: pkt.Code})
}

// HandleInboundEchoRequest answers an echo request addressed to us. Not
// named in spec.md's ping-focused §4.3 text, but a correct ICMPv4 peer must
// answer pings directed at it; grounded on the symmetry of
// arpcache.Peer.HandleInbound's request/reply handling.
func (p *Peer) HandleInboundEchoRequest(from net.IP, fromMAC net.HardwareAddr, pkt *wire.ICMPv4Packet) {
	opts := p.rt.Options()
	frame, err := wire.EncodeICMPv4Echo(opts.MyLinkAddr, fromMAC, opts.MyIPv4Addr, from, 64, true, pkt.ID, pkt.Seq, pkt.Payload)
	if err != nil {
		p.warnOnce("encode-reply", "failed to encode echo reply", "err", err)
		return
	}
	p.rt.EmitEvent(runtime.Transmit{Bytes: frame})
}
