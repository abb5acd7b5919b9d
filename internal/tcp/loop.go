package tcp

import (
	"github.com/kestrelnet/uswire/internal/clock"
	"github.com/kestrelnet/uswire/internal/errs"
	"github.com/kestrelnet/uswire/internal/runtime"
	"github.com/kestrelnet/uswire/internal/sched"
	"github.com/kestrelnet/uswire/internal/wire"
)

// setConnState transitions conn to s, keeping the per-state connection
// gauge in lockstep.
func (p *Peer) setConnState(conn *Connection, s State) {
	if conn.State == s {
		return
	}
	metricConnections.WithLabelValues(conn.State.String()).Dec()
	metricConnections.WithLabelValues(s.String()).Inc()
	conn.State = s
}

// seqAtOrAfter reports whether sequence number a is at or after b, using
// the standard 2^31 half-window comparison so a single uint32 wraparound
// (spec.md §3) doesn't register as "behind".
func seqAtOrAfter(a, b uint32) bool {
	return a-b < 1<<31
}

// defaultOfferedMSS is offered on every SYN/SYN+ACK before the peer's
// option negotiates it down; 1460 matches a standard 1500-byte Ethernet MTU
// minus the 20-byte IPv4 and 20-byte TCP headers.
const defaultOfferedMSS = 1460

// cast fills in the 4-tuple, ARP-resolves the destination MAC (a cached MAC
// is used without suspending; a cache miss suspends the calling coroutine on
// an ARP query), seals checksums, and emits Transmit — spec.md §4.5.8.
func (p *Peer) cast(c *sched.Ctx, conn *Connection, seg *wire.TCPSegment) error {
	mac, ok := p.arp.Cache.Lookup(conn.ID.Remote.IP, c.Now())
	if !ok {
		var err error
		mac, err = sched.Await(c, p.arp.Query(conn.ID.Remote.IP), nil)
		if err != nil {
			return err
		}
	}
	seg.SrcPort = conn.ID.Local.Port
	seg.DstPort = conn.ID.Remote.Port

	opts := p.rt.Options()
	frame, err := wire.EncodeTCP(opts.MyLinkAddr, mac, opts.MyIPv4Addr, conn.ID.Remote.IP, 64, seg)
	if err != nil {
		return errs.Newf(errs.KindMalformed, "tcp encode: %v", err)
	}
	p.rt.EmitEvent(runtime.Transmit{Bytes: frame})
	return nil
}

func (p *Peer) sendSYN(c *sched.Ctx, conn *Connection) error {
	mss := conn.mss
	opts := p.rt.Options()
	return p.cast(c, conn, &wire.TCPSegment{
		Seq:    conn.localISN,
		Flags:  wire.TCPFlags{SYN: true},
		Window: opts.TCPReceiveWindow,
		MSS:    &mss,
	})
}

func (p *Peer) sendSYNACK(c *sched.Ctx, conn *Connection) error {
	mss := conn.mss
	opts := p.rt.Options()
	return p.cast(c, conn, &wire.TCPSegment{
		Seq:    conn.localISN,
		Ack:    conn.recvNext,
		Flags:  wire.TCPFlags{SYN: true, ACK: true},
		Window: opts.TCPReceiveWindow,
		MSS:    &mss,
	})
}

// emitRST makes a best-effort attempt to RST the peer without suspending:
// only a cached MAC is used (spec.md §4.5.9's "on a best-effort basis").
func (p *Peer) emitRST(conn *Connection, seq uint32) {
	mac, ok := p.arp.Cache.Lookup(conn.ID.Remote.IP, p.rt.Now())
	if !ok {
		return
	}
	opts := p.rt.Options()
	seg := &wire.TCPSegment{
		SrcPort: conn.ID.Local.Port,
		DstPort: conn.ID.Remote.Port,
		Seq:     seq,
		Ack:     conn.recvNext,
		Flags:   wire.TCPFlags{RST: true},
	}
	frame, err := wire.EncodeTCP(opts.MyLinkAddr, mac, opts.MyIPv4Addr, conn.ID.Remote.IP, 64, seg)
	if err != nil {
		return
	}
	p.rt.EmitEvent(runtime.Transmit{Bytes: frame})
}

// mainLoopBody runs tickConnection once per scheduler resume until the
// connection terminates, per the per-tick loop of spec.md §4.5.7 (the
// `yield None` at the end of each pass is this coroutine's own suspension).
func (p *Peer) mainLoopBody(c *sched.Ctx, conn *Connection) (struct{}, error) {
	for {
		if p.tickConnection(c, conn) {
			return struct{}{}, nil
		}
		c.Yield(0)
	}
}

// tickConnection runs one pass of spec.md §4.5.7's main connection loop.
// It returns true once the connection has been torn down (the caller's
// coroutine should then terminate).
func (p *Peer) tickConnection(c *sched.Ctx, conn *Connection) bool {
	now := c.Now()
	opts := p.rt.Options()

	// 1. Drain receive queue.
	for len(conn.receiveQueue) > 0 {
		seg := conn.receiveQueue[0]
		conn.receiveQueue = conn.receiveQueue[1:]
		if seg.Flags.RST {
			p.closeConnection(conn.ID, errs.ConnectionAborted, runtime.CloseReasonReset, true)
			return true
		}
		p.receiveSegment(conn, seg, now)
	}

	// 1b. Acknowledge and tear down a consumed peer FIN once its ACK is out.
	if conn.peerFIN {
		seg := &wire.TCPSegment{Seq: conn.sendNext, Ack: conn.recvNext, Flags: wire.TCPFlags{ACK: true}, Window: opts.TCPReceiveWindow}
		if err := p.cast(c, conn, seg); err != nil {
			p.warnOnce("peer-fin-ack", "failed to ack peer fin", "err", err)
		} else {
			conn.ackOwedSince = nil
			conn.peerFIN = false
			p.closeConnection(conn.ID, nil, conn.CloseReason, true)
			return true
		}
	}

	// 2. Enqueue retransmissions whose RTO has elapsed.
	for _, e := range conn.retransmitQueue {
		if clock.SaturatingSub(now, e.sentAt) < conn.rto {
			continue
		}
		e.sentAt = now
		e.retries++
		conn.rto = opts.ClampRTO(conn.rto * 2)
		metricRetransmits.Inc()
		seg := &wire.TCPSegment{Seq: e.seq, Ack: conn.recvNext, Flags: e.flags, Window: opts.TCPReceiveWindow, Payload: e.payload}
		if err := p.cast(c, conn, seg); err != nil {
			p.warnOnce("retransmit", "retransmit failed", "err", err)
		}
	}

	// 3. Drain transmit: segment sendBuffer respecting mss and remote window.
	for len(conn.sendBuffer) > 0 {
		inFlight := int(conn.sendNext - conn.sendUnacked)
		budget := int(conn.remoteWindow) - inFlight
		if budget <= 0 {
			break
		}
		n := len(conn.sendBuffer)
		if n > int(conn.mss) {
			n = int(conn.mss)
		}
		if n > budget {
			n = budget
		}
		if n <= 0 {
			break
		}
		chunk := conn.sendBuffer[:n]
		conn.sendBuffer = conn.sendBuffer[n:]

		seg := &wire.TCPSegment{Seq: conn.sendNext, Ack: conn.recvNext, Flags: wire.TCPFlags{ACK: true}, Window: opts.TCPReceiveWindow, Payload: chunk}
		if err := p.cast(c, conn, seg); err != nil {
			p.warnOnce("transmit", "transmit failed", "err", err)
			conn.sendBuffer = append(append([]byte{}, chunk...), conn.sendBuffer...)
			break
		}
		conn.retransmitQueue = append(conn.retransmitQueue, &retransmitEntry{seq: conn.sendNext, flags: seg.Flags, payload: chunk, sentAt: now})
		conn.sendNext += uint32(n)
		conn.ackOwedSince = nil
	}

	// 4. Delayed-ACK check.
	if conn.ackOwedSince != nil && clock.SaturatingSub(now, *conn.ackOwedSince) > opts.TCPTrailingAckDelay {
		seg := &wire.TCPSegment{Seq: conn.sendNext, Ack: conn.recvNext, Flags: wire.TCPFlags{ACK: true}, Window: opts.TCPReceiveWindow}
		if err := p.cast(c, conn, seg); err == nil {
			conn.ackOwedSince = nil
		}
	}

	if conn.State == StateClosing && conn.closeAckNum != 0 && seqAtOrAfter(conn.sendUnacked, conn.closeAckNum) {
		p.closeConnection(conn.ID, nil, runtime.CloseReasonLocal, true)
		return true
	}
	return false
}

// receiveSegment is the connection's per-segment receive logic: it updates
// peer-ack bookkeeping for any ACK-bearing segment, then (for in-order payload) either
// reassembles it for the reader or, while Closing, merely advances recvNext
// far enough to keep acknowledging the peer without surfacing new bytes to
// the application (spec.md's Open Question decision: RFC 793 TIME-WAIT
// semantics). Out-of-order payload is `Ignored` with a warning. A FIN that
// lands exactly at recvNext marks the peer's half-close (SPEC_FULL.md's
// supplemented CloseReasonPeerFIN): consumed here, torn down by the next
// tickConnection pass once its ACK is on the wire.
func (p *Peer) receiveSegment(conn *Connection, seg *wire.TCPSegment, now clock.Instant) {
	if seg.Flags.ACK {
		if seqAtOrAfter(seg.Ack, conn.sendUnacked) {
			conn.sendUnacked = seg.Ack
		}
		conn.remoteWindow = seg.Window
		kept := conn.retransmitQueue[:0]
		for _, e := range conn.retransmitQueue {
			if !seqAtOrAfter(conn.sendUnacked, e.seq+uint32(len(e.payload))) {
				kept = append(kept, e)
			}
		}
		conn.retransmitQueue = kept
		if len(conn.retransmitQueue) == 0 {
			conn.rto = p.rt.Options().TCPInitialRTO
		}
	}

	if (len(seg.Payload) > 0 || seg.Flags.FIN) && conn.ackOwedSince == nil {
		t := now
		conn.ackOwedSince = &t
	}

	if len(seg.Payload) > 0 {
		switch {
		case conn.State == StateClosing:
			if seg.Seq == conn.recvNext {
				conn.recvNext += uint32(len(seg.Payload))
			}
		case seg.Seq != conn.recvNext:
			p.warnOnce("out-of-order", "ignored out-of-order segment", "seq", seg.Seq, "expected", conn.recvNext)
		default:
			conn.unreadQueue = append(conn.unreadQueue, seg.Payload...)
			conn.recvNext += uint32(len(seg.Payload))
			p.rt.EmitEvent(runtime.BytesReceived{
				LocalPort:  conn.ID.Local.Port,
				RemoteAddr: conn.ID.Remote.IP,
				RemotePort: conn.ID.Remote.Port,
				Payload:    seg.Payload,
			})
		}
	}

	if seg.Flags.FIN && seg.Seq+uint32(len(seg.Payload)) == conn.recvNext {
		conn.recvNext++
		if conn.State != StateClosing {
			p.setConnState(conn, StateClosing)
			conn.CloseReason = runtime.CloseReasonPeerFIN
			conn.peerFIN = true
		}
	}
}

// Close begins a local graceful close: the connection moves to Closing
// (rejecting further writes) and a FIN is sent on a best-effort basis (only
// if the peer's MAC is already cached — a close that cannot even reach ARP
// is not worth suspending the caller for). The connection table entry is
// released once the peer's ack catches up to the FIN in a later tick, or
// immediately if a RST arrives first.
func (p *Peer) Close(handle Handle) error {
	conn, err := p.connByHandle(handle)
	if err != nil {
		return err
	}
	if conn.State == StateClosing || conn.State == StateClosed {
		return nil
	}

	opts := p.rt.Options()
	finSeq := conn.sendNext
	p.setConnState(conn, StateClosing)
	conn.CloseReason = runtime.CloseReasonLocal
	conn.closeAckNum = finSeq + 1
	conn.sendNext = finSeq + 1

	mac, ok := p.arp.Cache.Lookup(conn.ID.Remote.IP, p.rt.Now())
	if !ok {
		return nil
	}
	seg := &wire.TCPSegment{
		SrcPort: conn.ID.Local.Port,
		DstPort: conn.ID.Remote.Port,
		Seq:     finSeq,
		Ack:     conn.recvNext,
		Flags:   wire.TCPFlags{FIN: true, ACK: true},
		Window:  opts.TCPReceiveWindow,
	}
	frame, err := wire.EncodeTCP(opts.MyLinkAddr, mac, opts.MyIPv4Addr, conn.ID.Remote.IP, 64, seg)
	if err != nil {
		return nil
	}
	p.rt.EmitEvent(runtime.Transmit{Bytes: frame})
	return nil
}
