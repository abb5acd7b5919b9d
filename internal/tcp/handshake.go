package tcp

import (
	"github.com/cenkalti/backoff/v4"

	"github.com/kestrelnet/uswire/internal/clock"
	"github.com/kestrelnet/uswire/internal/errs"
	"github.com/kestrelnet/uswire/internal/sched"
	"github.com/kestrelnet/uswire/internal/wire"
)

// handshakeBackoff builds the doubling-wait sequence for SYN/SYN+ACK
// retransmission, matching the classic Retry::binary_exponential shape
// (spec.md §4.5.4) but driven from inside a single long-lived coroutine
// rather than via sched.AwaitRetry's respawn-per-attempt: two independently
// spawned attempt coroutines would both poll the same connection's
// receive_queue, racing to steal each other's segments. A single coroutine
// retains full ownership of the queue across every attempt.
func handshakeBackoff(base clock.Duration) *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.MaxInterval = 1<<63 - 1
	eb.Reset()
	return eb
}

// waitForHandshakeSegment drains conn.receiveQueue until a segment matching
// this side's expectation arrives (RST always matches), or timeout elapses.
// ackWasSent is true for the side that has already sent an ACK-bearing
// segment (the passive side's SYN+ACK); it awaits a bare ACK. The active
// side awaits the peer's SYN+ACK. Non-matching segments are dropped
// (spec.md §4.5.6: "otherwise ignored").
func (p *Peer) waitForHandshakeSegment(c *sched.Ctx, conn *Connection, ackWasSent bool, expectedAck uint32, timeout clock.Duration) (*wire.TCPSegment, bool) {
	var found *wire.TCPSegment
	ok := sched.YieldUntil(c, func(now clock.Instant) bool {
		for len(conn.receiveQueue) > 0 {
			seg := conn.receiveQueue[0]
			conn.receiveQueue = conn.receiveQueue[1:]
			if seg.Flags.RST {
				found = seg
				return true
			}
			if seg.Flags.ACK && (ackWasSent != seg.Flags.SYN) && seg.Ack == expectedAck {
				found = seg
				return true
			}
			p.warnOnce("handshake-ignored", "ignored non-matching segment during handshake")
		}
		return false
	}, &timeout)
	return found, ok
}

// activeHandshake drives the client side of the three-way handshake:
// resend SYN on a binary-exponential schedule until a matching SYN+ACK
// arrives, a RST refuses the connection, or the retry budget is exhausted.
func (p *Peer) activeHandshake(c *sched.Ctx, conn *Connection) error {
	opts := p.rt.Options()
	eb := handshakeBackoff(opts.TCPHandshakeTimeout)
	expectedAck := conn.localISN + 1

	for attempt := 0; attempt <= opts.TCPHandshakeRetries; attempt++ {
		if err := p.sendSYN(c, conn); err != nil {
			return err
		}
		seg, ok := p.waitForHandshakeSegment(c, conn, false, expectedAck, eb.NextBackOff())
		if !ok {
			continue
		}
		if seg.Flags.RST {
			return errs.ConnectionRefused
		}
		return p.completeActiveHandshake(c, conn, seg)
	}
	return errs.Timeout
}

// passiveHandshake drives the server side: resend SYN+ACK until the final
// bare ACK arrives, a RST aborts, or the retry budget is exhausted.
func (p *Peer) passiveHandshake(c *sched.Ctx, conn *Connection) error {
	opts := p.rt.Options()
	eb := handshakeBackoff(opts.TCPHandshakeTimeout)
	expectedAck := conn.localISN + 1

	for attempt := 0; attempt <= opts.TCPHandshakeRetries; attempt++ {
		if err := p.sendSYNACK(c, conn); err != nil {
			return err
		}
		seg, ok := p.waitForHandshakeSegment(c, conn, true, expectedAck, eb.NextBackOff())
		if !ok {
			continue
		}
		if seg.Flags.RST {
			return errs.ConnectionAborted
		}
		return p.completePassiveHandshake(conn, seg)
	}
	return errs.Timeout
}

// completeActiveHandshake finalizes connection state from the received
// SYN+ACK, negotiates MSS (minimum of offered), and sends the closing ACK
// of the three-way handshake (spec.md §4.5.6).
func (p *Peer) completeActiveHandshake(c *sched.Ctx, conn *Connection, synack *wire.TCPSegment) error {
	conn.remoteISN = synack.Seq
	conn.recvNext = synack.Seq + 1
	conn.remoteWindow = synack.Window
	if synack.MSS != nil && *synack.MSS < conn.mss {
		conn.mss = *synack.MSS
	}
	conn.sendUnacked = synack.Ack
	conn.sendNext = synack.Ack
	p.setConnState(conn, StateEstablished)

	return p.cast(c, conn, &wire.TCPSegment{Seq: conn.sendNext, Ack: conn.recvNext, Flags: wire.TCPFlags{ACK: true}})
}

// completePassiveHandshake finalizes connection state from the final ACK;
// MSS and remote ISN were already fixed when the SYN first arrived.
func (p *Peer) completePassiveHandshake(conn *Connection, ack *wire.TCPSegment) error {
	conn.sendUnacked = ack.Ack
	conn.sendNext = ack.Ack
	p.setConnState(conn, StateEstablished)
	return nil
}
