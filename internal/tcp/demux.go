package tcp

import (
	"net"

	"github.com/kestrelnet/uswire/internal/errs"
	"github.com/kestrelnet/uswire/internal/runtime"
	"github.com/kestrelnet/uswire/internal/sched"
	"github.com/kestrelnet/uswire/internal/wire"
)

// Receive demultiplexes one decoded inbound TCP segment (spec.md §4.5.3).
// It is synchronous: it may spawn background coroutines (a passive open)
// but never suspends itself, per §5's constraint on inbound receive.
func (p *Peer) Receive(srcIP net.IP, srcMAC net.HardwareAddr, seg *wire.TCPSegment) error {
	if seg.SrcPort == 0 || seg.DstPort == 0 || srcIP == nil || srcIP.IsUnspecified() || srcIP.IsMulticast() || srcIP.Equal(net.IPv4bcast) {
		return errs.Malformed
	}

	id := ConnectionID{
		Local:  Endpoint{IP: p.rt.Options().MyIPv4Addr, Port: seg.DstPort},
		Remote: Endpoint{IP: srcIP, Port: seg.SrcPort},
	}
	if conn, ok := p.connections[id.key()]; ok {
		conn.receiveQueue = append(conn.receiveQueue, seg)
		return nil
	}

	if !p.openPorts[seg.DstPort] {
		p.receiveToClosedPort(srcIP, srcMAC, seg)
		return nil
	}

	if seg.Flags.SYN && !seg.Flags.ACK && !seg.Flags.RST {
		p.spawnPassive(Endpoint{IP: srcIP, Port: seg.SrcPort}, srcMAC, seg)
		return nil
	}
	return errs.ResourceNotFound
}

// receiveToClosedPort composes and emits a RST per RFC 793 (ack_num =
// seg.seq + payload_len, +1 if SYN). The peer's MAC is already known from
// the inbound frame, so this needs no ARP resolve and can run inline
// instead of being staged as background work.
func (p *Peer) receiveToClosedPort(srcIP net.IP, srcMAC net.HardwareAddr, seg *wire.TCPSegment) {
	if seg.Flags.RST {
		return
	}
	ackNum := seg.Seq + uint32(len(seg.Payload))
	if seg.Flags.SYN {
		ackNum++
	}
	opts := p.rt.Options()
	rst := &wire.TCPSegment{
		SrcPort: seg.DstPort,
		DstPort: seg.SrcPort,
		Ack:     ackNum,
		Flags:   wire.TCPFlags{RST: true, ACK: true},
	}
	frame, err := wire.EncodeTCP(opts.MyLinkAddr, srcMAC, opts.MyIPv4Addr, srcIP, 64, rst)
	if err != nil {
		p.warnOnce("rst-encode", "failed to encode port-unreachable rst", "err", err)
		return
	}
	p.rt.EmitEvent(runtime.Transmit{Bytes: frame})
}

// spawnPassive implements spec.md §4.5.5: allocate a connection (handle,
// ISN, MSS negotiated with the peer's offer), seed the remote ISN, and run
// the handshake as background work. A duplicate SYN for an already-tracked
// 4-tuple is dropped (the existing handshake attempt owns the connection).
func (p *Peer) spawnPassive(remote Endpoint, srcMAC net.HardwareAddr, syn *wire.TCPSegment) {
	opts := p.rt.Options()
	id := ConnectionID{Local: Endpoint{IP: opts.MyIPv4Addr, Port: syn.DstPort}, Remote: remote}
	if _, exists := p.connections[id.key()]; exists {
		return
	}

	handleVal, err := p.handlePool.allocate()
	if err != nil {
		p.warnOnce("passive-exhausted", "dropped inbound SYN: handle pool exhausted")
		return
	}

	mss := uint16(defaultOfferedMSS)
	if syn.MSS != nil && *syn.MSS < mss {
		mss = *syn.MSS
	}
	isn := p.isnGen.Generate(id, p.rt.Now())
	conn := &Connection{
		ID:           id,
		Handle:       Handle(handleVal),
		localISN:     isn,
		sendNext:     isn,
		sendUnacked:  isn,
		remoteISN:    syn.Seq,
		recvNext:     syn.Seq + 1,
		mss:          mss,
		remoteWindow: syn.Window,
		rto:          opts.TCPInitialRTO,
		State:        StateSynReceived,
	}
	p.connections[id.key()] = conn
	p.assignedHandles[conn.Handle] = id
	p.arp.Cache.Insert(remote.IP, srcMAC, p.rt.Now(), opts.ArpDefaultTTL)
	metricConnections.WithLabelValues(conn.State.String()).Inc()
	p.reportPoolGauges()

	f := runtime.SpawnCoroutine(p.rt, func(c *sched.Ctx) (struct{}, error) {
		if err := p.passiveHandshake(c, conn); err != nil {
			metricHandshakeFailures.Inc()
			p.closeConnection(id, err, reasonForErr(err), false)
			return struct{}{}, nil
		}
		p.rt.EmitEvent(runtime.IncomingTcpConnection{
			Handle:     uint32(conn.Handle),
			RemoteAddr: remote.IP,
			RemotePort: remote.Port,
		})
		p.enqueueBackground(p.spawnMainLoop(conn))
		return struct{}{}, nil
	})
	p.enqueueBackground(f)
}
