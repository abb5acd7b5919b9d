package tcp

import (
	"net"

	"github.com/kestrelnet/uswire/internal/errs"
	"github.com/kestrelnet/uswire/internal/runtime"
	"github.com/kestrelnet/uswire/internal/sched"
)

// Connect actively opens a connection to remote (spec.md §4.5.4): allocates
// a private port, runs the handshake with binary-exponential retry, and on
// success stages the connection's main loop as background work before
// returning the handle.
func (p *Peer) Connect(remoteIP net.IP, remotePort uint16) *sched.Future[Handle] {
	return runtime.SpawnCoroutine(p.rt, func(c *sched.Ctx) (Handle, error) {
		handleVal, err := p.handlePool.allocate()
		if err != nil {
			return 0, err
		}
		portVal, err := p.portPool.allocate()
		if err != nil {
			p.handlePool.release(handleVal)
			return 0, err
		}
		// open_ports holds a port iff it's listen()'d or backing a live
		// connection (spec.md §3) — an active connection's ephemeral port
		// counts too.
		p.openPorts[uint16(portVal)] = true

		opts := p.rt.Options()
		id := ConnectionID{
			Local:  Endpoint{IP: opts.MyIPv4Addr, Port: uint16(portVal)},
			Remote: Endpoint{IP: remoteIP, Port: remotePort},
		}
		isn := p.isnGen.Generate(id, c.Now())
		conn := &Connection{
			ID:           id,
			Handle:       Handle(handleVal),
			localISN:     isn,
			sendNext:     isn,
			sendUnacked:  isn,
			mss:          defaultOfferedMSS,
			remoteWindow: opts.TCPReceiveWindow,
			rto:          opts.TCPInitialRTO,
			State:        StateSynSent,
		}
		p.connections[id.key()] = conn
		p.assignedHandles[conn.Handle] = id
		metricConnections.WithLabelValues(conn.State.String()).Inc()
		p.reportPoolGauges()

		if err := p.activeHandshake(c, conn); err != nil {
			metricHandshakeFailures.Inc()
			p.closeConnection(id, err, reasonForErr(err), false)
			return 0, err
		}
		p.enqueueBackground(p.spawnMainLoop(conn))
		return conn.Handle, nil
	})
}

func (p *Peer) spawnMainLoop(conn *Connection) *sched.Future[struct{}] {
	return runtime.SpawnCoroutine(p.rt, func(c *sched.Ctx) (struct{}, error) {
		return p.mainLoopBody(c, conn)
	})
}

// reasonForErr maps a handshake/steady-state failure to the CloseReason
// surfaced on TcpConnectionClosed (SPEC_FULL.md's supplemented DownReason-
// style tagging).
func reasonForErr(err error) runtime.CloseReason {
	switch {
	case errs.Is(err, errs.KindTimeout):
		return runtime.CloseReasonTimeout
	case errs.Is(err, errs.KindConnectionRefused), errs.Is(err, errs.KindConnectionAborted):
		return runtime.CloseReasonReset
	default:
		return runtime.CloseReasonLocal
	}
}
