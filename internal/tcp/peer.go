package tcp

import (
	"log/slog"

	"github.com/kestrelnet/uswire/internal/arpcache"
	"github.com/kestrelnet/uswire/internal/clock"
	"github.com/kestrelnet/uswire/internal/errs"
	"github.com/kestrelnet/uswire/internal/runtime"
	"github.com/kestrelnet/uswire/internal/sched"
)

// Peer is the TcpPeerState from spec.md §3/§4.5: connection table, handle
// and private-port pools, ISN generator, and the background_queue →
// background_work staging pipeline that §9 requires to avoid the
// re-entrancy hazard of a coroutine registering new background work while
// advance_clock is mid-poll of the very set it would land in.
type Peer struct {
	rt  *runtime.Runtime
	arp *arpcache.Peer

	connections     map[string]*Connection
	assignedHandles map[Handle]ConnectionID
	handlePool      *pool
	portPool        *pool
	openPorts       map[uint16]bool
	isnGen          *isnGenerator

	backgroundWork  *sched.WhenAny[struct{}]
	backgroundQueue []*sched.Future[struct{}]

	warnLast map[string]bool
}

// NewPeer constructs an empty Peer: both pools pre-populated and shuffled
// with the runtime RNG (spec.md §4.5.1).
func NewPeer(rt *runtime.Runtime, arp *arpcache.Peer) *Peer {
	rng := rt.Rng()
	p := &Peer{
		rt:              rt,
		arp:             arp,
		connections:     make(map[string]*Connection),
		assignedHandles: make(map[Handle]ConnectionID),
		handlePool:      newHandlePool(rng),
		portPool:        newPrivatePortPool(rng),
		openPorts:       make(map[uint16]bool),
		isnGen:          newISNGenerator(rng, rt.Now()),
		backgroundWork:  sched.NewWhenAny[struct{}](),
		warnLast:        make(map[string]bool),
	}
	p.reportPoolGauges()
	return p
}

func init() {
	// Pre-register every state label at zero so the gauge vector shows a
	// complete state set from the first scrape, matching the teacher's
	// liveness/metrics.go habit of pre-populating label combinations.
	for _, s := range []State{StateSynSent, StateSynReceived, StateEstablished, StateClosing, StateClosed} {
		metricConnections.WithLabelValues(s.String())
	}
}

func (p *Peer) warnOnce(key, msg string, args ...any) {
	if p.warnLast[key] {
		return
	}
	p.warnLast[key] = true
	slog.Warn("uswire.tcp: "+msg, args...)
}

// Tick drives the peer's per-tick bookkeeping: the background_queue →
// background_work two-phase move (§9), then a single drive of
// background_work. Callers (internal/engine) invoke this once per
// advance_clock, before or after driving the scheduler itself — order does
// not matter since background_work members are themselves coroutines polled
// through the same scheduler.
func (p *Peer) Tick() {
	if len(p.backgroundQueue) > 0 {
		for _, f := range p.backgroundQueue {
			p.backgroundWork.Add(f)
		}
		p.backgroundQueue = nil
	}
	if _, err, done := p.backgroundWork.Poll(p.rt.Now()); done && err != nil {
		p.warnOnce("background-error", "background coroutine failed", "err", err)
	}
}

// enqueueBackground stages f for transfer into background_work at the start
// of the next tick (spec.md §9's background_queue).
func (p *Peer) enqueueBackground(f *sched.Future[struct{}]) {
	p.backgroundQueue = append(p.backgroundQueue, f)
}

// Listen opens port for inbound connections (spec.md §4.5.10). A port
// already open (by listen or by a live connection) is ResourceBusy.
func (p *Peer) Listen(port uint16) error {
	if p.openPorts[port] {
		return errs.ResourceBusy
	}
	p.openPorts[port] = true
	return nil
}

// Write appends bytes to handle's send buffer; the connection's main loop
// segments and transmits them on subsequent ticks.
func (p *Peer) Write(handle Handle, data []byte) error {
	conn, err := p.connByHandle(handle)
	if err != nil {
		return err
	}
	if conn.State == StateClosing || conn.State == StateClosed {
		return errs.ResourceNotFound
	}
	conn.sendBuffer = append(conn.sendBuffer, data...)
	return nil
}

// Read pops every byte currently reassembled for handle. ResourceExhausted
// if nothing is available (spec.md §4.5.10).
func (p *Peer) Read(handle Handle) ([]byte, error) {
	conn, err := p.connByHandle(handle)
	if err != nil {
		return nil, err
	}
	if len(conn.unreadQueue) == 0 {
		return nil, errs.ResourceExhausted
	}
	out := conn.unreadQueue
	conn.unreadQueue = nil
	return out, nil
}

// Peek returns the reassembled bytes for handle without consuming them.
func (p *Peer) Peek(handle Handle) ([]byte, error) {
	conn, err := p.connByHandle(handle)
	if err != nil {
		return nil, err
	}
	if len(conn.unreadQueue) == 0 {
		return nil, errs.ResourceExhausted
	}
	return conn.unreadQueue, nil
}

// GetMSS returns the negotiated MSS for handle.
func (p *Peer) GetMSS(handle Handle) (uint16, error) {
	conn, err := p.connByHandle(handle)
	if err != nil {
		return 0, err
	}
	return conn.mss, nil
}

// GetRTO returns the current RTO estimate for handle.
func (p *Peer) GetRTO(handle Handle) (clock.Duration, error) {
	conn, err := p.connByHandle(handle)
	if err != nil {
		return 0, err
	}
	return conn.rto, nil
}

func (p *Peer) connByHandle(handle Handle) (*Connection, error) {
	id, ok := p.assignedHandles[handle]
	if !ok {
		return nil, errs.ResourceNotFound
	}
	conn, ok := p.connections[id.key()]
	if !ok {
		return nil, errs.ResourceNotFound
	}
	return conn, nil
}

// closeConnection removes id from the connection table, releases its
// private port allocation (if any — passive connections on a listened port
// never held one), optionally emits TcpConnectionClosed, and on error makes
// a best-effort attempt to RST the peer. Matches spec.md §4.5.9 and
// invariant I6.
func (p *Peer) closeConnection(id ConnectionID, cerr error, reason runtime.CloseReason, notify bool) {
	conn, ok := p.connections[id.key()]
	if !ok {
		return
	}
	metricConnections.WithLabelValues(conn.State.String()).Dec()

	delete(p.connections, id.key())
	delete(p.assignedHandles, conn.Handle)
	p.handlePool.release(uint32(conn.Handle))

	if p.isPrivatePort(id.Local.Port) {
		delete(p.openPorts, id.Local.Port)
		p.portPool.release(uint32(id.Local.Port))
	}
	// A port that was listen()'d on (never drawn from portPool) is
	// untouched here; only a connection's own ephemeral port is released.
	p.reportPoolGauges()

	if notify {
		p.rt.EmitEvent(runtime.TcpConnectionClosed{
			Handle: uint32(conn.Handle),
			Reason: reason,
			Err:    cerr,
		})
	}
	// A handshake that never reached Established has no peer-visible
	// connection state worth resetting — a stranger who never answered a
	// SYN doesn't get a RST for it.
	if cerr != nil && (conn.State == StateEstablished || conn.State == StateClosing) {
		p.emitRST(conn, conn.sendNext)
	}
}

func (p *Peer) isPrivatePort(port uint16) bool {
	return port >= firstPrivatePort
}
