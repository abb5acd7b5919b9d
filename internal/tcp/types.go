// Package tcp is the TCP peer from spec.md §4.5 — the heart of the spec:
// connection lifecycle, three-way handshake with retransmit, MSS
// negotiation, per-connection send/receive queues, delayed-ACK emission,
// retransmission scheduling, RST handling, and handle/port allocation.
package tcp

import (
	"fmt"
	"net"

	"github.com/kestrelnet/uswire/internal/clock"
	"github.com/kestrelnet/uswire/internal/runtime"
	"github.com/kestrelnet/uswire/internal/wire"
)

// Handle is a TcpConnectionHandle: a small integer drawn from a shuffled
// pool, opaque to callers.
type Handle uint32

// Endpoint is (ipv4, port).
type Endpoint struct {
	IP   net.IP
	Port uint16
}

func (e Endpoint) String() string { return fmt.Sprintf("%s:%d", e.IP.String(), e.Port) }

// ConnectionID is the 4-tuple unique key in the connection table.
type ConnectionID struct {
	Local, Remote Endpoint
}

func (id ConnectionID) key() string {
	return id.Local.String() + "|" + id.Remote.String()
}

// State is a TcpConnection's lifecycle state.
type State int

const (
	StateSynSent State = iota
	StateSynReceived
	StateEstablished
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSynSent:
		return "SynSent"
	case StateSynReceived:
		return "SynReceived"
	case StateEstablished:
		return "Established"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// retransmitEntry is one outstanding, unacknowledged outbound segment.
type retransmitEntry struct {
	seq     uint32
	flags   wire.TCPFlags
	payload []byte
	sentAt  clock.Instant
	retries int
}

// Connection is spec.md's TcpConnection.
type Connection struct {
	ID     ConnectionID
	Handle Handle

	localISN, remoteISN   uint32
	sendNext, sendUnacked uint32
	recvNext              uint32

	mss          uint16
	remoteWindow uint16

	receiveQueue []*wire.TCPSegment // inbound segments awaiting the main loop
	unreadQueue  []byte             // reassembled bytes waiting for read()
	sendBuffer   []byte             // bytes queued by write(), not yet segmented

	retransmitQueue []*retransmitEntry

	rto clock.Duration

	ackOwedSince *clock.Instant

	// closeAckNum is the ack number that confirms our own FIN once the
	// peer has caught up (set by Close, checked by the main loop). Zero
	// means no local close is in flight.
	closeAckNum uint32

	// peerFIN marks an inbound FIN consumed by receiveSegment but not yet
	// acknowledged and torn down by the main loop.
	peerFIN bool

	State       State
	CloseReason runtime.CloseReason
}
