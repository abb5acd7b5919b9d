package icmp

import (
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/uswire/internal/arpcache"
	"github.com/kestrelnet/uswire/internal/runtime"
	"github.com/kestrelnet/uswire/internal/wire"
)

func newTestRuntime(t *testing.T, clk clockwork.Clock) (*runtime.Runtime, *runtime.CollectingSink) {
	t.Helper()
	opts := &runtime.Options{
		MyLinkAddr: net.HardwareAddr{0x01, 0x01, 0x01, 0x01, 0x01, 0x01},
		MyIPv4Addr: net.ParseIP("10.0.0.1"),
	}
	require.NoError(t, opts.Validate())
	sink := &runtime.CollectingSink{}
	rt := runtime.New(clk, rand.New(rand.NewSource(1)), opts, sink)
	return rt, sink
}

// TestPingRTTScenario mirrors spec.md §8 scenario 2: ARP pre-populated,
// ping emits one echo request with seq=0, a matching reply at t=3ms
// resolves the future to 3ms, and the next ping increments seq.
func TestPingRTTScenario(t *testing.T) {
	t0 := time.Unix(0, 0)
	clk := clockwork.NewFakeClockAt(t0)
	rt, sink := newTestRuntime(t, clk)
	arp := arpcache.NewPeer(rt)
	dest := net.ParseIP("10.0.0.2")
	destMAC := net.HardwareAddr{2, 2, 2, 2, 2, 2}
	arp.Cache.Insert(dest, destMAC, t0, time.Minute)

	peer := NewPeer(rt, arp)

	rt.AdvanceClock(t0)
	f := peer.Ping(dest, 5*time.Second)
	rt.AdvanceClock(t0)

	require.Len(t, sink.Events, 1)
	tx := sink.Events[0].(runtime.Transmit)
	frame, err := wire.DecodeFrame(tx.Bytes)
	require.NoError(t, err)
	require.NotNil(t, frame.IPv4.ICMPv4)
	require.Equal(t, wire.ICMPv4TypeEchoRequest, frame.IPv4.ICMPv4.Type)
	firstSeq := frame.IPv4.ICMPv4.Seq
	require.Equal(t, uint16(0), firstSeq)
	firstID := frame.IPv4.ICMPv4.ID

	replyAt := t0.Add(3 * time.Millisecond)
	peer.HandleInbound(dest, &wire.ICMPv4Packet{
		Type: wire.ICMPv4TypeEchoReply,
		ID:   firstID,
		Seq:  firstSeq,
	})
	rt.AdvanceClock(replyAt)

	elapsed, err := f.Poll(replyAt)
	require.NoError(t, err)
	require.Equal(t, 3*time.Millisecond, elapsed)

	// second ping uses the next sequence number
	f2 := peer.Ping(dest, 5*time.Second)
	rt.AdvanceClock(replyAt.Add(time.Nanosecond))
	require.Len(t, sink.Events, 2)
	tx2 := sink.Events[1].(runtime.Transmit)
	frame2, err := wire.DecodeFrame(tx2.Bytes)
	require.NoError(t, err)
	require.Equal(t, uint16(1), frame2.IPv4.ICMPv4.Seq)

	peer.HandleInbound(dest, &wire.ICMPv4Packet{
		Type: wire.ICMPv4TypeEchoReply,
		ID:   frame2.IPv4.ICMPv4.ID,
		Seq:  frame2.IPv4.ICMPv4.Seq,
	})
	rt.AdvanceClock(replyAt.Add(2 * time.Nanosecond))
	_, err = f2.Poll(replyAt.Add(2 * time.Nanosecond))
	require.NoError(t, err)
}

func TestPing_TimeoutWhenNoReply(t *testing.T) {
	t0 := time.Unix(0, 0)
	clk := clockwork.NewFakeClockAt(t0)
	rt, _ := newTestRuntime(t, clk)
	arp := arpcache.NewPeer(rt)
	dest := net.ParseIP("10.0.0.2")
	arp.Cache.Insert(dest, net.HardwareAddr{2, 2, 2, 2, 2, 2}, t0, time.Minute)
	peer := NewPeer(rt, arp)

	rt.AdvanceClock(t0)
	f := peer.Ping(dest, 50*time.Millisecond)

	now := t0
	for i := 0; i < 10; i++ {
		now = now.Add(10 * time.Millisecond)
		rt.AdvanceClock(now)
	}

	_, err := f.Poll(now)
	require.Error(t, err)
}

func TestHandleInbound_NonEchoReplySurfacesIcmpv4Error(t *testing.T) {
	t0 := time.Unix(0, 0)
	clk := clockwork.NewFakeClockAt(t0)
	rt, sink := newTestRuntime(t, clk)
	arp := arpcache.NewPeer(rt)
	peer := NewPeer(rt, arp)

	peer.HandleInbound(net.ParseIP("10.0.0.9"), &wire.ICMPv4Packet{Type: 3, Code: 1})

	require.Len(t, sink.Events, 1)
	evt, ok := sink.Events[0].(runtime.Icmpv4Error)
	require.True(t, ok)
	require.Equal(t, uint8(3), evt.Type)
}

func TestHandleInbound_ReplyRemovalIsIdempotent(t *testing.T) {
	t0 := time.Unix(0, 0)
	clk := clockwork.NewFakeClockAt(t0)
	rt, _ := newTestRuntime(t, clk)
	arp := arpcache.NewPeer(rt)
	peer := NewPeer(rt, arp)

	pkt := &wire.ICMPv4Packet{Type: wire.ICMPv4TypeEchoReply, ID: 1, Seq: 1}
	peer.HandleInbound(net.ParseIP("10.0.0.2"), pkt)
	peer.HandleInbound(net.ParseIP("10.0.0.2"), pkt) // must not panic
}
