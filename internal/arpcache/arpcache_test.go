package arpcache

import (
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/uswire/internal/runtime"
	"github.com/kestrelnet/uswire/internal/wire"
)

func TestCache_ForwardReverseInvariant(t *testing.T) {
	t0 := time.Unix(0, 0)
	c := New()
	ip := net.ParseIP("10.0.0.2")
	mac := net.HardwareAddr{2, 2, 2, 2, 2, 2}

	c.Insert(ip, mac, t0, time.Minute)

	gotMAC, ok := c.Lookup(ip, t0)
	require.True(t, ok)
	require.Equal(t, mac.String(), gotMAC.String())

	gotIP, ok := c.ReverseLookup(mac, t0)
	require.True(t, ok)
	require.True(t, gotIP.Equal(ip))
}

func TestCache_ForceEvictLargerThanSizeEmptiesBothMaps(t *testing.T) {
	t0 := time.Unix(0, 0)
	c := New()
	c.Insert(net.ParseIP("10.0.0.2"), net.HardwareAddr{2, 2, 2, 2, 2, 2}, t0, time.Minute)
	c.Insert(net.ParseIP("10.0.0.3"), net.HardwareAddr{3, 3, 3, 3, 3, 3}, t0, time.Minute)

	evicted := c.ForceEvict(t0, 100)
	require.Len(t, evicted, 2)
	require.Equal(t, 0, c.Len())
	require.Empty(t, c.reverse)
}

func TestCache_ExportImportRoundTrip(t *testing.T) {
	t0 := time.Unix(0, 0)
	c := New()
	ip := net.ParseIP("10.0.0.2")
	mac := net.HardwareAddr{2, 2, 2, 2, 2, 2}
	c.Insert(ip, mac, t0, time.Minute)

	exported := c.Export(t0)
	require.Len(t, exported, 1)

	c2 := New()
	c2.Import(exported, t0, time.Minute)
	gotMAC, ok := c2.Lookup(ip, t0)
	require.True(t, ok)
	require.Equal(t, mac.String(), gotMAC.String())
	gotIP, ok := c2.ReverseLookup(mac, t0)
	require.True(t, ok)
	require.True(t, gotIP.Equal(ip))
}

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

// TestARPLearningScenario mirrors spec.md §8 scenario 1: query for an
// unknown IP emits exactly one ARP request; delivering a matching reply
// resolves the future and populates both cache directions.
func TestARPLearningScenario(t *testing.T) {
	t0 := time.Unix(0, 0)
	clk := clockwork.NewFakeClockAt(t0)
	rt, sink := newTestRuntime(t, clk)
	peer := NewPeer(rt)

	rt.AdvanceClock(t0)
	f := peer.Query(net.ParseIP("10.0.0.2"))
	rt.AdvanceClock(t0)

	require.Len(t, sink.Events, 1)
	tx, ok := sink.Events[0].(runtime.Transmit)
	require.True(t, ok)
	frame, err := wire.DecodeFrame(tx.Bytes)
	require.NoError(t, err)
	require.NotNil(t, frame.ARP)
	require.Equal(t, wire.ARPRequest, frame.ARP.Op)

	replyAt := t0.Add(5 * time.Millisecond)
	peer.HandleInbound(&wire.ARPPacket{
		Op:         wire.ARPReply,
		SenderMAC:  net.HardwareAddr{2, 2, 2, 2, 2, 2},
		SenderIPv4: net.ParseIP("10.0.0.2"),
		TargetMAC:  rt.Options().MyLinkAddr,
		TargetIPv4: rt.Options().MyIPv4Addr,
	})
	// HandleInbound reads rt.Now(), which only advances via AdvanceClock, so
	// drive the clock to replyAt before invoking it in a real engine; here we
	// call it directly at t0 then advance so the coroutine observes the
	// populated cache on the next tick.
	rt.AdvanceClock(replyAt)

	v, err := f.Poll(replyAt)
	require.NoError(t, err)
	require.Equal(t, "02:02:02:02:02:02", v.String())

	mac, ok := peer.Cache.Lookup(net.ParseIP("10.0.0.2"), replyAt)
	require.True(t, ok)
	require.Equal(t, "02:02:02:02:02:02", mac.String())

	ip, ok := peer.Cache.ReverseLookup(net.HardwareAddr{2, 2, 2, 2, 2, 2}, replyAt)
	require.True(t, ok)
	require.True(t, ip.Equal(net.ParseIP("10.0.0.2")))
}

func TestARPPeer_TimeoutAfterRetriesExhausted(t *testing.T) {
	t0 := time.Unix(0, 0)
	clk := clockwork.NewFakeClockAt(t0)
	rt, _ := newTestRuntime(t, clk)
	rt.Options().ArpRequestRetries = 1
	rt.Options().ArpRequestTimeout = 10 * time.Millisecond
	peer := NewPeer(rt)

	rt.AdvanceClock(t0)
	f := peer.Query(net.ParseIP("10.0.0.9"))

	now := t0
	for i := 0; i < 10; i++ {
		now = now.Add(10 * time.Millisecond)
		rt.AdvanceClock(now)
	}

	_, err := f.Poll(now)
	require.Error(t, err)
}

func TestARPPeer_RequestToLocalIPGeneratesReply(t *testing.T) {
	t0 := time.Unix(0, 0)
	clk := clockwork.NewFakeClockAt(t0)
	rt, sink := newTestRuntime(t, clk)
	peer := NewPeer(rt)

	peer.HandleInbound(&wire.ARPPacket{
		Op:         wire.ARPRequest,
		SenderMAC:  net.HardwareAddr{3, 3, 3, 3, 3, 3},
		SenderIPv4: net.ParseIP("10.0.0.3"),
		TargetMAC:  rt.Options().MyLinkAddr,
		TargetIPv4: rt.Options().MyIPv4Addr,
	})

	require.Len(t, sink.Events, 1)
	tx := sink.Events[0].(runtime.Transmit)
	frame, err := wire.DecodeFrame(tx.Bytes)
	require.NoError(t, err)
	require.Equal(t, wire.ARPReply, frame.ARP.Op)
	require.True(t, frame.ARP.TargetIPv4.Equal(net.ParseIP("10.0.0.3")))
}
