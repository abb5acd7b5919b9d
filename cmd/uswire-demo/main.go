// Command uswire-demo wires two Engines back-to-back over an in-memory
// loopback "wire" and drives a trivial TCP conversation across it, purely to
// exercise internal/engine end to end. It has no real socket or interface
// I/O — this harness is outside spec.md's scope (§1 Non-goals: CLI/test
// harness), kept minimal in the teacher's flag-based cmd/doublezerod style.
package main

import (
	"flag"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kestrelnet/uswire/internal/engine"
	"github.com/kestrelnet/uswire/internal/errs"
	"github.com/kestrelnet/uswire/internal/runtime"
)

var (
	duration       = flag.Duration("duration", 2*time.Second, "how long to run the demo conversation")
	tick           = flag.Duration("tick", 10*time.Millisecond, "advance_clock tick interval")
	listenPort     = flag.Uint("listen-port", 7000, "port host B listens on")
	verboseLogging = flag.Bool("v", false, "enable debug logging")
)

func main() {
	flag.Parse()

	logOpts := &slog.HandlerOptions{}
	if *verboseLogging {
		logOpts.Level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, logOpts)))

	clk := clockwork.NewRealClock()
	now := clk.Now()

	sinkA := &runtime.CollectingSink{}
	sinkB := &runtime.CollectingSink{}
	engA := engine.New(runtime.New(clk, rand.New(rand.NewSource(1)), mustOptions(
		net.HardwareAddr{0x01, 0x01, 0x01, 0x01, 0x01, 0x01}, net.ParseIP("10.0.0.1")), sinkA))
	engB := engine.New(runtime.New(clk, rand.New(rand.NewSource(2)), mustOptions(
		net.HardwareAddr{0x02, 0x02, 0x02, 0x02, 0x02, 0x02}, net.ParseIP("10.0.0.2")), sinkB))

	if err := engB.TCP.Listen(uint16(*listenPort)); err != nil {
		slog.Error("listen failed", "err", err)
		os.Exit(1)
	}
	slog.Info("listening", "host", "10.0.0.2", "port", *listenPort)

	connectFuture := engA.TCP.Connect(net.ParseIP("10.0.0.2"), uint16(*listenPort))
	slog.Info("connecting", "host", "10.0.0.1", "to", "10.0.0.2")

	connected := false
	deadline := now.Add(*duration)
	for t := now; t.Before(deadline); t = t.Add(*tick) {
		engA.AdvanceClock(t)
		engB.AdvanceClock(t)

		// Loopback wire: every frame either side transmitted this tick is
		// delivered to the other before the next tick begins.
		drain(sinkA, engB)
		drain(sinkB, engA)

		if !connected {
			if h, err := connectFuture.Poll(t); err == nil {
				slog.Info("connected", "handle", h)
				connected = true
			} else if !errs.Is(err, errs.KindTryAgain) {
				slog.Warn("connect did not complete", "err", err)
				connected = true
			}
		}

		clk.Sleep(*tick)
	}

	slog.Info("demo finished", "ran", *duration)
}

func mustOptions(mac net.HardwareAddr, ip net.IP) *runtime.Options {
	opts := &runtime.Options{MyLinkAddr: mac, MyIPv4Addr: ip}
	if err := opts.Validate(); err != nil {
		slog.Error("invalid runtime options", "err", err)
		os.Exit(1)
	}
	return opts
}

// drain forwards every Transmit frame collected in sink since the last call
// into peer's Deliver, modeling the loopback wire with no loss or
// reordering.
func drain(sink *runtime.CollectingSink, peer *engine.Engine) {
	for _, ev := range sink.Events {
		if tx, ok := ev.(runtime.Transmit); ok {
			peer.Deliver(tx.Bytes)
		}
	}
	sink.Events = nil
}
