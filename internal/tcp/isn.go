package tcp

import (
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/kestrelnet/uswire/internal/clock"
)

// isnGenerator produces an ISN per spec.md §4.5.2: deterministic from the
// 4-tuple plus a per-runtime secret, and monotonically advancing over time
// (a coarse now-derived counter, RFC 793-style, limits TIME-WAIT
// assassination) — the hash component alone would be replayable across
// restarts of the same connection.
type isnGenerator struct {
	secret [16]byte
	epoch  clock.Instant
}

func newISNGenerator(rng *rand.Rand, epoch clock.Instant) *isnGenerator {
	g := &isnGenerator{epoch: epoch}
	_, _ = rng.Read(g.secret[:])
	return g
}

// Generate returns the ISN for id as of now.
func (g *isnGenerator) Generate(id ConnectionID, now clock.Instant) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(g.secret[:])
	_, _ = h.Write([]byte(id.key()))
	hashed := h.Sum32()

	// One tick every 4 microseconds, matching the classic RFC 793 ISN clock
	// rate, wraps naturally in uint32 like every other sequence number here.
	ticks := uint32(now.Sub(g.epoch) / (4 * time.Microsecond))
	return hashed + ticks
}
