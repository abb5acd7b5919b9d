package tcp

import (
	"math/rand"

	"github.com/kestrelnet/uswire/internal/errs"
)

// firstPrivatePort is the original's Port::is_private() boundary: ports
// [1, 1024) are reserved/well-known and never handed out by the ephemeral
// allocator (SPEC_FULL.md §6 supplemented feature).
const firstPrivatePort = 1024

// pool is a fixed-size, pre-shuffled FIFO of uint32 ids: allocation pops
// from the front, release pushes to the back, per spec.md §4.5.1.
type pool struct {
	items []uint32
	head  int
}

func newPool(values []uint32, rng *rand.Rand) *pool {
	rng.Shuffle(len(values), func(i, j int) { values[i], values[j] = values[j], values[i] })
	return &pool{items: values}
}

func (p *pool) allocate() (uint32, error) {
	if p.head >= len(p.items) {
		return 0, errs.ResourceExhausted
	}
	v := p.items[p.head]
	p.head++
	return v, nil
}

func (p *pool) release(v uint32) {
	p.items = append(p.items, v)
}

func (p *pool) len() int { return len(p.items) - p.head }

// newHandlePool pre-populates [1, 65535).
func newHandlePool(rng *rand.Rand) *pool {
	values := make([]uint32, 0, 65534)
	for h := uint32(1); h < 65535; h++ {
		values = append(values, h)
	}
	return newPool(values, rng)
}

// newPrivatePortPool pre-populates [firstPrivatePort, 65535).
func newPrivatePortPool(rng *rand.Rand) *pool {
	values := make([]uint32, 0, 65535-firstPrivatePort)
	for p := uint32(firstPrivatePort); p < 65535; p++ {
		values = append(values, p)
	}
	return newPool(values, rng)
}
