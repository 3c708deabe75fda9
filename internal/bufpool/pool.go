// Package bufpool provides size-classed reusable byte buffers for encoding
// outbound events on the broadcast path.
package bufpool

import (
	"bytes"
	"slices"
	"sync"
	"sync/atomic"
)

// DefaultClasses are the buffer capacities used by New when no classes are given.
var DefaultClasses = []int{512, 4 << 10, 32 << 10}

// oversizeFactor bounds how much larger than the biggest class a buffer may grow
// and still be kept.
const oversizeFactor = 4

// Stats is a snapshot of pool activity.
type Stats struct {
	Checkouts uint64
	Allocs    uint64
	Dropped   uint64
}

type class struct {
	size int
	pool sync.Pool
}

// Pool hands out *bytes.Buffer values for exclusive use. It is safe for
// concurrent use and never blocks: when no buffer is cached a new one is
// allocated.
type Pool struct {
	classes []*class

	checkouts atomic.Uint64
	allocs    atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a Pool with the given size classes. Non-positive and duplicate
// sizes are ignored; an empty list falls back to DefaultClasses.
func New(sizes ...int) *Pool {
	sizes = slices.DeleteFunc(slices.Clone(sizes), func(s int) bool { return s <= 0 })
	if len(sizes) == 0 {
		sizes = slices.Clone(DefaultClasses)
	}
	slices.Sort(sizes)
	sizes = slices.Compact(sizes)

	p := &Pool{classes: make([]*class, 0, len(sizes))}
	for _, size := range sizes {
		p.classes = append(p.classes, &class{size: size})
	}
	return p
}

// Get checks out an empty buffer whose capacity is at least sizeHint when the
// hint fits a size class. Larger hints get a dedicated allocation.
func (p *Pool) Get(sizeHint int) *bytes.Buffer {
	p.checkouts.Add(1)

	c := p.classFor(sizeHint)
	if c == nil {
		p.allocs.Add(1)
		return bytes.NewBuffer(make([]byte, 0, sizeHint))
	}

	if b, ok := c.pool.Get().(*bytes.Buffer); ok {
		return b
	}
	p.allocs.Add(1)
	return bytes.NewBuffer(make([]byte, 0, c.size))
}

// Put resets b and returns it to the pool. Buffers that grew far beyond the
// largest class are dropped so one huge event does not pin memory.
func (p *Pool) Put(b *bytes.Buffer) {
	if b == nil {
		return
	}
	b.Reset()

	largest := p.classes[len(p.classes)-1].size
	if b.Cap() > largest*oversizeFactor {
		p.dropped.Add(1)
		return
	}

	// file under the biggest class this buffer can fully serve
	var target *class
	for _, c := range p.classes {
		if b.Cap() < c.size {
			break
		}
		target = c
	}
	if target == nil {
		p.dropped.Add(1)
		return
	}
	target.pool.Put(b)
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Checkouts: p.checkouts.Load(),
		Allocs:    p.allocs.Load(),
		Dropped:   p.dropped.Load(),
	}
}

func (p *Pool) classFor(size int) *class {
	for _, c := range p.classes {
		if size <= c.size {
			return c
		}
	}
	return nil
}
