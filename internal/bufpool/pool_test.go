package bufpool

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPool_GetReturnsEmptyBufferWithCapacity(t *testing.T) {
	req := require.New(t)
	p := New(64, 256)

	for _, hint := range []int{0, 1, 64, 65, 256} {
		b := p.Get(hint)
		req.Zero(b.Len(), "hint %d", hint)
		req.GreaterOrEqual(b.Cap(), hint, "hint %d", hint)
		p.Put(b)
	}
}

func TestPool_PutClearsContent(t *testing.T) {
	req := require.New(t)
	p := New(64)

	// Given a buffer holding data
	b := p.Get(10)
	b.WriteString("leftover")

	// When it is checked back in
	p.Put(b)

	// Then whatever comes out next is empty
	next := p.Get(10)
	req.Zero(next.Len())
	p.Put(next)
}

func TestPool_HintLargerThanClassesAllocates(t *testing.T) {
	req := require.New(t)
	p := New(64)

	b := p.Get(1000)
	req.GreaterOrEqual(b.Cap(), 1000)
	req.EqualValues(1, p.Stats().Allocs)
}

func TestPool_DropsOversizedBuffers(t *testing.T) {
	req := require.New(t)
	p := New(64)

	// Given a buffer that grew far past the largest class
	b := bytes.NewBuffer(make([]byte, 0, 64*oversizeFactor+1))

	// When it is returned
	p.Put(b)

	// Then the pool refuses to keep it
	req.EqualValues(1, p.Stats().Dropped)
}

func TestPool_DropsBuffersSmallerThanAnyClass(t *testing.T) {
	req := require.New(t)
	p := New(64)

	p.Put(bytes.NewBuffer(make([]byte, 0, 8)))
	p.Put(nil)

	req.EqualValues(1, p.Stats().Dropped)
}

func TestPool_NewNormalisesClasses(t *testing.T) {
	req := require.New(t)

	p := New(256, -1, 0, 64, 256)
	req.Len(p.classes, 2)
	req.Equal(64, p.classes[0].size)
	req.Equal(256, p.classes[1].size)

	req.Len(New().classes, len(DefaultClasses))
}

func TestPool_ConcurrentCheckoutCheckin(t *testing.T) {
	req := require.New(t)
	p := New()

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b := p.Get(128)
				payload := fmt.Sprintf("g%d-i%d", g, i)
				b.WriteString(payload)
				if b.String() != payload {
					t.Errorf("buffer shared between goroutines: got %q want %q", b.String(), payload)
				}
				p.Put(b)
			}
		}(g)
	}
	wg.Wait()

	req.EqualValues(16*500, p.Stats().Checkouts)
}
