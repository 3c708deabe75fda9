package room

import "github.com/Tyrowin/nexus-rooms/internal/protocol"

// history keeps the most recent messages in arrival order, dropping the
// oldest once limit is reached. A zero limit keeps nothing.
type history struct {
	buf   []protocol.NewMessage
	start int
	n     int
}

func newHistory(limit int) *history {
	if limit < 0 {
		limit = 0
	}
	return &history{buf: make([]protocol.NewMessage, limit)}
}

func (h *history) push(m protocol.NewMessage) {
	size := len(h.buf)
	if size == 0 {
		return
	}
	if h.n < size {
		h.buf[(h.start+h.n)%size] = m
		h.n++
		return
	}
	h.buf[h.start] = m
	h.start = (h.start + 1) % size
}

// snapshot copies the retained messages, oldest first. Never nil.
func (h *history) snapshot() []protocol.NewMessage {
	out := make([]protocol.NewMessage, 0, h.n)
	for i := 0; i < h.n; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}
	return out
}

func (h *history) len() int { return h.n }
