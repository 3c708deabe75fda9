package session

//go:generate go run go.uber.org/mock/mockgen -source=transport.go -destination=../mocks/mock_transport.go -package=mocks

// Transport is an established duplex frame stream. ReadFrame is only called
// from the inbound duty and WriteFrame only from the outbound duty; Close may
// be called concurrently with both and must unblock a pending ReadFrame.
//
// ReadFrame returns io.EOF once the peer closed the stream, and an error
// wrapping protocol.ErrMalformed for frames that are not text. WriteFrame must
// not retain frame after it returns.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
}
