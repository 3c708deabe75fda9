package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/nexus-rooms/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// wsTransport adapts a gorilla connection to session.Transport. It keeps the
// connection alive with pings until Close.
type wsTransport struct {
	conn    *websocket.Conn
	log     *slog.Logger
	maxSize int64

	closeOnce sync.Once
	done      chan struct{}
}

func newTransport(conn *websocket.Conn, log *slog.Logger, maxSize int64) *wsTransport {
	t := &wsTransport{
		conn:    conn,
		log:     log,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	t.setupReadConnection()
	go t.keepAlive()
	return t
}

// setupReadConnection configures the read limit, read deadline and pong handler.
func (t *wsTransport) setupReadConnection() {
	t.conn.SetReadLimit(t.maxSize)
	if err := t.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		t.log.Debug("Error setting initial read deadline", "error", err)
	}
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	kind, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, t.readError(err)
	}
	if kind != websocket.TextMessage {
		return nil, fmt.Errorf("%w: binary frames are not supported", protocol.ErrMalformed)
	}
	return data, nil
}

// readError maps a read failure to io.EOF for the ways a client may go away
// and to a protocol error for an oversized frame.
func (t *wsTransport) readError(err error) error {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		t.log.Info("Frame exceeded maximum size", "limit", t.maxSize)
		return fmt.Errorf("%w: frame larger than %d bytes", protocol.ErrMalformed, t.maxSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure):
		t.log.Debug("Client disconnected", "error", err)
		return io.EOF
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		t.log.Debug("Connection closed", "error", err)
		return io.EOF
	default:
		t.log.Warn("WebSocket read error", "error", err)
		return err
	}
}

func (t *wsTransport) WriteFrame(frame []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a close frame and closes the connection. It is safe to call more
// than once.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); werr != nil && !isExpectedCloseError(werr) {
			t.log.Debug("Error writing close message", "error", werr)
		}

		if cerr := t.conn.Close(); cerr != nil && !isExpectedCloseError(cerr) {
			err = cerr
		}
	})
	return err
}

// keepAlive pings the client until the transport is closed.
func (t *wsTransport) keepAlive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				if !isExpectedCloseError(err) {
					t.log.Debug("Error writing ping", "error", err)
				}
				return
			}
		}
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe")
}
