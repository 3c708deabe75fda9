package server_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/nexus-rooms/internal/hub"
	"github.com/Tyrowin/nexus-rooms/internal/protocol"
	"github.com/Tyrowin/nexus-rooms/internal/room"
	"github.com/Tyrowin/nexus-rooms/internal/server"
	"github.com/Tyrowin/nexus-rooms/internal/testhelpers"
)

type testServer struct {
	*httptest.Server
	hub    *hub.Hub
	server *server.Server
	wsURL  string
}

// startServer runs a hub and the HTTP surface on an httptest server. By
// default only testhelpers.TestOrigin is allowed.
func startServer(t *testing.T, configure func(*server.Options)) *testServer {
	t.Helper()

	log := testhelpers.Logger()
	h := hub.NewHub(log, hub.Options{Room: room.Options{HistoryLimit: 10}})
	go h.Run()

	opts := server.Options{
		MaxMessageSize:    1024,
		Origins:           server.NewOriginPolicy([]string{testhelpers.TestOrigin}, false),
		HandshakeBurst:    100,
		HandshakeInterval: time.Second,
	}
	if configure != nil {
		configure(&opts)
	}

	srv := server.New(log, h, opts)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		_ = h.Shutdown(5 * time.Second)
		_ = srv.CloseSessions(5 * time.Second)
	})

	return &testServer{Server: ts, hub: h, server: srv, wsURL: testhelpers.WebSocketURL(ts.URL)}
}

func (ts *testServer) join(t *testing.T, roomName, name string) (*websocket.Conn, protocol.HistoryBatch) {
	t.Helper()
	conn, err := testhelpers.ConnectWebSocket(ts.wsURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, testhelpers.SendRequest(conn, protocol.JoinRequest{Room: roomName, Name: name}))
	return conn, testhelpers.ExpectEvent[protocol.HistoryBatch](t, conn)
}

func dialWithOrigin(url, origin string) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// TestHealthHandler verifies the health endpoints answer with a plain-text
// status.
func TestHealthHandler(t *testing.T) {
	ts := startServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{name: "GET root", method: http.MethodGet, path: "/"},
		{name: "GET healthz", method: http.MethodGet, path: "/healthz"},
		{name: "POST root", method: http.MethodPost, path: "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			r, err := http.NewRequest(tt.method, ts.URL+tt.path, http.NoBody)
			req.NoError(err)

			resp, err := http.DefaultClient.Do(r)
			req.NoError(err)
			defer func() { _ = resp.Body.Close() }()

			req.Equal(http.StatusOK, resp.StatusCode)
			req.Equal("text/plain", resp.Header.Get("Content-Type"))
		})
	}

	rr := httptest.NewRecorder()
	server.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	require.Equal(t, "nexus-rooms server is running!", rr.Body.String())
}

// TestWebSocketHandler_RejectsNonGet verifies the upgrade endpoint only
// accepts GET.
func TestWebSocketHandler_RejectsNonGet(t *testing.T) {
	req := require.New(t)
	ts := startServer(t, nil)

	resp, err := http.Post(ts.URL+"/ws", "text/plain", http.NoBody)
	req.NoError(err)
	defer func() { _ = resp.Body.Close() }()
	req.Equal(http.StatusMethodNotAllowed, resp.StatusCode)
}

// TestWebSocket_ChatFlow runs two clients through join, chat, listings and
// leave over real WebSocket connections.
func TestWebSocket_ChatFlow(t *testing.T) {
	req := require.New(t)
	ts := startServer(t, nil)

	// Given ada is in the lobby and has spoken
	ada, batch := ts.join(t, "lobby", "ada")
	req.Empty(batch.Messages)
	req.NoError(testhelpers.SendRequest(ada, protocol.MessageRequest{Text: "first"}))
	req.Equal("first", testhelpers.ExpectEvent[protocol.NewMessage](t, ada).Text)

	// When bob joins
	bob, batch := ts.join(t, "lobby", "bob")

	// Then bob gets the history and ada sees him arrive
	req.Len(batch.Messages, 1)
	req.Equal("ada", batch.Messages[0].Name)
	req.Equal(protocol.UserJoined{Room: "lobby", Name: "bob"}, testhelpers.ExpectEvent[protocol.UserJoined](t, ada))

	// And messages reach both, sender included
	req.NoError(testhelpers.SendRequest(bob, protocol.MessageRequest{Text: "hello ada"}))
	for _, conn := range []*websocket.Conn{ada, bob} {
		msg := testhelpers.ExpectEvent[protocol.NewMessage](t, conn)
		req.Equal("bob", msg.Name)
		req.Equal("hello ada", msg.Text)
		req.GreaterOrEqual(msg.TS, batch.Messages[0].TS)
	}

	req.NoError(testhelpers.SendRequest(bob, protocol.MembersRequest{}))
	req.Equal([]string{"ada", "bob"}, testhelpers.ExpectEvent[protocol.MemberList](t, bob).Members)

	req.NoError(testhelpers.SendRequest(bob, protocol.RoomListRequest{}))
	req.Equal([]string{"lobby"}, testhelpers.ExpectEvent[protocol.RoomList](t, bob).Rooms)

	// When bob leaves, ada is told and bob's connection closes
	req.NoError(testhelpers.SendRequest(bob, protocol.LeaveRequest{}))
	req.Equal(protocol.UserLeft{Room: "lobby", Name: "bob"}, testhelpers.ExpectEvent[protocol.UserLeft](t, ada))

	req.NoError(bob.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := bob.ReadMessage()
	req.True(websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error %v", err)

	// And ada closing her connection empties the room without evicting it
	req.NoError(testhelpers.CloseWebSocket(ada))
	req.Eventually(func() bool {
		members, err := ts.hub.Members(t.Context(), "lobby")
		return err == nil && len(members) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// TestWebSocket_FirstRequestMustBeJoin verifies the server answers anything
// before Join with an error and closes the connection.
func TestWebSocket_FirstRequestMustBeJoin(t *testing.T) {
	req := require.New(t)
	ts := startServer(t, nil)

	conn, err := testhelpers.ConnectWebSocket(ts.wsURL)
	req.NoError(err)
	defer func() { _ = conn.Close() }()

	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte(`"RoomList"`)))
	errEv := testhelpers.ExpectEvent[protocol.ErrorEvent](t, conn)
	req.Contains(errEv.Reason, "Join")

	_, _, err = conn.ReadMessage()
	req.Error(err)
}

// TestWebSocket_InvalidFrames verifies binary, oversized and malformed frames
// are protocol errors.
func TestWebSocket_InvalidFrames(t *testing.T) {
	ts := startServer(t, nil)

	tests := []struct {
		name  string
		kind  int
		frame []byte
	}{
		{name: "binary frame", kind: websocket.BinaryMessage, frame: []byte{0x01, 0x02}},
		{name: "not json", kind: websocket.TextMessage, frame: []byte("hello")},
		{name: "blank name", kind: websocket.TextMessage, frame: []byte(`{"Join":{"room":"lobby","name":"   "}}`)},
		{name: "two variants", kind: websocket.TextMessage, frame: []byte(`{"Join":{},"Leave":{}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			conn, err := testhelpers.ConnectWebSocket(ts.wsURL)
			req.NoError(err)
			defer func() { _ = conn.Close() }()

			req.NoError(conn.WriteMessage(tt.kind, tt.frame))
			testhelpers.ExpectEvent[protocol.ErrorEvent](t, conn)

			_, _, err = conn.ReadMessage()
			req.Error(err)
		})
	}
}

// TestWebSocket_OversizedFrameClosesConnection verifies MaxMessageSize is
// enforced on reads.
func TestWebSocket_OversizedFrameClosesConnection(t *testing.T) {
	req := require.New(t)
	ts := startServer(t, nil)
	conn, _ := ts.join(t, "lobby", "ada")

	big := make([]byte, 2048)
	for i := range big {
		big[i] = 'a'
	}
	req.NoError(conn.WriteMessage(websocket.TextMessage, big))

	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	req.Eventually(func() bool {
		members, err := ts.hub.Members(t.Context(), "lobby")
		return err == nil && len(members) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// TestOriginValidation verifies the upgrade is refused for origins outside the
// allow-list.
func TestOriginValidation(t *testing.T) {
	ts := startServer(t, func(opts *server.Options) {
		opts.Origins = server.NewOriginPolicy([]string{"http://example.com"}, false)
	})

	tests := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{name: "exact match", origin: "http://example.com", allowed: true},
		{name: "case insensitive", origin: "HTTP://Example.COM", allowed: true},
		{name: "other host", origin: "http://evil.com", allowed: false},
		{name: "other scheme", origin: "https://example.com", allowed: false},
		{name: "malformed", origin: "not-a-url", allowed: false},
		{name: "missing", origin: "", allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			conn, resp, err := dialWithOrigin(ts.wsURL, tt.origin)
			if tt.allowed {
				req.NoError(err)
				_ = conn.Close()
				return
			}
			req.Error(err)
			req.NotNil(resp)
			req.Equal(http.StatusForbidden, resp.StatusCode)
		})
	}
}

// TestOriginValidation_AllowAll verifies "*" admits any well-formed origin.
func TestOriginValidation_AllowAll(t *testing.T) {
	req := require.New(t)
	ts := startServer(t, func(opts *server.Options) {
		opts.Origins = server.NewOriginPolicy(nil, true)
	})

	conn, _, err := dialWithOrigin(ts.wsURL, "https://anywhere.example")
	req.NoError(err)
	_ = conn.Close()

	_, resp, err := dialWithOrigin(ts.wsURL, "not-a-url")
	req.Error(err)
	req.Equal(http.StatusForbidden, resp.StatusCode)
}

// TestHandshakeThrottling verifies an IP is limited to HandshakeBurst upgrades
// per interval.
func TestHandshakeThrottling(t *testing.T) {
	req := require.New(t)
	clock := testhelpers.NewClock()
	ts := startServer(t, func(opts *server.Options) {
		opts.HandshakeBurst = 2
		opts.HandshakeInterval = time.Minute
		opts.Now = clock.Now
	})

	// Given two upgrades within the burst
	for i := 0; i < 2; i++ {
		conn, err := testhelpers.ConnectWebSocket(ts.wsURL)
		req.NoError(err)
		_ = conn.Close()
	}

	// When a third arrives in the same interval
	_, resp, err := dialWithOrigin(ts.wsURL, testhelpers.TestOrigin)

	// Then it is refused
	req.ErrorIs(err, websocket.ErrBadHandshake)
	req.Equal(http.StatusTooManyRequests, resp.StatusCode)

	// And it is accepted again once the bucket refilled
	clock.Advance(time.Minute)
	conn, err := testhelpers.ConnectWebSocket(ts.wsURL)
	req.NoError(err)
	_ = conn.Close()
}

// TestShutdown_EndsSessions verifies hub shutdown followed by CloseSessions
// closes every connection, joined or not.
func TestShutdown_EndsSessions(t *testing.T) {
	req := require.New(t)
	ts := startServer(t, nil)

	joined, _ := ts.join(t, "lobby", "ada")
	idle, err := testhelpers.ConnectWebSocket(ts.wsURL)
	req.NoError(err)
	defer func() { _ = idle.Close() }()

	req.NoError(ts.hub.Shutdown(5 * time.Second))
	req.NoError(ts.server.CloseSessions(5 * time.Second))

	for _, conn := range []*websocket.Conn{joined, idle} {
		req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
		_, _, err := conn.ReadMessage()
		req.True(websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error %v", err)
	}

	// New upgrades are refused
	_, resp, err := dialWithOrigin(ts.wsURL, testhelpers.TestOrigin)
	req.Error(err)
	req.Equal(http.StatusServiceUnavailable, resp.StatusCode)
}
