// Package session bridges one client stream to the hub. Each Session runs an
// inbound duty that turns frames into hub and room commands and an outbound
// duty that writes the subscribed room's events back; when either ends, the
// other follows.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/nexus-rooms/internal/bufpool"
	"github.com/Tyrowin/nexus-rooms/internal/fanout"
	"github.com/Tyrowin/nexus-rooms/internal/hub"
	"github.com/Tyrowin/nexus-rooms/internal/protocol"
	"github.com/Tyrowin/nexus-rooms/internal/room"
)

var (
	// ErrProtocol ends a session whose client sent a malformed or
	// out-of-sequence request.
	ErrProtocol = errors.New("protocol error")
	// ErrTooSlow ends a session that lagged behind its room too many times in
	// a row.
	ErrTooSlow = errors.New("subscriber lagged too often")

	errNotJoined  = errors.New("first request must be Join")
	errLeft       = errors.New("left room")
	errRemoved    = errors.New("removed from room")
	errRoomClosed = errors.New("room closed")
)

// Router is what a session needs from the hub.
type Router interface {
	Join(ctx context.Context, roomName string, id room.MemberID, name string) (*room.Room, room.JoinResult, error)
	Members(ctx context.Context, roomName string) ([]string, error)
	ListRooms(ctx context.Context) ([]string, error)
}

// Options configures a Session.
type Options struct {
	// MaxLagStrikes disconnects a client after that many lag signals without
	// catching up in between. Zero keeps lag recoverable forever.
	MaxLagStrikes int
	Outbox        int
	Pool          *bufpool.Pool
}

const defaultOutbox = 16

// outbound duty messages
type eventOut struct {
	ev protocol.Event
}

type subscribeOut struct {
	history protocol.HistoryBatch
	sub     *room.Subscription
}

// Session is one client's connection to the hub.
type Session struct {
	id        room.MemberID
	log       *slog.Logger
	hub       Router
	transport Transport
	opts      Options
	outbox    chan any

	// owned by the inbound duty, read by Serve after both duties ended
	current *room.Room
	// joined is the subscription of current. The inbound duty clears it before
	// leaving, so the outbound duty can tell a removal by someone else apart.
	joined atomic.Pointer[room.Subscription]
}

// New creates a session for an accepted stream with a fresh member ID.
func New(log *slog.Logger, router Router, transport Transport, opts Options) *Session {
	if opts.Outbox <= 0 {
		opts.Outbox = defaultOutbox
	}
	if opts.Pool == nil {
		opts.Pool = bufpool.New()
	}
	id := room.MemberID(uuid.NewString())
	return &Session{
		id:        id,
		log:       log.With("session", id),
		hub:       router,
		transport: transport,
		opts:      opts,
		outbox:    make(chan any, opts.Outbox),
	}
}

// ID returns the member ID the session joins rooms with.
func (s *Session) ID() room.MemberID { return s.id }

// Serve runs both duties until one of them ends, closes the transport and
// leaves the current room. A client leaving or disconnecting and a room closing
// during shutdown return nil.
func (s *Session) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	flushed := make(chan struct{})
	closed := make(chan struct{})

	g.Go(func() error {
		defer cancel()
		return s.readLoop(gctx)
	})
	g.Go(func() error {
		defer close(flushed)
		defer cancel()
		return s.writeLoop(gctx)
	})
	go func() {
		defer close(closed)
		<-gctx.Done()
		<-flushed
		if err := s.transport.Close(); err != nil {
			s.log.Debug("Error closing transport", "error", err)
		}
	}()

	err := g.Wait()
	<-closed
	s.leaveCurrent(context.WithoutCancel(ctx))

	switch {
	case err == nil,
		errors.Is(err, errLeft),
		errors.Is(err, errRemoved),
		errors.Is(err, errRoomClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, context.Canceled):
		s.log.Debug("Session ended", "reason", err)
		return nil
	default:
		s.log.Info("Session terminated", "error", err)
		return err
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		data, err := s.transport.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if protocol.IsProtocolError(err) {
				return s.protocolError(ctx, err)
			}
			return err
		}

		req, err := protocol.DecodeRequest(data)
		if err != nil {
			return s.protocolError(ctx, err)
		}
		if err := s.dispatch(ctx, req); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(ctx context.Context, req protocol.Request) error {
	if _, ok := req.(protocol.JoinRequest); !ok && s.current == nil {
		return s.protocolError(ctx, errNotJoined)
	}

	switch r := req.(type) {
	case protocol.JoinRequest:
		return s.join(ctx, r)
	case protocol.LeaveRequest:
		s.leaveCurrent(ctx)
		return errLeft
	case protocol.MessageRequest:
		return s.report(ctx, hub.Translate(s.current.Send(ctx, s.id, r.Text)))
	case protocol.RoomListRequest:
		rooms, err := s.hub.ListRooms(ctx)
		if err != nil {
			return s.report(ctx, err)
		}
		return s.enqueue(ctx, eventOut{ev: protocol.RoomList{Rooms: rooms}})
	case protocol.MembersRequest:
		return s.members(ctx, r)
	default:
		return s.protocolError(ctx, fmt.Errorf("%w: %T", protocol.ErrUnknownVariant, req))
	}
}

// join leaves the current room first, so a session is never a member of two
// rooms at once.
func (s *Session) join(ctx context.Context, r protocol.JoinRequest) error {
	s.leaveCurrent(ctx)

	joined, res, err := s.hub.Join(ctx, r.Room, s.id, r.Name)
	if err != nil {
		return s.report(ctx, err)
	}
	s.current = joined
	s.joined.Store(res.Sub)
	s.log.Debug("Joined room", "room", r.Room, "name", r.Name)

	return s.enqueue(ctx, subscribeOut{history: res.History, sub: res.Sub})
}

func (s *Session) members(ctx context.Context, r protocol.MembersRequest) error {
	name := r.Room
	var (
		names []string
		err   error
	)
	if name == "" || name == s.current.Name() {
		name = s.current.Name()
		names, err = s.current.Members(ctx)
		err = hub.Translate(err)
	} else {
		names, err = s.hub.Members(ctx, name)
	}
	if err != nil {
		return s.report(ctx, err)
	}
	return s.enqueue(ctx, eventOut{ev: protocol.MemberList{Room: name, Members: names}})
}

// leaveCurrent is best effort: the room may already be gone.
func (s *Session) leaveCurrent(ctx context.Context) {
	if s.current == nil {
		return
	}
	s.joined.Store(nil)
	if err := s.current.Leave(ctx, s.id); err != nil {
		s.log.Debug("Leave ignored", "room", s.current.Name(), "error", err)
	}
	s.current = nil
}

// report tells the client about a failed command. Only an unavailable hub
// ends the session.
func (s *Session) report(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, hub.ErrUnavailable):
		_ = s.enqueue(ctx, eventOut{ev: protocol.ErrorEvent{Reason: hub.ErrUnavailable.Error()}})
		return err
	default:
		s.log.Debug("Command failed", "error", err)
		return s.enqueue(ctx, eventOut{ev: protocol.ErrorEvent{Reason: err.Error()}})
	}
}

func (s *Session) protocolError(ctx context.Context, err error) error {
	s.log.Warn("Protocol error", "error", err)
	_ = s.enqueue(ctx, eventOut{ev: protocol.ErrorEvent{Reason: err.Error()}})
	return fmt.Errorf("%w: %w", ErrProtocol, err)
}

func (s *Session) enqueue(ctx context.Context, msg any) error {
	select {
	case s.outbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	var sub *room.Subscription
	strikes := 0

	for {
		var ready <-chan struct{}
		if sub != nil {
			ready = sub.Ready()
		}

		select {
		case <-ctx.Done():
			s.flush()
			return nil

		case msg := <-s.outbox:
			switch m := msg.(type) {
			case eventOut:
				if err := s.write(m.ev); err != nil {
					return err
				}
			case subscribeOut:
				if err := s.drain(sub, &strikes); err != nil {
					return err
				}
				if err := s.write(m.history); err != nil {
					return err
				}
				sub, strikes = m.sub, 0
			}

		case <-ready:
			prev := sub
			var err error
			if sub, err = s.pump(sub, &strikes); err != nil {
				return err
			}
			if sub == nil && s.joined.Load() == prev {
				return s.removed()
			}
		}
	}
}

// maxBatch bounds how many frames pump writes before the outbound duty looks
// at its outbox again.
const maxBatch = 64

// pump writes ready frames from sub until it is caught up. Reaching the end of
// the window clears the lag strikes. It returns nil for sub once the
// subscription was detached and drained.
func (s *Session) pump(sub *room.Subscription, strikes *int) (*room.Subscription, error) {
	for range maxBatch {
		frame, err := sub.TryRecv()
		var lagged *fanout.LaggedError
		switch {
		case err == nil:
			if err := s.writeFrame(frame); err != nil {
				return sub, err
			}
		case errors.Is(err, fanout.ErrEmpty):
			*strikes = 0
			return sub, nil
		case errors.As(err, &lagged):
			*strikes++
			s.log.Warn("Subscriber lagged", "missed", lagged.Missed, "strikes", *strikes)
			reason := fmt.Sprintf("lagged: %d events skipped", lagged.Missed)
			if err := s.write(protocol.ErrorEvent{Reason: reason}); err != nil {
				return sub, err
			}
			if s.opts.MaxLagStrikes > 0 && *strikes >= s.opts.MaxLagStrikes {
				return sub, fmt.Errorf("%w: %d times", ErrTooSlow, *strikes)
			}
		case errors.Is(err, fanout.ErrUnsubscribed):
			return nil, nil
		case errors.Is(err, fanout.ErrClosed):
			return sub, errRoomClosed
		default:
			return sub, err
		}
	}
	return sub, nil
}

// drain writes what a detached subscription still holds so a member keeps
// every event published before it left. Lag is reported as it is while joined.
func (s *Session) drain(sub *room.Subscription, strikes *int) error {
	for sub != nil {
		var err error
		if sub, err = s.pump(sub, strikes); err != nil {
			return err
		}
	}
	return nil
}

// removed ends a session whose membership was revoked by someone else, such
// as an operator.
func (s *Session) removed() error {
	s.log.Info("Removed from room")
	if err := s.write(protocol.ErrorEvent{Reason: errRemoved.Error()}); err != nil {
		return err
	}
	return errRemoved
}

// flush writes queued unicast events, such as a final protocol error, before
// the transport is closed.
func (s *Session) flush() {
	for {
		select {
		case msg := <-s.outbox:
			if m, ok := msg.(eventOut); ok {
				if err := s.write(m.ev); err != nil {
					return
				}
			}
		default:
			return
		}
	}
}

func (s *Session) write(ev protocol.Event) error {
	buf := s.opts.Pool.Get(512)
	defer s.opts.Pool.Put(buf)

	if err := protocol.EncodeEvent(buf, ev); err != nil {
		return err
	}
	return s.writeFrame(buf.Bytes())
}

func (s *Session) writeFrame(frame []byte) error {
	if err := s.transport.WriteFrame(frame); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
