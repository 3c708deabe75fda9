// Package hub owns the room registry. A single goroutine (Run) holds the
// name to room map and serialises every registry change; rooms report their
// empty/non-empty transitions back through the same intake.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/Tyrowin/nexus-rooms/internal/room"
)

var (
	// ErrRoomNotFound is returned for commands addressed to an unknown room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrUnavailable is returned once the hub has shut down.
	ErrUnavailable = errors.New("hub unavailable")
)

const (
	defaultIntake = 128
	// a join only retries when it lost a race against an eviction
	maxJoinAttempts = 3
)

// Options configures a Hub. Room is applied to every room the hub creates.
type Options struct {
	Intake int
	Now    func() time.Time
	Room   room.Options
}

type entry struct {
	room       *room.Room
	emptySince time.Time
}

// Hub routes commands to rooms, creating them on first join, and tracks how
// long each room has been empty for the reaper.
type Hub struct {
	log    *slog.Logger
	opts   Options
	rooms  map[string]*entry
	intake chan any
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates and initializes a new Hub. The returned Hub accepts commands
// once Run is started.
func NewHub(log *slog.Logger, opts Options) *Hub {
	if opts.Intake <= 0 {
		opts.Intake = defaultIntake
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Room.Now == nil {
		opts.Room.Now = opts.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		log:    log,
		opts:   opts,
		rooms:  make(map[string]*entry),
		intake: make(chan any, opts.Intake),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

type acquireReq struct {
	name  string
	stale *room.Room
	reply chan *room.Room
}

type lookupReq struct {
	name  string
	reply chan *room.Room
}

type listReq struct {
	reply chan []string
}

type idleReq struct {
	ttl   time.Duration
	reply chan []string
}

type dropReq struct {
	name  string
	room  *room.Room
	reply chan bool
}

type emptyEvt struct {
	room *room.Room
	at   time.Time
}

type nonEmptyEvt struct {
	room *room.Room
}

// Run starts the hub's event loop. It should be called in a separate goroutine
// and returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.log.Info("Hub stopping", "rooms", len(h.rooms))
			clear(h.rooms)
			return
		case msg := <-h.intake:
			h.handle(msg)
		}
	}
}

func (h *Hub) handle(msg any) {
	switch m := msg.(type) {
	case acquireReq:
		m.reply <- h.acquire(m.name, m.stale)
	case lookupReq:
		if e, ok := h.rooms[m.name]; ok {
			m.reply <- e.room
		} else {
			m.reply <- nil
		}
	case listReq:
		names := lo.Keys(h.rooms)
		slices.Sort(names)
		m.reply <- names
	case idleReq:
		m.reply <- h.idle(m.ttl)
	case dropReq:
		e, ok := h.rooms[m.name]
		dropped := ok && e.room == m.room
		if dropped {
			delete(h.rooms, m.name)
		}
		m.reply <- dropped
	case emptyEvt:
		if e, ok := h.rooms[m.room.Name()]; ok && e.room == m.room {
			e.emptySince = m.at
		}
	case nonEmptyEvt:
		if e, ok := h.rooms[m.room.Name()]; ok && e.room == m.room {
			e.emptySince = time.Time{}
		}
	default:
		panic(fmt.Sprintf("hub: unknown message %T", msg))
	}
}

// acquire returns the registered room for name, creating it when missing or
// when the registered one is the stale room a caller found retired.
func (h *Hub) acquire(name string, stale *room.Room) *room.Room {
	if e, ok := h.rooms[name]; ok {
		if stale == nil || e.room != stale {
			return e.room
		}
		h.log.Debug("Replacing retired room", "room", name)
	}

	r := room.New(h.log, name, h, h.opts.Room)
	h.rooms[name] = &entry{room: r, emptySince: h.opts.Now()}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		r.Run(h.ctx)
	}()

	h.log.Info("Room created", "room", name, "rooms", len(h.rooms))
	return r
}

func (h *Hub) idle(ttl time.Duration) []string {
	now := h.opts.Now()
	names := make([]string, 0)
	for name, e := range h.rooms {
		if !e.emptySince.IsZero() && now.Sub(e.emptySince) >= ttl {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// request submits msg to the hub loop and waits for its reply. The loop always
// answers promptly, so only submission observes ctx.
func request[T any](ctx context.Context, h *Hub, build func(chan T) any) (T, error) {
	var zero T
	reply := make(chan T, 1)

	select {
	case h.intake <- build(reply):
	case <-h.done:
		return zero, ErrUnavailable
	case <-h.ctx.Done():
		return zero, ErrUnavailable
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case v := <-reply:
		return v, nil
	case <-h.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrUnavailable
		}
	}
}

// notify pushes a lifecycle event; it gives up only when the hub is stopping.
func (h *Hub) notify(evt any) {
	select {
	case h.intake <- evt:
	case <-h.ctx.Done():
	}
}

// RoomEmpty records that r lost its last member at the given time.
func (h *Hub) RoomEmpty(r *room.Room, at time.Time) {
	h.notify(emptyEvt{room: r, at: at})
}

// RoomNonEmpty records that r has members again.
func (h *Hub) RoomNonEmpty(r *room.Room) {
	h.notify(nonEmptyEvt{room: r})
}

func (h *Hub) acquireRoom(ctx context.Context, name string, stale *room.Room) (*room.Room, error) {
	return request(ctx, h, func(reply chan *room.Room) any {
		return acquireReq{name: name, stale: stale, reply: reply}
	})
}

// Join routes a join to the named room, creating the room if needed. When the
// room retired between lookup and join, a fresh room replaces it.
func (h *Hub) Join(ctx context.Context, roomName string, id room.MemberID, name string) (*room.Room, room.JoinResult, error) {
	var stale *room.Room
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		r, err := h.acquireRoom(ctx, roomName, stale)
		if err != nil {
			return nil, room.JoinResult{}, err
		}

		res, err := r.Join(ctx, id, name)
		if errors.Is(err, room.ErrRetired) {
			stale = r
			continue
		}
		if err != nil {
			return nil, room.JoinResult{}, Translate(err)
		}
		return r, res, nil
	}
	return nil, room.JoinResult{}, fmt.Errorf("join %q: %w", roomName, room.ErrRetired)
}

// Lookup returns the registered room for name or ErrRoomNotFound.
func (h *Hub) Lookup(ctx context.Context, name string) (*room.Room, error) {
	r, err := request(ctx, h, func(reply chan *room.Room) any {
		return lookupReq{name: name, reply: reply}
	})
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}
	return r, nil
}

// Send routes a message from a member to the named room.
func (h *Hub) Send(ctx context.Context, roomName string, id room.MemberID, text string) error {
	r, err := h.Lookup(ctx, roomName)
	if err != nil {
		return err
	}
	return Translate(r.Send(ctx, id, text))
}

// Leave routes a leave to the named room.
func (h *Hub) Leave(ctx context.Context, roomName string, id room.MemberID) error {
	r, err := h.Lookup(ctx, roomName)
	if err != nil {
		return err
	}
	return Translate(r.Leave(ctx, id))
}

// ForceLeave removes a member on behalf of an operator. The member's session
// is told it was removed and ends.
func (h *Hub) ForceLeave(ctx context.Context, roomName string, id room.MemberID) error {
	if err := h.Leave(ctx, roomName, id); err != nil {
		return err
	}
	h.log.Info("Member removed by operator", "room", roomName, "member", id)
	return nil
}

// Members returns the display names present in the named room.
func (h *Hub) Members(ctx context.Context, roomName string) ([]string, error) {
	r, err := h.Lookup(ctx, roomName)
	if err != nil {
		return nil, err
	}
	names, err := r.Members(ctx)
	return names, Translate(err)
}

// ListRooms returns the names of all registered rooms, sorted.
func (h *Hub) ListRooms(ctx context.Context) ([]string, error) {
	return request(ctx, h, func(reply chan []string) any {
		return listReq{reply: reply}
	})
}

// IdleRooms returns the rooms that have been empty for at least ttl according
// to the notifications received so far. They are candidates only; Evict
// re-checks each one.
func (h *Hub) IdleRooms(ctx context.Context, ttl time.Duration) ([]string, error) {
	return request(ctx, h, func(reply chan []string) any {
		return idleReq{ttl: ttl, reply: reply}
	})
}

// Evict removes the named room if it is still empty and idle for ttl when the
// room itself checks. It reports whether the room was removed; losing a race
// against a join is not an error.
func (h *Hub) Evict(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	r, err := h.Lookup(ctx, name)
	if errors.Is(err, ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	retired, err := r.Retire(ctx, ttl)
	switch {
	case errors.Is(err, room.ErrRetired):
		// retired by an earlier sweep whose drop lost to a replacement
		retired = true
	case err != nil:
		return false, Translate(err)
	}
	if !retired {
		return false, nil
	}

	dropped, err := request(ctx, h, func(reply chan bool) any {
		return dropReq{name: name, room: r, reply: reply}
	})
	if err != nil {
		return false, err
	}
	if dropped {
		h.log.Info("Room evicted", "room", name, "ttl", ttl)
	}
	return dropped, nil
}

// Translate maps room level failures to what callers of the hub act on: a
// stopped room during shutdown means the hub is unavailable, a retired room
// no longer exists.
func Translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, room.ErrClosed):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	case errors.Is(err, room.ErrRetired):
		return fmt.Errorf("%w: %w", ErrRoomNotFound, err)
	default:
		return err
	}
}

// Shutdown stops the hub and every room, then waits for room goroutines to
// finish or for timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")

	h.cancel()

	done := make(chan struct{})
	go func() {
		<-h.done
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some rooms may still be running")
		return context.DeadlineExceeded
	}
}
