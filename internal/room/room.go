// Package room implements the per-room state machine. Each Room owns its
// membership, bounded history and fan-out channel, and mutates them only from
// its own goroutine started with Run.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/Tyrowin/nexus-rooms/internal/bufpool"
	"github.com/Tyrowin/nexus-rooms/internal/fanout"
	"github.com/Tyrowin/nexus-rooms/internal/protocol"
)

var (
	// ErrRetired is returned by a room that was evicted for being idle.
	ErrRetired = errors.New("room retired")
	// ErrClosed is returned by a room stopped by shutdown.
	ErrClosed = errors.New("room closed")
	// ErrNotMember is returned for a command from someone outside the room.
	ErrNotMember = errors.New("not a member of the room")
	// ErrAlreadyMember is returned when a member joins a room twice.
	ErrAlreadyMember = errors.New("already a member of the room")
)

// MemberID identifies one member inside a room. Display names may repeat,
// member IDs may not.
type MemberID string

// Subscription is a member's cursor into the room's fan-out channel. Values are
// encoded server events ready to be written to a client.
type Subscription = fanout.Subscription[[]byte]

// Options configures a Room. Zero values are replaced with defaults.
type Options struct {
	HistoryLimit int
	Buffer       int
	Intake       int
	Pool         *bufpool.Pool
	Now          func() time.Time
}

const (
	defaultBuffer = 128
	defaultIntake = 32
)

func (o Options) withDefaults() Options {
	if o.HistoryLimit < 0 {
		o.HistoryLimit = 0
	}
	if o.Buffer <= 0 {
		o.Buffer = defaultBuffer
	}
	if o.Intake <= 0 {
		o.Intake = defaultIntake
	}
	if o.Pool == nil {
		o.Pool = bufpool.New()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// JoinResult is what a joining member receives: the history replay and its
// live subscription, taken at the same point so nothing falls in between.
type JoinResult struct {
	History protocol.HistoryBatch
	Sub     *Subscription
}

// Stats is a point-in-time view of a room.
type Stats struct {
	Members     int
	History     int
	Subscribers int
	EmptySince  time.Time
}

type member struct {
	name string
	sub  *Subscription
}

// Room is one chat room. Its exported methods may be called from any
// goroutine; they submit commands to the goroutine running Run.
type Room struct {
	name     string
	log      *slog.Logger
	opts     Options
	observer LifecycleObserver

	intake   chan any
	done     chan struct{}
	closeErr error

	members    map[MemberID]*member
	history    *history
	fan        *fanout.Broadcaster[[]byte]
	emptySince time.Time
	lastTS     int64
}

// New creates an idle room. The room starts empty with its idle clock running,
// and accepts commands once Run is started.
func New(log *slog.Logger, name string, observer LifecycleObserver, opts Options) *Room {
	opts = opts.withDefaults()
	if observer == nil {
		observer = nopObserver{}
	}
	return &Room{
		name:       name,
		log:        log.With("room", name),
		opts:       opts,
		observer:   observer,
		intake:     make(chan any, opts.Intake),
		done:       make(chan struct{}),
		members:    make(map[MemberID]*member),
		history:    newHistory(opts.HistoryLimit),
		fan:        fanout.New[[]byte](opts.Buffer),
		emptySince: opts.Now(),
	}
}

// Name returns the room's registry key.
func (r *Room) Name() string { return r.name }

// Done is closed once the room stopped processing commands.
func (r *Room) Done() <-chan struct{} { return r.done }

type joinCmd struct {
	id    MemberID
	name  string
	reply chan joinReply
}

type joinReply struct {
	res JoinResult
	err error
}

type leaveCmd struct {
	id    MemberID
	reply chan error
}

type sendCmd struct {
	id    MemberID
	text  string
	reply chan error
}

type membersCmd struct {
	reply chan []string
}

type statsCmd struct {
	reply chan Stats
}

type retireCmd struct {
	ttl   time.Duration
	reply chan bool
}

// Join adds a member. Existing members receive UserJoined; the joiner gets
// the history snapshot and a subscription to everything published after it.
func (r *Room) Join(ctx context.Context, id MemberID, name string) (JoinResult, error) {
	rep, err := call(ctx, r, func(reply chan joinReply) any {
		return joinCmd{id: id, name: name, reply: reply}
	})
	if err != nil {
		return JoinResult{}, err
	}
	return rep.res, rep.err
}

// Leave removes a member and detaches its subscription after the events
// already published to it.
func (r *Room) Leave(ctx context.Context, id MemberID) error {
	err, callErr := call(ctx, r, func(reply chan error) any {
		return leaveCmd{id: id, reply: reply}
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// Send records a message from a member and publishes it to every member,
// the sender included.
func (r *Room) Send(ctx context.Context, id MemberID, text string) error {
	err, callErr := call(ctx, r, func(reply chan error) any {
		return sendCmd{id: id, text: text, reply: reply}
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// Members returns the display names present, sorted.
func (r *Room) Members(ctx context.Context) ([]string, error) {
	return call(ctx, r, func(reply chan []string) any {
		return membersCmd{reply: reply}
	})
}

// Stats returns the room's current counters.
func (r *Room) Stats(ctx context.Context) (Stats, error) {
	return call(ctx, r, func(reply chan Stats) any {
		return statsCmd{reply: reply}
	})
}

// Retire stops the room if it has been empty for at least ttl. The check runs
// on the room's goroutine, so a Join processed first keeps the room alive.
func (r *Room) Retire(ctx context.Context, ttl time.Duration) (bool, error) {
	return call(ctx, r, func(reply chan bool) any {
		return retireCmd{ttl: ttl, reply: reply}
	})
}

// call submits a command and waits for its reply. Once a command is accepted
// the reply is awaited regardless of ctx so that a completed Join is never
// lost by its caller.
func call[T any](ctx context.Context, r *Room, build func(chan T) any) (T, error) {
	var zero T
	reply := make(chan T, 1)

	select {
	case r.intake <- build(reply):
	case <-r.done:
		return zero, r.closeErr
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, r.closeErr
		}
	}
}

// Run processes commands until ctx is cancelled or the room retires. It must
// be called exactly once.
func (r *Room) Run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.stop(ErrClosed)
			return
		case cmd := <-r.intake:
			if r.handle(cmd) {
				return
			}
		}
	}
}

// handle applies one command and reports whether the room stopped.
func (r *Room) handle(cmd any) bool {
	switch c := cmd.(type) {
	case joinCmd:
		res, err := r.join(c.id, c.name)
		c.reply <- joinReply{res: res, err: err}
	case leaveCmd:
		c.reply <- r.leave(c.id)
	case sendCmd:
		c.reply <- r.send(c.id, c.text)
	case membersCmd:
		c.reply <- r.memberNames()
	case statsCmd:
		c.reply <- Stats{
			Members:     len(r.members),
			History:     r.history.len(),
			Subscribers: r.fan.Subscribers(),
			EmptySince:  r.emptySince,
		}
	case retireCmd:
		retired := r.retire(c.ttl)
		c.reply <- retired
		return retired
	default:
		panic(fmt.Sprintf("room: unknown command %T", cmd))
	}
	return false
}

func (r *Room) join(id MemberID, name string) (JoinResult, error) {
	if _, ok := r.members[id]; ok {
		return JoinResult{}, ErrAlreadyMember
	}

	wasEmpty := len(r.members) == 0
	batch := protocol.HistoryBatch{Room: r.name, Messages: r.history.snapshot()}

	// publish before subscribing so the joiner does not see its own join
	r.publish(protocol.UserJoined{Room: r.name, Name: name})
	sub := r.fan.Subscribe()
	r.members[id] = &member{name: name, sub: sub}

	r.log.Debug("Member joined", "member", id, "name", name, "members", len(r.members))

	if wasEmpty {
		r.emptySince = time.Time{}
		r.observer.RoomNonEmpty(r)
	}
	return JoinResult{History: batch, Sub: sub}, nil
}

func (r *Room) leave(id MemberID) error {
	m, ok := r.members[id]
	if !ok {
		return ErrNotMember
	}
	delete(r.members, id)
	m.sub.Unsubscribe()
	r.publish(protocol.UserLeft{Room: r.name, Name: m.name})

	r.log.Debug("Member left", "member", id, "name", m.name, "members", len(r.members))

	if len(r.members) == 0 {
		r.emptySince = r.opts.Now()
		r.observer.RoomEmpty(r, r.emptySince)
	}
	return nil
}

func (r *Room) send(id MemberID, text string) error {
	m, ok := r.members[id]
	if !ok {
		return ErrNotMember
	}

	ts := max(r.opts.Now().UnixMilli(), r.lastTS)
	r.lastTS = ts

	msg := protocol.NewMessage{Room: r.name, Name: m.name, Text: text, TS: ts}
	r.history.push(msg)
	r.publish(msg)
	return nil
}

func (r *Room) memberNames() []string {
	names := lo.Map(lo.Values(r.members), func(m *member, _ int) string {
		return m.name
	})
	slices.Sort(names)
	return names
}

func (r *Room) retire(ttl time.Duration) bool {
	if len(r.members) > 0 || r.emptySince.IsZero() {
		return false
	}
	idle := r.opts.Now().Sub(r.emptySince)
	if idle < ttl {
		return false
	}
	r.log.Info("Room retired", "idle", idle)
	r.stop(ErrRetired)
	return true
}

// stop rejects further commands with reason and closes the fan-out channel.
func (r *Room) stop(reason error) {
	r.closeErr = reason
	r.fan.Close()
}

// publish encodes ev once into a pooled buffer and hands an immutable copy to
// the fan-out channel.
func (r *Room) publish(ev protocol.Event) {
	buf := r.opts.Pool.Get(256)
	defer r.opts.Pool.Put(buf)

	if err := protocol.EncodeEvent(buf, ev); err != nil {
		r.log.Error("Dropping event that failed to encode", "error", err)
		return
	}
	frame := make([]byte, buf.Len())
	copy(frame, buf.Bytes())
	r.fan.Publish(frame)
}
