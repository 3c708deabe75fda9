package room

import "time"

//go:generate go run go.uber.org/mock/mockgen -source=lifecycle.go -destination=../mocks/mock_lifecycle.go -package=mocks

// LifecycleObserver is told when a room's membership crosses zero. Calls are
// made from the room's own goroutine, so implementations must not call back
// into the same room synchronously.
type LifecycleObserver interface {
	RoomEmpty(r *Room, at time.Time)
	RoomNonEmpty(r *Room)
}

type nopObserver struct{}

func (nopObserver) RoomEmpty(*Room, time.Time) {}
func (nopObserver) RoomNonEmpty(*Room)         {}
