package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscription_ReceivesInPublishOrder(t *testing.T) {
	req := require.New(t)
	b := New[string](4)
	sub := b.Subscribe()

	req.Equal(1, b.Publish("a"))
	b.Publish("b")

	v, err := sub.TryRecv()
	req.NoError(err)
	req.Equal("a", v)

	v, err = sub.TryRecv()
	req.NoError(err)
	req.Equal("b", v)

	_, err = sub.TryRecv()
	req.ErrorIs(err, ErrEmpty)
}

func TestSubscription_OnlySeesValuesAfterSubscribe(t *testing.T) {
	req := require.New(t)
	b := New[int](4)

	b.Publish(1)
	sub := b.Subscribe()
	b.Publish(2)

	v, err := sub.TryRecv()
	req.NoError(err)
	req.Equal(2, v)
}

func TestSubscription_LaggedWhenOverrun(t *testing.T) {
	req := require.New(t)

	// Given a window of one value and a subscriber that has not drained
	b := New[string](1)
	sub := b.Subscribe()

	// When two values are published
	b.Publish("first")
	b.Publish("second")

	// Then the next receive reports the gap instead of returning "second"
	_, err := sub.TryRecv()
	var lagged *LaggedError
	req.True(errors.As(err, &lagged))
	req.EqualValues(1, lagged.Missed)

	// And the subscription resumes with the retained value
	v, err := sub.TryRecv()
	req.NoError(err)
	req.Equal("second", v)
}

func TestSubscription_UnsubscribeDrainsPriorValues(t *testing.T) {
	req := require.New(t)
	b := New[int](8)
	sub := b.Subscribe()

	b.Publish(1)
	sub.Unsubscribe()
	b.Publish(2)

	req.Zero(b.Subscribers())

	v, err := sub.TryRecv()
	req.NoError(err)
	req.Equal(1, v)

	_, err = sub.TryRecv()
	req.ErrorIs(err, ErrUnsubscribed)

	sub.Unsubscribe()
	req.Zero(b.Subscribers())
}

func TestBroadcaster_CloseDrainsThenReportsClosed(t *testing.T) {
	req := require.New(t)
	b := New[int](8)
	sub := b.Subscribe()

	b.Publish(7)
	b.Close()
	req.Zero(b.Publish(8))

	v, err := sub.TryRecv()
	req.NoError(err)
	req.Equal(7, v)

	_, err = sub.TryRecv()
	req.ErrorIs(err, ErrClosed)

	late := b.Subscribe()
	_, err = late.TryRecv()
	req.ErrorIs(err, ErrClosed)
}

func TestSubscription_ReadyWakesOnPublish(t *testing.T) {
	req := require.New(t)
	b := New[int](2)
	sub := b.Subscribe()

	ready := sub.Ready()
	select {
	case <-ready:
		req.Fail("ready before anything was published")
	default:
	}

	b.Publish(1)

	select {
	case <-ready:
	case <-time.After(time.Second):
		req.Fail("publish did not wake the subscriber")
	}
}

func TestSubscription_RecvHonoursContext(t *testing.T) {
	req := require.New(t)
	b := New[int](2)
	sub := b.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := sub.Recv(ctx)
	req.ErrorIs(err, context.DeadlineExceeded)
}

func TestBroadcaster_ConcurrentSubscribersSeeEverything(t *testing.T) {
	req := require.New(t)
	const total = 200
	b := New[int](total)

	subs := make([]*Subscription[int], 8)
	for i := range subs {
		subs[i] = b.Subscribe()
	}

	var wg sync.WaitGroup
	results := make([][]int, len(subs))
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub *Subscription[int]) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				v, err := sub.Recv(ctx)
				if err != nil {
					return
				}
				results[i] = append(results[i], v)
			}
		}(i, sub)
	}

	for i := 0; i < total; i++ {
		b.Publish(i)
	}
	b.Close()
	wg.Wait()

	for i := range subs {
		req.Len(results[i], total)
		for j, v := range results[i] {
			req.Equal(j, v)
		}
	}
}
